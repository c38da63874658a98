package store

// pendingSet is an insertion-ordered set of option ids.
type pendingSet struct {
	order []string
	index map[string]struct{}
}

func (p *pendingSet) add(id string) {
	if p.index == nil {
		p.index = make(map[string]struct{})
	}
	if _, ok := p.index[id]; ok {
		return
	}
	p.index[id] = struct{}{}
	p.order = append(p.order, id)
}

func (p *pendingSet) ids() []string {
	return append([]string(nil), p.order...)
}

// take returns the ids and leaves the set empty.
func (p *pendingSet) take() []string {
	ids := p.order
	p.order = nil
	p.index = nil
	return ids
}

// restore puts ids back ahead of anything recorded since they were taken.
func (p *pendingSet) restore(ids []string) {
	later := p.take()
	for _, id := range ids {
		p.add(id)
	}
	for _, id := range later {
		p.add(id)
	}
}

// inflightSet counts ids taken by saves that have not finished writing.
type inflightSet struct {
	counts map[string]int
}

func (s *inflightSet) add(ids []string) {
	if len(ids) == 0 {
		return
	}
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	for _, id := range ids {
		s.counts[id]++
	}
}

func (s *inflightSet) remove(ids []string) {
	for _, id := range ids {
		if s.counts[id] <= 1 {
			delete(s.counts, id)
			continue
		}
		s.counts[id]--
	}
}

func (s *inflightSet) ids() []string {
	out := make([]string, 0, len(s.counts))
	for id := range s.counts {
		out = append(out, id)
	}
	return out
}
