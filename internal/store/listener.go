package store

import (
	"fmt"
	"reflect"
)

// Listener observes changed option ids. OnChangedEarly runs for every id of
// a local flush before any OnChanged call of that flush. Reloads caused by
// other processes only call OnChanged.
type Listener interface {
	OnChangedEarly(id string)
	OnChanged(id string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Early   func(id string)
	Changed func(id string)
}

func (funcs *ListenerFuncs) OnChangedEarly(id string) {
	if funcs != nil && funcs.Early != nil {
		funcs.Early(id)
	}
}

func (funcs *ListenerFuncs) OnChanged(id string) {
	if funcs != nil && funcs.Changed != nil {
		funcs.Changed(id)
	}
}

type listenerEntry struct {
	id       uint64
	listener Listener
}

// AddListener appends listener to the notification order. The returned
// func removes exactly this registration.
func (store *Store) AddListener(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	store.mu.Lock()
	store.nextListenerID++
	id := store.nextListenerID
	store.listeners = append(store.listeners, listenerEntry{id: id, listener: listener})
	store.mu.Unlock()

	return func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		for index, entry := range store.listeners {
			if entry.id == id {
				store.listeners = append(store.listeners[:index:index], store.listeners[index+1:]...)
				return
			}
		}
	}
}

// RemoveListener drops the first registration of listener. It reports
// whether one was found.
func (store *Store) RemoveListener(listener Listener) bool {
	if listener == nil || !reflect.TypeOf(listener).Comparable() {
		return false
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for index, entry := range store.listeners {
		if reflect.TypeOf(entry.listener).Comparable() && entry.listener == listener {
			store.listeners = append(store.listeners[:index:index], store.listeners[index+1:]...)
			return true
		}
	}
	return false
}

func (store *Store) listenerSnapshot() []Listener {
	store.mu.Lock()
	defer store.mu.Unlock()
	out := make([]Listener, len(store.listeners))
	for index, entry := range store.listeners {
		out[index] = entry.listener
	}
	return out
}

// notify calls every listener for every id, ids in the outer loop.
func (store *Store) notify(ids []string, early bool) {
	if len(ids) == 0 {
		return
	}
	listeners := store.listenerSnapshot()
	if len(listeners) == 0 {
		return
	}
	for _, id := range ids {
		for _, listener := range listeners {
			store.invoke(listener, id, early)
		}
	}
}

func (store *Store) invoke(listener Listener, id string, early bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			store.stats.ListenerPanics.Add(1)
			store.logger.Error("listener panicked", map[string]string{
				"option": id,
				"panic":  fmt.Sprint(recovered),
			})
		}
	}()
	store.stats.Notifications.Add(1)
	if early {
		listener.OnChangedEarly(id)
		return
	}
	listener.OnChanged(id)
}

// Value is a handle bound to a single option id.
type Value struct {
	store *Store
	id    string
}

// Value returns a handle for id. The option need not exist yet.
func (store *Store) Value(id string) *Value {
	return &Value{store: store, id: id}
}

func (value *Value) ID() string {
	return value.id
}

func (value *Value) Get() any {
	return value.store.Get(value.id)
}

func (value *Value) Set(v any) error {
	return value.store.SetOption(value.id, v)
}

// OnChange calls fn with the current value whenever this id changes.
func (value *Value) OnChange(fn func(any)) func() {
	if fn == nil {
		return func() {}
	}
	return value.store.AddListener(&ListenerFuncs{
		Changed: func(id string) {
			if id == value.id {
				fn(value.store.Get(id))
			}
		},
	})
}
