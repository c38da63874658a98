// Package codec converts snapshots to and from the bytes stored in an
// options file. The format is chosen from the file extension.
package codec

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"optsync/internal/snapshot"
)

var ErrUnknownFormat = errors.New("unknown options file format")

// Codec encodes a full snapshot and decodes one back.
type Codec interface {
	Name() string
	Encode(snapshot.Snapshot) ([]byte, error)
	Decode([]byte) (snapshot.Snapshot, error)
}

var registry = map[string]Codec{
	"toml":  TOML{},
	"yaml":  YAML{},
	"json":  JSON{},
	"proto": Proto{},
}

var extensions = map[string]string{
	"":        "toml",
	".toml":   "toml",
	".yaml":   "yaml",
	".yml":    "yaml",
	".json":   "json",
	".pb":     "proto",
	".binpb":  "proto",
	".protob": "proto",
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	codec, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownFormat, name, strings.Join(Names(), ", "))
	}
	return codec, nil
}

// ForPath picks a codec from the extension of path. Files without an
// extension use TOML.
func ForPath(path string) (Codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	name, ok := extensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrUnknownFormat, ext)
	}
	return registry[name], nil
}

// Names lists the registered codec names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
