// Package manifest maps cache path keys to vector storage filenames. Backends are
// swappable behind Store: a flat JSON file rewritten in full on every mutation, a
// SQLite table, or a bbolt bucket.
package manifest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hyperjump/gazou/internal/fsys"
)

// Backend names a manifest storage implementation.
type Backend string

const (
	// BackendJSON stores the manifest as manifest.json, rewritten atomically on each mutation.
	BackendJSON Backend = "json"
	// BackendSQLite stores the manifest in manifest.db (requires CGO).
	BackendSQLite Backend = "sqlite"
	// BackendBolt stores the manifest in manifest.bolt.
	BackendBolt Backend = "bolt"
)

const (
	JSONFileName   = "manifest.json"
	SQLiteFileName = "manifest.db"
	BoltFileName   = "manifest.bolt"
)

// ErrCorruptManifest is returned when a manifest exists but cannot be parsed.
var ErrCorruptManifest = errors.New("corrupt manifest")

// Entry is one path key -> storage filename row.
type Entry struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

// Store defines manifest persistence. Entries are always returned sorted by key.
type Store interface {
	Get(key string) (filename string, ok bool, err error)
	Put(key, filename string) error
	// PutMany inserts entries; existing keys are replaced only when overwrite is true.
	// Returns the number of entries written.
	PutMany(entries []Entry, overwrite bool) (int, error)
	Remove(key string) (filename string, ok bool, err error)
	Entries() ([]Entry, error)
	Clear() error
	// Path returns the file backing the manifest.
	Path() string
	Close() error
}

// Open opens (creating if needed) the manifest of the given backend in dir.
// An empty backend means BackendJSON.
func Open(backend Backend, dir string, fs fsys.FileSystem) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(dir, fs), nil
	case BackendSQLite:
		return NewSQLiteStore(dir)
	case BackendBolt:
		return NewBoltStore(dir)
	default:
		return nil, fmt.Errorf("unknown manifest backend: %s (supported: json, sqlite, bolt)", backend)
	}
}

// ParseBackend validates a backend name from configuration.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendJSON, "":
		return BackendJSON, nil
	case BackendSQLite, BackendBolt:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("unknown manifest backend: %s (supported: json, sqlite, bolt)", s)
	}
}

// Keys returns the sorted keys of s.
func Keys(s Store) ([]string, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}

func sortedEntries(m map[string]string) []Entry {
	entries := make([]Entry, 0, len(m))
	for k, v := range m {
		entries = append(entries, Entry{Key: k, Filename: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}
