package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/gazou/internal/fsys"
)

// JSONStore keeps the manifest in a single JSON object {"path_key": "filename"}.
// Every call re-reads the file; every mutation rewrites it atomically.
// It holds no lock: callers serialize mutations.
type JSONStore struct {
	path string
	fs   fsys.FileSystem
}

// NewJSONStore returns a JSON manifest at dir/manifest.json.
func NewJSONStore(dir string, fs fsys.FileSystem) *JSONStore {
	return &JSONStore{path: filepath.Join(dir, JSONFileName), fs: fsys.OrDefault(fs)}
}

// ReadJSONFile parses a JSON manifest file. A missing file is an empty manifest.
func ReadJSONFile(fs fsys.FileSystem, path string) (map[string]string, error) {
	data, err := fsys.OrDefault(fs).ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptManifest, path, err)
	}
	return m, nil
}

func (s *JSONStore) load() (map[string]string, error) {
	return ReadJSONFile(s.fs, s.path)
}

func (s *JSONStore) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return fsys.WriteFileAtomic(s.fs, s.path, data, 0644)
}

// Get returns the filename stored for key.
func (s *JSONStore) Get(key string) (string, bool, error) {
	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	f, ok := m[key]
	return f, ok, nil
}

// Put sets key -> filename, replacing any previous value.
func (s *JSONStore) Put(key, filename string) error {
	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = filename
	return s.save(m)
}

// PutMany writes entries in a single rewrite.
func (s *JSONStore) PutMany(entries []Entry, overwrite bool) (int, error) {
	m, err := s.load()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if _, exists := m[e.Key]; exists && !overwrite {
			continue
		}
		m[e.Key] = e.Filename
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.save(m)
}

// Remove deletes key and returns the filename it pointed to.
func (s *JSONStore) Remove(key string) (string, bool, error) {
	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	f, ok := m[key]
	if !ok {
		return "", false, nil
	}
	delete(m, key)
	return f, true, s.save(m)
}

// Entries returns all rows sorted by key.
func (s *JSONStore) Entries() ([]Entry, error) {
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	return sortedEntries(m), nil
}

// Clear writes an empty manifest.
func (s *JSONStore) Clear() error {
	return s.save(map[string]string{})
}

// Path returns the manifest file path.
func (s *JSONStore) Path() string { return s.path }

// Close is a no-op for JSONStore.
func (s *JSONStore) Close() error { return nil }
