package vectorcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/gazou/internal/fsys"
	"github.com/hyperjump/gazou/internal/manifest"
	"go.uber.org/zap"
)

// Cache is a handle on a cache root bound to one active model namespace at a
// time. Operations go to the active namespace; SetModel repoints the handle and
// leaves the previous namespace's data on disk.
type Cache struct {
	root string
	opts options

	mu    sync.RWMutex
	store *Store
}

// Open opens the cache rooted at root with model as the active namespace,
// migrating a legacy flat layout into it if present.
func Open(root, model string, opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.fs.MkdirAll(root, 0o755); err != nil {
		return nil, storageErr("mkdir", root, err)
	}
	store, err := openStore(root, model, o)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Opened embedding cache",
		zap.String("root", root),
		zap.String("model", model),
		zap.String("manifest", string(o.backend)))
	return &Cache{root: root, opts: o, store: store}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Model returns the active model name.
func (c *Cache) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.model
}

// Store returns the active namespace.
func (c *Cache) Store() *Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// SetModel switches the active namespace. Setting the current model is a no-op.
// On error the handle stays on the previous model.
func (c *Cache) SetModel(model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if model == c.store.model {
		return nil
	}
	next, err := openStore(c.root, model, c.opts)
	if err != nil {
		return err
	}
	prev := c.store
	c.store = next
	if err := prev.Close(); err != nil {
		c.opts.logger.Warn("Failed to close previous namespace", zap.String("model", prev.model), zap.Error(err))
	}
	c.opts.logger.Info("Switched cache model", zap.String("from", prev.model), zap.String("to", model))
	return nil
}

// Has reports whether path is cached in the active namespace.
func (c *Cache) Has(path string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Has(path)
}

// Get returns the vector cached for path.
func (c *Cache) Get(path string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Get(path)
}

// Save stores vec for path, replacing any previous vector.
func (c *Cache) Save(path string, vec []float32) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Put(path, vec)
}

// Remove drops path from the active namespace.
func (c *Cache) Remove(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Remove(path)
}

// ClearAll empties the active namespace.
func (c *Cache) ClearAll() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.ClearAll()
}

// AllEntries loads every cached vector of the active namespace in key order.
func (c *Cache) AllEntries() ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.AllEntries()
}

// AllKeys lists the active namespace's keys in order.
func (c *Cache) AllKeys() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.AllKeys()
}

// Stats reports on the active namespace.
func (c *Cache) Stats() (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Stats()
}

// Namespaces lists the namespace directory names under root, sorted. A directory
// counts when it holds a manifest or an embeddings directory.
func (c *Cache) Namespaces() ([]string, error) {
	entries, err := c.opts.fs.ReadDir(c.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("list", c.root, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == EmbeddingsDirName {
			continue
		}
		ok, err := isNamespace(c.opts.fs, filepath.Join(c.root, e.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// AllStats reports on every namespace under root. Namespaces other than the
// active one are labeled by directory name.
func (c *Cache) AllStats() ([]Stats, error) {
	names, err := c.Namespaces()
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	active := filepath.Base(c.store.dir)

	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if name == active {
			st, err := c.store.Stats()
			if err != nil {
				return nil, err
			}
			out = append(out, st)
			continue
		}
		st, err := c.namespaceStats(name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// namespaceStats reads an inactive namespace with whichever manifest backend
// wrote it. It neither migrates nor imports anything.
func (c *Cache) namespaceStats(name string) (Stats, error) {
	dir := filepath.Join(c.root, name)
	o := c.opts
	backend, err := detectBackend(o.fs, dir)
	if err != nil {
		return Stats{}, err
	}
	o.backend = backend
	mu := namespaceLock(dir)
	mu.Lock()
	s, err := attachStore(dir, name, mu, o)
	mu.Unlock()
	if err != nil {
		return Stats{}, err
	}
	defer s.Close()
	return s.Stats()
}

// detectBackend picks the backend whose manifest file exists in dir. A database
// manifest wins over manifest.json, which it imports on its next open.
func detectBackend(fs fsys.FileSystem, dir string) (manifest.Backend, error) {
	for _, c := range []struct {
		file    string
		backend manifest.Backend
	}{
		{manifest.SQLiteFileName, manifest.BackendSQLite},
		{manifest.BoltFileName, manifest.BackendBolt},
	} {
		ok, err := fsys.Exists(fs, filepath.Join(dir, c.file))
		if err != nil {
			return "", storageErr("stat", dir, err)
		}
		if ok {
			return c.backend, nil
		}
	}
	return manifest.BackendJSON, nil
}

func isNamespace(fs fsys.FileSystem, dir string) (bool, error) {
	for _, name := range []string{
		EmbeddingsDirName,
		manifest.JSONFileName,
		manifest.SQLiteFileName,
		manifest.BoltFileName,
	} {
		ok, err := fsys.Exists(fs, filepath.Join(dir, name))
		if err != nil {
			return false, storageErr("stat", dir, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Close releases the active namespace.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}
