// Package vectorcache persists embedding vectors on disk, one namespace per
// embedding model, keyed by source path. A Store is a single namespace; a Cache
// is the model-switchable handle the rest of the application holds.
package vectorcache

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/gazou/internal/fsys"
	"github.com/hyperjump/gazou/internal/manifest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Entry is a cached vector and the path key it was stored under.
type Entry struct {
	Key    string
	Vector []float32
}

// Store is the cache namespace of one model: an embeddings/ directory of vector
// files plus a manifest mapping path keys to filenames.
type Store struct {
	model    string
	dir      string
	vecDir   string
	manifest manifest.Store
	fs       fsys.FileSystem
	logger   *zap.Logger
	loadN    int

	// mu is shared by every Store opened on the same namespace directory.
	mu *sync.Mutex
}

// OpenStore opens the namespace of model under root, migrating the legacy flat
// layout first if one is present.
func OpenStore(root, model string, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return openStore(root, model, o)
}

func openStore(root, model string, o options) (*Store, error) {
	if model == "" {
		return nil, ErrInvalidModel
	}
	dir := filepath.Join(root, NamespaceDir(model))
	vecDir := filepath.Join(dir, EmbeddingsDirName)
	if err := o.fs.MkdirAll(vecDir, 0o755); err != nil {
		return nil, storageErr("mkdir", vecDir, err)
	}

	mu := namespaceLock(dir)
	mu.Lock()
	defer mu.Unlock()

	report, err := migrateLegacy(o.fs, root, dir)
	if err != nil {
		return nil, err
	}
	if !report.Empty() {
		o.logger.Info("Migrated legacy cache layout",
			zap.String("model", model),
			zap.Int("moved", report.Moved),
			zap.Int("skipped", report.Skipped),
			zap.Int("manifest_merged", report.ManifestMerged),
			zap.Bool("manifest_moved", report.ManifestMoved))
	}

	return newStore(dir, model, mu, o)
}

// newStore opens the manifest of an existing namespace directory. The caller
// holds mu.
func newStore(dir, model string, mu *sync.Mutex, o options) (*Store, error) {
	s, err := attachStore(dir, model, mu, o)
	if err != nil {
		return nil, err
	}
	if o.backend != manifest.BackendJSON {
		if err := s.importJSONManifest(); err != nil {
			_ = s.manifest.Close()
			return nil, err
		}
	}
	return s, nil
}

// attachStore opens the namespace with o.backend as it is, without importing a
// leftover manifest.json.
func attachStore(dir, model string, mu *sync.Mutex, o options) (*Store, error) {
	m, err := manifest.Open(o.backend, dir, o.fs)
	if err != nil {
		return nil, storageErr("open manifest", dir, err)
	}
	return &Store{
		model:    model,
		dir:      dir,
		vecDir:   filepath.Join(dir, EmbeddingsDirName),
		manifest: m,
		fs:       o.fs,
		logger:   o.logger,
		loadN:    o.loadConcurrency,
		mu:       mu,
	}, nil
}

// importJSONManifest folds a manifest.json left in the namespace (by migration or
// by an earlier json-backend run) into a non-JSON backend, then removes it.
func (s *Store) importJSONManifest() error {
	path := filepath.Join(s.dir, manifest.JSONFileName)
	ok, err := fsys.Exists(s.fs, path)
	if err != nil {
		return storageErr("stat", path, err)
	}
	if !ok {
		return nil
	}
	legacy, err := manifest.ReadJSONFile(s.fs, path)
	if err != nil {
		return storageErr("import manifest", path, err)
	}
	entries := make([]manifest.Entry, 0, len(legacy))
	for k, f := range legacy {
		entries = append(entries, manifest.Entry{Key: k, Filename: f})
	}
	n, err := s.manifest.PutMany(entries, false)
	if err != nil {
		return storageErr("import manifest", s.manifest.Path(), err)
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr("remove", path, err)
	}
	s.logger.Info("Imported JSON manifest", zap.String("model", s.model), zap.Int("entries", n))
	return nil
}

// Model returns the model name this namespace belongs to.
func (s *Store) Model() string { return s.model }

// Dir returns the namespace directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) vectorPath(filename string) string {
	return filepath.Join(s.vecDir, filepath.Base(filename))
}

// Has reports whether key has both a manifest entry and a vector file. It does
// not decode the file.
func (s *Store) Has(key string) (bool, error) {
	filename, ok, err := s.manifest.Get(key)
	if err != nil {
		return false, storageErr("read manifest", s.manifest.Path(), err)
	}
	if !ok {
		return false, nil
	}
	path := s.vectorPath(filename)
	exists, err := fsys.Exists(s.fs, path)
	if err != nil {
		return false, storageErr("stat", path, err)
	}
	return exists, nil
}

// Get loads the vector stored for key. A missing entry or missing file is a miss
// (nil, false, nil). A file that fails to decode returns a StorageError wrapping
// ErrCorrupt.
func (s *Store) Get(key string) ([]float32, bool, error) {
	filename, ok, err := s.manifest.Get(key)
	if err != nil {
		return nil, false, storageErr("read manifest", s.manifest.Path(), err)
	}
	if !ok {
		return nil, false, nil
	}
	return s.load(filename)
}

func (s *Store) load(filename string) ([]float32, bool, error) {
	path := s.vectorPath(filename)
	data, err := s.fs.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("read", path, err)
	}
	vec, err := DecodeVector(data)
	if err != nil {
		return nil, false, storageErr("decode", path, err)
	}
	return vec, true, nil
}

// Put writes vec for key, replacing any previous value. The vector file is
// written atomically before the manifest is updated, so a failure leaves at
// worst an orphan file and never a manifest entry without data.
func (s *Store) Put(key string, vec []float32) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	filename := FilenameForKey(key)
	path := s.vectorPath(filename)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsys.WriteFileAtomic(s.fs, path, EncodeVector(vec), 0o644); err != nil {
		return storageErr("write", path, err)
	}
	if err := s.manifest.Put(key, filename); err != nil {
		return storageErr("write manifest", s.manifest.Path(), err)
	}
	s.logger.Debug("Cached vector", zap.String("model", s.model), zap.String("key", key), zap.Int("dims", len(vec)))
	return nil
}

// Remove deletes key's vector file and manifest entry. Removing an absent key is
// a no-op.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename, ok, err := s.manifest.Get(key)
	if err != nil {
		return storageErr("read manifest", s.manifest.Path(), err)
	}
	if !ok {
		return nil
	}
	path := s.vectorPath(filename)
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr("remove", path, err)
	}
	if _, _, err := s.manifest.Remove(key); err != nil {
		return storageErr("write manifest", s.manifest.Path(), err)
	}
	s.logger.Debug("Removed vector", zap.String("model", s.model), zap.String("key", key))
	return nil
}

// ClearAll deletes every vector file in the namespace and empties its manifest.
// Other namespaces are untouched.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.fs.ReadDir(s.vecDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr("list", s.vecDir, err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		path := filepath.Join(s.vecDir, f.Name())
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return storageErr("remove", path, err)
		}
	}
	if err := s.manifest.Clear(); err != nil {
		return storageErr("clear manifest", s.manifest.Path(), err)
	}
	s.logger.Info("Cleared cache namespace", zap.String("model", s.model), zap.Int("files", len(files)))
	return nil
}

// AllKeys returns every manifest key in sorted order, without reading vectors.
func (s *Store) AllKeys() ([]string, error) {
	keys, err := manifest.Keys(s.manifest)
	if err != nil {
		return nil, storageErr("read manifest", s.manifest.Path(), err)
	}
	return keys, nil
}

// AllEntries loads every cached vector in sorted key order. Entries whose file is
// missing or corrupt are skipped (corrupt ones are logged); other I/O failures
// abort the load.
func (s *Store) AllEntries() ([]Entry, error) {
	entries, err := s.manifest.Entries()
	if err != nil {
		return nil, storageErr("read manifest", s.manifest.Path(), err)
	}

	loaded := make([]*Entry, len(entries))
	g := new(errgroup.Group)
	g.SetLimit(s.loadN)
	for i, e := range entries {
		g.Go(func() error {
			vec, ok, err := s.load(e.Filename)
			if errors.Is(err, ErrCorrupt) {
				s.logger.Warn("Skipping corrupt cache entry", zap.String("key", e.Key), zap.Error(err))
				return nil
			}
			if err != nil {
				return err
			}
			if ok {
				loaded[i] = &Entry{Key: e.Key, Vector: vec}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(loaded))
	for _, e := range loaded {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

// Close releases the manifest backend.
func (s *Store) Close() error {
	return s.manifest.Close()
}
