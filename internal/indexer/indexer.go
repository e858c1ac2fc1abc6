// Package indexer embeds image files and stores their vectors in the cache, as a
// batch over folders or one file at a time for the watcher.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/gazou/internal/embedding"
	"github.com/hyperjump/gazou/internal/vectorcache"
	"go.uber.org/zap"
)

// Cache is the part of the embedding cache the indexer writes to.
type Cache interface {
	Has(path string) (bool, error)
	Save(path string, vec []float32) error
	Remove(path string) error
	AllKeys() ([]string, error)
	Model() string
}

// ErrModelChanged is returned when the cache and the embedding source are not
// on the same model, so a vector cannot be stored.
var ErrModelChanged = errors.New("embedding model changed")

// Progress is reported after every item of a batch.
type Progress struct {
	Current int
	Total   int
	Path    string
	Err     error
}

// Failure records one item that could not be embedded.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report summarizes a batch run.
type Report struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Canceled  bool          `json:"canceled"`
	Duration  time.Duration `json:"duration_ns"`
	Failures  []Failure     `json:"failures,omitempty"`
}

// Indexer embeds images into the cache.
type Indexer struct {
	cache      Cache
	source     embedding.Source
	extensions []string
	logger     *zap.Logger
	// modelLock is held across embed and save when set.
	modelLock sync.Locker
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for per-item warnings and batch summaries.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithModelLock makes every embed-and-save hold l, typically the search
// engine's ModelLock, so a model switch waits for the item in flight.
func WithModelLock(l sync.Locker) IndexerOption {
	return func(idx *Indexer) {
		idx.modelLock = l
	}
}

// NewIndexer creates an indexer. extensions lists the image extensions to pick
// up (with or without the leading dot, any case).
func NewIndexer(cache Cache, source embedding.Source, extensions []string, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		cache:      cache,
		source:     source,
		extensions: extensions,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IsImage reports whether path has one of the indexer's extensions.
func (idx *Indexer) IsImage(path string) bool {
	return extensionAllowed(filepath.Ext(path), idx.extensions)
}

// CollectImages walks folders recursively and returns, sorted, the absolute
// paths of image files that are not cached yet.
func (idx *Indexer) CollectImages(ctx context.Context, folders []string) ([]string, error) {
	pending, _, err := idx.collect(ctx, folders)
	return pending, err
}

func (idx *Indexer) collect(ctx context.Context, folders []string) (pending []string, cached int, err error) {
	seen := make(map[string]struct{})
	for _, folder := range folders {
		absDir, err := filepath.Abs(folder)
		if err != nil {
			return nil, 0, fmt.Errorf("absolute path: %w", err)
		}
		info, err := os.Stat(absDir)
		if err != nil {
			return nil, 0, fmt.Errorf("stat directory: %w", err)
		}
		if !info.IsDir() {
			return nil, 0, fmt.Errorf("not a directory: %s", absDir)
		}
		err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				idx.logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !idx.IsImage(path) {
				return nil
			}
			// Resolve symlinks so we only pick up regular files
			finfo, statErr := os.Stat(path)
			if statErr != nil || !finfo.Mode().IsRegular() {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}
			ok, err := idx.cache.Has(path)
			if err != nil {
				return err
			}
			if ok {
				cached++
				return nil
			}
			pending = append(pending, path)
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}
	sort.Strings(pending)
	return pending, cached, nil
}

// IndexFolders collects the uncached images under folders and runs a batch over them.
func (idx *Indexer) IndexFolders(ctx context.Context, folders []string, progress func(Progress)) (*Report, error) {
	pending, cached, err := idx.collect(ctx, folders)
	if err != nil {
		return nil, err
	}
	report, err := idx.Run(ctx, pending, progress)
	if report != nil {
		report.Skipped = cached
	}
	return report, err
}

// Run embeds and caches each path in order. An item that fails to embed is
// logged, counted, and skipped. A storage failure stops the batch and is
// returned along with the partial report. Cancellation is checked between
// items; the item in flight always completes.
func (idx *Indexer) Run(ctx context.Context, paths []string, progress func(Progress)) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.New().String(), Total: len(paths)}
	log := idx.logger.With(zap.String("run_id", report.RunID))
	log.Info("Embedding batch started", zap.Int("total", len(paths)), zap.String("model", idx.source.Model()))

	finish := func() {
		report.Duration = time.Since(start)
		log.Info("Embedding batch finished",
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
			zap.Int("total", report.Total),
			zap.Bool("canceled", report.Canceled),
			zap.Duration("duration", report.Duration))
	}

	for i, path := range paths {
		if ctx.Err() != nil {
			report.Canceled = true
			break
		}
		err := idx.embedAndSave(context.WithoutCancel(ctx), path)
		var storageErr *vectorcache.StorageError
		switch {
		case errors.As(err, &storageErr):
			report.Failed++
			report.Failures = append(report.Failures, Failure{Path: path, Error: err.Error()})
			if progress != nil {
				progress(Progress{Current: i + 1, Total: len(paths), Path: path, Err: err})
			}
			finish()
			return report, fmt.Errorf("saving embedding for %s: %w", path, err)
		case err != nil:
			report.Failed++
			report.Failures = append(report.Failures, Failure{Path: path, Error: err.Error()})
			log.Warn("Failed to embed image", zap.String("path", path), zap.Error(err))
		default:
			report.Processed++
		}
		if progress != nil {
			progress(Progress{Current: i + 1, Total: len(paths), Path: path, Err: err})
		}
	}
	finish()
	return report, nil
}

func (idx *Indexer) embedAndSave(ctx context.Context, path string) error {
	if idx.modelLock != nil {
		idx.modelLock.Lock()
		defer idx.modelLock.Unlock()
	}
	model := idx.cache.Model()
	if src := idx.source.Model(); src != model {
		return fmt.Errorf("%w: source %q, cache %q", ErrModelChanged, src, model)
	}
	vec, err := idx.source.EmbedImage(ctx, path)
	if err != nil {
		return err
	}
	if now := idx.cache.Model(); now != model {
		return fmt.Errorf("%w: %q to %q while embedding %s", ErrModelChanged, model, now, path)
	}
	return idx.cache.Save(path, vec)
}

// IndexFile embeds one image and caches it, replacing any previous vector. The
// cache is keyed by path only, so a changed file is always re-embedded.
func (idx *Indexer) IndexFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	if !idx.IsImage(absPath) {
		return fmt.Errorf("extension %q not in allowed list", strings.ToLower(filepath.Ext(absPath)))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}
	if err := idx.embedAndSave(ctx, absPath); err != nil {
		return err
	}
	idx.logger.Debug("Indexed image", zap.String("path", absPath))
	return nil
}

// RemoveFile drops path from the cache.
func (idx *Indexer) RemoveFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	if err := idx.cache.Remove(absPath); err != nil {
		return err
	}
	idx.logger.Debug("Removed image", zap.String("path", absPath))
	return nil
}

// RemoveFolder drops every cached path under dir and returns how many were removed.
func (idx *Indexer) RemoveFolder(dir string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	keys, err := idx.cache.AllKeys()
	if err != nil {
		return 0, err
	}
	prefix := filepath.Clean(absDir) + string(filepath.Separator)
	n := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := idx.cache.Remove(key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
