package vectorcache

import (
	"github.com/hyperjump/gazou/internal/fsys"
	"github.com/hyperjump/gazou/internal/manifest"
	"go.uber.org/zap"
)

const defaultLoadConcurrency = 8

type options struct {
	logger          *zap.Logger
	fs              fsys.FileSystem
	backend         manifest.Backend
	loadConcurrency int
}

func defaultOptions() options {
	return options{
		logger:          zap.NewNop(),
		fs:              fsys.Default,
		backend:         manifest.BackendJSON,
		loadConcurrency: defaultLoadConcurrency,
	}
}

// Option configures a Store or Cache.
type Option func(*options)

// WithLogger sets a logger for migration, skipped entries, and mutations (debug).
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFileSystem replaces the file system used for vector files and the JSON manifest.
func WithFileSystem(fs fsys.FileSystem) Option {
	return func(o *options) { o.fs = fsys.OrDefault(fs) }
}

// WithManifestBackend selects the manifest storage backend (default json).
func WithManifestBackend(b manifest.Backend) Option {
	return func(o *options) {
		if b != "" {
			o.backend = b
		}
	}
}

// WithLoadConcurrency bounds how many vector files AllEntries reads in parallel.
func WithLoadConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.loadConcurrency = n
		}
	}
}
