// Package search embeds text or image queries and ranks the cached image
// vectors of the active model against them.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/embedding"
	"github.com/hyperjump/gazou/internal/models"
	"github.com/hyperjump/gazou/internal/rank"
	"github.com/hyperjump/gazou/internal/vectorcache"
	"go.uber.org/zap"
)

// Cache is the embedding cache the engine reads from and writes through.
type Cache interface {
	Has(path string) (bool, error)
	Save(path string, vec []float32) error
	Remove(path string) error
	AllEntries() ([]vectorcache.Entry, error)
	Stats() (vectorcache.Stats, error)
	AllStats() ([]vectorcache.Stats, error)
	ClearAll() error
	SetModel(model string) error
	Model() string
}

// Engine runs similarity search over the cache with one embedding source.
type Engine struct {
	cache  Cache
	source embedding.Source
	config *config.SearchConfig
	logger *zap.Logger

	// mu keeps the source and the cache on the same model: searches hold it
	// shared, SetModel exclusively.
	mu sync.RWMutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(cache Cache, source embedding.Source, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{DefaultTopK: rank.DefaultTopK}
	}
	e := &Engine{
		cache:  cache,
		source: source,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search dispatches to SearchText or SearchImage depending on the query.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}
	if query.Mode() == models.ModeImage {
		return e.SearchImage(ctx, query.ImagePath, query.Limit())
	}
	return e.SearchText(ctx, query.Query, query.Limit())
}

// SearchText ranks cached images against the embedding of text and returns at
// most topK results. A topK of zero or less returns no results.
func (e *Engine) SearchText(ctx context.Context, text string, topK int) (*models.SearchResponse, error) {
	return e.search(ctx, models.ModeText, text, topK, func(ctx context.Context) ([]float32, error) {
		return e.source.EmbedText(ctx, text)
	})
}

// SearchImage ranks cached images against the embedding of the image at path.
func (e *Engine) SearchImage(ctx context.Context, path string, topK int) (*models.SearchResponse, error) {
	return e.search(ctx, models.ModeImage, path, topK, func(ctx context.Context) ([]float32, error) {
		return e.source.EmbedImage(ctx, path)
	})
}

func (e *Engine) search(
	ctx context.Context,
	mode models.SearchMode,
	query string,
	topK int,
	embed func(context.Context) ([]float32, error),
) (*models.SearchResponse, error) {
	startTime := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	response := &models.SearchResponse{
		Query:   query,
		Mode:    mode,
		Model:   e.cache.Model(),
		Results: []*models.SearchResult{},
	}
	if topK <= 0 {
		response.QueryTime = time.Since(startTime).Milliseconds()
		return response, nil
	}

	queryVec, err := embed(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedding query failed: %w", err)
	}
	entries, err := e.cache.AllEntries()
	if err != nil {
		return nil, fmt.Errorf("loading cached embeddings failed: %w", err)
	}

	candidates := make([]rank.Candidate, len(entries))
	for i, entry := range entries {
		candidates[i] = rank.Candidate{Key: entry.Key, Vector: entry.Vector}
	}
	ranked, skips := rank.RankWithSkips(queryVec, candidates, topK)
	for _, s := range skips {
		e.logger.Warn("Skipped cached embedding", zap.String("path", s.Key), zap.Error(s.Err))
	}

	for i, r := range ranked {
		response.Results = append(response.Results, &models.SearchResult{
			Path:  r.Key,
			Score: r.Score,
			Rank:  i + 1,
		})
	}
	response.Total = len(response.Results)
	response.Skipped = len(skips)
	response.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("Search complete",
		zap.String("mode", string(mode)),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", response.Total),
		zap.Int64("query_time_ms", response.QueryTime))
	return response, nil
}

// SetModel switches the embedding source and the cache namespace together. If
// the cache cannot switch, the source is reverted.
func (e *Engine) SetModel(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.source.Model()
	if name == prev && name == e.cache.Model() {
		return nil
	}
	if err := e.source.SetModel(name); err != nil {
		return fmt.Errorf("switching embedding model: %w", err)
	}
	if err := e.cache.SetModel(name); err != nil {
		if revertErr := e.source.SetModel(prev); revertErr != nil {
			e.logger.Error("Failed to revert embedding model", zap.String("model", prev), zap.Error(revertErr))
		}
		return fmt.Errorf("switching cache namespace: %w", err)
	}
	e.logger.Info("Model switched", zap.String("from", prev), zap.String("to", name))
	return nil
}

// ModelLock returns a shared lock on the active model. Writers that embed with
// the source and then save into the cache hold it across both steps so SetModel
// cannot switch namespaces in between.
func (e *Engine) ModelLock() sync.Locker {
	return e.mu.RLocker()
}

// Model returns the active model.
func (e *Engine) Model() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Model()
}

// Has reports whether path is cached for the active model.
func (e *Engine) Has(path string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Has(path)
}

// Save caches a precomputed vector for path.
func (e *Engine) Save(path string, vec []float32) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Save(path, vec)
}

// Remove drops path from the active model's cache.
func (e *Engine) Remove(path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Remove(path)
}

// Stats reports on the active model's cache.
func (e *Engine) Stats() (vectorcache.Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Stats()
}

// AllStats reports on every model namespace in the cache root.
func (e *Engine) AllStats() ([]vectorcache.Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.AllStats()
}

// ClearAll empties the active model's cache.
func (e *Engine) ClearAll() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.ClearAll()
}

// Source returns the embedding source.
func (e *Engine) Source() embedding.Source {
	return e.source
}
