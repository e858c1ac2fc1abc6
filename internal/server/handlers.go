package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/embedding"
	"github.com/hyperjump/gazou/internal/models"
	"github.com/hyperjump/gazou/internal/vectorcache"
	"go.uber.org/zap"
)

type searchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

type imageSearchRequest struct {
	Path string `json:"path"`
	TopK *int   `json:"top_k"`
}

type saveRequest struct {
	Path   string    `json:"path"`
	Vector []float32 `json:"vector"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type modelRequest struct {
	Model string `json:"model"`
}

type indexRequest struct {
	Folders []string `json:"folders"`
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": s.engine.Model()})
}

func (s *Server) handleCacheHas(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	ok, err := s.engine.Has(path)
	if err != nil {
		s.respondErr(w, "cache lookup failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"path": path, "cached": ok})
}

func (s *Server) handleCacheSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" || len(req.Vector) == 0 {
		s.respondError(w, http.StatusBadRequest, "path and vector are required")
		return
	}
	if err := s.engine.Save(req.Path, req.Vector); err != nil {
		s.respondErr(w, "save failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"path":       req.Path,
		"dimensions": len(req.Vector),
		"status":     "saved",
	})
}

func (s *Server) handleCacheRemove(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.engine.Remove(path); err != nil {
		s.respondErr(w, "remove failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": path, "status": "removed"})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Confirm {
		s.respondError(w, http.StatusBadRequest, "clearing the cache requires confirm: true")
		return
	}
	model := s.engine.Model()
	if err := s.engine.ClearAll(); err != nil {
		s.respondErr(w, "clear failed", err)
		return
	}
	s.logger.Info("Cache cleared", zap.String("model", model))
	s.respondJSON(w, http.StatusOK, map[string]string{"model": model, "status": "cleared"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		all, err := s.engine.AllStats()
		if err != nil {
			s.respondErr(w, "stats failed", err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"models": all})
		return
	}
	stats, err := s.engine.Stats()
	if err != nil {
		s.respondErr(w, "stats failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleModelGet(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"model": s.engine.Model()})
}

func (s *Server) handleModelSet(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Model)
	if name == "" {
		s.respondError(w, http.StatusBadRequest, "model is required")
		return
	}
	if err := s.engine.SetModel(name); err != nil {
		s.respondErr(w, "model switch failed", err)
		return
	}
	s.persistConfig(func(cfg *config.Config) { cfg.Embedding.Model = name })
	s.respondJSON(w, http.StatusOK, map[string]string{"model": name, "status": "active"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Intp("top_k", req.TopK))
	response, err := s.engine.Search(r.Context(), &models.SearchQuery{Query: req.Query, TopK: req.TopK})
	if err != nil {
		s.respondErr(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	var req imageSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	s.logger.Debug("image search request", zap.String("path", req.Path), zap.Intp("top_k", req.TopK))
	response, err := s.engine.Search(r.Context(), &models.SearchQuery{ImagePath: req.Path, TopK: req.TopK})
	if err != nil {
		s.respondErr(w, "image search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		s.respondError(w, http.StatusNotImplemented, "indexing not enabled")
		return
	}
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Folders) == 0 {
		s.respondError(w, http.StatusBadRequest, "folders is required")
		return
	}
	folders := make([]string, 0, len(req.Folders))
	for _, f := range req.Folders {
		abs, status, msg := resolveDirectory(f)
		if status != 0 {
			s.respondError(w, status, msg)
			return
		}
		folders = append(folders, abs)
	}
	report, err := s.indexer.IndexFolders(r.Context(), folders, nil)
	if err != nil {
		if report != nil {
			s.logger.Error("index aborted", zap.String("run_id", report.RunID), zap.Error(err))
		}
		s.respondErr(w, "index failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	abs, status, msg := resolveDirectory(req.Path)
	if status != 0 {
		s.respondError(w, status, msg)
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistConfig(func(cfg *config.Config) { cfg.Watch.Directories = s.watch.Directories() })
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistConfig(func(cfg *config.Config) { cfg.Watch.Directories = s.watch.Directories() })
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistConfig applies update to the loaded config and writes it back. A
// failed write is logged; the runtime change stands.
func (s *Server) persistConfig(update func(cfg *config.Config)) {
	if s.configPath == "" || s.fullConfig == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	update(s.fullConfig)
	if err := config.Save(s.configPath, s.fullConfig); err != nil {
		s.logger.Warn("failed to persist config", zap.String("path", s.configPath), zap.Error(err))
	}
}

// resolveDirectory returns the absolute form of path, or a non-zero status and
// message when it is not an existing directory.
func resolveDirectory(path string) (string, int, string) {
	if path == "" {
		return "", http.StatusBadRequest, "path is required"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", http.StatusBadRequest, "invalid path"
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", http.StatusNotFound, "directory not found: " + abs
		}
		return "", http.StatusInternalServerError, err.Error()
	}
	if !info.IsDir() {
		return "", http.StatusBadRequest, "path is not a directory: " + abs
	}
	return abs, 0, ""
}

// statusFor maps cache and embedding errors onto HTTP status codes.
func statusFor(err error) int {
	var storageErr *vectorcache.StorageError
	var encodingErr *embedding.EncodingError
	switch {
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError
	case errors.As(err, &encodingErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidQuery),
		errors.Is(err, vectorcache.ErrEmptyKey),
		errors.Is(err, vectorcache.ErrEmptyVector),
		errors.Is(err, vectorcache.ErrInvalidModel):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
