package vectorcache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Stats describes one cache namespace.
type Stats struct {
	Model          string   `json:"model"`
	ImageCount     int      `json:"image_count"`
	CacheSizeBytes int64    `json:"cache_size_bytes"`
	CacheSizeMB    float64  `json:"cache_size_mb"`
	Folders        []string `json:"folders"`
}

// Stats counts manifest entries, sums vector file sizes, and lists the distinct
// parent folders of cached paths.
func (s *Store) Stats() (Stats, error) {
	keys, err := s.AllKeys()
	if err != nil {
		return Stats{}, err
	}
	size, err := s.vectorBytes()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Model:          s.model,
		ImageCount:     len(keys),
		CacheSizeBytes: size,
		CacheSizeMB:    float64(size) / (1024 * 1024),
		Folders:        folders(keys),
	}, nil
}

func (s *Store) vectorBytes() (int64, error) {
	files, err := s.fs.ReadDir(s.vecDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("list", s.vecDir, err)
	}
	var total int64
	for _, f := range files {
		// in-flight temp files are dot-prefixed
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		info, err := f.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, storageErr("stat", filepath.Join(s.vecDir, f.Name()), err)
		}
		total += info.Size()
	}
	return total, nil
}

func folders(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0)
	for _, k := range keys {
		dir := filepath.Dir(k)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}
