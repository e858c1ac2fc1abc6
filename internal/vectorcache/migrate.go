package vectorcache

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/hyperjump/gazou/internal/fsys"
	"github.com/hyperjump/gazou/internal/manifest"
)

// MigrationReport summarizes what migrateLegacy did.
type MigrationReport struct {
	Moved          int
	Skipped        int
	ManifestMoved  bool
	ManifestMerged int
}

// Empty reports whether the migration found nothing to do.
func (r MigrationReport) Empty() bool {
	return r.Moved == 0 && r.Skipped == 0 && !r.ManifestMoved && r.ManifestMerged == 0
}

// migrateLegacy moves a pre-namespace layout (root/embeddings/ and
// root/manifest.json) into nsDir. Files already present in the namespace win and
// are never overwritten. Running it again after success does nothing.
func migrateLegacy(fs fsys.FileSystem, root, nsDir string) (MigrationReport, error) {
	var report MigrationReport

	legacyVecDir := filepath.Join(root, EmbeddingsDirName)
	nsVecDir := filepath.Join(nsDir, EmbeddingsDirName)
	files, err := fs.ReadDir(legacyVecDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return report, storageErr("list", legacyVecDir, err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		src := filepath.Join(legacyVecDir, f.Name())
		dst := filepath.Join(nsVecDir, f.Name())
		exists, err := fsys.Exists(fs, dst)
		if err != nil {
			return report, storageErr("stat", dst, err)
		}
		if exists {
			report.Skipped++
			continue
		}
		if err := fs.Rename(src, dst); err != nil {
			return report, storageErr("migrate", src, err)
		}
		report.Moved++
	}
	if err == nil {
		if remaining, rerr := fs.ReadDir(legacyVecDir); rerr == nil && len(remaining) == 0 {
			_ = fs.Remove(legacyVecDir)
		}
	}

	legacyManifest := filepath.Join(root, manifest.JSONFileName)
	ok, err := fsys.Exists(fs, legacyManifest)
	if err != nil {
		return report, storageErr("stat", legacyManifest, err)
	}
	if !ok {
		return report, nil
	}
	nsManifest := filepath.Join(nsDir, manifest.JSONFileName)
	nsHasManifest, err := fsys.Exists(fs, nsManifest)
	if err != nil {
		return report, storageErr("stat", nsManifest, err)
	}
	if !nsHasManifest {
		if err := fs.Rename(legacyManifest, nsManifest); err != nil {
			return report, storageErr("migrate", legacyManifest, err)
		}
		report.ManifestMoved = true
		return report, nil
	}

	legacy, err := manifest.ReadJSONFile(fs, legacyManifest)
	if err != nil {
		return report, storageErr("migrate", legacyManifest, err)
	}
	entries := make([]manifest.Entry, 0, len(legacy))
	for k, name := range legacy {
		entries = append(entries, manifest.Entry{Key: k, Filename: name})
	}
	n, err := manifest.NewJSONStore(nsDir, fs).PutMany(entries, false)
	if err != nil {
		return report, storageErr("migrate", nsManifest, err)
	}
	report.ManifestMerged = n
	if err := fs.Remove(legacyManifest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return report, storageErr("remove", legacyManifest, err)
	}
	return report, nil
}
