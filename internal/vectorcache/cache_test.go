package vectorcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/gazou/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestCache(t *testing.T, root, model string, opts ...Option) *Cache {
	t.Helper()
	c, err := Open(root, model, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// writeLegacy lays out the pre-namespace cache: root/embeddings/*.vec and root/manifest.json.
func writeLegacy(t *testing.T, root string, vecs map[string][]float32) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, EmbeddingsDirName), 0o755))
	m := map[string]string{}
	for key, v := range vecs {
		name := FilenameForKey(key)
		m[key] = name
		require.NoError(t, os.WriteFile(filepath.Join(root, EmbeddingsDirName, name), EncodeVector(v), 0o644))
	}
	data, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, manifest.JSONFileName), data, 0o644))
}

func TestCache_SaveHasGet(t *testing.T) {
	c := openTestCache(t, t.TempDir(), "clip", WithLogger(zap.NewNop()))
	assert.Equal(t, "clip", c.Model())

	require.NoError(t, c.Save("/a.jpg", []float32{0.6, 0.8}))
	ok, err := c.Has("/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	got, ok, err := c.Get("/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.6, 0.8}, got)

	require.NoError(t, c.Remove("/a.jpg"))
	keys, err := c.AllKeys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCache_namespacesIsolateKeys(t *testing.T) {
	root := t.TempDir()
	c := openTestCache(t, root, "model-a")
	require.NoError(t, c.Save("/shared.jpg", []float32{1, 0}))

	require.NoError(t, c.SetModel("openai/clip-vit-base-patch32"))
	assert.Equal(t, "openai/clip-vit-base-patch32", c.Model())

	ok, err := c.Has("/shared.jpg")
	require.NoError(t, err)
	assert.False(t, ok, "other namespace does not see model-a's key")

	require.NoError(t, c.Save("/shared.jpg", []float32{0, 1}))
	require.NoError(t, c.ClearAll())

	require.NoError(t, c.SetModel("model-a"))
	got, ok, err := c.Get("/shared.jpg")
	require.NoError(t, err)
	assert.True(t, ok, "clearing another namespace leaves this one intact")
	assert.Equal(t, []float32{1, 0}, got)
}

func TestCache_SetModelSameIsNoop(t *testing.T) {
	c := openTestCache(t, t.TempDir(), "clip")
	before := c.Store()
	require.NoError(t, c.SetModel("clip"))
	assert.Same(t, before, c.Store())
}

func TestCache_SetModelInvalidKeepsPrevious(t *testing.T) {
	c := openTestCache(t, t.TempDir(), "clip")
	assert.ErrorIs(t, c.SetModel(""), ErrInvalidModel)
	assert.Equal(t, "clip", c.Model())
	require.NoError(t, c.Save("/a.jpg", []float32{1}))
}

func TestCache_migratesLegacyLayout(t *testing.T) {
	root := t.TempDir()
	writeLegacy(t, root, map[string][]float32{
		"/photos/a.jpg": {1, 0, 0},
		"/photos/b.jpg": {0, 1, 0},
	})

	c := openTestCache(t, root, "clip")
	got, ok, err := c.Get("/photos/a.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0}, got)

	_, err = os.Stat(filepath.Join(root, manifest.JSONFileName))
	assert.True(t, os.IsNotExist(err), "legacy manifest moved")
	_, err = os.Stat(filepath.Join(root, EmbeddingsDirName))
	assert.True(t, os.IsNotExist(err), "empty legacy dir removed")

	keysBefore, err := c.AllKeys()
	require.NoError(t, err)
	require.NoError(t, c.Close())

	again := openTestCache(t, root, "clip")
	keysAfter, err := again.AllKeys()
	require.NoError(t, err)
	assert.Equal(t, keysBefore, keysAfter, "second open changes nothing")
	assert.Equal(t, []string{"/photos/a.jpg", "/photos/b.jpg"}, keysAfter)
}

func TestCache_migrationKeepsNamespaceData(t *testing.T) {
	root := t.TempDir()
	c := openTestCache(t, root, "clip")
	require.NoError(t, c.Save("/photos/a.jpg", []float32{9, 9}))
	require.NoError(t, c.Close())

	writeLegacy(t, root, map[string][]float32{
		"/photos/a.jpg": {1, 0},
		"/photos/b.jpg": {0, 1},
	})

	c = openTestCache(t, root, "clip")
	got, ok, err := c.Get("/photos/a.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{9, 9}, got, "existing namespace files are never overwritten")

	got, ok, err = c.Get("/photos/b.jpg")
	require.NoError(t, err)
	require.True(t, ok, "non-conflicting legacy entries are merged")
	assert.Equal(t, []float32{0, 1}, got)

	_, err = os.Stat(filepath.Join(root, manifest.JSONFileName))
	assert.True(t, os.IsNotExist(err))

	// the conflicting legacy file stays where it was
	left, err := os.ReadDir(filepath.Join(root, EmbeddingsDirName))
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestCache_migrationWithoutLegacyIsNoop(t *testing.T) {
	root := t.TempDir()
	c := openTestCache(t, root, "clip")
	keys, err := c.AllKeys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCache_migratesIntoSQLiteBackend(t *testing.T) {
	root := t.TempDir()
	writeLegacy(t, root, map[string][]float32{"/a.png": {0.5, 0.5}})

	c := openTestCache(t, root, "clip", WithManifestBackend(manifest.BackendSQLite))
	got, ok, err := c.Get("/a.png")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.5}, got)

	_, err = os.Stat(filepath.Join(c.Store().Dir(), manifest.JSONFileName))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(c.Store().Dir(), manifest.SQLiteFileName))
	assert.NoError(t, err)
}

func TestCache_NamespacesAndAllStats(t *testing.T) {
	root := t.TempDir()
	c := openTestCache(t, root, "model-a")
	require.NoError(t, c.Save("/x/1.jpg", []float32{1}))
	require.NoError(t, c.SetModel("model-b"))
	require.NoError(t, c.Save("/x/1.jpg", []float32{1}))
	require.NoError(t, c.Save("/y/2.jpg", []float32{1}))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-namespace"), 0o755))

	names, err := c.Namespaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"model-a", "model-b"}, names)

	all, err := c.AllStats()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "model-a", all[0].Model)
	assert.Equal(t, 1, all[0].ImageCount)
	assert.Equal(t, "model-b", all[1].Model)
	assert.Equal(t, 2, all[1].ImageCount)

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, all[1], st)
}

func TestCache_AllStatsReadsEachNamespaceBackend(t *testing.T) {
	root := t.TempDir()
	for model, backend := range map[string]manifest.Backend{
		"model-a": manifest.BackendSQLite,
		"model-c": manifest.BackendBolt,
	} {
		c, err := Open(root, model, WithManifestBackend(backend))
		require.NoError(t, err)
		require.NoError(t, c.Save("/x/1.jpg", []float32{1}))
		require.NoError(t, c.Save("/x/2.jpg", []float32{1}))
		require.NoError(t, c.Close())
	}
	// A manifest.json left next to a database manifest is imported by the
	// owning backend, not by a stats read.
	leftover := filepath.Join(root, "model-a", manifest.JSONFileName)
	require.NoError(t, os.WriteFile(leftover, []byte(`{"/y/3.jpg":"missing.vec"}`), 0o644))

	c := openTestCache(t, root, "model-b")
	require.NoError(t, c.Save("/z/1.jpg", []float32{1}))

	all, err := c.AllStats()
	require.NoError(t, err)
	require.Len(t, all, 3)
	counts := map[string]int{}
	for _, st := range all {
		counts[st.Model] = st.ImageCount
	}
	assert.Equal(t, map[string]int{"model-a": 2, "model-b": 1, "model-c": 2}, counts)

	assert.FileExists(t, leftover)
	assert.NoFileExists(t, filepath.Join(root, "model-c", manifest.JSONFileName))
	assert.NoFileExists(t, filepath.Join(root, "model-c", manifest.SQLiteFileName))
	assert.NoFileExists(t, filepath.Join(root, "model-a", manifest.BoltFileName))
}
