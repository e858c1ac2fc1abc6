package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// recordingHandler records calls; CollectImages returns every matching file not in cached.
type recordingHandler struct {
	mu      sync.Mutex
	exts    []string
	cached  map[string]bool
	indexed []string
	removed []string
	folders []string
}

func newRecordingHandler(exts ...string) *recordingHandler {
	return &recordingHandler{exts: exts, cached: map[string]bool{}}
}

func (h *recordingHandler) IndexFile(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.indexed = append(h.indexed, path)
	h.cached[path] = true
	return nil
}

func (h *recordingHandler) RemoveFile(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, path)
	return nil
}

func (h *recordingHandler) RemoveFolder(dir string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.folders = append(h.folders, dir)
	return 0, nil
}

func (h *recordingHandler) CollectImages(_ context.Context, folders []string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, folder := range folders {
		_ = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if matchExtension(path, h.exts) && !h.cached[path] {
				out = append(out, path)
			}
			return nil
		})
	}
	return out, nil
}

func (h *recordingHandler) snapshot() (indexed, removed, folders []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.indexed...), append([]string(nil), h.removed...), append([]string(nil), h.folders...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func containsSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, roots []string, h Handler, recursive bool) *Watcher {
	t.Helper()
	w := NewWatcher(roots, []string{".png", ".jpg"}, recursive, h, WithDebounce(50*time.Millisecond), WithLogger(zap.NewNop()))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, nil, newRecordingHandler(".png"), true)

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
	if err := w.AddDirectory(filepath.Join(dir, "missing"), false); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestWatcher_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	h := newRecordingHandler(".png", ".jpg")
	startWatcher(t, []string{dir}, h, true)

	img := filepath.Join(sub, "cat.png")
	for i := 0; i < 3; i++ {
		if err := writeFile(img, strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(sub, "notes.txt"), "skip"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "cat.png to be indexed", func() bool {
		indexed, _, _ := h.snapshot()
		return containsSuffix(indexed, "cat.png")
	})
	time.Sleep(150 * time.Millisecond)
	indexed, _, _ := h.snapshot()
	if containsSuffix(indexed, "notes.txt") {
		t.Error("notes.txt should not be indexed")
	}
	count := 0
	for _, p := range indexed {
		if strings.HasSuffix(p, "cat.png") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("rapid writes should collapse into one embed, got %d", count)
	}
}

func TestWatcher_RemoveEvictsFileAndFolder(t *testing.T) {
	dir := t.TempDir()
	album := filepath.Join(dir, "album")
	if err := mkdirAll(album); err != nil {
		t.Fatal(err)
	}
	img := filepath.Join(dir, "gone.jpg")
	if err := writeFile(img, "x"); err != nil {
		t.Fatal(err)
	}
	h := newRecordingHandler(".jpg")
	startWatcher(t, []string{dir}, h, true)

	if err := os.Remove(img); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "file eviction", func() bool {
		_, removed, _ := h.snapshot()
		return containsSuffix(removed, "gone.jpg")
	})

	if err := os.RemoveAll(album); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "folder eviction", func() bool {
		_, _, folders := h.snapshot()
		return containsSuffix(folders, "album")
	})
}

func TestWatcher_SyncExistingFiles_onlyUncached(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.png"), "a"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "cached.png"), "c"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	h := newRecordingHandler(".png")
	h.cached[filepath.Join(dir, "cached.png")] = true
	w := startWatcher(t, []string{dir}, h, true)
	w.SyncExistingFiles()

	indexed, _, _ := h.snapshot()
	if len(indexed) != 1 || !strings.HasSuffix(indexed[0], "a.png") {
		t.Errorf("expected only a.png, got %v", indexed)
	}
}

func TestWatcher_Start_missingRootFails(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := NewWatcher([]string{root}, []string{".png"}, true, newRecordingHandler())
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for missing root")
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("missing root should not be created")
	}
}

func TestWatcher_StartStopImmediately(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 50; i++ {
		w := NewWatcher([]string{dir}, []string{".png"}, true, newRecordingHandler(), WithLogger(zap.NewNop()))
		ctx, cancel := context.WithCancel(context.Background())
		if err := w.Start(ctx); err != nil {
			cancel()
			t.Fatal(err)
		}
		w.Stop()
		cancel()
		if dirs := w.Directories(); len(dirs) != 1 {
			t.Fatalf("iteration %d: Directories() = %v", i, dirs)
		}
	}
	// Give any run goroutine left behind a chance to touch the stopped watcher.
	time.Sleep(20 * time.Millisecond)
}

func TestWatcher_HandleNewDirectory_embedsImagesInNewFolder(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler(".png", ".jpg")
	startWatcher(t, []string{dir}, h, true)

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.png"), "deep"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "level1", "top.jpg"), "top"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "files in new folders", func() bool {
		indexed, _, _ := h.snapshot()
		return containsSuffix(indexed, "deep.png") && containsSuffix(indexed, "top.jpg")
	})
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.png", []string{".png"}, true},
		{"/a/b.PNG", []string{".png"}, true},
		{"/a/b.webp", []string{"webp"}, true},
		{"/a/b.txt", []string{".png"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.png", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
		{"/tmp/a", "/tmp/ab/c.png", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
