package embedding

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writePNG(t *testing.T, path string, w, h int, fill color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func equal(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMockSource_EmbedImage(t *testing.T) {
	dir := t.TempDir()
	red := filepath.Join(dir, "red.png")
	redCopy := filepath.Join(dir, "copy.png")
	blue := filepath.Join(dir, "blue.png")
	writePNG(t, red, 8, 8, color.RGBA{255, 0, 0, 255})
	writePNG(t, redCopy, 8, 8, color.RGBA{255, 0, 0, 255})
	writePNG(t, blue, 8, 8, color.RGBA{0, 0, 255, 255})

	src := NewMockSource("clip", 16)
	ctx := context.Background()
	a, err := src.EmbedImage(ctx, red)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 16 || math.Abs(norm(a)-1) > 1e-5 {
		t.Errorf("len=%d norm=%v", len(a), norm(a))
	}
	b, _ := src.EmbedImage(ctx, redCopy)
	if !equal(a, b) {
		t.Error("identical content should embed identically")
	}
	c, _ := src.EmbedImage(ctx, blue)
	if equal(a, c) {
		t.Error("different content should embed differently")
	}
}

func TestMockSource_EmbedImageErrors(t *testing.T) {
	dir := t.TempDir()
	notImage := filepath.Join(dir, "fake.jpg")
	if err := os.WriteFile(notImage, []byte("definitely not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewMockSource("clip", 8)
	for _, path := range []string{notImage, filepath.Join(dir, "missing.png")} {
		_, err := src.EmbedImage(context.Background(), path)
		var encErr *EncodingError
		if !errors.As(err, &encErr) {
			t.Errorf("%s: expected EncodingError, got %v", path, err)
			continue
		}
		if encErr.Input != path {
			t.Errorf("Input=%q", encErr.Input)
		}
	}
}

func TestMockSource_EmbedText(t *testing.T) {
	src := NewMockSource("clip", 32)
	ctx := context.Background()
	a, err := src.EmbedText(ctx, "a cat")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := src.EmbedText(ctx, "a cat")
	if !equal(a, b) {
		t.Error("text embedding should be deterministic")
	}
	empty, err := src.EmbedText(ctx, "")
	if err != nil || len(empty) != 32 {
		t.Errorf("empty text: %v len=%d", err, len(empty))
	}

	if err := src.SetModel("other"); err != nil {
		t.Fatal(err)
	}
	if src.Model() != "other" {
		t.Errorf("Model=%s", src.Model())
	}
	c, _ := src.EmbedText(ctx, "a cat")
	if equal(a, c) {
		t.Error("a different model should produce different vectors")
	}
	if err := src.SetModel(""); err == nil {
		t.Error("expected error for empty model")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := src.EmbedText(canceled, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPreprocess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wide.png")
	writePNG(t, path, 64, 32, color.RGBA{255, 255, 255, 255})

	px, err := Preprocess(path, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(px) != 3*16*16 {
		t.Fatalf("len=%d", len(px))
	}
	for c := 0; c < 3; c++ {
		want := (1 - clipMean[c]) / clipStd[c]
		got := px[c*256+8*16+8]
		if math.Abs(float64(got-want)) > 1e-3 {
			t.Errorf("channel %d: got %v want %v", c, got, want)
		}
	}

	if _, err := Preprocess(filepath.Join(dir, "missing.png"), 16); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestModelPath(t *testing.T) {
	got := ModelPath("/models", "openai/clip-vit-base-patch32")
	if got != filepath.Join("/models", "openai", "clip-vit-base-patch32") {
		t.Errorf("got %s", got)
	}
	if got := ModelPath("/models", "../escape"); got != filepath.Join("/models", "_", "escape") {
		t.Errorf("got %s", got)
	}
}

func TestNew_fallsBackToMock(t *testing.T) {
	src := New(Config{Model: "clip", ModelDir: t.TempDir(), Dimensions: 12}, zap.NewNop())
	defer src.Close()
	if _, ok := src.(*MockSource); !ok {
		t.Fatalf("expected MockSource fallback, got %T", src)
	}
	if src.Dimensions() != 12 || src.Model() != "clip" {
		t.Errorf("dims=%d model=%s", src.Dimensions(), src.Model())
	}
}
