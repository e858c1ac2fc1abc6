// Package embedding turns images and text into vectors in a shared space, via
// ONNX Runtime CLIP models or a deterministic mock.
package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Source produces embeddings for images and text with the currently selected model.
type Source interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	SetModel(name string) error
	Model() string
	Dimensions() int
	Close() error
}

// EncodingError is a failure to decode an input or run the model on it. It
// affects only that input.
type EncodingError struct {
	Input string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Input, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ModelPath returns the directory holding a model's ONNX files. Hub-style names
// such as "openai/clip-vit-base-patch32" map to nested directories.
func ModelPath(modelDir, model string) string {
	parts := strings.Split(model, "/")
	for i, p := range parts {
		if p == "." || p == ".." {
			parts[i] = "_"
		}
	}
	return filepath.Join(append([]string{modelDir}, parts...)...)
}

// Config selects and sizes an ONNX CLIP model.
type Config struct {
	Model      string
	ModelDir   string
	Dimensions int
	MaxTokens  int
	ImageSize  int
	CacheSize  int
}

// Model file names inside a model directory.
const (
	TextModelFile   = "text_model.onnx"
	VisionModelFile = "vision_model.onnx"
)
