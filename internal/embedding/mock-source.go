package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"image"
	"math"
	"os"
	"sync"

	"github.com/hyperjump/gazou/pkg/utils"
)

// MockSource is a deterministic Source for tests and for running without ONNX
// Runtime. Vectors are derived from a hash of the model name and the input, so
// identical image bytes or identical text always embed the same way.
type MockSource struct {
	dimensions int

	mu    sync.RWMutex
	model string
}

// NewMockSource returns a MockSource producing vectors of the given dimensions.
func NewMockSource(model string, dimensions int) *MockSource {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockSource{model: model, dimensions: dimensions}
}

// EmbedImage hashes the file content. Files that are not decodable images fail
// with an EncodingError.
func (m *MockSource) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &EncodingError{Input: path, Err: err}
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return nil, &EncodingError{Input: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &EncodingError{Input: path, Err: err}
	}
	return m.vector("image", data), nil
}

// EmbedText hashes the text. Empty text is valid.
func (m *MockSource) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.vector("text", []byte(text)), nil
}

func (m *MockSource) vector(kind string, data []byte) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.Model()))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(data)
	seed := float64(h.Sum64()%1_000_003) + 1

	emb := make([]float32, m.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2InPlace(emb)
	return emb
}

// SetModel switches the model name mixed into every hash.
func (m *MockSource) SetModel(name string) error {
	if name == "" {
		return errors.New("model name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = name
	return nil
}

// Model returns the current model name.
func (m *MockSource) Model() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

// Dimensions returns the embedding dimension.
func (m *MockSource) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MockSource.
func (m *MockSource) Close() error {
	return nil
}
