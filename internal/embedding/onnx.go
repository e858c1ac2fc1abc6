//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hyperjump/gazou/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXSource runs a CLIP dual encoder (separate text and vision ONNX models) with
// ONNX Runtime. It requires CGO and the onnxruntime shared library.
type ONNXSource struct {
	modelDir   string
	dimensions int
	maxTokens  int
	imageSize  int
	tokenizer  Tokenizer
	cache      *EmbeddingCache

	mu     sync.Mutex
	model  string
	text   *textEncoder
	vision *visionEncoder
}

// textEncoder holds a text session and the tensors bound to it.
type textEncoder struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

// visionEncoder holds a vision session and the tensors bound to it.
type visionEncoder struct {
	session *ort.AdvancedSession
	pixels  *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXSource loads cfg.Model from cfg.ModelDir. InitializeEnvironment is called if not already done.
func NewONNXSource(cfg Config) (*ONNXSource, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	s := &ONNXSource{
		modelDir:   cfg.ModelDir,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
		imageSize:  cfg.ImageSize,
		tokenizer:  &SimpleTokenizer{},
		cache:      NewEmbeddingCache(cfg.CacheSize),
	}
	if s.maxTokens <= 0 {
		s.maxTokens = DefaultMaxTokens
	}
	if s.imageSize <= 0 {
		s.imageSize = DefaultImageSize
	}
	if err := s.load(cfg.Model); err != nil {
		return nil, err
	}
	return s, nil
}

// load opens both encoders of model and swaps them in. On error the current
// encoders are kept. Callers hold s.mu (or own s exclusively).
func (s *ONNXSource) load(model string) error {
	if model == "" {
		return errors.New("model name cannot be empty")
	}
	dir := ModelPath(s.modelDir, model)
	text, err := s.newTextEncoder(filepath.Join(dir, TextModelFile))
	if err != nil {
		return err
	}
	vision, err := s.newVisionEncoder(filepath.Join(dir, VisionModelFile))
	if err != nil {
		text.destroy()
		return err
	}
	s.text.destroy()
	s.vision.destroy()
	s.text, s.vision, s.model = text, vision, model
	s.cache.Clear()
	return nil
}

func (s *ONNXSource) newTextEncoder(path string) (*textEncoder, error) {
	shape := ort.NewShape(1, int64(s.maxTokens))
	ids, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	mask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		ids.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(s.dimensions)))
	if err != nil {
		ids.Destroy()
		mask.Destroy()
		return nil, fmt.Errorf("failed to create text output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		path,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{ids, mask},
		[]ort.ArbitraryTensor{out},
		nil,
	)
	if err != nil {
		ids.Destroy()
		mask.Destroy()
		out.Destroy()
		return nil, fmt.Errorf("failed to create text session %s: %w", path, err)
	}
	return &textEncoder{session: session, inputIDs: ids, attentionMask: mask, output: out}, nil
}

func (s *ONNXSource) newVisionEncoder(path string) (*visionEncoder, error) {
	size := int64(s.imageSize)
	pixels, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(s.dimensions)))
	if err != nil {
		pixels.Destroy()
		return nil, fmt.Errorf("failed to create image output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		path,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{pixels},
		[]ort.ArbitraryTensor{out},
		nil,
	)
	if err != nil {
		pixels.Destroy()
		out.Destroy()
		return nil, fmt.Errorf("failed to create vision session %s: %w", path, err)
	}
	return &visionEncoder{session: session, pixels: pixels, output: out}, nil
}

// EmbedText returns the embedding for text, using cache when available.
func (s *ONNXSource) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(text); ok {
		return cached, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, mask := s.tokenizer.Tokenize(text, s.maxTokens)
	copy(s.text.inputIDs.GetData(), ids)
	copy(s.text.attentionMask.GetData(), mask)
	if err := s.text.session.Run(); err != nil {
		return nil, &EncodingError{Input: text, Err: fmt.Errorf("inference failed: %w", err)}
	}
	emb, err := s.readOutput(text, s.text.output)
	if err != nil {
		return nil, err
	}
	s.cache.Set(text, emb)
	return emb, nil
}

// EmbedImage preprocesses the image at path and runs the vision encoder.
func (s *ONNXSource) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pixels, err := Preprocess(path, s.imageSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.vision.pixels.GetData(), pixels)
	if err := s.vision.session.Run(); err != nil {
		return nil, &EncodingError{Input: path, Err: fmt.Errorf("inference failed: %w", err)}
	}
	return s.readOutput(path, s.vision.output)
}

func (s *ONNXSource) readOutput(input string, out *ort.Tensor[float32]) ([]float32, error) {
	emb := make([]float32, s.dimensions)
	copy(emb, out.GetData())
	if !utils.NormalizeL2InPlace(emb) {
		return nil, &EncodingError{Input: input, Err: errors.New("model produced a degenerate embedding")}
	}
	return emb, nil
}

// SetModel loads a different model's encoders. The output dimension must match.
func (s *ONNXSource) SetModel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == s.model {
		return nil
	}
	return s.load(name)
}

// Model returns the loaded model name.
func (s *ONNXSource) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Dimensions returns the embedding dimension.
func (s *ONNXSource) Dimensions() int {
	return s.dimensions
}

// Close destroys the sessions and tensors.
func (s *ONNXSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.text != nil {
		err = s.text.destroy()
		s.text = nil
	}
	if s.vision != nil {
		err = errors.Join(err, s.vision.destroy())
		s.vision = nil
	}
	return err
}

func (t *textEncoder) destroy() error {
	if t == nil {
		return nil
	}
	var err error
	if t.session != nil {
		err = t.session.Destroy()
	}
	_ = t.inputIDs.Destroy()
	_ = t.attentionMask.Destroy()
	_ = t.output.Destroy()
	return err
}

func (v *visionEncoder) destroy() error {
	if v == nil {
		return nil
	}
	var err error
	if v.session != nil {
		err = v.session.Destroy()
	}
	_ = v.pixels.Destroy()
	_ = v.output.Destroy()
	return err
}
