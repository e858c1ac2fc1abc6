package embedding

import (
	"github.com/hyperjump/gazou/pkg/utils"
	"go.uber.org/zap"
)

// New returns an ONNX source for cfg, or a MockSource when ONNX Runtime or the
// model files are unavailable.
func New(cfg Config, logger *zap.Logger) Source {
	logger = utils.OrNop(logger)
	src, err := NewONNXSource(cfg)
	if err != nil {
		logger.Warn("ONNX embedding unavailable, falling back to mock embeddings",
			zap.String("model", cfg.Model),
			zap.String("model_dir", cfg.ModelDir),
			zap.Error(err))
		return NewMockSource(cfg.Model, cfg.Dimensions)
	}
	logger.Info("ONNX embedding source loaded",
		zap.String("model", cfg.Model),
		zap.Int("dimensions", cfg.Dimensions))
	return src
}
