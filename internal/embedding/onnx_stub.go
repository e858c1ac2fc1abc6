//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"
)

// ONNXSource stub type when built without CGO (see onnx.go for real implementation).
type ONNXSource struct {
	Source
}

// NewONNXSource returns an error when built without CGO (ONNX not available).
func NewONNXSource(_ Config) (*ONNXSource, error) {
	return nil, errors.New("ONNX source requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
