//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// ONNXProvider stub type when built without CGO (see onnx.go for real implementation).
type ONNXProvider struct{}

// NewONNXProvider returns an error when built without CGO (ONNX not available).
func NewONNXProvider(_ string, _, _ int) (*ONNXProvider, error) {
	return nil, errors.New("ONNX embedding provider requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (*ONNXProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("ONNX embedding provider unavailable")
}

func (*ONNXProvider) Dimensions() int { return 0 }
func (*ONNXProvider) Name() string    { return ProviderONNX }
func (*ONNXProvider) Close() error    { return nil }
