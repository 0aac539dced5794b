package nn

import (
	"math/rand/v2"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/linregion/internal/backend/cpu"
	"github.com/born-ml/linregion/internal/tensor"
)

func newRNG() *rand.Rand {
	return rand.New(rand.NewPCG(42, 0))
}

// TestConv2D_Creation tests Conv2D layer creation.
func TestConv2D_Creation(t *testing.T) {
	backend := cpu.New()

	// Create Conv2D: 1 -> 6 channels, 5x5 kernel
	conv := NewConv2D[float32](1, 6, 5, 5, tensor.NewConv2DParams(1, 0), true, newRNG(), backend)

	assert.Equal(t, 1, conv.InChannels())
	assert.Equal(t, 6, conv.OutChannels())
	assert.Equal(t, [2]int{5, 5}, conv.KernelSize())
	assert.Equal(t, tensor.NewConv2DParams(1, 0), conv.Params())
	assert.Equal(t, tensor.Shape{6, 1, 5, 5}, conv.Weight().Tensor().Shape())
	assert.Equal(t, tensor.Shape{6}, conv.Bias().Tensor().Shape())
	assert.Len(t, conv.Parameters(), 2)
	assert.Equal(t, "conv2d.weight", conv.Parameters()[0].Name())

	// Xavier bound: sqrt(6 / (25 + 150))
	for _, v := range conv.Weight().Tensor().Data() {
		require.Less(t, float64(v), 0.186)
		require.Greater(t, float64(v), -0.186)
	}

	noBias := NewConv2D[float32](1, 6, 5, 5, tensor.NewConv2DParams(1, 0), false, newRNG(), backend)
	assert.Nil(t, noBias.Bias())
	assert.Len(t, noBias.Parameters(), 1)
}

func TestConv2D_InvalidConfig(t *testing.T) {
	backend := cpu.New()
	assert.Panics(t, func() {
		NewConv2D[float64](0, 1, 3, 3, tensor.NewConv2DParams(1, 0), true, newRNG(), backend)
	})
	assert.Panics(t, func() {
		NewConv2D[float64](1, 1, 0, 3, tensor.NewConv2DParams(1, 0), true, newRNG(), backend)
	})
	assert.Panics(t, func() {
		NewConv2D[float64](1, 1, 3, 3, tensor.NewConv2DParams(0, 0), true, newRNG(), backend)
	})

	weight := tensor.Zeros[float64](tensor.Shape{2, 1, 3, 3}, backend)
	assert.Panics(t, func() {
		NewConv2DFromWeights(weight, tensor.Zeros[float64](tensor.Shape{3}, backend), tensor.NewConv2DParams(1, 0))
	})
	assert.Panics(t, func() {
		NewConv2DFromWeights(tensor.Zeros[float64](tensor.Shape{2, 3}, backend), nil, tensor.NewConv2DParams(1, 0))
	})
}

// TestConv2D_ForwardShape tests forward pass output shape.
func TestConv2D_ForwardShape(t *testing.T) {
	backend := cpu.New()

	// Conv2D: 1 -> 6 channels, 5x5 kernel, stride=1, padding=0
	conv := NewConv2D[float32](1, 6, 5, 5, tensor.NewConv2DParams(1, 0), true, newRNG(), backend)

	// Input: [2, 1, 28, 28] (like MNIST batch of 2)
	input := tensor.Zeros[float32](tensor.Shape{2, 1, 28, 28}, backend)
	output := conv.Forward(input)
	assert.Equal(t, tensor.Shape{2, 6, 24, 24}, output.Shape())

	assert.Panics(t, func() { conv.Forward(tensor.Zeros[float32](tensor.Shape{2, 3, 28, 28}, backend)) })
	assert.Panics(t, func() { conv.Forward(tensor.Zeros[float32](tensor.Shape{28, 28}, backend)) })
}

// TestConv2D_ForwardValues tests forward pass with known weights.
func TestConv2D_ForwardValues(t *testing.T) {
	backend := cpu.New()

	// 1 2 3
	// 4 5 6
	// 7 8 9
	input := must.M1(tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, tensor.Shape{1, 1, 3, 3}, backend))
	// Diagonal kernel:
	// 1 0
	// 0 1
	weight := must.M1(tensor.FromSlice([]float64{1, 0, 0, 1}, tensor.Shape{1, 1, 2, 2}, backend))
	conv := NewConv2DFromWeights(weight, nil, tensor.NewConv2DParams(1, 0))

	output := conv.Forward(input)
	assert.Equal(t, []float64{6, 8, 12, 14}, output.Data())
}

// TestConv2D_WithBias tests that the bias is added per output channel.
func TestConv2D_WithBias(t *testing.T) {
	backend := cpu.New()

	input := tensor.Full[float64](tensor.Shape{1, 1, 2, 2}, 1, backend)
	weight := tensor.Full[float64](tensor.Shape{2, 1, 2, 2}, 1, backend)
	bias := must.M1(tensor.FromSlice([]float64{0.5, -4}, tensor.Shape{2}, backend))
	conv := NewConv2DFromWeights(weight, bias, tensor.NewConv2DParams(1, 0))

	output := conv.Forward(input)
	assert.Equal(t, tensor.Shape{1, 2, 1, 1}, output.Shape())
	assert.Equal(t, []float64{4.5, 0}, output.Data())
}

// TestConv2D_ComputeOutputSize tests output size computation.
func TestConv2D_ComputeOutputSize(t *testing.T) {
	backend := cpu.New()

	tests := []struct {
		name     string
		params   tensor.Conv2DParams
		kernel   int
		inputH   int
		inputW   int
		expected [2]int
	}{
		{"5x5 no padding", tensor.NewConv2DParams(1, 0), 5, 28, 28, [2]int{24, 24}},
		{"3x3 same padding", tensor.NewConv2DParams(1, 1), 3, 28, 28, [2]int{28, 28}},
		{"stride 2", tensor.NewConv2DParams(2, 0), 2, 28, 28, [2]int{14, 14}},
		{"per axis", tensor.Conv2DParams{Stride: [2]int{2, 1}, Padding: [2]int{1, 0}}, 3, 7, 5, [2]int{4, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := NewConv2D[float32](1, 1, tt.kernel, tt.kernel, tt.params, false, newRNG(), backend)
			assert.Equal(t, tt.expected, conv.ComputeOutputSize(tt.inputH, tt.inputW))
		})
	}
}

func TestConv2D_String(t *testing.T) {
	conv := NewConv2D[float64](3, 8, 3, 3, tensor.NewConv2DParams(1, 1), true, newRNG(), cpu.New())
	assert.Equal(t, "Conv2D(in_channels=3, out_channels=8, kernel_size=(3, 3), stride=(1, 1), padding=(1, 1), bias=true)", conv.String())
}
