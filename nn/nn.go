// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand/v2"

	"github.com/born-ml/linregion/internal/nn"
	"github.com/born-ml/linregion/internal/tensor"
)

// Module is the base interface for layers.
type Module[T tensor.Float, B tensor.Backend] = nn.Module[T, B]

// GraphModule is a module that also carries the affine graph of its input
// through to its output.
type GraphModule[T tensor.Float, B tensor.Backend] = nn.GraphModule[T, B]

// Parameter is a named learned tensor of a layer.
type Parameter[T tensor.Float, B tensor.Backend] = nn.Parameter[T, B]

// Conv2D represents a 2D convolutional layer.
type Conv2D[T tensor.Float, B tensor.Backend] = nn.Conv2D[T, B]

// NewConv2D creates a new 2D convolutional layer with Xavier initialization.
//
// Example:
//
//	conv := nn.NewConv2D[float64](1, 32, 3, 3, tensor.NewConv2DParams(1, 1), true, rng, backend)
func NewConv2D[T tensor.Float, B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	params tensor.Conv2DParams,
	useBias bool,
	rng *rand.Rand,
	backend B,
) *Conv2D[T, B] {
	return nn.NewConv2D[T](inChannels, outChannels, kernelH, kernelW, params, useBias, rng, backend)
}

// NewConv2DFromWeights creates a layer from an existing kernel and optional bias (nil for none).
func NewConv2DFromWeights[T tensor.Float, B tensor.Backend](weight, bias *tensor.Tensor[T, B], params tensor.Conv2DParams) *Conv2D[T, B] {
	return nn.NewConv2DFromWeights(weight, bias, params)
}

// GraphConv2D wraps a Conv2D with affine-graph propagation.
type GraphConv2D[T tensor.Float, B tensor.Backend] = nn.GraphConv2D[T, B]

// NewGraphConv2D wraps conv, with graph mode enabled.
func NewGraphConv2D[T tensor.Float, B tensor.Backend](conv *Conv2D[T, B]) *GraphConv2D[T, B] {
	return nn.NewGraphConv2D(conv)
}

// Stack chains graph-aware layers.
type Stack[T tensor.Float, B tensor.Backend] = nn.Stack[T, B]

// Trace is the output and graph of one layer of a Stack.
type Trace[T tensor.Float, B tensor.Backend] = nn.Trace[T, B]

// NewStack creates a stack of the given layers, applied in order.
func NewStack[T tensor.Float, B tensor.Backend](layers ...GraphModule[T, B]) *Stack[T, B] {
	return nn.NewStack(layers...)
}
