// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package affine computes, layer by layer, the exact affine map from a
// piecewise-linear network's input to a convolution layer's pre-activation.
//
// Example:
//
//	g := affine.PropagateConv2D(backend, x, nil, kernel, bias, tensor.NewConv2DParams(1, 1))
//	coeffs, b := g.Hyperplane(0, 0, 0, 0) // boundary of neuron (0, 0, 0, 0): coeffs·x + b = 0
package affine

import (
	"github.com/born-ml/linregion/internal/affine"
	"github.com/born-ml/linregion/tensor"
)

// Graph is the affine map Weight·x + Bias from the free variable x to one
// layer's pre-activation.
type Graph = affine.Graph

// PropagateConv2D computes the graph leaving a 2D convolution from the graph
// g entering it (nil when x itself is the free variable). It panics on
// inconsistent shapes, dtypes or devices.
func PropagateConv2D(b tensor.Backend, x *tensor.RawTensor, g *Graph, kernel, bias *tensor.RawTensor, params tensor.Conv2DParams) *Graph {
	return affine.PropagateConv2D(b, x, g, kernel, bias, params)
}

// Identity returns the graph of the free variable x itself.
func Identity(b tensor.Backend, x *tensor.RawTensor) *Graph {
	return affine.Identity(b, x)
}
