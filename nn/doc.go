// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the convolution layer and its affine-graph capability.
//
// # Overview
//
// This package contains:
//   - Conv2D: a 2D convolution with kernel, optional bias, stride and padding
//   - GraphConv2D: a Conv2D that also propagates the affine graph from the
//     network input to its output
//   - Stack: an ordered chain of GraphConv2D layers
//
// # Basic Usage
//
//	backend := cpu.New()
//	rng := rand.New(rand.NewPCG(1, 2))
//	stack := nn.NewStack[float64, *cpu.Backend](
//	    nn.NewGraphConv2D(nn.NewConv2D[float64](1, 4, 3, 3, tensor.NewConv2DParams(1, 1), true, rng, backend)),
//	    nn.NewGraphConv2D(nn.NewConv2D[float64](4, 4, 3, 3, tensor.NewConv2DParams(2, 1), true, rng, backend)),
//	)
//	traces := stack.Forward(x)
//	g := traces[len(traces)-1].Graph // affine map from x to the last output
package nn
