// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the tensor types used to track affine maps
// through convolution layers.
//
// # Overview
//
// This package provides:
//   - Generic type-safe tensors (Tensor[T, B]) over float32 and float64
//   - RawTensor: the untyped storage backends compute on
//   - Backend: the operations a compute device must provide
//   - Conv2DParams: per-axis stride and padding of a convolution
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/linregion/backend/cpu"
//	    "github.com/born-ml/linregion/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    rng := rand.New(rand.NewPCG(1, 2))
//	    x := tensor.Randn[float64](tensor.Shape{1, 1, 6, 6}, rng, backend)
//	}
//
// # Device Placement
//
// Every tensor records the device it lives on. A backend allocates all of
// its results on the device it reports, and refuses inputs placed elsewhere.
package tensor
