// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/linregion/internal/tensor"

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations and allocate
// every result on the device they report.
//
// Implementations:
//   - backend/cpu: Pure Go, matrix products on gonum BLAS
type Backend = tensor.Backend

// Conv2DParams holds the per-axis stride and padding of a 2D convolution.
type Conv2DParams = tensor.Conv2DParams

// NewConv2DParams returns the same stride and padding on both axes.
func NewConv2DParams(stride, padding int) Conv2DParams {
	return tensor.NewConv2DParams(stride, padding)
}

// Range is a half-open index range [Start, End) along one axis.
type Range = tensor.Range

// All returns the range covering a whole axis of size n.
func All(n int) Range {
	return tensor.All(n)
}
