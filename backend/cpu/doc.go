// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go CPU backend for tensor operations.
//
// # Overview
//
// This package implements a CPU backend with:
//   - Pure Go implementation (no CGO)
//   - Im2col convolutions with per-axis stride and padding
//   - Matrix products on gonum BLAS
//   - Float32 and Float64 support
//
// Every result is allocated on tensor.CPU.
//
// # Thread Safety
//
// The CPU backend holds no mutable state and is safe for concurrent use.
// The in-place block operations (AccumulateAt, AssignAt) must not be called
// concurrently on the same destination.
package cpu
