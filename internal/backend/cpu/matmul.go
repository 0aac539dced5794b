package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/born-ml/linregion/internal/parallel"
	"github.com/born-ml/linregion/internal/tensor"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N)
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]

	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}
	checkSameDType("matmul", a, b)

	result := cpu.alloc("matmul", tensor.Shape{m, n}, a.DType())
	switch a.DType() {
	case tensor.Float32:
		gemm(false, false, m, n, k, a.AsFloat32(), b.AsFloat32(), result.AsFloat32())
	case tensor.Float64:
		gemm(false, false, m, n, k, a.AsFloat64(), b.AsFloat64(), result.AsFloat64())
	}
	return result
}

// BatchMatMul performs batched matrix multiplication.
//
//	[B, M, K] @ [B, K, N] -> [B, M, N]
//	[B, M, K] @ [K, N]    -> [B, M, N]
//
// In the second form the right operand is shared by every batch entry.
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 3 {
		panic(fmt.Sprintf("BatchMatMul: left operand must be 3D, got %dD", len(aShape)))
	}
	if len(bShape) != 3 && len(bShape) != 2 {
		panic(fmt.Sprintf("BatchMatMul: right operand must be 2D or 3D, got %dD", len(bShape)))
	}
	checkSameDType("BatchMatMul", a, b)

	batchSize, m, k1 := aShape[0], aShape[1], aShape[2]
	shared := len(bShape) == 2
	var k2, n int
	if shared {
		k2, n = bShape[0], bShape[1]
	} else {
		if bShape[0] != batchSize {
			panic(fmt.Sprintf("BatchMatMul: batch dimension mismatch: %d vs %d", batchSize, bShape[0]))
		}
		k2, n = bShape[1], bShape[2]
	}
	if k1 != k2 {
		panic(fmt.Sprintf("BatchMatMul: inner dimension mismatch: %d vs %d", k1, k2))
	}

	result := cpu.alloc("BatchMatMul", tensor.Shape{batchSize, m, n}, a.DType())
	switch a.DType() {
	case tensor.Float32:
		batchMatmulFloat(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), batchSize, m, k1, n, shared, cpu.parallel)
	case tensor.Float64:
		batchMatmulFloat(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), batchSize, m, k1, n, shared, cpu.parallel)
	}
	return result
}

func batchMatmulFloat[T tensor.Float](c, a, b []T, batchSize, m, k, n int, shared bool, cfg parallel.Config) {
	matrixSizeA := m * k
	matrixSizeB := k * n
	matrixSizeC := m * n

	if shared {
		// One GEMM over the stacked left operands: [B*M, K] @ [K, N].
		gemm(false, false, batchSize*m, n, k, a, b, c)
		return
	}
	parallel.For(batchSize, func(batch int) {
		gemm(false, false, m, n, k,
			a[batch*matrixSizeA:(batch+1)*matrixSizeA],
			b[batch*matrixSizeB:(batch+1)*matrixSizeB],
			c[batch*matrixSizeC:(batch+1)*matrixSizeC])
	}, cfg.WithMinChunkSize(1))
}

// gemm computes c = op(a) @ op(b) for densely packed row-major matrices,
// where op(a) is (m, k) and op(b) is (k, n). A transposed operand is stored
// with its dimensions swapped.
func gemm[T tensor.Float](transA, transB bool, m, n, k int, a, b, c []T) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(c[:m*n])
		return
	}
	aRows, aCols := m, k
	if transA {
		aRows, aCols = k, m
	}
	bRows, bCols := k, n
	if transB {
		bRows, bCols = n, k
	}

	switch a := any(a).(type) {
	case []float32:
		blas32.Gemm(transpose(transA), transpose(transB), 1,
			blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: a},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float32)},
			0,
			blas32.General{Rows: m, Cols: n, Stride: n, Data: any(c).([]float32)})
	case []float64:
		blas64.Gemm(transpose(transA), transpose(transB), 1,
			blas64.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: a},
			blas64.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float64)},
			0,
			blas64.General{Rows: m, Cols: n, Stride: n, Data: any(c).([]float64)})
	}
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}
