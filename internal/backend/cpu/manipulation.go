package cpu

import (
	"fmt"

	"github.com/born-ml/linregion/internal/tensor"
)

// Reshape returns a copy of t with a new shape holding the same number of elements.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape(), t.NumElements(), newShape, newShape.NumElements()))
	}
	result := cpu.alloc("reshape", newShape, t.DType())
	copy(result.Data(), t.Data())
	return result
}

// Transpose permutes the axes of t: result axis i is t's axis axes[i].
// Without axes it reverses the axis order.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("transpose: expected %d axes, got %d", rank, len(axes)))
	}
	seen := make([]bool, rank)
	newShape := make(tensor.Shape, rank)
	for i, ax := range axes {
		if ax < 0 || ax >= rank || seen[ax] {
			panic(fmt.Sprintf("transpose: axes %v are not a permutation of %d axes", axes, rank))
		}
		seen[ax] = true
		newShape[i] = shape[ax]
	}

	result := cpu.alloc("transpose", newShape, t.DType())
	srcStrides := t.Strides()
	permStrides := make([]int, rank)
	for i, ax := range axes {
		permStrides[i] = srcStrides[ax]
	}
	switch t.DType() {
	case tensor.Float32:
		gatherStrided(result.AsFloat32(), t.AsFloat32(), newShape, permStrides)
	case tensor.Float64:
		gatherStrided(result.AsFloat64(), t.AsFloat64(), newShape, permStrides)
	}
	return result
}

// Expand broadcasts x to shape: shapes are aligned from the right, missing
// leading axes and axes of size 1 are repeated.
func (cpu *CPUBackend) Expand(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	xShape := x.Shape()
	if len(newShape) < len(xShape) {
		panic(fmt.Sprintf("expand: new shape %v has fewer dimensions than input shape %v",
			newShape, xShape))
	}

	offset := len(newShape) - len(xShape)
	xStrides := x.Strides()
	srcStrides := make([]int, len(newShape)) // zero on broadcast axes
	for i := range xShape {
		xDim := xShape[i]
		newDim := newShape[offset+i]
		switch {
		case xDim == newDim:
			srcStrides[offset+i] = xStrides[i]
		case xDim == 1:
		default:
			panic(fmt.Sprintf("expand: cannot expand dimension %d from %d to %d", i, xDim, newDim))
		}
	}

	result := cpu.alloc("expand", newShape, x.DType())
	switch x.DType() {
	case tensor.Float32:
		gatherStrided(result.AsFloat32(), x.AsFloat32(), newShape, srcStrides)
	case tensor.Float64:
		gatherStrided(result.AsFloat64(), x.AsFloat64(), newShape, srcStrides)
	}
	return result
}

// gatherStrided fills dst (row-major over shape) reading src at the offset
// given by the per-axis srcStrides.
func gatherStrided[T tensor.Float](dst, src []T, shape tensor.Shape, srcStrides []int) {
	rank := len(shape)
	coords := make([]int, rank)
	srcOff := 0
	for i := range dst {
		dst[i] = src[srcOff]
		for ax := rank - 1; ax >= 0; ax-- {
			coords[ax]++
			srcOff += srcStrides[ax]
			if coords[ax] < shape[ax] {
				break
			}
			srcOff -= srcStrides[ax] * shape[ax]
			coords[ax] = 0
		}
	}
}

// Narrow copies out the block of x selected by one range per axis.
//
//	Narrow(x[4, 6], {1, 3}, {0, 6}) → rows 1 and 2 of x, shape [2, 6]
func (cpu *CPUBackend) Narrow(x *tensor.RawTensor, ranges ...tensor.Range) *tensor.RawTensor {
	shape := x.Shape()
	if len(ranges) != len(shape) {
		panic(fmt.Sprintf("narrow: expected %d ranges for shape %v, got %d", len(shape), shape, len(ranges)))
	}
	block := make(tensor.Shape, len(shape))
	offsets := make([]int, len(shape))
	for i, r := range ranges {
		if r.Start < 0 || r.End > shape[i] || r.Empty() {
			panic(fmt.Sprintf("narrow: range [%d, %d) invalid for axis %d of shape %v", r.Start, r.End, i, shape))
		}
		block[i] = r.Len()
		offsets[i] = r.Start
	}

	result := cpu.alloc("narrow", block, x.DType())
	srcBase := flatOffset(x.Strides(), offsets)
	dstData, srcData := result.Data(), x.Data()
	size := x.DType().Size()
	walkBlock(block, result.Strides(), 0, x.Strides(), srcBase, func(dstOff, srcOff, n int) {
		copy(dstData[dstOff*size:(dstOff+n)*size], srcData[srcOff*size:(srcOff+n)*size])
	})
	return result
}

// AccumulateAt adds src into the block of dst starting at offsets, in place.
func (cpu *CPUBackend) AccumulateAt(dst, src *tensor.RawTensor, offsets ...int) {
	checkBlock("accumulate", dst, src, offsets)
	dstBase := flatOffset(dst.Strides(), offsets)
	switch dst.DType() {
	case tensor.Float32:
		accumulateBlock(dst.AsFloat32(), src.AsFloat32(), src.Shape(), dst.Strides(), dstBase, src.Strides())
	case tensor.Float64:
		accumulateBlock(dst.AsFloat64(), src.AsFloat64(), src.Shape(), dst.Strides(), dstBase, src.Strides())
	}
}

func accumulateBlock[T tensor.Float](dst, src []T, block tensor.Shape, dstStrides []int, dstBase int, srcStrides []int) {
	walkBlock(block, dstStrides, dstBase, srcStrides, 0, func(dstOff, srcOff, n int) {
		d := dst[dstOff : dstOff+n]
		for i, v := range src[srcOff : srcOff+n] {
			d[i] += v
		}
	})
}

// AssignAt overwrites the block of dst starting at offsets with src, in place.
func (cpu *CPUBackend) AssignAt(dst, src *tensor.RawTensor, offsets ...int) {
	checkBlock("assign", dst, src, offsets)
	dstBase := flatOffset(dst.Strides(), offsets)
	dstData, srcData := dst.Data(), src.Data()
	size := dst.DType().Size()
	walkBlock(src.Shape(), dst.Strides(), dstBase, src.Strides(), 0, func(dstOff, srcOff, n int) {
		copy(dstData[dstOff*size:(dstOff+n)*size], srcData[srcOff*size:(srcOff+n)*size])
	})
}

func checkBlock(op string, dst, src *tensor.RawTensor, offsets []int) {
	dstShape, srcShape := dst.Shape(), src.Shape()
	if len(srcShape) != len(dstShape) || len(offsets) != len(dstShape) {
		panic(fmt.Sprintf("%s: block %v with offsets %v does not match rank of %v", op, srcShape, offsets, dstShape))
	}
	for i := range dstShape {
		if offsets[i] < 0 || offsets[i]+srcShape[i] > dstShape[i] {
			panic(fmt.Sprintf("%s: block %v at offsets %v overflows %v", op, srcShape, offsets, dstShape))
		}
	}
	checkSameDType(op, dst, src)
}

func flatOffset(strides, offsets []int) int {
	off := 0
	for i, o := range offsets {
		off += o * strides[i]
	}
	return off
}

// walkBlock calls fn once per contiguous run (the innermost axis) of a block,
// with the flat element offsets of the run in the destination and source.
func walkBlock(block tensor.Shape, dstStrides []int, dstBase int, srcStrides []int, srcBase int, fn func(dstOff, srcOff, n int)) {
	rank := len(block)
	if rank == 0 {
		fn(dstBase, srcBase, 1)
		return
	}
	runLen := block[rank-1]
	outer := block[:rank-1]
	coords := make([]int, len(outer))
	dstOff, srcOff := dstBase, srcBase
	for {
		fn(dstOff, srcOff, runLen)
		ax := len(outer) - 1
		for ; ax >= 0; ax-- {
			coords[ax]++
			dstOff += dstStrides[ax]
			srcOff += srcStrides[ax]
			if coords[ax] < outer[ax] {
				break
			}
			dstOff -= dstStrides[ax] * outer[ax]
			srcOff -= srcStrides[ax] * outer[ax]
			coords[ax] = 0
		}
		if ax < 0 {
			return
		}
	}
}
