// Package cpu implements the CPU backend: pure Go kernels, with matrix
// products delegated to gonum BLAS.
package cpu

import (
	"fmt"

	"github.com/born-ml/linregion/internal/parallel"
	"github.com/born-ml/linregion/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
//
// It holds no mutable state and is safe for concurrent use.
type CPUBackend struct {
	device   tensor.Device
	parallel parallel.Config
}

// New creates a new CPU backend using one worker per CPU.
func New() *CPUBackend {
	return NewWithParallel(parallel.DefaultConfig())
}

// NewWithParallel creates a CPU backend with the given worker configuration.
func NewWithParallel(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device:   tensor.CPU,
		parallel: cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// alloc creates a zero-filled result tensor on the backend's device.
func (cpu *CPUBackend) alloc(op string, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return result
}

// Add performs element-wise addition of two tensors of the same shape.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("add: shape mismatch %v vs %v", a.Shape(), b.Shape()))
	}
	checkSameDType("add", a, b)

	result := cpu.alloc("add", a.Shape(), a.DType())
	switch a.DType() {
	case tensor.Float32:
		addFloat(result.AsFloat32(), a.AsFloat32(), b.AsFloat32())
	case tensor.Float64:
		addFloat(result.AsFloat64(), a.AsFloat64(), b.AsFloat64())
	}
	return result
}

func addFloat[T tensor.Float](dst, a, b []T) {
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
}

func checkSameDType(op string, tensors ...*tensor.RawTensor) {
	for _, t := range tensors[1:] {
		if t.DType() != tensors[0].DType() {
			panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", op, tensors[0].DType(), t.DType()))
		}
	}
}
