package tensor

// Backend defines the interface that compute backends must implement.
// Backends handle the actual computation for tensor operations and allocate
// every result on the Device they report.
//
// Implementations:
//   - CPU: Pure Go, matrix products on gonum BLAS
type Backend interface {
	// Element-wise operations
	Add(a, b *RawTensor) *RawTensor

	// Matrix operations
	MatMul(a, b *RawTensor) *RawTensor

	// BatchMatMul performs batched matrix multiplication.
	// [B, M, K] @ [B, K, N] -> [B, M, N]
	// [B, M, K] @ [K, N]    -> [B, M, N] (right operand shared by every batch)
	BatchMatMul(a, b *RawTensor) *RawTensor

	// Convolutional operations
	Conv2D(input, kernel *RawTensor, params Conv2DParams) *RawTensor
	AddChannelBias(x, bias *RawTensor) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Expand(x *RawTensor, shape Shape) *RawTensor

	// Block operations. Narrow copies out the sub-block selected by one
	// Range per axis. AccumulateAt and AssignAt write src into dst starting
	// at offsets, in place.
	Narrow(x *RawTensor, ranges ...Range) *RawTensor
	AccumulateAt(dst, src *RawTensor, offsets ...int)
	AssignAt(dst, src *RawTensor, offsets ...int)

	// Metadata
	Name() string
	Device() Device
}
