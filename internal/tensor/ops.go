package tensor

// Add performs element-wise addition of two tensors of the same shape.
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Add(t.raw, other.raw), t.backend)
}

// MatMul performs matrix multiplication.
//
//	(M, K) @ (K, N) -> (M, N)
//	(B, M, K) @ (B, K, N) -> (B, M, N)
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	if len(t.Shape()) == 3 {
		return New[T, B](t.backend.BatchMatMul(t.raw, other.raw), t.backend)
	}
	return New[T, B](t.backend.MatMul(t.raw, other.raw), t.backend)
}

// Reshape returns a tensor with the same elements and a new shape.
//
// Example:
//
//	t := tensor.Zeros[float64](Shape{2, 1, 3, 3}, backend)
//	flat := t.Reshape(2, 9)
func (t *Tensor[T, B]) Reshape(newShape ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Reshape(t.raw, newShape), t.backend)
}

// Transpose permutes the axes. Without axes it reverses them.
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Transpose(t.raw, axes...), t.backend)
}
