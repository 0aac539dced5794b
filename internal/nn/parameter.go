package nn

import (
	"github.com/born-ml/linregion/internal/tensor"
)

// Parameter represents a learned tensor of a layer, such as a convolution
// kernel or its bias.
//
// Example:
//
//	weight := nn.NewParameter("conv2d.weight", weightTensor)
//	w := weight.Tensor()
type Parameter[T tensor.Float, B tensor.Backend] struct {
	name   string               // Parameter name (e.g., "weight", "bias")
	tensor *tensor.Tensor[T, B] // The parameter tensor
}

// NewParameter creates a new named parameter.
func NewParameter[T tensor.Float, B tensor.Backend](name string, t *tensor.Tensor[T, B]) *Parameter[T, B] {
	return &Parameter[T, B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[T, B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[T, B]) Tensor() *tensor.Tensor[T, B] {
	return p.tensor
}

// Raw returns the parameter's underlying RawTensor, or nil for a nil parameter.
func (p *Parameter[T, B]) Raw() *tensor.RawTensor {
	if p == nil {
		return nil
	}
	return p.tensor.Raw()
}
