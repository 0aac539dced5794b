// Package nn implements the convolution layer and its affine-graph capability.
//
// This package provides:
//   - Conv2D: a standard 2D convolution owning its kernel, bias, stride and padding
//   - GraphConv2D: wraps a Conv2D and, in graph mode, also propagates the
//     affine map from the network input to the layer output
//   - Stack: an ordered chain of graph-aware convolutions
//
// The propagation itself lives in the stateless affine package; layers only
// hand it their parameters.
package nn

import (
	"github.com/born-ml/linregion/internal/affine"
	"github.com/born-ml/linregion/internal/tensor"
)

// Module is the base interface for layers.
type Module[T tensor.Float, B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[T, B]) *tensor.Tensor[T, B]

	// Parameters returns the learned parameters of this module.
	Parameters() []*Parameter[T, B]
}

// GraphModule is a module that can also carry the affine graph of its input
// through to its output.
//
// g is the graph of the module's input (nil when the input is the free
// variable itself). The returned graph is nil when graph mode is off.
type GraphModule[T tensor.Float, B tensor.Backend] interface {
	ForwardGraph(input *tensor.Tensor[T, B], g *affine.Graph) (*tensor.Tensor[T, B], *affine.Graph)
}
