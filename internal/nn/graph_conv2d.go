package nn

import (
	"github.com/born-ml/linregion/internal/affine"
	"github.com/born-ml/linregion/internal/tensor"
)

// GraphConv2D adds affine-graph propagation to a Conv2D.
//
// The convolution itself is untouched: GraphConv2D hands the layer's kernel,
// bias, stride and padding to affine.PropagateConv2D as explicit arguments.
// Graph mode is on by default.
//
// Example:
//
//	layer := nn.NewGraphConv2D(conv)
//	out, g := layer.ForwardGraph(x, nil)   // first layer: x is the free variable
//	out2, g2 := next.ForwardGraph(out, g)
type GraphConv2D[T tensor.Float, B tensor.Backend] struct {
	conv      *Conv2D[T, B]
	graphMode bool
}

// NewGraphConv2D wraps conv, with graph mode enabled.
func NewGraphConv2D[T tensor.Float, B tensor.Backend](conv *Conv2D[T, B]) *GraphConv2D[T, B] {
	return &GraphConv2D[T, B]{conv: conv, graphMode: true}
}

// Conv returns the wrapped convolution.
func (l *GraphConv2D[T, B]) Conv() *Conv2D[T, B] {
	return l.conv
}

// SetGraphMode turns graph propagation on or off.
func (l *GraphConv2D[T, B]) SetGraphMode(enabled bool) {
	l.graphMode = enabled
}

// GraphMode reports whether ForwardGraph propagates graphs.
func (l *GraphConv2D[T, B]) GraphMode() bool {
	return l.graphMode
}

// Forward is the plain convolution.
func (l *GraphConv2D[T, B]) Forward(input *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	return l.conv.Forward(input)
}

// Parameters returns the wrapped convolution's parameters.
func (l *GraphConv2D[T, B]) Parameters() []*Parameter[T, B] {
	return l.conv.Parameters()
}

// ForwardGraph returns the layer output and, in graph mode, the graph of the
// output computed from g, the graph of input (nil for the first layer).
func (l *GraphConv2D[T, B]) ForwardGraph(input *tensor.Tensor[T, B], g *affine.Graph) (*tensor.Tensor[T, B], *affine.Graph) {
	output := l.conv.Forward(input)
	if !l.graphMode {
		return output, nil
	}
	c := l.conv
	return output, affine.PropagateConv2D(c.backend, input.Raw(), g, c.weight.Raw(), c.bias.Raw(), c.params)
}

// String returns a string representation of the layer.
func (l *GraphConv2D[T, B]) String() string {
	return "Graph" + l.conv.String()
}
