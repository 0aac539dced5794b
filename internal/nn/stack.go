package nn

import (
	"fmt"

	"github.com/born-ml/linregion/internal/affine"
	"github.com/born-ml/linregion/internal/tensor"
)

// Trace is what one layer of a Stack produced: its output and the graph of
// that output as a function of the stack's input.
type Trace[T tensor.Float, B tensor.Backend] struct {
	Output *tensor.Tensor[T, B]
	Graph  *affine.Graph
}

// Stack chains graph-aware layers with no nonlinearity between them, so the
// graph of every layer output is exact over the whole input space.
//
// Example:
//
//	stack := nn.NewStack[float64, *cpu.CPUBackend](
//	    nn.NewGraphConv2D(conv1),
//	    nn.NewGraphConv2D(conv2),
//	)
//	traces := stack.Forward(x)
//	last := traces[len(traces)-1].Graph
type Stack[T tensor.Float, B tensor.Backend] struct {
	layers []GraphModule[T, B]
}

// NewStack creates a stack of the given layers, applied in order.
func NewStack[T tensor.Float, B tensor.Backend](layers ...GraphModule[T, B]) *Stack[T, B] {
	return &Stack[T, B]{layers: layers}
}

// Add appends a layer to the stack.
func (s *Stack[T, B]) Add(layer GraphModule[T, B]) {
	s.layers = append(s.layers, layer)
}

// Len returns the number of layers.
func (s *Stack[T, B]) Len() int {
	return len(s.layers)
}

// Layer returns the i-th layer.
func (s *Stack[T, B]) Layer(i int) GraphModule[T, B] {
	if i < 0 || i >= len(s.layers) {
		panic(fmt.Sprintf("stack: layer index %d out of range [0, %d)", i, len(s.layers)))
	}
	return s.layers[i]
}

// Forward applies every layer in order, threading both the output and the
// graph: the first layer starts from no graph (input is the free variable),
// every next one from the graph its predecessor returned. A layer with graph
// mode off returns no graph, so the layer after it starts a new chain with
// its own input as the free variable.
//
// Returns one Trace per layer.
func (s *Stack[T, B]) Forward(input *tensor.Tensor[T, B]) []Trace[T, B] {
	traces := make([]Trace[T, B], 0, len(s.layers))
	output := input
	var g *affine.Graph
	for _, layer := range s.layers {
		output, g = layer.ForwardGraph(output, g)
		traces = append(traces, Trace[T, B]{Output: output, Graph: g})
	}
	return traces
}
