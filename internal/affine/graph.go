// Package affine tracks, layer by layer, the exact affine map from a
// piecewise-linear network's input (the free variable) to a layer's
// pre-activation values.
//
// The map is held symbolically as a Graph: a weight graph with one
// coefficient per (output position, free-variable element) and a bias graph
// with the constant term of every output position. Every neuron's activation
// boundary is then the hyperplane Weight[n, c, h, w]·x + Bias[n, c, h, w] = 0
// in input space, see Graph.Hyperplane.
//
// A Graph is only valid between activation boundaries: callers compose it
// across layers and handle the piecewise split at the nonlinearities.
package affine

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/linregion/internal/tensor"
)

// Graph is the affine map f(x) = Weight·x + Bias from the free variable x to
// one layer's pre-activation.
//
//	Bias:   (batch, channels, height, width)
//	Weight: (batch, channels, height, width, *free_shape)
//
// The free shape is the same for every layer of one propagation chain: it is
// the shape of one sample of the network input.
type Graph struct {
	Weight *tensor.RawTensor
	Bias   *tensor.RawTensor
}

// FreeShape returns the shape of the free variable the weight graph is expressed against.
func (g *Graph) FreeShape() tensor.Shape {
	return g.Weight.Shape()[4:].Clone()
}

// Validate checks the invariants tying the two graphs together: the leading
// four axes of Weight equal the Bias shape, and both share dtype and device.
func (g *Graph) Validate() error {
	if g.Weight == nil || g.Bias == nil {
		return errors.New("graph is missing its weight or bias tensor")
	}
	wShape, bShape := g.Weight.Shape(), g.Bias.Shape()
	if len(bShape) != 4 {
		return errors.Errorf("bias graph must be 4D (batch, channels, height, width), got shape %s", bShape)
	}
	if len(wShape) <= 4 || !wShape[:4].Equal(bShape) {
		return errors.Errorf("weight graph shape %s does not extend bias graph shape %s", wShape, bShape)
	}
	if g.Weight.DType() != g.Bias.DType() {
		return errors.Errorf("weight graph dtype %s != bias graph dtype %s", g.Weight.DType(), g.Bias.DType())
	}
	if g.Weight.Device() != g.Bias.Device() {
		return errors.Errorf("weight graph on %s but bias graph on %s", g.Weight.Device(), g.Bias.Device())
	}
	return nil
}

// Eval evaluates the affine map at a concrete value x0 of the free variable,
// shaped (batch, *free_shape). The result is shaped like Bias.
//
// For the graph of a layer reached without crossing an activation boundary,
// Eval(b, input) equals the layer's real pre-activation output.
func (g *Graph) Eval(b tensor.Backend, x0 *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	free := g.FreeShape()
	batch := g.Bias.Shape()[0]
	if want := (tensor.Shape{batch}).Concat(free); !x0.Shape().Equal(want) {
		return nil, errors.Errorf("cannot evaluate graph at x of shape %s, expected %s", x0.Shape(), want)
	}
	outputs := g.Bias.NumElements() / batch
	w := b.Reshape(g.Weight, tensor.Shape{batch, outputs, free.NumElements()})
	x := b.Reshape(x0, tensor.Shape{batch, free.NumElements(), 1})
	y := b.Reshape(b.BatchMatMul(w, x), g.Bias.Shape())
	return b.Add(y, g.Bias), nil
}

// Hyperplane returns the coefficients (flattened in row-major order over the
// free variable) and the constant term of the pre-activation of neuron
// (n, c, h, w). The neuron's activation boundary is coeffs·x + bias = 0.
func (g *Graph) Hyperplane(n, c, h, w int) (coeffs []float64, bias float64) {
	bias = g.Bias.At(n, c, h, w)
	strides := g.Weight.Strides()
	offset := n*strides[0] + c*strides[1] + h*strides[2] + w*strides[3]
	coeffs = make([]float64, strides[3])
	switch g.Weight.DType() {
	case tensor.Float32:
		for i, v := range g.Weight.AsFloat32()[offset : offset+strides[3]] {
			coeffs[i] = float64(v)
		}
	case tensor.Float64:
		copy(coeffs, g.Weight.AsFloat64()[offset:offset+strides[3]])
	}
	return coeffs, bias
}

// MemoryBytes returns the number of bytes held by the weight and bias graphs.
func (g *Graph) MemoryBytes() int {
	return g.Weight.ByteSize() + g.Bias.ByteSize()
}

// Identity returns the graph of the free variable itself: with x shaped
// (batch, *free_shape), the weight graph is the identity over free_shape for
// every batch entry and the bias graph is zero. x must be 4D.
//
// Propagating a layer from Identity gives the same graph as propagating it
// with no incoming graph.
func Identity(b tensor.Backend, x *tensor.RawTensor) *Graph {
	xShape := x.Shape()
	if len(xShape) != 4 {
		exceptions.Panicf("affine.Identity: x must be 4D (batch, channels, height, width), got shape %s", xShape)
	}
	free := xShape[1:]
	size := free.NumElements()
	weight := allocate(b, xShape.Concat(free), x.DType())
	for n := range xShape[0] {
		for i := range size {
			setFlat(weight, (n*size+i)*size+i, 1)
		}
	}
	return &Graph{
		Weight: weight,
		Bias:   allocate(b, xShape, x.DType()),
	}
}

func setFlat(r *tensor.RawTensor, i int, v float64) {
	switch r.DType() {
	case tensor.Float32:
		r.AsFloat32()[i] = float32(v)
	case tensor.Float64:
		r.AsFloat64()[i] = v
	}
}
