package affine

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/linregion/internal/backend/cpu"
	"github.com/born-ml/linregion/internal/tensor"
)

const tolerance = 1e-9

func randomRaw(t *testing.T, rng *rand.Rand, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	t.Helper()
	values := make([]float64, shape.NumElements())
	for i := range values {
		values[i] = rng.NormFloat64()
	}
	raw, err := tensor.FromFloat64s(values, shape, dtype, tensor.CPU)
	require.NoError(t, err)
	return raw
}

func filledRaw(t *testing.T, shape tensor.Shape, value float64) *tensor.RawTensor {
	t.Helper()
	raw := tensor.MustNewRaw(shape, tensor.Float64, tensor.CPU)
	for i := range raw.AsFloat64() {
		raw.AsFloat64()[i] = value
	}
	return raw
}

// convLayer is one convolution of a test chain.
type convLayer struct {
	kernel, bias *tensor.RawTensor
	params       tensor.Conv2DParams
}

func (l convLayer) forward(b *cpu.CPUBackend, x *tensor.RawTensor) *tensor.RawTensor {
	out := b.Conv2D(x, l.kernel, l.params)
	if l.bias != nil {
		out = b.AddChannelBias(out, l.bias)
	}
	return out
}

func randomLayer(t *testing.T, rng *rand.Rand, cIn, cOut, kH, kW int, params tensor.Conv2DParams, withBias bool, dtype tensor.DataType) convLayer {
	l := convLayer{
		kernel: randomRaw(t, rng, tensor.Shape{cOut, cIn, kH, kW}, dtype),
		params: params,
	}
	if withBias {
		l.bias = randomRaw(t, rng, tensor.Shape{cOut}, dtype)
	}
	return l
}

// TestPropagateConv2D_OnesKernel checks the 4x4 input, 3x3 all-ones kernel case by hand.
func TestPropagateConv2D_OnesKernel(t *testing.T) {
	b := cpu.New()
	x := randomRaw(t, rand.New(rand.NewPCG(1, 0)), tensor.Shape{1, 1, 4, 4}, tensor.Float64)
	kernel := filledRaw(t, tensor.Shape{1, 1, 3, 3}, 1)

	g := PropagateConv2D(b, x, nil, kernel, nil, tensor.NewConv2DParams(1, 0))

	require.Equal(t, tensor.Shape{1, 1, 2, 2}, g.Bias.Shape())
	require.Equal(t, tensor.Shape{1, 1, 2, 2, 1, 4, 4}, g.Weight.Shape())
	assert.Equal(t, []float64{0, 0, 0, 0}, g.Bias.Float64s())

	coeffs, bias := g.Hyperplane(0, 0, 0, 0)
	assert.Equal(t, 0.0, bias)
	assert.Equal(t, []float64{
		1, 1, 1, 0,
		1, 1, 1, 0,
		1, 1, 1, 0,
		0, 0, 0, 0,
	}, coeffs)

	coeffs, _ = g.Hyperplane(0, 0, 1, 1)
	assert.Equal(t, []float64{
		0, 0, 0, 0,
		0, 1, 1, 1,
		0, 1, 1, 1,
		0, 1, 1, 1,
	}, coeffs)
}

func TestPropagateConv2D_Shapes(t *testing.T) {
	tests := []struct {
		name              string
		batch, c0, h0, w0 int
		layers            [][5]int // cOut, kH, kW, stride, padding
		wantLastOutput    tensor.Shape
	}{
		{"single", 1, 1, 4, 4, [][5]int{{1, 3, 3, 1, 0}}, tensor.Shape{1, 1, 2, 2}},
		{"padded", 2, 3, 5, 5, [][5]int{{4, 3, 3, 1, 1}}, tensor.Shape{2, 4, 5, 5}},
		{"strided", 1, 2, 7, 6, [][5]int{{3, 3, 2, 2, 0}}, tensor.Shape{1, 3, 3, 3}},
		{"chain", 2, 1, 8, 8, [][5]int{{2, 3, 3, 1, 1}, {3, 2, 2, 2, 0}, {1, 3, 1, 1, 1}}, tensor.Shape{2, 1, 4, 6}},
	}

	b := cpu.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(2, 0))
			x := randomRaw(t, rng, tensor.Shape{tt.batch, tt.c0, tt.h0, tt.w0}, tensor.Float64)
			free := x.Shape()[1:]

			input, cIn := x, tt.c0
			var g *Graph
			for _, layer := range tt.layers {
				l := randomLayer(t, rng, cIn, layer[0], layer[1], layer[2], tensor.NewConv2DParams(layer[3], layer[4]), true, tensor.Float64)
				g = PropagateConv2D(b, input, g, l.kernel, l.bias, l.params)
				input = l.forward(b, input)
				cIn = layer[0]

				require.Equal(t, input.Shape(), g.Bias.Shape())
				require.Equal(t, input.Shape().Concat(free), g.Weight.Shape())
				require.Equal(t, free, g.FreeShape())
			}
			require.Equal(t, tt.wantLastOutput, g.Bias.Shape())
		})
	}
}

// TestPropagateConv2D_EvalMatchesForward evaluates the graph of every layer
// of a chain at the real input and compares with the real layer output.
func TestPropagateConv2D_EvalMatchesForward(t *testing.T) {
	tests := []struct {
		name   string
		dtype  tensor.DataType
		delta  float64
		params []tensor.Conv2DParams
	}{
		{"float64 plain", tensor.Float64, tolerance, []tensor.Conv2DParams{
			tensor.NewConv2DParams(1, 0), tensor.NewConv2DParams(1, 0), tensor.NewConv2DParams(1, 0),
		}},
		{"float64 padded strided", tensor.Float64, tolerance, []tensor.Conv2DParams{
			tensor.NewConv2DParams(1, 1), tensor.NewConv2DParams(2, 1), {Stride: [2]int{1, 2}, Padding: [2]int{2, 0}},
		}},
		{"float32", tensor.Float32, 1e-3, []tensor.Conv2DParams{
			tensor.NewConv2DParams(1, 1), tensor.NewConv2DParams(2, 0),
		}},
	}

	b := cpu.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(3, 0))
			x := randomRaw(t, rng, tensor.Shape{2, 2, 9, 8}, tt.dtype)
			channels := []int{2, 3, 2, 2}

			input := x
			var g *Graph
			for i, params := range tt.params {
				l := randomLayer(t, rng, channels[i], channels[i+1], 3, 3, params, true, tt.dtype)
				g = PropagateConv2D(b, input, g, l.kernel, l.bias, l.params)
				input = l.forward(b, input)

				got := must.M1(g.Eval(b, x))
				require.Equal(t, input.Shape(), got.Shape())
				require.InDeltaSlicef(t, input.Float64s(), got.Float64s(), tt.delta, "layer %d", i)
			}
		})
	}
}

// TestFactoredMatchesDirect runs both paths on the same layer: the factored
// path starting from the identity graph of the input must reproduce the
// direct construction.
func TestFactoredMatchesDirect(t *testing.T) {
	tests := []struct {
		name           string
		cIn, cOut      int
		kH, kW         int
		params         tensor.Conv2DParams
		inputH, inputW int
	}{
		{"3x3", 1, 1, 3, 3, tensor.NewConv2DParams(1, 0), 6, 6},
		{"channels", 2, 3, 3, 3, tensor.NewConv2DParams(1, 1), 5, 4},
		{"stride", 3, 2, 2, 3, tensor.Conv2DParams{Stride: [2]int{2, 1}, Padding: [2]int{1, 2}}, 7, 5},
		{"kernel larger than padding margin", 1, 2, 5, 5, tensor.NewConv2DParams(1, 3), 4, 4},
	}

	b := cpu.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(4, 0))
			x := randomRaw(t, rng, tensor.Shape{2, tt.cIn, tt.inputH, tt.inputW}, tensor.Float64)
			l := randomLayer(t, rng, tt.cIn, tt.cOut, tt.kH, tt.kW, tt.params, true, tensor.Float64)

			direct := PropagateConv2D(b, x, nil, l.kernel, l.bias, l.params)
			factored := PropagateConv2D(b, x, Identity(b, x), l.kernel, l.bias, l.params)

			require.Equal(t, direct.Weight.Shape(), factored.Weight.Shape())
			require.InDeltaSlice(t, direct.Weight.Float64s(), factored.Weight.Float64s(), tolerance)
			require.InDeltaSlice(t, direct.Bias.Float64s(), factored.Bias.Float64s(), tolerance)
		})
	}
}

// TestFactoredMatchesDenseComposition propagates a two-layer chain with the
// factored path and compares it with the dense composition of both layers'
// direct graphs.
func TestFactoredMatchesDenseComposition(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewPCG(5, 0))
	x := randomRaw(t, rng, tensor.Shape{2, 2, 7, 7}, tensor.Float64)
	first := randomLayer(t, rng, 2, 3, 3, 3, tensor.NewConv2DParams(1, 1), true, tensor.Float64)
	second := randomLayer(t, rng, 3, 2, 3, 3, tensor.NewConv2DParams(2, 1), true, tensor.Float64)

	g1 := PropagateConv2D(b, x, nil, first.kernel, first.bias, first.params)
	hidden := first.forward(b, x)
	g2 := PropagateConv2D(b, hidden, g1, second.kernel, second.bias, second.params)

	// The second layer alone, with its own input as the free variable.
	local := PropagateConv2D(b, hidden, nil, second.kernel, second.bias, second.params)

	batch := 2
	outputs := g2.Bias.NumElements() / batch
	hiddenSize := hidden.NumElements() / batch
	freeSize := x.NumElements() / batch
	w2 := b.Reshape(local.Weight, tensor.Shape{batch, outputs, hiddenSize})
	w1 := b.Reshape(g1.Weight, tensor.Shape{batch, hiddenSize, freeSize})
	wantWeight := b.BatchMatMul(w2, w1)
	require.InDeltaSlice(t, wantWeight.Float64s(), g2.Weight.Float64s(), tolerance)

	// Constant term: the second layer's map applied to the first layer's constant term.
	wantBias := must.M1(local.Eval(b, g1.Bias))
	require.InDeltaSlice(t, wantBias.Float64s(), g2.Bias.Float64s(), tolerance)
}

// TestFactoredFiniteDifference compares the graph of two chained 3x3
// convolutions over a 6x6 input with the Jacobian measured by perturbing
// every input pixel.
func TestFactoredFiniteDifference(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewPCG(6, 0))
	x := randomRaw(t, rng, tensor.Shape{1, 1, 6, 6}, tensor.Float64)
	first := randomLayer(t, rng, 1, 1, 3, 3, tensor.NewConv2DParams(1, 0), true, tensor.Float64)
	second := randomLayer(t, rng, 1, 1, 3, 3, tensor.NewConv2DParams(1, 0), true, tensor.Float64)

	g := PropagateConv2D(b, x, nil, first.kernel, first.bias, first.params)
	g = PropagateConv2D(b, first.forward(b, x), g, second.kernel, second.bias, second.params)
	require.Equal(t, tensor.Shape{1, 1, 2, 2, 1, 6, 6}, g.Weight.Shape())

	network := func(y, in []float64) {
		input := must.M1(tensor.FromFloat64s(in, x.Shape(), tensor.Float64, tensor.CPU))
		copy(y, second.forward(b, first.forward(b, input)).Float64s())
	}
	jac := mat.NewDense(4, 36, nil)
	fd.Jacobian(jac, network, x.Float64s(), &fd.JacobianSettings{
		Formula: fd.Central,
	})

	got := g.Weight.Float64s()
	for i := range 4 {
		for j := range 36 {
			assert.InDeltaf(t, jac.At(i, j), got[i*36+j], 1e-5, "output %d, input %d", i, j)
		}
	}

	// The constant term is the output at x = 0.
	zero := tensor.MustNewRaw(x.Shape(), tensor.Float64, tensor.CPU)
	require.InDeltaSlice(t, second.forward(b, first.forward(b, zero)).Float64s(), g.Bias.Float64s(), tolerance)
}

// TestZeroPaddingBoundary checks that coefficients of window taps landing in
// the padding are exactly zero, on both paths.
func TestZeroPaddingBoundary(t *testing.T) {
	b := cpu.New()
	x := randomRaw(t, rand.New(rand.NewPCG(7, 0)), tensor.Shape{1, 1, 4, 4}, tensor.Float64)
	kernel := filledRaw(t, tensor.Shape{1, 1, 3, 3}, 1)
	params := tensor.NewConv2DParams(1, 1)

	for _, g := range []*Graph{
		PropagateConv2D(b, x, nil, kernel, nil, params),
		PropagateConv2D(b, x, Identity(b, x), kernel, nil, params),
	} {
		require.Equal(t, tensor.Shape{1, 1, 4, 4, 1, 4, 4}, g.Weight.Shape())
		corner, _ := g.Hyperplane(0, 0, 0, 0)
		assert.Equal(t, []float64{
			1, 1, 0, 0,
			1, 1, 0, 0,
			0, 0, 0, 0,
			0, 0, 0, 0,
		}, corner)
		edge, _ := g.Hyperplane(0, 0, 3, 1)
		assert.Equal(t, []float64{
			0, 0, 0, 0,
			0, 0, 0, 0,
			1, 1, 1, 0,
			1, 1, 1, 0,
		}, edge)
	}
}

// TestWindowInsidePadding uses a 1x1 kernel with padding 1: the first and
// last output rows and columns only see padding, so their weights are zero
// and their constant term is the layer bias.
func TestWindowInsidePadding(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewPCG(8, 0))
	x := randomRaw(t, rng, tensor.Shape{1, 2, 3, 3}, tensor.Float64)
	first := randomLayer(t, rng, 2, 2, 3, 3, tensor.NewConv2DParams(1, 1), true, tensor.Float64)
	second := randomLayer(t, rng, 2, 1, 1, 1, tensor.NewConv2DParams(1, 1), true, tensor.Float64)

	g := PropagateConv2D(b, x, nil, first.kernel, first.bias, first.params)
	hidden := first.forward(b, x)
	g = PropagateConv2D(b, hidden, g, second.kernel, second.bias, second.params)
	require.Equal(t, tensor.Shape{1, 1, 5, 5}, g.Bias.Shape())

	layerBias := second.bias.At(0)
	for h := range 5 {
		for w := range 5 {
			if h != 0 && h != 4 && w != 0 && w != 4 {
				continue
			}
			coeffs, bias := g.Hyperplane(0, 0, h, w)
			assert.Equal(t, make([]float64, 18), coeffs, "position (%d, %d)", h, w)
			assert.InDelta(t, layerBias, bias, tolerance)
		}
	}

	got := must.M1(g.Eval(b, x))
	require.InDeltaSlice(t, second.forward(b, hidden).Float64s(), got.Float64s(), tolerance)
}

func TestValidRows(t *testing.T) {
	tests := []struct {
		name                           string
		h, stride, padding, kernel, in int
		wantInput, wantKernel          tensor.Range
	}{
		{"interior", 1, 1, 0, 3, 6, tensor.Range{Start: 1, End: 4}, tensor.Range{Start: 0, End: 3}},
		{"top padding", 0, 1, 1, 3, 4, tensor.Range{Start: 0, End: 2}, tensor.Range{Start: 1, End: 3}},
		{"bottom padding", 3, 1, 1, 3, 4, tensor.Range{Start: 2, End: 4}, tensor.Range{Start: 0, End: 2}},
		{"strided", 2, 2, 0, 3, 7, tensor.Range{Start: 4, End: 7}, tensor.Range{Start: 0, End: 3}},
		{"only padding", 0, 1, 1, 1, 3, tensor.Range{Start: 0, End: 0}, tensor.Range{Start: 1, End: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotInput, gotKernel := validRows(tt.h, tt.stride, tt.padding, tt.kernel, tt.in)
			assert.Equal(t, tt.wantInput, gotInput)
			assert.Equal(t, tt.wantKernel, gotKernel)
			assert.Equal(t, gotInput.Len(), gotKernel.Len())
		})
	}
}

// TestIdentityKernel checks that a 1x1 identity convolution leaves the graph unchanged.
func TestIdentityKernel(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewPCG(9, 0))
	x := randomRaw(t, rng, tensor.Shape{2, 2, 5, 5}, tensor.Float64)
	first := randomLayer(t, rng, 2, 3, 3, 3, tensor.NewConv2DParams(1, 1), true, tensor.Float64)
	g := PropagateConv2D(b, x, nil, first.kernel, first.bias, first.params)

	identity := tensor.MustNewRaw(tensor.Shape{3, 3, 1, 1}, tensor.Float64, tensor.CPU)
	for c := range 3 {
		identity.Set(1, c, c, 0, 0)
	}
	zeroBias := tensor.MustNewRaw(tensor.Shape{3}, tensor.Float64, tensor.CPU)
	next := PropagateConv2D(b, first.forward(b, x), g, identity, zeroBias, tensor.NewConv2DParams(1, 0))

	require.Equal(t, g.Weight.Shape(), next.Weight.Shape())
	require.InDeltaSlice(t, g.Weight.Float64s(), next.Weight.Float64s(), tolerance)
	require.InDeltaSlice(t, g.Bias.Float64s(), next.Bias.Float64s(), tolerance)
}

func TestPropagateConv2D_DoesNotModifyInputs(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewPCG(10, 0))
	x := randomRaw(t, rng, tensor.Shape{1, 2, 5, 5}, tensor.Float64)
	first := randomLayer(t, rng, 2, 2, 3, 3, tensor.NewConv2DParams(1, 1), true, tensor.Float64)
	second := randomLayer(t, rng, 2, 2, 3, 3, tensor.NewConv2DParams(2, 1), true, tensor.Float64)
	g := PropagateConv2D(b, x, nil, first.kernel, first.bias, first.params)
	hidden := first.forward(b, x)

	before := []*tensor.RawTensor{hidden.Clone(), g.Weight.Clone(), g.Bias.Clone(), second.kernel.Clone(), second.bias.Clone()}
	next := PropagateConv2D(b, hidden, g, second.kernel, second.bias, second.params)
	after := []*tensor.RawTensor{hidden, g.Weight, g.Bias, second.kernel, second.bias}
	for i := range before {
		require.Equal(t, before[i].Float64s(), after[i].Float64s(), "input %d was modified", i)
	}
	assert.NotSame(t, g.Weight, next.Weight)
	assert.NotSame(t, g.Bias, next.Bias)
}

func TestPropagateConv2D_ContractViolations(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewPCG(11, 0))
	x := randomRaw(t, rng, tensor.Shape{1, 2, 5, 5}, tensor.Float64)
	kernel := randomRaw(t, rng, tensor.Shape{3, 2, 3, 3}, tensor.Float64)
	params := tensor.NewConv2DParams(1, 0)
	g := PropagateConv2D(b, x, nil, kernel, nil, params)
	hidden := b.Conv2D(x, kernel, params)

	onGPU := tensor.MustNewRaw(x.Shape(), tensor.Float64, tensor.CUDA)
	float32Kernel := tensor.MustNewRaw(kernel.Shape(), tensor.Float32, tensor.CPU)

	tests := []struct {
		name    string
		run     func()
		wantMsg string
	}{
		{"input on another device", func() {
			PropagateConv2D(b, onGPU, nil, kernel, nil, params)
		}, "input is on CUDA"},
		{"kernel channels", func() {
			PropagateConv2D(b, hidden, nil, kernel, nil, params)
		}, "incompatible with input shape"},
		{"kernel dtype", func() {
			PropagateConv2D(b, x, nil, float32Kernel, nil, params)
		}, "kernel has dtype float32"},
		{"bias shape", func() {
			PropagateConv2D(b, x, nil, kernel, tensor.MustNewRaw(tensor.Shape{2}, tensor.Float64, tensor.CPU), params)
		}, "bias shape"},
		{"zero stride", func() {
			PropagateConv2D(b, x, nil, kernel, nil, tensor.NewConv2DParams(0, 0))
		}, "invalid stride"},
		{"kernel larger than input", func() {
			PropagateConv2D(b, x, nil, randomRaw(t, rng, tensor.Shape{1, 2, 7, 7}, tensor.Float64), nil, params)
		}, "does not fit input"},
		{"kernel larger than padded input with stride 2", func() {
			PropagateConv2D(b, x, nil, randomRaw(t, rng, tensor.Shape{1, 2, 8, 8}, tensor.Float64), nil, tensor.NewConv2DParams(2, 1))
		}, "does not fit input"},
		{"graph of another layer", func() {
			PropagateConv2D(b, x, g, kernel, nil, params)
		}, "incoming graph is for a layer output"},
		{"broken graph", func() {
			PropagateConv2D(b, x, &Graph{Weight: x, Bias: x}, kernel, nil, params)
		}, "does not extend bias graph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exceptions.TryCatch[error](tt.run)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "affine.PropagateConv2D")
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
