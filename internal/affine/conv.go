package affine

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/born-ml/linregion/internal/tensor"
)

// PropagateConv2D computes the graph leaving a 2D convolution layer from the
// graph entering it.
//
//   - x: the layer's actual input (batch, in_channels, height, width). It is
//     only used for its shape, dtype and device.
//   - g: the graph entering the layer, or nil for the first convolution, in
//     which case x itself is the free variable (one sample of it per batch entry).
//   - kernel: (out_channels, in_channels, kernel_h, kernel_w).
//   - bias: (out_channels), or nil for a convolution without bias.
//
// The result is freshly allocated on b.Device(); x, g, kernel and bias are
// never modified.
//
// Inconsistent shapes, dtypes or devices are programming errors and panic
// (see github.com/gomlx/exceptions).
func PropagateConv2D(b tensor.Backend, x *tensor.RawTensor, g *Graph, kernel, bias *tensor.RawTensor, params tensor.Conv2DParams) *Graph {
	checkConv2DInputs(b, x, g, kernel, bias, params)

	// The constant term: the layer applied to the incoming constant term
	// (zero for the first layer), layer bias included.
	var biasGraph *tensor.RawTensor
	if g == nil {
		biasGraph = allocate(b, x.Shape(), x.DType())
	} else {
		biasGraph = g.Bias
	}
	biasGraph = b.Conv2D(biasGraph, kernel, params)
	if bias != nil {
		biasGraph = b.AddChannelBias(biasGraph, bias)
	}

	// Sized from the convolution's own output shape.
	outShape := biasGraph.Shape()
	var weightGraph *tensor.RawTensor
	if g == nil {
		weightGraph = directWeightGraph(b, x.Shape(), kernel, params, outShape)
	} else {
		weightGraph = factoredWeightGraph(b, x.Shape(), g.Weight, kernel, params, outShape)
	}
	if klog.V(1).Enabled() {
		path := "direct"
		if g != nil {
			path = "factored"
		}
		klog.Infof("affine.PropagateConv2D: %s path, input %s, kernel %s, %s -> weight graph %s",
			path, x.Shape(), kernel.Shape(), params, weightGraph.Shape())
	}
	return &Graph{Weight: weightGraph, Bias: biasGraph}
}

// directWeightGraph builds the weight graph of the first convolution, whose
// free variable is its own input: for every output position the kernel is
// laid into a zeroed, padded scratch buffer at the window offset, and the
// buffer cropped back to the input extent is that position's coefficients.
//
// Result: (batch, out_channels, out_h, out_w, in_channels, in_h, in_w).
func directWeightGraph(b tensor.Backend, inShape tensor.Shape, kernel *tensor.RawTensor, params tensor.Conv2DParams, outShape tensor.Shape) *tensor.RawTensor {
	batch, cIn, hIn, wIn := inShape[0], inShape[1], inShape[2], inShape[3]
	cOut, kH, kW := kernel.Shape()[0], kernel.Shape()[2], kernel.Shape()[3]
	hOut, wOut := outShape[2], outShape[3]
	padH, padW := params.Padding[0], params.Padding[1]

	free := inShape[1:]
	weightGraph := allocate(b, outShape.Concat(free), kernel.DType())

	// Reused for every output position, reset after each.
	scratch := allocate(b, tensor.Shape{batch, cOut, cIn, hIn + 2*padH, wIn + 2*padW}, kernel.DType())
	window := b.Expand(kernel, tensor.Shape{batch, cOut, cIn, kH, kW})
	crop := []tensor.Range{
		tensor.All(batch), tensor.All(cOut), tensor.All(cIn),
		{Start: padH, End: padH + hIn}, {Start: padW, End: padW + wIn},
	}
	entryShape := tensor.Shape{batch, cOut, 1, 1}.Concat(free)

	for h := range hOut {
		for w := range wOut {
			b.AccumulateAt(scratch, window, 0, 0, 0, h*params.Stride[0], w*params.Stride[1])
			entry := b.Reshape(b.Narrow(scratch, crop...), entryShape)
			b.AssignAt(weightGraph, entry, 0, 0, h, w, 0, 0, 0)
			scratch.Zero()
		}
	}
	return weightGraph
}

// factoredWeightGraph composes the convolution with an existing weight graph
// (batch, in_channels, in_h, in_w, *free_shape) without expanding the
// convolution into a dense (out_h, out_w, in_h, in_w) operator.
//
// A kernel hook (out_w, out_channels, in_channels, kernel_h, in_w) records how
// every output column's window overlaps every input column, independently of
// the row. Each output row h is then one matrix product between the hook,
// restricted to the kernel rows landing on valid input rows, and the incoming
// weight graph restricted to those input rows.
//
// Result: (batch, out_channels, out_h, out_w, *free_shape).
func factoredWeightGraph(b tensor.Backend, inShape tensor.Shape, prevWeight, kernel *tensor.RawTensor, params tensor.Conv2DParams, outShape tensor.Shape) *tensor.RawTensor {
	batch, cIn, hIn, wIn := inShape[0], inShape[1], inShape[2], inShape[3]
	cOut, kH, kW := kernel.Shape()[0], kernel.Shape()[2], kernel.Shape()[3]
	hOut, wOut := outShape[2], outShape[3]
	padW := params.Padding[1]

	free := prevWeight.Shape()[4:]
	freeSize := free.NumElements()
	weightGraph := allocate(b, outShape.Concat(free), kernel.DType())

	hook := allocate(b, tensor.Shape{wOut, cOut, cIn, kH, wIn + 2*padW}, kernel.DType())
	window := b.Reshape(kernel, tensor.Shape{1, cOut, cIn, kH, kW})
	for w := range wOut {
		b.AccumulateAt(hook, window, w, 0, 0, 0, w*params.Stride[1])
	}
	hook = b.Narrow(hook, tensor.All(wOut), tensor.All(cOut), tensor.All(cIn), tensor.All(kH),
		tensor.Range{Start: padW, End: padW + wIn})

	// (n, *free, w_out, c_out) -> (n, c_out, w_out, *free)
	numFree := len(free)
	rowAxes := make([]int, 0, numFree+3)
	rowAxes = append(rowAxes, 0, numFree+2, numFree+1)
	for i := range numFree {
		rowAxes = append(rowAxes, 1+i)
	}
	rowShape := tensor.Shape{batch, cOut, 1, wOut}.Concat(free)
	rowOffsets := make([]int, len(rowShape))

	prevRanges := make([]tensor.Range, prevWeight.Rank())
	for i, dim := range prevWeight.Shape() {
		prevRanges[i] = tensor.All(dim)
	}

	for h := range hOut {
		inputRows, kernelRows := validRows(h, params.Stride[0], params.Padding[0], kH, hIn)
		if inputRows.Empty() {
			// Window entirely in the padding: the row stays zero.
			klog.V(2).Infof("affine: output row %d has no valid input rows", h)
			continue
		}
		contraction := cIn * inputRows.Len() * wIn

		// (w_out, c_out, c_in, rows, w_in) -> ((c_in, rows, w_in), (w_out, c_out))
		hookRows := b.Narrow(hook, tensor.All(wOut), tensor.All(cOut), tensor.All(cIn), kernelRows, tensor.All(wIn))
		hookRows = b.Transpose(b.Reshape(hookRows, tensor.Shape{wOut * cOut, contraction}), 1, 0)

		// (n, c_in, rows, w_in, *free) -> (n, free, (c_in, rows, w_in))
		prevRanges[2] = inputRows
		prevRows := b.Narrow(prevWeight, prevRanges...)
		prevRows = b.Transpose(b.Reshape(prevRows, tensor.Shape{batch, contraction, freeSize}), 0, 2, 1)

		row := b.BatchMatMul(prevRows, hookRows)
		row = b.Reshape(row, tensor.Shape{batch}.Concat(free, tensor.Shape{wOut, cOut}))
		row = b.Reshape(b.Transpose(row, rowAxes...), rowShape)
		rowOffsets[2] = h
		b.AssignAt(weightGraph, row, rowOffsets...)
	}
	return weightGraph
}

// validRows returns, for output row h, the input rows covered by the kernel
// window once the padding is removed, and the matching kernel rows. Rows of
// the window that fall in the padding are dropped: they only ever multiply zeros.
func validRows(h, stride, padding, kernelSize, inSize int) (inputRows, kernelRows tensor.Range) {
	pos := h*stride - padding
	posEnd := min(pos+kernelSize, inSize)
	posStart := max(pos, 0)
	inputRows = tensor.Range{Start: posStart, End: posEnd}
	kernelRows = tensor.Range{Start: posStart - pos, End: posEnd - pos}
	return inputRows, kernelRows
}

// allocate creates a zeroed tensor on the backend's device.
func allocate(b tensor.Backend, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	raw, err := tensor.NewRaw(shape, dtype, b.Device())
	if err != nil {
		exceptions.Panicf("affine: failed to allocate %s %s tensor on %s: %v", dtype, shape, b.Device(), err)
	}
	return raw
}

// checkConv2DInputs panics on any shape, dtype or placement inconsistency
// between the layer input, the incoming graph and the convolution parameters.
func checkConv2DInputs(b tensor.Backend, x *tensor.RawTensor, g *Graph, kernel, bias *tensor.RawTensor, params tensor.Conv2DParams) {
	const op = "affine.PropagateConv2D"
	if x == nil || kernel == nil {
		exceptions.Panicf("%s: input and kernel are required", op)
	}
	if err := params.Validate(); err != nil {
		exceptions.Panicf("%s: %v", op, err)
	}
	xShape, kShape := x.Shape(), kernel.Shape()
	if len(xShape) != 4 {
		exceptions.Panicf("%s: input must be 4D (batch, channels, height, width), got shape %s", op, xShape)
	}
	if len(kShape) != 4 || kShape[1] != xShape[1] {
		exceptions.Panicf("%s: kernel shape %s incompatible with input shape %s", op, kShape, xShape)
	}
	outSize := params.OutputSize(xShape[2], xShape[3], kShape[2], kShape[3])
	if outSize[0] <= 0 || outSize[1] <= 0 {
		exceptions.Panicf("%s: kernel %s with %s does not fit input %s", op, kShape, params, xShape)
	}
	if bias != nil && (bias.Rank() != 1 || bias.Shape()[0] != kShape[0]) {
		exceptions.Panicf("%s: bias shape %s does not match %d output channels", op, bias.Shape(), kShape[0])
	}

	type namedTensor struct {
		name string
		t    *tensor.RawTensor
	}
	named := []namedTensor{{"input", x}, {"kernel", kernel}, {"bias", bias}}
	if g != nil {
		if err := g.Validate(); err != nil {
			exceptions.Panicf("%s: incoming graph: %v", op, err)
		}
		if !g.Bias.Shape().Equal(xShape) {
			exceptions.Panicf("%s: incoming graph is for a layer output of shape %s, but input has shape %s",
				op, g.Bias.Shape(), xShape)
		}
		named = append(named, namedTensor{"weight graph", g.Weight}, namedTensor{"bias graph", g.Bias})
	}
	for _, nt := range named {
		if nt.t == nil {
			continue
		}
		if nt.t.Device() != b.Device() {
			exceptions.Panicf("%s: %s is on %s but backend %s allocates on %s", op, nt.name, nt.t.Device(), b.Name(), b.Device())
		}
		if nt.t.DType() != x.DType() {
			exceptions.Panicf("%s: %s has dtype %s, input has %s", op, nt.name, nt.t.DType(), x.DType())
		}
	}
}
