package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/linregion/internal/tensor"
)

// Conv2D is a 2D convolutional layer.
//
// Performs convolution: output = Conv2D(input, weight) + bias
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel_h, kernel_w]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where, per axis:
//
//	out = (in + 2*padding - kernel) / stride + 1
//
// Conv2D knows nothing about affine graphs; see GraphConv2D.
//
// Example:
//
//	rng := rand.New(rand.NewPCG(1, 2))
//	conv := nn.NewConv2D[float64](1, 6, 5, 5, tensor.NewConv2DParams(1, 0), true, rng, backend)
//	output := conv.Forward(input) // [32, 6, 24, 24] for a [32, 1, 28, 28] input
type Conv2D[T tensor.Float, B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  [2]int
	params      tensor.Conv2DParams

	weight *Parameter[T, B] // [out_channels, in_channels, kernel_h, kernel_w]
	bias   *Parameter[T, B] // [out_channels] or nil

	backend B
}

// NewConv2D creates a new 2D convolutional layer with Xavier initialization
// drawn from rng and a zero bias (if useBias).
//
// Panics on non-positive channels, kernel sizes or strides, or negative padding.
func NewConv2D[T tensor.Float, B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	params tensor.Conv2DParams,
	useBias bool,
	rng *rand.Rand,
	backend B,
) *Conv2D[T, B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelH <= 0 || kernelW <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size h=%d, w=%d", kernelH, kernelW))
	}

	// fan_in = in_channels * kernel_h * kernel_w
	// fan_out = out_channels * kernel_h * kernel_w
	fanIn := inChannels * kernelH * kernelW
	fanOut := outChannels * kernelH * kernelW
	weight := Xavier[T](fanIn, fanOut, tensor.Shape{outChannels, inChannels, kernelH, kernelW}, rng, backend)

	var bias *tensor.Tensor[T, B]
	if useBias {
		bias = tensor.Zeros[T](tensor.Shape{outChannels}, backend)
	}
	return NewConv2DFromWeights(weight, bias, params)
}

// NewConv2DFromWeights creates a layer from an existing kernel
// [out_channels, in_channels, kernel_h, kernel_w] and an optional bias
// [out_channels] (nil for none).
func NewConv2DFromWeights[T tensor.Float, B tensor.Backend](weight, bias *tensor.Tensor[T, B], params tensor.Conv2DParams) *Conv2D[T, B] {
	shape := weight.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("conv2d: weight must be 4D [C_out,C_in,K_h,K_w], got %v", shape))
	}
	if err := params.Validate(); err != nil {
		panic(fmt.Sprintf("conv2d: %v", err))
	}
	c := &Conv2D[T, B]{
		inChannels:  shape[1],
		outChannels: shape[0],
		kernelSize:  [2]int{shape[2], shape[3]},
		params:      params,
		weight:      NewParameter("conv2d.weight", weight),
		backend:     weight.Backend(),
	}
	if bias != nil {
		if !bias.Shape().Equal(tensor.Shape{shape[0]}) {
			panic(fmt.Sprintf("conv2d: bias shape %v does not match %d output channels", bias.Shape(), shape[0]))
		}
		c.bias = NewParameter("conv2d.bias", bias)
	}
	return c
}

// Forward performs the forward pass.
//
// Input: [batch, in_channels, height, width]
// Output: [batch, out_channels, out_h, out_w].
func (c *Conv2D[T, B]) Forward(input *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	c.checkInput(input.Shape())

	outputRaw := c.backend.Conv2D(input.Raw(), c.weight.Raw(), c.params)
	if c.bias != nil {
		outputRaw = c.backend.AddChannelBias(outputRaw, c.bias.Raw())
	}
	return tensor.New[T](outputRaw, c.backend)
}

func (c *Conv2D[T, B]) checkInput(inputShape tensor.Shape) {
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.inChannels))
	}
}

// Parameters returns the layer's parameters: the weight, then the bias if any.
func (c *Conv2D[T, B]) Parameters() []*Parameter[T, B] {
	if c.bias != nil {
		return []*Parameter[T, B]{c.weight, c.bias}
	}
	return []*Parameter[T, B]{c.weight}
}

// Weight returns the kernel parameter.
func (c *Conv2D[T, B]) Weight() *Parameter[T, B] {
	return c.weight
}

// Bias returns the bias parameter, or nil if the layer has none.
func (c *Conv2D[T, B]) Bias() *Parameter[T, B] {
	return c.bias
}

// String returns a string representation of the layer.
func (c *Conv2D[T, B]) String() string {
	return fmt.Sprintf("Conv2D(in_channels=%d, out_channels=%d, kernel_size=(%d, %d), %s, bias=%v)",
		c.inChannels, c.outChannels,
		c.kernelSize[0], c.kernelSize[1],
		c.params, c.bias != nil)
}

// OutChannels returns the number of output channels.
func (c *Conv2D[T, B]) OutChannels() int {
	return c.outChannels
}

// InChannels returns the number of input channels.
func (c *Conv2D[T, B]) InChannels() int {
	return c.inChannels
}

// KernelSize returns the kernel size [height, width].
func (c *Conv2D[T, B]) KernelSize() [2]int {
	return c.kernelSize
}

// Params returns the stride and padding.
func (c *Conv2D[T, B]) Params() tensor.Conv2DParams {
	return c.params
}

// ComputeOutputSize computes output spatial dimensions for given input size.
//
// Returns: [out_height, out_width].
func (c *Conv2D[T, B]) ComputeOutputSize(inputH, inputW int) [2]int {
	return c.params.OutputSize(inputH, inputW, c.kernelSize[0], c.kernelSize[1])
}
