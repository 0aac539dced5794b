package tensor

import "fmt"

// Conv2DParams holds the geometry of a 2D convolution, per spatial axis
// (index 0 is height, index 1 is width).
type Conv2DParams struct {
	Stride  [2]int
	Padding [2]int
}

// NewConv2DParams returns square parameters: the same stride and padding on both axes.
func NewConv2DParams(stride, padding int) Conv2DParams {
	return Conv2DParams{
		Stride:  [2]int{stride, stride},
		Padding: [2]int{padding, padding},
	}
}

// Validate checks that strides are positive and paddings non-negative.
func (p Conv2DParams) Validate() error {
	for axis := range 2 {
		if p.Stride[axis] <= 0 {
			return fmt.Errorf("invalid stride %v: must be > 0", p.Stride)
		}
		if p.Padding[axis] < 0 {
			return fmt.Errorf("invalid padding %v: must be >= 0", p.Padding)
		}
	}
	return nil
}

// OutputSize computes the output spatial dimensions for an input of
// inH x inW and a kernel of kH x kW:
//
//	out = floor((in + 2*padding - kernel) / stride) + 1
//
// A kernel larger than the padded input gives a size <= 0. Strides must be
// positive (see Validate).
func (p Conv2DParams) OutputSize(inH, inW, kH, kW int) [2]int {
	return [2]int{
		outputLen(inH, p.Padding[0], kH, p.Stride[0]),
		outputLen(inW, p.Padding[1], kW, p.Stride[1]),
	}
}

func outputLen(in, padding, kernel, stride int) int {
	span := in + 2*padding - kernel
	if span < 0 {
		// Go division truncates toward zero; round toward minus infinity.
		return -((-span + stride - 1) / stride) + 1
	}
	return span/stride + 1
}

// String returns a compact description, e.g. "stride=(1, 1), padding=(0, 0)".
func (p Conv2DParams) String() string {
	return fmt.Sprintf("stride=(%d, %d), padding=(%d, %d)",
		p.Stride[0], p.Stride[1], p.Padding[0], p.Padding[1])
}
