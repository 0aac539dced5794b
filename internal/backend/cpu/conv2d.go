package cpu

import (
	"fmt"

	"github.com/born-ml/linregion/internal/parallel"
	"github.com/born-ml/linregion/internal/tensor"
)

// Conv2D performs 2D convolution using im2col algorithm.
//
// Input shape: [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Stride and padding are given per axis; padding is zero padding.
//
// Algorithm: Im2col
//  1. Transform input patches into rows (im2col)
//  2. Multiply the [C_out, C_in*K_h*K_w] kernel by the transposed patches
//  3. Rearrange the result to [N, C_out, H_out, W_out]
//
// Reference: "High Performance Convolutional Neural Networks for Document Processing"
// (Chellapilla et al., 2006).
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, params tensor.Conv2DParams) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}
	if err := params.Validate(); err != nil {
		panic(fmt.Sprintf("conv2d: %v", err))
	}
	checkSameDType("conv2d", input, kernel)

	g := convGeometry{
		N:      inputShape[0],
		CIn:    inputShape[1],
		H:      inputShape[2],
		W:      inputShape[3],
		COut:   kernelShape[0],
		KH:     kernelShape[2],
		KW:     kernelShape[3],
		params: params,
	}
	if g.CIn != kernelShape[1] {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", g.CIn, kernelShape[1]))
	}

	out := params.OutputSize(g.H, g.W, g.KH, g.KW)
	g.HOut, g.WOut = out[0], out[1]
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", g.HOut, g.WOut))
	}

	output := cpu.alloc("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, input.DType())
	switch input.DType() {
	case tensor.Float32:
		conv2dFloat(output.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(), g)
	case tensor.Float64:
		conv2dFloat(output.AsFloat64(), input.AsFloat64(), kernel.AsFloat64(), g)
	}
	return output
}

// convGeometry gathers the sizes of one convolution.
type convGeometry struct {
	N, CIn, H, W int
	COut, KH, KW int
	HOut, WOut   int
	params       tensor.Conv2DParams
}

func conv2dFloat[T tensor.Float](outputData, inputData, kernelData []T, g convGeometry) {
	// colBuf: [N * H_out * W_out, C_in * K_h * K_w]
	colWidth := g.CIn * g.KH * g.KW
	colHeight := g.N * g.HOut * g.WOut
	colBuf := make([]T, colHeight*colWidth)
	im2col(colBuf, inputData, g)

	// tmp[C_out, N*H_out*W_out] = kernel[C_out, colWidth] @ colBuf^T
	tmp := make([]T, g.COut*colHeight)
	gemm(false, true, g.COut, colHeight, colWidth, kernelData, colBuf, tmp)

	// Rearrange from [C_out, N*H_out*W_out] to [N, C_out, H_out, W_out].
	spatial := g.HOut * g.WOut
	for n := range g.N {
		for c := range g.COut {
			src := tmp[c*colHeight+n*spatial : c*colHeight+(n+1)*spatial]
			dst := outputData[(n*g.COut+c)*spatial : (n*g.COut+c+1)*spatial]
			copy(dst, src)
		}
	}
}

// im2col transforms the input into one row per output position; each column
// is one kernel tap. Taps falling into the padding read zero.
func im2col[T tensor.Float](colBuf, inputData []T, g convGeometry) {
	colWidth := g.CIn * g.KH * g.KW
	colIdx := 0

	for n := range g.N {
		for outH := range g.HOut {
			for outW := range g.WOut {
				// Top-left corner in input space
				hStart := outH*g.params.Stride[0] - g.params.Padding[0]
				wStart := outW*g.params.Stride[1] - g.params.Padding[1]
				bufIdx := colIdx * colWidth

				for c := range g.CIn {
					for kh := range g.KH {
						for kw := range g.KW {
							h := hStart + kh
							w := wStart + kw
							if h >= 0 && h < g.H && w >= 0 && w < g.W {
								colBuf[bufIdx] = inputData[((n*g.CIn+c)*g.H+h)*g.W+w]
							}
							bufIdx++
						}
					}
				}
				colIdx++
			}
		}
	}
}

// AddChannelBias adds bias[c] to every element of channel c.
//
// x shape: [N, C, H, W], bias shape: [C].
func (cpu *CPUBackend) AddChannelBias(x, bias *tensor.RawTensor) *tensor.RawTensor {
	xShape := x.Shape()
	if len(xShape) != 4 {
		panic(fmt.Sprintf("conv2d bias: input must be 4D [N,C,H,W], got %dD", len(xShape)))
	}
	if len(bias.Shape()) != 1 || bias.Shape()[0] != xShape[1] {
		panic(fmt.Sprintf("conv2d bias: bias shape %v does not match %d channels", bias.Shape(), xShape[1]))
	}
	checkSameDType("conv2d bias", x, bias)

	result := cpu.alloc("conv2d bias", xShape, x.DType())
	switch x.DType() {
	case tensor.Float32:
		addChannelBias(result.AsFloat32(), x.AsFloat32(), bias.AsFloat32(), xShape, cpu.parallel)
	case tensor.Float64:
		addChannelBias(result.AsFloat64(), x.AsFloat64(), bias.AsFloat64(), xShape, cpu.parallel)
	}
	return result
}

func addChannelBias[T tensor.Float](dst, x, bias []T, shape tensor.Shape, cfg parallel.Config) {
	spatial := shape[2] * shape[3]
	parallel.ForBatch(shape[0], shape[1], func(n, c int) {
		base := (n*shape[1] + c) * spatial
		for i := base; i < base+spatial; i++ {
			dst[i] = x[i] + bias[c]
		}
	}, cfg.WithMinChunkSize(max(1, 4096/max(spatial, 1))))
}
