package cpu

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/parallel"
	"github.com/born-ml/convdnn/internal/tensor"
)

// Conv2DIm2col computes a 2D float32 convolution through the im2col
// transformation followed by a matrix multiply. It is the optimized
// path for the common case: 4D float32 tensors, groups == 1, no
// dilation. Anything else goes through the direct kernel.
//
// Algorithm:
//  1. Transform input patches into columns [N*H_out*W_out, C_in*KH*KW].
//  2. Treat the weight as a [C_out, C_in*KH*KW] matrix (its natural
//     row-major layout).
//  3. Multiply and rearrange into [N, C_out, H_out, W_out].
//
// Reference: "High Performance Convolutional Neural Networks for
// Document Processing" (Chellapilla et al., 2006).
func (c *Backend) Conv2DIm2col(input, weight *tensor.RawTensor, stride, padding []int) (*tensor.RawTensor, error) {
	if input.DType() != tensor.Float32 {
		return nil, fmt.Errorf("conv2d im2col: want float32, got %s", input.DType())
	}
	if input.Dim() != 4 || weight.Dim() != 4 {
		return nil, fmt.Errorf("conv2d im2col: want 4D input and weight, got %dD and %dD",
			input.Dim(), weight.Dim())
	}
	if input.Size(1) != weight.Size(1) {
		return nil, fmt.Errorf("conv2d im2col: input channels %d do not match weight channels %d",
			input.Size(1), weight.Size(1))
	}

	n, cin, h, w := input.Size(0), input.Size(1), input.Size(2), input.Size(3)
	cout, kh, kw := weight.Size(0), weight.Size(2), weight.Size(3)
	hOut := (h+2*padding[0]-kh)/stride[0] + 1
	wOut := (w+2*padding[1]-kw)/stride[1] + 1
	if hOut <= 0 || wOut <= 0 {
		return nil, fmt.Errorf("conv2d im2col: non-positive output extents %dx%d", hOut, wOut)
	}

	output, err := tensor.NewRaw(tensor.Shape{n, cout, hOut, wOut}, tensor.Float32, input.Device())
	if err != nil {
		return nil, fmt.Errorf("conv2d im2col: %w", err)
	}

	inData := input.Contiguous().AsFloat32()
	wData := weight.Contiguous().AsFloat32()
	outData := output.AsFloat32()

	colWidth := cin * kh * kw
	colHeight := n * hOut * wOut
	colBuf := make([]float32, colHeight*colWidth)
	im2col(colBuf, inData, n, cin, h, w, kh, kw, hOut, wOut, stride, padding, c.par)

	// result[co, j] = sum_k weight[co, k] * colBuf[j, k], written
	// straight into NCHW order: column j enumerates (b, y, x) in
	// row-major order, so the output offset is a simple remap.
	outPlane := hOut * wOut
	parallel.For(cout, func(co int) {
		wRow := wData[co*colWidth : (co+1)*colWidth]
		for j := 0; j < colHeight; j++ {
			col := colBuf[j*colWidth : (j+1)*colWidth]
			var sum float32
			for k, cv := range col {
				sum += wRow[k] * cv
			}
			b := j / outPlane
			outData[(b*cout+co)*outPlane+j%outPlane] = sum
		}
	}, c.par)

	return output, nil
}

// im2col fills colBuf [N*H_out*W_out, C_in*KH*KW]; one row per output
// position, one column per kernel weight. Out-of-bounds taps stay zero
// (colBuf starts zeroed).
func im2col(colBuf, inData []float32, n, cin, h, w, kh, kw, hOut, wOut int, stride, padding []int, cfg parallel.Config) {
	colWidth := cin * kh * kw
	inPlane := h * w
	parallel.ForBatch(n, hOut, func(b, y int) {
		hStart := y*stride[0] - padding[0]
		for x := 0; x < wOut; x++ {
			wStart := x*stride[1] - padding[1]
			bufIdx := ((b*hOut+y)*wOut + x) * colWidth
			for ci := 0; ci < cin; ci++ {
				inBase := (b*cin + ci) * inPlane
				for ky := 0; ky < kh; ky++ {
					iy := hStart + ky
					if iy < 0 || iy >= h {
						bufIdx += kw
						continue
					}
					for kx := 0; kx < kw; kx++ {
						ix := wStart + kx
						if ix >= 0 && ix < w {
							colBuf[bufIdx] = inData[inBase+iy*w+ix]
						}
						bufIdx++
					}
				}
			}
		}
	}, cfg)
}
