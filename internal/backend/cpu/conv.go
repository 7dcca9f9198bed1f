package cpu

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/parallel"
	"github.com/born-ml/convdnn/internal/tensor"
)

// ConvForward computes a direct convolution of input [N, C_in, sp...]
// with weight [C_out, C_in, k...] for any spatial rank. The kernel
// handles a single group; callers emulate grouped convolution through
// channel narrowing.
func (c *Backend) ConvForward(input, weight *tensor.RawTensor, stride, padding, dilation []int) (*tensor.RawTensor, error) {
	if err := checkFloatDType("conv forward", input.DType()); err != nil {
		return nil, err
	}
	if input.Dim() != weight.Dim() {
		return nil, fmt.Errorf("conv forward: input rank %d does not match weight rank %d",
			input.Dim(), weight.Dim())
	}
	if input.Size(1) != weight.Size(1) {
		return nil, fmt.Errorf("conv forward: input channels %d do not match weight channels %d",
			input.Size(1), weight.Size(1))
	}

	rank := input.Dim() - 2
	inSp := input.Shape()[2:]
	k := weight.Shape()[2:]
	outSp := make([]int, rank)
	for d := 0; d < rank; d++ {
		outSp[d] = (inSp[d]+2*padding[d]-(dilation[d]*(k[d]-1)+1))/stride[d] + 1
		if outSp[d] <= 0 {
			return nil, fmt.Errorf("conv forward: non-positive output extent %d at spatial dimension %d", outSp[d], d)
		}
	}

	outShape := append(tensor.Shape{input.Size(0), weight.Size(0)}, outSp...)
	output, err := tensor.NewRaw(outShape, input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("conv forward: %w", err)
	}

	in := input.Contiguous()
	w := weight.Contiguous()
	switch input.DType() {
	case tensor.Float32:
		convForward(output.AsFloat32(), in.AsFloat32(), w.AsFloat32(),
			input.Size(0), input.Size(1), weight.Size(0),
			inSp, outSp, k, stride, padding, dilation, c.par)
	case tensor.Float64:
		convForward(output.AsFloat64(), in.AsFloat64(), w.AsFloat64(),
			input.Size(0), input.Size(1), weight.Size(0),
			inSp, outSp, k, stride, padding, dilation, c.par)
	}
	return output, nil
}

// convForward is the gather form: every output element sums its
// receptive field. Accumulation is in float64 regardless of the
// element type.
func convForward[T float](out, in, w []T, n, cin, cout int, inSp, outSp, k, stride, pad, dil []int, cfg parallel.Config) {
	inStr := spatialStrides(inSp)
	inPlane := prod(inSp)
	outPlane := prod(outSp)
	kVol := prod(k)
	rank := len(inSp)

	parallel.ForBatch(n, cout, func(b, co int) {
		outBase := (b*cout + co) * outPlane
		wChan := co * cin * kVol
		os := make([]int, rank)
		ki := make([]int, rank)
		for o := 0; o < outPlane; o++ {
			var acc float64
			for ci := 0; ci < cin; ci++ {
				inChan := (b*cin + ci) * inPlane
				wBase := wChan + ci*kVol
				for d := range ki {
					ki[d] = 0
				}
				for kk := 0; kk < kVol; kk++ {
					off := 0
					ok := true
					for d := 0; d < rank; d++ {
						ip := os[d]*stride[d] - pad[d] + ki[d]*dil[d]
						if ip < 0 || ip >= inSp[d] {
							ok = false
							break
						}
						off += ip * inStr[d]
					}
					if ok {
						acc += float64(in[inChan+off]) * float64(w[wBase+kk])
					}
					advance(ki, k)
				}
			}
			out[outBase+o] = T(acc)
			advance(os, outSp)
		}
	}, cfg)
}
