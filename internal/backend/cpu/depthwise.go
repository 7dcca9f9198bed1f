package cpu

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/parallel"
	"github.com/born-ml/convdnn/internal/tensor"
)

// DepthwiseConvForward computes a depthwise 2D convolution: input
// [N, C, H, W] with weight [C*m, 1, KH, KW] and groups == C. Each
// output channel reads exactly one input channel, so the whole group
// loop collapses into an index mapping.
func (c *Backend) DepthwiseConvForward(input, weight *tensor.RawTensor, stride, padding, dilation []int) (*tensor.RawTensor, error) {
	if err := checkFloatDType("depthwise conv", input.DType()); err != nil {
		return nil, err
	}
	if input.Dim() != 4 || weight.Dim() != 4 {
		return nil, fmt.Errorf("depthwise conv: want 4D input and weight, got %dD and %dD",
			input.Dim(), weight.Dim())
	}
	if weight.Size(1) != 1 {
		return nil, fmt.Errorf("depthwise conv: weight input-channel extent is %d, want 1", weight.Size(1))
	}
	channels := input.Size(1)
	if channels == 0 || weight.Size(0)%channels != 0 {
		return nil, fmt.Errorf("depthwise conv: %d output channels not a multiple of %d input channels",
			weight.Size(0), channels)
	}

	inSp := input.Shape()[2:]
	k := weight.Shape()[2:]
	outSp := make([]int, 2)
	for d := 0; d < 2; d++ {
		outSp[d] = (inSp[d]+2*padding[d]-(dilation[d]*(k[d]-1)+1))/stride[d] + 1
		if outSp[d] <= 0 {
			return nil, fmt.Errorf("depthwise conv: non-positive output extent %d at spatial dimension %d", outSp[d], d)
		}
	}

	outShape := tensor.Shape{input.Size(0), weight.Size(0), outSp[0], outSp[1]}
	output, err := tensor.NewRaw(outShape, input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("depthwise conv: %w", err)
	}

	in := input.Contiguous()
	w := weight.Contiguous()
	switch input.DType() {
	case tensor.Float32:
		depthwiseForward(output.AsFloat32(), in.AsFloat32(), w.AsFloat32(),
			input.Size(0), channels, weight.Size(0), inSp, outSp, k, stride, padding, dilation, c.par)
	case tensor.Float64:
		depthwiseForward(output.AsFloat64(), in.AsFloat64(), w.AsFloat64(),
			input.Size(0), channels, weight.Size(0), inSp, outSp, k, stride, padding, dilation, c.par)
	}
	return output, nil
}

func depthwiseForward[T float](out, in, w []T, n, cin, cout int, inSp, outSp, k, stride, pad, dil []int, cfg parallel.Config) {
	mult := cout / cin
	h, wd := inSp[0], inSp[1]
	oh, ow := outSp[0], outSp[1]
	kh, kw := k[0], k[1]
	inPlane := h * wd
	outPlane := oh * ow
	kVol := kh * kw

	parallel.ForBatch(n, cout, func(b, co int) {
		ci := co / mult
		inBase := (b*cin + ci) * inPlane
		outBase := (b*cout + co) * outPlane
		wBase := co * kVol
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				var acc float64
				for ky := 0; ky < kh; ky++ {
					iy := y*stride[0] - pad[0] + ky*dil[0]
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < kw; kx++ {
						ix := x*stride[1] - pad[1] + kx*dil[1]
						if ix < 0 || ix >= wd {
							continue
						}
						acc += float64(in[inBase+iy*wd+ix]) * float64(w[wBase+ky*kw+kx])
					}
				}
				out[outBase+y*ow+x] = T(acc)
			}
		}
	}, cfg)
}
