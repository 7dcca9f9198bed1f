package cpu

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/parallel"
	"github.com/born-ml/convdnn/internal/tensor"
)

// ConvBackwardInput computes the gradient with respect to the input of
// a convolution: gradOutput [N, C_out, osp...] is scattered back
// through weight [C_out, C_in, k...] into a tensor of inputShape.
func (c *Backend) ConvBackwardInput(inputShape tensor.Shape, gradOutput, weight *tensor.RawTensor, stride, padding, dilation []int) (*tensor.RawTensor, error) {
	if err := checkFloatDType("conv backward input", gradOutput.DType()); err != nil {
		return nil, err
	}
	if gradOutput.Size(1) != weight.Size(0) {
		return nil, fmt.Errorf("conv backward input: gradient channels %d do not match weight output channels %d",
			gradOutput.Size(1), weight.Size(0))
	}
	if inputShape[1] != weight.Size(1) {
		return nil, fmt.Errorf("conv backward input: input channels %d do not match weight input channels %d",
			inputShape[1], weight.Size(1))
	}
	return c.scatterInto(inputShape, gradOutput, weight, stride, padding, dilation)
}

// ConvTransposeForward computes a transposed convolution of input
// [N, C_in, sp...] with weight [C_in, C_out, k...]. It is the same
// scatter as the input gradient of an ordinary convolution; only the
// weight channel layout and the output size formula differ.
func (c *Backend) ConvTransposeForward(input, weight *tensor.RawTensor, stride, padding, outputPadding, dilation []int) (*tensor.RawTensor, error) {
	if err := checkFloatDType("conv transpose", input.DType()); err != nil {
		return nil, err
	}
	if input.Size(1) != weight.Size(0) {
		return nil, fmt.Errorf("conv transpose: input channels %d do not match weight channels %d",
			input.Size(1), weight.Size(0))
	}

	rank := input.Dim() - 2
	inSp := input.Shape()[2:]
	k := weight.Shape()[2:]
	outShape := make(tensor.Shape, 0, rank+2)
	outShape = append(outShape, input.Size(0), weight.Size(1))
	for d := 0; d < rank; d++ {
		ext := (inSp[d]-1)*stride[d] - 2*padding[d] + dilation[d]*(k[d]-1) + 1 + outputPadding[d]
		if ext <= 0 {
			return nil, fmt.Errorf("conv transpose: non-positive output extent %d at spatial dimension %d", ext, d)
		}
		outShape = append(outShape, ext)
	}
	return c.scatterInto(outShape, input, weight, stride, padding, dilation)
}

// scatterInto allocates a zeroed tensor of dstShape and scatters
// src [N, C_src, ssp...] into it through w [C_src, C_dst, k...]:
//
//	dst[b, cd, sp*stride - pad + kk*dil] += src[b, cs, sp] * w[cs, cd, kk]
//
// Writes for distinct (b, cd) pairs never alias, so the parallel split
// runs over batch and destination channel.
func (c *Backend) scatterInto(dstShape tensor.Shape, src, w *tensor.RawTensor, stride, padding, dilation []int) (*tensor.RawTensor, error) {
	dst, err := tensor.NewRaw(dstShape, src.DType(), src.Device())
	if err != nil {
		return nil, fmt.Errorf("conv scatter: %w", err)
	}
	sc := src.Contiguous()
	wc := w.Contiguous()
	switch src.DType() {
	case tensor.Float32:
		convScatter(dst.AsFloat32(), sc.AsFloat32(), wc.AsFloat32(),
			src.Size(0), src.Size(1), dstShape[1],
			src.Shape()[2:], dstShape[2:], w.Shape()[2:], stride, padding, dilation, c.par)
	case tensor.Float64:
		convScatter(dst.AsFloat64(), sc.AsFloat64(), wc.AsFloat64(),
			src.Size(0), src.Size(1), dstShape[1],
			src.Shape()[2:], dstShape[2:], w.Shape()[2:], stride, padding, dilation, c.par)
	}
	return dst, nil
}

func convScatter[T float](dst, src, w []T, n, csrc, cdst int, srcSp, dstSp, k, stride, pad, dil []int, cfg parallel.Config) {
	dstStr := spatialStrides(dstSp)
	srcPlane := prod(srcSp)
	dstPlane := prod(dstSp)
	kVol := prod(k)
	rank := len(srcSp)

	parallel.ForBatch(n, cdst, func(b, cd int) {
		dstBase := (b*cdst + cd) * dstPlane
		si := make([]int, rank)
		ki := make([]int, rank)
		for cs := 0; cs < csrc; cs++ {
			srcBase := (b*csrc + cs) * srcPlane
			wBase := (cs*cdst + cd) * kVol
			for d := range si {
				si[d] = 0
			}
			for s := 0; s < srcPlane; s++ {
				v := float64(src[srcBase+s])
				for d := range ki {
					ki[d] = 0
				}
				for kk := 0; kk < kVol; kk++ {
					off := 0
					ok := true
					for d := 0; d < rank; d++ {
						dp := si[d]*stride[d] - pad[d] + ki[d]*dil[d]
						if dp < 0 || dp >= dstSp[d] {
							ok = false
							break
						}
						off += dp * dstStr[d]
					}
					if ok {
						dst[dstBase+off] = T(float64(dst[dstBase+off]) + v*float64(w[wBase+kk]))
					}
					advance(ki, k)
				}
				advance(si, srcSp)
			}
		}
	}, cfg)
}

// ConvBackwardWeight computes the gradient with respect to the weight:
//
//	gw[co, ci, kk] = sum over b, op of gradOutput[b, co, op] * input[b, ci, op*stride - pad + kk*dil]
//
// weightShape is [C_out, C_in, k...].
func (c *Backend) ConvBackwardWeight(weightShape tensor.Shape, gradOutput, input *tensor.RawTensor, stride, padding, dilation []int) (*tensor.RawTensor, error) {
	if err := checkFloatDType("conv backward weight", gradOutput.DType()); err != nil {
		return nil, err
	}
	if gradOutput.Size(1) != weightShape[0] {
		return nil, fmt.Errorf("conv backward weight: gradient channels %d do not match weight output channels %d",
			gradOutput.Size(1), weightShape[0])
	}
	if input.Size(1) != weightShape[1] {
		return nil, fmt.Errorf("conv backward weight: input channels %d do not match weight input channels %d",
			input.Size(1), weightShape[1])
	}

	gw, err := tensor.NewRaw(weightShape, gradOutput.DType(), gradOutput.Device())
	if err != nil {
		return nil, fmt.Errorf("conv backward weight: %w", err)
	}
	gc := gradOutput.Contiguous()
	ic := input.Contiguous()
	switch gradOutput.DType() {
	case tensor.Float32:
		convBackwardWeight(gw.AsFloat32(), gc.AsFloat32(), ic.AsFloat32(),
			input.Size(0), weightShape[1], weightShape[0],
			input.Shape()[2:], gradOutput.Shape()[2:], weightShape[2:], stride, padding, dilation, c.par)
	case tensor.Float64:
		convBackwardWeight(gw.AsFloat64(), gc.AsFloat64(), ic.AsFloat64(),
			input.Size(0), weightShape[1], weightShape[0],
			input.Shape()[2:], gradOutput.Shape()[2:], weightShape[2:], stride, padding, dilation, c.par)
	}
	return gw, nil
}

func convBackwardWeight[T float](gw, gradOut, in []T, n, cin, cout int, inSp, outSp, k, stride, pad, dil []int, cfg parallel.Config) {
	inStr := spatialStrides(inSp)
	inPlane := prod(inSp)
	outPlane := prod(outSp)
	kVol := prod(k)
	rank := len(inSp)

	parallel.ForBatch(cout, cin, func(co, ci int) {
		wBase := (co*cin + ci) * kVol
		ki := make([]int, rank)
		os := make([]int, rank)
		for kk := 0; kk < kVol; kk++ {
			var acc float64
			for b := 0; b < n; b++ {
				goBase := (b*cout + co) * outPlane
				inBase := (b*cin + ci) * inPlane
				for d := range os {
					os[d] = 0
				}
				for o := 0; o < outPlane; o++ {
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
						acc += float64(gradOut[goBase+o]) * float64(in[inBase+off])
					}
					advance(os, outSp)
				}
			}
			gw[wBase+kk] = T(acc)
			advance(ki, k)
		}
	}, cfg)
}
