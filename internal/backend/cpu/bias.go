package cpu

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/tensor"
)

// AddBias adds bias [C] to output [N, C, sp...] in place.
func (c *Backend) AddBias(output, bias *tensor.RawTensor) error {
	if err := checkFloatDType("add bias", output.DType()); err != nil {
		return err
	}
	if bias.Dim() != 1 || bias.Size(0) != output.Size(1) {
		return fmt.Errorf("add bias: bias shape %v does not match %d output channels",
			bias.Shape(), output.Size(1))
	}
	if bias.DType() != output.DType() {
		return fmt.Errorf("add bias: dtype mismatch %s vs %s", bias.DType(), output.DType())
	}
	if !output.IsContiguous() {
		return fmt.Errorf("add bias: output must be contiguous")
	}

	n := output.Size(0)
	channels := output.Size(1)
	plane := prod(output.Shape()[2:])
	switch output.DType() {
	case tensor.Float32:
		addBias(output.AsFloat32(), bias.Contiguous().AsFloat32(), n, channels, plane)
	case tensor.Float64:
		addBias(output.AsFloat64(), bias.Contiguous().AsFloat64(), n, channels, plane)
	}
	return nil
}

func addBias[T float](out, bias []T, n, channels, plane int) {
	for b := 0; b < n; b++ {
		for ch := 0; ch < channels; ch++ {
			base := (b*channels + ch) * plane
			v := bias[ch]
			for i := base; i < base+plane; i++ {
				out[i] += v
			}
		}
	}
}

// BiasBackward reduces gradOutput [N, C, sp...] over batch and spatial
// dimensions, yielding the bias gradient [C].
func (c *Backend) BiasBackward(gradOutput *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := checkFloatDType("bias backward", gradOutput.DType()); err != nil {
		return nil, err
	}
	gb, err := tensor.NewRaw(tensor.Shape{gradOutput.Size(1)}, gradOutput.DType(), gradOutput.Device())
	if err != nil {
		return nil, fmt.Errorf("bias backward: %w", err)
	}
	gc := gradOutput.Contiguous()
	n := gradOutput.Size(0)
	channels := gradOutput.Size(1)
	plane := prod(gradOutput.Shape()[2:])
	switch gradOutput.DType() {
	case tensor.Float32:
		biasBackward(gb.AsFloat32(), gc.AsFloat32(), n, channels, plane)
	case tensor.Float64:
		biasBackward(gb.AsFloat64(), gc.AsFloat64(), n, channels, plane)
	}
	return gb, nil
}

func biasBackward[T float](gb, gradOut []T, n, channels, plane int) {
	for ch := 0; ch < channels; ch++ {
		var acc float64
		for b := 0; b < n; b++ {
			base := (b*channels + ch) * plane
			for i := base; i < base+plane; i++ {
				acc += float64(gradOut[i])
			}
		}
		gb[ch] = T(acc)
	}
}
