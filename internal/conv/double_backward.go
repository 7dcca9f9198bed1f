package conv

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/tensor"
)

// ConvolutionDoubleBackward composes second-order gradients from the
// first-order operations. Given the forward operands (input, weight),
// the downstream gradient gradOutput, and the gradients ggInput,
// ggWeight, ggBias flowing into the first backward's outputs (any of
// which may be nil), it produces:
//
//	ggOutput   = conv(ggInput, weight) + conv(input, ggWeight) + broadcast(ggBias)
//	gradWeight = dual convolution of gradOutput with ggInput
//	gradInput  = dual convolution of ggWeight with gradOutput
//
// The dual convolutions swap stride with dilation, transpose the batch
// and channel dimensions to accumulate over the batch, and run
// per-group. mask selects which outputs to produce; a requested output
// whose source terms are all nil comes back zero-filled.
func (e *Engine) ConvolutionDoubleBackward(ggInput, ggWeight, ggBias, gradOutput, input, weight *tensor.RawTensor, opts Options, mask [3]bool) (*tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor, error) {
	if input == nil || weight == nil || gradOutput == nil {
		return nil, nil, nil, fmt.Errorf("conv double backward: input, weight and gradOutput must be non-nil")
	}
	o := opts.clone()
	if err := o.normalize(input.Dim() - 2); err != nil {
		return nil, nil, nil, fmt.Errorf("conv double backward: %w", err)
	}

	var ggOutput, gradInput, gradWeight *tensor.RawTensor
	var err error

	if mask[0] {
		ggOutput, err = e.doubleBackwardOutput(ggInput, ggWeight, ggBias, gradOutput, input, weight, &o)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if mask[1] && ggWeight != nil {
		gradInput, err = e.doubleBackwardInput(ggWeight, gradOutput, input, weight, &o)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if mask[2] && ggInput != nil {
		gradWeight, err = e.doubleBackwardWeight(ggInput, gradOutput, weight, &o)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	// Requested outputs with no defined source terms materialize as
	// zeros shaped like their natural counterpart.
	if mask[0] && ggOutput == nil {
		ggOutput = tensor.ZerosLike(gradOutput)
	}
	if mask[1] && gradInput == nil {
		gradInput = tensor.ZerosLike(input)
	}
	if mask[2] && gradWeight == nil {
		gradWeight = tensor.ZerosLike(weight)
	}
	return ggOutput, gradInput, gradWeight, nil
}

// doubleBackwardOutput sums the defined terms of
// conv(ggI, w) + conv(i, ggW) + broadcast(ggb).
func (e *Engine) doubleBackwardOutput(ggInput, ggWeight, ggBias, gradOutput, input, weight *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	var ggOutput *tensor.RawTensor
	var err error
	if ggInput != nil {
		ggOutput, err = e.Convolution(ggInput, weight, nil, *o)
		if err != nil {
			return nil, fmt.Errorf("conv double backward ggOutput: %w", err)
		}
	}
	if ggWeight != nil {
		term, err := e.Convolution(input, ggWeight, nil, *o)
		if err != nil {
			return nil, fmt.Errorf("conv double backward ggOutput: %w", err)
		}
		if ggOutput == nil {
			ggOutput = term
		} else {
			ggOutput, err = tensor.Add(ggOutput, term)
			if err != nil {
				return nil, fmt.Errorf("conv double backward ggOutput: %w", err)
			}
		}
	}
	if ggBias != nil {
		if ggOutput == nil {
			ggOutput = tensor.ZerosLike(gradOutput)
		}
		if err := e.addBias(ggOutput, ggBias.Contiguous()); err != nil {
			return nil, fmt.Errorf("conv double backward ggOutput: %w", err)
		}
	}
	return ggOutput, nil
}

func (e *Engine) addBias(output, bias *tensor.RawTensor) error {
	if e.lib != nil && output.Device().IsGPU() {
		return e.lib.AddBias(output, bias)
	}
	return e.native.AddBias(output, bias)
}

// doubleBackwardWeight computes the weight gradient as a convolution
// between batch-and-channel transposed views of ggInput and
// gradOutput, with stride and dilation swapped relative to the
// original configuration. The result can overcompute a few trailing
// spatial positions versus asymmetric padding, which the underlying
// kernels cannot express; narrowing back to the exact weight extent
// compensates.
func (e *Engine) doubleBackwardWeight(ggInput, gradOutput, weight *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	dual := o.clone()
	groups := dual.Groups
	dual.Groups = 1
	dual.Stride, dual.Dilation = dual.Dilation, dual.Stride

	gOt := gradOutput.Transpose(0, 1)
	ggIt := ggInput.Transpose(0, 1)

	convDual := func(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
		if o.Transposed {
			// The dual of a transposed convolution runs forward.
			sub := dual.clone()
			sub.Transposed = false
			return e.Convolution(b, a, nil, sub)
		}
		return e.Convolution(a, b, nil, dual)
	}

	var gWt *tensor.RawTensor
	var err error
	if groups == 1 {
		gWt, err = convDual(ggIt, gOt)
	} else {
		parts := make([]*tensor.RawTensor, groups)
		for g := 0; g < groups; g++ {
			ggItG := ggIt.NarrowGroup(0, g, groups)
			gOtG := gOt.NarrowGroup(0, g, groups)
			parts[g], err = convDual(ggItG, gOtG)
			if err != nil {
				break
			}
		}
		if err == nil {
			gWt, err = tensor.Concat(parts, 1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("conv double backward gradWeight: %w", err)
	}

	gradWeight := gWt.Transpose(0, 1)
	for d := 2; d < gradWeight.Dim(); d++ {
		if gradWeight.Size(d) > weight.Size(d) {
			gradWeight = gradWeight.Narrow(d, 0, weight.Size(d))
		}
	}
	return gradWeight.Contiguous(), nil
}

// doubleBackwardInput is the symmetric construction over ggWeight and
// gradOutput with the transposed role flipped. For the ordinary case
// the stride/dilation swap shifts the natural output shape away from
// the original input shape; the discrepancy per spatial dimension is
// assigned to output padding. For the transposed case the overcomputed
// tail is narrowed off instead, since negative output padding cannot
// be expressed.
func (e *Engine) doubleBackwardInput(ggWeight, gradOutput, input, weight *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	dual := o.clone()
	dual.Transposed = !o.Transposed

	if o.Transposed {
		gradInput, err := e.Convolution(gradOutput, ggWeight, nil, dual)
		if err != nil {
			return nil, fmt.Errorf("conv double backward gradInput: %w", err)
		}
		for d := 2; d < gradInput.Dim(); d++ {
			if gradInput.Size(d) > input.Size(d) {
				gradInput = gradInput.Narrow(d, 0, input.Size(d))
			}
		}
		return gradInput.Contiguous(), nil
	}

	groups := dual.Groups
	dual.Groups = 1
	dual.Stride, dual.Dilation = dual.Dilation, dual.Stride

	ggWt := ggWeight.Transpose(0, 1)
	gOt := gradOutput.Transpose(0, 1)

	// Assign the expected-vs-actual input shape discrepancy of the
	// swapped convolution to output padding, per dimension.
	kernel := weight.Shape()[2:]
	inShape := input.Shape()[2:]
	goShape := gradOutput.Shape()[2:]
	for d := range kernel {
		expected := (kernel[d]-1)*dual.Stride[d] - 2*dual.Padding[d] + dual.Dilation[d]*(goShape[d]-1) + 1
		if expected != inShape[d] {
			dual.OutputPadding[d] = inShape[d] - expected
		}
	}

	var gIt *tensor.RawTensor
	var err error
	if groups == 1 {
		gIt, err = e.Convolution(ggWt, gOt, nil, dual)
	} else {
		parts := make([]*tensor.RawTensor, groups)
		for g := 0; g < groups; g++ {
			ggWtG := ggWt.NarrowGroup(1, g, groups)
			gOtG := gOt.NarrowGroup(0, g, groups)
			parts[g], err = e.Convolution(ggWtG, gOtG, nil, dual)
			if err != nil {
				break
			}
		}
		if err == nil {
			gIt, err = tensor.Concat(parts, 0)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("conv double backward gradInput: %w", err)
	}
	return gIt.Transpose(0, 1).Contiguous(), nil
}
