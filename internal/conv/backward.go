package conv

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/tensor"
)

// ConvolutionBackward computes the first-order gradients of a
// convolution. mask selects which of (gradInput, gradWeight, gradBias)
// to produce; unrequested outputs come back nil. input and weight are
// the forward operands, gradOutput the downstream gradient.
//
// Transposed convolutions reuse the ordinary directions with the roles
// reversed: the input gradient of a transposed convolution is an
// ordinary forward pass over gradOutput, and its weight gradient is an
// ordinary filter gradient with the input and gradOutput slots
// swapped.
func (e *Engine) ConvolutionBackward(input, weight, gradOutput *tensor.RawTensor, opts Options, mask [3]bool) (*tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor, error) {
	in, w, o, lifted, err := prepare(input, weight, nil, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	if gradOutput == nil {
		return nil, nil, nil, fmt.Errorf("conv backward: gradOutput must be non-nil")
	}
	gradOut := gradOutput.Contiguous()
	if lifted {
		gradOut = gradOut.Unsqueeze(2).Contiguous()
	}

	// Depthwise-eligible calls have no specialized backward kernel;
	// their gradients run through the native fallback loop.
	depthwise := o.isDepthwise(in, w)

	var gradInput, gradWeight, gradBias *tensor.RawTensor
	if mask[0] {
		gradInput, err = e.backwardInput(in.Shape(), w, gradOut, &o, depthwise)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if mask[1] {
		gradWeight, err = e.backwardWeight(w.Shape(), in, gradOut, &o, depthwise)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if mask[2] {
		gradBias, err = e.backwardBias(gradOut)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if lifted {
		if gradInput != nil {
			gradInput = gradInput.Squeeze(2)
		}
		if gradWeight != nil {
			gradWeight = gradWeight.Squeeze(2)
		}
	}
	return gradInput, gradWeight, gradBias, nil
}

func (e *Engine) backwardInput(inputShape tensor.Shape, weight, gradOut *tensor.RawTensor, o *Options, depthwise bool) (*tensor.RawTensor, error) {
	if e.useLibrary(gradOut, o) && !depthwise {
		gradInput, err := tensor.NewRaw(inputShape, gradOut.DType(), gradOut.Device())
		if err != nil {
			return nil, fmt.Errorf("conv backward input: %w", err)
		}
		if o.Transposed {
			err = e.execForward(gradInput, gradOut, weight, o)
		} else {
			err = e.execBackwardData(gradInput, gradOut, weight, o)
		}
		if err != nil {
			return nil, fmt.Errorf("conv backward input: %w", err)
		}
		return gradInput, nil
	}
	return e.fallbackBackwardInput(inputShape, weight, gradOut, o)
}

func (e *Engine) fallbackBackwardInput(inputShape tensor.Shape, weight, gradOut *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	groups := o.Groups
	grads := make([]*tensor.RawTensor, groups)
	groupShape := inputShape.Clone()
	groupShape[1] /= groups
	var err error
	for g := 0; g < groups; g++ {
		goG := gradOut.NarrowGroup(1, g, groups).Contiguous()
		wG := weight.NarrowGroup(0, g, groups).Contiguous()
		if o.Transposed {
			// The input gradient of a transposed convolution is the
			// ordinary forward convolution of gradOutput.
			grads[g], err = e.native.ConvForward(goG, wG, o.Stride, o.Padding, o.Dilation)
		} else {
			grads[g], err = e.native.ConvBackwardInput(groupShape, goG, wG, o.Stride, o.Padding, o.Dilation)
		}
		if err != nil {
			return nil, fmt.Errorf("conv backward input: %w", err)
		}
	}
	if groups == 1 {
		return grads[0], nil
	}
	gradInput, err := tensor.Concat(grads, 1)
	if err != nil {
		return nil, fmt.Errorf("conv backward input: %w", err)
	}
	return gradInput, nil
}

func (e *Engine) backwardWeight(weightShape tensor.Shape, input, gradOut *tensor.RawTensor, o *Options, depthwise bool) (*tensor.RawTensor, error) {
	if e.useLibrary(input, o) && !depthwise {
		gradWeight, err := tensor.NewRaw(weightShape, input.DType(), input.Device())
		if err != nil {
			return nil, fmt.Errorf("conv backward weight: %w", err)
		}
		if o.Transposed {
			err = e.execBackwardFilter(gradWeight, gradOut, input, o)
		} else {
			err = e.execBackwardFilter(gradWeight, input, gradOut, o)
		}
		if err != nil {
			return nil, fmt.Errorf("conv backward weight: %w", err)
		}
		return gradWeight, nil
	}
	return e.fallbackBackwardWeight(weightShape, input, gradOut, o)
}

func (e *Engine) fallbackBackwardWeight(weightShape tensor.Shape, input, gradOut *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	groups := o.Groups
	grads := make([]*tensor.RawTensor, groups)
	groupShape := weightShape.Clone()
	groupShape[0] /= groups
	var err error
	for g := 0; g < groups; g++ {
		inG := input.NarrowGroup(1, g, groups).Contiguous()
		goG := gradOut.NarrowGroup(1, g, groups).Contiguous()
		if o.Transposed {
			grads[g], err = e.native.ConvBackwardWeight(groupShape, inG, goG, o.Stride, o.Padding, o.Dilation)
		} else {
			grads[g], err = e.native.ConvBackwardWeight(groupShape, goG, inG, o.Stride, o.Padding, o.Dilation)
		}
		if err != nil {
			return nil, fmt.Errorf("conv backward weight: %w", err)
		}
	}
	if groups == 1 {
		return grads[0], nil
	}
	gradWeight, err := tensor.Concat(grads, 0)
	if err != nil {
		return nil, fmt.Errorf("conv backward weight: %w", err)
	}
	return gradWeight, nil
}

func (e *Engine) backwardBias(gradOut *tensor.RawTensor) (*tensor.RawTensor, error) {
	if e.lib != nil && gradOut.Device().IsGPU() {
		gradBias, err := e.lib.BackwardBias(gradOut)
		if err != nil {
			return nil, fmt.Errorf("conv backward bias: %w", err)
		}
		return gradBias, nil
	}
	gradBias, err := e.native.BiasBackward(gradOut)
	if err != nil {
		return nil, fmt.Errorf("conv backward bias: %w", err)
	}
	return gradBias, nil
}
