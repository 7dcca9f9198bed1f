package ops

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/tensor"
)

// registerConvOps wires the convolution operators: inputs are
// (input, weight) with an optional trailing bias; the gradient
// generator returns (gradInput, gradWeight, gradBias) aligned with
// them.
func (r *Registry) registerConvOps() {
	for _, name := range []string{"Conv1d", "Conv2d", "Conv3d"} {
		r.Register(name, &OpSpec{
			MinInputs: 2,
			MaxInputs: 3,
			Handler:   convHandler(false),
			Gradient:  convGradient(false),
		})
	}
	for _, name := range []string{"ConvTranspose1d", "ConvTranspose2d", "ConvTranspose3d"} {
		r.Register(name, &OpSpec{
			MinInputs: 2,
			MaxInputs: 3,
			Handler:   convHandler(true),
			Gradient:  convGradient(true),
		})
	}
}

func splitConvInputs(inputs []*tensor.RawTensor) (input, weight, bias *tensor.RawTensor) {
	input, weight = inputs[0], inputs[1]
	if len(inputs) == 3 {
		bias = inputs[2]
	}
	return input, weight, bias
}

func convHandler(transposed bool) OpHandler {
	return func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		input, weight, bias := splitConvInputs(inputs)
		opts := node.Opts
		opts.Transposed = transposed
		output, err := ctx.Engine.Convolution(input, weight, bias, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.OpType, err)
		}
		return []*tensor.RawTensor{output}, nil
	}
}

func convGradient(transposed bool) GradientFunc {
	return func(ctx *Context, node *Node, inputs, gradOutputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(gradOutputs) != 1 {
			return nil, fmt.Errorf("%s: expected 1 output gradient, got %d", node.OpType, len(gradOutputs))
		}
		input, weight, bias := splitConvInputs(inputs)
		opts := node.Opts
		opts.Transposed = transposed
		mask := [3]bool{true, true, bias != nil}
		gradInput, gradWeight, gradBias, err := ctx.Engine.ConvolutionBackward(input, weight, gradOutputs[0], opts, mask)
		if err != nil {
			return nil, fmt.Errorf("%s gradient: %w", node.OpType, err)
		}
		grads := []*tensor.RawTensor{gradInput, gradWeight}
		if bias != nil {
			grads = append(grads, gradBias)
		}
		return grads, nil
	}
}
