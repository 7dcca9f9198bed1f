// Package conv implements convolution dispatch and algorithm
// selection: the shape algebra relating input, weight and output
// geometries, a fingerprint-keyed cache of benchmarked algorithms,
// per-direction search strategies with workspace negotiation against a
// device allocator, and the orchestration that picks between the
// depthwise, vendor-library, optimized-CPU and native fallback
// execution branches.
package conv

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/tensor"
)

// OutputSize computes the output shape of a forward convolution. The
// batch extent copies the input's, the channel extent copies the
// weight's output-channel extent, and each spatial dimension follows
//
//	out[d] = floor((in[d] + 2*padding[d] - (dilation[d]*(k[d]-1)+1)) / stride[d]) + 1
func OutputSize(input, weight tensor.Shape, padding, stride, dilation []int) tensor.Shape {
	dim := len(input)
	out := make(tensor.Shape, dim)
	out[0] = input[0]
	out[1] = weight[0]
	for d := 2; d < dim; d++ {
		kernel := dilation[d-2]*(weight[d]-1) + 1
		out[d] = (input[d]+2*padding[d-2]-kernel)/stride[d-2] + 1
	}
	return out
}

// InputSize is the algebraic inverse of OutputSize. outputPadding
// resolves the many-to-one collapse of strided convolution: several
// input extents map to the same output extent, and outputPadding picks
// which one to recover. The channel extent is weight's input-channel
// extent times groups, matching the transposed-convolution weight
// layout [C_in, C_out/groups, k...].
func InputSize(output, weight tensor.Shape, padding, outputPadding, stride, dilation []int, groups int) tensor.Shape {
	dim := len(output)
	in := make(tensor.Shape, dim)
	in[0] = output[0]
	in[1] = weight[1] * groups
	for d := 2; d < dim; d++ {
		kernel := dilation[d-2]*(weight[d]-1) + 1
		in[d] = (output[d]-1)*stride[d-2] - 2*padding[d-2] + kernel + outputPadding[d-2]
	}
	return in
}

// WeightSize recovers the weight shape from the input and output
// geometries, used to shape the weight gradient. The output-channel
// extent is output's channel extent; the input-channel extent is
// input's channel extent divided by groups.
func WeightSize(input, output tensor.Shape, padding, outputPadding, stride, dilation []int, groups int) tensor.Shape {
	dim := len(input)
	w := make(tensor.Shape, dim)
	w[0] = output[1]
	w[1] = input[1] / groups
	for d := 2; d < dim; d++ {
		kernel := input[d] - (output[d]-1)*stride[d-2] + 2*padding[d-2] - outputPadding[d-2]
		w[d] = (kernel-1)/dilation[d-2] + 1
	}
	return w
}

// expandParam applies the single-value-expands-to-all-dims convenience
// rule: a one-element parameter list is broadcast to the spatial rank,
// any other length mismatch is a configuration error.
func expandParam(param []int, name string, dim int) ([]int, error) {
	if len(param) == 1 {
		expanded := make([]int, dim)
		for i := range expanded {
			expanded[i] = param[0]
		}
		return expanded, nil
	}
	if len(param) != dim {
		return nil, fmt.Errorf("expected %s to be a single value or a list of %d values to match the convolution dimensions, but got %s=%v",
			name, dim, name, param)
	}
	return append([]int(nil), param...), nil
}
