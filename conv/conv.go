// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package conv provides the public API for convolution dispatch and
// algorithm selection.
//
// An Engine owns per-direction algorithm caches and dispatches every
// call between a specialized depthwise kernel, a vendor device library,
// an optimized CPU path and a native fallback. Construct one engine per
// device and reuse it; the benchmark results it caches are keyed by the
// full parameter fingerprint of each call.
//
// Example:
//
//	e := conv.NewCPUEngine()
//	out, err := conv.Conv2D(e, input, weight, bias, conv.Options{
//		Stride:  []int{2, 2},
//		Padding: []int{1, 1},
//	})
package conv

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/conv"
	"github.com/born-ml/convdnn/internal/device/webgpu"
	"github.com/born-ml/convdnn/internal/dnn"
	"github.com/born-ml/convdnn/internal/tensor"
)

// Options carries the hyperparameters of one convolution call.
// Per-dimension slices may hold a single value, which expands to every
// spatial dimension; nil selects the defaults (stride 1, padding 0,
// dilation 1, one group).
type Options = conv.Options

// Engine orchestrates convolution execution for one device.
type Engine = conv.Engine

// Sentinel errors surfaced by the engine.
var (
	// ErrNoDeterministicAlgorithm reports that benchmark search found
	// no bit-reproducible algorithm while determinism was demanded.
	ErrNoDeterministicAlgorithm = conv.ErrNoDeterministicAlgorithm
	// ErrUnsupported marks convolution parameters outside what any
	// execution branch can express.
	ErrUnsupported = conv.ErrUnsupported
)

// NewEngine creates an engine backed by a vendor library and the
// device allocator its workspaces come from. Both may be nil for a
// CPU-only engine.
func NewEngine(lib dnn.Library, alloc dnn.Allocator) *Engine {
	return conv.NewEngine(lib, alloc)
}

// NewCPUEngine creates an engine that runs everything on the native
// CPU kernels.
func NewCPUEngine() *Engine {
	return conv.NewEngine(nil, nil)
}

// NewWebGPUEngine creates an engine whose workspaces are allocated on
// a WebGPU device. lib supplies the convolution kernels for that
// device. budget caps the device memory the engine may use; zero picks
// a conservative default.
func NewWebGPUEngine(lib dnn.Library, budget uint64) (*Engine, error) {
	var opts []webgpu.Option
	if budget != 0 {
		opts = append(opts, webgpu.WithBudget(budget))
	}
	alloc, err := webgpu.NewAllocator(opts...)
	if err != nil {
		return nil, err
	}
	return conv.NewEngine(lib, alloc), nil
}

// WebGPUAvailable checks whether a WebGPU device can be initialized on
// this system.
func WebGPUAvailable() bool {
	return webgpu.IsAvailable()
}

// OutputSize computes the output shape of a forward convolution.
func OutputSize(input, weight tensor.Shape, padding, stride, dilation []int) tensor.Shape {
	return conv.OutputSize(input, weight, padding, stride, dilation)
}

// InputSize is the algebraic inverse of OutputSize, the shape of a
// transposed convolution's result.
func InputSize(output, weight tensor.Shape, padding, outputPadding, stride, dilation []int, groups int) tensor.Shape {
	return conv.InputSize(output, weight, padding, outputPadding, stride, dilation, groups)
}

func convRank(e *Engine, rank int, name string, input, weight, bias *tensor.RawTensor, opts Options, transposed bool) (*tensor.RawTensor, error) {
	if input != nil && input.Dim() != rank+2 {
		return nil, fmt.Errorf("%s: expected %d-dimensional input, got %d dimensions", name, rank+2, input.Dim())
	}
	opts.Transposed = transposed
	return e.Convolution(input, weight, bias, opts)
}

// Conv1D runs an ordinary 1-D convolution: input [N, C, L], weight
// [C_out, C_in/groups, K]. bias may be nil.
func Conv1D(e *Engine, input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
	return convRank(e, 1, "conv1d", input, weight, bias, opts, false)
}

// Conv2D runs an ordinary 2-D convolution: input [N, C, H, W], weight
// [C_out, C_in/groups, KH, KW]. bias may be nil.
func Conv2D(e *Engine, input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
	return convRank(e, 2, "conv2d", input, weight, bias, opts, false)
}

// Conv3D runs an ordinary 3-D convolution: input [N, C, D, H, W].
func Conv3D(e *Engine, input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
	return convRank(e, 3, "conv3d", input, weight, bias, opts, false)
}

// ConvTranspose1D runs a transposed 1-D convolution: weight
// [C_in, C_out/groups, K]. Options.OutputPadding selects among the
// input lengths the forward stride collapsed together.
func ConvTranspose1D(e *Engine, input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
	return convRank(e, 1, "conv_transpose1d", input, weight, bias, opts, true)
}

// ConvTranspose2D runs a transposed 2-D convolution.
func ConvTranspose2D(e *Engine, input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
	return convRank(e, 2, "conv_transpose2d", input, weight, bias, opts, true)
}

// ConvTranspose3D runs a transposed 3-D convolution.
func ConvTranspose3D(e *Engine, input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
	return convRank(e, 3, "conv_transpose3d", input, weight, bias, opts, true)
}
