package conv

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/backend/cpu"
	"github.com/born-ml/convdnn/internal/dnn"
	"github.com/born-ml/convdnn/internal/tensor"
)

// Engine orchestrates convolution execution. It owns one algorithm
// cache per direction and carries the vendor library, the device
// allocator and the native CPU kernels it dispatches between. A nil
// library (or allocator) disables the vendor branch entirely; every
// call then runs on the native kernels.
type Engine struct {
	lib    dnn.Library
	alloc  dnn.Allocator
	native *cpu.Backend

	fwdCache       *Cache[dnn.FwdAlgo]
	bwdDataCache   *Cache[dnn.BwdDataAlgo]
	bwdFilterCache *Cache[dnn.BwdFilterAlgo]
}

// NewEngine creates an engine with fresh algorithm caches. lib and
// alloc may both be nil for a CPU-only engine.
func NewEngine(lib dnn.Library, alloc dnn.Allocator) *Engine {
	return &Engine{
		lib:            lib,
		alloc:          alloc,
		native:         cpu.New(),
		fwdCache:       NewCache[dnn.FwdAlgo](),
		bwdDataCache:   NewCache[dnn.BwdDataAlgo](),
		bwdFilterCache: NewCache[dnn.BwdFilterAlgo](),
	}
}

// useLibrary reports whether the vendor branch may run this call.
func (e *Engine) useLibrary(input *tensor.RawTensor, o *Options) bool {
	if e.lib == nil || e.alloc == nil || !input.Device().IsGPU() {
		return false
	}
	if o.Deterministic && o.isDilated() && !e.lib.Capabilities().DeterministicDilation {
		return false
	}
	return !o.isOutputPaddingBig()
}

// useOptimizedCPU reports whether the im2col fast path applies: CPU
// float32 NCHW, no dilation, ordinary convolution, single group.
func (e *Engine) useOptimizedCPU(input *tensor.RawTensor, o *Options) bool {
	return input.Device() == tensor.CPU &&
		input.DType() == tensor.Float32 &&
		input.Dim() == 4 &&
		!o.isDilated() &&
		!o.Transposed &&
		o.Groups == 1
}

func checkShapeForward(input, weight, bias *tensor.RawTensor, groups int, transposed bool) error {
	k := input.Dim()
	if weight.Dim() != k {
		return fmt.Errorf("expected %d-dimensional weight for %d-dimensional input %v, but got weight of size %v instead",
			k, k, input.Shape(), weight.Shape())
	}
	if weight.Size(0) < groups {
		return fmt.Errorf("given groups=%d, expected weight to be at least %d at dimension 0, but got weight of size %v instead",
			groups, groups, weight.Shape())
	}
	if input.DType() != weight.DType() {
		return fmt.Errorf("input type (%s) and weight type (%s) should be the same", input.DType(), weight.DType())
	}
	if input.Device() != weight.Device() {
		return fmt.Errorf("input device (%s) and weight device (%s) should be the same", input.Device(), weight.Device())
	}
	if bias != nil {
		if input.DType() != bias.DType() {
			return fmt.Errorf("input type (%s) and bias type (%s) should be the same", input.DType(), bias.DType())
		}
		if input.Device() != bias.Device() {
			return fmt.Errorf("input device (%s) and bias device (%s) should be the same", input.Device(), bias.Device())
		}
	}
	if !transposed {
		if input.Size(1) != weight.Size(1)*groups {
			return fmt.Errorf("given groups=%d, weight%v, so expected input%v to have %d channels, but got %d channels instead",
				groups, weight.Shape(), input.Shape(), weight.Size(1)*groups, input.Size(1))
		}
		if bias != nil && (bias.Dim() != 1 || bias.Size(0) != weight.Size(0)) {
			return fmt.Errorf("given weight of size %v, expected bias to be 1-dimensional with %d elements, but got bias of size %v instead",
				weight.Shape(), weight.Size(0), bias.Shape())
		}
	} else {
		if input.Size(1) != weight.Size(0) {
			return fmt.Errorf("given transposed=true, weight%v, so expected input%v to have %d channels, but got %d channels instead",
				weight.Shape(), input.Shape(), weight.Size(0), input.Size(1))
		}
		if bias != nil && (bias.Dim() != 1 || bias.Size(0) != weight.Size(1)*groups) {
			return fmt.Errorf("given transposed=true, weight of size %v, expected bias to be 1-dimensional with %d elements, but got bias of size %v instead",
				weight.Shape(), weight.Size(1)*groups, bias.Shape())
		}
	}
	return nil
}

// prepare normalizes the hyperparameters and validates the call. It
// returns densified input/weight and the normalized options; rank-3
// problems are lifted to rank 4 with lifted set.
func prepare(input, weight, bias *tensor.RawTensor, opts Options) (in, w *tensor.RawTensor, o Options, lifted bool, err error) {
	if input == nil || weight == nil {
		return nil, nil, o, false, fmt.Errorf("conv: input and weight must be non-nil")
	}
	k := input.Dim()
	if k < 3 || k > maxRank {
		return nil, nil, o, false, fmt.Errorf("conv: expected 3D, 4D or 5D input, got %dD: %w", k, ErrUnsupported)
	}

	o = opts.clone()
	if err = o.normalize(k - 2); err != nil {
		return nil, nil, o, false, fmt.Errorf("conv: %w", err)
	}
	if o.isPaddingNeg() {
		return nil, nil, o, false, fmt.Errorf("conv: negative padding is not supported, got %v", o.Padding)
	}
	if o.isOutputPaddingNeg() {
		return nil, nil, o, false, fmt.Errorf("conv: negative output_padding is not supported, got %v", o.OutputPadding)
	}
	if err = checkShapeForward(input, weight, bias, o.Groups, o.Transposed); err != nil {
		return nil, nil, o, false, fmt.Errorf("conv: %w", err)
	}

	in = input.Contiguous()
	// Contiguous weight is a correctness requirement of the vendor
	// library and the native kernels, not an optimization.
	w = weight.Contiguous()
	if k == 3 {
		o.view1dAs2d()
		in = in.Unsqueeze(2).Contiguous()
		w = w.Unsqueeze(2).Contiguous()
		lifted = true
	}
	return in, w, o, lifted, nil
}

// Convolution computes a forward (or transposed-forward) convolution,
// adding bias along the channel dimension when present. Dispatch
// picks, in priority order, the depthwise kernel, the vendor library,
// the optimized CPU path, or the native fallback.
func (e *Engine) Convolution(input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
	in, w, o, lifted, err := prepare(input, weight, bias, opts)
	if err != nil {
		return nil, err
	}

	var output *tensor.RawTensor
	switch {
	case o.isDepthwise(in, w):
		output, err = e.depthwiseForward(in, w, bias, &o)
	case e.useLibrary(in, &o):
		output, err = e.libraryForward(in, w, bias, &o)
	case e.useOptimizedCPU(in, &o):
		output, err = e.optimizedCPUForward(in, w, bias, &o)
	default:
		output, err = e.fallbackForward(in, w, bias, &o)
	}
	if err != nil {
		return nil, err
	}
	if lifted {
		output = output.Squeeze(2)
	}
	return output, nil
}

func (e *Engine) depthwiseForward(input, weight, bias *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	output, err := e.native.DepthwiseConvForward(input, weight, o.Stride, o.Padding, o.Dilation)
	if err != nil {
		return nil, fmt.Errorf("conv depthwise: %w", err)
	}
	if bias != nil {
		if err := e.native.AddBias(output, bias); err != nil {
			return nil, fmt.Errorf("conv depthwise: %w", err)
		}
	}
	return output, nil
}

func (e *Engine) libraryForward(input, weight, bias *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	var output *tensor.RawTensor
	var err error
	if o.Transposed {
		// Transposed forward is the backward-data computation of the
		// ordinary convolution relating the result to the input.
		shape := InputSize(input.Shape(), weight.Shape(), o.Padding, o.OutputPadding, o.Stride, o.Dilation, o.Groups)
		output, err = tensor.NewRaw(shape, input.DType(), input.Device())
		if err == nil {
			err = e.execBackwardData(output, input, weight, o)
		}
	} else {
		shape := OutputSize(input.Shape(), weight.Shape(), o.Padding, o.Stride, o.Dilation)
		output, err = tensor.NewRaw(shape, input.DType(), input.Device())
		if err == nil {
			err = e.execForward(output, input, weight, o)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("conv library: %w", err)
	}
	if bias != nil {
		if err := e.lib.AddBias(output, bias); err != nil {
			return nil, fmt.Errorf("conv library bias: %w", err)
		}
	}
	return output, nil
}

func (e *Engine) optimizedCPUForward(input, weight, bias *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	output, err := e.native.Conv2DIm2col(input, weight, o.Stride, o.Padding)
	if err != nil {
		return nil, fmt.Errorf("conv im2col: %w", err)
	}
	if bias != nil {
		if err := e.native.AddBias(output, bias); err != nil {
			return nil, fmt.Errorf("conv im2col bias: %w", err)
		}
	}
	return output, nil
}

// fallbackForward runs the native kernels with an explicit per-group
// loop, concatenating the group outputs along the channel dimension.
func (e *Engine) fallbackForward(input, weight, bias *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	if o.Transposed {
		for i, p := range o.OutputPadding {
			if p >= o.Stride[i] && p >= o.Dilation[i] {
				return nil, fmt.Errorf("conv fallback: output padding must be smaller than either stride or dilation, but got output_padding=%d, stride=%d, dilation=%d at dimension %d: %w",
					p, o.Stride[i], o.Dilation[i], i, ErrUnsupported)
			}
		}
	}
	var output *tensor.RawTensor
	var err error
	if o.Groups == 1 {
		output, err = e.nogroupForward(input, weight, o)
	} else {
		outputs := make([]*tensor.RawTensor, o.Groups)
		for g := 0; g < o.Groups; g++ {
			inG := input.NarrowGroup(1, g, o.Groups).Contiguous()
			wG := weight.NarrowGroup(0, g, o.Groups).Contiguous()
			outputs[g], err = e.nogroupForward(inG, wG, o)
			if err != nil {
				break
			}
		}
		if err == nil {
			output, err = tensor.Concat(outputs, 1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("conv fallback: %w", err)
	}
	if bias != nil {
		if err := e.native.AddBias(output, bias); err != nil {
			return nil, fmt.Errorf("conv fallback bias: %w", err)
		}
	}
	return output, nil
}

// nogroupForward is the single-group native computation.
func (e *Engine) nogroupForward(input, weight *tensor.RawTensor, o *Options) (*tensor.RawTensor, error) {
	if o.Transposed {
		return e.native.ConvTransposeForward(input, weight, o.Stride, o.Padding, o.OutputPadding, o.Dilation)
	}
	return e.native.ConvForward(input, weight, o.Stride, o.Padding, o.Dilation)
}
