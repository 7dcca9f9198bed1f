package conv

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/dnn"
	"github.com/born-ml/convdnn/internal/tensor"
)

// The raw entry points wire one vendor call: build the fingerprint,
// run algorithm selection and workspace negotiation, execute, release
// the workspace. Each exec wrapper above them applies the grouped
// execution strategy: a single call with groups passed through when
// the library supports them natively, or a channel-narrowed loop of
// single-group raw calls when it does not.

func (e *Engine) rawForward(output, input, weight *tensor.RawTensor, o *Options) error {
	p, err := BuildParams(input, weight, o.Padding, o.Stride, o.Dilation, o.Groups, o.Deterministic)
	if err != nil {
		return err
	}
	args := dnn.ConvArgs{Input: input, Output: output, Weight: weight, Desc: o.desc()}
	algo, ws, err := chooseAlgorithm[dnn.FwdAlgo](fwdStrategy{e.lib}, e.fwdCache, e.alloc, args, &p, o.Benchmark)
	if err != nil {
		return err
	}
	defer ws.release()
	return e.lib.ConvolutionForward(args, algo, ws.buf)
}

// rawBackwardData fills gradInput from gradOutput and weight. The
// fingerprint is built from the gradInput geometry, which occupies the
// input slot of the argument bundle.
func (e *Engine) rawBackwardData(gradInput, gradOutput, weight *tensor.RawTensor, o *Options) error {
	p, err := BuildParams(gradInput, weight, o.Padding, o.Stride, o.Dilation, o.Groups, o.Deterministic)
	if err != nil {
		return err
	}
	args := dnn.ConvArgs{Input: gradInput, Output: gradOutput, Weight: weight, Desc: o.desc()}
	algo, ws, err := chooseAlgorithm[dnn.BwdDataAlgo](bwdDataStrategy{e.lib}, e.bwdDataCache, e.alloc, args, &p, o.Benchmark)
	if err != nil {
		return err
	}
	defer ws.release()
	return e.lib.ConvolutionBackwardData(args, algo, ws.buf)
}

func (e *Engine) rawBackwardFilter(gradWeight, input, gradOutput *tensor.RawTensor, o *Options) error {
	p, err := BuildParams(input, gradWeight, o.Padding, o.Stride, o.Dilation, o.Groups, o.Deterministic)
	if err != nil {
		return err
	}
	args := dnn.ConvArgs{Input: input, Output: gradOutput, Weight: gradWeight, Desc: o.desc()}
	algo, ws, err := chooseAlgorithm[dnn.BwdFilterAlgo](bwdFilterStrategy{e.lib}, e.bwdFilterCache, e.alloc, args, &p, o.Benchmark)
	if err != nil {
		return err
	}
	defer ws.release()
	return e.lib.ConvolutionBackwardFilter(args, algo, ws.buf)
}

// perGroupRaw runs raw once per group over channel-narrowed views,
// with groups forced to 1. dims gives the narrow dimension for the
// (input-slot, output-slot, weight) tensors in that order.
func (e *Engine) perGroupRaw(a, b, w *tensor.RawTensor, o *Options, raw func(a, b, w *tensor.RawTensor, o *Options) error) error {
	sub := o.clone()
	sub.Groups = 1
	for g := 0; g < o.Groups; g++ {
		aG := a.NarrowGroup(1, g, o.Groups)
		bG := b.NarrowGroup(1, g, o.Groups)
		wG := w.NarrowGroup(0, g, o.Groups)
		if err := raw(aG, bG, wG, &sub); err != nil {
			return fmt.Errorf("group %d of %d: %w", g, o.Groups, err)
		}
	}
	return nil
}

func (e *Engine) execForward(output, input, weight *tensor.RawTensor, o *Options) error {
	if o.Groups == 1 || e.lib.Capabilities().NativeGroups {
		return e.rawForward(output, input, weight, o)
	}
	return e.perGroupRaw(input, output, weight, o,
		func(in, out, w *tensor.RawTensor, sub *Options) error {
			return e.rawForward(out, in, w, sub)
		})
}

func (e *Engine) execBackwardData(gradInput, gradOutput, weight *tensor.RawTensor, o *Options) error {
	if o.Groups == 1 || e.lib.Capabilities().NativeGroups {
		return e.rawBackwardData(gradInput, gradOutput, weight, o)
	}
	return e.perGroupRaw(gradInput, gradOutput, weight, o,
		func(gi, gradOut, w *tensor.RawTensor, sub *Options) error {
			return e.rawBackwardData(gi, gradOut, w, sub)
		})
}

func (e *Engine) execBackwardFilter(gradWeight, input, gradOutput *tensor.RawTensor, o *Options) error {
	if o.Groups == 1 || e.lib.Capabilities().NativeGroups {
		return e.rawBackwardFilter(gradWeight, input, gradOutput, o)
	}
	return e.perGroupRaw(input, gradOutput, gradWeight, o,
		func(in, gradOut, gw *tensor.RawTensor, sub *Options) error {
			return e.rawBackwardFilter(gw, in, gradOut, sub)
		})
}
