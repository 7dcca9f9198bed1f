package conv

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/dnn"
	"github.com/born-ml/convdnn/internal/tensor"
)

// Options carries the hyperparameters of one convolution call.
// Per-dimension slices may hold a single value, which expands to every
// spatial dimension during normalization. OutputPadding is consulted
// only when Transposed is set.
type Options struct {
	Stride        []int
	Padding       []int
	Dilation      []int
	Transposed    bool
	OutputPadding []int
	Groups        int

	// Benchmark enables empirical algorithm search; Deterministic
	// restricts selection to bit-reproducible algorithms.
	Benchmark     bool
	Deterministic bool
}

// normalize expands the per-dimension parameters to the spatial rank
// and fills in defaults for the ones left nil.
func (o *Options) normalize(dim int) error {
	var err error
	if o.Stride == nil {
		o.Stride = []int{1}
	}
	if o.Padding == nil {
		o.Padding = []int{0}
	}
	if o.Dilation == nil {
		o.Dilation = []int{1}
	}
	if o.OutputPadding == nil {
		o.OutputPadding = []int{0}
	}
	if o.Groups == 0 {
		o.Groups = 1
	}
	if o.Stride, err = expandParam(o.Stride, "stride", dim); err != nil {
		return err
	}
	if o.Padding, err = expandParam(o.Padding, "padding", dim); err != nil {
		return err
	}
	if o.Dilation, err = expandParam(o.Dilation, "dilation", dim); err != nil {
		return err
	}
	if o.OutputPadding, err = expandParam(o.OutputPadding, "output_padding", dim); err != nil {
		return err
	}
	if o.Groups < 1 {
		return fmt.Errorf("groups must be positive, got %d", o.Groups)
	}
	return nil
}

func (o *Options) isDilated() bool {
	for _, d := range o.Dilation {
		if d != 1 {
			return true
		}
	}
	return false
}

func (o *Options) isPaddingNeg() bool {
	for _, p := range o.Padding {
		if p < 0 {
			return true
		}
	}
	return false
}

func (o *Options) isOutputPaddingNeg() bool {
	for _, p := range o.OutputPadding {
		if p < 0 {
			return true
		}
	}
	return false
}

// isOutputPaddingBig reports whether any output padding reaches its
// stride or dilation, which makes the inverse shape mapping ambiguous.
func (o *Options) isOutputPaddingBig() bool {
	for i, p := range o.OutputPadding {
		if p >= o.Stride[i] || p >= o.Dilation[i] {
			return true
		}
	}
	return false
}

// view1dAs2d prepends a unit spatial dimension to every per-dimension
// parameter, pairing with the tensor-side unsqueeze that lifts a
// rank-3 problem to rank 4.
func (o *Options) view1dAs2d() {
	if len(o.Stride) == 1 {
		o.Stride = append([]int{1}, o.Stride...)
		o.Padding = append([]int{0}, o.Padding...)
		o.Dilation = append([]int{1}, o.Dilation...)
		o.OutputPadding = append([]int{0}, o.OutputPadding...)
	}
}

// isDepthwise reports whether the call qualifies for the specialized
// depthwise kernel: GPU device, ordinary convolution, 4D, every input
// channel its own group, and an output-channel count that is a whole
// multiple of the input channels.
func (o *Options) isDepthwise(input, weight *tensor.RawTensor) bool {
	return input.Device().IsGPU() &&
		!o.Transposed &&
		input.Dim() == 4 &&
		input.Size(1) == o.Groups &&
		o.Groups > 1 &&
		weight.Size(0)%input.Size(1) == 0
}

func (o *Options) clone() Options {
	c := *o
	c.Stride = append([]int(nil), o.Stride...)
	c.Padding = append([]int(nil), o.Padding...)
	c.Dilation = append([]int(nil), o.Dilation...)
	c.OutputPadding = append([]int(nil), o.OutputPadding...)
	return c
}

func (o *Options) desc() dnn.ConvDesc {
	return dnn.ConvDesc{
		Padding:  o.Padding,
		Stride:   o.Stride,
		Dilation: o.Dilation,
		Groups:   o.Groups,
	}
}
