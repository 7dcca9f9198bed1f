package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/convdnn/internal/tensor"
)

func mustF32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromFloat32(data, shape, tensor.CPU)
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	return raw
}

func seqF32(n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		// Deterministic non-trivial values in a small range.
		data[i] = float32(math.Sin(float64(i)*0.7)) + 0.1*float32(i%5)
	}
	return data
}

func assertClose(t *testing.T, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if diff := got[i] - want[i]; diff > tol || diff < -tol {
			t.Fatalf("element %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestConvForwardKnownValues(t *testing.T) {
	c := New()
	input := mustF32(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3})
	weight := mustF32(t, []float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2})

	out, err := c.ConvForward(input, weight, []int{1, 1}, []int{0, 0}, []int{1, 1})
	if err != nil {
		t.Fatalf("ConvForward: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("output shape %v, want [1 1 2 2]", out.Shape())
	}
	assertClose(t, out.AsFloat32(), []float32{12, 16, 24, 28}, 1e-5)
}

func TestConvForwardStridePaddingShape(t *testing.T) {
	c := New()
	input := mustF32(t, seqF32(2*3*8*8), tensor.Shape{2, 3, 8, 8})
	weight := mustF32(t, seqF32(4*3*3*3), tensor.Shape{4, 3, 3, 3})

	out, err := c.ConvForward(input, weight, []int{2, 2}, []int{1, 1}, []int{1, 1})
	if err != nil {
		t.Fatalf("ConvForward: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{2, 4, 4, 4}) {
		t.Fatalf("output shape %v, want [2 4 4 4]", out.Shape())
	}
}

func TestConvForward1DSpatial(t *testing.T) {
	c := New()
	input := mustF32(t, []float32{1, 2, 3}, tensor.Shape{1, 1, 3})
	weight := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})

	out, err := c.ConvForward(input, weight, []int{1}, []int{0}, []int{1})
	if err != nil {
		t.Fatalf("ConvForward: %v", err)
	}
	assertClose(t, out.AsFloat32(), []float32{3, 5}, 1e-6)
}

func TestConvForwardDilation(t *testing.T) {
	c := New()
	input := mustF32(t, []float32{1, 2, 3, 4, 5}, tensor.Shape{1, 1, 5})
	weight := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})

	// Effective kernel extent 3, taps at offsets 0 and 2.
	out, err := c.ConvForward(input, weight, []int{1}, []int{0}, []int{2})
	if err != nil {
		t.Fatalf("ConvForward: %v", err)
	}
	assertClose(t, out.AsFloat32(), []float32{4, 6, 8}, 1e-6)
}

func TestIm2colMatchesDirect(t *testing.T) {
	c := New()
	input := mustF32(t, seqF32(2*3*7*6), tensor.Shape{2, 3, 7, 6})
	weight := mustF32(t, seqF32(5*3*3*3), tensor.Shape{5, 3, 3, 3})
	stride := []int{2, 1}
	padding := []int{1, 2}

	fast, err := c.Conv2DIm2col(input, weight, stride, padding)
	if err != nil {
		t.Fatalf("Conv2DIm2col: %v", err)
	}
	direct, err := c.ConvForward(input, weight, stride, padding, []int{1, 1})
	if err != nil {
		t.Fatalf("ConvForward: %v", err)
	}
	if !fast.Shape().Equal(direct.Shape()) {
		t.Fatalf("shape mismatch: im2col %v, direct %v", fast.Shape(), direct.Shape())
	}
	assertClose(t, fast.AsFloat32(), direct.AsFloat32(), 1e-3)
}

func TestDepthwiseMatchesPerChannel(t *testing.T) {
	c := New()
	channels := 3
	input := mustF32(t, seqF32(2*channels*5*5), tensor.Shape{2, channels, 5, 5})
	weight := mustF32(t, seqF32(channels*3*3), tensor.Shape{channels, 1, 3, 3})
	stride := []int{1, 1}
	padding := []int{1, 1}
	dilation := []int{1, 1}

	dw, err := c.DepthwiseConvForward(input, weight, stride, padding, dilation)
	if err != nil {
		t.Fatalf("DepthwiseConvForward: %v", err)
	}

	for ch := 0; ch < channels; ch++ {
		in := input.NarrowGroup(1, ch, channels).Contiguous()
		w := weight.NarrowGroup(0, ch, channels).Contiguous()
		want, err := c.ConvForward(in, w, stride, padding, dilation)
		if err != nil {
			t.Fatalf("ConvForward channel %d: %v", ch, err)
		}
		got := dw.NarrowGroup(1, ch, channels).Contiguous()
		assertClose(t, got.AsFloat32(), want.AsFloat32(), 1e-4)
	}
}

func TestConvBackwardInputKnownValues(t *testing.T) {
	c := New()
	gradOut := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})
	weight := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})

	gi, err := c.ConvBackwardInput(tensor.Shape{1, 1, 3}, gradOut, weight, []int{1}, []int{0}, []int{1})
	if err != nil {
		t.Fatalf("ConvBackwardInput: %v", err)
	}
	assertClose(t, gi.AsFloat32(), []float32{1, 2, 1}, 1e-6)
}

func TestConvBackwardWeightKnownValues(t *testing.T) {
	c := New()
	input := mustF32(t, []float32{1, 2, 3}, tensor.Shape{1, 1, 3})
	gradOut := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})

	gw, err := c.ConvBackwardWeight(tensor.Shape{1, 1, 2}, gradOut, input, []int{1}, []int{0}, []int{1})
	if err != nil {
		t.Fatalf("ConvBackwardWeight: %v", err)
	}
	assertClose(t, gw.AsFloat32(), []float32{3, 5}, 1e-6)
}

func TestConvTransposeKnownValues(t *testing.T) {
	c := New()
	input := mustF32(t, []float32{1, 2}, tensor.Shape{1, 1, 2})
	// Transposed weight layout [C_in, C_out, k].
	weight := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})

	out, err := c.ConvTransposeForward(input, weight, []int{1}, []int{0}, []int{0}, []int{1})
	if err != nil {
		t.Fatalf("ConvTransposeForward: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 3}) {
		t.Fatalf("output shape %v, want [1 1 3]", out.Shape())
	}
	assertClose(t, out.AsFloat32(), []float32{1, 3, 2}, 1e-6)
}

func TestConvTransposeOutputPadding(t *testing.T) {
	c := New()
	input := mustF32(t, []float32{1, 2}, tensor.Shape{1, 1, 2})
	weight := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})

	out, err := c.ConvTransposeForward(input, weight, []int{2}, []int{0}, []int{1}, []int{1})
	if err != nil {
		t.Fatalf("ConvTransposeForward: %v", err)
	}
	// (2-1)*2 + 2 + 1 = 5 output positions; taps at op = ip*2 + kk.
	if !out.Shape().Equal(tensor.Shape{1, 1, 5}) {
		t.Fatalf("output shape %v, want [1 1 5]", out.Shape())
	}
	assertClose(t, out.AsFloat32(), []float32{1, 1, 2, 2, 0}, 1e-6)
}

func TestAddBiasAndBackward(t *testing.T) {
	c := New()
	out := mustF32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{1, 2, 2, 2})
	bias := mustF32(t, []float32{10, 20}, tensor.Shape{2})

	if err := c.AddBias(out, bias); err != nil {
		t.Fatalf("AddBias: %v", err)
	}
	assertClose(t, out.AsFloat32(), []float32{11, 12, 13, 14, 25, 26, 27, 28}, 1e-6)

	gb, err := c.BiasBackward(out)
	if err != nil {
		t.Fatalf("BiasBackward: %v", err)
	}
	assertClose(t, gb.AsFloat32(), []float32{50, 106}, 1e-5)
}

func TestConvForwardRejectsNonFloat(t *testing.T) {
	c := New()
	input, err := tensor.NewRaw(tensor.Shape{1, 1, 3, 3}, tensor.Int32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	weight := mustF32(t, []float32{1}, tensor.Shape{1, 1, 1, 1})
	if _, err := c.ConvForward(input, weight, []int{1, 1}, []int{0, 0}, []int{1, 1}); err == nil {
		t.Fatal("expected dtype error for int32 input")
	}
}
