package conv

import (
	"testing"

	"github.com/born-ml/convdnn/internal/tensor"
)

// The double-backward constructions are validated against the
// first-order operations they must agree with. Both gradient terms are
// linear in the operand they differentiate, so the weight gradient of
// the double backward equals the ordinary weight gradient taken at
// input ggInput, and its input gradient equals the ordinary input
// gradient taken with ggWeight in the weight slot. Float64 keeps the
// two computation orders bit-comparable to tight tolerance.

func TestDoubleBackwardOrdinary(t *testing.T) {
	e := NewEngine(nil, nil)
	opts := Options{Stride: []int{2, 2}, Padding: []int{1, 1}}

	input := mustF64(t, seqF64(2*3*6*6), tensor.Shape{2, 3, 6, 6}, tensor.CPU)
	weight := mustF64(t, seqF64(4*3*3*3), tensor.Shape{4, 3, 3, 3}, tensor.CPU)
	gradOut := mustF64(t, seqF64(2*4*3*3), tensor.Shape{2, 4, 3, 3}, tensor.CPU)
	ggI := mustF64(t, seqF64(2*3*6*6), tensor.Shape{2, 3, 6, 6}, tensor.CPU)
	ggW := mustF64(t, seqF64(4*3*3*3), tensor.Shape{4, 3, 3, 3}, tensor.CPU)
	ggB := mustF64(t, seqF64(4), tensor.Shape{4}, tensor.CPU)

	ggO, gI, gW, err := e.ConvolutionDoubleBackward(ggI, ggW, ggB, gradOut, input, weight, opts, [3]bool{true, true, true})
	if err != nil {
		t.Fatalf("ConvolutionDoubleBackward: %v", err)
	}

	// ggO = conv(ggI, w) + ggb broadcast + conv(i, ggW).
	term1, err := e.Convolution(ggI, weight, ggB, opts)
	if err != nil {
		t.Fatalf("Convolution: %v", err)
	}
	term2, err := e.Convolution(input, ggW, nil, opts)
	if err != nil {
		t.Fatalf("Convolution: %v", err)
	}
	wantGGO, err := tensor.Add(term1, term2)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	assertCloseF64(t, ggO.Contiguous().AsFloat64(), wantGGO.AsFloat64(), 1e-9)

	// gW agrees with the ordinary weight gradient at input ggI.
	_, wantGW, _, err := e.ConvolutionBackward(ggI, weight, gradOut, opts, [3]bool{false, true, false})
	if err != nil {
		t.Fatalf("ConvolutionBackward: %v", err)
	}
	if !gW.Shape().Equal(weight.Shape()) {
		t.Fatalf("gradWeight shape %v, want %v", gW.Shape(), weight.Shape())
	}
	assertCloseF64(t, gW.Contiguous().AsFloat64(), wantGW.Contiguous().AsFloat64(), 1e-9)

	// gI agrees with the ordinary input gradient under weight ggW.
	wantGI, _, _, err := e.ConvolutionBackward(input, ggW, gradOut, opts, [3]bool{true, false, false})
	if err != nil {
		t.Fatalf("ConvolutionBackward: %v", err)
	}
	if !gI.Shape().Equal(input.Shape()) {
		t.Fatalf("gradInput shape %v, want %v", gI.Shape(), input.Shape())
	}
	assertCloseF64(t, gI.Contiguous().AsFloat64(), wantGI.Contiguous().AsFloat64(), 1e-9)
}

func TestDoubleBackwardGrouped(t *testing.T) {
	e := NewEngine(nil, nil)
	opts := Options{Padding: []int{1, 1}, Groups: 2}

	input := mustF64(t, seqF64(2*4*6*6), tensor.Shape{2, 4, 6, 6}, tensor.CPU)
	weight := mustF64(t, seqF64(6*2*3*3), tensor.Shape{6, 2, 3, 3}, tensor.CPU)
	gradOut := mustF64(t, seqF64(2*6*6*6), tensor.Shape{2, 6, 6, 6}, tensor.CPU)
	ggI := mustF64(t, seqF64(2*4*6*6), tensor.Shape{2, 4, 6, 6}, tensor.CPU)
	ggW := mustF64(t, seqF64(6*2*3*3), tensor.Shape{6, 2, 3, 3}, tensor.CPU)

	_, gI, gW, err := e.ConvolutionDoubleBackward(ggI, ggW, nil, gradOut, input, weight, opts, [3]bool{true, true, true})
	if err != nil {
		t.Fatalf("ConvolutionDoubleBackward: %v", err)
	}

	_, wantGW, _, err := e.ConvolutionBackward(ggI, weight, gradOut, opts, [3]bool{false, true, false})
	if err != nil {
		t.Fatalf("ConvolutionBackward: %v", err)
	}
	assertCloseF64(t, gW.Contiguous().AsFloat64(), wantGW.Contiguous().AsFloat64(), 1e-9)

	wantGI, _, _, err := e.ConvolutionBackward(input, ggW, gradOut, opts, [3]bool{true, false, false})
	if err != nil {
		t.Fatalf("ConvolutionBackward: %v", err)
	}
	assertCloseF64(t, gI.Contiguous().AsFloat64(), wantGI.Contiguous().AsFloat64(), 1e-9)
}

func TestDoubleBackwardTransposed(t *testing.T) {
	e := NewEngine(nil, nil)
	opts := Options{
		Transposed:    true,
		Stride:        []int{2, 2},
		Padding:       []int{1, 1},
		OutputPadding: []int{1, 1},
	}

	input := mustF64(t, seqF64(1*4*5*5), tensor.Shape{1, 4, 5, 5}, tensor.CPU)
	weight := mustF64(t, seqF64(4*3*3*3), tensor.Shape{4, 3, 3, 3}, tensor.CPU)
	gradOut := mustF64(t, seqF64(1*3*10*10), tensor.Shape{1, 3, 10, 10}, tensor.CPU)
	ggI := mustF64(t, seqF64(1*4*5*5), tensor.Shape{1, 4, 5, 5}, tensor.CPU)
	ggW := mustF64(t, seqF64(4*3*3*3), tensor.Shape{4, 3, 3, 3}, tensor.CPU)

	ggO, gI, gW, err := e.ConvolutionDoubleBackward(ggI, ggW, nil, gradOut, input, weight, opts, [3]bool{true, true, true})
	if err != nil {
		t.Fatalf("ConvolutionDoubleBackward: %v", err)
	}
	if !ggO.Shape().Equal(gradOut.Shape()) {
		t.Fatalf("ggOutput shape %v, want %v", ggO.Shape(), gradOut.Shape())
	}

	_, wantGW, _, err := e.ConvolutionBackward(ggI, weight, gradOut, opts, [3]bool{false, true, false})
	if err != nil {
		t.Fatalf("ConvolutionBackward: %v", err)
	}
	if !gW.Shape().Equal(weight.Shape()) {
		t.Fatalf("gradWeight shape %v, want %v", gW.Shape(), weight.Shape())
	}
	assertCloseF64(t, gW.Contiguous().AsFloat64(), wantGW.Contiguous().AsFloat64(), 1e-9)

	wantGI, _, _, err := e.ConvolutionBackward(input, ggW, gradOut, opts, [3]bool{true, false, false})
	if err != nil {
		t.Fatalf("ConvolutionBackward: %v", err)
	}
	if !gI.Shape().Equal(input.Shape()) {
		t.Fatalf("gradInput shape %v, want %v", gI.Shape(), input.Shape())
	}
	assertCloseF64(t, gI.Contiguous().AsFloat64(), wantGI.Contiguous().AsFloat64(), 1e-9)
}

func TestDoubleBackwardZeroTerms(t *testing.T) {
	e := NewEngine(nil, nil)
	opts := Options{Padding: []int{1, 1}}

	input := mustF64(t, seqF64(1*2*5*5), tensor.Shape{1, 2, 5, 5}, tensor.CPU)
	weight := mustF64(t, seqF64(3*2*3*3), tensor.Shape{3, 2, 3, 3}, tensor.CPU)
	gradOut := mustF64(t, seqF64(1*3*5*5), tensor.Shape{1, 3, 5, 5}, tensor.CPU)

	ggO, gI, gW, err := e.ConvolutionDoubleBackward(nil, nil, nil, gradOut, input, weight, opts, [3]bool{true, true, true})
	if err != nil {
		t.Fatalf("ConvolutionDoubleBackward: %v", err)
	}
	for _, tc := range []struct {
		name string
		got  *tensor.RawTensor
		like *tensor.RawTensor
	}{
		{"ggOutput", ggO, gradOut},
		{"gradInput", gI, input},
		{"gradWeight", gW, weight},
	} {
		if tc.got == nil {
			t.Fatalf("%s is nil, want zeros", tc.name)
		}
		if !tc.got.Shape().Equal(tc.like.Shape()) {
			t.Fatalf("%s shape %v, want %v", tc.name, tc.got.Shape(), tc.like.Shape())
		}
		for i, v := range tc.got.AsFloat64() {
			if v != 0 {
				t.Fatalf("%s element %d = %v, want 0", tc.name, i, v)
			}
		}
	}

	// With nothing requested, nothing is produced.
	ggO, gI, gW, err = e.ConvolutionDoubleBackward(nil, nil, nil, gradOut, input, weight, opts, [3]bool{})
	if err != nil {
		t.Fatalf("ConvolutionDoubleBackward: %v", err)
	}
	if ggO != nil || gI != nil || gW != nil {
		t.Fatal("unrequested outputs should be nil")
	}
}
