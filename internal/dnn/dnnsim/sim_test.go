package dnnsim

import (
	"errors"
	"math"
	"testing"

	"github.com/born-ml/convdnn/internal/backend/cpu"
	"github.com/born-ml/convdnn/internal/dnn"
	"github.com/born-ml/convdnn/internal/tensor"
)

func seqF32(n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(math.Cos(float64(i)*0.3)) + 0.05*float32(i%7)
	}
	return data
}

func mustF32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromFloat32(data, shape, tensor.CPU)
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	return raw
}

func mustZeros(t *testing.T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	return raw
}

func fwdArgs(t *testing.T, groups int) dnn.ConvArgs {
	t.Helper()
	return dnn.ConvArgs{
		Input:  mustF32(t, seqF32(2*4*6*6), tensor.Shape{2, 4, 6, 6}),
		Weight: mustF32(t, seqF32(6*(4/groups)*3*3), tensor.Shape{6, 4 / groups, 3, 3}),
		Output: mustZeros(t, tensor.Shape{2, 6, 4, 4}),
		Desc: dnn.ConvDesc{
			Padding:  []int{0, 0},
			Stride:   []int{1, 1},
			Dilation: []int{1, 1},
			Groups:   groups,
		},
	}
}

func TestAllocatorBudget(t *testing.T) {
	a := NewAllocator(1024)

	buf, err := a.Alloc(1000)
	if err != nil {
		t.Fatalf("Alloc within budget: %v", err)
	}
	if _, err := a.Alloc(100); !errors.Is(err, dnn.ErrOutOfMemory) {
		t.Fatalf("Alloc over budget: got %v, want ErrOutOfMemory", err)
	}
	buf.Release()
	if got := a.Used(); got != 0 {
		t.Fatalf("Used after release: %d, want 0", got)
	}
	if _, err := a.Alloc(100); err != nil {
		t.Fatalf("Alloc after release: %v", err)
	}
}

func TestAllocatorMaxBlock(t *testing.T) {
	a := NewAllocator(1<<20, WithMaxBlock(256))

	free, total, maxBlock := a.MemInfo()
	if free != 1<<20 || total != 1<<20 {
		t.Fatalf("MemInfo free=%d total=%d, want both %d", free, total, 1<<20)
	}
	if maxBlock != 256 {
		t.Fatalf("MemInfo maxBlock=%d, want 256", maxBlock)
	}
	if _, err := a.Alloc(512); !errors.Is(err, dnn.ErrOutOfMemory) {
		t.Fatalf("Alloc over max block: got %v, want ErrOutOfMemory", err)
	}
	if _, err := a.Alloc(256); err != nil {
		t.Fatalf("Alloc at max block: %v", err)
	}
}

func TestSearchOrdersByTime(t *testing.T) {
	sim := New()
	a := NewAllocator(1 << 30)
	args := fwdArgs(t, 1)

	ws, err := a.Alloc(1 << 28)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer ws.Release()

	perf, err := sim.FindFwdAlgorithms(args, []dnn.FwdAlgo{
		dnn.FwdImplicitGemm, dnn.FwdGemm, dnn.FwdFFT, dnn.FwdWinograd,
	}, ws)
	if err != nil {
		t.Fatalf("FindFwdAlgorithms: %v", err)
	}
	if perf[0].Algo != dnn.FwdFFT {
		t.Fatalf("fastest algorithm %s, want FFT", perf[0].Algo)
	}
	for i := 1; i < len(perf); i++ {
		if perf[i].Err == nil && perf[i-1].Err == nil && perf[i].Time < perf[i-1].Time {
			t.Fatalf("results not sorted by time at %d", i)
		}
	}
}

func TestSearchRespectsTrialWorkspace(t *testing.T) {
	sim := New()
	a := NewAllocator(1 << 30)
	args := fwdArgs(t, 1)

	// Too small for anything but the zero-workspace algorithms.
	ws, err := a.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer ws.Release()

	perf, err := sim.FindFwdAlgorithms(args, []dnn.FwdAlgo{dnn.FwdImplicitGemm, dnn.FwdFFT}, ws)
	if err != nil {
		t.Fatalf("FindFwdAlgorithms: %v", err)
	}
	if perf[0].Algo != dnn.FwdImplicitGemm || perf[0].Err != nil {
		t.Fatalf("feasible algorithm first: got %s err=%v", perf[0].Algo, perf[0].Err)
	}
	last := perf[len(perf)-1]
	if last.Algo != dnn.FwdFFT || !errors.Is(last.Err, dnn.ErrOutOfMemory) {
		t.Fatalf("infeasible algorithm sorted last with ErrOutOfMemory, got %s err=%v", last.Algo, last.Err)
	}
}

func TestNoDeterministicAlgorithmsOption(t *testing.T) {
	sim := New(WithNoDeterministicAlgorithms())
	a := NewAllocator(1 << 30)
	args := fwdArgs(t, 1)

	ws, _ := a.Alloc(1 << 28)
	defer ws.Release()
	perf, err := sim.FindFwdAlgorithms(args, allFwdAlgos(), ws)
	if err != nil {
		t.Fatalf("FindFwdAlgorithms: %v", err)
	}
	for _, p := range perf {
		if p.Deterministic {
			t.Fatalf("algorithm %s reported deterministic", p.Algo)
		}
	}
}

func TestHeuristicHonorsWorkspaceLimit(t *testing.T) {
	sim := New()
	args := fwdArgs(t, 1)

	unbounded, err := sim.FwdAlgorithm(args, 1<<40)
	if err != nil {
		t.Fatalf("FwdAlgorithm: %v", err)
	}
	if unbounded != dnn.FwdFFT {
		t.Fatalf("unbounded heuristic picked %s, want FFT", unbounded)
	}
	bounded, err := sim.FwdAlgorithm(args, 0)
	if err != nil {
		t.Fatalf("FwdAlgorithm: %v", err)
	}
	if need, _ := sim.FwdWorkspaceSize(args, bounded); need != 0 {
		t.Fatalf("bounded heuristic picked %s needing %d bytes", bounded, need)
	}
}

func TestForwardMatchesDirectKernel(t *testing.T) {
	sim := New()
	args := fwdArgs(t, 1)

	if err := sim.ConvolutionForward(args, dnn.FwdImplicitGemm, nil); err != nil {
		t.Fatalf("ConvolutionForward: %v", err)
	}
	want, err := cpu.New().ConvForward(args.Input, args.Weight, args.Desc.Stride, args.Desc.Padding, args.Desc.Dilation)
	if err != nil {
		t.Fatalf("ConvForward: %v", err)
	}
	got := args.Output.AsFloat32()
	ref := want.AsFloat32()
	for i := range got {
		if diff := got[i] - ref[i]; diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("element %d: got %v, want %v", i, got[i], ref[i])
		}
	}
}

func TestGroupedForwardMatchesManualLoop(t *testing.T) {
	sim := New()
	args := fwdArgs(t, 2)

	if err := sim.ConvolutionForward(args, dnn.FwdImplicitGemm, nil); err != nil {
		t.Fatalf("ConvolutionForward: %v", err)
	}

	backend := cpu.New()
	for g := 0; g < 2; g++ {
		in := args.Input.NarrowGroup(1, g, 2).Contiguous()
		w := args.Weight.NarrowGroup(0, g, 2).Contiguous()
		want, err := backend.ConvForward(in, w, args.Desc.Stride, args.Desc.Padding, args.Desc.Dilation)
		if err != nil {
			t.Fatalf("ConvForward group %d: %v", g, err)
		}
		got := args.Output.NarrowGroup(1, g, 2).Contiguous().AsFloat32()
		ref := want.AsFloat32()
		for i := range got {
			if diff := got[i] - ref[i]; diff > 1e-4 || diff < -1e-4 {
				t.Fatalf("group %d element %d: got %v, want %v", g, i, got[i], ref[i])
			}
		}
	}
}

func TestGroupedRejectedWithoutNativeSupport(t *testing.T) {
	sim := New(WithNativeGroups(false))
	args := fwdArgs(t, 2)
	if err := sim.ConvolutionForward(args, dnn.FwdImplicitGemm, nil); err == nil {
		t.Fatal("expected error for grouped convolution without native support")
	}
}

func TestExecuteEnforcesWorkspace(t *testing.T) {
	sim := New()
	args := fwdArgs(t, 1)
	err := sim.ConvolutionForward(args, dnn.FwdFFT, nil)
	if !errors.Is(err, dnn.ErrOutOfMemory) {
		t.Fatalf("FFT with no workspace: got %v, want ErrOutOfMemory", err)
	}
}

func TestBackwardDataFillsInputSlot(t *testing.T) {
	sim := New()
	gradOut := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})
	weight := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})
	gradIn := mustZeros(t, tensor.Shape{1, 1, 3})
	args := dnn.ConvArgs{
		Input:  gradIn,
		Output: gradOut,
		Weight: weight,
		Desc:   dnn.ConvDesc{Padding: []int{0}, Stride: []int{1}, Dilation: []int{1}, Groups: 1},
	}
	if err := sim.ConvolutionBackwardData(args, dnn.BwdDataAlgo0, nil); err != nil {
		t.Fatalf("ConvolutionBackwardData: %v", err)
	}
	want := []float32{1, 2, 1}
	for i, v := range gradIn.AsFloat32() {
		if v != want[i] {
			t.Fatalf("gradInput[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestBackwardFilterFillsWeightSlot(t *testing.T) {
	sim := New()
	input := mustF32(t, []float32{1, 2, 3}, tensor.Shape{1, 1, 3})
	gradOut := mustF32(t, []float32{1, 1}, tensor.Shape{1, 1, 2})
	gradW := mustZeros(t, tensor.Shape{1, 1, 2})
	args := dnn.ConvArgs{
		Input:  input,
		Output: gradOut,
		Weight: gradW,
		Desc:   dnn.ConvDesc{Padding: []int{0}, Stride: []int{1}, Dilation: []int{1}, Groups: 1},
	}
	if err := sim.ConvolutionBackwardFilter(args, dnn.BwdFilterAlgo0, nil); err != nil {
		t.Fatalf("ConvolutionBackwardFilter: %v", err)
	}
	want := []float32{3, 5}
	for i, v := range gradW.AsFloat32() {
		if v != want[i] {
			t.Fatalf("gradWeight[%d] = %v, want %v", i, v, want[i])
		}
	}
}
