package conv

import (
	"errors"
	"testing"

	"github.com/born-ml/convdnn/internal/dnn"
	"github.com/born-ml/convdnn/internal/dnn/dnnsim"
	"github.com/born-ml/convdnn/internal/tensor"
)

// searchArgs builds a forward problem for selection tests:
// (2,4,6,6) x (6,4,3,3) -> (2,6,4,4) float32. The simulated workspace
// appetites for it are 0 (ImplicitGemm, Direct), 36 bytes (the
// precomputed-index default), 4608 (Gemm) and several kilobytes for
// the FFT and Winograd family.
func searchArgs(t *testing.T) (dnn.ConvArgs, Params) {
	t.Helper()
	input, err := tensor.NewRaw(tensor.Shape{2, 4, 6, 6}, tensor.Float32, tensor.CUDA)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	weight, err := tensor.NewRaw(tensor.Shape{6, 4, 3, 3}, tensor.Float32, tensor.CUDA)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	output, err := tensor.NewRaw(tensor.Shape{2, 6, 4, 4}, tensor.Float32, tensor.CUDA)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	desc := dnn.ConvDesc{Padding: []int{0, 0}, Stride: []int{1, 1}, Dilation: []int{1, 1}, Groups: 1}
	p, err := BuildParams(input, weight, desc.Padding, desc.Stride, desc.Dilation, 1, false)
	if err != nil {
		t.Fatalf("BuildParams: %v", err)
	}
	return dnn.ConvArgs{Input: input, Output: output, Weight: weight, Desc: desc}, p
}

func TestFindAlgorithmBenchmarkCachesWinner(t *testing.T) {
	sim := dnnsim.New()
	alloc := dnnsim.NewAllocator(1 << 30)
	cache := NewCache[dnn.FwdAlgo]()
	args, p := searchArgs(t)

	algo, err := findAlgorithm[dnn.FwdAlgo](fwdStrategy{sim}, cache, alloc, args, &p, true)
	if err != nil {
		t.Fatalf("findAlgorithm: %v", err)
	}
	if algo != dnn.FwdFFT {
		t.Fatalf("benchmark winner = %v, want FFT", algo)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d entries after search, want 1", cache.Len())
	}
	if alloc.EmptyCacheCalls() != 1 {
		t.Fatalf("EmptyCache ran %d times, want 1", alloc.EmptyCacheCalls())
	}
	if alloc.Used() != 0 {
		t.Fatalf("trial workspace leaked: %d bytes still allocated", alloc.Used())
	}

	// The second identical call hits the cache and searches nothing.
	algo, err = findAlgorithm[dnn.FwdAlgo](fwdStrategy{sim}, cache, alloc, args, &p, true)
	if err != nil {
		t.Fatalf("findAlgorithm (cached): %v", err)
	}
	if algo != dnn.FwdFFT {
		t.Fatalf("cached algorithm = %v, want FFT", algo)
	}
	if alloc.EmptyCacheCalls() != 1 {
		t.Fatal("cache hit should not search or touch the allocator again")
	}
}

func TestFindAlgorithmHeuristicNotCached(t *testing.T) {
	sim := dnnsim.New()
	alloc := dnnsim.NewAllocator(1 << 30)
	cache := NewCache[dnn.FwdAlgo]()
	args, p := searchArgs(t)

	algo, err := findAlgorithm[dnn.FwdAlgo](fwdStrategy{sim}, cache, alloc, args, &p, false)
	if err != nil {
		t.Fatalf("findAlgorithm: %v", err)
	}
	if algo != dnn.FwdFFT {
		t.Fatalf("unbounded heuristic = %v, want FFT", algo)
	}
	if cache.Len() != 0 {
		t.Fatal("heuristic results must not be cached")
	}
}

func TestFindAlgorithmDeterministicDefault(t *testing.T) {
	sim := dnnsim.New()
	alloc := dnnsim.NewAllocator(1 << 30)
	cache := NewCache[dnn.FwdAlgo]()
	args, p := searchArgs(t)
	p.Deterministic = true

	algo, err := findAlgorithm[dnn.FwdAlgo](fwdStrategy{sim}, cache, alloc, args, &p, false)
	if err != nil {
		t.Fatalf("findAlgorithm: %v", err)
	}
	if algo != dnn.DefaultFwdAlgo {
		t.Fatalf("deterministic non-benchmark = %v, want the fixed default", algo)
	}
	if cache.Len() != 0 {
		t.Fatal("the fixed default must not be cached")
	}
}

func TestFindAlgorithmNoDeterministicAlgorithm(t *testing.T) {
	sim := dnnsim.New(dnnsim.WithNoDeterministicAlgorithms())
	alloc := dnnsim.NewAllocator(1 << 30)
	cache := NewCache[dnn.FwdAlgo]()
	args, p := searchArgs(t)
	p.Deterministic = true

	_, err := findAlgorithm[dnn.FwdAlgo](fwdStrategy{sim}, cache, alloc, args, &p, true)
	if !errors.Is(err, ErrNoDeterministicAlgorithm) {
		t.Fatalf("err = %v, want ErrNoDeterministicAlgorithm", err)
	}
	if cache.Len() != 0 {
		t.Fatal("a failed search must not poison the cache")
	}
}

func TestMaxTrialWorkspaceBounds(t *testing.T) {
	sim := dnnsim.New()
	args, _ := searchArgs(t)
	s := fwdStrategy{sim}

	// A fragmented device: plenty free but only 100 contiguous bytes.
	alloc := dnnsim.NewAllocator(1<<30, dnnsim.WithMaxBlock(100))
	trial := maxTrialWorkspace[dnn.FwdAlgo](s, alloc, args, s.candidates())
	if trial != 36 {
		t.Fatalf("trial workspace = %d, want 36 (largest candidate under the block cap)", trial)
	}

	// A nearly-full device bounds by free memory instead.
	alloc = dnnsim.NewAllocator(64)
	trial = maxTrialWorkspace[dnn.FwdAlgo](s, alloc, args, s.candidates())
	if trial != 36 {
		t.Fatalf("trial workspace = %d, want 36", trial)
	}
}

func TestFindAlgorithmSmallTrialWorkspace(t *testing.T) {
	sim := dnnsim.New()
	// Only 64 bytes of device memory: search runs with a 36-byte trial
	// buffer and the workspace-hungry algorithms lose.
	alloc := dnnsim.NewAllocator(64)
	cache := NewCache[dnn.FwdAlgo]()
	args, p := searchArgs(t)

	algo, err := findAlgorithm[dnn.FwdAlgo](fwdStrategy{sim}, cache, alloc, args, &p, true)
	if err != nil {
		t.Fatalf("findAlgorithm: %v", err)
	}
	if algo != dnn.FwdImplicitPrecompGemm {
		t.Fatalf("constrained winner = %v, want ImplicitPrecompGemm", algo)
	}
}

func TestChooseAlgorithmOOMFallback(t *testing.T) {
	sim := dnnsim.New()
	// Enough for the default algorithm's workspace, nowhere near the
	// FFT workspace the unbounded heuristic asks for.
	alloc := dnnsim.NewAllocator(1024)
	cache := NewCache[dnn.FwdAlgo]()
	args, p := searchArgs(t)

	algo, ws, err := chooseAlgorithm[dnn.FwdAlgo](fwdStrategy{sim}, cache, alloc, args, &p, false)
	if err != nil {
		t.Fatalf("chooseAlgorithm: %v", err)
	}
	defer ws.release()
	if algo != dnn.DefaultFwdAlgo {
		t.Fatalf("out-of-memory fallback picked %v, want the fixed default", algo)
	}
	if ws.buf == nil || ws.buf.Size() != 36 {
		t.Fatalf("fallback workspace = %v, want a 36-byte buffer", ws.buf)
	}
	// The override is recorded so later identical calls skip straight
	// to the safe choice.
	cached, ok := cache.Find(&p)
	if !ok || cached != dnn.DefaultFwdAlgo {
		t.Fatalf("cache after fallback = (%v, %t), want the default algorithm", cached, ok)
	}
}

func TestChooseAlgorithmOOMFatal(t *testing.T) {
	sim := dnnsim.New()
	// Too small even for the default algorithm's workspace.
	alloc := dnnsim.NewAllocator(8)
	cache := NewCache[dnn.FwdAlgo]()
	args, p := searchArgs(t)

	_, _, err := chooseAlgorithm[dnn.FwdAlgo](fwdStrategy{sim}, cache, alloc, args, &p, false)
	if !errors.Is(err, dnn.ErrOutOfMemory) {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
}

func TestGetBestAlgorithmPolicy(t *testing.T) {
	perf := []dnn.Perf[dnn.FwdAlgo]{
		{Algo: dnn.FwdFFT, Time: 1.0, Deterministic: false},
		{Algo: dnn.FwdWinograd, Time: 1.5, Deterministic: true},
		{Algo: dnn.FwdImplicitGemm, Time: 4.0, Deterministic: true},
	}
	algo, err := getBestAlgorithm("forward", perf, false)
	if err != nil || algo != dnn.FwdFFT {
		t.Fatalf("best = (%v, %v), want the top-ranked FFT", algo, err)
	}
	algo, err = getBestAlgorithm("forward", perf, true)
	if err != nil || algo != dnn.FwdWinograd {
		t.Fatalf("deterministic best = (%v, %v), want Winograd", algo, err)
	}

	for i := range perf {
		perf[i].Deterministic = false
	}
	if _, err = getBestAlgorithm("forward", perf, true); !errors.Is(err, ErrNoDeterministicAlgorithm) {
		t.Fatalf("err = %v, want ErrNoDeterministicAlgorithm", err)
	}
}
