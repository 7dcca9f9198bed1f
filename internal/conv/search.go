package conv

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/dnn"
)

// strategy adapts one convolution direction of the vendor library to
// the shared selection logic in findAlgorithm and chooseAlgorithm.
type strategy[A comparable] interface {
	direction() string
	// defaultAlgo is the fixed algorithm used when determinism is
	// demanded without benchmarking, and as the out-of-memory
	// fallback. It must be deterministic and workspace-frugal.
	defaultAlgo() A
	// candidates enumerates the algorithms benchmark search tries.
	candidates() []A
	// heuristic asks the library for its best guess without running
	// anything, preferring speed with no workspace bound.
	heuristic(args dnn.ConvArgs) (A, error)
	workspaceSize(args dnn.ConvArgs, algo A) (uint64, error)
	find(args dnn.ConvArgs, candidates []A, ws dnn.Buffer) ([]dnn.Perf[A], error)
}

type fwdStrategy struct{ lib dnn.Library }

func (fwdStrategy) direction() string { return "forward" }
func (fwdStrategy) defaultAlgo() dnn.FwdAlgo { return dnn.DefaultFwdAlgo }

func (fwdStrategy) candidates() []dnn.FwdAlgo {
	return []dnn.FwdAlgo{
		dnn.FwdImplicitGemm,
		dnn.FwdImplicitPrecompGemm,
		dnn.FwdGemm,
		dnn.FwdDirect,
		dnn.FwdFFT,
		dnn.FwdFFTTiling,
		dnn.FwdWinograd,
		dnn.FwdWinogradNonfused,
	}
}

func (s fwdStrategy) heuristic(args dnn.ConvArgs) (dnn.FwdAlgo, error) {
	return s.lib.FwdAlgorithm(args, noWorkspaceLimit)
}

func (s fwdStrategy) workspaceSize(args dnn.ConvArgs, algo dnn.FwdAlgo) (uint64, error) {
	return s.lib.FwdWorkspaceSize(args, algo)
}

func (s fwdStrategy) find(args dnn.ConvArgs, candidates []dnn.FwdAlgo, ws dnn.Buffer) ([]dnn.Perf[dnn.FwdAlgo], error) {
	return s.lib.FindFwdAlgorithms(args, candidates, ws)
}

type bwdDataStrategy struct{ lib dnn.Library }

func (bwdDataStrategy) direction() string { return "backward-data" }
func (bwdDataStrategy) defaultAlgo() dnn.BwdDataAlgo { return dnn.DefaultBwdDataAlgo }

func (bwdDataStrategy) candidates() []dnn.BwdDataAlgo {
	return []dnn.BwdDataAlgo{
		dnn.BwdDataAlgo0,
		dnn.BwdDataAlgo1,
		dnn.BwdDataFFT,
		dnn.BwdDataFFTTiling,
		dnn.BwdDataWinograd,
		dnn.BwdDataWinogradNonfused,
	}
}

func (s bwdDataStrategy) heuristic(args dnn.ConvArgs) (dnn.BwdDataAlgo, error) {
	return s.lib.BwdDataAlgorithm(args, noWorkspaceLimit)
}

func (s bwdDataStrategy) workspaceSize(args dnn.ConvArgs, algo dnn.BwdDataAlgo) (uint64, error) {
	return s.lib.BwdDataWorkspaceSize(args, algo)
}

func (s bwdDataStrategy) find(args dnn.ConvArgs, candidates []dnn.BwdDataAlgo, ws dnn.Buffer) ([]dnn.Perf[dnn.BwdDataAlgo], error) {
	return s.lib.FindBwdDataAlgorithms(args, candidates, ws)
}

type bwdFilterStrategy struct{ lib dnn.Library }

func (bwdFilterStrategy) direction() string { return "backward-filter" }
func (bwdFilterStrategy) defaultAlgo() dnn.BwdFilterAlgo { return dnn.DefaultBwdFilterAlgo }

func (bwdFilterStrategy) candidates() []dnn.BwdFilterAlgo {
	return []dnn.BwdFilterAlgo{
		dnn.BwdFilterAlgo0,
		dnn.BwdFilterAlgo1,
		dnn.BwdFilterFFT,
		dnn.BwdFilterAlgo3,
		dnn.BwdFilterWinogradNonfused,
		dnn.BwdFilterFFTTiling,
	}
}

func (s bwdFilterStrategy) heuristic(args dnn.ConvArgs) (dnn.BwdFilterAlgo, error) {
	return s.lib.BwdFilterAlgorithm(args, noWorkspaceLimit)
}

func (s bwdFilterStrategy) workspaceSize(args dnn.ConvArgs, algo dnn.BwdFilterAlgo) (uint64, error) {
	return s.lib.BwdFilterWorkspaceSize(args, algo)
}

func (s bwdFilterStrategy) find(args dnn.ConvArgs, candidates []dnn.BwdFilterAlgo, ws dnn.Buffer) ([]dnn.Perf[dnn.BwdFilterAlgo], error) {
	return s.lib.FindBwdFilterAlgorithms(args, candidates, ws)
}

const noWorkspaceLimit = ^uint64(0)

// maxTrialWorkspace sizes the scratch buffer for benchmark search: the
// largest per-candidate requirement that fits both free device memory
// and the largest contiguous block.
func maxTrialWorkspace[A comparable](s strategy[A], alloc dnn.Allocator, args dnn.ConvArgs, candidates []A) uint64 {
	free, _, maxBlock := alloc.MemInfo()
	limit := free
	if maxBlock < limit {
		limit = maxBlock
	}
	var trial uint64
	for _, algo := range candidates {
		size, err := s.workspaceSize(args, algo)
		if err != nil || size > limit {
			continue
		}
		if size > trial {
			trial = size
		}
	}
	return trial
}

// getBestAlgorithm applies the selection policy to ranked benchmark
// results. With deterministic set it takes the first successful
// candidate flagged deterministic; otherwise the top-ranked success.
func getBestAlgorithm[A comparable](dir string, perf []dnn.Perf[A], deterministic bool) (A, error) {
	var zero A
	if deterministic {
		for _, p := range perf {
			if p.Err == nil && p.Deterministic {
				return p.Algo, nil
			}
		}
		return zero, fmt.Errorf("%s: %w", dir, ErrNoDeterministicAlgorithm)
	}
	if len(perf) == 0 || perf[0].Err != nil {
		return zero, fmt.Errorf("%s: no convolution algorithm succeeded", dir)
	}
	return perf[0].Algo, nil
}

// findAlgorithm selects the algorithm for one call.
//
//  1. Cache hit wins immediately.
//  2. Deterministic without benchmarking takes the fixed default, not
//     cached.
//  3. Non-benchmark mode asks the library's heuristic, not cached.
//  4. Benchmark mode re-checks the cache (another goroutine may have
//     just searched), runs the empirical search with the largest
//     feasible trial workspace, caches the winner, and asks the
//     allocator to drop memory the oversized trial buffer left cached.
func findAlgorithm[A comparable](s strategy[A], cache *Cache[A], alloc dnn.Allocator, args dnn.ConvArgs, p *Params, benchmark bool) (A, error) {
	var zero A
	if algo, ok := cache.Find(p); ok {
		return algo, nil
	}
	if p.Deterministic && !benchmark {
		return s.defaultAlgo(), nil
	}
	if !benchmark {
		return s.heuristic(args)
	}
	if algo, ok := cache.Find(p); ok {
		return algo, nil
	}

	candidates := s.candidates()
	var ws dnn.Buffer
	if trial := maxTrialWorkspace(s, alloc, args, candidates); trial > 0 {
		// Failure to grab the trial buffer is not fatal; search just
		// runs with no scratch and the cheap algorithms win.
		if buf, err := alloc.Alloc(trial); err == nil {
			ws = buf
		}
	}
	perf, err := s.find(args, candidates, ws)
	if ws != nil {
		ws.Release()
	}
	if err != nil {
		return zero, fmt.Errorf("%s algorithm search: %w", s.direction(), err)
	}
	best, err := getBestAlgorithm(s.direction(), perf, p.Deterministic)
	if err != nil {
		return zero, err
	}
	cache.Insert(p, best)
	alloc.EmptyCache()
	return best, nil
}
