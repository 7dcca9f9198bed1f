// Package dnnsim is a pure-Go implementation of the dnn.Library and
// dnn.Allocator interfaces backed by the native CPU kernels. It models
// the behaviors the engine has to negotiate with a real vendor
// library: per-algorithm workspace requirements, a fixed cost model so
// benchmark search returns stable orderings, non-deterministic
// algorithm flags, and optional gaps such as missing native grouped
// convolution. Tests use it as the stand-in device library.
package dnnsim

import (
	"fmt"
	"sort"

	"github.com/born-ml/convdnn/internal/backend/cpu"
	"github.com/born-ml/convdnn/internal/dnn"
	"github.com/born-ml/convdnn/internal/tensor"
)

// Sim implements dnn.Library.
type Sim struct {
	backend *cpu.Backend
	caps    dnn.Capabilities

	// noDeterministic flags every search result non-deterministic,
	// modeling a device where no deterministic algorithm exists.
	noDeterministic bool
}

// Option configures a Sim.
type Option func(*Sim)

// WithNativeGroups controls whether the simulated library accepts
// grouped convolutions directly. With false the engine has to fall
// back to its per-group loop.
func WithNativeGroups(native bool) Option {
	return func(s *Sim) { s.caps.NativeGroups = native }
}

// WithDeterministicDilation marks dilated deterministic convolutions
// as trustworthy. Off by default, mirroring devices where dilated
// kernels lose determinism.
func WithDeterministicDilation(ok bool) Option {
	return func(s *Sim) { s.caps.DeterministicDilation = ok }
}

// WithNoDeterministicAlgorithms makes every benchmark result report as
// non-deterministic.
func WithNoDeterministicAlgorithms() Option {
	return func(s *Sim) { s.noDeterministic = true }
}

// New creates a simulated library. The default capabilities are native
// grouped convolution and no deterministic dilation.
func New(opts ...Option) *Sim {
	s := &Sim{
		backend: cpu.New(),
		caps: dnn.Capabilities{
			NativeGroups:          true,
			DeterministicDilation: false,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capabilities implements dnn.Library.
func (s *Sim) Capabilities() dnn.Capabilities {
	return s.caps
}

// sizes returns the tensor byte volumes of a problem, the inputs to
// the per-algorithm workspace formulas.
func sizes(args dnn.ConvArgs) (in, out, w uint64) {
	return uint64(args.Input.ByteSize()), uint64(args.Output.ByteSize()), uint64(args.Weight.ByteSize())
}

// colBytes is the size of an im2col buffer for the problem, the model
// for GEMM-class workspace appetites.
func colBytes(args dnn.ConvArgs) uint64 {
	kVol := 1
	for _, k := range args.Weight.Shape()[2:] {
		kVol *= k
	}
	outPlane := 1
	for _, e := range args.Output.Shape()[2:] {
		outPlane *= e
	}
	cin := args.Weight.Size(1)
	return uint64(args.Output.Size(0)) * uint64(cin*kVol) * uint64(outPlane) * uint64(args.Input.DType().Size())
}

func tinyBytes(args dnn.ConvArgs) uint64 {
	kVol := 1
	for _, k := range args.Weight.Shape()[2:] {
		kVol *= k
	}
	return uint64(kVol * args.Input.DType().Size())
}

// fwdWorkspace is the simulated workspace requirement per forward
// algorithm. The default algorithm stays cheap so the out-of-memory
// fallback has somewhere to land.
func fwdWorkspace(args dnn.ConvArgs, algo dnn.FwdAlgo) uint64 {
	in, out, w := sizes(args)
	switch algo {
	case dnn.FwdImplicitGemm, dnn.FwdDirect:
		return 0
	case dnn.FwdImplicitPrecompGemm:
		return tinyBytes(args)
	case dnn.FwdGemm:
		return colBytes(args)
	case dnn.FwdFFT:
		return 4 * (in + out + w)
	case dnn.FwdFFTTiling:
		return 2 * (in + out + w)
	case dnn.FwdWinograd:
		return out
	case dnn.FwdWinogradNonfused:
		return 2 * (in + w)
	default:
		return 0
	}
}

func bwdDataWorkspace(args dnn.ConvArgs, algo dnn.BwdDataAlgo) uint64 {
	in, out, w := sizes(args)
	switch algo {
	case dnn.BwdDataAlgo0:
		return 0
	case dnn.BwdDataAlgo1:
		return tinyBytes(args)
	case dnn.BwdDataFFT:
		return 4 * (in + out + w)
	case dnn.BwdDataFFTTiling:
		return 2 * (in + out + w)
	case dnn.BwdDataWinograd:
		return in
	case dnn.BwdDataWinogradNonfused:
		return 2 * (out + w)
	default:
		return 0
	}
}

func bwdFilterWorkspace(args dnn.ConvArgs, algo dnn.BwdFilterAlgo) uint64 {
	in, out, w := sizes(args)
	switch algo {
	case dnn.BwdFilterAlgo0, dnn.BwdFilterAlgo3:
		return 0
	case dnn.BwdFilterAlgo1:
		return tinyBytes(args)
	case dnn.BwdFilterFFT:
		return 4 * (in + out + w)
	case dnn.BwdFilterFFTTiling:
		return 2 * (in + out + w)
	case dnn.BwdFilterWinogradNonfused:
		return 2 * (in + out)
	default:
		return 0
	}
}

// Simulated execution times in milliseconds. Workspace-hungry
// algorithms run faster, so benchmark search prefers them whenever the
// trial workspace fits them.
var fwdTime = map[dnn.FwdAlgo]float64{
	dnn.FwdFFT:                 1.0,
	dnn.FwdFFTTiling:           1.2,
	dnn.FwdWinograd:            1.5,
	dnn.FwdWinogradNonfused:    1.7,
	dnn.FwdGemm:                2.0,
	dnn.FwdImplicitPrecompGemm: 3.0,
	dnn.FwdImplicitGemm:        4.0,
	dnn.FwdDirect:              5.0,
}

var bwdDataTime = map[dnn.BwdDataAlgo]float64{
	dnn.BwdDataFFT:              1.0,
	dnn.BwdDataFFTTiling:        1.2,
	dnn.BwdDataWinograd:         1.5,
	dnn.BwdDataWinogradNonfused: 1.7,
	dnn.BwdDataAlgo0:            2.5,
	dnn.BwdDataAlgo1:            3.0,
}

var bwdFilterTime = map[dnn.BwdFilterAlgo]float64{
	dnn.BwdFilterFFT:              1.0,
	dnn.BwdFilterFFTTiling:        1.2,
	dnn.BwdFilterWinogradNonfused: 1.7,
	dnn.BwdFilterAlgo3:            2.0,
	dnn.BwdFilterAlgo0:            2.5,
	dnn.BwdFilterAlgo1:            3.0,
}

func (s *Sim) deterministic(det bool) bool {
	if s.noDeterministic {
		return false
	}
	return det
}

func wsSize(ws dnn.Buffer) uint64 {
	if ws == nil {
		return 0
	}
	return ws.Size()
}

// search builds sorted benchmark results from the workspace, time and
// determinism models. Candidates that do not fit the trial workspace
// fail with an error entry rather than disappearing.
func search[A any](s *Sim, candidates []A, need func(A) uint64, time func(A) float64, det func(A) bool, ws dnn.Buffer) []dnn.Perf[A] {
	limit := wsSize(ws)
	perf := make([]dnn.Perf[A], 0, len(candidates))
	for _, algo := range candidates {
		p := dnn.Perf[A]{
			Algo:          algo,
			Time:          time(algo),
			Memory:        need(algo),
			Deterministic: s.deterministic(det(algo)),
		}
		if p.Memory > limit {
			p.Err = fmt.Errorf("workspace %d bytes exceeds trial buffer %d: %w", p.Memory, limit, dnn.ErrOutOfMemory)
		}
		perf = append(perf, p)
	}
	sort.SliceStable(perf, func(i, j int) bool {
		if (perf[i].Err == nil) != (perf[j].Err == nil) {
			return perf[i].Err == nil
		}
		return perf[i].Time < perf[j].Time
	})
	return perf
}

// heuristic picks the fastest candidate fitting the workspace limit.
func heuristic[A any](candidates []A, need func(A) uint64, time func(A) float64, wsLimit uint64, fallback A) A {
	best := fallback
	bestTime := 0.0
	found := false
	for _, algo := range candidates {
		if need(algo) > wsLimit {
			continue
		}
		if !found || time(algo) < bestTime {
			best = algo
			bestTime = time(algo)
			found = true
		}
	}
	return best
}

func allFwdAlgos() []dnn.FwdAlgo {
	return []dnn.FwdAlgo{
		dnn.FwdImplicitGemm, dnn.FwdImplicitPrecompGemm, dnn.FwdGemm, dnn.FwdDirect,
		dnn.FwdFFT, dnn.FwdFFTTiling, dnn.FwdWinograd, dnn.FwdWinogradNonfused,
	}
}

// FwdAlgorithm implements dnn.Library.
func (s *Sim) FwdAlgorithm(args dnn.ConvArgs, wsLimit uint64) (dnn.FwdAlgo, error) {
	need := func(a dnn.FwdAlgo) uint64 { return fwdWorkspace(args, a) }
	return heuristic(allFwdAlgos(), need, func(a dnn.FwdAlgo) float64 { return fwdTime[a] }, wsLimit, dnn.DefaultFwdAlgo), nil
}

// FwdWorkspaceSize implements dnn.Library.
func (s *Sim) FwdWorkspaceSize(args dnn.ConvArgs, algo dnn.FwdAlgo) (uint64, error) {
	return fwdWorkspace(args, algo), nil
}

// FindFwdAlgorithms implements dnn.Library.
func (s *Sim) FindFwdAlgorithms(args dnn.ConvArgs, candidates []dnn.FwdAlgo, ws dnn.Buffer) ([]dnn.Perf[dnn.FwdAlgo], error) {
	need := func(a dnn.FwdAlgo) uint64 { return fwdWorkspace(args, a) }
	// Every forward algorithm is deterministic on this device.
	return search(s, candidates, need, func(a dnn.FwdAlgo) float64 { return fwdTime[a] },
		func(dnn.FwdAlgo) bool { return true }, ws), nil
}

// ConvolutionForward implements dnn.Library.
func (s *Sim) ConvolutionForward(args dnn.ConvArgs, algo dnn.FwdAlgo, ws dnn.Buffer) error {
	if need := fwdWorkspace(args, algo); wsSize(ws) < need {
		return fmt.Errorf("forward %s: workspace %d bytes, need %d: %w", algo, wsSize(ws), need, dnn.ErrOutOfMemory)
	}
	return s.perGroup(args, func(in, out, w *tensor.RawTensor) error {
		res, err := s.backend.ConvForward(in, w, args.Desc.Stride, args.Desc.Padding, args.Desc.Dilation)
		if err != nil {
			return err
		}
		return tensor.CopyInto(out, res)
	})
}

func allBwdDataAlgos() []dnn.BwdDataAlgo {
	return []dnn.BwdDataAlgo{
		dnn.BwdDataAlgo0, dnn.BwdDataAlgo1, dnn.BwdDataFFT,
		dnn.BwdDataFFTTiling, dnn.BwdDataWinograd, dnn.BwdDataWinogradNonfused,
	}
}

// BwdDataAlgorithm implements dnn.Library.
func (s *Sim) BwdDataAlgorithm(args dnn.ConvArgs, wsLimit uint64) (dnn.BwdDataAlgo, error) {
	need := func(a dnn.BwdDataAlgo) uint64 { return bwdDataWorkspace(args, a) }
	return heuristic(allBwdDataAlgos(), need, func(a dnn.BwdDataAlgo) float64 { return bwdDataTime[a] }, wsLimit, dnn.DefaultBwdDataAlgo), nil
}

// BwdDataWorkspaceSize implements dnn.Library.
func (s *Sim) BwdDataWorkspaceSize(args dnn.ConvArgs, algo dnn.BwdDataAlgo) (uint64, error) {
	return bwdDataWorkspace(args, algo), nil
}

// FindBwdDataAlgorithms implements dnn.Library.
func (s *Sim) FindBwdDataAlgorithms(args dnn.ConvArgs, candidates []dnn.BwdDataAlgo, ws dnn.Buffer) ([]dnn.Perf[dnn.BwdDataAlgo], error) {
	need := func(a dnn.BwdDataAlgo) uint64 { return bwdDataWorkspace(args, a) }
	return search(s, candidates, need, func(a dnn.BwdDataAlgo) float64 { return bwdDataTime[a] },
		func(a dnn.BwdDataAlgo) bool { return a != dnn.BwdDataAlgo0 }, ws), nil
}

// ConvolutionBackwardData implements dnn.Library. args.Input receives
// the input gradient computed from args.Output and args.Weight.
func (s *Sim) ConvolutionBackwardData(args dnn.ConvArgs, algo dnn.BwdDataAlgo, ws dnn.Buffer) error {
	if need := bwdDataWorkspace(args, algo); wsSize(ws) < need {
		return fmt.Errorf("backward data %s: workspace %d bytes, need %d: %w", algo, wsSize(ws), need, dnn.ErrOutOfMemory)
	}
	return s.perGroup(args, func(gi, gradOut, w *tensor.RawTensor) error {
		res, err := s.backend.ConvBackwardInput(gi.Shape(), gradOut, w, args.Desc.Stride, args.Desc.Padding, args.Desc.Dilation)
		if err != nil {
			return err
		}
		return tensor.CopyInto(gi, res)
	})
}

func allBwdFilterAlgos() []dnn.BwdFilterAlgo {
	return []dnn.BwdFilterAlgo{
		dnn.BwdFilterAlgo0, dnn.BwdFilterAlgo1, dnn.BwdFilterFFT,
		dnn.BwdFilterAlgo3, dnn.BwdFilterWinogradNonfused, dnn.BwdFilterFFTTiling,
	}
}

// BwdFilterAlgorithm implements dnn.Library.
func (s *Sim) BwdFilterAlgorithm(args dnn.ConvArgs, wsLimit uint64) (dnn.BwdFilterAlgo, error) {
	need := func(a dnn.BwdFilterAlgo) uint64 { return bwdFilterWorkspace(args, a) }
	return heuristic(allBwdFilterAlgos(), need, func(a dnn.BwdFilterAlgo) float64 { return bwdFilterTime[a] }, wsLimit, dnn.DefaultBwdFilterAlgo), nil
}

// BwdFilterWorkspaceSize implements dnn.Library.
func (s *Sim) BwdFilterWorkspaceSize(args dnn.ConvArgs, algo dnn.BwdFilterAlgo) (uint64, error) {
	return bwdFilterWorkspace(args, algo), nil
}

// FindBwdFilterAlgorithms implements dnn.Library.
func (s *Sim) FindBwdFilterAlgorithms(args dnn.ConvArgs, candidates []dnn.BwdFilterAlgo, ws dnn.Buffer) ([]dnn.Perf[dnn.BwdFilterAlgo], error) {
	need := func(a dnn.BwdFilterAlgo) uint64 { return bwdFilterWorkspace(args, a) }
	return search(s, candidates, need, func(a dnn.BwdFilterAlgo) float64 { return bwdFilterTime[a] },
		func(a dnn.BwdFilterAlgo) bool { return a != dnn.BwdFilterAlgo0 && a != dnn.BwdFilterAlgo3 }, ws), nil
}

// ConvolutionBackwardFilter implements dnn.Library. args.Weight
// receives the weight gradient computed from args.Input and args.Output.
func (s *Sim) ConvolutionBackwardFilter(args dnn.ConvArgs, algo dnn.BwdFilterAlgo, ws dnn.Buffer) error {
	if need := bwdFilterWorkspace(args, algo); wsSize(ws) < need {
		return fmt.Errorf("backward filter %s: workspace %d bytes, need %d: %w", algo, wsSize(ws), need, dnn.ErrOutOfMemory)
	}
	g := args.Desc.Groups
	if g > 1 && !s.caps.NativeGroups {
		return fmt.Errorf("backward filter: grouped convolution not supported (groups=%d)", g)
	}
	if g < 1 {
		g = 1
	}
	for i := 0; i < g; i++ {
		in := args.Input.NarrowGroup(1, i, g).Contiguous()
		gradOut := args.Output.NarrowGroup(1, i, g).Contiguous()
		gw := args.Weight.NarrowGroup(0, i, g)
		res, err := s.backend.ConvBackwardWeight(gw.Shape(), gradOut, in, args.Desc.Stride, args.Desc.Padding, args.Desc.Dilation)
		if err != nil {
			return err
		}
		if err := tensor.CopyInto(gw, res); err != nil {
			return err
		}
	}
	return nil
}

// perGroup runs f once per group over channel-narrowed views of the
// (input-slot, output-slot, weight) triple shared by forward and
// backward-data. The weight splits along its output channel dimension;
// the two data tensors split along channels. Views are passed through
// untouched so the destination slot stays writable; the kernels
// densify their read operands themselves.
func (s *Sim) perGroup(args dnn.ConvArgs, f func(a, b, w *tensor.RawTensor) error) error {
	g := args.Desc.Groups
	if g > 1 && !s.caps.NativeGroups {
		return fmt.Errorf("grouped convolution not supported (groups=%d)", g)
	}
	if g < 1 {
		g = 1
	}
	for i := 0; i < g; i++ {
		a := args.Input.NarrowGroup(1, i, g)
		b := args.Output.NarrowGroup(1, i, g)
		w := args.Weight.NarrowGroup(0, i, g)
		if err := f(a, b, w); err != nil {
			return err
		}
	}
	return nil
}

// AddBias implements dnn.Library.
func (s *Sim) AddBias(output, bias *tensor.RawTensor) error {
	return s.backend.AddBias(output, bias)
}

// BackwardBias implements dnn.Library.
func (s *Sim) BackwardBias(gradOutput *tensor.RawTensor) (*tensor.RawTensor, error) {
	return s.backend.BiasBackward(gradOutput)
}
