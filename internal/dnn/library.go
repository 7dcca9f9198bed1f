package dnn

import "github.com/born-ml/convdnn/internal/tensor"

// ConvDesc describes the geometry of one convolution call. Slices are
// per spatial dimension and already expanded to the spatial rank.
type ConvDesc struct {
	Padding  []int
	Stride   []int
	Dilation []int
	Groups   int
}

// ConvArgs bundles the tensors and geometry of one convolution call.
// The engine fills the slot being computed with a pre-allocated
// destination tensor:
//
//	forward          Output is written, Input and Weight are read
//	backward data    Input is written (it holds the input gradient),
//	                 Output holds the output gradient
//	backward filter  Weight is written, Input and Output are read
//
// Keeping one argument type across directions lets the forward and
// backward passes of the same layer share cache entries.
type ConvArgs struct {
	Input  *tensor.RawTensor
	Output *tensor.RawTensor
	Weight *tensor.RawTensor
	Desc   ConvDesc
}

// Perf reports the outcome of trying one algorithm during benchmark
// search. Entries with a non-nil Err failed to run; the rest are
// ordered fastest first by the Library.
type Perf[A any] struct {
	Algo          A
	Time          float64 // milliseconds
	Memory        uint64  // workspace bytes used
	Deterministic bool
	Err           error
}

// Capabilities describes what a Library implementation supports
// natively. The engine compensates for the gaps: grouped convolution
// is emulated by channel looping when NativeGroups is false, and
// dilated deterministic convolutions are routed away from the library
// when DeterministicDilation is false.
type Capabilities struct {
	NativeGroups          bool
	DeterministicDilation bool
}

// Library is the vendor convolution library surface. Implementations
// are expected to be safe for concurrent use.
type Library interface {
	Capabilities() Capabilities

	// FwdAlgorithm picks a forward algorithm heuristically, without
	// running anything, honoring the workspace byte limit.
	FwdAlgorithm(args ConvArgs, wsLimit uint64) (FwdAlgo, error)
	// FwdWorkspaceSize reports the workspace bytes algo needs for args.
	FwdWorkspaceSize(args ConvArgs, algo FwdAlgo) (uint64, error)
	// FindFwdAlgorithms benchmarks the candidate algorithms using ws
	// as scratch space and returns results sorted fastest first.
	FindFwdAlgorithms(args ConvArgs, candidates []FwdAlgo, ws Buffer) ([]Perf[FwdAlgo], error)
	// ConvolutionForward computes args.Output from args.Input and
	// args.Weight with the given algorithm.
	ConvolutionForward(args ConvArgs, algo FwdAlgo, ws Buffer) error

	BwdDataAlgorithm(args ConvArgs, wsLimit uint64) (BwdDataAlgo, error)
	BwdDataWorkspaceSize(args ConvArgs, algo BwdDataAlgo) (uint64, error)
	FindBwdDataAlgorithms(args ConvArgs, candidates []BwdDataAlgo, ws Buffer) ([]Perf[BwdDataAlgo], error)
	// ConvolutionBackwardData computes the input gradient args.Input
	// from the output gradient args.Output and args.Weight.
	ConvolutionBackwardData(args ConvArgs, algo BwdDataAlgo, ws Buffer) error

	BwdFilterAlgorithm(args ConvArgs, wsLimit uint64) (BwdFilterAlgo, error)
	BwdFilterWorkspaceSize(args ConvArgs, algo BwdFilterAlgo) (uint64, error)
	FindBwdFilterAlgorithms(args ConvArgs, candidates []BwdFilterAlgo, ws Buffer) ([]Perf[BwdFilterAlgo], error)
	// ConvolutionBackwardFilter computes the weight gradient
	// args.Weight from args.Input and the output gradient args.Output.
	ConvolutionBackwardFilter(args ConvArgs, algo BwdFilterAlgo, ws Buffer) error

	// AddBias adds bias [C] to output [N, C, sp...] in place.
	AddBias(output, bias *tensor.RawTensor) error
	// BackwardBias reduces the output gradient over batch and spatial
	// dimensions into a bias gradient [C].
	BackwardBias(gradOutput *tensor.RawTensor) (*tensor.RawTensor, error)
}
