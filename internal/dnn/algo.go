// Package dnn defines the vendor convolution library surface: the
// algorithm enumerations for each convolution direction, the Library
// interface a GPU backend implements, and the workspace Allocator.
// The engine drives any Library implementation through algorithm
// search, workspace negotiation and execution without knowing which
// vendor sits behind it.
package dnn

import "fmt"

// FwdAlgo identifies a forward convolution algorithm.
type FwdAlgo int32

const (
	FwdImplicitGemm FwdAlgo = iota
	FwdImplicitPrecompGemm
	FwdGemm
	FwdDirect
	FwdFFT
	FwdFFTTiling
	FwdWinograd
	FwdWinogradNonfused
)

// DefaultFwdAlgo is the algorithm used when no search has run and as
// the workspace-exhaustion fallback. It needs no workspace.
const DefaultFwdAlgo = FwdImplicitPrecompGemm

func (a FwdAlgo) String() string {
	switch a {
	case FwdImplicitGemm:
		return "ImplicitGemm"
	case FwdImplicitPrecompGemm:
		return "ImplicitPrecompGemm"
	case FwdGemm:
		return "Gemm"
	case FwdDirect:
		return "Direct"
	case FwdFFT:
		return "FFT"
	case FwdFFTTiling:
		return "FFTTiling"
	case FwdWinograd:
		return "Winograd"
	case FwdWinogradNonfused:
		return "WinogradNonfused"
	default:
		return fmt.Sprintf("FwdAlgo(%d)", int32(a))
	}
}

// BwdDataAlgo identifies a backward-data (input gradient) algorithm.
type BwdDataAlgo int32

const (
	// BwdDataAlgo0 is the non-deterministic atomics-based algorithm.
	BwdDataAlgo0 BwdDataAlgo = iota
	BwdDataAlgo1
	BwdDataFFT
	BwdDataFFTTiling
	BwdDataWinograd
	BwdDataWinogradNonfused
)

// DefaultBwdDataAlgo is deterministic and needs no workspace.
const DefaultBwdDataAlgo = BwdDataAlgo1

func (a BwdDataAlgo) String() string {
	switch a {
	case BwdDataAlgo0:
		return "BwdData0"
	case BwdDataAlgo1:
		return "BwdData1"
	case BwdDataFFT:
		return "BwdDataFFT"
	case BwdDataFFTTiling:
		return "BwdDataFFTTiling"
	case BwdDataWinograd:
		return "BwdDataWinograd"
	case BwdDataWinogradNonfused:
		return "BwdDataWinogradNonfused"
	default:
		return fmt.Sprintf("BwdDataAlgo(%d)", int32(a))
	}
}

// BwdFilterAlgo identifies a backward-filter (weight gradient) algorithm.
type BwdFilterAlgo int32

const (
	// BwdFilterAlgo0 is the non-deterministic atomics-based algorithm.
	BwdFilterAlgo0 BwdFilterAlgo = iota
	BwdFilterAlgo1
	BwdFilterFFT
	// BwdFilterAlgo3 is non-deterministic.
	BwdFilterAlgo3
	BwdFilterWinogradNonfused
	BwdFilterFFTTiling
)

// DefaultBwdFilterAlgo is deterministic and needs no workspace.
const DefaultBwdFilterAlgo = BwdFilterAlgo1

func (a BwdFilterAlgo) String() string {
	switch a {
	case BwdFilterAlgo0:
		return "BwdFilter0"
	case BwdFilterAlgo1:
		return "BwdFilter1"
	case BwdFilterFFT:
		return "BwdFilterFFT"
	case BwdFilterAlgo3:
		return "BwdFilter3"
	case BwdFilterWinogradNonfused:
		return "BwdFilterWinogradNonfused"
	case BwdFilterFFTTiling:
		return "BwdFilterFFTTiling"
	default:
		return fmt.Sprintf("BwdFilterAlgo(%d)", int32(a))
	}
}
