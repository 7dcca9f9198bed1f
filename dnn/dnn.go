// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dnn exposes the vendor convolution library surface: the
// algorithm enumerations for each convolution direction, the Library
// interface a GPU backend implements, and the workspace Allocator the
// engine negotiates device memory with. Implement Library and
// Allocator for a device to plug it into conv.NewEngine.
package dnn

import (
	"github.com/born-ml/convdnn/internal/dnn"
)

// FwdAlgo identifies a forward convolution algorithm.
type FwdAlgo = dnn.FwdAlgo

// Forward algorithm constants.
const (
	FwdImplicitGemm        FwdAlgo = dnn.FwdImplicitGemm
	FwdImplicitPrecompGemm FwdAlgo = dnn.FwdImplicitPrecompGemm
	FwdGemm                FwdAlgo = dnn.FwdGemm
	FwdDirect              FwdAlgo = dnn.FwdDirect
	FwdFFT                 FwdAlgo = dnn.FwdFFT
	FwdFFTTiling           FwdAlgo = dnn.FwdFFTTiling
	FwdWinograd            FwdAlgo = dnn.FwdWinograd
	FwdWinogradNonfused    FwdAlgo = dnn.FwdWinogradNonfused

	// DefaultFwdAlgo is the workspace-frugal fallback algorithm.
	DefaultFwdAlgo FwdAlgo = dnn.DefaultFwdAlgo
)

// BwdDataAlgo identifies a backward-data (input gradient) algorithm.
type BwdDataAlgo = dnn.BwdDataAlgo

// Backward-data algorithm constants.
const (
	BwdDataAlgo0            BwdDataAlgo = dnn.BwdDataAlgo0
	BwdDataAlgo1            BwdDataAlgo = dnn.BwdDataAlgo1
	BwdDataFFT              BwdDataAlgo = dnn.BwdDataFFT
	BwdDataFFTTiling        BwdDataAlgo = dnn.BwdDataFFTTiling
	BwdDataWinograd         BwdDataAlgo = dnn.BwdDataWinograd
	BwdDataWinogradNonfused BwdDataAlgo = dnn.BwdDataWinogradNonfused

	DefaultBwdDataAlgo BwdDataAlgo = dnn.DefaultBwdDataAlgo
)

// BwdFilterAlgo identifies a backward-filter (weight gradient) algorithm.
type BwdFilterAlgo = dnn.BwdFilterAlgo

// Backward-filter algorithm constants.
const (
	BwdFilterAlgo0            BwdFilterAlgo = dnn.BwdFilterAlgo0
	BwdFilterAlgo1            BwdFilterAlgo = dnn.BwdFilterAlgo1
	BwdFilterFFT              BwdFilterAlgo = dnn.BwdFilterFFT
	BwdFilterAlgo3            BwdFilterAlgo = dnn.BwdFilterAlgo3
	BwdFilterWinogradNonfused BwdFilterAlgo = dnn.BwdFilterWinogradNonfused
	BwdFilterFFTTiling        BwdFilterAlgo = dnn.BwdFilterFFTTiling

	DefaultBwdFilterAlgo BwdFilterAlgo = dnn.DefaultBwdFilterAlgo
)

// ErrOutOfMemory marks device memory exhaustion. Allocator
// implementations wrap it so the engine's workspace fallback engages.
var ErrOutOfMemory = dnn.ErrOutOfMemory

// Library is the vendor convolution library interface.
type Library = dnn.Library

// Allocator is the device memory interface backing workspace buffers.
type Allocator = dnn.Allocator

// Buffer is one device memory block handed out by an Allocator.
type Buffer = dnn.Buffer

// ConvDesc carries the hyperparameters of a convolution call.
type ConvDesc = dnn.ConvDesc

// ConvArgs bundles the tensors and descriptor of one library call.
type ConvArgs = dnn.ConvArgs

// Capabilities describes what a Library implementation supports.
type Capabilities = dnn.Capabilities

// Perf is one benchmark measurement from algorithm search.
type Perf[A any] = dnn.Perf[A]
