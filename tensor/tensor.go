// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor types consumed by the
// convolution engine: shapes, data types, devices and the raw
// byte-backed tensor with narrow/transpose views.
//
// Example:
//
//	x, err := tensor.FromFloat32(data, tensor.Shape{2, 3, 8, 8}, tensor.CPU)
package tensor

import (
	"github.com/born-ml/convdnn/internal/tensor"
)

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 8, 8} is a batch of 2 three-channel 8x8 images.
type Shape = tensor.Shape

// RawTensor is the byte-backed tensor representation the convolution
// engine operates on.
type RawTensor = tensor.RawTensor

// NewRaw creates a zero-filled tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromFloat32 creates a Float32 tensor initialized from data.
func FromFloat32(data []float32, shape Shape, device Device) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape, device)
}

// FromFloat64 creates a Float64 tensor initialized from data.
func FromFloat64(data []float64, shape Shape, device Device) (*RawTensor, error) {
	return tensor.FromFloat64(data, shape, device)
}

// ZerosLike creates a zero-filled contiguous tensor with the same
// shape, dtype and device as t.
func ZerosLike(t *RawTensor) *RawTensor {
	return tensor.ZerosLike(t)
}

// Concat concatenates tensors along dim.
func Concat(tensors []*RawTensor, dim int) (*RawTensor, error) {
	return tensor.Concat(tensors, dim)
}

// Add returns the element-wise sum of a and b.
func Add(a, b *RawTensor) (*RawTensor, error) {
	return tensor.Add(a, b)
}
