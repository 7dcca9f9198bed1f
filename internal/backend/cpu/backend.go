// Package cpu implements the native convolution kernels used by the
// fallback dispatch branch and by the reference vendor-library
// implementation. The kernels are direct (non-FFT) NCHW loops with
// support for arbitrary spatial rank, stride, padding and dilation;
// grouped convolution is handled by the caller via channel narrowing.
package cpu

import (
	"fmt"

	"github.com/born-ml/convdnn/internal/parallel"
	"github.com/born-ml/convdnn/internal/tensor"
)

// Backend holds the execution configuration for the native kernels.
type Backend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU kernel backend.
func New() *Backend {
	return &Backend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// Name returns the backend name.
func (c *Backend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (c *Backend) Device() tensor.Device {
	return c.device
}

// float is the element-type constraint shared by every kernel.
type float interface {
	~float32 | ~float64
}

func checkFloatDType(op string, dt tensor.DataType) error {
	if dt != tensor.Float32 && dt != tensor.Float64 {
		return fmt.Errorf("%s: unsupported dtype %s", op, dt)
	}
	return nil
}

// spatialStrides returns row-major strides over a spatial extent list.
func spatialStrides(sp []int) []int {
	strides := make([]int, len(sp))
	acc := 1
	for i := len(sp) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= sp[i]
	}
	return strides
}

func prod(sp []int) int {
	n := 1
	for _, v := range sp {
		n *= v
	}
	return n
}

// advance increments a multi-dimensional index in row-major order and
// reports whether it wrapped past the end.
func advance(idx, extents []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < extents[d] {
			return false
		}
		idx[d] = 0
	}
	return true
}
