package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the device where tensor data resides.
type Device int

// Supported compute devices. The engine only distinguishes CPU from
// the GPU-class devices; WebGPU and CUDA behave identically as far as
// dispatch eligibility is concerned.
const (
	CPU Device = iota
	CUDA
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// IsGPU reports whether the device is a GPU-class device.
func (d Device) IsGPU() bool {
	return d != CPU
}

// RawTensor is the low-level tensor representation: a byte buffer plus
// geometry (shape, per-dimension element strides, offset). Narrow and
// Transpose return views sharing the buffer; kernels that require
// dense memory call Contiguous first.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
	device Device
	offset int // element offset into data
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromFloat32 creates a Float32 tensor initialized from data.
func FromFloat32(data []float32, shape Shape, device Device) (*RawTensor, error) {
	t, err := NewRaw(shape, Float32, device)
	if err != nil {
		return nil, err
	}
	if len(data) != t.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, t.NumElements())
	}
	copy(t.AsFloat32(), data)
	return t, nil
}

// FromFloat64 creates a Float64 tensor initialized from data.
func FromFloat64(data []float64, shape Shape, device Device) (*RawTensor, error) {
	t, err := NewRaw(shape, Float64, device)
	if err != nil {
		return nil, err
	}
	if len(data) != t.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, t.NumElements())
	}
	copy(t.AsFloat64(), data)
	return t, nil
}

// ZerosLike creates a zero-filled contiguous tensor with the same
// shape, dtype and device as t.
func ZerosLike(t *RawTensor) *RawTensor {
	out, err := NewRaw(t.Shape(), t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("tensor: zeros like: %v", err))
	}
	return out
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Dim returns the number of dimensions.
func (r *RawTensor) Dim() int {
	return len(r.shape)
}

// Size returns the extent of dimension d.
func (r *RawTensor) Size(d int) int {
	return r.shape[d]
}

// Strides returns the tensor's element strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// IsContiguous reports whether the tensor's elements are laid out
// densely in row-major order.
func (r *RawTensor) IsContiguous() bool {
	expected := 1
	for i := len(r.shape) - 1; i >= 0; i-- {
		if r.shape[i] != 1 && r.stride[i] != expected {
			return false
		}
		expected *= r.shape[i]
	}
	return true
}

// Data returns the raw byte slice of a contiguous tensor.
func (r *RawTensor) Data() []byte {
	r.mustBeContiguous("Data")
	start := r.offset * r.dtype.Size()
	return r.data[start : start+r.ByteSize()]
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32 or the layout is not contiguous.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	r.mustBeContiguous("AsFloat32")
	data := r.data[r.offset*4:]
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64 or the layout is not contiguous.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	r.mustBeContiguous("AsFloat64")
	data := r.data[r.offset*8:]
	return unsafe.Slice((*float64)(unsafe.Pointer(&data[0])), r.NumElements())
}

func (r *RawTensor) mustBeContiguous(op string) {
	if !r.IsContiguous() {
		panic(fmt.Sprintf("tensor: %s requires a contiguous tensor (shape %v, strides %v); call Contiguous first",
			op, r.shape, r.stride))
	}
	if r.NumElements() == 0 {
		panic(fmt.Sprintf("tensor: %s on empty tensor", op))
	}
}

// Clone returns a contiguous deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	return r.Contiguous()
}

// Contiguous returns r itself when already dense, otherwise a freshly
// allocated row-major copy. The copy path walks the strided index
// space element by element.
func (r *RawTensor) Contiguous() *RawTensor {
	if r.IsContiguous() && r.offset == 0 && len(r.data) == r.ByteSize() {
		return r
	}
	out, err := NewRaw(r.shape, r.dtype, r.device)
	if err != nil {
		panic(fmt.Sprintf("tensor: contiguous: %v", err))
	}
	if r.IsContiguous() {
		start := r.offset * r.dtype.Size()
		copy(out.data, r.data[start:start+r.ByteSize()])
		return out
	}
	elemSize := r.dtype.Size()
	idx := make([]int, len(r.shape))
	n := r.NumElements()
	for flat := 0; flat < n; flat++ {
		src := r.offset
		for d, i := range idx {
			src += i * r.stride[d]
		}
		copy(out.data[flat*elemSize:(flat+1)*elemSize],
			r.data[src*elemSize:(src+1)*elemSize])
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < r.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}
