// Package tensor provides the tensor geometry types consumed by the
// convolution engine: shapes, strides, data types, devices and the raw
// byte-backed tensor with narrow/transpose views.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types.
//
// Int32 is carried for completeness of the geometry layer; the
// convolution kernels reject it as unsupported rather than promoting
// it to a float type.
const (
	Float32 DataType = iota
	Float64
	Int32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}
