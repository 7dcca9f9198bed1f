package tensor

import "fmt"

// Concat concatenates tensors along dim. Inputs must agree on dtype,
// device and every extent except dim. The result is a fresh contiguous
// tensor; strided inputs are densified first.
func Concat(tensors []*RawTensor, dim int) (*RawTensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("concat: no tensors given")
	}
	first := tensors[0]
	if dim < 0 || dim >= first.Dim() {
		return nil, fmt.Errorf("concat: dimension %d out of range for shape %v", dim, first.Shape())
	}
	outShape := first.Shape().Clone()
	for i, t := range tensors[1:] {
		if t.DType() != first.DType() || t.Device() != first.Device() {
			return nil, fmt.Errorf("concat: tensor %d has dtype %s on %s, want %s on %s",
				i+1, t.DType(), t.Device(), first.DType(), first.Device())
		}
		if t.Dim() != first.Dim() {
			return nil, fmt.Errorf("concat: tensor %d has rank %d, want %d", i+1, t.Dim(), first.Dim())
		}
		for d := 0; d < t.Dim(); d++ {
			if d == dim {
				continue
			}
			if t.Size(d) != first.Size(d) {
				return nil, fmt.Errorf("concat: tensor %d extent %d at dimension %d, want %d",
					i+1, t.Size(d), d, first.Size(d))
			}
		}
		outShape[dim] += t.Size(dim)
	}

	out, err := NewRaw(outShape, first.DType(), first.Device())
	if err != nil {
		return nil, fmt.Errorf("concat: %w", err)
	}

	elemSize := first.DType().Size()
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= outShape[d]
	}
	inner := 1
	for d := dim + 1; d < len(outShape); d++ {
		inner *= outShape[d]
	}

	outData := out.data
	outRow := outShape[dim] * inner * elemSize
	rowOffset := 0
	for _, t := range tensors {
		src := t.Contiguous().Data()
		block := t.Size(dim) * inner * elemSize
		for o := 0; o < outer; o++ {
			copy(outData[o*outRow+rowOffset:o*outRow+rowOffset+block],
				src[o*block:(o+1)*block])
		}
		rowOffset += block
	}
	return out, nil
}

// CopyInto copies src into dst element by element. dst may be a
// strided view (a channel slice of a larger tensor); src is densified
// first. Shapes and dtypes must match.
func CopyInto(dst, src *RawTensor) error {
	if !dst.Shape().Equal(src.Shape()) {
		return fmt.Errorf("copy into: shape mismatch %v vs %v", dst.Shape(), src.Shape())
	}
	if dst.DType() != src.DType() {
		return fmt.Errorf("copy into: dtype mismatch %s vs %s", dst.DType(), src.DType())
	}
	sc := src.Contiguous()
	elemSize := dst.dtype.Size()
	if dst.IsContiguous() {
		start := dst.offset * elemSize
		copy(dst.data[start:start+dst.ByteSize()], sc.Data())
		return nil
	}
	srcData := sc.Data()
	idx := make([]int, len(dst.shape))
	n := dst.NumElements()
	for flat := 0; flat < n; flat++ {
		off := dst.offset
		for d, i := range idx {
			off += i * dst.stride[d]
		}
		copy(dst.data[off*elemSize:(off+1)*elemSize],
			srcData[flat*elemSize:(flat+1)*elemSize])
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < dst.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return nil
}

// Add returns the element-wise sum of two same-shaped tensors.
func Add(a, b *RawTensor) (*RawTensor, error) {
	if !a.Shape().Equal(b.Shape()) {
		return nil, fmt.Errorf("add: shape mismatch %v vs %v", a.Shape(), b.Shape())
	}
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("add: dtype mismatch %s vs %s", a.DType(), b.DType())
	}
	ac := a.Contiguous()
	bc := b.Contiguous()
	out, err := NewRaw(a.Shape(), a.DType(), a.Device())
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	switch a.DType() {
	case Float32:
		x, y, z := ac.AsFloat32(), bc.AsFloat32(), out.AsFloat32()
		for i := range z {
			z[i] = x[i] + y[i]
		}
	case Float64:
		x, y, z := ac.AsFloat64(), bc.AsFloat64(), out.AsFloat64()
		for i := range z {
			z[i] = x[i] + y[i]
		}
	default:
		return nil, fmt.Errorf("add: unsupported dtype %s", a.DType())
	}
	return out, nil
}
