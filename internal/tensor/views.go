package tensor

import "fmt"

// Narrow returns a view of r restricted to [start, start+length) along
// dimension dim. The view shares storage with r.
func (r *RawTensor) Narrow(dim, start, length int) *RawTensor {
	if dim < 0 || dim >= len(r.shape) {
		panic(fmt.Sprintf("tensor: narrow dimension %d out of range for shape %v", dim, r.shape))
	}
	if start < 0 || length <= 0 || start+length > r.shape[dim] {
		panic(fmt.Sprintf("tensor: narrow [%d, %d) out of range for dimension %d of shape %v",
			start, start+length, dim, r.shape))
	}
	shape := r.shape.Clone()
	shape[dim] = length
	stride := append([]int(nil), r.stride...)
	return &RawTensor{
		data:   r.data,
		shape:  shape,
		stride: stride,
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset + start*r.stride[dim],
	}
}

// NarrowGroup returns the view of r for group g out of groups along
// dimension dim, the channel-slicing primitive behind grouped
// convolution emulation.
func (r *RawTensor) NarrowGroup(dim, g, groups int) *RawTensor {
	groupSize := r.shape[dim] / groups
	return r.Narrow(dim, g*groupSize, groupSize)
}

// Transpose returns a view with dimensions d0 and d1 swapped.
func (r *RawTensor) Transpose(d0, d1 int) *RawTensor {
	if d0 < 0 || d0 >= len(r.shape) || d1 < 0 || d1 >= len(r.shape) {
		panic(fmt.Sprintf("tensor: transpose dims (%d, %d) out of range for shape %v", d0, d1, r.shape))
	}
	shape := r.shape.Clone()
	stride := append([]int(nil), r.stride...)
	shape[d0], shape[d1] = shape[d1], shape[d0]
	stride[d0], stride[d1] = stride[d1], stride[d0]
	return &RawTensor{
		data:   r.data,
		shape:  shape,
		stride: stride,
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}
}

// Unsqueeze returns a view with a dimension of extent 1 inserted at dim.
func (r *RawTensor) Unsqueeze(dim int) *RawTensor {
	if dim < 0 || dim > len(r.shape) {
		panic(fmt.Sprintf("tensor: unsqueeze dimension %d out of range for shape %v", dim, r.shape))
	}
	shape := make(Shape, 0, len(r.shape)+1)
	stride := make([]int, 0, len(r.stride)+1)
	shape = append(shape, r.shape[:dim]...)
	stride = append(stride, r.stride[:dim]...)
	shape = append(shape, 1)
	// Any stride works for an extent-1 dimension.
	if dim < len(r.stride) {
		stride = append(stride, r.stride[dim]*r.shape[dim])
	} else {
		stride = append(stride, 1)
	}
	shape = append(shape, r.shape[dim:]...)
	stride = append(stride, r.stride[dim:]...)
	return &RawTensor{
		data:   r.data,
		shape:  shape,
		stride: stride,
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}
}

// Squeeze returns a view with the extent-1 dimension dim removed.
func (r *RawTensor) Squeeze(dim int) *RawTensor {
	if dim < 0 || dim >= len(r.shape) {
		panic(fmt.Sprintf("tensor: squeeze dimension %d out of range for shape %v", dim, r.shape))
	}
	if r.shape[dim] != 1 {
		panic(fmt.Sprintf("tensor: squeeze dimension %d has extent %d, want 1", dim, r.shape[dim]))
	}
	shape := make(Shape, 0, len(r.shape)-1)
	stride := make([]int, 0, len(r.stride)-1)
	shape = append(shape, r.shape[:dim]...)
	shape = append(shape, r.shape[dim+1:]...)
	stride = append(stride, r.stride[:dim]...)
	stride = append(stride, r.stride[dim+1:]...)
	return &RawTensor{
		data:   r.data,
		shape:  shape,
		stride: stride,
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}
}
