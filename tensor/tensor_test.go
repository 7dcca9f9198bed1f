// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/convdnn/tensor"
)

func TestRawTensorAPI(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	assert.True(t, raw.Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, tensor.Float32, raw.DType())
	assert.Equal(t, tensor.CPU, raw.Device())
	assert.Equal(t, 6, raw.NumElements())
	assert.Equal(t, 24, raw.ByteSize())
	assert.True(t, raw.IsContiguous())
}

func TestViewsShareStorage(t *testing.T) {
	raw, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, tensor.CPU)
	require.NoError(t, err)

	view := raw.Narrow(1, 1, 2)
	assert.True(t, view.Shape().Equal(tensor.Shape{2, 2}))
	assert.False(t, view.IsContiguous())

	dense := view.Contiguous()
	assert.Equal(t, []float32{2, 3, 5, 6}, dense.AsFloat32())

	tr := raw.Transpose(0, 1)
	assert.True(t, tr.Shape().Equal(tensor.Shape{3, 2}))
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, tr.Contiguous().AsFloat32())
}

func TestConcatAndAdd(t *testing.T) {
	a, err := tensor.FromFloat32([]float32{1, 2}, tensor.Shape{1, 2}, tensor.CPU)
	require.NoError(t, err)
	b, err := tensor.FromFloat32([]float32{3, 4}, tensor.Shape{1, 2}, tensor.CPU)
	require.NoError(t, err)

	cat, err := tensor.Concat([]*tensor.RawTensor{a, b}, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, cat.AsFloat32())

	sum, err := tensor.Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 6}, sum.AsFloat32())
}
