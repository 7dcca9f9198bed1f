package conv

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/born-ml/convdnn/internal/tensor"
)

// Fixed capacities of the fingerprint arrays. Tensors are at most 5-D
// (batch, channel, up to three spatial dimensions) after the 1-D
// problems are lifted to 2-D.
const (
	maxRank = 5
	maxDim  = 3
)

// paramsSize is the exact byte length of an encoded fingerprint:
// dataType, three rank-5 extent arrays, three rank-3 parameter arrays,
// groups, deterministic.
const paramsSize = 4 + 3*maxRank*4 + 3*maxDim*4 + 8 + 1

// Params is the parameter fingerprint: a fixed-layout record of every
// shape, stride and hyperparameter that determines which algorithm is
// optimal for a convolution call. Unused trailing slots stay zero so
// two fingerprints are equal iff every meaningful field matches, and
// hashing over the encoded bytes obeys the equality contract for free.
//
// The transposed flag is deliberately absent: a transposed forward
// pass is executed as a backward-data pass over the same geometry, so
// both directions share cache entries.
type Params struct {
	DataType      int32
	InputSize     [maxRank]int32
	InputStride   [maxRank]int32
	WeightSize    [maxRank]int32
	Padding       [maxDim]int32
	Stride        [maxDim]int32
	Dilation      [maxDim]int32
	Groups        int64
	Deterministic bool
}

// BuildParams populates a fingerprint from the tensors and normalized
// hyperparameters of one call. input and weight must have equal rank
// of at most maxRank.
func BuildParams(input, weight *tensor.RawTensor, padding, stride, dilation []int, groups int, deterministic bool) (Params, error) {
	var p Params
	if input.Dim() != weight.Dim() {
		return p, fmt.Errorf("fingerprint: input rank %d does not match weight rank %d", input.Dim(), weight.Dim())
	}
	if input.Dim() > maxRank {
		return p, fmt.Errorf("fingerprint: rank %d exceeds maximum %d", input.Dim(), maxRank)
	}
	if len(padding) > maxDim {
		return p, fmt.Errorf("fingerprint: %d spatial dimensions exceed maximum %d", len(padding), maxDim)
	}
	p.DataType = int32(input.DType())
	for i, e := range input.Shape() {
		p.InputSize[i] = int32(e)
	}
	for i, s := range input.Strides() {
		p.InputStride[i] = int32(s)
	}
	for i, e := range weight.Shape() {
		p.WeightSize[i] = int32(e)
	}
	for i := range padding {
		p.Padding[i] = int32(padding[i])
		p.Stride[i] = int32(stride[i])
		p.Dilation[i] = int32(dilation[i])
	}
	p.Groups = int64(groups)
	p.Deterministic = deterministic
	return p, nil
}

// paramsKey is the canonical byte image of a fingerprint, usable as a
// map key. Encoding is explicit rather than a raw memory view so the
// layout carries no uninitialized padding bytes.
type paramsKey [paramsSize]byte

// Layout stability: the encoded image is exactly 109 bytes.
var _ = paramsKey([109]byte{})

func (p *Params) encode() paramsKey {
	var key paramsKey
	b := key[:0]
	b = binary.LittleEndian.AppendUint32(b, uint32(p.DataType))
	for _, arr := range [][maxRank]int32{p.InputSize, p.InputStride, p.WeightSize} {
		for _, v := range arr {
			b = binary.LittleEndian.AppendUint32(b, uint32(v))
		}
	}
	for _, arr := range [][maxDim]int32{p.Padding, p.Stride, p.Dilation} {
		for _, v := range arr {
			b = binary.LittleEndian.AppendUint32(b, uint32(v))
		}
	}
	b = binary.LittleEndian.AppendUint64(b, uint64(p.Groups))
	if p.Deterministic {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	if len(b) != paramsSize {
		panic(fmt.Sprintf("conv: fingerprint encoded to %d bytes, want %d", len(b), paramsSize))
	}
	return key
}

// Hash mixes the encoded byte image with FNV-1a. Equal fingerprints
// hash equally because both operations consume the same bytes.
func (p *Params) Hash() uint32 {
	const (
		offsetBasis = 0x811C9DC5
		prime       = 0x01000193
	)
	key := p.encode()
	h := uint32(offsetBasis)
	for _, c := range key {
		h ^= uint32(c)
		h *= prime
	}
	return h
}

// Equal compares the encoded byte images.
func (p *Params) Equal(other *Params) bool {
	return p.encode() == other.encode()
}

// String renders the fingerprint for error messages and logs.
func (p *Params) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ConvParams{dtype=%s", tensor.DataType(p.DataType))
	fmt.Fprintf(&sb, " input=%v strides=%v weight=%v", p.InputSize, p.InputStride, p.WeightSize)
	fmt.Fprintf(&sb, " padding=%v stride=%v dilation=%v", p.Padding, p.Stride, p.Dilation)
	fmt.Fprintf(&sb, " groups=%d deterministic=%t}", p.Groups, p.Deterministic)
	return sb.String()
}
