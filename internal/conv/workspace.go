package conv

import (
	"errors"
	"fmt"

	"github.com/born-ml/convdnn/internal/dnn"
)

// workspace wraps the scratch buffer for one vendor call. A zero-size
// workspace carries a nil buffer.
type workspace struct {
	buf dnn.Buffer
}

func (w workspace) release() {
	if w.buf != nil {
		w.buf.Release()
	}
}

func acquire(alloc dnn.Allocator, size uint64) (workspace, error) {
	if size == 0 {
		return workspace{}, nil
	}
	buf, err := alloc.Alloc(size)
	if err != nil {
		return workspace{}, err
	}
	return workspace{buf: buf}, nil
}

// chooseAlgorithm runs algorithm selection and then acquires the
// winner's workspace. When the device cannot satisfy that allocation,
// selection is forced down to the fixed default algorithm, the
// override is recorded in the cache so later calls with the same
// fingerprint skip straight to the safe choice, and the (smaller)
// default workspace is acquired instead. A second failure means the
// device is truly exhausted and propagates as fatal.
func chooseAlgorithm[A comparable](s strategy[A], cache *Cache[A], alloc dnn.Allocator, args dnn.ConvArgs, p *Params, benchmark bool) (A, workspace, error) {
	var zero A
	algo, err := findAlgorithm(s, cache, alloc, args, p, benchmark)
	if err != nil {
		return zero, workspace{}, err
	}

	size, err := s.workspaceSize(args, algo)
	if err == nil {
		ws, aerr := acquire(alloc, size)
		if aerr == nil {
			return algo, ws, nil
		}
		if !errors.Is(aerr, dnn.ErrOutOfMemory) {
			return zero, workspace{}, fmt.Errorf("%s workspace: %w", s.direction(), aerr)
		}
	}

	algo = s.defaultAlgo()
	cache.Insert(p, algo)
	size, err = s.workspaceSize(args, algo)
	if err != nil {
		return zero, workspace{}, fmt.Errorf("%s default workspace size: %w", s.direction(), err)
	}
	ws, err := acquire(alloc, size)
	if err != nil {
		return zero, workspace{}, fmt.Errorf("%s workspace for default algorithm %v: %w", s.direction(), algo, err)
	}
	return algo, ws, nil
}
