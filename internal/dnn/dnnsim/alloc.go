package dnnsim

import (
	"fmt"
	"sync"

	"github.com/born-ml/convdnn/internal/dnn"
)

// Allocator is a budgeted host allocator implementing dnn.Allocator.
// It models device memory pressure: a fixed budget, an optional cap on
// the largest single block, and bookkeeping that tests inspect to see
// how the engine negotiated workspaces.
type Allocator struct {
	mu       sync.Mutex
	total    uint64
	used     uint64
	maxBlock uint64 // 0 means bounded only by free memory

	emptyCacheCalls int
}

// AllocOption configures an Allocator.
type AllocOption func(*Allocator)

// WithMaxBlock caps the largest single allocation, modeling a
// fragmented device where free memory exceeds the biggest contiguous
// block.
func WithMaxBlock(size uint64) AllocOption {
	return func(a *Allocator) { a.maxBlock = size }
}

// NewAllocator creates an allocator with the given byte budget.
func NewAllocator(budget uint64, opts ...AllocOption) *Allocator {
	a := &Allocator{total: budget}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type buffer struct {
	size  uint64
	owner *Allocator
	freed bool
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Release() {
	if b.freed {
		return
	}
	b.freed = true
	b.owner.mu.Lock()
	b.owner.used -= b.size
	b.owner.mu.Unlock()
}

// Alloc implements dnn.Allocator.
func (a *Allocator) Alloc(size uint64) (dnn.Buffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size > a.total-a.used {
		return nil, fmt.Errorf("alloc %d bytes with %d free: %w", size, a.total-a.used, dnn.ErrOutOfMemory)
	}
	if a.maxBlock != 0 && size > a.maxBlock {
		return nil, fmt.Errorf("alloc %d bytes exceeds largest block %d: %w", size, a.maxBlock, dnn.ErrOutOfMemory)
	}
	a.used += size
	return &buffer{size: size, owner: a}, nil
}

// MemInfo implements dnn.Allocator.
func (a *Allocator) MemInfo() (free, total, maxBlock uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	free = a.total - a.used
	maxBlock = free
	if a.maxBlock != 0 && a.maxBlock < maxBlock {
		maxBlock = a.maxBlock
	}
	return free, a.total, maxBlock
}

// EmptyCache implements dnn.Allocator. The simulated allocator has no
// cache to drop; it only counts the calls so tests can assert the
// engine released memory after benchmark search.
func (a *Allocator) EmptyCache() {
	a.mu.Lock()
	a.emptyCacheCalls++
	a.mu.Unlock()
}

// EmptyCacheCalls reports how many times EmptyCache ran.
func (a *Allocator) EmptyCacheCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emptyCacheCalls
}

// Used reports the bytes currently allocated.
func (a *Allocator) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}
