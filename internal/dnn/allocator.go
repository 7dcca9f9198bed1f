package dnn

import "errors"

// ErrOutOfMemory is the sentinel every Allocator returns (possibly
// wrapped) when a workspace allocation cannot be satisfied. The engine
// reacts to it by retrying with the no-workspace default algorithm.
var ErrOutOfMemory = errors.New("dnn: out of memory")

// Buffer is a device workspace allocation.
type Buffer interface {
	// Size returns the usable size of the buffer in bytes.
	Size() uint64
	// Release returns the buffer to its allocator. Release on a nil
	// Buffer value is the caller's responsibility to avoid.
	Release()
}

// Allocator hands out device workspace buffers for algorithm search
// and execution.
type Allocator interface {
	// Alloc obtains a buffer of at least size bytes, or fails with an
	// error wrapping ErrOutOfMemory when the device cannot satisfy it.
	Alloc(size uint64) (Buffer, error)

	// MemInfo reports the free and total device memory and the largest
	// contiguous block currently allocatable. Benchmark search sizes
	// its trial workspace from these.
	MemInfo() (free, total, maxBlock uint64)

	// EmptyCache releases cached device memory back to the system.
	// Called after benchmark search to undo allocator growth caused by
	// oversized trial workspaces.
	EmptyCache()
}
