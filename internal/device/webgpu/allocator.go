// Package webgpu implements the dnn.Allocator device memory interface
// on top of WebGPU. Uses go-webgpu (github.com/go-webgpu/webgpu) for
// zero-CGO WebGPU bindings.
//
// WebGPU exposes no free-memory query, so the allocator tracks usage
// against a configurable budget and answers MemInfo from its own
// bookkeeping. Workspace buffers are plain storage buffers; the engine
// never maps them, it only hands them to the device library.
package webgpu

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/convdnn/internal/dnn"
)

// defaultBudget is the assumed device memory when the caller does not
// configure one: 2 GiB, a conservative floor for discrete adapters.
const defaultBudget = 1 << 31

// Allocator allocates convolution workspaces as WebGPU storage buffers.
type Allocator struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device

	mu       sync.Mutex
	total    uint64
	used     uint64
	maxBlock uint64 // 0 means bounded only by free budget
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithBudget sets the device memory budget in bytes.
func WithBudget(bytes uint64) Option {
	return func(a *Allocator) { a.total = bytes }
}

// WithMaxBlock caps the largest single allocation.
func WithMaxBlock(bytes uint64) Option {
	return func(a *Allocator) { a.maxBlock = bytes }
}

// NewAllocator opens the default high-performance adapter and creates a
// device for workspace allocation. Returns an error if WebGPU is not
// available on this system.
func NewAllocator(opts ...Option) (a *Allocator, err error) {
	// Recover from panic if the wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			a = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, instanceErr := wgpu.CreateInstance(nil)
	if instanceErr != nil {
		return nil, fmt.Errorf("webgpu: failed to create instance: %w", instanceErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}
	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	a = &Allocator{
		instance: instance,
		adapter:  adapter,
		device:   device,
		total:    defaultBudget,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Device returns the underlying WebGPU device, for callers that build
// their compute pipelines against the same device the workspaces live
// on.
func (a *Allocator) Device() *wgpu.Device {
	return a.device
}

// Release frees the WebGPU objects. The allocator must not be used
// afterwards.
func (a *Allocator) Release() {
	if a.device != nil {
		a.device.Release()
		a.device = nil
	}
	if a.adapter != nil {
		a.adapter.Release()
		a.adapter = nil
	}
	if a.instance != nil {
		a.instance.Release()
		a.instance = nil
	}
}

type buffer struct {
	buf   *wgpu.Buffer
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
	b.buf.Release()
	b.owner.mu.Lock()
	b.owner.used -= b.size
	b.owner.mu.Unlock()
}

// Alloc implements dnn.Allocator. Allocation failures, whether against
// the budget or inside the native library, surface as ErrOutOfMemory so
// the engine's fallback to the default algorithm can engage.
func (a *Allocator) Alloc(size uint64) (buf dnn.Buffer, err error) {
	a.mu.Lock()
	if size > a.total-a.used {
		free := a.total - a.used
		a.mu.Unlock()
		return nil, fmt.Errorf("webgpu: alloc %d bytes with %d free: %w", size, free, dnn.ErrOutOfMemory)
	}
	if a.maxBlock != 0 && size > a.maxBlock {
		a.mu.Unlock()
		return nil, fmt.Errorf("webgpu: alloc %d bytes exceeds largest block %d: %w", size, a.maxBlock, dnn.ErrOutOfMemory)
	}
	a.used += size
	a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			a.mu.Lock()
			a.used -= size
			a.mu.Unlock()
			buf = nil
			err = fmt.Errorf("webgpu: buffer creation failed: %v: %w", r, dnn.ErrOutOfMemory)
		}
	}()
	// Buffer sizes must be 4-byte aligned.
	aligned := (size + 3) &^ 3
	b := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  aligned,
	})
	return &buffer{buf: b, size: size, owner: a}, nil
}

// MemInfo implements dnn.Allocator from the budget bookkeeping.
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

// EmptyCache implements dnn.Allocator. Buffers are released eagerly
// back to the driver rather than pooled, so there is nothing to drop.
func (a *Allocator) EmptyCache() {}

// IsAvailable checks whether WebGPU can be initialized on this system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()
	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()
	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}
