package webgpu

import (
	"errors"
	"testing"

	"github.com/born-ml/convdnn/internal/dnn"
)

func TestIsAvailable(t *testing.T) {
	available := IsAvailable()
	t.Logf("WebGPU available: %v", available)
	// Reports status only; absence of a GPU is not a failure.
}

func TestAllocatorLifecycle(t *testing.T) {
	a, err := NewAllocator(WithBudget(1 << 20))
	if err != nil {
		t.Logf("WebGPU not available: %v", err)
		t.Skip("WebGPU not available on this system")
	}
	defer a.Release()

	free, total, maxBlock := a.MemInfo()
	if total != 1<<20 || free != total || maxBlock != free {
		t.Fatalf("MemInfo = (%d, %d, %d), want a fresh 1 MiB budget", free, total, maxBlock)
	}

	buf, err := a.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if buf.Size() != 4096 {
		t.Fatalf("buffer size %d, want 4096", buf.Size())
	}
	free, _, _ = a.MemInfo()
	if free != 1<<20-4096 {
		t.Fatalf("free after alloc = %d, want %d", free, 1<<20-4096)
	}

	buf.Release()
	buf.Release() // idempotent
	free, _, _ = a.MemInfo()
	if free != 1<<20 {
		t.Fatalf("free after release = %d, want the full budget", free)
	}

	// Over-budget allocations surface as out-of-memory.
	if _, err := a.Alloc(2 << 20); !errors.Is(err, dnn.ErrOutOfMemory) {
		t.Fatalf("over-budget err = %v, want ErrOutOfMemory", err)
	}
}

func TestAllocatorMaxBlock(t *testing.T) {
	a, err := NewAllocator(WithBudget(1<<20), WithMaxBlock(1024))
	if err != nil {
		t.Skip("WebGPU not available on this system")
	}
	defer a.Release()

	if _, _, maxBlock := a.MemInfo(); maxBlock != 1024 {
		t.Fatalf("maxBlock = %d, want 1024", maxBlock)
	}
	if _, err := a.Alloc(4096); !errors.Is(err, dnn.ErrOutOfMemory) {
		t.Fatalf("over-block err = %v, want ErrOutOfMemory", err)
	}
}
