// Package allocator provides the instrumented host allocator: a
// byte-buffer allocator whose allocation and free paths drive the
// tracer hook, so every live buffer is attributed to the call site that
// requested it. It backs the demo workloads and gives tests a real
// allocation source; hosts with their own allocator wire the hook
// directly instead.
package allocator

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/memtrace/internal/tracer"
)

// Config controls allocator behavior.
type Config struct {
	PoolSizes      []uintptr // size classes served from pools
	MaxAllocations int       // cap on simultaneously live allocations, 0 = unbounded
	MemoryLimit    uintptr   // cap on live bytes, 0 = unbounded
	AlignmentSize  uintptr   // size rounding, power of two
}

// Option mutates a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		PoolSizes:      []uintptr{64, 128, 256, 512, 1024},
		MaxAllocations: 1000000,
		MemoryLimit:    1024 * 1024 * 1024,
		AlignmentSize:  8,
	}
}

func WithPoolSizes(sizes []uintptr) Option {
	return func(c *Config) { c.PoolSizes = sizes }
}

func WithMemoryLimit(limit uintptr) Option {
	return func(c *Config) { c.MemoryLimit = limit }
}

func WithAlignment(alignment uintptr) Option {
	return func(c *Config) { c.AlignmentSize = alignment }
}

// Stats summarizes allocator activity.
type Stats struct {
	TotalAllocated    uintptr
	TotalFreed        uintptr
	ActiveAllocations int
	AllocationCount   uint64
	FreeCount         uint64
	BytesInUse        uintptr
}

// TracedAllocator allocates byte buffers from the Go heap and reports
// every allocation, reallocation, and free to the tracer hook. Buffers
// are pinned in an internal map until freed so their addresses stay
// stable and unique.
type TracedAllocator struct {
	config *Config
	hook   tracer.Hook

	mu     sync.RWMutex
	slices map[unsafe.Pointer][]byte

	totalAllocated  uintptr
	totalFreed      uintptr
	allocationCount uint64
	freeCount       uint64
}

// New creates an allocator reporting to the given hook. A nil hook
// disables reporting but keeps the allocator functional.
func New(hook tracer.Hook, options ...Option) *TracedAllocator {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}
	return &TracedAllocator{
		config: config,
		hook:   hook,
		slices: make(map[unsafe.Pointer][]byte),
	}
}

// Alloc allocates size bytes and returns a stable pointer to the first
// byte, or nil on size zero, limit exhaustion, or overflow.
func (ta *TracedAllocator) Alloc(size uintptr) unsafe.Pointer {
	ptr, _ := ta.alloc(size)
	if ptr != nil && ta.hook != nil {
		ta.hook.RecordAlloc(uintptr(ptr), uint64(size), 1)
	}
	return ptr
}

// Free releases an allocation. Freeing nil or an unknown pointer is a
// no-op.
func (ta *TracedAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if !ta.release(ptr) {
		return
	}
	if ta.hook != nil {
		ta.hook.RecordFree(uintptr(ptr))
	}
}

// Realloc grows or shrinks an allocation, preserving the common prefix
// of the old contents. A nil ptr degenerates to Alloc.
func (ta *TracedAllocator) Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	if ptr == nil {
		return ta.Alloc(newSize)
	}
	if newSize == 0 {
		ta.Free(ptr)
		return nil
	}

	ta.mu.RLock()
	old, ok := ta.slices[ptr]
	ta.mu.RUnlock()
	if !ok {
		return nil
	}

	newPtr, slice := ta.alloc(newSize)
	if newPtr == nil {
		return nil
	}
	copy(slice, old)
	ta.release(ptr)

	if ta.hook != nil {
		ta.hook.RecordRealloc(uintptr(ptr), uintptr(newPtr), uint64(newSize), 1)
	}
	return newPtr
}

// SizeOf returns the usable size of a live allocation.
func (ta *TracedAllocator) SizeOf(ptr unsafe.Pointer) (uintptr, bool) {
	ta.mu.RLock()
	defer ta.mu.RUnlock()
	slice, ok := ta.slices[ptr]
	if !ok {
		return 0, false
	}
	return uintptr(len(slice)), true
}

// ActiveAllocations returns the number of live allocations.
func (ta *TracedAllocator) ActiveAllocations() int {
	ta.mu.RLock()
	defer ta.mu.RUnlock()
	return len(ta.slices)
}

// Stats returns a point-in-time summary.
func (ta *TracedAllocator) Stats() Stats {
	ta.mu.RLock()
	active := len(ta.slices)
	ta.mu.RUnlock()

	allocated := atomic.LoadUintptr(&ta.totalAllocated)
	freed := atomic.LoadUintptr(&ta.totalFreed)
	return Stats{
		TotalAllocated:    allocated,
		TotalFreed:        freed,
		ActiveAllocations: active,
		AllocationCount:   atomic.LoadUint64(&ta.allocationCount),
		FreeCount:         atomic.LoadUint64(&ta.freeCount),
		BytesInUse:        allocated - freed,
	}
}

// alloc carves a new pinned buffer without reporting to the hook.
func (ta *TracedAllocator) alloc(size uintptr) (unsafe.Pointer, []byte) {
	if size == 0 {
		return nil, nil
	}
	alignedSize := alignUp(size, ta.config.AlignmentSize)
	if alignedSize < size {
		return nil, nil // overflow
	}

	if ta.config.MemoryLimit > 0 {
		inUse := atomic.LoadUintptr(&ta.totalAllocated) - atomic.LoadUintptr(&ta.totalFreed)
		if inUse+alignedSize > ta.config.MemoryLimit {
			return nil, nil
		}
	}

	slice := make([]byte, size, alignedSize)
	ptr := unsafe.Pointer(&slice[0])

	ta.mu.Lock()
	if ta.config.MaxAllocations > 0 && len(ta.slices) >= ta.config.MaxAllocations {
		ta.mu.Unlock()
		return nil, nil
	}
	ta.slices[ptr] = slice
	ta.mu.Unlock()

	atomic.AddUintptr(&ta.totalAllocated, alignedSize)
	atomic.AddUint64(&ta.allocationCount, 1)
	return ptr, slice
}

// release unpins a buffer without reporting to the hook.
func (ta *TracedAllocator) release(ptr unsafe.Pointer) bool {
	ta.mu.Lock()
	slice, ok := ta.slices[ptr]
	if ok {
		delete(ta.slices, ptr)
	}
	ta.mu.Unlock()
	if !ok {
		return false
	}

	atomic.AddUintptr(&ta.totalFreed, alignUp(uintptr(cap(slice)), ta.config.AlignmentSize))
	atomic.AddUint64(&ta.freeCount, 1)
	return true
}

// alignUp rounds size up to the next multiple of alignment (a power of
// two).
func alignUp(size, alignment uintptr) uintptr {
	if alignment == 0 {
		return size
	}
	return (size + alignment - 1) &^ (alignment - 1)
}
