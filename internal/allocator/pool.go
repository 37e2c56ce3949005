package allocator

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/memtrace/internal/tracer"
)

// classPool recycles buffers of one size class.
type classPool struct {
	sizeClass uintptr
	pool      sync.Pool
	allocated int64
	freed     int64
}

func newClassPool(sizeClass uintptr) *classPool {
	return &classPool{
		sizeClass: sizeClass,
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, sizeClass)
				return &buf
			},
		},
	}
}

func (cp *classPool) get() *[]byte {
	buf := cp.pool.Get().(*[]byte)
	atomic.AddInt64(&cp.allocated, 1)
	return buf
}

func (cp *classPool) put(buf *[]byte) {
	atomic.AddInt64(&cp.freed, 1)
	cp.pool.Put(buf)
}

// PoolAllocator serves small requests from size-classed pools, falling
// back to the traced allocator for anything larger. Pool hits are still
// reported to the hook: a recycled buffer keeps its address, and the
// tracer's table tolerates reuse by replacing the stale entry.
type PoolAllocator struct {
	pools    []*classPool
	fallback *TracedAllocator
	hook     tracer.Hook

	mu   sync.Mutex
	live map[unsafe.Pointer]*poolEntry
}

type poolEntry struct {
	pool *classPool
	buf  *[]byte
}

// NewPool creates a pooled allocator layered over the traced allocator.
func NewPool(hook tracer.Hook, options ...Option) *PoolAllocator {
	fallback := New(hook, options...)
	pools := make([]*classPool, 0, len(fallback.config.PoolSizes))
	for _, sizeClass := range fallback.config.PoolSizes {
		pools = append(pools, newClassPool(sizeClass))
	}
	return &PoolAllocator{
		pools:    pools,
		fallback: fallback,
		hook:     hook,
		live:     make(map[unsafe.Pointer]*poolEntry),
	}
}

// classFor picks the smallest pool serving size, or nil when the
// request exceeds every class.
func (pa *PoolAllocator) classFor(size uintptr) *classPool {
	for _, cp := range pa.pools {
		if size <= cp.sizeClass {
			return cp
		}
	}
	return nil
}

// Alloc returns a buffer of at least size bytes.
func (pa *PoolAllocator) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	cp := pa.classFor(size)
	if cp == nil {
		return pa.fallback.Alloc(size)
	}

	buf := cp.get()
	ptr := unsafe.Pointer(&(*buf)[0])

	pa.mu.Lock()
	pa.live[ptr] = &poolEntry{pool: cp, buf: buf}
	pa.mu.Unlock()

	if pa.hook != nil {
		pa.hook.RecordAlloc(uintptr(ptr), uint64(size), 1)
	}
	return ptr
}

// Free returns a buffer to its pool, or to the traced allocator when it
// was a fallback allocation.
func (pa *PoolAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	pa.mu.Lock()
	entry, ok := pa.live[ptr]
	if ok {
		delete(pa.live, ptr)
	}
	pa.mu.Unlock()

	if !ok {
		pa.fallback.Free(ptr)
		return
	}
	entry.pool.put(entry.buf)
	if pa.hook != nil {
		pa.hook.RecordFree(uintptr(ptr))
	}
}

// ActiveAllocations returns live allocations across pools and fallback.
func (pa *PoolAllocator) ActiveAllocations() int {
	pa.mu.Lock()
	pooled := len(pa.live)
	pa.mu.Unlock()
	return pooled + pa.fallback.ActiveAllocations()
}

// Stats merges pool counters with the fallback allocator's.
func (pa *PoolAllocator) Stats() Stats {
	stats := pa.fallback.Stats()
	for _, cp := range pa.pools {
		allocated := atomic.LoadInt64(&cp.allocated)
		freed := atomic.LoadInt64(&cp.freed)
		stats.AllocationCount += uint64(allocated)
		stats.FreeCount += uint64(freed)
		stats.TotalAllocated += uintptr(allocated) * cp.sizeClass
		stats.TotalFreed += uintptr(freed) * cp.sizeClass
	}
	stats.BytesInUse = stats.TotalAllocated - stats.TotalFreed
	stats.ActiveAllocations = pa.ActiveAllocations()
	return stats
}
