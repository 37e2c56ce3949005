package memtrace

import "unsafe"

// ObjectAddress returns the integer address identifying an allocation.
// The tracer never dereferences addresses, so observing an allocation
// cannot extend the object's lifetime.
func ObjectAddress(p unsafe.Pointer) uintptr { return uintptr(p) }

// ObjectTrace looks up the trace recorded for the allocation backing p.
func ObjectTrace(p unsafe.Pointer) (Trace, bool) {
	return std.TraceAt(uintptr(p))
}
