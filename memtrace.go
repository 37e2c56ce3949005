// Package memtrace traces the memory allocations of a host program:
// every allocation reported through the hook is tagged with the call
// stack that produced it and aggregated into queryable statistics and
// serializable snapshots. The package front is a thin façade over one
// process-wide tracer; all functions are safe for concurrent use.
package memtrace

import (
	"github.com/orizon-lang/memtrace/internal/snapshot"
	"github.com/orizon-lang/memtrace/internal/tracer"
)

// Re-exported types. The internal packages own the implementations;
// the façade keeps host code to a single import.
type (
	Frame        = tracer.Frame
	Traceback    = tracer.Traceback
	Trace        = tracer.Trace
	LineStats    = tracer.LineStats
	Statistics   = tracer.Statistics
	Filter       = tracer.Filter
	Hook         = tracer.Hook
	Snapshot     = snapshot.Snapshot
	Metric       = snapshot.Metric
	GroupedStats = snapshot.GroupedStats
	GroupKind    = snapshot.GroupKind
	GroupKey     = snapshot.GroupKey
	Diff         = snapshot.Diff
)

// Grouping kinds accepted by (*Snapshot).TopBy.
const (
	GroupByLine      = snapshot.GroupByLine
	GroupByFilename  = snapshot.GroupByFilename
	GroupByAddress   = snapshot.GroupByAddress
	GroupByTraceback = snapshot.GroupByTraceback
)

// Error kinds surfaced at the call boundary.
var (
	ErrInvalidArgument = tracer.ErrInvalidArgument
	ErrDisabled        = tracer.ErrDisabled
	ErrNeedTraces      = snapshot.ErrNeedTraces
	ErrInvalidFormat   = snapshot.ErrInvalidFormat
)

// std is the process-wide tracer instance behind the package functions.
var std = tracer.New()

// Default returns the process-wide tracer, for hosts that wire the hook
// into their allocator directly.
func Default() *tracer.Tracer { return std }

// Enable starts tracing. Idempotent.
func Enable() { std.Enable() }

// Disable stops tracing and releases the tracer's tables. Registered
// filters are preserved.
func Disable() { std.Disable() }

// IsEnabled reports whether tracing is active.
func IsEnabled() bool { return std.IsEnabled() }

// Reset forgets all recorded allocations while keeping tracing active.
func Reset() { std.Reset() }

// TracebackLimit returns the number of frames captured per allocation.
func TracebackLimit() int { return std.TracebackLimit() }

// SetTracebackLimit changes the capture depth for subsequent
// allocations. Negative limits fail with ErrInvalidArgument.
func SetTracebackLimit(limit int) error { return std.SetTracebackLimit(limit) }

// TracedMemory returns the current traced total and the peak since the
// last reset.
func TracedMemory() (current, peak uint64) { return std.TracedMemory() }

// SelfMemory estimates the memory used by the tracer itself as
// (size, free).
func SelfMemory() (size, free uint64) { return std.SelfMemory() }

// Stats returns a deep copy of the per-source-location statistics.
func Stats() Statistics { return std.Stats() }

// Traces returns a copy of the live-allocation table.
func Traces() map[uintptr]Trace { return std.Traces() }

// TraceAt looks up one live allocation by address.
func TraceAt(addr uintptr) (Trace, bool) { return std.TraceAt(addr) }

// NewFilter compiles a trace filter. lineno at or below zero means any
// line; wholeTraceback extends matching to every frame of a trace.
func NewFilter(include bool, pattern string, lineno int, wholeTraceback bool) (*Filter, error) {
	return tracer.NewFilter(include, pattern, lineno, wholeTraceback)
}

// AddFilter registers a capture-time filter. Duplicates are ignored.
func AddFilter(f *Filter) { std.AddFilter(f) }

// AddInclusiveFilter registers a filter keeping only traces from
// sources matching the pattern.
func AddInclusiveFilter(pattern string, lineno int, wholeTraceback bool) error {
	f, err := tracer.NewFilter(true, pattern, lineno, wholeTraceback)
	if err != nil {
		return err
	}
	std.AddFilter(f)
	return nil
}

// AddExclusiveFilter registers a filter dropping traces from sources
// matching the pattern.
func AddExclusiveFilter(pattern string, lineno int, wholeTraceback bool) error {
	f, err := tracer.NewFilter(false, pattern, lineno, wholeTraceback)
	if err != nil {
		return err
	}
	std.AddFilter(f)
	return nil
}

// ClearFilters drops all registered filters.
func ClearFilters() { std.ClearFilters() }

// Filters returns the registered filters in registration order.
func Filters() []*Filter { return std.Filters() }

// TakeSnapshot captures a lightweight snapshot (statistics only) of the
// current tracer state. Fails with ErrDisabled when tracing is off.
func TakeSnapshot() (*Snapshot, error) { return snapshot.Create(std, false) }

// CreateSnapshot captures a snapshot, optionally including the
// per-allocation traces needed by the address, traceback, and
// cumulative groupings.
func CreateSnapshot(withTraces bool) (*Snapshot, error) { return snapshot.Create(std, withTraces) }

// LoadSnapshot reads a snapshot previously written with
// (*Snapshot).Dump. With withTraces false the trace record is skipped.
func LoadSnapshot(path string, withTraces bool) (*Snapshot, error) {
	return snapshot.Load(path, withTraces)
}
