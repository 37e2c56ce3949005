// Package snapshot provides immutable point-in-time copies of tracer
// state plus the derived views: filtered snapshots, grouped statistics,
// and ordered diffs between two snapshots. Snapshots outlive the tracer
// that produced them and can be persisted to a byte stream and
// reloaded.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/orizon-lang/memtrace/internal/tracer"
)

var (
	// ErrNeedTraces reports a grouping that requires per-allocation
	// traces on a snapshot taken without them.
	ErrNeedTraces = errors.New("need traces")

	// ErrInvalidFormat reports a persisted artifact that is missing
	// required records or carries an unknown format version.
	ErrInvalidFormat = errors.New("invalid format")
)

// Metric is a named scalar attached to a snapshot with a display format
// tag ("size", "int", "percent", ...).
type Metric struct {
	Name   string `json:"name"`
	Value  int64  `json:"value"`
	Format string `json:"format"`
}

// Snapshot is an immutable copy of tracer state at one instant. Traces
// is nil for a lightweight snapshot taken without per-allocation
// traces. The sanctioned mutations are AddMetric, which only adds new
// metrics, and ApplyFilters, which rewrites the snapshot in place.
type Snapshot struct {
	Timestamp      time.Time
	TracebackLimit int
	Stats          tracer.Statistics
	Traces         map[uintptr]tracer.Trace
	Metrics        map[string]*Metric
}

// New assembles a snapshot from explicit parts, normalizing nil metric
// maps. Mostly useful to tests and loaders; live captures go through
// Create.
func New(timestamp time.Time, limit int, stats tracer.Statistics, traces map[uintptr]tracer.Trace, metrics map[string]*Metric) *Snapshot {
	if metrics == nil {
		metrics = make(map[string]*Metric)
	}
	return &Snapshot{
		Timestamp:      timestamp,
		TracebackLimit: limit,
		Stats:          stats,
		Traces:         traces,
		Metrics:        metrics,
	}
}

// Create captures a snapshot of the given tracer under a consistent
// view. With withTraces set, the live-allocation table is copied as
// well. Fails with the tracer disabled.
func Create(t *tracer.Tracer, withTraces bool) (*Snapshot, error) {
	limit, stats, traces, err := t.View(withTraces)
	if err != nil {
		return nil, err
	}
	return New(time.Now(), limit, stats, traces, nil), nil
}

// AddMetric attaches a named scalar to the snapshot. Metric names are
// unique; a duplicate name is rejected.
func (s *Snapshot) AddMetric(name string, value int64, format string) (*Metric, error) {
	if _, ok := s.Metrics[name]; ok {
		return nil, fmt.Errorf("%w: metric name already present: %q", tracer.ErrInvalidArgument, name)
	}
	m := &Metric{Name: name, Value: value, Format: format}
	s.Metrics[name] = m
	return m, nil
}

// GetMetric returns the named metric's value, or def when absent.
func (s *Snapshot) GetMetric(name string, def int64) int64 {
	if m, ok := s.Metrics[name]; ok {
		return m.Value
	}
	return def
}

// ApplyFilters rewrites the snapshot's statistics and traces in place:
// inclusive filters are applied first, then exclusive ones. An empty
// filter list is a no-op; applying the same set twice is idempotent.
func (s *Snapshot) ApplyFilters(filters []*tracer.Filter) {
	var include, exclude []*tracer.Filter
	for _, f := range filters {
		if f == nil {
			continue
		}
		if f.Include() {
			include = append(include, f)
		} else {
			exclude = append(exclude, f)
		}
	}
	s.applyFilters(true, include)
	s.applyFilters(false, exclude)
}

func (s *Snapshot) applyFilters(include bool, filters []*tracer.Filter) {
	if len(filters) == 0 {
		return
	}
	s.Stats = filterStats(s.Stats, include, filters)
	if s.Traces != nil {
		s.Traces = filterTraces(s.Traces, include, filters)
	}
}

// filterStats keeps line buckets surviving the filter pass. A file that
// matches at the file level keeps its (possibly emptied) bucket map;
// files failing the file-level match are dropped entirely.
func filterStats(stats tracer.Statistics, include bool, filters []*tracer.Filter) tracer.Statistics {
	out := make(tracer.Statistics, len(stats))
	for filename, lines := range stats {
		if !matchAnyAll(include, filters, func(f *tracer.Filter) bool {
			return f.MatchFilename(filename)
		}) {
			continue
		}
		kept := make(map[int]tracer.LineStats, len(lines))
		for lineno, st := range lines {
			if matchAnyAll(include, filters, func(f *tracer.Filter) bool {
				return f.Match(filename, lineno)
			}) {
				kept[lineno] = st
			}
		}
		out[filename] = kept
	}
	return out
}

func filterTraces(traces map[uintptr]tracer.Trace, include bool, filters []*tracer.Filter) map[uintptr]tracer.Trace {
	out := make(map[uintptr]tracer.Trace, len(traces))
	for addr, tr := range traces {
		if matchAnyAll(include, filters, func(f *tracer.Filter) bool {
			return f.MatchTraceback(tr.Traceback.Frames())
		}) {
			out[addr] = tr
		}
	}
	return out
}

// matchAnyAll folds the two composition modes: any-of for an inclusive
// pass, all-of for an exclusive pass.
func matchAnyAll(include bool, filters []*tracer.Filter, pred func(*tracer.Filter) bool) bool {
	if include {
		for _, f := range filters {
			if pred(f) {
				return true
			}
		}
		return false
	}
	for _, f := range filters {
		if !pred(f) {
			return false
		}
	}
	return true
}
