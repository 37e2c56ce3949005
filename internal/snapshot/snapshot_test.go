package snapshot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/memtrace/internal/tracer"
)

func tb(frames ...tracer.Frame) *tracer.Traceback {
	return tracer.NewTraceback(frames)
}

func filter(t *testing.T, include bool, pattern string, lineno int, whole bool) *tracer.Filter {
	t.Helper()
	f, err := tracer.NewFilter(include, pattern, lineno, whole)
	require.NoError(t, err)
	return f
}

// fixtureSnapshots builds the two reference snapshots the grouping and
// diff tests run against: six traces over a.py, b.py, c.py plus one of
// unknown origin.
func fixtureSnapshots(t *testing.T) (*Snapshot, *Snapshot) {
	t.Helper()

	ts := time.Date(2013, 9, 12, 15, 16, 17, 0, time.UTC)
	stats := tracer.Statistics{
		"a.py": {2: {Size: 30, Count: 3}, 5: {Size: 2, Count: 1}},
		"b.py": {1: {Size: 66, Count: 1}},
		"":     {0: {Size: 7, Count: 1}},
	}
	traces := map[uintptr]tracer.Trace{
		0x10001: {Size: 10, Traceback: tb(tracer.Frame{"a.py", 2}, tracer.Frame{"b.py", 4})},
		0x10002: {Size: 10, Traceback: tb(tracer.Frame{"a.py", 2}, tracer.Frame{"b.py", 4})},
		0x10003: {Size: 10, Traceback: tb(tracer.Frame{"a.py", 2}, tracer.Frame{"b.py", 4})},

		0x20001: {Size: 2, Traceback: tb(tracer.Frame{"a.py", 5}, tracer.Frame{"b.py", 4})},

		0x30001: {Size: 66, Traceback: tb(tracer.Frame{"b.py", 1})},

		0x40001: {Size: 7, Traceback: tb(tracer.Frame{})},
	}
	snap := New(ts, 2, stats, traces, nil)
	_, err := snap.AddMetric("process_memory.rss", 1024, "size")
	require.NoError(t, err)
	_, err = snap.AddMetric("memtrace.size", 100, "size")
	require.NoError(t, err)
	_, err = snap.AddMetric("my_data", 8, "int")
	require.NoError(t, err)

	ts2 := time.Date(2013, 9, 12, 15, 16, 50, 0, time.UTC)
	stats2 := tracer.Statistics{
		"a.py": {2: {Size: 30, Count: 3}, 5: {Size: 5002, Count: 2}},
		"c.py": {578: {Size: 400, Count: 1}},
	}
	traces2 := map[uintptr]tracer.Trace{
		0x10001: {Size: 10, Traceback: tb(tracer.Frame{"a.py", 2}, tracer.Frame{"b.py", 4})},
		0x10002: {Size: 10, Traceback: tb(tracer.Frame{"a.py", 2}, tracer.Frame{"b.py", 4})},
		0x10003: {Size: 10, Traceback: tb(tracer.Frame{"a.py", 2}, tracer.Frame{"b.py", 4})},

		0x20001: {Size: 2, Traceback: tb(tracer.Frame{"a.py", 5}, tracer.Frame{"b.py", 4})},
		0x20002: {Size: 5000, Traceback: tb(tracer.Frame{"a.py", 5}, tracer.Frame{"b.py", 4})},

		0x30001: {Size: 400, Traceback: tb(tracer.Frame{"c.py", 30})},
	}
	snap2 := New(ts2, 2, stats2, traces2, nil)
	_, err = snap2.AddMetric("process_memory.rss", 1500, "size")
	require.NoError(t, err)
	_, err = snap2.AddMetric("memtrace.size", 200, "size")
	require.NoError(t, err)
	_, err = snap2.AddMetric("my_data", 10, "int")
	require.NoError(t, err)

	return snap, snap2
}

func traceSizes(traces map[uintptr]tracer.Trace) map[uintptr]uint64 {
	out := make(map[uintptr]uint64, len(traces))
	for addr, tr := range traces {
		out[addr] = tr.Size
	}
	return out
}

func TestCreate(t *testing.T) {
	tr := tracer.New()
	_, err := Create(tr, false)
	assert.ErrorIs(t, err, tracer.ErrDisabled)

	tr.Enable()
	defer tr.Disable()
	require.NoError(t, tr.SetTracebackLimit(5))
	tr.RecordAlloc(0x123, 5, 0)

	snap, err := Create(tr, true)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), snap.Timestamp, time.Minute)
	assert.Equal(t, 5, snap.TracebackLimit)
	assert.Len(t, snap.Traces, 1)
	assert.Equal(t, uint64(5), snap.Stats.TotalSize())
	assert.Empty(t, snap.Metrics)

	// lightweight snapshots omit traces entirely
	snap, err = Create(tr, false)
	require.NoError(t, err)
	assert.Nil(t, snap.Traces)
}

func TestMetrics(t *testing.T) {
	snap, _ := fixtureSnapshots(t)

	assert.Equal(t, int64(1024), snap.GetMetric("process_memory.rss", -1))
	assert.Equal(t, int64(8), snap.GetMetric("my_data", -1))
	assert.Equal(t, int64(-1), snap.GetMetric("missing", -1))

	_, err := snap.AddMetric("my_data", 9, "int")
	assert.ErrorIs(t, err, tracer.ErrInvalidArgument)
	assert.Equal(t, int64(8), snap.GetMetric("my_data", -1), "failed add must not overwrite")

	m, err := snap.AddMetric("fresh", 3, "int")
	require.NoError(t, err)
	assert.Equal(t, &Metric{Name: "fresh", Value: 3, Format: "int"}, m)
}

func TestApplyFilters(t *testing.T) {
	snap, _ := fixtureSnapshots(t)

	// excluding b.py drops its stats key and the trace rooted there,
	// keeping a.py and the unknown-origin sentinel
	snap.ApplyFilters([]*tracer.Filter{filter(t, false, "b.py", 0, false)})
	assert.Equal(t, tracer.Statistics{
		"a.py": {2: {Size: 30, Count: 3}, 5: {Size: 2, Count: 1}},
		"":     {0: {Size: 7, Count: 1}},
	}, snap.Stats)
	assert.Equal(t, map[uintptr]uint64{
		0x10001: 10, 0x10002: 10, 0x10003: 10, 0x20001: 2, 0x40001: 7,
	}, traceSizes(snap.Traces))

	// inclusive filters keep only the named lines
	snap.ApplyFilters([]*tracer.Filter{
		filter(t, true, "a.py", 2, false),
		filter(t, true, "a.py", 5, false),
	})
	assert.Equal(t, tracer.Statistics{
		"a.py": {2: {Size: 30, Count: 3}, 5: {Size: 2, Count: 1}},
	}, snap.Stats)
	assert.Equal(t, map[uintptr]uint64{
		0x10001: 10, 0x10002: 10, 0x10003: 10, 0x20001: 2,
	}, traceSizes(snap.Traces))
}

func TestApplyFiltersIdempotent(t *testing.T) {
	snap, _ := fixtureSnapshots(t)
	filters := []*tracer.Filter{
		filter(t, false, "b.py", 0, false),
		filter(t, true, "a.py", 0, false),
	}

	snap.ApplyFilters(filters)
	statsOnce := snap.Stats.Copy()
	tracesOnce := traceSizes(snap.Traces)

	snap.ApplyFilters(filters)
	assert.Equal(t, statsOnce, snap.Stats)
	assert.Equal(t, tracesOnce, traceSizes(snap.Traces))
}

func TestApplyFiltersEmptyList(t *testing.T) {
	snap, _ := fixtureSnapshots(t)
	before := snap.Stats.Copy()
	snap.ApplyFilters(nil)
	assert.Equal(t, before, snap.Stats)
	assert.Len(t, snap.Traces, 6)
}

func TestApplyFiltersKeepsMatchedFileBucket(t *testing.T) {
	snap, _ := fixtureSnapshots(t)

	// a.py matches at the file level but no line survives; the file
	// keeps an empty bucket while unmatched files are dropped
	snap.ApplyFilters([]*tracer.Filter{filter(t, true, "a.py", 999, false)})
	require.Contains(t, snap.Stats, "a.py")
	assert.Empty(t, snap.Stats["a.py"])
	assert.NotContains(t, snap.Stats, "b.py")
	assert.NotContains(t, snap.Stats, "")
}

func TestApplyFiltersWholeTraceback(t *testing.T) {
	snap, _ := fixtureSnapshots(t)

	// excluding b.py across whole tracebacks also drops the traces
	// that merely pass through b.py frames
	snap.ApplyFilters([]*tracer.Filter{filter(t, false, "b.py", 0, true)})
	assert.Equal(t, map[uintptr]uint64{0x40001: 7}, traceSizes(snap.Traces))
}

func TestErrorKinds(t *testing.T) {
	assert.False(t, errors.Is(ErrNeedTraces, ErrInvalidFormat))
	assert.False(t, errors.Is(tracer.ErrDisabled, tracer.ErrInvalidArgument))
}
