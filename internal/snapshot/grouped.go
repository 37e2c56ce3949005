package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/orizon-lang/memtrace/internal/tracer"
)

// GroupKind selects the key a snapshot's statistics are regrouped by.
type GroupKind string

const (
	GroupByLine      GroupKind = "line"
	GroupByFilename  GroupKind = "filename"
	GroupByAddress   GroupKind = "address"
	GroupByTraceback GroupKind = "traceback"
)

// GroupKey is the tagged grouping key. Only the fields relevant to the
// grouping kind are set: Filename for "filename", Filename+Lineno for
// "line", Address for "address", Address+Traceback for "traceback".
// Traceback carries the canonical content encoding so keys stay
// comparable across snapshot reloads.
type GroupKey struct {
	Filename  string
	Lineno    int
	Address   uintptr
	Traceback string
}

func (k GroupKey) String() string {
	switch {
	case k.Traceback != "":
		return fmt.Sprintf("0x%x:%s", k.Address, k.Traceback)
	case k.Address != 0:
		return fmt.Sprintf("0x%x", k.Address)
	case k.Lineno != 0 || k.Filename != "":
		return fmt.Sprintf("%s:%d", k.Filename, k.Lineno)
	default:
		return "<unknown>"
	}
}

// GroupedStats is a snapshot's statistics regrouped under one key kind,
// the input to diffing.
type GroupedStats struct {
	Timestamp      time.Time
	TracebackLimit int
	Stats          map[GroupKey]tracer.LineStats
	GroupBy        GroupKind
	Cumulative     bool
	Metrics        map[string]*Metric

	// Tracebacks maps a key's Traceback encoding back to the frames,
	// populated for the "traceback" grouping only.
	Tracebacks map[string]*tracer.Traceback
}

// TopBy regroups the snapshot's data under the given key kind.
// Cumulative grouping attributes each trace's full size to every frame
// location in its traceback; it requires traces and a traceback limit
// of at least 2, degrading silently to non-cumulative below that. The
// address and traceback kinds require traces and ignore cumulative.
func (s *Snapshot) TopBy(groupBy GroupKind, cumulative bool) (*GroupedStats, error) {
	if cumulative && s.TracebackLimit < 2 {
		cumulative = false
	}

	stats := make(map[GroupKey]tracer.LineStats)
	var tracebacks map[string]*tracer.Traceback

	switch groupBy {
	case GroupByAddress:
		cumulative = false
		if s.Traces == nil {
			return nil, ErrNeedTraces
		}
		for addr, tr := range s.Traces {
			stats[GroupKey{Address: addr}] = tracer.LineStats{Size: tr.Size, Count: 1}
		}

	case GroupByTraceback:
		cumulative = false
		if s.Traces == nil {
			return nil, ErrNeedTraces
		}
		tracebacks = make(map[string]*tracer.Traceback)
		for addr, tr := range s.Traces {
			key := GroupKey{Address: addr, Traceback: tr.Traceback.Key()}
			stats[key] = tracer.LineStats{Size: tr.Size, Count: 1}
			tracebacks[tr.Traceback.Key()] = tr.Traceback
		}

	case GroupByFilename, GroupByLine:
		perFile := groupBy == GroupByFilename
		if !cumulative {
			for filename, lines := range s.Stats {
				if perFile {
					var total tracer.LineStats
					for _, st := range lines {
						total.Size += st.Size
						total.Count += st.Count
					}
					stats[GroupKey{Filename: filename}] = total
					continue
				}
				for lineno, st := range lines {
					stats[GroupKey{Filename: filename, Lineno: lineno}] = st
				}
			}
			break
		}
		if s.Traces == nil {
			return nil, ErrNeedTraces
		}
		for _, tr := range s.Traces {
			frames := tr.Traceback.Frames()
			if len(frames) == 0 {
				accumulateFrame(stats, perFile, tr.Size, tracer.Frame{})
				continue
			}
			for _, f := range frames {
				accumulateFrame(stats, perFile, tr.Size, f)
			}
		}

	default:
		return nil, fmt.Errorf("%w: unknown group_by value: %q", tracer.ErrInvalidArgument, groupBy)
	}

	metrics := make(map[string]*Metric, len(s.Metrics))
	for name, m := range s.Metrics {
		metrics[name] = m
	}

	return &GroupedStats{
		Timestamp:      s.Timestamp,
		TracebackLimit: s.TracebackLimit,
		Stats:          stats,
		GroupBy:        groupBy,
		Cumulative:     cumulative,
		Metrics:        metrics,
		Tracebacks:     tracebacks,
	}, nil
}

// accumulateFrame folds one frame occurrence into cumulative grouping.
func accumulateFrame(stats map[GroupKey]tracer.LineStats, perFile bool, size uint64, f tracer.Frame) {
	var key GroupKey
	if perFile {
		key = GroupKey{Filename: f.Filename}
	} else {
		key = GroupKey{Filename: f.Filename, Lineno: f.Lineno}
	}
	st := stats[key]
	st.Size += size
	st.Count++
	stats[key] = st
}

// Diff is one entry of an ordered comparison between two GroupedStats.
type Diff struct {
	SizeDiff  int64
	Size      uint64
	CountDiff int64
	Count     uint64
	Key       GroupKey
}

// CompareTo diffs the receiver against an older GroupedStats of the
// same grouping. Keys present only in old appear with zeroed current
// values and negative deltas; a nil old yields zero deltas throughout.
// When sorted, entries are ordered descending by (|size delta|, size,
// |count delta|, count, key) so the largest changes surface first.
func (g *GroupedStats) CompareTo(old *GroupedStats, sortDiffs bool) []Diff {
	var diffs []Diff
	if old != nil {
		previous := make(map[GroupKey]tracer.LineStats, len(old.Stats))
		for key, st := range old.Stats {
			previous[key] = st
		}
		for key, st := range g.Stats {
			prev, ok := previous[key]
			if ok {
				delete(previous, key)
			}
			diffs = append(diffs, Diff{
				SizeDiff:  int64(st.Size) - int64(prev.Size),
				Size:      st.Size,
				CountDiff: int64(st.Count) - int64(prev.Count),
				Count:     st.Count,
				Key:       key,
			})
		}
		for key, prev := range previous {
			diffs = append(diffs, Diff{
				SizeDiff:  -int64(prev.Size),
				CountDiff: -int64(prev.Count),
				Key:       key,
			})
		}
	} else {
		for key, st := range g.Stats {
			diffs = append(diffs, Diff{Size: st.Size, Count: st.Count, Key: key})
		}
	}

	if sortDiffs {
		sort.Slice(diffs, func(i, j int) bool { return diffGreater(diffs[i], diffs[j]) })
	}
	return diffs
}

func diffGreater(a, b Diff) bool {
	if x, y := abs64(a.SizeDiff), abs64(b.SizeDiff); x != y {
		return x > y
	}
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	if x, y := abs64(a.CountDiff), abs64(b.CountDiff); x != y {
		return x > y
	}
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	return keyGreater(a.Key, b.Key)
}

// keyGreater orders keys descending to break exact numeric ties, total
// within a single grouping kind.
func keyGreater(a, b GroupKey) bool {
	if a.Filename != b.Filename {
		return a.Filename > b.Filename
	}
	if a.Lineno != b.Lineno {
		return a.Lineno > b.Lineno
	}
	if a.Address != b.Address {
		return a.Address > b.Address
	}
	return a.Traceback > b.Traceback
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
