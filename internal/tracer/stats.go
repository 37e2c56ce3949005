package tracer

// LineStats accumulates size and count for one (filename, lineno) pair.
type LineStats struct {
	Size  uint64
	Count uint64
}

// Statistics is the nested per-source-location aggregate:
// filename -> lineno -> stats. Allocations whose origin is unknown land
// in the sentinel bucket ("", 0).
type Statistics map[string]map[int]LineStats

// Copy returns a deep copy of the statistics.
func (s Statistics) Copy() Statistics {
	out := make(Statistics, len(s))
	for file, lines := range s {
		ls := make(map[int]LineStats, len(lines))
		for line, st := range lines {
			ls[line] = st
		}
		out[file] = ls
	}
	return out
}

// TotalSize sums the sizes of every bucket. It equals the allocation
// table's live total at all times.
func (s Statistics) TotalSize() uint64 {
	var total uint64
	for _, lines := range s {
		for _, st := range lines {
			total += st.Size
		}
	}
	return total
}

// statsAggregator maintains Statistics incrementally as the allocation
// table changes. Attribution uses the innermost frame of each trace.
type statsAggregator struct {
	files Statistics
}

func newStatsAggregator() *statsAggregator {
	return &statsAggregator{files: make(Statistics)}
}

// add accounts one allocation of the given size to the frame's bucket.
func (sa *statsAggregator) add(f Frame, size uint64) {
	lines, ok := sa.files[f.Filename]
	if !ok {
		lines = make(map[int]LineStats)
		sa.files[f.Filename] = lines
	}
	st := lines[f.Lineno]
	st.Size += size
	st.Count++
	lines[f.Lineno] = st
}

// remove undoes an add. Buckets whose count drops to zero are deleted,
// and a file entry with no remaining lines is deleted with it.
func (sa *statsAggregator) remove(f Frame, size uint64) {
	lines, ok := sa.files[f.Filename]
	if !ok {
		return
	}
	st, ok := lines[f.Lineno]
	if !ok {
		return
	}
	st.Size -= size
	st.Count--
	if st.Count == 0 {
		delete(lines, f.Lineno)
		if len(lines) == 0 {
			delete(sa.files, f.Filename)
		}
	} else {
		lines[f.Lineno] = st
	}
}

func (sa *statsAggregator) snapshot() Statistics { return sa.files.Copy() }

func (sa *statsAggregator) clear() { sa.files = make(Statistics) }

// buckets counts line buckets across all files, for self-memory
// accounting.
func (sa *statsAggregator) buckets() int {
	n := 0
	for _, lines := range sa.files {
		n += len(lines)
	}
	return n
}
