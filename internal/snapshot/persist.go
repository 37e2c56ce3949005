package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	semver "github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/memtrace/internal/tracer"
)

// FormatVersion identifies the persisted snapshot layout. Compatibility
// is exact major.minor match: readers refuse anything else rather than
// attempt salvage.
const FormatVersion = "3.4"

// A persisted snapshot is two sequential JSON records on the byte
// stream: a header with version, timestamp, limit, statistics, and
// metrics, followed by the trace record (null when the snapshot was
// taken without traces).

type headerRecord struct {
	FormatVersion  string       `json:"format_version"`
	Timestamp      time.Time    `json:"timestamp"`
	TracebackLimit int          `json:"traceback_limit"`
	Stats          []statRecord `json:"stats"`
	Metrics        []Metric     `json:"metrics,omitempty"`
}

type statRecord struct {
	Filename string `json:"filename"`
	Lineno   int    `json:"lineno"`
	Size     uint64 `json:"size"`
	Count    uint64 `json:"count"`
}

type traceRecord struct {
	Address uint64        `json:"address"`
	Size    uint64        `json:"size"`
	Frames  []frameRecord `json:"frames"`
}

type frameRecord struct {
	Filename string `json:"filename"`
	Lineno   int    `json:"lineno"`
}

// Write serializes the snapshot onto w as the two-record stream.
func (s *Snapshot) Write(w io.Writer) error {
	enc := json.NewEncoder(w)

	hdr := headerRecord{
		FormatVersion:  FormatVersion,
		Timestamp:      s.Timestamp,
		TracebackLimit: s.TracebackLimit,
		Stats:          encodeStats(s.Stats),
	}
	for _, m := range s.Metrics {
		hdr.Metrics = append(hdr.Metrics, *m)
	}
	sort.Slice(hdr.Metrics, func(i, j int) bool { return hdr.Metrics[i].Name < hdr.Metrics[j].Name })

	if err := enc.Encode(hdr); err != nil {
		return err
	}
	return enc.Encode(encodeTraces(s.Traces))
}

// Read deserializes a snapshot from the two-record stream. With
// withTraces false the trace record is not materialized.
func Read(r io.Reader, withTraces bool) (*Snapshot, error) {
	dec := json.NewDecoder(r)

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	for _, key := range []string{"format_version", "timestamp", "traceback_limit", "stats"} {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("%w: invalid file format", ErrInvalidFormat)
		}
	}

	var version string
	if err := json.Unmarshal(raw["format_version"], &version); err != nil {
		return nil, fmt.Errorf("%w: invalid file format", ErrInvalidFormat)
	}
	if err := checkVersion(version); err != nil {
		return nil, err
	}

	var hdr headerRecord
	hdrBytes, _ := json.Marshal(raw)
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, fmt.Errorf("%w: invalid file format", ErrInvalidFormat)
	}

	snap := New(hdr.Timestamp, hdr.TracebackLimit, decodeStats(hdr.Stats), nil, nil)
	for _, m := range hdr.Metrics {
		metric := m
		snap.Metrics[m.Name] = &metric
	}

	if withTraces {
		var records *[]traceRecord
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("%w: invalid file format", ErrInvalidFormat)
		}
		// A null trace record means the snapshot was taken without
		// traces; keep the distinction on reload.
		if records != nil {
			snap.Traces = decodeTraces(*records)
		}
	}
	return snap, nil
}

// checkVersion enforces exact major.minor compatibility using semantic
// version parsing.
func checkVersion(version string) error {
	got, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: invalid file format", ErrInvalidFormat)
	}
	want := semver.MustParse(FormatVersion)
	if got.Major() != want.Major() || got.Minor() != want.Minor() {
		return fmt.Errorf("%w: unknown format version %s", ErrInvalidFormat, version)
	}
	return nil
}

// Dump writes the snapshot to a file. A write that fails part way
// removes the partial artifact before surfacing the error.
func (s *Snapshot) Dump(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := s.Write(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot from a file. With withTraces false the trace
// record is skipped.
func Load(path string, withTraces bool) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer f.Close()

	snap, err := Read(f, withTraces)
	if err != nil {
		if errors.Is(err, ErrInvalidFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, nil
}

func encodeStats(stats tracer.Statistics) []statRecord {
	var out []statRecord
	for filename, lines := range stats {
		for lineno, st := range lines {
			out = append(out, statRecord{Filename: filename, Lineno: lineno, Size: st.Size, Count: st.Count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Filename != out[j].Filename {
			return out[i].Filename < out[j].Filename
		}
		return out[i].Lineno < out[j].Lineno
	})
	return out
}

func decodeStats(records []statRecord) tracer.Statistics {
	stats := make(tracer.Statistics)
	for _, rec := range records {
		lines, ok := stats[rec.Filename]
		if !ok {
			lines = make(map[int]tracer.LineStats)
			stats[rec.Filename] = lines
		}
		lines[rec.Lineno] = tracer.LineStats{Size: rec.Size, Count: rec.Count}
	}
	return stats
}

func encodeTraces(traces map[uintptr]tracer.Trace) []traceRecord {
	if traces == nil {
		return nil
	}
	out := make([]traceRecord, 0, len(traces))
	for addr, tr := range traces {
		frames := tr.Traceback.Frames()
		fs := make([]frameRecord, len(frames))
		for i, f := range frames {
			fs[i] = frameRecord{Filename: f.Filename, Lineno: f.Lineno}
		}
		out = append(out, traceRecord{Address: uint64(addr), Size: tr.Size, Frames: fs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func decodeTraces(records []traceRecord) map[uintptr]tracer.Trace {
	traces := make(map[uintptr]tracer.Trace, len(records))
	for _, rec := range records {
		frames := make([]tracer.Frame, len(rec.Frames))
		for i, f := range rec.Frames {
			frames[i] = tracer.Frame{Filename: f.Filename, Lineno: f.Lineno}
		}
		traces[uintptr(rec.Address)] = tracer.Trace{Size: rec.Size, Traceback: tracer.NewTraceback(frames)}
	}
	return traces
}
