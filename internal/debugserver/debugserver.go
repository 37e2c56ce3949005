// Package debugserver exposes read-only tracer diagnostics over HTTP:
// a plain-text gauge endpoint and a JSON top-allocations view. The
// server reads value-semantic snapshots only and never touches the hook
// path, so serving requests does not perturb tracing.
package debugserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	memtrace "github.com/orizon-lang/memtrace"
)

// GaugeFunc returns a map of gauge name -> value. Names should be
// simple tokens using [a-zA-Z0-9_:] to ease exposition.
type GaugeFunc func() map[string]int64

// Handler builds the diagnostics mux. Extra gauge collectors are
// aggregated under "/debug/memtrace/gauges" next to the built-in tracer
// gauges.
func Handler(extra map[string]GaugeFunc) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/memtrace/gauges", func(w http.ResponseWriter, r *http.Request) {
		serveGauges(w, extra)
	})
	mux.HandleFunc("/debug/memtrace/top", serveTop)
	return mux
}

func serveGauges(w http.ResponseWriter, extra map[string]GaugeFunc) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	gauges := map[string]int64{}
	current, peak := memtrace.TracedMemory()
	size, free := memtrace.SelfMemory()
	gauges["traced_bytes"] = int64(current)
	gauges["traced_bytes_peak"] = int64(peak)
	gauges["self_bytes"] = int64(size)
	gauges["self_bytes_free"] = int64(free)
	gauges["traceback_limit"] = int64(memtrace.TracebackLimit())
	if memtrace.IsEnabled() {
		gauges["enabled"] = 1
	} else {
		gauges["enabled"] = 0
	}

	writeGauges(w, "memtrace", gauges)

	// Stable iteration by collector name.
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn := extra[name]
		if fn == nil {
			continue
		}
		writeGauges(w, name, fn())
	}
}

func writeGauges(w http.ResponseWriter, collector string, gauges map[string]int64) {
	keys := make([]string, 0, len(gauges))
	for k := range gauges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s %d\n", sanitizeToken(collector+"_"+k), gauges[k])
	}
}

// topEntry is one row of the JSON top view.
type topEntry struct {
	Key   string `json:"key"`
	Size  uint64 `json:"size"`
	Count uint64 `json:"count"`
}

// serveTop renders the current top allocations grouped per the "group"
// query parameter (default "line"), limited to "n" rows (default 25).
func serveTop(w http.ResponseWriter, r *http.Request) {
	group := memtrace.GroupKind(r.URL.Query().Get("group"))
	if group == "" {
		group = memtrace.GroupByLine
	}
	limit := 25
	if v := r.URL.Query().Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		limit = n
	}
	cumulative := r.URL.Query().Get("cumulative") == "1"

	withTraces := group == memtrace.GroupByAddress || group == memtrace.GroupByTraceback || cumulative
	snap, err := memtrace.CreateSnapshot(withTraces)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	grouped, err := snap.TopBy(group, cumulative)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	diffs := grouped.CompareTo(nil, true)
	if len(diffs) > limit {
		diffs = diffs[:limit]
	}
	entries := make([]topEntry, len(diffs))
	for i, d := range diffs {
		entries[i] = topEntry{Key: d.Key.String(), Size: d.Size, Count: d.Count}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// sanitizeToken rewrites a gauge name into an exposition-safe token.
func sanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == ':':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Start serves the diagnostics handler on addr (host:port) over plain
// HTTP. It returns the bound address, which may differ when port 0 was
// requested, and a shutdown function.
func Start(addr string, extra map[string]GaugeFunc) (string, func(ctx context.Context) error, error) {
	srv := &http.Server{Addr: addr, Handler: Handler(extra), ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	bound := ln.Addr().String()
	go func() {
		_ = srv.Serve(ln)
	}()
	stop := func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
	return bound, stop, nil
}
