package debugserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	memtrace "github.com/orizon-lang/memtrace"
)

func TestGaugesEndpoint(t *testing.T) {
	memtrace.Enable()
	defer memtrace.Disable()

	srv := httptest.NewServer(Handler(map[string]GaugeFunc{
		"workload": func() map[string]int64 { return map[string]int64{"widgets": 7} },
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/memtrace/gauges")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	text := string(body)
	for _, want := range []string{
		"memtrace_enabled 1",
		"memtrace_traced_bytes ",
		"memtrace_traceback_limit ",
		"workload_widgets 7",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("gauges output missing %q:\n%s", want, text)
		}
	}
}

func TestTopEndpoint(t *testing.T) {
	memtrace.Enable()
	defer memtrace.Disable()
	memtrace.Reset()
	memtrace.Default().RecordAlloc(0xF00, 512, 0)
	defer memtrace.Default().RecordFree(0xF00)

	srv := httptest.NewServer(Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/memtrace/top?group=line&n=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var entries []topEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one top entry")
	}
	if entries[0].Size != 512 {
		t.Errorf("top entry size = %d, want 512", entries[0].Size)
	}
}

func TestTopEndpointBadRequest(t *testing.T) {
	memtrace.Enable()
	defer memtrace.Disable()

	srv := httptest.NewServer(Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/memtrace/top?group=bogus")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown grouping: status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/debug/memtrace/top?n=zero")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad n: status = %d, want 400", resp.StatusCode)
	}
}

func TestStartAndShutdown(t *testing.T) {
	memtrace.Enable()
	defer memtrace.Disable()

	bound, stop, err := Start("127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get("http://" + bound + "/debug/memtrace/gauges")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := stop(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
