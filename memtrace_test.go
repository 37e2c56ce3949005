package memtrace

import (
	"errors"
	"testing"
	"unsafe"
)

func TestParseEnvLimit(t *testing.T) {
	tests := []struct {
		value string
		limit int
		ok    bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"1", 1, true},
		{"10", 10, true},
		{"yes", 1, true},
		{"on", 1, true},
	}
	for _, tt := range tests {
		limit, ok := parseEnvLimit(tt.value)
		if limit != tt.limit || ok != tt.ok {
			t.Errorf("parseEnvLimit(%q) = (%d, %v), want (%d, %v)", tt.value, limit, ok, tt.limit, tt.ok)
		}
	}
}

func TestStartFromEnv(t *testing.T) {
	defer Disable()

	env := map[string]string{}
	getenv := func(key string) string { return env[key] }

	Disable()
	if startFromEnv(getenv) {
		t.Fatal("empty environment must not enable tracing")
	}

	env[EnvVar] = "10"
	if !startFromEnv(getenv) {
		t.Fatal("MEMTRACE=10 should enable tracing")
	}
	if !IsEnabled() || TracebackLimit() != 10 {
		t.Fatalf("enabled=%v limit=%d, want true/10", IsEnabled(), TracebackLimit())
	}

	// the disable knob wins over the enable knob
	Disable()
	env[EnvDisableVar] = "1"
	if startFromEnv(getenv) || IsEnabled() {
		t.Fatal("MEMTRACE_DISABLE_ENV must suppress environment configuration")
	}
}

func TestFacadeEndToEnd(t *testing.T) {
	if err := SetTracebackLimit(2); err != nil {
		t.Fatal(err)
	}
	Enable()
	defer Disable()
	Reset()

	std.RecordAlloc(0xABC0, 999, 0)

	trace, ok := TraceAt(0xABC0)
	if !ok || trace.Size != 999 {
		t.Fatalf("TraceAt = %+v, %v; want size 999", trace, ok)
	}
	if current, peak := TracedMemory(); current != 999 || peak < 999 {
		t.Fatalf("TracedMemory = (%d, %d), want (999, >=999)", current, peak)
	}

	snap, err := CreateSnapshot(true)
	if err != nil {
		t.Fatal(err)
	}
	grouped, err := snap.TopBy(GroupByLine, false)
	if err != nil {
		t.Fatal(err)
	}
	diffs := grouped.CompareTo(nil, true)
	if len(diffs) == 0 || diffs[0].Size != 999 {
		t.Fatalf("top diff = %+v, want one entry of size 999", diffs)
	}

	std.RecordFree(0xABC0)
	if current, _ := TracedMemory(); current != 0 {
		t.Fatalf("TracedMemory current = %d, want 0 after free", current)
	}

	// snapshots require the tracer enabled
	Disable()
	if _, err := TakeSnapshot(); !errors.Is(err, ErrDisabled) {
		t.Fatalf("TakeSnapshot on disabled tracer: err = %v, want ErrDisabled", err)
	}
}

func TestObjectTrace(t *testing.T) {
	if err := SetTracebackLimit(1); err != nil {
		t.Fatal(err)
	}
	Enable()
	defer Disable()
	Reset()

	buf := make([]byte, 64)
	p := unsafe.Pointer(&buf[0])
	std.RecordAlloc(ObjectAddress(p), 64, 0)

	trace, ok := ObjectTrace(p)
	if !ok || trace.Size != 64 {
		t.Fatalf("ObjectTrace = %+v, %v; want size 64", trace, ok)
	}
	if ObjectAddress(p) != uintptr(p) {
		t.Error("ObjectAddress should be the raw integer address")
	}
}

func TestFacadeFilters(t *testing.T) {
	ClearFilters()
	if err := AddInclusiveFilter("abc", 3, false); err != nil {
		t.Fatal(err)
	}
	if err := AddExclusiveFilter("12345", 0, false); err != nil {
		t.Fatal(err)
	}
	fs := Filters()
	if len(fs) != 2 {
		t.Fatalf("got %d filters, want 2", len(fs))
	}
	if !fs[0].Include() || fs[0].FilenamePattern() != "abc" || fs[0].Lineno() != 3 {
		t.Errorf("unexpected first filter: %v", fs[0])
	}
	if fs[1].Include() || fs[1].Lineno() != 0 {
		t.Errorf("unexpected second filter: %v", fs[1])
	}
	ClearFilters()
	if len(Filters()) != 0 {
		t.Error("ClearFilters left filters behind")
	}
}
