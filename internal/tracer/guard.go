package tracer

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// reentrancyGuard keeps the hook from recording allocations performed
// by the tracer itself while it is servicing a hook call. The guard is
// scoped per goroutine: a recursive entry on the same goroutine returns
// immediately without bookkeeping, while concurrent hooks on other
// goroutines proceed normally.
type reentrancyGuard struct {
	mu     sync.Mutex
	inside map[int64]struct{}
}

func newReentrancyGuard() *reentrancyGuard {
	return &reentrancyGuard{inside: make(map[int64]struct{})}
}

// enter marks the current goroutine as inside the hook. It reports
// false when the goroutine is already inside, in which case leave must
// not be called.
func (g *reentrancyGuard) enter() bool {
	id := goroutineID()
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inside[id]; ok {
		return false
	}
	g.inside[id] = struct{}{}
	return true
}

func (g *reentrancyGuard) leave() {
	id := goroutineID()
	g.mu.Lock()
	delete(g.inside, id)
	g.mu.Unlock()
}

// goroutineID extracts the current goroutine's id from the runtime
// stack header ("goroutine N [running]: ..."). The runtime exposes no
// direct accessor; parsing the header is the portable route.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := buf[:n]
	s = bytes.TrimPrefix(s, []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	id, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
