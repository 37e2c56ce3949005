// Package runner cuts tracer snapshots on a fixed cadence and writes
// them to disk, so a leaking host can be diagnosed after the fact from
// the series of files. Snapshots are also cut on demand when a control
// file is touched, and a final one is written on Stop.
package runner

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	memtrace "github.com/orizon-lang/memtrace"
)

// Config controls the snapshot cadence and file naming. Files are
// written as <dir>/<prefix>-<pid>-<counter>.<ext>.
type Config struct {
	Interval    time.Duration // cadence between snapshots, default 5s
	Dir         string        // output directory, default os.TempDir()
	Prefix      string        // filename prefix, default "memtrace"
	Ext         string        // filename extension, default "snap"
	WithTraces  bool          // include per-allocation traces
	ControlPath string        // optional file; writes to it trigger a snapshot
	Logger      *log.Logger   // destination for progress lines, default stderr
}

// Runner owns the snapshot loop.
type Runner struct {
	config  Config
	logger  *log.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	counter int

	stop chan struct{}
	done chan struct{}
}

// New validates the config and prepares a runner. The tracer must be
// enabled before Start, otherwise every snapshot attempt fails.
func New(config Config) (*Runner, error) {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.Dir == "" {
		config.Dir = os.TempDir()
	}
	if config.Prefix == "" {
		config.Prefix = "memtrace"
	}
	if config.Ext == "" {
		config.Ext = "snap"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "memtrace-runner: ", log.LstdFlags)
	}

	r := &Runner{
		config: config,
		logger: config.Logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if config.ControlPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("control watcher: %w", err)
		}
		// Watch the parent directory: the control file itself may not
		// exist yet.
		if err := watcher.Add(filepath.Dir(config.ControlPath)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("control watcher: %w", err)
		}
		r.watcher = watcher
	}
	return r, nil
}

// Start launches the snapshot loop: one snapshot immediately, then one
// per interval, plus one per control-file touch.
func (r *Runner) Start() {
	go r.loop()
}

// Stop cuts a final snapshot and shuts the loop down. Safe to call
// once.
func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Runner) loop() {
	defer close(r.done)
	if r.watcher != nil {
		defer r.watcher.Close()
	}

	r.snapshot()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if r.watcher != nil {
			select {
			case <-r.stop:
				r.snapshot()
				return
			case <-ticker.C:
				r.snapshot()
			case ev, ok := <-r.watcher.Events:
				if ok && r.isControlTouch(ev) {
					r.snapshot()
				}
			case err, ok := <-r.watcher.Errors:
				if ok && err != nil {
					r.logger.Printf("control watcher error: %v", err)
				}
			}
			continue
		}
		select {
		case <-r.stop:
			r.snapshot()
			return
		case <-ticker.C:
			r.snapshot()
		}
	}
}

func (r *Runner) isControlTouch(ev fsnotify.Event) bool {
	if ev.Name != r.config.ControlPath {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) != 0
}

// snapshot cuts one snapshot, attaches process and tracer metrics, and
// writes it to the next numbered file.
func (r *Runner) snapshot() {
	snap, err := memtrace.CreateSnapshot(r.config.WithTraces)
	if err != nil {
		r.logger.Printf("snapshot skipped: %v", err)
		return
	}

	if rss := processRSS(); rss > 0 {
		snap.AddMetric("process_memory.rss", rss, "size")
	}
	size, free := memtrace.SelfMemory()
	snap.AddMetric("memtrace.size", int64(size), "size")
	snap.AddMetric("memtrace.free", int64(free), "size")
	current, peak := memtrace.TracedMemory()
	snap.AddMetric("memtrace.traced", int64(current), "size")
	snap.AddMetric("memtrace.traced_peak", int64(peak), "size")

	path := r.nextPath()
	if err := snap.Dump(path); err != nil {
		r.logger.Printf("snapshot write failed: %v", err)
		return
	}
	r.logger.Printf("snapshot written to %s", path)
}

func (r *Runner) nextPath() string {
	r.mu.Lock()
	r.counter++
	counter := r.counter
	r.mu.Unlock()
	name := fmt.Sprintf("%s-%d-%04d.%s", r.config.Prefix, os.Getpid(), counter, r.config.Ext)
	return filepath.Join(r.config.Dir, name)
}
