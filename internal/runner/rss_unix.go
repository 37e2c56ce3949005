//go:build unix

package runner

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// processRSS returns the process peak resident set size in bytes, or 0
// when unavailable. getrusage reports bytes on Darwin and kilobytes on
// the other unix platforms (Linux, Android, the BSDs).
func processRSS() int64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	rss := int64(ru.Maxrss)
	if runtime.GOOS != "darwin" && runtime.GOOS != "ios" {
		rss *= 1024
	}
	return rss
}
