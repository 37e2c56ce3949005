//go:build unix

package tracer

import "golang.org/x/sys/unix"

// currentPID is consulted on hook entry to detect that the process
// forked since the tracer was enabled. The child inherits the parent's
// tables by copy; the tracer carries the enabled state forward and
// rebinds its identity to the child.
func currentPID() int { return unix.Getpid() }
