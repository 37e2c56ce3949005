//go:build !unix

package tracer

import "os"

func currentPID() int { return os.Getpid() }
