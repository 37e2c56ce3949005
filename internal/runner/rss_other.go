//go:build !unix

package runner

func processRSS() int64 { return 0 }
