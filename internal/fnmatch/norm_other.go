//go:build !windows

package fnmatch

func normalizeOS(s string) string { return s }
