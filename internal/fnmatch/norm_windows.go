//go:build windows

package fnmatch

import "strings"

// Windows filesystems are case-insensitive and accept '/' as an
// alternate separator, so both sides of a match are folded to lower
// case with separators rewritten to '\'.
func normalizeOS(s string) string {
	s = strings.ReplaceAll(s, "/", `\`)
	return strings.ToLower(s)
}
