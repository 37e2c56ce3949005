package tracer

import (
	"fmt"

	"github.com/orizon-lang/memtrace/internal/fnmatch"
)

// Filter selects traces by source location. An inclusive filter keeps
// only what it matches; an exclusive filter drops what it matches. A
// lineno of zero applies the filter to every line of the matched file.
// With WholeTraceback set, matching considers every frame of a trace
// instead of only the innermost one.
type Filter struct {
	include        bool
	pattern        *fnmatch.Pattern
	lineno         int
	wholeTraceback bool
}

// NewFilter compiles a filter. The pattern is normalized at
// construction; a lineno at or below zero means "any line".
func NewFilter(include bool, pattern string, lineno int, wholeTraceback bool) (*Filter, error) {
	p, err := fnmatch.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if lineno < 0 {
		lineno = 0
	}
	return &Filter{include: include, pattern: p, lineno: lineno, wholeTraceback: wholeTraceback}, nil
}

// Include reports whether the filter is inclusive.
func (f *Filter) Include() bool { return f.include }

// FilenamePattern returns the normalized filename pattern.
func (f *Filter) FilenamePattern() string { return f.pattern.String() }

// Lineno returns the line the filter is pinned to, zero for any line.
func (f *Filter) Lineno() int { return f.lineno }

// WholeTraceback reports whether matching spans all frames of a trace.
func (f *Filter) WholeTraceback() bool { return f.wholeTraceback }

func (f *Filter) String() string {
	kind := "exclude"
	if f.include {
		kind = "include"
	}
	return fmt.Sprintf("Filter(%s %q lineno=%d traceback=%v)", kind, f.pattern.String(), f.lineno, f.wholeTraceback)
}

// equal reports structural equality, used to suppress duplicate
// registrations.
func (f *Filter) equal(other *Filter) bool {
	return f.include == other.include &&
		f.pattern.String() == other.pattern.String() &&
		f.lineno == other.lineno &&
		f.wholeTraceback == other.wholeTraceback
}

// MatchFilename reports whether a trace from the given file survives
// this filter at the file level. The empty filename is the
// unknown-origin sentinel: an inclusive filter admits it only when its
// pattern accepts the empty string, an exclusive filter always lets it
// through.
func (f *Filter) MatchFilename(filename string) bool {
	if f.include {
		return f.pattern.Match(filename)
	}
	if filename == "" {
		return true
	}
	return !f.pattern.Match(filename)
}

// Match reports whether a single (filename, lineno) coordinate survives
// this filter. For an inclusive filter both the filename and, when
// pinned, the line must match. For an exclusive filter the coordinate
// survives unless both match.
func (f *Filter) Match(filename string, lineno int) bool {
	if f.include {
		if !f.MatchFilename(filename) {
			return false
		}
		return f.lineno == 0 || lineno == f.lineno
	}
	if filename == "" || !f.pattern.Match(filename) {
		return true
	}
	if f.lineno == 0 {
		return false
	}
	return lineno != f.lineno
}

// MatchTraceback reports whether a whole trace survives this filter.
// Without WholeTraceback only the innermost frame is considered. With
// it, an inclusive filter needs any frame to match while an exclusive
// filter needs every frame to survive. An empty traceback is treated as
// a single unknown-origin frame.
func (f *Filter) MatchTraceback(frames []Frame) bool {
	if len(frames) == 0 {
		return f.Match("", 0)
	}
	if !f.wholeTraceback {
		return f.Match(frames[0].Filename, frames[0].Lineno)
	}
	if f.include {
		for _, fr := range frames {
			if f.Match(fr.Filename, fr.Lineno) {
				return true
			}
		}
		return false
	}
	for _, fr := range frames {
		if !f.Match(fr.Filename, fr.Lineno) {
			return false
		}
	}
	return true
}

// PassesFilters applies a filter set to one trace: it passes iff it
// matches at least one inclusive filter (when any exist) and survives
// every exclusive filter.
func PassesFilters(filters []*Filter, frames []Frame) bool {
	haveInclude := false
	included := false
	for _, f := range filters {
		if f.include {
			haveInclude = true
			if !included && f.MatchTraceback(frames) {
				included = true
			}
		}
	}
	if haveInclude && !included {
		return false
	}
	for _, f := range filters {
		if !f.include && !f.MatchTraceback(frames) {
			return false
		}
	}
	return true
}
