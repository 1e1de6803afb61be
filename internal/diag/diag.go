// Package diag provides the shared diagnostics sink for the analyzer.
//
// All passes report into one Sink. Blocking diagnostics stop processing of
// the owning module; ordinary errors accumulate. Rendering deduplicates and
// sorts by (file, line, column).
package diag

import (
	"fmt"
	"sort"
)

// Severity classifies a diagnostic.
type Severity int

const (
	// SeverityNote is contextual information attached to another diagnostic.
	SeverityNote Severity = iota

	// SeverityError is an ordinary, non-blocking diagnostic.
	SeverityError

	// SeverityBlocking stops processing of the owning module immediately.
	SeverityBlocking
)

func (s Severity) String() string {
	switch s {
	case SeverityNote:
		return "note"
	case SeverityError:
		return "error"
	case SeverityBlocking:
		return "blocking"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Diagnostic is one reported message.
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity Severity
	Message  string

	// Target is the fully-qualified name of the re-checkable unit that
	// produced the diagnostic, when known. Used by the fine-grained engine
	// to strip and re-collect a target's diagnostics.
	Target string

	// Notes are context lines (import chain, enclosing scope) rendered only
	// on request.
	Notes []string
}

func (d Diagnostic) render() string {
	loc := d.File
	if d.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, d.Line)
		if d.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, d.Column)
		}
	}
	if loc == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", loc, d.Severity, d.Message)
}

// Sink collects diagnostics for one build or update.
type Sink struct {
	diags []Diagnostic
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Add records a diagnostic.
func (s *Sink) Add(d Diagnostic) {
	s.diags = append(s.diags, d)
}

// Errorf records a non-blocking error.
func (s *Sink) Errorf(file string, line int, target, format string, args ...any) {
	s.Add(Diagnostic{
		File:     file,
		Line:     line,
		Severity: SeverityError,
		Target:   target,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Blockingf records a blocking error.
func (s *Sink) Blockingf(file string, line int, format string, args ...any) {
	s.Add(Diagnostic{
		File:     file,
		Line:     line,
		Severity: SeverityBlocking,
		Message:  fmt.Sprintf(format, args...),
	})
}

// HasBlockingErrors reports whether any blocking diagnostic was recorded.
func (s *Sink) HasBlockingErrors() bool {
	for _, d := range s.diags {
		if d.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// HasErrors reports whether any error (blocking or not) was recorded.
func (s *Sink) HasErrors() bool {
	for _, d := range s.diags {
		if d.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// All returns the recorded diagnostics in insertion order.
func (s *Sink) All() []Diagnostic {
	out := make([]Diagnostic, len(s.diags))
	copy(out, s.diags)
	return out
}

// Count returns the number of recorded diagnostics.
func (s *Sink) Count() int {
	return len(s.diags)
}

// ErroredTargets returns the distinct targets with at least one error,
// sorted.
func (s *Sink) ErroredTargets() []string {
	seen := make(map[string]bool)
	for _, d := range s.diags {
		if d.Severity >= SeverityError && d.Target != "" {
			seen[d.Target] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DropTarget removes every diagnostic owned by the target, in preparation
// for re-checking it.
func (s *Sink) DropTarget(target string) {
	kept := s.diags[:0]
	for _, d := range s.diags {
		if d.Target != target {
			kept = append(kept, d)
		}
	}
	s.diags = kept
}

// FileHasErrors reports whether any error was recorded against the file.
func (s *Sink) FileHasErrors(file string) bool {
	for _, d := range s.diags {
		if d.File == file && d.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// DropFile removes every diagnostic reported against the file.
func (s *Sink) DropFile(file string) {
	kept := s.diags[:0]
	for _, d := range s.diags {
		if d.File != file {
			kept = append(kept, d)
		}
	}
	s.diags = kept
}

// Clear removes all diagnostics.
func (s *Sink) Clear() {
	s.diags = nil
}

// Messages renders the diagnostics, deduplicated and ordered by
// (file, line, column). Context notes are included only when withNotes is
// set.
func (s *Sink) Messages(withNotes bool) []string {
	sorted := make([]Diagnostic, len(s.diags))
	copy(sorted, s.diags)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})

	var out []string
	seen := make(map[string]bool)
	for _, d := range sorted {
		msg := d.render()
		if seen[msg] {
			continue
		}
		seen[msg] = true
		out = append(out, msg)
		if withNotes {
			for _, n := range d.Notes {
				out = append(out, "  note: "+n)
			}
		}
	}
	return out
}
