// Package diag defines the user-facing diagnostics produced while lowering
// the typed tree to IR. Diagnostics accumulate in a Bag so one bad item does
// not hide problems in the rest of the module; the driver renders the whole
// bag at the end and fails the build if any entry is an error.
package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cinder-lang/cinder/internal/source"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// String returns the lowercase severity label used in rendered output.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Diagnostic is one reported problem with a stable code and source span.
type Diagnostic struct {
	Span     source.Span
	Severity Severity
	Code     string // stable short code, e.g. "L0042"
	Message  string
}

// Error implements error so a single diagnostic can be returned directly.
func (d Diagnostic) Error() string {
	if d.Span.IsValid() {
		return fmt.Sprintf("%s: %s[%s]: %s", d.Span, d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", d.Severity, d.Code, d.Message)
}

// Bag accumulates diagnostics across items.
type Bag struct {
	diags []Diagnostic
}

// Errorf records an error diagnostic.
func (b *Bag) Errorf(sp source.Span, code, format string, args ...interface{}) {
	b.diags = append(b.diags, Diagnostic{
		Span:     sp,
		Severity: SeverityError,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Warnf records a warning diagnostic.
func (b *Bag) Warnf(sp source.Span, code, format string, args ...interface{}) {
	b.diags = append(b.diags, Diagnostic{
		Span:     sp,
		Severity: SeverityWarning,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Add appends an already-built diagnostic.
func (b *Bag) Add(d Diagnostic) { b.diags = append(b.diags, d) }

// HasErrors reports whether any entry is an error (warnings do not count).
func (b *Bag) HasErrors() bool {
	for _, d := range b.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Len returns the number of recorded diagnostics.
func (b *Bag) Len() int { return len(b.diags) }

// All returns the diagnostics ordered by file, then offset, then insertion.
func (b *Bag) All() []Diagnostic {
	out := make([]Diagnostic, len(b.diags))
	copy(out, b.diags)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.Path != out[j].Span.Path {
			return out[i].Span.Path < out[j].Span.Path
		}
		return out[i].Span.Start < out[j].Span.Start
	})
	return out
}

// Err returns nil when the bag holds no errors, otherwise an error that
// renders every entry, one per line.
func (b *Bag) Err() error {
	if !b.HasErrors() {
		return nil
	}
	return &List{Diagnostics: b.All()}
}

// List is the error form of a non-empty bag.
type List struct {
	Diagnostics []Diagnostic
}

// Error renders all diagnostics joined by newlines.
func (l *List) Error() string {
	lines := make([]string, len(l.Diagnostics))
	for i, d := range l.Diagnostics {
		lines[i] = d.Error()
	}
	return strings.Join(lines, "\n")
}
