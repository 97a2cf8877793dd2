// Package cli renders compiler output for terminals: diagnostics with
// source excerpts and caret markers, colored when the destination is an
// interactive terminal, plain otherwise.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cinder-lang/cinder/internal/diag"
)

// SGR codes used by the renderer.
const (
	codeBold   = "1"
	codeRed    = "31"
	codeYellow = "33"
)

// Renderer writes diagnostics to a single destination. Source files are
// read once and cached so rendering many diagnostics from one file stays
// cheap.
type Renderer struct {
	out   io.Writer
	color bool
	files map[string]fileEntry
}

type fileEntry struct {
	data []byte
	ok   bool
}

// NewRenderer builds a renderer for out. Color is enabled only when out
// is an interactive terminal and neither NO_COLOR nor TERM=dumb asks for
// plain output.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{
		out:   out,
		color: wantColor(out),
		files: make(map[string]fileEntry),
	}
}

// ForceColor overrides terminal detection. Drivers expose it behind a
// --color flag; tests use it to pin down both modes.
func (r *Renderer) ForceColor(on bool) { r.color = on }

// Render writes one diagnostic. When the span's file is readable the
// message is followed by the offending source line and a caret marking
// the span; otherwise the diagnostic renders as a single line.
func (r *Renderer) Render(d diag.Diagnostic) {
	head := fmt.Sprintf("%s[%s]: %s", r.severity(d.Severity), d.Code, d.Message)
	if !d.Span.IsValid() {
		fmt.Fprintf(r.out, "%s\n", head)
		return
	}
	content, ok := r.content(d.Span.Path)
	if !ok {
		fmt.Fprintf(r.out, "%s: %s\n", d.Span, head)
		return
	}
	line, col := d.Span.LineCol(content)
	fmt.Fprintf(r.out, "%s %s\n", r.paint(codeBold, fmt.Sprintf("%s:%d:%d:", d.Span.Path, line, col)), head)

	text, lineStart := lineAt(content, d.Span.Start)
	fmt.Fprintf(r.out, "    %s\n", text)
	fmt.Fprintf(r.out, "    %s\n", caret(d.Span.Start-lineStart, d.Span.End-d.Span.Start, len(text)))
}

// RenderAll writes every diagnostic followed by a tally line and returns
// the number of errors seen.
func (r *Renderer) RenderAll(ds []diag.Diagnostic) int {
	errs, warns := 0, 0
	for _, d := range ds {
		r.Render(d)
		if d.Severity == diag.SeverityError {
			errs++
		} else {
			warns++
		}
	}
	if errs+warns > 0 {
		fmt.Fprintf(r.out, "%s\n", tally(errs, warns))
	}
	return errs
}

func (r *Renderer) severity(s diag.Severity) string {
	switch s {
	case diag.SeverityError:
		return r.paint(codeRed, s.String())
	case diag.SeverityWarning:
		return r.paint(codeYellow, s.String())
	default:
		return s.String()
	}
}

func (r *Renderer) paint(code, s string) string {
	if !r.color {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func (r *Renderer) content(path string) ([]byte, bool) {
	if e, hit := r.files[path]; hit {
		return e.data, e.ok
	}
	data, err := os.ReadFile(path)
	e := fileEntry{data: data, ok: err == nil}
	r.files[path] = e
	return e.data, e.ok
}

// lineAt returns the text of the line containing offset and the byte
// offset where that line starts. Tabs are flattened to single spaces so
// one byte stays one column and the caret lands under the right spot.
func lineAt(content []byte, offset int) (string, int) {
	if offset > len(content) {
		offset = len(content)
	}
	start := offset
	for start > 0 && content[start-1] != '\n' {
		start--
	}
	end := offset
	for end < len(content) && content[end] != '\n' {
		end++
	}
	return strings.ReplaceAll(string(content[start:end]), "\t", " "), start
}

// caret draws the underline: ^ at the start column, tildes across the
// rest of the span, clipped to the echoed line. A zero-width span still
// gets one caret so empty-token diagnostics point somewhere.
func caret(col, width, lineLen int) string {
	if col < 0 {
		col = 0
	}
	if col > lineLen {
		col = lineLen
	}
	if width < 1 {
		width = 1
	}
	if rest := lineLen - col; width > rest && rest > 0 {
		width = rest
	}
	return strings.Repeat(" ", col) + "^" + strings.Repeat("~", width-1)
}

func tally(errs, warns int) string {
	parts := make([]string, 0, 2)
	if errs > 0 {
		parts = append(parts, plural(errs, "error"))
	}
	if warns > 0 {
		parts = append(parts, plural(warns, "warning"))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// wantColor reports whether out should receive ANSI sequences.
func wantColor(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal(f.Fd())
}
