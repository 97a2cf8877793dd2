package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cinder-lang/cinder/internal/diag"
	"github.com/cinder-lang/cinder/internal/source"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRenderPointsCaretAtSpan(t *testing.T) {
	content := "fn main() {\n\tlet y = nope;\n}\n"
	path := writeSource(t, "demo.cn", content)

	var buf bytes.Buffer
	r := NewRenderer(&buf)
	r.Render(diag.Diagnostic{
		Span:     source.Span{Path: path, Start: 21, End: 25}, // "nope"
		Severity: diag.SeverityError,
		Code:     "T0007",
		Message:  `no such function "nope"`,
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("rendered %d lines, want 3:\n%s", len(lines), buf.String())
	}
	wantHead := path + `:2:10: error[T0007]: no such function "nope"`
	if lines[0] != wantHead {
		t.Fatalf("head line = %q, want %q", lines[0], wantHead)
	}
	// The tab is echoed as a space so columns line up.
	if want := "     let y = nope;"; lines[1] != want {
		t.Fatalf("source line = %q, want %q", lines[1], want)
	}
	if want := "    " + strings.Repeat(" ", 9) + "^~~~"; lines[2] != want {
		t.Fatalf("caret line = %q, want %q", lines[2], want)
	}
}

func TestRenderWithoutSourceFallsBackToSpan(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)
	r.Render(diag.Diagnostic{
		Span:     source.Span{Path: "gone/missing.cn", Start: 3, End: 8},
		Severity: diag.SeverityError,
		Code:     "T0001",
		Message:  "undefined name",
	})

	got := buf.String()
	if want := "missing.cn:3-8: error[T0001]: undefined name\n"; got != want {
		t.Fatalf("fallback = %q, want %q", got, want)
	}
}

func TestRenderInvalidSpanIsSingleLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)
	r.Render(diag.Diagnostic{
		Severity: diag.SeverityWarning,
		Code:     "O0001",
		Message:  "nothing to optimize",
	})

	if got, want := buf.String(), "warning[O0001]: nothing to optimize\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderAllTalliesBySeverity(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)
	errs := r.RenderAll([]diag.Diagnostic{
		{Severity: diag.SeverityError, Code: "T0001", Message: "first"},
		{Severity: diag.SeverityWarning, Code: "O0001", Message: "second"},
		{Severity: diag.SeverityError, Code: "T0002", Message: "third"},
	})
	if errs != 2 {
		t.Fatalf("RenderAll returned %d errors, want 2", errs)
	}
	if !strings.HasSuffix(buf.String(), "2 errors, 1 warning\n") {
		t.Fatalf("missing tally line:\n%s", buf.String())
	}

	buf.Reset()
	r.RenderAll([]diag.Diagnostic{
		{Severity: diag.SeverityError, Code: "T0001", Message: "only"},
	})
	if !strings.HasSuffix(buf.String(), "1 error\n") {
		t.Fatalf("singular tally wrong:\n%s", buf.String())
	}

	buf.Reset()
	if n := r.RenderAll(nil); n != 0 {
		t.Fatalf("empty RenderAll returned %d, want 0", n)
	}
	if buf.Len() != 0 {
		t.Fatalf("empty RenderAll wrote %q", buf.String())
	}
}

func TestRenderColorModes(t *testing.T) {
	d := diag.Diagnostic{Severity: diag.SeverityError, Code: "T0001", Message: "boom"}

	var plain bytes.Buffer
	NewRenderer(&plain).Render(d)
	if strings.Contains(plain.String(), "\x1b[") {
		t.Fatalf("buffer output should be plain, got %q", plain.String())
	}

	var colored bytes.Buffer
	r := NewRenderer(&colored)
	r.ForceColor(true)
	r.Render(d)
	if !strings.Contains(colored.String(), "\x1b[31merror\x1b[0m") {
		t.Fatalf("forced color missing red severity: %q", colored.String())
	}
}

func TestCaretClipsToLine(t *testing.T) {
	// Span wider than the remaining line is clipped.
	if got, want := caret(2, 20, 6), "  ^~~~"; got != want {
		t.Fatalf("clipped caret = %q, want %q", got, want)
	}
	// Zero-width span at end of line still gets one caret.
	if got, want := caret(6, 0, 6), "      ^"; got != want {
		t.Fatalf("eol caret = %q, want %q", got, want)
	}
}

func TestBannerNamesToolAndVersion(t *testing.T) {
	b := Banner("cinderc")
	if !strings.HasPrefix(b, "cinderc "+Version) {
		t.Fatalf("banner = %q", b)
	}
	if !strings.Contains(b, "/") {
		t.Fatalf("banner missing platform: %q", b)
	}
}
