// Package source provides source location tracking for the Cinder compiler.
// Spans are byte-offset ranges into a named input and travel with every
// lowered instruction so diagnostics and IR dumps can point back at code.
package source

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Span represents a half-open byte range [Start, End) in a source file.
type Span struct {
	Path  string // Source file path ("" for synthesized code)
	Start int    // 0-based byte offset, inclusive
	End   int    // 0-based byte offset, exclusive
}

// IsValid returns true if the span points at real input.
func (s Span) IsValid() bool {
	return s.Path != "" && s.Start >= 0 && s.Start <= s.End
}

// String returns a compact file:start-end form for logs and errors.
func (s Span) String() string {
	if !s.IsValid() {
		return "<no location>"
	}
	return fmt.Sprintf("%s:%d-%d", filepath.Base(s.Path), s.Start, s.End)
}

// Contains returns true if the byte offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return s.IsValid() && s.Start <= offset && offset < s.End
}

// Union returns the smallest span covering both s and other.
// Spans from different files cannot be merged; s wins.
func (s Span) Union(other Span) Span {
	if !s.IsValid() {
		return other
	}
	if !other.IsValid() || s.Path != other.Path {
		return s
	}
	out := s
	if other.Start < out.Start {
		out.Start = other.Start
	}
	if other.End > out.End {
		out.End = other.End
	}
	return out
}

// LineCol converts the span start to a 1-based line/column pair given the
// file content. Rendering code reads the file once and reuses the content.
func (s Span) LineCol(content []byte) (line, col int) {
	line, col = 1, 1
	limit := s.Start
	if limit > len(content) {
		limit = len(content)
	}
	for _, b := range content[:limit] {
		if b == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// Table interns file paths and spans and hands out the small integer ids
// used by the textual IR metadata section (!N tags). Ids are assigned in
// first-use order, so repeated dumps of the same module are stable.
type Table struct {
	paths   map[string]int
	spans   map[Span]int
	entries []Entry
}

// EntryKind discriminates metadata table entries.
type EntryKind int

const (
	EntryPath EntryKind = iota
	EntrySpan
)

// Entry is one row of the metadata table.
type Entry struct {
	ID   int
	Kind EntryKind
	Path string // EntryPath
	Span Span   // EntrySpan
	File int    // EntrySpan: id of the path entry
}

// NewTable returns an empty metadata table. Ids start at 1; 0 means "no tag".
func NewTable() *Table {
	return &Table{
		paths: make(map[string]int),
		spans: make(map[Span]int),
	}
}

// PathID interns a file path and returns its metadata id.
func (t *Table) PathID(path string) int {
	if id, ok := t.paths[path]; ok {
		return id
	}
	id := len(t.entries) + 1
	t.paths[path] = id
	t.entries = append(t.entries, Entry{ID: id, Kind: EntryPath, Path: path})
	return id
}

// SpanID interns a span (and its path) and returns its metadata id.
// Invalid spans intern to 0.
func (t *Table) SpanID(sp Span) int {
	if !sp.IsValid() {
		return 0
	}
	if id, ok := t.spans[sp]; ok {
		return id
	}
	file := t.PathID(sp.Path)
	id := len(t.entries) + 1
	t.spans[sp] = id
	t.entries = append(t.entries, Entry{ID: id, Kind: EntrySpan, Span: sp, File: file})
	return id
}

// AddPath registers a path under an explicit id, used by the IR parser when
// rebuilding a table from a dump. Returns an error on id collisions.
func (t *Table) AddPath(id int, path string) error {
	if err := t.reserve(id); err != nil {
		return err
	}
	t.paths[path] = id
	t.entries = append(t.entries, Entry{ID: id, Kind: EntryPath, Path: path})
	return nil
}

// AddSpan registers a span under an explicit id referencing a path entry.
func (t *Table) AddSpan(id, file int, start, end int) error {
	if err := t.reserve(id); err != nil {
		return err
	}
	path, ok := t.pathByID(file)
	if !ok {
		return fmt.Errorf("metadata !%d: span references unknown file !%d", id, file)
	}
	sp := Span{Path: path, Start: start, End: end}
	t.spans[sp] = id
	t.entries = append(t.entries, Entry{ID: id, Kind: EntrySpan, Span: sp, File: file})
	return nil
}

// Lookup resolves a metadata id to its span. Path entries and unknown ids
// resolve to the invalid span.
func (t *Table) Lookup(id int) Span {
	for _, e := range t.entries {
		if e.ID == id && e.Kind == EntrySpan {
			return e.Span
		}
	}
	return Span{}
}

// Entries returns the table rows sorted by id, for printing.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of interned entries.
func (t *Table) Len() int { return len(t.entries) }

func (t *Table) reserve(id int) error {
	if id <= 0 {
		return fmt.Errorf("metadata id must be positive, got %d", id)
	}
	for _, e := range t.entries {
		if e.ID == id {
			return fmt.Errorf("metadata !%d registered twice", id)
		}
	}
	return nil
}

func (t *Table) pathByID(id int) (string, bool) {
	for _, e := range t.entries {
		if e.ID == id && e.Kind == EntryPath {
			return e.Path, true
		}
	}
	return "", false
}
