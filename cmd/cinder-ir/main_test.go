package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cinder-lang/cinder/internal/buildcfg"
)

const demoUnit = `script demo {
    fn bump(v0: u64) -> u64 inline(always) {
        entry():
        v1 = const u64 1
        v2 = add v0, v1
        ret u64 v2
    }

    entry fn main() -> u64 {
        entry():
        v0 = const u64 41
        v1 = call bump(v0)
        ret u64 v1
    }
}
`

func loadDemo(t *testing.T) *shell {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.cir")
	if err := os.WriteFile(path, []byte(demoUnit), 0o644); err != nil {
		t.Fatal(err)
	}
	s := &shell{cfg: buildcfg.Default()}
	if err := s.load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func TestLoadParsesAndVerifies(t *testing.T) {
	s := loadDemo(t)
	if s.m == nil || s.m.Name != "demo" {
		t.Fatalf("loaded module = %+v, want demo", s.m)
	}
	if s.prompt() != "demo> " {
		t.Fatalf("prompt = %q, want %q", s.prompt(), "demo> ")
	}
}

func TestDispatchPassMutatesModule(t *testing.T) {
	s := loadDemo(t)
	if s.dispatch("pass inline dce") {
		t.Fatalf("pass command asked to quit")
	}
	// bump was inlined into main and reaped: only the entry remains.
	if len(s.m.Funcs) != 1 || s.m.Funcs[0].Name != "main" {
		names := make([]string, len(s.m.Funcs))
		for i, f := range s.m.Funcs {
			names[i] = f.Name
		}
		t.Fatalf("functions after inline+dce = %v, want [main]", names)
	}
}

func TestDispatchQuit(t *testing.T) {
	s := &shell{cfg: buildcfg.Default()}
	if !s.dispatch("quit") {
		t.Fatalf("quit did not ask to exit")
	}
}

func TestFunctionText(t *testing.T) {
	s := loadDemo(t)
	text := functionText(s.m.String(), "bump")
	if !strings.Contains(text, "fn bump(") || strings.Contains(text, "fn main(") {
		t.Fatalf("functionText cut the wrong block:\n%s", text)
	}
	if !strings.HasSuffix(strings.TrimRight(text, "\n"), "}") {
		t.Fatalf("functionText did not close the block:\n%s", text)
	}
}
