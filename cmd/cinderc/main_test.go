package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/cli"
	"github.com/cinder-lang/cinder/internal/diag"
)

const demoUnit = `script demo {
    entry fn main() -> u64 {
        entry():
        v0 = const u64 41
        v1 = const u64 1
        v2 = add v0, v1
        ret u64 v2
    }
}
`

func testDriver(t *testing.T) *driver {
	t.Helper()
	return &driver{
		cfg:      buildcfg.Default(),
		renderer: cli.NewRenderer(os.Stderr),
		outDir:   t.TempDir(),
	}
}

func TestCompileUnit(t *testing.T) {
	d := testDriver(t)
	out, err := d.compile("demo.cir", []byte(demoUnit))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(out.Files["image"]) == 0 {
		t.Fatalf("compile produced an empty image")
	}
	var desc struct {
		Module  string `json:"module"`
		Entries []struct {
			Name string `json:"name"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(out.Files["abi"], &desc); err != nil {
		t.Fatalf("abi document: %v", err)
	}
	if desc.Module != "demo" || len(desc.Entries) != 1 || desc.Entries[0].Name != "main" {
		t.Fatalf("abi document lists %+v, want module demo with entry main", desc)
	}
	if !strings.Contains(string(out.Files["metrics"]), `"codegen"`) {
		t.Fatalf("metrics document misses the codegen phase:\n%s", out.Files["metrics"])
	}
}

func TestCompileParseErrorIsDiagnostic(t *testing.T) {
	d := testDriver(t)
	_, err := d.compile("bad.cir", []byte("script demo {\n    bogus\n}\n"))
	dg, ok := err.(diag.Diagnostic)
	if !ok {
		t.Fatalf("compile error = %T (%v), want diag.Diagnostic", err, err)
	}
	if dg.Severity != diag.SeverityError || dg.Span.Path != "bad.cir" {
		t.Fatalf("diagnostic = %+v, want an error pointing at bad.cir", dg)
	}
}

func TestWriteOutputs(t *testing.T) {
	d := testDriver(t)
	out, err := d.compile("demo.cir", []byte(demoUnit))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := d.write("demo.cir", out); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, name := range []string{"demo.cvm", "demo.abi.json"} {
		if _, err := os.Stat(filepath.Join(d.outDir, name)); err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
	}
}

func TestMakeConfigDefaultsFeaturesToTarget(t *testing.T) {
	cfg, err := makeConfig("", int(buildcfg.OptFull), nil, true)
	if err != nil {
		t.Fatalf("makeConfig: %v", err)
	}
	if !cfg.Enabled(buildcfg.FeatureConfigSection) {
		t.Fatalf("default target should enable %s", buildcfg.FeatureConfigSection)
	}
}

func TestMakeConfigRejectsBadLevel(t *testing.T) {
	if _, err := makeConfig("", 3, nil, true); err == nil {
		t.Fatalf("opt level 3 accepted, want error")
	}
}
