package buildcfg

import (
	"strings"
	"testing"
)

func TestFeatureGatedByTargetVM(t *testing.T) {
	if _, err := New("1.2.0", OptFull, FeatureConfigSection); err == nil {
		t.Fatal("config-section admitted on CVM 1.2.0, requires 1.3.0")
	}
	cfg, err := New("1.3.0", OptFull, FeatureConfigSection)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !cfg.Enabled(FeatureConfigSection) {
		t.Fatal("feature admitted but not enabled")
	}
}

func TestTargetAtLeast(t *testing.T) {
	cfg, err := New("1.2.5", OptFull)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		floor string
		want  bool
	}{
		{"1.0.0", true},
		{"1.2.5", true},
		{"1.3.0", false},
	}
	for _, tt := range tests {
		if got := cfg.TargetAtLeast(tt.floor); got != tt.want {
			t.Errorf("TargetAtLeast(%s) = %v, want %v", tt.floor, got, tt.want)
		}
	}
}

func TestParseFeatureRejectsUnknown(t *testing.T) {
	if _, err := ParseFeature("tail-calls"); err == nil {
		t.Fatal("unknown feature accepted")
	} else if !strings.Contains(err.Error(), "known:") {
		t.Fatalf("error does not list known features: %v", err)
	}
	f, err := ParseFeature(" wide-arith ")
	if err != nil {
		t.Fatalf("ParseFeature: %v", err)
	}
	if f != FeatureWideArith {
		t.Fatalf("ParseFeature = %q, want %q", f, FeatureWideArith)
	}
}

func TestInvalidTargetVersion(t *testing.T) {
	if _, err := New("not-a-version", OptNone); err == nil {
		t.Fatal("invalid version accepted")
	}
}

func TestFeaturesForTracksFloors(t *testing.T) {
	tests := []struct {
		target string
		want   []Feature
	}{
		{"1.0.0", []Feature{FeatureConstGenerics}},
		{"1.2.0", []Feature{FeatureConstGenerics, FeatureWideArith}},
		{"1.3.0", []Feature{FeatureConstGenerics, FeatureConfigSection, FeatureWideArith}},
		{"", []Feature{FeatureConstGenerics, FeatureConfigSection, FeatureWideArith}},
	}
	for _, tt := range tests {
		got, err := FeaturesFor(tt.target)
		if err != nil {
			t.Fatalf("FeaturesFor(%q): %v", tt.target, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("FeaturesFor(%q) = %v, want %v", tt.target, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("FeaturesFor(%q) = %v, want %v", tt.target, got, tt.want)
			}
		}
	}
	if _, err := FeaturesFor("nope"); err == nil {
		t.Fatal("invalid version accepted")
	}
}

func TestDefaultHasFullPipeline(t *testing.T) {
	cfg := Default()
	if cfg.Level != OptFull {
		t.Fatalf("default level = %d, want %d", cfg.Level, OptFull)
	}
	if !cfg.Enabled(FeatureWideArith) || !cfg.Enabled(FeatureConfigSection) {
		t.Fatal("default config missing stable features")
	}
	if cfg.InlineBudget <= 0 {
		t.Fatal("default inline budget not positive")
	}
}
