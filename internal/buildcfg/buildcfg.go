// Package buildcfg holds the build-time configuration shared by the Cinder
// middle end and backend: language feature toggles, the targeted CVM
// version, and the optimization level. A Config is constructed once by the
// driver and passed down explicitly; nothing in this package is global.
package buildcfg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Feature names a gated language or backend capability.
type Feature string

const (
	// FeatureConstGenerics allows array lengths to come from resolved
	// const-generic arguments during lowering.
	FeatureConstGenerics Feature = "const-generics"

	// FeatureConfigSection keeps configurable constants patchable in the
	// data section instead of freezing their defaults at compile time.
	FeatureConfigSection Feature = "config-section"

	// FeatureWideArith emits native 256-bit arithmetic opcodes instead of
	// rejecting wide operations in codegen.
	FeatureWideArith Feature = "wide-arith"
)

var allFeatures = []Feature{
	FeatureConstGenerics,
	FeatureConfigSection,
	FeatureWideArith,
}

// featureFloor maps each feature to the first CVM release that supports it.
// A feature request below its floor is a configuration error, not a silent
// downgrade.
var featureFloor = map[Feature]string{
	FeatureConstGenerics: "1.0.0",
	FeatureConfigSection: "1.3.0",
	FeatureWideArith:     "1.2.0",
}

// DefaultTargetVM is the CVM release assumed when the driver passes none.
const DefaultTargetVM = "1.3.0"

// OptLevel selects which optimization passes run.
type OptLevel int

const (
	OptNone  OptLevel = 0 // no passes
	OptBasic OptLevel = 1 // constant folding and dead code elimination
	OptFull  OptLevel = 2 // the whole pipeline (default)
)

// Config is the immutable build configuration for one compilation.
type Config struct {
	TargetVM      *semver.Version  // CVM release being targeted
	Level         OptLevel         // optimization level
	VerifyEach    bool             // re-verify the module after every pass
	InlineBudget  int              // max instruction growth per function during inlining
	features      map[Feature]bool // enabled feature set
	featureSource []string         // original flag order, for String
}

// New returns a Config targeting the given CVM version with the given
// features enabled. An empty version selects DefaultTargetVM.
func New(targetVM string, level OptLevel, features ...Feature) (*Config, error) {
	if targetVM == "" {
		targetVM = DefaultTargetVM
	}
	v, err := semver.NewVersion(targetVM)
	if err != nil {
		return nil, fmt.Errorf("invalid target VM version %q: %w", targetVM, err)
	}
	cfg := &Config{
		TargetVM:     v,
		Level:        level,
		VerifyEach:   true,
		InlineBudget: 2048,
		features:     make(map[Feature]bool),
	}
	for _, f := range features {
		if err := cfg.enable(f); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Default returns the configuration used when the driver passes no flags:
// latest stable CVM, full optimization, all features at their floor or above
// enabled.
func Default() *Config {
	cfg, err := New(DefaultTargetVM, OptFull, FeatureConfigSection, FeatureWideArith, FeatureConstGenerics)
	if err != nil {
		panic(fmt.Sprintf("buildcfg: default configuration invalid: %v", err))
	}
	return cfg
}

func (c *Config) enable(f Feature) error {
	floor, ok := featureFloor[f]
	if !ok {
		return fmt.Errorf("unknown feature %q (known: %s)", f, knownFeatureList())
	}
	con, err := semver.NewConstraint(">= " + floor)
	if err != nil {
		return fmt.Errorf("feature %s: bad floor constraint: %w", f, err)
	}
	if !con.Check(c.TargetVM) {
		return fmt.Errorf("feature %s requires CVM >= %s, target is %s", f, floor, c.TargetVM)
	}
	c.features[f] = true
	c.featureSource = append(c.featureSource, string(f))
	return nil
}

// FeaturesFor returns every feature the given CVM release supports, in
// declaration order. An empty version means DefaultTargetVM. Drivers use
// this as the feature set when no explicit features are requested.
func FeaturesFor(targetVM string) ([]Feature, error) {
	if targetVM == "" {
		targetVM = DefaultTargetVM
	}
	v, err := semver.NewVersion(targetVM)
	if err != nil {
		return nil, fmt.Errorf("invalid target VM version %q: %w", targetVM, err)
	}
	out := make([]Feature, 0, len(allFeatures))
	for _, f := range allFeatures {
		if con, err := semver.NewConstraint(">= " + featureFloor[f]); err == nil && con.Check(v) {
			out = append(out, f)
		}
	}
	return out, nil
}

// ParseFeature validates a --feature flag value.
func ParseFeature(name string) (Feature, error) {
	f := Feature(strings.TrimSpace(name))
	if _, ok := featureFloor[f]; !ok {
		return "", fmt.Errorf("unknown feature %q (known: %s)", name, knownFeatureList())
	}
	return f, nil
}

// Enabled reports whether a feature was requested and admitted.
func (c *Config) Enabled(f Feature) bool { return c.features[f] }

// TargetAtLeast reports whether the targeted CVM satisfies the constraint,
// e.g. TargetAtLeast("1.1.0") before choosing an opcode added in 1.1.
func (c *Config) TargetAtLeast(version string) bool {
	con, err := semver.NewConstraint(">= " + version)
	if err != nil {
		return false
	}
	return con.Check(c.TargetVM)
}

// String renders the configuration for --verbose logs.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "target-vm=%s opt-level=%d", c.TargetVM, c.Level)
	if len(c.featureSource) > 0 {
		fmt.Fprintf(&b, " features=%s", strings.Join(c.featureSource, ","))
	}
	return b.String()
}

func knownFeatureList() string {
	names := make([]string, 0, len(allFeatures))
	for _, f := range allFeatures {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
