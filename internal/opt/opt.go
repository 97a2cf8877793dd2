// Package opt implements the middle-end optimization pipeline: a fixed
// sequence of module-level IR rewrites run between lowering and code
// generation. Each pass is idempotent, and the pipeline re-verifies the
// module after every pass unless the build configuration turns that off,
// so a pass that breaks an IR rule is caught at the pass that broke it
// rather than deep inside the backend.
package opt

import (
	"fmt"
	"time"

	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/ir"
)

// Pass is one module-level rewrite. Run reports whether it changed the
// module; an error aborts the pipeline.
type Pass interface {
	Name() string
	Run(m *ir.Module) (bool, error)
}

// PassStat records one executed pipeline step for --verbose output.
type PassStat struct {
	Name    string
	Changed bool
	Elapsed time.Duration
}

// Pipeline is the ordered pass list selected by the optimization level.
type Pipeline struct {
	cfg    *buildcfg.Config
	passes []Pass
	stats  []PassStat
}

// New builds the pipeline for the configuration. Configurable-constant
// materialization runs at every level, including -O0: the backend needs
// get_config resolved to either a data-section slot or a frozen local
// before it can lay out frames and the data section.
func New(cfg *buildcfg.Config) *Pipeline {
	p := &Pipeline{cfg: cfg}
	switch cfg.Level {
	case buildcfg.OptNone:
	case buildcfg.OptBasic:
		p.passes = append(p.passes, &constFold{}, &deadCode{})
	default:
		p.passes = append(p.passes,
			&inliner{budget: cfg.InlineBudget},
			&constFold{},
			&deadCode{},
			&dedup{},
			&promote{},
		)
	}
	p.passes = append(p.passes, &configurables{cfg: cfg})
	return p
}

// ByName returns a single pass, for tools that run passes one at a time.
func ByName(cfg *buildcfg.Config, name string) (Pass, bool) {
	switch name {
	case "inline":
		return &inliner{budget: cfg.InlineBudget}, true
	case "constfold":
		return &constFold{}, true
	case "dce":
		return &deadCode{}, true
	case "dedup":
		return &dedup{}, true
	case "promote":
		return &promote{}, true
	case "configurables":
		return &configurables{cfg: cfg}, true
	}
	return nil, false
}

// Names lists the passes ByName accepts, in pipeline order.
func Names() []string {
	return []string{"inline", "constfold", "dce", "dedup", "promote", "configurables"}
}

// Run executes every pass in order and records per-pass statistics.
func (p *Pipeline) Run(m *ir.Module) error {
	p.stats = p.stats[:0]
	for _, pass := range p.passes {
		start := time.Now()
		changed, err := pass.Run(m)
		if err != nil {
			return fmt.Errorf("%s: %w", pass.Name(), err)
		}
		p.stats = append(p.stats, PassStat{
			Name:    pass.Name(),
			Changed: changed,
			Elapsed: time.Since(start),
		})
		if p.cfg.VerifyEach {
			if err := ir.Verify(m); err != nil {
				return fmt.Errorf("after %s: %w", pass.Name(), err)
			}
		}
	}
	return nil
}

// Stats returns one record per executed pass, in pipeline order. The slice
// is owned by the pipeline and valid until the next Run.
func (p *Pipeline) Stats() []PassStat { return p.stats }
