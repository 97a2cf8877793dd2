package opt

import (
	"fmt"

	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/ir"
)

// configurables decides how configurable constants reach the backend. With
// the config-section feature enabled the pass does nothing: get_config
// survives to code generation, which resolves each name against the
// data-section slot layout so deployment tooling can patch values without
// recompiling. Without the feature every configurable is frozen at its
// declared default: each get_config becomes the address of a read-only
// initialized frame slot, and the module's declarations are cleared so
// neither the data section nor the ABI advertises patchable slots.
type configurables struct {
	cfg *buildcfg.Config
}

func (p *configurables) Name() string { return "configurables" }

func (p *configurables) Run(m *ir.Module) (bool, error) {
	if p.cfg.Enabled(buildcfg.FeatureConfigSection) {
		return false, nil
	}
	changed := false
	for _, f := range m.Funcs {
		slots := make(map[string]*ir.Local)
		for _, b := range f.Blocks {
			for i, in := range b.Instrs {
				gc, ok := in.(*ir.GetConfig)
				if !ok {
					continue
				}
				cd := m.Config(gc.Name)
				if cd == nil {
					return changed, fmt.Errorf("get_config %s has no declaration in module %s", gc.Name, m.Name)
				}
				l := slots[gc.Name]
				if l == nil {
					l = f.NewLocal("cfg_"+gc.Name, cd.Ty, false, cd.Default)
					slots[gc.Name] = l
				}
				// Replace in place so the address materialization keeps
				// dominating every use the get_config dominated.
				gl := &ir.GetLocal{Local: l, Ty: gc.Ty}
				gl.SetSpan(gc.Span())
				b.ReplaceAt(i, gl)
				ir.ReplaceUses(f, gc, gl)
				changed = true
			}
		}
	}
	if len(m.Configs) > 0 {
		m.Configs = nil
		changed = true
	}
	return changed, nil
}
