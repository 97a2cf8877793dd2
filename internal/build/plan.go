// Package build orchestrates multi-unit compilation: a dependency plan
// over compilation units, a bounded parallel executor, and a
// content-addressed artifact cache so watch-mode rebuilds skip units
// whose source and configuration are unchanged.
package build

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// UnitID names one compilation unit in a plan.
type UnitID string

// Output holds what compiling one unit produced, keyed by logical file
// name ("image", "abi", ...). Outputs are immutable once returned; the
// cache hands the same instance to later hits.
type Output struct {
	Files map[string][]byte
}

// Action compiles one unit. It runs on an executor worker goroutine
// after every dependency has built.
type Action func(ctx context.Context) (*Output, error)

// Unit is one independently compilable source artifact.
type Unit struct {
	ID     UnitID
	Path   string   // source file, lets watch mode map changes back to units
	Key    Key      // artifact cache key; empty disables caching for the unit
	Deps   []UnitID // units that must build first
	Action Action
}

// Plan is a dependency graph of units.
type Plan struct {
	units map[UnitID]*Unit
}

// NewPlan returns an empty plan.
func NewPlan() *Plan {
	return &Plan{units: make(map[UnitID]*Unit)}
}

// Add registers a unit. Dependency ids are deduplicated and sorted so
// later iteration never depends on caller order.
func (p *Plan) Add(u Unit) error {
	if u.ID == "" {
		return fmt.Errorf("unit id must be non-empty")
	}
	if u.Action == nil {
		return fmt.Errorf("unit %s has no action", u.ID)
	}
	if _, ok := p.units[u.ID]; ok {
		return fmt.Errorf("unit %s registered twice", u.ID)
	}
	seen := make(map[UnitID]bool, len(u.Deps))
	deps := make([]UnitID, 0, len(u.Deps))
	for _, d := range u.Deps {
		if d == u.ID {
			return fmt.Errorf("unit %s depends on itself", u.ID)
		}
		if !seen[d] {
			seen[d] = true
			deps = append(deps, d)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	u.Deps = deps
	p.units[u.ID] = &u
	return nil
}

// Get returns a unit by id.
func (p *Plan) Get(id UnitID) (*Unit, bool) {
	u, ok := p.units[id]
	return u, ok
}

// Len returns the number of units in the plan.
func (p *Plan) Len() int { return len(p.units) }

// All returns the units sorted by id.
func (p *Plan) All() []*Unit {
	out := make([]*Unit, 0, len(p.units))
	for _, u := range p.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByPath returns the ids of every unit whose source is the given path,
// sorted.
func (p *Plan) ByPath(path string) []UnitID {
	var out []UnitID
	for id, u := range p.units {
		if u.Path == path {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks that every dependency exists and that the graph has
// no cycles. A cycle error names the path that closes it.
func (p *Plan) Validate() error {
	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // finished
	)
	color := make(map[UnitID]int, len(p.units))
	var path []UnitID

	var visit func(id UnitID) error
	visit = func(id UnitID) error {
		switch color[id] {
		case gray:
			i := 0
			for i < len(path) && path[i] != id {
				i++
			}
			cycle := append(append([]UnitID{}, path[i:]...), id)
			parts := make([]string, len(cycle))
			for j, c := range cycle {
				parts[j] = string(c)
			}
			return fmt.Errorf("dependency cycle: %s", strings.Join(parts, " -> "))
		case black:
			return nil
		}
		color[id] = gray
		path = append(path, id)
		for _, d := range p.units[id].Deps {
			if _, ok := p.units[d]; !ok {
				return fmt.Errorf("unit %s depends on unknown unit %s", id, d)
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, u := range p.All() {
		if err := visit(u.ID); err != nil {
			return err
		}
	}
	return nil
}

// Subgraph returns the plan restricted to the given roots and
// everything they depend on, for building a subset of a workspace.
func (p *Plan) Subgraph(roots ...UnitID) (*Plan, error) {
	sub := NewPlan()
	var add func(id UnitID) error
	add = func(id UnitID) error {
		if _, ok := sub.units[id]; ok {
			return nil
		}
		u, ok := p.units[id]
		if !ok {
			return fmt.Errorf("unknown unit %s", id)
		}
		sub.units[id] = u
		for _, d := range u.Deps {
			if err := add(d); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range roots {
		if err := add(r); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Dependents returns the ids reachable from the given ones through
// reverse dependency edges, the given ids included, sorted. Watch mode
// rebuilds exactly this set when a source file changes.
func (p *Plan) Dependents(ids ...UnitID) []UnitID {
	rev := make(map[UnitID][]UnitID, len(p.units))
	for id, u := range p.units {
		for _, d := range u.Deps {
			rev[d] = append(rev[d], id)
		}
	}
	seen := make(map[UnitID]bool, len(ids))
	var out []UnitID
	var walk func(id UnitID)
	walk = func(id UnitID) {
		if seen[id] {
			return
		}
		seen[id] = true
		if _, ok := p.units[id]; !ok {
			return
		}
		out = append(out, id)
		for _, d := range rev[id] {
			walk(d)
		}
	}
	for _, id := range ids {
		walk(id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
