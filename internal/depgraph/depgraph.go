// Package depgraph computes the two dependency closures C7 needs (spec
// §4.6): dt_deps, which stops recursing at a stock (a stock's current
// value is already known at every step, so what feeds *it* doesn't
// matter when scheduling the flows that read it), and initial_deps,
// which recurses fully (a stock's initial value has to be computed from
// whatever its initial equation reads, every time). It also detects
// cycles and produces a stable topological schedule.
package depgraph

import (
	"sort"

	"sdyn/internal/common"
	"sdyn/internal/datamodel"
	"sdyn/internal/errors"
	"sdyn/internal/variable"
)

// Graph indexes a model's staged variables by canonical name.
type Graph struct {
	byName map[string]*variable.Staged
	names  []string // declaration order, for stable diagnostics
}

func Build(staged []*variable.Staged) *Graph {
	g := &Graph{byName: map[string]*variable.Staged{}}
	for _, s := range staged {
		g.byName[s.Name] = s
		g.names = append(g.names, s.Name)
	}
	return g
}

// DTDeps returns the transitive closure of dependencies needed to
// evaluate name during a flow/aux step, per spec §4.6: traversal does
// not descend past a stock (a stock contributes itself to the set, but
// not its own dependencies).
func (g *Graph) DTDeps(name string) (map[string]bool, error) {
	seen := map[string]bool{}
	processing := map[string]bool{}
	var walk func(string) error
	walk = func(n string) error {
		if seen[n] {
			return nil
		}
		if processing[n] {
			return errors.New(errors.KindModel, errors.CircularDependency, n)
		}
		v, ok := g.byName[n]
		if !ok {
			seen[n] = true // unknown dependency reported separately by UnknownDependency checks
			return nil
		}
		processing[n] = true
		if v.Kind != datamodel.KindStock {
			for _, dep := range v.DirectDeps {
				dep = common.Canonical(dep)
				if err := walk(dep); err != nil {
					return err
				}
			}
		}
		delete(processing, n)
		seen[n] = true
		return nil
	}
	if err := walk(common.Canonical(name)); err != nil {
		return nil, err
	}
	delete(seen, common.Canonical(name))
	return seen, nil
}

// InitialDeps returns the transitive closure needed to evaluate name at
// t=0: unlike DTDeps, a stock's own initial-value dependencies are
// followed too.
func (g *Graph) InitialDeps(name string) (map[string]bool, error) {
	seen := map[string]bool{}
	processing := map[string]bool{}
	var walk func(string) error
	walk = func(n string) error {
		if seen[n] {
			return nil
		}
		if processing[n] {
			return errors.New(errors.KindModel, errors.CircularDependency, n)
		}
		v, ok := g.byName[n]
		if !ok {
			seen[n] = true
			return nil
		}
		processing[n] = true
		for _, dep := range v.DirectDeps {
			dep = common.Canonical(dep)
			if err := walk(dep); err != nil {
				return err
			}
		}
		delete(processing, n)
		seen[n] = true
		return nil
	}
	if err := walk(common.Canonical(name)); err != nil {
		return nil, err
	}
	delete(seen, common.Canonical(name))
	return seen, nil
}

// CheckCycles runs DTDeps and InitialDeps for every variable in
// declaration order and reports every CircularDependency found.
func (g *Graph) CheckCycles() errors.List {
	var errs errors.List
	for _, n := range g.names {
		if _, err := g.DTDeps(n); err != nil {
			errs = append(errs, err.(*errors.Error))
		}
		if _, err := g.InitialDeps(n); err != nil {
			errs = append(errs, err.(*errors.Error))
		}
	}
	return errs
}

// CheckUnknownDependencies reports any variable whose direct_deps names
// an identifier the model has no variable for.
func (g *Graph) CheckUnknownDependencies() errors.List {
	var errs errors.List
	for _, n := range g.names {
		v := g.byName[n]
		for _, dep := range v.DirectDeps {
			dep = common.Canonical(dep)
			if common.IsDotted(dep) {
				continue // cross-module reference, resolved at model-staging time
			}
			if _, ok := g.byName[dep]; !ok {
				errs = append(errs, errors.NewVar(errors.UnknownDependency, n, errors.Loc{}, dep))
			}
		}
	}
	return errs
}

// CheckNoAbsoluteReferences reports root-anchored ("." prefixed)
// identifiers in any non-root model's equations (spec §4.6): only the
// root model may address the project by absolute path.
func (g *Graph) CheckNoAbsoluteReferences(isRoot bool) errors.List {
	if isRoot {
		return nil
	}
	var errs errors.List
	for _, n := range g.names {
		v := g.byName[n]
		for _, dep := range v.DirectDeps {
			if _, _, rootAnchored := common.SplitDotted(dep); rootAnchored {
				errs = append(errs, errors.NewVar(errors.NoAbsoluteReferences, n, errors.Loc{}, dep))
			}
		}
	}
	return errs
}

// TopoSort returns the Flows/Aux-step schedule over names respecting
// dt-dependency order: stocks are excluded from predecessor edges
// (their value at the top of a step is already known), using Kahn's
// algorithm with a stable lexical tie-break so the same model always
// compiles to the same instruction order.
func (g *Graph) TopoSort(names []string) ([]string, error) {
	return g.topoSort(names, false)
}

// TopoSortInitial returns the Initials-step schedule: unlike TopoSort, a
// stock's own initial-value dependencies are followed, since computing
// its t=0 value requires them.
func (g *Graph) TopoSortInitial(names []string) ([]string, error) {
	return g.topoSort(names, true)
}

func (g *Graph) topoSort(names []string, followStocks bool) ([]string, error) {
	indeg := map[string]int{}
	adj := map[string][]string{} // dep -> dependents
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
		indeg[n] = 0
	}
	for _, n := range names {
		v, ok := g.byName[n]
		if !ok {
			continue
		}
		if v.Kind == datamodel.KindStock && !followStocks {
			continue // stocks have no dt-time predecessors within this schedule
		}
		for _, dep := range v.DirectDeps {
			dep = common.Canonical(dep)
			if !set[dep] {
				continue
			}
			adj[dep] = append(adj[dep], n)
			indeg[n]++
		}
	}

	var ready []string
	for _, n := range names {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		var newlyReady []string
		for _, dependent := range adj[n] {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		sort.Strings(newlyReady)
		ready = mergeSorted(ready, newlyReady)
	}

	if len(order) != len(names) {
		return nil, errors.New(errors.KindModel, errors.CircularDependency, "")
	}
	return order, nil
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
