package depgraph

import (
	"sort"
	"testing"

	"sdyn/internal/datamodel"
	"sdyn/internal/variable"
)

func stocker(name string, deps ...string) *variable.Staged {
	return &variable.Staged{Name: name, Kind: datamodel.KindStock, DirectDeps: deps}
}

func auxer(name string, deps ...string) *variable.Staged {
	return &variable.Staged{Name: name, Kind: datamodel.KindAux, DirectDeps: deps}
}

func flower(name string, deps ...string) *variable.Staged {
	return &variable.Staged{Name: name, Kind: datamodel.KindFlow, DirectDeps: deps}
}

func TestDTDepsStopsAtStock(t *testing.T) {
	// inflow depends on population (a stock) which itself depends on
	// birth_rate; DTDeps(inflow) should see population but not birth_rate.
	g := Build([]*variable.Staged{
		flower("inflow", "population"),
		stocker("population", "birth_rate"),
		auxer("birth_rate"),
	})
	deps, err := g.DTDeps("inflow")
	if err != nil {
		t.Fatalf("DTDeps: %v", err)
	}
	if !deps["population"] {
		t.Error("DTDeps(inflow) should include population")
	}
	if deps["birth_rate"] {
		t.Error("DTDeps(inflow) should not recurse past the stock into birth_rate")
	}
}

func TestInitialDepsRecursesPastStock(t *testing.T) {
	g := Build([]*variable.Staged{
		flower("inflow", "population"),
		stocker("population", "birth_rate"),
		auxer("birth_rate"),
	})
	deps, err := g.InitialDeps("inflow")
	if err != nil {
		t.Fatalf("InitialDeps: %v", err)
	}
	if !deps["population"] || !deps["birth_rate"] {
		t.Errorf("InitialDeps(inflow) = %v, want population and birth_rate both present", deps)
	}
}

func TestDTDepsDetectsCycle(t *testing.T) {
	g := Build([]*variable.Staged{
		auxer("a", "b"),
		auxer("b", "a"),
	})
	if _, err := g.DTDeps("a"); err == nil {
		t.Fatal("DTDeps over a cyclic aux pair: expected an error, got none")
	}
}

func TestDTDepsIgnoresCycleThroughStock(t *testing.T) {
	// a stock may depend (for its initial value) on something that in
	// turn depends on the stock's current value without creating a
	// dt-time cycle, since DTDeps never descends into the stock's own deps.
	g := Build([]*variable.Staged{
		stocker("pop", "growth"),
		flower("growth", "pop"),
	})
	if _, err := g.DTDeps("growth"); err != nil {
		t.Fatalf("DTDeps(growth) should not see a cycle (stops at pop): %v", err)
	}
}

func TestCheckUnknownDependencies(t *testing.T) {
	g := Build([]*variable.Staged{
		auxer("a", "missing_var"),
	})
	errs := g.CheckUnknownDependencies()
	if len(errs) != 1 {
		t.Fatalf("CheckUnknownDependencies = %v, want exactly 1 error", errs)
	}
}

func TestCheckUnknownDependenciesSkipsDotted(t *testing.T) {
	g := Build([]*variable.Staged{
		auxer("a", "submodule.output"),
	})
	if errs := g.CheckUnknownDependencies(); len(errs) != 0 {
		t.Fatalf("CheckUnknownDependencies should skip cross-module refs, got %v", errs)
	}
}

func TestCheckNoAbsoluteReferences(t *testing.T) {
	g := Build([]*variable.Staged{
		auxer("a", ".root_var"),
	})
	if errs := g.CheckNoAbsoluteReferences(true); len(errs) != 0 {
		t.Fatalf("root model should allow absolute refs, got %v", errs)
	}
	if errs := g.CheckNoAbsoluteReferences(false); len(errs) != 1 {
		t.Fatalf("non-root model should reject absolute refs, got %v", errs)
	}
}

func TestTopoSortRespectsDependencyOrder(t *testing.T) {
	g := Build([]*variable.Staged{
		auxer("c", "b"),
		auxer("b", "a"),
		auxer("a"),
	})
	order, err := g.TopoSort([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("TopoSort order = %v, want a before b before c", order)
	}
}

func TestTopoSortStableTieBreak(t *testing.T) {
	g := Build([]*variable.Staged{
		auxer("zeta"),
		auxer("alpha"),
		auxer("mid"),
	})
	order, err := g.TopoSort([]string{"zeta", "alpha", "mid"})
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	sorted := append([]string{}, order...)
	sort.Strings(sorted)
	for i := range order {
		if order[i] != sorted[i] {
			t.Fatalf("TopoSort with no edges should fall back to lexical order, got %v", order)
		}
	}
}

func TestTopoSortExcludesStockPredecessorEdges(t *testing.T) {
	// a stock's own dependencies add no edges to this dt-step graph (the
	// stock has no predecessor edges), so a stock and a flow that read
	// each other still sort instead of forming a cycle.
	g := Build([]*variable.Staged{
		flower("outflow", "pop"),
		stocker("pop", "outflow"),
	})
	order, err := g.TopoSort([]string{"outflow", "pop"})
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("TopoSort = %v, want both variables scheduled", order)
	}
}

func TestTopoSortInitialFollowsStockDeps(t *testing.T) {
	g := Build([]*variable.Staged{
		stocker("pop", "initial_pop"),
		auxer("initial_pop"),
	})
	order, err := g.TopoSortInitial([]string{"pop", "initial_pop"})
	if err != nil {
		t.Fatalf("TopoSortInitial: %v", err)
	}
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	if pos["initial_pop"] > pos["pop"] {
		t.Fatalf("TopoSortInitial = %v, want initial_pop scheduled before pop", order)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	g := Build([]*variable.Staged{
		auxer("a", "b"),
		auxer("b", "a"),
	})
	if _, err := g.TopoSort([]string{"a", "b"}); err == nil {
		t.Fatal("TopoSort over a cycle: expected an error, got none")
	}
}

func TestCheckCyclesAccumulatesAcrossVariables(t *testing.T) {
	g := Build([]*variable.Staged{
		auxer("a", "b"),
		auxer("b", "a"),
	})
	errs := g.CheckCycles()
	if len(errs) == 0 {
		t.Fatal("CheckCycles: expected at least one error, got none")
	}
}
