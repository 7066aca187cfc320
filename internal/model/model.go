// Package model implements C6: staging a datamodel.Model into a form
// ready for compilation — flattening stateful-builtin synthesis into
// real variables (Stage0), building the canonical variable table and
// running dependency/unit checks (Stage1), and computing the Initials
// and Flows execution schedules (Stage2).
package model

import (
	"sdyn/internal/ast"
	"sdyn/internal/common"
	"sdyn/internal/datamodel"
	"sdyn/internal/depgraph"
	"sdyn/internal/errors"
	"sdyn/internal/unitcheck"
	"sdyn/internal/units"
	"sdyn/internal/variable"
)

// Staged is a fully staged model: every variable (including the plain
// variables synthesized for stateful builtins), its dependency graph, its two execution
// schedules, and its resolved units.
type Staged struct {
	Name       string
	Variables  []*variable.Staged
	ByName     map[string]*variable.Staged
	Graph      *depgraph.Graph
	Schedule   []string // Flows/Aux step order
	InitialOrd []string // Initials step order (stocks included)
	Units      map[string]units.Map
	Errors     errors.List
}

// Stage runs C6 over one model within proj. isRoot controls whether
// root-anchored ("."-prefixed) references are permitted.
func Stage(proj *datamodel.Project, m *datamodel.Model, unitCtx *units.Context, isRoot bool) *Staged {
	s := &Staged{Name: common.Canonical(m.Name), ByName: map[string]*variable.Staged{}, Units: map[string]units.Map{}}

	// Stage0: flatten synthesized stateful-builtin variables into the
	// canonical variable table alongside the model's own.
	seq := 0
	queue := make([]*datamodel.Variable, len(m.Variables))
	for i := range m.Variables {
		queue[i] = &m.Variables[i]
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		staged, serrs := variable.Build(v, &seq)
		s.Errors = append(s.Errors, serrs...)
		if _, dup := s.ByName[staged.Name]; dup {
			s.Errors = append(s.Errors, errors.NewVar(errors.DuplicateVariable, staged.Name, errors.Loc{}, ""))
			continue
		}
		s.Variables = append(s.Variables, staged)
		s.ByName[staged.Name] = staged
		for i := range staged.Synthesized {
			queue = append(queue, &staged.Synthesized[i])
		}
	}

	// Stage0, module instances: resolve the referenced model exists and
	// every input destination names a real variable in it.
	for _, v := range s.Variables {
		if v.Kind != datamodel.KindModule {
			continue
		}
		target := findModel(proj, v.Raw.ModelName)
		if target == nil {
			s.Errors = append(s.Errors, errors.NewVar(errors.DoesNotExist, v.Name, errors.Loc{}, v.Raw.ModelName))
			continue
		}
		targetNames := map[string]bool{}
		for _, tv := range target.Variables {
			targetNames[common.Canonical(tv.Name)] = true
		}
		for _, in := range v.Raw.Inputs {
			if !targetNames[common.Canonical(in.Dst)] {
				s.Errors = append(s.Errors, errors.NewVar(errors.BadModuleInputDst, v.Name, errors.Loc{}, in.Dst))
			}
		}
	}

	// Stage1: dependency graph and checks.
	s.Graph = depgraph.Build(s.Variables)
	s.Errors = append(s.Errors, s.Graph.CheckUnknownDependencies()...)
	s.Errors = append(s.Errors, s.Graph.CheckNoAbsoluteReferences(isRoot)...)
	s.Errors = append(s.Errors, s.Graph.CheckCycles()...)

	// Resolve declared units, then infer what's left with best effort.
	declared := map[string]units.Map{}
	equations := map[string]ast.Expr2{}
	for _, v := range s.Variables {
		if v.DeclaredUnit != "" {
			if m, err := units.Parse(v.DeclaredUnit, unitCtx); err == nil {
				s.Units[v.Name] = m
				declared[v.Name] = m
			} else if e, ok := err.(*errors.Error); ok {
				e.Ident = v.Name
				s.Errors = append(s.Errors, e)
			}
		}
		var raw ast.Expr1
		switch v.Kind {
		case datamodel.KindStock:
			raw = v.Initial1
		default:
			raw = v.Equation1
		}
		if raw != nil {
			equations[v.Name] = ast.Lower2(raw)
		}
	}
	unitcheck.Infer(equations, s.Units)

	// Bottom-up unit consistency check (spec §4.8's "Checking" half):
	// walk each variable's equation against its own declared/inferred
	// units plus the context, flagging +/-/mod operand mismatches, `if`
	// branch mismatches, and dimensionless-arg builtin violations. A
	// variable with a declared unit additionally has its equation's
	// computed root units compared against that declaration.
	resolver := &unitsResolver{vars: s.Units, ctx: unitCtx}
	for _, v := range s.Variables {
		e, ok := equations[v.Name]
		if !ok {
			continue
		}
		root, rok, uerrs := unitcheck.Check(e, v.Name, resolver)
		// A bare numeric root (no var/builtin contributing a unit) is
		// the "Constant" case spec §4.8 calls polymorphic — compatible
		// with any declared unit — so only compare when the equation
		// actually computed a non-trivial unit of its own.
		if want, hasDeclared := declared[v.Name]; hasDeclared && rok && !root.Empty() && !root.Equal(want) {
			uerrs = append(uerrs, errors.NewVar(errors.UnitMismatch, v.Name, errors.Loc{}, "equation units do not match declared units"))
		}
		if len(uerrs) > 0 {
			v.Errors = append(v.Errors, uerrs...)
			s.Errors = append(s.Errors, uerrs...)
		}
	}

	// Stock-flow invariant (spec §4.8): every stock's units U and every
	// attached inflow/outflow's units V must satisfy V == U / time_units.
	if proj.SimSpecs.TimeUnits != "" {
		if timeUnits, err := units.Parse(proj.SimSpecs.TimeUnits, unitCtx); err == nil {
			for _, v := range s.Variables {
				if v.Kind != datamodel.KindStock {
					continue
				}
				stockUnits, ok := s.Units[v.Name]
				if !ok {
					continue
				}
				want := stockUnits.Div(timeUnits)
				var flows []string
				flows = append(flows, v.Raw.Inflows...)
				flows = append(flows, v.Raw.Outflows...)
				for _, fname := range flows {
					fident := common.Canonical(fname)
					flowUnits, ok := s.Units[fident]
					if !ok || flowUnits.Equal(want) {
						continue
					}
					s.Errors = append(s.Errors, errors.NewVar(errors.UnitMismatch, fident, errors.Loc{}, "flow units must equal stock units / time_units"))
				}
			}
		}
	}

	var names []string
	for _, v := range s.Variables {
		names = append(names, v.Name)
	}
	if order, err := s.Graph.TopoSort(names); err == nil {
		for _, n := range order {
			if s.ByName[n].Kind != datamodel.KindStock {
				s.Schedule = append(s.Schedule, n)
			}
		}
	} else {
		s.Errors = append(s.Errors, err.(*errors.Error))
	}
	if order, err := s.Graph.TopoSortInitial(names); err == nil {
		s.InitialOrd = order
	} else {
		s.Errors = append(s.Errors, err.(*errors.Error))
	}

	return s
}

// unitsResolver adapts a model's resolved units map to unitcheck.Resolver,
// falling back to the project's unit context for a bare identifier that
// names a declared unit directly rather than a variable (the common SD
// idiom of dividing by a named time-conversion unit, e.g. `s / year`).
type unitsResolver struct {
	vars map[string]units.Map
	ctx  *units.Context
}

func (r *unitsResolver) VarUnits(ident string) (units.Map, bool) {
	if m, ok := r.vars[ident]; ok {
		return m, ok
	}
	if r.ctx != nil {
		if m, ok := r.ctx.Lookup(ident); ok {
			return m, ok
		}
	}
	return units.Map{}, false
}

func findModel(proj *datamodel.Project, name string) *datamodel.Model {
	name = common.Canonical(name)
	for i := range proj.Models {
		if common.Canonical(proj.Models[i].Name) == name {
			return &proj.Models[i]
		}
	}
	return nil
}

// StageProject stages every model in a project, root model first so its
// absolute-reference check runs with isRoot=true and every other model
// runs with isRoot=false.
func StageProject(proj *datamodel.Project) (map[string]*Staged, errors.List) {
	var errs errors.List
	unitCtx, uerrs := units.NewContext(declsFromProject(proj))
	errs = append(errs, uerrs...)

	out := map[string]*Staged{}
	for i, m := range proj.Models {
		isRoot := i == 0
		staged := Stage(proj, &proj.Models[i], unitCtx, isRoot)
		errs = append(errs, staged.Errors...)
		out[common.Canonical(m.Name)] = staged
	}
	return out, errs
}

func declsFromProject(proj *datamodel.Project) []units.Decl {
	var decls []units.Decl
	for _, u := range proj.Units {
		decls = append(decls, units.Decl{Name: u.Name, Aliases: u.Aliases, Equation: u.Equation})
	}
	return decls
}
