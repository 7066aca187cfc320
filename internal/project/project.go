// Package project implements C12: the facade that ties every other
// stage together into the operations spec §6.2 exposes to a host
// (the `sdyn` CLI, or any other embedder) — opening a project from its
// on-disk format, validating and staging it, applying patches, and
// handing out a runnable Sim.
package project

import (
	"fmt"
	"math"

	"sdyn/internal/ast"
	"sdyn/internal/bytecode"
	"sdyn/internal/common"
	"sdyn/internal/compiler"
	"sdyn/internal/datamodel"
	"sdyn/internal/errors"
	"sdyn/internal/model"
	"sdyn/internal/patch"
	"sdyn/internal/vm"
)

// Open decodes data, encoded in the named format, into a Project. "json"
// (or "", defaulting to it) is the one format this core ships an
// adapter for; see jsonformat.go.
func Open(format string, data []byte) (*datamodel.Project, errors.List) {
	switch format {
	case "", "json":
		return openJSON(data)
	default:
		return nil, errors.List{errors.New(errors.KindProject, errors.Generic, fmt.Sprintf("unsupported project format %q", format))}
	}
}

// Validate checks project-wide invariants that don't belong to any one
// model's staging pass: every module reference resolves, and the
// simulation specs are well-formed (spec §3.2, §5).
func Validate(proj *datamodel.Project) errors.List {
	var errs errors.List

	if len(proj.Models) == 0 {
		errs = append(errs, errors.New(errors.KindProject, errors.DoesNotExist, "project has no models"))
		return errs
	}
	if findModel(proj, "main") == nil {
		errs = append(errs, errors.New(errors.KindProject, errors.DoesNotExist, "project has no model named \"main\""))
	}

	for _, m := range proj.Models {
		for _, v := range m.Variables {
			if v.Kind != datamodel.KindModule {
				continue
			}
			if findModel(proj, v.ModelName) == nil {
				errs = append(errs, errors.NewVar(errors.DoesNotExist, v.Name, errors.Loc{}, v.ModelName))
			}
		}
	}

	ss := proj.SimSpecs
	if ss.DT <= 0 {
		errs = append(errs, errors.New(errors.KindProject, errors.BadSimSpecs, "dt must be positive"))
	}
	if ss.Stop <= ss.Start {
		errs = append(errs, errors.New(errors.KindProject, errors.BadSimSpecs, "stop must be greater than start"))
	}
	if ss.SaveStep != 0 && ss.DT > 0 {
		ratio := ss.SaveStep / ss.DT
		nearest := math.Round(ratio)
		if nearest < 1 || math.Abs(ratio-nearest) > 1e-6*math.Max(1, nearest) {
			errs = append(errs, errors.New(errors.KindProject, errors.BadSimSpecs, "save_step must be a positive multiple of dt"))
		}
	}
	return errs
}

// IsSimulatable reports whether modelName stages and compiles without
// any gating error (spec §6.2).
func IsSimulatable(proj *datamodel.Project, modelName string) bool {
	if len(Validate(proj)) > 0 {
		return false
	}
	staged, errs := model.StageProject(proj)
	if len(errs) > 0 {
		return false
	}
	cs, cerrs := compiler.Compile(proj, staged, modelName)
	return cs != nil && cs.Root() != nil && len(cerrs) == 0
}

// ApplyPatch is a pass-through to internal/patch's atomic apply gate
// (spec §5's Apply), exposed here so a host never has to import
// internal/patch directly.
func ApplyPatch(proj *datamodel.Project, ops []patch.Op, dryRun, allowErrors bool) patch.Result {
	return patch.Apply(proj, ops, dryRun, allowErrors)
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

// Sim is a compiled, runnable handle on one model within a project
// (C12, spec §6.2). It owns a vm.VM and the set of variables a caller
// is allowed to override.
type Sim struct {
	cs        *bytecode.CompiledSimulation
	vm        *vm.VM
	constants map[string]bool
}

// NewSim stages and compiles modelName within proj and returns a Sim
// ready to run_initials. enableLTM augments the project with Loops
// That Matter tracing variables before compiling (spec §6.2, see
// ltm.go); the returned errors.List carries staging and compile
// diagnostics even when a Sim is also returned, since a model can be
// simulatable despite e.g. unit-check warnings.
func NewSim(proj *datamodel.Project, modelName string, enableLTM bool) (*Sim, errors.List) {
	var errs errors.List
	if verrs := Validate(proj); len(verrs) > 0 {
		return nil, verrs
	}

	work := proj
	if enableLTM {
		work = AddLTM(proj, modelName)
	}

	staged, serrs := model.StageProject(work)
	errs = append(errs, serrs...)

	cs, cerrs := compiler.Compile(work, staged, modelName)
	errs = append(errs, cerrs...)
	if cs == nil || cs.Root() == nil {
		return nil, errs
	}

	return &Sim{
		cs:        cs,
		vm:        vm.New(cs),
		constants: constantSet(staged),
	}, errs
}

// constantSet collects every variable, across every staged model, whose
// equation is a bare numeric literal — the only kind of variable
// SetValue is allowed to override (spec §6.2's BadOverride rule).
func constantSet(staged map[string]*model.Staged) map[string]bool {
	out := map[string]bool{}
	for _, st := range staged {
		for _, v := range st.Variables {
			if v.Kind == datamodel.KindStock || v.Kind == datamodel.KindModule {
				continue
			}
			if _, ok := v.Equation1.(ast.NumberLit1); ok {
				out[v.Name] = true
			}
		}
	}
	return out
}

// RunInitials evaluates every stock's initial value and every
// time-zero flow/aux (spec §4.10's run_initials).
func (s *Sim) RunInitials() errors.List { return s.vm.RunInitials() }

// RunTo steps the simulation forward through t (inclusive), recording
// a row at every save point crossed.
func (s *Sim) RunTo(t float64) errors.List { return s.vm.RunTo(t) }

// RunToEnd steps the simulation to its configured stop time.
func (s *Sim) RunToEnd() errors.List { return s.vm.RunToEnd() }

// Reset rewinds the Sim to t=start with a cleared result slab, keeping
// any overrides set via SetValue.
func (s *Sim) Reset() { s.vm.Reset() }

// SetValue pins a constant-valued variable to v for the remainder of
// the run. Overriding anything else (a stock, a flow, a computed aux)
// is rejected with a BadOverride error (spec §6.2).
func (s *Sim) SetValue(name string, v float64) *errors.Error {
	key := common.Canonical(name)
	if _, rest, _ := common.SplitDotted(key); rest != "" {
		key = rest
	}
	if !s.constants[key] {
		return errors.NewVar(errors.BadOverride, name, errors.Loc{}, "not a constant-valued variable")
	}
	if !s.vm.SetValue(name, v) {
		return errors.NewVar(errors.DoesNotExist, name, errors.Loc{}, "")
	}
	return nil
}

// SetValueByOffset pins the variable at the given absolute register
// offset, bypassing the constant-only check; callers that obtained the
// offset via ResolveOffset already know what they're overriding.
func (s *Sim) SetValueByOffset(offset int, v float64) { s.vm.SetValueByOffset(offset, v) }

// ClearValues removes every override set via SetValue/SetValueByOffset.
func (s *Sim) ClearValues() { s.vm.ClearValues() }

// ResolveOffset returns the absolute register offset a dotted variable
// name resolves to, for repeated SetValueByOffset calls in a hot loop.
func (s *Sim) ResolveOffset(name string) (int, bool) { return s.vm.ResolveOffset(name) }

// GetValue returns a variable's most recently computed value.
func (s *Sim) GetValue(name string) (float64, bool) { return s.vm.GetValue(name) }

// GetSeries returns a variable's recorded time series, aligned to
// Times.
func (s *Sim) GetSeries(name string) ([]float64, bool) { return s.vm.GetSeries(name) }

// GetOffset returns the recorded-row index nearest to t.
func (s *Sim) GetOffset(t float64) int { return s.vm.GetOffset(t) }

// GetStepCount returns the number of rows recorded so far.
func (s *Sim) GetStepCount() int { return s.vm.GetStepCount() }

// Times returns the recorded rows' timestamps.
func (s *Sim) Times() []float64 { return s.vm.Times }

// SeriesNames lists every variable name with a recorded series, in
// declaration order.
func (s *Sim) SeriesNames() []string { return s.vm.SeriesNames() }
