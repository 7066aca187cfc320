// Package patch implements C11: applying a structured, ordered list of
// mutations to a project's data model against a staged copy, gated by
// an atomic commit-or-discard error check (spec §4.11).
package patch

import (
	"sort"

	"github.com/google/uuid"

	"sdyn/internal/common"
	"sdyn/internal/datamodel"
	"sdyn/internal/errors"
	"sdyn/internal/model"
)

// Op is one patch operation. Exactly one of the fields (matching the
// constructor used) should be populated; Apply switches on which.
type Op struct {
	SetSimSpecs     *SetSimSpecsOp
	UpsertStock     *UpsertVariableOp
	UpsertFlow      *UpsertVariableOp
	UpsertAux       *UpsertVariableOp
	UpsertModule    *UpsertVariableOp
	DeleteVariable  *DeleteVariableOp
	RenameVariable  *RenameVariableOp
	UpsertView      *UpsertViewOp
	DeleteView      *DeleteViewOp
	SetSource       *SetSourceOp
}

type SetSimSpecsOp struct {
	Start, Stop, DT, SaveStep *float64
	ClearSaveStep             bool
	Method                    *datamodel.IntegrationMethod
	TimeUnits                 *string
	ClearTimeUnits            bool
}

// UpsertVariableOp inserts or replaces one variable by canonical ident
// within ModelName; Variable.Kind must match the op (UpsertStock ops
// carry a KindStock variable, and so on) — Apply does not re-check this
// since the caller constructs the op from a typed helper.
type UpsertVariableOp struct {
	ModelName string
	Variable  datamodel.Variable
}

type DeleteVariableOp struct {
	ModelName string
	Ident     string
}

type RenameVariableOp struct {
	ModelName  string
	From, To   string
}

type UpsertViewOp struct {
	ModelName   string
	Index       int
	View        datamodel.View
	AllowAppend bool
}

type DeleteViewOp struct {
	ModelName string
	Index     int
}

type SetSourceOp struct {
	Source *string
	Clear  bool
}

// OpResult records one operation's outcome within a patch, per the
// audit trail the original engine keeps (patch.rs's per-op result).
type OpResult struct {
	Index   int
	Applied bool
	Error   *errors.Error
}

// Result is what ApplyPatch returns: whether the patch committed, the
// per-op outcomes, and the full static-analysis error list gathered
// from rebuilding the staged copy.
type Result struct {
	PatchID   string
	Committed bool
	AppliedOps []OpResult
	Errors    errors.List
}

// Apply stages a copy of proj, applies every op in order, rebuilds and
// checks the staged copy, and — unless dryRun or a gating error without
// allowErrors is found — commits by replacing *proj. The caller always
// gets back the full error list regardless of whether it committed.
func Apply(proj *datamodel.Project, ops []Op, dryRun, allowErrors bool) Result {
	res := Result{PatchID: uuid.NewString()}
	staged := cloneProject(proj)

	preWarnings := map[string]bool{}
	for name, warns := range unitWarningsByModel(proj) {
		preWarnings[name] = warns
	}

	var opErrs errors.List
	for i, op := range ops {
		err := applyOne(staged, op)
		or := OpResult{Index: i, Applied: err == nil}
		if err != nil {
			or.Error = err
			opErrs = append(opErrs, err)
		}
		res.AppliedOps = append(res.AppliedOps, or)
	}
	res.Errors = append(res.Errors, opErrs...)

	gating := len(opErrs) > 0
	if len(opErrs) == 0 {
		_, staticErrs := model.StageProject(staged)
		res.Errors = append(res.Errors, staticErrs...)
		unitErrs := newUnitWarnings(staged, preWarnings)
		res.Errors = append(res.Errors, unitErrs...)
		// unit mismatches gate only through newUnitWarnings, so a model
		// that already had unit warnings stays patchable
		for _, e := range staticErrs {
			if e.Code != errors.UnitMismatch {
				gating = true
			}
		}
		if len(unitErrs) > 0 {
			gating = true
		}
	}
	if dryRun {
		return res
	}
	if gating && !allowErrors {
		res.Committed = false
		return res
	}
	*proj = *staged
	res.Committed = true
	return res
}

// newUnitWarnings reports a UnitMismatch for any model whose staged
// rebuild now has a unit mismatch it didn't have before the patch
// (spec §4.11 rule 4: a patch may not introduce new unit warnings in a
// previously clean model).
func newUnitWarnings(staged *datamodel.Project, pre map[string]bool) errors.List {
	var errs errors.List
	post, _ := model.StageProject(staged)
	for name, st := range post {
		hadBefore := pre[name]
		hasNow := false
		for _, e := range st.Errors {
			if e.Code == errors.UnitMismatch {
				hasNow = true
				break
			}
		}
		if hasNow && !hadBefore {
			errs = append(errs, errors.New(errors.KindUnits, errors.UnitMismatch, "model "+name+" has new unit warnings introduced by this patch"))
		}
	}
	return errs
}

func unitWarningsByModel(proj *datamodel.Project) map[string]bool {
	out := map[string]bool{}
	staged, _ := model.StageProject(proj)
	for name, st := range staged {
		for _, e := range st.Errors {
			if e.Code == errors.UnitMismatch {
				out[name] = true
				break
			}
		}
	}
	return out
}

func applyOne(proj *datamodel.Project, op Op) *errors.Error {
	switch {
	case op.SetSimSpecs != nil:
		applySetSimSpecs(proj, op.SetSimSpecs)
		return nil
	case op.UpsertStock != nil:
		return applyUpsert(proj, op.UpsertStock, canonicalizeStock)
	case op.UpsertFlow != nil:
		return applyUpsert(proj, op.UpsertFlow, canonicalizeFlow)
	case op.UpsertAux != nil:
		return applyUpsert(proj, op.UpsertAux, canonicalizeFlow)
	case op.UpsertModule != nil:
		return applyUpsert(proj, op.UpsertModule, canonicalizeFlow)
	case op.DeleteVariable != nil:
		return applyDeleteVariable(proj, op.DeleteVariable)
	case op.RenameVariable != nil:
		return applyRenameVariable(proj, op.RenameVariable)
	case op.UpsertView != nil:
		return applyUpsertView(proj, op.UpsertView)
	case op.DeleteView != nil:
		return applyDeleteView(proj, op.DeleteView)
	case op.SetSource != nil:
		applySetSource(proj, op.SetSource)
		return nil
	default:
		return errors.New(errors.KindModel, errors.Generic, "empty patch operation")
	}
}

func applySetSimSpecs(proj *datamodel.Project, op *SetSimSpecsOp) {
	s := &proj.SimSpecs
	if op.Start != nil {
		s.Start = *op.Start
	}
	if op.Stop != nil {
		s.Stop = *op.Stop
	}
	if op.DT != nil {
		s.DT = *op.DT
	}
	if op.ClearSaveStep {
		s.SaveStep = 0
	} else if op.SaveStep != nil {
		s.SaveStep = *op.SaveStep
	}
	if op.Method != nil {
		s.Method = *op.Method
	}
	if op.ClearTimeUnits {
		s.TimeUnits = ""
	} else if op.TimeUnits != nil {
		s.TimeUnits = *op.TimeUnits
	}
}

func applyUpsert(proj *datamodel.Project, op *UpsertVariableOp, canon func(*datamodel.Variable)) *errors.Error {
	m := findModel(proj, op.ModelName)
	if m == nil {
		return errors.New(errors.KindModel, errors.DoesNotExist, op.ModelName)
	}
	v := op.Variable
	v.Name = common.Canonical(v.Name)
	canon(&v)
	upsertVariable(m, v)
	return nil
}

func canonicalizeStock(v *datamodel.Variable) {
	for i, in := range v.Inflows {
		v.Inflows[i] = common.Canonical(in)
	}
	for i, out := range v.Outflows {
		v.Outflows[i] = common.Canonical(out)
	}
	sort.Strings(v.Inflows)
	sort.Strings(v.Outflows)
}

func canonicalizeFlow(v *datamodel.Variable) {}

func upsertVariable(m *datamodel.Model, v datamodel.Variable) {
	for i, existing := range m.Variables {
		if common.Canonical(existing.Name) == v.Name {
			m.Variables[i] = v
			return
		}
	}
	m.Variables = append(m.Variables, v)
}

func applyDeleteVariable(proj *datamodel.Project, op *DeleteVariableOp) *errors.Error {
	m := findModel(proj, op.ModelName)
	if m == nil {
		return errors.New(errors.KindModel, errors.DoesNotExist, op.ModelName)
	}
	ident := common.Canonical(op.Ident)
	idx := -1
	for i, v := range m.Variables {
		if common.Canonical(v.Name) == ident {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.NewVar(errors.DoesNotExist, ident, errors.Loc{}, "")
	}
	removed := m.Variables[idx]
	m.Variables = append(m.Variables[:idx], m.Variables[idx+1:]...)
	if removed.Kind == datamodel.KindFlow {
		for i := range m.Variables {
			stripFlowRef(&m.Variables[i], ident)
		}
	}
	return nil
}

func stripFlowRef(v *datamodel.Variable, ident string) {
	if v.Kind != datamodel.KindStock {
		return
	}
	v.Inflows = removeIdent(v.Inflows, ident)
	v.Outflows = removeIdent(v.Outflows, ident)
}

func removeIdent(list []string, ident string) []string {
	out := list[:0]
	for _, n := range list {
		if common.Canonical(n) != ident {
			out = append(out, n)
		}
	}
	return out
}

func applyRenameVariable(proj *datamodel.Project, op *RenameVariableOp) *errors.Error {
	m := findModel(proj, op.ModelName)
	if m == nil {
		return errors.New(errors.KindModel, errors.DoesNotExist, op.ModelName)
	}
	from := common.Canonical(op.From)
	to := common.Canonical(op.To)
	if from == to {
		return nil
	}
	for _, v := range m.Variables {
		if common.Canonical(v.Name) == to {
			return errors.NewVar(errors.DuplicateVariable, to, errors.Loc{}, "")
		}
	}
	idx := -1
	for i, v := range m.Variables {
		if common.Canonical(v.Name) == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.NewVar(errors.DoesNotExist, from, errors.Loc{}, "")
	}
	isFlow := m.Variables[idx].Kind == datamodel.KindFlow
	m.Variables[idx].Name = to

	if isFlow {
		for i := range m.Variables {
			renameFlowRef(&m.Variables[i], from, to)
		}
	}
	return nil
}

func renameFlowRef(v *datamodel.Variable, from, to string) {
	if v.Kind != datamodel.KindStock {
		return
	}
	for i, n := range v.Inflows {
		if common.Canonical(n) == from {
			v.Inflows[i] = to
		}
	}
	for i, n := range v.Outflows {
		if common.Canonical(n) == from {
			v.Outflows[i] = to
		}
	}
}

func applyUpsertView(proj *datamodel.Project, op *UpsertViewOp) *errors.Error {
	m := findModel(proj, op.ModelName)
	if m == nil {
		return errors.New(errors.KindModel, errors.DoesNotExist, op.ModelName)
	}
	switch {
	case op.Index < len(m.Views):
		m.Views[op.Index] = op.View
		return nil
	case op.Index == len(m.Views):
		if !op.AllowAppend {
			return errors.New(errors.KindModel, errors.DoesNotExist, "view index out of range")
		}
		m.Views = append(m.Views, op.View)
		return nil
	default:
		return errors.New(errors.KindModel, errors.DoesNotExist, "view index out of range")
	}
}

func applyDeleteView(proj *datamodel.Project, op *DeleteViewOp) *errors.Error {
	m := findModel(proj, op.ModelName)
	if m == nil {
		return errors.New(errors.KindModel, errors.DoesNotExist, op.ModelName)
	}
	if op.Index < 0 || op.Index >= len(m.Views) {
		return errors.New(errors.KindModel, errors.DoesNotExist, "view index out of range")
	}
	m.Views = append(m.Views[:op.Index], m.Views[op.Index+1:]...)
	return nil
}

func applySetSource(proj *datamodel.Project, op *SetSourceOp) {
	if op.Clear {
		proj.Source = nil
		return
	}
	proj.Source = op.Source
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

func cloneProject(proj *datamodel.Project) *datamodel.Project {
	out := *proj
	out.Dimensions = append([]datamodel.Dimension{}, proj.Dimensions...)
	out.Units = append([]datamodel.UnitDecl{}, proj.Units...)
	out.Models = make([]datamodel.Model, len(proj.Models))
	for i, m := range proj.Models {
		out.Models[i] = cloneModel(m)
	}
	if proj.Source != nil {
		s := *proj.Source
		out.Source = &s
	}
	return &out
}

func cloneModel(m datamodel.Model) datamodel.Model {
	out := m
	out.Variables = make([]datamodel.Variable, len(m.Variables))
	for i, v := range m.Variables {
		out.Variables[i] = cloneVariable(v)
	}
	out.Views = append([]datamodel.View{}, m.Views...)
	return out
}

func cloneVariable(v datamodel.Variable) datamodel.Variable {
	out := v
	out.Inflows = append([]string{}, v.Inflows...)
	out.Outflows = append([]string{}, v.Outflows...)
	out.Inputs = append([]datamodel.ModuleInput{}, v.Inputs...)
	return out
}
