package model

import (
	"testing"

	"sdyn/internal/datamodel"
	"sdyn/internal/units"
)

func simpleStockFlowProject() *datamodel.Project {
	return &datamodel.Project{
		Name:     "test",
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 10, DT: 0.25},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{
						Kind:     datamodel.KindStock,
						Name:     "population",
						Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "100"},
						Inflows:  []string{"births"},
						Outflows: []string{"deaths"},
					},
					{
						Kind:         datamodel.KindFlow,
						Name:         "births",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "population * birth_rate"},
					},
					{
						Kind:         datamodel.KindFlow,
						Name:         "deaths",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "population * death_rate"},
					},
					{
						Kind:         datamodel.KindAux,
						Name:         "birth_rate",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "0.02"},
					},
					{
						Kind:         datamodel.KindAux,
						Name:         "death_rate",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "0.01"},
					},
				},
			},
		},
	}
}

func TestStageProjectSchedulesFlowsAfterTheirAuxDeps(t *testing.T) {
	proj := simpleStockFlowProject()
	staged, errs := StageProject(proj)
	if len(errs) > 0 {
		t.Fatalf("StageProject: %v", errs)
	}
	main := staged["main"]
	if main == nil {
		t.Fatal("StageProject: no \"main\" entry")
	}
	pos := map[string]int{}
	for i, n := range main.Schedule {
		pos[n] = i
	}
	if pos["birth_rate"] > pos["births"] {
		t.Errorf("schedule = %v, want birth_rate before births", main.Schedule)
	}
	if pos["death_rate"] > pos["deaths"] {
		t.Errorf("schedule = %v, want death_rate before deaths", main.Schedule)
	}
	if _, ok := pos["population"]; ok {
		t.Errorf("schedule should not include the stock itself: %v", main.Schedule)
	}
}

func TestStageProjectInitialOrdIncludesStocks(t *testing.T) {
	proj := simpleStockFlowProject()
	staged, errs := StageProject(proj)
	if len(errs) > 0 {
		t.Fatalf("StageProject: %v", errs)
	}
	main := staged["main"]
	found := false
	for _, n := range main.InitialOrd {
		if n == "population" {
			found = true
		}
	}
	if !found {
		t.Errorf("InitialOrd = %v, want population included", main.InitialOrd)
	}
}

func TestStageProjectUnknownDependencyError(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 1, DT: 1},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{
						Kind:         datamodel.KindAux,
						Name:         "a",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "nonexistent_var"},
					},
				},
			},
		},
	}
	_, errs := StageProject(proj)
	if len(errs) == 0 {
		t.Fatal("StageProject with an unknown dependency: expected an error, got none")
	}
}

func TestStageProjectCycleError(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 1, DT: 1},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{Kind: datamodel.KindAux, Name: "a", FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "b"}},
					{Kind: datamodel.KindAux, Name: "b", FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "a"}},
				},
			},
		},
	}
	_, errs := StageProject(proj)
	if len(errs) == 0 {
		t.Fatal("StageProject over a cyclic aux pair: expected an error, got none")
	}
}

func TestStageProjectMissingModuleTargetError(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 1, DT: 1},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{Kind: datamodel.KindModule, Name: "sector", ModelName: "does_not_exist"},
				},
			},
		},
	}
	_, errs := StageProject(proj)
	if len(errs) == 0 {
		t.Fatal("StageProject referencing a missing module model: expected an error, got none")
	}
}

func TestStageProjectBadModuleInputDstError(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 1, DT: 1},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{
						Kind:      datamodel.KindModule,
						Name:      "sector",
						ModelName: "sub",
						Inputs:    []datamodel.ModuleInput{{Dst: "not_a_real_input", Src: "1"}},
					},
				},
			},
			{
				Name: "sub",
				Variables: []datamodel.Variable{
					{Kind: datamodel.KindAux, Name: "real_input", FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "1"}},
				},
			},
		},
	}
	_, errs := StageProject(proj)
	if len(errs) == 0 {
		t.Fatal("StageProject with a module input naming a nonexistent dst: expected an error, got none")
	}
}

func TestStageProjectRootAbsoluteReferenceAllowedElsewhereRejected(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 1, DT: 1},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{Kind: datamodel.KindAux, Name: "a", FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "1"}},
				},
			},
			{
				Name: "sub",
				Variables: []datamodel.Variable{
					{Kind: datamodel.KindAux, Name: "b", FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: ".a"}},
				},
			},
		},
	}
	_, errs := StageProject(proj)
	if len(errs) == 0 {
		t.Fatal("StageProject: non-root model with an absolute reference should error")
	}
}

func TestStageResolvesDeclaredUnits(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 1, DT: 1},
		Units: []datamodel.UnitDecl{
			{Name: "Widgets"},
		},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{Kind: datamodel.KindAux, Name: "a", Unit: "Widgets", FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "1"}},
				},
			},
		},
	}
	staged, errs := StageProject(proj)
	if len(errs) > 0 {
		t.Fatalf("StageProject: %v", errs)
	}
	m, ok := staged["main"].Units["a"]
	if !ok {
		t.Fatal("Units[\"a\"] not resolved")
	}
	if !m.Equal(units.Map{"widgets": 1}) {
		t.Fatalf("Units[\"a\"] = %v, want widgets", m)
	}
}

func TestStageInfersUndeclaredUnits(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 1, DT: 1},
		Units:    []datamodel.UnitDecl{{Name: "Widgets"}},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{Kind: datamodel.KindAux, Name: "a", Unit: "Widgets", FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "1"}},
					{Kind: datamodel.KindAux, Name: "b", FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "a"}},
				},
			},
		},
	}
	staged, errs := StageProject(proj)
	if len(errs) > 0 {
		t.Fatalf("StageProject: %v", errs)
	}
	m, ok := staged["main"].Units["b"]
	if !ok {
		t.Fatal("Units[\"b\"] should have been inferred from a's units")
	}
	if !m.Equal(units.Map{"widgets": 1}) {
		t.Fatalf("Units[\"b\"] = %v, want widgets", m)
	}
}
