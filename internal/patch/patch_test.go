package patch

import (
	"testing"

	"sdyn/internal/datamodel"
)

func stockFlowProject() *datamodel.Project {
	return &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 10, DT: 1},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{
						Kind:     datamodel.KindStock,
						Name:     "s",
						Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "100"},
						Inflows:  []string{"f"},
					},
					{
						Kind:         datamodel.KindFlow,
						Name:         "f",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "1"},
					},
				},
			},
		},
	}
}

func TestRenameVariablePropagatesToStockFlowLists(t *testing.T) {
	proj := stockFlowProject()
	res := Apply(proj, []Op{
		{RenameVariable: &RenameVariableOp{ModelName: "main", From: "f", To: "inflow_renamed"}},
	}, false, false)
	if !res.Committed {
		t.Fatalf("rename did not commit: %v", res.Errors)
	}
	m := proj.Models[0]
	var stock *datamodel.Variable
	for i := range m.Variables {
		if m.Variables[i].Name == "s" {
			stock = &m.Variables[i]
		}
	}
	if stock == nil {
		t.Fatal("stock s not found after rename")
	}
	if len(stock.Inflows) != 1 || stock.Inflows[0] != "inflow_renamed" {
		t.Fatalf("stock inflows after rename = %v, want [inflow_renamed]", stock.Inflows)
	}
}

func TestRenameVariableRejectsDuplicateTarget(t *testing.T) {
	proj := stockFlowProject()
	res := Apply(proj, []Op{
		{RenameVariable: &RenameVariableOp{ModelName: "main", From: "f", To: "s"}},
	}, false, false)
	if res.Committed {
		t.Fatal("rename onto an existing name should not commit")
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected a DuplicateVariable error")
	}
}

func TestDeleteVariableStripsStockFlowReference(t *testing.T) {
	proj := stockFlowProject()
	res := Apply(proj, []Op{
		{DeleteVariable: &DeleteVariableOp{ModelName: "main", Ident: "f"}},
	}, false, true)
	if !res.Committed {
		t.Fatalf("delete did not commit: %v", res.Errors)
	}
	m := proj.Models[0]
	for _, v := range m.Variables {
		if v.Kind == datamodel.KindStock && v.Name == "s" {
			if len(v.Inflows) != 0 {
				t.Fatalf("stock inflows after deleting its only inflow = %v, want empty", v.Inflows)
			}
		}
		if v.Name == "f" {
			t.Fatal("deleted variable f still present")
		}
	}
}

func TestApplyDryRunNeverCommits(t *testing.T) {
	proj := stockFlowProject()
	before := len(proj.Models[0].Variables)
	res := Apply(proj, []Op{
		{UpsertAux: &UpsertVariableOp{ModelName: "main", Variable: datamodel.Variable{
			Kind: datamodel.KindAux, Name: "new_aux",
			FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "1"},
		}}},
	}, true, false)
	if res.Committed {
		t.Fatal("dry_run patch should never commit")
	}
	if len(proj.Models[0].Variables) != before {
		t.Fatalf("dry_run patch mutated the project: %d variables, want %d", len(proj.Models[0].Variables), before)
	}
}

func TestApplyUnknownModelNameErrors(t *testing.T) {
	proj := stockFlowProject()
	res := Apply(proj, []Op{
		{DeleteVariable: &DeleteVariableOp{ModelName: "does_not_exist", Ident: "f"}},
	}, false, false)
	if res.Committed {
		t.Fatal("patch referencing an unknown model should not commit")
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected a DoesNotExist error for the unknown model")
	}
}
