package main

import (
	"fmt"

	"sdyn/internal/datamodel"
	"sdyn/internal/patch"
)

// cliPatchOp is the on-disk shape of one entry in a `sdyn patch` patch
// file: a small JSON object naming which kind of patch.Op it is plus
// the fields that op needs. This is deliberately thinner than a full
// format adapter (spec's Non-goals exclude deep CLI plumbing) — it
// exists only so the patch subcommand has something concrete to parse.
type cliPatchOp struct {
	Kind      string             `json:"kind"`
	ModelName string             `json:"model_name,omitempty"`
	Variable  *datamodel.Variable `json:"variable,omitempty"`
	Ident     string             `json:"ident,omitempty"`
	From      string             `json:"from,omitempty"`
	To        string             `json:"to,omitempty"`

	Start    *float64 `json:"start,omitempty"`
	Stop     *float64 `json:"stop,omitempty"`
	DT       *float64 `json:"dt,omitempty"`
	SaveStep *float64 `json:"save_step,omitempty"`

	Source *string `json:"source,omitempty"`
	Clear  bool    `json:"clear,omitempty"`
}

func (r cliPatchOp) toOp() (patch.Op, error) {
	switch r.Kind {
	case "upsert_stock":
		if r.Variable == nil {
			return patch.Op{}, fmt.Errorf("upsert_stock requires a variable")
		}
		return patch.Op{UpsertStock: &patch.UpsertVariableOp{ModelName: r.ModelName, Variable: *r.Variable}}, nil
	case "upsert_flow":
		if r.Variable == nil {
			return patch.Op{}, fmt.Errorf("upsert_flow requires a variable")
		}
		return patch.Op{UpsertFlow: &patch.UpsertVariableOp{ModelName: r.ModelName, Variable: *r.Variable}}, nil
	case "upsert_aux":
		if r.Variable == nil {
			return patch.Op{}, fmt.Errorf("upsert_aux requires a variable")
		}
		return patch.Op{UpsertAux: &patch.UpsertVariableOp{ModelName: r.ModelName, Variable: *r.Variable}}, nil
	case "upsert_module":
		if r.Variable == nil {
			return patch.Op{}, fmt.Errorf("upsert_module requires a variable")
		}
		return patch.Op{UpsertModule: &patch.UpsertVariableOp{ModelName: r.ModelName, Variable: *r.Variable}}, nil
	case "delete_variable":
		return patch.Op{DeleteVariable: &patch.DeleteVariableOp{ModelName: r.ModelName, Ident: r.Ident}}, nil
	case "rename_variable":
		return patch.Op{RenameVariable: &patch.RenameVariableOp{ModelName: r.ModelName, From: r.From, To: r.To}}, nil
	case "set_sim_specs":
		return patch.Op{SetSimSpecs: &patch.SetSimSpecsOp{Start: r.Start, Stop: r.Stop, DT: r.DT, SaveStep: r.SaveStep}}, nil
	case "set_source":
		return patch.Op{SetSource: &patch.SetSourceOp{Source: r.Source, Clear: r.Clear}}, nil
	default:
		return patch.Op{}, fmt.Errorf("unknown patch op kind %q", r.Kind)
	}
}
