package project

import (
	"fmt"
	"strings"

	"sdyn/internal/common"
	"sdyn/internal/datamodel"
)

// AddLTM returns a copy of proj augmented with Loops That Matter tracing
// variables: for every stock's inflow and outflow, an auxiliary giving
// that link's share of the stock's total gross flow at each instant.
// Comparing a loop's links' shares over a run is the input a host needs
// to score loop dominance; scoring itself is a presentation-layer
// concern this engine doesn't take on (spec §6.2's enable_ltm is a
// tracing toggle, not a scorer).
//
// modelName is unused beyond documenting intent: tracers are added to
// every model's stocks, since a stock inside a submodule instantiated
// by modelName is just as much part of its loop structure as one in
// the root.
func AddLTM(proj *datamodel.Project, modelName string) *datamodel.Project {
	out := cloneForLTM(proj)
	for mi := range out.Models {
		m := &out.Models[mi]
		var added []datamodel.Variable
		for _, v := range m.Variables {
			if v.Kind != datamodel.KindStock {
				continue
			}
			links := append(append([]string{}, v.Inflows...), v.Outflows...)
			if len(links) == 0 {
				continue
			}
			total := totalsExpr(links)
			for _, f := range v.Inflows {
				added = append(added, ltmLinkVar(v.Name, f, total, false))
			}
			for _, f := range v.Outflows {
				added = append(added, ltmLinkVar(v.Name, f, total, true))
			}
		}
		m.Variables = append(m.Variables, added...)
	}
	return out
}

// totalsExpr builds the sum-of-absolute-values expression over a
// stock's gross flows, the denominator every link's share is taken
// against.
func totalsExpr(links []string) string {
	parts := make([]string, len(links))
	for i, l := range links {
		parts[i] = fmt.Sprintf("abs(%s)", l)
	}
	return strings.Join(parts, " + ")
}

func ltmLinkVar(stock, flow, total string, outflow bool) datamodel.Variable {
	sign := ""
	if outflow {
		sign = "-"
	}
	name := fmt.Sprintf("ltm_%s_%s_%s", common.Canonical(stock), common.Canonical(flow), boolTag(outflow))
	return datamodel.Variable{
		Kind: datamodel.KindAux,
		Name: name,
		Doc:  fmt.Sprintf("Loops That Matter share of %s's flow through %s", stock, flow),
		FlowEquation: datamodel.Equation{
			Kind: datamodel.EqScalar,
			Expr: fmt.Sprintf("safediv(%s%s, %s, 0)", sign, flow, total),
		},
	}
}

func boolTag(outflow bool) string {
	if outflow {
		return "out"
	}
	return "in"
}

// cloneForLTM makes a shallow-per-model copy of proj deep enough that
// appending tracer variables never mutates the caller's Project.
func cloneForLTM(proj *datamodel.Project) *datamodel.Project {
	out := *proj
	out.Models = make([]datamodel.Model, len(proj.Models))
	for i, m := range proj.Models {
		out.Models[i] = m
		out.Models[i].Variables = append([]datamodel.Variable{}, m.Variables...)
	}
	return &out
}
