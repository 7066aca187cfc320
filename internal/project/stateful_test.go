package project

import (
	"math"
	"testing"

	"sdyn/internal/datamodel"
)

// smooth1 should synthesize an exponential-smoothing stock that, starting
// from the input's own value, relaxes toward a new constant input.
func TestStatefulBuiltinSmooth1Synthesis(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 20, DT: 0.25},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{
						Kind:         datamodel.KindAux,
						Name:         "raw",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "10"},
					},
					{
						Kind:         datamodel.KindAux,
						Name:         "smoothed",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "smooth1(raw, 5, 0)"},
					},
				},
			},
		},
	}

	sim, errs := NewSim(proj, "main", false)
	if len(errs) > 0 {
		t.Fatalf("NewSim: %v", errs)
	}
	if errs := sim.RunInitials(); len(errs) > 0 {
		t.Fatalf("RunInitials: %v", errs)
	}
	v0, ok := sim.GetValue("smoothed")
	if !ok {
		t.Fatal(`GetValue("smoothed"): not found`)
	}
	if math.Abs(v0-0) > 1e-9 {
		t.Fatalf("smoothed initial = %v, want 0 (the declared initial arg)", v0)
	}

	if errs := sim.RunToEnd(); len(errs) > 0 {
		t.Fatalf("RunToEnd: %v", errs)
	}
	series, ok := sim.GetSeries("smoothed")
	if !ok {
		t.Fatal(`GetSeries("smoothed"): not found`)
	}
	last := series[len(series)-1]
	if math.Abs(last-10) > 0.5 {
		t.Errorf("smoothed should relax toward the raw input of 10 over 20 time units of a 5-unit smoothing delay, got %v", last)
	}
	// monotonically increasing toward the target, since it starts below it.
	for i := 1; i < len(series); i++ {
		if series[i] < series[i-1]-1e-9 {
			t.Errorf("smoothed series should be non-decreasing while below target, series[%d]=%v < series[%d]=%v", i, series[i], i-1, series[i-1])
		}
	}
}
