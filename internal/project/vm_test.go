package project

import (
	"math"
	"testing"

	"sdyn/internal/datamodel"
)

// Two runs of the same compiled simulation with the same overrides must
// produce bitwise-identical result slabs (spec §8 property 12).
func TestVMDeterministicAcrossRuns(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 10, DT: 0.5},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{
						Kind:     datamodel.KindStock,
						Name:     "p",
						Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "100"},
						Inflows:  []string{"births"},
						Outflows: []string{"deaths"},
					},
					{
						Kind:         datamodel.KindFlow,
						Name:         "births",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "p * 0.03"},
					},
					{
						Kind:         datamodel.KindFlow,
						Name:         "deaths",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "p * 0.01"},
					},
				},
			},
		},
	}

	run := func() []float64 {
		sim, errs := NewSim(proj, "main", false)
		if len(errs) > 0 {
			t.Fatalf("NewSim: %v", errs)
		}
		if errs := sim.RunInitials(); len(errs) > 0 {
			t.Fatalf("RunInitials: %v", errs)
		}
		if errs := sim.RunToEnd(); len(errs) > 0 {
			t.Fatalf("RunToEnd: %v", errs)
		}
		series, _ := sim.GetSeries("p")
		return series
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("len(a)=%d != len(b)=%d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("run mismatch at step %d: %v != %v", i, a[i], b[i])
		}
	}
}

// A non_negative-flagged stock must clamp to zero rather than go
// negative when its net outflow would overdraw it.
func TestNonNegativeStockClamps(t *testing.T) {
	proj := &datamodel.Project{
		SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 3, DT: 1},
		Models: []datamodel.Model{
			{
				Name: "main",
				Variables: []datamodel.Variable{
					{
						Kind:        datamodel.KindStock,
						Name:        "s",
						Equation:    datamodel.Equation{Kind: datamodel.EqScalar, Expr: "1"},
						Outflows:    []string{"drain"},
						NonNegative: true,
					},
					{
						Kind:         datamodel.KindFlow,
						Name:         "drain",
						FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "5"},
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
	if errs := sim.RunToEnd(); len(errs) > 0 {
		t.Fatalf("RunToEnd: %v", errs)
	}
	series, ok := sim.GetSeries("s")
	if !ok {
		t.Fatal(`GetSeries("s"): not found`)
	}
	for i, v := range series {
		if v < 0 {
			t.Errorf("s[%d] = %v, want clamped to >= 0", i, v)
		}
	}
	if series[len(series)-1] != 0 {
		t.Errorf("s final value = %v, want 0 after repeated overdraw", series[len(series)-1])
	}
}

// RK4 should integrate a smoothly varying decay noticeably more
// accurately than Euler at a coarse step, both converging on the same
// analytic answer as dt shrinks.
func TestRK4MoreAccurateThanEulerAtCoarseStep(t *testing.T) {
	build := func(method datamodel.IntegrationMethod, dt float64) *datamodel.Project {
		return &datamodel.Project{
			SimSpecs: datamodel.SimSpecs{Start: 0, Stop: 1, DT: dt, Method: method},
			Models: []datamodel.Model{
				{
					Name: "main",
					Variables: []datamodel.Variable{
						{
							Kind:     datamodel.KindStock,
							Name:     "p",
							Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "1"},
							Outflows: []string{"decay"},
						},
						{
							Kind:         datamodel.KindFlow,
							Name:         "decay",
							FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: "p"},
						},
					},
				},
			},
		}
	}

	analytic := math.Exp(-1)

	runFinal := func(method datamodel.IntegrationMethod, dt float64) float64 {
		proj := build(method, dt)
		sim, errs := NewSim(proj, "main", false)
		if len(errs) > 0 {
			t.Fatalf("NewSim: %v", errs)
		}
		if errs := sim.RunInitials(); len(errs) > 0 {
			t.Fatalf("RunInitials: %v", errs)
		}
		if errs := sim.RunToEnd(); len(errs) > 0 {
			t.Fatalf("RunToEnd: %v", errs)
		}
		series, _ := sim.GetSeries("p")
		return series[len(series)-1]
	}

	eulerErr := math.Abs(runFinal(datamodel.MethodEuler, 0.25) - analytic)
	rk4Err := math.Abs(runFinal(datamodel.MethodRK4, 0.25) - analytic)
	if rk4Err >= eulerErr {
		t.Errorf("RK4 error %v should be smaller than Euler error %v at dt=0.25 for exponential decay", rk4Err, eulerErr)
	}
}
