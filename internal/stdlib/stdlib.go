// Package stdlib synthesizes the plain stock, flow and aux variables that
// back the engine's stateful builtins (smooth, delay, trend): spec §4.9's
// supplemented feature, grounded on the SMOOTH/DELAY macro expansions in
// original_source/simlin-engine. The synthesized variables join the
// calling variable's own model; no module instance is created for them,
// and they are not VM primitives.
package stdlib

import (
	"fmt"
	"strconv"

	"sdyn/internal/datamodel"
)

// Stateful names the builtins internal/variable recognizes and expands
// before ordinary builtin resolution runs.
var Stateful = map[string]bool{
	"smooth":  true,
	"smooth1": true,
	"smooth3": true,
	"smoothn": true,
	"delay1":  true,
	"delay3":  true,
	"trend":   true,
}

// Synthesis is the result of expanding one stateful-builtin call site: a
// set of new variables to add to the owning model, and the identifier
// the call site should be rewritten to reference.
type Synthesis struct {
	Variables []datamodel.Variable
	OutputVar string
}

// Synthesize expands one call, given its raw argument expression texts
// and a suffix that makes the synthesized variable names unique within
// the model (the call's source byte offset is a convenient suffix).
func Synthesize(name string, args []string, suffix string) (*Synthesis, error) {
	switch name {
	case "smooth", "smooth1":
		return synthSmooth1(args, suffix)
	case "smooth3":
		return synthSmooth3(args, suffix)
	case "smoothn":
		return synthSmoothN(args, suffix)
	case "delay1":
		return synthDelay1(args, suffix)
	case "delay3":
		return synthDelayN(args, suffix, 3)
	case "trend":
		return synthTrend(args, suffix)
	default:
		return nil, fmt.Errorf("stdlib: no synthesis template for %q", name)
	}
}

// synthSmooth1 expands smooth1(input, delay_time[, initial]) into a
// single exponential-smoothing stock:
//
//	stock:  smooth1_state = INTEG((input - smooth1_state) / delay_time, initial)
//	output: smooth1_state
func synthSmooth1(args []string, suffix string) (*Synthesis, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("stdlib: smooth1 requires at least 2 arguments")
	}
	input, delay := args[0], args[1]
	initial := input
	if len(args) >= 3 {
		initial = args[2]
	}
	state := "smooth1_state_" + suffix
	flow := "smooth1_flow_" + suffix
	return &Synthesis{
		OutputVar: state,
		Variables: []datamodel.Variable{
			{
				Kind:     datamodel.KindStock,
				Name:     state,
				Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: initial},
				Inflows:  []string{flow},
			},
			{
				Kind:         datamodel.KindFlow,
				Name:         flow,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: fmt.Sprintf("(%s - %s) / (%s)", input, state, delay)},
			},
		},
	}, nil
}

// synthSmooth3 expands smooth3 into a three-stage smoothing cascade,
// each stage a smooth1 with delay_time/3 feeding the next.
func synthSmooth3(args []string, suffix string) (*Synthesis, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("stdlib: smooth3 requires at least 2 arguments")
	}
	input, delay := args[0], args[1]
	initial := input
	if len(args) >= 3 {
		initial = args[2]
	}
	third := fmt.Sprintf("((%s) / 3)", delay)
	var vars []datamodel.Variable
	prevInput, prevInitial := input, initial
	var lastState string
	for stage := 1; stage <= 3; stage++ {
		state := fmt.Sprintf("smooth3_state%d_%s", stage, suffix)
		flow := fmt.Sprintf("smooth3_flow%d_%s", stage, suffix)
		vars = append(vars,
			datamodel.Variable{
				Kind:     datamodel.KindStock,
				Name:     state,
				Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: prevInitial},
				Inflows:  []string{flow},
			},
			datamodel.Variable{
				Kind:         datamodel.KindFlow,
				Name:         flow,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: fmt.Sprintf("(%s - %s) / %s", prevInput, state, third)},
			},
		)
		prevInput = state
		prevInitial = initial
		lastState = state
	}
	return &Synthesis{OutputVar: lastState, Variables: vars}, nil
}

// synthDelay1 expands delay1(input, delay_time[, initial]) into a
// material-delay stock tracking input*delay_time, with output recovered
// by dividing the stock back down by the delay time.
func synthDelay1(args []string, suffix string) (*Synthesis, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("stdlib: delay1 requires at least 2 arguments")
	}
	input, delay := args[0], args[1]
	initial := fmt.Sprintf("(%s) * (%s)", input, delay)
	if len(args) >= 3 {
		initial = fmt.Sprintf("(%s) * (%s)", args[2], delay)
	}
	state := "delay1_state_" + suffix
	inflow := "delay1_inflow_" + suffix
	outflow := "delay1_outflow_" + suffix
	output := "delay1_output_" + suffix
	return &Synthesis{
		OutputVar: output,
		Variables: []datamodel.Variable{
			{
				Kind:     datamodel.KindStock,
				Name:     state,
				Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: initial},
				Inflows:  []string{inflow},
				Outflows: []string{outflow},
			},
			{
				Kind:         datamodel.KindFlow,
				Name:         inflow,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: input},
			},
			{
				Kind:         datamodel.KindFlow,
				Name:         outflow,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: fmt.Sprintf("%s / (%s)", state, delay)},
			},
			{
				Kind:         datamodel.KindAux,
				Name:         output,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: fmt.Sprintf("%s / (%s)", state, delay)},
			},
		},
	}, nil
}

// synthTrend expands trend(input, avg_time[, initial_trend]) into a
// smooth1 of the input plus an auxiliary computing the fractional
// per-time change relative to that smoothed level.
func synthTrend(args []string, suffix string) (*Synthesis, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("stdlib: trend requires at least 2 arguments")
	}
	input, avgTime := args[0], args[1]
	initialLevel := input
	if len(args) >= 3 {
		initialLevel = fmt.Sprintf("(%s) / (1 + (%s) * (%s))", input, args[2], avgTime)
	}
	sm, err := synthSmooth1([]string{input, avgTime, initialLevel}, "trend_"+suffix)
	if err != nil {
		return nil, err
	}
	output := "trend_output_" + suffix
	sm.Variables = append(sm.Variables, datamodel.Variable{
		Kind: datamodel.KindAux,
		Name: output,
		FlowEquation: datamodel.Equation{
			Kind: datamodel.EqScalar,
			Expr: fmt.Sprintf("safediv(%s - %s, (%s) * abs(%s), 0)", input, sm.OutputVar, avgTime, sm.OutputVar),
		},
	})
	sm.OutputVar = output
	return sm, nil
}

// synthSmoothN expands smoothn(input, delay_time, order[, initial]) into
// an order-stage smoothing cascade, generalizing synthSmooth3's
// fixed-3-stage expansion. order must be a literal positive integer:
// the stage count is a compile-time structural choice (how many
// stock/flow pairs to synthesize), not a runtime value.
func synthSmoothN(args []string, suffix string) (*Synthesis, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("stdlib: smoothn requires at least 3 arguments")
	}
	input, delay := args[0], args[1]
	order, err := strconv.Atoi(args[2])
	if err != nil || order < 1 {
		return nil, fmt.Errorf("stdlib: smoothn order must be a positive integer literal, got %q", args[2])
	}
	initial := input
	if len(args) >= 4 {
		initial = args[3]
	}
	stageDelay := fmt.Sprintf("((%s) / %d)", delay, order)
	var vars []datamodel.Variable
	prevInput := input
	var lastState string
	for stage := 1; stage <= order; stage++ {
		state := fmt.Sprintf("smoothn_state%d_%s", stage, suffix)
		flow := fmt.Sprintf("smoothn_flow%d_%s", stage, suffix)
		vars = append(vars,
			datamodel.Variable{
				Kind:     datamodel.KindStock,
				Name:     state,
				Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: initial},
				Inflows:  []string{flow},
			},
			datamodel.Variable{
				Kind:         datamodel.KindFlow,
				Name:         flow,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: fmt.Sprintf("(%s - %s) / %s", prevInput, state, stageDelay)},
			},
		)
		prevInput = state
		lastState = state
	}
	return &Synthesis{OutputVar: lastState, Variables: vars}, nil
}

// synthDelayN expands delay3(input, delay_time[, initial]) (stages
// fixed at 3, the only arity the builtin table names) into a cascade of
// `stages` material-delay stocks, each stage's output feeding the next
// stage's input, generalizing synthDelay1 the way synthSmooth3
// generalizes synthSmooth1.
func synthDelayN(args []string, suffix string, stages int) (*Synthesis, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("stdlib: delay3 requires at least 2 arguments")
	}
	input, delay := args[0], args[1]
	initialInput := input
	if len(args) >= 3 {
		initialInput = args[2]
	}
	stageDelay := fmt.Sprintf("((%s) / %d)", delay, stages)
	var vars []datamodel.Variable
	prevInput, prevInitial := input, initialInput
	var lastOutput string
	for stage := 1; stage <= stages; stage++ {
		state := fmt.Sprintf("delay3_state%d_%s", stage, suffix)
		inflow := fmt.Sprintf("delay3_inflow%d_%s", stage, suffix)
		outflow := fmt.Sprintf("delay3_outflow%d_%s", stage, suffix)
		output := fmt.Sprintf("delay3_output%d_%s", stage, suffix)
		vars = append(vars,
			datamodel.Variable{
				Kind:     datamodel.KindStock,
				Name:     state,
				Equation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: fmt.Sprintf("(%s) * (%s)", prevInitial, stageDelay)},
				Inflows:  []string{inflow},
				Outflows: []string{outflow},
			},
			datamodel.Variable{
				Kind:         datamodel.KindFlow,
				Name:         inflow,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: prevInput},
			},
			datamodel.Variable{
				Kind:         datamodel.KindFlow,
				Name:         outflow,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: fmt.Sprintf("%s / %s", state, stageDelay)},
			},
			datamodel.Variable{
				Kind:         datamodel.KindAux,
				Name:         output,
				FlowEquation: datamodel.Equation{Kind: datamodel.EqScalar, Expr: fmt.Sprintf("%s / %s", state, stageDelay)},
			},
		)
		prevInput = output
		prevInitial = initialInput
		lastOutput = output
	}
	return &Synthesis{OutputVar: lastOutput, Variables: vars}, nil
}
