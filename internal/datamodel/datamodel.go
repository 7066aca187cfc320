// Package datamodel holds the plain data types a project is built from:
// the types a format adapter (internal/project's JSON adapter) decodes
// into and every later stage (internal/variable, internal/model, ...)
// consumes. Nothing in this package parses equations or computes
// anything; it is the project's "shape," not its semantics.
package datamodel

// Project is the root of a loaded system-dynamics project: its models,
// its dimension table, and its declared units (spec §3).
type Project struct {
	Name       string
	SimSpecs   SimSpecs
	Dimensions []Dimension
	Units      []UnitDecl
	Models     []Model

	// Source is the original, format-specific project text a patch's
	// SetSource op stashes alongside the data model (e.g. the XMILE/MDL
	// text a JSON project was translated from); nil when absent.
	Source *string
}

// SimSpecs are the simulation-wide time parameters (spec §3.2).
type SimSpecs struct {
	Start     float64
	Stop      float64
	DT        float64
	// SaveStep, if nonzero, overrides DT as the result-recording cadence
	// (spec's save_every supplemented feature); must be an integer
	// multiple of DT.
	SaveStep float64
	Method   IntegrationMethod
	// TimeUnits, if set, is the base-unit name every derivative and
	// dt/time_step/time/initial_time/final_time builtin is expressed
	// in (spec §4.8's stock-flow invariant, optional per spec §3.2).
	TimeUnits string
}

type IntegrationMethod int

const (
	MethodEuler IntegrationMethod = iota
	MethodRK4
)

// UnitDecl is a project's declaration of one unit (spec §4.4).
type UnitDecl struct {
	Name     string
	Aliases  []string
	Equation string // empty for a primary/base unit
}

// Dimension is either an Indexed dimension (1..Size, no element names)
// or a Named dimension (explicit ordered element list), optionally
// aliasing another dimension's elements via MapsTo (spec §3.3).
type Dimension struct {
	Name     string
	Size     int      // Indexed dimensions only; 0 for Named
	Elements []string // Named dimensions only
	MapsTo   string   // optional: elements are shared with another dim
}

// Model is one named collection of variables and views (spec §3).
type Model struct {
	Name      string
	Variables []Variable
	Views     []View
}

// VariableKind discriminates the Variable sum type (spec §3.4).
type VariableKind int

const (
	KindStock VariableKind = iota
	KindFlow
	KindAux
	KindModule
)

func (k VariableKind) String() string {
	switch k {
	case KindStock:
		return "stock"
	case KindFlow:
		return "flow"
	case KindAux:
		return "aux"
	case KindModule:
		return "module"
	default:
		return "unknown"
	}
}

// Variable is the sum type over stocks, flows, auxiliaries, and module
// instances. Only the fields relevant to Kind are populated.
type Variable struct {
	Kind VariableKind
	Name string
	Doc  string
	Unit string // declared unit equation text, "" if undeclared

	// Stock only.
	Equation Equation // initial-value equation
	Inflows  []string
	Outflows []string

	// NonNegative clamps the computed value to zero: after integration
	// for a stock, after evaluation for a flow (spec §4.10).
	NonNegative bool

	// Flow/Aux only.
	FlowEquation Equation

	// Flow/Aux only, optional: attaches a lookup table to this
	// variable so `ident(x)` calls resolve against it (C2's Lookup1).
	GF *GraphicalFunction

	// Module only.
	ModelName string
	Inputs    []ModuleInput
}

// ModuleInput binds one of a module instance's inputs to an expression
// evaluated in the parent model's scope (spec §3.5).
type ModuleInput struct {
	Dst string // input name inside the referenced model
	Src string // source expression/ident in the parent scope
}

// EquationKind discriminates the Equation sum type (spec §3.4.1): a
// plain scalar equation, an apply-to-all equation shared across every
// element of one or more dimensions, or a fully arrayed equation giving
// a distinct right-hand side per element.
type EquationKind int

const (
	EqScalar EquationKind = iota
	EqApplyToAll
	EqArrayed
)

type Equation struct {
	Kind EquationKind

	// Scalar.
	Expr string

	// ApplyToAll.
	Dims []string // dimension names this equation broadcasts over
	// Expr (above) holds the shared right-hand side for ApplyToAll too.

	// Arrayed: one expression per explicit element-tuple.
	Elements []ArrayedElement
}

// ArrayedElement is one element's right-hand side within an Arrayed
// equation, keyed by its subscript tuple (e.g. ["Boston","Truck"]).
type ArrayedElement struct {
	Subscript []string
	Expr      string
}

// GraphicalFunction is a lookup table with a fixed extrapolation policy
// (spec §3.4.2).
type GraphicalFunction struct {
	X    []float64
	Y    []float64
	Kind GFKind
}

type GFKind int

const (
	GFContinuous GFKind = iota
	GFExtrapolate
	GFDiscrete
)

// View is an optional diagram layout; the engine never interprets its
// contents beyond round-tripping them through patches (spec §5's
// UpsertView/DeleteView/SetSource ops).
type View struct {
	Name string
	Data []byte // opaque payload, format-adapter defined
}

// DimTable adapts a Project's Dimensions slice to internal/ast's
// DimProvider interface, used by Lower3 to resolve subscript operands.
type DimTable struct {
	byName map[string][]string
}

func NewDimTable(dims []Dimension) *DimTable {
	t := &DimTable{byName: map[string][]string{}}
	for _, d := range dims {
		if len(d.Elements) > 0 {
			t.byName[d.Name] = d.Elements
			continue
		}
		elems := make([]string, d.Size)
		for i := range elems {
			elems[i] = ""
		}
		t.byName[d.Name] = elems
	}
	return t
}

func (t *DimTable) Dimension(name string) ([]string, bool) {
	e, ok := t.byName[name]
	return e, ok
}

func (t *DimTable) ElementIndex(dim, elem string) (int, bool) {
	elems, ok := t.byName[dim]
	if !ok {
		return 0, false
	}
	for i, e := range elems {
		if e == elem {
			return i, true
		}
	}
	return 0, false
}
