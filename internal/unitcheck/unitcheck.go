// Package unitcheck implements C8: bottom-up unit checking of a fully
// lowered equation against declared units, and a best-effort inference
// pass for variables the project left undeclared (spec §4.8).
package unitcheck

import (
	"sdyn/internal/ast"
	"sdyn/internal/errors"
	"sdyn/internal/units"
)

// TimeUnit is the base-unit name the time_step/dt builtins are expressed
// in terms of.
const TimeUnit = "time"

// Resolver answers unit-checking's two lookups: a variable's units (by
// canonical identifier) and a graphical-function variable's table
// units, both already computed (declared or previously inferred).
type Resolver interface {
	VarUnits(ident string) (units.Map, bool)
}

// Check computes units bottom-up over e, filling in every node's unit
// slot, and returns the root expression's units plus any UnitMismatch
// errors found along the way. Nodes referencing a variable this
// Resolver can't yet resolve are treated as unconstrained: their
// subtree's result is reported unknown (ok=false) and no error is
// raised for them specifically, so the caller can retry once more of
// the model has been resolved (see Infer).
func Check(e ast.Expr2, ident string, r Resolver) (units.Map, bool, errors.List) {
	return check(e, ident, r)
}

func check(e ast.Expr2, ident string, r Resolver) (units.Map, bool, errors.List) {
	var errs errors.List
	switch n := e.(type) {
	case nil:
		return units.Map{}, true, errs
	case *ast.NumberLit2:
		n.SetUnits(units.Map{})
		return units.Map{}, true, errs
	case *ast.NaNLit2:
		n.SetUnits(units.Map{})
		return units.Map{}, true, errs
	case *ast.VarRef2:
		m, ok := r.VarUnits(n.Ident)
		if ok {
			n.SetUnits(m)
		}
		return m, ok, errs
	case *ast.Call2:
		return checkCall(n, ident, r)
	case *ast.Lookup2:
		_, _, argErrs := check(n.Arg, ident, r)
		errs = append(errs, argErrs...)
		m, ok := r.VarUnits(n.Ident)
		if ok {
			n.SetUnits(m)
		}
		return m, ok, errs
	case *ast.Subscript2:
		m, ok, berrs := check(n.Base, ident, r)
		errs = append(errs, berrs...)
		for _, sub := range n.Subs {
			if sub.Expr != nil {
				_, _, e2 := check(sub.Expr, ident, r)
				errs = append(errs, e2...)
			}
			if sub.RangeHi != nil {
				_, _, e2 := check(sub.RangeHi, ident, r)
				errs = append(errs, e2...)
			}
		}
		if ok {
			n.SetUnits(m)
		}
		return m, ok, errs
	case *ast.Binary2:
		return checkBinary(n, ident, r)
	case *ast.Unary2:
		return checkUnary(n, ident, r)
	case *ast.If2:
		_, _, cerrs := check(n.Cond, ident, r)
		errs = append(errs, cerrs...)
		thenM, thenOK, therrs := check(n.Then, ident, r)
		elseM, elseOK, eerrs := check(n.Else, ident, r)
		errs = append(errs, therrs...)
		errs = append(errs, eerrs...)
		if thenOK && elseOK && !thenM.Equal(elseM) {
			errs = append(errs, errors.NewVar(errors.UnitMismatch, ident, errors.Loc{Start: n.Loc.Start, End: n.Loc.End}, "if branches have mismatched units"))
		}
		if !thenOK || !elseOK {
			return units.Map{}, false, errs
		}
		n.SetUnits(thenM)
		return thenM, true, errs
	default:
		return units.Map{}, false, errs
	}
}

func checkBinary(n *ast.Binary2, ident string, r Resolver) (units.Map, bool, errors.List) {
	l, lok, lerrs := check(n.L, ident, r)
	rm, rok, rerrs := check(n.R, ident, r)
	errs := append(lerrs, rerrs...)

	switch n.Op {
	case "+", "-":
		if lok && rok && !l.Equal(rm) {
			errs = append(errs, errors.NewVar(errors.UnitMismatch, ident, errors.Loc{Start: n.Loc.Start, End: n.Loc.End}, "operands of + or - must share units"))
		}
		if !lok || !rok {
			return units.Map{}, false, errs
		}
		n.SetUnits(l)
		return l, true, errs
	case "*":
		if !lok || !rok {
			return units.Map{}, false, errs
		}
		m := l.Mul(rm)
		n.SetUnits(m)
		return m, true, errs
	case "/", "//":
		if !lok || !rok {
			return units.Map{}, false, errs
		}
		m := l.Div(rm)
		n.SetUnits(m)
		return m, true, errs
	case "mod", "%":
		if lok && rok && !l.Equal(rm) {
			errs = append(errs, errors.NewVar(errors.UnitMismatch, ident, errors.Loc{Start: n.Loc.Start, End: n.Loc.End}, "operands of mod must share units"))
		}
		if !lok || !rok {
			return units.Map{}, false, errs
		}
		n.SetUnits(l)
		return l, true, errs
	case "^":
		if !lok {
			return units.Map{}, false, errs
		}
		lit, ok := n.R.(*ast.NumberLit2)
		if !ok {
			if !l.Empty() {
				errs = append(errs, errors.NewVar(errors.BadBinaryOpInUnits, ident, errors.Loc{Start: n.Loc.Start, End: n.Loc.End}, "non-constant exponent requires a dimensionless base"))
			}
			n.SetUnits(units.Map{})
			return units.Map{}, true, errs
		}
		m := l.Pow(int(lit.Value))
		n.SetUnits(m)
		return m, true, errs
	case "=", "<>", "<", "<=", ">", ">=":
		if lok && rok && !l.Equal(rm) {
			errs = append(errs, errors.NewVar(errors.UnitMismatch, ident, errors.Loc{Start: n.Loc.Start, End: n.Loc.End}, "compared operands must share units"))
		}
		n.SetUnits(units.Map{})
		return units.Map{}, true, errs
	case "and", "or":
		n.SetUnits(units.Map{})
		return units.Map{}, true, errs
	default:
		return units.Map{}, false, errs
	}
}

func checkUnary(n *ast.Unary2, ident string, r Resolver) (units.Map, bool, errors.List) {
	m, ok, errs := check(n.X, ident, r)
	switch n.Op {
	case "-", "+", "'":
		if ok {
			n.SetUnits(m)
		}
		return m, ok, errs
	case "not", "!":
		n.SetUnits(units.Map{})
		return units.Map{}, true, errs
	default:
		return units.Map{}, false, errs
	}
}

// dimensionlessPreserving builtins require a dimensionless argument and
// produce a dimensionless result.
var dimensionlessPreserving = map[string]bool{
	"arccos": true, "arcsin": true, "arctan": true,
	"cos": true, "sin": true, "tan": true,
	"exp": true, "ln": true, "log10": true,
}

// firstArgPreserving builtins pass their first argument's units through
// unchanged.
var firstArgPreserving = map[string]bool{
	"abs": true, "max": true, "min": true, "safediv": true, "step": true,
}

func checkCall(n *ast.Call2, ident string, r Resolver) (units.Map, bool, errors.List) {
	var errs errors.List
	argUnits := make([]units.Map, len(n.Args))
	argOK := make([]bool, len(n.Args))
	for i, a := range n.Args {
		m, ok, aerrs := check(a, ident, r)
		argUnits[i] = m
		argOK[i] = ok
		errs = append(errs, aerrs...)
	}

	name := n.Builtin.Name
	switch {
	case name == "inf" || name == "pi" || name == "ismoduleinput":
		n.SetUnits(units.Map{})
		return units.Map{}, true, errs
	case name == "time_step" || name == "dt":
		m := units.Map{TimeUnit: 1}
		n.SetUnits(m)
		return m, true, errs
	case name == "pulse" || name == "ramp":
		if len(argUnits) > 0 && argOK[0] {
			n.SetUnits(argUnits[0])
			return argUnits[0], true, errs
		}
		return units.Map{}, false, errs
	case dimensionlessPreserving[name]:
		if argOK[0] && !argUnits[0].Empty() {
			errs = append(errs, errors.NewVar(errors.UnitMismatch, ident, errors.Loc{Start: n.Loc.Start, End: n.Loc.End}, name+" requires a dimensionless argument"))
		}
		n.SetUnits(units.Map{})
		return units.Map{}, true, errs
	case name == "sqrt":
		if argOK[0] {
			n.SetUnits(argUnits[0])
			return argUnits[0], true, errs
		}
		return units.Map{}, false, errs
	case firstArgPreserving[name]:
		if argOK[0] {
			n.SetUnits(argUnits[0])
			return argUnits[0], true, errs
		}
		return units.Map{}, false, errs
	default:
		n.SetUnits(units.Map{})
		return units.Map{}, true, errs
	}
}

// Infer runs Check repeatedly over a set of equations whose variables
// don't all have declared units yet, feeding each successfully computed
// result back into resolved so later passes can use it, until a pass
// makes no further progress. Equations that still can't be resolved
// (e.g. they depend on another unresolved equation, or genuinely have no
// derivable unit) are silently left unresolved, per spec §4.8's
// best-effort inference.
func Infer(equations map[string]ast.Expr2, resolved map[string]units.Map) {
	r := &mapResolver{m: resolved}
	for {
		progress := false
		for ident, e := range equations {
			if _, already := resolved[ident]; already {
				continue
			}
			m, ok, errs := check(e, ident, r)
			if ok && len(errs) == 0 {
				resolved[ident] = m
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

type mapResolver struct{ m map[string]units.Map }

func (r *mapResolver) VarUnits(ident string) (units.Map, bool) {
	m, ok := r.m[ident]
	return m, ok
}
