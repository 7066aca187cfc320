package ast

import (
	"strings"

	"sdyn/internal/common"
	"sdyn/internal/errors"
)

// Lower1 resolves every App0 in an Expr0 tree into either a Call1 (a
// known builtin, arity-checked) or a Lookup1 (a graphical-function table
// application against a non-builtin identifier), per spec §4.2's
// "builtin resolution" stage (C3, grounded on expr1.rs's BuiltinFn
// resolution pass).
func Lower1(e Expr0) (Expr1, errors.List) {
	var errs errors.List
	out := lower1(e, &errs)
	return out, errs
}

func lower1(e Expr0, errs *errors.List) Expr1 {
	switch n := e.(type) {
	case nil:
		return nil
	case NumberLit0:
		return NumberLit1{Value: n.Value, Loc: n.Loc}
	case NaNLit0:
		return NaNLit1{Loc: n.Loc}
	case VarRef0:
		return VarRef1{Ident: n.Ident, Loc: n.Loc}
	case App0:
		return lowerApp1(n, errs)
	case Subscript0:
		var subs []SubArg1
		for _, s := range n.Subs {
			subs = append(subs, SubArg1{
				Wildcard: s.Wildcard,
				Expr:     lower1(s.Expr, errs),
				RangeHi:  lower1(s.RangeHi, errs),
				Loc:      s.Loc,
			})
		}
		return Subscript1{Base: lower1(n.Base, errs), Subs: subs, Loc: n.Loc}
	case Binary0:
		return Binary1{Op: n.Op, L: lower1(n.L, errs), R: lower1(n.R, errs), Loc: n.Loc}
	case Unary0:
		return Unary1{Op: n.Op, X: lower1(n.X, errs), Loc: n.Loc}
	case If0:
		return If1{Cond: lower1(n.Cond, errs), Then: lower1(n.Then, errs), Else: lower1(n.Else, errs), Loc: n.Loc}
	default:
		*errs = append(*errs, errors.NewVar(errors.Generic, "", errors.Loc{}, "unknown Expr0 node"))
		return nil
	}
}

func lowerApp1(n App0, errs *errors.List) Expr1 {
	name := strings.ToLower(common.Canonical(n.Func))
	if b, ok := LookupBuiltin(name); ok {
		if err := CheckArity(b, len(n.Args), n.Loc); err != nil {
			*errs = append(*errs, err.(*errors.Error))
		}
		args := make([]Expr1, len(n.Args))
		for i, a := range n.Args {
			args[i] = lower1(a, errs)
		}
		return Call1{Builtin: b, Args: args, Loc: n.Loc}
	}
	if len(n.Args) != 1 {
		*errs = append(*errs, errors.NewVar(errors.BadTable, n.Func, errors.Loc{Start: n.Loc.Start, End: n.Loc.End}, "lookup call takes exactly one argument"))
	}
	var arg Expr1
	if len(n.Args) > 0 {
		arg = lower1(n.Args[0], errs)
	}
	return Lookup1{Ident: n.Func, Arg: arg, Loc: n.Loc}
}

// Lower2 wraps an Expr1 tree into the Expr2 shape, attaching an empty
// (unset) unit slot to every node for internal/unitcheck to fill in.
func Lower2(e Expr1) Expr2 {
	switch n := e.(type) {
	case nil:
		return nil
	case NumberLit1:
		return &NumberLit2{Value: n.Value, Loc: n.Loc}
	case NaNLit1:
		return &NaNLit2{Loc: n.Loc}
	case VarRef1:
		return &VarRef2{Ident: n.Ident, Loc: n.Loc}
	case Call1:
		args := make([]Expr2, len(n.Args))
		for i, a := range n.Args {
			args[i] = Lower2(a)
		}
		return &Call2{Builtin: n.Builtin, Args: args, Loc: n.Loc}
	case Lookup1:
		return &Lookup2{Ident: n.Ident, Arg: Lower2(n.Arg), Loc: n.Loc}
	case Subscript1:
		var subs []SubArg2
		for _, s := range n.Subs {
			subs = append(subs, SubArg2{Wildcard: s.Wildcard, Expr: Lower2(s.Expr), RangeHi: Lower2(s.RangeHi), Loc: s.Loc})
		}
		return &Subscript2{Base: Lower2(n.Base), Subs: subs, Loc: n.Loc}
	case Binary1:
		return &Binary2{Op: n.Op, L: Lower2(n.L), R: Lower2(n.R), Loc: n.Loc}
	case Unary1:
		return &Unary2{Op: n.Op, X: Lower2(n.X), Loc: n.Loc}
	case If1:
		return &If2{Cond: Lower2(n.Cond), Then: Lower2(n.Then), Else: Lower2(n.Else), Loc: n.Loc}
	default:
		return nil
	}
}

// DimProvider resolves dimension names to their ordered element names,
// so Lower3 can turn raw subscript expressions into normalized ArrayOps.
// internal/datamodel's Dimension table implements this.
type DimProvider interface {
	// Dimension returns the ordered element names of a dimension, and
	// whether name actually names a dimension at all.
	Dimension(name string) ([]string, bool)
	// ElementIndex returns the 0-based offset of an element name within
	// its dimension, if elem actually belongs to dim.
	ElementIndex(dim, elem string) (int, bool)
}

// Lower3 resolves every Subscript2 in an Expr2 tree into a Subscript3
// carrying a normalized ArrayView, per spec §4.3 (C3's final stage).
// activeDims is the ordered list of dimensions the enclosing equation is
// apply-to-all'd over, used to recognize ActiveDimRef subscripts.
func Lower3(e Expr2, dims DimProvider, activeDims []string) (Expr3, errors.List) {
	var errs errors.List
	out := lower3(e, dims, activeDims, &errs)
	return out, errs
}

func lower3(e Expr2, dims DimProvider, activeDims []string, errs *errors.List) Expr3 {
	switch n := e.(type) {
	case nil:
		return nil
	case *NumberLit2:
		return &NumberLit3{Value: n.Value, Loc: n.Loc}
	case *NaNLit2:
		return &NaNLit3{Loc: n.Loc}
	case *VarRef2:
		return &VarRef3{Ident: n.Ident, Loc: n.Loc}
	case *Call2:
		args := make([]Expr3, len(n.Args))
		for i, a := range n.Args {
			args[i] = lower3(a, dims, activeDims, errs)
		}
		return &Call3{Builtin: n.Builtin, Args: args, Loc: n.Loc}
	case *Lookup2:
		return &Lookup3{Ident: n.Ident, Arg: lower3(n.Arg, dims, activeDims, errs), Loc: n.Loc}
	case *Subscript2:
		view, opErrs := resolveArrayView(n, dims, activeDims)
		*errs = append(*errs, opErrs...)
		return &Subscript3{Base: lower3(n.Base, dims, activeDims, errs), View: view, Loc: n.Loc}
	case *Binary2:
		return &Binary3{Op: n.Op, L: lower3(n.L, dims, activeDims, errs), R: lower3(n.R, dims, activeDims, errs), Loc: n.Loc}
	case *Unary2:
		return &Unary3{Op: n.Op, X: lower3(n.X, dims, activeDims, errs), Loc: n.Loc}
	case *If2:
		return &If3{Cond: lower3(n.Cond, dims, activeDims, errs), Then: lower3(n.Then, dims, activeDims, errs), Else: lower3(n.Else, dims, activeDims, errs), Loc: n.Loc}
	default:
		return nil
	}
}

func resolveArrayView(n *Subscript2, dims DimProvider, activeDims []string) (ArrayView, errors.List) {
	var errs errors.List
	view := ArrayView{}
	stride := 1
	// Strides are computed right-to-left (row-major, last subscript
	// varies fastest) once every dimension's size is known.
	var sizes []int
	for _, sub := range n.Subs {
		op, dimName, size, opErrs := resolveSubArg(sub, dims, activeDims)
		errs = append(errs, opErrs...)
		view.Ops = append(view.Ops, op)
		view.DimNames = append(view.DimNames, dimName)
		sizes = append(sizes, size)
	}
	strides := make([]int, len(sizes))
	for i := len(sizes) - 1; i >= 0; i-- {
		strides[i] = stride
		if sizes[i] > 0 {
			stride *= sizes[i]
		}
	}
	view.Strides = strides
	view.Dims = sizes
	return view, errs
}

func resolveSubArg(s SubArg2, dims DimProvider, activeDims []string) (ArrayOp, string, int, errors.List) {
	var errs errors.List
	if s.Wildcard {
		return ArrayOp{Kind: OpWildcard}, "", 0, errs
	}
	if s.RangeHi != nil {
		lo, okLo := constIntIndex(s.Expr)
		hi, okHi := constIntIndex(s.RangeHi)
		if !okLo || !okHi {
			errs = append(errs, errors.NewVar(errors.ExpectedInteger, "", errors.Loc{Start: s.Loc.Start, End: s.Loc.End}, "range subscript bounds must be constant integers"))
			return ArrayOp{Kind: OpRange}, "", 0, errs
		}
		return ArrayOp{Kind: OpRange, Lo: lo - 1, Hi: hi - 1}, "", hi - lo + 1, errs
	}
	if ref, ok := s.Expr.(*VarRef2); ok {
		name := common.Canonical(ref.Ident)
		for _, d := range activeDims {
			if common.Canonical(d) == name {
				return ArrayOp{Kind: OpActiveDimRef, RefDim: d}, d, 0, errs
			}
		}
		if elems, ok := dims.Dimension(ref.Ident); ok {
			return ArrayOp{Kind: OpDimPosition, Dim: ref.Ident}, ref.Ident, len(elems), errs
		}
		// maybe a named element of some dimension: caller resolves via
		// ElementIndex once the owning dimension is known from context.
		return ArrayOp{Kind: OpSingle, Index: -1}, "", 0, errs
	}
	if idx, ok := constIntIndex(s.Expr); ok {
		return ArrayOp{Kind: OpSingle, Index: idx - 1}, "", 0, errs
	}
	errs = append(errs, errors.NewVar(errors.NoSubscriptInUnits, "", errors.Loc{Start: s.Loc.Start, End: s.Loc.End}, "unsupported subscript expression"))
	return ArrayOp{Kind: OpSingle, Index: -1}, "", 0, errs
}

func constIntIndex(e Expr2) (int, bool) {
	n, ok := e.(*NumberLit2)
	if !ok {
		return 0, false
	}
	i := int(n.Value)
	if float64(i) != n.Value {
		return 0, false
	}
	return i, true
}

// Idents returns the set of variable identifiers a raw Expr0 tree refers
// to, used by internal/variable to compute direct_deps (spec §4.5).
func Idents(e Expr0) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(Expr0)
	walk = func(e Expr0) {
		switch n := e.(type) {
		case nil:
			return
		case VarRef0:
			c := common.Canonical(n.Ident)
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		case App0:
			if _, ok := LookupBuiltin(strings.ToLower(common.Canonical(n.Func))); !ok {
				c := common.Canonical(n.Func)
				if !seen[c] {
					seen[c] = true
					out = append(out, c)
				}
			}
			for _, a := range n.Args {
				walk(a)
			}
		case Subscript0:
			walk(n.Base)
			for _, s := range n.Subs {
				walk(s.Expr)
				walk(s.RangeHi)
			}
		case Binary0:
			walk(n.L)
			walk(n.R)
		case Unary0:
			walk(n.X)
		case If0:
			walk(n.Cond)
			walk(n.Then)
			walk(n.Else)
		}
	}
	walk(e)
	return out
}
