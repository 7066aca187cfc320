// Package variable builds a StagedVariable for every datamodel.Variable
// in a model (spec §4.5, C5): it parses equations through every AST
// stage up to Expr1, expands stateful builtins (smooth/delay/trend) into
// synthesized plain variables before that parse, and records each variable's
// direct dependency set.
package variable

import (
	"fmt"
	"strings"

	"sdyn/internal/ast"
	"sdyn/internal/common"
	"sdyn/internal/datamodel"
	"sdyn/internal/errors"
	"sdyn/internal/stdlib"
)

// Staged is the built-up view of one variable ready for model staging
// (internal/model) and dependency analysis (internal/depgraph).
type Staged struct {
	Name string
	Kind datamodel.VariableKind
	Raw  datamodel.Variable

	// Equation0/Initial0 are Expr0 (scalar/apply-to-all case); Elements0
	// is populated instead for Arrayed equations, keyed by the joined
	// subscript tuple.
	Equation0 ast.Expr0
	Initial0  ast.Expr0 // stocks only
	Elements0 map[string]ast.Expr0

	Equation1 ast.Expr1
	Initial1  ast.Expr1

	DeclaredUnit string
	DirectDeps   []string

	// Synthesized holds any variables a stateful builtin in this
	// variable's equation expanded into; the caller splices these into
	// the owning model alongside the original variable.
	Synthesized []datamodel.Variable

	Errors errors.List
}

// BuildModel builds a Staged for every variable in m, in declaration
// order. Only m's own variables are returned; the variables synthesized
// for stateful builtins stay in each Staged's Synthesized list and are
// not appended to the result.
func BuildModel(m *datamodel.Model) ([]*Staged, errors.List) {
	var out []*Staged
	var errs errors.List
	seq := 0
	for i := range m.Variables {
		s, serrs := Build(&m.Variables[i], &seq)
		errs = append(errs, serrs...)
		out = append(out, s)
	}
	return out, errs
}

func Build(v *datamodel.Variable, seq *int) (*Staged, errors.List) {
	s := &Staged{Name: common.Canonical(v.Name), Kind: v.Kind, Raw: *v}
	var errs errors.List

	switch v.Kind {
	case datamodel.KindStock:
		s.DeclaredUnit = v.Unit
		expr, initErrs := parseWithSynthesis(v.Equation, s, seq)
		errs = append(errs, initErrs...)
		s.Initial0 = expr
		if expr != nil {
			e1, lerrs := ast.Lower1(expr)
			errs = append(errs, lerrs...)
			s.Initial1 = e1
			s.DirectDeps = append(s.DirectDeps, ast.Idents(expr)...)
		}
	case datamodel.KindFlow, datamodel.KindAux:
		s.DeclaredUnit = v.Unit
		errs = append(errs, buildEquation(v.FlowEquation, s, seq)...)
	case datamodel.KindModule:
		for _, in := range v.Inputs {
			expr, inErrs := parseWithSynthesis(datamodel.Equation{Kind: datamodel.EqScalar, Expr: in.Src}, s, seq)
			errs = append(errs, inErrs...)
			if expr != nil {
				s.DirectDeps = append(s.DirectDeps, ast.Idents(expr)...)
			}
		}
	}

	s.DirectDeps = dedup(s.DirectDeps)
	s.Errors = errs
	return s, errs
}

func buildEquation(eq datamodel.Equation, s *Staged, seq *int) errors.List {
	var errs errors.List
	switch eq.Kind {
	case datamodel.EqScalar, datamodel.EqApplyToAll:
		expr, perrs := parseWithSynthesis(eq, s, seq)
		errs = append(errs, perrs...)
		s.Equation0 = expr
		if expr != nil {
			e1, lerrs := ast.Lower1(expr)
			errs = append(errs, lerrs...)
			s.Equation1 = e1
			s.DirectDeps = append(s.DirectDeps, ast.Idents(expr)...)
		}
	case datamodel.EqArrayed:
		s.Elements0 = map[string]ast.Expr0{}
		for _, el := range eq.Elements {
			expr, perrs := parseWithSynthesis(datamodel.Equation{Kind: datamodel.EqScalar, Expr: el.Expr}, s, seq)
			errs = append(errs, perrs...)
			key := strings.Join(el.Subscript, ",")
			s.Elements0[key] = expr
			if expr != nil {
				s.DirectDeps = append(s.DirectDeps, ast.Idents(expr)...)
			}
		}
	}
	return errs
}

// parseWithSynthesis parses one equation string, expanding any stateful
// builtin call sites into synthesized variables appended to
// s.Synthesized and rewriting the call to a VarRef0 of the synthesized
// output.
func parseWithSynthesis(eq datamodel.Equation, s *Staged, seq *int) (ast.Expr0, errors.List) {
	expr, errs := ast.ParseEquation(eq.Expr)
	if expr == nil || len(errs) > 0 {
		return expr, errs
	}
	rewritten, serrs := expandStateful(expr, s, seq)
	errs = append(errs, serrs...)
	return rewritten, errs
}

func expandStateful(e ast.Expr0, s *Staged, seq *int) (ast.Expr0, errors.List) {
	var errs errors.List
	switch n := e.(type) {
	case nil:
		return nil, errs
	case ast.App0:
		lowerName := strings.ToLower(common.Canonical(n.Func))
		newArgs := make([]ast.Expr0, len(n.Args))
		for i, a := range n.Args {
			rw, aerrs := expandStateful(a, s, seq)
			errs = append(errs, aerrs...)
			newArgs[i] = rw
		}
		if !stdlib.Stateful[lowerName] {
			return ast.App0{Func: n.Func, Args: newArgs, Loc: n.Loc}, errs
		}
		argTexts := make([]string, len(newArgs))
		for i, a := range newArgs {
			argTexts[i] = renderExpr0(a)
		}
		*seq++
		suffix := fmt.Sprintf("%s_%d", s.Name, *seq)
		syn, err := stdlib.Synthesize(lowerName, argTexts, suffix)
		if err != nil {
			errs = append(errs, errors.NewVar(errors.BadBuiltinArgs, n.Func, errors.Loc{Start: n.Loc.Start, End: n.Loc.End}, err.Error()))
			return ast.VarRef0{Ident: "0", Loc: n.Loc}, errs
		}
		s.Synthesized = append(s.Synthesized, syn.Variables...)
		return ast.VarRef0{Ident: syn.OutputVar, Loc: n.Loc}, errs
	case ast.Subscript0:
		base, berrs := expandStateful(n.Base, s, seq)
		errs = append(errs, berrs...)
		return ast.Subscript0{Base: base, Subs: n.Subs, Loc: n.Loc}, errs
	case ast.Binary0:
		l, lerrs := expandStateful(n.L, s, seq)
		r, rerrs := expandStateful(n.R, s, seq)
		errs = append(errs, lerrs...)
		errs = append(errs, rerrs...)
		return ast.Binary0{Op: n.Op, L: l, R: r, Loc: n.Loc}, errs
	case ast.Unary0:
		x, xerrs := expandStateful(n.X, s, seq)
		errs = append(errs, xerrs...)
		return ast.Unary0{Op: n.Op, X: x, Loc: n.Loc}, errs
	case ast.If0:
		c, cerrs := expandStateful(n.Cond, s, seq)
		t, terrs := expandStateful(n.Then, s, seq)
		el, eerrs := expandStateful(n.Else, s, seq)
		errs = append(errs, cerrs...)
		errs = append(errs, terrs...)
		errs = append(errs, eerrs...)
		return ast.If0{Cond: c, Then: t, Else: el, Loc: n.Loc}, errs
	default:
		return e, errs
	}
}

// renderExpr0 renders a parsed argument back to equation text so it can
// be spliced into a synthesized variable's equation strings. Stateful
// builtin call sites have already been rewritten to VarRef0 by the time
// this runs, so no nested expansion is lost.
func renderExpr0(e ast.Expr0) string {
	switch n := e.(type) {
	case nil:
		return "0"
	case ast.NumberLit0:
		return trimFloat(n.Value)
	case ast.NaNLit0:
		return "nan"
	case ast.VarRef0:
		return n.Ident
	case ast.App0:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = renderExpr0(a)
		}
		return fmt.Sprintf("%s(%s)", n.Func, strings.Join(args, ", "))
	case ast.Binary0:
		return fmt.Sprintf("(%s %s %s)", renderExpr0(n.L), n.Op, renderExpr0(n.R))
	case ast.Unary0:
		if n.Op == "'" {
			return renderExpr0(n.X) + "'"
		}
		return fmt.Sprintf("%s(%s)", n.Op, renderExpr0(n.X))
	case ast.If0:
		return fmt.Sprintf("if %s then %s else %s", renderExpr0(n.Cond), renderExpr0(n.Then), renderExpr0(n.Else))
	default:
		return "0"
	}
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	return s
}

func dedup(ss []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
