// Package units implements the unit algebra (spec §4.4, C4): a unit map
// is a multiset of base units with integer exponents, and a Context
// resolves user-declared unit names (and their aliases) to unit maps.
package units

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"sdyn/internal/common"
	"sdyn/internal/errors"
	"sdyn/internal/lexer"
)

// Map is a multiset of canonical base-unit names to integer exponents.
// A zero exponent is always elided, so the empty Map is dimensionless.
type Map map[string]int

// Empty reports whether m is the dimensionless unit.
func (m Map) Empty() bool { return len(m) == 0 }

func clone(m Map) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func trim(m Map) Map {
	for k, v := range m {
		if v == 0 {
			delete(m, k)
		}
	}
	return m
}

// Mul returns the pointwise sum of exponents (unit product).
func (m Map) Mul(o Map) Map {
	out := clone(m)
	for k, v := range o {
		out[k] += v
	}
	return trim(out)
}

// Div returns the pointwise difference of exponents (unit quotient).
func (m Map) Div(o Map) Map {
	return m.Mul(o.Reciprocal())
}

// Reciprocal negates every exponent.
func (m Map) Reciprocal() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = -v
	}
	return out
}

// Pow multiplies every exponent by n.
func (m Map) Pow(n int) Map {
	if n == 0 {
		return Map{}
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v * n
	}
	return trim(out)
}

// Equal reports multiset equality.
func (m Map) Equal(o Map) bool {
	// a missing key reads as exponent 0, so explicit zero exponents
	// compare equal to absent ones
	for k, v := range m {
		if o[k] != v {
			return false
		}
	}
	for k, v := range o {
		if m[k] != v {
			return false
		}
	}
	return true
}

// String renders a canonical "a*b^2/c" form: positive exponents in the
// numerator, negative in the denominator, sorted by name for determinism.
func (m Map) String() string {
	if len(m) == 0 {
		return "dmnl"
	}
	var names []string
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	var num, den []string
	for _, name := range names {
		exp := m[name]
		if exp > 0 {
			if exp == 1 {
				num = append(num, name)
			} else {
				num = append(num, fmt.Sprintf("%s^%d", name, exp))
			}
		} else {
			n := -exp
			if n == 1 {
				den = append(den, name)
			} else {
				den = append(den, fmt.Sprintf("%s^%d", name, n))
			}
		}
	}
	numStr := strings.Join(num, "*")
	if numStr == "" {
		numStr = "1"
	}
	if len(den) == 0 {
		return numStr
	}
	return numStr + "/" + strings.Join(den, "*")
}

// Context resolves declared unit names (through aliases) to unit maps,
// per spec §4.4.
type Context struct {
	aliases map[string]string // canonical alias -> canonical primary
	units   map[string]Map    // canonical primary -> decomposition
}

// NewContext builds a Context from a flat list of (name, aliases,
// equation) triples, following spec §4.4's two-pass construction:
// first register every unit with no equation (primaries), then parse
// and reduce units that do have an equation against that base.
func NewContext(decls []Decl) (*Context, errors.List) {
	ctx := &Context{aliases: map[string]string{}, units: map[string]Map{}}
	var errs errors.List

	for _, d := range decls {
		if d.Equation != "" {
			continue
		}
		name := common.Canonical(d.Name)
		for _, alias := range d.Aliases {
			a := common.Canonical(alias)
			if _, exists := ctx.aliases[a]; exists {
				errs = append(errs, errors.NewUnit(errors.DuplicateUnit, a, errors.Loc{}, "duplicate unit alias"))
				continue
			}
			if _, exists := ctx.units[a]; exists {
				errs = append(errs, errors.NewUnit(errors.DuplicateUnit, a, errors.Loc{}, "duplicate unit alias"))
				continue
			}
			ctx.aliases[a] = name
		}
		if _, exists := ctx.units[name]; exists {
			errs = append(errs, errors.NewUnit(errors.DuplicateUnit, name, errors.Loc{}, "duplicate unit"))
			continue
		}
		ctx.units[name] = Map{name: 1}
	}

	for _, d := range decls {
		if d.Equation == "" {
			continue
		}
		name := common.Canonical(d.Name)
		m, err := Parse(d.Equation, ctx)
		if err != nil {
			errs = append(errs, toUnitErr(name, err))
			continue
		}
		ctx.units[name] = m
	}

	return ctx, errs
}

func toUnitErr(name string, err error) *errors.Error {
	if e, ok := err.(*errors.Error); ok {
		e.Ident = name
		return e
	}
	return errors.NewUnit(errors.Generic, name, errors.Loc{}, err.Error())
}

// Decl is the subset of a project's unit table entry the Context needs.
type Decl struct {
	Name     string
	Aliases  []string
	Equation string
}

// Lookup normalizes name through aliases and returns its decomposition,
// if declared.
func (c *Context) Lookup(name string) (Map, bool) {
	n := common.Canonical(name)
	if primary, ok := c.aliases[n]; ok {
		n = primary
	}
	m, ok := c.units[n]
	return m, ok
}

// Parse parses a unit-equation string into a Map, per spec §4.4: `1`,
// unit names, dmnl/nil/dimensionless/fraction (empty), product, quotient
// (with 1/b -> reciprocal), and integer power. Anything else (if, unary
// minus, subscript, call, comparison) is a NoXInUnits error.
func Parse(src string, ctx *Context) (Map, error) {
	toks, err := lexer.Scan(src, lexer.DialectUnits)
	if err != nil {
		return nil, err
	}
	p := &unitParser{toks: toks, ctx: ctx}
	m, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().Type != lexer.TokEOF {
		return nil, &errors.Error{Code: errors.ExtraToken, Loc: errors.Loc{Start: p.cur().Start, End: p.cur().End}}
	}
	return m, nil
}

type unitParser struct {
	toks []lexer.Token
	pos  int
	ctx  *Context
}

func (p *unitParser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *unitParser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// expr := term (('*'|'/') term)*
func (p *unitParser) parseExpr() (Map, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Type {
		case lexer.TokStar:
			p.advance()
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = left.Mul(right)
		case lexer.TokSlash:
			p.advance()
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = left.Div(right)
		default:
			return left, nil
		}
	}
}

// term := primary ('^' integer)?
func (p *unitParser) parseTerm() (Map, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.cur().Type == lexer.TokCaret {
		p.advance()
		negate := false
		if p.cur().Type == lexer.TokMinus {
			negate = true
			p.advance()
		}
		if p.cur().Type != lexer.TokNumber {
			return nil, &errors.Error{Code: errors.ExpectedIntegerOne, Loc: errors.Loc{Start: p.cur().Start, End: p.cur().End}}
		}
		n, err := strconv.Atoi(p.cur().Text)
		if err != nil {
			return nil, &errors.Error{Code: errors.ExpectedIntegerOne, Loc: errors.Loc{Start: p.cur().Start, End: p.cur().End}}
		}
		p.advance()
		if negate {
			n = -n
		}
		return base.Pow(n), nil
	}
	return base, nil
}

func (p *unitParser) parsePrimary() (Map, error) {
	t := p.cur()
	switch t.Type {
	case lexer.TokNumber:
		if t.Text == "1" {
			p.advance()
			return Map{}, nil
		}
		return nil, &errors.Error{Code: errors.NoConstInUnits, Loc: errors.Loc{Start: t.Start, End: t.End}}
	case lexer.TokIdent:
		p.advance()
		lower := strings.ToLower(t.Text)
		switch lower {
		case "dmnl", "nil", "dimensionless", "fraction":
			return Map{}, nil
		}
		if p.ctx != nil {
			if m, ok := p.ctx.Lookup(t.Text); ok {
				return clone(m), nil
			}
		}
		return Map{common.Canonical(t.Text): 1}, nil
	case lexer.TokLParen:
		p.advance()
		// special case: 1/b handled by parseExpr's Div path naturally,
		// but bare parens are also legal grouping.
		m, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().Type != lexer.TokRParen {
			return nil, &errors.Error{Code: errors.UnrecognizedToken, Loc: errors.Loc{Start: p.cur().Start, End: p.cur().End}}
		}
		p.advance()
		return m, nil
	case lexer.TokMinus:
		return nil, &errors.Error{Code: errors.NoUnaryOpInUnits, Loc: errors.Loc{Start: t.Start, End: t.End}}
	default:
		return nil, &errors.Error{Code: errors.UnrecognizedToken, Loc: errors.Loc{Start: t.Start, End: t.End}}
	}
}
