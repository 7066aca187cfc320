// Package ast implements the equation AST and its three lowering stages
// (spec §4.2-4.3, C2/C3): Expr0 (raw, untyped, straight from the parser),
// Expr1 (builtin calls resolved against the fixed builtin table), Expr2
// (a unit-annotation scaffold ready for internal/unitcheck to fill in),
// and Expr3 (subscript operands normalized into ArrayView operations).
package ast

import "sdyn/internal/units"

// Loc is a byte-offset span into the equation text a node was parsed
// from, carried through every lowering stage for diagnostics.
type Loc struct {
	Start int
	End   int
}

// ---- Expr0: raw, untyped AST -------------------------------------------

// Expr0 is the output of the parser: no builtin resolution, no units, no
// subscript normalization.
type Expr0 interface{ expr0() }

type NumberLit0 struct {
	Value float64
	Loc   Loc
}

type NaNLit0 struct{ Loc Loc }

type VarRef0 struct {
	Ident string
	Loc   Loc
}

// SubArg0 is one bracketed subscript argument, still in raw form.
type SubArg0 struct {
	// Wildcard is true for a bare "*" subscript position.
	Wildcard bool
	// Expr is set when this position is an expression (an index, a
	// dimension name, or a named subscript element).
	Expr Expr0
	// RangeHi is set for "a:b" range subscripts, in addition to Expr
	// holding the low bound.
	RangeHi Expr0
	Loc     Loc
}

type Subscript0 struct {
	Base Expr0
	Subs []SubArg0
	Loc  Loc
}

// App0 is an unresolved function/builtin application: the parser does not
// know yet whether Func names a builtin, a graphical-function lookup
// call, or (invalidly) something else.
type App0 struct {
	Func string
	Args []Expr0
	Loc  Loc
}

type Binary0 struct {
	Op   string // "+","-","*","/","//","%","mod","^","=","<>","<","<=",">",">=","and","or"
	L, R Expr0
	Loc  Loc
}

type Unary0 struct {
	Op  string // "+","-","not","!","'"  ("'" is the postfix transpose mark)
	X   Expr0
	Loc Loc
}

type If0 struct {
	Cond, Then, Else Expr0
	Loc              Loc
}

func (NumberLit0) expr0() {}
func (NaNLit0) expr0()    {}
func (VarRef0) expr0()    {}
func (Subscript0) expr0() {}
func (App0) expr0()       {}
func (Binary0) expr0()    {}
func (Unary0) expr0()     {}
func (If0) expr0()        {}

// ---- Expr1: builtins resolved ------------------------------------------

// Expr1 trees are shaped identically to Expr0 except every App0 has been
// resolved to either a Call1 (a known, arity-checked builtin) or a
// Lookup1 (a graphical-function table application).
type Expr1 interface{ expr1() }

type NumberLit1 struct {
	Value float64
	Loc   Loc
}

type NaNLit1 struct{ Loc Loc }

type VarRef1 struct {
	Ident string
	Loc   Loc
}

type Call1 struct {
	Builtin *BuiltinFn
	Args    []Expr1
	Loc     Loc
}

// Lookup1 is a graphical-function table application: `ident(x)` where
// ident is not a builtin name, so it must name a variable with an
// attached lookup table.
type Lookup1 struct {
	Ident string
	Arg   Expr1
	Loc   Loc
}

type Subscript1 struct {
	Base Expr1
	Subs []SubArg1
	Loc  Loc
}

type SubArg1 struct {
	Wildcard bool
	Expr     Expr1
	RangeHi  Expr1
	Loc      Loc
}

type Binary1 struct {
	Op   string
	L, R Expr1
	Loc  Loc
}

type Unary1 struct {
	Op  string
	X   Expr1
	Loc Loc
}

type If1 struct {
	Cond, Then, Else Expr1
	Loc              Loc
}

func (NumberLit1) expr1()     {}
func (NaNLit1) expr1()        {}
func (VarRef1) expr1()        {}
func (Call1) expr1()          {}
func (Lookup1) expr1()        {}
func (Subscript1) expr1()     {}
func (Binary1) expr1()        {}
func (Unary1) expr1()         {}
func (If1) expr1()            {}

// ---- Expr2: unit-annotation scaffold -----------------------------------

// Expr2 mirrors Expr1's shape, but every node carries a Units slot that
// internal/unitcheck fills in bottom-up (nil until checked/inferred).
type Expr2 interface {
	expr2()
	SetUnits(units.Map)
	GetUnits() (units.Map, bool)
}

type unitSlot struct {
	units units.Map
	set   bool
}

func (u *unitSlot) SetUnits(m units.Map)         { u.units = m; u.set = true }
func (u *unitSlot) GetUnits() (units.Map, bool)  { return u.units, u.set }

type NumberLit2 struct {
	unitSlot
	Value float64
	Loc   Loc
}

type NaNLit2 struct {
	unitSlot
	Loc Loc
}

type VarRef2 struct {
	unitSlot
	Ident string
	Loc   Loc
}

type Call2 struct {
	unitSlot
	Builtin *BuiltinFn
	Args    []Expr2
	Loc     Loc
}

type Lookup2 struct {
	unitSlot
	Ident string
	Arg   Expr2
	Loc   Loc
}

type Subscript2 struct {
	unitSlot
	Base Expr2
	Subs []SubArg2
	Loc  Loc
}

type SubArg2 struct {
	Wildcard bool
	Expr     Expr2
	RangeHi  Expr2
	Loc      Loc
}

type Binary2 struct {
	unitSlot
	Op   string
	L, R Expr2
	Loc  Loc
}

type Unary2 struct {
	unitSlot
	Op  string
	X   Expr2
	Loc Loc
}

type If2 struct {
	unitSlot
	Cond, Then, Else Expr2
	Loc              Loc
}

func (*NumberLit2) expr2() {}
func (*NaNLit2) expr2()    {}
func (*VarRef2) expr2()    {}
func (*Call2) expr2()      {}
func (*Lookup2) expr2()    {}
func (*Subscript2) expr2() {}
func (*Binary2) expr2()    {}
func (*Unary2) expr2()     {}
func (*If2) expr2()        {}

// ---- Expr3: subscripts resolved to ArrayView operations -----------------

// ArrayOp is a normalized subscript operand, per spec §4.3.
type ArrayOpKind int

const (
	OpSingle ArrayOpKind = iota
	OpRange
	OpWildcard
	OpDimPosition
	OpSparseRange
	OpActiveDimRef
)

type ArrayOp struct {
	Kind ArrayOpKind
	// Single: Index is the resolved 0-based offset into the dimension.
	Index int
	// Range/SparseRange: Lo/Hi are 0-based inclusive bounds.
	Lo, Hi int
	// DimPosition: Dim is the dimension name this position iterates.
	Dim string
	// ActiveDimRef: RefDim names the enclosing apply-to-all dimension
	// this subscript echoes (e.g. `x[DimA]` inside an apply-to-all over
	// DimA refers to the current iteration index of DimA itself).
	RefDim string
}

// ArrayView describes the resolved shape of a subscripted reference: its
// dimensions (name + size), per-dimension stride into the flat backing
// store, and a base offset.
type ArrayView struct {
	DimNames []string
	Dims     []int
	Strides  []int
	Offset   int
	Sparse   bool
	Ops      []ArrayOp
}

// Expr3 mirrors Expr2 with Subscript2 replaced by Subscript3, carrying a
// resolved ArrayView instead of raw SubArg2 operands.
type Expr3 interface {
	expr3()
	SetUnits(units.Map)
	GetUnits() (units.Map, bool)
}

type NumberLit3 struct {
	unitSlot
	Value float64
	Loc   Loc
}

type NaNLit3 struct {
	unitSlot
	Loc Loc
}

type VarRef3 struct {
	unitSlot
	Ident string
	Loc   Loc
}

type Call3 struct {
	unitSlot
	Builtin *BuiltinFn
	Args    []Expr3
	Loc     Loc
}

type Lookup3 struct {
	unitSlot
	Ident string
	Arg   Expr3
	Loc   Loc
}

type Subscript3 struct {
	unitSlot
	Base Expr3
	View ArrayView
	Loc  Loc
}

type Binary3 struct {
	unitSlot
	Op   string
	L, R Expr3
	Loc  Loc
}

type Unary3 struct {
	unitSlot
	Op  string
	X   Expr3
	Loc Loc
}

type If3 struct {
	unitSlot
	Cond, Then, Else Expr3
	Loc              Loc
}

func (*NumberLit3) expr3() {}
func (*NaNLit3) expr3()    {}
func (*VarRef3) expr3()    {}
func (*Call3) expr3()      {}
func (*Lookup3) expr3()    {}
func (*Subscript3) expr3() {}
func (*Binary3) expr3()    {}
func (*Unary3) expr3()     {}
func (*If3) expr3()        {}
