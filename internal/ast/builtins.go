package ast

import "sdyn/internal/errors"

// BuiltinFn describes one builtin function's arity, grounded on the
// builtin table in original_source/simlin-engine/src/ast/expr1.rs.
type BuiltinFn struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 means unbounded
}

// Builtins is the fixed builtin table. Names are matched case-
// insensitively against canonicalized identifiers.
var Builtins = map[string]*BuiltinFn{
	"abs":           {"abs", 1, 1},
	"arccos":        {"arccos", 1, 1},
	"arcsin":        {"arcsin", 1, 1},
	"arctan":        {"arctan", 1, 1},
	"cos":           {"cos", 1, 1},
	"exp":           {"exp", 1, 1},
	"inf":           {"inf", 0, 0},
	"ismoduleinput": {"ismoduleinput", 1, 1},
	"ln":            {"ln", 1, 1},
	"log10":         {"log10", 1, 1},
	"max":           {"max", 1, 2},
	"min":           {"min", 1, 2},
	"pi":            {"pi", 0, 0},
	"pulse":         {"pulse", 2, 3},
	"ramp":          {"ramp", 2, 3},
	"safediv":       {"safediv", 2, 3},
	"sin":           {"sin", 1, 1},
	"sqrt":          {"sqrt", 1, 1},
	"step":          {"step", 2, 2},
	"tan":           {"tan", 1, 1},
	"time_step":     {"time_step", 0, 0},
	"dt":            {"dt", 0, 0},
}

// LookupBuiltin returns the builtin named by a canonical identifier, if
// any. "time_step" and "dt" are aliases of the same zero-arg builtin
// (spec §4.9 supplemented feature, original_source vm.rs Opcode::Dt).
func LookupBuiltin(name string) (*BuiltinFn, bool) {
	b, ok := Builtins[name]
	return b, ok
}

// CheckArity validates an application's argument count against a
// builtin's declared arity, returning a BadBuiltinArgs error on mismatch.
func CheckArity(b *BuiltinFn, n int, loc Loc) error {
	if n < b.MinArgs || (b.MaxArgs >= 0 && n > b.MaxArgs) {
		return errors.NewVar(errors.BadBuiltinArgs, b.Name, errors.Loc{Start: loc.Start, End: loc.End}, "wrong number of arguments")
	}
	return nil
}
