// Package errors defines the error taxonomy shared by every stage of the
// pipeline: lexer, parser, AST lowering, model staging, dependency
// analysis, unit checking, compilation, the VM, and the patch engine.
package errors

import (
	"fmt"
)

// Code enumerates the fixed set of error codes the engine can produce.
type Code string

const (
	InvalidToken       Code = "InvalidToken"
	UnrecognizedToken  Code = "UnrecognizedToken"
	UnrecognizedEof    Code = "UnrecognizedEof"
	ExtraToken         Code = "ExtraToken"
	UnknownBuiltin     Code = "UnknownBuiltin"
	BadBuiltinArgs     Code = "BadBuiltinArgs"
	BadTable           Code = "BadTable"
	ExpectedIdent      Code = "ExpectedIdent"
	ExpectedNumber     Code = "ExpectedNumber"
	ExpectedInteger    Code = "ExpectedInteger"
	ExpectedIntegerOne Code = "ExpectedIntegerOne"
	CircularDependency Code = "CircularDependency"
	UnknownDependency  Code = "UnknownDependency"
	NoAbsoluteReferences Code = "NoAbsoluteReferences"
	BadModuleInputSrc  Code = "BadModuleInputSrc"
	BadModuleInputDst  Code = "BadModuleInputDst"
	DoesNotExist       Code = "DoesNotExist"
	DuplicateVariable  Code = "DuplicateVariable"
	DuplicateUnit      Code = "DuplicateUnit"
	UnitMismatch       Code = "UnitMismatch"
	NoConstInUnits     Code = "NoConstInUnits"
	NoAppInUnits       Code = "NoAppInUnits"
	NoSubscriptInUnits Code = "NoSubscriptInUnits"
	NoUnaryOpInUnits   Code = "NoUnaryOpInUnits"
	NoIfInUnits        Code = "NoIfInUnits"
	BadBinaryOpInUnits Code = "BadBinaryOpInUnits"
	VariablesHaveErrors Code = "VariablesHaveErrors"
	UnitDefinitionErrors Code = "UnitDefinitionErrors"
	BadOverride        Code = "BadOverride"
	BadSimSpecs        Code = "BadSimSpecs"
	ProtobufDecode     Code = "ProtobufDecode"
	Generic            Code = "Generic"
)

// Kind identifies which layer of the system raised the error.
type Kind string

const (
	KindProject    Kind = "Project"
	KindModel      Kind = "Model"
	KindVariable   Kind = "Variable"
	KindUnits      Kind = "Units"
	KindSimulation Kind = "Simulation"
)

// Loc is a byte range into the original equation string. Zero values mean
// "no location" (project- or model-level errors that aren't anchored to
// one equation).
type Loc struct {
	Start int
	End   int
}

// Error is the engine-wide error value. It never wraps a lower-level Go
// error: every producer constructs one directly with the code that
// applies.
type Error struct {
	Code   Code
	Kind   Kind
	Ident  string // variable/model/unit name this error concerns, if any
	Loc    Loc
	Detail string
}

func (e *Error) Error() string {
	if e.Ident != "" {
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s (%s): %s", e.Kind, e.Code, e.Ident, e.Detail)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Code, e.Ident)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

// New builds a project/model-level error with no location.
func New(kind Kind, code Code, detail string) *Error {
	return &Error{Kind: kind, Code: code, Detail: detail}
}

// NewVar builds a variable-level error anchored to an ident, optionally
// with a location into its equation text.
func NewVar(code Code, ident string, loc Loc, detail string) *Error {
	return &Error{Kind: KindVariable, Code: code, Ident: ident, Loc: loc, Detail: detail}
}

// NewUnit builds a units-kind error.
func NewUnit(code Code, ident string, loc Loc, detail string) *Error {
	return &Error{Kind: KindUnits, Code: code, Ident: ident, Loc: loc, Detail: detail}
}

// List is a collection of engine errors; it itself satisfies error so it
// can be returned from functions that want to report everything they
// found in one shot.
type List []*Error

func (l List) Error() string {
	if len(l) == 0 {
		return "no errors"
	}
	if len(l) == 1 {
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more error(s))", l[0].Error(), len(l)-1)
}

// First returns the first error's code, or "" if the list is empty. The
// patch engine's atomic gate reports this alongside the full List.
func (l List) First() Code {
	if len(l) == 0 {
		return ""
	}
	return l[0].Code
}
