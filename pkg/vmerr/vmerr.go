// Package vmerr implements the error taxonomy shared by the compiler
// and the interpreter (spec §7): one tagged kind raised at compile
// time and three for run time (one of which, Name, the core never
// raises), each carrying the Loc the core was looking at when it gave
// up.
//
// Errors are built on github.com/pkg/errors rather than bare fmt.Errorf
// (grounded on db47h-ngaro's vm package, which builds its entire error
// surface on errors.Wrap/errors.Wrapf/errors.Errorf) so a CLI-layer
// renderer can recover the original cause and a stack trace via
// errors.Cause and "%+v" without the core itself ever formatting
// anything for a terminal.
package vmerr

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/smogvm/smog/pkg/ast"
)

// Kind tags which of the four error categories in spec §7 an Error
// belongs to.
type Kind int

const (
	// SyntaxError is raised by the compiler when the AST shape it was
	// handed cannot be lowered: a non-identifier method target, a
	// non-identifier loop variable, a non-range For iterator, or a
	// Break/Next outside any loop.
	SyntaxError Kind = iota
	// NoMethod is raised at run time when an operand pair falls outside
	// an operator's coercion matrix, or EQ/NE compares incompatible
	// variants.
	NoMethod
	// Unimplemented is raised at run time when execution reaches a path
	// this core does not implement: an unknown constant in GET_CONST, or
	// an opcode the interpreter has no case for. A SEND to a method that
	// is not in the method table is NoMethod, not Unimplemented.
	Unimplemented
	// Name is reserved for naming violations (e.g. non-symbol arguments
	// to accessor generators in the unreached module layer). The core
	// itself never raises it; it exists so downstream layers share one
	// taxonomy.
	Name
)

func (k Kind) String() string {
	switch k {
	case SyntaxError:
		return "SyntaxError"
	case NoMethod:
		return "NoMethod"
	case Unimplemented:
		return "Unimplemented"
	case Name:
		return "Name"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error value raised across the compiler/VM
// boundary. It satisfies the standard error interface and unwraps to
// its cause, so errors.Is/errors.As keep working through it.
type Error struct {
	Kind Kind
	Loc  ast.Loc
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %d:%d: %v", e.Kind, e.Loc.Line, e.Loc.Col, e.err)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

// New builds an Error whose cause is a fresh message (via
// errors.Errorf, which attaches a stack trace at the point of call).
func New(kind Kind, loc ast.Loc, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Loc: loc, err: errors.Errorf(format, args...)}
}

// Wrap builds an Error around an existing error, preserving its cause
// chain via errors.Wrap.
func Wrap(kind Kind, loc ast.Loc, cause error, message string) *Error {
	return &Error{Kind: kind, Loc: loc, err: errors.Wrap(cause, message)}
}
