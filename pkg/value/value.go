// Package value implements the tagged dynamic value that flows through
// the smog virtual machine: every cell on the execution stack, every
// local-variable slot, and every constant-table entry holds one of
// these.
//
// Values are immutable and self-contained — there is no interior
// mutability anywhere in this package. Equality is structural for the
// primitive cases and by reference for Class/Instance handles (see
// Equal). Boolean coercion follows Ruby's rule: Nil and Bool(false) are
// falsy, everything else is truthy.
package value

import (
	"fmt"
	"strconv"
)

// Kind tags which variant a Value holds.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindFixNum
	KindFloatNum
	KindString
	KindChar
	KindRange
	KindClass
	KindInstance
)

// String names a Kind for error messages and disassembly.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "Nil"
	case KindBool:
		return "Bool"
	case KindFixNum:
		return "FixNum"
	case KindFloatNum:
		return "FloatNum"
	case KindString:
		return "String"
	case KindChar:
		return "Char"
	case KindRange:
		return "Range"
	case KindClass:
		return "Class"
	case KindInstance:
		return "Instance"
	default:
		return "Unknown"
	}
}

// Value is a tagged dynamic value. The zero Value is Nil.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	c     byte
	rng   *rangeData
	class *ClassRef
	inst  *InstanceRef
}

type rangeData struct {
	start, end Value
	exclusive  bool
}

// ClassRef is an opaque class handle. The core never constructs one on
// any path reachable from SEND; it exists only so the equality matrix
// in EQ/NE has something to compare by reference.
type ClassRef struct {
	Name string
}

// InstanceRef is an opaque instance handle, held for the same reason as
// ClassRef.
type InstanceRef struct {
	Class *ClassRef
}

// Nil is the absence of a value.
var Nil = Value{kind: KindNil}

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// FixNum constructs a 64-bit signed integer value.
func FixNum(i int64) Value { return Value{kind: KindFixNum, i: i} }

// FloatNum constructs a 64-bit IEEE-754 double value.
func FloatNum(f float64) Value { return Value{kind: KindFloatNum, f: f} }

// String constructs an immutable UTF-8 string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Char constructs a single-byte character value, as produced by chr.
func Char(c byte) Value { return Value{kind: KindChar, c: c} }

// Range constructs a range value over two inner values, exclusive of
// end iff excludeEnd is true.
func Range(start, end Value, excludeEnd bool) Value {
	return Value{kind: KindRange, rng: &rangeData{start: start, end: end, exclusive: excludeEnd}}
}

// Class constructs a class handle value.
func Class(ref *ClassRef) Value { return Value{kind: KindClass, class: ref} }

// Instance constructs an instance handle value.
func Instance(ref *InstanceRef) Value { return Value{kind: KindInstance, inst: ref} }

// Kind reports the variant tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is the Nil value.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsBool returns the underlying bool. Only valid when Kind() == KindBool.
func (v Value) AsBool() bool { return v.b }

// AsFixNum returns the underlying int64. Only valid when Kind() == KindFixNum.
func (v Value) AsFixNum() int64 { return v.i }

// AsFloatNum returns the underlying float64. Only valid when Kind() == KindFloatNum.
func (v Value) AsFloatNum() float64 { return v.f }

// AsString returns the underlying string. Only valid when Kind() == KindString.
func (v Value) AsString() string { return v.s }

// AsChar returns the underlying byte. Only valid when Kind() == KindChar.
func (v Value) AsChar() byte { return v.c }

// RangeStart returns the inner start value. Only valid when Kind() == KindRange.
func (v Value) RangeStart() Value { return v.rng.start }

// RangeEnd returns the inner end value. Only valid when Kind() == KindRange.
func (v Value) RangeEnd() Value { return v.rng.end }

// RangeExcludeEnd reports the exclusivity flag. Only valid when Kind() == KindRange.
func (v Value) RangeExcludeEnd() bool { return v.rng.exclusive }

// AsClass returns the underlying class handle. Only valid when Kind() == KindClass.
func (v Value) AsClass() *ClassRef { return v.class }

// AsInstance returns the underlying instance handle. Only valid when Kind() == KindInstance.
func (v Value) AsInstance() *InstanceRef { return v.inst }

// ToBool applies Ruby-style truthiness: only Nil and false are falsy.
func (v Value) ToBool() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.b
	default:
		return true
	}
}

// ToDisplayString renders v the way puts/print/chr expect: Nil as
// empty, bools as "true"/"false", numbers in their natural textual
// form, strings verbatim, ranges as "(start..end)" / "(start...end)",
// and Char as its lowercase hex byte.
func (v Value) ToDisplayString() string {
	switch v.kind {
	case KindNil:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindFixNum:
		return strconv.FormatInt(v.i, 10)
	case KindFloatNum:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindChar:
		return fmt.Sprintf("%02x", v.c)
	case KindRange:
		sep := ".."
		if v.rng.exclusive {
			sep = "..."
		}
		return "(" + v.rng.start.ToDisplayString() + sep + v.rng.end.ToDisplayString() + ")"
	case KindClass:
		return v.class.Name
	case KindInstance:
		return "#<instance>"
	default:
		return ""
	}
}

// Equal implements the structural/by-reference comparison used by
// like-kind operands under EQ/NE and assert: primitive cases compare
// structurally, Class and Instance compare by reference, and values of
// unlike kind are never equal (including the FixNum/FloatNum pair —
// numeric equality across kinds is not part of this matrix). Both EQ/NE
// and assert reject a kind mismatch as a NoMethod error before ever
// calling Equal (spec §4.F: "unlike pairs fail"), so the false returned
// here for mismatched kinds is only ever observed by other internal
// callers, not by smog programs.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == other.b
	case KindFixNum:
		return v.i == other.i
	case KindFloatNum:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindChar:
		return v.c == other.c
	case KindRange:
		return v.rng.exclusive == other.rng.exclusive &&
			v.rng.start.Equal(other.rng.start) &&
			v.rng.end.Equal(other.rng.end)
	case KindClass:
		return v.class == other.class
	case KindInstance:
		return v.inst == other.inst
	default:
		return false
	}
}

// IsNumeric reports whether v is a FixNum or a FloatNum.
func (v Value) IsNumeric() bool {
	return v.kind == KindFixNum || v.kind == KindFloatNum
}
