// Package ast defines the tree shape the compiler consumes.
//
// This tree is produced by an external parser (pkg/parser in this
// repository is one such producer, but the compiler's contract is with
// the shape below, not with any particular front end — see spec §6).
// Every node carries a Loc so that errors raised while lowering it can
// point back at source text.
package ast

import "github.com/smogvm/smog/pkg/ident"

// Loc is an opaque source position, carried on every node purely for
// error reporting. The compiler and interpreter never interpret it.
type Loc struct {
	Line, Col int
}

// LocEntry pairs an instruction-vector offset with the Loc of the node
// whose compilation began at that offset.
type LocEntry struct {
	PC  int
	Loc Loc
}

// LocMap is a PC-ascending side table the compiler builds alongside an
// ISeq so that runtime errors can report a source Loc even though the
// instruction vector itself carries none (spec §3's "Loc... stored in
// the VM only"). It is not part of the instruction set architecture —
// two ISeqs that differ only in their LocMap are byte-for-byte
// identical programs.
type LocMap []LocEntry

// At returns the Loc of the entry covering pc: the last entry whose PC
// is <= pc. Returns the zero Loc if m is empty or pc precedes every
// entry.
func (m LocMap) At(pc int) Loc {
	var best Loc
	for _, e := range m {
		if e.PC > pc {
			break
		}
		best = e.Loc
	}
	return best
}

// Node is implemented by every AST node kind.
type Node interface {
	Pos() Loc
}

// base embeds the shared Loc plumbing so node constructors don't each
// repeat a Pos() method.
type base struct {
	Loc Loc
}

func (b base) Pos() Loc { return b.Loc }

// BinOpKind enumerates the binary operators the compiler knows how to
// lower. Lt and Le are included even though the compiler rewrites them
// into Gt/Ge with swapped operands (§4.E) — the rewrite happens in the
// compiler, not in the AST.
type BinOpKind byte

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpShl
	OpShr
	OpBitOr
	OpBitAnd
	OpBitXor
	OpLAnd
	OpLOr
)

// TopLevel is the root of the tree. LvarTable maps an identifier id to
// the dense local-variable slot the parser assigned it; the compiler
// copies this table verbatim (spec §4.C) and never extends it.
type TopLevel struct {
	base
	Child     Node
	LvarTable map[ident.ID]uint32
}

// NilLit is the literal `nil`.
type NilLit struct{ base }

// BoolLit is a literal `true`/`false`.
type BoolLit struct {
	base
	Value bool
}

// NumberLit is an integer literal.
type NumberLit struct {
	base
	Value int64
}

// FloatLit is a floating-point literal.
type FloatLit struct {
	base
	Value float64
}

// StringLit is a string literal.
type StringLit struct {
	base
	Value string
}

// SelfValue is the `self` keyword expression.
type SelfValue struct{ base }

// RangeExpr is `start..end` (inclusive) or `start...end` (exclusive).
type RangeExpr struct {
	base
	Start, End Node
	Exclusive  bool
}

// Ident references a local variable by identifier id.
type Ident struct {
	base
	ID ident.ID
}

// Const references a constant by identifier id.
type Const struct {
	base
	ID ident.ID
}

// BinOp is a binary operator expression.
type BinOp struct {
	base
	Op       BinOpKind
	Lhs, Rhs Node
}

// CompStmt is a sequence of statements/expressions executed in order;
// the value of the last child is the value of the block.
type CompStmt struct {
	base
	Children []Node
}

// If is a conditional with both arms present (the parser desugars a
// missing `else` to a CompStmt with no children, which yields Nil).
type If struct {
	base
	Cond, Then, Else Node
}

// For is a counted loop over a range, binding Var on each iteration.
type For struct {
	base
	Var  Node // must be *Ident once parsed; enforced by the compiler
	Iter Node // must be *RangeExpr once parsed; enforced by the compiler
	Body Node
}

// Assign is `lhs = rhs`. Lhs is either an *Ident or a *Const; any other
// shape is a documented no-op per spec §4.E.
type Assign struct {
	base
	Lhs, Rhs Node
}

// Send is a message send: `receiver.method(args...)`. Method must be an
// *Ident; anything else is a compile-time SyntaxError.
type Send struct {
	base
	Receiver Node
	Method   Node
	Args     []Node
}

// Break and Next are loop-escape nodes, only meaningful inside a For
// body; the compiler rejects them outside of one.
type Break struct{ base }
type Next struct{ base }

// The following node kinds appear in the wider language this core is
// patterned after (classes, methods, blocks) but are never compiled by
// pkg/compiler — user-defined methods, instances, and blocks are out of
// scope per spec §1. They are kept here, unreachable from
// compiler.Compile, as the hook a future iteration would extend.

// ClassDef declares a class. Not compiled by this core.
type ClassDef struct {
	base
	Name       ident.ID
	Superclass ident.ID
	Body       []Node
}

// MethodDef declares a user method body. Not compiled by this core.
type MethodDef struct {
	base
	Name   ident.ID
	Params []ident.ID
	Body   Node
}

// BlockLit declares a proc/block literal. Not compiled by this core.
type BlockLit struct {
	base
	Params []ident.ID
	Body   Node
}

// Constructors. Each stamps Loc onto the returned node; callers (the
// parser, or hand-built test fixtures) supply it.

func NewTopLevel(loc Loc, child Node, lvars map[ident.ID]uint32) *TopLevel {
	return &TopLevel{base{loc}, child, lvars}
}
func NewNilLit(loc Loc) *NilLit          { return &NilLit{base{loc}} }
func NewBoolLit(loc Loc, v bool) *BoolLit { return &BoolLit{base{loc}, v} }
func NewNumberLit(loc Loc, v int64) *NumberLit { return &NumberLit{base{loc}, v} }
func NewFloatLit(loc Loc, v float64) *FloatLit { return &FloatLit{base{loc}, v} }
func NewStringLit(loc Loc, v string) *StringLit { return &StringLit{base{loc}, v} }
func NewSelfValue(loc Loc) *SelfValue { return &SelfValue{base{loc}} }
func NewRangeExpr(loc Loc, start, end Node, exclusive bool) *RangeExpr {
	return &RangeExpr{base{loc}, start, end, exclusive}
}
func NewIdent(loc Loc, id ident.ID) *Ident { return &Ident{base{loc}, id} }
func NewConst(loc Loc, id ident.ID) *Const { return &Const{base{loc}, id} }
func NewBinOp(loc Loc, op BinOpKind, lhs, rhs Node) *BinOp {
	return &BinOp{base{loc}, op, lhs, rhs}
}
func NewCompStmt(loc Loc, children []Node) *CompStmt { return &CompStmt{base{loc}, children} }
func NewIf(loc Loc, cond, then, els Node) *If        { return &If{base{loc}, cond, then, els} }
func NewFor(loc Loc, v, iter, body Node) *For        { return &For{base{loc}, v, iter, body} }
func NewAssign(loc Loc, lhs, rhs Node) *Assign       { return &Assign{base{loc}, lhs, rhs} }
func NewSend(loc Loc, recv, method Node, args []Node) *Send {
	return &Send{base{loc}, recv, method, args}
}
func NewBreak(loc Loc) *Break { return &Break{base{loc}} }
func NewNext(loc Loc) *Next   { return &Next{base{loc}} }
