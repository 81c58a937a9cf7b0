// Package compiler lowers an AST (pkg/ast) into a flat, byte-encoded
// instruction vector (pkg/bytecode) that pkg/vm can execute directly.
//
// Compilation Model:
//
// The compiler walks the tree once, emitting instructions directly
// into a shared ISeq (spec §3 "Instruction vector"); there is no
// intermediate representation between the AST and the final bytecode.
// Forward jumps (If, short-circuit And/Or, loop exits, Break/Next) are
// handled by a fixup: a placeholder 32-bit displacement is emitted and
// its byte offset recorded; once the jump's destination is known, the
// displacement is patched in place. Backward jumps (the loop-back edge
// of a For) are emitted directly since their destination is already
// known.
//
// Local variables are never looked up by name during compilation — the
// AST's TopLevel carries the lvar table the parser already built, and
// every GET_LOCAL/SET_LOCAL the compiler emits is resolved against it.
// An identifier missing from that table is a contract violation by
// whatever produced the AST, not a user-facing error, so the compiler
// panics rather than returning an error (spec §4.C).
package compiler

import (
	"math"

	"github.com/smogvm/smog/pkg/ast"
	"github.com/smogvm/smog/pkg/bytecode"
	"github.com/smogvm/smog/pkg/ident"
	"github.com/smogvm/smog/pkg/vmerr"
)

// escapeTag distinguishes a Break fixup from a Next fixup within a
// loop-escape list.
type escapeTag byte

const (
	tagBreak escapeTag = iota
	tagNext
)

type escapeEntry struct {
	fixup bytecode.Fixup
	tag   escapeTag
}

// Compiler holds the mutable state of a single compilation pass. A
// Compiler is single-use: construct one per call to Compile.
type Compiler struct {
	seq    bytecode.ISeq
	idents *ident.Table
	lvars  map[ident.ID]uint32
	loops  [][]escapeEntry
	locs   ast.LocMap
}

// Compile lowers top into a trailing-END-terminated instruction vector.
// idents is the identifier table shared with the eventual interpreter
// — used here only to intern string-literal contents for PUSH_STRING.
//
// Alongside the ISeq, Compile returns a LocMap: a side table the
// interpreter consults to attach a source Loc to a runtime error,
// since the instruction vector itself carries none (spec §3).
func Compile(top *ast.TopLevel, idents *ident.Table) (bytecode.ISeq, ast.LocMap, error) {
	c := &Compiler{
		idents: idents,
		lvars:  top.LvarTable,
	}
	if err := c.compile(top.Child); err != nil {
		return nil, nil, err
	}
	c.seq = c.seq.EmitOp(bytecode.END)
	return c.seq, c.locs, nil
}

func (c *Compiler) lvarOf(id ident.ID) uint32 {
	slot, ok := c.lvars[id]
	if !ok {
		panic("compiler: identifier has no local-variable slot")
	}
	return slot
}

func (c *Compiler) compile(node ast.Node) error {
	c.locs = append(c.locs, ast.LocEntry{PC: len(c.seq), Loc: node.Pos()})
	switch n := node.(type) {
	case *ast.NilLit:
		c.seq = c.seq.EmitOp(bytecode.PUSH_NIL)
		return nil

	case *ast.BoolLit:
		if n.Value {
			c.seq = c.seq.EmitOp(bytecode.PUSH_TRUE)
		} else {
			c.seq = c.seq.EmitOp(bytecode.PUSH_FALSE)
		}
		return nil

	case *ast.NumberLit:
		c.seq = c.seq.EmitU64(bytecode.PUSH_FIXNUM, uint64(n.Value))
		return nil

	case *ast.FloatLit:
		c.seq = c.seq.EmitU64(bytecode.PUSH_FLONUM, math.Float64bits(n.Value))
		return nil

	case *ast.StringLit:
		id := c.idents.Intern(n.Value)
		c.seq = c.seq.EmitU32(bytecode.PUSH_STRING, uint32(id))
		return nil

	case *ast.SelfValue:
		c.seq = c.seq.EmitOp(bytecode.PUSH_SELF)
		return nil

	case *ast.Ident:
		c.seq = c.seq.EmitU32(bytecode.GET_LOCAL, c.lvarOf(n.ID))
		return nil

	case *ast.Const:
		c.seq = c.seq.EmitU32(bytecode.GET_CONST, uint32(n.ID))
		return nil

	case *ast.RangeExpr:
		if n.Exclusive {
			c.seq = c.seq.EmitOp(bytecode.PUSH_TRUE)
		} else {
			c.seq = c.seq.EmitOp(bytecode.PUSH_FALSE)
		}
		if err := c.compile(n.End); err != nil {
			return err
		}
		if err := c.compile(n.Start); err != nil {
			return err
		}
		c.seq = c.seq.EmitOp(bytecode.CREATE_RANGE)
		return nil

	case *ast.BinOp:
		return c.compileBinOp(n)

	case *ast.CompStmt:
		for _, child := range n.Children {
			if err := c.compile(child); err != nil {
				return err
			}
		}
		return nil

	case *ast.If:
		if err := c.compile(n.Cond); err != nil {
			return err
		}
		seq, thenFixup := c.seq.EmitJump(bytecode.JMP_IF_FALSE)
		c.seq = seq
		if err := c.compile(n.Then); err != nil {
			return err
		}
		seq, elseFixup := c.seq.EmitJump(bytecode.JMP)
		c.seq = seq
		bytecode.PatchJump(c.seq, thenFixup, len(c.seq))
		if err := c.compile(n.Else); err != nil {
			return err
		}
		bytecode.PatchJump(c.seq, elseFixup, len(c.seq))
		return nil

	case *ast.Assign:
		if err := c.compile(n.Rhs); err != nil {
			return err
		}
		switch lhs := n.Lhs.(type) {
		case *ast.Ident:
			c.seq = c.seq.EmitU32(bytecode.SET_LOCAL, c.lvarOf(lhs.ID))
		case *ast.Const:
			c.seq = c.seq.EmitU32(bytecode.SET_CONST, uint32(lhs.ID))
		default:
			// Known limitation (spec §4.E, §9 open question): any other
			// assignment target is silently ignored; the rhs value is
			// still left on the stack as the expression's value.
		}
		return nil

	case *ast.Send:
		method, ok := n.Method.(*ast.Ident)
		if !ok {
			return vmerr.New(vmerr.SyntaxError, n.Method.Pos(), "send target must be an identifier")
		}
		for i := len(n.Args) - 1; i >= 0; i-- {
			if err := c.compile(n.Args[i]); err != nil {
				return err
			}
		}
		if err := c.compile(n.Receiver); err != nil {
			return err
		}
		c.seq = c.seq.EmitU32x2(bytecode.SEND, uint32(method.ID), uint32(len(n.Args)))
		return nil

	case *ast.For:
		return c.compileFor(n)

	case *ast.Break:
		if len(c.loops) == 0 {
			return vmerr.New(vmerr.SyntaxError, n.Pos(), "break outside of a loop")
		}
		c.seq = c.seq.EmitOp(bytecode.PUSH_NIL)
		seq, fixup := c.seq.EmitJump(bytecode.JMP)
		c.seq = seq
		top := len(c.loops) - 1
		c.loops[top] = append(c.loops[top], escapeEntry{fixup, tagBreak})
		return nil

	case *ast.Next:
		if len(c.loops) == 0 {
			return vmerr.New(vmerr.SyntaxError, n.Pos(), "next outside of a loop")
		}
		c.seq = c.seq.EmitOp(bytecode.PUSH_NIL)
		seq, fixup := c.seq.EmitJump(bytecode.JMP)
		c.seq = seq
		top := len(c.loops) - 1
		c.loops[top] = append(c.loops[top], escapeEntry{fixup, tagNext})
		return nil

	default:
		return vmerr.New(vmerr.SyntaxError, node.Pos(), "node kind %T is not compiled by this core", node)
	}
}

func (c *Compiler) compileBinOp(n *ast.BinOp) error {
	switch n.Op {
	case ast.OpLt, ast.OpLe:
		if err := c.compile(n.Rhs); err != nil {
			return err
		}
		if err := c.compile(n.Lhs); err != nil {
			return err
		}
		if n.Op == ast.OpLt {
			c.seq = c.seq.EmitOp(bytecode.GT)
		} else {
			c.seq = c.seq.EmitOp(bytecode.GE)
		}
		return nil

	case ast.OpLAnd:
		if err := c.compile(n.Lhs); err != nil {
			return err
		}
		seq, f1 := c.seq.EmitJump(bytecode.JMP_IF_FALSE)
		c.seq = seq
		if err := c.compile(n.Rhs); err != nil {
			return err
		}
		seq, f2 := c.seq.EmitJump(bytecode.JMP)
		c.seq = seq
		bytecode.PatchJump(c.seq, f1, len(c.seq))
		c.seq = c.seq.EmitOp(bytecode.PUSH_FALSE)
		bytecode.PatchJump(c.seq, f2, len(c.seq))
		return nil

	case ast.OpLOr:
		if err := c.compile(n.Lhs); err != nil {
			return err
		}
		seq, f1 := c.seq.EmitJump(bytecode.JMP_IF_FALSE)
		c.seq = seq
		c.seq = c.seq.EmitOp(bytecode.PUSH_TRUE)
		seq, f2 := c.seq.EmitJump(bytecode.JMP)
		c.seq = seq
		bytecode.PatchJump(c.seq, f1, len(c.seq))
		if err := c.compile(n.Rhs); err != nil {
			return err
		}
		bytecode.PatchJump(c.seq, f2, len(c.seq))
		return nil

	default:
		if err := c.compile(n.Lhs); err != nil {
			return err
		}
		if err := c.compile(n.Rhs); err != nil {
			return err
		}
		c.seq = c.seq.EmitOp(opcodeFor(n.Op))
		return nil
	}
}

func opcodeFor(op ast.BinOpKind) bytecode.Opcode {
	switch op {
	case ast.OpAdd:
		return bytecode.ADD
	case ast.OpSub:
		return bytecode.SUB
	case ast.OpMul:
		return bytecode.MUL
	case ast.OpDiv:
		return bytecode.DIV
	case ast.OpEq:
		return bytecode.EQ
	case ast.OpNe:
		return bytecode.NE
	case ast.OpGt:
		return bytecode.GT
	case ast.OpGe:
		return bytecode.GE
	case ast.OpShl:
		return bytecode.SHL
	case ast.OpShr:
		return bytecode.SHR
	case ast.OpBitOr:
		return bytecode.BIT_OR
	case ast.OpBitAnd:
		return bytecode.BIT_AND
	case ast.OpBitXor:
		return bytecode.BIT_XOR
	default:
		panic("compiler: unhandled BinOpKind")
	}
}

func (c *Compiler) compileFor(n *ast.For) error {
	id, ok := n.Var.(*ast.Ident)
	if !ok {
		return vmerr.New(vmerr.SyntaxError, n.Var.Pos(), "for-loop variable must be an identifier")
	}
	rng, ok := n.Iter.(*ast.RangeExpr)
	if !ok {
		return vmerr.New(vmerr.SyntaxError, n.Iter.Pos(), "for-loop iterator must be a range")
	}

	c.loops = append(c.loops, nil)

	if err := c.compile(rng.Start); err != nil {
		return err
	}
	c.seq = c.seq.EmitU32(bytecode.SET_LOCAL, c.lvarOf(id.ID))

	loopStart := len(c.seq)

	if err := c.compile(rng.End); err != nil {
		return err
	}
	c.seq = c.seq.EmitU32(bytecode.GET_LOCAL, c.lvarOf(id.ID))
	if rng.Exclusive {
		c.seq = c.seq.EmitOp(bytecode.GT)
	} else {
		c.seq = c.seq.EmitOp(bytecode.GE)
	}

	seq, exitFixup := c.seq.EmitJump(bytecode.JMP_IF_FALSE)
	c.seq = seq

	if err := c.compile(n.Body); err != nil {
		return err
	}

	loopContinue := len(c.seq)

	c.seq = c.seq.EmitU32(bytecode.GET_LOCAL, c.lvarOf(id.ID))
	c.seq = c.seq.EmitU64(bytecode.PUSH_FIXNUM, uint64(1))
	c.seq = c.seq.EmitOp(bytecode.ADD)
	c.seq = c.seq.EmitU32(bytecode.SET_LOCAL, c.lvarOf(id.ID))

	seq, backFixup := c.seq.EmitJump(bytecode.JMP)
	c.seq = seq
	bytecode.PatchJump(c.seq, backFixup, loopStart)

	bytecode.PatchJump(c.seq, exitFixup, len(c.seq))

	escapes := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]
	loopEnd := len(c.seq)
	for _, e := range escapes {
		if e.tag == tagBreak {
			bytecode.PatchJump(c.seq, e.fixup, loopEnd)
		} else {
			bytecode.PatchJump(c.seq, e.fixup, loopContinue)
		}
	}
	return nil
}
