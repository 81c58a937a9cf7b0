package compiler

import (
	"testing"

	"github.com/smogvm/smog/pkg/ast"
	"github.com/smogvm/smog/pkg/bytecode"
	"github.com/smogvm/smog/pkg/ident"
)

func TestCompileIntegerLiteral(t *testing.T) {
	idents := ident.New()
	loc := ast.Loc{}
	top := ast.NewTopLevel(loc, ast.NewNumberLit(loc, 42), nil)

	seq, _, err := Compile(top, idents)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if bytecode.Opcode(seq[0]) != bytecode.PUSH_FIXNUM {
		t.Fatalf("expected PUSH_FIXNUM first, got %s", bytecode.Opcode(seq[0]))
	}
	bits := bytecode.ReadU64(seq, 1)
	if int64(bits) != 42 {
		t.Errorf("expected operand 42, got %d", int64(bits))
	}
	last := bytecode.Opcode(seq[len(seq)-1])
	if last != bytecode.END {
		t.Errorf("expected trailing END, got %s", last)
	}
}

func TestCompileStringLiteral(t *testing.T) {
	idents := ident.New()
	loc := ast.Loc{}
	top := ast.NewTopLevel(loc, ast.NewStringLit(loc, "Hello"), nil)

	seq, _, err := Compile(top, idents)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if bytecode.Opcode(seq[0]) != bytecode.PUSH_STRING {
		t.Fatalf("expected PUSH_STRING, got %s", bytecode.Opcode(seq[0]))
	}
	id := ident.ID(bytecode.ReadU32(seq, 1))
	if idents.NameOf(id) != "Hello" {
		t.Errorf("expected interned string %q, got %q", "Hello", idents.NameOf(id))
	}
}

func TestCompileBinOpOrder(t *testing.T) {
	// 1 + 2: operands compile left-to-right, ADD follows.
	idents := ident.New()
	loc := ast.Loc{}
	node := ast.NewBinOp(loc, ast.OpAdd, ast.NewNumberLit(loc, 1), ast.NewNumberLit(loc, 2))
	top := ast.NewTopLevel(loc, node, nil)

	seq, _, err := Compile(top, idents)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	wantOps := []bytecode.Opcode{bytecode.PUSH_FIXNUM, bytecode.PUSH_FIXNUM, bytecode.ADD, bytecode.END}
	pc := 0
	for _, want := range wantOps {
		got := bytecode.Opcode(seq[pc])
		if got != want {
			t.Fatalf("at pc=%d: got %s, want %s", pc, got, want)
		}
		pc += 1 + bytecode.OperandWidth(got)
	}
}

func TestCompileLessThanRewrite(t *testing.T) {
	// a < b compiles as: push b, push a, GT — so at run time a is popped
	// first as the right operand and b second as the left, and GT
	// computes b > a, which is a < b.
	idents := ident.New()
	loc := ast.Loc{}
	node := ast.NewBinOp(loc, ast.OpLt, ast.NewNumberLit(loc, 1), ast.NewNumberLit(loc, 2))
	top := ast.NewTopLevel(loc, node, nil)

	seq, _, err := Compile(top, idents)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if bytecode.Opcode(seq[0]) != bytecode.PUSH_FIXNUM || int64(bytecode.ReadU64(seq, 1)) != 2 {
		t.Fatalf("expected rhs (2) pushed first")
	}
	if bytecode.Opcode(seq[9]) != bytecode.PUSH_FIXNUM || int64(bytecode.ReadU64(seq, 10)) != 1 {
		t.Fatalf("expected lhs (1) pushed second")
	}
	if bytecode.Opcode(seq[18]) != bytecode.GT {
		t.Fatalf("expected GT in place of LT, got %s", bytecode.Opcode(seq[18]))
	}
}

func TestCompileIfEmitsTwoFixups(t *testing.T) {
	idents := ident.New()
	loc := ast.Loc{}
	node := ast.NewIf(loc, ast.NewBoolLit(loc, true), ast.NewNumberLit(loc, 1), ast.NewNumberLit(loc, 2))
	top := ast.NewTopLevel(loc, node, nil)

	seq, _, err := Compile(top, idents)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	// PUSH_TRUE, JMP_IF_FALSE, PUSH_FIXNUM(1), JMP, PUSH_FIXNUM(2), END
	if bytecode.Opcode(seq[0]) != bytecode.PUSH_TRUE {
		t.Fatalf("expected PUSH_TRUE, got %s", bytecode.Opcode(seq[0]))
	}
	if bytecode.Opcode(seq[1]) != bytecode.JMP_IF_FALSE {
		t.Fatalf("expected JMP_IF_FALSE, got %s", bytecode.Opcode(seq[1]))
	}
	// The then arm's PUSH_FIXNUM starts at 6; the JMP over the else arm follows at 15.
	if bytecode.Opcode(seq[15]) != bytecode.JMP {
		t.Fatalf("expected JMP after the then arm, got %s", bytecode.Opcode(seq[15]))
	}
}

func TestCompileSendReversesArgs(t *testing.T) {
	idents := ident.New()
	loc := ast.Loc{}
	methodID := idents.Intern("foo")
	node := ast.NewSend(loc, ast.NewNilLit(loc), ast.NewIdent(loc, methodID),
		[]ast.Node{ast.NewNumberLit(loc, 1), ast.NewNumberLit(loc, 2)})
	top := ast.NewTopLevel(loc, node, nil)

	seq, _, err := Compile(top, idents)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	// arg[1]=2 first, arg[0]=1 second, then receiver (nil), then SEND.
	if int64(bytecode.ReadU64(seq, 1)) != 2 {
		t.Fatalf("expected second arg pushed first")
	}
	if int64(bytecode.ReadU64(seq, 10)) != 1 {
		t.Fatalf("expected first arg pushed second")
	}
	if bytecode.Opcode(seq[18]) != bytecode.PUSH_NIL {
		t.Fatalf("expected receiver pushed last, got %s", bytecode.Opcode(seq[18]))
	}
	if bytecode.Opcode(seq[19]) != bytecode.SEND {
		t.Fatalf("expected SEND, got %s", bytecode.Opcode(seq[19]))
	}
	gotMethod := ident.ID(bytecode.ReadU32(seq, 20))
	gotArgc := bytecode.ReadU32(seq, 24)
	if gotMethod != methodID || gotArgc != 2 {
		t.Fatalf("expected SEND %d argc=2, got %d argc=%d", methodID, gotMethod, gotArgc)
	}
}

func TestCompileSendRejectsNonIdentMethod(t *testing.T) {
	idents := ident.New()
	loc := ast.Loc{}
	node := ast.NewSend(loc, ast.NewNilLit(loc), ast.NewNumberLit(loc, 1), nil)
	top := ast.NewTopLevel(loc, node, nil)

	if _, _, err := Compile(top, idents); err == nil {
		t.Fatalf("expected a SyntaxError for a non-identifier send target")
	}
}

func TestCompileBreakOutsideLoopIsError(t *testing.T) {
	idents := ident.New()
	loc := ast.Loc{}
	top := ast.NewTopLevel(loc, ast.NewBreak(loc), nil)

	if _, _, err := Compile(top, idents); err == nil {
		t.Fatalf("expected a SyntaxError for break outside a loop")
	}
}

func TestCompileForPatchesBackwardJump(t *testing.T) {
	idents := ident.New()
	loc := ast.Loc{}
	iID := idents.Intern("i")
	lvars := map[ident.ID]uint32{iID: 0}
	forNode := ast.NewFor(loc, ast.NewIdent(loc, iID),
		ast.NewRangeExpr(loc, ast.NewNumberLit(loc, 0), ast.NewNumberLit(loc, 3), false),
		ast.NewCompStmt(loc, nil))
	top := ast.NewTopLevel(loc, forNode, lvars)

	seq, _, err := Compile(top, idents)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(seq) == 0 {
		t.Fatalf("expected a non-empty instruction vector")
	}
	// The loop-back JMP is the last instruction before END; it must land
	// on the bound check right after PUSH_FIXNUM 0 and SET_LOCAL.
	jmpAt := len(seq) - 1 - 5
	if bytecode.Opcode(seq[jmpAt]) != bytecode.JMP {
		t.Fatalf("expected JMP before END, got %s", bytecode.Opcode(seq[jmpAt]))
	}
	loopStart := 9 + 5
	if dest := jmpAt + 5 + int(bytecode.ReadI32(seq, jmpAt+1)); dest != loopStart {
		t.Fatalf("backward jump lands at %d, want %d", dest, loopStart)
	}
}

func TestLocMapCoversEntryPoint(t *testing.T) {
	idents := ident.New()
	loc := ast.Loc{Line: 3, Col: 7}
	top := ast.NewTopLevel(loc, ast.NewNumberLit(loc, 1), nil)

	_, locs, err := Compile(top, idents)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if got := locs.At(0); got != loc {
		t.Fatalf("got %+v, want %+v", got, loc)
	}
}
