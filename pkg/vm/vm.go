// Package vm implements the bytecode virtual machine for smog.
//
// The VM is a stack-based interpreter that executes the instruction
// vector pkg/compiler produces. It's the final stage in the pipeline:
//
//   Source text -> Lexer -> Parser -> AST -> Compiler -> ISeq -> VM -> Value
//
// Virtual Machine Architecture:
//
// The VM has four pieces of state (spec §3):
//
//   1. Execution stack: a []value.Value operand stack.
//   2. Local frame: a single flat []value.Value of at least 64 slots,
//      indexed by the slot ids the parser assigned (no call stack —
//      user-defined methods are out of scope, so there is never more
//      than one frame).
//   3. Constant table: identifier id -> Value, written by SET_CONST
//      and read by GET_CONST.
//   4. Method table: identifier id -> BuiltinFunc, consulted by SEND.
//
// Execution Model:
//
// Run walks the ISeq with a raw byte program counter, decoding one
// opcode at a time per pkg/bytecode's fixed-width operand encoding.
// There is no separate fetch/decode/execute staging — each case in the
// dispatch switch does all three for its opcode.
//
// Example Execution:
//
//   Source: 1 + 2 * 3
//
//   ISeq:
//     PUSH_FIXNUM 1
//     PUSH_FIXNUM 2
//     PUSH_FIXNUM 3
//     MUL
//     ADD
//     END
//
//   Execution trace:
//     PUSH_FIXNUM 1 -> stack=[1]
//     PUSH_FIXNUM 2 -> stack=[1,2]
//     PUSH_FIXNUM 3 -> stack=[1,2,3]
//     MUL           -> stack=[1,6]      (pop 3, pop 2, push 2*3)
//     ADD           -> stack=[7]        (pop 6, pop 1, push 1+6)
//     END           -> result = 7
//
// Binary opcodes always pop the right-hand value first, then the
// left-hand value, then apply the operator as lhs OP rhs — even though
// the names on the stack are reversed from the source order by the
// time the opcode runs. The compiler's Lt/Le rewrite and the For loop's
// bound check both lean on this same convention (spec §4.E/§4.F).
//
// Message Dispatch:
//
// SEND pops a receiver and an argument vector and looks the selector
// up in the method table. This core only ever populates that table
// with builtins (puts, print, chr, assert) — user-defined methods are
// a documented Non-goal, so dispatch never reaches the Unimplemented
// path spec §7 reserves for them.
//
// Error Handling:
//
// Runtime errors are *vmerr.Error values carrying the Loc the compiler
// recorded for the instruction that failed, looked up via the LocMap
// Compile returns alongside the ISeq.
package vm

import (
	"fmt"
	"math"
	"os"

	"github.com/smogvm/smog/pkg/ast"
	"github.com/smogvm/smog/pkg/bytecode"
	"github.com/smogvm/smog/pkg/ident"
	"github.com/smogvm/smog/pkg/value"
	"github.com/smogvm/smog/pkg/vmerr"
)

// minFrameSize is the smallest local frame Run ever allocates, even for
// a program with no locals at all (spec §3).
const minFrameSize = 64

// BuiltinFunc is one entry of the method table: a name (for error
// messages), the receiver Kind it applies to, and the Go function that
// implements it.
type BuiltinFunc struct {
	Name     string
	Receiver value.Kind
	Fn       func(receiver value.Value, args []value.Value) (value.Value, error)
}

// VM holds the state of one execution. A VM is reusable across Run
// calls: the constant table persists (so a REPL session can build up
// constants across separate inputs), but the execution stack and local
// frame are reset at the start of every Run.
type VM struct {
	idents  *ident.Table
	consts  map[ident.ID]value.Value
	methods map[ident.ID]*BuiltinFunc

	stack []value.Value
	frame []value.Value
}

// New builds a VM with the builtin method table installed (spec §4.G).
func New(idents *ident.Table) *VM {
	vm := &VM{
		idents:  idents,
		consts:  make(map[ident.ID]value.Value),
		methods: make(map[ident.ID]*BuiltinFunc),
	}
	vm.registerBuiltin("puts", value.KindNil, builtinPuts)
	vm.registerBuiltin("print", value.KindNil, builtinPrint)
	vm.registerBuiltin("assert", value.KindNil, builtinAssert)
	vm.registerBuiltin("chr", value.KindFixNum, builtinChr)
	return vm
}

func (vm *VM) registerBuiltin(name string, receiver value.Kind, fn func(value.Value, []value.Value) (value.Value, error)) {
	id := vm.idents.Intern(name)
	vm.methods[id] = &BuiltinFunc{Name: name, Receiver: receiver, Fn: fn}
}

// Run executes seq to completion and returns the program result: the
// top of the execution stack at END, or Nil if the stack is empty
// (spec §4.F). numLocals is the local count the parser's lvar
// collector produced for the compiled program (ast.TopLevel.LvarTable
// length); the frame is sized to the larger of that and minFrameSize.
func (vm *VM) Run(seq bytecode.ISeq, locs ast.LocMap, numLocals int) (value.Value, error) {
	size := numLocals
	if size < minFrameSize {
		size = minFrameSize
	}
	vm.stack = vm.stack[:0]
	vm.frame = make([]value.Value, size)

	pc := 0
	for pc < len(seq) {
		opStart := pc
		op := bytecode.Opcode(seq[pc])
		pc++

		switch op {
		case bytecode.END:
			return vm.top(), nil

		case bytecode.PUSH_FIXNUM:
			bits := bytecode.ReadU64(seq, pc)
			pc += 8
			vm.push(value.FixNum(int64(bits)))

		case bytecode.PUSH_FLONUM:
			bits := bytecode.ReadU64(seq, pc)
			pc += 8
			vm.push(value.FloatNum(math.Float64frombits(bits)))

		case bytecode.PUSH_TRUE:
			vm.push(value.Bool(true))

		case bytecode.PUSH_FALSE:
			vm.push(value.Bool(false))

		case bytecode.PUSH_NIL:
			vm.push(value.Nil)

		case bytecode.PUSH_SELF:
			// self is unsupported in this core (spec §4.F); every send's
			// implicit receiver resolves to Nil, same as top-level code.
			vm.push(value.Nil)

		case bytecode.PUSH_STRING:
			id := ident.ID(bytecode.ReadU32(seq, pc))
			pc += 4
			vm.push(value.String(vm.idents.NameOf(id)))

		case bytecode.GET_LOCAL:
			slot := bytecode.ReadU32(seq, pc)
			pc += 4
			vm.push(vm.frame[slot])

		case bytecode.SET_LOCAL:
			slot := bytecode.ReadU32(seq, pc)
			pc += 4
			vm.frame[slot] = vm.top()

		case bytecode.GET_CONST:
			id := ident.ID(bytecode.ReadU32(seq, pc))
			pc += 4
			v, ok := vm.consts[id]
			if !ok {
				return value.Nil, vmerr.New(vmerr.Unimplemented, locs.At(opStart), "uninitialized constant %s", vm.idents.NameOf(id))
			}
			vm.push(v)

		case bytecode.SET_CONST:
			id := ident.ID(bytecode.ReadU32(seq, pc))
			pc += 4
			vm.consts[id] = vm.top()

		case bytecode.JMP:
			disp := bytecode.ReadI32(seq, pc)
			pc += 4
			pc += int(disp)

		case bytecode.JMP_IF_FALSE:
			disp := bytecode.ReadI32(seq, pc)
			pc += 4
			cond := vm.pop()
			if !cond.ToBool() {
				pc += int(disp)
			}

		case bytecode.CREATE_RANGE:
			start := vm.pop()
			end := vm.pop()
			excl := vm.pop()
			vm.push(value.Range(start, end, excl.ToBool()))

		case bytecode.EQ, bytecode.NE:
			b := vm.pop()
			a := vm.pop()
			if a.Kind() != b.Kind() {
				return value.Nil, vmerr.New(vmerr.NoMethod, locs.At(opStart), "no method for %s and %s", a.Kind(), b.Kind())
			}
			eq := a.Equal(b)
			if op == bytecode.NE {
				eq = !eq
			}
			vm.push(value.Bool(eq))

		case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV,
			bytecode.GT, bytecode.GE,
			bytecode.SHL, bytecode.SHR, bytecode.BIT_OR, bytecode.BIT_AND, bytecode.BIT_XOR:
			b := vm.pop()
			a := vm.pop()
			result, err := evalBinOp(op, a, b)
			if err != nil {
				return value.Nil, vmerr.Wrap(vmerr.NoMethod, locs.At(opStart), err, "binary operator")
			}
			vm.push(result)

		case bytecode.SEND:
			methodID := ident.ID(bytecode.ReadU32(seq, pc))
			argc := bytecode.ReadU32(seq, pc+4)
			pc += 8
			receiver := vm.pop()
			args := make([]value.Value, argc)
			for i := 0; i < int(argc); i++ {
				args[i] = vm.pop()
			}
			result, err := vm.dispatch(receiver, methodID, args, locs.At(opStart))
			if err != nil {
				return value.Nil, err
			}
			vm.push(result)

		default:
			return value.Nil, vmerr.New(vmerr.Unimplemented, locs.At(opStart), "opcode %s is not implemented", op)
		}
	}
	return vm.top(), nil
}

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() value.Value {
	if len(vm.stack) == 0 {
		panic("vm: execution stack underflow")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) top() value.Value {
	if len(vm.stack) == 0 {
		return value.Nil
	}
	return vm.stack[len(vm.stack)-1]
}

func (vm *VM) dispatch(receiver value.Value, methodID ident.ID, args []value.Value, loc ast.Loc) (value.Value, error) {
	fn, ok := vm.methods[methodID]
	name := vm.idents.NameOf(methodID)
	if !ok {
		return value.Nil, vmerr.New(vmerr.NoMethod, loc, "undefined method %q", name)
	}
	if fn.Receiver != receiver.Kind() {
		return value.Nil, vmerr.New(vmerr.NoMethod, loc, "undefined method %q for %s", name, receiver.Kind())
	}
	result, err := fn.Fn(receiver, args)
	if err != nil {
		if _, ok := err.(*vmerr.Error); !ok {
			return value.Nil, vmerr.Wrap(vmerr.NoMethod, loc, err, name)
		}
	}
	return result, err
}

// evalBinOp implements the coercion matrix for the arithmetic,
// comparison and bitwise opcodes (spec §4.F): FixNum/FixNum arithmetic
// stays integral; mixing in a FloatNum promotes both operands; bitwise
// and shift opcodes require FixNum on both sides.
func evalBinOp(op bytecode.Opcode, a, b value.Value) (value.Value, error) {
	switch op {
	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV:
		if a.Kind() == value.KindFixNum && b.Kind() == value.KindFixNum {
			return evalIntArith(op, a.AsFixNum(), b.AsFixNum())
		}
		af, aok := numeric(a)
		bf, bok := numeric(b)
		if !aok || !bok {
			return value.Nil, fmt.Errorf("no method for %s and %s", a.Kind(), b.Kind())
		}
		return evalFloatArith(op, af, bf)

	case bytecode.GT, bytecode.GE:
		af, aok := numeric(a)
		bf, bok := numeric(b)
		if !aok || !bok {
			return value.Nil, fmt.Errorf("no method for %s and %s", a.Kind(), b.Kind())
		}
		if op == bytecode.GT {
			return value.Bool(af > bf), nil
		}
		return value.Bool(af >= bf), nil

	case bytecode.SHL, bytecode.SHR, bytecode.BIT_OR, bytecode.BIT_AND, bytecode.BIT_XOR:
		if a.Kind() != value.KindFixNum || b.Kind() != value.KindFixNum {
			return value.Nil, fmt.Errorf("no method for %s and %s", a.Kind(), b.Kind())
		}
		return evalBitwise(op, a.AsFixNum(), b.AsFixNum())

	default:
		panic("vm: evalBinOp called with a non-binary opcode")
	}
}

func numeric(v value.Value) (float64, bool) {
	switch v.Kind() {
	case value.KindFixNum:
		return float64(v.AsFixNum()), true
	case value.KindFloatNum:
		return v.AsFloatNum(), true
	default:
		return 0, false
	}
}

func evalIntArith(op bytecode.Opcode, a, b int64) (value.Value, error) {
	switch op {
	case bytecode.ADD:
		return value.FixNum(a + b), nil
	case bytecode.SUB:
		return value.FixNum(a - b), nil
	case bytecode.MUL:
		return value.FixNum(a * b), nil
	case bytecode.DIV:
		if b == 0 {
			return value.Nil, fmt.Errorf("divided by 0")
		}
		return value.FixNum(a / b), nil
	default:
		panic("vm: evalIntArith called with a non-arithmetic opcode")
	}
}

func evalFloatArith(op bytecode.Opcode, a, b float64) (value.Value, error) {
	switch op {
	case bytecode.ADD:
		return value.FloatNum(a + b), nil
	case bytecode.SUB:
		return value.FloatNum(a - b), nil
	case bytecode.MUL:
		return value.FloatNum(a * b), nil
	case bytecode.DIV:
		return value.FloatNum(a / b), nil
	default:
		panic("vm: evalFloatArith called with a non-arithmetic opcode")
	}
}

func evalBitwise(op bytecode.Opcode, a, b int64) (value.Value, error) {
	switch op {
	case bytecode.BIT_OR:
		return value.FixNum(a | b), nil
	case bytecode.BIT_AND:
		return value.FixNum(a & b), nil
	case bytecode.BIT_XOR:
		return value.FixNum(a ^ b), nil
	case bytecode.SHL, bytecode.SHR:
		if b < 0 {
			return value.Nil, fmt.Errorf("negative shift count")
		}
		if op == bytecode.SHL {
			return value.FixNum(a << uint(b)), nil
		}
		return value.FixNum(a >> uint(b)), nil
	default:
		panic("vm: evalBitwise called with a non-bitwise opcode")
	}
}

func builtinPuts(_ value.Value, args []value.Value) (value.Value, error) {
	for _, a := range args {
		fmt.Println(a.ToDisplayString())
	}
	return value.Nil, nil
}

func builtinPrint(_ value.Value, args []value.Value) (value.Value, error) {
	for _, a := range args {
		if a.Kind() == value.KindChar {
			os.Stdout.Write([]byte{a.AsChar()})
			continue
		}
		fmt.Print(a.ToDisplayString())
	}
	return value.Nil, nil
}

// builtinAssert aborts the host process on failure rather than
// returning an error (spec §4.G); it is the one documented exception
// to this core's explicit-error-return convention. It takes exactly
// two arguments and compares them via the same kind-matched equality
// matrix as EQ (spec §4.G: "compare equal via the same matrix as EQ"),
// so a kind mismatch is a NoMethod error rather than a silent failure.
func builtinAssert(_ value.Value, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Nil, fmt.Errorf("wrong number of arguments (expected 2, got %d)", len(args))
	}
	expected, actual := args[0], args[1]
	if expected.Kind() != actual.Kind() {
		return value.Nil, fmt.Errorf("no method for %s and %s", expected.Kind(), actual.Kind())
	}
	if !expected.Equal(actual) {
		fmt.Fprintf(os.Stderr, "assertion failed: expected %s, got %s\n",
			expected.ToDisplayString(), actual.ToDisplayString())
		os.Exit(1)
	}
	return value.Nil, nil
}

func builtinChr(receiver value.Value, _ []value.Value) (value.Value, error) {
	return value.Char(byte(receiver.AsFixNum())), nil
}
