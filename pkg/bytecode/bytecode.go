// Package bytecode defines the instruction set architecture smog's
// compiler emits into and its interpreter fetches from: a flat,
// mutable byte vector (an ISeq) plus the opcode constants and
// big-endian operand encoders/decoders shared by both sides.
//
// Architecture:
//
// The ISeq is a stack machine's program: one byte opcode followed by a
// fixed number of operand bytes whose width is determined entirely by
// the opcode (no variable-length encoding, no alignment padding).
// Operand immediates are always big-endian: u32 for identifiers, local
// ids, counts and jump displacements; u64 for fixnum/float bit
// patterns. Every opcode's operand layout is fixed so the interpreter
// never needs to consult a side table to know how far to advance pc.
//
// Example:
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
package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/smogvm/smog/pkg/ident"
)

// Opcode is a single-byte instruction tag.
type Opcode byte

// The canonical opcode set (spec §4.D). Values are fixed, not iota'd
// from an arbitrary starting point, since a disassembler or a future
// on-disk format (were one ever added) would depend on stable codes.
const (
	END           Opcode = 0
	PUSH_FIXNUM   Opcode = 1
	PUSH_FLONUM   Opcode = 2
	ADD           Opcode = 3
	SUB           Opcode = 4
	MUL           Opcode = 5
	DIV           Opcode = 6
	EQ            Opcode = 7
	NE            Opcode = 8
	GT            Opcode = 9
	GE            Opcode = 10
	PUSH_TRUE     Opcode = 11
	PUSH_FALSE    Opcode = 12
	PUSH_NIL      Opcode = 13
	SHR           Opcode = 14
	SHL           Opcode = 15
	BIT_OR        Opcode = 16
	BIT_AND       Opcode = 17
	BIT_XOR       Opcode = 18
	JMP           Opcode = 19
	JMP_IF_FALSE  Opcode = 20
	SET_LOCAL     Opcode = 21
	GET_LOCAL     Opcode = 22
	SEND          Opcode = 23
	PUSH_SELF     Opcode = 24
	CREATE_RANGE  Opcode = 25
	GET_CONST     Opcode = 26
	SET_CONST     Opcode = 27
	PUSH_STRING   Opcode = 28
)

// OperandWidth returns the number of operand bytes that follow op's
// opcode byte, not counting the opcode itself.
func OperandWidth(op Opcode) int {
	switch op {
	case PUSH_FIXNUM, PUSH_FLONUM:
		return 8
	case JMP, JMP_IF_FALSE:
		return 4
	case SET_LOCAL, GET_LOCAL, PUSH_STRING, GET_CONST, SET_CONST:
		return 4
	case SEND:
		return 8 // method_id u32 + argc u32
	default:
		return 0
	}
}

// String names an opcode for disassembly.
func (op Opcode) String() string {
	switch op {
	case END:
		return "END"
	case PUSH_FIXNUM:
		return "PUSH_FIXNUM"
	case PUSH_FLONUM:
		return "PUSH_FLONUM"
	case ADD:
		return "ADD"
	case SUB:
		return "SUB"
	case MUL:
		return "MUL"
	case DIV:
		return "DIV"
	case EQ:
		return "EQ"
	case NE:
		return "NE"
	case GT:
		return "GT"
	case GE:
		return "GE"
	case PUSH_TRUE:
		return "PUSH_TRUE"
	case PUSH_FALSE:
		return "PUSH_FALSE"
	case PUSH_NIL:
		return "PUSH_NIL"
	case SHR:
		return "SHR"
	case SHL:
		return "SHL"
	case BIT_OR:
		return "BIT_OR"
	case BIT_AND:
		return "BIT_AND"
	case BIT_XOR:
		return "BIT_XOR"
	case JMP:
		return "JMP"
	case JMP_IF_FALSE:
		return "JMP_IF_FALSE"
	case SET_LOCAL:
		return "SET_LOCAL"
	case GET_LOCAL:
		return "GET_LOCAL"
	case SEND:
		return "SEND"
	case PUSH_SELF:
		return "PUSH_SELF"
	case CREATE_RANGE:
		return "CREATE_RANGE"
	case GET_CONST:
		return "GET_CONST"
	case SET_CONST:
		return "SET_CONST"
	case PUSH_STRING:
		return "PUSH_STRING"
	default:
		return "UNKNOWN"
	}
}

// ISeq is the flat, growable byte vector a compiled program lives in.
type ISeq []byte

// Fixup is an index into an ISeq identifying the byte immediately past
// a jump instruction's 32-bit operand — "the end of its own encoded
// operand" per spec §4.E/§9. Patching writes a self-relative signed i32
// at Fixup-4..Fixup.
type Fixup int

// EmitOp appends a bare opcode (no operand) and returns the ISeq.
func (seq ISeq) EmitOp(op Opcode) ISeq {
	return append(seq, byte(op))
}

// EmitU32 appends op followed by a big-endian u32 operand.
func (seq ISeq) EmitU32(op Opcode, operand uint32) ISeq {
	seq = append(seq, byte(op))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], operand)
	return append(seq, buf[:]...)
}

// EmitU32x2 appends op followed by two big-endian u32 operands, used
// only by SEND (method_id, argc).
func (seq ISeq) EmitU32x2(op Opcode, a, b uint32) ISeq {
	seq = append(seq, byte(op))
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], a)
	binary.BigEndian.PutUint32(buf[4:8], b)
	return append(seq, buf[:]...)
}

// EmitU64 appends op followed by a big-endian u64 operand (the bit
// pattern of a fixnum or float immediate).
func (seq ISeq) EmitU64(op Opcode, bits uint64) ISeq {
	seq = append(seq, byte(op))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return append(seq, buf[:]...)
}

// EmitJump appends a jump opcode with a placeholder 0 displacement and
// returns the ISeq plus a Fixup for later patching via PatchJump.
func (seq ISeq) EmitJump(op Opcode) (ISeq, Fixup) {
	seq = seq.EmitU32(op, 0)
	return seq, Fixup(len(seq))
}

// PatchJump writes dest as a self-relative i32 into the operand the
// fixup points past: new_pc = operand_end + disp, so disp = dest -
// fixup.
func PatchJump(seq ISeq, fixup Fixup, dest int) {
	disp := int32(dest - int(fixup))
	binary.BigEndian.PutUint32(seq[int(fixup)-4:int(fixup)], uint32(disp))
}

// ReadU32 reads a big-endian u32 at offset.
func ReadU32(seq ISeq, offset int) uint32 {
	return binary.BigEndian.Uint32(seq[offset : offset+4])
}

// ReadI32 reads a big-endian signed i32 at offset (jump displacements).
func ReadI32(seq ISeq, offset int) int32 {
	return int32(ReadU32(seq, offset))
}

// ReadU64 reads a big-endian u64 at offset (fixnum/float immediates).
func ReadU64(seq ISeq, offset int) uint64 {
	return binary.BigEndian.Uint64(seq[offset : offset+8])
}

// Disassemble renders seq as one line per instruction, resolving any
// interned name operands (PUSH_STRING, GET_CONST/SET_CONST, SEND)
// against idents; GET_LOCAL/SET_LOCAL operands are printed as their
// slot numbers. It's `smog disasm`'s only
// consumer; the core itself never formats an ISeq for a terminal.
func Disassemble(seq ISeq, idents *ident.Table) string {
	var b strings.Builder
	pc := 0
	for pc < len(seq) {
		op := Opcode(seq[pc])
		fmt.Fprintf(&b, "%04d %s", pc, op)
		switch op {
		case PUSH_FIXNUM:
			fmt.Fprintf(&b, " %d", int64(ReadU64(seq, pc+1)))
		case PUSH_FLONUM:
			fmt.Fprintf(&b, " %g", math.Float64frombits(ReadU64(seq, pc+1)))
		case JMP, JMP_IF_FALSE:
			disp := ReadI32(seq, pc+1)
			fmt.Fprintf(&b, " %d (-> %04d)", disp, pc+1+4+int(disp))
		case SET_LOCAL, GET_LOCAL:
			fmt.Fprintf(&b, " %d", ReadU32(seq, pc+1))
		case PUSH_STRING, GET_CONST, SET_CONST:
			id := ident.ID(ReadU32(seq, pc+1))
			fmt.Fprintf(&b, " %q", idents.NameOf(id))
		case SEND:
			method := ident.ID(ReadU32(seq, pc+1))
			argc := ReadU32(seq, pc+5)
			fmt.Fprintf(&b, " %s argc=%d", idents.NameOf(method), argc)
		}
		b.WriteByte('\n')
		pc += 1 + OperandWidth(op)
	}
	return b.String()
}
