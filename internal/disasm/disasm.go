// Package disasm defines the instruction representation shared by the
// disassembler, the IL compiler and the assembler.
package disasm

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

// Kind distinguishes real opcodes from the symbolic forms used before
// labels are resolved.
type Kind uint8

const (
	KindOp        Kind = iota // plain opcode, immediates in Args
	KindPushLabel             // push of a label address
	KindLabel                 // JUMPDEST bound to a label
	KindData                  // opaque bytes (embedded data)
)

// LabelWidth is the immediate size used when a label push is assembled.
const LabelWidth = 2

// Inst is a single decoded or generated instruction.
type Inst struct {
	Kind  Kind
	Op    vm.OpCode
	Args  []byte // push immediate or data bytes
	Label int    // label id for KindPushLabel and KindLabel
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Op returns a plain instruction without immediates.
func Op(op vm.OpCode) Inst {
	return Inst{Kind: KindOp, Op: op}
}

// Push returns the smallest PUSHn carrying the given big-endian bytes.
// An empty slice pushes a single zero byte.
func Push(b []byte) Inst {
	if len(b) == 0 {
		b = []byte{0}
	}
	if len(b) > 32 {
		panic(fmt.Sprintf("push of %d bytes", len(b)))
	}
	return Inst{Kind: KindOp, Op: vm.PUSH1 + vm.OpCode(len(b)-1), Args: b}
}

// PushLabel pushes the (later resolved) address of label l.
func PushLabel(l int) Inst {
	return Inst{Kind: KindPushLabel, Op: vm.PUSH1 + LabelWidth - 1, Label: l}
}

// JumpDest marks the position of label l.
func JumpDest(l int) Inst {
	return Inst{Kind: KindLabel, Op: vm.JUMPDEST, Label: l}
}

// Data wraps bytes which are not code.
func Data(b []byte) Inst {
	return Inst{Kind: KindData, Args: b}
}

// Dup returns DUPn (1 <= n <= 16).
func Dup(n int) Inst {
	if n < 1 || n > 16 {
		panic(fmt.Sprintf("invalid dup %d", n))
	}
	return Op(vm.DUP1 + vm.OpCode(n-1))
}

// Swap returns SWAPn (1 <= n <= 16).
func Swap(n int) Inst {
	if n < 1 || n > 16 {
		panic(fmt.Sprintf("invalid swap %d", n))
	}
	return Op(vm.SWAP1 + vm.OpCode(n-1))
}

// ImmediateSize returns the number of immediate bytes following op.
func ImmediateSize(op vm.OpCode) int {
	if op >= vm.PUSH1 && op <= vm.PUSH32 {
		return int(op-vm.PUSH1) + 1
	}
	return 0
}

// Decode decodes the instruction at pc. Immediates running past the end
// of code are zero padded, as the VM does. The returned length is the
// encoded size, which may extend past len(code).
func Decode(pc int, code []byte) (Inst, int) {
	op := vm.OpCode(code[pc])
	n := ImmediateSize(op)
	if n == 0 {
		return Op(op), 1
	}
	args := make([]byte, n)
	if pc+1 < len(code) {
		copy(args, code[pc+1:])
	}
	return Inst{Kind: KindOp, Op: op, Args: args}, 1 + n
}

// DecodeAll decodes code sequentially from offset zero.
func DecodeAll(code []byte) Stream {
	var out Stream
	for pc := 0; pc < len(code); {
		insn, n := Decode(pc, code)
		out = append(out, insn)
		pc += n
	}
	return out
}

// JumpDests marks the offsets of JUMPDEST instructions in code. A 0x5b
// byte inside push immediates is not a destination.
func JumpDests(code []byte) []bool {
	dests := make([]bool, len(code))
	for pc := 0; pc < len(code); {
		insn, n := Decode(pc, code)
		if insn.Op == vm.JUMPDEST {
			dests[pc] = true
		}
		pc += n
	}
	return dests
}

// Length is the encoded size of the instruction in bytes.
func (i Inst) Length() int {
	switch i.Kind {
	case KindPushLabel:
		return 1 + LabelWidth
	case KindData:
		return len(i.Args)
	case KindLabel:
		return 1
	default:
		return 1 + ImmediateSize(i.Op)
	}
}

// CanBranch reports whether executing i may transfer control to the
// address on top of the stack.
func (i Inst) CanBranch() bool {
	if i.Kind != KindOp {
		return false
	}
	return i.Op == vm.JUMP || i.Op == vm.JUMPI
}

// IsTerminator reports whether i ends a basic block. JUMPI is not a
// terminator: its fall-through stays in the same block.
func (i Inst) IsTerminator() bool {
	if i.Kind != KindOp {
		return false
	}
	switch i.Op {
	case vm.JUMP, vm.RETURN, vm.REVERT, vm.STOP, vm.INVALID:
		return true
	}
	return false
}

// IsJumpDest reports whether i is a jump destination, symbolic or raw.
func (i Inst) IsJumpDest() bool {
	return (i.Kind == KindOp || i.Kind == KindLabel) && i.Op == vm.JUMPDEST
}

// Defined reports whether op is a legacy opcode with a name in the opcode
// table. EOF-only opcodes are invalid in legacy code and are not defined.
func Defined(op vm.OpCode) bool {
	return !eofOnly(op) && vm.StringToOp(op.String()) == op
}

func eofOnly(op vm.OpCode) bool {
	switch b := byte(op); {
	case b >= 0xd0 && b <= 0xd3, b >= 0xe0 && b <= 0xe8:
		return true
	case b == 0xec, b == 0xee, b == 0xf7, b == 0xf8, b == 0xf9, b == 0xfb:
		return true
	}
	return false
}

// Equal compares two instructions structurally.
func (i Inst) Equal(o Inst) bool {
	return i.Kind == o.Kind && i.Op == o.Op && i.Label == o.Label && bytes.Equal(i.Args, o.Args)
}

// Mnemonic returns the opcode name in upper case.
func (i Inst) Mnemonic() string {
	switch i.Kind {
	case KindData:
		return "DATA"
	case KindLabel:
		return "JUMPDEST"
	}
	if !Defined(i.Op) {
		return fmt.Sprintf("0x%02x", byte(i.Op))
	}
	return i.Op.String()
}

// Operands formats the immediate part of the instruction.
func (i Inst) Operands() string {
	switch i.Kind {
	case KindPushLabel:
		return fmt.Sprintf("L%d", i.Label)
	case KindLabel:
		return fmt.Sprintf("L%d", i.Label)
	case KindData:
		return fmt.Sprintf("0x%x", i.Args)
	}
	if len(i.Args) > 0 {
		return fmt.Sprintf("0x%x", i.Args)
	}
	return ""
}

func (i Inst) String() string {
	ops := i.Operands()
	if ops == "" {
		return i.Mnemonic()
	}
	return i.Mnemonic() + " " + ops
}

// String renders the stream one instruction per line.
func (s Stream) String() string {
	var sb strings.Builder
	for _, insn := range s {
		sb.WriteString(insn.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
