package analysis

import (
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"evmil/internal/disasm"
)

// CfaState tracks reachability and the statically known part of the
// operand stack. Slots below the tracked portion are unknown, so popping
// past the bottom is allowed. The zero value is the unreachable bottom.
type CfaState struct {
	reachable bool
	stack     []AbstractValue // top of stack is the last element
}

// CfaFromUnit seeds a control-flow analysis from plain block discovery.
// Unit carries no information, so every block starts at bottom.
func CfaFromUnit(Unit) CfaState {
	return CfaState{}
}

// Analyze runs the standard pipeline: block discovery, refinement into
// CfaState, and the fixed point.
func Analyze(code []byte) *Disassembly[CfaState] {
	return Refine(Disassemble(code), CfaFromUnit).Build()
}

// NewCfaState returns a reachable state with the given stack, listed from
// bottom to top.
func NewCfaState(stack ...AbstractValue) CfaState {
	return CfaState{reachable: true, stack: slices.Clone(stack)}
}

func (CfaState) Bottom() CfaState { return CfaState{} }
func (CfaState) Origin() CfaState { return CfaState{reachable: true} }

func (s CfaState) IsReachable() bool {
	return s.reachable
}

// Depth is the number of tracked stack slots.
func (s CfaState) Depth() int {
	return len(s.stack)
}

func (s CfaState) Peek(n int) AbstractValue {
	if n < 0 || n >= len(s.stack) {
		return Unknown
	}
	return s.stack[len(s.stack)-1-n]
}

func (s CfaState) Transfer(insn disasm.Inst) CfaState {
	if !s.reachable {
		return s
	}
	switch insn.Kind {
	case disasm.KindLabel, disasm.KindData:
		return s
	case disasm.KindPushLabel:
		return s.push(Unknown)
	}

	op := insn.Op
	switch {
	case op == vm.PUSH0:
		return s.push(KnownUint64(0))
	case op >= vm.PUSH1 && op <= vm.PUSH32:
		return s.push(Known(new(uint256.Int).SetBytes(insn.Args)))
	case op >= vm.DUP1 && op <= vm.DUP16:
		return s.push(s.Peek(int(op - vm.DUP1)))
	case op >= vm.SWAP1 && op <= vm.SWAP16:
		return s.swap(int(op-vm.SWAP1) + 1)
	case halts(op):
		return CfaState{}
	}

	switch op {
	case vm.ADD, vm.SUB, vm.MUL, vm.AND, vm.OR, vm.XOR:
		x, y := s.Peek(0), s.Peek(1)
		return s.pop(2).push(fold(op, x, y))
	case vm.ISZERO:
		x := s.Peek(0)
		return s.pop(1).push(fold(op, x, Unknown))
	}

	effect, ok := stackEffects[op]
	if !ok {
		return CfaState{}
	}
	r := s.pop(effect.pops)
	for i := 0; i < effect.pushes; i++ {
		r = r.push(Unknown)
	}
	return r
}

// Branch drops the jump operands: the target, and for JUMPI the condition.
func (s CfaState) Branch(_ int, insn disasm.Inst) CfaState {
	if insn.Op == vm.JUMPI {
		return s.pop(2)
	}
	return s.pop(1)
}

// Merge keeps the slots both stacks agree on, aligned from the top. The
// result never grows, and slots only move from known to unknown.
func (s CfaState) Merge(other CfaState) (CfaState, bool) {
	if !other.reachable {
		return s, false
	}
	if !s.reachable {
		return NewCfaState(other.stack...), true
	}
	n := min(len(s.stack), len(other.stack))
	changed := n < len(s.stack)
	merged := make([]AbstractValue, n)
	for i := 0; i < n; i++ {
		a := s.stack[len(s.stack)-n+i]
		b := other.stack[len(other.stack)-n+i]
		merged[i] = a.Join(b)
		if !merged[i].Equal(a) {
			changed = true
		}
	}
	return CfaState{reachable: true, stack: merged}, changed
}

// Equal compares two states exactly.
func (s CfaState) Equal(o CfaState) bool {
	if s.reachable != o.reachable || len(s.stack) != len(o.stack) {
		return false
	}
	for i := range s.stack {
		if !s.stack[i].Equal(o.stack[i]) {
			return false
		}
	}
	return true
}

func (s CfaState) String() string {
	if !s.reachable {
		return "_|_"
	}
	parts := make([]string, 0, len(s.stack)+1)
	parts = append(parts, "*")
	for _, v := range s.stack {
		parts = append(parts, v.String())
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (s CfaState) push(v AbstractValue) CfaState {
	stack := make([]AbstractValue, 0, len(s.stack)+1)
	stack = append(stack, s.stack...)
	stack = append(stack, v)
	if len(stack) > MaxStackDepth {
		stack = stack[1:]
	}
	return CfaState{reachable: s.reachable, stack: stack}
}

func (s CfaState) pop(n int) CfaState {
	if n >= len(s.stack) {
		return CfaState{reachable: s.reachable}
	}
	return CfaState{reachable: s.reachable, stack: s.stack[:len(s.stack)-n:len(s.stack)-n]}
}

// swap exchanges the top with the slot n below it, materialising unknown
// slots when the tracked stack is too shallow.
func (s CfaState) swap(n int) CfaState {
	stack := slices.Clone(s.stack)
	for len(stack) < n+1 {
		stack = slices.Insert(stack, 0, Unknown)
	}
	top := len(stack) - 1
	stack[top], stack[top-n] = stack[top-n], stack[top]
	if len(stack) > MaxStackDepth {
		stack = stack[len(stack)-MaxStackDepth:]
	}
	return CfaState{reachable: s.reachable, stack: stack}
}

// halts reports whether op never falls through.
func halts(op vm.OpCode) bool {
	switch op {
	case vm.JUMP, vm.STOP, vm.RETURN, vm.REVERT, vm.INVALID, vm.SELFDESTRUCT:
		return true
	}
	return !disasm.Defined(op)
}

// fold evaluates op over constant operands; x is the top of the stack.
func fold(op vm.OpCode, x, y AbstractValue) AbstractValue {
	if op == vm.ISZERO {
		if !x.IsKnown() {
			return Unknown
		}
		if x.Value().IsZero() {
			return KnownUint64(1)
		}
		return KnownUint64(0)
	}
	if !x.IsKnown() || !y.IsKnown() {
		return Unknown
	}
	a, b := x.Value(), y.Value()
	r := new(uint256.Int)
	switch op {
	case vm.ADD:
		r.Add(a, b)
	case vm.SUB:
		r.Sub(a, b)
	case vm.MUL:
		r.Mul(a, b)
	case vm.AND:
		r.And(a, b)
	case vm.OR:
		r.Or(a, b)
	case vm.XOR:
		r.Xor(a, b)
	default:
		return Unknown
	}
	return Known(r)
}

type stackEffect struct {
	pops, pushes int
}

// stackEffects lists the operand counts of opcodes without special
// handling in Transfer. PUSH, DUP, SWAP and halting opcodes are handled
// separately.
var stackEffects = map[vm.OpCode]stackEffect{
	vm.DIV: {2, 1}, vm.SDIV: {2, 1}, vm.MOD: {2, 1}, vm.SMOD: {2, 1},
	vm.ADDMOD: {3, 1}, vm.MULMOD: {3, 1}, vm.EXP: {2, 1}, vm.SIGNEXTEND: {2, 1},

	vm.LT: {2, 1}, vm.GT: {2, 1}, vm.SLT: {2, 1}, vm.SGT: {2, 1}, vm.EQ: {2, 1},
	vm.NOT: {1, 1}, vm.BYTE: {2, 1}, vm.SHL: {2, 1}, vm.SHR: {2, 1}, vm.SAR: {2, 1},

	vm.KECCAK256: {2, 1},

	vm.ADDRESS: {0, 1}, vm.BALANCE: {1, 1}, vm.ORIGIN: {0, 1}, vm.CALLER: {0, 1},
	vm.CALLVALUE: {0, 1}, vm.CALLDATALOAD: {1, 1}, vm.CALLDATASIZE: {0, 1},
	vm.CALLDATACOPY: {3, 0}, vm.CODESIZE: {0, 1}, vm.CODECOPY: {3, 0},
	vm.GASPRICE: {0, 1}, vm.EXTCODESIZE: {1, 1}, vm.EXTCODECOPY: {4, 0},
	vm.RETURNDATASIZE: {0, 1}, vm.RETURNDATACOPY: {3, 0}, vm.EXTCODEHASH: {1, 1},

	vm.BLOCKHASH: {1, 1}, vm.COINBASE: {0, 1}, vm.TIMESTAMP: {0, 1}, vm.NUMBER: {0, 1},
	vm.DIFFICULTY: {0, 1}, vm.GASLIMIT: {0, 1}, vm.CHAINID: {0, 1},
	vm.SELFBALANCE: {0, 1}, vm.BASEFEE: {0, 1}, vm.BLOBHASH: {1, 1}, vm.BLOBBASEFEE: {0, 1},

	vm.POP: {1, 0}, vm.MLOAD: {1, 1}, vm.MSTORE: {2, 0}, vm.MSTORE8: {2, 0},
	vm.SLOAD: {1, 1}, vm.SSTORE: {2, 0}, vm.JUMPI: {2, 0}, vm.PC: {0, 1},
	vm.MSIZE: {0, 1}, vm.GAS: {0, 1}, vm.JUMPDEST: {0, 0},
	vm.TLOAD: {1, 1}, vm.TSTORE: {2, 0}, vm.MCOPY: {3, 0},

	vm.LOG0: {2, 0}, vm.LOG1: {3, 0}, vm.LOG2: {4, 0}, vm.LOG3: {5, 0}, vm.LOG4: {6, 0},

	vm.CREATE: {3, 1}, vm.CALL: {7, 1}, vm.CALLCODE: {7, 1},
	vm.DELEGATECALL: {6, 1}, vm.CREATE2: {4, 1}, vm.STATICCALL: {6, 1},
}
