package analysis

import (
	"fmt"

	"github.com/holiman/uint256"

	"evmil/internal/disasm"
)

// AbstractValue is what an analysis knows about a single stack slot:
// either a constant word or nothing.
type AbstractValue struct {
	known bool
	value uint256.Int
}

// Unknown is the value nothing is known about.
var Unknown = AbstractValue{}

// Known wraps a constant word.
func Known(v *uint256.Int) AbstractValue {
	return AbstractValue{known: true, value: *v}
}

// KnownUint64 wraps a small constant.
func KnownUint64(v uint64) AbstractValue {
	return AbstractValue{known: true, value: *uint256.NewInt(v)}
}

func (v AbstractValue) IsKnown() bool {
	return v.known
}

// Value returns a copy of the constant, or nil when unknown.
func (v AbstractValue) Value() *uint256.Int {
	if !v.known {
		return nil
	}
	return new(uint256.Int).Set(&v.value)
}

// Uint64 returns the constant if it is known and fits in 64 bits.
func (v AbstractValue) Uint64() (uint64, bool) {
	if !v.known || !v.value.IsUint64() {
		return 0, false
	}
	return v.value.Uint64(), true
}

// Join is the least upper bound of two values.
func (v AbstractValue) Join(o AbstractValue) AbstractValue {
	if v.known && o.known && v.value.Eq(&o.value) {
		return v
	}
	return Unknown
}

func (v AbstractValue) Equal(o AbstractValue) bool {
	if v.known != o.known {
		return false
	}
	return !v.known || v.value.Eq(&o.value)
}

func (v AbstractValue) String() string {
	if !v.known {
		return "??"
	}
	return v.value.Hex()
}

// AbstractState is the capability set an analysis domain provides to the
// disassembly engine. T is the implementing type itself.
//
// Bottom and Origin are called on the zero value of T and must not depend
// on the receiver.
type AbstractState[T any] interface {
	fmt.Stringer
	// IsReachable reports whether any predecessor has reached this state.
	IsReachable() bool
	// Transfer applies one instruction.
	Transfer(insn disasm.Inst) T
	// Branch is the state on the taken edge of a branch to target,
	// computed from the state before insn executes.
	Branch(target int, insn disasm.Inst) T
	// Merge joins other into the receiver and reports whether the result
	// differs from the receiver. Merge must be monotone.
	Merge(other T) (T, bool)
	// Peek returns the n-th stack slot from the top.
	Peek(n int) AbstractValue
	// Bottom is the entry state of every block but the first.
	Bottom() T
	// Origin is the entry state of the program.
	Origin() T
}

// Unit is the trivial domain: everything is reachable and nothing is
// known. It is used to discover blocks without tracking values.
type Unit struct{}

func (Unit) IsReachable() bool              { return true }
func (u Unit) Transfer(disasm.Inst) Unit    { return u }
func (u Unit) Branch(int, disasm.Inst) Unit { return u }
func (u Unit) Merge(Unit) (Unit, bool)      { return u, false }
func (Unit) Peek(int) AbstractValue         { return Unknown }
func (Unit) Bottom() Unit                   { return Unit{} }
func (Unit) Origin() Unit                   { return Unit{} }
func (Unit) String() string                 { return "()" }
