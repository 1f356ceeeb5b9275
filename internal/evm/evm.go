// Package evm is a small concrete EVM interpreter. It executes the
// subset of opcodes the IL compiler emits and is used to check compiled
// programs end to end.
package evm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"evmil/internal/disasm"
	"evmil/internal/logging"
)

const (
	// StackLimit is the maximum operand stack depth.
	StackLimit = 1024
	// DefaultStepLimit bounds Run when no limit is given.
	DefaultStepLimit = 1 << 20
	// DefaultMemoryLimit bounds the size of linear memory in bytes.
	DefaultMemoryLimit = 1 << 20
)

var (
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrInvalidJump       = errors.New("invalid jump destination")
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	ErrStepLimit         = errors.New("step limit reached")
	ErrMemoryLimit       = errors.New("memory limit exceeded")
	ErrHalted            = errors.New("machine has halted")
)

// Status is the execution state of a Machine.
type Status int

const (
	Running Status = iota
	Stopped
	Returned
	Reverted
	Invalid
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Returned:
		return "returned"
	case Reverted:
		return "reverted"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result summarises a finished execution. Stack is listed bottom to top.
type Result struct {
	Status     Status
	ReturnData []byte
	Stack      []uint256.Int
	Steps      int
}

// Option configures a Machine.
type Option func(*Machine)

// WithCallData sets the input visible to CALLDATALOAD and CALLDATASIZE.
func WithCallData(data []byte) Option {
	return func(m *Machine) {
		m.callData = data
	}
}

// WithStorage uses storage as the contract storage. The map is updated in
// place by SSTORE.
func WithStorage(storage map[common.Hash]common.Hash) Option {
	return func(m *Machine) {
		m.storage = storage
	}
}

// WithStepLimit bounds the number of instructions Run may execute.
func WithStepLimit(n int) Option {
	return func(m *Machine) {
		m.stepLimit = n
	}
}

// WithMemoryLimit bounds linear memory.
func WithMemoryLimit(n int) Option {
	return func(m *Machine) {
		m.memoryLimit = n
	}
}

// Machine executes a single code buffer. It is not safe for concurrent
// use.
type Machine struct {
	code      []byte
	jumpdests []bool

	pc         int
	stack      []uint256.Int
	memory     []byte
	storage    map[common.Hash]common.Hash
	callData   []byte
	returnData []byte
	status     Status
	steps      int

	stepLimit   int
	memoryLimit int
}

// New prepares code for execution.
func New(code []byte, opts ...Option) *Machine {
	m := &Machine{
		code:        code,
		jumpdests:   disasm.JumpDests(code),
		storage:     make(map[common.Hash]common.Hash),
		stepLimit:   DefaultStepLimit,
		memoryLimit: DefaultMemoryLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) PC() int        { return m.pc }
func (m *Machine) Status() Status { return m.status }

// Storage returns the live storage map.
func (m *Machine) Storage() map[common.Hash]common.Hash {
	return m.storage
}

// Stack returns a copy of the operand stack, bottom first.
func (m *Machine) Stack() []uint256.Int {
	out := make([]uint256.Int, len(m.stack))
	copy(out, m.stack)
	return out
}

func (m *Machine) result() Result {
	return Result{
		Status:     m.status,
		ReturnData: m.returnData,
		Stack:      m.Stack(),
		Steps:      m.steps,
	}
}

// Run executes until the machine halts, an error occurs, the step limit
// is reached or ctx is done.
func (m *Machine) Run(ctx context.Context) (Result, error) {
	var lg *logging.LoggerCloser
	if logging.IsDebug() {
		lg = logging.NewLogger()
		defer lg.Close()
	}
	for m.status == Running {
		if err := ctx.Err(); err != nil {
			return m.result(), err
		}
		if m.steps >= m.stepLimit {
			return m.result(), fmt.Errorf("after %d steps: %w", m.steps, ErrStepLimit)
		}
		if lg != nil && m.pc < len(m.code) {
			lg.Debug("step", "pc", fmt.Sprintf("%#x", m.pc), "op", vm.OpCode(m.code[m.pc]).String(), "depth", len(m.stack))
		}
		if err := m.Step(); err != nil {
			return m.result(), err
		}
	}
	return m.result(), nil
}

// Step executes the instruction at the program counter. Running off the
// end of the code is an implicit STOP.
func (m *Machine) Step() error {
	if m.status != Running {
		return ErrHalted
	}
	if m.pc >= len(m.code) {
		m.status = Stopped
		return nil
	}
	pc := m.pc
	if err := m.exec(); err != nil {
		return fmt.Errorf("pc %#x: %w", pc, err)
	}
	m.steps++
	return nil
}

func (m *Machine) exec() error {
	insn, n := disasm.Decode(m.pc, m.code)
	op := insn.Op
	next := m.pc + n

	switch {
	case op == vm.PUSH0:
		return m.advance(next, m.push(new(uint256.Int)))
	case op >= vm.PUSH1 && op <= vm.PUSH32:
		return m.advance(next, m.push(new(uint256.Int).SetBytes(insn.Args)))
	case op >= vm.DUP1 && op <= vm.DUP16:
		k := int(op-vm.DUP1) + 1
		if len(m.stack) < k {
			return ErrStackUnderflow
		}
		v := m.stack[len(m.stack)-k]
		return m.advance(next, m.push(&v))
	case op >= vm.SWAP1 && op <= vm.SWAP16:
		k := int(op-vm.SWAP1) + 1
		if len(m.stack) < k+1 {
			return ErrStackUnderflow
		}
		top := len(m.stack) - 1
		m.stack[top], m.stack[top-k] = m.stack[top-k], m.stack[top]
		m.pc = next
		return nil
	}

	switch op {
	case vm.STOP:
		m.status = Stopped
		return nil
	case vm.INVALID:
		m.status = Invalid
		return nil

	case vm.ADD, vm.SUB, vm.MUL, vm.DIV, vm.MOD, vm.LT, vm.GT, vm.EQ, vm.AND, vm.OR, vm.XOR:
		x, y, err := m.pop2()
		if err != nil {
			return err
		}
		return m.advance(next, m.push(binary(op, &x, &y)))
	case vm.ISZERO, vm.NOT:
		x, err := m.pop()
		if err != nil {
			return err
		}
		r := new(uint256.Int)
		if op == vm.NOT {
			r.Not(&x)
		} else if x.IsZero() {
			r.SetOne()
		}
		return m.advance(next, m.push(r))
	case vm.POP:
		if _, err := m.pop(); err != nil {
			return err
		}
		m.pc = next
		return nil

	case vm.MLOAD:
		off, err := m.pop()
		if err != nil {
			return err
		}
		mem, err := m.memorySlice(&off, 32)
		if err != nil {
			return err
		}
		return m.advance(next, m.push(new(uint256.Int).SetBytes(mem)))
	case vm.MSTORE:
		off, val, err := m.pop2()
		if err != nil {
			return err
		}
		mem, err := m.memorySlice(&off, 32)
		if err != nil {
			return err
		}
		word := val.Bytes32()
		copy(mem, word[:])
		m.pc = next
		return nil
	case vm.SLOAD:
		key, err := m.pop()
		if err != nil {
			return err
		}
		v := m.storage[common.Hash(key.Bytes32())]
		return m.advance(next, m.push(new(uint256.Int).SetBytes(v[:])))
	case vm.SSTORE:
		key, val, err := m.pop2()
		if err != nil {
			return err
		}
		m.storage[common.Hash(key.Bytes32())] = common.Hash(val.Bytes32())
		m.pc = next
		return nil
	case vm.CALLDATALOAD:
		off, err := m.pop()
		if err != nil {
			return err
		}
		var word [32]byte
		if o, overflow := off.Uint64WithOverflow(); !overflow && o < uint64(len(m.callData)) {
			copy(word[:], m.callData[o:])
		}
		return m.advance(next, m.push(new(uint256.Int).SetBytes(word[:])))
	case vm.CALLDATASIZE:
		return m.advance(next, m.push(uint256.NewInt(uint64(len(m.callData)))))
	case vm.PC:
		return m.advance(next, m.push(uint256.NewInt(uint64(m.pc))))

	case vm.JUMPDEST:
		m.pc = next
		return nil
	case vm.JUMP:
		dest, err := m.pop()
		if err != nil {
			return err
		}
		return m.jump(&dest)
	case vm.JUMPI:
		dest, cond, err := m.pop2()
		if err != nil {
			return err
		}
		if cond.IsZero() {
			m.pc = next
			return nil
		}
		return m.jump(&dest)

	case vm.RETURN, vm.REVERT:
		off, size, err := m.pop2()
		if err != nil {
			return err
		}
		if !size.IsUint64() || size.Uint64() > uint64(m.memoryLimit) {
			return ErrMemoryLimit
		}
		mem, err := m.memorySlice(&off, int(size.Uint64()))
		if err != nil {
			return err
		}
		m.returnData = append([]byte(nil), mem...)
		if op == vm.RETURN {
			m.status = Returned
		} else {
			m.status = Reverted
		}
		return nil
	}
	return fmt.Errorf("%s: %w", insn.Mnemonic(), ErrUnsupportedOpcode)
}

func (m *Machine) advance(next int, err error) error {
	if err != nil {
		return err
	}
	m.pc = next
	return nil
}

func (m *Machine) push(v *uint256.Int) error {
	if len(m.stack) >= StackLimit {
		return ErrStackOverflow
	}
	m.stack = append(m.stack, *v)
	return nil
}

func (m *Machine) pop() (uint256.Int, error) {
	if len(m.stack) == 0 {
		return uint256.Int{}, ErrStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// pop2 returns the top of the stack and the item below it.
func (m *Machine) pop2() (uint256.Int, uint256.Int, error) {
	if len(m.stack) < 2 {
		return uint256.Int{}, uint256.Int{}, ErrStackUnderflow
	}
	x := m.stack[len(m.stack)-1]
	y := m.stack[len(m.stack)-2]
	m.stack = m.stack[:len(m.stack)-2]
	return x, y, nil
}

func (m *Machine) jump(dest *uint256.Int) error {
	d, overflow := dest.Uint64WithOverflow()
	if overflow || d >= uint64(len(m.code)) || !m.jumpdests[d] {
		return fmt.Errorf("%s: %w", dest.Hex(), ErrInvalidJump)
	}
	m.pc = int(d)
	return nil
}

// memorySlice expands memory to cover [off, off+size) in 32-byte words
// and returns that range.
func (m *Machine) memorySlice(off *uint256.Int, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	o, overflow := off.Uint64WithOverflow()
	limit := uint64(m.memoryLimit)
	if overflow || o > limit || uint64(size) > limit-o {
		return nil, ErrMemoryLimit
	}
	end := int(o) + size
	if end > len(m.memory) {
		words := (end + 31) / 32
		grown := make([]byte, words*32)
		copy(grown, m.memory)
		m.memory = grown
	}
	return m.memory[int(o):end], nil
}

// binary applies op with x taken from the top of the stack.
func binary(op vm.OpCode, x, y *uint256.Int) *uint256.Int {
	r := new(uint256.Int)
	switch op {
	case vm.ADD:
		r.Add(x, y)
	case vm.SUB:
		r.Sub(x, y)
	case vm.MUL:
		r.Mul(x, y)
	case vm.DIV:
		r.Div(x, y)
	case vm.MOD:
		r.Mod(x, y)
	case vm.AND:
		r.And(x, y)
	case vm.OR:
		r.Or(x, y)
	case vm.XOR:
		r.Xor(x, y)
	case vm.LT:
		if x.Lt(y) {
			r.SetOne()
		}
	case vm.GT:
		if x.Gt(y) {
			r.SetOne()
		}
	case vm.EQ:
		if x.Eq(y) {
			r.SetOne()
		}
	}
	return r
}
