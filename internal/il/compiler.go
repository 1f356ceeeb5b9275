package il

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"evmil/internal/disasm"
)

// CompilerError is the closed set of translation failures.
type CompilerError int

const (
	// LiteralOverflow: an integer or hex literal does not fit in 256 bits.
	LiteralOverflow CompilerError = iota + 1
	// InvalidMemoryAccess: an access through something other than a
	// region, or a store into a read-only region.
	InvalidMemoryAccess
	// InvalidLVal: an assignment target that is not a storable location.
	InvalidLVal
)

func (e CompilerError) Error() string {
	switch e {
	case LiteralOverflow:
		return "literal overflow"
	case InvalidMemoryAccess:
		return "invalid memory access"
	case InvalidLVal:
		return "invalid lval"
	}
	return fmt.Sprintf("compiler error %d", int(e))
}

// Builder receives the instructions emitted by a Compiler and owns label
// allocation. *disasm.Bytecode implements it.
type Builder interface {
	FreshLabel() int
	Push(insn disasm.Inst)
}

// Compiler lowers terms into a Builder. It only owns the mapping from
// label names to label ids.
type Compiler struct {
	builder Builder
	labels  map[string]int
}

func NewCompiler(builder Builder) *Compiler {
	return &Compiler{builder: builder, labels: make(map[string]int)}
}

// Label returns the label id bound to name, allocating it on first use.
func (c *Compiler) Label(name string) int {
	if l, ok := c.labels[name]; ok {
		return l
	}
	l := c.builder.FreshLabel()
	c.labels[name] = l
	return l
}

// TranslateAll translates terms in order and stops at the first error.
func (c *Compiler) TranslateAll(terms []Term) error {
	for _, t := range terms {
		if err := c.Translate(t); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
	}
	return nil
}

// Translate lowers a single statement or expression. On error the
// builder holds a partial translation which must be discarded.
func (c *Compiler) Translate(term Term) error {
	switch t := term.(type) {
	case Assert:
		return c.translateAssert(t.Cond)
	case Assignment:
		return c.translateAssignment(t.LHS, t.RHS)
	case Fail:
		c.emit(vm.INVALID)
		return nil
	case Goto:
		c.builder.Push(disasm.PushLabel(c.Label(t.Label)))
		c.emit(vm.JUMP)
		return nil
	case IfGoto:
		l := c.Label(t.Label)
		return c.translateConditional(t.Cond, &l, nil)
	case Label:
		c.builder.Push(disasm.JumpDest(c.Label(t.Name)))
		return nil
	case Revert:
		return c.translateHalt(vm.REVERT, t.Exprs)
	case Succeed:
		if len(t.Exprs) == 0 {
			c.emit(vm.STOP)
			return nil
		}
		return c.translateHalt(vm.RETURN, t.Exprs)
	case Stop:
		c.emit(vm.STOP)
		return nil
	case Binary:
		if t.Op == LogicalAnd || t.Op == LogicalOr {
			return c.translateLogical(t.Op, t.LHS, t.RHS)
		}
		return c.translateArithmetic(t.Op, t.LHS, t.RHS)
	case ArrayAccess:
		return c.translateLoad(t.Src, t.Index)
	case MemoryAccess:
		return InvalidMemoryAccess
	case Int:
		return c.translateLiteral(t.Digits, 10)
	case Hex:
		return c.translateLiteral(t.Digits, 16)
	}
	panic(fmt.Sprintf("unknown term %T", term))
}

func (c *Compiler) emit(op vm.OpCode) {
	c.builder.Push(disasm.Op(op))
}

func (c *Compiler) translateAssert(cond Term) error {
	ok := c.builder.FreshLabel()
	if err := c.translateConditional(cond, &ok, nil); err != nil {
		return err
	}
	c.emit(vm.INVALID)
	c.builder.Push(disasm.JumpDest(ok))
	return nil
}

func (c *Compiler) translateAssignment(lhs, rhs Term) error {
	if err := c.Translate(rhs); err != nil {
		return err
	}
	access, ok := lhs.(ArrayAccess)
	if !ok {
		return InvalidLVal
	}
	src, ok := access.Src.(MemoryAccess)
	if !ok {
		return InvalidMemoryAccess
	}
	if err := c.Translate(access.Index); err != nil {
		return err
	}
	switch src.Region {
	case Memory:
		c.emit(vm.MSTORE)
	case Storage:
		c.emit(vm.SSTORE)
	default:
		return InvalidMemoryAccess
	}
	return nil
}

// translateHalt stores each expression into consecutive 32-byte memory
// words and ends execution with op over that range. RETURN and REVERT
// take the offset from the top of the stack and the size below it.
func (c *Compiler) translateHalt(op vm.OpCode, exprs []Term) error {
	for i, e := range exprs {
		if err := c.Translate(e); err != nil {
			return err
		}
		c.builder.Push(makePush(uint256.NewInt(uint64(i) * 32)))
		c.emit(vm.MSTORE)
	}
	c.builder.Push(makePush(uint256.NewInt(uint64(len(exprs)) * 32)))
	c.builder.Push(makePush(new(uint256.Int)))
	c.emit(op)
	return nil
}

// translateConditional branches to onTrue when expr is non-zero, or to
// onFalse when it is zero. Exactly one of the two must be given; the
// other outcome falls through.
func (c *Compiler) translateConditional(expr Term, onTrue, onFalse *int) error {
	if (onTrue == nil) == (onFalse == nil) {
		panic("conditional needs exactly one target")
	}
	if b, ok := expr.(Binary); ok {
		switch b.Op {
		case LogicalAnd:
			return c.translateConjunct(b.LHS, b.RHS, onTrue, onFalse)
		case LogicalOr:
			return c.translateDisjunct(b.LHS, b.RHS, onTrue, onFalse)
		}
	}
	if err := c.Translate(expr); err != nil {
		return err
	}
	target := onTrue
	if onFalse != nil {
		c.emit(vm.ISZERO)
		target = onFalse
	}
	c.builder.Push(disasm.PushLabel(*target))
	c.emit(vm.JUMPI)
	return nil
}

func (c *Compiler) translateConjunct(lhs, rhs Term, onTrue, onFalse *int) error {
	if onTrue != nil {
		skip := c.builder.FreshLabel()
		if err := c.translateConditional(lhs, nil, &skip); err != nil {
			return err
		}
		if err := c.translateConditional(rhs, onTrue, nil); err != nil {
			return err
		}
		c.builder.Push(disasm.JumpDest(skip))
		return nil
	}
	if err := c.translateConditional(lhs, nil, onFalse); err != nil {
		return err
	}
	return c.translateConditional(rhs, nil, onFalse)
}

func (c *Compiler) translateDisjunct(lhs, rhs Term, onTrue, onFalse *int) error {
	if onFalse != nil {
		skip := c.builder.FreshLabel()
		if err := c.translateConditional(lhs, &skip, nil); err != nil {
			return err
		}
		if err := c.translateConditional(rhs, nil, onFalse); err != nil {
			return err
		}
		c.builder.Push(disasm.JumpDest(skip))
		return nil
	}
	if err := c.translateConditional(lhs, onTrue, nil); err != nil {
		return err
	}
	return c.translateConditional(rhs, onTrue, nil)
}

// translateLogical evaluates && and || as values with short-circuiting.
// The left value is kept as the result when it decides the outcome.
func (c *Compiler) translateLogical(op BinOp, lhs, rhs Term) error {
	if err := c.Translate(lhs); err != nil {
		return err
	}
	c.builder.Push(disasm.Dup(1))
	if op == LogicalAnd {
		c.emit(vm.ISZERO)
	}
	join := c.builder.FreshLabel()
	c.builder.Push(disasm.PushLabel(join))
	c.emit(vm.JUMPI)
	c.emit(vm.POP)
	if err := c.Translate(rhs); err != nil {
		return err
	}
	c.builder.Push(disasm.JumpDest(join))
	return nil
}

var arithmetic = map[BinOp][]vm.OpCode{
	Add:                 {vm.ADD},
	Subtract:            {vm.SUB},
	Multiply:            {vm.MUL},
	Divide:              {vm.DIV},
	Remainder:           {vm.MOD},
	Equals:              {vm.EQ},
	LessThan:            {vm.LT},
	GreaterThan:         {vm.GT},
	NotEquals:           {vm.EQ, vm.ISZERO},
	LessThanOrEquals:    {vm.GT, vm.ISZERO},
	GreaterThanOrEquals: {vm.LT, vm.ISZERO},
}

// translateArithmetic pushes the right operand first so the left operand
// ends on top, which is the operand order of the EVM binary opcodes.
func (c *Compiler) translateArithmetic(op BinOp, lhs, rhs Term) error {
	ops, ok := arithmetic[op]
	if !ok {
		panic(fmt.Sprintf("unknown binary operator %v", op))
	}
	if err := c.Translate(rhs); err != nil {
		return err
	}
	if err := c.Translate(lhs); err != nil {
		return err
	}
	for _, o := range ops {
		c.emit(o)
	}
	return nil
}

func (c *Compiler) translateLoad(src, index Term) error {
	access, ok := src.(MemoryAccess)
	if !ok {
		return InvalidMemoryAccess
	}
	if err := c.Translate(index); err != nil {
		return err
	}
	switch access.Region {
	case Memory:
		c.emit(vm.MLOAD)
	case Storage:
		c.emit(vm.SLOAD)
	case CallData:
		c.emit(vm.CALLDATALOAD)
	default:
		return InvalidMemoryAccess
	}
	return nil
}

func (c *Compiler) translateLiteral(digits []byte, radix uint64) error {
	v, err := fromDigits(digits, radix)
	if err != nil {
		return err
	}
	c.builder.Push(makePush(v))
	return nil
}
