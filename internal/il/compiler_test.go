package il

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evmil/internal/disasm"
	"evmil/internal/evm"
)

func num(v uint64) Term {
	lit, err := ParseInt(strconv.FormatUint(v, 10))
	if err != nil {
		panic(err)
	}
	return lit
}

func calldata(off uint64) Term {
	return ArrayAccess{Src: MemoryAccess{Region: CallData}, Index: num(off)}
}

func memory(off uint64) Term {
	return ArrayAccess{Src: MemoryAccess{Region: Memory}, Index: num(off)}
}

func storage(off uint64) Term {
	return ArrayAccess{Src: MemoryAccess{Region: Storage}, Index: num(off)}
}

func bin(op BinOp, lhs, rhs Term) Term {
	return Binary{Op: op, LHS: lhs, RHS: rhs}
}

func compile(t *testing.T, terms ...Term) []byte {
	t.Helper()
	bc := disasm.NewBytecode()
	require.NoError(t, NewCompiler(bc).TranslateAll(terms))
	code, err := bc.Assemble()
	require.NoError(t, err)
	return code
}

func execute(t *testing.T, code []byte, input ...uint64) evm.Result {
	t.Helper()
	var data []byte
	for _, v := range input {
		data = append(data, common.LeftPadBytes(new(uint256.Int).SetUint64(v).Bytes(), 32)...)
	}
	res, err := evm.New(code, evm.WithCallData(data)).Run(context.Background())
	require.NoError(t, err)
	return res
}

// returned decodes the single word returned by res.
func returned(t *testing.T, res evm.Result) uint64 {
	t.Helper()
	require.Equal(t, evm.Returned, res.Status)
	require.Len(t, res.ReturnData, 32)
	return new(uint256.Int).SetBytes(res.ReturnData).Uint64()
}

func requireStream(t *testing.T, want, got disasm.Stream) {
	t.Helper()
	require.Len(t, got, len(want), "got:\n%s", got)
	for i := range want {
		require.True(t, want[i].Equal(got[i]), "insn %d: want %v, got %v\n%s", i, want[i], got[i], got)
	}
}

func TestShortCircuitIfGoto(t *testing.T) {
	bc := disasm.NewBytecode()
	c := NewCompiler(bc)
	err := c.TranslateAll([]Term{
		IfGoto{Cond: bin(LogicalAnd, calldata(0), calldata(32)), Label: "L"},
		Fail{},
		Label{Name: "L"},
		Stop{},
	})
	require.NoError(t, err)

	l := c.Label("L")
	skip := 1
	require.Equal(t, 0, l)
	requireStream(t, disasm.Stream{
		disasm.Push([]byte{0}), disasm.Op(vm.CALLDATALOAD),
		disasm.Op(vm.ISZERO), disasm.PushLabel(skip), disasm.Op(vm.JUMPI),
		disasm.Push([]byte{0x20}), disasm.Op(vm.CALLDATALOAD),
		disasm.PushLabel(l), disasm.Op(vm.JUMPI),
		disasm.JumpDest(skip),
		disasm.Op(vm.INVALID),
		disasm.JumpDest(l),
		disasm.Op(vm.STOP),
	}, bc.Instructions())

	var jumps int
	for _, insn := range bc.Instructions() {
		if insn.Kind == disasm.KindOp && insn.Op == vm.JUMP {
			t.Fatalf("unexpected unconditional jump")
		}
		if insn.Kind == disasm.KindOp && insn.Op == vm.JUMPI {
			jumps++
		}
	}
	assert.Equal(t, 2, jumps)
}

func TestShortCircuitExecution(t *testing.T) {
	tests := []struct {
		name string
		cond Term
		in   []uint64
		want evm.Status
	}{
		{"and both", bin(LogicalAnd, calldata(0), calldata(32)), []uint64{1, 1}, evm.Returned},
		{"and left false", bin(LogicalAnd, calldata(0), calldata(32)), []uint64{0, 1}, evm.Reverted},
		{"and right false", bin(LogicalAnd, calldata(0), calldata(32)), []uint64{1, 0}, evm.Reverted},
		{"or left", bin(LogicalOr, calldata(0), calldata(32)), []uint64{1, 0}, evm.Returned},
		{"or right", bin(LogicalOr, calldata(0), calldata(32)), []uint64{0, 1}, evm.Returned},
		{"or neither", bin(LogicalOr, calldata(0), calldata(32)), []uint64{0, 0}, evm.Reverted},
		{
			name: "nested or of ands",
			cond: bin(LogicalOr,
				bin(LogicalAnd, calldata(0), calldata(32)),
				bin(LogicalAnd, bin(Equals, calldata(0), num(0)), bin(Equals, calldata(32), num(7)))),
			in:   []uint64{0, 7},
			want: evm.Returned,
		},
		{
			name: "and of ors on false path",
			cond: bin(LogicalAnd,
				bin(LogicalOr, calldata(0), calldata(32)),
				bin(LogicalOr, bin(GreaterThan, calldata(0), num(5)), bin(LessThan, calldata(32), num(2)))),
			in:   []uint64{3, 4},
			want: evm.Reverted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := compile(t,
				IfGoto{Cond: tt.cond, Label: "ok"},
				Revert{},
				Label{Name: "ok"},
				Succeed{Exprs: []Term{num(1)}},
			)
			assert.Equal(t, tt.want, execute(t, code, tt.in...).Status)
		})
	}
}

func TestConditionalNeedsOneTarget(t *testing.T) {
	c := NewCompiler(disasm.NewBytecode())
	l := 0
	assert.Panics(t, func() { _ = c.translateConditional(num(1), nil, nil) })
	assert.Panics(t, func() { _ = c.translateConditional(num(1), &l, &l) })
	assert.Panics(t, func() { _ = c.translateConditional(bin(LogicalAnd, num(1), num(1)), &l, &l) })
	assert.NotPanics(t, func() { _ = c.translateConditional(num(1), nil, &l) })
}

func TestBinaryOperandOrder(t *testing.T) {
	tests := []struct {
		op   BinOp
		a, b uint64
		want uint64
	}{
		{Subtract, 10, 3, 7},
		{Divide, 12, 4, 3},
		{Remainder, 10, 4, 2},
		{Add, 2, 3, 5},
		{Multiply, 6, 7, 42},
		{LessThan, 1, 2, 1},
		{LessThan, 2, 1, 0},
		{GreaterThan, 2, 1, 1},
		{LessThanOrEquals, 2, 2, 1},
		{LessThanOrEquals, 3, 2, 0},
		{GreaterThanOrEquals, 2, 3, 0},
		{GreaterThanOrEquals, 3, 3, 1},
		{Equals, 4, 4, 1},
		{NotEquals, 4, 4, 0},
		{NotEquals, 4, 5, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %v %d", tt.a, tt.op, tt.b), func(t *testing.T) {
			code := compile(t, Succeed{Exprs: []Term{bin(tt.op, num(tt.a), num(tt.b))}})
			assert.Equal(t, tt.want, returned(t, execute(t, code)))
		})
	}
}

func TestLogicalValues(t *testing.T) {
	tests := []struct {
		op   BinOp
		a, b uint64
		want uint64
	}{
		{LogicalAnd, 0, 5, 0},
		{LogicalAnd, 2, 5, 5},
		{LogicalOr, 0, 5, 5},
		{LogicalOr, 2, 5, 2},
	}
	for _, tt := range tests {
		code := compile(t, Succeed{Exprs: []Term{bin(tt.op, num(tt.a), num(tt.b))}})
		assert.Equal(t, tt.want, returned(t, execute(t, code)), "%d %v %d", tt.a, tt.op, tt.b)
	}
}

func TestRightOperandSkipped(t *testing.T) {
	// || jumps on the duplicated left value without negating it
	bc := disasm.NewBytecode()
	c := NewCompiler(bc)
	require.NoError(t, c.Translate(bin(LogicalOr, num(1), storage(0))))
	insns := bc.Instructions()
	require.True(t, disasm.Dup(1).Equal(insns[1]))
	assert.True(t, disasm.Op(vm.JUMPI).Equal(insns[3]), "or tests the duplicate directly")
	assert.True(t, disasm.Op(vm.POP).Equal(insns[4]))
}

func TestAssignment(t *testing.T) {
	code := compile(t,
		Assignment{LHS: memory(64), RHS: num(5)},
		Assignment{LHS: storage(1), RHS: bin(Add, memory(64), num(1))},
		Succeed{Exprs: []Term{storage(1), memory(64)}},
	)
	res := execute(t, code)
	require.Equal(t, evm.Returned, res.Status)
	require.Len(t, res.ReturnData, 64)
	assert.Equal(t, uint64(6), new(uint256.Int).SetBytes(res.ReturnData[:32]).Uint64())
	assert.Equal(t, uint64(5), new(uint256.Int).SetBytes(res.ReturnData[32:]).Uint64())
}

func TestAssertAndGoto(t *testing.T) {
	prog := []Term{
		Assert{Cond: bin(LessThan, calldata(0), num(10))},
		Assignment{LHS: memory(0), RHS: num(0)},
		Label{Name: "loop"},
		IfGoto{Cond: bin(GreaterThanOrEquals, memory(0), calldata(0)), Label: "done"},
		Assignment{LHS: memory(0), RHS: bin(Add, memory(0), num(1))},
		Goto{Label: "loop"},
		Label{Name: "done"},
		Succeed{Exprs: []Term{memory(0)}},
	}
	code := compile(t, prog...)
	assert.Equal(t, uint64(4), returned(t, execute(t, code, 4)))
	assert.Equal(t, evm.Invalid, execute(t, code, 11).Status)
}

func TestHaltStatements(t *testing.T) {
	tests := []struct {
		name string
		term Term
		want disasm.Stream
	}{
		{"succeed empty", Succeed{}, disasm.Stream{disasm.Op(vm.STOP)}},
		{"stop", Stop{}, disasm.Stream{disasm.Op(vm.STOP)}},
		{"fail", Fail{}, disasm.Stream{disasm.Op(vm.INVALID)}},
		{
			name: "revert empty",
			term: Revert{},
			want: disasm.Stream{disasm.Push([]byte{0}), disasm.Push([]byte{0}), disasm.Op(vm.REVERT)},
		},
		{
			name: "revert one",
			term: Revert{Exprs: []Term{num(9)}},
			want: disasm.Stream{
				disasm.Push([]byte{9}), disasm.Push([]byte{0}), disasm.Op(vm.MSTORE),
				disasm.Push([]byte{0x20}), disasm.Push([]byte{0}), disasm.Op(vm.REVERT),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc := disasm.NewBytecode()
			require.NoError(t, NewCompiler(bc).Translate(tt.term))
			requireStream(t, tt.want, bc.Instructions())
		})
	}

	res := execute(t, compile(t, Revert{Exprs: []Term{num(9)}}))
	assert.Equal(t, evm.Reverted, res.Status)
	assert.Equal(t, uint64(9), new(uint256.Int).SetBytes(res.ReturnData).Uint64())
}

func TestLiteralBoundary(t *testing.T) {
	maxWord := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	tooBig := "115792089237316195423570985008687907853269984665640564039457584007913129639936"

	lit, err := ParseInt(maxWord)
	require.NoError(t, err)
	bc := disasm.NewBytecode()
	require.NoError(t, NewCompiler(bc).Translate(lit))
	insn := bc.Instructions()[0]
	assert.Equal(t, vm.PUSH32, insn.Op)
	assert.Equal(t, []byte(strings.Repeat("\xff", 32)), insn.Args)

	lit, err = ParseInt(tooBig)
	require.NoError(t, err)
	assert.ErrorIs(t, NewCompiler(disasm.NewBytecode()).Translate(lit), LiteralOverflow)

	hexLit, err := ParseHex("0x" + strings.Repeat("f", 64))
	require.NoError(t, err)
	assert.NoError(t, NewCompiler(disasm.NewBytecode()).Translate(hexLit))

	hexLit, err = ParseHex("1" + strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.ErrorIs(t, NewCompiler(disasm.NewBytecode()).Translate(hexLit), LiteralOverflow)
}

func TestLiteralEncoding(t *testing.T) {
	tests := []struct {
		lit  string
		want []byte
	}{
		{"0", []byte{0}},
		{"000", []byte{0}},
		{"255", []byte{0xff}},
		{"256", []byte{1, 0}},
		{"65536", []byte{1, 0, 0}},
	}
	for _, tt := range tests {
		lit, err := ParseInt(tt.lit)
		require.NoError(t, err)
		bc := disasm.NewBytecode()
		require.NoError(t, NewCompiler(bc).Translate(lit))
		assert.Equal(t, tt.want, bc.Instructions()[0].Args, tt.lit)
	}

	_, err := ParseInt("12a")
	assert.Error(t, err)
	_, err = ParseHex("0xfg")
	assert.Error(t, err)
	_, err = ParseInt("")
	assert.Error(t, err)
}

func TestCompilerErrors(t *testing.T) {
	tests := []struct {
		name string
		term Term
		err  CompilerError
	}{
		{"literal target", Assignment{LHS: num(1), RHS: num(2)}, InvalidLVal},
		{"label target", Assignment{LHS: Label{Name: "x"}, RHS: num(2)}, InvalidLVal},
		{"calldata target", Assignment{LHS: calldata(0), RHS: num(2)}, InvalidMemoryAccess},
		{"non-region source", ArrayAccess{Src: num(1), Index: num(0)}, InvalidMemoryAccess},
		{"non-region store", Assignment{LHS: ArrayAccess{Src: num(1), Index: num(0)}, RHS: num(2)}, InvalidMemoryAccess},
		{"bare region", MemoryAccess{Region: Storage}, InvalidMemoryAccess},
		{"nested", Succeed{Exprs: []Term{bin(Add, num(1), MemoryAccess{})}}, InvalidMemoryAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCompiler(disasm.NewBytecode()).TranslateAll([]Term{tt.term})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.err))
			var ce CompilerError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.err, ce)
		})
	}
}

func TestLabels(t *testing.T) {
	bc := disasm.NewBytecode()
	c := NewCompiler(bc)
	a := c.Label("a")
	assert.Equal(t, a, c.Label("a"))
	b := c.Label("b")
	assert.NotEqual(t, a, b)

	// synthetic labels never collide with named ones
	require.NoError(t, c.Translate(Assert{Cond: num(1)}))
	insns := bc.Instructions()
	last := insns[len(insns)-1]
	assert.Equal(t, disasm.KindLabel, last.Kind)
	assert.NotEqual(t, a, last.Label)
	assert.NotEqual(t, b, last.Label)
	assert.Equal(t, b, c.Label("b"))

	// goto before the label is placed
	code := compile(t, Goto{Label: "end"}, Fail{}, Label{Name: "end"}, Succeed{Exprs: []Term{num(3)}})
	assert.Equal(t, uint64(3), returned(t, execute(t, code)))
}

func TestTermString(t *testing.T) {
	assert.Equal(t, "if (calldata[0] && 0x1f) goto L", IfGoto{
		Cond:  bin(LogicalAnd, calldata(0), Hex{Digits: []byte{1, 15}}),
		Label: "L",
	}.String())
	assert.Equal(t, "memory[1] = (2 - 3)", Assignment{LHS: memory(1), RHS: bin(Subtract, num(2), num(3))}.String())
	assert.Equal(t, "succeed 1, 2", Succeed{Exprs: []Term{num(1), num(2)}}.String())
}
