package analysis

import (
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evmil/internal/disasm"
)

func code(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestScanBlocks(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []Block
	}{
		{
			name: "single block",
			code: "600160020100", // PUSH1 1, PUSH1 2, ADD, STOP
			want: []Block{{0, 6}},
		},
		{
			name: "leading jumpdest does not split",
			code: "5b00", // JUMPDEST, STOP
			want: []Block{{0, 2}},
		},
		{
			name: "jumpdest after terminator",
			code: "005b00", // STOP, JUMPDEST, STOP
			want: []Block{{0, 1}, {1, 3}},
		},
		{
			name: "jumpdest mid block",
			code: "60015b00", // PUSH1 1, JUMPDEST, STOP
			want: []Block{{0, 2}, {2, 4}},
		},
		{
			name: "jumpi does not split",
			code: "6001600757005b00",
			want: []Block{{0, 6}, {6, 8}},
		},
		{
			name: "trailing bytes",
			code: "00600160",
			want: []Block{{0, 1}, {1, 4}},
		},
		{
			name: "every terminator",
			code: "56f3fd00fe",
			want: []Block{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 5}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Disassemble(code(t, tt.code))
			assert.Equal(t, tt.want, d.Blocks())
		})
	}
}

func TestBlockCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		buf := make([]byte, rng.Intn(128))
		rng.Read(buf)
		blocks := Disassemble(buf).Blocks()

		next := 0
		for _, b := range blocks {
			require.Equal(t, next, b.Start, "blocks must be contiguous for %x", buf)
			require.Less(t, b.Start, b.End)
			next = b.End
		}
		require.Equal(t, len(buf), next, "blocks must cover %x", buf)
	}
}

func TestEmptyCode(t *testing.T) {
	d := Analyze(nil)
	assert.Empty(t, d.Blocks())
	assert.Empty(t, d.ToVec())
	_, err := d.GetState(0)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEntryInvariant(t *testing.T) {
	d := NewDisassembly[CfaState](code(t, "005b005b00"))
	require.Len(t, d.Blocks(), 3)
	assert.True(t, d.Context(0).Equal(CfaState{}.Origin()))
	assert.True(t, d.Context(1).Equal(CfaState{}.Bottom()))
	assert.True(t, d.Context(2).Equal(CfaState{}.Bottom()))
	assert.True(t, d.IsBlockReachable(0))
	assert.False(t, d.IsBlockReachable(1))
}

func TestScenarioStraightLine(t *testing.T) {
	bytes := code(t, "600160020100")
	d := Analyze(bytes)
	require.Equal(t, []Block{{0, 6}}, d.Blocks())
	assert.True(t, d.IsBlockReachable(0))

	got := d.ToVec()
	want := disasm.Stream{
		disasm.Push([]byte{1}),
		disasm.Push([]byte{2}),
		disasm.Op(vm.ADD),
		disasm.Op(vm.STOP),
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "insn %d: got %v want %v", i, got[i], want[i])
	}
}

func TestUnreachableDataBlock(t *testing.T) {
	// PUSH1 5, JUMP, 0xaa 0xbb (data), JUMPDEST, STOP
	d := Analyze(code(t, "600556aabb5b00"))
	require.Equal(t, []Block{{0, 3}, {3, 5}, {5, 7}}, d.Blocks())
	assert.True(t, d.IsBlockReachable(0))
	assert.False(t, d.IsBlockReachable(1))
	assert.True(t, d.IsBlockReachable(2))

	got := d.ToVec()
	require.Len(t, got, 5)
	assert.True(t, disasm.Data([]byte{0xaa, 0xbb}).Equal(got[2]))
	assert.True(t, disasm.Op(vm.JUMPDEST).Equal(got[3]))
}

func TestConditionalJump(t *testing.T) {
	// 0: PUSH1 1, 2: PUSH1 7, 4: JUMPI, 5: STOP, 6: INVALID, 7: JUMPDEST, 8: STOP
	d := Analyze(code(t, "600160075700fe5b00"))
	require.Equal(t, []Block{{0, 6}, {6, 7}, {7, 9}}, d.Blocks())
	assert.True(t, d.IsBlockReachable(2), "branch target")
	assert.False(t, d.IsBlockReachable(1), "after STOP")
	assert.Equal(t, 0, d.Context(2).Depth())
}

func TestUnitReachesEverything(t *testing.T) {
	d := Disassemble(code(t, "600556aabb5b00")).Build()
	for i := range d.Blocks() {
		assert.True(t, d.IsBlockReachable(i))
	}
	// with no unreachable blocks, flattening equals sequential decoding
	bytes := code(t, "600556aabb5b00")
	want := disasm.DecodeAll(bytes)
	got := d.ToVec()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]))
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		buf := make([]byte, rng.Intn(64)+1)
		rng.Read(buf)
		got := Disassemble(buf).Build().ToVec()
		want := disasm.DecodeAll(buf)
		require.Len(t, got, len(want), "%x", buf)
		for j := range want {
			require.True(t, want[j].Equal(got[j]), "%x: insn %d", buf, j)
		}
	}
}

func TestFixedPointIdempotent(t *testing.T) {
	inputs := []string{
		"600556aabb5b00",
		"600160075700fe5b00",
		"60006005565b806001019050600556", // counting loop
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			d := Analyze(code(t, in))
			before := make([]CfaState, len(d.Blocks()))
			for i := range before {
				before[i] = d.Context(i)
			}
			d.Build()
			for i := range before {
				assert.True(t, before[i].Equal(d.Context(i)), "block %d changed: %v -> %v", i, before[i], d.Context(i))
			}
		})
	}
}

func TestLoopHeaderMerges(t *testing.T) {
	// 0: PUSH1 0, 2: PUSH1 5, 4: JUMP, 5: JUMPDEST, DUP1, PUSH1 1, ADD,
	// SWAP1, POP, PUSH1 5, JUMP
	d := Analyze(code(t, "60006005565b806001019050600556"))
	require.Equal(t, []Block{{0, 5}, {5, 15}}, d.Blocks())
	assert.True(t, d.IsBlockReachable(1))

	header := d.Context(1)
	require.Equal(t, 1, header.Depth())
	assert.False(t, header.Peek(0).IsKnown(), "counter differs between entry and back edge")

	st, err := d.GetState(14)
	require.NoError(t, err)
	v, ok := st.Peek(0).Uint64()
	require.True(t, ok)
	assert.Equal(t, uint64(5), v)
}

func TestReachabilityMonotone(t *testing.T) {
	d := Refine(Disassemble(code(t, "60006005565b806001019050600556")), CfaFromUnit)
	reached := make([]bool, len(d.Blocks()))
	for pass := 0; pass < 3; pass++ {
		d.Build()
		for i := range reached {
			if reached[i] {
				assert.True(t, d.IsBlockReachable(i), "block %d became unreachable", i)
			}
			reached[i] = d.IsBlockReachable(i)
		}
	}
}

func TestJumpOutsideCode(t *testing.T) {
	d := Analyze(code(t, "60ff56"))
	require.Len(t, d.Blocks(), 1)
	assert.True(t, d.IsBlockReachable(0))
}

func TestGetState(t *testing.T) {
	d := Analyze(code(t, "600160020100"))

	st, err := d.GetState(0)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Depth())

	st, err = d.GetState(4)
	require.NoError(t, err)
	require.Equal(t, 2, st.Depth())
	top, _ := st.Peek(0).Uint64()
	second, _ := st.Peek(1).Uint64()
	assert.Equal(t, uint64(2), top)
	assert.Equal(t, uint64(1), second)

	st, err = d.GetState(5)
	require.NoError(t, err)
	sum, ok := st.Peek(0).Uint64()
	require.True(t, ok)
	assert.Equal(t, uint64(3), sum)

	_, err = d.GetState(6)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = d.GetState(-1)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestReadBytes(t *testing.T) {
	d := Disassemble([]byte{1, 2, 3})
	tests := []struct {
		start, end int
		want       []byte
	}{
		{0, 3, []byte{1, 2, 3}},
		{1, 2, []byte{2}},
		{2, 6, []byte{3, 0, 0, 0}},
		{3, 5, []byte{0, 0}},
		{10, 12, []byte{0, 0}},
		{1, 1, []byte{}},
		{3, 1, []byte{}},
		{-1, 2, []byte{1, 2}},
	}
	for _, tt := range tests {
		got := d.ReadBytes(tt.start, tt.end)
		assert.Equal(t, tt.want, got)
	}
}

func TestRefineConsumes(t *testing.T) {
	d := Disassemble(code(t, "600556aabb5b00"))
	r := Refine(d, CfaFromUnit)
	assert.Empty(t, d.Blocks())
	assert.Len(t, r.Blocks(), 3)
	assert.True(t, r.Context(0).IsReachable(), "origin is restored on block 0")
	assert.False(t, r.Context(1).IsReachable())
}

func TestEnclosingBlock(t *testing.T) {
	d := Disassemble(code(t, "600556aabb5b00"))
	for pc, want := range []int{0, 0, 0, 1, 1, 2, 2} {
		id, ok := d.EnclosingBlock(pc)
		require.True(t, ok)
		assert.Equal(t, want, id, "pc %d", pc)
	}
	_, ok := d.EnclosingBlock(7)
	assert.False(t, ok)
}

func TestNewBlockPanics(t *testing.T) {
	assert.Panics(t, func() { NewBlock(3, 3) })
	assert.Panics(t, func() { NewBlock(4, 3) })
	assert.True(t, NewBlock(1, 3).Encloses(2))
	assert.False(t, NewBlock(1, 3).Encloses(3))
}

func TestListing(t *testing.T) {
	d := Analyze(code(t, "600556aabb5b00"))
	text := FormatListing(Listing(d))
	assert.Contains(t, text, "block_0:")
	assert.Contains(t, text, "-> block_2")
	assert.Contains(t, text, "DATA")
	assert.Contains(t, text, "unreachable, 2 bytes")
	assert.Contains(t, text, "JUMPDEST")
}
