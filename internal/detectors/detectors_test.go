package detectors

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evmil/internal/analysis"
)

func analyze(t *testing.T, s string) *analysis.Disassembly[analysis.CfaState] {
	t.Helper()
	code, err := hex.DecodeString(s)
	require.NoError(t, err)
	return analysis.Analyze(code)
}

func kinds(findings []analysis.Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Kind
	}
	return out
}

func TestDynamicJumpDetector(t *testing.T) {
	tests := []struct {
		name string
		code string
		pcs  []int
	}{
		{"calldata target", "60003556", []int{3}},
		{"constant target", "600556aabb5b00", nil},
		{"jumpi with unknown condition", "6000356006575b00", nil},
		{"unreachable dynamic jump", "00600035565b00", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := NewDynamicJumpDetector().Detect(analyze(t, tt.code), nil)
			var pcs []int
			for _, f := range findings {
				assert.Equal(t, KindDynamicJump, f.Kind)
				pcs = append(pcs, f.PC)
			}
			assert.Equal(t, tt.pcs, pcs)
		})
	}
}

func TestInvalidJumpDetector(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		pc      int
		comment string
	}{
		{"not a jumpdest", "60035600", 2, "JUMP to 0x3: target is not a JUMPDEST"},
		{"outside code", "60ff56", 2, "JUMP to 0xff: target is outside the code"},
		{"into push data", "6001600657605b", 4, "JUMPI to 0x6: target is not a JUMPDEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := NewInvalidJumpDetector().Detect(analyze(t, tt.code), nil)
			require.Len(t, findings, 1)
			assert.Equal(t, KindInvalidJump, findings[0].Kind)
			assert.Equal(t, tt.pc, findings[0].PC)
			assert.Equal(t, tt.comment, findings[0].Comment)
		})
	}

	findings := NewInvalidJumpDetector().Detect(analyze(t, "600556aabb5b00"), nil)
	assert.Empty(t, findings)
}

func TestDataBlockDetector(t *testing.T) {
	findings := NewDataBlockDetector().Detect(analyze(t, "600556aabb5b00"), nil)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, KindDataBlock, f.Kind)
	assert.Equal(t, 3, f.PC)
	assert.Equal(t, 1, f.Block)
	assert.Equal(t, 2, f.Metadata["size"])
	assert.Equal(t, "aabb", f.Metadata["preview"])

	dd := &DataBlockDetector{MinSize: 3}
	assert.Empty(t, dd.Detect(analyze(t, "600556aabb5b00"), nil))
}

func TestStringDetector(t *testing.T) {
	reason := hex.EncodeToString([]byte("not owner"))
	tests := []struct {
		name   string
		code   string
		pc     int
		source string
	}{
		// PUSH9 "not owner", POP, STOP
		{"push immediate", "68" + reason + "5000", 1, "push"},
		// STOP, then the text as unreachable data
		{"data block", "00" + reason, 1, "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := NewStringDetector().Detect(analyze(t, tt.code), nil)
			require.Len(t, findings, 1)
			assert.Equal(t, KindString, findings[0].Kind)
			assert.Equal(t, tt.pc, findings[0].PC)
			assert.Equal(t, `"not owner"`, findings[0].Comment)
			assert.Equal(t, tt.source, findings[0].Metadata["source"])
			assert.Equal(t, 9, findings[0].Metadata["length"])
		})
	}

	assert.Empty(t, NewStringDetector().Detect(analyze(t, "6361626364"), nil), "shorter than MinLength")
}

func TestDefaultChain(t *testing.T) {
	// PUSH1 0, CALLDATALOAD, JUMP, then unreachable data
	findings := Default().Detect(analyze(t, "60003556deadbeef"))
	assert.Equal(t, []string{KindDynamicJump, KindDataBlock}, kinds(findings))
	assert.Equal(t, 4, findings[1].PC)
}
