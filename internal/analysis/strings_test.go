package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeUnprintable(t *testing.T) {
	assert.Equal(t, "ok", EscapeUnprintable([]byte("ok")))
	assert.Equal(t, `a\u0000b`, EscapeUnprintable([]byte("a\x00b")))
	assert.Equal(t, `\xFF`, EscapeUnprintable([]byte{0xff}))
}

func TestScanStrings(t *testing.T) {
	data := append([]byte{0x60, 0x00}, []byte("Ownable: caller")...)
	data = append(data, 0x00, 'a', 'b', 0x00)
	data = append(data, []byte("tail")...)

	got := ScanStrings(data, 0x10, 4)
	assert.Equal(t, []StringResult{
		{Offset: 0x12, Value: "Ownable: caller", Len: 15},
		{Offset: 0x10 + len(data) - 4, Value: "tail", Len: 4},
	}, got)

	assert.Empty(t, ScanStrings([]byte{0xde, 0xad, 0xbe, 0xef}, 0, 1))
}
