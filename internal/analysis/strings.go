package analysis

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// StringResult is a run of printable text found in code or data.
type StringResult struct {
	Offset int    // Byte offset of the first character
	Value  string // Escaped string content
	Len    int    // Original byte length
}

// EscapeUnprintable returns a string where printable Unicode runes are preserved.
// Control and unprintable runes are escaped as \uXXXX. Invalid UTF-8 is escaped as \xXX.
func EscapeUnprintable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteString(fmt.Sprintf("\\x%02X", b[0]))
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteString(fmt.Sprintf("\\u%04X", r))
		}
		b = b[size:]
	}
	return sb.String()
}

func isText(b byte) bool {
	return b >= 0x20 && b < 0x7f
}

// ScanStrings finds runs of at least minLen printable ASCII bytes in b,
// capped at MaxStringLength. Offsets are relative to base.
func ScanStrings(b []byte, base, minLen int) []StringResult {
	var out []StringResult
	flush := func(start, end int) {
		if end-start < minLen {
			return
		}
		run := b[start:min(end, start+MaxStringLength)]
		out = append(out, StringResult{
			Offset: base + start,
			Value:  EscapeUnprintable(run),
			Len:    end - start,
		})
	}

	start := -1
	for i, c := range b {
		switch {
		case isText(c) && start < 0:
			start = i
		case !isText(c) && start >= 0:
			flush(start, i)
			start = -1
		}
	}
	if start >= 0 {
		flush(start, len(b))
	}
	return out
}
