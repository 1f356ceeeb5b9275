// Package colorize adds terminal colours to EVM listings using chroma.
// Colours are disabled when EVMIL_NO_COLOR is set.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether colour output is switched off.
func Disabled() bool {
	return os.Getenv("EVMIL_NO_COLOR") != ""
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	for _, name := range []string{"disasm-dark", "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Listing colourises a multi-line listing one line at a time so every
// address column gets the same treatment.
func Listing(text string) string {
	if Disabled() {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = Line(line)
		}
	}
	return strings.Join(lines, "\n")
}

// Line colourises one listing line of the form
// "0004 MNEMONIC operands ; comment". The leading address is grey.
func Line(line string) string {
	if Disabled() {
		return line
	}

	addr, rest, ok := strings.Cut(line, " ")
	if !ok || !isHex(addr) {
		return highlight(line)
	}
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m %s", addr, highlight(rest))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}

func highlight(text string) string {
	iterator, err := EVMAsm.Tokenise(nil, text)
	if err != nil {
		return text
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return text
	}
	// terminal formatters end every line with a reset and may append a newline
	return strings.TrimSuffix(buf.String(), "\n")
}

// StripANSI removes SGR escape sequences.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
