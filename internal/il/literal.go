package il

import (
	"fmt"

	"github.com/holiman/uint256"

	"evmil/internal/disasm"
)

// ParseInt builds a decimal literal from a digit string.
func ParseInt(s string) (Int, error) {
	digits, err := parseDigits(s, 10)
	if err != nil {
		return Int{}, err
	}
	return Int{Digits: digits}, nil
}

// ParseHex builds a hexadecimal literal. A leading 0x is optional.
func ParseHex(s string) (Hex, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	digits, err := parseDigits(s, 16)
	if err != nil {
		return Hex{}, err
	}
	return Hex{Digits: digits}, nil
}

func parseDigits(s string, radix byte) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty literal")
	}
	digits := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		var d byte
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return nil, fmt.Errorf("invalid digit %q in %q", c, s)
		}
		if d >= radix {
			return nil, fmt.Errorf("invalid digit %q in %q", s[i], s)
		}
		digits[i] = d
	}
	return digits, nil
}

// fromDigits folds big-endian digit values into a word, failing with
// LiteralOverflow once the magnitude no longer fits in 256 bits.
func fromDigits(digits []byte, radix uint64) (*uint256.Int, error) {
	acc := new(uint256.Int)
	base := uint256.NewInt(radix)
	for _, d := range digits {
		if _, overflow := acc.MulOverflow(acc, base); overflow {
			return nil, LiteralOverflow
		}
		if _, overflow := acc.AddOverflow(acc, uint256.NewInt(uint64(d))); overflow {
			return nil, LiteralOverflow
		}
	}
	return acc, nil
}

// makePush encodes v with its minimal big-endian representation. Zero is
// a single zero byte.
func makePush(v *uint256.Int) disasm.Inst {
	n := (v.BitLen() + 7) / 8
	buf := v.Bytes32()
	return disasm.Push(buf[32-max(n, 1):])
}
