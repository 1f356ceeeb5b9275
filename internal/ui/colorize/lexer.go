package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// EVMAsm tokenises the text listings produced by the analysis package:
// mnemonics, hex immediates, block labels and trailing comments.
var EVMAsm = lexers.Register(chroma.MustNewLexer(
	&chroma.Config{
		Name:      "EVM Assembly",
		Aliases:   []string{"evm", "evmasm"},
		Filenames: []string{"*.evm"},
	},
	func() chroma.Rules {
		return chroma.Rules{
			"root": {
				{Pattern: `;[^\n]*`, Type: chroma.Comment},
				{Pattern: `block_\d+:?`, Type: chroma.NameLabel},
				{Pattern: `0x[0-9a-fA-F]+`, Type: chroma.LiteralNumberHex},
				{Pattern: `\b(JUMPI|JUMPDEST|JUMP)\b`, Type: chroma.KeywordReserved},
				{Pattern: `\b(STOP|RETURN|REVERT|INVALID|SELFDESTRUCT)\b`, Type: chroma.NameException},
				{Pattern: `\bDATA\b`, Type: chroma.KeywordPseudo},
				{Pattern: `\b[A-Z][A-Z0-9]*\b`, Type: chroma.Keyword},
				{Pattern: `->`, Type: chroma.Operator},
				{Pattern: `[(),]`, Type: chroma.Punctuation},
				{Pattern: `\d+`, Type: chroma.LiteralNumberInteger},
				{Pattern: `[A-Za-z_]\w*`, Type: chroma.Name},
				{Pattern: `\s+`, Type: chroma.TextWhitespace},
				{Pattern: `.`, Type: chroma.Text},
			},
		}
	},
))
