package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// DisasmDark colours EVM listings: control flow stands out, immediates
// are pink and analysis comments are dimmed.
var DisasmDark = styles.Register(chroma.MustNewStyle("disasm-dark", chroma.StyleEntries{
	chroma.Text:       "#FFFFFF",
	chroma.Background: "bg:#1e1e1e",
	chroma.Comment:    "italic #6A9955",

	chroma.Keyword:         "#FFFFFF",
	chroma.KeywordReserved: "bold #C586C0", // jumps
	chroma.KeywordPseudo:   "#858585",      // raw data
	chroma.NameException:   "bold #F44747", // halting instructions
	chroma.Name:            "#7C9C9D",

	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",

	chroma.NameLabel:   "#FFD700",
	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",
}))
