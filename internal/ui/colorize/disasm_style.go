package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// DisasmDark is the listing style. Registering it at init makes it
// available to getDisasmStyle by name.
var DisasmDark = styles.Register(chroma.MustNewStyle("lifter-dark", chroma.StyleEntries{
	chroma.Text:           "#D4D4D4",
	chroma.Background:     "bg:#1e1e1e",
	chroma.Comment:        "#6A9955",
	chroma.CommentPreproc: "#6A9955",

	// Mnemonics
	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.NameFunction:  "#FFFFFF",

	// Registers
	chroma.Name:         "#7C9C9D",
	chroma.NameBuiltin:  "#7C9C9D",
	chroma.NameVariable: "#7C9C9D",

	// Numbers
	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberBin:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",

	// Branch targets and symbols
	chroma.NameLabel:    "#FFD700",
	chroma.NameConstant: "#FFD700",

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#D4D4D4",

	chroma.String: "#EACD53",
}))
