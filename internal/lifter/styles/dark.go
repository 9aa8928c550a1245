package styles

import (
	"github.com/charmbracelet/glamour/ansi"
)

// Listing palette shared with the chroma style in internal/ui/colorize.
const (
	DarkForeground = "#D4D4D4"
	DarkHeading    = "#569CD6"
	DarkComment    = "#6A9955"
	DarkNumber     = "#FF5F87"
	DarkLabel      = "#FFD700"
	DarkCode       = "#EACD53"
	DarkDim        = "#858585"
	DarkBackground = "#1E1E1E"
)

// GetDarkStyle returns a plain dark glamour style for terminals where the
// charmtone palette is too colorful.
func GetDarkStyle() ansi.StyleConfig {
	return ansi.StyleConfig{
		Document: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Color: stringPtr(DarkForeground),
			},
			Margin: uintPtr(1),
		},
		Heading: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				BlockSuffix: "\n",
				Color:       stringPtr(DarkHeading),
				Bold:        boolPtr(true),
			},
		},
		H1: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Prefix: "# ",
			},
		},
		H2: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Prefix: "## ",
			},
		},
		BlockQuote: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Color:  stringPtr(DarkComment),
				Italic: boolPtr(true),
			},
			Indent:      uintPtr(1),
			IndentToken: stringPtr("│ "),
		},
		List: ansi.StyleList{
			LevelIndent: 2,
		},
		Item: ansi.StylePrimitive{
			BlockPrefix: "• ",
		},
		Code: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Color: stringPtr(DarkCode),
			},
		},
		CodeBlock: ansi.StyleCodeBlock{
			StyleBlock: ansi.StyleBlock{
				StylePrimitive: ansi.StylePrimitive{
					Color: stringPtr(DarkForeground),
				},
				Margin: uintPtr(2),
			},
		},
		Table: ansi.StyleTable{
			StyleBlock: ansi.StyleBlock{
				StylePrimitive: ansi.StylePrimitive{
					Color: stringPtr(DarkForeground),
				},
			},
		},
		Text: ansi.StylePrimitive{
			Color: stringPtr(DarkForeground),
		},
	}
}
