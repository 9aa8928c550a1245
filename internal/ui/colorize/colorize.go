// Package colorize highlights disassembly listings for the terminal.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether colors are allowed. Setting LIFTER_NO_COLOR to
// any value disables them.
func Enabled() bool {
	return os.Getenv("LIFTER_NO_COLOR") == ""
}

// getAssemblyLexer returns the named lexer, falling back to generic
// assembly lexers.
func getAssemblyLexer(name string) chroma.Lexer {
	candidates := []string{name, "gas", "nasm", "armasm"}
	for _, n := range candidates {
		if n == "" {
			continue
		}
		if lexer := lexers.Get(n); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getDisasmStyle() *chroma.Style {
	candidates := []string{"lifter-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly highlights a block of assembly text with the given lexer.
func Assembly(code, lexer string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	l := getAssemblyLexer(lexer)
	if l == nil {
		return code, nil
	}

	iterator, err := l.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	tokens := iterator.Tokens()
	// Lexers append a newline the input may not have had.
	if n := len(tokens); n > 0 && !strings.HasSuffix(code, "\n") {
		tokens[n-1].Value = strings.TrimSuffix(tokens[n-1].Value, "\n")
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), chroma.Literator(tokens...)); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Line colorizes one listing line of the form "addr mnemonic operands".
// The address is dimmed and the rest is highlighted with the lexer.
// Comment lines starting with ';' are rendered in the comment color.
func Line(line, lexer string) string {
	if !Enabled() {
		return line
	}

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, ";") {
		return fmt.Sprintf("\033[38;2;106;153;85m%s\033[0m", line)
	}

	addr, rest, ok := strings.Cut(line, " ")
	if !ok || !isHex(addr) {
		return full(line, lexer)
	}
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m %s", addr, full(rest, lexer))
}

func full(line, lexer string) string {
	out, err := Assembly(line, lexer)
	if err != nil {
		return line
	}
	return out
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

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
