package elfx

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxStringLength bounds the bytes scanned for a terminator.
	MaxStringLength = 256
	// MinStringLength is the shortest run reported as a string.
	MinStringLength = 4
)

// EscapeUnprintable keeps printable runes and escapes the rest: control and
// unprintable runes as \uXXXX, invalid UTF-8 as \xXX.
func EscapeUnprintable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&sb, "\\x%02X", b[0])
		case r == '"' || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "\\u%04X", r)
		}
		b = b[size:]
	}
	return sb.String()
}

// isPrintableString checks if data is mostly printable ASCII.
func isPrintableString(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	printable := 0
	for _, b := range data {
		if (b >= 32 && b < 127) || b == '\n' || b == '\r' || b == '\t' {
			printable++
		}
	}
	return float64(printable)/float64(len(data)) >= 0.75
}

// CString reads the NUL-terminated string at va from the file bytes of a
// loaded segment and returns it escaped. Short, unterminated or mostly
// binary data is not a string.
func (im *Image) CString(va uint64) (string, bool) {
	l, ok := im.segment(va)
	if !ok {
		return "", false
	}
	off := l.Off + (va - l.Vaddr)
	end := min(l.Off+l.Filesz, off+MaxStringLength)
	raw := im.All[off:end]

	n := bytes.IndexByte(raw, 0)
	if n < MinStringLength || !isPrintableString(raw[:n]) {
		return "", false
	}
	return EscapeUnprintable(raw[:n]), true
}
