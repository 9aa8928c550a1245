package colorize

import (
	"strings"
	"testing"
)

func TestLineDisabled(t *testing.T) {
	t.Setenv("LIFTER_NO_COLOR", "1")
	const line = "1000       b.eq   0x1008"
	if got := Line(line, "armasm"); got != line {
		t.Errorf("Line with colors disabled = %q", got)
	}
	if got, err := Assembly(line, "armasm"); err != nil || got != line {
		t.Errorf("Assembly with colors disabled = %q, %v", got, err)
	}
}

func TestLineColors(t *testing.T) {
	t.Setenv("LIFTER_NO_COLOR", "")
	const line = "1000       mov    x0, #0x10"
	got := Line(line, "armasm")
	if !strings.Contains(got, "\x1b[") {
		t.Fatalf("expected ANSI escapes in %q", got)
	}
	if plain := StripANSI(got); plain != line {
		t.Errorf("stripped line = %q, want %q", plain, line)
	}
}

func TestIsHex(t *testing.T) {
	for s, want := range map[string]bool{"401000": true, "DEADbeef": true, "": false, "0x10": false, ";": false} {
		if got := isHex(s); got != want {
			t.Errorf("isHex(%q) = %v, want %v", s, got, want)
		}
	}
}
