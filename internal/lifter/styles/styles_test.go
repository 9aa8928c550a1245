package styles

import (
	"strings"
	"testing"
)

func TestGetMarkdownRenderer(t *testing.T) {
	for _, theme := range []string{ThemeCharm, ThemeDark, "unknown"} {
		t.Run(theme, func(t *testing.T) {
			r, err := GetMarkdownRenderer(60, theme)
			if err != nil {
				t.Fatalf("GetMarkdownRenderer failed: %v", err)
			}
			out, err := r.Render("# Graph\n\n- 3 blocks\n")
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if !strings.Contains(out, "Graph") || !strings.Contains(out, "3 blocks") {
				t.Errorf("rendered output lost content: %q", out)
			}
		})
	}
}
