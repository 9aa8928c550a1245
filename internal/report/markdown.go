package report

import (
	"fmt"
	"strings"

	"lifter/internal/lifter/styles"
)

// maxSummaryRows bounds the block table of a summary.
const maxSummaryRows = 200

// Markdown returns a markdown summary of the report.
func Markdown(r Report) string {
	var sb strings.Builder
	sb.WriteString("# lifter\n\n")
	if r.Input != "" {
		fmt.Fprintf(&sb, "- **Input:** `%s`\n", r.Input)
	}
	if r.Arch != "" {
		fmt.Fprintf(&sb, "- **Arch:** %s\n", r.Arch)
	}
	entry := "`" + r.Entry + "`"
	if r.EntrySymbol != "" {
		entry += " " + escape(r.EntrySymbol)
	}
	fmt.Fprintf(&sb, "- **Entry:** %s\n\n", entry)

	s := r.Stats
	sb.WriteString("## Exploration\n\n")
	fmt.Fprintf(&sb, "- %d blocks, %d instructions\n", s.Blocks, s.Instructions)
	fmt.Fprintf(&sb, "- %d splits\n", s.Splits)
	fmt.Fprintf(&sb, "- %d invalid exits, %d invalid destinations\n", s.InvalidExits, s.InvalidEdges)
	fmt.Fprintf(&sb, "- %d unresolved destinations\n", s.Unresolved)
	if s.TraceHits+s.TraceMisses > 0 {
		fmt.Fprintf(&sb, "- %d register traces, %d cached\n", s.TraceHits+s.TraceMisses, s.TraceHits)
	}

	sb.WriteString("\n## Blocks\n\n")
	sb.WriteString("| Block | Range | Symbol | Insns | Successors |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for i, b := range r.Blocks {
		if i == maxSummaryRows {
			fmt.Fprintf(&sb, "\n_%d more blocks not shown_\n", len(r.Blocks)-maxSummaryRows)
			break
		}
		succs := make([]string, 0, len(b.Successors))
		for _, e := range b.Successors {
			switch e.Kind {
			case "flow":
				succs = append(succs, e.Target)
			default:
				succs = append(succs, e.Kind+" "+e.Target)
			}
		}
		rng := b.Start + "..." + b.End
		if b.InvalidExit != "" {
			rng += " (invalid)"
		}
		fmt.Fprintf(&sb, "| %d | `%s` | %s | %d | %s |\n",
			b.ID, rng, escape(b.Symbol), b.Instructions, escape(strings.Join(succs, ", ")))
	}
	return sb.String()
}

// Render renders the markdown summary for a terminal of the given width.
func Render(r Report, width int, theme string) (string, error) {
	renderer, err := styles.GetMarkdownRenderer(width, theme)
	if err != nil {
		return "", fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := renderer.Render(Markdown(r))
	if err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	return out, nil
}

// escape keeps demangled names from breaking table cells.
func escape(s string) string {
	return strings.NewReplacer("|", "\\|", "*", "\\*", "_", "\\_", "`", "'").Replace(s)
}
