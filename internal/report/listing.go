package report

import (
	"fmt"
	"strings"

	"lifter/internal/cfg"
	"lifter/internal/ui/colorize"
)

// Literals recovers string literals at constant addresses. *elfx.Image
// implements it.
type Literals interface {
	CString(va uint64) (string, bool)
}

type ListingOptions struct {
	Symbols  Symbolizer
	Literals Literals

	// Lexer is the chroma lexer name for the architecture.
	Lexer string
	Color bool
}

// Listing renders every block with its instructions and edges.
func Listing(g *cfg.Graph, opts ListingOptions) string {
	var sb strings.Builder
	for i, b := range g.Blocks() {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeBlock(&sb, g, b, opts)
	}
	return sb.String()
}

// BlockListing renders a single block.
func BlockListing(g *cfg.Graph, b *cfg.Block, opts ListingOptions) string {
	var sb strings.Builder
	writeBlock(&sb, g, b, opts)
	return sb.String()
}

func writeBlock(sb *strings.Builder, g *cfg.Graph, b *cfg.Block, opts ListingOptions) {
	line := func(s string) {
		if opts.Color {
			s = colorize.Line(s, opts.Lexer)
		}
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	head := fmt.Sprintf("; block %d  0x%x..0x%x", b.ID(), b.Entry(), b.End())
	if name := label(opts.Symbols, b.Entry()); name != "" {
		head += "  <" + name + ">"
	}
	line(head)
	if preds := b.Predecessors(); len(preds) > 0 {
		addrs := make([]string, len(preds))
		for i, p := range preds {
			addrs[i] = hex(g.Block(p).Entry())
		}
		line("; preds: " + strings.Join(addrs, ", "))
	}

	for _, in := range b.Instructions() {
		line(instLine(in))
		if opts.Literals == nil {
			continue
		}
		for _, w := range in.Writes {
			if !w.Src.IsConstant() {
				continue
			}
			if str, ok := opts.Literals.CString(w.Src.Value); ok {
				line(fmt.Sprintf("; %s = \"%s\"", w.Dst, str))
			}
		}
	}
	if b.IsInvalid() {
		line(fmt.Sprintf("; invalid exit at 0x%x", b.InvalidAddr()))
	}
	for _, e := range b.Successors() {
		line(edgeLine(e, opts.Symbols))
	}
}

func edgeLine(e cfg.Edge, sym Symbolizer) string {
	switch e.Kind {
	case cfg.EdgeFlow:
		s := "; -> " + e.Target.String()
		if e.Target.IsConstant() {
			if name := label(sym, e.Target.Value); name != "" {
				s += " <" + name + ">"
			}
		}
		return s
	case cfg.EdgeInvalid:
		return "; -> invalid " + e.Target.String()
	}
	return "; -> unresolved " + e.Target.String()
}
