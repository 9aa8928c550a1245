package cfg

import (
	"fmt"
	"strings"
)

// maxDotInstructions limits the instructions shown per node.
const maxDotInstructions = 20

// ToDot returns a Graphviz DOT representation of the graph. Blocks are
// labelled by entry address; invalid and unresolved edges point at shared
// sink nodes.
func (g *Graph) ToDot() string {
	var sb strings.Builder
	sb.WriteString("digraph CFG {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, fontname=\"Courier\"];\n")

	needInvalid, needUnresolved := false, false
	for _, blk := range g.Blocks() {
		label := fmt.Sprintf("0x%x..0x%x", blk.entry, blk.End())
		for i, in := range blk.insts {
			if i == maxDotInstructions {
				label += "\\l..."
				break
			}
			label += "\\l" + dotEscape(in.String())
		}
		if blk.invalid {
			label += fmt.Sprintf("\\l(invalid exit at 0x%x)", blk.exitAddr)
		}
		fmt.Fprintf(&sb, "  b%d [label=\"%s\\l\"];\n", blk.id, label)

		for _, e := range blk.succs {
			switch e.Kind {
			case EdgeFlow:
				fmt.Fprintf(&sb, "  b%d -> b%d;\n", blk.id, e.To)
			case EdgeInvalid:
				needInvalid = true
				fmt.Fprintf(&sb, "  b%d -> invalid [label=\"%s\", style=dashed];\n", blk.id, e.Target)
			case EdgeUnresolved:
				needUnresolved = true
				fmt.Fprintf(&sb, "  b%d -> unresolved [label=\"%s\", style=dotted];\n", blk.id, dotEscape(e.Target.String()))
			}
		}
	}
	if needInvalid {
		sb.WriteString("  invalid [shape=octagon, color=red];\n")
	}
	if needUnresolved {
		sb.WriteString("  unresolved [shape=diamond];\n")
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotEscape(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}
