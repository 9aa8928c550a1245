// Package report describes explored graphs as JSON, text listings and
// rendered markdown summaries.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"lifter/internal/cfg"
)

// Symbolizer names addresses. *elfx.Image implements it.
type Symbolizer interface {
	Label(va uint64) string
}

type Options struct {
	Input   string
	Arch    string
	Symbols Symbolizer
	Stats   cfg.Stats

	// Full adds the instruction listing of every block.
	Full bool
}

// Report is the JSON form of an explored graph.
type Report struct {
	Input       string    `json:"input,omitempty"`
	Arch        string    `json:"arch,omitempty"`
	Entry       string    `json:"entry"`
	EntrySymbol string    `json:"entrySymbol,omitempty"`
	Blocks      []Block   `json:"blocks"`
	Stats       cfg.Stats `json:"stats"`
}

type Block struct {
	ID           int      `json:"id"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Symbol       string   `json:"symbol,omitempty"`
	Instructions int      `json:"instructions"`
	InvalidExit  string   `json:"invalidExit,omitempty"`
	Successors   []Edge   `json:"successors,omitempty"`
	Predecessors []int    `json:"predecessors,omitempty"`
	Listing      []string `json:"listing,omitempty"`
}

type Edge struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Block  *int   `json:"block,omitempty"`
}

// sanitizeForJSON replaces invalid UTF-8 in demangled names.
func sanitizeForJSON(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

func label(sym Symbolizer, va uint64) string {
	if sym == nil {
		return ""
	}
	return sanitizeForJSON(sym.Label(va))
}

// Build describes g. Blocks are ordered by start address.
func Build(g *cfg.Graph, opts Options) Report {
	r := Report{
		Input:  opts.Input,
		Arch:   opts.Arch,
		Blocks: []Block{},
		Stats:  opts.Stats,
	}
	if entry := g.Entry(); entry != nil {
		r.Entry = hex(entry.Entry())
		r.EntrySymbol = label(opts.Symbols, entry.Entry())
	}
	if r.Stats.Blocks == 0 {
		r.Stats.Blocks = g.Len()
	}

	for _, b := range g.Blocks() {
		rb := Block{
			ID:           int(b.ID()),
			Start:        hex(b.Entry()),
			End:          hex(b.End()),
			Symbol:       label(opts.Symbols, b.Entry()),
			Instructions: decoded(b),
		}
		if b.IsInvalid() {
			rb.InvalidExit = hex(b.InvalidAddr())
		}
		for _, e := range b.Successors() {
			re := Edge{Kind: e.Kind.String(), Target: e.Target.String()}
			if e.To != cfg.NoBlock {
				id := int(e.To)
				re.Block = &id
			}
			rb.Successors = append(rb.Successors, re)
		}
		for _, p := range b.Predecessors() {
			rb.Predecessors = append(rb.Predecessors, int(p))
		}
		if opts.Full {
			for _, in := range b.Instructions() {
				rb.Listing = append(rb.Listing, instLine(in))
			}
		}
		r.Blocks = append(r.Blocks, rb)
	}
	return r
}

// JSON encodes the report with indentation.
func (r Report) JSON() ([]byte, error) {
	bts, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return bts, nil
}

func decoded(b *cfg.Block) int {
	n := 0
	for _, in := range b.Instructions() {
		if !in.Synthetic {
			n++
		}
	}
	return n
}

// instLine formats an instruction for listings. Jumps inserted by the
// explorer have no address of their own and print as a comment.
func instLine(in cfg.Instruction) string {
	if in.Synthetic {
		return fmt.Sprintf("; falls through to 0x%x", in.Addr)
	}
	return in.String()
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }
