package cfg

import (
	"fmt"
	"strings"
)

// Optimizer simplifies a complete block in place. It must be idempotent
// and must not change the block's entry address or completion.
type Optimizer interface {
	ApplyAll(b *Block) int
}

// Pass is a single in-place block simplification. Apply returns the number
// of changes made.
type Pass interface {
	Name() string
	Apply(b *Block) int
}

// Pipeline runs passes in order.
type Pipeline []Pass

// ApplyAll runs every pass once and returns the total number of changes.
func (p Pipeline) ApplyAll(b *Block) int {
	n := 0
	for _, pass := range p {
		n += pass.Apply(b)
	}
	return n
}

// DefaultPipeline returns the passes run when no pipeline is configured.
func DefaultPipeline() Pipeline {
	return Pipeline{ConstantPropagation{}, BranchCanonicalization{}}
}

var passRegistry = map[string]Pass{
	"constprop": ConstantPropagation{},
	"branches":  BranchCanonicalization{},
}

// PipelineByName builds a pipeline from pass names.
func PipelineByName(names []string) (Pipeline, error) {
	p := make(Pipeline, 0, len(names))
	for _, name := range names {
		pass, ok := passRegistry[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown optimizer pass %q", name)
		}
		p = append(p, pass)
	}
	return p, nil
}

// ConstantPropagation replaces register sources and branch targets whose
// value is a constant established earlier in the same block.
type ConstantPropagation struct{}

func (ConstantPropagation) Name() string { return "constprop" }

func (ConstantPropagation) Apply(b *Block) int {
	known := make(map[string]uint64)
	fold := func(o Operand) (Operand, bool) {
		if o.Kind != OperandRegister {
			return o, false
		}
		v, ok := known[o.Reg]
		if !ok {
			return o, false
		}
		return Const(v + uint64(o.Offset)), true
	}

	changes := 0
	for i := range b.insts {
		in := &b.insts[i]
		for j, t := range in.Targets {
			if c, ok := fold(t); ok {
				in.Targets[j] = c
				changes++
			}
		}
		for j, w := range in.Writes {
			if c, ok := fold(w.Src); ok {
				in.Writes[j].Src = c
				changes++
			}
		}
		for _, w := range in.Writes {
			if w.Src.IsConstant() {
				known[w.Dst] = w.Src.Value
			} else {
				delete(known, w.Dst)
			}
		}
	}
	return changes
}

// BranchCanonicalization turns conditional branches whose two targets are
// the same constant into unconditional jumps.
type BranchCanonicalization struct{}

func (BranchCanonicalization) Name() string { return "branches" }

func (BranchCanonicalization) Apply(b *Block) int {
	changes := 0
	for i := range b.insts {
		in := &b.insts[i]
		if in.Op != OpBranch || len(in.Targets) != 2 {
			continue
		}
		if in.Targets[0].IsConstant() && in.Targets[0] == in.Targets[1] {
			in.Op = OpJump
			in.Targets = in.Targets[:1]
			changes++
		}
	}
	return changes
}
