package cfg

// Analyzer resolves the destinations of a complete block.
type Analyzer interface {
	Resolve(b *Block, tc *TraceContext) []Operand
}

// traceKey includes the remaining depth: a trace cut short by the limit
// must not answer a query allowed to look further.
type traceKey struct {
	reg   string
	at    int
	depth int
}

// TraceContext memoizes register values traced within a single block.
// Its facts are only valid for the block it was first used with.
type TraceContext struct {
	cache  map[traceKey]Operand
	Hits   int
	Misses int
}

// NewTraceContext returns an empty trace context.
func NewTraceContext() *TraceContext {
	return &TraceContext{cache: make(map[traceKey]Operand)}
}

// Trace returns the value reg holds right before instruction at of b,
// following register copies back through at most depth writes. A register
// that is never written in the block is returned as itself.
func (tc *TraceContext) Trace(b *Block, reg string, at, depth int) Operand {
	key := traceKey{reg, at, depth}
	if v, ok := tc.cache[key]; ok {
		tc.Hits++
		return v
	}
	tc.Misses++
	v := tc.trace(b, reg, at, depth)
	tc.cache[key] = v
	return v
}

func (tc *TraceContext) trace(b *Block, reg string, at, depth int) Operand {
	if at > len(b.insts) {
		at = len(b.insts)
	}
	for i := at - 1; i >= 0; i-- {
		src, ok := lastWrite(b.insts[i], reg)
		if !ok {
			continue
		}
		if src.Kind != OperandRegister {
			return src
		}
		if depth <= 0 {
			return src
		}
		base := tc.Trace(b, src.Reg, i, depth-1)
		switch base.Kind {
		case OperandConstant:
			return Const(base.Value + uint64(src.Offset))
		case OperandRegister:
			return RegOffset(base.Reg, base.Offset+src.Offset)
		}
		return Unknown()
	}
	return Reg(reg)
}

func lastWrite(in Instruction, reg string) (Operand, bool) {
	for i := len(in.Writes) - 1; i >= 0; i-- {
		if in.Writes[i].Dst == reg {
			return in.Writes[i].Src, true
		}
	}
	return Operand{}, false
}

// DefaultTraceDepth bounds how many register copies a trace follows.
const DefaultTraceDepth = 16

// BranchAnalyzer reports the targets of a block's terminal instruction.
// With ResolveIndirect set, register targets are traced back through the
// block's register writes.
type BranchAnalyzer struct {
	ResolveIndirect bool
	MaxDepth        int
}

// Resolve returns the block's destinations in the order the terminal
// instruction lists them, without duplicates.
func (a BranchAnalyzer) Resolve(b *Block, tc *TraceContext) []Operand {
	last, ok := b.Last()
	if !ok || b.invalid || !last.Op.Terminal() {
		return nil
	}
	depth := a.MaxDepth
	if depth <= 0 {
		depth = DefaultTraceDepth
	}

	var dests []Operand
	for _, t := range last.Targets {
		if t.Kind == OperandRegister && a.ResolveIndirect {
			v := tc.Trace(b, t.Reg, len(b.insts)-1, depth)
			switch v.Kind {
			case OperandConstant:
				t = Const(v.Value + uint64(t.Offset))
			case OperandRegister:
				t = RegOffset(v.Reg, v.Offset+t.Offset)
			default:
				t = v
			}
		}
		if !containsOperand(dests, t) {
			dests = append(dests, t)
		}
	}
	return dests
}

func containsOperand(ops []Operand, o Operand) bool {
	for _, x := range ops {
		if x == o {
			return true
		}
	}
	return false
}
