package cfg

// BlockID is a handle into a Graph's block arena.
type BlockID int

// NoBlock is the destination of edges that do not lead to a block.
const NoBlock BlockID = -1

// EdgeKind classifies a successor edge.
type EdgeKind uint8

const (
	EdgeFlow       EdgeKind = iota // resolved edge to another block
	EdgeInvalid                    // target rejected by the input source
	EdgeUnresolved                 // target is not a compile-time constant
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeFlow:
		return "flow"
	case EdgeInvalid:
		return "invalid"
	case EdgeUnresolved:
		return "unresolved"
	}
	return "unknown"
}

// Edge is a successor edge of a block.
type Edge struct {
	Kind   EdgeKind
	Target Operand
	To     BlockID
}

// Block is a straight-line run of decoded instructions starting at a
// leader address.
type Block struct {
	id    BlockID
	entry uint64
	insts []Instruction

	succs []Edge
	preds []BlockID

	invalid  bool
	exitAddr uint64

	// tail is the block that took over this block's terminal
	// instruction when it was split.
	tail BlockID
}

func newBlock(id BlockID, entry uint64) *Block {
	return &Block{id: id, entry: entry, tail: NoBlock}
}

func (b *Block) ID() BlockID     { return b.id }
func (b *Block) Entry() uint64   { return b.entry }
func (b *Block) Len() int        { return len(b.insts) }
func (b *Block) IsInvalid() bool { return b.invalid }

// InvalidAddr returns the address that ended the block with an invalid
// exit. It is only meaningful when IsInvalid is true.
func (b *Block) InvalidAddr() uint64 { return b.exitAddr }

// Instructions returns the block's instructions. The slice must not be
// modified by the caller.
func (b *Block) Instructions() []Instruction { return b.insts }

// Successors returns the block's outgoing edges.
func (b *Block) Successors() []Edge { return b.succs }

// Predecessors returns the handles of blocks with a flow edge into b.
func (b *Block) Predecessors() []BlockID { return b.preds }

// Last returns the final instruction of the block.
func (b *Block) Last() (Instruction, bool) {
	if len(b.insts) == 0 {
		return Instruction{}, false
	}
	return b.insts[len(b.insts)-1], true
}

// End returns the address just past the last decoded byte of the block.
func (b *Block) End() uint64 {
	end := b.entry
	for _, in := range b.insts {
		if !in.Synthetic && in.End() > end {
			end = in.End()
		}
	}
	return end
}

// IsComplete reports whether the block ended with a terminal instruction
// or an invalid exit.
func (b *Block) IsComplete() bool {
	if b.invalid {
		return true
	}
	last, ok := b.Last()
	return ok && last.Op.Terminal()
}

// Append adds a decoded instruction to the block. Appending to a
// complete block is ignored.
func (b *Block) Append(in Instruction) {
	if b.IsComplete() {
		return
	}
	b.insts = append(b.insts, in.clone())
}

// MarkInvalidExit ends the block because addr cannot be decoded.
func (b *Block) MarkInvalidExit(addr uint64) {
	if b.IsComplete() {
		return
	}
	b.invalid = true
	b.exitAddr = addr
}

// TerminateWithJump ends the block with an explicit jump to addr.
func (b *Block) TerminateWithJump(addr uint64) {
	if b.IsComplete() {
		return
	}
	b.insts = append(b.insts, jumpTo(addr))
}

func jumpTo(addr uint64) Instruction {
	return Instruction{
		Addr:      addr,
		Op:        OpJump,
		Mnemonic:  "jmp",
		Targets:   []Operand{Const(addr)},
		Synthetic: true,
	}
}

// indexOf returns the index of the decoded instruction starting at addr.
// The first instruction is never reported, since addr would then be the
// block's own entry.
func (b *Block) indexOf(addr uint64) (int, bool) {
	if addr <= b.entry {
		return 0, false
	}
	for i := 1; i < len(b.insts); i++ {
		in := b.insts[i]
		if in.Synthetic {
			continue
		}
		if in.Addr == addr {
			return i, true
		}
		if in.Addr > addr {
			break
		}
	}
	return 0, false
}

func (b *Block) addEdge(e Edge) bool {
	for _, s := range b.succs {
		if s.Kind == e.Kind && s.To == e.To && s.Target == e.Target {
			return false
		}
	}
	b.succs = append(b.succs, e)
	return true
}

func (b *Block) addPred(id BlockID) {
	for _, p := range b.preds {
		if p == id {
			return
		}
	}
	b.preds = append(b.preds, id)
}

func (b *Block) replacePred(old, repl BlockID) {
	out := b.preds[:0]
	seen := false
	for _, p := range b.preds {
		if p == old {
			p = repl
		}
		if p == repl {
			if seen {
				continue
			}
			seen = true
		}
		out = append(out, p)
	}
	b.preds = out
}
