package cfg

import (
	"cmp"
	"fmt"
	"slices"
)

// Graph is the arena of discovered blocks together with the leader table
// mapping every known block start address to its block.
type Graph struct {
	blocks  []*Block
	leaders map[uint64]BlockID
	entry   BlockID

	// interior maps the address of every decoded instruction after a
	// block's first one to the block holding it.
	interior map[uint64]BlockID
}

func newGraph() *Graph {
	return &Graph{
		leaders:  make(map[uint64]BlockID),
		entry:    NoBlock,
		interior: make(map[uint64]BlockID),
	}
}

// Entry returns the block exploration started from.
func (g *Graph) Entry() *Block {
	if g.entry == NoBlock {
		return nil
	}
	return g.blocks[g.entry]
}

// Block returns the block for a handle, or nil for NoBlock and handles
// outside the arena.
func (g *Graph) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(g.blocks) {
		return nil
	}
	return g.blocks[id]
}

// Lookup returns the block starting at addr.
func (g *Graph) Lookup(addr uint64) (*Block, bool) {
	id, ok := g.leaders[addr]
	if !ok {
		return nil, false
	}
	return g.blocks[id], true
}

// Len returns the number of blocks in the graph.
func (g *Graph) Len() int { return len(g.blocks) }

// Blocks returns all blocks ordered by entry address.
func (g *Graph) Blocks() []*Block {
	out := slices.Clone(g.blocks)
	slices.SortFunc(out, func(a, b *Block) int {
		return cmp.Compare(a.entry, b.entry)
	})
	return out
}

// Leaders returns every leader address in ascending order.
func (g *Graph) Leaders() []uint64 {
	out := make([]uint64, 0, len(g.leaders))
	for addr := range g.leaders {
		out = append(out, addr)
	}
	slices.Sort(out)
	return out
}

// insert creates and registers a block at addr. The caller must have
// checked that addr is not a leader yet.
func (g *Graph) insert(addr uint64) (*Block, error) {
	if id, ok := g.leaders[addr]; ok {
		return nil, fmt.Errorf("%w: 0x%x already registered to block %d", ErrInconsistentLeaders, addr, id)
	}
	blk := newBlock(BlockID(len(g.blocks)), addr)
	g.blocks = append(g.blocks, blk)
	g.leaders[addr] = blk.id
	return blk, nil
}

// index records the interior instruction addresses of a populated block.
// An address already claimed by an earlier block keeps its owner.
func (g *Graph) index(b *Block) {
	for i := 1; i < len(b.insts); i++ {
		in := b.insts[i]
		if in.Synthetic {
			continue
		}
		if _, ok := g.interior[in.Addr]; !ok {
			g.interior[in.Addr] = b.id
		}
	}
}

// containing finds the block that has a decoded instruction starting at
// addr somewhere after its first instruction.
func (g *Graph) containing(addr uint64) (*Block, int) {
	id, ok := g.interior[addr]
	if !ok {
		return nil, 0
	}
	blk := g.blocks[id]
	idx, ok := blk.indexOf(addr)
	if !ok {
		return nil, 0
	}
	return blk, idx
}

// holder follows split chains to the block currently owning the
// terminal instruction that id was decoded with.
func (g *Graph) holder(id BlockID) *Block {
	blk := g.blocks[id]
	for blk.tail != NoBlock {
		blk = g.blocks[blk.tail]
	}
	return blk
}

func (g *Graph) link(from, to *Block) {
	if from.addEdge(Edge{Kind: EdgeFlow, Target: Const(to.entry), To: to.id}) {
		to.addPred(from.id)
	}
}

// split cuts owner before instruction idx. The tail inherits the
// instructions from idx on together with every successor edge; owner
// keeps the head and gains a jump edge to the tail.
func (g *Graph) split(owner *Block, idx int) (*Block, error) {
	at := owner.insts[idx].Addr
	tail, err := g.insert(at)
	if err != nil {
		return nil, err
	}

	tail.insts = slices.Clone(owner.insts[idx:])
	tail.succs = owner.succs
	tail.invalid, tail.exitAddr = owner.invalid, owner.exitAddr
	tail.tail = owner.tail
	delete(g.interior, at)
	for _, in := range tail.insts[1:] {
		if id, ok := g.interior[in.Addr]; ok && id == owner.id {
			g.interior[in.Addr] = tail.id
		}
	}
	for _, e := range tail.succs {
		if e.Kind != EdgeFlow {
			continue
		}
		succ := g.blocks[e.To]
		if succ == owner {
			// Self loop: the edge now leaves from the tail and
			// enters the head.
			owner.replacePred(owner.id, tail.id)
			continue
		}
		succ.replacePred(owner.id, tail.id)
	}

	owner.insts = append(owner.insts[:idx:idx], jumpTo(at))
	owner.succs = nil
	owner.invalid, owner.exitAddr = false, 0
	owner.tail = tail.id
	g.link(owner, tail)

	return tail, nil
}
