// Package cfg recovers control-flow graphs by recursive descent over an
// instruction stream.
//
// Exploration starts at an entry address, decodes instructions into a
// block until the block ends, resolves the block's destinations, and
// descends depth-first into every constant destination that is not yet a
// leader. Destinations landing inside an already decoded block split it.
package cfg

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// Decoder decodes the instruction at addr from code, appends its effect to
// b and returns its length in bytes. Undecodable input is reported with
// b.MarkInvalidExit instead of an appended instruction.
type Decoder interface {
	Decode(b *Block, addr uint64, code []byte) (int, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(b *Block, addr uint64, code []byte) (int, error)

func (f DecoderFunc) Decode(b *Block, addr uint64, code []byte) (int, error) {
	return f(b, addr, code)
}

// Stats counts what an exploration did.
type Stats struct {
	Blocks       int `json:"blocks"`
	Populated    int `json:"populated"`
	Splits       int `json:"splits"`
	Instructions int `json:"instructions"`
	InvalidExits int `json:"invalidExits"`
	InvalidEdges int `json:"invalidEdges"`
	Unresolved   int `json:"unresolved"`
	TraceHits    int `json:"traceHits"`
	TraceMisses  int `json:"traceMisses"`
}

// Explorer drives a single exploration. It is not safe for concurrent use
// and is meant to be discarded once Run returns.
type Explorer struct {
	src       Source
	dec       Decoder
	opt       Optimizer
	analyzer  Analyzer
	logger    *log.Logger
	maxBlocks int

	graph *Graph
	stats Stats
	done  bool
}

// Option configures an Explorer.
type Option func(*Explorer)

// WithOptimizer replaces the default optimizer pipeline.
func WithOptimizer(opt Optimizer) Option {
	return func(e *Explorer) {
		if opt != nil {
			e.opt = opt
		}
	}
}

// WithAnalyzer replaces the default branch analyzer.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Explorer) {
		if a != nil {
			e.analyzer = a
		}
	}
}

// WithLogger sets the logger exploration progress is reported to.
func WithLogger(l *log.Logger) Option {
	return func(e *Explorer) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxBlocks aborts exploration with ErrBlockLimit once more than n
// blocks would exist. Zero means no limit.
func WithMaxBlocks(n int) Option {
	return func(e *Explorer) { e.maxBlocks = n }
}

// New returns an explorer over src with the entry block registered as the
// first leader.
func New(src Source, dec Decoder, entry uint64, opts ...Option) *Explorer {
	e := &Explorer{
		src:      src,
		dec:      dec,
		opt:      DefaultPipeline(),
		analyzer: BranchAnalyzer{ResolveIndirect: true},
		logger:   log.New(io.Discard),
		graph:    newGraph(),
	}
	for _, opt := range opts {
		opt(e)
	}
	blk, _ := e.graph.insert(entry)
	e.graph.entry = blk.id
	return e
}

// Explore builds the graph reachable from entry.
func Explore(src Source, dec Decoder, entry uint64, opts ...Option) (*Graph, error) {
	return New(src, dec, entry, opts...).Run()
}

// Graph returns the graph built so far.
func (e *Explorer) Graph() *Graph { return e.graph }

// Stats returns the exploration counters.
func (e *Explorer) Stats() Stats {
	s := e.stats
	s.Blocks = e.graph.Len()
	return s
}

// frame is one pending level of the depth-first descent: a populated
// block and the destinations still to be dispatched.
type frame struct {
	id    BlockID
	dests []Operand
	next  int
}

// Run populates the entry block and every block reachable from it through
// constant destinations. Calling Run again returns the same graph.
func (e *Explorer) Run() (*Graph, error) {
	if e.done {
		return e.graph, nil
	}
	e.done = true

	var stack []*frame
	f, err := e.populate(e.graph.Entry())
	if err != nil {
		return nil, err
	}
	if f != nil {
		stack = append(stack, f)
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.dests) {
			stack = stack[:len(stack)-1]
			continue
		}
		dest := top.dests[top.next]
		top.next++

		from := e.graph.holder(top.id)
		if !dest.IsConstant() {
			if from.addEdge(Edge{Kind: EdgeUnresolved, Target: dest, To: NoBlock}) {
				e.stats.Unresolved++
				e.logger.Debug("unresolved destination", "block", hex(from.entry), "target", dest.String())
			}
			continue
		}

		next, created, err := e.Fork(from, dest.Value)
		if err != nil {
			return nil, err
		}
		if !created {
			continue
		}
		nf, err := e.populate(next)
		if err != nil {
			return nil, err
		}
		if nf != nil {
			stack = append(stack, nf)
		}
	}

	e.logger.Debug("exploration finished",
		"blocks", e.graph.Len(),
		"splits", e.stats.Splits,
		"unresolved", e.stats.Unresolved)
	return e.graph, nil
}

// populate decodes b, optimizes it and resolves its destinations. It
// returns nil when the block ended on an address the source rejects.
func (e *Explorer) populate(b *Block) (*frame, error) {
	e.stats.Populated++
	addr := b.entry
	code := e.src.Bytes(addr)

	for {
		if !e.src.IsValid(addr) {
			b.MarkInvalidExit(addr)
			e.invalidExit(b, addr)
			e.graph.index(b)
			return nil, nil
		}
		if len(code) == 0 {
			code = e.src.Bytes(addr)
		}

		before := len(b.insts)
		stride, err := e.dec.Decode(b, addr, code)
		if err != nil {
			return nil, fmt.Errorf("decode at 0x%x: %w", addr, err)
		}
		if stride < 1 {
			return nil, fmt.Errorf("%w: stride %d at 0x%x", ErrDecoderContract, stride, addr)
		}
		appended := len(b.insts) - before
		if appended > 1 || (appended == 0 && !b.invalid) {
			return nil, fmt.Errorf("%w: %d instructions appended at 0x%x", ErrDecoderContract, appended, addr)
		}
		e.stats.Instructions += appended

		if b.IsComplete() {
			break
		}

		addr += uint64(stride)
		if stride < len(code) {
			code = code[stride:]
		} else {
			code = nil
		}

		if _, ok := e.graph.leaders[addr]; ok {
			b.TerminateWithJump(addr)
			if _, _, err := e.Fork(b, addr); err != nil {
				return nil, err
			}
			e.logger.Debug("reached leader", "block", hex(b.entry), "leader", hex(addr))
			break
		}
	}
	if b.invalid {
		e.invalidExit(b, b.exitAddr)
	}
	e.graph.index(b)

	entry, complete := b.entry, b.IsComplete()
	if n := e.opt.ApplyAll(b); n > 0 {
		e.logger.Debug("optimized block", "block", hex(b.entry), "changes", n)
	}
	if b.entry != entry || b.IsComplete() != complete {
		return nil, fmt.Errorf("%w: block 0x%x changed by optimizer", ErrOptimizerContract, entry)
	}

	tc := NewTraceContext()
	dests := e.analyzer.Resolve(b, tc)
	e.stats.TraceHits += tc.Hits
	e.stats.TraceMisses += tc.Misses

	e.logger.Debug("populated block",
		"block", hex(b.entry),
		"end", hex(b.End()),
		"instructions", len(b.insts),
		"destinations", len(dests))
	return &frame{id: b.id, dests: dests}, nil
}

func (e *Explorer) invalidExit(b *Block, addr uint64) {
	b.addEdge(Edge{Kind: EdgeInvalid, Target: Const(addr), To: NoBlock})
	e.stats.InvalidExits++
	e.logger.Debug("invalid exit", "block", hex(b.entry), "addr", hex(addr))
}

// Fork maps addr to the block starting there. An existing leader is
// returned as is. An address inside a decoded block splits that block and
// returns the tail. An unknown address gets a fresh, empty block and
// created is true; only then does the caller have to populate it.
//
// A flow edge from from to the returned block is recorded when from is
// not nil. An address rejected by the source yields no block and an
// invalid edge on from.
func (e *Explorer) Fork(from *Block, addr uint64) (blk *Block, created bool, err error) {
	if !e.src.IsValid(addr) {
		if from != nil && from.addEdge(Edge{Kind: EdgeInvalid, Target: Const(addr), To: NoBlock}) {
			e.stats.InvalidEdges++
			e.logger.Debug("invalid destination", "block", hex(from.entry), "target", hex(addr))
		}
		return nil, false, nil
	}

	if blk, ok := e.graph.Lookup(addr); ok {
		if blk.entry != addr {
			return nil, false, fmt.Errorf("%w: leader 0x%x maps to block at 0x%x", ErrInconsistentLeaders, addr, blk.entry)
		}
		if from != nil {
			e.graph.link(from, blk)
		}
		return blk, false, nil
	}

	if err := e.checkLimit(); err != nil {
		return nil, false, err
	}

	if owner, idx := e.graph.containing(addr); owner != nil {
		tail, err := e.graph.split(owner, idx)
		if err != nil {
			return nil, false, err
		}
		if tail.entry != addr {
			return nil, false, fmt.Errorf("%w: split at 0x%x produced block at 0x%x", ErrInconsistentLeaders, addr, tail.entry)
		}
		e.stats.Splits++
		e.logger.Debug("split block", "block", hex(owner.entry), "at", hex(addr))
		if from != nil {
			// from may have been the block just split.
			e.graph.link(e.graph.holder(from.id), tail)
		}
		return tail, false, nil
	}

	blk, err = e.graph.insert(addr)
	if err != nil {
		return nil, false, err
	}
	if from != nil {
		e.graph.link(from, blk)
	}
	return blk, true, nil
}

func (e *Explorer) checkLimit() error {
	if e.maxBlocks > 0 && e.graph.Len() >= e.maxBlocks {
		return fmt.Errorf("%w: %d blocks", ErrBlockLimit, e.maxBlocks)
	}
	return nil
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }
