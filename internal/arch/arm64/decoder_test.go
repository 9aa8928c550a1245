package arm64

import (
	"encoding/binary"
	"testing"

	"lifter/internal/cfg"
)

func word(w uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, w)
}

func decodeOne(t *testing.T, addr uint64, w uint32) *cfg.Block {
	t.Helper()
	g, err := cfg.Explore(cfg.NewMemory(addr, word(w)), Decoder{}, addr,
		cfg.WithOptimizer(cfg.Pipeline{}),
		cfg.WithAnalyzer(cfg.BranchAnalyzer{}))
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}
	return g.Entry()
}

func TestDecode(t *testing.T) {
	const pc = 0x1000
	tests := []struct {
		name    string
		word    uint32
		op      cfg.OpKind
		targets []cfg.Operand
		writes  []cfg.Assign
	}{
		{"b", 0x14000002, cfg.OpJump, []cfg.Operand{cfg.Const(pc + 8)}, nil},
		{"b.eq", 0x54000040, cfg.OpBranch, []cfg.Operand{cfg.Const(pc + 8), cfg.Const(pc + 4)}, nil},
		{"cbz", 0xb4000040, cfg.OpBranch, []cfg.Operand{cfg.Const(pc + 8), cfg.Const(pc + 4)}, nil},
		{"br x16", 0xd61f0200, cfg.OpJump, []cfg.Operand{cfg.Reg("x16")}, nil},
		{"ret", 0xd65f03c0, cfg.OpReturn, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := decodeOne(t, pc, tt.word)
			if b.IsInvalid() {
				t.Fatal("unexpected invalid exit")
			}
			in := b.Instructions()[0]
			if in.Op != tt.op {
				t.Errorf("op = %v, want %v", in.Op, tt.op)
			}
			if len(in.Targets) != len(tt.targets) {
				t.Fatalf("targets = %v, want %v", in.Targets, tt.targets)
			}
			for i := range tt.targets {
				if in.Targets[i] != tt.targets[i] {
					t.Errorf("target %d = %v, want %v", i, in.Targets[i], tt.targets[i])
				}
			}
		})
	}
}

func TestDecodeCall(t *testing.T) {
	var b cfg.Block
	n, err := Decoder{}.Decode(&b, 0x2000, word(0x94000004))
	if err != nil || n != InstSize {
		t.Fatalf("Decode = %d, %v", n, err)
	}
	in, _ := b.Last()
	if in.Op != cfg.OpCall || in.Targets[0] != cfg.Const(0x2010) {
		t.Errorf("bl decoded as %v %v", in.Op, in.Targets)
	}
	last := in.Writes[len(in.Writes)-1]
	if last.Dst != "x30" || last.Src != cfg.Const(0x2004) {
		t.Errorf("bl writes = %v, want x30 = 0x2004 last", in.Writes)
	}
	clobbered := make(map[string]bool)
	for _, w := range in.Writes[:len(in.Writes)-1] {
		if w.Src != cfg.Unknown() {
			t.Errorf("%s = %v, want unknown after call", w.Dst, w.Src)
		}
		clobbered[w.Dst] = true
	}
	for _, reg := range []string{"x0", "x8", "x16", "x18"} {
		if !clobbered[reg] {
			t.Errorf("%s not clobbered by bl", reg)
		}
	}
	if clobbered["x19"] {
		t.Error("callee-saved x19 clobbered by bl")
	}
	if b.IsComplete() {
		t.Error("call must not end the block")
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"brk", word(0xd4200000)},
		{"zero word", word(0)},
		{"truncated", []byte{0x1f, 0x20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b cfg.Block
			n, err := Decoder{}.Decode(&b, 0x3000, tt.code)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if n != InstSize {
				t.Errorf("stride = %d, want %d", n, InstSize)
			}
			if !b.IsInvalid() || b.InvalidAddr() != 0x3000 || b.Len() != 0 {
				t.Errorf("expected invalid exit at 0x3000, got invalid=%v addr=0x%x len=%d",
					b.IsInvalid(), b.InvalidAddr(), b.Len())
			}
		})
	}
}

func TestParseImmShift(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"#0x20", 0x20, true},
		{"#0x1, LSL #12", 0x1000, true},
		{"#16", 16, true},
		{"#0x1, MSL #8", 0, false},
		{"x0", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseImmShift(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseImmShift(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

// A veneer that loads its destination with adrp/add and jumps through a
// register resolves to a constant block.
func TestExploreResolvesVeneer(t *testing.T) {
	const base = 0x1000
	mem := make([]byte, 0x1100)
	put := func(addr uint64, w uint32) {
		binary.LittleEndian.PutUint32(mem[addr-base:], w)
	}
	put(0x1000, 0xb4000040) // cbz x0, 0x1008
	put(0x1004, 0xd65f03c0) // ret
	put(0x1008, 0xb0000010) // adrp x16, 0x2000
	put(0x100c, 0x91008210) // add x16, x16, #0x20
	put(0x1010, 0xd61f0200) // br x16
	put(0x2020, 0xd65f03c0) // ret

	g, err := cfg.Explore(cfg.NewMemory(base, mem), Decoder{}, base)
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}

	for _, addr := range []uint64{0x1000, 0x1004, 0x1008, 0x2020} {
		if _, ok := g.Lookup(addr); !ok {
			t.Errorf("missing block at 0x%x", addr)
		}
	}
	if g.Len() != 4 {
		t.Errorf("expected 4 blocks, got %d", g.Len())
	}
	veneer, _ := g.Lookup(0x1008)
	for _, e := range veneer.Successors() {
		if e.Kind != cfg.EdgeFlow {
			t.Errorf("veneer has %v edge to %v", e.Kind, e.Target)
		}
	}
}

// A register set before a call holds an unknown value after it, so a jump
// through it stays unresolved.
func TestExploreCallClobbersRegisters(t *testing.T) {
	const base = 0x1000
	mem := make([]byte, 0x40)
	put := func(addr uint64, w uint32) {
		binary.LittleEndian.PutUint32(mem[addr-base:], w)
	}
	put(0x1000, 0x10000100) // adr x0, 0x1020
	put(0x1004, 0x94000002) // bl 0x100c
	put(0x1008, 0xd61f0000) // br x0
	put(0x1020, 0xd65f03c0) // ret

	g, err := cfg.Explore(cfg.NewMemory(base, mem), Decoder{}, base)
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}
	if _, ok := g.Lookup(0x1020); ok {
		t.Error("followed x0 across a call")
	}
	succs := g.Entry().Successors()
	if len(succs) != 1 || succs[0].Kind != cfg.EdgeUnresolved {
		t.Errorf("successors = %v, want one unresolved edge", succs)
	}
}
