package amd64

import (
	"testing"

	"lifter/internal/cfg"
)

func decode(t *testing.T, addr uint64, code ...byte) (*cfg.Block, int) {
	t.Helper()
	g, err := cfg.Explore(cfg.NewMemory(addr, code), Decoder{}, addr,
		cfg.WithOptimizer(cfg.Pipeline{}),
		cfg.WithAnalyzer(cfg.BranchAnalyzer{}))
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}
	b := g.Entry()
	n := 0
	if in, ok := b.Last(); ok {
		n = in.Len
	}
	return b, n
}

func TestDecodeControlFlow(t *testing.T) {
	const pc = 0x401000
	tests := []struct {
		name    string
		code    []byte
		op      cfg.OpKind
		length  int
		targets []cfg.Operand
	}{
		{"ret", []byte{0xc3}, cfg.OpReturn, 1, nil},
		{"hlt", []byte{0xf4}, cfg.OpReturn, 1, nil},
		{"jmp rel8", []byte{0xeb, 0x10}, cfg.OpJump, 2, []cfg.Operand{cfg.Const(pc + 0x12)}},
		{"jmp rel32", []byte{0xe9, 0x00, 0x01, 0x00, 0x00}, cfg.OpJump, 5, []cfg.Operand{cfg.Const(pc + 0x105)}},
		{"je", []byte{0x74, 0x05}, cfg.OpBranch, 2, []cfg.Operand{cfg.Const(pc + 7), cfg.Const(pc + 2)}},
		{"jne rel32", []byte{0x0f, 0x85, 0x10, 0x00, 0x00, 0x00}, cfg.OpBranch, 6, []cfg.Operand{cfg.Const(pc + 0x16), cfg.Const(pc + 6)}},
		{"jmp rax", []byte{0xff, 0xe0}, cfg.OpJump, 2, []cfg.Operand{cfg.Reg("rax")}},
		{"jmp mem", []byte{0xff, 0x25, 0x10, 0x00, 0x00, 0x00}, cfg.OpJump, 6, []cfg.Operand{cfg.Unknown()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, n := decode(t, pc, tt.code...)
			if b.IsInvalid() {
				t.Fatal("unexpected invalid exit")
			}
			in := b.Instructions()[0]
			if in.Op != tt.op {
				t.Errorf("op = %v, want %v", in.Op, tt.op)
			}
			if n != tt.length {
				t.Errorf("length = %d, want %d", n, tt.length)
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

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		stride int
	}{
		{"ud2", []byte{0x0f, 0x0b}, 2},
		{"int3", []byte{0xcc}, 1},
		{"truncated", []byte{0xe8, 0x00}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b cfg.Block
			n, err := Decoder{}.Decode(&b, 0x500, tt.code)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if n != tt.stride {
				t.Errorf("stride = %d, want %d", n, tt.stride)
			}
			if !b.IsInvalid() || b.InvalidAddr() != 0x500 {
				t.Error("expected invalid exit at 0x500")
			}
		})
	}
}

func TestDecodeSkipsEndbr(t *testing.T) {
	var b cfg.Block
	n, err := Decoder{}.Decode(&b, 0x1000, []byte{0xf3, 0x0f, 0x1e, 0xfa, 0xc3})
	if err != nil || n != 4 {
		t.Fatalf("Decode = %d, %v", n, err)
	}
	in, _ := b.Last()
	if in.Op != cfg.OpNop || in.Mnemonic != "endbr64" {
		t.Errorf("endbr64 decoded as %v %q", in.Op, in.Mnemonic)
	}
}

func TestWrites(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want cfg.Assign
	}{
		{"mov eax imm", []byte{0xb8, 0x78, 0x56, 0x34, 0x12}, cfg.Assign{Dst: "rax", Src: cfg.Const(0x12345678)}},
		{"mov rax rbx", []byte{0x48, 0x89, 0xd8}, cfg.Assign{Dst: "rax", Src: cfg.Reg("rbx")}},
		{"lea rip", []byte{0x48, 0x8d, 0x05, 0x10, 0x00, 0x00, 0x00}, cfg.Assign{Dst: "rax", Src: cfg.Const(0x1000 + 7 + 0x10)}},
		{"xor eax eax", []byte{0x31, 0xc0}, cfg.Assign{Dst: "rax", Src: cfg.Const(0)}},
		{"mov al imm", []byte{0xb0, 0x01}, cfg.Assign{Dst: "rax", Src: cfg.Unknown()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b cfg.Block
			if _, err := (Decoder{}).Decode(&b, 0x1000, tt.code); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			in, ok := b.Last()
			if !ok {
				t.Fatal("nothing decoded")
			}
			if len(in.Writes) != 1 || in.Writes[0] != tt.want {
				t.Errorf("writes = %v, want [%v]", in.Writes, tt.want)
			}
		})
	}
}

// lea rax, [rip+0x3]; jmp rax; ret; ret resolves the register jump.
func TestExploreResolvesRegisterJump(t *testing.T) {
	code := []byte{
		0x48, 0x8d, 0x05, 0x03, 0x00, 0x00, 0x00, // lea rax, [rip+3] -> 0x100a
		0xff, 0xe0, // jmp rax
		0xc3, // ret (0x1009, unreachable)
		0xc3, // ret (0x100a)
	}
	g, err := cfg.Explore(cfg.NewMemory(0x1000, code), Decoder{}, 0x1000)
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}
	if _, ok := g.Lookup(0x100a); !ok {
		t.Fatalf("register jump not resolved; leaders %x", g.Leaders())
	}
	if _, ok := g.Lookup(0x1009); ok {
		t.Error("unreachable byte became a block")
	}
	if g.Len() != 2 {
		t.Errorf("expected 2 blocks, got %d", g.Len())
	}
}

// mov eax, 0x1020; call; jmp rax must not resolve to 0x1020: rax is
// caller-saved.
func TestExploreCallClobbersRegisters(t *testing.T) {
	code := make([]byte, 0x40)
	copy(code, []byte{
		0xb8, 0x20, 0x10, 0x00, 0x00, // mov eax, 0x1020
		0xe8, 0x26, 0x00, 0x00, 0x00, // call 0x1030
		0xff, 0xe0, // jmp rax
	})
	code[0x20] = 0xc3 // ret

	g, err := cfg.Explore(cfg.NewMemory(0x1000, code), Decoder{}, 0x1000)
	if err != nil {
		t.Fatalf("Explore failed: %v", err)
	}
	if _, ok := g.Lookup(0x1020); ok {
		t.Error("followed rax across a call")
	}
	succs := g.Entry().Successors()
	if len(succs) != 1 || succs[0].Kind != cfg.EdgeUnresolved {
		t.Errorf("successors = %v, want one unresolved edge", succs)
	}
}

func TestCallKeepsCalleeSaved(t *testing.T) {
	b, _ := decode(t, 0x1000, 0xe8, 0x00, 0x00, 0x00, 0x00)
	in := b.Instructions()[0]
	if in.Op != cfg.OpCall {
		t.Fatalf("op = %v, want call", in.Op)
	}
	for _, w := range in.Writes {
		if w.Src != cfg.Unknown() {
			t.Errorf("%s = %v after call", w.Dst, w.Src)
		}
		switch w.Dst {
		case "rbx", "rbp", "rsp", "r12", "r13", "r14", "r15":
			t.Errorf("callee-saved %s clobbered", w.Dst)
		}
	}
	if len(in.Writes) != len(callerSaved) {
		t.Errorf("got %d clobbers, want %d", len(in.Writes), len(callerSaved))
	}
}
