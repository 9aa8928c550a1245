// Package amd64 decodes x86-64 instructions into control-flow effects.
package amd64

import (
	"bytes"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"lifter/internal/cfg"
)

var (
	endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}
	endbr32 = []byte{0xf3, 0x0f, 0x1e, 0xfb}
)

// Decoder implements cfg.Decoder for 64-bit mode x86.
type Decoder struct{}

var conditional = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JNE: true, x86asm.JG: true, x86asm.JGE: true,
	x86asm.JL: true, x86asm.JLE: true, x86asm.JO: true, x86asm.JNO: true,
	x86asm.JP: true, x86asm.JNP: true, x86asm.JS: true, x86asm.JNS: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
	x86asm.LOOP: true, x86asm.LOOPE: true, x86asm.LOOPNE: true,
}

// Decode decodes the instruction at addr. Undecodable bytes, UD2 and INT3
// end the block with an invalid exit; the stride is then one byte.
func (Decoder) Decode(b *cfg.Block, addr uint64, code []byte) (int, error) {
	switch {
	case bytes.HasPrefix(code, endbr64):
		b.Append(cfg.Instruction{Addr: addr, Len: 4, Op: cfg.OpNop, Mnemonic: "endbr64"})
		return 4, nil
	case bytes.HasPrefix(code, endbr32):
		b.Append(cfg.Instruction{Addr: addr, Len: 4, Op: cfg.OpNop, Mnemonic: "endbr32"})
		return 4, nil
	}
	if len(code) > 0 && code[0] == 0xcc {
		b.MarkInvalidExit(addr)
		return 1, nil
	}

	inst, err := x86asm.Decode(code, 64)
	if err != nil || inst.Len == 0 {
		b.MarkInvalidExit(addr)
		return 1, nil
	}

	next := addr + uint64(inst.Len)
	in := cfg.Instruction{Addr: addr, Len: inst.Len}
	text := strings.ToLower(x86asm.IntelSyntax(inst, addr, nil))
	in.Mnemonic, in.Operands, _ = strings.Cut(text, " ")

	switch {
	case inst.Op == x86asm.JMP:
		in.Op = cfg.OpJump
		in.Targets = []cfg.Operand{target(inst.Args[0], next)}
	case conditional[inst.Op]:
		in.Op = cfg.OpBranch
		in.Targets = []cfg.Operand{target(inst.Args[0], next), cfg.Const(next)}
	case inst.Op == x86asm.CALL:
		in.Op = cfg.OpCall
		in.Targets = []cfg.Operand{target(inst.Args[0], next)}
		in.Writes = callClobbers()
	case inst.Op == x86asm.RET, inst.Op == x86asm.LRET, inst.Op == x86asm.HLT:
		in.Op = cfg.OpReturn
	case inst.Op == x86asm.UD2:
		b.MarkInvalidExit(addr)
		return inst.Len, nil
	case inst.Op == x86asm.INT && inst.Args[0] == x86asm.Imm(3):
		b.MarkInvalidExit(addr)
		return inst.Len, nil
	case inst.Op == x86asm.NOP:
		in.Op = cfg.OpNop
	default:
		in.Op = cfg.OpPlain
		in.Writes = writes(inst, next)
	}

	b.Append(in)
	return inst.Len, nil
}

// callerSaved are the System V registers a callee may change.
var callerSaved = []string{"rax", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11"}

func callClobbers() []cfg.Assign {
	out := make([]cfg.Assign, len(callerSaved))
	for i, r := range callerSaved {
		out[i] = cfg.Assign{Dst: r, Src: cfg.Unknown()}
	}
	return out
}

// target converts a jump or call operand. Memory operands are loads and
// cannot be traced through register writes.
func target(arg x86asm.Arg, next uint64) cfg.Operand {
	switch a := arg.(type) {
	case x86asm.Rel:
		return cfg.Const(uint64(int64(next) + int64(a)))
	case x86asm.Reg:
		if name, full := canonical(a); full {
			return cfg.Reg(name)
		}
	}
	return cfg.Unknown()
}

// canonical maps a general purpose register to its 64-bit name. full is
// false for registers narrower than 32 bits, whose writes leave the upper
// bits in place, and for registers that are not general purpose.
func canonical(r x86asm.Reg) (name string, full bool) {
	var wide x86asm.Reg
	switch {
	case r >= x86asm.RAX && r <= x86asm.R15:
		return strings.ToLower(r.String()), true
	case r >= x86asm.EAX && r <= x86asm.R15L:
		wide, full = x86asm.RAX+(r-x86asm.EAX), true
	case r >= x86asm.AX && r <= x86asm.R15W:
		wide = x86asm.RAX + (r - x86asm.AX)
	case r >= x86asm.AL && r <= x86asm.BL:
		wide = x86asm.RAX + (r - x86asm.AL)
	case r >= x86asm.AH && r <= x86asm.BH:
		wide = x86asm.RAX + (r - x86asm.AH)
	case r >= x86asm.SPB && r <= x86asm.R15B:
		wide = x86asm.RSP + (r - x86asm.SPB)
	default:
		return "", false
	}
	return strings.ToLower(wide.String()), full
}

// readOnly lists instructions whose first operand is not written.
var readOnly = map[x86asm.Op]bool{
	x86asm.CMP:  true,
	x86asm.TEST: true,
	x86asm.PUSH: true,
	x86asm.BT:   true,
}

func writes(inst x86asm.Inst, next uint64) []cfg.Assign {
	if readOnly[inst.Op] {
		return nil
	}
	dstReg, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return nil
	}
	dst, full := canonical(dstReg)
	if dst == "" {
		return nil
	}
	w := func(src cfg.Operand) []cfg.Assign {
		return []cfg.Assign{{Dst: dst, Src: src}}
	}
	if !full {
		return w(cfg.Unknown())
	}
	wide := dstReg >= x86asm.RAX && dstReg <= x86asm.R15

	switch inst.Op {
	case x86asm.MOV:
		switch src := inst.Args[1].(type) {
		case x86asm.Imm:
			if wide {
				return w(cfg.Const(uint64(src)))
			}
			return w(cfg.Const(uint64(uint32(src))))
		case x86asm.Reg:
			if name, ok := canonical(src); ok && wide && src >= x86asm.RAX && src <= x86asm.R15 {
				return w(cfg.Reg(name))
			}
		}
	case x86asm.LEA:
		mem, ok := inst.Args[1].(x86asm.Mem)
		if !ok || mem.Index != 0 || !wide {
			break
		}
		if mem.Base == x86asm.RIP {
			return w(cfg.Const(uint64(int64(next) + mem.Disp)))
		}
		if name, ok := canonical(mem.Base); ok {
			return w(cfg.RegOffset(name, mem.Disp))
		}
	case x86asm.XOR, x86asm.SUB:
		if src, ok := inst.Args[1].(x86asm.Reg); ok && src == dstReg {
			return w(cfg.Const(0))
		}
	}
	return w(cfg.Unknown())
}
