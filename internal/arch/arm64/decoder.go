// Package arm64 decodes AArch64 instructions into control-flow effects.
package arm64

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"lifter/internal/cfg"
)

// InstSize is the fixed AArch64 instruction width.
const InstSize = 4

// Decoder implements cfg.Decoder for AArch64.
type Decoder struct{}

// Decode decodes the instruction at addr. Undecodable words, BRK, HLT and
// UDF end the block with an invalid exit.
func (Decoder) Decode(b *cfg.Block, addr uint64, code []byte) (int, error) {
	if len(code) < InstSize {
		b.MarkInvalidExit(addr)
		return InstSize, nil
	}
	inst, err := arm64asm.Decode(code[:InstSize])
	if err != nil {
		b.MarkInvalidExit(addr)
		return InstSize, nil
	}

	in := cfg.Instruction{Addr: addr, Len: InstSize}
	text := strings.ToLower(inst.String())
	in.Mnemonic, in.Operands, _ = strings.Cut(text, " ")

	next := addr + InstSize
	switch inst.Op {
	case arm64asm.B:
		target, ok := pcrel(inst, addr)
		if !ok {
			b.MarkInvalidExit(addr)
			return InstSize, nil
		}
		if conditional(inst) {
			in.Op = cfg.OpBranch
			in.Targets = []cfg.Operand{cfg.Const(target), cfg.Const(next)}
		} else {
			in.Op = cfg.OpJump
			in.Targets = []cfg.Operand{cfg.Const(target)}
		}
		in.Operands = fmt.Sprintf("0x%x", target)

	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		target, ok := pcrel(inst, addr)
		if !ok {
			b.MarkInvalidExit(addr)
			return InstSize, nil
		}
		in.Op = cfg.OpBranch
		in.Targets = []cfg.Operand{cfg.Const(target), cfg.Const(next)}
		in.Operands = replaceTarget(in.Operands, target)

	case arm64asm.BR:
		in.Op = cfg.OpJump
		in.Targets = []cfg.Operand{regTarget(inst.Args[0])}

	case arm64asm.RET:
		in.Op = cfg.OpReturn

	case arm64asm.BL:
		target, ok := pcrel(inst, addr)
		if !ok {
			b.MarkInvalidExit(addr)
			return InstSize, nil
		}
		in.Op = cfg.OpCall
		in.Targets = []cfg.Operand{cfg.Const(target)}
		in.Writes = callWrites(next)
		in.Operands = fmt.Sprintf("0x%x", target)

	case arm64asm.BLR:
		in.Op = cfg.OpCall
		in.Targets = []cfg.Operand{regTarget(inst.Args[0])}
		in.Writes = callWrites(next)

	case arm64asm.BRK, arm64asm.HLT:
		b.MarkInvalidExit(addr)
		return InstSize, nil

	case arm64asm.NOP:
		in.Op = cfg.OpNop

	default:
		if in.Mnemonic == "udf" {
			b.MarkInvalidExit(addr)
			return InstSize, nil
		}
		in.Op = cfg.OpPlain
		in.Writes = writes(inst, addr)
	}

	b.Append(in)
	return InstSize, nil
}

// callWrites models a call: the callee may change x0-x18 under AAPCS64,
// and the link register holds the return address.
func callWrites(ret uint64) []cfg.Assign {
	out := make([]cfg.Assign, 0, 20)
	for i := 0; i <= 18; i++ {
		out = append(out, cfg.Assign{Dst: fmt.Sprintf("x%d", i), Src: cfg.Unknown()})
	}
	return append(out, cfg.Assign{Dst: "x30", Src: cfg.Const(ret)})
}

// pcrel finds the PC-relative argument of a branch and returns its
// absolute target.
func pcrel(inst arm64asm.Inst, pc uint64) (uint64, bool) {
	for _, arg := range inst.Args {
		if rel, ok := arg.(arm64asm.PCRel); ok {
			return uint64(int64(pc) + int64(rel)), true
		}
	}
	return 0, false
}

func conditional(inst arm64asm.Inst) bool {
	for _, arg := range inst.Args {
		if _, ok := arg.(arm64asm.Cond); ok {
			return true
		}
	}
	return false
}

// replaceTarget swaps the trailing relative label in a printed operand
// list for the absolute address.
func replaceTarget(ops string, target uint64) string {
	if i := strings.LastIndex(ops, ","); i >= 0 {
		return fmt.Sprintf("%s, 0x%x", ops[:i], target)
	}
	return fmt.Sprintf("0x%x", target)
}

func regTarget(arg arm64asm.Arg) cfg.Operand {
	if name, ok := regName(arg); ok {
		return cfg.Reg(name)
	}
	return cfg.Unknown()
}

// regName returns the canonical 64-bit name of a register argument. W
// registers alias their X register, since 32-bit writes zero the upper
// half.
func regName(arg arm64asm.Arg) (string, bool) {
	var s string
	switch r := arg.(type) {
	case arm64asm.Reg:
		s = r.String()
	case arm64asm.RegSP:
		s = r.String()
	default:
		return "", false
	}
	s = strings.ToLower(s)
	switch {
	case s == "wsp":
		return "sp", true
	case s == "wzr":
		return "xzr", true
	case len(s) > 1 && s[0] == 'w' && s[1] >= '0' && s[1] <= '9':
		return "x" + s[1:], true
	case s == "sp" || s == "xzr" || (len(s) > 1 && s[0] == 'x'):
		return s, true
	}
	// SIMD and system registers are not tracked.
	return "", false
}

// readOnly lists instructions whose first operand is a source.
var readOnly = map[arm64asm.Op]bool{
	arm64asm.STR:  true,
	arm64asm.STRB: true,
	arm64asm.STRH: true,
	arm64asm.STP:  true,
	arm64asm.STUR: true,
	arm64asm.CMP:  true,
	arm64asm.CMN:  true,
	arm64asm.TST:  true,
	arm64asm.CCMP: true,
	arm64asm.CCMN: true,
	arm64asm.PRFM: true,
}

// writes describes the register writes of a non-branch instruction.
// Values that cannot be expressed as a constant or a register plus offset
// are recorded as unknown.
func writes(inst arm64asm.Inst, pc uint64) []cfg.Assign {
	if readOnly[inst.Op] {
		return nil
	}
	dst, ok := regName(inst.Args[0])
	if !ok || dst == "xzr" {
		return nil
	}
	w := func(src cfg.Operand) []cfg.Assign {
		return []cfg.Assign{{Dst: dst, Src: src}}
	}

	switch inst.Op {
	case arm64asm.ADRP:
		if rel, ok := inst.Args[1].(arm64asm.PCRel); ok {
			page := uint64(int64(pc)+int64(rel)) &^ 0xfff
			return w(cfg.Const(page))
		}
	case arm64asm.ADR:
		if rel, ok := inst.Args[1].(arm64asm.PCRel); ok {
			return w(cfg.Const(uint64(int64(pc) + int64(rel))))
		}
	case arm64asm.ADD, arm64asm.SUB:
		if inst.Args[3] != nil {
			break
		}
		src, ok := regName(inst.Args[1])
		if !ok {
			break
		}
		imm, ok := immediate(inst.Args[2])
		if !ok {
			break
		}
		off := int64(imm)
		if inst.Op == arm64asm.SUB {
			off = -off
		}
		if src == "xzr" {
			return w(cfg.Const(uint64(off)))
		}
		return w(cfg.RegOffset(src, off))
	case arm64asm.MOV, arm64asm.MOVZ:
		if src, ok := regName(inst.Args[1]); ok {
			if src == "xzr" {
				return w(cfg.Const(0))
			}
			return w(cfg.Reg(src))
		}
		if imm, ok := immediate(inst.Args[1]); ok {
			return w(cfg.Const(imm))
		}
	}
	return w(cfg.Unknown())
}

// immediate extracts an unsigned immediate. Shifted immediates are only
// available through their printed form.
func immediate(arg arm64asm.Arg) (uint64, bool) {
	switch a := arg.(type) {
	case arm64asm.Imm:
		return uint64(a.Imm), true
	case arm64asm.Imm64:
		return a.Imm, true
	case arm64asm.ImmShift:
		return parseImmShift(a.String())
	}
	return 0, false
}

// parseImmShift parses "#0x10" or "#0x10, LSL #12".
func parseImmShift(s string) (uint64, bool) {
	val, shift, _ := strings.Cut(s, ",")
	v, ok := parseImm(val)
	if !ok {
		return 0, false
	}
	if shift = strings.TrimSpace(shift); shift != "" {
		n, ok := strings.CutPrefix(strings.ToUpper(shift), "LSL ")
		if !ok {
			return 0, false
		}
		sh, ok := parseImm(n)
		if !ok || sh > 63 {
			return 0, false
		}
		v <<= sh
	}
	return v, true
}

func parseImm(s string) (uint64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
