package cfg

import (
	"fmt"
	"strings"
)

// OpKind classifies an instruction by its effect on control flow.
type OpKind uint8

const (
	OpPlain  OpKind = iota // falls through to the next instruction
	OpNop                  // no effect, falls through
	OpCall                 // calls Targets[0], falls through on return
	OpJump                 // unconditional transfer to Targets[0]
	OpBranch               // conditional transfer: Targets[0] taken, Targets[1] fallthrough
	OpReturn               // leaves the function, no static successor
)

var opNames = [...]string{
	OpPlain:  "plain",
	OpNop:    "nop",
	OpCall:   "call",
	OpJump:   "jump",
	OpBranch: "branch",
	OpReturn: "return",
}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Terminal reports whether an instruction of this kind ends a block.
func (k OpKind) Terminal() bool {
	return k == OpJump || k == OpBranch || k == OpReturn
}

// OperandKind tells how an Operand's value is known.
type OperandKind uint8

const (
	OperandUnknown  OperandKind = iota // data dependent, cannot be traced
	OperandConstant                    // literal value in Value
	OperandRegister                    // value of Reg plus Offset
)

// Operand is a value used as a branch target or as the source of a
// register write.
type Operand struct {
	Kind   OperandKind
	Value  uint64
	Reg    string
	Offset int64
}

// Const returns a constant operand.
func Const(v uint64) Operand { return Operand{Kind: OperandConstant, Value: v} }

// Reg returns an operand holding the value of register name.
func Reg(name string) Operand { return Operand{Kind: OperandRegister, Reg: name} }

// RegOffset returns an operand holding register name plus off.
func RegOffset(name string, off int64) Operand {
	return Operand{Kind: OperandRegister, Reg: name, Offset: off}
}

// Unknown returns an operand whose value cannot be determined statically.
func Unknown() Operand { return Operand{Kind: OperandUnknown} }

// IsConstant reports whether the operand is a literal value.
func (o Operand) IsConstant() bool { return o.Kind == OperandConstant }

func (o Operand) String() string {
	switch o.Kind {
	case OperandConstant:
		return fmt.Sprintf("0x%x", o.Value)
	case OperandRegister:
		switch {
		case o.Offset > 0:
			return fmt.Sprintf("%s+0x%x", o.Reg, o.Offset)
		case o.Offset < 0:
			return fmt.Sprintf("%s-0x%x", o.Reg, -o.Offset)
		}
		return o.Reg
	}
	return "?"
}

// Assign records that an instruction writes Src into register Dst.
type Assign struct {
	Dst string
	Src Operand
}

// Instruction is the decoded effect of one machine instruction.
type Instruction struct {
	Addr     uint64
	Len      int
	Op       OpKind
	Mnemonic string
	Operands string
	Targets  []Operand
	Writes   []Assign

	// Synthetic marks instructions inserted by the explorer rather than
	// decoded from input. They occupy no bytes.
	Synthetic bool
}

// End returns the address just past the instruction.
func (in Instruction) End() uint64 { return in.Addr + uint64(in.Len) }

// String formats the instruction as "addr  mnemonic operands".
func (in Instruction) String() string {
	mn := in.Mnemonic
	if mn == "" {
		mn = in.Op.String()
	}
	ops := in.Operands
	if ops == "" && len(in.Targets) > 0 {
		parts := make([]string, len(in.Targets))
		for i, t := range in.Targets {
			parts[i] = t.String()
		}
		ops = strings.Join(parts, ", ")
	}
	return strings.TrimRight(fmt.Sprintf("%-10x %-6s %s", in.Addr, mn, ops), " ")
}

func (in Instruction) clone() Instruction {
	out := in
	out.Targets = append([]Operand(nil), in.Targets...)
	out.Writes = append([]Assign(nil), in.Writes...)
	return out
}
