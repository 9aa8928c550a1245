// Package arch maps architecture names and ELF machines to instruction
// decoders.
package arch

import (
	"debug/elf"
	"errors"
	"fmt"
	"slices"
	"strings"

	"lifter/internal/arch/amd64"
	"lifter/internal/arch/arm64"
	"lifter/internal/cfg"
)

// ErrUnknownArch is returned for names and machines without a decoder.
var ErrUnknownArch = errors.New("unknown architecture")

// Arch describes a supported instruction set.
type Arch struct {
	Name    string
	Aliases []string
	Machine elf.Machine
	Decoder cfg.Decoder

	// Lexer names the chroma lexer used to colorize listings.
	Lexer string
}

var registry = []Arch{
	{
		Name:    "arm64",
		Aliases: []string{"aarch64"},
		Machine: elf.EM_AARCH64,
		Decoder: arm64.Decoder{},
		Lexer:   "armasm",
	},
	{
		Name:    "amd64",
		Aliases: []string{"x86_64", "x86-64", "x64"},
		Machine: elf.EM_X86_64,
		Decoder: amd64.Decoder{},
		Lexer:   "nasm",
	},
}

// Lookup returns the architecture registered under name or one of its
// aliases.
func Lookup(name string) (Arch, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, a := range registry {
		if a.Name == n || slices.Contains(a.Aliases, n) {
			return a, nil
		}
	}
	return Arch{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownArch, name, strings.Join(Names(), ", "))
}

// ForMachine returns the architecture for an ELF e_machine value.
func ForMachine(m elf.Machine) (Arch, error) {
	for _, a := range registry {
		if a.Machine == m {
			return a, nil
		}
	}
	return Arch{}, fmt.Errorf("%w: ELF machine %s", ErrUnknownArch, m)
}

// Names lists the canonical architecture names.
func Names() []string {
	out := make([]string, len(registry))
	for i, a := range registry {
		out[i] = a.Name
	}
	return out
}
