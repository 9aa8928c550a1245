package elfx

import (
	"cmp"
	"debug/elf"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

type Symbol struct {
	Name      string
	Demangled string
	Addr      uint64
	Size      uint64
	PLT       bool
}

// Display returns the demangled name when there is one.
func (s Symbol) Display() string {
	if s.Demangled != "" {
		return s.Demangled
	}
	return s.Name
}

// demangleCache memoizes demangled names across images.
var demangleCache = struct {
	mu    sync.RWMutex
	names map[string]string
	hits  int
}{names: make(map[string]string)}

// Demangle returns the demangled form of an Itanium or Rust symbol name,
// or name itself when it is not mangled.
func Demangle(name string) string {
	demangleCache.mu.RLock()
	if d, ok := demangleCache.names[name]; ok {
		demangleCache.mu.RUnlock()
		demangleCache.mu.Lock()
		demangleCache.hits++
		demangleCache.mu.Unlock()
		return d
	}
	demangleCache.mu.RUnlock()

	d := demangle.Filter(name, demangle.NoClones)

	demangleCache.mu.Lock()
	demangleCache.names[name] = d
	demangleCache.mu.Unlock()
	return d
}

// DemangleStats reports the number of cached names and cache hits.
func DemangleStats() (names, hits int) {
	demangleCache.mu.RLock()
	defer demangleCache.mu.RUnlock()
	return len(demangleCache.names), demangleCache.hits
}

func newSymbol(name string, addr, size uint64, plt bool) Symbol {
	s := Symbol{Name: name, Addr: addr, Size: size, PLT: plt}
	base := strings.TrimSuffix(name, "@plt")
	if d := Demangle(base); d != base {
		s.Demangled = d
		if plt {
			s.Demangled += "@plt"
		}
	}
	return s
}

// loadSymbols collects defined function symbols from .symtab and .dynsym.
// Missing tables are not an error; stripped binaries simply have none.
func (im *Image) loadSymbols() {
	seen := make(map[uint64]bool)
	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if sym.Value == 0 || sym.Section == elf.SHN_UNDEF || sym.Name == "" {
				continue
			}
			if t := elf.ST_TYPE(sym.Info); t != elf.STT_FUNC && t != elf.STT_NOTYPE {
				continue
			}
			if seen[sym.Value] {
				continue
			}
			seen[sym.Value] = true
			im.Symbols = append(im.Symbols, newSymbol(sym.Name, sym.Value, sym.Size, strings.HasSuffix(sym.Name, "@plt")))
		}
	}

	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms)
	}
}

func (im *Image) sortSymbols() {
	slices.SortFunc(im.Symbols, func(a, b Symbol) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
	im.Symbols = slices.CompactFunc(im.Symbols, func(a, b Symbol) bool {
		return a.Addr == b.Addr
	})
}

// SymbolAt returns the symbol covering va. Symbols without a size only
// cover their own address.
func (im *Image) SymbolAt(va uint64) (Symbol, bool) {
	i, found := slices.BinarySearchFunc(im.Symbols, va, func(s Symbol, va uint64) int {
		return cmp.Compare(s.Addr, va)
	})
	if found {
		return im.Symbols[i], true
	}
	if i == 0 {
		return Symbol{}, false
	}
	s := im.Symbols[i-1]
	if va-s.Addr < s.Size {
		return s, true
	}
	return Symbol{}, false
}

// Label names va as "symbol" or "symbol+0xoff", or returns "" when no
// symbol covers it.
func (im *Image) Label(va uint64) string {
	s, ok := im.SymbolAt(va)
	if !ok {
		return ""
	}
	if va == s.Addr {
		return s.Display()
	}
	return fmt.Sprintf("%s+0x%x", s.Display(), va-s.Addr)
}

// FindFunctionByName searches for a function by its raw or demangled name.
// A demangled name also matches without its parameter list.
func (im *Image) FindFunctionByName(name string) (uint64, bool) {
	for _, s := range im.Symbols {
		if s.PLT {
			continue
		}
		if s.Name == name || s.Demangled == name {
			return s.Addr, true
		}
	}
	for _, s := range im.Symbols {
		if s.PLT || s.Demangled == "" {
			continue
		}
		if i := strings.IndexByte(s.Demangled, '('); i > 0 && s.Demangled[:i] == name {
			return s.Addr, true
		}
	}
	return 0, false
}
