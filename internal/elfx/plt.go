package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const pltStubSize = 16

// loadPLTSymbols names PLT stubs after the imports their GOT slots are
// relocated against, as "name@plt".
func (im *Image) loadPLTSymbols() {
	if im.PLT.Size == 0 {
		return
	}
	imports := im.pltImports()
	if len(imports) == 0 {
		return
	}

	first := uint64(0)
	if im.PLT.Name == ".plt" {
		// PLT[0] is the lazy binding resolver.
		first = 1
	}
	for i := first; (i+1)*pltStubSize <= im.PLT.Size; i++ {
		stub := im.PLT.VA + i*pltStubSize
		var got uint64
		var ok bool
		switch im.File.Machine {
		case elf.EM_AARCH64:
			got, ok = im.parseARM64Stub(stub)
		case elf.EM_X86_64:
			got, ok = im.parseAMD64Stub(stub)
		}
		if !ok {
			continue
		}
		if name, ok := imports[got]; ok {
			im.Symbols = append(im.Symbols, newSymbol(name+"@plt", stub, pltStubSize, true))
		}
	}
}

// pltImports maps GOT slot addresses to the dynamic symbols relocated
// into them by .rela.plt.
func (im *Image) pltImports() map[uint64]string {
	sec := im.File.Section(".rela.plt")
	if sec == nil {
		return nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil
	}
	dynsyms, err := im.File.DynamicSymbols()
	if err != nil {
		return nil
	}

	out := make(map[uint64]string)
	var rela elf.Rela64
	r := bytes.NewReader(data)
	for binary.Read(r, im.File.ByteOrder, &rela) == nil {
		idx := elf.R_SYM64(rela.Info)
		// Relocation symbol indices count the null symbol that
		// DynamicSymbols drops.
		if idx == 0 || int(idx) > len(dynsyms) {
			continue
		}
		out[rela.Off] = dynsyms[idx-1].Name
	}
	return out
}

// parseARM64Stub extracts the GOT slot of an AArch64 PLT stub:
//
//	adrp x16, <page>
//	ldr  x17, [x16, #offset]
//	add  x16, x16, #offset
//	br   x17
func (im *Image) parseARM64Stub(stub uint64) (uint64, bool) {
	data, ok := im.SliceVA(stub, pltStubSize)
	if !ok {
		return 0, false
	}
	adrp := binary.LittleEndian.Uint32(data[0:])
	if adrp&0x9f00001f != 0x90000010 {
		return 0, false
	}
	immLo := (adrp >> 29) & 3
	immHi := (adrp >> 5) & 0x7ffff
	page := int64((immHi << 2) | immLo)
	if page&(1<<20) != 0 {
		page |= ^((1 << 21) - 1)
	}
	base := int64(stub&^0xfff) + page<<12

	ldr := binary.LittleEndian.Uint32(data[4:])
	if ldr&0xffc003ff != 0xf9400211 {
		return 0, false
	}
	off := ((ldr >> 10) & 0xfff) << 3
	return uint64(base) + uint64(off), true
}

// parseAMD64Stub extracts the GOT slot of an x86-64 PLT stub, which
// starts with "jmp *disp32(%rip)", optionally after endbr64 and a bnd
// prefix.
func (im *Image) parseAMD64Stub(stub uint64) (uint64, bool) {
	data, ok := im.SliceVA(stub, pltStubSize)
	if !ok {
		return 0, false
	}
	i := 0
	if bytes.HasPrefix(data, []byte{0xf3, 0x0f, 0x1e, 0xfa}) {
		i = 4
	}
	if data[i] == 0xf2 {
		i++
	}
	if i+6 > len(data) || data[i] != 0xff || data[i+1] != 0x25 {
		return 0, false
	}
	disp := int32(binary.LittleEndian.Uint32(data[i+2:]))
	next := stub + uint64(i) + 6
	return uint64(int64(next) + int64(disp)), true
}
