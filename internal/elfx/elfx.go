// Package elfx opens ELF binaries, maps virtual addresses to file bytes and
// exposes the executable segments as an exploration source.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"syscall"
)

type Image struct {
	Path    string
	File    *elf.File
	All     []byte
	Loads   []Seg
	Text    Section
	PLT     Section
	Symbols []Symbol
	f       *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

// Exec reports whether the segment is mapped executable.
func (s Seg) Exec() bool { return s.Flags&elf.PF_X != 0 }

func (s Seg) contains(va uint64) bool {
	return va >= s.Vaddr && va-s.Vaddr < s.Filesz
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

func (s Section) Contains(va uint64) bool {
	return s.Size != 0 && va >= s.VA && va-s.VA < s.Size
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		// Segments whose file bytes lie past the end of a truncated
		// file are clamped so lookups never leave the mapping.
		filesz := p.Filesz
		if p.Off >= uint64(len(all)) {
			filesz = 0
		} else if p.Off+filesz > uint64(len(all)) {
			filesz = uint64(len(all)) - p.Off
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		switch s.Name {
		case ".text":
			im.Text = Section{s.Name, s.Addr, s.Offset, s.Size}
		case ".plt", ".plt.sec":
			if im.PLT.Size == 0 || s.Name == ".plt.sec" {
				im.PLT = Section{s.Name, s.Addr, s.Offset, s.Size}
			}
		}
	}

	// Stripped binaries without section headers fall back to the first
	// executable segment.
	if im.Text.Size == 0 {
		for _, l := range im.Loads {
			if l.Exec() && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}

	im.loadSymbols()
	im.loadPLTSymbols()
	im.sortSymbols()
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Machine returns the ELF e_machine of the image.
func (im *Image) Machine() elf.Machine { return im.File.Machine }

// Entry returns the ELF entry point.
func (im *Image) Entry() uint64 { return im.File.Entry }

func (im *Image) segment(va uint64) (Seg, bool) {
	for _, l := range im.Loads {
		if l.contains(va) {
			return l, true
		}
	}
	return Seg{}, false
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	l, ok := im.segment(va)
	if !ok {
		return 0, false
	}
	return l.Off + (va - l.Vaddr), true
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// IsValid reports whether va lies in the file bytes of an executable
// PT_LOAD segment.
func (im *Image) IsValid(va uint64) bool {
	l, ok := im.segment(va)
	return ok && l.Exec()
}

// Bytes returns the file bytes from va to the end of its executable
// segment, or nil when va is not valid code.
func (im *Image) Bytes(va uint64) []byte {
	l, ok := im.segment(va)
	if !ok || !l.Exec() {
		return nil
	}
	off := l.Off + (va - l.Vaddr)
	return im.All[off : l.Off+l.Filesz]
}
