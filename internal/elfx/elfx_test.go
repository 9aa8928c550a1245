package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const (
	codeVA  = 0x400000
	dataVA  = 0x500000
	codeOff = 0x100
	dataOff = 0x110
)

// writeELF writes a section-less AArch64 executable with one executable
// and one data segment.
func writeELF(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_AARCH64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     codeVA,
		Phoff:     64,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     2,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	progs := []elf.Prog64{
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Off: codeOff, Vaddr: codeVA, Paddr: codeVA, Filesz: 0x10, Memsz: 0x10, Align: 0x1000},
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W), Off: dataOff, Vaddr: dataVA, Paddr: dataVA, Filesz: 0x10, Memsz: 0x20, Align: 0x1000},
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatal(err)
	}
	for _, p := range progs {
		if err := binary.Write(&buf, binary.LittleEndian, p); err != nil {
			t.Fatal(err)
		}
	}
	buf.Write(make([]byte, codeOff-buf.Len()))
	for i := 0; i < 4; i++ {
		buf.Write([]byte{0xc0, 0x03, 0x5f, 0xd6}) // ret
	}
	buf.WriteString("hello\x00ab\x00")
	buf.Write(bytes.Repeat([]byte{0xaa}, 0x10-9))

	path := filepath.Join(t.TempDir(), "a.out")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openTestImage(t *testing.T) *Image {
	t.Helper()
	im, err := Open(writeELF(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { im.Close() })
	return im
}

func TestOpen(t *testing.T) {
	im := openTestImage(t)
	if im.Machine() != elf.EM_AARCH64 {
		t.Errorf("machine = %v, want EM_AARCH64", im.Machine())
	}
	if im.Entry() != codeVA {
		t.Errorf("entry = 0x%x, want 0x%x", im.Entry(), codeVA)
	}
	if len(im.Loads) != 2 {
		t.Fatalf("expected 2 loads, got %d", len(im.Loads))
	}
	if im.Text.Name != "LOAD(exec)" || im.Text.VA != codeVA {
		t.Errorf("text fallback = %+v", im.Text)
	}
}

func TestImageSource(t *testing.T) {
	im := openTestImage(t)

	tests := []struct {
		name  string
		va    uint64
		valid bool
		size  int
	}{
		{"segment start", codeVA, true, 0x10},
		{"inside segment", codeVA + 4, true, 0x0c},
		{"last byte", codeVA + 0x0f, true, 1},
		{"past file bytes", codeVA + 0x10, false, 0},
		{"data segment", dataVA, false, 0},
		{"unmapped", 0x1000, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := im.IsValid(tt.va); got != tt.valid {
				t.Errorf("IsValid(0x%x) = %v, want %v", tt.va, got, tt.valid)
			}
			if got := len(im.Bytes(tt.va)); got != tt.size {
				t.Errorf("len(Bytes(0x%x)) = %d, want %d", tt.va, got, tt.size)
			}
		})
	}

	if b := im.Bytes(codeVA); !bytes.Equal(b[:4], []byte{0xc0, 0x03, 0x5f, 0xd6}) {
		t.Errorf("unexpected code bytes % x", b[:4])
	}
	if data, ok := im.SliceVA(dataVA, 4); !ok || data[0] != 'h' {
		t.Errorf("SliceVA(data) = % x, %v", data, ok)
	}
}

func TestCString(t *testing.T) {
	im := openTestImage(t)

	tests := []struct {
		name string
		va   uint64
		want string
		ok   bool
	}{
		{"terminated", dataVA, "hello", true},
		{"suffix", dataVA + 1, "ello", true},
		{"too short", dataVA + 6, "", false},
		{"unterminated", dataVA + 9, "", false},
		{"code bytes", codeVA, "", false},
		{"unmapped", 0x1000, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := im.CString(tt.va)
			if got != tt.want || ok != tt.ok {
				t.Errorf("CString(0x%x) = %q, %v; want %q, %v", tt.va, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestEscapeUnprintable(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"tab\there", "tab\\u0009here"},
		{`say "hi"`, `say \"hi\"`},
		{"bad\xffbyte", "bad\\xFFbyte"},
		{"caf\u00e9", "caf\u00e9"},
	}
	for _, tt := range tests {
		if got := EscapeUnprintable([]byte(tt.in)); got != tt.want {
			t.Errorf("EscapeUnprintable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSymbolAt(t *testing.T) {
	im := &Image{Symbols: []Symbol{
		newSymbol("_ZN3foo3barEv", 0x1000, 0x20, false),
		newSymbol("puts@plt", 0x2000, 0x10, true),
		newSymbol("marker", 0x3000, 0, false),
	}}
	im.sortSymbols()

	tests := []struct {
		va    uint64
		label string
	}{
		{0x1000, "foo::bar()"},
		{0x1010, "foo::bar()+0x10"},
		{0x1020, ""},
		{0x2008, "puts@plt+0x8"},
		{0x3000, "marker"},
		{0x3004, ""},
		{0x0fff, ""},
	}
	for _, tt := range tests {
		if got := im.Label(tt.va); got != tt.label {
			t.Errorf("Label(0x%x) = %q, want %q", tt.va, got, tt.label)
		}
	}
}

func TestFindFunctionByName(t *testing.T) {
	im := &Image{Symbols: []Symbol{
		newSymbol("_ZN3foo3barEv", 0x1000, 0x20, false),
		newSymbol("main", 0x1100, 0x40, false),
		newSymbol("puts@plt", 0x2000, 0x10, true),
	}}

	tests := []struct {
		name string
		addr uint64
		ok   bool
	}{
		{"main", 0x1100, true},
		{"_ZN3foo3barEv", 0x1000, true},
		{"foo::bar()", 0x1000, true},
		{"foo::bar", 0x1000, true},
		{"puts@plt", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		addr, ok := im.FindFunctionByName(tt.name)
		if addr != tt.addr || ok != tt.ok {
			t.Errorf("FindFunctionByName(%q) = 0x%x, %v; want 0x%x, %v", tt.name, addr, ok, tt.addr, tt.ok)
		}
	}
}

func TestDemangleCaches(t *testing.T) {
	const name = "_ZN5cache4testEi"
	if got := Demangle(name); got != "cache::test(int)" {
		t.Fatalf("Demangle = %q", got)
	}
	_, hits := DemangleStats()
	Demangle(name)
	if _, after := DemangleStats(); after != hits+1 {
		t.Errorf("expected a cache hit, hits went from %d to %d", hits, after)
	}
	if got := Demangle("main"); got != "main" {
		t.Errorf("Demangle(main) = %q", got)
	}
}
