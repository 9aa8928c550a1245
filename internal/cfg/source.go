package cfg

// Source provides the bytes exploration decodes from.
//
// A valid address must yield at least one instruction's worth of bytes
// from Bytes.
type Source interface {
	// IsValid reports whether addr is mapped and may be decoded.
	IsValid(addr uint64) bool
	// Bytes returns the input starting at addr.
	Bytes(addr uint64) []byte
}

// Memory is a Source over a byte buffer loaded at a base address.
type Memory struct {
	Base   uint64
	Data   []byte
	denied []addrRange
}

type addrRange struct{ lo, hi uint64 }

// NewMemory returns a Memory mapping data at base.
func NewMemory(base uint64, data []byte) *Memory {
	return &Memory{Base: base, Data: data}
}

// Deny marks [lo, hi) as not decodable.
func (m *Memory) Deny(lo, hi uint64) *Memory {
	m.denied = append(m.denied, addrRange{lo, hi})
	return m
}

func (m *Memory) IsValid(addr uint64) bool {
	if addr < m.Base || addr-m.Base >= uint64(len(m.Data)) {
		return false
	}
	for _, r := range m.denied {
		if addr >= r.lo && addr < r.hi {
			return false
		}
	}
	return true
}

func (m *Memory) Bytes(addr uint64) []byte {
	if addr < m.Base || addr-m.Base >= uint64(len(m.Data)) {
		return nil
	}
	return m.Data[addr-m.Base:]
}
