// Package objfile is the read-only object file model consumed by the linker.
//
// A FileInfo describes one relocatable input: its segments and sections,
// its symbol table, the optional dynamic symbol ranges and every relocation
// entry. The model is decoder-agnostic; macho.go fills it from a 64-bit
// Mach-O object and tests build it by hand.
package objfile

import (
	"fmt"

	"github.com/xyproto/flatlink/internal/engine"
)

// Symbol type bits (n_type)
const (
	N_STAB = 0xe0
	N_PEXT = 0x10
	N_TYPE = 0x0e
	N_EXT  = 0x01

	N_UNDF = 0x0
	N_ABS  = 0x2
	N_SECT = 0xe
)

// NoSection is the n_sect value of symbols not defined in any section
const NoSection = 0

// RelocKind classifies a relocation entry independently of the raw type number
type RelocKind int

const (
	KindUnsupported RelocKind = iota
	KindUnsigned
	KindSigned
	KindBranch
	KindGOTLoad
	KindGOT
)

func (k RelocKind) String() string {
	switch k {
	case KindUnsigned:
		return "unsigned"
	case KindSigned:
		return "signed"
	case KindBranch:
		return "branch"
	case KindGOTLoad:
		return "got-load"
	case KindGOT:
		return "got"
	default:
		return "unsupported"
	}
}

// IsGOT reports whether the relocation addresses its target through a GOT slot
func (k RelocKind) IsGOT() bool {
	return k == KindGOT || k == KindGOTLoad
}

// Relocation is one relocation entry of a section
type Relocation struct {
	Offset     uint32 // section-relative offset of the field to patch
	LenLog2    uint8  // field width as log2 of bytes
	Kind       RelocKind
	RawType    uint8
	PCRelative bool
	Extern     bool
	Symbol     int // symbol table index when Extern
	Section    int // 1-based section ordinal when !Extern
}

// Width returns the field width in bytes
func (r Relocation) Width() int {
	return 1 << r.LenLog2
}

func (r Relocation) String() string {
	target := fmt.Sprintf("sect#%d", r.Section)
	if r.Extern {
		target = fmt.Sprintf("sym#%d", r.Symbol)
	}
	pc := ""
	if r.PCRelative {
		pc = " pcrel"
	}
	return fmt.Sprintf("%s@0x%x/%d%s -> %s", r.Kind, r.Offset, r.Width(), pc, target)
}

// Section is one input section
type Section struct {
	Ordinal  int // 1-based, matches Symbol.Sect
	Name     string
	Segment  string
	Addr     uint64 // address assigned by the compiler
	Size     uint64
	Align    uint8 // log2
	ZeroFill bool
	Code     bool
	Debug    bool

	// Data is nil for zero-fill sections and when the bytes could not be read
	Data []byte

	// Relocs is nil together with a non-nil RelocErr when the relocation
	// table could not be decoded
	Relocs   []Relocation
	RelocErr error
}

func (s *Section) String() string {
	return s.Segment + "," + s.Name
}

// Segment groups sections in their load command order
type Segment struct {
	Name     string
	Sections []*Section
}

// Symbol is a symbol table entry
type Symbol struct {
	Name  string
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

func (s Symbol) Stab() bool            { return s.Type&N_STAB != 0 }
func (s Symbol) External() bool        { return s.Type&N_EXT != 0 }
func (s Symbol) PrivateExternal() bool { return s.Type&N_PEXT != 0 }

// Undefined is true for references that some other input has to define
func (s Symbol) Undefined() bool {
	return !s.Stab() && s.Type&N_TYPE == N_UNDF
}

// DefinedIn reports whether the symbol is defined inside the given section
func (s Symbol) DefinedIn(ordinal int) bool {
	return !s.Stab() && s.Type&N_TYPE == N_SECT && int(s.Sect) == ordinal
}

// DynamicRanges are the symbol index ranges of a dynamic symbol table
type DynamicRanges struct {
	LocalStart, LocalCount   int
	ExtDefStart, ExtDefCount int
	UndefStart, UndefCount   int
}

// FileInfo is a decoded relocatable object
type FileInfo struct {
	Name     string
	Arch     engine.Arch
	Segments []*Segment
	Symbols  []Symbol

	// Dynamic is nil when the object carries no dynamic symbol table
	Dynamic *DynamicRanges
}

func (f *FileInfo) String() string {
	return f.Name
}

// Section returns the section with the given 1-based ordinal
func (f *FileInfo) Section(ordinal int) (*Section, bool) {
	for _, seg := range f.Segments {
		for _, sec := range seg.Sections {
			if sec.Ordinal == ordinal {
				return sec, true
			}
		}
	}
	return nil, false
}

// SymbolName returns the name of symbol table entry idx
func (f *FileInfo) SymbolName(idx int) (string, error) {
	if idx < 0 || idx >= len(f.Symbols) {
		return "", fmt.Errorf("%s: symbol index %d out of range (%d symbols)", f.Name, idx, len(f.Symbols))
	}
	return f.Symbols[idx].Name, nil
}

// Validate checks that the dynamic ranges stay inside the symbol table
func (f *FileInfo) Validate() error {
	if f.Dynamic == nil {
		return nil
	}
	n := len(f.Symbols)
	d := f.Dynamic
	ranges := []struct {
		what         string
		start, count int
	}{
		{"local", d.LocalStart, d.LocalCount},
		{"extdef", d.ExtDefStart, d.ExtDefCount},
		{"undef", d.UndefStart, d.UndefCount},
	}
	for _, r := range ranges {
		if r.start < 0 || r.count < 0 || r.start+r.count > n {
			return fmt.Errorf("%s: dynamic %s range [%d,+%d) exceeds %d symbols", f.Name, r.what, r.start, r.count, n)
		}
	}
	return nil
}
