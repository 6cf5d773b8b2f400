// Completion: 100% - Platform support complete
package objfile

import (
	"bytes"
	"debug/macho"
	"fmt"
	"io"

	"github.com/xyproto/flatlink/internal/engine"
)

// Section type and attribute bits of the Mach-O section flags field
const (
	sectionTypeMask          = 0x000000ff
	S_ZEROFILL               = 0x1
	S_GB_ZEROFILL            = 0xc
	S_THREAD_LOCAL_ZEROFILL  = 0x12
	S_ATTR_PURE_INSTRUCTIONS = 0x80000000
	S_ATTR_SOME_INSTRUCTIONS = 0x00000400
	S_ATTR_DEBUG             = 0x02000000
)

// Open maps an object file read-only and decodes it
func Open(path string) (*FileInfo, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	// The decoder copies section bytes and names, so the mapping can go
	defer release()

	return Parse(path, bytes.NewReader(data))
}

// Parse decodes a 64-bit x86-64 Mach-O relocatable object
func Parse(name string, r io.ReaderAt) (*FileInfo, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer f.Close()

	if f.Magic != macho.Magic64 {
		return nil, fmt.Errorf("%s: not a 64-bit Mach-O file (magic 0x%x)", name, f.Magic)
	}
	if f.Type != macho.TypeObj {
		return nil, fmt.Errorf("%s: not a relocatable object (file type %v)", name, f.Type)
	}
	arch := engine.ArchFromMachO(f.Cpu)
	if arch != engine.ArchX86_64 {
		return nil, fmt.Errorf("%s: unsupported cpu %v (only x86_64 objects can be linked)", name, f.Cpu)
	}

	info := &FileInfo{Name: name, Arch: arch}

	// f.Sections is in load command order; each segment owns the next Nsect of them
	next := 0
	for _, load := range f.Loads {
		seg, ok := load.(*macho.Segment)
		if !ok {
			continue
		}
		out := &Segment{Name: seg.Name}
		for i := uint32(0); i < seg.Nsect; i++ {
			if next >= len(f.Sections) {
				return nil, fmt.Errorf("%s: segment %q declares %d sections, only %d present",
					name, seg.Name, seg.Nsect, len(f.Sections))
			}
			sec, err := convertSection(f.Sections[next], next+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out.Sections = append(out.Sections, sec)
			next++
		}
		info.Segments = append(info.Segments, out)
	}

	if f.Symtab != nil {
		info.Symbols = make([]Symbol, len(f.Symtab.Syms))
		for i, s := range f.Symtab.Syms {
			info.Symbols[i] = Symbol{
				Name:  s.Name,
				Type:  s.Type,
				Sect:  s.Sect,
				Desc:  s.Desc,
				Value: s.Value,
			}
		}
	}

	if f.Dysymtab != nil {
		d := f.Dysymtab
		info.Dynamic = &DynamicRanges{
			LocalStart:  int(d.Ilocalsym),
			LocalCount:  int(d.Nlocalsym),
			ExtDefStart: int(d.Iextdefsym),
			ExtDefCount: int(d.Nextdefsym),
			UndefStart:  int(d.Iundefsym),
			UndefCount:  int(d.Nundefsym),
		}
	}

	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

func convertSection(s *macho.Section, ordinal int) (*Section, error) {
	if s.Align > engine.MaxAlignExp {
		return nil, fmt.Errorf("section %s,%s alignment 2^%d is too large", s.Seg, s.Name, s.Align)
	}
	typ := s.Flags & sectionTypeMask
	sec := &Section{
		Ordinal:  ordinal,
		Name:     s.Name,
		Segment:  s.Seg,
		Addr:     s.Addr,
		Size:     s.Size,
		Align:    uint8(s.Align),
		ZeroFill: typ == S_ZEROFILL || typ == S_GB_ZEROFILL || typ == S_THREAD_LOCAL_ZEROFILL,
		Code:     s.Flags&(S_ATTR_PURE_INSTRUCTIONS|S_ATTR_SOME_INSTRUCTIONS) != 0,
		Debug:    s.Flags&S_ATTR_DEBUG != 0 || s.Seg == "__DWARF",
	}

	if !sec.ZeroFill && sec.Size > 0 {
		if data, err := s.Data(); err == nil {
			sec.Data = data
		}
	}

	relocs := make([]Relocation, 0, len(s.Relocs))
	for i, r := range s.Relocs {
		if r.Scattered {
			sec.RelocErr = fmt.Errorf("%s: relocation %d is scattered", sec, i)
			return sec, nil
		}
		rel := Relocation{
			Offset:     r.Addr,
			LenLog2:    r.Len,
			Kind:       relocKind(macho.RelocTypeX86_64(r.Type)),
			RawType:    r.Type,
			PCRelative: r.Pcrel,
			Extern:     r.Extern,
		}
		if r.Extern {
			rel.Symbol = int(r.Value)
		} else {
			rel.Section = int(r.Value)
		}
		relocs = append(relocs, rel)
	}
	sec.Relocs = relocs
	return sec, nil
}

func relocKind(t macho.RelocTypeX86_64) RelocKind {
	switch t {
	case macho.X86_64_RELOC_UNSIGNED:
		return KindUnsigned
	case macho.X86_64_RELOC_SIGNED,
		macho.X86_64_RELOC_SIGNED_1,
		macho.X86_64_RELOC_SIGNED_2,
		macho.X86_64_RELOC_SIGNED_4:
		// The -1/-2/-4 bias is already folded into the field contents
		return KindSigned
	case macho.X86_64_RELOC_BRANCH:
		return KindBranch
	case macho.X86_64_RELOC_GOT_LOAD:
		return KindGOTLoad
	case macho.X86_64_RELOC_GOT:
		return KindGOT
	default:
		return KindUnsupported
	}
}
