// Completion: 100% - Module complete
package link

import (
	"fmt"

	"github.com/xyproto/flatlink/internal/engine"
	"github.com/xyproto/flatlink/internal/objfile"
)

// RelocationRecord is a relocation entry pinned to its place in an output
// section. It is recorded while assembling and applied exactly once.
type RelocationRecord struct {
	Section    SectionKind // output section holding the field
	Offset     uint64      // of the field, from the output section start
	Kind       objfile.RelocKind
	Width      Width
	PCRelative bool
	External   bool
	Symbol     string // target name when External
	Target     int    // target input section ordinal when !External

	File        *objfile.FileInfo
	SourceName  string // input section holding the field
	SourceAddr  uint64 // its original address
	SourceStart uint64 // its offset in the output section
}

func (r *RelocationRecord) annotate(e *Error) {
	if r.File != nil {
		e.File = r.File.Name
	}
	e.Section = r.Section.String()
	e.Offset = r.Offset
	e.Width = int(r.Width)
	if r.External {
		e.Symbol = r.Symbol
	}
}

func (r *RelocationRecord) String() string {
	target := fmt.Sprintf("sect#%d", r.Target)
	if r.External {
		target = r.Symbol
	}
	return fmt.Sprintf("%s %s+0x%x/%d -> %s", r.Kind, r.Section, r.Offset, r.Width, target)
}

type sectionKey struct {
	file    *objfile.FileInfo
	ordinal int
}

type placement struct {
	kind   SectionKind
	offset uint64
}

// KindOf routes an input section to the output section it is merged into
func KindOf(sec *objfile.Section) SectionKind {
	switch {
	case sec.ZeroFill:
		return BSS
	case sec.Code:
		return Text
	case sec.Segment == "__TEXT", sec.Segment == "__DATA_CONST":
		return ROData
	default:
		return Data
	}
}

// SectionAssembler appends input sections to the output sections, registers
// the symbols they define and records their relocations for later.
type SectionAssembler struct {
	cfg      Config
	sections [numSectionKinds]*OutputSection
	symbols  *SymbolTable
	records  []RelocationRecord
	placed   map[sectionKey]placement
}

func NewSectionAssembler(arch engine.Arch, symbols *SymbolTable, cfg Config) *SectionAssembler {
	a := &SectionAssembler{
		cfg:     cfg,
		symbols: symbols,
		placed:  make(map[sectionKey]placement),
	}
	for k := range a.sections {
		a.sections[k] = newOutputSection(SectionKind(k), arch)
	}
	return a
}

// Section returns the output section of the given kind
func (a *SectionAssembler) Section(kind SectionKind) *OutputSection {
	return a.sections[kind]
}

// Records returns every relocation recorded so far
func (a *SectionAssembler) Records() []RelocationRecord {
	return a.records
}

// Placement reports where an input section landed
func (a *SectionAssembler) Placement(file *objfile.FileInfo, ordinal int) (SectionKind, uint64, bool) {
	p, ok := a.placed[sectionKey{file, ordinal}]
	return p.kind, p.offset, ok
}

// AppendSegment appends a whole segment, keeping the distances between its
// sections. Symbols come from the dynamic symbol table ranges when the file
// has one, otherwise from the whole symbol table. No relocations are recorded.
func (a *SectionAssembler) AppendSegment(seg *objfile.Segment, file *objfile.FileInfo) (start, size uint64, err error) {
	if len(seg.Sections) == 0 {
		return 0, 0, nil
	}

	first := seg.Sections[0]
	kind := KindOf(first)
	out := a.sections[kind]

	maxAlign := uint8(0)
	for i, sec := range seg.Sections {
		if KindOf(sec) != kind {
			return 0, 0, malformedInput(file.Name, "segment %q mixes %s and %s sections", seg.Name, kind, KindOf(sec))
		}
		if sec.Align > engine.MaxAlignExp {
			return 0, 0, malformedInput(file.Name, "section %s alignment 2^%d is too large", sec, sec.Align)
		}
		if i > 0 && sec.Addr < seg.Sections[i-1].Addr+seg.Sections[i-1].Size {
			return 0, 0, malformedInput(file.Name, "section %s overlaps the section before it", sec)
		}
		if sec.Align > maxAlign {
			maxAlign = sec.Align
		}
		if !sec.ZeroFill && sec.Data == nil && sec.Size > 0 {
			return 0, 0, malformedInput(file.Name, "cannot read data of section %s", sec)
		}
	}

	a.cfg.logf("link: adding segment %q of %s to %s\n", seg.Name, file.Name, kind)

	// Keep the first section's offset within the largest alignment so every
	// section of the segment stays aligned at its preserved distance
	start = out.alignLike(maxAlign, first.Addr)
	for _, sec := range seg.Sections {
		at := start + (sec.Addr - first.Addr)
		out.padTo(at)
		a.copySection(out, sec)
		a.placed[sectionKey{file, sec.Ordinal}] = placement{kind, at}
	}

	for _, sec := range seg.Sections {
		at := start + (sec.Addr - first.Addr)
		if d := file.Dynamic; d != nil {
			if err := a.registerSymbols(file, sec, kind, at, d.ExtDefStart, d.ExtDefCount); err != nil {
				return 0, 0, err
			}
			if err := a.registerSymbols(file, sec, kind, at, d.LocalStart, d.LocalCount); err != nil {
				return 0, 0, err
			}
			continue
		}
		if err := a.registerSymbols(file, sec, kind, at, 0, len(file.Symbols)); err != nil {
			return 0, 0, err
		}
	}

	return start, out.Len() - start, nil
}

// AppendSection appends one section, registers every symbol defined in it
// and records its relocations pinned to the returned start offset
func (a *SectionAssembler) AppendSection(seg *objfile.Segment, sec *objfile.Section, file *objfile.FileInfo) (uint64, error) {
	if sec.Align > engine.MaxAlignExp {
		return 0, malformedInput(file.Name, "section %s alignment 2^%d is too large", sec, sec.Align)
	}
	if !sec.ZeroFill && sec.Data == nil && sec.Size > 0 {
		return 0, malformedInput(file.Name, "cannot read data of section %s", sec)
	}
	if sec.RelocErr != nil {
		return 0, &Error{
			Kind:    KindMalformedInput,
			File:    file.Name,
			Section: sec.String(),
			Message: "cannot read relocations",
			Err:     sec.RelocErr,
		}
	}

	// Resolve everything fallible before touching the output buffer
	records := make([]RelocationRecord, 0, len(sec.Relocs))
	for _, r := range sec.Relocs {
		width, err := WidthFromLog2(r.LenLog2)
		if err != nil {
			return 0, &Error{Kind: KindMalformedRelocation, File: file.Name, Section: sec.String(), Offset: uint64(r.Offset), Message: err.Error()}
		}
		if end := uint64(r.Offset) + uint64(width); end > sec.Size {
			return 0, &Error{
				Kind:     KindMalformedInput,
				File:     file.Name,
				Section:  sec.String(),
				Offset:   uint64(r.Offset),
				Width:    int(width),
				Message:  "relocation extends past the end of its section",
				Expected: fmt.Sprintf("end <= %d", sec.Size),
				Actual:   fmt.Sprintf("end = %d", end),
			}
		}
		rec := RelocationRecord{
			Kind:       r.Kind,
			Width:      width,
			PCRelative: r.PCRelative,
			External:   r.Extern,
			Target:     r.Section,
			File:       file,
			SourceName: sec.String(),
			SourceAddr: sec.Addr,
		}
		if r.Extern {
			name, err := file.SymbolName(r.Symbol)
			if err != nil {
				return 0, &Error{Kind: KindMalformedInput, File: file.Name, Section: sec.String(), Offset: uint64(r.Offset), Message: "relocation names a missing symbol", Err: err}
			}
			rec.Symbol = name
		}
		rec.Offset = uint64(r.Offset)
		records = append(records, rec)
	}

	kind := KindOf(sec)
	out := a.sections[kind]

	a.cfg.logf("link: adding section %d %s,%s of %s to %s\n", sec.Ordinal, seg.Name, sec.Name, file.Name, kind)

	start := out.alignTo(sec.Align)
	a.copySection(out, sec)
	a.placed[sectionKey{file, sec.Ordinal}] = placement{kind, start}

	if err := a.registerSymbols(file, sec, kind, start, 0, len(file.Symbols)); err != nil {
		return 0, err
	}

	for i := range records {
		records[i].Section = kind
		records[i].Offset += start
		records[i].SourceStart = start
	}
	a.records = append(a.records, records...)

	return start, nil
}

func (a *SectionAssembler) copySection(out *OutputSection, sec *objfile.Section) {
	if sec.ZeroFill {
		out.reserve(sec.Size)
		return
	}
	out.append(sec.Data)
}

// registerSymbols defines the symbols in file.Symbols[from:from+count] that live in sec
func (a *SectionAssembler) registerSymbols(file *objfile.FileInfo, sec *objfile.Section, kind SectionKind, secStart uint64, from, count int) error {
	end := from + count
	if from < 0 || end > len(file.Symbols) {
		return malformedInput(file.Name, "symbol range [%d,%d) exceeds %d symbols", from, end, len(file.Symbols))
	}

	for _, sym := range file.Symbols[from:end] {
		if !sym.DefinedIn(sec.Ordinal) {
			continue
		}
		if sym.Value < sec.Addr || sym.Value > sec.Addr+sec.Size {
			return malformedInput(file.Name, "symbol %s at 0x%x lies outside section %s", sym.Name, sym.Value, sec)
		}

		info := &SymbolInfo{
			Name:    sym.Name,
			Section: kind,
			Offset:  secStart + (sym.Value - sec.Addr),
			Local:   !sym.External() || sym.PrivateExternal(),
			File:    file.Name,
			out:     a.sections[kind],
		}
		if sec.ZeroFill {
			info.BSSSize = bssExtent(file, sec, sym.Value)
		}
		if err := a.symbols.Define(file, info, sym.External()); err != nil {
			return err
		}
	}
	return nil
}

// bssExtent measures from value to the next symbol in the section, or to its end
func bssExtent(file *objfile.FileInfo, sec *objfile.Section, value uint64) uint64 {
	next := sec.Addr + sec.Size
	for _, other := range file.Symbols {
		if other.DefinedIn(sec.Ordinal) && other.Value > value && other.Value < next {
			next = other.Value
		}
	}
	return next - value
}
