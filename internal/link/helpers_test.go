package link

import (
	"github.com/xyproto/flatlink/internal/engine"
	"github.com/xyproto/flatlink/internal/objfile"
)

// Hand-built object files for the tests. Section addresses are the ones a
// compiler would have assigned inside a single object.

func codeSection(ordinal int, addr uint64, data []byte, relocs ...objfile.Relocation) *objfile.Section {
	return &objfile.Section{
		Ordinal: ordinal, Segment: "__TEXT", Name: "__text",
		Addr: addr, Size: uint64(len(data)), Align: 4,
		Code: true, Data: data, Relocs: relocs,
	}
}

func constSection(ordinal int, addr uint64, data []byte) *objfile.Section {
	return &objfile.Section{
		Ordinal: ordinal, Segment: "__TEXT", Name: "__const",
		Addr: addr, Size: uint64(len(data)), Align: 3, Data: data,
	}
}

func dataSection(ordinal int, addr uint64, data []byte, relocs ...objfile.Relocation) *objfile.Section {
	return &objfile.Section{
		Ordinal: ordinal, Segment: "__DATA", Name: "__data",
		Addr: addr, Size: uint64(len(data)), Align: 3, Data: data, Relocs: relocs,
	}
}

func bssSection(ordinal int, addr, size uint64) *objfile.Section {
	return &objfile.Section{
		Ordinal: ordinal, Segment: "__DATA", Name: "__bss",
		Addr: addr, Size: size, Align: 3, ZeroFill: true,
	}
}

func object(name string, sections []*objfile.Section, symbols ...objfile.Symbol) *objfile.FileInfo {
	return &objfile.FileInfo{
		Name:     name,
		Arch:     engine.ArchX86_64,
		Segments: []*objfile.Segment{{Sections: sections}},
		Symbols:  symbols,
	}
}

func global(name string, sect uint8, value uint64) objfile.Symbol {
	return objfile.Symbol{Name: name, Type: objfile.N_SECT | objfile.N_EXT, Sect: sect, Value: value}
}

func local(name string, sect uint8, value uint64) objfile.Symbol {
	return objfile.Symbol{Name: name, Type: objfile.N_SECT, Sect: sect, Value: value}
}

func undefined(name string) objfile.Symbol {
	return objfile.Symbol{Name: name, Type: objfile.N_UNDF | objfile.N_EXT}
}

func externReloc(kind objfile.RelocKind, offset uint32, lenLog2 uint8, pcrel bool, symbol int) objfile.Relocation {
	return objfile.Relocation{Offset: offset, LenLog2: lenLog2, Kind: kind, PCRelative: pcrel, Extern: true, Symbol: symbol}
}

func internalReloc(kind objfile.RelocKind, offset uint32, lenLog2 uint8, pcrel bool, section int) objfile.Relocation {
	return objfile.Relocation{Offset: offset, LenLog2: lenLog2, Kind: kind, PCRelative: pcrel, Section: section}
}

// callFile defines name at offset 0 of a code section that calls target
func callFile(file, name, target string) *objfile.FileInfo {
	text := codeSection(1, 0, []byte{0xe8, 0, 0, 0, 0, 0xc3},
		externReloc(objfile.KindBranch, 1, 2, true, 1))
	return object(file, []*objfile.Section{text}, global(name, 1, 0), undefined(target))
}

// retFile defines name at offset 0 of a one-instruction code section
func retFile(file, name string) *objfile.FileInfo {
	return object(file, []*objfile.Section{codeSection(1, 0, []byte{0xc3})}, global(name, 1, 0))
}

// placeAll fixes every output section base the same way Linker.Layout does
func placeAll(a *SectionAssembler, imageStart uint64) {
	var cursor uint64
	for _, kind := range LayoutOrder {
		sec := a.Section(kind)
		cursor = engine.AlignUp(imageStart+cursor, sec.Align()) - imageStart
		sec.place(imageStart, cursor)
		cursor += sec.Len()
	}
}

func newAssembler(allow ...string) (*SectionAssembler, *SymbolTable) {
	symbols := NewSymbolTable(NewAllowList(allow...))
	return NewSectionAssembler(engine.ArchX86_64, symbols, NewConfig()), symbols
}
