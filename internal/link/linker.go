// Completion: 100% - Link orchestration complete
package link

import (
	"github.com/xyproto/flatlink/internal/engine"
	"github.com/xyproto/flatlink/internal/objfile"
)

// ImageSection is one finalized output section
type ImageSection struct {
	Kind    SectionKind
	Address uint64
	Size    uint64
	Align   uint64
	Data    []byte // nil for zero-fill sections
}

// Image is the result of a link: the output sections at their final
// addresses, ready to be written out
type Image struct {
	Start    uint64
	Entry    uint64
	Sections []ImageSection
	Symbols  []*SymbolInfo
	GOT      *GOTTable
}

// End returns the address just past the last section, zero-fill included
func (img *Image) End() uint64 {
	end := img.Start
	for _, s := range img.Sections {
		if e := s.Address + s.Size; e > end {
			end = e
		}
	}
	return end
}

// FileSize is the number of bytes a flat file of the image needs; trailing
// zero-fill sections take no room
func (img *Image) FileSize() uint64 {
	end := img.Start
	for _, s := range img.Sections {
		if s.Kind.ZeroFill() {
			continue
		}
		if e := s.Address + s.Size; e > end {
			end = e
		}
	}
	return end - img.Start
}

// Section returns the section of the given kind
func (img *Image) Section(kind SectionKind) (ImageSection, bool) {
	for _, s := range img.Sections {
		if s.Kind == kind {
			return s, true
		}
	}
	return ImageSection{}, false
}

// Linker drives one link through its phases: Add every input, then Layout,
// BuildGOT, Relocate and finally Image
type Linker struct {
	cfg      Config
	arch     engine.Arch
	pipeline *Pipeline
	symbols  *SymbolTable
	asm      *SectionAssembler
	got      *GOTBuilder
	reloc    *RelocationEngine
	skip     map[string]bool

	files    []*objfile.FileInfo
	gotNames []string
	gotTable *GOTTable
}

func New(cfg Config) (*Linker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	arch := engine.ArchX86_64
	symbols := NewSymbolTable(NewAllowList(cfg.AllowDuplicates...))
	asm := NewSectionAssembler(arch, symbols, cfg)
	l := &Linker{
		cfg:      cfg,
		arch:     arch,
		pipeline: NewPipeline(cfg),
		symbols:  symbols,
		asm:      asm,
		got:      NewGOTBuilder(asm.Section(GOT), symbols, cfg),
		reloc:    NewRelocationEngine(asm, symbols, cfg),
		skip:     make(map[string]bool, len(cfg.SkipSections)),
	}
	for _, s := range cfg.SkipSections {
		l.skip[s] = true
	}
	return l, nil
}

// Symbols returns the link's symbol table
func (l *Linker) Symbols() *SymbolTable {
	return l.symbols
}

// Records returns the relocations recorded so far
func (l *Linker) Records() []RelocationRecord {
	return l.asm.Records()
}

// Files returns the inputs added so far, in link order
func (l *Linker) Files() []*objfile.FileInfo {
	return l.files
}

// Phase returns the current link phase
func (l *Linker) Phase() Phase {
	return l.pipeline.Current()
}

// Add merges one input file. Inputs are merged in the order they are added.
func (l *Linker) Add(file *objfile.FileInfo) error {
	if err := l.pipeline.Require(PhaseAssemble, "adding "+file.Name); err != nil {
		return err
	}
	if file.Arch != l.arch {
		return malformedInput(file.Name, "architecture %s does not match %s", file.Arch, l.arch)
	}
	if err := file.Validate(); err != nil {
		return &Error{Kind: KindMalformedInput, File: file.Name, Message: "invalid object", Err: err}
	}

	l.cfg.logf("link: adding %s\n", file.Name)
	for _, seg := range file.Segments {
		sections := l.linkable(seg)
		if len(sections) == 0 {
			continue
		}
		whole := &objfile.Segment{Name: seg.Name, Sections: sections}
		if wholeSegment(whole) {
			if _, _, err := l.asm.AppendSegment(whole, file); err != nil {
				return err
			}
			continue
		}
		for _, sec := range sections {
			if _, err := l.asm.AppendSection(seg, sec, file); err != nil {
				return err
			}
		}
	}
	l.files = append(l.files, file)
	return nil
}

// linkable drops debug sections and the configured skip list
func (l *Linker) linkable(seg *objfile.Segment) []*objfile.Section {
	var keep []*objfile.Section
	for _, sec := range seg.Sections {
		if sec.Debug || l.skip[sec.String()] {
			l.cfg.logf("link: skipping %s\n", sec)
			continue
		}
		keep = append(keep, sec)
	}
	return keep
}

// wholeSegment reports whether a segment can be copied in one piece: all of
// its sections land in the same output section and none needs relocating
func wholeSegment(seg *objfile.Segment) bool {
	kind := KindOf(seg.Sections[0])
	for _, sec := range seg.Sections {
		if KindOf(sec) != kind || len(sec.Relocs) > 0 || sec.RelocErr != nil {
			return false
		}
	}
	return true
}

// Layout reserves the GOT and fixes the base of every output section, in
// LayoutOrder, each aligned to the largest alignment of its inputs
func (l *Linker) Layout() error {
	if err := l.pipeline.AdvanceTo(PhaseLayout); err != nil {
		return err
	}

	names, err := l.got.CollectIndirectSymbols(l.asm.Records())
	if err != nil {
		return err
	}
	l.gotNames = names
	l.got.Reserve(len(names))

	// Alignment applies to absolute addresses; the image start need not be aligned
	var cursor uint64
	for _, kind := range LayoutOrder {
		sec := l.asm.Section(kind)
		align := max(sec.Align(), l.cfg.SectionAlign)
		cursor = engine.AlignUp(l.cfg.ImageStart+cursor, align) - l.cfg.ImageStart
		sec.place(l.cfg.ImageStart, cursor)
		l.cfg.logf("link: %-6s at 0x%x size 0x%x align %d\n", kind, sec.Address(), sec.Len(), align)
		cursor += sec.Len()
	}
	return nil
}

// BuildGOT fills one slot per indirectly referenced symbol
func (l *Linker) BuildGOT() error {
	if err := l.pipeline.AdvanceTo(PhaseGOT); err != nil {
		return err
	}
	table, err := l.got.AllocateSlots(l.gotNames)
	if err != nil {
		return err
	}
	l.gotTable = table
	return nil
}

// Relocate applies every recorded relocation exactly once
func (l *Linker) Relocate() error {
	if err := l.pipeline.AdvanceTo(PhaseRelocate); err != nil {
		return err
	}
	records := l.asm.Records()
	if err := l.reloc.ApplyAll(records); err != nil {
		return err
	}
	l.cfg.logf("link: applied %d relocations\n", len(records))
	return l.pipeline.AdvanceTo(PhaseComplete)
}

// Image returns the finished image. The entry point is Config.Entry when set,
// otherwise the start of the text section.
func (l *Linker) Image() (*Image, error) {
	if err := l.pipeline.Require(PhaseComplete, "building the image"); err != nil {
		return nil, err
	}

	img := &Image{
		Start:   l.cfg.ImageStart,
		Entry:   l.asm.Section(Text).Address(),
		Symbols: l.symbols.All(),
		GOT:     l.gotTable,
	}
	if l.cfg.Entry != "" {
		sym, ok := l.symbols.Lookup(l.cfg.Entry)
		if !ok {
			e := unresolved("", l.cfg.Entry, "entry symbol is not defined")
			e.Suggestion = suggest(l.symbols, l.cfg.Entry)
			return nil, e
		}
		img.Entry = sym.Address()
	}

	for _, kind := range LayoutOrder {
		sec := l.asm.Section(kind)
		is := ImageSection{
			Kind:    kind,
			Address: sec.Address(),
			Size:    sec.Len(),
			Align:   sec.Align(),
		}
		if !kind.ZeroFill() {
			is.Data = sec.Bytes()
		}
		img.Sections = append(img.Sections, is)
	}
	return img, nil
}

// Link runs a whole link over files in order and fails on the first error
func Link(cfg Config, files ...*objfile.FileInfo) (*Image, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := l.Add(f); err != nil {
			return nil, err
		}
	}
	if err := l.Layout(); err != nil {
		return nil, err
	}
	if err := l.BuildGOT(); err != nil {
		return nil, err
	}
	if err := l.Relocate(); err != nil {
		return nil, err
	}
	return l.Image()
}
