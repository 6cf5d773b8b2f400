package link

import (
	"fmt"

	"github.com/xyproto/flatlink/internal/engine"
)

// SectionKind identifies one output section
type SectionKind int

const (
	Text SectionKind = iota
	ROData
	Data
	GOT
	BSS

	numSectionKinds
)

// LayoutOrder is the order output sections appear in the image
var LayoutOrder = [...]SectionKind{Text, ROData, Data, GOT, BSS}

func (k SectionKind) String() string {
	switch k {
	case Text:
		return "text"
	case ROData:
		return "rodata"
	case Data:
		return "data"
	case GOT:
		return "got"
	case BSS:
		return "bss"
	default:
		return fmt.Sprintf("section(%d)", int(k))
	}
}

// ZeroFill reports whether the section occupies address space but no file bytes
func (k SectionKind) ZeroFill() bool {
	return k == BSS
}

// OutputSection is one merged section of the image. Its buffer is owned by
// the SectionAssembler while assembling and only patched afterwards.
type OutputSection struct {
	Kind SectionKind

	buf      *SafeBuffer
	fill     byte
	maxAlign uint64

	// set once by layout
	base       uint64 // image-relative
	imageStart uint64
	placed     bool
}

func newOutputSection(kind SectionKind, arch engine.Arch) *OutputSection {
	s := &OutputSection{
		Kind:     kind,
		buf:      NewSafeBuffer(kind.String()),
		maxAlign: 1,
	}
	if kind == Text {
		s.fill, _ = arch.NopByte()
	}
	return s
}

// Len is the write cursor: the number of bytes assembled so far
func (s *OutputSection) Len() uint64 {
	return uint64(s.buf.Len())
}

// Bytes returns the section contents
func (s *OutputSection) Bytes() []byte {
	return s.buf.Bytes()
}

// Align returns the largest alignment requested by any input placed here
func (s *OutputSection) Align() uint64 {
	return s.maxAlign
}

// Base returns the image-relative start of the section. Valid after layout.
func (s *OutputSection) Base() uint64 {
	return s.base
}

// Address returns the absolute start address of the section. Valid after layout.
func (s *OutputSection) Address() uint64 {
	return s.imageStart + s.base
}

// Placed reports whether layout has fixed the section base
func (s *OutputSection) Placed() bool {
	return s.placed
}

// alignTo pads the buffer so its length is a multiple of 1<<exp and returns the padded length
func (s *OutputSection) alignTo(exp uint8) uint64 {
	pad := engine.Padding(s.Len(), exp)
	s.buf.Fill(s.fill, int(pad))
	if a := uint64(1) << exp; a > s.maxAlign {
		s.maxAlign = a
	}
	return s.Len()
}

// alignLike pads the buffer so its length is congruent to addr modulo 1<<exp
// and returns the padded length. Bytes appended at that length then keep the
// alignment they had at addr.
func (s *OutputSection) alignLike(exp uint8, addr uint64) uint64 {
	align := uint64(1) << exp
	want := addr & (align - 1)
	have := s.Len() & (align - 1)
	s.buf.Fill(s.fill, int((want-have)&(align-1)))
	if align > s.maxAlign {
		s.maxAlign = align
	}
	return s.Len()
}

// padTo extends the buffer with the fill byte up to length n
func (s *OutputSection) padTo(n uint64) {
	if n > s.Len() {
		s.buf.Fill(s.fill, int(n-s.Len()))
	}
}

func (s *OutputSection) append(p []byte) {
	s.buf.Write(p)
}

// reserve appends n zero bytes
func (s *OutputSection) reserve(n uint64) {
	s.buf.Fill(0, int(n))
}

func (s *OutputSection) place(imageStart, base uint64) {
	s.imageStart = imageStart
	s.base = base
	s.placed = true
	s.buf.Seal()
}
