package objfile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// Raw Mach-O structures used to synthesize object files for the tests

const (
	mhMagic64     = 0xfeedfacf
	cpuTypeX86_64 = 0x01000007
	cpuTypeARM64  = 0x0100000c
	mhObject      = 0x1
	mhExecute     = 0x2

	lcSegment64 = 0x19
	lcSymtab    = 0x2
	lcDysymtab  = 0xb
)

type machOHeader64 struct {
	Magic      uint32
	CPUType    uint32
	CPUSubtype uint32
	FileType   uint32
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
	Reserved   uint32
}

type segmentCommand64 struct {
	Cmd      uint32
	CmdSize  uint32
	SegName  [16]byte
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

type section64 struct {
	SectName  [16]byte
	SegName   [16]byte
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

type symtabCommand struct {
	Cmd     uint32
	CmdSize uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

type dysymtabCommand struct {
	Cmd            uint32
	CmdSize        uint32
	ILocalSym      uint32
	NLocalSym      uint32
	IExtDefSym     uint32
	NExtDefSym     uint32
	IUndefSym      uint32
	NUndefSym      uint32
	TOCOff         uint32
	NTOC           uint32
	ModTabOff      uint32
	NModTab        uint32
	ExtRefSymOff   uint32
	NExtRefSyms    uint32
	IndirectSymOff uint32
	NIndirectSyms  uint32
	ExtRelOff      uint32
	NExtRel        uint32
	LocRelOff      uint32
	NLocRel        uint32
}

type nlist64 struct {
	Strx  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

type fixtureReloc struct {
	addr      uint32
	value     uint32
	pcrel     bool
	length    uint8
	extern    bool
	typ       uint8
	scattered bool
}

func (r fixtureReloc) encode() (uint32, uint32) {
	if r.scattered {
		addr := uint32(1)<<31 | uint32(r.typ)<<24 | uint32(r.length)<<28 | r.addr&0xffffff
		if r.pcrel {
			addr |= 1 << 30
		}
		return addr, r.value
	}
	info := r.value & 0xffffff
	if r.pcrel {
		info |= 1 << 24
	}
	info |= uint32(r.length&3) << 25
	if r.extern {
		info |= 1 << 27
	}
	info |= uint32(r.typ&0xf) << 28
	return r.addr, info
}

type fixtureSection struct {
	seg, name string
	addr      uint64
	data      []byte
	size      uint64 // used when data is nil
	align     uint32
	flags     uint32
	relocs    []fixtureReloc
}

func (s fixtureSection) sectionSize() uint64 {
	if s.data != nil {
		return uint64(len(s.data))
	}
	return s.size
}

type fixtureSymbol struct {
	name  string
	typ   uint8
	sect  uint8
	value uint64
}

type fixture struct {
	cpu      uint32
	fileType uint32
	sections []fixtureSection
	symbols  []fixtureSymbol
	dynamic  *DynamicRanges
}

func name16(s string) (out [16]byte) {
	copy(out[:], s)
	return out
}

func align8(n uint32) uint32 {
	return (n + 7) &^ 7
}

// build lays out header, load commands, section bytes, relocations,
// symbol table and string table in that order
func (fx fixture) build(t *testing.T) []byte {
	t.Helper()

	const headerSize = 32
	segSize := uint32(72 + 80*len(fx.sections))
	cmdSize := segSize + 24
	ncmds := uint32(2)
	if fx.dynamic != nil {
		cmdSize += 80
		ncmds++
	}

	offset := align8(headerSize + cmdSize)
	dataStart := offset

	secOffsets := make([]uint32, len(fx.sections))
	for i, s := range fx.sections {
		if s.data == nil {
			continue
		}
		secOffsets[i] = offset
		offset += uint32(len(s.data))
	}
	dataEnd := offset
	offset = align8(offset)

	relOffsets := make([]uint32, len(fx.sections))
	for i, s := range fx.sections {
		if len(s.relocs) == 0 {
			continue
		}
		relOffsets[i] = offset
		offset += uint32(8 * len(s.relocs))
	}

	symOff := align8(offset)
	strtab := []byte{0}
	strx := make([]uint32, len(fx.symbols))
	for i, sym := range fx.symbols {
		strx[i] = uint32(len(strtab))
		strtab = append(strtab, sym.name...)
		strtab = append(strtab, 0)
	}
	strOff := symOff + uint32(16*len(fx.symbols))

	var buf bytes.Buffer
	w := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("Failed to encode fixture: %v", err)
		}
	}

	w(machOHeader64{
		Magic:      mhMagic64,
		CPUType:    fx.cpu,
		CPUSubtype: 3,
		FileType:   fx.fileType,
		NCmds:      ncmds,
		SizeOfCmds: cmdSize,
	})

	var vmsize uint64
	for _, s := range fx.sections {
		if end := s.addr + s.sectionSize(); end > vmsize {
			vmsize = end
		}
	}
	w(segmentCommand64{
		Cmd:      lcSegment64,
		CmdSize:  segSize,
		VMSize:   vmsize,
		FileOff:  uint64(dataStart),
		FileSize: uint64(dataEnd - dataStart),
		MaxProt:  7,
		InitProt: 7,
		NSects:   uint32(len(fx.sections)),
	})
	for i, s := range fx.sections {
		w(section64{
			SectName: name16(s.name),
			SegName:  name16(s.seg),
			Addr:     s.addr,
			Size:     s.sectionSize(),
			Offset:   secOffsets[i],
			Align:    s.align,
			Reloff:   relOffsets[i],
			Nreloc:   uint32(len(s.relocs)),
			Flags:    s.flags,
		})
	}
	w(symtabCommand{
		Cmd:     lcSymtab,
		CmdSize: 24,
		Symoff:  symOff,
		Nsyms:   uint32(len(fx.symbols)),
		Stroff:  strOff,
		Strsize: uint32(len(strtab)),
	})
	if d := fx.dynamic; d != nil {
		w(dysymtabCommand{
			Cmd:        lcDysymtab,
			CmdSize:    80,
			ILocalSym:  uint32(d.LocalStart),
			NLocalSym:  uint32(d.LocalCount),
			IExtDefSym: uint32(d.ExtDefStart),
			NExtDefSym: uint32(d.ExtDefCount),
			IUndefSym:  uint32(d.UndefStart),
			NUndefSym:  uint32(d.UndefCount),
		})
	}

	pad := func(to uint32) {
		for uint32(buf.Len()) < to {
			buf.WriteByte(0)
		}
	}

	pad(dataStart)
	for _, s := range fx.sections {
		if s.data != nil {
			buf.Write(s.data)
		}
	}
	for i, s := range fx.sections {
		if len(s.relocs) == 0 {
			continue
		}
		pad(relOffsets[i])
		for _, r := range s.relocs {
			a, b := r.encode()
			w(a)
			w(b)
		}
	}
	pad(symOff)
	for i, sym := range fx.symbols {
		w(nlist64{Strx: strx[i], Type: sym.typ, Sect: sym.sect, Value: sym.value})
	}
	buf.Write(strtab)

	return buf.Bytes()
}
