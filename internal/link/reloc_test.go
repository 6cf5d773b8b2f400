package link

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/xyproto/flatlink/internal/objfile"
)

// assemble appends every section of files and places the output at imageStart
func assemble(t *testing.T, imageStart uint64, files ...*objfile.FileInfo) (*SectionAssembler, *SymbolTable) {
	t.Helper()
	a, symbols := newAssembler()
	for _, f := range files {
		for _, seg := range f.Segments {
			for _, sec := range seg.Sections {
				if _, err := a.AppendSection(seg, sec, f); err != nil {
					t.Fatalf("AppendSection %s: %v", f.Name, err)
				}
			}
		}
	}
	placeAll(a, imageStart)
	return a, symbols
}

func TestBranchToFieldEndIsZero(t *testing.T) {
	// _next labels the byte right after the call's displacement field, so pc == S
	text := codeSection(1, 0, []byte{0xe8, 0, 0, 0, 0, 0xc3},
		externReloc(objfile.KindBranch, 1, 2, true, 1))
	file := object("self.o", []*objfile.Section{text}, global("_main", 1, 0), global("_next", 1, 5))

	a, symbols := assemble(t, 0x2000, file)
	rec := &a.Records()[0]
	if err := NewRelocationEngine(a, symbols, NewConfig()).Apply(rec); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if field, _ := ReadField(a.Section(Text).Bytes(), 1, Width4); field != 0 {
		t.Errorf("Field = %d, want 0", field)
	}
}

func TestInternalSignedRebase(t *testing.T) {
	// pad.o pushes lea.o's text 16 bytes further, and its __const moves to rodata
	pad := object("pad.o", []*objfile.Section{codeSection(1, 0, make([]byte, 16))})

	// lea 0x10(%rip) as assembled: target 0x10 minus pc 7
	text := codeSection(1, 0, []byte{0x48, 0x8d, 0x05, 9, 0, 0, 0},
		internalReloc(objfile.KindSigned, 3, 2, true, 2))
	rodata := constSection(2, 0x10, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	lea := object("lea.o", []*objfile.Section{text, rodata})

	a, symbols := assemble(t, 0x100000, pad, lea)
	if err := NewRelocationEngine(a, symbols, NewConfig()).ApplyAll(a.Records()); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}

	textAddr := a.Section(Text).Address()
	pc := textAddr + 16 + 7
	want := int64(a.Section(ROData).Address() - pc)
	if field, _ := ReadField(a.Section(Text).Bytes(), 16+3, Width4); field != want {
		t.Errorf("Field = %d, want %d", field, want)
	}
}

func TestInternalUnsignedRebase(t *testing.T) {
	rodata := constSection(1, 0, []byte{0xaa, 0xbb, 0, 0, 0, 0, 0, 0})
	ptr := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptr, 1) // points at the second byte of rodata
	data := dataSection(2, 8, ptr, internalReloc(objfile.KindUnsigned, 0, 3, false, 1))
	file := object("ptr.o", []*objfile.Section{rodata, data})

	a, symbols := assemble(t, 0x200000, file)
	if err := NewRelocationEngine(a, symbols, NewConfig()).ApplyAll(a.Records()); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}
	got, _ := ReadField(a.Section(Data).Bytes(), 0, Width8)
	if want := a.Section(ROData).Address() + 1; uint64(got) != want {
		t.Errorf("Pointer = 0x%x, want 0x%x", got, want)
	}
}

func TestExternalUnsigned(t *testing.T) {
	data := dataSection(1, 0, make([]byte, 12), externReloc(objfile.KindUnsigned, 0, 3, false, 1))
	data.Relocs = append(data.Relocs, externReloc(objfile.KindUnsigned, 8, 2, false, 1))
	file := object("abs.o", []*objfile.Section{data}, global("_table", 1, 0), global("_entry", 1, 8))

	a, symbols := assemble(t, 0x300000, file)
	if err := NewRelocationEngine(a, symbols, NewConfig()).ApplyAll(a.Records()); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}
	entry, _ := symbols.Lookup("_entry")
	buf := a.Section(Data).Bytes()
	if got, _ := ReadField(buf, 0, Width8); uint64(got) != entry.Address() {
		t.Errorf("8-byte pointer = 0x%x, want 0x%x", got, entry.Address())
	}
	if got, _ := ReadField(buf, 8, Width4); uint64(got) != entry.Address() {
		t.Errorf("4-byte pointer = 0x%x, want 0x%x", got, entry.Address())
	}
}

func TestRelocationRuleViolations(t *testing.T) {
	tests := []struct {
		name  string
		reloc objfile.Relocation
		want  error
	}{
		{"branch not pc-relative", externReloc(objfile.KindBranch, 0, 2, false, 0), ErrMalformedRelocation},
		{"signed not pc-relative", externReloc(objfile.KindSigned, 0, 2, false, 0), ErrMalformedRelocation},
		{"unsigned pc-relative", externReloc(objfile.KindUnsigned, 0, 3, true, 0), ErrMalformedRelocation},
		{"unsigned one byte", externReloc(objfile.KindUnsigned, 0, 0, false, 0), ErrMalformedRelocation},
		{"unsigned two bytes", externReloc(objfile.KindUnsigned, 0, 1, false, 0), ErrMalformedRelocation},
		{"got eight bytes", externReloc(objfile.KindGOT, 0, 3, true, 0), ErrMalformedRelocation},
		{"got not pc-relative", externReloc(objfile.KindGOTLoad, 0, 2, false, 0), ErrMalformedRelocation},
		{"got internal", internalReloc(objfile.KindGOT, 0, 2, true, 1), ErrMalformedRelocation},
		{"unsupported", objfile.Relocation{Kind: objfile.KindUnsupported, LenLog2: 2, Extern: true}, ErrMalformedRelocation},
		{"undefined target", externReloc(objfile.KindBranch, 0, 2, true, 1), ErrUnresolvedReference},
		{"missing target section", internalReloc(objfile.KindSigned, 0, 2, true, 9), ErrMalformedRelocation},
		{"byte branch overflow", externReloc(objfile.KindBranch, 0, 0, true, 2), ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := codeSection(1, 0, make([]byte, 16), tt.reloc)
			far := &objfile.Section{Ordinal: 2, Segment: "__DATA", Name: "__bss", Addr: 16, Size: 0x1000, Align: 3, ZeroFill: true}
			file := object("rules.o", []*objfile.Section{text, far},
				global("_here", 1, 0), undefined("_missing"), global("_far", 2, 0x800))

			a, symbols := assemble(t, 0x1000, file)
			original := append([]byte(nil), a.Section(Text).Bytes()...)
			err := NewRelocationEngine(a, symbols, NewConfig()).Apply(&a.Records()[0])
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if !bytes.Equal(a.Section(Text).Bytes(), original) {
				t.Error("Buffer modified by a failed relocation")
			}
		})
	}
}

func TestApplyChecksBoundsBeforePatching(t *testing.T) {
	file := callFile("a.o", "_a", "_a")
	a, symbols := assemble(t, 0x1000, file)
	rec := a.Records()[0]
	rec.Offset = a.Section(Text).Len() - 2

	original := append([]byte(nil), a.Section(Text).Bytes()...)
	err := NewRelocationEngine(a, symbols, NewConfig()).Apply(&rec)
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("Expected malformed input, got %v", err)
	}
	if !bytes.Equal(a.Section(Text).Bytes(), original) {
		t.Error("Buffer modified by an out of bounds relocation")
	}
}

func TestUnresolvedSuggestion(t *testing.T) {
	text := codeSection(1, 0, []byte{0xe8, 0, 0, 0, 0}, externReloc(objfile.KindBranch, 1, 2, true, 1))
	file := object("typo.o", []*objfile.Section{text}, global("_print", 1, 0), undefined("_pirnt"))

	a, symbols := assemble(t, 0x1000, file)
	err := NewRelocationEngine(a, symbols, NewConfig()).Apply(&a.Records()[0])
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindUnresolvedReference {
		t.Fatalf("Expected an unresolved reference, got %v", err)
	}
	if le.Symbol != "_pirnt" || le.File != "typo.o" {
		t.Errorf("Context = %q in %q", le.Symbol, le.File)
	}
	if !strings.Contains(le.Suggestion, "_print") {
		t.Errorf("Suggestion = %q", le.Suggestion)
	}
}

func TestApplyBeforeLayout(t *testing.T) {
	file := callFile("a.o", "_a", "_a")
	a, symbols := newAssembler()
	if _, err := a.AppendSection(file.Segments[0], file.Segments[0].Sections[0], file); err != nil {
		t.Fatal(err)
	}
	err := NewRelocationEngine(a, symbols, NewConfig()).Apply(&a.Records()[0])
	if !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("Expected invariant violation, got %v", err)
	}
}
