// Completion: 100% - x86-64 relocation kinds complete
package link

import (
	"errors"
	"strings"

	"github.com/xyproto/flatlink/internal/engine"
	"github.com/xyproto/flatlink/internal/objfile"
)

// RelocationEngine applies recorded relocations against the final layout.
// It only reads the symbol table; the output buffers are patched in place.
type RelocationEngine struct {
	cfg     Config
	asm     *SectionAssembler
	symbols *SymbolTable
}

func NewRelocationEngine(asm *SectionAssembler, symbols *SymbolTable, cfg Config) *RelocationEngine {
	return &RelocationEngine{cfg: cfg, asm: asm, symbols: symbols}
}

// Apply computes the value for one relocation and patches it into its output section.
// The PC of a PC-relative field is the address just past the field.
func (e *RelocationEngine) Apply(rec *RelocationRecord) error {
	out := e.asm.Section(rec.Section)
	if !out.Placed() {
		return invariantViolation("relocation applied before %s was placed", rec.Section)
	}
	buf := out.Bytes()
	if err := checkBounds(buf, rec.Offset, rec.Width); err != nil {
		return e.annotate(rec, err)
	}

	pc := out.Address() + rec.Offset + uint64(rec.Width)
	var (
		value    int64
		absolute bool
	)

	switch rec.Kind {
	case objfile.KindBranch, objfile.KindSigned:
		if !rec.PCRelative {
			return malformedRelocation(rec, "%s relocation must be PC-relative", rec.Kind)
		}
		if rec.External {
			sym, err := e.resolve(rec)
			if err != nil {
				return err
			}
			value = int64(sym.Address() - pc)
			break
		}
		target, orig, err := e.internalTarget(rec)
		if err != nil {
			return err
		}
		// Both the target and the field itself moved; the field holds the
		// displacement between their original positions
		moved := out.Address() + rec.SourceStart - rec.SourceAddr
		value = int64(target-moved) - int64(orig)

	case objfile.KindUnsigned:
		if rec.PCRelative {
			return malformedRelocation(rec, "%s relocation must not be PC-relative", rec.Kind)
		}
		if rec.Width != Width4 && rec.Width != Width8 {
			return e.badWidth(rec, "4 or 8")
		}
		if rec.External {
			sym, err := e.resolve(rec)
			if err != nil {
				return err
			}
			value = int64(sym.Address())
			break
		}
		target, orig, err := e.internalTarget(rec)
		if err != nil {
			return err
		}
		value = int64(target) - int64(orig)

	case objfile.KindGOT, objfile.KindGOTLoad:
		if !rec.PCRelative {
			return malformedRelocation(rec, "%s relocation must be PC-relative", rec.Kind)
		}
		if rec.Width != Width4 {
			return e.badWidth(rec, "4")
		}
		if !rec.External {
			return malformedRelocation(rec, "%s relocation must target an external symbol", rec.Kind)
		}
		sym, err := e.resolve(rec)
		if err != nil {
			return err
		}
		slot, ok := sym.GOTAddress()
		if !ok {
			le := unresolved("", sym.Name, "symbol has no GOT slot")
			rec.annotate(le)
			return le
		}
		value = int64(slot - pc)
		absolute = true

	default:
		return malformedRelocation(rec, "unsupported relocation kind %s", rec.Kind)
	}

	if err := Patch(buf, rec.Offset, rec.Width, value, absolute); err != nil {
		return e.annotate(rec, err)
	}
	e.cfg.logf("reloc: %s = %d\n", rec, value)
	return nil
}

// ApplyAll applies every record, stopping at the first failure
func (e *RelocationEngine) ApplyAll(records []RelocationRecord) error {
	for i := range records {
		if err := e.Apply(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

// resolve finds the definition an external record binds to
func (e *RelocationEngine) resolve(rec *RelocationRecord) (*SymbolInfo, error) {
	if sym, ok := e.symbols.Resolve(rec.File, rec.Symbol); ok {
		return sym, nil
	}
	le := unresolved("", rec.Symbol, "undefined symbol")
	rec.annotate(le)
	le.Suggestion = suggest(e.symbols, rec.Symbol)
	return nil, le
}

// internalTarget returns the new absolute address and the original address
// of the input section an internal record refers to
func (e *RelocationEngine) internalTarget(rec *RelocationRecord) (uint64, uint64, error) {
	sec, ok := rec.File.Section(rec.Target)
	if !ok {
		return 0, 0, malformedRelocation(rec, "target section %d does not exist", rec.Target)
	}
	kind, offset, ok := e.asm.Placement(rec.File, rec.Target)
	if !ok {
		le := &Error{Kind: KindMalformedInput, Message: "relocation targets section " + sec.String() + " which was not linked"}
		rec.annotate(le)
		return 0, 0, le
	}
	return e.asm.Section(kind).Address() + offset, sec.Addr, nil
}

func (e *RelocationEngine) badWidth(rec *RelocationRecord, expected string) *Error {
	le := malformedRelocation(rec, "bad field width for %s relocation", rec.Kind)
	le.Expected = expected
	le.Actual = rec.Width.String()
	return le
}

// annotate fills in the record's location on errors coming back from Patch
func (e *RelocationEngine) annotate(rec *RelocationRecord, err error) error {
	var le *Error
	if errors.As(err, &le) {
		rec.annotate(le)
	}
	return err
}

// suggest returns a "did you mean" hint for an undefined name
func suggest(t *SymbolTable, name string) string {
	similar := engine.FindSimilar(name, t.GlobalNames(), 3)
	if len(similar) == 0 {
		return ""
	}
	return "did you mean " + strings.Join(similar, ", ") + "?"
}
