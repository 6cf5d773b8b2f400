// Completion: 100% - GOT synthesis complete
package link

import "fmt"

// GOTSlotSize is the width of one GOT entry
const GOTSlotSize = 8

// GOTTable maps each indirectly referenced symbol to its slot address
type GOTTable struct {
	base  uint64
	order []string
	slots map[string]uint64
}

// Slot returns the absolute address of name's slot
func (t *GOTTable) Slot(name string) (uint64, bool) {
	addr, ok := t.slots[name]
	return addr, ok
}

// Names returns the symbols in slot order
func (t *GOTTable) Names() []string {
	return append([]string(nil), t.order...)
}

func (t *GOTTable) Len() int {
	return len(t.order)
}

// Base returns the address of the first slot
func (t *GOTTable) Base() uint64 {
	return t.base
}

// GOTBuilder finds the symbols reached through the GOT and fills their slots.
// Slots live in the GOT output section: Reserve sizes it before layout and
// AllocateSlots fills it once the section and every symbol have their address.
type GOTBuilder struct {
	cfg     Config
	section *OutputSection
	symbols *SymbolTable
}

func NewGOTBuilder(section *OutputSection, symbols *SymbolTable, cfg Config) *GOTBuilder {
	return &GOTBuilder{cfg: cfg, section: section, symbols: symbols}
}

// CollectIndirectSymbols returns the deduplicated names targeted by GOT and
// GOT-load relocations, in first-seen order. Every such relocation must name
// an external symbol.
func (g *GOTBuilder) CollectIndirectSymbols(records []RelocationRecord) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for i := range records {
		rec := &records[i]
		if !rec.Kind.IsGOT() {
			continue
		}
		if !rec.External {
			return nil, malformedRelocation(rec, "%s relocation targets section %d instead of an external symbol", rec.Kind, rec.Target)
		}
		if !seen[rec.Symbol] {
			seen[rec.Symbol] = true
			names = append(names, rec.Symbol)
		}
	}
	return names, nil
}

// Reserve appends zeroed room for n slots. Must run before layout seals the section.
func (g *GOTBuilder) Reserve(n int) {
	if n == 0 {
		return
	}
	g.section.alignTo(3)
	g.section.reserve(uint64(n) * GOTSlotSize)
	g.cfg.logf("got: reserved %d slots\n", n)
}

// AllocateSlots assigns one slot per name in order, stores each slot address
// on the symbol and writes the symbol's final address into the slot
func (g *GOTBuilder) AllocateSlots(names []string) (*GOTTable, error) {
	if !g.section.Placed() {
		return nil, invariantViolation("GOT slots allocated before layout")
	}
	if need := uint64(len(names)) * GOTSlotSize; g.section.Len() < need {
		return nil, &Error{
			Kind:     KindInvariantViolation,
			Section:  g.section.Kind.String(),
			Message:  "GOT region is smaller than the slots it must hold",
			Expected: fmt.Sprintf("at least %d bytes", need),
			Actual:   fmt.Sprintf("%d bytes", g.section.Len()),
		}
	}

	table := &GOTTable{
		base:  g.section.Address(),
		slots: make(map[string]uint64, len(names)),
	}
	buf := g.section.Bytes()
	for i, name := range names {
		if _, dup := table.slots[name]; dup {
			return nil, invariantViolation("symbol %s listed twice for the GOT", name)
		}
		sym, ok := g.symbols.Lookup(name)
		if !ok {
			e := unresolved("", name, "GOT entry for undefined symbol")
			e.Suggestion = suggest(g.symbols, name)
			return nil, e
		}

		offset := uint64(i) * GOTSlotSize
		if err := Patch(buf, offset, Width8, int64(sym.Address()), true); err != nil {
			if le, ok := err.(*Error); ok {
				le.Section = g.section.Kind.String()
				le.Symbol = name
			}
			return nil, err
		}

		addr := table.base + offset
		g.symbols.setGOT(sym, addr)
		table.slots[name] = addr
		table.order = append(table.order, name)
		g.cfg.logf("got: slot %d at 0x%x -> %s (0x%x)\n", i, addr, name, sym.Address())
	}
	return table, nil
}
