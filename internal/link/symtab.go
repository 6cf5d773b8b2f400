package link

import (
	"sort"

	"github.com/xyproto/flatlink/internal/objfile"
)

// SymbolInfo is a resolved symbol definition. It is created once when the
// defining section is merged and only ever gains a GOT slot afterwards.
type SymbolInfo struct {
	Name    string
	Section SectionKind
	Offset  uint64 // from the start of the output section
	Local   bool   // file-local or private extern
	File    string

	// BSSSize is the extent of the zero-fill region the symbol labels, 0 outside zero-fill sections
	BSSSize uint64

	out    *OutputSection
	got    uint64
	hasGOT bool
}

// Address returns the final absolute address. Valid once layout has placed the section.
func (s *SymbolInfo) Address() uint64 {
	return s.out.Address() + s.Offset
}

// GOTAddress returns the symbol's GOT slot, if one was allocated
func (s *SymbolInfo) GOTAddress() (uint64, bool) {
	return s.got, s.hasGOT
}

// SymbolTable maps names to definitions. Externally visible names share one
// namespace for the whole link; file-local names are scoped to their file.
// All writes happen while assembling; relocation only reads.
type SymbolTable struct {
	allow  AllowList
	global map[string]*SymbolInfo
	locals map[*objfile.FileInfo]map[string]*SymbolInfo
	order  []*SymbolInfo

	// duplicates counts tolerated allow-listed redefinitions
	duplicates int
}

func NewSymbolTable(allow AllowList) *SymbolTable {
	if allow == nil {
		allow = NewAllowList()
	}
	return &SymbolTable{
		allow:  allow,
		global: make(map[string]*SymbolInfo),
		locals: make(map[*objfile.FileInfo]map[string]*SymbolInfo),
	}
}

// Define registers a definition. A second external definition of a name
// fails with a symbol conflict unless the name is allow-listed, in which
// case the first definition is kept. Repeated local names keep the first.
func (t *SymbolTable) Define(file *objfile.FileInfo, info *SymbolInfo, external bool) error {
	if !external {
		scope := t.locals[file]
		if scope == nil {
			scope = make(map[string]*SymbolInfo)
			t.locals[file] = scope
		}
		if _, exists := scope[info.Name]; exists {
			return nil
		}
		scope[info.Name] = info
		t.order = append(t.order, info)
		return nil
	}

	if _, exists := t.global[info.Name]; exists {
		if t.allow.Contains(info.Name) {
			t.duplicates++
			return nil
		}
		return symbolConflict(file.Name, info.Name)
	}
	t.global[info.Name] = info
	t.order = append(t.order, info)
	return nil
}

// Lookup finds an externally visible definition
func (t *SymbolTable) Lookup(name string) (*SymbolInfo, bool) {
	s, ok := t.global[name]
	return s, ok
}

// Resolve finds the definition a reference from file binds to: the file's
// own local definition first, then the global one
func (t *SymbolTable) Resolve(file *objfile.FileInfo, name string) (*SymbolInfo, bool) {
	if s, ok := t.locals[file][name]; ok {
		return s, true
	}
	return t.Lookup(name)
}

// Len returns the number of registered definitions
func (t *SymbolTable) Len() int {
	return len(t.order)
}

// Duplicates returns how many allow-listed redefinitions were dropped
func (t *SymbolTable) Duplicates() int {
	return t.duplicates
}

// All returns every definition in registration order
func (t *SymbolTable) All() []*SymbolInfo {
	return append([]*SymbolInfo(nil), t.order...)
}

// GlobalNames returns the externally visible names, sorted
func (t *SymbolTable) GlobalNames() []string {
	names := make([]string, 0, len(t.global))
	for n := range t.global {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t *SymbolTable) setGOT(s *SymbolInfo, addr uint64) {
	s.got = addr
	s.hasGOT = true
}
