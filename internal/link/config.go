package link

import (
	"fmt"
	"io"
	"sort"
)

// DefaultAllowDuplicates are compiler-runtime artifacts that every Swift/C++
// translation unit emits with identical contents. Keeping the first
// definition of these is safe; any other duplicate is a symbol conflict.
var DefaultAllowDuplicates = []string{
	"__ZL11unreachablePKc",
	"__ZN5swiftL11STDLIB_NAMEE",
	"__ZN5swiftL20MANGLING_MODULE_OBJCE",
	"__ZN5swiftL17MANGLING_MODULE_CE",
	"GCC_except_table2",
}

// DefaultImageStart is where the flat image is loaded when nothing else is configured
const DefaultImageStart = 0x100000

// Config controls one link
type Config struct {
	// ImageStart is the absolute address of the first byte of the image
	ImageStart uint64

	// SectionAlign is the minimum alignment of each output section base (0 or a power of two)
	SectionAlign uint64

	// AllowDuplicates lists symbol names whose repeated definitions are tolerated
	AllowDuplicates []string

	// SkipSections lists "segment,section" pairs that are not linked into the image
	SkipSections []string

	// Entry names the entry symbol; empty means the start of the text section
	Entry string

	// Logger receives progress lines; nil keeps the link silent
	Logger io.Writer
}

// NewConfig returns a Config with the defaults filled in
func NewConfig() Config {
	return Config{
		ImageStart:      DefaultImageStart,
		AllowDuplicates: append([]string(nil), DefaultAllowDuplicates...),
		SkipSections:    []string{"__LD,__compact_unwind", "__TEXT,__eh_frame"},
	}
}

// Validate checks the numeric settings
func (c Config) Validate() error {
	if c.SectionAlign&(c.SectionAlign-1) != 0 {
		return fmt.Errorf("section alignment 0x%x is not a power of two", c.SectionAlign)
	}
	if c.ImageStart%8 != 0 {
		return fmt.Errorf("image start 0x%x is not 8-byte aligned", c.ImageStart)
	}
	return nil
}

func (c Config) logf(format string, args ...any) {
	if c.Logger != nil {
		fmt.Fprintf(c.Logger, format, args...)
	}
}

// AllowList is the reviewable set of names that may be defined more than once
type AllowList map[string]struct{}

func NewAllowList(names ...string) AllowList {
	a := make(AllowList, len(names))
	for _, n := range names {
		a[n] = struct{}{}
	}
	return a
}

func (a AllowList) Contains(name string) bool {
	_, ok := a[name]
	return ok
}

// Names returns the allow-listed names in sorted order
func (a AllowList) Names() []string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
