// Completion: 100% - Utility module complete
package engine

import (
	"debug/macho"
	"fmt"
	"strings"
)

// Architecture type
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86_64
	ArchARM64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// ParseArch parses an architecture string (like GOARCH values)
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86_64", "amd64", "x86-64":
		return ArchX86_64, nil
	case "aarch64", "arm64":
		return ArchARM64, nil
	default:
		return ArchUnknown, fmt.Errorf("unsupported architecture: %s (supported: amd64, arm64)", s)
	}
}

// ArchFromMachO maps a Mach-O cputype to an Arch
func ArchFromMachO(cpu macho.Cpu) Arch {
	switch cpu {
	case macho.CpuAmd64:
		return ArchX86_64
	case macho.CpuArm64:
		return ArchARM64
	default:
		return ArchUnknown
	}
}

// NopByte returns the single-byte no-op used to pad executable sections.
// The second result is false when the architecture has no one-byte no-op,
// in which case code padding falls back to zero bytes.
func (a Arch) NopByte() (byte, bool) {
	switch a {
	case ArchX86_64:
		return 0x90, true
	default:
		return 0x00, false
	}
}
