// Completion: 100% - Module complete
package link

import (
	"bytes"
	"fmt"
)

// SafeBuffer is an append-only byte buffer with an explicit seal. Appends
// are only legal while assembling; once the layout is fixed the buffer is
// sealed and only in-place patches of existing bytes are allowed.
type SafeBuffer struct {
	buf    bytes.Buffer
	sealed bool
	name   string // for diagnostics
}

// NewSafeBuffer creates a new SafeBuffer with a name for debugging
func NewSafeBuffer(name string) *SafeBuffer {
	return &SafeBuffer{name: name}
}

// Write appends bytes to the buffer. Panics if the buffer is sealed.
func (sb *SafeBuffer) Write(p []byte) (n int, err error) {
	sb.MustNotBeSealed()
	return sb.buf.Write(p)
}

// Fill appends n copies of b
func (sb *SafeBuffer) Fill(b byte, n int) {
	sb.MustNotBeSealed()
	if n <= 0 {
		return
	}
	sb.buf.Write(bytes.Repeat([]byte{b}, n))
}

// Bytes returns the buffer contents. Writes through the slice patch the buffer in place.
func (sb *SafeBuffer) Bytes() []byte {
	return sb.buf.Bytes()
}

// Len returns the buffer length
func (sb *SafeBuffer) Len() int {
	return sb.buf.Len()
}

// Seal marks the buffer as complete. After this no more appends are allowed.
func (sb *SafeBuffer) Seal() {
	sb.sealed = true
}

// IsSealed returns true if the buffer has been sealed
func (sb *SafeBuffer) IsSealed() bool {
	return sb.sealed
}

// MustNotBeSealed panics if the buffer is sealed
func (sb *SafeBuffer) MustNotBeSealed() {
	if sb.sealed {
		panic(fmt.Sprintf("SafeBuffer(%s): cannot append to sealed buffer", sb.name))
	}
}
