package link

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Width is the byte width of a patched field
type Width uint8

const (
	Width1 Width = 1
	Width2 Width = 2
	Width4 Width = 4
	Width8 Width = 8
)

// WidthFromLog2 converts a relocation length exponent to a Width
func WidthFromLog2(exp uint8) (Width, error) {
	if exp > 3 {
		return 0, fmt.Errorf("invalid field width 2^%d", exp)
	}
	return Width(1 << exp), nil
}

func (w Width) String() string {
	return fmt.Sprintf("%d", uint8(w))
}

// limits returns the signed range of the field; width 8 is unchecked
func (w Width) limits() (lo, hi int64, checked bool) {
	switch w {
	case Width1:
		return math.MinInt8, math.MaxInt8, true
	case Width2:
		return math.MinInt16, math.MaxInt16, true
	case Width4:
		return math.MinInt32, math.MaxInt32, true
	default:
		return 0, 0, false
	}
}

// ReadField reads the little-endian signed value of the field at offset
func ReadField(buf []byte, offset uint64, width Width) (int64, error) {
	if err := checkBounds(buf, offset, width); err != nil {
		return 0, err
	}
	b := buf[offset : offset+uint64(width)]
	switch width {
	case Width1:
		return int64(int8(b[0])), nil
	case Width2:
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case Width4:
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case Width8:
		return int64(binary.LittleEndian.Uint64(b)), nil
	}
	return 0, invalidWidth(width)
}

// Patch adds value to the field at offset. With absolute set the field must
// hold zero beforehand and is overwritten with value. The result must fit
// the field's signed range for widths 1, 2 and 4; nothing is written on error.
func Patch(buf []byte, offset uint64, width Width, value int64, absolute bool) error {
	existing, err := ReadField(buf, offset, width)
	if err != nil {
		return err
	}

	if absolute && existing != 0 {
		return &Error{
			Kind:     KindInvariantViolation,
			Message:  "addend found in absolute patch",
			Offset:   offset,
			Width:    int(width),
			Expected: "0",
			Actual:   fmt.Sprintf("%d", existing),
		}
	}

	result := existing + value
	if lo, hi, checked := width.limits(); checked && (result < lo || result > hi) {
		return &Error{
			Kind:     KindOverflow,
			Message:  fmt.Sprintf("value does not fit a %d-byte field", width),
			Offset:   offset,
			Width:    int(width),
			Expected: fmt.Sprintf("[%d, %d]", lo, hi),
			Actual:   fmt.Sprintf("%d", result),
		}
	}

	b := buf[offset : offset+uint64(width)]
	switch width {
	case Width1:
		b[0] = byte(int8(result))
	case Width2:
		binary.LittleEndian.PutUint16(b, uint16(int16(result)))
	case Width4:
		binary.LittleEndian.PutUint32(b, uint32(int32(result)))
	case Width8:
		binary.LittleEndian.PutUint64(b, uint64(result))
	}
	return nil
}

func checkBounds(buf []byte, offset uint64, width Width) error {
	switch width {
	case Width1, Width2, Width4, Width8:
	default:
		return invalidWidth(width)
	}
	if offset > uint64(len(buf)) || uint64(len(buf))-offset < uint64(width) {
		return &Error{
			Kind:     KindMalformedInput,
			Message:  "patch extends past the end of the section",
			Offset:   offset,
			Width:    int(width),
			Expected: fmt.Sprintf("end <= %d", len(buf)),
			Actual:   fmt.Sprintf("end = %d", offset+uint64(width)),
		}
	}
	return nil
}

func invalidWidth(width Width) *Error {
	return &Error{
		Kind:     KindMalformedRelocation,
		Message:  "invalid field width",
		Width:    int(width),
		Expected: "1, 2, 4 or 8",
		Actual:   fmt.Sprintf("%d", width),
	}
}
