// Package obis implements OBIS codes (IEC 62056-61), the identifiers power
// meters use to name each measured quantity, and the small dictionary of
// codes this service understands.
package obis

import (
	"bytes"
	"errors"
	"fmt"
)

// rawLength is the length of an OBIS code on the wire. Only the first five
// octets are significant; the sixth is a sentinel (normally 255).
const rawLength = 6

var (
	// ErrOverflow is returned when a component of a textual code exceeds 255.
	ErrOverflow = errors.New("obis: component overflows a byte")
	// ErrUnexpectedSeparator is returned for a textual code with a wrong or misplaced separator.
	ErrUnexpectedSeparator = errors.New("obis: unexpected separator")
	// ErrInvalidLength is returned when a raw code is not 6 octets long or a
	// textual code does not have 5 components.
	ErrInvalidLength = errors.New("obis: invalid length")
)

// Code is an OBIS code such as 1-0:1.8.0. The zero value is 0-0:0.0.0.
// Codes are comparable with ==.
type Code struct {
	inner [5]byte
}

// separators lists the separator expected after each of the first four components.
var separators = [4]byte{'-', ':', '.', '.'}

// Parse parses a code from its textual form "a-b:c.d.e".
func Parse(s string) (Code, error) {
	var vals [5]byte
	idx := 0
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v := uint16(vals[idx])*10 + uint16(c-'0')
			if v > 255 {
				return Code{}, fmt.Errorf("%w: %q", ErrOverflow, s)
			}
			vals[idx] = byte(v)
			digits++
		case idx < len(separators) && c == separators[idx] && digits > 0:
			idx++
			digits = 0
		default:
			return Code{}, fmt.Errorf("%w: %q at offset %d", ErrUnexpectedSeparator, s, i)
		}
	}
	if idx != len(separators) || digits == 0 {
		return Code{}, fmt.Errorf("%w: %q", ErrInvalidLength, s)
	}
	return Code{inner: vals}, nil
}

// MustParse is like Parse but panics on error. Use it for package-level constants only.
func MustParse(s string) Code {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// FromBytes builds a code from its 6-octet wire form. The last octet is ignored.
func FromBytes(raw []byte) (Code, error) {
	if len(raw) != rawLength {
		return Code{}, fmt.Errorf("%w: got %d octets, want %d", ErrInvalidLength, len(raw), rawLength)
	}
	var c Code
	copy(c.inner[:], raw[:5])
	return c, nil
}

// Bytes returns the five significant octets.
func (c Code) Bytes() [5]byte {
	return c.inner
}

// Compare orders codes by their significant octets. It returns -1, 0 or +1.
func (c Code) Compare(other Code) int {
	return bytes.Compare(c.inner[:], other.inner[:])
}

// String renders the code as "a-b:c.d.e".
func (c Code) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d", c.inner[0], c.inner[1], c.inner[2], c.inner[3], c.inner[4])
}
