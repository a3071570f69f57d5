package sml

import (
	"fmt"

	"github.com/sigurn/crc16"
)

// maxFrameSize bounds the bytes buffered for a single frame.
const maxFrameSize = 8 * 1024

var (
	escapeGroup   = [4]byte{0x1b, 0x1b, 0x1b, 0x1b}
	versionGroup  = [4]byte{0x01, 0x01, 0x01, 0x01}
	startSequence = [8]byte{0x1b, 0x1b, 0x1b, 0x1b, 0x01, 0x01, 0x01, 0x01}
)

const endMarker = 0x1a

var x25Table = crc16.MakeTable(crc16.CRC16_X_25)

// Checksum computes the CRC-16/X-25 used by SML transport frames and messages.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, x25Table)
}

type decoderState int

const (
	stateSeekStart decoderState = iota
	stateBody
	stateEscape
)

// Decoder reassembles SML transport v1 frames from a byte stream.
// The zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	state     decoderState
	matched   int
	discarded int
	raw       []byte
	body      []byte
	group     [4]byte
	groupLen  int
}

// NewDecoder returns a Decoder waiting for a start sequence.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// PushByte feeds one byte to the decoder. It returns (nil, nil) while a frame
// is incomplete, the unescaped payload once a frame with a valid checksum has
// been received, or a transport error. After an error the decoder has
// resynchronised and further bytes may be pushed.
func (d *Decoder) PushByte(b byte) ([]byte, error) {
	if d.state == stateSeekStart {
		return nil, d.seek(b)
	}

	if len(d.raw) >= maxFrameSize {
		d.reset()
		return nil, ErrBufferOverflow
	}

	d.raw = append(d.raw, b)
	d.group[d.groupLen] = b
	d.groupLen++
	if d.groupLen < len(d.group) {
		return nil, nil
	}
	d.groupLen = 0

	return d.completeGroup()
}

func (d *Decoder) seek(b byte) error {
	if b == startSequence[d.matched] {
		d.matched++
		if d.matched < len(startSequence) {
			return nil
		}

		discarded := d.discarded
		d.beginFrame()
		if discarded > 0 {
			return &DiscardedBytesError{N: discarded}
		}
		return nil
	}

	// A run of more than four escape bytes keeps the last four as a candidate.
	if d.matched == len(escapeGroup) && b == escapeGroup[0] {
		d.discarded++
		return nil
	}

	d.discarded += d.matched
	d.matched = 0
	if b == startSequence[0] {
		d.matched = 1
	} else {
		d.discarded++
	}
	return nil
}

func (d *Decoder) completeGroup() ([]byte, error) {
	g := d.group

	if d.state == stateBody {
		if g == escapeGroup {
			d.state = stateEscape
			return nil, nil
		}
		d.body = append(d.body, g[:]...)
		return nil, nil
	}

	switch {
	case g == escapeGroup:
		d.body = append(d.body, escapeGroup[:]...)
		d.state = stateBody
		return nil, nil
	case g == versionGroup:
		// A new frame started before the current one was closed.
		dropped := len(d.raw) - len(startSequence)
		d.beginFrame()
		return nil, &DiscardedBytesError{N: dropped}
	case g[0] == endMarker:
		return d.finish(g[1], g[2], g[3])
	default:
		d.reset()
		return nil, ErrInvalidEscape
	}
}

func (d *Decoder) finish(padding, crcLow, crcHigh byte) ([]byte, error) {
	defer d.reset()

	want := uint16(crcLow) | uint16(crcHigh)<<8
	got := Checksum(d.raw[:len(d.raw)-2])
	if got != want {
		return nil, fmt.Errorf("%w: got %04x, want %04x", ErrChecksumMismatch, got, want)
	}

	if padding > 3 || int(padding) > len(d.body) {
		return nil, fmt.Errorf("%w: %d padding bytes", ErrInvalidPadding, padding)
	}
	n := len(d.body) - int(padding)
	for _, p := range d.body[n:] {
		if p != 0 {
			return nil, fmt.Errorf("%w: non-zero padding byte", ErrInvalidPadding)
		}
	}

	payload := make([]byte, n)
	copy(payload, d.body[:n])
	return payload, nil
}

func (d *Decoder) beginFrame() {
	d.state = stateBody
	d.matched = 0
	d.discarded = 0
	d.groupLen = 0
	d.raw = append(d.raw[:0], startSequence[:]...)
	d.body = d.body[:0]
}

func (d *Decoder) reset() {
	d.state = stateSeekStart
	d.matched = 0
	d.discarded = 0
	d.groupLen = 0
	d.raw = d.raw[:0]
	d.body = d.body[:0]
}

// Encode wraps a payload into an SML transport v1 frame.
func Encode(payload []byte) []byte {
	padding := (4 - len(payload)%4) % 4
	padded := make([]byte, len(payload), len(payload)+padding)
	copy(padded, payload)
	for i := 0; i < padding; i++ {
		padded = append(padded, 0x00)
	}

	frame := make([]byte, 0, len(padded)+len(startSequence)+16)
	frame = append(frame, startSequence[:]...)
	for i := 0; i < len(padded); i += 4 {
		var g [4]byte
		copy(g[:], padded[i:i+4])
		if g == escapeGroup {
			frame = append(frame, escapeGroup[:]...)
		}
		frame = append(frame, g[:]...)
	}
	frame = append(frame, escapeGroup[:]...)
	frame = append(frame, endMarker, byte(padding))

	crc := Checksum(frame)
	return append(frame, byte(crc), byte(crc>>8))
}
