package sml_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/septivank/sml-meter-logger/internal/sml"
)

// push feeds data to the decoder and collects payloads and errors.
func push(d *sml.Decoder, data []byte) ([][]byte, []error) {
	var payloads [][]byte
	var errs []error
	for _, b := range data {
		payload, err := d.PushByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if payload != nil {
			payloads = append(payloads, payload)
		}
	}
	return payloads, errs
}

func TestDecoder_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"aligned", []byte{0x76, 0x05, 0x01, 0x02, 0x03, 0x04, 0x62, 0x00}},
		{"one padding byte", []byte{0x01, 0x02, 0x03}},
		{"three padding bytes", []byte{0x01}},
		{"escape sequence in payload", []byte{0x12, 0x34, 0x56, 0x78, 0x1b, 0x1b, 0x1b, 0x1b, 0x9a}},
		{"long payload", bytes.Repeat([]byte{0x42}, 600)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sml.NewDecoder()
			payloads, errs := push(d, sml.Encode(tt.payload))
			if len(errs) != 0 {
				t.Fatalf("Unexpected errors: %v", errs)
			}
			if len(payloads) != 1 {
				t.Fatalf("Expected 1 payload, got %d", len(payloads))
			}
			if !bytes.Equal(payloads[0], tt.payload) {
				t.Errorf("Expected %x, got %x", tt.payload, payloads[0])
			}
		})
	}
}

func TestDecoder_LeadingGarbage(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	stream := append([]byte{0x00, 0x1b, 0x1b, 0x42, 0x1b}, sml.Encode(payload)...)

	d := sml.NewDecoder()
	payloads, errs := push(d, stream)

	if len(payloads) != 1 || !bytes.Equal(payloads[0], payload) {
		t.Fatalf("Expected payload %x, got %x", payload, payloads)
	}
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %v", errs)
	}
	var discarded *sml.DiscardedBytesError
	if !errors.As(errs[0], &discarded) {
		t.Fatalf("Expected DiscardedBytesError, got %v", errs[0])
	}
	if discarded.N != 5 {
		t.Errorf("Expected 5 discarded bytes, got %d", discarded.N)
	}
}

func TestDecoder_ExtraEscapeBytesBeforeStart(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	stream := append([]byte{0x1b, 0x1b}, sml.Encode(payload)...)

	d := sml.NewDecoder()
	payloads, _ := push(d, stream)

	if len(payloads) != 1 || !bytes.Equal(payloads[0], payload) {
		t.Fatalf("Expected payload %x, got %x", payload, payloads)
	}
}

func TestDecoder_ChecksumMismatch(t *testing.T) {
	frame := sml.Encode([]byte{0x01, 0x02, 0x03, 0x04})
	frame[len(frame)-1] ^= 0xff

	d := sml.NewDecoder()
	payloads, errs := push(d, frame)

	if len(payloads) != 0 {
		t.Errorf("Expected no payload, got %x", payloads)
	}
	if len(errs) != 1 || !errors.Is(errs[0], sml.ErrChecksumMismatch) {
		t.Fatalf("Expected ErrChecksumMismatch, got %v", errs)
	}

	// The decoder recovers for the next frame.
	payloads, errs = push(d, sml.Encode([]byte{0x05}))
	if len(errs) != 0 || len(payloads) != 1 {
		t.Errorf("Expected recovery, got payloads=%x errs=%v", payloads, errs)
	}
}

func TestDecoder_InvalidEscape(t *testing.T) {
	frame := []byte{
		0x1b, 0x1b, 0x1b, 0x1b, 0x01, 0x01, 0x01, 0x01,
		0x01, 0x02, 0x03, 0x04,
		0x1b, 0x1b, 0x1b, 0x1b, 0x02, 0x00, 0x00, 0x00,
	}

	d := sml.NewDecoder()
	_, errs := push(d, frame)
	if len(errs) != 1 || !errors.Is(errs[0], sml.ErrInvalidEscape) {
		t.Fatalf("Expected ErrInvalidEscape, got %v", errs)
	}
}

func TestDecoder_InvalidPadding(t *testing.T) {
	frame := []byte{
		0x1b, 0x1b, 0x1b, 0x1b, 0x01, 0x01, 0x01, 0x01,
		0x01, 0x02, 0x03, 0x04,
		0x1b, 0x1b, 0x1b, 0x1b, 0x1a, 0x02,
	}
	crc := sml.Checksum(frame)
	frame = append(frame, byte(crc), byte(crc>>8))

	d := sml.NewDecoder()
	_, errs := push(d, frame)
	if len(errs) != 1 || !errors.Is(errs[0], sml.ErrInvalidPadding) {
		t.Fatalf("Expected ErrInvalidPadding, got %v", errs)
	}
}

func TestDecoder_RestartMidFrame(t *testing.T) {
	partial := sml.Encode([]byte{0x01, 0x02, 0x03, 0x04})[:12]
	payload := []byte{0x0a, 0x0b}
	stream := append(partial, sml.Encode(payload)...)

	d := sml.NewDecoder()
	payloads, errs := push(d, stream)

	if len(payloads) != 1 || !bytes.Equal(payloads[0], payload) {
		t.Fatalf("Expected payload %x, got %x", payload, payloads)
	}
	var discarded *sml.DiscardedBytesError
	if len(errs) != 1 || !errors.As(errs[0], &discarded) {
		t.Fatalf("Expected a DiscardedBytesError, got %v", errs)
	}
}

func TestDecoder_BufferOverflow(t *testing.T) {
	stream := []byte{0x1b, 0x1b, 0x1b, 0x1b, 0x01, 0x01, 0x01, 0x01}
	stream = append(stream, bytes.Repeat([]byte{0x42}, 9000)...)

	d := sml.NewDecoder()
	_, errs := push(d, stream)

	found := false
	for _, err := range errs {
		if errors.Is(err, sml.ErrBufferOverflow) {
			found = true
		}
	}
	if !found {
		t.Error("Expected ErrBufferOverflow")
	}
}
