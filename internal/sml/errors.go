package sml

import (
	"errors"
	"fmt"
)

// Transport errors returned by Decoder.PushByte. All of them are recoverable:
// the decoder resets itself and keeps looking for the next frame.
var (
	ErrInvalidEscape    = errors.New("sml: invalid escape sequence")
	ErrChecksumMismatch = errors.New("sml: checksum mismatch")
	ErrInvalidPadding   = errors.New("sml: invalid padding")
	ErrBufferOverflow   = errors.New("sml: frame exceeds buffer size")
)

// DiscardedBytesError reports bytes that were dropped because they were not
// part of a frame, e.g. when the decoder attaches to a stream mid-frame.
type DiscardedBytesError struct {
	N int
}

func (e *DiscardedBytesError) Error() string {
	return fmt.Sprintf("sml: discarded %d bytes", e.N)
}

// Parse errors.
var (
	ErrUnexpectedEOF  = errors.New("sml: unexpected end of payload")
	ErrInvalidTL      = errors.New("sml: invalid type-length field")
	ErrUnexpectedType = errors.New("sml: unexpected type")
	ErrUnsupported    = errors.New("sml: unsupported message body")
	ErrEmptyFile      = errors.New("sml: payload contains no messages")
)
