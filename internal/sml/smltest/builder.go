// Package smltest builds SML payloads and frames for tests.
package smltest

import (
	"github.com/septivank/sml-meter-logger/internal/sml"
)

// Absent is the marker for an optional field that is not set.
func Absent() []byte {
	return []byte{0x01}
}

// OctetString encodes b as an octet string.
func OctetString(b []byte) []byte {
	return append(typeLength(0x0, len(b), true), b...)
}

// Unsigned encodes v as an unsigned integer of size bytes.
func Unsigned(v uint64, size int) []byte {
	out := typeLength(0x6, size, true)
	for i := size - 1; i >= 0; i-- {
		out = append(out, byte(v>>(8*uint(i))))
	}
	return out
}

// Signed encodes v as a signed integer of size bytes.
func Signed(v int64, size int) []byte {
	out := typeLength(0x5, size, true)
	for i := size - 1; i >= 0; i-- {
		out = append(out, byte(uint64(v)>>(8*uint(i))))
	}
	return out
}

// List encodes a list of already encoded elements.
func List(elements ...[]byte) []byte {
	out := typeLength(0x7, len(elements), false)
	for _, e := range elements {
		out = append(out, e...)
	}
	return out
}

// SecIndex encodes a seconds-index time.
func SecIndex(v uint32) []byte {
	return List(Unsigned(1, 1), Unsigned(uint64(v), 4))
}

// Timestamp encodes a unix-timestamp time.
func Timestamp(v uint32) []byte {
	return List(Unsigned(2, 1), Unsigned(uint64(v), 4))
}

// Message encodes a complete message with the given body tag and body. The
// message CRC is computed over the preceding bytes like a meter does.
func Message(transactionID []byte, tag uint32, body []byte) []byte {
	out := []byte{0x76}
	out = append(out, OctetString(transactionID)...)
	out = append(out, Unsigned(0, 1)...)
	out = append(out, Unsigned(0, 1)...)
	out = append(out, List(Unsigned(uint64(tag), 2), body)...)
	crc := sml.Checksum(out)
	out = append(out, Unsigned(uint64(crc), 2)...)
	return append(out, 0x00)
}

// OpenResponse encodes an open response body.
func OpenResponse(reqFileID, serverID []byte) []byte {
	return List(Absent(), Absent(), OctetString(reqFileID), OctetString(serverID), Absent(), Absent())
}

// CloseResponse encodes a close response body.
func CloseResponse() []byte {
	return List(Absent())
}

// GetListResponse encodes a get-list response body with the given entries.
func GetListResponse(serverID []byte, entries ...[]byte) []byte {
	return List(Absent(), OctetString(serverID), Absent(), Absent(), List(entries...), Absent(), Absent())
}

// Entry describes one list entry. Nil fields are encoded as absent.
type Entry struct {
	ObjName []byte
	ValTime []byte
	Unit    *uint8
	Scaler  *int8
	Value   []byte
}

// ListEntry encodes e.
func ListEntry(e Entry) []byte {
	unit := Absent()
	if e.Unit != nil {
		unit = Unsigned(uint64(*e.Unit), 1)
	}
	scaler := Absent()
	if e.Scaler != nil {
		scaler = Signed(int64(*e.Scaler), 1)
	}
	valTime := Absent()
	if e.ValTime != nil {
		valTime = e.ValTime
	}
	return List(OctetString(e.ObjName), Absent(), valTime, unit, scaler, e.Value, Absent())
}

// Tags of the message bodies the builders produce.
const (
	TagOpenResponse    = 0x0101
	TagCloseResponse   = 0x0201
	TagGetListResponse = 0x0701
)

// MeterFile returns the payload of a typical three-message file: open
// response, get-list response with entries, close response.
func MeterFile(entries ...[]byte) []byte {
	serverID := []byte{0x0a, 0x01, 0x45, 0x4d, 0x48, 0x00, 0x00, 0x7f, 0x6d, 0x3e}
	var out []byte
	out = append(out, Message([]byte{0x01}, TagOpenResponse, OpenResponse([]byte{0x02}, serverID))...)
	out = append(out, Message([]byte{0x03}, TagGetListResponse, GetListResponse(serverID, entries...))...)
	out = append(out, Message([]byte{0x04}, TagCloseResponse, CloseResponse())...)
	return out
}

// Frame wraps payload into a transport frame.
func Frame(payload []byte) []byte {
	return sml.Encode(payload)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func typeLength(typ byte, n int, includeSelf bool) []byte {
	if includeSelf {
		if n+1 < 0x10 {
			return []byte{typ<<4 | byte(n+1)}
		}
		total := n + 2
		return []byte{0x80 | typ<<4 | byte(total>>4&0x0f), byte(total & 0x0f)}
	}
	if n < 0x10 {
		return []byte{typ<<4 | byte(n)}
	}
	return []byte{0x80 | typ<<4 | byte(n>>4&0x0f), byte(n & 0x0f)}
}
