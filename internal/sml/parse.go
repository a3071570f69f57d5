package sml

import (
	"fmt"
)

// Type-length field types.
const (
	typeOctetString = 0x0
	typeBool        = 0x4
	typeInt         = 0x5
	typeUint        = 0x6
	typeList        = 0x7
)

const (
	// optionalAbsent marks an optional field that is not set.
	optionalAbsent = 0x01
	// endOfMessage terminates every message.
	endOfMessage = 0x00
)

// Time choice tags.
const (
	timeSecIndex       = 1
	timeTimestamp      = 2
	timeLocalTimestamp = 3
)

// Parse decodes the payload of one transport frame into a File.
func Parse(payload []byte) (File, error) {
	p := &parser{buf: payload}

	var file File
	for p.pos < len(p.buf) {
		// Some meters pad between messages with end-of-message bytes.
		if p.buf[p.pos] == endOfMessage {
			p.pos++
			continue
		}
		msg, err := p.message()
		if err != nil {
			return File{}, err
		}
		file.Messages = append(file.Messages, msg)
	}

	if len(file.Messages) == 0 {
		return File{}, ErrEmptyFile
	}
	return file, nil
}

type parser struct {
	buf []byte
	pos int
}

type typeLength struct {
	typ    byte
	length int
	size   int
}

func (p *parser) fail(err error) error {
	return fmt.Errorf("%w at offset %d", err, p.pos)
}

func (p *parser) peek() (byte, error) {
	if p.pos >= len(p.buf) {
		return 0, p.fail(ErrUnexpectedEOF)
	}
	return p.buf[p.pos], nil
}

// absent consumes an "optional not set" marker if one is next.
func (p *parser) absent() bool {
	if p.pos < len(p.buf) && p.buf[p.pos] == optionalAbsent {
		p.pos++
		return true
	}
	return false
}

func (p *parser) typeLength() (typeLength, error) {
	b, err := p.peek()
	if err != nil {
		return typeLength{}, err
	}
	p.pos++

	tl := typeLength{typ: (b >> 4) & 0x07, length: int(b & 0x0f), size: 1}
	for b&0x80 != 0 {
		if b, err = p.peek(); err != nil {
			return typeLength{}, err
		}
		p.pos++
		if (b>>4)&0x07 != 0 || tl.size == 4 {
			return typeLength{}, p.fail(ErrInvalidTL)
		}
		tl.length = tl.length<<4 | int(b&0x0f)
		tl.size++
	}
	return tl, nil
}

// data returns the payload bytes of a non-list field.
func (p *parser) data(tl typeLength) ([]byte, error) {
	n := tl.length - tl.size
	if n < 0 {
		return nil, p.fail(ErrInvalidTL)
	}
	if p.pos+n > len(p.buf) {
		return nil, p.fail(ErrUnexpectedEOF)
	}
	d := p.buf[p.pos : p.pos+n]
	p.pos += n
	return d, nil
}

func (p *parser) list(want int) error {
	tl, err := p.typeLength()
	if err != nil {
		return err
	}
	if tl.typ != typeList {
		return p.fail(fmt.Errorf("%w: expected list, got type %#x", ErrUnexpectedType, tl.typ))
	}
	if want >= 0 && tl.length != want {
		return p.fail(fmt.Errorf("%w: expected list of %d, got %d", ErrUnexpectedType, want, tl.length))
	}
	return nil
}

func (p *parser) listLength() (int, error) {
	tl, err := p.typeLength()
	if err != nil {
		return 0, err
	}
	if tl.typ != typeList {
		return 0, p.fail(fmt.Errorf("%w: expected list, got type %#x", ErrUnexpectedType, tl.typ))
	}
	return tl.length, nil
}

func (p *parser) octetString() ([]byte, error) {
	tl, err := p.typeLength()
	if err != nil {
		return nil, err
	}
	if tl.typ != typeOctetString {
		return nil, p.fail(fmt.Errorf("%w: expected octet string, got type %#x", ErrUnexpectedType, tl.typ))
	}
	d, err := p.data(tl)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out, nil
}

func (p *parser) optionalOctetString() ([]byte, error) {
	if p.absent() {
		return nil, nil
	}
	return p.octetString()
}

func (p *parser) integer(typ byte, maxBytes int) ([]byte, error) {
	tl, err := p.typeLength()
	if err != nil {
		return nil, err
	}
	if tl.typ != typ {
		return nil, p.fail(fmt.Errorf("%w: expected integer type %#x, got %#x", ErrUnexpectedType, typ, tl.typ))
	}
	d, err := p.data(tl)
	if err != nil {
		return nil, err
	}
	if len(d) == 0 || len(d) > maxBytes {
		return nil, p.fail(fmt.Errorf("%w: %d byte integer", ErrInvalidTL, len(d)))
	}
	return d, nil
}

func (p *parser) unsigned(maxBytes int) (uint64, error) {
	d, err := p.integer(typeUint, maxBytes)
	if err != nil {
		return 0, err
	}
	return decodeUnsigned(d), nil
}

func (p *parser) signed(maxBytes int) (int64, error) {
	d, err := p.integer(typeInt, maxBytes)
	if err != nil {
		return 0, err
	}
	return decodeSigned(d), nil
}

func decodeUnsigned(d []byte) uint64 {
	var v uint64
	for _, b := range d {
		v = v<<8 | uint64(b)
	}
	return v
}

func decodeSigned(d []byte) int64 {
	v := int64(int8(d[0]))
	for _, b := range d[1:] {
		v = v<<8 | int64(b)
	}
	return v
}

func (p *parser) value() (Value, error) {
	if p.absent() {
		return Bytes{}, nil
	}

	start := p.pos
	tl, err := p.typeLength()
	if err != nil {
		return nil, err
	}

	switch tl.typ {
	case typeOctetString:
		p.pos = start
		b, err := p.octetString()
		return Bytes(b), err
	case typeBool:
		d, err := p.data(tl)
		if err != nil {
			return nil, err
		}
		if len(d) != 1 {
			return nil, p.fail(ErrInvalidTL)
		}
		return Bool(d[0] != 0), nil
	case typeInt:
		d, err := p.data(tl)
		if err != nil {
			return nil, err
		}
		v := int64(0)
		if len(d) > 0 {
			v = decodeSigned(d)
		}
		switch {
		case len(d) == 1:
			return I8(v), nil
		case len(d) == 2:
			return I16(v), nil
		case len(d) <= 4 && len(d) > 0:
			return I32(v), nil
		case len(d) <= 8 && len(d) > 0:
			return I64(v), nil
		}
		return nil, p.fail(ErrInvalidTL)
	case typeUint:
		d, err := p.data(tl)
		if err != nil {
			return nil, err
		}
		v := decodeUnsigned(d)
		switch {
		case len(d) == 1:
			return U8(v), nil
		case len(d) == 2:
			return U16(v), nil
		case len(d) <= 4 && len(d) > 0:
			return U32(v), nil
		case len(d) <= 8 && len(d) > 0:
			return U64(v), nil
		}
		return nil, p.fail(ErrInvalidTL)
	case typeList:
		list := make(List, 0, tl.length)
		for i := 0; i < tl.length; i++ {
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	default:
		return nil, p.fail(fmt.Errorf("%w: value type %#x", ErrUnexpectedType, tl.typ))
	}
}

func (p *parser) time() (Time, error) {
	if p.absent() {
		return nil, nil
	}

	b, err := p.peek()
	if err != nil {
		return nil, err
	}
	// Some meters send a bare seconds index instead of the time choice.
	if (b>>4)&0x07 == typeUint {
		v, err := p.unsigned(4)
		if err != nil {
			return nil, err
		}
		return SecIndex(v), nil
	}

	if err := p.list(2); err != nil {
		return nil, err
	}
	tag, err := p.unsigned(1)
	if err != nil {
		return nil, err
	}

	switch tag {
	case timeSecIndex:
		v, err := p.unsigned(4)
		return SecIndex(v), err
	case timeTimestamp:
		v, err := p.unsigned(4)
		return Timestamp(v), err
	case timeLocalTimestamp:
		if err := p.list(3); err != nil {
			return nil, err
		}
		ts, err := p.unsigned(4)
		if err != nil {
			return nil, err
		}
		local, err := p.signed(2)
		if err != nil {
			return nil, err
		}
		season, err := p.signed(2)
		if err != nil {
			return nil, err
		}
		return LocalTimestamp{Timestamp: uint32(ts), LocalOffset: int16(local), SeasonTimeOffset: int16(season)}, nil
	default:
		return nil, p.fail(fmt.Errorf("%w: time tag %d", ErrUnexpectedType, tag))
	}
}

func (p *parser) message() (Message, error) {
	var msg Message
	var err error

	if err = p.list(6); err != nil {
		return Message{}, err
	}
	if msg.TransactionID, err = p.octetString(); err != nil {
		return Message{}, err
	}
	groupNo, err := p.unsigned(1)
	if err != nil {
		return Message{}, err
	}
	msg.GroupNo = uint8(groupNo)
	abort, err := p.unsigned(1)
	if err != nil {
		return Message{}, err
	}
	msg.AbortOnError = uint8(abort)

	if err = p.list(2); err != nil {
		return Message{}, err
	}
	tag, err := p.unsigned(4)
	if err != nil {
		return Message{}, err
	}
	switch tag {
	case tagOpenResponse:
		msg.Body, err = p.openResponse()
	case tagCloseResponse:
		msg.Body, err = p.closeResponse()
	case tagGetListResponse:
		msg.Body, err = p.getListResponse()
	default:
		err = p.fail(fmt.Errorf("%w: tag %#04x", ErrUnsupported, tag))
	}
	if err != nil {
		return Message{}, err
	}

	crc, err := p.unsigned(2)
	if err != nil {
		return Message{}, err
	}
	msg.CRC = uint16(crc)

	b, err := p.peek()
	if err != nil {
		return Message{}, err
	}
	if b != endOfMessage {
		return Message{}, p.fail(fmt.Errorf("%w: expected end of message", ErrUnexpectedType))
	}
	p.pos++

	return msg, nil
}

func (p *parser) openResponse() (OpenResponse, error) {
	var r OpenResponse
	var err error

	if err = p.list(6); err != nil {
		return r, err
	}
	if r.Codepage, err = p.optionalOctetString(); err != nil {
		return r, err
	}
	if r.ClientID, err = p.optionalOctetString(); err != nil {
		return r, err
	}
	if r.ReqFileID, err = p.octetString(); err != nil {
		return r, err
	}
	if r.ServerID, err = p.octetString(); err != nil {
		return r, err
	}
	if r.RefTime, err = p.time(); err != nil {
		return r, err
	}
	if !p.absent() {
		v, err := p.unsigned(1)
		if err != nil {
			return r, err
		}
		version := uint8(v)
		r.SMLVersion = &version
	}
	return r, nil
}

func (p *parser) closeResponse() (CloseResponse, error) {
	var r CloseResponse
	var err error

	if err = p.list(1); err != nil {
		return r, err
	}
	r.GlobalSignature, err = p.optionalOctetString()
	return r, err
}

func (p *parser) getListResponse() (GetListResponse, error) {
	var r GetListResponse
	var err error

	if err = p.list(7); err != nil {
		return r, err
	}
	if r.ClientID, err = p.optionalOctetString(); err != nil {
		return r, err
	}
	if r.ServerID, err = p.octetString(); err != nil {
		return r, err
	}
	if r.ListName, err = p.optionalOctetString(); err != nil {
		return r, err
	}
	if r.ActSensorTime, err = p.time(); err != nil {
		return r, err
	}

	n, err := p.listLength()
	if err != nil {
		return r, err
	}
	r.ValList = make([]ListEntry, 0, n)
	for i := 0; i < n; i++ {
		entry, err := p.listEntry()
		if err != nil {
			return r, err
		}
		r.ValList = append(r.ValList, entry)
	}

	if r.ListSignature, err = p.optionalOctetString(); err != nil {
		return r, err
	}
	if r.ActGatewayTime, err = p.time(); err != nil {
		return r, err
	}
	return r, nil
}

func (p *parser) listEntry() (ListEntry, error) {
	var e ListEntry
	var err error

	if err = p.list(7); err != nil {
		return e, err
	}
	if e.ObjName, err = p.octetString(); err != nil {
		return e, err
	}
	if !p.absent() {
		status, err := p.unsigned(8)
		if err != nil {
			return e, err
		}
		e.Status = &status
	}
	if e.ValTime, err = p.time(); err != nil {
		return e, err
	}
	if !p.absent() {
		u, err := p.unsigned(1)
		if err != nil {
			return e, err
		}
		unit := uint8(u)
		e.Unit = &unit
	}
	if !p.absent() {
		s, err := p.signed(1)
		if err != nil {
			return e, err
		}
		scaler := int8(s)
		e.Scaler = &scaler
	}
	if e.Value, err = p.value(); err != nil {
		return e, err
	}
	if e.ValueSignature, err = p.optionalOctetString(); err != nil {
		return e, err
	}
	return e, nil
}
