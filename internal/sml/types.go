// Package sml decodes the Smart Message Language (SML) spoken by German
// household electricity meters on their optical/serial interface.
//
// Decoding happens in two steps: a Decoder strips the transport layer
// (escape sequences, padding, CRC) from a raw byte stream and yields the
// payload of each complete frame; Parse turns such a payload into a File,
// an ordered sequence of messages.
//
// Only the response messages a meter pushes on its own are supported:
// OpenResponse, GetListResponse and CloseResponse.
package sml

// Value is the tagged union of values a list entry can carry. The concrete
// types are Bool, Bytes, I8, I16, I32, I64, U8, U16, U32, U64 and List.
// Callers match them with a type switch.
type Value interface {
	isValue()
}

type (
	Bool  bool
	Bytes []byte
	I8    int8
	I16   int16
	I32   int32
	I64   int64
	U8    uint8
	U16   uint16
	U32   uint32
	U64   uint64
	List  []Value
)

func (Bool) isValue()  {}
func (Bytes) isValue() {}
func (I8) isValue()    {}
func (I16) isValue()   {}
func (I32) isValue()   {}
func (I64) isValue()   {}
func (U8) isValue()    {}
func (U16) isValue()   {}
func (U32) isValue()   {}
func (U64) isValue()   {}
func (List) isValue()  {}

// Time is the tagged union of SML time representations: SecIndex,
// Timestamp or LocalTimestamp.
type Time interface {
	isTime()
}

// SecIndex is a meter-internal seconds counter, independent of wall clock.
type SecIndex uint32

// Timestamp is a unix timestamp in seconds.
type Timestamp uint32

// LocalTimestamp is a unix timestamp with local and daylight saving offsets in minutes.
type LocalTimestamp struct {
	Timestamp        uint32
	LocalOffset      int16
	SeasonTimeOffset int16
}

func (SecIndex) isTime()       {}
func (Timestamp) isTime()      {}
func (LocalTimestamp) isTime() {}

// File is the decoded content of one transport frame.
type File struct {
	Messages []Message
}

// Message is a single SML message.
type Message struct {
	TransactionID []byte
	GroupNo       uint8
	AbortOnError  uint8
	Body          MessageBody
	CRC           uint16
}

// MessageBody is one of OpenResponse, CloseResponse or GetListResponse.
type MessageBody interface {
	isMessageBody()
}

// Message body tags.
const (
	tagOpenResponse    = 0x0101
	tagCloseResponse   = 0x0201
	tagGetListResponse = 0x0701
)

// OpenResponse starts a file.
type OpenResponse struct {
	Codepage   []byte
	ClientID   []byte
	ReqFileID  []byte
	ServerID   []byte
	RefTime    Time
	SMLVersion *uint8
}

// CloseResponse ends a file.
type CloseResponse struct {
	GlobalSignature []byte
}

// GetListResponse carries the measured values.
type GetListResponse struct {
	ClientID       []byte
	ServerID       []byte
	ListName       []byte
	ActSensorTime  Time
	ValList        []ListEntry
	ListSignature  []byte
	ActGatewayTime Time
}

func (OpenResponse) isMessageBody()    {}
func (CloseResponse) isMessageBody()   {}
func (GetListResponse) isMessageBody() {}

// ListEntry is one value of a GetListResponse. ObjName holds the raw OBIS
// code. Optional fields are nil when absent.
type ListEntry struct {
	ObjName        []byte
	Status         *uint64
	ValTime        Time
	Unit           *uint8
	Scaler         *int8
	Value          Value
	ValueSignature []byte
}
