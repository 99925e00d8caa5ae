// Package protocol defines the message format and types exchanged between
// the two peers of a collaboration session.
package protocol

import "fmt"

// Magic is the handshake marker carried in the first byte of every frame.
// A peer speaking anything else is rejected before any document state is
// touched.
const Magic uint8 = 9

// HeaderSize is the fixed frame header size:
// Magic(1) + Type(1) + SubType(1) + Length(4).
const HeaderSize = 7

// MaxPayloadSize bounds a single frame's payload.
const MaxPayloadSize = 16 * 1024 * 1024

// MessageType is the primary classification of a message.
type MessageType uint8

// Message type constants. The numeric codes are part of the wire format
// and never change.
const (
	TypeConnected    MessageType = 0  // sent by the partner on connect, echoed by the host as ACK
	TypeDisconnect   MessageType = 1  // sent before disconnecting, echoed by the peer as ACK
	TypeShareView    MessageType = 2  // prepare to receive a view; payload carries total size and name
	TypeShareViewAck MessageType = 3  // reply to SHARE_VIEW
	TypeViewChunk    MessageType = 4  // chunk of view data
	TypeViewChunkAck MessageType = 5  // reply to VIEW_CHUNK with the cumulative byte count
	TypeEndOfView    MessageType = 6  // the entire view has been sent
	TypeEndOfViewAck MessageType = 7  // byte counts matched
	TypeBadViewSend  MessageType = 8  // byte counts did not match
	TypeSyntax       MessageType = 9  // syntax identifier of the shared view
	TypeSelection    MessageType = 10 // selected regions
	TypePosition     MessageType = 11 // visible region
	TypeEdit         MessageType = 12 // edit event
	TypeStopCollab   MessageType = 13 // collaboration on the shared view has ended
)

// SubTypeNA is the wire code for "no sub-type".
const SubTypeNA uint8 = 120

var typeNames = map[MessageType]string{
	TypeConnected:    "CONNECTED",
	TypeDisconnect:   "DISCONNECT",
	TypeShareView:    "SHARE_VIEW",
	TypeShareViewAck: "SHARE_VIEW_ACK",
	TypeViewChunk:    "VIEW_CHUNK",
	TypeViewChunkAck: "VIEW_CHUNK_ACK",
	TypeEndOfView:    "END_OF_VIEW",
	TypeEndOfViewAck: "END_OF_VIEW_ACK",
	TypeBadViewSend:  "BAD_VIEW_SEND",
	TypeSyntax:       "SYNTAX",
	TypeSelection:    "SELECTION",
	TypePosition:     "POSITION",
	TypeEdit:         "EDIT",
	TypeStopCollab:   "STOP_COLLAB",
}

var subTypeNames = map[uint8]string{
	SubTypeNA: "EDIT_TYPE_NA",
}

// typeCodes is the reverse of typeNames, built once at startup.
var typeCodes = func() map[string]MessageType {
	m := make(map[string]MessageType, len(typeNames))
	for code, name := range typeNames {
		m[name] = code
	}
	return m
}()

// Types returns every defined message type in code order.
func Types() []MessageType {
	out := make([]MessageType, 0, len(typeNames))
	for t := TypeConnected; int(t) < len(typeNames); t++ {
		out = append(out, t)
	}
	return out
}

// String returns the symbolic name of t.
func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Valid reports whether t is a defined message type.
func (t MessageType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType returns the message type with the given symbolic name.
func ParseType(name string) (MessageType, error) {
	t, ok := typeCodes[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t, nil
}

// SubType is the optional auxiliary classification of a message. The zero
// value means "not applicable" and travels on the wire as SubTypeNA.
type SubType struct {
	Code  uint8
	Valid bool
}

// wire returns the code written to the frame for s.
func (s SubType) wire() uint8 {
	if !s.Valid {
		return SubTypeNA
	}
	return s.Code
}

func (s SubType) String() string {
	if name, ok := subTypeNames[s.wire()]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", s.Code)
}

func subTypeFromWire(code uint8) (SubType, error) {
	if code == SubTypeNA {
		return SubType{}, nil
	}
	if _, ok := subTypeNames[code]; !ok {
		return SubType{}, fmt.Errorf("%w: %d", ErrUnknownSubType, code)
	}
	return SubType{Code: code, Valid: true}, nil
}

// Message is a single protocol message. Messages are treated as immutable
// once built.
type Message struct {
	Type    MessageType
	SubType SubType
	Payload []byte
}

// PayloadSize returns the number of payload bytes carried by m.
func (m *Message) PayloadSize() int {
	return len(m.Payload)
}

func (m *Message) String() string {
	return fmt.Sprintf("%s(%d bytes)", m.Type, len(m.Payload))
}
