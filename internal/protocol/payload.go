package protocol

import (
	"encoding/binary"
	"fmt"
)

// Region is a half-open character range [A, B) in a document.
type Region struct {
	A int
	B int
}

// Begin returns the smaller end of r.
func (r Region) Begin() int { return min(r.A, r.B) }

// End returns the larger end of r.
func (r Region) End() int { return max(r.A, r.B) }

// Size returns the number of characters covered by r.
func (r Region) Size() int { return r.End() - r.Begin() }

// EditType identifies the kind of an edit event. The value is carried
// opaquely in the EDIT payload.
type EditType string

const (
	EditInsert  EditType = "insert"
	EditReplace EditType = "edit"
	EditDelete  EditType = "delete"
)

// NeedsContent reports whether edits of this type must carry content.
func (t EditType) NeedsContent() bool {
	return t == EditInsert || t == EditReplace
}

// Known reports whether t is one of the edit types peers understand.
func (t EditType) Known() bool {
	return t == EditInsert || t == EditReplace || t == EditDelete
}

// Edit is a single edit event. Insert places Content at Region.A, replace
// swaps Region for Content, delete removes Region and carries no content.
type Edit struct {
	Type    EditType
	Region  Region
	Content string
}

const regionSize = 16

// Control builds a payload-less message of the given type.
func Control(t MessageType) *Message {
	return &Message{Type: t}
}

// NewShareView builds a SHARE_VIEW announcing a view of total bytes.
func NewShareView(name string, total int) *Message {
	payload := make([]byte, 8+len(name))
	binary.BigEndian.PutUint64(payload[:8], uint64(total))
	copy(payload[8:], name)
	return &Message{Type: TypeShareView, Payload: payload}
}

// ParseShareView extracts the view name and declared size.
func ParseShareView(msg *Message) (string, int, error) {
	if len(msg.Payload) < 8 {
		return "", 0, fmt.Errorf("%w: SHARE_VIEW payload is %d bytes", ErrMalformed, len(msg.Payload))
	}
	total := binary.BigEndian.Uint64(msg.Payload[:8])
	return string(msg.Payload[8:]), int(total), nil
}

// NewViewChunk builds a VIEW_CHUNK carrying data.
func NewViewChunk(data []byte) *Message {
	return &Message{Type: TypeViewChunk, Payload: data}
}

// NewViewChunkAck builds a VIEW_CHUNK_ACK reporting received bytes so far.
func NewViewChunkAck(received int) *Message {
	return newCount(TypeViewChunkAck, received)
}

// NewEndOfView builds an END_OF_VIEW declaring the total bytes sent.
func NewEndOfView(total int) *Message {
	return newCount(TypeEndOfView, total)
}

func newCount(t MessageType, n int) *Message {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(n))
	return &Message{Type: t, Payload: payload}
}

// ParseCount extracts the byte count from a VIEW_CHUNK_ACK or END_OF_VIEW.
func ParseCount(msg *Message) (int, error) {
	if len(msg.Payload) != 8 {
		return 0, fmt.Errorf("%w: %s count payload is %d bytes", ErrMalformed, msg.Type, len(msg.Payload))
	}
	return int(binary.BigEndian.Uint64(msg.Payload)), nil
}

// NewSyntax builds a SYNTAX message.
func NewSyntax(syntax string) *Message {
	return &Message{Type: TypeSyntax, Payload: []byte(syntax)}
}

// NewPosition builds a POSITION message for the region to bring into view.
func NewPosition(r Region) *Message {
	payload := make([]byte, regionSize)
	putRegion(payload, r)
	return &Message{Type: TypePosition, Payload: payload}
}

// ParsePosition extracts the region from a POSITION message.
func ParsePosition(msg *Message) (Region, error) {
	if len(msg.Payload) != regionSize {
		return Region{}, fmt.Errorf("%w: POSITION payload is %d bytes", ErrMalformed, len(msg.Payload))
	}
	return getRegion(msg.Payload), nil
}

// NewSelection builds a SELECTION message replacing the full selection set.
func NewSelection(regions []Region) *Message {
	payload := make([]byte, 4+len(regions)*regionSize)
	binary.BigEndian.PutUint32(payload[:4], uint32(len(regions)))
	for i, r := range regions {
		putRegion(payload[4+i*regionSize:], r)
	}
	return &Message{Type: TypeSelection, Payload: payload}
}

// ParseSelection extracts the regions from a SELECTION message.
func ParseSelection(msg *Message) ([]Region, error) {
	if len(msg.Payload) < 4 {
		return nil, fmt.Errorf("%w: SELECTION payload is %d bytes", ErrMalformed, len(msg.Payload))
	}
	n := int(binary.BigEndian.Uint32(msg.Payload[:4]))
	if len(msg.Payload) != 4+n*regionSize {
		return nil, fmt.Errorf("%w: SELECTION declares %d regions in %d bytes", ErrMalformed, n, len(msg.Payload))
	}
	regions := make([]Region, n)
	for i := range regions {
		regions[i] = getRegion(msg.Payload[4+i*regionSize:])
	}
	return regions, nil
}

// NewEdit builds an EDIT message. Content is dropped for edits that do not
// carry any.
func NewEdit(e Edit) *Message {
	content := e.Content
	if !e.Type.NeedsContent() {
		content = ""
	}
	payload := make([]byte, 1+len(e.Type)+regionSize+len(content))
	payload[0] = uint8(len(e.Type))
	off := 1 + copy(payload[1:], e.Type)
	putRegion(payload[off:], e.Region)
	copy(payload[off+regionSize:], content)
	return &Message{Type: TypeEdit, Payload: payload}
}

// ParseEdit extracts the edit event from an EDIT message.
func ParseEdit(msg *Message) (Edit, error) {
	if len(msg.Payload) < 1 {
		return Edit{}, fmt.Errorf("%w: empty EDIT payload", ErrMalformed)
	}
	n := int(msg.Payload[0])
	if n == 0 || len(msg.Payload) < 1+n+regionSize {
		return Edit{}, fmt.Errorf("%w: EDIT payload is %d bytes", ErrMalformed, len(msg.Payload))
	}
	e := Edit{
		Type:   EditType(msg.Payload[1 : 1+n]),
		Region: getRegion(msg.Payload[1+n:]),
	}
	if e.Type.NeedsContent() {
		e.Content = string(msg.Payload[1+n+regionSize:])
	}
	return e, nil
}

func putRegion(b []byte, r Region) {
	binary.BigEndian.PutUint64(b[0:8], uint64(int64(r.A)))
	binary.BigEndian.PutUint64(b[8:16], uint64(int64(r.B)))
}

func getRegion(b []byte) Region {
	return Region{
		A: int(int64(binary.BigEndian.Uint64(b[0:8]))),
		B: int(int64(binary.BigEndian.Uint64(b[8:16]))),
	}
}
