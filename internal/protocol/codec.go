package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Framing errors. Every decode failure wraps ErrMalformed.
var (
	ErrMalformed       = errors.New("malformed message")
	ErrBadMagic        = fmt.Errorf("%w: bad handshake marker", ErrMalformed)
	ErrUnknownType     = fmt.Errorf("%w: unknown message type", ErrMalformed)
	ErrUnknownSubType  = fmt.Errorf("%w: unknown message sub-type", ErrMalformed)
	ErrEmptyChunk      = fmt.Errorf("%w: empty view chunk", ErrMalformed)
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrMalformed)
)

// ShortBufferError is returned by Decode when the buffer holds only part of
// a frame. Need is the number of additional bytes required before the
// frame (or at least its header) is complete.
type ShortBufferError struct {
	Need int
}

func (e *ShortBufferError) Error() string {
	return fmt.Sprintf("need %d more bytes", e.Need)
}

// Encode serializes a Message into a single frame.
func Encode(msg *Message) []byte {
	buf := make([]byte, HeaderSize+len(msg.Payload))
	buf[0] = Magic
	buf[1] = uint8(msg.Type)
	buf[2] = msg.SubType.wire()
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(msg.Payload)))
	copy(buf[HeaderSize:], msg.Payload)
	return buf
}

// header is a parsed frame header.
type header struct {
	typ     MessageType
	subType SubType
	length  int
}

// parseHeader validates the first HeaderSize bytes of a frame.
func parseHeader(b []byte) (header, error) {
	if b[0] != Magic {
		return header{}, fmt.Errorf("%w: got %d", ErrBadMagic, b[0])
	}
	// Length first: an oversized frame cannot be skipped, whatever its type.
	length := binary.BigEndian.Uint32(b[3:7])
	if length > MaxPayloadSize {
		return header{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}
	typ := MessageType(b[1])
	if !typ.Valid() {
		return header{}, fmt.Errorf("%w: %d", ErrUnknownType, b[1])
	}
	sub, err := subTypeFromWire(b[2])
	if err != nil {
		return header{}, err
	}
	if typ == TypeViewChunk && length == 0 {
		return header{}, ErrEmptyChunk
	}
	return header{typ: typ, subType: sub, length: int(length)}, nil
}

// Decode parses one frame from the front of data and returns the message
// and the number of bytes consumed. If data holds only part of a frame it
// returns a *ShortBufferError instead of failing, so callers can feed
// fragments of arbitrary size. The payload is copied and never aliases data.
func Decode(data []byte) (*Message, int, error) {
	if len(data) < HeaderSize {
		// Validate what we already have so a foreign peer fails fast.
		if len(data) > 0 && data[0] != Magic {
			return nil, 0, fmt.Errorf("%w: got %d", ErrBadMagic, data[0])
		}
		return nil, 0, &ShortBufferError{Need: HeaderSize - len(data)}
	}

	h, err := parseHeader(data[:HeaderSize])
	if err != nil {
		return nil, 0, err
	}

	total := HeaderSize + h.length
	if len(data) < total {
		return nil, 0, &ShortBufferError{Need: total - len(data)}
	}

	msg := &Message{Type: h.typ, SubType: h.subType}
	if h.length > 0 {
		msg.Payload = make([]byte, h.length)
		copy(msg.Payload, data[HeaderSize:total])
	}
	return msg, total, nil
}

// ReadMessage reads exactly one frame from r.
//
// A frame with an unknown type or sub-type is consumed in full before the
// error is returned, so the stream stays aligned and the caller may keep
// reading. ErrBadMagic and ErrPayloadTooLarge leave the stream misaligned.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	h, err := parseHeader(hdr[:])
	if err != nil {
		if errors.Is(err, ErrBadMagic) || errors.Is(err, ErrPayloadTooLarge) {
			return nil, err
		}
		length := binary.BigEndian.Uint32(hdr[3:7])
		if _, derr := io.CopyN(io.Discard, r, int64(length)); derr != nil {
			return nil, derr
		}
		return nil, err
	}

	msg := &Message{Type: h.typ, SubType: h.subType}
	if h.length > 0 {
		msg.Payload = make([]byte, h.length)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Recoverable reports whether err is a framing error after which the stream
// is still aligned on a frame boundary.
func Recoverable(err error) bool {
	return errors.Is(err, ErrMalformed) &&
		!errors.Is(err, ErrBadMagic) &&
		!errors.Is(err, ErrPayloadTooLarge)
}
