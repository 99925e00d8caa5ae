package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/go-playground/assert/v2"
)

// TestTypeNamesAreBijective verifies that every declared type maps to a
// unique name and back.
func TestTypeNamesAreBijective(t *testing.T) {
	seen := map[string]bool{}
	for _, typ := range Types() {
		name := typ.String()
		assert.Equal(t, seen[name], false)
		seen[name] = true

		back, err := ParseType(name)
		assert.Equal(t, err, nil)
		assert.Equal(t, back, typ)
	}
	assert.Equal(t, len(seen), len(typeNames))
	assert.Equal(t, len(typeCodes), len(typeNames))

	_, err := ParseType("NOT_A_TYPE")
	assert.Equal(t, errors.Is(err, ErrUnknownType), true)
}

func TestTypeCodesAreStable(t *testing.T) {
	codes := map[string]uint8{
		"CONNECTED":       0,
		"DISCONNECT":      1,
		"SHARE_VIEW":      2,
		"SHARE_VIEW_ACK":  3,
		"VIEW_CHUNK":      4,
		"VIEW_CHUNK_ACK":  5,
		"END_OF_VIEW":     6,
		"END_OF_VIEW_ACK": 7,
		"BAD_VIEW_SEND":   8,
		"SYNTAX":          9,
		"SELECTION":       10,
		"POSITION":        11,
		"EDIT":            12,
		"STOP_COLLAB":     13,
	}
	for name, code := range codes {
		typ, err := ParseType(name)
		assert.Equal(t, err, nil)
		assert.Equal(t, uint8(typ), code)
	}
	assert.Equal(t, SubType{}.String(), "EDIT_TYPE_NA")
}

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for every message type.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []*Message{
		Control(TypeConnected),
		Control(TypeDisconnect),
		NewShareView("main.go", 5000),
		Control(TypeShareViewAck),
		NewViewChunk([]byte("package main\n")),
		NewViewChunkAck(1024),
		NewEndOfView(5000),
		Control(TypeEndOfViewAck),
		Control(TypeBadViewSend),
		NewSyntax("Packages/Go/Go.sublime-syntax"),
		NewSelection([]Region{{1, 4}, {10, 10}}),
		NewPosition(Region{A: 100, B: 180}),
		NewEdit(Edit{Type: EditInsert, Region: Region{3, 3}, Content: "hello"}),
		Control(TypeStopCollab),
		NewViewChunk(bytes.Repeat([]byte{0xAB}, 64*1024)),
	}

	for _, msg := range testCases {
		t.Run(msg.String(), func(t *testing.T) {
			encoded := Encode(msg)
			assert.Equal(t, len(encoded), HeaderSize+msg.PayloadSize())

			decoded, n, err := Decode(encoded)
			assert.Equal(t, err, nil)
			assert.Equal(t, n, len(encoded))
			assert.Equal(t, decoded.Type, msg.Type)
			assert.Equal(t, decoded.SubType, msg.SubType)
			assert.Equal(t, bytes.Equal(decoded.Payload, msg.Payload), true)
		})
	}
}

// TestDecodeByteByByte feeds a frame one byte at a time and checks that the
// decoder asks for more data until exactly the final byte.
func TestDecodeByteByByte(t *testing.T) {
	for _, msg := range []*Message{
		Control(TypeConnected),
		NewEdit(Edit{Type: EditReplace, Region: Region{0, 5}, Content: "world"}),
		NewViewChunk([]byte("abcdefghij")),
	} {
		encoded := Encode(msg)
		for i := 0; i < len(encoded); i++ {
			decoded, n, err := Decode(encoded[:i])
			var short *ShortBufferError
			assert.Equal(t, errors.As(err, &short), true)
			assert.Equal(t, short.Need > 0, true)
			assert.Equal(t, decoded == nil, true)
			assert.Equal(t, n, 0)
		}
		decoded, n, err := Decode(encoded)
		assert.Equal(t, err, nil)
		assert.Equal(t, n, len(encoded))
		assert.Equal(t, decoded.Type, msg.Type)
	}
}

func TestDecodeReportsMissingBytes(t *testing.T) {
	encoded := Encode(NewSyntax("go"))

	_, _, err := Decode(encoded[:3])
	var short *ShortBufferError
	assert.Equal(t, errors.As(err, &short), true)
	assert.Equal(t, short.Need, HeaderSize-3)

	_, _, err = Decode(encoded[:HeaderSize])
	assert.Equal(t, errors.As(err, &short), true)
	assert.Equal(t, short.Need, 2)
}

func TestDecodeStopsAtFrameBoundary(t *testing.T) {
	first := Encode(NewSyntax("go"))
	second := Encode(Control(TypeStopCollab))
	stream := append(append([]byte{}, first...), second...)

	msg, n, err := Decode(stream)
	assert.Equal(t, err, nil)
	assert.Equal(t, msg.Type, TypeSyntax)
	assert.Equal(t, n, len(first))

	msg, n, err = Decode(stream[n:])
	assert.Equal(t, err, nil)
	assert.Equal(t, msg.Type, TypeStopCollab)
	assert.Equal(t, n, len(second))
}

func TestDecodeMalformed(t *testing.T) {
	valid := Encode(NewSyntax("go"))

	badMagic := append([]byte{}, valid...)
	badMagic[0] = 42

	unknownType := append([]byte{}, valid...)
	unknownType[1] = 200

	unknownSub := append([]byte{}, valid...)
	unknownSub[2] = 7

	emptyChunk := Encode(&Message{Type: TypeViewChunk})

	tooLarge := append([]byte{}, valid[:HeaderSize]...)
	tooLarge[3], tooLarge[4], tooLarge[5], tooLarge[6] = 0xFF, 0xFF, 0xFF, 0xFF

	tooLargeUnknown := append([]byte{}, tooLarge...)
	tooLargeUnknown[1] = 99

	testCases := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", badMagic, ErrBadMagic},
		{"bad magic in first byte", badMagic[:1], ErrBadMagic},
		{"unknown type", unknownType, ErrUnknownType},
		{"unknown sub-type", unknownSub, ErrUnknownSubType},
		{"empty chunk", emptyChunk, ErrEmptyChunk},
		{"payload too large", tooLarge, ErrPayloadTooLarge},
		{"payload too large with unknown type", tooLargeUnknown, ErrPayloadTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, _, err := Decode(tc.data)
			assert.Equal(t, msg == nil, true)
			assert.Equal(t, errors.Is(err, tc.want), true)
			assert.Equal(t, errors.Is(err, ErrMalformed), true)
		})
	}
}

// TestDecodePreservesPayload verifies that the payload is copied and not
// aliased to the input buffer.
func TestDecodePreservesPayload(t *testing.T) {
	encoded := Encode(NewSyntax("original"))
	decoded, _, err := Decode(encoded)
	assert.Equal(t, err, nil)

	encoded[HeaderSize] = 0xFF
	assert.Equal(t, string(decoded.Payload), "original")
}

func TestReadMessageSkipsUnknownFrame(t *testing.T) {
	unknown := Encode(NewSyntax("skip me"))
	unknown[1] = 99

	var stream bytes.Buffer
	stream.Write(unknown)
	stream.Write(Encode(NewPosition(Region{4, 8})))

	_, err := ReadMessage(&stream)
	assert.Equal(t, errors.Is(err, ErrUnknownType), true)
	assert.Equal(t, Recoverable(err), true)

	msg, err := ReadMessage(&stream)
	assert.Equal(t, err, nil)
	r, err := ParsePosition(msg)
	assert.Equal(t, err, nil)
	assert.Equal(t, r, Region{4, 8})

	_, err = ReadMessage(&stream)
	assert.Equal(t, err, io.EOF)
}

func TestReadMessageBadMagicIsFatal(t *testing.T) {
	frame := Encode(Control(TypeConnected))
	frame[0] = 0

	_, err := ReadMessage(bytes.NewReader(frame))
	assert.Equal(t, errors.Is(err, ErrBadMagic), true)
	assert.Equal(t, Recoverable(err), false)
}

func TestReadMessageTruncated(t *testing.T) {
	frame := Encode(NewSyntax("truncated"))
	_, err := ReadMessage(bytes.NewReader(frame[:len(frame)-2]))
	assert.Equal(t, err, io.ErrUnexpectedEOF)
}

func TestEncodeLargePayload(t *testing.T) {
	for _, size := range []int{1024, 16 * 1024, 256 * 1024} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i % 256)
			}
			msg, err := ReadMessage(bytes.NewReader(Encode(NewViewChunk(payload))))
			assert.Equal(t, err, nil)
			assert.Equal(t, bytes.Equal(msg.Payload, payload), true)
		})
	}
}

func TestReadMessageOversizedUnknownFrame(t *testing.T) {
	frame := []byte{Magic, 99, 120, 0xFF, 0xFF, 0xFF, 0xFF, 1, 2, 3}

	_, err := ReadMessage(bytes.NewReader(frame))
	assert.Equal(t, errors.Is(err, ErrPayloadTooLarge), true)
	assert.Equal(t, Recoverable(err), false)
}
