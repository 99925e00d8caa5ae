package protocol

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestShareViewCarriesNameAndSize(t *testing.T) {
	name, total, err := ParseShareView(NewShareView("notes.txt", 5000))
	assert.Equal(t, err, nil)
	assert.Equal(t, name, "notes.txt")
	assert.Equal(t, total, 5000)

	_, _, err = ParseShareView(&Message{Type: TypeShareView, Payload: []byte{1, 2}})
	assert.Equal(t, errors.Is(err, ErrMalformed), true)
}

func TestCountPayload(t *testing.T) {
	n, err := ParseCount(NewViewChunkAck(3072))
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 3072)

	n, err = ParseCount(NewEndOfView(0))
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 0)

	_, err = ParseCount(Control(TypeViewChunkAck))
	assert.Equal(t, errors.Is(err, ErrMalformed), true)
}

func TestSelectionPayload(t *testing.T) {
	regions := []Region{{A: 0, B: 3}, {A: 9, B: 2}, {A: 40, B: 40}}
	got, err := ParseSelection(NewSelection(regions))
	assert.Equal(t, err, nil)
	assert.Equal(t, got, regions)

	got, err = ParseSelection(NewSelection(nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(got), 0)

	bad := NewSelection(regions)
	bad.Payload = bad.Payload[:len(bad.Payload)-1]
	_, err = ParseSelection(bad)
	assert.Equal(t, errors.Is(err, ErrMalformed), true)
}

func TestEditPayload(t *testing.T) {
	testCases := []struct {
		name string
		in   Edit
		want Edit
	}{
		{
			name: "insert",
			in:   Edit{Type: EditInsert, Region: Region{A: 5, B: 5}, Content: "hello"},
			want: Edit{Type: EditInsert, Region: Region{A: 5, B: 5}, Content: "hello"},
		},
		{
			name: "replace",
			in:   Edit{Type: EditReplace, Region: Region{A: 0, B: 4}, Content: "func"},
			want: Edit{Type: EditReplace, Region: Region{A: 0, B: 4}, Content: "func"},
		},
		{
			name: "delete drops content",
			in:   Edit{Type: EditDelete, Region: Region{A: 2, B: 7}, Content: "ignored"},
			want: Edit{Type: EditDelete, Region: Region{A: 2, B: 7}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEdit(NewEdit(tc.in))
			assert.Equal(t, err, nil)
			assert.Equal(t, got, tc.want)
		})
	}

	_, err := ParseEdit(&Message{Type: TypeEdit, Payload: []byte{6, 'i'}})
	assert.Equal(t, errors.Is(err, ErrMalformed), true)
}

func TestRegionBounds(t *testing.T) {
	r := Region{A: 9, B: 2}
	assert.Equal(t, r.Begin(), 2)
	assert.Equal(t, r.End(), 9)
	assert.Equal(t, r.Size(), 7)
}
