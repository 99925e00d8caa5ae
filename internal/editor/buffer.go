// Package editor provides an in-memory document model: the content, the
// selection set and the visible region of one shared view.
package editor

import (
	"fmt"
	"sync"

	"github.com/1ureka/duet/internal/protocol"
)

// Buffer is a thread-safe text buffer addressed by rune offsets.
type Buffer struct {
	mu        sync.RWMutex
	name      string
	syntax    string
	text      []rune
	selection []protocol.Region
	visible   protocol.Region
}

// NewBuffer returns a buffer holding content.
func NewBuffer(name, content, syntax string) *Buffer {
	return &Buffer{name: name, syntax: syntax, text: []rune(content)}
}

func (b *Buffer) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Buffer) Syntax() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.syntax
}

// Content returns the full text.
func (b *Buffer) Content() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.text)
}

// Reset replaces the buffer's content and metadata and clears the view state.
func (b *Buffer) Reset(name, content, syntax string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name, b.syntax = name, syntax
	b.text = []rune(content)
	b.selection = nil
	b.visible = protocol.Region{}
}

// ApplyEdit applies e at its region. Offsets outside the text are an error.
func (b *Buffer) ApplyEdit(e protocol.Edit) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	begin, end := e.Region.Begin(), e.Region.End()
	if e.Type == protocol.EditInsert {
		begin, end = e.Region.A, e.Region.A
	}
	if begin < 0 || end > len(b.text) {
		return fmt.Errorf("edit region [%d, %d) outside text of %d runes", begin, end, len(b.text))
	}

	switch e.Type {
	case protocol.EditInsert, protocol.EditReplace:
	case protocol.EditDelete:
		b.text = append(b.text[:begin], b.text[end:]...)
		return nil
	default:
		return fmt.Errorf("unknown edit type %q", e.Type)
	}

	insert := []rune(e.Content)
	out := make([]rune, 0, len(b.text)-(end-begin)+len(insert))
	out = append(out, b.text[:begin]...)
	out = append(out, insert...)
	out = append(out, b.text[end:]...)
	b.text = out
	return nil
}

// Selection returns a copy of the current selection set.
func (b *Buffer) Selection() []protocol.Region {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]protocol.Region(nil), b.selection...)
}

// SetSelection replaces the selection set.
func (b *Buffer) SetSelection(regions []protocol.Region) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selection = append([]protocol.Region(nil), regions...)
}

func (b *Buffer) VisibleRegion() protocol.Region {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.visible
}

// SetVisibleRegion records the region to bring into view.
func (b *Buffer) SetVisibleRegion(r protocol.Region) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible = r
}
