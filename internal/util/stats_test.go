package util

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{5 * 1024 * 1024, " 5.0 MiB"},
	}
	for _, tc := range testCases {
		got := formatBytes(tc.in)
		assert.Equal(t, got, tc.want)
		assert.Equal(t, len(got), 8)
	}
}

func TestStatsCounters(t *testing.T) {
	s := &stats{}
	s.AddSent(10)
	s.AddSent(5)
	s.AddRecv(7)
	s.AddChunk()

	assert.Equal(t, s.MessagesSent.Load(), int64(2))
	assert.Equal(t, s.BytesSent.Load(), int64(15))
	assert.Equal(t, s.MessagesRecv.Load(), int64(1))
	assert.Equal(t, s.BytesRecv.Load(), int64(7))
	assert.Equal(t, s.ChunksSent.Load(), int64(1))
}
