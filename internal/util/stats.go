package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide traffic counter.
var Stats = &stats{}

type stats struct {
	Sessions     atomic.Int64 // sessions that reached CONNECTED
	Disconnects  atomic.Int64 // sessions that reached DISCONNECTED after connecting
	MessagesSent atomic.Int64
	MessagesRecv atomic.Int64
	BytesSent    atomic.Int64 // frame bytes written to the stream
	BytesRecv    atomic.Int64 // frame bytes read from the stream
	ChunksSent   atomic.Int64 // VIEW_CHUNK messages sent
	Transfers    atomic.Int64 // views fully received
	BadTransfers atomic.Int64 // BAD_VIEW_SEND emitted or received
}

func (s *stats) AddSession()     { s.Sessions.Add(1) }
func (s *stats) AddDisconnect()  { s.Disconnects.Add(1) }
func (s *stats) AddChunk()       { s.ChunksSent.Add(1) }
func (s *stats) AddTransfer()    { s.Transfers.Add(1) }
func (s *stats) AddBadTransfer() { s.BadTransfers.Add(1) }

func (s *stats) AddSent(n int) {
	s.MessagesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MessagesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// StartStatsReporter launches a goroutine that logs traffic every interval
// while there is any. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevMsgs int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				msgs := Stats.MessagesSent.Load() + Stats.MessagesRecv.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs

				if msgs != prevMsgs {
					pterm.DefaultLogger.Info(formatStats(inS, outS, msgs-prevMsgs))
				}

				prevSent = sent
				prevRecv = recv
				prevMsgs = msgs

			case <-ctx.Done():
				return
			}
		}
	}()
}

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 char) string,
// e.g. "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// keep "100.0 KiB" (9 chars) out
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(inS, outS float64, msgs int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Msgs: %d",
		formatBytes(inS),
		formatBytes(outS),
		msgs,
	)
}
