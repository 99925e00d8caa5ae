package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/util"
)

// scrape fetches /metrics from m and returns the exposition text.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	assert.Equal(t, err, nil)
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	body, err := io.ReadAll(resp.Body)
	assert.Equal(t, err, nil)
	return string(body)
}

func TestObserve(t *testing.T) {
	m := New()

	m.Observe("a", peer.StateConnecting)
	m.Observe("b", peer.StateConnecting)
	m.Observe("a", peer.StateConnected)

	body := scrape(t, m)
	assert.Equal(t, strings.Contains(body, `duet_sessions{state="connecting"} 1`), true)
	assert.Equal(t, strings.Contains(body, `duet_sessions{state="connected"} 1`), true)

	m.Observe("a", peer.StateRejectDisconnecting)
	m.Observe("a", peer.StateDisconnected)
	m.Observe("b", peer.StateDisconnected)

	body = scrape(t, m)
	assert.Equal(t, strings.Contains(body, `duet_sessions{state="connecting"} 0`), true)
	assert.Equal(t, strings.Contains(body, `duet_sessions{state="connected"} 0`), true)
	assert.Equal(t, strings.Contains(body, `duet_sessions{state="disconnecting-on-rejected"} 0`), true)
	assert.Equal(t, len(m.current), 0)
}

func TestCounters(t *testing.T) {
	m := New()
	util.Stats.AddChunk()

	body := scrape(t, m)
	for _, name := range []string{
		"duet_sessions_total",
		"duet_bytes_sent_total",
		"duet_view_chunks_sent_total",
		"duet_bad_view_sends_total",
	} {
		assert.Equal(t, strings.Contains(body, name), true)
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	assert.Equal(t, err, nil)
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)
}
