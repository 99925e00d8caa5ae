// Package metrics exposes session and traffic counters over HTTP in the
// Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/util"
)

const namespace = "duet"

// liveStates are the states a session can be observed in before it ends.
var liveStates = []peer.ConnectionState{
	peer.StateConnecting,
	peer.StateConnected,
	peer.StateDisconnecting,
	peer.StateRejectDisconnecting,
}

// Metrics owns a registry with the process-wide traffic counters and the
// state of every observed session.
type Metrics struct {
	reg    *prometheus.Registry
	states *prometheus.GaugeVec

	mu      sync.Mutex
	current map[string]peer.ConnectionState
}

// New builds a registry over util.Stats.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string, load func() int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load()) })
	}
	counter("sessions_total", "Sessions that completed the handshake.", util.Stats.Sessions.Load)
	counter("disconnects_total", "Connected sessions that have ended.", util.Stats.Disconnects.Load)
	counter("messages_sent_total", "Protocol messages written.", util.Stats.MessagesSent.Load)
	counter("messages_received_total", "Protocol messages read.", util.Stats.MessagesRecv.Load)
	counter("bytes_sent_total", "Frame bytes written.", util.Stats.BytesSent.Load)
	counter("bytes_received_total", "Frame bytes read.", util.Stats.BytesRecv.Load)
	counter("view_chunks_sent_total", "VIEW_CHUNK messages sent.", util.Stats.ChunksSent.Load)
	counter("view_transfers_total", "Views received completely.", util.Stats.Transfers.Load)
	counter("bad_view_sends_total", "View transfers that ended in BAD_VIEW_SEND.", util.Stats.BadTransfers.Load)

	m := &Metrics{
		reg: reg,
		states: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Observed sessions by connection state.",
		}, []string{"state"}),
		current: make(map[string]peer.ConnectionState),
	}
	m.initStates()
	return m
}

// Observe records a session state change. Pass it to peer.WithStateObserver.
func (m *Metrics) Observe(id string, state peer.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.current[id]; ok {
		m.states.WithLabelValues(prev.String()).Dec()
	}
	if state == peer.StateDisconnected {
		delete(m.current, id)
		return
	}
	m.current[id] = state
	m.states.WithLabelValues(state.String()).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler returns the HTTP routes: /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	return r
}

// Serve listens on addr and serves Handler until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	util.LogInfo("metrics listening on http://%s/metrics", ln.Addr())

	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// initStates pre-creates a zero series for every state so dashboards see
// them before the first session.
func (m *Metrics) initStates() {
	for _, st := range liveStates {
		m.states.WithLabelValues(st.String())
	}
}
