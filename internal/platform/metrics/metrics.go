package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the relay.
type Metrics struct {
	registry       *prometheus.Registry
	requestsTotal  prometheus.Counter
	errorsTotal    prometheus.Counter
	listeners      *prometheus.GaugeVec
	listenerDrops  *prometheus.CounterVec
	tracksTotal    *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	bufferedChunks *prometheus.GaugeVec
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	listeners := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_listeners",
		Help: "Number of connected stream listeners",
	}, []string{"playlist"})
	listenerDrops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_listener_drops_total",
		Help: "Listeners disconnected because they fell too far behind",
	}, []string{"playlist"})
	tracksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tracks_total",
		Help: "Tracks handled by playback workers by result",
	}, []string{"playlist", "result"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_resolutions_total",
		Help: "Playlist resolutions by result",
	}, []string{"playlist", "result"})
	bytesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bytes_total",
		Help: "Audio bytes produced into stream buffers",
	}, []string{"playlist"})
	bufferedChunks := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_buffer_chunks",
		Help: "Chunks currently retained in each stream buffer",
	}, []string{"playlist"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		listeners,
		listenerDrops,
		tracksTotal,
		resolutions,
		bytesTotal,
		bufferedChunks,
	)

	return &Metrics{
		registry:       registry,
		requestsTotal:  requestsTotal,
		errorsTotal:    errorsTotal,
		listeners:      listeners,
		listenerDrops:  listenerDrops,
		tracksTotal:    tracksTotal,
		resolutions:    resolutions,
		bytesTotal:     bytesTotal,
		bufferedChunks: bufferedChunks,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ListenerConnected counts a listener that joined playlist.
func (m *Metrics) ListenerConnected(playlist string) {
	m.listeners.WithLabelValues(playlist).Inc()
}

// ListenerDisconnected removes a listener of playlist from the gauge, however
// its stream ended.
func (m *Metrics) ListenerDisconnected(playlist string) {
	m.listeners.WithLabelValues(playlist).Dec()
}

// IncListenerDrops counts a listener evicted for lagging.
func (m *Metrics) IncListenerDrops(playlist string) {
	m.listenerDrops.WithLabelValues(playlist).Inc()
}

// ObserveTrack records the outcome of one worker iteration ("ok", "failed", "launch_failed").
func (m *Metrics) ObserveTrack(playlist, result string) {
	m.tracksTotal.WithLabelValues(playlist, result).Inc()
}

// ObserveResolution records a resolution attempt ("ok", "failed", "cache").
func (m *Metrics) ObserveResolution(playlist, result string) {
	m.resolutions.WithLabelValues(playlist, result).Inc()
}

// AddBytes adds produced audio bytes.
func (m *Metrics) AddBytes(playlist string, n int) {
	m.bytesTotal.WithLabelValues(playlist).Add(float64(n))
}

// SetBufferedChunks sets the buffer depth gauge.
func (m *Metrics) SetBufferedChunks(playlist string, n int) {
	m.bufferedChunks.WithLabelValues(playlist).Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. buffer depth).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
