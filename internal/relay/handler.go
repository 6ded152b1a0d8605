package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"playlist-relay/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const audioContentType = "audio/mpeg"

// Handler exposes the relay's HTTP endpoints using go-chi.
type Handler struct {
	relay        *Relay
	log          *slog.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration
}

// NewHandler returns a Handler serving rl. Each write to a listener must
// finish within writeTimeout (0 disables the deadline). Metrics may be nil
// to disable metric recording (e.g. in tests).
func NewHandler(rl *Relay, log *slog.Logger, m *metrics.Metrics, writeTimeout time.Duration) *Handler {
	return &Handler{relay: rl, log: log, metrics: m, writeTimeout: writeTimeout}
}

// Stream handles GET /stream/{name}: the live audio of a playlist as an
// unbounded response, starting at the oldest buffered chunk.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false)
}

// Listen handles GET /listen/{name}. It is Stream with a download filename,
// for players that only open attachments.
func (h *Handler) Listen(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, attachment bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := chi.URLParam(r, "name")
	st, ok := h.relay.Station(name)
	if !ok {
		h.log.Debug("unknown playlist requested", slog.String("playlist", name))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	sub := st.Buffer.Subscribe()
	defer sub.Close()

	log := h.log.With(slog.String("playlist", name), slog.String("listener", uuid.NewString()))
	if h.metrics != nil {
		h.metrics.ListenerConnected(name)
		defer h.metrics.ListenerDisconnected(name)
	}

	hdr := w.Header()
	hdr.Set("Content-Type", audioContentType)
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")
	if attachment {
		hdr.Set("Content-Disposition", `attachment; filename="`+name+`.mp3"`)
	}
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		log.Debug("response does not support flushing", slog.String("error", err.Error()))
	}
	log.Info("listener connected")

	var sent int64
	for {
		chunk, err := sub.Next(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, ErrSlowListener):
				log.Warn("listener dropped for falling behind", slog.Int64("bytes", sent))
				if h.metrics != nil {
					h.metrics.IncListenerDrops(name)
				}
			case errors.Is(err, ErrBufferClosed):
				log.Info("stream closed", slog.Int64("bytes", sent))
			default:
				log.Info("listener disconnected", slog.Int64("bytes", sent))
			}
			return
		}

		if h.writeTimeout > 0 {
			// Not every ResponseWriter supports deadlines.
			_ = rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		}
		if _, err := w.Write(chunk); err != nil {
			log.Info("listener disconnected", slog.Int64("bytes", sent), slog.String("error", err.Error()))
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Info("listener disconnected", slog.Int64("bytes", sent), slog.String("error", err.Error()))
			return
		}
		sent += int64(len(chunk))
	}
}

// Playlists handles GET /playlists: the status of every station.
func (h *Handler) Playlists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stations := h.relay.Stations()
	out := make([]StationStatus, 0, len(stations))
	for _, st := range stations {
		out = append(out, st.Status())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.log.Debug("failed to write playlists status", slog.String("error", err.Error()))
	}
}
