package relay

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"playlist-relay/internal/platform/metrics"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultSlowListenerTimeout = 30 * time.Second
	DefaultLagGrace            = 3 * time.Second
	DefaultChunkSize           = 2048
	DefaultTrackGap            = 3 * time.Second
	DefaultErrorBackoff        = 10 * time.Second
	DefaultEmptyBackoff        = 60 * time.Second
	DefaultItemURLPrefix       = "https://www.youtube.com/watch?v="
	DefaultRefreshPoll         = 10 * time.Minute
	DefaultRefreshAfter        = 2 * time.Hour
	DefaultRefreshConcurrency  = 2
)

// Config holds the relay's tunables.
type Config struct {
	BufferChunks        int
	SlowListenerTimeout time.Duration // stall tolerated while every listener lags
	LagGrace            time.Duration // stall tolerated while another listener is starved
	ChunkSize           int

	TrackGap      time.Duration // pause between items
	ErrorBackoff  time.Duration // pause after an item produced nothing
	EmptyBackoff  time.Duration // pause while a station has no list at all
	ItemURLPrefix string        // prepended to item IDs for extraction

	RefreshPoll        time.Duration
	RefreshAfter       time.Duration
	RefreshConcurrency int
}

func (c Config) withDefaults() Config {
	if c.BufferChunks <= 0 {
		c.BufferChunks = DefaultBufferChunks
	}
	if c.SlowListenerTimeout <= 0 {
		c.SlowListenerTimeout = DefaultSlowListenerTimeout
	}
	if c.LagGrace <= 0 {
		c.LagGrace = DefaultLagGrace
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.TrackGap <= 0 {
		c.TrackGap = DefaultTrackGap
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.EmptyBackoff <= 0 {
		c.EmptyBackoff = DefaultEmptyBackoff
	}
	if c.ItemURLPrefix == "" {
		c.ItemURLPrefix = DefaultItemURLPrefix
	}
	if c.RefreshPoll <= 0 {
		c.RefreshPoll = DefaultRefreshPoll
	}
	if c.RefreshAfter <= 0 {
		c.RefreshAfter = DefaultRefreshAfter
	}
	if c.RefreshConcurrency <= 0 {
		c.RefreshConcurrency = DefaultRefreshConcurrency
	}
	return c
}

// Relay owns one Station per configured playlist and runs their playback
// workers and the shared refresher.
type Relay struct {
	cfg       Config
	stations  []*Station
	byName    map[string]*Station
	extractor Extractor
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// New builds a Relay. Stations whose playlist is in cache start from the
// cached list. Metrics may be nil.
func New(cfg Config, playlists []Playlist, resolver Resolver, extractor Extractor, cache Cache, log *slog.Logger, m *metrics.Metrics) *Relay {
	cfg = cfg.withDefaults()
	r := &Relay{
		cfg:       cfg,
		stations:  make([]*Station, 0, len(playlists)),
		byName:    make(map[string]*Station, len(playlists)),
		extractor: extractor,
		log:       log,
		metrics:   m,
	}

	for _, p := range playlists {
		st := &Station{
			Playlist: p,
			State:    NewPlaybackState(nil),
			Buffer:   NewStreamBuffer(cfg.BufferChunks, cfg.SlowListenerTimeout, cfg.LagGrace),
			resolver: resolver,
			cache:    cache,
			log:      log.With(slog.String("playlist", p.Name)),
			metrics:  m,
			now:      time.Now,
		}
		if st.restoreFromCache() {
			st.log.Info("restored playlist from cache", slog.Int("items", st.State.Playlist().Len()))
		}
		r.stations = append(r.stations, st)
		r.byName[p.Name] = st
	}
	return r
}

// Station returns the station for name.
func (r *Relay) Station(name string) (*Station, bool) {
	st, ok := r.byName[name]
	return st, ok
}

// Stations returns every station in configuration order.
func (r *Relay) Stations() []*Station {
	return r.stations
}

// Run starts one worker per station plus the refresher and blocks until ctx
// is cancelled. When it returns every worker has stopped, so no extraction
// process is left running, and every buffer is closed.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, st := range r.stations {
		w := &worker{
			st:        st,
			cfg:       r.cfg,
			extractor: r.extractor,
			log:       st.log,
			metrics:   r.metrics,
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	refresher := NewRefresher(r.stations, r.cfg.RefreshPoll, r.cfg.RefreshAfter, r.cfg.RefreshConcurrency, r.log)
	g.Go(func() error { return refresher.Run(ctx) })

	err := g.Wait()
	for _, st := range r.stations {
		st.Buffer.Close()
	}
	return err
}
