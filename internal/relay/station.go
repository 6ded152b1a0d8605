package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"playlist-relay/internal/platform/metrics"
)

// Station bundles everything the relay keeps for one configured playlist:
// its playback state, its stream buffer, and the means to re-resolve it.
type Station struct {
	Playlist Playlist
	State    *PlaybackState
	Buffer   *StreamBuffer

	resolver Resolver
	cache    Cache
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// refreshMu serializes resolutions so the worker and the refresher never
	// resolve the same playlist at once.
	refreshMu sync.Mutex
}

// StationStatus is the externally visible state of a station.
type StationStatus struct {
	Name           string     `json:"name"`
	Order          Order      `json:"order"`
	Items          int        `json:"items"`
	Cursor         int        `json:"cursor"`
	LastRefresh    *time.Time `json:"last_refresh,omitempty"`
	Listeners      int        `json:"listeners"`
	BufferedChunks int        `json:"buffered_chunks"`
}

// Refresh resolves the playlist and swaps the result into the live state.
// On failure the current list is kept and the error is returned. A cache
// write failure is logged and does not fail the refresh.
func (s *Station) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.refresh(ctx)
}

// RefreshIfStale refreshes only when the current list is missing, empty, or
// older than maxAge. The check runs under the refresh lock, so a caller that
// waited on a concurrent refresh does not resolve again.
func (s *Station) RefreshIfStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if !s.Stale(maxAge) {
		return false, nil
	}
	return true, s.refresh(ctx)
}

// Stale reports whether the current list needs resolving.
func (s *Station) Stale(maxAge time.Duration) bool {
	p := s.State.Playlist()
	if p.Len() == 0 {
		return true
	}
	return s.now().Sub(p.ResolvedAt) >= maxAge
}

func (s *Station) refresh(ctx context.Context) error {
	ids, err := s.resolver.Resolve(ctx, s.Playlist)
	if err != nil {
		s.observeResolution("failed")
		return err
	}

	resolved := &ResolvedPlaylist{IDs: ids, ResolvedAt: s.now()}
	s.State.Swap(resolved)
	s.observeResolution("ok")
	s.log.Info("playlist resolved", slog.Int("items", len(ids)))

	if err := s.cache.Put(s.Playlist.Name, resolved); err != nil {
		s.log.Warn("failed to persist playlist cache", slog.String("error", err.Error()))
	}
	return nil
}

// restoreFromCache swaps in the cached list, if there is a non-empty one.
func (s *Station) restoreFromCache() bool {
	cached, ok := s.cache.Get(s.Playlist.Name)
	if !ok || cached.Len() == 0 {
		return false
	}
	s.State.Swap(cached)
	s.observeResolution("cache")
	return true
}

// Status snapshots the station.
func (s *Station) Status() StationStatus {
	st := StationStatus{
		Name:           s.Playlist.Name,
		Order:          s.Playlist.Order,
		Cursor:         s.State.Cursor(),
		Listeners:      s.Buffer.Subscribers(),
		BufferedChunks: s.Buffer.Len(),
	}
	if p := s.State.Playlist(); p != nil {
		st.Items = p.Len()
		if !p.ResolvedAt.IsZero() {
			at := p.ResolvedAt
			st.LastRefresh = &at
		}
	}
	return st
}

func (s *Station) observeResolution(result string) {
	if s.metrics != nil {
		s.metrics.ObserveResolution(s.Playlist.Name, result)
	}
}
