package relay

import (
	"sync/atomic"
	"time"
)

// PlaybackState is the current resolved list of one playlist and the index
// of the next item to play. The worker is the only caller of Next; Swap may
// come from any goroutine.
type PlaybackState struct {
	cursor  atomic.Int64
	current atomic.Pointer[ResolvedPlaylist]
}

// NewPlaybackState returns a state holding initial, which may be nil.
func NewPlaybackState(initial *ResolvedPlaylist) *PlaybackState {
	s := &PlaybackState{}
	if initial != nil {
		s.current.Store(initial)
	}
	return s
}

// Next returns the item under the cursor and advances it, wrapping at the end
// of the list. The cursor is reduced modulo the current length first, so it
// stays valid after a Swap to a shorter list. ok is false for an empty list.
func (s *PlaybackState) Next() (id string, ok bool) {
	list := s.current.Load()
	n := list.Len()
	if n == 0 {
		return "", false
	}
	i := int(s.cursor.Load() % int64(n))
	s.cursor.Store(int64((i + 1) % n))
	return list.IDs[i], true
}

// Swap replaces the resolved list. The cursor is kept.
func (s *PlaybackState) Swap(p *ResolvedPlaylist) {
	s.current.Store(p)
}

// Playlist returns the current resolved list, or nil before the first one.
func (s *PlaybackState) Playlist() *ResolvedPlaylist {
	return s.current.Load()
}

// Cursor returns the index of the next item to play.
func (s *PlaybackState) Cursor() int {
	return int(s.cursor.Load())
}

// LastRefresh is the resolution time of the current list; zero if there is
// none or it came from a cache entry without one.
func (s *PlaybackState) LastRefresh() time.Time {
	if p := s.current.Load(); p != nil {
		return p.ResolvedAt
	}
	return time.Time{}
}
