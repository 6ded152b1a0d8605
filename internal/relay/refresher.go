package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Refresher periodically re-resolves stations whose list has gone stale.
// Swapping the new list in never interrupts the item a worker is playing.
type Refresher struct {
	stations []*Station
	poll     time.Duration
	maxAge   time.Duration
	sem      *semaphore.Weighted
	log      *slog.Logger
}

// NewRefresher checks stations every poll and resolves those older than
// maxAge, at most concurrency at a time.
func NewRefresher(stations []*Station, poll, maxAge time.Duration, concurrency int, log *slog.Logger) *Refresher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Refresher{
		stations: stations,
		poll:     poll,
		maxAge:   maxAge,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		log:      log,
	}
}

// Run checks immediately and then on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.log.Info("playlist refresher started",
		slog.Duration("poll", r.poll),
		slog.Duration("max_age", r.maxAge))

	r.RefreshDue(ctx)

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("playlist refresher stopped")
			return nil
		case <-ticker.C:
			r.RefreshDue(ctx)
		}
	}
}

// RefreshDue resolves every stale station and waits for them to finish.
// Failures keep the previous list.
func (r *Refresher) RefreshDue(ctx context.Context) {
	var wg sync.WaitGroup
	for _, st := range r.stations {
		if !st.Stale(r.maxAge) {
			continue
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.sem.Release(1)

			refreshed, err := st.RefreshIfStale(ctx, r.maxAge)
			if err != nil && ctx.Err() == nil {
				r.log.Warn("playlist refresh failed, keeping previous list",
					slog.String("playlist", st.Playlist.Name),
					slog.Int("items", st.State.Playlist().Len()),
					slog.String("error", err.Error()))
				return
			}
			if refreshed {
				r.log.Debug("playlist refreshed", slog.String("playlist", st.Playlist.Name))
			}
		}()
	}
	wg.Wait()
}
