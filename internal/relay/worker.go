package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"playlist-relay/internal/platform/metrics"
)

// worker is the playback loop of one station. It is the only goroutine that
// advances the station's cursor or pushes into its buffer.
type worker struct {
	st        *Station
	cfg       Config
	extractor Extractor
	log       *slog.Logger
	metrics   *metrics.Metrics

	// failures counts consecutive items that produced nothing.
	failures int
}

// Run plays items until ctx is cancelled. Failures are logged and retried
// after a backoff; they never end the loop.
func (w *worker) Run(ctx context.Context) error {
	w.log.Info("playback worker started")
	for ctx.Err() == nil {
		w.step(ctx)
	}
	w.log.Info("playback worker stopped")
	return nil
}

// step runs one iteration: make sure there is a list, play the item under
// the cursor, and pause before the next one.
func (w *worker) step(ctx context.Context) {
	if w.st.State.Playlist().Len() == 0 && !w.ensurePlaylist(ctx) {
		sleep(ctx, w.cfg.EmptyBackoff)
		return
	}

	id, ok := w.st.State.Next()
	if !ok {
		return
	}
	log := w.log.With(slog.String("item", id))
	log.Info("playing item")

	n, err := w.play(ctx, id)
	if ctx.Err() != nil {
		return
	}

	switch {
	case n == 0 && err != nil:
		w.observe("launch_failed")
		log.Warn("item produced no audio", slog.String("error", err.Error()))
		w.failures++
		w.refreshAfterFailures(ctx)
		sleep(ctx, w.cfg.ErrorBackoff)
	case err != nil:
		w.observe("failed")
		log.Warn("item ended abnormally", slog.Int64("bytes", n), slog.String("error", err.Error()))
		w.failures = 0
		sleep(ctx, w.cfg.TrackGap)
	default:
		w.observe("ok")
		log.Info("item finished", slog.Int64("bytes", n))
		w.failures = 0
		sleep(ctx, w.cfg.TrackGap)
	}
}

// ensurePlaylist resolves an empty station, falling back to the cache.
func (w *worker) ensurePlaylist(ctx context.Context) bool {
	_, err := w.st.RefreshIfStale(ctx, w.cfg.RefreshAfter)
	if err == nil && w.st.State.Playlist().Len() > 0 {
		return true
	}
	if err != nil && ctx.Err() == nil {
		w.log.Warn("playlist resolution failed", slog.String("error", err.Error()))
	}
	if w.st.restoreFromCache() {
		w.log.Info("using cached playlist", slog.Int("items", w.st.State.Playlist().Len()))
		return true
	}
	if ctx.Err() == nil {
		w.log.Warn("no items available, backing off", slog.Duration("backoff", w.cfg.EmptyBackoff))
	}
	return false
}

// refreshAfterFailures re-resolves once every item in the list has failed in
// a row, since the list itself is likely outdated. The old list is kept if
// the resolution fails.
func (w *worker) refreshAfterFailures(ctx context.Context) {
	if w.failures < w.st.State.Playlist().Len() {
		return
	}
	w.log.Warn("every item failed, re-resolving playlist", slog.Int("failures", w.failures))
	w.failures = 0
	if err := w.st.Refresh(ctx); err != nil && ctx.Err() == nil {
		w.log.Warn("re-resolution failed, keeping previous list", slog.String("error", err.Error()))
	}
}

// play streams one item into the buffer. The pipeline is always closed
// before play returns, whatever happened while draining.
func (w *worker) play(ctx context.Context, id string) (int64, error) {
	stream, err := w.extractor.Start(ctx, w.cfg.ItemURLPrefix+id)
	if err != nil {
		return 0, err
	}

	n, drainErr := w.drain(ctx, stream)
	closeErr := stream.Close()

	if drainErr != nil {
		return n, drainErr
	}
	if closeErr != nil {
		return n, fmt.Errorf("%w: %w", ErrPipelineExit, closeErr)
	}
	return n, nil
}

// drain copies r into the buffer in fixed-size chunks. Each chunk is a fresh
// slice because subscribers keep references to it.
func (w *worker) drain(ctx context.Context, r io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, w.cfg.ChunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if perr := w.st.Buffer.Push(ctx, chunk); perr != nil {
				return total, perr
			}
			total += int64(n)
			if w.metrics != nil {
				w.metrics.AddBytes(w.st.Playlist.Name, n)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return total, nil
		default:
			return total, fmt.Errorf("%w: %w", ErrStreamRead, err)
		}
	}
}

func (w *worker) observe(result string) {
	if w.metrics != nil {
		w.metrics.ObserveTrack(w.st.Playlist.Name, result)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
