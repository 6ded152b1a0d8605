package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playlist-relay/internal/platform/config"
	"playlist-relay/internal/platform/logger"
	"playlist-relay/internal/platform/metrics"
	"playlist-relay/internal/platform/ratelimit"
	"playlist-relay/internal/relay"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8000")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	playlistsFile := config.GetEnv("PLAYLISTS_FILE", "playlists.yaml")
	cacheBackend := config.GetEnv("CACHE_BACKEND", "json")
	cacheFile := config.GetEnv("CACHE_FILE", "data/playlist_cache.json")

	log := logger.New(logLevel, logFormat)

	playlists, err := loadPlaylists(playlistsFile)
	if err != nil {
		log.Error("invalid playlists configuration", "file", playlistsFile, "error", err)
		os.Exit(1)
	}

	cache := openCache(log, cacheBackend, cacheFile)
	defer cache.Close()

	cfg := relay.Config{
		BufferChunks:        config.GetEnvInt("BUFFER_CHUNKS", relay.DefaultBufferChunks),
		SlowListenerTimeout: config.GetEnvDuration("SLOW_LISTENER_TIMEOUT", relay.DefaultSlowListenerTimeout),
		LagGrace:            config.GetEnvDuration("LAG_GRACE", relay.DefaultLagGrace),
		ChunkSize:           config.GetEnvInt("CHUNK_SIZE", relay.DefaultChunkSize),
		TrackGap:            config.GetEnvDuration("TRACK_GAP", relay.DefaultTrackGap),
		ErrorBackoff:        config.GetEnvDuration("ERROR_BACKOFF", relay.DefaultErrorBackoff),
		EmptyBackoff:        config.GetEnvDuration("EMPTY_BACKOFF", relay.DefaultEmptyBackoff),
		ItemURLPrefix:       config.GetEnv("ITEM_URL_PREFIX", relay.DefaultItemURLPrefix),
		RefreshPoll:         config.GetEnvDuration("REFRESH_POLL", relay.DefaultRefreshPoll),
		RefreshAfter:        config.GetEnvDuration("REFRESH_AFTER", relay.DefaultRefreshAfter),
		RefreshConcurrency:  config.GetEnvInt("REFRESH_CONCURRENCY", relay.DefaultRefreshConcurrency),
	}

	ytdlp := config.GetEnv("YTDLP_BIN", "yt-dlp")
	resolver := &relay.CommandResolver{
		Bin:     ytdlp,
		Timeout: config.GetEnvDuration("RESOLVE_TIMEOUT", relay.DefaultResolveTimeout),
	}
	extractor := &relay.CommandExtractor{
		YtDlpBin:        ytdlp,
		FFmpegBin:       config.GetEnv("FFMPEG_BIN", "ffmpeg"),
		CookiesFile:     config.GetEnv("COOKIES_FILE", "data/cookies.txt"),
		UserAgent:       config.GetEnv("USER_AGENT", "Mozilla/5.0"),
		Bitrate:         config.GetEnv("AUDIO_BITRATE", "32k"),
		SampleRate:      config.GetEnvInt("AUDIO_SAMPLE_RATE", 22050),
		Channels:        config.GetEnvInt("AUDIO_CHANNELS", 1),
		FinalizeTimeout: config.GetEnvDuration("FINALIZE_TIMEOUT", 2*time.Second),
	}

	met := metrics.New()
	rl := relay.New(cfg, playlists, resolver, extractor, cache, log, met)
	h := relay.NewHandler(rl, log, met, cfg.SlowListenerTimeout)

	streamLimit := ratelimit.Middleware(
		config.GetEnvFloat("STREAM_RATE_LIMIT", 5),
		config.GetEnvInt("STREAM_RATE_BURST", 20),
	)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			for _, st := range rl.Stations() {
				met.SetBufferedChunks(st.Playlist.Name, st.Buffer.Len())
			}
		}).ServeHTTP(w, r)
	})
	r.Get("/playlists", h.Playlists)
	r.Group(func(r chi.Router) {
		r.Use(streamLimit)
		r.Get("/stream/{name}", h.Stream)
		r.Get("/listen/{name}", h.Listen)
	})

	addr := ":" + port
	// No WriteTimeout: stream responses are unbounded. Per-write deadlines
	// are set by the stream handler.
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: readHeaderTimeout}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rl.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("server starting",
		"port", port,
		"playlists", len(playlists),
		"cache_backend", cacheBackend,
		"buffer_chunks", cfg.BufferChunks,
		"log_level", logLevel,
	)

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func loadPlaylists(path string) ([]relay.Playlist, error) {
	entries, err := config.LoadPlaylists(path)
	if err != nil {
		return nil, err
	}
	playlists := make([]relay.Playlist, 0, len(entries))
	for _, e := range entries {
		order, err := relay.ParseOrder(e.Order)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, relay.Playlist{Name: e.Name, URL: e.URL, Order: order})
	}
	return playlists, nil
}

// openCache never fails: an unusable cache degrades to memory only.
func openCache(log *slog.Logger, backend, path string) relay.Cache {
	switch backend {
	case "bolt":
		c, err := relay.OpenBoltCache(path)
		if err == nil {
			return c
		}
		log.Error("failed to open bolt cache, using memory only", "file", path, "error", err)
	default:
		c, err := relay.OpenFileCache(path)
		if err != nil {
			log.Warn("playlist cache unreadable, starting empty", "file", path, "error", err)
		}
		return c
	}
	c, _ := relay.OpenFileCache("")
	return c
}
