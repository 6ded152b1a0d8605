package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"playlist-relay/internal/proc"
)

// Extractor starts the download-and-transcode pipeline for one item. The
// returned stream yields encoded audio; Close reaps every process involved
// and reports an abnormal exit.
type Extractor interface {
	Start(ctx context.Context, itemURL string) (io.ReadCloser, error)
}

// CommandExtractor pipes yt-dlp's best audio into ffmpeg, which re-encodes
// it as a low-bitrate MP3 stream.
type CommandExtractor struct {
	YtDlpBin    string // defaults to "yt-dlp"
	FFmpegBin   string // defaults to "ffmpeg"
	CookiesFile string // passed to yt-dlp only if the file exists
	UserAgent   string

	Bitrate    string // e.g. "32k"
	SampleRate int
	Channels   int

	// FinalizeTimeout bounds how long Close waits before killing.
	FinalizeTimeout time.Duration
}

// Start implements Extractor.
func (e *CommandExtractor) Start(ctx context.Context, itemURL string) (io.ReadCloser, error) {
	p, err := proc.Start(ctx, e.finalizeTimeout(), e.Commands(itemURL)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	return p, nil
}

// Commands returns the pipeline members for itemURL.
func (e *CommandExtractor) Commands(itemURL string) []proc.Command {
	ytdlp := []string{"-f", "bestaudio/best"}
	if e.CookiesFile != "" {
		if _, err := os.Stat(e.CookiesFile); err == nil {
			ytdlp = append(ytdlp, "--cookies", e.CookiesFile)
		}
	}
	if e.UserAgent != "" {
		ytdlp = append(ytdlp, "--user-agent", e.UserAgent)
	}
	ytdlp = append(ytdlp, "-o", "-", "--quiet", "--no-warnings", itemURL)

	ffmpeg := []string{
		"-loglevel", "error",
		"-i", "pipe:0",
		"-ac", strconv.Itoa(orDefault(e.Channels, 1)),
		"-ar", strconv.Itoa(orDefault(e.SampleRate, 22050)),
		"-b:a", orDefault(e.Bitrate, "32k"),
		"-f", "mp3",
		"pipe:1",
	}

	return []proc.Command{
		{Path: orDefault(e.YtDlpBin, "yt-dlp"), Args: ytdlp},
		{Path: orDefault(e.FFmpegBin, "ffmpeg"), Args: ffmpeg},
	}
}

func (e *CommandExtractor) finalizeTimeout() time.Duration {
	if e.FinalizeTimeout > 0 {
		return e.FinalizeTimeout
	}
	return proc.DefaultStopTimeout
}

func orDefault[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}
