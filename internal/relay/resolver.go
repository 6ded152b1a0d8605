package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// DefaultResolveTimeout bounds one invocation of the ID lister.
const DefaultResolveTimeout = 2 * time.Minute

// Resolver turns a playlist source into its ordered item IDs. It has no side
// effects beyond running the external lister; storing the result is up to
// the caller.
type Resolver interface {
	Resolve(ctx context.Context, p Playlist) ([]string, error)
}

// CommandResolver resolves playlists with yt-dlp's flat single-JSON dump.
type CommandResolver struct {
	Bin     string        // defaults to "yt-dlp"
	Timeout time.Duration // defaults to DefaultResolveTimeout

	// NewRand supplies the random source for one shuffle. Nil means an
	// unseeded source per call.
	NewRand func() *rand.Rand
}

// Resolve implements Resolver.
func (r *CommandResolver) Resolve(ctx context.Context, p Playlist) ([]string, error) {
	bin := r.Bin
	if bin == "" {
		bin = "yt-dlp"
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"--flat-playlist",
		"--dump-single-json",
		"--no-warnings",
		"--quiet",
		p.URL,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w: %s", ErrResolution, bin, err, strings.TrimSpace(stderr.String()))
	}

	ids, err := ParseListing(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	return ApplyOrder(ids, p.Order, r.source()), nil
}

func (r *CommandResolver) source() *rand.Rand {
	if r.NewRand != nil {
		return r.NewRand()
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

type listing struct {
	Entries []listingEntry `json:"entries"`
}

type listingEntry struct {
	ID         string `json:"id"`
	UploadDate string `json:"upload_date"`
}

// ParseListing extracts item IDs from a flat playlist dump, most recent
// upload first. Entries without an ID are skipped; entries without an upload
// date keep their source order after the dated ones.
func ParseListing(data []byte) ([]string, error) {
	var l listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: decode listing: %w", ErrResolution, err)
	}

	entries := make([]listingEntry, 0, len(l.Entries))
	for _, e := range l.Entries {
		if e.ID != "" {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, ErrEmptyPlaylist
	}

	// upload_date is YYYYMMDD, so string order is date order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UploadDate > entries[j].UploadDate
	})

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

// ApplyOrder returns ids arranged per order. The input slice is not modified.
func ApplyOrder(ids []string, order Order, rng *rand.Rand) []string {
	out := make([]string, len(ids))
	copy(out, ids)

	switch order {
	case OrderReverse:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	case OrderShuffle:
		rng.Shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
	}
	return out
}
