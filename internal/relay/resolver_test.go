package relay

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
)

const datedListing = `{
  "entries": [
    {"id": "id2", "upload_date": "20240102"},
    {"id": "id3", "upload_date": "20240101"},
    {"id": "id1", "upload_date": "20240103"}
  ]
}`

// fakeLister writes an executable that prints body and exits with code.
func fakeLister(t *testing.T, body string, code int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "yt-dlp")
	script := "#!/bin/sh\ncat <<'EOF'\n" + body + "\nEOF\nexit " + strconv.Itoa(code) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseListing_sorts_by_upload_date_desc(t *testing.T) {
	ids, err := ParseListing([]byte(datedListing))
	if err != nil {
		t.Fatalf("ParseListing: %v", err)
	}
	want := []string{"id1", "id2", "id3"}
	if !slices.Equal(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestParseListing_keeps_source_order_without_dates(t *testing.T) {
	ids, err := ParseListing([]byte(`{"entries":[{"id":"c"},{"id":"a"},{"title":"no id"},{"id":"b"}]}`))
	if err != nil {
		t.Fatalf("ParseListing: %v", err)
	}
	want := []string{"c", "a", "b"}
	if !slices.Equal(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestParseListing_undated_after_dated(t *testing.T) {
	ids, err := ParseListing([]byte(`{"entries":[{"id":"x"},{"id":"y","upload_date":"20200101"}]}`))
	if err != nil {
		t.Fatalf("ParseListing: %v", err)
	}
	if !slices.Equal(ids, []string{"y", "x"}) {
		t.Errorf("got %v", ids)
	}
}

func TestParseListing_errors(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		_, err := ParseListing([]byte("ERROR: not json"))
		if !errors.Is(err, ErrResolution) {
			t.Errorf("expected ErrResolution, got %v", err)
		}
	})
	t.Run("empty", func(t *testing.T) {
		_, err := ParseListing([]byte(`{"entries":[]}`))
		if !errors.Is(err, ErrEmptyPlaylist) || !errors.Is(err, ErrResolution) {
			t.Errorf("expected ErrEmptyPlaylist wrapping ErrResolution, got %v", err)
		}
	})
}

func TestApplyOrder(t *testing.T) {
	normal, err := ParseListing([]byte(datedListing))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("normal", func(t *testing.T) {
		got := ApplyOrder(normal, OrderNormal, nil)
		if !slices.Equal(got, []string{"id1", "id2", "id3"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("reverse", func(t *testing.T) {
		got := ApplyOrder(normal, OrderReverse, nil)
		want := slices.Clone(normal)
		slices.Reverse(want)
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
		if !slices.Equal(normal, []string{"id1", "id2", "id3"}) {
			t.Error("input slice was modified")
		}
	})

	t.Run("shuffle_is_permutation", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(1, 2))
		got := ApplyOrder(normal, OrderShuffle, rng)
		sorted := slices.Clone(got)
		slices.Sort(sorted)
		if !slices.Equal(sorted, []string{"id1", "id2", "id3"}) {
			t.Errorf("shuffle lost or duplicated items: %v", got)
		}
	})

	t.Run("shuffle_seeded_is_deterministic", func(t *testing.T) {
		long := make([]string, 50)
		for i := range long {
			long[i] = string(rune('A' + i))
		}
		a := ApplyOrder(long, OrderShuffle, rand.New(rand.NewPCG(7, 7)))
		b := ApplyOrder(long, OrderShuffle, rand.New(rand.NewPCG(7, 7)))
		if !slices.Equal(a, b) {
			t.Error("same seed should give the same permutation")
		}
	})
}

func TestParseOrder(t *testing.T) {
	for in, want := range map[string]Order{"": OrderNormal, "Reverse": OrderReverse, " shuffle ": OrderShuffle} {
		got, err := ParseOrder(in)
		if err != nil || got != want {
			t.Errorf("ParseOrder(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOrder("random"); err == nil {
		t.Error("expected error for unknown order")
	}
}

func TestCommandResolver_Resolve(t *testing.T) {
	r := &CommandResolver{Bin: fakeLister(t, datedListing, 0)}

	ids, err := r.Resolve(context.Background(), Playlist{Name: "p", URL: "https://example.com/list", Order: OrderReverse})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !slices.Equal(ids, []string{"id3", "id2", "id1"}) {
		t.Errorf("got %v", ids)
	}
}

func TestCommandResolver_Resolve_shuffle_uses_source(t *testing.T) {
	calls := 0
	r := &CommandResolver{
		Bin: fakeLister(t, datedListing, 0),
		NewRand: func() *rand.Rand {
			calls++
			return rand.New(rand.NewPCG(3, 4))
		},
	}
	ids, err := r.Resolve(context.Background(), Playlist{Name: "p", URL: "u", Order: OrderShuffle})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one random source per call, got %d", calls)
	}
	if len(ids) != 3 {
		t.Errorf("got %v", ids)
	}
}

func TestCommandResolver_Resolve_failures(t *testing.T) {
	t.Run("non_zero_exit", func(t *testing.T) {
		r := &CommandResolver{Bin: fakeLister(t, datedListing, 1)}
		_, err := r.Resolve(context.Background(), Playlist{Name: "p", URL: "u"})
		if !errors.Is(err, ErrResolution) {
			t.Errorf("expected ErrResolution, got %v", err)
		}
	})
	t.Run("unparseable", func(t *testing.T) {
		r := &CommandResolver{Bin: fakeLister(t, "<html>", 0)}
		_, err := r.Resolve(context.Background(), Playlist{Name: "p", URL: "u"})
		if !errors.Is(err, ErrResolution) {
			t.Errorf("expected ErrResolution, got %v", err)
		}
	})
	t.Run("missing_binary", func(t *testing.T) {
		r := &CommandResolver{Bin: filepath.Join(t.TempDir(), "missing")}
		_, err := r.Resolve(context.Background(), Playlist{Name: "p", URL: "u"})
		if !errors.Is(err, ErrResolution) {
			t.Errorf("expected ErrResolution, got %v", err)
		}
	})
}
