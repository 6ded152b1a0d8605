package relay

import (
	"fmt"
	"strings"
	"time"
)

// Order is a playlist ordering policy.
type Order string

const (
	OrderNormal  Order = "normal"
	OrderReverse Order = "reverse"
	OrderShuffle Order = "shuffle"
)

// ParseOrder accepts the policy names case-insensitively; "" means normal.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderNormal, nil
	case OrderNormal, OrderReverse, OrderShuffle:
		return o, nil
	default:
		return "", fmt.Errorf("unknown playlist order %q", s)
	}
}

// Playlist is a configured source of items. The set of playlists is static
// for the lifetime of the process.
type Playlist struct {
	Name  string
	URL   string
	Order Order
}

// ResolvedPlaylist is the ordered item IDs of a playlist at ResolvedAt.
// Values are replaced wholesale on refresh and never mutated once shared.
type ResolvedPlaylist struct {
	IDs        []string  `json:"ids"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Len is nil-safe.
func (r *ResolvedPlaylist) Len() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}
