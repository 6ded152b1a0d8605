package relay

import (
	"context"
	"sync"
	"time"
)

// DefaultBufferChunks is the stream buffer capacity used when none is set.
const DefaultBufferChunks = 64

// StreamBuffer is a bounded broadcast queue of audio chunks for one playlist.
// It has a single producer and any number of subscribers; every subscriber
// receives every chunk pushed after its starting point, in push order.
//
// The buffer retains chunks from the oldest unread position of any
// subscriber (head) up to the next sequence number (tail). Push blocks while
// tail-head equals the capacity. Without subscribers nothing is consumed, so
// the buffer fills and the producer waits for the first listener.
//
// A subscriber that holds the producer back is evicted and receives
// ErrSlowListener. While another subscriber is caught up and starved, the
// stall is tolerated for lagGrace only; when every subscriber lags it is
// tolerated for slowAfter.
type StreamBuffer struct {
	capacity  int
	slowAfter time.Duration
	lagGrace  time.Duration

	mu     sync.Mutex
	ring   [][]byte
	head   uint64
	tail   uint64
	subs   map[*Subscription]struct{}
	wake   chan struct{}
	closed bool
}

// NewStreamBuffer returns a buffer holding at most capacity chunks.
// slowAfter <= 0 disables eviction while every subscriber lags; lagGrace <= 0
// disables the shorter limit that applies while a subscriber is caught up.
func NewStreamBuffer(capacity int, slowAfter, lagGrace time.Duration) *StreamBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferChunks
	}
	return &StreamBuffer{
		capacity:  capacity,
		slowAfter: slowAfter,
		lagGrace:  lagGrace,
		ring:      make([][]byte, capacity),
		subs:      make(map[*Subscription]struct{}),
		wake:      make(chan struct{}),
	}
}

// Push appends chunk, blocking while the buffer is full. The chunk is shared
// with every subscriber and must not be modified afterwards.
func (b *StreamBuffer) Push(ctx context.Context, chunk []byte) error {
	var stalledAt time.Time

	b.mu.Lock()
	for {
		if b.closed {
			b.mu.Unlock()
			return ErrBufferClosed
		}
		if int(b.tail-b.head) < b.capacity {
			b.ring[b.tail%uint64(b.capacity)] = chunk
			b.tail++
			b.notify()
			b.mu.Unlock()
			return nil
		}

		var wait time.Duration
		if limit := b.stallLimit(); limit > 0 {
			if stalledAt.IsZero() {
				stalledAt = time.Now()
			}
			wait = limit - time.Since(stalledAt)
			if wait <= 0 {
				b.evictLagging()
				stalledAt = time.Time{}
				continue
			}
		} else {
			stalledAt = time.Time{}
		}

		wake := b.wake
		b.mu.Unlock()

		if err := waitWake(ctx, wake, wait); err != nil {
			return err
		}
		b.mu.Lock()
	}
}

// stallLimit is how long a full buffer may hold the producer before the
// subscribers at head are evicted; 0 means indefinitely. Caller holds mu.
func (b *StreamBuffer) stallLimit() time.Duration {
	if len(b.subs) == 0 {
		return 0
	}
	limit := max(b.slowAfter, 0)
	if b.lagGrace > 0 && (limit == 0 || b.lagGrace < limit) && b.caughtUp() {
		limit = b.lagGrace
	}
	return limit
}

// caughtUp reports whether some subscriber has read everything pushed.
// Caller holds mu.
func (b *StreamBuffer) caughtUp() bool {
	for s := range b.subs {
		if s.next == b.tail {
			return true
		}
	}
	return false
}

// Subscribe registers a reader. It joins at the live point, the position of
// the most advanced subscriber, so it hears what the others hear. Without
// other subscribers it starts at the oldest retained chunk, which after an
// idle period is the backlog the producer stopped on.
func (b *StreamBuffer) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.head
	for s := range b.subs {
		start = max(start, s.next)
	}
	s := &Subscription{buf: b, next: start}
	b.subs[s] = struct{}{}
	return s
}

// Close wakes every waiter. Subscribers drain what is retained and then get
// ErrBufferClosed; Push fails with ErrBufferClosed.
func (b *StreamBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.notify()
}

// Len is the number of retained chunks.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.tail - b.head)
}

// Capacity is the maximum number of retained chunks.
func (b *StreamBuffer) Capacity() int {
	return b.capacity
}

// Subscribers is the number of registered subscriptions.
func (b *StreamBuffer) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// notify wakes everyone blocked on the current wake channel. Caller holds mu.
func (b *StreamBuffer) notify() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// advanceHead moves head to the slowest subscriber's cursor and releases the
// slots in between. Caller holds mu.
func (b *StreamBuffer) advanceHead() {
	if len(b.subs) == 0 {
		return
	}
	low := b.tail
	for s := range b.subs {
		low = min(low, s.next)
	}
	if low == b.head {
		return
	}
	for seq := b.head; seq < low; seq++ {
		b.ring[seq%uint64(b.capacity)] = nil
	}
	b.head = low
	b.notify()
}

// evictLagging drops the subscribers sitting at head. Caller holds mu.
func (b *StreamBuffer) evictLagging() {
	for s := range b.subs {
		if s.next == b.head {
			s.err = ErrSlowListener
			delete(b.subs, s)
		}
	}
	b.advanceHead()
	b.notify()
}

func (b *StreamBuffer) remove(s *Subscription) {
	delete(b.subs, s)
	b.advanceHead()
}

// Subscription is one reader of a StreamBuffer. It is not safe for
// concurrent use.
type Subscription struct {
	buf  *StreamBuffer
	next uint64
	err  error
}

// Next returns the next chunk, blocking until one is pushed. It returns
// ErrSlowListener after eviction, ErrBufferClosed once a closed buffer is
// drained or the subscription is closed, and ctx.Err() on cancellation.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	b := s.buf
	b.mu.Lock()
	for {
		chunk, ok, err := s.take()
		if ok || err != nil {
			b.mu.Unlock()
			return chunk, err
		}
		wake := b.wake
		b.mu.Unlock()

		if err := waitWake(ctx, wake, 0); err != nil {
			return nil, err
		}
		b.mu.Lock()
	}
}

// Pop returns the next chunk without blocking. ok is false when nothing is
// available or the subscription has ended.
func (s *Subscription) Pop() (chunk []byte, ok bool) {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()
	chunk, ok, _ = s.take()
	return chunk, ok
}

// Close unsubscribes, releasing any chunks only this subscription retained.
func (s *Subscription) Close() {
	b := s.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.err == nil {
		s.err = ErrBufferClosed
	}
	b.remove(s)
}

// take reads under mu. A nil chunk with ok false and nil err means wait.
func (s *Subscription) take() ([]byte, bool, error) {
	b := s.buf
	if s.err != nil {
		return nil, false, s.err
	}
	if s.next < b.tail {
		chunk := b.ring[s.next%uint64(b.capacity)]
		s.next++
		b.advanceHead()
		if s.next == b.tail {
			// A stalled producer re-evaluates its limit now that a
			// subscriber is starved.
			b.notify()
		}
		return chunk, true, nil
	}
	if b.closed {
		return nil, false, ErrBufferClosed
	}
	return nil, false, nil
}

// waitWake blocks until wake is closed, ctx is done, or timeout elapses.
// timeout <= 0 means no timeout.
func waitWake(ctx context.Context, wake <-chan struct{}, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-expired:
	}
	return nil
}
