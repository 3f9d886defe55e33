package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/remdbg/remdbg/pkg/wire"
)

// Entry is a received message together with its arrival metadata.
type Entry struct {
	ID         uint64       `json:"id"`
	Session    string       `json:"session"`
	ReceivedAt time.Time    `json:"received_at"`
	Message    wire.Message `json:"-"`
}

// Store is a thread-safe bounded history of received messages. When full the
// oldest entry is overwritten. A background goroutine (Run) periodically
// evicts entries older than the configured TTL.
type Store struct {
	mu     sync.RWMutex
	ring   []Entry
	start  int // index of the oldest entry
	count  int
	nextID uint64
	ttl    time.Duration
	now    func() time.Time // injectable for deterministic tests
}

// New creates a Store holding at most size entries for at most ttl.
func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1
	}
	return &Store{
		ring: make([]Entry, size),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Add appends m received on session and returns the stored entry.
func (s *Store) Add(session string, m wire.Message) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := Entry{ID: s.nextID, Session: session, ReceivedAt: s.now(), Message: m}

	idx := (s.start + s.count) % len(s.ring)
	if s.count == len(s.ring) {
		s.start = (s.start + 1) % len(s.ring)
	} else {
		s.count++
	}
	s.ring[idx] = e
	return e
}

// List returns up to limit live entries with ID greater than after, oldest
// first. limit <= 0 means no limit. Entries past the TTL are excluded even
// if they have not been evicted yet.
func (s *Store) List(after uint64, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Entry, 0, s.count)
	for i := 0; i < s.count; i++ {
		e := s.ring[(s.start+i)%len(s.ring)]
		if e.ID <= after || !e.ReceivedAt.After(cutoff) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Count returns the number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// LastID returns the ID of the newest entry ever added.
func (s *Store) LastID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// Evict removes entries whose ReceivedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	// Entries are in arrival order, so stale ones are at the front.
	for s.count > 0 && !s.ring[s.start].ReceivedAt.After(cutoff) {
		s.ring[s.start] = Entry{}
		s.start = (s.start + 1) % len(s.ring)
		s.count--
		removed++
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale messages", "count", n)
			}
		}
	}
}
