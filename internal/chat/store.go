package chat

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// DefaultDedupWindow bounds how far apart a local copy and its server-persisted
// original may be timestamped and still be treated as the same message.
const DefaultDedupWindow = 2 * time.Minute

// Store is the ordered, deduplicated message sequence of one room.
// One goroutine writes; any number may read snapshots.
type Store struct {
	mu     sync.RWMutex
	window time.Duration
	msgs   []Message
	ids    map[string]struct{}
	// server ids that already absorbed a local copy
	absorbed map[string]struct{}
	// only server messages stamped at or after this may absorb an appended copy
	watermark time.Time
	clock     uint64
}

// NewStore creates an empty store. A non-positive window uses DefaultDedupWindow.
func NewStore(window time.Duration) *Store {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Store{
		window:   window,
		ids:      make(map[string]struct{}),
		absorbed: make(map[string]struct{}),
	}
}

// Append adds m to the end. It returns false when m duplicates a stored message.
func (s *Store) Append(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = NewLocalID(m.CreatedAt)
	}
	if _, ok := s.ids[m.ID]; ok {
		return false
	}
	if m.Local() && !s.watermark.IsZero() {
		if id, ok := s.matchServer(m, s.msgs, s.watermark); ok {
			s.absorbed[id] = struct{}{}
			return false
		}
	}

	s.clock++
	m.Seq = s.clock
	s.msgs = append(s.msgs, m)
	s.ids[m.ID] = struct{}{}
	return true
}

// Seed merges a chronological batch into the store. Messages already present
// are kept once, local copies of batch messages are dropped, and everything
// else the store held (including realtime messages newer than the batch)
// survives. It returns the resulting size.
func (s *Store) Seed(batch []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]Message, len(s.msgs))
	for _, m := range s.msgs {
		existing[m.ID] = m
	}

	merged := make([]Message, 0, len(batch)+len(s.msgs))
	ids := make(map[string]struct{}, len(batch)+len(s.msgs))
	for _, m := range batch {
		if m.ID == "" {
			m.ID = NewLocalID(m.CreatedAt)
		}
		if _, dup := ids[m.ID]; dup {
			continue
		}
		if prev, ok := existing[m.ID]; ok {
			m.Seq = prev.Seq
		} else {
			s.clock++
			m.Seq = s.clock
		}
		ids[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	absorbed := make(map[string]struct{})
	for id := range s.absorbed {
		if _, ok := ids[id]; ok {
			absorbed[id] = struct{}{}
		}
	}
	s.absorbed = absorbed

	seeded := merged
	for _, m := range s.msgs {
		if _, ok := ids[m.ID]; ok {
			continue
		}
		if m.Local() {
			if id, ok := s.matchServer(m, seeded, time.Time{}); ok {
				s.absorbed[id] = struct{}{}
				continue
			}
		}
		ids[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	slices.SortStableFunc(merged, func(a, b Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	s.msgs = merged
	s.ids = ids
	return len(s.msgs)
}

// SetWatermark marks when the current realtime connection opened. Append only
// treats a local message as an echo of a server message stamped at or after
// t; older server messages were delivered by history and cannot repeat.
// A zero watermark disables echo matching in Append.
func (s *Store) SetWatermark(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = t
}

// Messages returns a snapshot copy in display order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.msgs)
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Contains reports whether a message with id is stored.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// matchServer finds a server message in candidates, stamped no earlier than
// since, that m is a local copy of. Each server message absorbs at most one
// local copy.
func (s *Store) matchServer(m Message, candidates []Message, since time.Time) (string, bool) {
	for _, c := range candidates {
		if c.Local() || c.CreatedAt.Before(since) {
			continue
		}
		if _, used := s.absorbed[c.ID]; used {
			continue
		}
		if c.SenderUsername != m.SenderUsername || c.Body != m.Body || c.RecipientID != m.RecipientID {
			continue
		}
		delta := c.CreatedAt.Sub(m.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= s.window {
			return c.ID, true
		}
	}
	return "", false
}
