package chat

import (
	"iter"
	"slices"
	"strings"
	"sync"
)

// Registry holds the participants eligible for direct replies in a room.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Participant
	// sorted by username, rebuilt on SetAll
	ordered []Participant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Participant)}
}

// SetAll replaces the known participants. Later duplicates of an id win.
func (r *Registry) SetAll(participants []Participant) {
	byID := make(map[string]Participant, len(participants))
	for _, p := range participants {
		if p.ID == "" {
			continue
		}
		byID[p.ID] = p
	}
	ordered := make([]Participant, 0, len(byID))
	for _, p := range byID {
		ordered = append(ordered, p)
	}
	slices.SortFunc(ordered, func(a, b Participant) int {
		if c := strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	r.mu.Lock()
	r.byID = byID
	r.ordered = ordered
	r.mu.Unlock()
}

// List yields the participants ordered by username. Each iteration reflects
// the registry contents at the time it starts.
func (r *Registry) List() iter.Seq[Participant] {
	return func(yield func(Participant) bool) {
		r.mu.RLock()
		snapshot := r.ordered
		r.mu.RUnlock()

		for _, p := range snapshot {
			if !yield(p) {
				return
			}
		}
	}
}

// Lookup returns the participant with id.
func (r *Registry) Lookup(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// ByUsername returns the first participant whose username matches, ignoring case.
func (r *Registry) ByUsername(username string) (Participant, bool) {
	for p := range r.List() {
		if strings.EqualFold(p.Username, username) {
			return p, true
		}
	}
	return Participant{}, false
}

// Len returns the number of participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
