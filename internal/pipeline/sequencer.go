package pipeline

import "sync"

// RequestID identifies one dispatched operation. IDs are strictly
// increasing and are compared only for freshness, never for ordering
// semantics beyond "is current".
type RequestID uint64

// Sequencer is the single source of truth for the latest requested
// operation. All access goes through one lock; holders never block.
type Sequencer struct {
	mu sync.Mutex
	id RequestID
}

// Next atomically advances and returns the new current id.
func (s *Sequencer) Next() RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id++
	return s.id
}

// Current returns the latest issued id.
func (s *Sequencer) Current() RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// IsCurrent reports whether id is still the latest. Any operation must
// re-check this after every suspension point: once before consuming the
// results of a blocking call, and again before publishing to the UI.
func (s *Sequencer) IsCurrent(id RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id == s.id
}
