package platform

import (
	"sync"
	"time"
)

// Outcome is the terminal result of a transition attempt series.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// TransitionRecord is one entry of the append-only transition history. It is
// diagnostic data, never consulted for control flow, and never mutated after
// creation.
type TransitionRecord struct {
	From     Context
	To       Context
	Attempts int
	Outcome  Outcome
	At       time.Time
}

// Store holds the last confirmed context and the transition history for one
// browser session. It is the single mutable piece of state in this subsystem.
// Only the Controller writes it, and only after a confirming classification;
// any number of callers may read it concurrently.
type Store struct {
	mu      sync.RWMutex
	current Context
	history []TransitionRecord
}

// NewStore returns a store for a freshly opened session, holding Unknown.
func NewStore() *Store {
	return &Store{current: Unknown}
}

// Current returns the last confirmed context.
func (s *Store) Current() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// History returns a copy of the transition records in append order.
func (s *Store) History() []TransitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TransitionRecord, len(s.history))
	copy(out, s.history)
	return out
}

// set is reserved for the Controller: the confirmed-context invariant lives
// in the call site, not here.
func (s *Store) set(c Context) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

// record appends one transition record.
func (s *Store) record(r TransitionRecord) {
	s.mu.Lock()
	s.history = append(s.history, r)
	s.mu.Unlock()
}
