// Package status implements a lightweight publish-subscribe model for the
// indexer's operating state (spec.md §4.9).
package status

import "sync"

// State enumerates the operating states an observer can see.
type State int

const (
	Idle State = iota
	Initializing
	Watching
	Indexing
	Pending
	Optimizing
	Shutdown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Watching:
		return "watching"
	case Indexing:
		return "indexing"
	case Pending:
		return "pending"
	case Optimizing:
		return "optimizing"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Transition is the tuple carried with every state change, letting
// observers reconstruct state without further queries (spec.md §4.9).
type Transition struct {
	State          State
	FirstTimeIndex bool
	InMerge        bool
	PauseManual    bool
	PauseOnBattery bool
	PauseIO        bool
	EnableIndexing bool
}

// Observer receives transitions.
type Observer func(Transition)

// Status holds the current transition and notifies subscribed observers.
type Status struct {
	mu        sync.Mutex
	current   Transition
	observers []Observer
}

// New creates a Status starting at Idle.
func New() *Status {
	return &Status{current: Transition{State: Idle, EnableIndexing: true}}
}

// Subscribe registers obs to receive every future transition, and
// immediately replays the current one so new subscribers don't need to
// poll.
func (s *Status) Subscribe(obs Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	current := s.current
	s.mu.Unlock()
	obs(current)
}

// Set records a new transition and notifies all observers.
func (s *Status) Set(t Transition) {
	s.mu.Lock()
	s.current = t
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, obs := range observers {
		obs(t)
	}
}

// Current returns the most recent transition.
func (s *Status) Current() Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
