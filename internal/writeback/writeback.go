// Package writeback implements WritebackTracker: an allow-list of
// predicates and the set of subjects mutated on those predicates since
// the last reset (spec.md §4.8, §9 design notes).
package writeback

import "sync"

// Allowances is a set of predicate IRIs, not a keyed map (spec.md §9).
type Allowances map[string]struct{}

// NewAllowances builds an Allowances set from a caller-supplied list,
// loaded once at init and immutable thereafter (spec.md §3).
func NewAllowances(predicates []string) Allowances {
	a := make(Allowances, len(predicates))
	for _, p := range predicates {
		a[p] = struct{}{}
	}
	return a
}

func (a Allowances) contains(predicate string) bool {
	_, ok := a[predicate]
	return ok
}

// Tracker observes StorageSink mutations and accumulates the set of
// subject uris whose allow-listed predicates were mutated since the last
// Reset. Single writer (the Processor, via OnMutation), single reader
// (the external writeback consumer, via GetPending); both serialized by mu.
type Tracker struct {
	mu      sync.Mutex
	allowed Allowances
	pending map[string]struct{} // set of subject uris (spec.md §9)
}

// New creates a Tracker with a fixed Allowances set.
func New(allowed Allowances) *Tracker {
	return &Tracker{allowed: allowed, pending: make(map[string]struct{})}
}

// OnMutation is the StorageSink mutation-observer callback
// (graph, subject, predicate, object): if predicate is allow-listed,
// subject is added to the current epoch's pending set.
func (t *Tracker) OnMutation(graph, subject, predicate, object string) {
	if !t.allowed.contains(predicate) {
		return
	}
	t.mu.Lock()
	t.pending[subject] = struct{}{}
	t.mu.Unlock()
}

// GetPending returns a snapshot of subjects with at least one mutation on
// an allow-listed predicate since the last Reset (spec.md §8 invariant 7).
func (t *Tracker) GetPending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.pending))
	for s := range t.pending {
		out = append(out, s)
	}
	return out
}

// Reset clears the pending set, starting a new epoch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.pending = make(map[string]struct{})
	t.mu.Unlock()
}
