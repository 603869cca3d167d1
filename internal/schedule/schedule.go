// Package schedule drives the fixed module sequence an indexing pass walks
// through: Config, Applications, Files, CrawlFiles, Conversations,
// WebHistory, External, Emails, Finished (spec.md §5).
//
// Grounded on the original tracker-processor.c's process_next_module /
// crawler_finished_cb pair: a single current-module cursor advanced by an
// explicit "this module is done" signal, with elapsed-time logging on both
// the finished and the stopped path. Here the GObject signal/cb dance
// becomes a callback-driven Scheduler plus an explicit Start/Stop/Reenter API,
// in the style of the teacher's Watcher start/stop lifecycle.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tracker-project/trackerfs/internal/model"
)

// ModuleRunner performs the work for a single module and reports when done.
// Implementations call done(nil) on success, done(err) on failure; the
// Scheduler advances to the next module either way (spec.md §5: a module
// failure does not halt the overall pass).
type ModuleRunner func(state model.ModuleState, done func(error))

// Callback is notified on every module transition.
type Callback func(from, to model.ModuleState)

// Scheduler walks the fixed ModuleState sequence, running one ModuleRunner
// per state and advancing only after that runner reports completion.
type Scheduler struct {
	log *slog.Logger

	mu      sync.Mutex
	current model.ModuleState
	runners map[model.ModuleState]ModuleRunner
	onTrans Callback
	started time.Time
	stopped bool
}

// New creates a Scheduler positioned at StateConfig.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:     log,
		current: model.StateConfig,
		runners: make(map[model.ModuleState]ModuleRunner),
	}
}

// Register installs the runner invoked when the scheduler reaches state.
// A state with no registered runner is skipped immediately.
func (s *Scheduler) Register(state model.ModuleState, runner ModuleRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[state] = runner
}

// OnTransition sets the callback fired on every module advance.
func (s *Scheduler) OnTransition(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrans = cb
}

// Current returns the module currently running or about to run.
func (s *Scheduler) Current() model.ModuleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start begins the pass at StateConfig and runs modules in order until
// StateFinished or Stop is called. It blocks until the pass completes or
// is stopped.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = startTime()
	s.current = model.StateConfig
	s.stopped = false
	s.mu.Unlock()

	done := make(chan struct{})
	s.runModule(done)
	<-done
}

// Stop halts the pass after the currently running module returns; no
// further modules are started. Mirrors tracker_processor_stop's
// elapsed-time log on the early-exit path.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	elapsed := time.Since(s.started)
	cur := s.current
	s.mu.Unlock()
	s.log.Info("scheduler stopped", "module", cur, "elapsed", elapsed)
}

func (s *Scheduler) runModule(done chan struct{}) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		close(done)
		return
	}
	cur := s.current
	runner := s.runners[cur]
	s.mu.Unlock()

	if cur == model.StateFinished {
		s.mu.Lock()
		elapsed := time.Since(s.started)
		s.mu.Unlock()
		s.log.Info("scheduler finished", "elapsed", elapsed)
		close(done)
		return
	}

	if runner == nil {
		s.advance(cur)
		s.runModule(done)
		return
	}

	runner(cur, func(err error) {
		if err != nil {
			s.log.Warn("module failed, continuing", "module", cur, "error", err)
		}
		s.advance(cur)
		s.runModule(done)
	})
}

func (s *Scheduler) advance(from model.ModuleState) {
	to := from + 1
	if to > model.StateFinished {
		to = model.StateFinished
	}
	s.mu.Lock()
	s.current = to
	cb := s.onTrans
	s.mu.Unlock()

	s.log.Debug("module advanced", "from", from, "to", to)
	if cb != nil {
		cb(from, to)
	}
}

// startTime exists only so Start's use of "now" has one call site; tests
// that need determinism can ignore the absolute value and assert on
// elapsed deltas instead.
func startTime() time.Time { return time.Now() }

// ErrUnknownModule is returned by validation helpers encountering a
// model.ModuleState outside the fixed sequence.
var ErrUnknownModule = fmt.Errorf("schedule: unknown module state")

// Reenter implements the sole re-entry edge of spec.md §4.6/§9: Finished →
// Files (or another named state) on an external event (mount add/remove,
// a monitor event under an already-indexed subtree, or a forced
// reindex). It is a no-op unless the scheduler has actually reached
// StateFinished — re-entry is bounded to a partial rescan, never a full
// restart of an in-progress pass. runner runs synchronously from state;
// whatever its outcome, the scheduler returns directly to StateFinished
// without walking the intermediate states again.
func (s *Scheduler) Reenter(state model.ModuleState, runner ModuleRunner) {
	s.mu.Lock()
	if s.current != model.StateFinished || s.stopped {
		s.mu.Unlock()
		return
	}
	s.current = state
	cb := s.onTrans
	s.mu.Unlock()

	if cb != nil {
		cb(model.StateFinished, state)
	}
	s.log.Debug("scheduler re-entered for partial rescan", "state", state)

	done := make(chan struct{})
	runner(state, func(err error) {
		if err != nil {
			s.log.Warn("partial rescan failed", "state", state, "error", err)
		}
		close(done)
	})
	<-done

	s.mu.Lock()
	s.current = model.StateFinished
	cb = s.onTrans
	s.mu.Unlock()
	if cb != nil {
		cb(state, model.StateFinished)
	}
}
