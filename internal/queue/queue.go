// Package queue implements PendingQueue: a multi-producer, single-consumer
// FIFO of PendingItems, deduplicated by (uri, action) and backed by a
// journal for crash recovery (spec.md §4.5).
//
// Grounded on the teacher's internal/index.Indexer worker-pool shape
// (sync.Mutex-protected shared state plus a condition for blocking
// consumers, as in Watcher.pendingMu/pending) generalized from "debounce
// buffer flushed on a timer" to "durable FIFO with explicit dequeue".
package queue

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tracker-project/trackerfs/internal/journal"
	"github.com/tracker-project/trackerfs/internal/model"
)

// Queue is a durable-ish FIFO of PendingItems. At most one item per
// (uri, action) equivalence class is ever observable (spec.md §8
// invariant 2): enqueuing an equivalent item updates the existing node's
// counter/enqueue_instant in place without moving it in FIFO order.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	order    *list.List // of *model.PendingItem, FIFO order preserved across updates
	byKey    map[string]*list.Element
	journal  *journal.Journal
	log      *slog.Logger
	degraded bool // true once journal writes fail; queue becomes pure in-memory (spec.md §7 QueueError)
	maxItems int
	closed   bool
}

// New creates a Queue. j may be nil to run purely in-memory (used by tests
// and the degraded-mode fallback). maxItems bounds memory per spec.md §5
// (default 100000 when 0 is passed).
func New(j *journal.Journal, log *slog.Logger, maxItems int) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if maxItems <= 0 {
		maxItems = 100_000
	}
	q := &Queue{
		order:    list.New(),
		byKey:    make(map[string]*list.Element),
		journal:  j,
		log:      log,
		maxItems: maxItems,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds item to the tail, or updates the existing equivalent item
// in place (counter = max, enqueue_instant = now) without resetting its
// FIFO position, per spec.md §4.5. Blocks if the queue is at maxItems and
// no equivalent item already exists (spec.md §5 resource discipline).
func (q *Queue) Enqueue(item model.PendingItem) {
	q.mu.Lock()
	defer func() {
		q.cond.Signal()
		q.mu.Unlock()
	}()

	key := item.Key()
	if el, ok := q.byKey[key]; ok {
		existing := el.Value.(*model.PendingItem)
		if item.Action.Counter > existing.Action.Counter {
			existing.Action.Counter = item.Action.Counter
		}
		existing.EnqueueInstant = item.EnqueueInstant
		q.appendJournal(item)
		return
	}

	for q.order.Len() >= q.maxItems {
		q.cond.Wait()
	}

	it := item
	el := q.order.PushBack(&it)
	q.byKey[key] = el
	q.appendJournal(item)
}

func (q *Queue) appendJournal(item model.PendingItem) {
	if q.journal == nil || q.degraded {
		return
	}
	_, err := q.journal.Append(journal.Record{
		Op:    journal.OpEnqueue,
		Uri:   item.Uri.String(),
		Kind:  item.WatchKind,
		Mtime: item.EnqueueInstant,
	})
	if err != nil {
		q.log.Warn("queue: journal write failed, degrading to in-memory queue", "err", err)
		q.degraded = true
	}
}

// TryDequeue pops the head item, or reports ok=false if the queue is empty.
func (q *Queue) TryDequeue() (model.PendingItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Dequeue blocks until an item is available or the queue is closed.
func (q *Queue) Dequeue() (model.PendingItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.order.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.popLocked()
}

func (q *Queue) popLocked() (model.PendingItem, bool) {
	front := q.order.Front()
	if front == nil {
		return model.PendingItem{}, false
	}
	item := *front.Value.(*model.PendingItem)
	q.order.Remove(front)
	delete(q.byKey, item.Key())
	q.cond.Broadcast() // wake producers blocked on maxItems
	return item, true
}

// HasPending reports whether any item is queued.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len() > 0
}

// Len reports the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// RemoveForUri purges every pending item for uri, used on an explicit
// delete to drop superseded items (spec.md §4.5).
func (q *Queue) RemoveForUri(uri model.Uri) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var toRemove []*list.Element
	for el := q.order.Front(); el != nil; el = el.Next() {
		it := el.Value.(*model.PendingItem)
		if it.Uri == uri {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		it := el.Value.(*model.PendingItem)
		delete(q.byKey, it.Key())
		q.order.Remove(el)
	}
	q.cond.Broadcast()
}

// RemoveUnderPrefix purges every pending item whose uri lies at or under
// prefix, implementing the rule that deleting a directory removes all
// pending items for its subtree (spec.md §5 ordering guarantees).
func (q *Queue) RemoveUnderPrefix(prefix model.Uri) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var toRemove []*list.Element
	for el := q.order.Front(); el != nil; el = el.Next() {
		it := el.Value.(*model.PendingItem)
		if it.Uri.Under(prefix) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		it := el.Value.(*model.PendingItem)
		delete(q.byKey, it.Key())
		q.order.Remove(el)
	}
	q.cond.Broadcast()
}

// Checkpoint fsyncs the journal and truncates its applied prefix.
func (q *Queue) Checkpoint() error {
	q.mu.Lock()
	j := q.journal
	degraded := q.degraded
	q.mu.Unlock()

	if j == nil || degraded {
		return nil
	}
	seq, err := j.Checkpoint()
	if err != nil {
		return fmt.Errorf("queue: checkpoint: %w", err)
	}
	return j.Truncate(seq)
}

// Close unblocks any goroutine waiting in Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Recover replays j and re-enqueues every surviving record as a Check
// action, reconstructing the pre-crash queue state up to the last
// checkpoint (spec.md §8 invariant 5).
func Recover(path string, log *slog.Logger) (*Queue, *journal.Journal, error) {
	records, err := journal.Replay(path)
	if err != nil {
		return nil, nil, fmt.Errorf("queue: recover: %w", err)
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, nil, err
	}
	q := New(j, log, 0)
	for _, r := range records {
		u, err := model.NewUri(r.Uri, "/")
		if err != nil {
			continue
		}
		q.Enqueue(model.PendingItem{
			Uri:            u,
			Action:         model.Action{Kind: r.Kind, ActionKind: model.ActionCheck},
			WatchKind:      r.Kind,
			EnqueueInstant: r.Mtime,
		})
	}
	return q, j, nil
}
