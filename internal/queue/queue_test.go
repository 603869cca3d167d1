package queue_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/queue"
)

func checkItem(path string) model.PendingItem {
	return model.PendingItem{
		Uri:            model.MustUri(path),
		Action:         model.Action{ActionKind: model.ActionCheck},
		EnqueueInstant: time.Now(),
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := queue.New(nil, nil, 0)

	q.Enqueue(checkItem("/a"))
	q.Enqueue(checkItem("/b"))
	q.Enqueue(checkItem("/c"))

	for _, want := range []string{"/a", "/b", "/c"} {
		item, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, item.Uri.String())
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

// TestEnqueueDeduplicatesByKey checks spec.md invariant 2: at most one
// observable item per (uri, action) equivalence class.
func TestEnqueueDeduplicatesByKey(t *testing.T) {
	q := queue.New(nil, nil, 0)

	q.Enqueue(checkItem("/a"))
	q.Enqueue(checkItem("/a"))
	assert.Equal(t, 1, q.Len())

	item, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "/a", item.Uri.String())
	_, ok = q.TryDequeue()
	assert.False(t, ok, "the duplicate must not reappear as a second item")
}

func TestEnqueueUpdateDoesNotChangeFIFOPosition(t *testing.T) {
	q := queue.New(nil, nil, 0)

	q.Enqueue(checkItem("/a"))
	q.Enqueue(checkItem("/b"))
	q.Enqueue(checkItem("/a")) // re-enqueue, should stay at the front

	item, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "/a", item.Uri.String())
}

func TestRemoveUnderPrefix(t *testing.T) {
	q := queue.New(nil, nil, 0)

	q.Enqueue(checkItem("/home/alice/docs/a.txt"))
	q.Enqueue(checkItem("/home/alice/docs/sub/b.txt"))
	q.Enqueue(checkItem("/home/alice/other.txt"))

	q.RemoveUnderPrefix(model.MustUri("/home/alice/docs"))

	assert.Equal(t, 1, q.Len())
	item, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "/home/alice/other.txt", item.Uri.String())
}

func TestRemoveForUri(t *testing.T) {
	q := queue.New(nil, nil, 0)

	q.Enqueue(checkItem("/a"))
	q.Enqueue(model.PendingItem{Uri: model.MustUri("/a"), Action: model.Action{ActionKind: model.ActionDelete}})
	q.Enqueue(checkItem("/b"))

	q.RemoveForUri(model.MustUri("/a"))
	assert.Equal(t, 1, q.Len())
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := queue.New(nil, nil, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	var got model.PendingItem
	go func() {
		defer wg.Done()
		item, ok := q.Dequeue()
		require.True(t, ok)
		got = item
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(checkItem("/a"))
	wg.Wait()

	assert.Equal(t, "/a", got.Uri.String())
}

func TestDequeueUnblocksOnClose(t *testing.T) {
	q := queue.New(nil, nil, 0)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Close")
	}
}

// TestRecoverReplaysJournal checks spec.md invariant 5: recovery
// reconstructs the pre-crash queue up to the last checkpoint.
func TestRecoverReplaysJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.journal")

	q1, j1, err := queue.Recover(path, nil)
	require.NoError(t, err)
	q1.Enqueue(checkItem("/a"))
	q1.Enqueue(checkItem("/b"))
	require.NoError(t, j1.Close())

	q2, j2, err := queue.Recover(path, nil)
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, 2, q2.Len())
}
