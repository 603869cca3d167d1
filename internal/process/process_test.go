package process_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/process"
	"github.com/tracker-project/trackerfs/internal/queue"
	"github.com/tracker-project/trackerfs/internal/sink"
)

func writeTempFile(t *testing.T, content string) model.Uri {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return model.MustUri(path)
}

func TestNeedsIndex(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Hour)

	tests := []struct {
		name   string
		kind   model.ActionKind
		disk   time.Time
		index  time.Time
		expect bool
	}{
		{"newer disk mtime", model.ActionCheck, now, older, true},
		{"unchanged mtime", model.ActionCheck, now, now, false},
		{"create always needs index", model.ActionCreate, older, now, true},
		{"writable-closed always needs index", model.ActionWritableClosed, older, now, true},
		{"moved-from never needs index", model.ActionMovedFrom, now, older, false},
		{"moved-to never needs index", model.ActionMovedTo, now, older, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := model.PendingItem{Action: model.Action{ActionKind: tt.kind}}
			assert.Equal(t, tt.expect, process.NeedsIndex(item, tt.disk, tt.index))
		})
	}
}

func TestProcessorIndexesNewFile(t *testing.T) {
	uri := writeTempFile(t, "hello")
	store := sink.NewMemorySink()
	q := queue.New(nil, nil, 0)
	p := process.New(q, store, nil, nil, nil)

	q.Enqueue(model.PendingItem{Uri: uri, Action: model.Action{ActionKind: model.ActionCreate}})
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Close()
	}()

	err := p.Run(context.Background())
	require.NoError(t, err)

	info, found, err := store.GetFileInfo(context.Background(), uri)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.KindFile, info.Kind)
}

// TestReindexWithoutChangesIsIdempotent checks spec.md's reindex-idempotence
// property: running the processor again over an unchanged file performs no
// further mutation.
func TestReindexWithoutChangesIsIdempotent(t *testing.T) {
	uri := writeTempFile(t, "hello")
	store := sink.NewMemorySink()
	q := queue.New(nil, nil, 0)
	p := process.New(q, store, nil, nil, nil)

	q.Enqueue(model.PendingItem{Uri: uri, Action: model.Action{ActionKind: model.ActionCreate}})
	go func() { time.Sleep(20 * time.Millisecond); q.Close() }()
	require.NoError(t, p.Run(context.Background()))

	before, found, err := store.GetFileInfo(context.Background(), uri)
	require.NoError(t, err)
	require.True(t, found)

	q2 := queue.New(nil, nil, 0)
	p2 := process.New(q2, store, nil, nil, nil)
	q2.Enqueue(model.PendingItem{Uri: uri, Action: model.Action{ActionKind: model.ActionCheck}})
	go func() { time.Sleep(20 * time.Millisecond); q2.Close() }()
	require.NoError(t, p2.Run(context.Background()))

	after, found, err := store.GetFileInfo(context.Background(), uri)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, before.FileID, after.FileID)
	assert.Equal(t, before.Mtime, after.Mtime)
}

func TestProcessorDeletesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	uri := model.MustUri(path)

	store := sink.NewMemorySink()
	id, err := store.InsertFile(context.Background(), uri, model.KindFile, time.Now(), 1, "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	q := queue.New(nil, nil, 0)
	p := process.New(q, store, nil, nil, nil)
	q.Enqueue(model.PendingItem{Uri: uri, Action: model.Action{ActionKind: model.ActionDelete}})
	go func() { time.Sleep(20 * time.Millisecond); q.Close() }()
	require.NoError(t, p.Run(context.Background()))

	_, found, err := store.GetFileInfo(context.Background(), uri)
	require.NoError(t, err)
	assert.False(t, found, "deleted file id %d must be gone from the sink", id)
}

// TestProcessorAppliesCorrelatedMove checks that a MovedFrom action carrying
// a resolved ToUri applies as a single MoveFile, not a delete+create.
func TestProcessorAppliesCorrelatedMove(t *testing.T) {
	dir := t.TempDir()
	fromPath := filepath.Join(dir, "old.txt")
	toPath := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(toPath, []byte("x"), 0o644))
	fromUri := model.MustUri(fromPath)
	toUri := model.MustUri(toPath)

	store := sink.NewMemorySink()
	_, err := store.InsertFile(context.Background(), fromUri, model.KindFile, time.Now(), 1, "")
	require.NoError(t, err)

	q := queue.New(nil, nil, 0)
	p := process.New(q, store, nil, nil, nil)
	q.Enqueue(model.PendingItem{
		Uri:    fromUri,
		Action: model.Action{ActionKind: model.ActionMovedFrom, Cookie: "c1", ToUri: toUri},
	})
	go func() { time.Sleep(20 * time.Millisecond); q.Close() }()
	require.NoError(t, p.Run(context.Background()))

	_, foundOld, err := store.GetFileInfo(context.Background(), fromUri)
	require.NoError(t, err)
	assert.False(t, foundOld)

	_, foundNew, err := store.GetFileInfo(context.Background(), toUri)
	require.NoError(t, err)
	assert.True(t, foundNew)
}

type failingInsertSink struct {
	*sink.MemorySink
}

func (f failingInsertSink) InsertFile(ctx context.Context, uri model.Uri, kind model.FileKind, mtime time.Time, size int64, serviceType string) (int64, error) {
	return 0, assertErr
}

type testErr struct{}

func (testErr) Error() string { return "insert always fails" }

var assertErr = testErr{}

// TestProcessorDropsItemAfterMaxCounter checks spec.md's MAX_COUNTER=3
// reschedule ceiling: an item that keeps failing is eventually dropped
// rather than requeued forever.
func TestProcessorDropsItemAfterMaxCounter(t *testing.T) {
	uri := writeTempFile(t, "hello")
	store := failingInsertSink{MemorySink: sink.NewMemorySink()}
	q := queue.New(nil, nil, 0)
	p := process.New(q, store, nil, nil, nil)

	q.Enqueue(model.PendingItem{
		Uri:    uri,
		Action: model.Action{ActionKind: model.ActionCreate, Counter: process.MaxCounter - 1},
	})
	go func() { time.Sleep(50 * time.Millisecond); q.Close() }()
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 0, q.Len(), "the item must be dropped, not left requeued forever")
}
