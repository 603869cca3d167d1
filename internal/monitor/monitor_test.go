package monitor_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/monitor"
	"github.com/tracker-project/trackerfs/internal/policy"
)

func newTestMonitor(t *testing.T, cfg monitor.Config) (*monitor.Monitor, *eventRecorder) {
	t.Helper()
	p := policy.New(policy.Config{})
	m, err := monitor.New(cfg, p, nil)
	require.NoError(t, err)

	rec := &eventRecorder{}
	m.SetCallback(rec.record)
	return m, rec
}

type eventRecorder struct {
	mu     sync.Mutex
	events []monitor.ChangeEvent
}

func (r *eventRecorder) record(ev monitor.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []monitor.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]monitor.ChangeEvent(nil), r.events...)
}

func fastCoalesceConfig() monitor.Config {
	return monitor.Config{
		CoalesceWindow:        20 * time.Millisecond,
		MoveCorrelationWindow: 200 * time.Millisecond,
		WatchLimit:            1024,
	}
}

// TestCreatedFileEmitsChangeCreated exercises a real fsnotify round trip:
// a watched directory, a new file, and the coalesced ChangeCreated event.
func TestCreatedFileEmitsChangeCreated(t *testing.T) {
	root := t.TempDir()
	m, rec := newTestMonitor(t, fastCoalesceConfig())
	require.NoError(t, m.AddRoot(model.MustUri(root)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	path := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, ev := range rec.snapshot() {
			if ev.Uri.String() == path && ev.Kind == monitor.ChangeCreated {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

// TestDeleteOutranksCreateInCoalescing checks spec.md §4.3's coalescing
// priority: a create immediately followed by a delete on the same path
// within one coalesce window settles as Deleted, not Created.
func TestDeleteOutranksCreateInCoalescing(t *testing.T) {
	root := t.TempDir()
	cfg := fastCoalesceConfig()
	cfg.CoalesceWindow = 150 * time.Millisecond
	m, rec := newTestMonitor(t, cfg)
	require.NoError(t, m.AddRoot(model.MustUri(root)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	path := filepath.Join(root, "churn.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		for _, ev := range rec.snapshot() {
			if ev.Uri.String() == path {
				return ev.Kind == monitor.ChangeDeleted
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

// TestRenamePairsMovedFromWithCreate checks that a real rename (a Rename
// event on the source followed by a Create on the destination) resolves,
// through the single-outstanding-orphan fallback, into one MovedFrom event
// carrying ToUri.
func TestRenamePairsMovedFromWithCreate(t *testing.T) {
	root := t.TempDir()
	m, rec := newTestMonitor(t, fastCoalesceConfig())
	require.NoError(t, m.AddRoot(model.MustUri(root)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	from := filepath.Join(root, "old.txt")
	require.NoError(t, os.WriteFile(from, []byte("x"), 0o644))
	require.NoError(t, os.Rename(from, filepath.Join(root, "new.txt")))

	require.Eventually(t, func() bool {
		for _, ev := range rec.snapshot() {
			if ev.Kind == monitor.ChangeMovedFrom && ev.Uri.String() == from {
				return !ev.ToUri.IsZero()
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
