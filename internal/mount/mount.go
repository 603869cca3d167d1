// Package mount implements MountTracker: tracking mounted/removable roots
// and emitting add/remove events to the Scheduler (spec.md §4.4).
//
// The teacher has no HAL/mount analog (it indexes a fixed project
// directory); this is grounded on the same constructor-injected,
// channel-callback idiom as internal/monitor.Monitor (itself grounded on
// the teacher's Watcher), generalized from "one fsnotify watcher" to "two
// disjoint live sets of roots".
package mount

import (
	"fmt"
	"sync"

	"github.com/tracker-project/trackerfs/internal/model"
)

// EventKind distinguishes a mount add from a mount remove.
type EventKind int

const (
	MountAdded EventKind = iota
	MountRemoved
)

// Event reports a change to the mounted or removable root sets.
type Event struct {
	Kind      EventKind
	Path      model.Uri
	Removable bool
}

// Callback receives mount/unmount notifications.
type Callback func(Event)

// MountTracker maintains the two live root sets described in spec.md §4.4:
// mounted_directory_roots and removable_device_roots. A path cannot
// appear in both sets simultaneously; removable wins.
type MountTracker struct {
	mu        sync.RWMutex
	mounted   map[string]model.Uri
	removable map[string]model.Uri
	onEvent   Callback
}

// New creates an empty MountTracker.
func New() *MountTracker {
	return &MountTracker{
		mounted:   make(map[string]model.Uri),
		removable: make(map[string]model.Uri),
	}
}

// SetCallback registers the handler invoked for each mount/unmount event.
func (t *MountTracker) SetCallback(cb Callback) { t.onEvent = cb }

// MountAdded records path as mounted. If removable is true it is placed in
// removable_device_roots (and removed from mounted_directory_roots if
// present there), enforcing the "removable wins" invariant.
func (t *MountTracker) MountAdded(path model.Uri, removable bool) {
	t.mu.Lock()
	key := path.String()
	if removable {
		delete(t.mounted, key)
		t.removable[key] = path
	} else {
		if _, already := t.removable[key]; !already {
			t.mounted[key] = path
		}
	}
	t.mu.Unlock()

	if t.onEvent != nil {
		t.onEvent(Event{Kind: MountAdded, Path: path, Removable: removable})
	}
}

// MountRemoved removes path from whichever set it belongs to.
func (t *MountTracker) MountRemoved(path model.Uri) {
	t.mu.Lock()
	key := path.String()
	_, wasRemovable := t.removable[key]
	delete(t.mounted, key)
	delete(t.removable, key)
	t.mu.Unlock()

	if t.onEvent != nil {
		t.onEvent(Event{Kind: MountRemoved, Path: path, Removable: wasRemovable})
	}
}

// MountedRoots returns a snapshot of mounted_directory_roots.
func (t *MountTracker) MountedRoots() []model.Uri {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Uri, 0, len(t.mounted))
	for _, u := range t.mounted {
		out = append(out, u)
	}
	return out
}

// RemovableRoots returns a snapshot of removable_device_roots.
func (t *MountTracker) RemovableRoots() []model.Uri {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Uri, 0, len(t.removable))
	for _, u := range t.removable {
		out = append(out, u)
	}
	return out
}

// Validate checks the disjointness invariant; used by tests and as a
// defensive assertion point since the map operations above already
// maintain it by construction.
func (t *MountTracker) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k := range t.mounted {
		if _, ok := t.removable[k]; ok {
			return fmt.Errorf("mount: %q present in both mounted and removable sets", k)
		}
	}
	return nil
}
