package mount_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/mount"
)

func TestMountAddedRemovableWins(t *testing.T) {
	mt := mount.New()
	path := model.MustUri("/media/usb")

	mt.MountAdded(path, false)
	assert.Contains(t, mt.MountedRoots(), path)

	mt.MountAdded(path, true)
	assert.NotContains(t, mt.MountedRoots(), path)
	assert.Contains(t, mt.RemovableRoots(), path)

	require.NoError(t, mt.Validate())
}

func TestMountRemoved(t *testing.T) {
	mt := mount.New()
	path := model.MustUri("/mnt/nas")

	mt.MountAdded(path, false)
	mt.MountRemoved(path)

	assert.NotContains(t, mt.MountedRoots(), path)
	assert.NotContains(t, mt.RemovableRoots(), path)
}

func TestMountEventsDelivered(t *testing.T) {
	mt := mount.New()
	var events []mount.Event
	mt.SetCallback(func(ev mount.Event) { events = append(events, ev) })

	path := model.MustUri("/media/cdrom")
	mt.MountAdded(path, true)
	mt.MountRemoved(path)

	require.Len(t, events, 2)
	assert.Equal(t, mount.MountAdded, events[0].Kind)
	assert.True(t, events[0].Removable)
	assert.Equal(t, mount.MountRemoved, events[1].Kind)
	assert.True(t, events[1].Removable, "remove event should report the set the path was removed from")
}

func TestMountDisjointInvariant(t *testing.T) {
	mt := mount.New()
	a := model.MustUri("/media/a")
	b := model.MustUri("/media/b")

	mt.MountAdded(a, false)
	mt.MountAdded(b, true)
	assert.NoError(t, mt.Validate())
}
