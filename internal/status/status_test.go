package status_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tracker-project/trackerfs/internal/status"
)

func TestNewStartsIdle(t *testing.T) {
	s := status.New()
	assert.Equal(t, status.Idle, s.Current().State)
}

func TestSubscribeReplaysCurrentTransition(t *testing.T) {
	s := status.New()
	s.Set(status.Transition{State: status.Watching})

	var got status.Transition
	s.Subscribe(func(t status.Transition) { got = t })

	assert.Equal(t, status.Watching, got.State)
}

func TestSetNotifiesAllSubscribers(t *testing.T) {
	s := status.New()

	var a, b []status.State
	s.Subscribe(func(t status.Transition) { a = append(a, t.State) })
	s.Subscribe(func(t status.Transition) { b = append(b, t.State) })

	s.Set(status.Transition{State: status.Indexing})
	s.Set(status.Transition{State: status.Pending})

	assert.Equal(t, []status.State{status.Idle, status.Indexing, status.Pending}, a)
	assert.Equal(t, []status.State{status.Idle, status.Indexing, status.Pending}, b)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "indexing", status.Indexing.String())
	assert.Equal(t, "unknown", status.State(99).String())
}
