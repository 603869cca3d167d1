package writeback_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tracker-project/trackerfs/internal/writeback"
)

// TestOnMutationFiltersByAllowList checks spec.md invariant 7: only
// mutations on allow-listed predicates accumulate pending subjects.
func TestOnMutationFiltersByAllowList(t *testing.T) {
	tr := writeback.New(writeback.NewAllowances([]string{"nie:title", "nie:keyword"}))

	tr.OnMutation("", "urn:a", "nie:title", "report")
	tr.OnMutation("", "urn:b", "nie:mimeType", "text/plain")

	pending := tr.GetPending()
	assert.Contains(t, pending, "urn:a")
	assert.NotContains(t, pending, "urn:b")
}

func TestOnMutationDeduplicatesSubjects(t *testing.T) {
	tr := writeback.New(writeback.NewAllowances([]string{"nie:title"}))

	tr.OnMutation("", "urn:a", "nie:title", "one")
	tr.OnMutation("", "urn:a", "nie:title", "two")

	assert.Len(t, tr.GetPending(), 1)
}

func TestResetStartsNewEpoch(t *testing.T) {
	tr := writeback.New(writeback.NewAllowances([]string{"nie:title"}))

	tr.OnMutation("", "urn:a", "nie:title", "one")
	require := assert.New(t)
	require.Len(tr.GetPending(), 1)

	tr.Reset()
	require.Empty(tr.GetPending())
}

func TestEmptyAllowancesTrackNothing(t *testing.T) {
	tr := writeback.New(writeback.NewAllowances(nil))
	tr.OnMutation("", "urn:a", "nie:title", "one")
	assert.Empty(t, tr.GetPending())
}
