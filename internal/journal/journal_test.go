package journal_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/journal"
)

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.journal")

	j, err := journal.Open(path)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	_, err = j.Append(journal.Record{Op: journal.OpEnqueue, Uri: "/home/alice/a.txt", Mtime: now})
	require.NoError(t, err)
	_, err = j.Append(journal.Record{Op: journal.OpEnqueue, Uri: "/home/alice/b.txt", Mtime: now})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	records, err := journal.Replay(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "/home/alice/a.txt", records[0].Uri)
	assert.Equal(t, "/home/alice/b.txt", records[1].Uri)
}

func TestReplaySkipsRecordsBeforeCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.journal")

	j, err := journal.Open(path)
	require.NoError(t, err)

	_, err = j.Append(journal.Record{Op: journal.OpEnqueue, Uri: "/a"})
	require.NoError(t, err)
	seq, err := j.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, j.Truncate(seq))

	_, err = j.Append(journal.Record{Op: journal.OpEnqueue, Uri: "/b"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	records, err := journal.Replay(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/b", records[0].Uri)
}

func TestReplayMissingFileIsEmpty(t *testing.T) {
	records, err := journal.Replay(filepath.Join(t.TempDir(), "does-not-exist.journal"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReplaySurvivesReopenAcrossAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.journal")

	j, err := journal.Open(path)
	require.NoError(t, err)
	_, err = j.Append(journal.Record{Op: journal.OpEnqueue, Uri: "/a"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j2, err := journal.Open(path)
	require.NoError(t, err)
	_, err = j2.Append(journal.Record{Op: journal.OpEnqueue, Uri: "/b"})
	require.NoError(t, err)
	require.NoError(t, j2.Close())

	records, err := journal.Replay(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
}
