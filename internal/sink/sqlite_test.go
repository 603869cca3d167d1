package sink_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/sink"
)

func openTestSqlite(t *testing.T) *sink.SqliteSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := sink.OpenSqlite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSqliteInsertAndGetFileInfo(t *testing.T) {
	s := openTestSqlite(t)
	ctx := context.Background()
	uri := model.MustUri("/home/alice/a.txt")
	now := time.Now().Truncate(time.Second)

	id, err := s.InsertFile(ctx, uri, model.KindFile, now, 42, "text/plain")
	require.NoError(t, err)
	assert.NotZero(t, id)

	info, found, err := s.GetFileInfo(ctx, uri)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, info.FileID)
	assert.Equal(t, model.KindFile, info.Kind)
}

func TestSqliteTransactionCommit(t *testing.T) {
	s := openTestSqlite(t)
	ctx := context.Background()
	uri := model.MustUri("/home/alice/b.txt")

	require.NoError(t, s.BeginTransaction(ctx))
	_, err := s.InsertFile(ctx, uri, model.KindFile, time.Now(), 1, "")
	require.NoError(t, err)
	require.NoError(t, s.CommitTransaction(ctx))

	_, found, err := s.GetFileInfo(ctx, uri)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSqliteTransactionRollback(t *testing.T) {
	s := openTestSqlite(t)
	ctx := context.Background()
	uri := model.MustUri("/home/alice/c.txt")

	require.NoError(t, s.BeginTransaction(ctx))
	_, err := s.InsertFile(ctx, uri, model.KindFile, time.Now(), 1, "")
	require.NoError(t, err)
	require.NoError(t, s.RollbackTransaction(ctx))

	_, found, err := s.GetFileInfo(ctx, uri)
	require.NoError(t, err)
	assert.False(t, found, "a rolled-back insert must not be visible")
}

func TestSqliteMoveFile(t *testing.T) {
	s := openTestSqlite(t)
	ctx := context.Background()
	from := model.MustUri("/home/alice/old.txt")
	to := model.MustUri("/home/alice/new.txt")

	_, err := s.InsertFile(ctx, from, model.KindFile, time.Now(), 1, "")
	require.NoError(t, err)
	require.NoError(t, s.MoveFile(ctx, from, to))

	_, found, err := s.GetFileInfo(ctx, from)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.GetFileInfo(ctx, to)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSqliteDeleteFile(t *testing.T) {
	s := openTestSqlite(t)
	ctx := context.Background()
	uri := model.MustUri("/home/alice/d.txt")

	id, err := s.InsertFile(ctx, uri, model.KindFile, time.Now(), 1, "")
	require.NoError(t, err)
	require.NoError(t, s.DeleteFile(ctx, id))

	_, found, err := s.GetFileInfo(ctx, uri)
	require.NoError(t, err)
	assert.False(t, found)
}
