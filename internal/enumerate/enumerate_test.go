package enumerate_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/enumerate"
	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/policy"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden", "c.txt"), []byte("c"), 0o644))
	return root
}

func TestWalkYieldsTreeBreadthFirstSkippingIgnored(t *testing.T) {
	root := buildTree(t)
	p := policy.New(policy.Config{WatchRoots: []model.Uri{model.MustUri(root)}})
	e := enumerate.New(p, nil)

	var seen []string
	err := e.Walk(context.Background(), model.MustUri(root), func(entry enumerate.Entry) error {
		seen = append(seen, entry.Uri.String())
		return nil
	})
	require.NoError(t, err)

	assert.Contains(t, seen, root)
	assert.Contains(t, seen, filepath.Join(root, "a.txt"))
	assert.Contains(t, seen, filepath.Join(root, "sub"))
	assert.Contains(t, seen, filepath.Join(root, "sub", "b.txt"))
	assert.NotContains(t, seen, filepath.Join(root, ".hidden"), "dotfiles are ignored per the fixed ignore rules")
}

func TestWalkStopsEarlyOnYieldError(t *testing.T) {
	root := buildTree(t)
	p := policy.New(policy.Config{WatchRoots: []model.Uri{model.MustUri(root)}})
	e := enumerate.New(p, nil)

	stopErr := errors.New("stop")
	count := 0
	err := e.Walk(context.Background(), model.MustUri(root), func(entry enumerate.Entry) error {
		count++
		return stopErr
	})

	assert.ErrorIs(t, err, stopErr)
	assert.Equal(t, 1, count)
}

func TestWalkReturnsErrorForMissingRoot(t *testing.T) {
	p := policy.New(policy.Config{})
	e := enumerate.New(p, nil)

	err := e.Walk(context.Background(), model.MustUri(filepath.Join(t.TempDir(), "does-not-exist")), func(enumerate.Entry) error {
		return nil
	})
	assert.Error(t, err)
}

func TestWalkHonorsContextCancellation(t *testing.T) {
	root := buildTree(t)
	p := policy.New(policy.Config{WatchRoots: []model.Uri{model.MustUri(root)}})
	e := enumerate.New(p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Walk(ctx, model.MustUri(root), func(enumerate.Entry) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
