package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/config"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, 0, cfg.Throttle)
	assert.Equal(t, 8192, cfg.WatchLimit)
	assert.Equal(t, 100_000, cfg.MaxPendingItems)
	assert.True(t, cfg.EnableIndexing)
	assert.True(t, cfg.EnableWatches)
	assert.NotEmpty(t, cfg.WatchDirectoryRoots, "the home directory is watched by default")
}

// TestLoadAppliesEnvOverride checks that a TRACKERFS_*-prefixed
// environment variable overrides the built-in default, the same
// precedence the teacher's own config layering uses for its env vars.
func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("TRACKERFS_THROTTLE", "7")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Throttle)
}

func TestLoadAppliesBoolEnvOverride(t *testing.T) {
	t.Setenv("TRACKERFS_ENABLE_WATCHES", "false")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.EnableWatches)
}
