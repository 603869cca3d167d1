package extract_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/extract"
	"github.com/tracker-project/trackerfs/internal/model"
)

func TestGuessMimeByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	assert.Equal(t, "text/plain", extract.GuessMime(model.MustUri(path)))
}

func TestGuessMimeSniffsBinaryWithoutExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0xff}, 0o644))
	assert.Equal(t, "application/octet-stream", extract.GuessMime(model.MustUri(path)))
}

func TestGuessMimeSniffsTextWithoutExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readme")
	require.NoError(t, os.WriteFile(path, []byte("plain text content"), 0o644))
	assert.Equal(t, "text/plain", extract.GuessMime(model.MustUri(path)))
}

func TestRegistryResolveFallsBackToGeneric(t *testing.T) {
	r := extract.NewRegistry()
	r.RegisterDefaults()

	_, ok := r.Resolve("application/pdf")
	assert.True(t, ok, "an unregistered mime type falls back to the generic extractor")

	fn, ok := r.Resolve("text/plain")
	require.True(t, ok)

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one two three"), 0o644))
	fields, err := fn(context.Background(), model.MustUri(path), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, 3, fields["nie:contentWordCount"])
}

func TestRegistryResolveWithoutDefaultsReportsMiss(t *testing.T) {
	r := extract.NewRegistry()
	_, ok := r.Resolve("text/plain")
	assert.False(t, ok)
}
