// Package extract provides a reference ExtractorRegistry implementation
// and a small set of content-sniffing extractors.
//
// Grounded on the teacher's internal/index.IsTextFile/DetectLanguage
// helpers (null-byte + UTF-8 sniffing, extension-to-language table); here
// repurposed from "decide how to chunk for embedding" to "decide which
// mime-to-service extractor handles a uri" per spec.md §6's
// ExtractorRegistry.Resolve(mimeType) contract.
package extract

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/sink"
)

// Registry is a reference ExtractorRegistry keyed by mime type, with a
// fallback registered under "".
type Registry struct {
	byMime map[string]sink.ExtractFn
}

// NewRegistry builds an empty Registry. Use RegisterDefaults to install the
// reference text/binary extractors.
func NewRegistry() *Registry {
	return &Registry{byMime: make(map[string]sink.ExtractFn)}
}

// Register associates mimeType with fn. An empty mimeType registers the
// fallback used when Resolve finds no specific match.
func (r *Registry) Register(mimeType string, fn sink.ExtractFn) {
	r.byMime[mimeType] = fn
}

// Resolve implements sink.ExtractorRegistry.
func (r *Registry) Resolve(mimeType string) (sink.ExtractFn, bool) {
	if fn, ok := r.byMime[mimeType]; ok {
		return fn, true
	}
	if fn, ok := r.byMime[""]; ok {
		return fn, true
	}
	return nil, false
}

// RegisterDefaults installs extractors for plain text and a generic
// fallback that records basic filesystem facts only.
func (r *Registry) RegisterDefaults() {
	r.Register("text/plain", extractText)
	r.Register("", extractGeneric)
}

// GuessMime returns the MIME type registered for uri's extension, falling
// back to content sniffing (IsTextFile-equivalent) when the extension is
// unknown, the way the teacher's DetectLanguage/IsTextFile pair does for
// chunking decisions.
func GuessMime(uri model.Uri) string {
	ext := filepath.Ext(uri.String())
	if t := mime.TypeByExtension(ext); t != "" {
		return strings.SplitN(t, ";", 2)[0]
	}

	content, err := os.ReadFile(uri.String())
	if err != nil {
		return ""
	}
	if isTextContent(content) {
		return "text/plain"
	}
	return "application/octet-stream"
}

// isTextContent checks the first 8KB for null bytes or invalid UTF-8,
// grounded on the teacher's IsTextFile.
func isTextContent(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	checkSize := 8192
	if len(content) < checkSize {
		checkSize = len(content)
	}
	sample := content[:checkSize]
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(sample)
}

func extractText(ctx context.Context, uri model.Uri, mimeType string) (map[string]any, error) {
	content, err := os.ReadFile(uri.String())
	if err != nil {
		return nil, fmt.Errorf("extract: read %s: %w", uri, err)
	}
	text := string(content)
	words := strings.Fields(text)
	return map[string]any{
		"nie:plainTextContent": text,
		"nie:contentWordCount": len(words),
	}, nil
}

func extractGeneric(ctx context.Context, uri model.Uri, mimeType string) (map[string]any, error) {
	info, err := os.Stat(uri.String())
	if err != nil {
		return nil, fmt.Errorf("extract: stat %s: %w", uri, err)
	}
	return map[string]any{
		"nfo:fileSize":         info.Size(),
		"nfo:fileLastModified": info.ModTime(),
	}, nil
}
