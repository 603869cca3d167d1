// Package sink defines the StorageSink and ExtractorRegistry interfaces
// the core indexing pipeline depends on (spec.md §6), plus a reference
// in-memory StorageSink used by tests and the CLI's memory demo mode.
package sink

import (
	"context"
	"time"

	"github.com/tracker-project/trackerfs/internal/model"
)

// FileInfo is the sink's view of a previously indexed file.
type FileInfo struct {
	FileID int64
	Mtime  time.Time
	Kind   model.FileKind
}

// MutationObserver receives (graph, subject, predicate, object) for every
// mutation the sink performs, feeding internal/writeback.Tracker.
type MutationObserver func(graph, subject, predicate, object string)

// StorageSink is the narrow interface the core depends on; the SPARQL
// store, ontology and DBus layers live behind an implementation of it
// (spec.md §1, §6).
type StorageSink interface {
	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	InsertFile(ctx context.Context, uri model.Uri, kind model.FileKind, mtime time.Time, size int64, serviceType string) (int64, error)
	UpdateFile(ctx context.Context, fileID int64, fields map[string]any) error
	DeleteFile(ctx context.Context, fileID int64) error
	DeleteDirectory(ctx context.Context, fileID int64, uri model.Uri) error

	MoveFile(ctx context.Context, fromUri, toUri model.Uri) error
	MoveDirectory(ctx context.Context, fromUri, toUri model.Uri) error

	GetFileInfo(ctx context.Context, uri model.Uri) (*FileInfo, bool, error)
	ListFilesInFolder(ctx context.Context, uri model.Uri) ([]model.Uri, error)

	SetOption(ctx context.Context, key string, value int64) error
	Analyze(ctx context.Context) error

	SetMutationObserver(obs MutationObserver)
}

// ExtractFn produces a metadata set for uri of the given mime type. The
// core never interprets the returned metadata; it forwards it verbatim to
// StorageSink.UpdateFile (spec.md §6).
type ExtractFn func(ctx context.Context, uri model.Uri, mime string) (map[string]any, error)

// ExtractorRegistry resolves a mime type to an ExtractFn.
type ExtractorRegistry interface {
	Resolve(mimeType string) (ExtractFn, bool)
}
