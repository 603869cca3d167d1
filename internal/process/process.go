// Package process implements the Processor: it drains PendingQueue items
// and applies them to a StorageSink, one transaction-batch at a time
// (spec.md §4.7).
//
// Grounded on the teacher's internal/index.Indexer drain loop (claim work
// from a channel, process, commit in batches, log and continue past
// per-item errors) generalized from "embed and upsert chunks" to
// "resolve an ambiguous action against disk state, then mutate a
// StorageSink".
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tracker-project/trackerfs/internal/extract"
	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/queue"
	"github.com/tracker-project/trackerfs/internal/sink"
	"github.com/tracker-project/trackerfs/internal/throttle"
)

// MaxCounter is the reschedule attempt ceiling before an item is dropped
// (spec.md §4.7).
const MaxCounter = 3

// BatchSize is how many items are committed per transaction, and the
// cadence of IndexProgress observations (spec.md §4.7).
const BatchSize = 250

// ResolvedAction is the action-verify step's output: the disambiguated
// action plus whether the target is a directory.
type ResolvedAction struct {
	Kind        model.ActionKind
	IsDirectory bool
}

// Progress is emitted every BatchSize successfully processed items.
type Progress struct {
	Processed int
	Uri       model.Uri
}

// Fatal is emitted when beginning a batch's transaction fails twice in a
// row, or when committing a batch fails; a failed commit is not retried
// and the batch is not replayed.
type Fatal struct {
	Err error
}

// Processor drains a queue.Queue against a sink.StorageSink.
type Processor struct {
	q         *queue.Queue
	store     sink.StorageSink
	extractor sink.ExtractorRegistry
	throttle  *throttle.Throttle
	log       *slog.Logger

	onProgress        func(Progress)
	onFatal           func(Fatal)
	onDirectoryCreate func(model.Uri)

	processed int
}

// New builds a Processor. extractor may be nil; in that case every item
// resolves to the generic service type.
func New(q *queue.Queue, store sink.StorageSink, extractor sink.ExtractorRegistry, th *throttle.Throttle, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if th == nil {
		th = throttle.New(0)
	}
	return &Processor{q: q, store: store, extractor: extractor, throttle: th, log: log}
}

// OnProgress registers the IndexProgress observer.
func (p *Processor) OnProgress(cb func(Progress)) { p.onProgress = cb }

// OnFatal registers the Fatal status observer.
func (p *Processor) OnFatal(cb func(Fatal)) { p.onFatal = cb }

// OnDirectoryCreate registers a callback fired after a newly created
// directory is indexed, so the caller can schedule a subtree rescan
// (spec.md §4.7 "creates of directories schedule a subtree rescan").
func (p *Processor) OnDirectoryCreate(cb func(model.Uri)) { p.onDirectoryCreate = cb }

// Resolve implements the action-verify table from spec.md §4.7: it
// refines an ambiguous input action using current disk state and prior
// StorageSink knowledge.
func Resolve(ctx context.Context, store sink.StorageSink, item model.PendingItem) (ResolvedAction, error) {
	info, statErr := os.Stat(item.Uri.String())
	isDir := statErr == nil && info.IsDir()

	existing, found, err := store.GetFileInfo(ctx, item.Uri)
	if err != nil {
		return ResolvedAction{}, fmt.Errorf("process: resolve %s: %w", item.Uri, err)
	}

	switch item.Action.ActionKind {
	case model.ActionCheck:
		if isDir {
			return ResolvedAction{Kind: model.ActionDirectoryRefresh, IsDirectory: true}, nil
		}
		return ResolvedAction{Kind: model.ActionCheck, IsDirectory: false}, nil

	case model.ActionDelete:
		// statErr != nil: the path is already gone, so rely on prior
		// StorageSink knowledge to tell file from directory.
		dir := isDir
		if statErr != nil && found {
			dir = existing.Kind == model.KindDirectory
		}
		return ResolvedAction{Kind: model.ActionDelete, IsDirectory: dir}, nil

	case model.ActionMovedFrom:
		return ResolvedAction{Kind: model.ActionMovedFrom, IsDirectory: isDir || (found && existing.Kind == model.KindDirectory)}, nil

	case model.ActionMovedTo:
		return ResolvedAction{Kind: model.ActionMovedTo, IsDirectory: isDir}, nil

	case model.ActionCreate:
		return ResolvedAction{Kind: model.ActionCreate, IsDirectory: isDir}, nil

	default:
		return ResolvedAction{Kind: item.Action.ActionKind, IsDirectory: isDir}, nil
	}
}

// NeedsIndex implements the need-index predicate from spec.md §4.7:
// need_index = (disk_mtime > index_mtime) OR action in {Created,
// WritableClosed, Modified}. Moves never need (re-)indexing; they set
// need_index=false unconditionally (spec.md §4.7). Modified has no
// ActionKind of its own: the runtime queues a Check for a Modified change
// event, so such an item needs indexing only when the disk mtime is newer.
func NeedsIndex(item model.PendingItem, diskMtime, indexMtime time.Time) bool {
	switch item.Action.ActionKind {
	case model.ActionMovedFrom, model.ActionMovedTo:
		return false
	case model.ActionCreate, model.ActionWritableClosed:
		return true
	}
	return diskMtime.After(indexMtime)
}

// Run drains the queue until ctx is canceled, committing every BatchSize
// items or when the queue briefly empties, whichever comes first.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		item, ok := p.q.Dequeue()
		if !ok {
			return nil // queue closed
		}

		if err := p.runBatch(ctx, item); err != nil {
			return err
		}
	}
}

// runBatch begins a transaction, applies item plus up to BatchSize-1
// further already-queued items, and commits.
func (p *Processor) runBatch(ctx context.Context, first model.PendingItem) error {
	if err := p.beginWithRetry(ctx); err != nil {
		if p.onFatal != nil {
			p.onFatal(Fatal{Err: err})
		}
		return err
	}

	count := 0
	item := first
	for {
		p.applyOne(ctx, item)
		count++

		if count >= BatchSize {
			break
		}
		next, ok := p.q.TryDequeue()
		if !ok {
			break
		}
		item = next
	}

	if err := p.store.CommitTransaction(ctx); err != nil {
		p.log.Error("process: commit failed", "err", err)
		if p.onFatal != nil {
			p.onFatal(Fatal{Err: err})
		}
		return fmt.Errorf("process: commit batch: %w", err)
	}
	return nil
}

func (p *Processor) beginWithRetry(ctx context.Context) error {
	err := p.store.BeginTransaction(ctx)
	if err == nil {
		return nil
	}
	p.log.Warn("process: begin transaction failed, retrying once", "err", err)
	return p.store.BeginTransaction(ctx)
}

// applyOne resolves and applies a single item, never letting a per-item
// failure abort the whole batch (spec.md §4.7 recoverable I/O errors).
func (p *Processor) applyOne(ctx context.Context, item model.PendingItem) {
	resolved, err := Resolve(ctx, p.store, item)
	if err != nil {
		p.log.Warn("process: resolve failed", "uri", item.Uri, "err", err)
		p.requeueOrDrop(item)
		return
	}

	if err := p.apply(ctx, item, resolved); err != nil {
		p.log.Warn("process: apply failed", "uri", item.Uri, "action", resolved.Kind, "err", err)
		p.requeueOrDrop(item)
		return
	}

	p.processed++
	if p.onProgress != nil && p.processed%BatchSize == 0 {
		p.onProgress(Progress{Processed: p.processed, Uri: item.Uri})
	}
}

func (p *Processor) requeueOrDrop(item model.PendingItem) {
	if item.Action.Counter+1 >= MaxCounter {
		p.log.Error("process: dropping item after max retries", "uri", item.Uri, "action", item.Action.ActionKind)
		return
	}
	item.Action.Counter++
	p.q.Enqueue(item)
}

func (p *Processor) apply(ctx context.Context, item model.PendingItem, resolved ResolvedAction) error {
	switch resolved.Kind {
	case model.ActionDelete:
		info, found, err := p.store.GetFileInfo(ctx, item.Uri)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if resolved.IsDirectory {
			return p.store.DeleteDirectory(ctx, info.FileID, item.Uri)
		}
		return p.store.DeleteFile(ctx, info.FileID)

	case model.ActionMovedFrom:
		// A resolved MovedFrom/MovedTo pair carries its destination in
		// Action.ToUri (set by the monitor's cookie correlation, spec.md
		// §4.3/§5): apply it as a single atomic move. An orphaned
		// MovedFrom (ToUri still zero, correlation window expired without
		// a match) degrades to a delete.
		if !item.Action.ToUri.IsZero() {
			if resolved.IsDirectory {
				return p.store.MoveDirectory(ctx, item.Uri, item.Action.ToUri)
			}
			return p.store.MoveFile(ctx, item.Uri, item.Action.ToUri)
		}
		info, found, err := p.store.GetFileInfo(ctx, item.Uri)
		if err != nil || !found {
			return err
		}
		if resolved.IsDirectory {
			return p.store.DeleteDirectory(ctx, info.FileID, item.Uri)
		}
		return p.store.DeleteFile(ctx, info.FileID)

	case model.ActionMovedTo:
		return nil // the from-side item carries the move and applies it; see ActionMovedFrom above

	case model.ActionDirectoryUnmounted:
		var fileID int64
		info, found, err := p.store.GetFileInfo(ctx, item.Uri)
		if err != nil {
			return err
		}
		if found {
			fileID = info.FileID
		}
		return p.store.DeleteDirectory(ctx, fileID, item.Uri)

	default:
		return p.indexOne(ctx, item, resolved)
	}
}

// indexOne implements the indexing step from spec.md §4.7: throttle,
// resolve service type, extract, and upsert.
func (p *Processor) indexOne(ctx context.Context, item model.PendingItem, resolved ResolvedAction) error {
	if !resolved.IsDirectory {
		if err := p.throttle.SleepForCost(ctx, 1); err != nil {
			return err
		}
	}

	info, err := os.Stat(item.Uri.String())
	if err != nil {
		// Gone by the time we got here; treat as a delete.
		existing, found, gerr := p.store.GetFileInfo(ctx, item.Uri)
		if gerr != nil || !found {
			return gerr
		}
		return p.store.DeleteFile(ctx, existing.FileID)
	}

	existing, found, err := p.store.GetFileInfo(ctx, item.Uri)
	if err != nil {
		return fmt.Errorf("process: lookup %s: %w", item.Uri, err)
	}

	indexMtime := time.Time{}
	if found {
		indexMtime = existing.Mtime
	}
	if found && !NeedsIndex(item, info.ModTime(), indexMtime) {
		// Disk state already matches the index: no insert/update calls,
		// satisfying the reindex-without-changes idempotence property
		// (spec.md §8).
		return nil
	}

	mimeType := ""
	if !resolved.IsDirectory {
		mimeType = extract.GuessMime(item.Uri)
	}

	kind := model.KindFile
	if resolved.IsDirectory {
		kind = model.KindDirectory
	}

	var fileID int64
	if found {
		fileID = existing.FileID
		if err := p.store.UpdateFile(ctx, fileID, map[string]any{"mtime": info.ModTime(), "size": info.Size()}); err != nil {
			return fmt.Errorf("process: update %s: %w", item.Uri, err)
		}
	} else {
		fileID, err = p.store.InsertFile(ctx, item.Uri, kind, info.ModTime(), info.Size(), mimeType)
		if err != nil {
			return fmt.Errorf("process: insert %s: %w", item.Uri, err)
		}
		if resolved.IsDirectory && item.Action.ActionKind == model.ActionCreate && p.onDirectoryCreate != nil {
			p.onDirectoryCreate(item.Uri)
		}
	}

	if resolved.IsDirectory || p.extractor == nil {
		return nil
	}

	fn, ok := p.extractor.Resolve(mimeType)
	if !ok {
		p.log.Debug("process: no extractor for mime type, skipping content", "uri", item.Uri, "mime", mimeType)
		return nil
	}

	fields, err := fn(ctx, item.Uri, mimeType)
	if err != nil {
		// Extractor failures are reported but never fatal (spec.md §4.7).
		p.log.Warn("process: extraction failed", "uri", item.Uri, "err", err)
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	return p.store.UpdateFile(ctx, fileID, fields)
}
