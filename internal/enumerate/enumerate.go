// Package enumerate implements the breadth-first crawler/enumerator that
// produces file candidates from a configured root (spec.md §4.2).
//
// Grounded on the teacher's internal/index.Indexer.collectFiles, which
// walks with filepath.WalkDir and filters via a gitignore matcher; here the
// walk is reshaped into an explicit level-by-level queue so fd fan-out is
// bounded to one open directory handle per level, and filtering is
// delegated to internal/policy.PathPolicy instead of a bespoke matcher.
package enumerate

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/policy"
)

// Entry is one breadth-first enumeration result.
type Entry struct {
	Uri   model.Uri
	Kind  model.FileKind
	Mtime time.Time
	Size  int64
}

// Enumerator walks a root directory breadth-first, filtering through a
// PathPolicy before yielding entries.
type Enumerator struct {
	policy *policy.PathPolicy
	log    *slog.Logger
}

// New creates an Enumerator that filters candidates through p.
func New(p *policy.PathPolicy, log *slog.Logger) *Enumerator {
	if log == nil {
		log = slog.Default()
	}
	return &Enumerator{policy: p, log: log}
}

// Walk streams entries for root breadth-first, one directory level at a
// time, calling yield for each accepted entry. Returning a non-nil error
// from yield stops the walk early. Per-entry errors (stat failures,
// non-UTF-8 names, directory-open failures) are logged and skipped; only a
// failure to open/stat the root itself is returned (spec.md §4.2 failure
// semantics).
func (e *Enumerator) Walk(ctx context.Context, root model.Uri, yield func(Entry) error) error {
	rootInfo, err := os.Lstat(root.String())
	if err != nil {
		return err
	}

	type queued struct {
		uri model.Uri
	}

	level := []queued{{uri: root}}
	rootKind := kindOf(rootInfo)

	if !e.policy.ShouldBeIgnored(root) {
		if err := yield(Entry{Uri: root, Kind: rootKind, Mtime: rootInfo.ModTime(), Size: rootInfo.Size()}); err != nil {
			return err
		}
	}

	for len(level) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var next []queued

		for _, q := range level {
			dirEntries, err := os.ReadDir(q.uri.String())
			if err != nil {
				if q.uri == root && rootKind == model.KindDirectory {
					return err
				}
				e.log.Warn("enumerate: open directory failed", "uri", q.uri.String(), "err", err)
				continue
			}

			for _, de := range dirEntries {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				childUri, err := model.NewUri(filepath.Join(q.uri.String(), de.Name()), "")
				if err != nil {
					e.log.Warn("enumerate: non-UTF-8 or invalid name skipped", "parent", q.uri.String(), "name", de.Name(), "err", err)
					continue
				}

				if e.policy.ShouldBeIgnored(childUri) {
					continue
				}

				info, err := de.Info()
				if err != nil {
					e.log.Warn("enumerate: stat failed", "uri", childUri.String(), "err", err)
					continue
				}

				kind := kindOf(info)
				entry := Entry{Uri: childUri, Kind: kind, Mtime: info.ModTime(), Size: info.Size()}

				if err := yield(entry); err != nil {
					return err
				}

				if kind == model.KindDirectory {
					next = append(next, queued{uri: childUri})
				} else if kind == model.KindSymlink && e.followsSameDevice(q.uri, childUri) {
					next = append(next, queued{uri: childUri})
				}
			}
		}

		level = next
	}

	return nil
}

// followsSameDevice reports whether a symlink child should be descended
// into: only when it resolves onto the same device as its parent
// (spec.md §4.2 "no symlink following across device boundaries").
func (e *Enumerator) followsSameDevice(parent, child model.Uri) bool {
	target, err := os.Stat(child.String())
	if err != nil || !target.IsDir() {
		return false
	}
	return sameDevice(parent.String(), child.String())
}

func kindOf(info os.FileInfo) model.FileKind {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return model.KindSymlink
	case info.IsDir():
		return model.KindDirectory
	case info.Mode().IsRegular():
		return model.KindFile
	default:
		return model.KindOther
	}
}
