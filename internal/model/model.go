// Package model holds the data types shared across the indexing core:
// uris, file kinds, actions, fingerprints and the roots a crawl walks.
package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// FileKind classifies what a Uri points at on disk.
type FileKind int

const (
	KindFile FileKind = iota
	KindDirectory
	KindSymlink
	KindOther
)

func (k FileKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// Uri is an absolute, UTF-8 validated, normalized filesystem path.
// Construct one with NewUri; the zero value is not a valid Uri.
type Uri struct {
	path string
}

// NewUri normalizes path (env-var expansion, ~ expansion, relative-to-cwd
// resolution) and validates it is UTF-8. It never follows symlinks itself;
// normalization is purely lexical plus an Abs() call.
func NewUri(raw string, cwd string) (Uri, error) {
	if raw == "" {
		return Uri{}, fmt.Errorf("uri: empty path")
	}
	if !utf8.ValidString(raw) {
		return Uri{}, fmt.Errorf("uri: %q is not valid UTF-8", raw)
	}

	expanded := expandEnv(raw)
	expanded = expandHome(expanded)

	if !filepath.IsAbs(expanded) {
		if cwd == "" {
			return Uri{}, fmt.Errorf("uri: relative path %q needs a cwd", raw)
		}
		expanded = filepath.Join(cwd, expanded)
	}

	clean := filepath.Clean(expanded)
	return Uri{path: clean}, nil
}

// MustUri panics on error; for tests and literal construction of known-good paths.
func MustUri(raw string) Uri {
	u, err := NewUri(raw, "/")
	if err != nil {
		panic(err)
	}
	return u
}

func (u Uri) String() string { return u.path }
func (u Uri) IsZero() bool   { return u.path == "" }

// Base returns the last path element.
func (u Uri) Base() string { return filepath.Base(u.path) }

// Dir returns the parent Uri.
func (u Uri) Dir() Uri { return Uri{path: filepath.Dir(u.path)} }

// Under reports whether u equals root or lies strictly under it, with a
// separator boundary so "/tmpfoo" is never considered under "/tmp".
func (u Uri) Under(root Uri) bool {
	if root.path == "" {
		return false
	}
	if u.path == root.path {
		return true
	}
	prefix := root.path
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(u.path, prefix)
}

// Join returns the Uri for name joined under u.
func (u Uri) Join(name string) Uri {
	return Uri{path: filepath.Join(u.path, name)}
}

func expandEnv(s string) string {
	return expandEnvVars(s)
}

// ActionKind enumerates the tagged variants of Action (spec.md §3).
type ActionKind int

const (
	ActionCheck ActionKind = iota
	ActionDirectoryRefresh
	ActionCreate
	ActionDelete
	ActionMovedFrom
	ActionMovedTo
	ActionWritableClosed
	ActionDirectoryUnmounted
	// ActionIgnoreSentinel short-circuits filtering; it is never queued.
	ActionIgnoreSentinel
)

func (k ActionKind) String() string {
	switch k {
	case ActionCheck:
		return "check"
	case ActionDirectoryRefresh:
		return "directory-refresh"
	case ActionCreate:
		return "create"
	case ActionDelete:
		return "delete"
	case ActionMovedFrom:
		return "moved-from"
	case ActionMovedTo:
		return "moved-to"
	case ActionWritableClosed:
		return "writable-closed"
	case ActionDirectoryUnmounted:
		return "directory-unmounted"
	case ActionIgnoreSentinel:
		return "ignore-sentinel"
	default:
		return "unknown"
	}
}

// Action is the tagged variant recording what must happen to a Uri.
type Action struct {
	Kind FileKind
	ActionKind
	// Cookie correlates a MovedFrom with its MovedTo (spec.md §4.3).
	Cookie string
	// ToUri carries the move destination once a MovedFrom/MovedTo pair has
	// been correlated by cookie; zero until correlation completes.
	ToUri Uri
	// Counter is the reschedule attempt count; MAX_COUNTER=3 per spec.md §4.7.
	Counter int
}

// Equivalent reports whether two actions belong to the same (uri, action)
// dedup class per spec.md's PendingItem invariant: same ActionKind and,
// for moves, the same cookie.
func (a Action) Equivalent(b Action) bool {
	if a.ActionKind != b.ActionKind {
		return false
	}
	if a.ActionKind == ActionMovedFrom || a.ActionKind == ActionMovedTo {
		return a.Cookie == b.Cookie
	}
	return true
}

// Fingerprint is the stable identity of a disk object for change detection.
type Fingerprint struct {
	Uri   Uri
	Mtime time.Time
	Size  int64
	Kind  FileKind
}

// SameDiskState reports whether two fingerprints represent the same disk
// state: equal (uri, mtime, size).
func (f Fingerprint) SameDiskState(other Fingerprint) bool {
	return f.Uri == other.Uri && f.Mtime.Equal(other.Mtime) && f.Size == other.Size
}

// PendingItem is a unit of pending indexing work.
type PendingItem struct {
	Uri            Uri
	Action         Action
	WatchKind      FileKind
	EnqueueInstant time.Time
}

// Key returns the (uri, action-kind[, cookie]) identity used for queue dedup.
func (p PendingItem) Key() string {
	if p.Action.ActionKind == ActionMovedFrom || p.Action.ActionKind == ActionMovedTo {
		return fmt.Sprintf("%s|%s|%s", p.Uri, p.Action.ActionKind, p.Action.Cookie)
	}
	return fmt.Sprintf("%s|%s", p.Uri, p.Action.ActionKind)
}

// ModuleState enumerates the indexing pass stages in their strict order.
type ModuleState int

const (
	StateConfig ModuleState = iota
	StateApplications
	StateFiles
	StateCrawlFiles
	StateConversations
	StateWebHistory
	StateExternal
	StateEmails
	StateFinished
)

var moduleStateNames = [...]string{
	"config", "applications", "files", "crawl-files",
	"conversations", "webhistory", "external", "emails", "finished",
}

func (m ModuleState) String() string {
	if int(m) < 0 || int(m) >= len(moduleStateNames) {
		return "unknown"
	}
	return moduleStateNames[m]
}

// Before reports whether m precedes other in the fixed module ordering.
func (m ModuleState) Before(other ModuleState) bool { return m < other }

// RootOrigin classifies why a Root is in the configured set.
type RootOrigin int

const (
	OriginWatched RootOrigin = iota
	OriginNoWatch
	OriginCrawl
	OriginMountedDir
	OriginRemovableDevice
)

// Root is a configured starting directory for enumeration or exclusion.
type Root struct {
	Path   Uri
	Origin RootOrigin
}
