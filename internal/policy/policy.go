// Package policy implements PathPolicy: pure, stateless decision functions
// deciding whether a path is watched, crawled, or ignored.
//
// Grounded on the teacher's internal/index.Indexer.buildIgnoreMatcher and
// Watcher.shouldIgnore (suffix/prefix glob ignore lists backed by
// github.com/sabhiram/go-gitignore), generalized to the fixed suffix/
// prefix/exact-name lists and root-boundary rules of spec.md §4.1.
package policy

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/tracker-project/trackerfs/internal/model"
)

// ignoredSuffixes, ignoredPrefixes and ignoredNames are the fixed lists from
// spec.md §4.1. Order of checks: path-based, then basename-based, then
// pattern (no_index_file_types), then temporary blacklist.
var ignoredSuffixes = []string{
	"~", ".o", ".la", ".lo", ".loT", ".in", ".csproj", ".m4", ".rej",
	".gmo", ".orig", ".pc", ".omf", ".aux", ".tmp", ".po",
	".vmdk", ".vmx", ".vmxf", ".vmsd", ".nvram", ".part",
}

var ignoredPrefixes = []string{
	"autom4te", "conftest.", "confstat", "config.",
}

var ignoredNames = map[string]struct{}{
	"po": {}, "CVS": {}, "aclocal": {}, "Makefile": {}, "SCCS": {},
	"ltmain.sh": {}, "libtool": {}, "config.status": {}, "conftest": {},
	"confdefs.h": {},
}

// Config is the read-only snapshot PathPolicy decisions are made against
// (spec.md §6 Config snapshot, narrowed to the fields PathPolicy consults).
type Config struct {
	WatchRoots          []model.Uri
	NoWatchRoots        []model.Uri
	CrawlRoots          []model.Uri
	MountedRoots        []model.Uri
	RemovableRoots      []model.Uri
	IndexMounted        bool
	IndexRemovable      bool
	NoIndexFileTypes    []string // glob patterns
	TemporaryBlacklist  map[string]struct{}
	ExtraIgnorePatterns []string // .trackerfsignore / .gitignore lines, gitignore-style
}

// PathPolicy evaluates inclusion/exclusion decisions against a Config
// snapshot. Every decision method is pure over cfg and safe for concurrent
// use (spec.md §5); the sole exception is the mounted/removable root sets,
// which spec.md §3 calls out as "rebuilt on mount events" — those two
// fields are guarded by mu and updated via RebuildMountRoots so the
// Enumerator and Monitor (which hold this same *PathPolicy) see mount
// changes without needing to be reconstructed mid-session.
type PathPolicy struct {
	cfg     Config
	ignores *gitignore.GitIgnore

	mu                       sync.RWMutex
	mountedRoots, removable []model.Uri
}

// New builds a PathPolicy from a Config snapshot, compiling ExtraIgnorePatterns
// into a gitignore matcher once up front.
func New(cfg Config) *PathPolicy {
	var matcher *gitignore.GitIgnore
	if len(cfg.ExtraIgnorePatterns) > 0 {
		matcher = gitignore.CompileIgnoreLines(cfg.ExtraIgnorePatterns...)
	}
	return &PathPolicy{
		cfg:          cfg,
		ignores:      matcher,
		mountedRoots: append([]model.Uri(nil), cfg.MountedRoots...),
		removable:    append([]model.Uri(nil), cfg.RemovableRoots...),
	}
}

// RebuildMountRoots replaces the live mounted/removable root sets
// (spec.md §3 "Roots are long-lived for a session (rebuilt on mount
// events)"). Safe for concurrent use with every decision method.
func (p *PathPolicy) RebuildMountRoots(mounted, removable []model.Uri) {
	p.mu.Lock()
	p.mountedRoots = append([]model.Uri(nil), mounted...)
	p.removable = append([]model.Uri(nil), removable...)
	p.mu.Unlock()
}

func isUnder(u model.Uri, roots []model.Uri) bool {
	for _, r := range roots {
		if u.Under(r) {
			return true
		}
	}
	return false
}

// ShouldBeWatched implements spec.md §4.1 should_be_watched.
func (p *PathPolicy) ShouldBeWatched(u model.Uri) bool {
	if u.IsZero() {
		return false
	}
	s := u.String()
	if s == "" {
		return false
	}
	tmpdir := os.Getenv("TMPDIR")
	for _, blocked := range []string{tmpdir, "/proc", "/dev", "/tmp"} {
		if blocked == "" {
			continue
		}
		if bu, err := model.NewUri(blocked, "/"); err == nil && u.Under(bu) {
			return false
		}
	}
	if isUnder(u, p.cfg.NoWatchRoots) {
		return false
	}
	return true
}

// ShouldBeCrawled implements spec.md §4.1 should_be_crawled.
func (p *PathPolicy) ShouldBeCrawled(u model.Uri) bool {
	if isUnder(u, p.cfg.CrawlRoots) {
		return false
	}
	p.mu.RLock()
	mounted, removable := p.mountedRoots, p.removable
	p.mu.RUnlock()
	if !p.cfg.IndexMounted && isUnder(u, mounted) {
		return false
	}
	if !p.cfg.IndexRemovable && isUnder(u, removable) {
		return false
	}
	return true
}

// ShouldBeIgnored implements spec.md §4.1 should_be_ignored, checking in
// order: path-based (handled by caller via ShouldBeWatched/ShouldBeCrawled),
// basename dotfile rule, fixed suffix/prefix/exact-name lists, configured
// glob patterns, then the temporary blacklist.
func (p *PathPolicy) ShouldBeIgnored(u model.Uri) bool {
	base := u.Base()

	if strings.HasPrefix(base, ".") {
		return true
	}

	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	for _, prefix := range ignoredPrefixes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	if _, ok := ignoredNames[base]; ok {
		return true
	}

	for _, glob := range p.cfg.NoIndexFileTypes {
		if matched, err := filepath.Match(glob, base); err == nil && matched {
			return true
		}
	}

	if p.ignores != nil {
		rel := base
		if p.ignores.MatchesPath(rel) || p.ignores.MatchesPath(u.String()) {
			return true
		}
	}

	if p.cfg.TemporaryBlacklist != nil {
		if _, ok := p.cfg.TemporaryBlacklist[u.String()]; ok {
			return true
		}
	}

	return false
}

// WatchRootsSnapshot returns the configured watch_directory_roots.
func (p *PathPolicy) WatchRootsSnapshot() []model.Uri {
	return append([]model.Uri(nil), p.cfg.WatchRoots...)
}

// CrawlRootsSnapshot returns the configured crawl_directory_roots.
func (p *PathPolicy) CrawlRootsSnapshot() []model.Uri {
	return append([]model.Uri(nil), p.cfg.CrawlRoots...)
}

// Classification is the exhaustive, partitioned result of classifying a uri
// (spec.md §8 invariant 1: exactly one of watched, crawled, ignored holds).
type Classification int

const (
	ClassWatched Classification = iota
	ClassCrawled
	ClassIgnored
)

// Classify partitions u into exactly one of {watched, crawled, ignored},
// implementing spec.md §8 invariant 1. Ignored takes precedence, then
// watched, then crawled (crawled is the residual "reachable but not
// actively watched" case).
func (p *PathPolicy) Classify(u model.Uri) Classification {
	if p.ShouldBeIgnored(u) {
		return ClassIgnored
	}
	if p.ShouldBeWatched(u) {
		return ClassWatched
	}
	return ClassCrawled
}
