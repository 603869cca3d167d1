// Package runtime builds and owns the three long-running workers of the
// indexing core (Scheduler, Processor, Monitor) plus their shared
// collaborators, replacing the source's thread-local "private" globals
// with an explicit, constructor-injected struct (spec.md §9), in the
// teacher's NewIndexer(database, provider, cfg) / NewWatcher(rootPath,
// cfg) constructor-injection idiom.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracker-project/trackerfs/internal/config"
	"github.com/tracker-project/trackerfs/internal/enumerate"
	"github.com/tracker-project/trackerfs/internal/extract"
	"github.com/tracker-project/trackerfs/internal/journal"
	"github.com/tracker-project/trackerfs/internal/model"
	"github.com/tracker-project/trackerfs/internal/monitor"
	"github.com/tracker-project/trackerfs/internal/mount"
	"github.com/tracker-project/trackerfs/internal/policy"
	"github.com/tracker-project/trackerfs/internal/process"
	"github.com/tracker-project/trackerfs/internal/queue"
	"github.com/tracker-project/trackerfs/internal/schedule"
	"github.com/tracker-project/trackerfs/internal/sink"
	"github.com/tracker-project/trackerfs/internal/status"
	"github.com/tracker-project/trackerfs/internal/throttle"
	"github.com/tracker-project/trackerfs/internal/writeback"
)

// ShutdownTimeout bounds how long Shutdown waits for the Scheduler and
// Processor to exit before the watchdog aborts the process; the journal
// checkpoint runs after that wait
// (spec.md §5's 5-second hard timeout).
const ShutdownTimeout = 5 * time.Second

// Runtime constructs and owns every worker for one indexing session: it is
// the single place that wires PathPolicy, Enumerator, Monitor,
// MountTracker, PendingQueue, Scheduler, Processor and WritebackTracker
// together against a caller-supplied StorageSink and ExtractorRegistry
// (spec.md §1, §6).
type Runtime struct {
	cfg *config.Config
	log *slog.Logger

	store     sink.StorageSink
	extractor sink.ExtractorRegistry

	pol     *policy.PathPolicy
	enum    *enumerate.Enumerator
	mounts  *mount.MountTracker
	mon     *monitor.Monitor
	q       *queue.Queue
	jrn     *journal.Journal
	sched   *schedule.Scheduler
	proc    *process.Processor
	writeb  *writeback.Tracker
	stat    *status.Status
	thr     *throttle.Throttle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shuttingDown atomic.Bool
	paused       atomic.Bool
	started      time.Time
}

// New builds a Runtime. store and extractor are the external collaborators
// behind the narrow interfaces of spec.md §6; extractor may be nil, in
// which case every indexed item skips content extraction.
func New(cfg *config.Config, store sink.StorageSink, extractor sink.ExtractorRegistry, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}

	mounts := mount.New()

	polCfg := policy.Config{
		IndexMounted:        cfg.IndexMountedDirectories,
		IndexRemovable:      cfg.IndexRemovableDevices,
		NoIndexFileTypes:    cfg.NoIndexFileTypes,
		ExtraIgnorePatterns: cfg.ExtraIgnorePatterns,
	}
	for _, r := range cfg.WatchDirectoryRoots {
		if u, err := model.NewUri(r, ""); err == nil {
			polCfg.WatchRoots = append(polCfg.WatchRoots, u)
		}
	}
	for _, r := range cfg.NoWatchDirectoryRoots {
		if u, err := model.NewUri(r, ""); err == nil {
			polCfg.NoWatchRoots = append(polCfg.NoWatchRoots, u)
		}
	}
	for _, r := range cfg.CrawlDirectoryRoots {
		if u, err := model.NewUri(r, ""); err == nil {
			polCfg.CrawlRoots = append(polCfg.CrawlRoots, u)
		}
	}
	pol := policy.New(polCfg)

	var j *journal.Journal
	var q *queue.Queue
	journalPath := config.JournalPath()
	if recovered, rj, err := queue.Recover(journalPath, log); err == nil {
		q, j = recovered, rj
	} else {
		log.Warn("runtime: journal recovery failed, starting an in-memory queue", "err", err)
		q = queue.New(nil, log, cfg.MaxPendingItems)
	}

	monCfg := monitor.DefaultConfig()
	if cfg.WatchLimit > 0 {
		monCfg.WatchLimit = cfg.WatchLimit
	}
	mon, err := monitor.New(monCfg, pol, log)
	if err != nil {
		return nil, fmt.Errorf("runtime: create monitor: %w", err)
	}

	th := throttle.New(cfg.Throttle)
	proc := process.New(q, store, extractor, th, log)
	wb := writeback.New(writeback.NewAllowances(nil))
	st := status.New()

	r := &Runtime{
		cfg:       cfg,
		log:       log,
		store:     store,
		extractor: extractor,
		pol:       pol,
		enum:      enumerate.New(pol, log),
		mounts:    mounts,
		mon:       mon,
		q:         q,
		jrn:       j,
		sched:     schedule.New(log),
		proc:      proc,
		writeb:    wb,
		stat:      st,
		thr:       th,
	}

	store.SetMutationObserver(wb.OnMutation)
	mounts.SetCallback(r.onMountEvent)
	mon.SetCallback(r.onChangeEvent)
	proc.OnProgress(r.onProgress)
	proc.OnFatal(r.onFatal)
	proc.OnDirectoryCreate(r.onDirectoryCreated)
	r.registerModules()

	return r, nil
}

// SetWritebackAllowances installs the allow-listed predicate set the
// WritebackTracker watches (spec.md §3 Allowances, loaded once at init).
func (r *Runtime) SetWritebackAllowances(predicates []string) {
	r.writeb = writeback.New(writeback.NewAllowances(predicates))
	r.store.SetMutationObserver(r.writeb.OnMutation)
}

// Writeback exposes the WritebackTracker for external writeback consumers.
func (r *Runtime) Writeback() *writeback.Tracker { return r.writeb }

// Status exposes the current status transition.
func (r *Runtime) Status() status.Transition { return r.stat.Current() }

// Subscribe registers obs to receive status transitions.
func (r *Runtime) Subscribe(obs status.Observer) { r.stat.Subscribe(obs) }

// Mounts exposes the MountTracker so a host HAL/udev adapter can report
// mount/unmount events into it.
func (r *Runtime) Mounts() *mount.MountTracker { return r.mounts }

func (r *Runtime) registerModules() {
	r.sched.Register(model.StateFiles, r.runFilesModule)
	r.sched.Register(model.StateCrawlFiles, r.runCrawlModule)
	r.sched.OnTransition(func(from, to model.ModuleState) {
		r.log.Info("index stage changed", "from", from, "to", to)
		r.setStatus(stageStatus(to), r.statusFlags())
	})
}

func stageStatus(m model.ModuleState) status.State {
	if m == model.StateFinished {
		return status.Idle
	}
	return status.Indexing
}

func (r *Runtime) statusFlags() status.Transition {
	return status.Transition{
		PauseManual:    r.paused.Load(),
		EnableIndexing: r.cfg.EnableIndexing,
	}
}

func (r *Runtime) setStatus(state status.State, t status.Transition) {
	t.State = state
	r.stat.Set(t)
}

// Start runs config resolution then the module sequence, starts the
// Monitor (if watches are enabled) and the Processor drain loop, and
// blocks the caller's goroutine only to launch the three workers; control
// returns once they are running (spec.md §5: three long-running workers).
func (r *Runtime) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = time.Now()
	r.setStatus(status.Initializing, r.statusFlags())

	if r.cfg.InitialSleep > 0 {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case <-time.After(time.Duration(r.cfg.InitialSleep) * time.Second):
		}
	}

	if r.cfg.EnableWatches {
		for _, root := range r.pol.WatchRootsSnapshot() {
			if err := r.mon.AddRoot(root); err != nil {
				r.log.Warn("runtime: failed to watch root", "uri", root, "err", err)
			}
		}
		r.mon.Start(r.ctx)
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.sched.Start()
	}()
	go func() {
		defer r.wg.Done()
		if err := r.proc.Run(r.ctx); err != nil && r.ctx.Err() == nil {
			r.log.Error("runtime: processor exited with error", "err", err)
		}
	}()

	return nil
}

// Wait blocks until the Scheduler and Processor both exit.
func (r *Runtime) Wait() { r.wg.Wait() }

// Shutdown requests a clean stop: the Processor finishes its current item,
// commits the open transaction, checkpoints the journal, then exits
// (spec.md §5). A hard watchdog aborts the process if draining takes
// longer than ShutdownTimeout.
func (r *Runtime) Shutdown() {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	r.setStatus(status.Shutdown, r.statusFlags())
	r.sched.Stop()
	if r.mon != nil {
		_ = r.mon.Stop()
	}
	r.q.Close()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		r.log.Error("runtime: shutdown watchdog expired, aborting")
		os.Exit(1)
	}

	if err := r.q.Checkpoint(); err != nil {
		r.log.Error("runtime: checkpoint failed", "err", err)
	}
}

// ForceReindex writes the pre-reindex backup ttl file (spec.md §6
// Persisted state (c)), then re-enters the Files/CrawlFiles modules for
// every watch and crawl root. The re-entry takes effect only once the
// scheduler has reached StateFinished; before that, Scheduler.Reenter is
// a no-op and only the backup file is written.
func (r *Runtime) ForceReindex() error {
	if err := r.writeBackupTTL(); err != nil {
		return fmt.Errorf("runtime: force reindex: %w", err)
	}
	r.sched.Reenter(model.StateFiles, r.runFilesModule)
	r.sched.Reenter(model.StateCrawlFiles, r.runCrawlModule)
	return nil
}

func (r *Runtime) writeBackupTTL() error {
	if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := config.DataDir() + "/tracker-userdata-backup.ttl"
	return os.WriteFile(path, []byte("# trackerfs pre-reindex backup placeholder\n"), 0o600)
}

// Pause toggles the manual pause flag (spec.md §6 control surface).
func (r *Runtime) Pause(p bool) {
	r.paused.Store(p)
	r.setStatus(r.stat.Current().State, r.statusFlags())
}

// SetBoolOption implements the §6 control surface's set_bool_option.
func (r *Runtime) SetBoolOption(name string, v bool) error {
	switch name {
	case "Pause":
		r.Pause(v)
	case "EnableIndexing":
		r.cfg.EnableIndexing = v
	case "EnableWatching":
		r.cfg.EnableWatches = v
	case "LowMemoryMode":
		r.cfg.LowMemoryMode = v
	case "IndexFileContents":
		r.cfg.EnableContentIndexing = v
	case "GenerateThumbs":
		r.cfg.EnableThumbnails = v
	case "IndexMountedDirectories":
		r.cfg.IndexMountedDirectories = v
	case "IndexRemovableDevices":
		r.cfg.IndexRemovableDevices = v
	case "BatteryIndex":
		r.cfg.DisableIndexingOnBattery = v
	case "BatteryIndexInitial":
		r.cfg.DisableIndexingOnBatteryInit = v
	case "FastMerges":
		// No merge engine in the core; accepted for interface parity.
	default:
		return fmt.Errorf("runtime: unknown bool option %q", name)
	}
	return nil
}

// SetIntOption implements the §6 control surface's set_int_option.
func (r *Runtime) SetIntOption(name string, v int) error {
	switch name {
	case "Throttle":
		r.cfg.Throttle = v
		r.thr.SetLevel(v)
	case "MaxText":
		r.cfg.MaxTextToIndex = int64(v)
	case "MaxWords":
		r.cfg.MaxWordsToIndex = v
	default:
		return fmt.Errorf("runtime: unknown int option %q", name)
	}
	return nil
}

// runFilesModule walks every watched root, pushing Check actions into the
// PendingQueue (spec.md §4.6 step 3).
func (r *Runtime) runFilesModule(state model.ModuleState, done func(error)) {
	r.walkRoots(r.pol.WatchRootsSnapshot(), done)
}

// runCrawlModule walks crawl roots plus mounted/removable roots enabled
// for indexing.
func (r *Runtime) runCrawlModule(state model.ModuleState, done func(error)) {
	roots := r.pol.CrawlRootsSnapshot()
	if r.cfg.IndexMountedDirectories {
		roots = append(roots, r.mounts.MountedRoots()...)
	}
	if r.cfg.IndexRemovableDevices {
		roots = append(roots, r.mounts.RemovableRoots()...)
	}
	r.walkRoots(roots, done)
}

func (r *Runtime) walkRoots(roots []model.Uri, done func(error)) {
	var firstErr error
	for _, root := range roots {
		err := r.enum.Walk(r.ctx, root, func(e enumerate.Entry) error {
			r.q.Enqueue(model.PendingItem{
				Uri:            e.Uri,
				Action:         model.Action{Kind: e.Kind, ActionKind: model.ActionCheck},
				WatchKind:      e.Kind,
				EnqueueInstant: time.Now(),
			})
			return nil
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	done(firstErr)
}

// onChangeEvent translates a Monitor ChangeEvent into a PendingItem
// (spec.md §4.3/§4.5), honoring the rule that a directory Delete purges
// every pending item for its subtree.
func (r *Runtime) onChangeEvent(ev monitor.ChangeEvent) {
	switch ev.Kind {
	case monitor.ChangeDeleted, monitor.ChangeUnmounted:
		r.q.RemoveUnderPrefix(ev.Uri)
		kind := model.ActionDelete
		if ev.Kind == monitor.ChangeUnmounted {
			kind = model.ActionDirectoryUnmounted
		}
		r.q.Enqueue(model.PendingItem{
			Uri:            ev.Uri,
			Action:         model.Action{ActionKind: kind},
			EnqueueInstant: ev.Timestamp,
		})
	case monitor.ChangeCreated:
		r.q.Enqueue(model.PendingItem{
			Uri:            ev.Uri,
			Action:         model.Action{ActionKind: model.ActionCreate},
			EnqueueInstant: ev.Timestamp,
		})
	case monitor.ChangeModified:
		r.q.Enqueue(model.PendingItem{
			Uri:            ev.Uri,
			Action:         model.Action{ActionKind: model.ActionCheck},
			EnqueueInstant: ev.Timestamp,
		})
	case monitor.ChangeWritableClosed:
		r.q.Enqueue(model.PendingItem{
			Uri:            ev.Uri,
			Action:         model.Action{ActionKind: model.ActionWritableClosed},
			EnqueueInstant: ev.Timestamp,
		})
	case monitor.ChangeMovedFrom:
		r.q.Enqueue(model.PendingItem{
			Uri:            ev.Uri,
			Action:         model.Action{ActionKind: model.ActionMovedFrom, Cookie: ev.Cookie, ToUri: ev.ToUri},
			EnqueueInstant: ev.Timestamp,
		})
	}
}

// onMountEvent reacts to a mount/unmount notification: on add, re-enters
// the CrawlFiles module for just the new root (spec.md §8 scenario 5,
// §4.6 step 5's bounded re-entry); on remove, issues a directory delete
// for anything the sink still has under that root.
func (r *Runtime) onMountEvent(ev mount.Event) {
	r.pol.RebuildMountRoots(r.mounts.MountedRoots(), r.mounts.RemovableRoots())

	switch ev.Kind {
	case mount.MountAdded:
		if (ev.Removable && r.cfg.IndexRemovableDevices) || (!ev.Removable && r.cfg.IndexMountedDirectories) {
			r.sched.Reenter(model.StateCrawlFiles, func(state model.ModuleState, done func(error)) {
				r.walkRoots([]model.Uri{ev.Path}, done)
			})
		}
	case mount.MountRemoved:
		r.q.RemoveUnderPrefix(ev.Path)
		r.q.Enqueue(model.PendingItem{
			Uri:            ev.Path,
			Action:         model.Action{ActionKind: model.ActionDirectoryUnmounted},
			EnqueueInstant: time.Now(),
		})
	}
}

func (r *Runtime) onProgress(p process.Progress) {
	r.setStatus(status.Indexing, r.statusFlags())
	r.log.Info("index progress", "processed", p.Processed, "uri", p.Uri)
}

func (r *Runtime) onFatal(f process.Fatal) {
	r.log.Error("runtime: fatal storage sink error", "err", f.Err)
	r.setStatus(status.Shutdown, r.statusFlags())
}

// onDirectoryCreated schedules a bounded subtree rescan for a newly
// created directory (spec.md §4.7 "creates of directories schedule a
// subtree rescan").
func (r *Runtime) onDirectoryCreated(u model.Uri) {
	r.sched.Reenter(model.StateFiles, func(state model.ModuleState, done func(error)) {
		r.walkRoots([]model.Uri{u}, done)
	})
}

// DefaultExtractorRegistry builds the reference ExtractorRegistry wired to
// the extractors in internal/extract.
func DefaultExtractorRegistry() *extract.Registry {
	reg := extract.NewRegistry()
	reg.RegisterDefaults()
	return reg
}
