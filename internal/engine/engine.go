// Package engine owns the scheduler and history store of every watched
// folder and exposes the operations the CLI and HTTP API call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keepsake-dev/keepsake/internal/clock"
	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/relocate"
	"github.com/keepsake-dev/keepsake/internal/scheduler"
	"github.com/keepsake-dev/keepsake/internal/vcs"
	_ "github.com/keepsake-dev/keepsake/internal/vcs/git"
)

// ErrDuplicateFolder is returned when attaching a path that is already
// watched.
var ErrDuplicateFolder = errors.New("folder already watched")

// Options configures an Engine.
type Options struct {
	Folders folder.Registry

	// StoreType selects the history backend (default: git)
	StoreType vcs.Type

	// Author is recorded on every commit (default: vcs.DefaultAuthor)
	Author string

	// Debounce overrides the on-save quiet period
	Debounce time.Duration

	Clock       clock.Clock
	Logger      *slog.Logger
	NewObserver scheduler.ObserverFactory
	Listeners   []Listener
}

// entry is the live state of one folder. sched is nil when the folder is
// not being watched.
type entry struct {
	store vcs.HistoryStore
	sched *scheduler.Scheduler
}

// Status is a snapshot of a folder's scheduler.
type Status struct {
	FolderID   string `json:"folderId" yaml:"folderId"`
	State      string `json:"state" yaml:"state"`
	Pending    int    `json:"pending" yaml:"pending"`
	Committing bool   `json:"committing" yaml:"committing"`
}

// Engine maps folder ids to at most one scheduler and one store each.
type Engine struct {
	folders folder.Registry
	opts    Options
	clock   clock.Clock
	logger  *slog.Logger

	// ops serializes lifecycle changes
	ops sync.Mutex

	mu        sync.Mutex
	entries   map[string]*entry
	listeners []Listener
	// guards holds per-folder locks: store mutations share them,
	// relocation holds them exclusively
	guards map[string]*sync.RWMutex

	relocator *relocate.Coordinator
}

// New creates an Engine. No folder is started until StartAll or Attach.
func New(opts Options) *Engine {
	if opts.StoreType == "" {
		opts.StoreType = vcs.TypeGit
	}
	if opts.Author == "" {
		opts.Author = vcs.DefaultAuthor
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{
		folders:   opts.Folders,
		opts:      opts,
		clock:     opts.Clock,
		logger:    opts.Logger,
		entries:   make(map[string]*entry),
		guards:    make(map[string]*sync.RWMutex),
		listeners: append([]Listener(nil), opts.Listeners...),
	}
	e.relocator = relocate.New(relocate.Options{
		Folders:    opts.Folders,
		Controller: controller{e},
		Open:       e.openAt,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
	})
	return e
}

// AddListener registers l for all future notifications.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Folders lists every registered folder.
func (e *Engine) Folders() ([]folder.WatchedFolder, error) {
	return e.folders.List()
}

// Folder returns one registered folder.
func (e *Engine) Folder(id string) (folder.WatchedFolder, error) {
	return e.folders.Get(id)
}

// Attach registers a folder and starts watching it when enabled. Missing
// fields get defaults; an empty ID gets a new uuid.
func (e *Engine) Attach(ctx context.Context, f folder.WatchedFolder) (folder.WatchedFolder, error) {
	e.ops.Lock()
	defer e.ops.Unlock()

	abs, err := filepath.Abs(f.Path)
	if err != nil {
		return f, fmt.Errorf("failed to resolve %s: %w", f.Path, err)
	}
	f.Path = filepath.Clean(abs)

	info, err := os.Stat(f.Path)
	if err != nil {
		return f, fmt.Errorf("cannot watch %s: %w", f.Path, err)
	}
	if !info.IsDir() {
		return f, fmt.Errorf("cannot watch %s: not a directory", f.Path)
	}

	existing, err := e.folders.List()
	if err != nil {
		return f, err
	}
	for _, other := range existing {
		if other.Path == f.Path && other.ID != f.ID {
			return f, fmt.Errorf("%w: %s (id %s)", ErrDuplicateFolder, f.Path, other.ShortID())
		}
	}

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := e.clock.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	f.SetDefaults()
	if err := f.Validate(); err != nil {
		return f, err
	}
	if err := e.folders.Put(f); err != nil {
		return f, err
	}

	e.logger.Info("attached folder", "folder", f.ID, "path", f.Path, "store", f.StoragePath())

	if f.Enabled {
		if err := e.startFolder(ctx, f); err != nil {
			return f, err
		}
		return f, nil
	}
	// disabled folders still get their store and initial commit
	st, err := e.store(f.ID)
	if err != nil {
		return f, err
	}
	if err := st.Initialize(ctx); err != nil {
		e.notifyError(f.ID, err)
		return f, err
	}
	return f, nil
}

// Detach stops watching a folder and forgets it. History on disk is kept.
func (e *Engine) Detach(ctx context.Context, id string) error {
	e.ops.Lock()
	defer e.ops.Unlock()

	if _, err := e.folders.Get(id); err != nil {
		return err
	}
	if _, err := e.stopFolder(ctx, id); err != nil {
		return err
	}
	e.drop(id)
	return e.folders.Delete(id)
}

// Patch holds optional folder setting changes.
type Patch struct {
	Strategy        *folder.Strategy `json:"strategy,omitempty"`
	IntervalMinutes *int             `json:"intervalMinutes,omitempty"`
	IgnorePatterns  *[]string        `json:"ignorePatterns,omitempty"`
	WatchSubtree    *bool            `json:"watchSubtree,omitempty"`
	Enabled         *bool            `json:"enabled,omitempty"`
}

// UpdateConfig applies patch and restarts the folder's scheduler when it is
// watching. Enabling a folder starts it; disabling stops it.
func (e *Engine) UpdateConfig(ctx context.Context, id string, patch Patch) (folder.WatchedFolder, error) {
	e.ops.Lock()
	defer e.ops.Unlock()

	f, err := e.folders.Get(id)
	if err != nil {
		return f, err
	}

	if patch.Strategy != nil {
		f.Strategy = *patch.Strategy
	}
	if patch.IntervalMinutes != nil {
		f.IntervalMinutes = *patch.IntervalMinutes
	}
	if patch.IgnorePatterns != nil {
		f.IgnorePatterns = append([]string(nil), (*patch.IgnorePatterns)...)
	}
	if patch.WatchSubtree != nil {
		f.WatchSubtree = *patch.WatchSubtree
	}
	enabling := false
	if patch.Enabled != nil {
		enabling = *patch.Enabled && !f.Enabled
		f.Enabled = *patch.Enabled
	}
	f.UpdatedAt = e.clock.Now()

	if err := f.Validate(); err != nil {
		return f, err
	}
	if err := e.folders.Put(f); err != nil {
		return f, err
	}

	wasRunning, err := e.stopFolder(ctx, id)
	if err != nil {
		return f, err
	}
	e.drop(id)

	if f.Enabled && (wasRunning || enabling) {
		if err := e.startFolder(ctx, f); err != nil {
			return f, err
		}
	}
	return f, nil
}

// StartAll starts every enabled folder. A folder that fails to start is
// reported and skipped.
func (e *Engine) StartAll(ctx context.Context) error {
	e.ops.Lock()
	defer e.ops.Unlock()

	folders, err := e.folders.List()
	if err != nil {
		return err
	}

	var errs []error
	for _, f := range folders {
		if !f.Enabled {
			continue
		}
		if err := e.startFolder(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("folder %s: %w", f.ShortID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close stops every scheduler.
func (e *Engine) Close(ctx context.Context) error {
	e.ops.Lock()
	defer e.ops.Unlock()

	e.mu.Lock()
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := e.stopFolder(ctx, id); err != nil {
			errs = append(errs, err)
		}
		e.drop(id)
	}
	return errors.Join(errs...)
}

// Status reports the scheduler state of a folder.
func (e *Engine) Status(id string) (Status, error) {
	if _, err := e.folders.Get(id); err != nil {
		return Status{}, err
	}

	st := Status{FolderID: id, State: scheduler.StateStopped.String()}
	e.mu.Lock()
	ent := e.entries[id]
	e.mu.Unlock()
	if ent != nil && ent.sched != nil {
		st.State = ent.sched.State().String()
		st.Pending = len(ent.sched.Pending())
		st.Committing = ent.sched.IsCommitting()
	}
	return st, nil
}

// startFolder opens the store and starts a scheduler for f, replacing any
// cached store instance. The caller holds e.ops.
func (e *Engine) startFolder(ctx context.Context, f folder.WatchedFolder) error {
	e.mu.Lock()
	ent := e.entries[f.ID]
	e.mu.Unlock()
	if ent != nil && ent.sched != nil && ent.sched.State() != scheduler.StateStopped {
		return nil
	}

	store, err := e.open(f)
	if err != nil {
		e.notifyError(f.ID, err)
		return err
	}

	cfg := scheduler.ConfigFor(f)
	cfg.Debounce = e.opts.Debounce
	cfg.Clock = e.clock
	cfg.Logger = e.logger
	cfg.NewObserver = e.opts.NewObserver
	cfg.OnCommit = func(info scheduler.CommitInfo) {
		e.notifyCommit(CommitEvent{
			FolderID: info.FolderID,
			Hash:     info.Hash,
			Paths:    info.Paths,
			Duration: info.Duration,
			At:       info.At,
			Source:   "scheduler",
		})
	}
	cfg.OnError = e.notifyError

	sched := scheduler.New(store, cfg)
	if err := sched.Start(ctx); err != nil {
		e.mu.Lock()
		e.entries[f.ID] = &entry{store: store}
		e.mu.Unlock()
		e.notifyError(f.ID, err)
		return err
	}

	e.mu.Lock()
	e.entries[f.ID] = &entry{store: store, sched: sched}
	e.mu.Unlock()
	return nil
}

// stopFolder stops the folder's scheduler and reports whether it was
// running. The caller holds e.ops.
func (e *Engine) stopFolder(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	ent := e.entries[id]
	e.mu.Unlock()

	if ent == nil || ent.sched == nil {
		return false, nil
	}
	running := ent.sched.State() != scheduler.StateStopped
	if err := ent.sched.Stop(ctx); err != nil {
		return running, fmt.Errorf("stop scheduler: %w", err)
	}

	e.mu.Lock()
	if cur := e.entries[id]; cur == ent {
		cur.sched = nil
	}
	e.mu.Unlock()
	return running, nil
}

// drop forgets the cached store of a stopped folder.
func (e *Engine) drop(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent := e.entries[id]; ent != nil && ent.sched == nil {
		delete(e.entries, id)
	}
}

// open builds a store for f from its saved configuration.
func (e *Engine) open(f folder.WatchedFolder) (vcs.HistoryStore, error) {
	return vcs.Open(e.opts.StoreType, vcs.Options{
		WorkTree:       f.Path,
		StorePath:      f.StoragePath(),
		IgnorePatterns: f.EffectiveIgnorePatterns(),
		Author:         e.opts.Author,
		Clock:          e.clock,
		Logger:         e.logger,
	})
}

// openAt builds a store for a work tree at an arbitrary location.
func (e *Engine) openAt(workTree, storePath string) (vcs.HistoryStore, error) {
	return vcs.Open(e.opts.StoreType, vcs.Options{
		WorkTree:  workTree,
		StorePath: storePath,
		Author:    e.opts.Author,
		Clock:     e.clock,
		Logger:    e.logger,
	})
}

// store returns the folder's live store, opening and caching one when the
// folder is not being watched.
func (e *Engine) store(id string) (vcs.HistoryStore, error) {
	e.mu.Lock()
	if ent := e.entries[id]; ent != nil {
		e.mu.Unlock()
		return ent.store, nil
	}
	e.mu.Unlock()

	f, err := e.folders.Get(id)
	if err != nil {
		return nil, err
	}
	st, err := e.open(f)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ent := e.entries[id]; ent != nil {
		return ent.store, nil
	}
	e.entries[id] = &entry{store: st}
	return st, nil
}

// guard returns the lock that orders store mutations of a folder against
// its relocation.
func (e *Engine) guard(id string) *sync.RWMutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.guards[id]
	if g == nil {
		g = &sync.RWMutex{}
		e.guards[id] = g
	}
	return g
}

func (e *Engine) snapshotListeners() []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Listener(nil), e.listeners...)
}

func (e *Engine) notifyCommit(ev CommitEvent) {
	for _, l := range e.snapshotListeners() {
		l.OnCommit(ev)
	}
}

func (e *Engine) notifyError(folderID string, err error) {
	ev := ErrorEvent{
		FolderID: folderID,
		Err:      err,
		Message:  err.Error(),
		Fatal:    vcs.IsFatal(err),
		At:       e.clock.Now(),
	}
	for _, l := range e.snapshotListeners() {
		l.OnError(ev)
	}
}

func (e *Engine) notifyRelocate(ev RelocateEvent) {
	for _, l := range e.snapshotListeners() {
		l.OnRelocate(ev)
	}
}

// controller lets the relocation coordinator pause and resume folders.
// Its methods run while the engine holds e.ops.
type controller struct {
	e *Engine
}

func (c controller) Pause(ctx context.Context, id string) (bool, error) {
	return c.e.stopFolder(ctx, id)
}

func (c controller) Resume(ctx context.Context, id string) error {
	f, err := c.e.folders.Get(id)
	if err != nil {
		return err
	}
	return c.e.startFolder(ctx, f)
}

func (c controller) Invalidate(id string) {
	c.e.drop(id)
}
