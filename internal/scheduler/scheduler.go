// Package scheduler turns filesystem events for one folder into history
// commits.
//
// The scheduler:
//  1. Initializes the folder's history store
//  2. Watches the folder and collects changed paths in a pending set
//  3. Commits the pending set after a quiet period (on-save) or on a fixed
//     interval (periodic)
//  4. Waits for an in-flight commit on Stop
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/keepsake-dev/keepsake/internal/clock"
	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/vcs"
	"github.com/keepsake-dev/keepsake/internal/watch"
)

// DefaultDebounce is the quiet period before an on-save commit.
const DefaultDebounce = 2 * time.Second

// State is the scheduler lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateWatching
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateWatching:
		return "watching"
	default:
		return "unknown"
	}
}

// Observer delivers filesystem events for a folder.
type Observer interface {
	Start() error
	Stop() error
	Events() <-chan watch.Event
	Errors() <-chan error
}

// ObserverFactory builds the observer for a folder.
type ObserverFactory func(opts watch.Options) (Observer, error)

// NewFileObserver is the default ObserverFactory.
func NewFileObserver(opts watch.Options) (Observer, error) {
	return watch.NewFileWatcher(opts)
}

// CommitInfo describes a commit made by the scheduler.
type CommitInfo struct {
	FolderID string
	Hash     string
	Paths    []string
	Duration time.Duration
	At       time.Time
}

// Config holds configuration for a Scheduler.
type Config struct {
	// FolderID identifies the folder in callbacks
	FolderID string

	Strategy folder.Strategy

	// Interval is the periodic commit interval (minimum one minute)
	Interval time.Duration

	// Debounce is the on-save quiet period (default: DefaultDebounce)
	Debounce time.Duration

	IgnorePatterns []string
	WatchSubtree   bool

	Clock       clock.Clock
	Logger      *slog.Logger
	NewObserver ObserverFactory

	// OnCommit is called after every commit that recorded something
	OnCommit func(CommitInfo)

	// OnError receives observer and commit failures
	OnError func(folderID string, err error)
}

// ConfigFor builds a Config from a folder's settings.
func ConfigFor(f folder.WatchedFolder) Config {
	return Config{
		FolderID:       f.ID,
		Strategy:       f.Strategy,
		Interval:       f.Interval(),
		IgnorePatterns: f.EffectiveIgnorePatterns(),
		WatchSubtree:   f.WatchSubtree,
	}
}

// Scheduler owns the pending change set of one folder.
type Scheduler struct {
	store  vcs.HistoryStore
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex

	mu         sync.Mutex
	state      State
	pending    map[string]struct{}
	committing bool
	commitDone chan struct{}
	debounce   clock.Timer
	ticker     clock.Timer
	observer   Observer
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a stopped scheduler for store.
func New(store vcs.HistoryStore, cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NewObserver == nil {
		cfg.NewObserver = NewFileObserver
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Strategy == "" {
		cfg.Strategy = folder.StrategyOnSave
	}
	if cfg.Interval < time.Minute {
		cfg.Interval = time.Minute
	}

	return &Scheduler{
		store:   store,
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With("folder", cfg.FolderID),
		pending: make(map[string]struct{}),
	}
}

// Store returns the history store the scheduler commits to.
func (s *Scheduler) Store() vcs.HistoryStore {
	return s.store
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the sorted pending paths.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedPaths(s.pending)
}

// IsCommitting reports whether a commit is in flight.
func (s *Scheduler) IsCommitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committing
}

// Start initializes the store and begins watching. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return err
	}

	if err := s.store.Initialize(ctx); err != nil {
		return fail(fmt.Errorf("initialize history store: %w", err))
	}

	obs, err := s.cfg.NewObserver(watch.Options{
		Root:      s.store.WorkTree(),
		Recursive: s.cfg.WatchSubtree,
		Ignore:    s.cfg.IgnorePatterns,
		Exclude:   []string{s.store.Location()},
	})
	if err != nil {
		return fail(fmt.Errorf("create observer: %w", err))
	}
	if err := obs.Start(); err != nil {
		return fail(fmt.Errorf("start observer: %w", err))
	}

	s.mu.Lock()
	s.observer = obs
	s.done = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.state = StateWatching
	if s.cfg.Strategy == folder.StrategyPeriodic {
		s.ticker = s.clock.Every(s.cfg.Interval, s.tick)
	}
	done := s.done
	s.mu.Unlock()

	s.wg.Add(1)
	go s.forward(obs, done)

	s.logger.Info("watching folder", "root", s.store.WorkTree(), "strategy", s.cfg.Strategy)
	return nil
}

// Stop detaches the observer, cancels timers, waits for an in-flight
// commit and discards the pending set.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	s.stopTimersLocked()
	obs, done := s.observer, s.done
	s.observer, s.done = nil, nil
	s.mu.Unlock()

	var stopErr error
	if done != nil {
		close(done)
	}
	if obs != nil {
		stopErr = obs.Stop()
	}
	s.wg.Wait()

	if err := s.waitIdle(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	dropped := len(s.pending)
	s.pending = make(map[string]struct{})
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.logger.Info("stopped watching", "discarded", dropped)
	return stopErr
}

// waitIdle blocks until no commit is in flight.
func (s *Scheduler) waitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.committing {
			s.mu.Unlock()
			return nil
		}
		ch := s.commitDone
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleEvent adds a working-tree-relative path to the pending set.
// Events arriving while the scheduler is not watching are dropped.
func (s *Scheduler) HandleEvent(path string) {
	rel, err := vcs.NormalizeRelPath(path)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateWatching {
		return
	}
	s.pending[rel] = struct{}{}
	if s.cfg.Strategy == folder.StrategyOnSave {
		s.armDebounceLocked()
	}
}

// Flush commits the pending set now. It returns "" when nothing was
// committed, including when another commit is already in flight.
func (s *Scheduler) Flush(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.mu.Unlock()

	return s.attemptCommit(ctx)
}

// forward moves observer output into the pending set until done closes.
func (s *Scheduler) forward(obs Observer, done <-chan struct{}) {
	defer s.wg.Done()

	events, errs := obs.Events(), obs.Errors()
	for {
		select {
		case <-done:
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			s.logger.Debug("file event", "op", event.Op, "path", event.Path)
			s.HandleEvent(event.Path)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.reportError(fmt.Errorf("observer: %w", err))
		}
	}
}

func (s *Scheduler) armDebounceLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = s.clock.AfterFunc(s.cfg.Debounce, s.fire)
}

func (s *Scheduler) stopTimersLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

// fire runs when the debounce window closes.
func (s *Scheduler) fire() {
	s.mu.Lock()
	s.debounce = nil
	ctx := s.ctx
	s.mu.Unlock()

	if ctx != nil {
		s.attemptCommit(ctx)
	}
}

// tick runs on every periodic interval.
func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx != nil {
		s.attemptCommit(ctx)
	}
}

// attemptCommit commits the whole pending set if the scheduler is watching
// and idle. The set is swapped out before the commit starts, so events
// arriving mid-commit land in a fresh set. A failed commit does not
// restore its paths.
func (s *Scheduler) attemptCommit(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != StateWatching || s.committing || len(s.pending) == 0 {
		s.mu.Unlock()
		return "", nil
	}
	paths := sortedPaths(s.pending)
	s.pending = make(map[string]struct{})
	s.committing = true
	s.commitDone = make(chan struct{})
	s.mu.Unlock()

	start := s.clock.Now()
	hash, recorded, err := vcs.CommitRecorded(ctx, s.store, paths)
	elapsed := s.clock.Now().Sub(start)

	s.mu.Lock()
	s.committing = false
	close(s.commitDone)
	if s.state == StateWatching && s.cfg.Strategy == folder.StrategyOnSave && len(s.pending) > 0 {
		s.armDebounceLocked()
	}
	s.mu.Unlock()

	if err != nil {
		s.reportError(fmt.Errorf("commit %d paths: %w", len(paths), err))
		return "", err
	}
	if hash == "" {
		s.logger.Debug("nothing to commit", "paths", len(paths))
		return "", nil
	}

	s.logger.Info("committed", "hash", vcs.ShortRef(hash), "paths", len(recorded), "duration", elapsed)
	if s.cfg.OnCommit != nil {
		s.cfg.OnCommit(CommitInfo{
			FolderID: s.cfg.FolderID,
			Hash:     hash,
			Paths:    recorded,
			Duration: elapsed,
			At:       start,
		})
	}
	return hash, nil
}

func (s *Scheduler) reportError(err error) {
	s.logger.Warn("scheduler error", "error", err)
	if s.cfg.OnError != nil {
		s.cfg.OnError(s.cfg.FolderID, err)
	}
}

func sortedPaths(set map[string]struct{}) []string {
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
