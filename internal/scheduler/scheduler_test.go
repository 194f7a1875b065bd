package scheduler

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/testutil"
	"github.com/keepsake-dev/keepsake/internal/vcs"
	"github.com/keepsake-dev/keepsake/internal/watch"
)

// fakeObserver is an Observer fed directly by tests.
type fakeObserver struct {
	opts     watch.Options
	events   chan watch.Event
	errors   chan error
	startErr error

	mu      sync.Mutex
	stopped bool
}

func (o *fakeObserver) Start() error { return o.startErr }

func (o *fakeObserver) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.stopped {
		o.stopped = true
		close(o.events)
		close(o.errors)
	}
	return nil
}

func (o *fakeObserver) Events() <-chan watch.Event { return o.events }
func (o *fakeObserver) Errors() <-chan error       { return o.errors }

// recorder collects scheduler callbacks.
type recorder struct {
	mu      sync.Mutex
	commits []CommitInfo
	errs    []error
	errCh   chan error
}

func newRecorder() *recorder {
	return &recorder{errCh: make(chan error, 16)}
}

func (r *recorder) onCommit(info CommitInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, info)
}

func (r *recorder) onError(folderID string, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.errCh <- err
}

func (r *recorder) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commits)
}

type harness struct {
	sched    *Scheduler
	store    *testutil.FakeStore
	clock    *testutil.FakeClock
	observer *fakeObserver
	rec      *recorder
}

func newHarness(t *testing.T, strategy folder.Strategy) *harness {
	t.Helper()

	h := &harness{
		store: testutil.NewFakeStore("/data/notes", "/data/notes/.keepsake"),
		clock: testutil.FixedClock(),
		rec:   newRecorder(),
	}
	h.sched = New(h.store, Config{
		FolderID:     "folder-1",
		Strategy:     strategy,
		Interval:     time.Minute,
		WatchSubtree: true,
		Clock:        h.clock,
		NewObserver: func(opts watch.Options) (Observer, error) {
			h.observer = &fakeObserver{
				opts:   opts,
				events: make(chan watch.Event, 16),
				errors: make(chan error, 16),
			}
			return h.observer, nil
		},
		OnCommit: h.rec.onCommit,
		OnError:  h.rec.onError,
	})

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { h.sched.Stop(context.Background()) })
	return h
}

func TestStartWiresObserver(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)

	if h.sched.State() != StateWatching {
		t.Errorf("State() = %v, want watching", h.sched.State())
	}
	if h.store.InitCalls() != 1 {
		t.Errorf("Initialize called %d times, want 1", h.store.InitCalls())
	}
	if h.observer.opts.Root != "/data/notes" || !h.observer.opts.Recursive {
		t.Errorf("observer options = %+v", h.observer.opts)
	}
	if !reflect.DeepEqual(h.observer.opts.Exclude, []string{"/data/notes/.keepsake"}) {
		t.Errorf("Exclude = %v, want store location", h.observer.opts.Exclude)
	}

	// A second Start is a no-op.
	if err := h.sched.Start(context.Background()); err != nil {
		t.Errorf("second Start() failed: %v", err)
	}
	if h.store.InitCalls() != 1 {
		t.Errorf("second Start() re-initialized the store")
	}
}

func TestStartInitFailure(t *testing.T) {
	store := testutil.NewFakeStore("/data/notes", "/data/notes/.keepsake")
	store.FailInit(vcs.NewError(vcs.ErrStoreInit, "initialize", "/data/notes/.keepsake", errors.New("read-only")))

	s := New(store, Config{FolderID: "f", Clock: testutil.FixedClock()})
	err := s.Start(context.Background())
	if !errors.Is(err, vcs.ErrStoreInit) {
		t.Fatalf("Start() error = %v, want ErrStoreInit", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v after failed start, want stopped", s.State())
	}
}

func TestDebounceCoalescing(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)

	h.sched.HandleEvent("a.txt")
	h.clock.Advance(time.Second)
	h.sched.HandleEvent("b.txt")
	h.clock.Advance(time.Second)
	h.sched.HandleEvent("a.txt")
	h.sched.HandleEvent("sub/c.txt")

	h.clock.Advance(1900 * time.Millisecond)
	if n := len(h.store.Commits()); n != 0 {
		t.Fatalf("commit fired before debounce expired (%d commits)", n)
	}

	h.clock.Advance(200 * time.Millisecond)
	commits := h.store.Commits()
	if len(commits) != 1 {
		t.Fatalf("got %d commits, want 1", len(commits))
	}
	if want := []string{"a.txt", "b.txt", "sub/c.txt"}; !reflect.DeepEqual(commits[0], want) {
		t.Errorf("committed %v, want %v", commits[0], want)
	}
	if len(h.sched.Pending()) != 0 {
		t.Errorf("Pending() = %v after commit", h.sched.Pending())
	}

	if h.rec.commitCount() != 1 {
		t.Fatalf("OnCommit called %d times, want 1", h.rec.commitCount())
	}
	info := h.rec.commits[0]
	if info.FolderID != "folder-1" || info.Hash == "" || len(info.Paths) != 3 {
		t.Errorf("CommitInfo = %+v", info)
	}
}

func TestPendingSetDurability(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)
	h.store.BlockCommits()

	h.sched.HandleEvent("a.txt")

	advanced := make(chan struct{})
	go func() {
		h.clock.Advance(2 * time.Second)
		close(advanced)
	}()
	<-h.store.Started()

	if !h.sched.IsCommitting() {
		t.Fatal("IsCommitting() = false while commit is blocked")
	}

	h.sched.HandleEvent("b.txt")
	if got := h.sched.Pending(); !reflect.DeepEqual(got, []string{"b.txt"}) {
		t.Errorf("Pending() mid-commit = %v, want [b.txt]", got)
	}

	// A second attempt while one is in flight is skipped.
	hash, err := h.sched.Flush(context.Background())
	if hash != "" || err != nil {
		t.Errorf("Flush() during commit = %q, %v; want skipped", hash, err)
	}

	h.store.Release()
	<-advanced

	if got := h.sched.Pending(); !reflect.DeepEqual(got, []string{"b.txt"}) {
		t.Fatalf("Pending() after commit = %v, want [b.txt]", got)
	}

	// The debounce was re-armed for the mid-commit event.
	advanced = make(chan struct{})
	go func() {
		h.clock.Advance(2 * time.Second)
		close(advanced)
	}()
	<-h.store.Started()
	h.store.Release()
	<-advanced

	commits := h.store.Commits()
	want := [][]string{{"a.txt"}, {"b.txt"}}
	if !reflect.DeepEqual(commits, want) {
		t.Errorf("commits = %v, want %v", commits, want)
	}
}

func TestPeriodicStrategy(t *testing.T) {
	h := newHarness(t, folder.StrategyPeriodic)

	h.sched.HandleEvent("a.txt")
	if n := h.clock.PendingTimers(); n != 1 {
		t.Errorf("PendingTimers() = %d, want only the interval timer", n)
	}

	h.clock.Advance(30 * time.Second)
	if n := len(h.store.Commits()); n != 0 {
		t.Fatalf("periodic commit fired early (%d commits)", n)
	}

	h.clock.Advance(30 * time.Second)
	if n := len(h.store.Commits()); n != 1 {
		t.Fatalf("got %d commits after one interval, want 1", n)
	}

	// Nothing pending: the tick is a no-op.
	h.clock.Advance(time.Minute)
	if n := len(h.store.Commits()); n != 1 {
		t.Fatalf("got %d commits after idle interval, want 1", n)
	}

	h.sched.HandleEvent("b.txt")
	h.clock.Advance(time.Minute)
	commits := h.store.Commits()
	if len(commits) != 2 || !reflect.DeepEqual(commits[1], []string{"b.txt"}) {
		t.Errorf("commits = %v, want second commit of b.txt", commits)
	}
}

func TestStopCancelsTimers(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)

	h.sched.HandleEvent("a.txt")
	if err := h.sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	if n := h.clock.PendingTimers(); n != 0 {
		t.Errorf("PendingTimers() = %d after Stop, want 0", n)
	}
	if p := h.sched.Pending(); len(p) != 0 {
		t.Errorf("Pending() = %v after Stop, want empty", p)
	}

	h.clock.Advance(10 * time.Second)
	if n := len(h.store.Commits()); n != 0 {
		t.Errorf("got %d commits after Stop, want 0", n)
	}

	h.sched.HandleEvent("b.txt")
	if p := h.sched.Pending(); len(p) != 0 {
		t.Errorf("event after Stop was queued: %v", p)
	}
	if h.sched.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", h.sched.State())
	}
}

func TestStopWaitsForInFlightCommit(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)
	h.store.BlockCommits()

	h.sched.HandleEvent("a.txt")
	advanced := make(chan struct{})
	go func() {
		h.clock.Advance(2 * time.Second)
		close(advanced)
	}()
	<-h.store.Started()

	stopped := make(chan error, 1)
	go func() { stopped <- h.sched.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop() returned while a commit was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	h.store.Release()
	<-advanced

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after the commit finished")
	}
	if n := len(h.store.Commits()); n != 1 {
		t.Errorf("got %d commits, want the in-flight one", n)
	}
}

func TestCommitFailureClearsPending(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)
	h.store.FailCommits(errors.New("disk full"))

	h.sched.HandleEvent("a.txt")
	h.clock.Advance(2 * time.Second)

	select {
	case err := <-h.rec.errCh:
		if !errors.Is(err, vcs.ErrCommit) {
			t.Errorf("OnError got %v, want ErrCommit", err)
		}
	default:
		t.Fatal("commit failure was not reported")
	}
	if p := h.sched.Pending(); len(p) != 0 {
		t.Errorf("Pending() = %v after failed commit, want empty", p)
	}

	// No automatic retry.
	h.store.FailCommits(nil)
	h.clock.Advance(10 * time.Second)
	if n := len(h.store.Commits()); n != 0 {
		t.Fatalf("failed paths were retried (%d commits)", n)
	}

	// A new event folds the path back in.
	h.sched.HandleEvent("a.txt")
	h.clock.Advance(2 * time.Second)
	if n := len(h.store.Commits()); n != 1 {
		t.Errorf("got %d commits after new event, want 1", n)
	}
}

func TestObserverEventsAndErrors(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)

	h.observer.events <- watch.Event{Path: "from-observer.txt", Op: watch.OpModify}
	h.observer.errors <- errors.New("permission denied")

	select {
	case err := <-h.rec.errCh:
		if err == nil || !strings.Contains(err.Error(), "permission denied") {
			t.Errorf("OnError got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer error was not reported")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if p := h.sched.Pending(); reflect.DeepEqual(p, []string{"from-observer.txt"}) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observer event never reached the pending set: %v", h.sched.Pending())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if h.sched.State() != StateWatching {
		t.Errorf("State() = %v after observer error, want watching", h.sched.State())
	}
}

func TestHandleEventRejectsOutsidePaths(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)

	h.sched.HandleEvent("../escape.txt")
	h.sched.HandleEvent("")
	if p := h.sched.Pending(); len(p) != 0 {
		t.Errorf("Pending() = %v, want empty", p)
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateStopped:  "stopped",
		StateStarting: "starting",
		StateWatching: "watching",
		State(9):      "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestCommitInfoReportsRecordedPaths(t *testing.T) {
	h := newHarness(t, folder.StrategyOnSave)
	h.store.SetInitialTree([]string{"a.txt", "old/b.txt", "old/c.txt"})

	h.sched.HandleEvent("a.txt")
	h.clock.Advance(DefaultDebounce)
	if h.rec.commitCount() != 1 {
		t.Fatalf("OnCommit called %d times, want 1", h.rec.commitCount())
	}
	if want := []string{"a.txt", "old/b.txt", "old/c.txt"}; !reflect.DeepEqual(h.rec.commits[0].Paths, want) {
		t.Errorf("first CommitInfo.Paths = %v, want the whole tree %v", h.rec.commits[0].Paths, want)
	}

	h.sched.HandleEvent("a.txt")
	h.clock.Advance(DefaultDebounce)
	if h.rec.commitCount() != 2 {
		t.Fatalf("OnCommit called %d times, want 2", h.rec.commitCount())
	}
	if want := []string{"a.txt"}; !reflect.DeepEqual(h.rec.commits[1].Paths, want) {
		t.Errorf("second CommitInfo.Paths = %v, want %v", h.rec.commits[1].Paths, want)
	}
}
