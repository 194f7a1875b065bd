package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/relocate"
	"github.com/keepsake-dev/keepsake/internal/scheduler"
	"github.com/keepsake-dev/keepsake/internal/testutil"
	"github.com/keepsake-dev/keepsake/internal/vcs"
	"github.com/keepsake-dev/keepsake/internal/watch"
)

// stubObserver is fed directly by tests.
type stubObserver struct {
	events chan watch.Event
	errors chan error

	mu      sync.Mutex
	stopped bool
}

func (o *stubObserver) Start() error { return nil }

func (o *stubObserver) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.stopped {
		o.stopped = true
		close(o.events)
		close(o.errors)
	}
	return nil
}

func (o *stubObserver) Events() <-chan watch.Event { return o.events }
func (o *stubObserver) Errors() <-chan error       { return o.errors }

// collector records listener notifications.
type collector struct {
	mu        sync.Mutex
	commits   []CommitEvent
	errs      []ErrorEvent
	relocates []RelocateEvent
}

func (c *collector) OnCommit(e CommitEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, e)
}

func (c *collector) OnError(e ErrorEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, e)
}

func (c *collector) OnRelocate(e RelocateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relocates = append(c.relocates, e)
}

func (c *collector) commitEvents() []CommitEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CommitEvent(nil), c.commits...)
}

type testEngine struct {
	*Engine
	clock     *testutil.FakeClock
	folders   *folder.MemRegistry
	events    *collector
	mu        sync.Mutex
	observers map[string]*stubObserver
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	testutil.RequireGit(t)

	te := &testEngine{
		clock:     testutil.FixedClock(),
		folders:   folder.NewMemRegistry(),
		events:    &collector{},
		observers: make(map[string]*stubObserver),
	}
	te.Engine = New(Options{
		Folders: te.folders,
		Clock:   te.clock,
		NewObserver: func(opts watch.Options) (scheduler.Observer, error) {
			obs := &stubObserver{
				events: make(chan watch.Event, 16),
				errors: make(chan error, 16),
			}
			te.mu.Lock()
			te.observers[opts.Root] = obs
			te.mu.Unlock()
			return obs, nil
		},
		Listeners: []Listener{},
	})
	te.AddListener(te.events)
	t.Cleanup(func() { te.Close(context.Background()) })
	return te
}

func (te *testEngine) observer(root string) *stubObserver {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.observers[root]
}

func (te *testEngine) attach(t *testing.T, dir string) folder.WatchedFolder {
	t.Helper()
	f, err := te.Attach(context.Background(), folder.WatchedFolder{Path: dir, Enabled: true})
	if err != nil {
		t.Fatalf("Attach(%s) failed: %v", dir, err)
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAttachStartsWatching(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "notes.md", "hello\n")

	f := te.attach(t, dir)
	if f.ID == "" || f.Strategy != folder.StrategyOnSave || f.IntervalMinutes != 5 {
		t.Errorf("Attach() did not apply defaults: %+v", f)
	}

	st, err := te.Status(f.ID)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if st.State != "watching" {
		t.Errorf("State = %q, want watching", st.State)
	}

	commits, err := te.ListCommits(context.Background(), f.ID, 0)
	if err != nil {
		t.Fatalf("ListCommits() failed: %v", err)
	}
	if len(commits) != 1 || !strings.HasPrefix(commits[0].Message, "Initial commit") {
		t.Errorf("commits = %+v, want the initial commit", commits)
	}
}

func TestAttachDisabledRecordsInitialCommit(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "notes.md", "hello\n")

	f, err := folder.New(dir, te.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	f.Enabled = false
	if f, err = te.Attach(context.Background(), f); err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}

	if st, _ := te.Status(f.ID); st.State != "stopped" {
		t.Errorf("State = %q, want stopped", st.State)
	}
	commits, err := te.ListCommits(context.Background(), f.ID, 0)
	if err != nil {
		t.Fatalf("ListCommits() failed: %v", err)
	}
	if len(commits) != 1 {
		t.Errorf("got %d commits, want the initial commit", len(commits))
	}
}

func TestAttachRejectsDuplicatesAndFiles(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	te.attach(t, dir)

	_, err := te.Attach(context.Background(), folder.WatchedFolder{Path: dir})
	if !errors.Is(err, ErrDuplicateFolder) {
		t.Errorf("duplicate Attach() error = %v, want ErrDuplicateFolder", err)
	}

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := te.Attach(context.Background(), folder.WatchedFolder{Path: file}); err == nil {
		t.Error("Attach() of a regular file succeeded")
	}
	if _, err := te.Attach(context.Background(), folder.WatchedFolder{Path: filepath.Join(dir, "missing")}); err == nil {
		t.Error("Attach() of a missing directory succeeded")
	}
}

func TestSchedulerCommitReachesListeners(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	f := te.attach(t, dir)

	testutil.WriteFile(t, dir, "todo.md", "- write tests\n")
	te.observer(dir).events <- watch.Event{Path: "todo.md", Op: watch.OpModify}

	waitFor(t, "pending change", func() bool {
		st, _ := te.Status(f.ID)
		return st.Pending == 1
	})
	te.clock.Advance(scheduler.DefaultDebounce)

	commits := te.events.commitEvents()
	if len(commits) != 1 {
		t.Fatalf("got %d commit events, want 1", len(commits))
	}
	ev := commits[0]
	if ev.FolderID != f.ID || ev.Source != "scheduler" || len(ev.Paths) != 1 || ev.Paths[0] != "todo.md" {
		t.Errorf("commit event = %+v", ev)
	}

	data, err := te.ReadFileAt(context.Background(), f.ID, ev.Hash, "todo.md")
	if err != nil {
		t.Fatalf("ReadFileAt() failed: %v", err)
	}
	if string(data) != "- write tests\n" {
		t.Errorf("ReadFileAt() = %q", data)
	}
}

func TestUpdateConfigTogglesScheduler(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	f := te.attach(t, dir)
	ctx := context.Background()

	off := false
	if _, err := te.UpdateConfig(ctx, f.ID, Patch{Enabled: &off}); err != nil {
		t.Fatalf("UpdateConfig(disable) failed: %v", err)
	}
	if st, _ := te.Status(f.ID); st.State != "stopped" {
		t.Errorf("after disable State = %q, want stopped", st.State)
	}

	on := true
	periodic := folder.StrategyPeriodic
	ten := 10
	updated, err := te.UpdateConfig(ctx, f.ID, Patch{Enabled: &on, Strategy: &periodic, IntervalMinutes: &ten})
	if err != nil {
		t.Fatalf("UpdateConfig(enable) failed: %v", err)
	}
	if updated.Strategy != folder.StrategyPeriodic || updated.IntervalMinutes != 10 {
		t.Errorf("UpdateConfig() = %+v", updated)
	}
	if st, _ := te.Status(f.ID); st.State != "watching" {
		t.Errorf("after enable State = %q, want watching", st.State)
	}

	bad := folder.Strategy("hourly")
	if _, err := te.UpdateConfig(ctx, f.ID, Patch{Strategy: &bad}); err == nil {
		t.Error("UpdateConfig() accepted an invalid strategy")
	}
}

func TestRestoreAndDiff(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "f.txt", "one\n")
	f := te.attach(t, dir)
	ctx := context.Background()

	first, err := te.ListCommits(ctx, f.ID, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("ListCommits() = %v, %v", first, err)
	}

	te.clock.Advance(time.Second)
	testutil.WriteFile(t, dir, "f.txt", "two\n")
	if _, err := te.CommitNow(ctx, f.ID, []string{"f.txt"}); err != nil {
		t.Fatalf("CommitNow() failed: %v", err)
	}

	diff, err := te.Diff(ctx, f.ID, "f.txt", first[0].Hash, "")
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}
	if diff.Stats.Added != 1 || diff.Stats.Removed != 1 {
		t.Errorf("Diff() stats = %+v, want +1 -1", diff.Stats)
	}

	te.clock.Advance(time.Second)
	hash, err := te.Restore(ctx, f.ID, "f.txt", first[0].Hash)
	if err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if hash == "" {
		t.Fatal("Restore() recorded no commit")
	}
	if got := testutil.ReadFile(t, dir, "f.txt"); got != "one\n" {
		t.Errorf("file after restore = %q", got)
	}

	var sources []string
	for _, ev := range te.events.commitEvents() {
		sources = append(sources, ev.Source)
	}
	if strings.Join(sources, ",") != "manual,restore" {
		t.Errorf("commit sources = %v, want [manual restore]", sources)
	}

	ref, err := te.ResolveRefAt(ctx, f.ID, first[0].Timestamp)
	if err != nil {
		t.Fatalf("ResolveRefAt() failed: %v", err)
	}
	if ref != first[0].Hash {
		t.Errorf("ResolveRefAt() = %s, want %s", vcs.ShortRef(ref), first[0].ShortHash())
	}
}

func TestRelocateResumesWatching(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.txt", "a\n")
	f := te.attach(t, dir)

	dest := filepath.Join(t.TempDir(), "history")
	res, err := te.Relocate(context.Background(), f.ID, dest)
	if err != nil {
		t.Fatalf("Relocate() failed: %v", err)
	}
	if res.Action != relocate.ActionMoved {
		t.Errorf("Action = %s, want moved", res.Action)
	}
	if testutil.Exists(f.DefaultStoragePath()) {
		t.Error("old store still exists")
	}

	got, err := te.Folder(f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StoragePath() != dest {
		t.Errorf("StoragePath() = %s, want %s", got.StoragePath(), dest)
	}
	if st, _ := te.Status(f.ID); st.State != "watching" {
		t.Errorf("State after relocation = %q, want watching", st.State)
	}

	commits, err := te.ListCommits(context.Background(), f.ID, 0)
	if err != nil || len(commits) != 1 {
		t.Errorf("ListCommits() after relocation = %d commits, %v", len(commits), err)
	}

	te.events.mu.Lock()
	defer te.events.mu.Unlock()
	if len(te.events.relocates) != 1 || te.events.relocates[0].Err != "" {
		t.Errorf("relocate events = %+v", te.events.relocates)
	}
}

func TestDetachForgetsFolder(t *testing.T) {
	te := newTestEngine(t)
	dir := t.TempDir()
	f := te.attach(t, dir)

	if err := te.Detach(context.Background(), f.ID); err != nil {
		t.Fatalf("Detach() failed: %v", err)
	}
	if _, err := te.Status(f.ID); !errors.Is(err, folder.ErrNotFound) {
		t.Errorf("Status() after detach error = %v, want ErrNotFound", err)
	}
	if !testutil.Exists(f.DefaultStoragePath()) {
		t.Error("Detach() removed the history store")
	}
	if err := te.Detach(context.Background(), f.ID); !errors.Is(err, folder.ErrNotFound) {
		t.Errorf("second Detach() error = %v, want ErrNotFound", err)
	}
}

func TestStartAllSkipsDisabled(t *testing.T) {
	te := newTestEngine(t)
	now := te.clock.Now()

	on, err := folder.New(t.TempDir(), now)
	if err != nil {
		t.Fatal(err)
	}
	off, err := folder.New(t.TempDir(), now)
	if err != nil {
		t.Fatal(err)
	}
	off.Enabled = false
	for _, f := range []folder.WatchedFolder{on, off} {
		if err := te.folders.Put(f); err != nil {
			t.Fatal(err)
		}
	}

	if err := te.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() failed: %v", err)
	}
	if st, _ := te.Status(on.ID); st.State != "watching" {
		t.Errorf("enabled folder State = %q", st.State)
	}
	if st, _ := te.Status(off.ID); st.State != "stopped" {
		t.Errorf("disabled folder State = %q", st.State)
	}
	if testutil.Exists(off.DefaultStoragePath()) {
		t.Error("disabled folder got a store")
	}
}

func TestCommitNowWithoutPendingIsNoop(t *testing.T) {
	te := newTestEngine(t)
	f := te.attach(t, t.TempDir())

	hash, err := te.CommitNow(context.Background(), f.ID, nil)
	if err != nil || hash != "" {
		t.Errorf("CommitNow(nil) = %q, %v; want no-op", hash, err)
	}
}

func TestRelocateWaitsForManualCommit(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.txt", "a\n")

	f, err := folder.New(dir, te.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	f.Enabled = false
	if f, err = te.Attach(ctx, f); err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}
	src := f.StoragePath()

	// a store whose commit stays in flight until released
	blocking := testutil.NewFakeStore(dir, src)
	blocking.BlockCommits()
	te.Engine.mu.Lock()
	te.entries[f.ID] = &entry{store: blocking}
	te.Engine.mu.Unlock()

	committed := make(chan error, 1)
	go func() {
		_, err := te.CommitNow(ctx, f.ID, []string{"a.txt"})
		committed <- err
	}()
	<-blocking.Started()

	dest := filepath.Join(t.TempDir(), "store")
	relocated := make(chan error, 1)
	go func() {
		_, err := te.Relocate(ctx, f.ID, dest)
		relocated <- err
	}()

	select {
	case err := <-relocated:
		t.Fatalf("Relocate() returned while a commit was in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if !testutil.Exists(filepath.Join(src, "HEAD")) {
		t.Fatal("store moved while a commit was in flight")
	}

	blocking.Release()
	if err := <-committed; err != nil {
		t.Fatalf("CommitNow() failed: %v", err)
	}
	if err := <-relocated; err != nil {
		t.Fatalf("Relocate() failed: %v", err)
	}

	testutil.WriteFile(t, dir, "a.txt", "b\n")
	if hash, err := te.CommitNow(ctx, f.ID, []string{"a.txt"}); err != nil || hash == "" {
		t.Fatalf("CommitNow() after relocation = %q, %v", hash, err)
	}
	if testutil.Exists(src) {
		t.Error("a new store was created at the old location")
	}
	commits, err := te.ListCommits(ctx, f.ID, 0)
	if err != nil {
		t.Fatalf("ListCommits() failed: %v", err)
	}
	if len(commits) != 2 {
		t.Errorf("got %d commits at the new location, want 2", len(commits))
	}
}
