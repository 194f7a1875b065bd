package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// FakeStore is an in-memory vcs.HistoryStore that records commit calls.
// Commit can be made to block or fail to exercise scheduler behavior.
type FakeStore struct {
	mu        sync.Mutex
	location  string
	workTree  string
	commits   [][]string
	initCalls int
	initErr   error
	commitErr error
	seq       int
	tree      []string

	// gate, when set, makes Commit wait for a receive before returning.
	gate chan struct{}
	// started receives once per Commit call when gate is set.
	started chan struct{}
}

var (
	_ vcs.HistoryStore = (*FakeStore)(nil)
	_ vcs.PathReporter = (*FakeStore)(nil)
)

// NewFakeStore creates a FakeStore for the given work tree.
func NewFakeStore(workTree, location string) *FakeStore {
	return &FakeStore{workTree: workTree, location: location}
}

// BlockCommits makes every Commit call signal Started and then wait for
// Release.
func (f *FakeStore) BlockCommits() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 16)
}

// Started returns the channel signalled when a blocked Commit begins.
func (f *FakeStore) Started() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Release lets one blocked Commit call return.
func (f *FakeStore) Release() {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	gate <- struct{}{}
}

// SetInitialTree makes the first commit report paths as recorded, the way
// a real store's first commit records the whole tree.
func (f *FakeStore) SetInitialTree(paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tree = append([]string(nil), paths...)
}

// FailCommits makes Commit return err (nil to clear).
func (f *FakeStore) FailCommits(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitErr = err
}

// FailInit makes Initialize return err.
func (f *FakeStore) FailInit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr = err
}

// Commits returns the path sets passed to successful Commit calls, each
// sorted.
func (f *FakeStore) Commits() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.commits))
	copy(out, f.commits)
	return out
}

// InitCalls returns how many times Initialize was called.
func (f *FakeStore) InitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

func (f *FakeStore) Location() string { return f.location }
func (f *FakeStore) WorkTree() string { return f.workTree }

func (f *FakeStore) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *FakeStore) Commit(ctx context.Context, paths []string) (string, error) {
	hash, _, err := f.CommitPaths(ctx, paths)
	return hash, err
}

func (f *FakeStore) CommitPaths(ctx context.Context, paths []string) (string, []string, error) {
	if len(paths) == 0 {
		return "", nil, nil
	}

	f.mu.Lock()
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", nil, vcs.NewError(vcs.ErrCommit, "commit", "", f.commitErr)
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	if f.seq == 0 && len(f.tree) > 0 {
		sorted = append([]string(nil), f.tree...)
		sort.Strings(sorted)
	}
	f.commits = append(f.commits, sorted)
	f.seq++
	return fmt.Sprintf("%040x", f.seq), sorted, nil
}

func (f *FakeStore) GetCommits(ctx context.Context, limit int) ([]vcs.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vcs.Commit
	for i := len(f.commits) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, vcs.Commit{
			Hash:         fmt.Sprintf("%040x", i+1),
			Message:      "fake",
			ChangedPaths: f.commits[i],
		})
	}
	return out, nil
}

func (f *FakeStore) GetFileContent(ctx context.Context, ref, path string) ([]byte, error) {
	return nil, vcs.NewError(vcs.ErrNotFound, "show", path, nil)
}

func (f *FakeStore) GetFileContentResilient(ctx context.Context, ref, path string) ([]byte, error) {
	return nil, vcs.NewError(vcs.ErrNotFound, "show", path, nil)
}

func (f *FakeStore) GetDiff(ctx context.Context, path, oldRef, newRef string) (*vcs.DiffResult, error) {
	return nil, vcs.NewError(vcs.ErrNotFound, "diff", path, nil)
}

func (f *FakeStore) RestoreFile(ctx context.Context, path, ref string) (string, error) {
	return "", vcs.NewError(vcs.ErrNotFound, "restore", path, nil)
}

func (f *FakeStore) CommitBefore(ctx context.Context, t time.Time) (string, error) {
	return "", vcs.NewError(vcs.ErrNotFound, "commit-before", "", nil)
}

func (f *FakeStore) LatestCommitTime(ctx context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *FakeStore) SetIgnorePatterns(patterns []string) error { return nil }
