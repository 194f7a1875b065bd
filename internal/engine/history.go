package engine

import (
	"context"
	"time"

	"github.com/keepsake-dev/keepsake/internal/relocate"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// ListCommits returns up to limit commits of a folder, newest first.
func (e *Engine) ListCommits(ctx context.Context, id string, limit int) ([]vcs.Commit, error) {
	st, err := e.store(id)
	if err != nil {
		return nil, err
	}
	return st.GetCommits(ctx, limit)
}

// ReadFileAt returns a file's content at ref, falling back to the last
// version recorded before ref.
func (e *Engine) ReadFileAt(ctx context.Context, id, ref, path string) ([]byte, error) {
	st, err := e.store(id)
	if err != nil {
		return nil, err
	}
	return st.GetFileContentResilient(ctx, ref, path)
}

// Diff compares a file between two refs; an empty newRef means the live file.
func (e *Engine) Diff(ctx context.Context, id, path, oldRef, newRef string) (*vcs.DiffResult, error) {
	st, err := e.store(id)
	if err != nil {
		return nil, err
	}
	return st.GetDiff(ctx, path, oldRef, newRef)
}

// ResolveRefAt returns the newest commit made at or before t.
func (e *Engine) ResolveRefAt(ctx context.Context, id string, t time.Time) (string, error) {
	st, err := e.store(id)
	if err != nil {
		return "", err
	}
	return st.CommitBefore(ctx, t)
}

// Restore writes a file back to its content at ref and records the
// restoration as a new commit.
func (e *Engine) Restore(ctx context.Context, id, path, ref string) (string, error) {
	g := e.guard(id)
	g.RLock()
	defer g.RUnlock()

	st, err := e.store(id)
	if err != nil {
		return "", err
	}

	start := e.clock.Now()
	hash, err := st.RestoreFile(ctx, path, ref)
	if err != nil {
		return "", err
	}
	if hash != "" {
		e.notifyCommit(CommitEvent{
			FolderID: id,
			Hash:     hash,
			Paths:    []string{path},
			Duration: e.clock.Now().Sub(start),
			At:       start,
			Source:   "restore",
		})
	}
	return hash, nil
}

// CommitNow records paths immediately. With no paths, the folder's pending
// set is flushed.
func (e *Engine) CommitNow(ctx context.Context, id string, paths []string) (string, error) {
	g := e.guard(id)
	g.RLock()
	defer g.RUnlock()

	if len(paths) == 0 {
		e.mu.Lock()
		ent := e.entries[id]
		e.mu.Unlock()
		if ent == nil || ent.sched == nil {
			return "", nil
		}
		return ent.sched.Flush(ctx)
	}

	st, err := e.store(id)
	if err != nil {
		return "", err
	}

	start := e.clock.Now()
	hash, recorded, err := vcs.CommitRecorded(ctx, st, paths)
	if err != nil {
		return "", err
	}
	if hash != "" {
		e.notifyCommit(CommitEvent{
			FolderID: id,
			Hash:     hash,
			Paths:    recorded,
			Duration: e.clock.Now().Sub(start),
			At:       start,
			Source:   "manual",
		})
	}
	return hash, nil
}

// Relocate moves a folder's history store. An empty location means the
// default location inside the folder.
func (e *Engine) Relocate(ctx context.Context, id, location string) (*relocate.Result, error) {
	e.ops.Lock()
	defer e.ops.Unlock()

	// wait for restores and manual commits, and hold new ones off until
	// the store is at its new location
	g := e.guard(id)
	g.Lock()
	defer g.Unlock()

	res, err := e.relocator.Relocate(ctx, id, location)

	ev := RelocateEvent{At: e.clock.Now()}
	if res != nil {
		ev.Result = *res
	} else {
		ev.Result = relocate.Result{FolderID: id, To: location}
	}
	if err != nil {
		ev.Err = err.Error()
		e.notifyError(id, err)
	}
	e.notifyRelocate(ev)
	return res, err
}
