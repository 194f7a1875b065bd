// Package relocate moves a folder's history store to a new location,
// resolving the case where a store already exists there.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/keepsake-dev/keepsake/internal/clock"
	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// Action describes what a relocation did.
type Action string

const (
	// ActionNone means the store already was at the requested location.
	ActionNone Action = "none"
	// ActionMoved means the store was moved to a free location.
	ActionMoved Action = "moved"
	// ActionSourceWins means the existing destination was set aside and
	// replaced by the source store.
	ActionSourceWins Action = "source-wins"
	// ActionDestinationWins means the source was set aside and the
	// destination store adopted.
	ActionDestinationWins Action = "destination-wins"
	// ActionAdopted means the source was already gone and the existing
	// destination was adopted.
	ActionAdopted Action = "adopted"
)

// Result reports the outcome of a relocation.
type Result struct {
	FolderID   string `json:"folderId" yaml:"folderId"`
	Action     Action `json:"action" yaml:"action"`
	From       string `json:"from" yaml:"from"`
	To         string `json:"to" yaml:"to"`
	BackupPath string `json:"backupPath,omitempty" yaml:"backupPath,omitempty"`
}

// Controller gives the coordinator control over a folder's scheduler and
// cached store.
type Controller interface {
	// Pause stops the folder's scheduler, waiting for an in-flight commit.
	// It reports whether the scheduler was running.
	Pause(ctx context.Context, folderID string) (bool, error)

	// Resume starts the folder's scheduler from its saved configuration.
	Resume(ctx context.Context, folderID string) error

	// Invalidate drops any cached store instance for the folder.
	Invalidate(folderID string)
}

// Opener builds a store instance for a work tree and store location.
type Opener func(workTree, storePath string) (vcs.HistoryStore, error)

// Options configures a Coordinator.
type Options struct {
	Folders    folder.Registry
	Controller Controller
	Open       Opener
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Coordinator runs relocations one at a time.
type Coordinator struct {
	folders folder.Registry
	ctl     Controller
	open    Opener
	clock   clock.Clock
	logger  *slog.Logger

	mu sync.Mutex
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		folders: opts.Folders,
		ctl:     opts.Controller,
		open:    opts.Open,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Relocate moves the history store of folderID to newLocation. An empty
// newLocation means the folder's default store path.
//
// Steps already completed are not undone when a later step fails.
func (c *Coordinator) Relocate(ctx context.Context, folderID, newLocation string) (res *Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.folders.Get(folderID)
	if err != nil {
		return nil, err
	}

	if newLocation == "" {
		newLocation = f.DefaultStoragePath()
	}
	dest, err := filepath.Abs(newLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", newLocation, err)
	}
	dest = filepath.Clean(dest)
	src := filepath.Clean(f.StoragePath())

	log := c.logger.With("folder", folderID, "from", src, "to", dest)

	if src != dest {
		if err := checkDestination(filepath.Clean(f.Path), src, dest); err != nil {
			return nil, err
		}
	}

	wasRunning, err := c.ctl.Pause(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("pause scheduler: %w", err)
	}
	defer func() {
		if !wasRunning {
			return
		}
		if rerr := c.ctl.Resume(ctx, folderID); rerr != nil {
			log.Warn("failed to resume scheduler after relocation", "error", rerr)
			err = errors.Join(err, fmt.Errorf("resume scheduler: %w", rerr))
		}
	}()

	res = &Result{FolderID: folderID, From: src, To: dest}

	if src == dest {
		res.Action = ActionNone
		return res, nil
	}

	if isEmptyDir(dest) {
		if err := os.Remove(dest); err != nil {
			return nil, vcs.NewError(vcs.ErrIO, "relocate", dest, err)
		}
	}

	if !exists(src) {
		if !exists(dest) {
			return nil, vcs.NewError(vcs.ErrSourceMissing, "relocate", src, nil)
		}
		res.Action = ActionAdopted
		log.Info("source store missing, adopting destination")
		return c.finish(ctx, f, dest, res)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, vcs.NewError(vcs.ErrIO, "relocate", dest, err)
	}

	if !exists(dest) {
		if err := move(src, dest); err != nil {
			return nil, vcs.NewError(vcs.ErrIO, "relocate", dest, err)
		}
		res.Action = ActionMoved
		log.Info("moved history store")
		return c.finish(ctx, f, dest, res)
	}

	sourceWins, err := c.sourceWins(ctx, f.Path, src, dest)
	if err != nil {
		return nil, err
	}

	if sourceWins {
		backup := backupPath(dest, c.clock.Now())
		if err := os.Rename(dest, backup); err != nil {
			return nil, vcs.NewError(vcs.ErrIO, "relocate", dest, err)
		}
		if err := move(src, dest); err != nil {
			return nil, vcs.NewError(vcs.ErrIO, "relocate", dest, err)
		}
		res.Action = ActionSourceWins
		res.BackupPath = backup
	} else {
		backup := backupPath(src, c.clock.Now())
		if err := os.Rename(src, backup); err != nil {
			return nil, vcs.NewError(vcs.ErrIO, "relocate", src, err)
		}
		res.Action = ActionDestinationWins
		res.BackupPath = backup
	}
	log.Info("resolved relocation conflict", "action", res.Action, "backup", res.BackupPath)

	return c.finish(ctx, f, dest, res)
}

// finish saves the new location, drops the cached store and verifies the
// store at dest is readable. The saved location is kept even when the
// verification fails.
func (c *Coordinator) finish(ctx context.Context, f folder.WatchedFolder, dest string, res *Result) (*Result, error) {
	if dest == filepath.Clean(f.DefaultStoragePath()) {
		f.StorageOverride = ""
	} else {
		f.StorageOverride = dest
	}
	f.UpdatedAt = c.clock.Now()
	if err := c.folders.Put(f); err != nil {
		return res, fmt.Errorf("save folder: %w", err)
	}

	c.ctl.Invalidate(f.ID)

	store, err := c.open(f.Path, dest)
	if err != nil {
		return res, vcs.NewError(vcs.ErrRelocationConflict, "verify", dest, err)
	}
	if err := store.SetIgnorePatterns(f.EffectiveIgnorePatterns()); err != nil {
		return res, vcs.NewError(vcs.ErrRelocationConflict, "verify", dest, err)
	}
	if _, err := store.GetCommits(ctx, 1); err != nil {
		return res, vcs.NewError(vcs.ErrRelocationConflict, "verify", dest, err)
	}
	return res, nil
}

// sourceWins decides a conflict: the source is kept when the destination
// has no commits, or when the source has commits strictly newer than the
// destination's newest.
func (c *Coordinator) sourceWins(ctx context.Context, workTree, src, dest string) (bool, error) {
	srcTime, srcOK, err := c.latest(ctx, workTree, src)
	if err != nil {
		return false, err
	}
	dstTime, dstOK, err := c.latest(ctx, workTree, dest)
	if err != nil {
		return false, err
	}

	c.logger.Debug("comparing stores",
		"source", srcTime, "sourceHasCommits", srcOK,
		"destination", dstTime, "destinationHasCommits", dstOK)

	if !dstOK {
		return true, nil
	}
	return srcOK && srcTime.After(dstTime), nil
}

func (c *Coordinator) latest(ctx context.Context, workTree, location string) (time.Time, bool, error) {
	store, err := c.open(workTree, location)
	if err != nil {
		return time.Time{}, false, vcs.NewError(vcs.ErrRelocationConflict, "inspect", location, err)
	}
	ts, ok, err := store.LatestCommitTime(ctx)
	if err != nil {
		// An unreadable store counts as empty.
		c.logger.Warn("cannot read store", "location", location, "error", err)
		return time.Time{}, false, nil
	}
	return ts, ok, nil
}

// checkDestination rejects locations that would move the work tree or the
// store into itself, and existing paths that are not history stores.
func checkDestination(workTree, src, dest string) error {
	switch {
	case dest == workTree:
		return vcs.NewError(vcs.ErrRelocationConflict, "relocate", dest,
			errors.New("destination is the watched folder"))
	case within(dest, workTree):
		return vcs.NewError(vcs.ErrRelocationConflict, "relocate", dest,
			errors.New("destination contains the watched folder"))
	case within(dest, src):
		return vcs.NewError(vcs.ErrRelocationConflict, "relocate", dest,
			errors.New("destination contains the current store"))
	case within(src, dest):
		return vcs.NewError(vcs.ErrRelocationConflict, "relocate", dest,
			errors.New("destination is inside the current store"))
	}

	if exists(dest) && !isEmptyDir(dest) && !isStore(dest) {
		return vcs.NewError(vcs.ErrRelocationConflict, "relocate", dest,
			errors.New("destination exists and is not a history store"))
	}
	return nil
}

// within reports whether path lies strictly below dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isStore reports whether path holds a repository.
func isStore(path string) bool {
	info, err := os.Stat(filepath.Join(path, "HEAD"))
	return err == nil && info.Mode().IsRegular()
}

func isEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) == 0
}

// backupPath returns "<path>.backup-YYYYMMDD-HHMMSS", adding a numeric
// suffix if that name is taken.
func backupPath(path string, now time.Time) string {
	base := path + ".backup-" + now.Format("20060102-150405")
	candidate := base
	for i := 1; exists(candidate); i++ {
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return candidate
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
