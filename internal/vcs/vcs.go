// Package vcs defines the history store used to keep automatic version
// history for a watched folder.
//
// A history store is a commit-chain storage engine bound to one working
// tree. It records snapshots of files as commits, serves historical content
// and diffs on demand, and can restore a file to any recorded version. The
// store may live inside the working tree (the default, a dot-directory) or
// at an arbitrary external path.
//
// # Usage
//
//	store, err := vcs.Open(vcs.TypeGit, vcs.Options{
//	    WorkTree:  "/home/me/notes",
//	    StorePath: "/home/me/notes/.keepsake",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := store.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	hash, err := store.Commit(ctx, []string{"todo.md"})
//
// # Implementations
//
//   - internal/vcs/git: git executable driven with --git-dir/--work-tree
package vcs

import (
	"context"
	"log/slog"
	"time"

	"github.com/keepsake-dev/keepsake/internal/clock"
)

// Type represents the history store backend type
type Type string

const (
	// TypeGit is a git repository with a detached git directory
	TypeGit Type = "git"
)

// String returns the string representation of the backend type
func (t Type) String() string {
	return string(t)
}

// Ref sentinels accepted wherever a commit hash is expected.
const (
	// RefCurrent refers to the live content on disk.
	RefCurrent = "current"

	// RefDeleted refers to the last recorded content of a file that no
	// longer exists on disk.
	RefDeleted = "deleted"
)

// HistoryStore is the durable, queryable record of file snapshots for one
// folder. Implementations must be safe for concurrent use; reads issued while
// a commit is in flight wait for it to finish.
type HistoryStore interface {
	// Location returns the on-disk path of the store.
	Location() string

	// WorkTree returns the live directory the store snapshots.
	WorkTree() string

	// Initialize creates the store if it does not exist yet. It is
	// idempotent. A freshly created store with at least one file in the
	// working tree gets an initial commit.
	Initialize(ctx context.Context) error

	// Commit records the given working-tree-relative paths and returns the
	// new commit hash. An empty path set, or a set with nothing to record,
	// returns "" and no error. The very first commit records the whole tree.
	Commit(ctx context.Context, paths []string) (string, error)

	// GetCommits returns up to limit commits, newest first.
	GetCommits(ctx context.Context, limit int) ([]Commit, error)

	// GetFileContent returns the content of path exactly as recorded at ref.
	GetFileContent(ctx context.Context, ref, path string) ([]byte, error)

	// GetFileContentResilient returns the content of path at ref, falling
	// back to the newest earlier commit that still had the file.
	GetFileContentResilient(ctx context.Context, ref, path string) ([]byte, error)

	// GetDiff compares path at oldRef against newRef. An empty newRef
	// means the live file on disk.
	GetDiff(ctx context.Context, path, oldRef, newRef string) (*DiffResult, error)

	// RestoreFile writes the content of path at ref back to disk and
	// records the restoration as a new commit.
	RestoreFile(ctx context.Context, path, ref string) (string, error)

	// CommitBefore returns the hash of the newest commit made at or before t.
	CommitBefore(ctx context.Context, t time.Time) (string, error)

	// LatestCommitTime returns the timestamp of the newest commit. ok is
	// false when the store has no commits.
	LatestCommitTime(ctx context.Context) (ts time.Time, ok bool, err error)

	// SetIgnorePatterns replaces the folder-specific ignore patterns.
	SetIgnorePatterns(patterns []string) error
}

// PathReporter is implemented by stores that report the paths a commit
// recorded. A store's first commit records the whole tree, not just the
// requested paths.
type PathReporter interface {
	CommitPaths(ctx context.Context, paths []string) (hash string, recorded []string, err error)
}

// CommitRecorded commits paths and returns the paths actually recorded.
// Stores without PathReporter are assumed to record exactly paths.
func CommitRecorded(ctx context.Context, st HistoryStore, paths []string) (string, []string, error) {
	if r, ok := st.(PathReporter); ok {
		return r.CommitPaths(ctx, paths)
	}
	hash, err := st.Commit(ctx, paths)
	if hash == "" {
		return hash, nil, err
	}
	return hash, paths, err
}

// Options configures a history store instance.
type Options struct {
	// WorkTree is the absolute path of the watched folder
	WorkTree string

	// StorePath is the absolute path of the store directory
	StorePath string

	// IgnorePatterns are folder-specific glob patterns excluded from history
	IgnorePatterns []string

	// Author is the commit identity, format "Name <email>"
	Author string

	// Clock supplies commit timestamps (default: real clock)
	Clock clock.Clock

	// Logger receives debug output (default: discard)
	Logger *slog.Logger
}

// DefaultAuthor is the identity recorded on automatic commits.
const DefaultAuthor = "keepsake <keepsake@localhost>"

// Commit is one immutable snapshot transition in a history store.
type Commit struct {
	// Hash is the content-derived commit identifier
	Hash string `json:"hash" yaml:"hash"`

	// Message is the human-readable summary
	Message string `json:"message" yaml:"message"`

	// Timestamp is when the commit was recorded
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Author is the commit identity
	Author string `json:"author" yaml:"author"`

	// ChangedPaths are working-tree-relative, slash-separated paths
	ChangedPaths []string `json:"changedPaths" yaml:"changedPaths"`
}

// ShortHash returns the abbreviated commit hash.
func (c Commit) ShortHash() string {
	return ShortRef(c.Hash)
}

// ShortRef abbreviates a commit hash to 7 characters. Sentinels and short
// strings are returned unchanged.
func ShortRef(ref string) string {
	if len(ref) > 7 && ref != RefCurrent && ref != RefDeleted {
		return ref[:7]
	}
	return ref
}

// DiffResult is the on-demand comparison of one file between two refs.
type DiffResult struct {
	FileName   string    `json:"fileName" yaml:"fileName"`
	OldContent string    `json:"oldContent" yaml:"oldContent"`
	NewContent string    `json:"newContent" yaml:"newContent"`
	OldRef     string    `json:"oldRef" yaml:"oldRef"`
	NewRef     string    `json:"newRef" yaml:"newRef"`
	Stats      LineStats `json:"stats" yaml:"stats"`
}

// Lines returns the line-level changes between old and new content.
func (d *DiffResult) Lines() []DiffLine {
	return LineDiff(d.OldContent, d.NewContent)
}
