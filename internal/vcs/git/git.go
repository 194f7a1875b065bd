// Package git provides a git implementation of the vcs.HistoryStore
// interface.
//
// The store drives the git executable with an explicit --git-dir and
// --work-tree, so the history directory can live inside the watched folder
// or anywhere else on disk. Commit dates come from the injected clock.
package git

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/keepsake-dev/keepsake/internal/clock"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// Store implements vcs.HistoryStore on top of a git repository with a
// detached git directory.
type Store struct {
	// workTree is the watched folder
	workTree string

	// gitDir is the history directory
	gitDir string

	authorName  string
	authorEmail string

	clock  clock.Clock
	logger *slog.Logger

	// mu serializes commits against reads within this process
	mu       sync.RWMutex
	patterns []string
}

var (
	_ vcs.HistoryStore = (*Store)(nil)
	_ vcs.PathReporter = (*Store)(nil)
)

// New creates a git history store. Nothing is written to disk until
// Initialize or the first Commit.
func New(opts vcs.Options) (*Store, error) {
	workTree, err := filepath.Abs(opts.WorkTree)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work tree: %w", err)
	}
	gitDir, err := filepath.Abs(opts.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}

	author := opts.Author
	if author == "" {
		author = vcs.DefaultAuthor
	}
	name, email := parseAuthor(author)

	s := &Store{
		workTree:    filepath.Clean(workTree),
		gitDir:      filepath.Clean(gitDir),
		authorName:  name,
		authorEmail: email,
		clock:       opts.Clock,
		logger:      opts.Logger,
		patterns:    append([]string(nil), opts.IgnorePatterns...),
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s, nil
}

// Location returns the git directory path
func (s *Store) Location() string {
	return s.gitDir
}

// WorkTree returns the watched folder path
func (s *Store) WorkTree() string {
	return s.workTree
}

// exists reports whether a repository has been created at the store path.
func (s *Store) exists() bool {
	_, err := os.Stat(filepath.Join(s.gitDir, "HEAD"))
	return err == nil
}

// git runs a git command bound to this store's git dir and work tree.
// env entries are added to the command environment.
func (s *Store) git(ctx context.Context, env []string, args ...string) ([]byte, error) {
	return s.run(ctx, env, nil, true, args...)
}

// run is git with optional stdin. literal turns off pathspec magic, which
// check-ignore rejects.
func (s *Store) run(ctx context.Context, env []string, stdin []byte, literal bool, args ...string) ([]byte, error) {
	base := []string{
		"--git-dir=" + s.gitDir,
		"--work-tree=" + s.workTree,
	}
	if literal {
		base = append(base, "--literal-pathspecs")
	}
	base = append(base,
		"-c", "core.quotepath=off",
		"-c", "core.autocrlf=false",
		"-c", "commit.gpgsign=false",
		"-c", "user.name="+s.authorName,
		"-c", "user.email="+s.authorEmail,
	)
	s.logger.Debug("git", "args", strings.Join(args, " "), "store", s.gitDir)
	return vcs.ExecInput(ctx, 0, s.workTree, env, stdin, "git", append(base, args...)...)
}

// hasHead reports whether the store has at least one commit.
func (s *Store) hasHead(ctx context.Context) bool {
	ok, err := s.headState(ctx)
	return ok && err == nil
}

// headState distinguishes an unborn HEAD (false, nil) from a store git
// cannot read (false, err).
func (s *Store) headState(ctx context.Context) (bool, error) {
	_, err := s.git(ctx, nil, "rev-parse", "--verify", "-q", "HEAD^{commit}")
	if err == nil {
		return true, nil
	}
	if vcs.GetExitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// commitEnv pins author and committer dates to the store clock.
func (s *Store) commitEnv() []string {
	now := s.clock.Now()
	date := fmt.Sprintf("%d %s", now.Unix(), now.Format("-0700"))
	return []string{
		"GIT_AUTHOR_NAME=" + s.authorName,
		"GIT_AUTHOR_EMAIL=" + s.authorEmail,
		"GIT_COMMITTER_NAME=" + s.authorName,
		"GIT_COMMITTER_EMAIL=" + s.authorEmail,
		"GIT_AUTHOR_DATE=" + date,
		"GIT_COMMITTER_DATE=" + date,
	}
}

// parseAuthor splits "Name <email>" into its parts.
func parseAuthor(author string) (string, string) {
	open := strings.Index(author, "<")
	end := strings.LastIndex(author, ">")
	if open < 0 || end < open {
		return strings.TrimSpace(author), "keepsake@localhost"
	}
	name := strings.TrimSpace(author[:open])
	email := strings.TrimSpace(author[open+1 : end])
	if name == "" {
		name = "keepsake"
	}
	return name, email
}
