package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// maxMessageNames caps the file names listed in a commit message.
const maxMessageNames = 10

// Commit records the given working-tree-relative paths.
func (s *Store) Commit(ctx context.Context, paths []string) (string, error) {
	hash, _, err := s.CommitPaths(ctx, paths)
	return hash, err
}

// CommitPaths is Commit that also reports the paths the commit recorded.
// For the first commit of a store that is the whole tree.
func (s *Store) CommitPaths(ctx context.Context, paths []string) (string, []string, error) {
	if len(paths) == 0 {
		return "", nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash, staged, err := s.initLocked(ctx)
	if err != nil || hash != "" {
		return hash, staged, err
	}
	return s.commitPaths(ctx, paths, "")
}

// commitPaths stages paths and commits them. An empty message produces the
// automatic "Auto-commit: <ts> - [names]" message. The caller holds s.mu.
func (s *Store) commitPaths(ctx context.Context, paths []string, message string) (string, []string, error) {
	if !s.hasHead(ctx) {
		return s.commitAll(ctx, "Initial commit")
	}

	var clean []string
	for _, p := range paths {
		rel, err := vcs.NormalizeRelPath(p)
		if err != nil {
			s.logger.Debug("skipping path", "path", p, "error", err)
			continue
		}
		clean = append(clean, rel)
	}

	clean, err := s.filterIgnored(ctx, clean)
	if err != nil {
		return "", nil, vcs.NewError(vcs.ErrCommit, "check-ignore", "", err)
	}

	var present, missing []string
	for _, rel := range clean {
		if _, err := os.Lstat(filepath.Join(s.workTree, filepath.FromSlash(rel))); err == nil {
			present = append(present, rel)
		} else {
			missing = append(missing, rel)
		}
	}

	if len(present) > 0 {
		args := append([]string{"add", "-A", "--"}, present...)
		if _, err := s.git(ctx, nil, args...); err != nil {
			return "", nil, vcs.NewError(vcs.ErrCommit, "add", "", err)
		}
	}
	if len(missing) > 0 {
		args := append([]string{"rm", "-r", "--cached", "-q", "--ignore-unmatch", "--"}, missing...)
		if _, err := s.git(ctx, nil, args...); err != nil {
			return "", nil, vcs.NewError(vcs.ErrCommit, "rm", "", err)
		}
	}

	staged, err := s.stagedPaths(ctx)
	if err != nil {
		return "", nil, vcs.NewError(vcs.ErrCommit, "diff", "", err)
	}
	if len(staged) == 0 {
		return "", nil, nil
	}

	if message == "" {
		message = autoMessage("Auto-commit", s.clock.Now(), staged)
	}
	hash, err := s.commitStaged(ctx, message)
	return hash, staged, err
}

// commitAll stages the whole tree. It returns "" when there is nothing to
// record. The caller holds s.mu.
func (s *Store) commitAll(ctx context.Context, label string) (string, []string, error) {
	if _, err := s.git(ctx, nil, "add", "-A"); err != nil {
		return "", nil, vcs.NewError(vcs.ErrCommit, "add", "", err)
	}

	staged, err := s.stagedPaths(ctx)
	if err != nil {
		return "", nil, vcs.NewError(vcs.ErrCommit, "diff", "", err)
	}
	if len(staged) == 0 {
		return "", nil, nil
	}

	hash, err := s.commitStaged(ctx, autoMessage(label, s.clock.Now(), staged))
	return hash, staged, err
}

func (s *Store) commitStaged(ctx context.Context, message string) (string, error) {
	if _, err := s.git(ctx, s.commitEnv(), "commit", "-q", "--no-verify", "-m", message); err != nil {
		return "", vcs.NewError(vcs.ErrCommit, "commit", "", err)
	}

	out, err := s.git(ctx, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", vcs.NewError(vcs.ErrCommit, "rev-parse", "", err)
	}
	hash := strings.TrimSpace(string(out))
	s.logger.Debug("committed", "hash", vcs.ShortRef(hash), "message", message)
	return hash, nil
}

// stagedPaths lists paths whose index entry differs from HEAD.
func (s *Store) stagedPaths(ctx context.Context) ([]string, error) {
	out, err := s.git(ctx, nil, "diff", "--cached", "--name-only", "-z")
	if err != nil {
		return nil, err
	}
	return vcs.ParseNullSeparated(out), nil
}

// filterIgnored drops paths matched by the exclude file.
func (s *Store) filterIgnored(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	stdin := []byte(strings.Join(paths, "\x00") + "\x00")
	out, err := s.run(ctx, nil, stdin, false, "check-ignore", "--stdin", "-z")
	if err != nil {
		// Exit status 1 means none of the paths are ignored.
		if vcs.GetExitCode(err) == 1 {
			return paths, nil
		}
		if errors.Is(err, vcs.ErrVCSNotAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("git check-ignore failed: %w", err)
	}

	ignored := make(map[string]bool)
	for _, p := range vcs.ParseNullSeparated(out) {
		ignored[p] = true
	}

	kept := paths[:0:0]
	for _, p := range paths {
		if !ignored[p] {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// autoMessage builds "<label>: <RFC3339> - [a.txt, b.md]".
func autoMessage(label string, ts time.Time, paths []string) string {
	names := make([]string, 0, len(paths))
	for i, p := range paths {
		if i == maxMessageNames {
			names = append(names, fmt.Sprintf("+%d more", len(paths)-maxMessageNames))
			break
		}
		names = append(names, path.Base(p))
	}
	return fmt.Sprintf("%s: %s - [%s]", label, ts.Format(time.RFC3339), strings.Join(names, ", "))
}
