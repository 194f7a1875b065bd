package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// logFormat emits hash, author timestamp, author and message per commit.
const logFormat = "--format=%H%x1f%at%x1f%an <%ae>%x1f%B%x1e"

// GetCommits returns up to limit commits, newest first. A limit of zero or
// less returns the whole history.
func (s *Store) GetCommits(ctx context.Context, limit int) ([]vcs.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists() {
		return []vcs.Commit{}, nil
	}
	ok, err := s.headState(ctx)
	if err != nil {
		return nil, vcs.NewError(vcs.ErrStoreInit, "log", s.gitDir, err)
	}
	if !ok {
		return []vcs.Commit{}, nil
	}

	args := []string{"log", logFormat}
	if limit > 0 {
		args = append(args, "-n", strconv.Itoa(limit))
	}
	args = append(args, "HEAD")

	out, err := s.git(ctx, nil, args...)
	if err != nil {
		return nil, vcs.NewError(vcs.ErrIO, "log", s.gitDir, err)
	}

	commits := parseLog(out)
	for i := range commits {
		oldest := i == len(commits)-1
		commits[i].ChangedPaths = s.changedPaths(ctx, commits[i].Hash, oldest)
	}
	return commits, nil
}

// changedPaths lists the paths a commit touched. The oldest commit of a
// window is listed against the empty tree. Any failure falls back to the
// commit's full tree listing.
func (s *Store) changedPaths(ctx context.Context, hash string, oldest bool) []string {
	if !oldest {
		out, err := s.git(ctx, nil, "diff-tree", "--root", "--no-commit-id", "-r", "--name-only", "-z", hash)
		if err == nil {
			return vcs.ParseNullSeparated(out)
		}
		s.logger.Debug("diff-tree failed, listing tree", "commit", vcs.ShortRef(hash), "error", err)
	}

	out, err := s.git(ctx, nil, "ls-tree", "-r", "--name-only", "-z", hash)
	if err != nil {
		s.logger.Warn("cannot list commit tree", "commit", vcs.ShortRef(hash), "error", err)
		return nil
	}
	return vcs.ParseNullSeparated(out)
}

// parseLog parses output produced with logFormat.
func parseLog(out []byte) []vcs.Commit {
	var commits []vcs.Commit
	for _, record := range strings.Split(string(out), recordSep) {
		record = strings.TrimLeft(record, "\n")
		if strings.TrimSpace(record) == "" {
			continue
		}

		fields := strings.SplitN(record, fieldSep, 4)
		if len(fields) < 4 {
			continue
		}

		secs, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}

		commits = append(commits, vcs.Commit{
			Hash:      fields[0],
			Timestamp: time.Unix(secs, 0),
			Author:    fields[2],
			Message:   strings.TrimSpace(fields[3]),
		})
	}
	return commits
}

// CommitBefore returns the newest commit recorded at or before t.
func (s *Store) CommitBefore(ctx context.Context, t time.Time) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists() || !s.hasHead(ctx) {
		return "", vcs.NewError(vcs.ErrNotFound, "commit-before", "", nil)
	}

	out, err := s.git(ctx, nil, "log", "--format=%H %at", "HEAD")
	if err != nil {
		return "", vcs.NewError(vcs.ErrIO, "commit-before", s.gitDir, err)
	}

	for _, line := range vcs.ParseLines(out) {
		hash, at, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		secs, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			continue
		}
		if !time.Unix(secs, 0).After(t) {
			return hash, nil
		}
	}
	return "", vcs.NewError(vcs.ErrNotFound, "commit-before", t.Format(time.RFC3339), nil)
}

// LatestCommitTime returns the timestamp of HEAD.
func (s *Store) LatestCommitTime(ctx context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists() || !s.hasHead(ctx) {
		return time.Time{}, false, nil
	}

	out, err := s.git(ctx, nil, "log", "-1", "--format=%at", "HEAD")
	if err != nil {
		return time.Time{}, false, vcs.NewError(vcs.ErrIO, "latest", s.gitDir, err)
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("unexpected git log output %q: %w", out, err)
	}
	return time.Unix(secs, 0), true, nil
}
