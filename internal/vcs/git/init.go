package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// init registers the git history store with the vcs registry.
// This is called automatically when the package is imported.
func init() {
	vcs.Register(vcs.TypeGit, func(opts vcs.Options) (vcs.HistoryStore, error) {
		return New(opts)
	})
}

// excludeMarker is the first line of the exclude file this package owns.
const excludeMarker = "# managed by keepsake"

// DefaultIgnorePatterns are excluded from every folder's history.
var DefaultIgnorePatterns = []string{
	".git",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.swp",
	"*.tmp",
	"*~",
}

// Initialize creates the repository if needed and refreshes the exclude
// file. A newly created store gets an initial commit when the folder has at
// least one file to record.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _, err := s.initLocked(ctx)
	return err
}

// initLocked creates the repository when it is missing. When it does and
// the folder has files, it returns the initial commit's hash and paths.
func (s *Store) initLocked(ctx context.Context) (string, []string, error) {
	created := false
	if !s.exists() {
		if err := os.MkdirAll(s.gitDir, 0o755); err != nil {
			return "", nil, vcs.NewError(vcs.ErrStoreInit, "initialize", s.gitDir, err)
		}
		out, err := vcs.ExecContext(ctx, 0, s.gitDir, nil, "git",
			"-c", "init.defaultBranch=main", "init", "--bare", "-q", s.gitDir)
		if err != nil {
			return "", nil, vcs.NewError(vcs.ErrStoreInit, "initialize", s.gitDir,
				fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))))
		}
		created = true
		s.logger.Info("created history store", "store", s.gitDir, "workTree", s.workTree)
	}

	if err := s.writeExclude(); err != nil {
		return "", nil, vcs.NewError(vcs.ErrStoreInit, "initialize", s.gitDir, err)
	}

	if !created {
		return "", nil, nil
	}
	hash, staged, err := s.commitAll(ctx, "Initial commit")
	if err != nil {
		return "", nil, vcs.NewError(vcs.ErrStoreInit, "initialize", s.gitDir, err)
	}
	return hash, staged, nil
}

// SetIgnorePatterns replaces the folder-specific ignore patterns and
// rewrites the exclude file of an existing store.
func (s *Store) SetIgnorePatterns(patterns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns = append([]string(nil), patterns...)
	if !s.exists() {
		return nil
	}
	return s.writeExclude()
}

// excludeContent renders the managed exclude file.
func (s *Store) excludeContent() []byte {
	var b bytes.Buffer
	b.WriteString(excludeMarker + "\n")
	for _, p := range DefaultIgnorePatterns {
		b.WriteString(p + "\n")
	}
	if len(s.patterns) > 0 {
		b.WriteString("# folder patterns\n")
		for _, p := range s.patterns {
			if p = strings.TrimSpace(p); p != "" {
				b.WriteString(p + "\n")
			}
		}
	}
	if rel, ok := s.storeRelPath(); ok {
		b.WriteString("# history store\n")
		b.WriteString("/" + rel + "/\n")
		b.WriteString("/" + rel + ".backup-*/\n")
	}
	return b.Bytes()
}

// storeRelPath returns the store directory relative to the work tree when
// the store lives inside it.
func (s *Store) storeRelPath() (string, bool) {
	if s.gitDir == s.workTree || !vcs.IsSubPath(s.workTree, s.gitDir) {
		return "", false
	}
	rel, err := vcs.RelativePath(s.workTree, s.gitDir)
	if err != nil {
		return "", false
	}
	return rel, true
}

// writeExclude writes info/exclude if it is missing or stale.
func (s *Store) writeExclude() error {
	path := filepath.Join(s.gitDir, "info", "exclude")
	want := s.excludeContent()

	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, want) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create info dir: %w", err)
	}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		return fmt.Errorf("failed to write exclude file: %w", err)
	}
	return nil
}
