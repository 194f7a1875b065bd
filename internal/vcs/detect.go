package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// UserRepo describes a version-control repository the user already keeps
// around a folder. keepsake stores are independent of it.
type UserRepo struct {
	// Kind is "git" or "jj"
	Kind string `json:"kind" yaml:"kind"`

	// Root is the repository's top-level directory
	Root string `json:"root" yaml:"root"`

	// Worktree is set when .git is a file pointing elsewhere
	Worktree bool `json:"worktree,omitempty" yaml:"worktree,omitempty"`
}

// DetectUserRepo walks up from path looking for .jj or .git. It returns
// false when the folder is not inside a repository.
func DetectUserRepo(path string) (UserRepo, bool) {
	current, err := filepath.Abs(path)
	if err != nil {
		return UserRepo{}, false
	}

	for {
		if info, err := os.Stat(filepath.Join(current, ".jj")); err == nil && info.IsDir() {
			return UserRepo{Kind: "jj", Root: current}, true
		}
		if info, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return UserRepo{Kind: "git", Root: current, Worktree: info.Mode().IsRegular()}, true
		}

		parent := filepath.Dir(current)
		if parent == current {
			return UserRepo{}, false
		}
		current = parent
	}
}

// IgnoresStore reports whether the user's repository already ignores the
// store directory name, judged from a .gitignore at the repository root.
func (r UserRepo) IgnoresStore(name string) bool {
	data, err := os.ReadFile(filepath.Join(r.Root, ".gitignore"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(line), "/"), "/")
		if line == name {
			return true
		}
	}
	return false
}

// GitAvailable reports whether the git executable is on PATH.
func GitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}
