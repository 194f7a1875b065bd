package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ===================
// Command Execution Utilities
// ===================

// ExecContext executes a command with timeout and context support.
// env entries are appended to the current process environment.
//
// Example:
//
//	output, err := ExecContext(ctx, 0, workTree, nil, "git", "status", "--porcelain")
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, env []string, name string, args ...string) ([]byte, error) {
	return ExecInput(ctx, timeout, workDir, env, nil, name, args...)
}

// ExecInput is ExecContext with stdin fed to the command.
func ExecInput(ctx context.Context, timeout time.Duration, workDir string, env []string, stdin []byte, name string, args ...string) ([]byte, error) {
	// Create context with timeout if specified
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVCSNotAvailable, name)
		}
		// Include stderr in error message for debugging
		if stderr.Len() > 0 {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.Bytes(), err
	}

	return stdout.Bytes(), nil
}

// ===================
// Output Parsing Utilities
// ===================

// ParseLines splits command output into non-empty lines.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}

	return result
}

// ParseNullSeparated splits NUL-terminated command output (git -z) into
// entries, keeping whitespace inside names intact.
func ParseNullSeparated(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	parts := strings.Split(string(output), "\x00")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// ===================
// Path Utilities
// ===================

// SanitizePath ensures a path is absolute and clean.
// Relative paths are resolved relative to the given base directory.
func SanitizePath(path string, baseDir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	if baseDir == "" {
		return "", fmt.Errorf("cannot resolve relative path without base directory")
	}

	absPath := filepath.Join(baseDir, path)
	return filepath.Clean(absPath), nil
}

// RelativePath returns the slash-separated path of target relative to base.
// Returns an error if target is outside base.
func RelativePath(base, target string) (string, error) {
	base = filepath.Clean(base)
	target = filepath.Clean(target)

	relPath, err := filepath.Rel(base, target)
	if err != nil {
		return "", fmt.Errorf("cannot determine relative path: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", target, base)
	}

	return filepath.ToSlash(relPath), nil
}

// IsSubPath returns true if target is inside base directory.
func IsSubPath(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)

	relPath, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}

	return relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator))
}

// NormalizeRelPath cleans a working-tree-relative path into the
// slash-separated form stored in history. Absolute paths and paths that
// escape the tree are rejected.
func NormalizeRelPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path %s must be relative to the watched folder", path)
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %s is outside the watched folder", path)
	}
	return clean, nil
}

// ===================
// Error Utilities
// ===================

// IsExitError returns true if the error is an exit error with non-zero status.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// GetExitCode returns the exit code from an error, or -1 if not an exit error.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
