package vcs

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []string
	}{
		{
			name:     "empty input",
			input:    []byte(""),
			expected: nil,
		},
		{
			name:     "single line",
			input:    []byte("line1"),
			expected: []string{"line1"},
		},
		{
			name:     "multiple lines",
			input:    []byte("line1\nline2\nline3"),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "empty lines filtered",
			input:    []byte("line1\n\nline2\n\n\nline3"),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "trailing newline",
			input:    []byte("line1\nline2\n"),
			expected: []string{"line1", "line2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLines(tt.input)

			if len(result) != len(tt.expected) {
				t.Fatalf("Expected %d lines, got %d", len(tt.expected), len(result))
			}

			for i, line := range result {
				if line != tt.expected[i] {
					t.Errorf("Line %d: expected '%s', got '%s'", i, tt.expected[i], line)
				}
			}
		})
	}
}

func TestParseNullSeparated(t *testing.T) {
	got := ParseNullSeparated([]byte("a.txt\x00dir/with space.md\x00"))
	want := []string{"a.txt", "dir/with space.md"}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}

	if ParseNullSeparated(nil) != nil {
		t.Error("expected nil for empty output")
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		baseDir  string
		expected string
		wantErr  bool
	}{
		{
			name:    "empty path",
			path:    "",
			baseDir: "/base",
			wantErr: true,
		},
		{
			name:     "absolute path",
			path:     "/absolute/path",
			baseDir:  "/base",
			expected: "/absolute/path",
		},
		{
			name:     "relative path",
			path:     "relative/path",
			baseDir:  "/base",
			expected: "/base/relative/path",
		},
		{
			name:    "relative path without base",
			path:    "relative/path",
			baseDir: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := SanitizePath(tt.path, tt.baseDir)

			if tt.wantErr {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			expected := filepath.Clean(tt.expected)
			if result != expected {
				t.Errorf("Expected '%s', got '%s'", expected, result)
			}
		})
	}
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		target   string
		expected string
		wantErr  bool
	}{
		{
			name:     "same directory",
			base:     "/base",
			target:   "/base",
			expected: ".",
		},
		{
			name:     "child file",
			base:     "/base",
			target:   "/base/child.txt",
			expected: "child.txt",
		},
		{
			name:     "nested child",
			base:     "/base",
			target:   "/base/child/nested.md",
			expected: "child/nested.md",
		},
		{
			name:    "parent directory",
			base:    "/base/child",
			target:  "/base",
			wantErr: true,
		},
		{
			name:    "sibling directory",
			base:    "/base/dir1",
			target:  "/base/dir2",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := RelativePath(tt.base, tt.target)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %q", result)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsSubPath(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		target   string
		expected bool
	}{
		{"same directory", "/base", "/base", true},
		{"child directory", "/base", "/base/child", true},
		{"nested child", "/base", "/base/child/nested", true},
		{"dotted child name", "/base", "/base/..hidden", true},
		{"parent directory", "/base/child", "/base", false},
		{"sibling directory", "/base/dir1", "/base/dir2", false},
		{"completely different", "/base", "/other", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsSubPath(tt.base, tt.target)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestNormalizeRelPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.txt", want: "a.txt"},
		{in: "./dir//b.md", want: "dir/b.md"},
		{in: "dir/../c.md", want: "c.md"},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "../escape.txt", wantErr: true},
		{in: "/abs/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeRelPath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeRelPath(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeRelPath(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeRelPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExecContext(t *testing.T) {
	ctx := context.Background()

	output, err := ExecContext(ctx, 5*time.Second, t.TempDir(), []string{"KEEPSAKE_TEST=hello"}, "sh", "-c", "echo $KEEPSAKE_TEST")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result := strings.TrimSpace(string(output))
	if result != "hello" {
		t.Errorf("Expected 'hello', got '%s'", result)
	}
}

func TestExecContextStderr(t *testing.T) {
	_, err := ExecContext(context.Background(), 0, t.TempDir(), nil, "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q does not include stderr", err)
	}
	if code := GetExitCode(err); code != 3 {
		t.Errorf("GetExitCode() = %d, want 3", code)
	}
}

func TestExecContextTimeout(t *testing.T) {
	_, err := ExecContext(context.Background(), 100*time.Millisecond, t.TempDir(), nil, "sleep", "2")
	if err == nil {
		t.Error("Expected timeout error")
	}
}

func TestExecContextMissingBinary(t *testing.T) {
	_, err := ExecContext(context.Background(), 0, t.TempDir(), nil, "keepsake-no-such-binary")
	if !errors.Is(err, ErrVCSNotAvailable) {
		t.Errorf("err = %v, want ErrVCSNotAvailable", err)
	}
}

func TestIsExitError(t *testing.T) {
	if IsExitError(nil) {
		t.Error("Expected false for nil error")
	}

	err := exec.Command("echo", "test").Run()
	if IsExitError(err) {
		t.Error("Expected false for successful command")
	}

	err = exec.Command("sh", "-c", "exit 1").Run()
	if !IsExitError(err) {
		t.Error("Expected true for failed command")
	}
}

func TestGetExitCode(t *testing.T) {
	if code := GetExitCode(nil); code != 0 {
		t.Errorf("Expected exit code 0 for nil error, got %d", code)
	}

	err := exec.Command("sh", "-c", "exit 42").Run()
	if code := GetExitCode(err); code != 42 {
		t.Errorf("Expected exit code 42, got %d", code)
	}

	if code := GetExitCode(errors.New("plain")); code != -1 {
		t.Errorf("Expected -1 for non-exit error, got %d", code)
	}
}
