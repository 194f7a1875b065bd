package vcs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIs(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewError(ErrStoreInit, "initialize", "/data/.keepsake", cause)

	if !errors.Is(err, ErrStoreInit) {
		t.Error("errors.Is(err, ErrStoreInit) = false")
	}
	if errors.Is(err, ErrCommit) {
		t.Error("errors.Is(err, ErrCommit) = true")
	}
	if !errors.Is(err, cause) {
		t.Error("original cause not reachable through Unwrap")
	}

	wrapped := fmt.Errorf("attach folder: %w", err)
	var typed *Error
	if !errors.As(wrapped, &typed) {
		t.Fatal("errors.As failed on wrapped error")
	}
	if typed.Op != "initialize" {
		t.Errorf("Op = %q, want initialize", typed.Op)
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(ErrNotFound, "show", "notes/a.md", errors.New("exit status 128"))
	msg := err.Error()

	for _, want := range []string{"show", "not found", "notes/a.md", "exit status 128"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewError(ErrNotFound, "", "", nil)) {
		t.Error("IsNotFound(typed) = false")
	}
	if !IsNotFound(fmt.Errorf("wrap: %w", ErrNotFound)) {
		t.Error("IsNotFound(wrapped sentinel) = false")
	}
	if IsNotFound(NewError(ErrIO, "", "", nil)) {
		t.Error("IsNotFound(ErrIO) = true")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"store init", NewError(ErrStoreInit, "", "", nil), true},
		{"binary missing", fmt.Errorf("%w: git", ErrVCSNotAvailable), true},
		{"commit", NewError(ErrCommit, "", "", nil), false},
		{"not found", ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}
