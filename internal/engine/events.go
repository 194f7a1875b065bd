package engine

import (
	"log/slog"
	"time"

	"github.com/keepsake-dev/keepsake/internal/relocate"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// CommitEvent reports a commit recorded for a folder.
type CommitEvent struct {
	FolderID string        `json:"folderId"`
	Hash     string        `json:"hash"`
	Paths    []string      `json:"paths"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
	// Source is "scheduler", "restore" or "manual".
	Source string `json:"source"`
}

// ErrorEvent reports a failure that did not reach a direct caller.
type ErrorEvent struct {
	FolderID string    `json:"folderId"`
	Err      error     `json:"-"`
	Message  string    `json:"message"`
	Fatal    bool      `json:"fatal"`
	At       time.Time `json:"at"`
}

// RelocateEvent reports a completed or failed relocation.
type RelocateEvent struct {
	Result relocate.Result `json:"result"`
	Err    string          `json:"error,omitempty"`
	At     time.Time       `json:"at"`
}

// Listener receives engine notifications. Calls happen on scheduler
// goroutines and must not block for long.
type Listener interface {
	OnCommit(CommitEvent)
	OnError(ErrorEvent)
	OnRelocate(RelocateEvent)
}

// LogListener writes notifications to a structured logger.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) OnCommit(e CommitEvent) {
	l.Logger.Info("commit recorded",
		"folder", e.FolderID, "hash", vcs.ShortRef(e.Hash),
		"paths", len(e.Paths), "source", e.Source, "duration", e.Duration)
}

func (l LogListener) OnError(e ErrorEvent) {
	l.Logger.Error("folder error", "folder", e.FolderID, "fatal", e.Fatal, "error", e.Message)
}

func (l LogListener) OnRelocate(e RelocateEvent) {
	if e.Err != "" {
		l.Logger.Error("relocation failed", "folder", e.Result.FolderID, "to", e.Result.To, "error", e.Err)
		return
	}
	l.Logger.Info("relocated history store",
		"folder", e.Result.FolderID, "action", e.Result.Action,
		"from", e.Result.From, "to", e.Result.To, "backup", e.Result.BackupPath)
}
