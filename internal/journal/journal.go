// Package journal keeps a sqlite log of scheduler activity: commits,
// errors and history store relocations.
//
// The journal is an index over events already visible elsewhere (commits
// live in each folder's history store). Losing it loses no history.
//
// Architecture:
//   - Database file: <data dir>/activity.db
//   - WAL mode: readers (keepsake activity, HTTP API) during writes
//   - Schema: a single activity table indexed by folder and time
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/keepsake-dev/keepsake/internal/engine"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindCommit   Kind = "commit"
	KindError    Kind = "error"
	KindRelocate Kind = "relocate"
)

// Entry is one recorded activity.
type Entry struct {
	ID       int64         `json:"id" yaml:"id"`
	FolderID string        `json:"folderId" yaml:"folderId"`
	Kind     Kind          `json:"kind" yaml:"kind"`
	Hash     string        `json:"hash,omitempty" yaml:"hash,omitempty"`
	Paths    []string      `json:"paths,omitempty" yaml:"paths,omitempty"`
	Message  string        `json:"message,omitempty" yaml:"message,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	At       time.Time     `json:"at" yaml:"at"`
}

// timeFormat is fixed-width so stored times sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Journal wraps the sqlite connection.
type Journal struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates or opens the journal at path and ensures its schema.
//
// The caller must call Close when done.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	j := &Journal{conn: conn, path: path, logger: logger}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = j.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if err := j.initSchema(context.Background()); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close checkpoints the WAL and closes the connection.
func (j *Journal) Close() error {
	if j.conn == nil {
		return nil
	}
	if _, err := j.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		j.logger.Warn("failed to checkpoint journal", "error", err)
	}
	if err := j.conn.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	j.conn = nil
	return nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		folder_id TEXT NOT NULL,
		kind TEXT NOT NULL,  -- commit, error, relocate
		hash TEXT,
		paths TEXT,  -- JSON array
		message TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_folder_at ON activity(folder_id, at);
	CREATE INDEX IF NOT EXISTS idx_activity_kind ON activity(kind);
	`
	if _, err := j.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return nil
}

// Record appends an entry and returns its id.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	if e.FolderID == "" {
		return 0, fmt.Errorf("entry has no folder id")
	}

	var paths sql.NullString
	if len(e.Paths) > 0 {
		data, err := json.Marshal(e.Paths)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal paths: %w", err)
		}
		paths = sql.NullString{String: string(data), Valid: true}
	}

	res, err := j.conn.ExecContext(ctx, `
	INSERT INTO activity (folder_id, kind, hash, paths, message, duration_ms, at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.FolderID,
		string(e.Kind),
		nullString(e.Hash),
		paths,
		nullString(e.Message),
		e.Duration.Milliseconds(),
		e.At.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record %s for %s: %w", e.Kind, e.FolderID, err)
	}
	return res.LastInsertId()
}

// Query filters List results. Zero values match everything.
type Query struct {
	FolderID string
	Kind     Kind
	Since    time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// List returns matching entries, newest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.FolderID != "" {
		where = append(where, "folder_id = ?")
		args = append(args, q.FolderID)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if !q.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, q.Since.UTC().Format(timeFormat))
	}

	query := `SELECT id, folder_id, kind, hash, paths, message, duration_ms, at FROM activity`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                    Entry
			kind, at             string
			hash, paths, message sql.NullString
			durationMs           int64
		)
		if err := rows.Scan(&e.ID, &e.FolderID, &kind, &hash, &paths, &message, &durationMs, &at); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		e.Kind = Kind(kind)
		e.Hash = hash.String
		e.Message = message.String
		e.Duration = time.Duration(durationMs) * time.Millisecond
		if paths.Valid {
			if err := json.Unmarshal([]byte(paths.String), &e.Paths); err != nil {
				return nil, fmt.Errorf("failed to unmarshal paths of entry %d: %w", e.ID, err)
			}
		}
		if e.At, err = time.Parse(timeFormat, at); err != nil {
			return nil, fmt.Errorf("failed to parse time of entry %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries per kind for a folder ("" = all).
func (j *Journal) Count(ctx context.Context, folderID string) (map[Kind]int, error) {
	query := `SELECT kind, COUNT(*) FROM activity`
	var args []any
	if folderID != "" {
		query += ` WHERE folder_id = ?`
		args = append(args, folderID)
	}
	query += ` GROUP BY kind`

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count activity: %w", err)
	}
	defer rows.Close()

	counts := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Kind(kind)] = n
	}
	return counts, rows.Err()
}

// Prune deletes entries older than before and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.conn.ExecContext(ctx, `DELETE FROM activity WHERE at < ?`,
		before.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity: %w", err)
	}
	return res.RowsAffected()
}

// OnCommit records a commit notification.
func (j *Journal) OnCommit(e engine.CommitEvent) {
	j.record(Entry{
		FolderID: e.FolderID,
		Kind:     KindCommit,
		Hash:     e.Hash,
		Paths:    e.Paths,
		Message:  e.Source,
		Duration: e.Duration,
		At:       e.At,
	})
}

// OnError records an error notification.
func (j *Journal) OnError(e engine.ErrorEvent) {
	j.record(Entry{
		FolderID: e.FolderID,
		Kind:     KindError,
		Message:  e.Message,
		At:       e.At,
	})
}

// OnRelocate records a relocation.
func (j *Journal) OnRelocate(e engine.RelocateEvent) {
	msg := fmt.Sprintf("%s: %s -> %s", e.Result.Action, e.Result.From, e.Result.To)
	if e.Result.BackupPath != "" {
		msg += " (backup " + e.Result.BackupPath + ")"
	}
	if e.Err != "" {
		msg = "failed: " + e.Err
	}
	j.record(Entry{
		FolderID: e.Result.FolderID,
		Kind:     KindRelocate,
		Message:  msg,
		At:       e.At,
	})
}

func (j *Journal) record(e Entry) {
	if _, err := j.Record(context.Background(), e); err != nil {
		j.logger.Warn("failed to journal activity", "kind", e.Kind, "folder", e.FolderID,
			"hash", vcs.ShortRef(e.Hash), "error", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
