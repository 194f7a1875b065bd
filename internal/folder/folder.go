// Package folder defines the watched folder model and its persistent
// registry.
package folder

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StoreDirName is the default history directory inside a watched folder.
const StoreDirName = ".keepsake"

// DefaultIgnorePatterns apply to every folder in addition to its own
// patterns. They cover editor and OS scratch files plus history stores and
// their relocation backups.
var DefaultIgnorePatterns = []string{
	".git",
	StoreDirName,
	StoreDirName + ".backup-*",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.swp",
	"*.tmp",
	"*~",
}

// Strategy selects when pending changes are committed.
type Strategy string

const (
	// StrategyOnSave commits once edits have been quiet for the debounce window.
	StrategyOnSave Strategy = "on-save"
	// StrategyPeriodic commits pending edits on a fixed interval.
	StrategyPeriodic Strategy = "periodic"
)

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyOnSave || s == StrategyPeriodic
}

// ParseStrategy accepts "on-save"/"onsave" and "periodic".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on-save", "onsave", "on_save":
		return StrategyOnSave, nil
	case "periodic":
		return StrategyPeriodic, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want on-save or periodic)", s)
	}
}

// WatchedFolder is a user-selected directory under automatic versioning.
type WatchedFolder struct {
	ID              string    `json:"id" yaml:"id"`
	Path            string    `json:"path" yaml:"path"`
	StorageOverride string    `json:"storageOverride,omitempty" yaml:"storageOverride,omitempty"`
	Strategy        Strategy  `json:"strategy" yaml:"strategy"`
	IntervalMinutes int       `json:"intervalMinutes" yaml:"intervalMinutes"`
	IgnorePatterns  []string  `json:"ignorePatterns,omitempty" yaml:"ignorePatterns,omitempty"`
	WatchSubtree    bool      `json:"watchSubtree" yaml:"watchSubtree"`
	Enabled         bool      `json:"enabled" yaml:"enabled"`
	CreatedAt       time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// New returns an enabled folder for path with a fresh id and default
// settings.
func New(path string, now time.Time) (WatchedFolder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return WatchedFolder{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	f := WatchedFolder{
		ID:        uuid.NewString(),
		Path:      filepath.Clean(abs),
		CreatedAt: now,
		UpdatedAt: now,
		Enabled:   true,
	}
	f.SetDefaults()
	return f, nil
}

// SetDefaults fills unset fields.
func (f *WatchedFolder) SetDefaults() {
	if f.Strategy == "" {
		f.Strategy = StrategyOnSave
	}
	if f.IntervalMinutes < 1 {
		f.IntervalMinutes = 5
	}
}

// Validate checks that the folder can be scheduled.
func (f *WatchedFolder) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(f.Path) {
		return fmt.Errorf("path must be absolute: %s", f.Path)
	}
	if f.StorageOverride != "" && !filepath.IsAbs(f.StorageOverride) {
		return fmt.Errorf("storage override must be absolute: %s", f.StorageOverride)
	}
	if !f.Strategy.IsValid() {
		return fmt.Errorf("invalid strategy: %q", f.Strategy)
	}
	if f.Strategy == StrategyPeriodic && f.IntervalMinutes < 1 {
		return fmt.Errorf("interval must be at least 1 minute, got %d", f.IntervalMinutes)
	}
	return nil
}

// DefaultStoragePath is the store location used without an override.
func (f WatchedFolder) DefaultStoragePath() string {
	return filepath.Join(f.Path, StoreDirName)
}

// StoragePath returns the effective store location.
func (f WatchedFolder) StoragePath() string {
	if f.StorageOverride != "" {
		return f.StorageOverride
	}
	return f.DefaultStoragePath()
}

// Interval returns the periodic commit interval, at least one minute.
func (f WatchedFolder) Interval() time.Duration {
	if f.IntervalMinutes < 1 {
		return time.Minute
	}
	return time.Duration(f.IntervalMinutes) * time.Minute
}

// EffectiveIgnorePatterns returns the default patterns followed by the
// folder's own.
func (f WatchedFolder) EffectiveIgnorePatterns() []string {
	patterns := make([]string, 0, len(DefaultIgnorePatterns)+len(f.IgnorePatterns))
	patterns = append(patterns, DefaultIgnorePatterns...)
	return append(patterns, f.IgnorePatterns...)
}

// ShortID returns the first 8 characters of the id.
func (f WatchedFolder) ShortID() string {
	if len(f.ID) > 8 {
		return f.ID[:8]
	}
	return f.ID
}

// CustomStorePath lays out a folder's store under a shared custom root as
// <root>/<base(path)>-<id[:8]>.
func CustomStorePath(root string, f WatchedFolder) string {
	return filepath.Join(root, filepath.Base(f.Path)+"-"+f.ShortID())
}
