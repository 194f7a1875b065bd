package folder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrNotFound is returned when no folder has the requested id.
var ErrNotFound = errors.New("folder not found")

// Registry persists watched folder configuration.
type Registry interface {
	List() ([]WatchedFolder, error)
	Get(id string) (WatchedFolder, error)
	Put(f WatchedFolder) error
	Delete(id string) error
}

// registryFile is the on-disk JSON layout.
type registryFile struct {
	Version int             `json:"version"`
	Folders []WatchedFolder `json:"folders"`
}

// FileRegistry stores folders in a single JSON file.
type FileRegistry struct {
	path string
	mu   sync.Mutex
}

var _ Registry = (*FileRegistry)(nil)

// NewFileRegistry returns a registry backed by path. The file is created on
// the first write.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

// Path returns the registry file location.
func (r *FileRegistry) Path() string {
	return r.path
}

func (r *FileRegistry) List() ([]WatchedFolder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *FileRegistry) Get(id string) (WatchedFolder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	folders, err := r.load()
	if err != nil {
		return WatchedFolder{}, err
	}
	for _, f := range folders {
		if f.ID == id {
			return f, nil
		}
	}
	return WatchedFolder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Put inserts or replaces a folder by id.
func (r *FileRegistry) Put(f WatchedFolder) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid folder: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	folders, err := r.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range folders {
		if folders[i].ID == f.ID {
			folders[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		folders = append(folders, f)
	}
	return r.save(folders)
}

func (r *FileRegistry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	folders, err := r.load()
	if err != nil {
		return err
	}

	kept := folders[:0]
	for _, f := range folders {
		if f.ID != id {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(folders) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.save(kept)
}

func (r *FileRegistry) load() ([]WatchedFolder, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read folder registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse folder registry %s: %w", r.path, err)
	}
	for i := range file.Folders {
		file.Folders[i].SetDefaults()
	}
	return file.Folders, nil
}

// save writes the registry through a temp file and rename.
func (r *FileRegistry) save(folders []WatchedFolder) error {
	sort.SliceStable(folders, func(i, j int) bool {
		return folders[i].CreatedAt.Before(folders[j].CreatedAt)
	})

	data, err := json.MarshalIndent(registryFile{Version: 1, Folders: folders}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal folder registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".folders-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// MemRegistry is an in-memory Registry.
type MemRegistry struct {
	mu      sync.Mutex
	folders map[string]WatchedFolder
}

var _ Registry = (*MemRegistry)(nil)

// NewMemRegistry returns an empty in-memory registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{folders: make(map[string]WatchedFolder)}
}

func (r *MemRegistry) List() ([]WatchedFolder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WatchedFolder, 0, len(r.folders))
	for _, f := range r.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemRegistry) Get(id string) (WatchedFolder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.folders[id]
	if !ok {
		return WatchedFolder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return f, nil
}

func (r *MemRegistry) Put(f WatchedFolder) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid folder: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folders[f.ID] = f
	return nil
}

func (r *MemRegistry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.folders[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.folders, id)
	return nil
}
