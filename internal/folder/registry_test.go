package folder

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testFolder(t *testing.T, offset time.Duration) WatchedFolder {
	t.Helper()
	f, err := New(t.TempDir(), testNow.Add(offset))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return f
}

func exerciseRegistry(t *testing.T, r Registry) {
	t.Helper()

	list, err := r.List()
	if err != nil {
		t.Fatalf("List() on empty registry failed: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List() = %d folders, want 0", len(list))
	}

	a := testFolder(t, 0)
	b := testFolder(t, time.Minute)
	if err := r.Put(b); err != nil {
		t.Fatalf("Put(b) failed: %v", err)
	}
	if err := r.Put(a); err != nil {
		t.Fatalf("Put(a) failed: %v", err)
	}

	list, err = r.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("List() = %+v, want a then b", list)
	}

	a.StorageOverride = "/elsewhere/history"
	if err := r.Put(a); err != nil {
		t.Fatalf("Put(updated a) failed: %v", err)
	}
	got, err := r.Get(a.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.StorageOverride != "/elsewhere/history" {
		t.Errorf("StorageOverride = %q after update", got.StorageOverride)
	}

	if err := r.Delete(a.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := r.Get(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := r.Delete(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}

	if err := r.Put(WatchedFolder{ID: "x"}); err == nil {
		t.Error("Put() of invalid folder should fail")
	}
}

func TestFileRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "folders.json")
	exerciseRegistry(t, NewFileRegistry(path))

	if _, err := os.Stat(path); err != nil {
		t.Errorf("registry file not written: %v", err)
	}

	// A second instance sees the persisted state.
	list, err := NewFileRegistry(path).List()
	if err != nil {
		t.Fatalf("List() from reopened registry failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("reopened registry has %d folders, want 1", len(list))
	}
}

func TestFileRegistryCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folders.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileRegistry(path).List(); err == nil {
		t.Error("List() on corrupt file should fail")
	}
}

func TestMemRegistry(t *testing.T) {
	exerciseRegistry(t, NewMemRegistry())
}
