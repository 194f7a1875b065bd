// Package watch observes a folder tree for file changes.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a change to one file under the watched root.
type Event struct {
	// Path is slash-separated and relative to the root.
	Path string
	Op   EventOp
}

// Options configures a FileWatcher.
type Options struct {
	// Root is the directory to watch.
	Root string

	// Recursive watches every subdirectory, including ones created later.
	Recursive bool

	// Ignore holds glob patterns for paths that produce no events.
	Ignore []string

	// Exclude holds absolute paths whose subtrees are never watched.
	Exclude []string
}

// FileWatcher watches a folder for changes using fsnotify. Existing files
// are not announced on Start.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	ignore  *IgnoreMatcher
	root    string
	exclude []string

	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher(opts Options) (*FileWatcher, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	exclude := make([]string, 0, len(opts.Exclude))
	for _, e := range opts.Exclude {
		if abs, err := filepath.Abs(e); err == nil {
			exclude = append(exclude, abs)
		}
	}

	return &FileWatcher{
		watcher: watcher,
		opts:    opts,
		ignore:  NewIgnoreMatcher(opts.Ignore),
		root:    filepath.Clean(root),
		exclude: exclude,
		events:  make(chan Event, 256),
		errors:  make(chan error, 64),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the root directory.
// Returns an error if the root cannot be watched; failures on
// subdirectories are reported on the Errors channel.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	if err := fw.watcher.Add(fw.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", fw.root, err)
	}
	if fw.opts.Recursive {
		fw.addTree(fw.root, false)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	wasRunning := fw.running
	fw.running = false
	fw.stopped = true
	fw.mu.Unlock()

	// Signal shutdown
	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	if wasRunning {
		fw.wg.Wait()
	}

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits file events.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan Event {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// processEvents is the main event loop that converts fsnotify events to
// Events.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.reportError(err)
		}
	}
}

// handle converts one fsnotify event, watching new directories and
// announcing the files they already contain.
func (fw *FileWatcher) handle(event fsnotify.Event) {
	rel, ok := fw.relevant(event.Name)
	if !ok {
		return
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		op = OpDelete
	default:
		// Ignore chmod and other events
		return
	}

	if op != OpDelete {
		info, err := os.Lstat(event.Name)
		if err != nil {
			// Already gone again; record it as a deletion.
			op = OpDelete
		} else if info.IsDir() {
			if op == OpCreate && fw.opts.Recursive {
				fw.addTree(event.Name, true)
			}
			return
		}
	}

	fw.emit(Event{Path: rel, Op: op})
}

// relevant returns the root-relative path of name unless it is excluded or
// ignored.
func (fw *FileWatcher) relevant(name string) (string, bool) {
	abs := filepath.Clean(name)
	if abs == fw.root {
		return "", false
	}
	for _, e := range fw.exclude {
		if vcs.IsSubPath(e, abs) {
			return "", false
		}
	}
	rel, err := vcs.RelativePath(fw.root, abs)
	if err != nil {
		return "", false
	}
	if fw.ignore.Match(rel) {
		return "", false
	}
	return rel, true
}

// addTree watches dir and its subdirectories. When announce is set, files
// found along the way are emitted as created.
func (fw *FileWatcher) addTree(dir string, announce bool) {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.reportError(fmt.Errorf("failed to scan %s: %w", p, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, ok := fw.relevant(p)
		if p != fw.root && !ok {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if p != fw.root {
				if err := fw.watcher.Add(p); err != nil {
					fw.reportError(fmt.Errorf("failed to watch %s: %w", p, err))
					return fs.SkipDir
				}
			}
			return nil
		}

		if announce {
			fw.emit(Event{Path: rel, Op: OpCreate})
		}
		return nil
	})
	if err != nil {
		fw.reportError(err)
	}
}

func (fw *FileWatcher) emit(e Event) {
	select {
	case fw.events <- e:
	case <-fw.done:
	}
}

// reportError forwards err without blocking; errors beyond the buffer are
// dropped.
func (fw *FileWatcher) reportError(err error) {
	select {
	case <-fw.done:
		return
	default:
	}
	select {
	case fw.errors <- err:
	default:
	}
}
