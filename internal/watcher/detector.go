// Package watcher implements the change detector: it recursively watches
// a discovered set of directories, classifies each changed file by asset
// class, absorbs duplicate OS notifications, and dispatches typed events
// to the per-class compile coordinators. It never compiles anything
// itself.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/storewatch/storewatch/internal/logging"
	"github.com/storewatch/storewatch/internal/paths"
)

// DefaultDedupeWindow absorbs duplicate notifications the OS emits for a
// single logical write. This is distinct from compile debouncing, which
// the coordinators own.
const DefaultDedupeWindow = 100 * time.Millisecond

// Dispatcher receives classified change events for one asset class.
// Implementations are invoked synchronously from the watch loop.
type Dispatcher interface {
	OnChangeDetected(event ChangeEvent)
}

type dedupeKey struct {
	kind EventKind
	path string
}

// Detector watches the directory set and forwards classified events.
type Detector struct {
	watcher      *fsnotify.Watcher
	projectRoot  string
	dirs         []string
	dispatchers  map[AssetClass]Dispatcher
	logger       logging.Logger
	dedupeWindow time.Duration

	mu       sync.Mutex
	lastSeen map[dedupeKey]time.Time

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewDetector creates a detector over the given directory set. The set
// should already be deduplicated via BuildDirectorySet.
func NewDetector(projectRoot string, dirs []string, logger logging.Logger) (*Detector, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Detector{
		watcher:      fsWatcher,
		projectRoot:  projectRoot,
		dirs:         dirs,
		dispatchers:  make(map[AssetClass]Dispatcher),
		logger:       logger.WithComponent("watcher"),
		dedupeWindow: DefaultDedupeWindow,
		lastSeen:     make(map[dedupeKey]time.Time),
	}, nil
}

// Register attaches the dispatcher for one asset class. Classes without
// a dispatcher have their events dropped.
func (d *Detector) Register(class AssetClass, dispatcher Dispatcher) {
	d.dispatchers[class] = dispatcher
}

// Start begins watching. It returns false, without starting anything,
// when no watchable directories exist.
func (d *Detector) Start(ctx context.Context) bool {
	added := 0
	for _, dir := range d.dirs {
		if err := d.addRecursive(dir); err != nil {
			d.logger.Warn(ctx, err, "skipping unwatchable directory", "dir", dir)
			continue
		}
		added++
	}
	if added == 0 {
		d.logger.Warn(ctx, nil, "no directories to watch, change detection disabled")
		return false
	}

	ctx, d.cancel = context.WithCancel(ctx)
	go d.watchLoop(ctx)

	d.logger.Info(ctx, "watching for changes", "directories", added)
	return true
}

// WatchFile adds the file's parent directory to the watch set. The
// style sidecar uses it so indirectly-imported files are watched once
// the compiler reports them.
func (d *Detector) WatchFile(path string) error {
	return d.watcher.Add(filepath.Dir(path))
}

// Close stops the watch loop and releases the underlying watcher.
func (d *Detector) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		err = d.watcher.Close()
	})
	return err
}

func (d *Detector) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return d.watcher.Add(path)
		}
		return nil
	})
}

func (d *Detector) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(ctx, event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

func (d *Detector) handleEvent(ctx context.Context, event fsnotify.Event) {
	// New directories join the recursive watch so files created inside
	// them later are seen too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := d.watcher.Add(event.Name); err != nil {
				d.logger.Warn(ctx, err, "cannot watch new directory", "dir", event.Name)
			}
			return
		}
	}

	var kind EventKind
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = KindRemove
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		kind = KindChange
	default:
		return
	}

	class, ok := Classify(event.Name)
	if !ok {
		return
	}

	relPath := paths.Rel(d.projectRoot, event.Name)
	if d.isDuplicate(kind, relPath) {
		return
	}

	dispatcher, ok := d.dispatchers[class]
	if !ok {
		return
	}

	d.logger.Debug(ctx, "change detected",
		"kind", kind.String(),
		"class", class.String(),
		"path", relPath,
	)

	dispatcher.OnChangeDetected(ChangeEvent{
		Kind:    kind,
		AbsPath: event.Name,
		RelPath: relPath,
		Class:   class,
	})
}

// isDuplicate reports whether the same (kind, path) pair fired within
// the dedupe window, and records the sighting either way.
func (d *Detector) isDuplicate(kind EventKind, relPath string) bool {
	key := dedupeKey{kind: kind, path: relPath}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSeen[key]; ok && now.Sub(last) < d.dedupeWindow {
		return true
	}
	d.lastSeen[key] = now
	return false
}
