package detector

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"distribox/internal/dbx"
)

// RawOp classifies a raw filesystem notification before canonicalization.
type RawOp int

const (
	RawCreated RawOp = iota
	RawChanged
	RawRenamed
	RawDeleted
)

// RawEvent is one raw notification as enqueued by the watcher. Paths are
// absolute. OldPath is set only for renames.
type RawEvent struct {
	Op      RawOp
	Path    string
	OldPath string
}

// renamePairWindow is how long a moved-from notification waits for its
// moved-to partner before degrading to a delete.
const renamePairWindow = 500 * time.Millisecond

// Watcher wraps an OS-level recursive fsnotify watcher over the sync root.
// inotify reports a rename as a moved-from event at the old path followed by
// a create at the new path, so the watcher pairs the two into one RawRenamed
// when the create arrives within renamePairWindow; an unpaired moved-from
// degrades to RawDeleted (the file left the root).
type Watcher struct {
	root    string
	exclude string // absolute metadata directory, never watched
	emit    func(RawEvent)
	logger  dbx.Logger

	fs *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]struct{}

	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a recursive watcher over root, excluding the metadata
// directory. Raw events are handed to emit from the watcher goroutine.
func NewWatcher(root, exclude string, emit func(RawEvent), logger dbx.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    root,
		exclude: exclude,
		emit:    emit,
		logger:  logger,
		fs:      fsw,
		watched: make(map[string]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := w.watchRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	var pending string // moved-from path awaiting its create partner
	var timer *time.Timer
	var timerC <-chan time.Time

	flushPending := func() {
		if pending != "" {
			w.emit(RawEvent{Op: RawDeleted, Path: pending})
			w.unwatchPrefix(pending)
			pending = ""
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-w.stop:
			return
		case <-timerC:
			flushPending()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.excluded(evt.Name) {
				continue
			}

			switch {
			case evt.Op.Has(fsnotify.Create):
				if pending != "" {
					old := pending
					pending = ""
					if timer != nil {
						timer.Stop()
						timer = nil
						timerC = nil
					}
					w.handleRename(old, evt.Name)
					continue
				}
				w.handleCreate(evt.Name)

			case evt.Op.Has(fsnotify.Rename):
				flushPending()
				pending = evt.Name
				timer = time.NewTimer(renamePairWindow)
				timerC = timer.C

			case evt.Op.Has(fsnotify.Write):
				flushPending()
				w.emit(RawEvent{Op: RawChanged, Path: evt.Name})

			case evt.Op.Has(fsnotify.Remove):
				flushPending()
				w.emit(RawEvent{Op: RawDeleted, Path: evt.Name})
				w.unwatchPrefix(evt.Name)
			}
		}
	}
}

// handleCreate emits a create for the new entry. A new directory is watched
// recursively and its contents surfaced as creates (a directory moved into
// the root arrives as a single create for its top entry). Files that already
// carry content get a follow-up change so their bytes are hashed.
func (w *Watcher) handleCreate(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Gone already; the burst will re-observe whatever remains.
		w.emit(RawEvent{Op: RawCreated, Path: path})
		return
	}

	w.emit(RawEvent{Op: RawCreated, Path: path})
	if !info.IsDir() {
		if info.Size() > 0 {
			w.emit(RawEvent{Op: RawChanged, Path: path})
		}
		return
	}

	if err := w.watchRecursive(path); err != nil {
		w.logger.Warn("watching new directory", "path", path, "error", err)
	}
	filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || p == path || w.excluded(p) {
			return nil
		}
		w.emit(RawEvent{Op: RawCreated, Path: p})
		if !d.IsDir() {
			if fi, err := d.Info(); err == nil && fi.Size() > 0 {
				w.emit(RawEvent{Op: RawChanged, Path: p})
			}
		}
		return nil
	})
}

func (w *Watcher) handleRename(old, new string) {
	w.emit(RawEvent{Op: RawRenamed, Path: new, OldPath: old})

	info, err := os.Stat(new)
	if err != nil || !info.IsDir() {
		return
	}
	w.unwatchPrefix(old)
	if err := w.watchRecursive(new); err != nil {
		w.logger.Warn("watching renamed directory", "path", new, "error", err)
	}
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if w.excluded(path) {
			return filepath.SkipDir
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if _, exists := w.watched[path]; !exists {
			if err := w.fs.Add(path); err == nil {
				w.watched[path] = struct{}{}
			}
		}
		return nil
	})
}

func (w *Watcher) unwatchPrefix(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p := range w.watched {
		if p == path || strings.HasPrefix(p, path+string(os.PathSeparator)) {
			delete(w.watched, p)
			w.fs.Remove(p)
		}
	}
}

func (w *Watcher) excluded(path string) bool {
	return path == w.exclude || strings.HasPrefix(path, w.exclude+string(os.PathSeparator))
}
