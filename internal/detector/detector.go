package detector

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"distribox/internal/dbx"
)

// Detector translates raw filesystem notifications into the canonical event
// stream. Raw events accumulate in a mutex-protected queue; a ticker-driven
// worker drains the queue one event at a time, timestamps each with a
// strictly increasing tick, hashes changed content into the blob pool, and
// emits the canonical event to the subscriber. After each drained batch the
// subscriber receives an Idle signal, which is the safe point for flushing
// and bundle generation.
type Detector struct {
	root     string
	metaPath string
	interval time.Duration

	pool   dbx.BlobPool
	clock  dbx.Clock
	mute   *dbx.MuteFlag
	sub    dbx.Subscriber
	ignore *IgnoreSet
	logger dbx.Logger

	queueMu sync.Mutex
	queue   []RawEvent

	// workMu serializes worker passes with bundle acceptance: replay clears
	// the mute flag between individual syscalls, so no raw event may be
	// processed while a merge is mid-flight.
	workMu sync.Mutex

	lastWhen dbx.Ticks

	watcher *Watcher
	stop    chan struct{}
	done    chan struct{}
}

// Options configures a Detector.
type Options struct {
	Root     string
	MetaPath string
	Interval time.Duration
	Pool     dbx.BlobPool
	Clock    dbx.Clock
	Mute     *dbx.MuteFlag
	Sub      dbx.Subscriber
	Ignore   []string
	Logger   dbx.Logger
}

// New creates a Detector. Start must be called to begin watching. Patterns
// from the root's ignore file are folded in after the configured ones, so
// the file can override config-level excludes with !rules.
func New(opts Options) *Detector {
	patterns := append([]string{}, opts.Ignore...)
	if filePatterns, err := LoadIgnoreFile(opts.Root); err != nil {
		opts.Logger.Warn("ignore file unreadable", "error", err)
	} else {
		patterns = append(patterns, filePatterns...)
	}

	return &Detector{
		root:     opts.Root,
		metaPath: opts.MetaPath,
		interval: opts.Interval,
		pool:     opts.Pool,
		clock:    opts.Clock,
		mute:     opts.Mute,
		sub:      opts.Sub,
		ignore:   NewIgnoreSet(patterns),
		logger:   opts.Logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Mute returns the process-global mute flag shared with the merge path.
func (d *Detector) Mute() *dbx.MuteFlag { return d.mute }

// Start attaches the recursive watcher and launches the ticker worker.
func (d *Detector) Start() error {
	w, err := NewWatcher(d.root, d.metaPath, d.Enqueue, d.logger)
	if err != nil {
		return err
	}
	d.watcher = w

	go d.runTicker()
	return nil
}

// Stop detaches the watcher and stops the worker. Pending raw events are
// processed in one final pass so nothing observed is lost.
func (d *Detector) Stop() {
	close(d.stop)
	<-d.done
	if d.watcher != nil {
		d.watcher.Close()
	}
	d.ProcessPending()
}

func (d *Detector) runTicker() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			// The worker owns the interval: the ticker pauses while a batch
			// is processed so bursts coalesce into a single idle boundary.
			ticker.Stop()
			d.ProcessPending()
			ticker.Reset(d.interval)
		}
	}
}

// Enqueue adds one raw event to the queue. Called from the watcher thread.
// While the mute flag is set, raw notifications are dropped: they originate
// from merge replay, not from the user.
func (d *Detector) Enqueue(e RawEvent) {
	if d.mute.Muted() {
		return
	}

	rel, ok := d.relName(e.Path)
	if !ok || d.ignore.Match(rel) {
		return
	}
	if e.Op == RawRenamed {
		if oldRel, ok := d.relName(e.OldPath); !ok || d.ignore.Match(oldRel) {
			return
		}
	}

	d.queueMu.Lock()
	d.queue = append(d.queue, e)
	d.queueMu.Unlock()
}

// QueueLen returns the number of undrained raw events.
func (d *Detector) QueueLen() int {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return len(d.queue)
}

// ProcessPending drains the queue one event at a time, emits canonical
// events, and signals Idle. It is the single worker pass of the pipeline.
func (d *Detector) ProcessPending() {
	d.workMu.Lock()
	defer d.workMu.Unlock()

	processed := false
	for {
		e, ok := d.dequeue()
		if !ok {
			break
		}
		processed = true
		d.process(e)
	}

	if processed {
		d.sub.Idle()
	}
}

// Exclusive runs fn while holding the worker lock. Bundle acceptance runs
// under this so no detector events interleave with merge replay.
func (d *Detector) Exclusive(fn func() error) error {
	d.workMu.Lock()
	defer d.workMu.Unlock()
	return fn()
}

func (d *Detector) dequeue() (RawEvent, bool) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if len(d.queue) == 0 {
		return RawEvent{}, false
	}
	e := d.queue[0]
	d.queue = d.queue[1:]
	return e, true
}

// process canonicalizes one raw event and hands it to the subscriber.
// Transient I/O failures drop the event; the next cycle re-observes.
func (d *Detector) process(e RawEvent) {
	rel, ok := d.relName(e.Path)
	if !ok {
		return
	}

	n := dbx.Notification{
		Name: rel,
		When: d.nextWhen(),
	}

	switch e.Op {
	case RawCreated:
		info, err := os.Stat(e.Path)
		if err != nil {
			d.logger.Debug("created entry vanished before stat", "name", rel)
			return
		}
		n.Type = dbx.EventCreated
		n.IsDirectory = info.IsDir()

	case RawChanged:
		info, err := os.Stat(e.Path)
		if err != nil {
			d.logger.Debug("changed entry vanished before stat", "name", rel)
			return
		}
		n.Type = dbx.EventChanged
		n.IsDirectory = info.IsDir()
		if !n.IsDirectory {
			if !d.hashInto(&n, e.Path) {
				return
			}
		}

	case RawRenamed:
		oldRel, ok := d.relName(e.OldPath)
		if !ok {
			return
		}
		info, err := os.Stat(e.Path)
		if err != nil {
			d.logger.Debug("renamed entry vanished before stat", "name", rel)
			return
		}
		n.Type = dbx.EventRenamed
		n.OldName = oldRel
		n.IsDirectory = info.IsDir()
		if !n.IsDirectory {
			// Some platforms report content edits as renames, so renames
			// hash too; the controller turns a digest change into a change
			// event.
			if !d.hashInto(&n, e.Path) {
				return
			}
		}

	case RawDeleted:
		n.Type = dbx.EventDeleted
	}

	if err := d.sub.Apply(n); err != nil {
		if errors.Is(err, dbx.ErrInvariant) {
			d.logger.Error("invariant violation applying event", "name", rel, "error", err)
			return
		}
		d.logger.Warn("event dropped", "name", rel, "error", err)
	}
}

// hashInto copies the file's current bytes into the blob pool and records
// digest and size on the notification. Returns false if the file could not
// be read (locked or momentarily missing).
func (d *Detector) hashInto(n *dbx.Notification, path string) bool {
	digest, size, err := d.pool.PutPath(path)
	if err != nil {
		d.logger.Debug("hashing skipped", "name", n.Name, "error", err)
		return false
	}
	n.SHA1 = digest
	n.Size = size
	return true
}

// nextWhen timestamps an event with now, but never at or before the previous
// event's timestamp. This preserves strict monotonicity across all histories
// even below the clock's resolution.
func (d *Detector) nextWhen() dbx.Ticks {
	now := dbx.TicksOf(d.clock.Now())
	if now <= d.lastWhen {
		now = d.lastWhen + 1
	}
	d.lastWhen = now
	return now
}

func (d *Detector) relName(path string) (string, bool) {
	rel, err := filepath.Rel(d.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
