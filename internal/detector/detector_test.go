package detector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"distribox/internal/dbx"
	"distribox/internal/pool"
	"distribox/internal/testutil"
)

// recordingSub captures canonical notifications and idle boundaries.
type recordingSub struct {
	notifications []dbx.Notification
	idles         int
}

func (s *recordingSub) Apply(n dbx.Notification) error {
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *recordingSub) Idle() { s.idles++ }

func newTestDetector(t *testing.T, ignore []string) (*Detector, *recordingSub, string) {
	t.Helper()

	root := t.TempDir()
	sub := &recordingSub{}
	d := New(Options{
		Root:     root,
		MetaPath: filepath.Join(root, ".Distribox"),
		Interval: 50 * time.Millisecond,
		Pool:     pool.NewMemoryPool(),
		Clock:    testutil.FixedClock(),
		Mute:     &dbx.MuteFlag{},
		Sub:      sub,
		Ignore:   ignore,
		Logger:   dbx.NewNopLogger(),
	})
	return d, sub, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestDetectorCanonicalizesEvents(t *testing.T) {
	t.Parallel()

	d, sub, root := newTestDetector(t, nil)

	path := filepath.Join(root, "notes.txt")
	writeFile(t, path, "hello")

	d.Enqueue(RawEvent{Op: RawCreated, Path: path})
	d.Enqueue(RawEvent{Op: RawChanged, Path: path})
	d.ProcessPending()

	if len(sub.notifications) != 2 {
		t.Fatalf("got %d notifications, want 2", len(sub.notifications))
	}

	created := sub.notifications[0]
	if created.Type != dbx.EventCreated || created.Name != "notes.txt" {
		t.Errorf("first notification = %+v, want created notes.txt", created)
	}
	if created.SHA1 != "" {
		t.Errorf("created notification carries digest %q, want none", created.SHA1)
	}

	changed := sub.notifications[1]
	if changed.Type != dbx.EventChanged {
		t.Fatalf("second notification type = %s, want changed", changed.Type)
	}
	if changed.SHA1 != "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d" {
		t.Errorf("changed digest = %s, want SHA-1 of hello", changed.SHA1)
	}
	if changed.Size != 5 {
		t.Errorf("changed size = %d, want 5", changed.Size)
	}

	if sub.idles != 1 {
		t.Errorf("idle signaled %d times, want 1", sub.idles)
	}
}

func TestDetectorTimestampsAreStrictlyMonotonic(t *testing.T) {
	t.Parallel()

	// A fixed clock forces every event into the same instant; the detector
	// must still hand out strictly increasing timestamps.
	d, sub, root := newTestDetector(t, nil)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		path := filepath.Join(root, name)
		writeFile(t, path, name)
		d.Enqueue(RawEvent{Op: RawCreated, Path: path})
	}
	d.ProcessPending()

	if len(sub.notifications) != 3 {
		t.Fatalf("got %d notifications, want 3", len(sub.notifications))
	}
	for i := 1; i < len(sub.notifications); i++ {
		prev, cur := sub.notifications[i-1].When, sub.notifications[i].When
		if cur <= prev {
			t.Errorf("notification %d When = %d, not after %d", i, cur, prev)
		}
	}
}

func TestDetectorDropsWhileMuted(t *testing.T) {
	t.Parallel()

	d, sub, root := newTestDetector(t, nil)

	path := filepath.Join(root, "replayed.txt")
	writeFile(t, path, "x")

	d.Mute().Do(func() error {
		d.Enqueue(RawEvent{Op: RawCreated, Path: path})
		return nil
	})
	d.ProcessPending()

	if len(sub.notifications) != 0 {
		t.Errorf("muted event surfaced: %+v", sub.notifications)
	}
	if sub.idles != 0 {
		t.Errorf("idle signaled for empty batch")
	}
}

func TestDetectorFiltersIgnoredAndForeignPaths(t *testing.T) {
	t.Parallel()

	d, sub, root := newTestDetector(t, []string{"*.tmp"})

	ignored := filepath.Join(root, "scratch.tmp")
	writeFile(t, ignored, "x")
	d.Enqueue(RawEvent{Op: RawCreated, Path: ignored})

	// The root itself and paths outside it never reach the subscriber.
	d.Enqueue(RawEvent{Op: RawDeleted, Path: root})
	d.Enqueue(RawEvent{Op: RawDeleted, Path: filepath.Join(filepath.Dir(root), "elsewhere.txt")})

	d.ProcessPending()

	if len(sub.notifications) != 0 {
		t.Errorf("filtered events surfaced: %+v", sub.notifications)
	}
}

func TestDetectorHonorsRootIgnoreFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, IgnoreFileName), "*.swp\n")

	sub := &recordingSub{}
	d := New(Options{
		Root:     root,
		MetaPath: filepath.Join(root, ".Distribox"),
		Interval: 50 * time.Millisecond,
		Pool:     pool.NewMemoryPool(),
		Clock:    testutil.FixedClock(),
		Mute:     &dbx.MuteFlag{},
		Sub:      sub,
		Logger:   dbx.NewNopLogger(),
	})

	swap := filepath.Join(root, "notes.swp")
	writeFile(t, swap, "x")
	d.Enqueue(RawEvent{Op: RawCreated, Path: swap})

	// The ignore file itself never syncs either.
	d.Enqueue(RawEvent{Op: RawCreated, Path: filepath.Join(root, IgnoreFileName)})

	d.ProcessPending()

	if len(sub.notifications) != 0 {
		t.Errorf("ignore-file patterns not applied: %+v", sub.notifications)
	}
}

func TestDetectorRename(t *testing.T) {
	t.Parallel()

	d, sub, root := newTestDetector(t, nil)

	newPath := filepath.Join(root, "after.txt")
	writeFile(t, newPath, "hello")

	d.Enqueue(RawEvent{
		Op:      RawRenamed,
		Path:    newPath,
		OldPath: filepath.Join(root, "before.txt"),
	})
	d.ProcessPending()

	if len(sub.notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sub.notifications))
	}
	n := sub.notifications[0]
	if n.Type != dbx.EventRenamed {
		t.Fatalf("type = %s, want renamed", n.Type)
	}
	if n.Name != "after.txt" || n.OldName != "before.txt" {
		t.Errorf("rename %q -> %q, want before.txt -> after.txt", n.OldName, n.Name)
	}
	if n.SHA1 == "" {
		t.Error("renamed file content was not hashed")
	}
}

func TestDetectorDeleteNeedsNoStat(t *testing.T) {
	t.Parallel()

	d, sub, root := newTestDetector(t, nil)

	// The file is already gone when the event is processed.
	d.Enqueue(RawEvent{Op: RawDeleted, Path: filepath.Join(root, "gone.txt")})
	d.ProcessPending()

	if len(sub.notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sub.notifications))
	}
	if sub.notifications[0].Type != dbx.EventDeleted {
		t.Errorf("type = %s, want deleted", sub.notifications[0].Type)
	}
}

func TestDetectorVanishedFileIsDropped(t *testing.T) {
	t.Parallel()

	d, sub, root := newTestDetector(t, nil)

	d.Enqueue(RawEvent{Op: RawChanged, Path: filepath.Join(root, "never-existed.txt")})
	d.ProcessPending()

	if len(sub.notifications) != 0 {
		t.Errorf("vanished file surfaced: %+v", sub.notifications)
	}
}
