package dbx_test

import (
	"path/filepath"
	"testing"

	"distribox/internal/dbx"
	"distribox/internal/journal"
	"distribox/internal/testutil"
)

func newController(t *testing.T) (*dbx.VersionController, *journal.MemoryJournal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "VersionList.txt")
	jnl := journal.NewMemoryJournal()
	vl := dbx.NewVersionList(testutil.NewStubIDGenerator())
	return dbx.NewVersionController(vl, path, jnl, dbx.NewNopLogger()), jnl, path
}

func TestControllerAppliesNotifications(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t)

	notifications := []dbx.Notification{
		{Type: dbx.EventCreated, Name: "a.txt", When: 100},
		{Type: dbx.EventChanged, Name: "a.txt", SHA1: "aaaa", Size: 4, When: 200},
		{Type: dbx.EventRenamed, Name: "b.txt", OldName: "a.txt", When: 300},
		{Type: dbx.EventDeleted, Name: "b.txt", When: 400},
	}
	for _, n := range notifications {
		if err := c.Apply(n); err != nil {
			t.Fatalf("Apply(%s) error = %v", n.Type, err)
		}
	}

	histories := c.List().Histories()
	if len(histories) != 1 {
		t.Fatalf("got %d histories, want 1", len(histories))
	}
	if histories[0].Len() != 4 {
		t.Errorf("history has %d events, want 4", histories[0].Len())
	}
	if histories[0].Alive() {
		t.Error("history still alive after delete")
	}
}

func TestControllerIdleFlushesAndJournals(t *testing.T) {
	t.Parallel()

	c, jnl, path := newController(t)

	if err := c.Apply(dbx.Notification{Type: dbx.EventCreated, Name: "a.txt", When: 100}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	c.Idle()

	loaded, err := dbx.LoadVersionList(path, testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("LoadVersionList() error = %v", err)
	}
	if loaded.ByName("a.txt") == nil {
		t.Error("idle boundary did not flush the version list")
	}

	entries, err := jnl.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("journal has %d entries, want 1", len(entries))
	}
	if entries[0].Operation != "DetectorBatch" || entries[0].Events != 1 {
		t.Errorf("journal entry = %+v, want DetectorBatch with 1 event", entries[0])
	}

	// An idle boundary with no applied events is not journaled.
	c.Idle()
	if jnl.Len() != 1 {
		t.Errorf("empty batch was journaled, have %d entries", jnl.Len())
	}
}
