package journal

import (
	"sync"

	"distribox/internal/dbx"
)

// MemoryJournal keeps entries in memory. Used by tests and by configurations
// that do not want a journal file.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []dbx.JournalEntry
	nextID  int64
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{nextID: 1}
}

func (j *MemoryJournal) Record(e dbx.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.ID = j.nextID
	j.nextID++
	j.entries = append(j.entries, e)
	return nil
}

func (j *MemoryJournal) Recent(limit int) ([]dbx.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.entries)
	if limit > n {
		limit = n
	}
	out := make([]dbx.JournalEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, j.entries[i])
	}
	return out, nil
}

func (j *MemoryJournal) Close() error { return nil }

// Len returns the number of recorded entries.
func (j *MemoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Compile-time check that MemoryJournal implements the Journal interface
var _ dbx.Journal = (*MemoryJournal)(nil)
