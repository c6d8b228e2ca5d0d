package dbx

import "time"

// JournalEntry is one row of the transfer journal: a detector batch or a
// bundle operation with its outcome.
type JournalEntry struct {
	ID        int64
	Operation string // "DetectorBatch", "BundleBuild", "BundleAccept", "BundleSend"
	Peer      string
	Events    int64
	Blobs     int64
	Outcome   string // "ok" or an error summary
	CreatedAt time.Time
}

// Journal is an append-only record of synchronization activity. It is
// bookkeeping only: core correctness never depends on it, so implementations
// may be lossy on error.
type Journal interface {
	Record(e JournalEntry) error
	Recent(limit int) ([]JournalEntry, error)
	Close() error
}
