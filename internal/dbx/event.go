package dbx

import (
	"time"

	"github.com/google/uuid"
)

// ID is a 128-bit random identifier in canonical UUID text form.
// FileIDs and EventIDs are both IDs; a FileID is the only stable key for a
// file across renames, re-creations at the same path, and replication.
type ID string

// EventType classifies a single change to one file identity.
type EventType string

const (
	EventCreated EventType = "created"
	EventChanged EventType = "changed"
	EventRenamed EventType = "renamed"
	EventDeleted EventType = "deleted"
)

// Ticks is a UTC timestamp in 100-nanosecond units since the Unix epoch.
type Ticks int64

// TicksOf converts a time.Time to Ticks.
func TicksOf(t time.Time) Ticks {
	return Ticks(t.UTC().UnixNano() / 100)
}

// Time converts Ticks back to a time.Time in UTC.
func (t Ticks) Time() time.Time {
	return time.Unix(0, int64(t)*100).UTC()
}

// FileEvent is an immutable record of one change to one file identity.
// Name is always relative to the sync root and uses forward slashes.
// SHA1 is the lowercase hex digest of the file's content at this event;
// it is empty for directories and for created-empty files.
type FileEvent struct {
	FileID        ID        `json:"file_id"`
	EventID       ID        `json:"event_id"`
	ParentEventID ID        `json:"parent_event_id,omitempty"`
	IsDirectory   bool      `json:"is_directory"`
	Name          string    `json:"name"`
	When          Ticks     `json:"when"`
	SHA1          string    `json:"sha1,omitempty"`
	Size          int64     `json:"size"`
	Type          EventType `json:"type"`
}

// IDGenerator abstracts identifier generation so tests are deterministic.
type IDGenerator interface {
	NewID() ID
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() ID { return ID(uuid.New().String()) }

// Clock abstracts time retrieval so the detector is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
