package dbx

import (
	"fmt"
	"sort"
)

// FileHistory is the ordered event log for one file identity. Events are
// ordered by When ascending; ties keep insertion order. Locally originated
// events always arrive with strictly increasing timestamps, so sorting only
// reorders when a foreign event's When falls before existing events.
type FileHistory struct {
	ID     ID          `json:"id"`
	Events []FileEvent `json:"events"`
}

// NewFileHistory creates an empty history for the given identity.
func NewFileHistory(id ID) *FileHistory {
	return &FileHistory{ID: id}
}

// Last returns the most recent event. Panics on an empty history; callers
// must check Len first.
func (h *FileHistory) Last() FileEvent {
	return h.Events[len(h.Events)-1]
}

// Len returns the number of events in the history.
func (h *FileHistory) Len() int { return len(h.Events) }

// IsDirectory reports whether this history tracks a directory. It is copied
// unchanged from the first event across the whole history.
func (h *FileHistory) IsDirectory() bool {
	return len(h.Events) > 0 && h.Events[0].IsDirectory
}

// Alive reports whether the history's last event is not a deletion.
func (h *FileHistory) Alive() bool {
	return len(h.Events) > 0 && h.Last().Type != EventDeleted
}

// CurrentName returns the name recorded by the last event.
func (h *FileHistory) CurrentName() string { return h.Last().Name }

// CurrentSHA1 returns the content digest recorded by the last event.
func (h *FileHistory) CurrentSHA1() string { return h.Last().SHA1 }

// CurrentSize returns the blob size recorded by the last event.
func (h *FileHistory) CurrentSize() int64 { return h.Last().Size }

// append inserts the event and restores When-ordering with a stable sort.
func (h *FileHistory) append(e FileEvent) {
	h.Events = append(h.Events, e)
	sort.SliceStable(h.Events, func(i, j int) bool {
		return h.Events[i].When < h.Events[j].When
	})
}

// parentID returns the event_id that is current right now, or "" for an
// empty history.
func (h *FileHistory) parentID() ID {
	if len(h.Events) == 0 {
		return ""
	}
	return h.Last().EventID
}

// Create appends the initial Created event. Created events never carry a
// digest: content written at creation time is observed as a separate change.
func (h *FileHistory) Create(name string, isDir bool, when Ticks, ids IDGenerator) {
	h.append(FileEvent{
		FileID:        h.ID,
		EventID:       ids.NewID(),
		ParentEventID: h.parentID(),
		IsDirectory:   isDir,
		Name:          name,
		When:          when,
		Type:          EventCreated,
	})
}

// Rename appends a Renamed event, carrying the current digest and size
// forward under the new name.
func (h *FileHistory) Rename(newName string, when Ticks, ids IDGenerator) {
	last := h.Last()
	h.append(FileEvent{
		FileID:        h.ID,
		EventID:       ids.NewID(),
		ParentEventID: last.EventID,
		IsDirectory:   last.IsDirectory,
		Name:          newName,
		When:          when,
		SHA1:          last.SHA1,
		Size:          last.Size,
		Type:          EventRenamed,
	})
}

// Change appends a Changed event with the given digest and size. Name and
// is_directory are copied from the current event.
func (h *FileHistory) Change(sha1 string, size int64, when Ticks, ids IDGenerator) {
	last := h.Last()
	if sha1 == "" {
		size = 0
	}
	h.append(FileEvent{
		FileID:        h.ID,
		EventID:       ids.NewID(),
		ParentEventID: last.EventID,
		IsDirectory:   last.IsDirectory,
		Name:          last.Name,
		When:          when,
		SHA1:          sha1,
		Size:          size,
		Type:          EventChanged,
	})
}

// Delete appends a Deleted tombstone, copying name, digest and size from the
// current event. The history itself is never destroyed.
func (h *FileHistory) Delete(when Ticks, ids IDGenerator) {
	last := h.Last()
	h.append(FileEvent{
		FileID:        h.ID,
		EventID:       ids.NewID(),
		ParentEventID: last.EventID,
		IsDirectory:   last.IsDirectory,
		Name:          last.Name,
		When:          when,
		SHA1:          last.SHA1,
		Size:          last.Size,
		Type:          EventDeleted,
	})
}

// ReplayOp names the filesystem action a merged event demands locally.
type ReplayOp int

const (
	ReplayNone ReplayOp = iota
	ReplayMkdir
	ReplayWrite  // write blob content (or an empty file when SHA1 is "")
	ReplayMove   // rename OldName -> Name
	ReplayRmdir  // remove directory
	ReplayUnlink // remove file
)

// ReplayAction is the filesystem mutation implied by a merged event. Actions
// are executed by the bundle acceptor with the change detector muted.
type ReplayAction struct {
	Op          ReplayOp
	Name        string
	OldName     string
	SHA1        string
	IsDirectory bool
}

// Merge appends a foreign event to this history and returns the filesystem
// action that must be replayed locally. An event that does not become the
// new head is historical: it is recorded but replays nothing.
func (h *FileHistory) Merge(e FileEvent) (ReplayAction, error) {
	if len(h.Events) == 0 {
		if e.Type != EventCreated {
			return ReplayAction{}, fmt.Errorf("%w: first event of history %s is %s, want created", ErrInvariant, e.FileID, e.Type)
		}
		h.append(e)
		if e.IsDirectory {
			return ReplayAction{Op: ReplayMkdir, Name: e.Name, IsDirectory: true}, nil
		}
		return ReplayAction{Op: ReplayWrite, Name: e.Name, SHA1: e.SHA1}, nil
	}

	last := h.Last()
	if e.IsDirectory != last.IsDirectory {
		return ReplayAction{}, fmt.Errorf("%w: history %s is_directory mismatch on merge", ErrInvariant, h.ID)
	}

	h.append(e)
	if e.When <= last.When {
		// Historical insertion; the working tree already reflects a newer event.
		return ReplayAction{Op: ReplayNone}, nil
	}

	switch e.Type {
	case EventCreated:
		if e.IsDirectory {
			return ReplayAction{Op: ReplayMkdir, Name: e.Name, IsDirectory: true}, nil
		}
		return ReplayAction{Op: ReplayWrite, Name: e.Name, SHA1: e.SHA1}, nil
	case EventChanged:
		if e.IsDirectory {
			return ReplayAction{Op: ReplayNone}, nil
		}
		return ReplayAction{Op: ReplayWrite, Name: e.Name, SHA1: e.SHA1}, nil
	case EventRenamed:
		return ReplayAction{Op: ReplayMove, Name: e.Name, OldName: last.Name, IsDirectory: e.IsDirectory}, nil
	case EventDeleted:
		if e.IsDirectory {
			return ReplayAction{Op: ReplayRmdir, Name: e.Name, IsDirectory: true}, nil
		}
		return ReplayAction{Op: ReplayUnlink, Name: e.Name}, nil
	default:
		return ReplayAction{}, fmt.Errorf("%w: unknown event type %q", ErrInvariant, e.Type)
	}
}
