package dbx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// VersionList is the set of all file histories on one peer, with two views:
// a primary index by FileID and a secondary index from current name to the
// unique alive history holding that name. The secondary index is rebuilt on
// load and maintained incrementally on mutation; only the histories are
// persisted.
type VersionList struct {
	histories map[ID]*FileHistory
	byName    map[string]*FileHistory
	ids       IDGenerator
}

// NewVersionList creates an empty VersionList.
func NewVersionList(ids IDGenerator) *VersionList {
	return &VersionList{
		histories: make(map[ID]*FileHistory),
		byName:    make(map[string]*FileHistory),
		ids:       ids,
	}
}

// Create allocates a fresh FileId, starts its history with a Created event,
// and registers it in both indices.
func (vl *VersionList) Create(name string, isDir bool, when Ticks) *FileHistory {
	h := NewFileHistory(vl.ids.NewID())
	h.Create(name, isDir, when, vl.ids)
	vl.histories[h.ID] = h
	vl.byName[name] = h
	return h
}

// Change records new content for the alive history currently holding name.
func (vl *VersionList) Change(name string, sha1 string, size int64, when Ticks) error {
	h, ok := vl.byName[name]
	if !ok {
		return fmt.Errorf("%w: change for unknown name %q", ErrInvariant, name)
	}
	h.Change(sha1, size, when, vl.ids)
	return nil
}

// Rename moves the alive history at oldName to newName and keeps the
// secondary index in step under the same mutation. If sha1 is non-empty and
// differs from the current digest, a Changed event is appended one tick
// after the rename: some platforms report content edits as renames, so the
// detector hashes on rename and the difference surfaces here.
func (vl *VersionList) Rename(newName, oldName string, sha1 string, size int64, when Ticks) error {
	h, ok := vl.byName[oldName]
	if !ok {
		return fmt.Errorf("%w: rename for unknown name %q", ErrInvariant, oldName)
	}
	h.Rename(newName, when, vl.ids)
	delete(vl.byName, oldName)
	vl.byName[newName] = h
	if sha1 != "" && sha1 != h.CurrentSHA1() {
		h.Change(sha1, size, when+1, vl.ids)
	}
	return nil
}

// Delete appends a tombstone to the alive history at name and drops it from
// the secondary index. The history itself remains in the primary index.
func (vl *VersionList) Delete(name string, when Ticks) error {
	h, ok := vl.byName[name]
	if !ok {
		return fmt.Errorf("%w: delete for unknown name %q", ErrInvariant, name)
	}
	h.Delete(when, vl.ids)
	delete(vl.byName, name)
	return nil
}

// ByID returns the history for a FileID, or nil.
func (vl *VersionList) ByID(id ID) *FileHistory {
	return vl.histories[id]
}

// ByName returns the alive history currently holding name, or nil.
func (vl *VersionList) ByName(name string) *FileHistory {
	return vl.byName[name]
}

// Register inserts an externally constructed history (a merge target
// inheriting a foreign FileId) into the primary index. Reindex must be
// called after its events are merged.
func (vl *VersionList) Register(h *FileHistory) {
	vl.histories[h.ID] = h
}

// Reindex updates the secondary index entry for h after a merge mutated it.
func (vl *VersionList) Reindex(h *FileHistory, previousName string) {
	if previousName != "" {
		if cur, ok := vl.byName[previousName]; ok && cur == h {
			delete(vl.byName, previousName)
		}
	}
	if h.Alive() {
		vl.byName[h.CurrentName()] = h
	}
}

// Histories returns all histories sorted by FileID for deterministic
// iteration.
func (vl *VersionList) Histories() []*FileHistory {
	out := make([]*FileHistory, 0, len(vl.histories))
	for _, h := range vl.histories {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Alive returns all alive histories sorted by current name.
func (vl *VersionList) Alive() []*FileHistory {
	out := make([]*FileHistory, 0, len(vl.byName))
	for _, h := range vl.byName {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentName() < out[j].CurrentName() })
	return out
}

// EventIDs returns the set of every event identifier known to this peer.
// Peers exchange these sets to compute delta bundles.
func (vl *VersionList) EventIDs() []ID {
	var out []ID
	for _, h := range vl.histories {
		for _, e := range h.Events {
			out = append(out, e.EventID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// versionListDoc is the persisted form of a VersionList.
type versionListDoc struct {
	Histories []*FileHistory `json:"histories"`
}

// Save writes the serialized list atomically (temp file + rename) so a crash
// mid-flush never leaves a truncated document.
func (vl *VersionList) Save(path string) error {
	doc := versionListDoc{Histories: vl.Histories()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding version list: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".versionlist-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing version list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming version list into place: %w", err)
	}
	return nil
}

// LoadVersionList reads a serialized list and rebuilds the secondary index.
// A missing file yields an empty list: a fresh root has no histories yet.
func LoadVersionList(path string, ids IDGenerator) (*VersionList, error) {
	vl := NewVersionList(ids)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vl, nil
		}
		return nil, fmt.Errorf("reading version list: %w", err)
	}

	var doc versionListDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding version list: %w", err)
	}

	for _, h := range doc.Histories {
		if h.Len() == 0 {
			return nil, fmt.Errorf("%w: persisted history %s has no events", ErrInvariant, h.ID)
		}
		vl.histories[h.ID] = h
		if h.Alive() {
			vl.byName[h.CurrentName()] = h
		}
	}
	return vl, nil
}
