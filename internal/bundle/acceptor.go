package bundle

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"distribox/internal/dbx"
)

// Acceptor merges a received bundle into the local version list and replays
// the resulting head changes onto the working tree. Accept must run with the
// change detector's worker excluded, so the only filesystem activity under
// the sync root during replay is the acceptor's own.
type Acceptor struct {
	root   string
	tmpDir string
	pool   dbx.BlobPool
	list   *dbx.VersionList
	mute   *dbx.MuteFlag
	logger dbx.Logger
}

// NewAcceptor creates an Acceptor replaying into root.
func NewAcceptor(root, tmpDir string, p dbx.BlobPool, vl *dbx.VersionList, mute *dbx.MuteFlag, logger dbx.Logger) *Acceptor {
	return &Acceptor{
		root:   root,
		tmpDir: tmpDir,
		pool:   p,
		list:   vl,
		mute:   mute,
		logger: logger,
	}
}

// AcceptStats summarizes one accepted bundle.
type AcceptStats struct {
	Histories int
	Events    int
	Blobs     int
	Replayed  int
}

// Accept ingests one bundle: blobs are verified against their digest names
// and imported into the pool, then every foreign history is merged and the
// head changes replayed onto the working tree with the detector muted. All
// validation happens before the first mutation, so a bad bundle leaves both
// the version list and the working tree untouched.
func (a *Acceptor) Accept(archive io.Reader) (AcceptStats, error) {
	var stats AcceptStats

	if err := os.MkdirAll(a.tmpDir, 0755); err != nil {
		return stats, fmt.Errorf("creating tmp directory: %w", err)
	}
	stage, err := os.MkdirTemp(a.tmpDir, "accept-")
	if err != nil {
		return stats, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	archivePath := filepath.Join(stage, "bundle.zip")
	if err := spool(archive, archivePath); err != nil {
		return stats, err
	}

	unpacked := filepath.Join(stage, "unpacked")
	if err := os.Mkdir(unpacked, 0755); err != nil {
		return stats, fmt.Errorf("creating unpack directory: %w", err)
	}
	if err := extractArchive(archivePath, unpacked); err != nil {
		return stats, err
	}

	histories, err := readDelta(unpacked)
	if err != nil {
		return stats, err
	}

	imported, err := a.importBlobs(unpacked)
	if err != nil {
		return stats, err
	}
	stats.Blobs = imported

	if err := a.validate(histories); err != nil {
		return stats, err
	}

	for _, fh := range histories {
		merged, replayed, err := a.mergeHistory(fh)
		if err != nil {
			return stats, err
		}
		stats.Events += merged
		stats.Replayed += replayed
	}
	stats.Histories = len(histories)

	a.logger.Info("bundle accepted",
		"histories", stats.Histories,
		"events", stats.Events,
		"blobs", stats.Blobs,
		"replayed", stats.Replayed)
	return stats, nil
}

func spool(r io.Reader, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("spooling bundle: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("spooling bundle: %w", err)
	}
	return f.Close()
}

func readDelta(dir string) ([]*dbx.FileHistory, error) {
	data, err := os.ReadFile(filepath.Join(dir, DeltaName))
	if err != nil {
		return nil, fmt.Errorf("reading delta: %w", err)
	}
	var histories []*dbx.FileHistory
	if err := json.Unmarshal(data, &histories); err != nil {
		return nil, fmt.Errorf("decoding delta: %w", err)
	}
	return histories, nil
}

// importBlobs re-hashes every blob entry and imports the ones the pool does
// not already hold. An entry whose content does not hash to its name is a
// corrupt or tampered bundle.
func (a *Acceptor) importBlobs(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("listing bundle contents: %w", err)
	}

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == DeltaName {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return 0, fmt.Errorf("reading blob %s: %w", entry.Name(), err)
		}
		digest, err := a.pool.Put(data)
		if err != nil {
			return 0, fmt.Errorf("importing blob %s: %w", entry.Name(), err)
		}
		if digest != entry.Name() {
			return 0, fmt.Errorf("%w: bundle entry %s hashes to %s", dbx.ErrIntegrity, entry.Name(), digest)
		}
		imported++
	}
	return imported, nil
}

// validate checks every foreign history before any merge: histories must be
// well formed and every digest they reference must now be present in the
// pool. Failing here keeps the version list untouched.
func (a *Acceptor) validate(histories []*dbx.FileHistory) error {
	for _, fh := range histories {
		if fh.Len() == 0 {
			return fmt.Errorf("%w: bundle history %s has no events", dbx.ErrInvariant, fh.ID)
		}
		if fh.Events[0].Type != dbx.EventCreated {
			return fmt.Errorf("%w: bundle history %s does not start with created", dbx.ErrInvariant, fh.ID)
		}
		isDir := fh.Events[0].IsDirectory
		if local := a.list.ByID(fh.ID); local != nil && local.Len() > 0 && local.IsDirectory() != isDir {
			return fmt.Errorf("%w: bundle history %s disagrees with local is_directory", dbx.ErrInvariant, fh.ID)
		}
		for _, e := range fh.Events {
			if e.FileID != fh.ID {
				return fmt.Errorf("%w: bundle history %s carries event for %s", dbx.ErrInvariant, fh.ID, e.FileID)
			}
			if e.IsDirectory != isDir {
				return fmt.Errorf("%w: bundle history %s mixes file and directory events", dbx.ErrInvariant, fh.ID)
			}
			switch e.Type {
			case dbx.EventCreated, dbx.EventChanged, dbx.EventRenamed, dbx.EventDeleted:
			default:
				return fmt.Errorf("%w: bundle history %s has unknown event type %q", dbx.ErrInvariant, fh.ID, e.Type)
			}
			if e.SHA1 == "" {
				continue
			}
			ok, err := a.pool.Exists(e.SHA1)
			if err != nil {
				return fmt.Errorf("checking blob %s: %w", e.SHA1, err)
			}
			if !ok {
				return fmt.Errorf("%w: bundle references missing blob %s", dbx.ErrIntegrity, e.SHA1)
			}
		}
	}
	return nil
}

// mergeHistory merges one foreign history into its local counterpart, event
// by event, replaying each head change as it happens. Events already known
// locally are skipped, so re-accepting a bundle is a no-op.
func (a *Acceptor) mergeHistory(fh *dbx.FileHistory) (merged, replayed int, err error) {
	local := a.list.ByID(fh.ID)
	if local == nil {
		local = dbx.NewFileHistory(fh.ID)
		a.list.Register(local)
	}

	known := make(map[dbx.ID]struct{}, local.Len())
	for _, e := range local.Events {
		known[e.EventID] = struct{}{}
	}

	for _, e := range fh.Events {
		if _, dup := known[e.EventID]; dup {
			continue
		}

		previousName := ""
		if local.Len() > 0 && local.Alive() {
			previousName = local.CurrentName()
		}

		action, err := local.Merge(e)
		if err != nil {
			return merged, replayed, err
		}
		merged++
		a.list.Reindex(local, previousName)

		if action.Op == dbx.ReplayNone {
			continue
		}
		if err := a.replay(action); err != nil {
			return merged, replayed, err
		}
		replayed++
	}
	return merged, replayed, nil
}

// replay executes one filesystem action under the sync root with the
// detector muted, so the resulting notifications are not re-observed as
// local edits.
func (a *Acceptor) replay(action dbx.ReplayAction) error {
	return a.mute.Do(func() error {
		switch action.Op {
		case dbx.ReplayMkdir:
			return a.mkdir(action.Name)
		case dbx.ReplayWrite:
			return a.write(action.Name, action.SHA1)
		case dbx.ReplayMove:
			return a.move(action.OldName, action.Name)
		case dbx.ReplayRmdir:
			return a.rmdir(action.Name)
		case dbx.ReplayUnlink:
			return a.unlink(action.Name)
		default:
			return fmt.Errorf("%w: unknown replay op %d", dbx.ErrInvariant, action.Op)
		}
	})
}

func (a *Acceptor) abs(name string) string {
	return filepath.Join(a.root, filepath.FromSlash(name))
}

func (a *Acceptor) mkdir(name string) error {
	if err := os.MkdirAll(a.abs(name), 0755); err != nil {
		return fmt.Errorf("replaying mkdir %s: %w", name, err)
	}
	return nil
}

func (a *Acceptor) write(name, sha1 string) error {
	path := a.abs(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("replaying write %s: %w", name, err)
	}

	var data []byte
	if sha1 != "" {
		var err error
		data, err = a.pool.Get(sha1)
		if err != nil {
			return fmt.Errorf("replaying write %s: %w", name, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("replaying write %s: %w", name, err)
	}
	return nil
}

func (a *Acceptor) move(oldName, newName string) error {
	newPath := a.abs(newName)
	if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
		return fmt.Errorf("replaying move %s: %w", newName, err)
	}
	if err := os.Rename(a.abs(oldName), newPath); err != nil {
		return fmt.Errorf("replaying move %s to %s: %w", oldName, newName, err)
	}
	return nil
}

func (a *Acceptor) rmdir(name string) error {
	err := os.RemoveAll(a.abs(name))
	if err != nil {
		return fmt.Errorf("replaying rmdir %s: %w", name, err)
	}
	return nil
}

func (a *Acceptor) unlink(name string) error {
	if err := os.Remove(a.abs(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replaying unlink %s: %w", name, err)
	}
	return nil
}
