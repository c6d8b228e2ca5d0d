package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"distribox/internal/dbx"
)

// Builder packages a set of file histories plus every blob they reference
// into a single zip archive for transport.
type Builder struct {
	pool   dbx.BlobPool
	tmpDir string
	ids    dbx.IDGenerator
	logger dbx.Logger
}

// NewBuilder creates a Builder staging its work under tmpDir.
func NewBuilder(p dbx.BlobPool, tmpDir string, ids dbx.IDGenerator, logger dbx.Logger) *Builder {
	return &Builder{pool: p, tmpDir: tmpDir, ids: ids, logger: logger}
}

// Build serializes the given histories to Delta.txt, copies each referenced
// blob once (duplicate digests are coalesced), archives the staging
// directory, and returns the archive path. The staging directory is removed
// on success; the caller owns the returned archive file.
func (b *Builder) Build(histories []*dbx.FileHistory) (string, error) {
	if err := os.MkdirAll(b.tmpDir, 0755); err != nil {
		return "", fmt.Errorf("creating tmp directory: %w", err)
	}

	name := string(b.ids.NewID())
	stage := filepath.Join(b.tmpDir, name)
	if err := os.Mkdir(stage, 0755); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	data, err := json.MarshalIndent(histories, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding delta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stage, DeltaName), data, 0644); err != nil {
		return "", fmt.Errorf("writing delta: %w", err)
	}

	blobs, err := b.stageBlobs(histories, stage)
	if err != nil {
		return "", err
	}

	archive := filepath.Join(b.tmpDir, name+".zip")
	if err := archiveDir(stage, archive); err != nil {
		os.Remove(archive)
		return "", fmt.Errorf("archiving bundle: %w", err)
	}

	b.logger.Info("bundle built", "histories", len(histories), "blobs", blobs)
	return archive, nil
}

// stageBlobs copies every digest referenced by any event into the staging
// directory, each exactly once.
func (b *Builder) stageBlobs(histories []*dbx.FileHistory, stage string) (int, error) {
	seen := make(map[string]struct{})
	for _, h := range histories {
		for _, e := range h.Events {
			if e.SHA1 == "" {
				continue
			}
			if _, dup := seen[e.SHA1]; dup {
				continue
			}
			seen[e.SHA1] = struct{}{}

			data, err := b.pool.Get(e.SHA1)
			if err != nil {
				return 0, fmt.Errorf("staging blob %s: %w", e.SHA1, err)
			}
			if err := os.WriteFile(filepath.Join(stage, e.SHA1), data, 0644); err != nil {
				return 0, fmt.Errorf("writing blob %s: %w", e.SHA1, err)
			}
		}
	}
	return len(seen), nil
}
