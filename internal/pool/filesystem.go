package pool

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"distribox/internal/dbx"
)

// FileSystemPool stores blobs as a flat directory of files, each named by
// the lowercase hex SHA-1 of its content. Writes go to a temp file in the
// same directory and are renamed into place, so a partially written blob is
// never observable under its final name.
type FileSystemPool struct {
	root string
}

// NewFileSystemPool creates a pool rooted at the given directory, creating
// it if needed.
func NewFileSystemPool(root string) (*FileSystemPool, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating pool directory: %w", err)
	}
	return &FileSystemPool{root: root}, nil
}

// Root returns the pool's directory.
func (p *FileSystemPool) Root() string { return p.root }

// Put stores data under its SHA-1 digest. Storing existing content is a
// no-op returning the same digest.
func (p *FileSystemPool) Put(data []byte) (string, error) {
	sum := sha1.Sum(data)
	digest := hex.EncodeToString(sum[:])

	dest := filepath.Join(p.root, digest)
	if _, err := os.Stat(dest); err == nil {
		return digest, nil
	}

	if err := p.writeBlob(dest, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return "", err
	}
	return digest, nil
}

// PutPath streams the file at path into the pool. The digest is computed
// while copying, so the temp file is renamed to its final name only once the
// full content has been read.
func (p *FileSystemPool) PutPath(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening source file: %w", err)
	}
	defer f.Close()

	tmp, err := os.CreateTemp(p.root, ".blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	h := sha1.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), f)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("copying content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("closing temp file: %w", err)
	}

	digest := hex.EncodeToString(h.Sum(nil))
	dest := filepath.Join(p.root, digest)
	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmpPath)
		success = true
		return digest, size, nil
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", 0, fmt.Errorf("renaming blob into place: %w", err)
	}
	success = true
	return digest, size, nil
}

// Get returns the bytes stored under digest.
func (p *FileSystemPool) Get(digest string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.root, digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", digest, dbx.ErrNotFound)
		}
		return nil, fmt.Errorf("reading blob %s: %w", digest, err)
	}
	return data, nil
}

// Exists reports whether the pool holds digest.
func (p *FileSystemPool) Exists(digest string) (bool, error) {
	if _, err := os.Stat(filepath.Join(p.root, digest)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking blob %s: %w", digest, err)
	}
	return true, nil
}

// writeBlob writes content to dest via a temp file and atomic rename.
func (p *FileSystemPool) writeBlob(dest string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(p.root, ".blob-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming blob into place: %w", err)
	}
	success = true
	return nil
}

// Compile-time check that FileSystemPool implements dbx.BlobPool.
var _ dbx.BlobPool = (*FileSystemPool)(nil)
