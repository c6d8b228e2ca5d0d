package pool_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"distribox/internal/dbx"
	"distribox/internal/pool"
	"distribox/internal/testutil"
)

func newFSPool(t *testing.T) *pool.FileSystemPool {
	t.Helper()
	p, err := pool.NewFileSystemPool(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("NewFileSystemPool() error = %v", err)
	}
	return p
}

func TestFileSystemPoolPutGet(t *testing.T) {
	t.Parallel()

	p := newFSPool(t)
	content := []byte("hello")

	digest, err := p.Put(content)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if want := "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"; digest != want {
		t.Errorf("Put() digest = %s, want %s", digest, want)
	}

	got, err := p.Get(digest)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get() = %q, want hello", got)
	}

	ok, err := p.Exists(digest)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !ok {
		t.Error("Exists() = false for stored blob")
	}
}

func TestFileSystemPoolPutIsIdempotent(t *testing.T) {
	t.Parallel()

	p := newFSPool(t)

	first, err := p.Put([]byte("same content"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	second, err := p.Put([]byte("same content"))
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if first != second {
		t.Errorf("digests differ: %s vs %s", first, second)
	}

	entries, err := os.ReadDir(p.Root())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("pool holds %d entries, want 1", len(entries))
	}
}

func TestFileSystemPoolPutPath(t *testing.T) {
	t.Parallel()

	p := newFSPool(t)

	src := filepath.Join(t.TempDir(), "source.txt")
	if err := os.WriteFile(src, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	digest, size, err := p.PutPath(src)
	if err != nil {
		t.Fatalf("PutPath() error = %v", err)
	}
	if digest != testutil.SHA1Hex([]byte("hello")) {
		t.Errorf("PutPath() digest = %s, want SHA-1 of content", digest)
	}
	if size != 5 {
		t.Errorf("PutPath() size = %d, want 5", size)
	}

	// No stray temp files remain.
	entries, err := os.ReadDir(p.Root())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("pool holds %d entries, want 1", len(entries))
	}
}

func TestFileSystemPoolGetMissing(t *testing.T) {
	t.Parallel()

	p := newFSPool(t)

	_, err := p.Get("0000000000000000000000000000000000000000")
	if !errors.Is(err, dbx.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	ok, err := p.Exists("0000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Error("Exists() = true for missing blob")
	}
}

func TestMemoryPool(t *testing.T) {
	t.Parallel()

	p := pool.NewMemoryPool()

	digest, err := p.Put([]byte("hello"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := p.Get(digest)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Mutating the returned slice must not corrupt the stored blob.
	data[0] = 'X'
	again, err := p.Get(digest)
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if string(again) != "hello" {
		t.Errorf("stored blob mutated through returned slice: %q", again)
	}

	if _, err := p.Get("missing"); !errors.Is(err, dbx.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}
