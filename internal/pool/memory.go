package pool

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"distribox/internal/dbx"
)

// MemoryPool is an in-memory BlobPool. Used by tests and by the "memory" pool
// type. Safe for concurrent use.
type MemoryPool struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryPool creates an empty in-memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{blobs: make(map[string][]byte)}
}

func (p *MemoryPool) Put(data []byte) (string, error) {
	sum := sha1.Sum(data)
	digest := hex.EncodeToString(sum[:])

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.blobs[digest]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		p.blobs[digest] = cp
	}
	return digest, nil
}

func (p *MemoryPool) PutPath(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("reading source file: %w", err)
	}
	digest, err := p.Put(data)
	if err != nil {
		return "", 0, err
	}
	return digest, int64(len(data)), nil
}

func (p *MemoryPool) Get(digest string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.blobs[digest]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", digest, dbx.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (p *MemoryPool) Exists(digest string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.blobs[digest]
	return ok, nil
}

// Len returns the number of stored blobs.
func (p *MemoryPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blobs)
}

// Compile-time check that MemoryPool implements dbx.BlobPool.
var _ dbx.BlobPool = (*MemoryPool)(nil)
