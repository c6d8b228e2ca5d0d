package dbx

// BlobPool is a content-addressed store mapping lowercase hex SHA-1 digests
// to immutable byte sequences. Put is idempotent: storing content that is
// already present is a no-op returning the same digest. Blobs are never
// deleted by the core.
type BlobPool interface {
	// Put stores data and returns its digest.
	Put(data []byte) (string, error)

	// PutPath streams the file at path into the pool and returns its digest
	// and byte length.
	PutPath(path string) (digest string, size int64, err error)

	// Get returns the bytes for digest, or an error wrapping ErrNotFound.
	Get(digest string) ([]byte, error)

	// Exists reports whether the pool holds digest.
	Exists(digest string) (bool, error)
}
