package dbx

import "errors"

// ErrNotFound indicates a missing blob or history lookup miss.
var ErrNotFound = errors.New("not found")

// ErrIntegrity indicates content that does not match its claimed digest,
// or a referenced blob missing from the pool.
var ErrIntegrity = errors.New("integrity violation")

// ErrInvariant indicates a fatal invariant violation: a malformed foreign
// history, an is_directory disagreement on merge, or a lookup that found no
// alive history where one is required.
var ErrInvariant = errors.New("invariant violation")
