package dbx

import "io"

// Sealer encrypts bundle payloads to a peer and decrypts payloads sealed to
// this peer. Sealing uses the receiving peer's public recipient only; opening
// requires a passphrase to unlock the local private key, producing an
// UnsealContext for the session.
type Sealer interface {
	// Setup performs one-time key generation: stores the public recipient in
	// plaintext and the private key encrypted with the passphrase.
	Setup(passphrase string) error

	// Recipient returns this peer's public recipient string, to be shared
	// with peers that want to seal bundles for it.
	Recipient() (string, error)

	// Seal encrypts data read from r to the given recipient and writes
	// ciphertext to w.
	Seal(r io.Reader, w io.Writer, recipient string) error

	// Unseal unlocks the private key with the passphrase and returns a
	// context that can open sealed bundles for the duration of the session.
	Unseal(passphrase string) (UnsealContext, error)

	// IsConfigured reports whether a usable key pair is present at the
	// configured paths.
	IsConfigured() bool
}

// UnsealContext holds an unlocked private key in memory for the duration of
// an accept session. The unlocked key is never written to disk.
type UnsealContext interface {
	// Open decrypts data read from r and writes plaintext to w.
	Open(r io.Reader, w io.Writer) error
}
