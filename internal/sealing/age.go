package sealing

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"distribox/internal/config"
	"distribox/internal/dbx"
)

// AgeSealer implements dbx.Sealer using filippo.io/age with X25519 keys.
//
// The key layout is built for the peer-exchange model: the recipient file is
// a commented, copy-pasteable text file meant to be handed to other peers,
// and the private key is an ASCII-armored age file encrypted with the user's
// passphrase. The two files form a pair; Unseal cross-checks that the stored
// recipient really derives from the private key, so a stale or swapped
// recipient file is caught before peers seal bundles this machine cannot
// open.
type AgeSealer struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ dbx.Sealer = (*AgeSealer)(nil)

// NewAgeSealer creates a new AgeSealer from configuration.
func NewAgeSealer(cfg config.SealingConfig) *AgeSealer {
	return &AgeSealer{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates the X25519 key pair. It refuses to run when a pair is
// already configured: regenerating would strand every peer still sealing to
// the old recipient.
func (s *AgeSealer) Setup(passphrase string) error {
	if s.IsConfigured() {
		return fmt.Errorf("sealing keys already exist under %s; peers hold the current recipient", filepath.Dir(s.publicKeyPath))
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := s.writeRecipientFile(identity.Recipient().String()); err != nil {
		return err
	}
	return s.writePrivateKeyFile(identity.String(), passphrase)
}

// writeRecipientFile stores the public recipient with a comment header so
// the file explains itself when a user pastes it to a peer.
func (s *AgeSealer) writeRecipientFile(recipient string) error {
	if err := os.MkdirAll(filepath.Dir(s.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# distribox sealing recipient\n")
	b.WriteString("# give this line to peers that should seal bundles for this machine\n")
	b.WriteString(recipient + "\n")

	if err := os.WriteFile(s.publicKeyPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing recipient file: %w", err)
	}
	return nil
}

// writePrivateKeyFile stores the identity as an armored age file encrypted
// with the passphrase. O_EXCL backs up the Setup guard at the file level.
func (s *AgeSealer) writePrivateKeyFile(key, passphrase string) error {
	if err := os.MkdirAll(filepath.Dir(s.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	f, err := os.OpenFile(s.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer f.Close()

	guard, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("deriving passphrase key: %w", err)
	}

	ar := armor.NewWriter(f)
	w, err := age.Encrypt(ar, guard)
	if err != nil {
		return fmt.Errorf("encrypting private key: %w", err)
	}
	if _, err := io.WriteString(w, key+"\n"); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing private key: %w", err)
	}
	if err := ar.Close(); err != nil {
		return fmt.Errorf("finalizing private key armor: %w", err)
	}
	return f.Close()
}

// Recipient returns this peer's public recipient, skipping the comment
// header.
func (s *AgeSealer) Recipient() (string, error) {
	f, err := os.Open(s.publicKeyPath)
	if err != nil {
		return "", fmt.Errorf("opening recipient file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "age1") {
			return "", fmt.Errorf("recipient file %s holds %q, not an age recipient", s.publicKeyPath, line)
		}
		return line, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading recipient file: %w", err)
	}
	return "", fmt.Errorf("recipient file %s holds no recipient", s.publicKeyPath)
}

// Seal encrypts data read from r to the given recipient and writes
// ciphertext to w.
func (s *AgeSealer) Seal(r io.Reader, w io.Writer, recipient string) error {
	recipients, err := age.ParseRecipients(strings.NewReader(recipient))
	if err != nil {
		return fmt.Errorf("parsing recipient: %w", err)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients found")
	}

	encWriter, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("sealing data: %w", err)
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing seal: %w", err)
	}

	return nil
}

// Unseal decrypts the armored private key with the passphrase, verifies the
// key pair still agrees, and returns the session context.
func (s *AgeSealer) Unseal(passphrase string) (dbx.UnsealContext, error) {
	f, err := os.Open(s.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("opening private key file: %w", err)
	}
	defer f.Close()

	guard, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}

	r, err := age.Decrypt(armor.NewReader(f), guard)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}

	identity, err := readIdentity(r)
	if err != nil {
		return nil, err
	}

	// A replaced or stale recipient file would have peers sealing to a key
	// this machine does not hold; surface that at unlock time, not at the
	// first failed accept.
	stored, err := s.Recipient()
	if err != nil {
		return nil, err
	}
	if stored != identity.Recipient().String() {
		return nil, fmt.Errorf("recipient file %s does not match the private key", s.publicKeyPath)
	}

	return &AgeUnsealContext{identity: identity}, nil
}

func readIdentity(r io.Reader) (*age.X25519Identity, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return identity, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return nil, fmt.Errorf("private key file holds no identity")
}

// IsConfigured reports whether a usable key pair is present: the private key
// file exists and the recipient file parses.
func (s *AgeSealer) IsConfigured() bool {
	if _, err := os.Stat(s.privateKeyPath); err != nil {
		return false
	}
	_, err := s.Recipient()
	return err == nil
}

// AgeUnsealContext holds an unlocked age identity for opening sealed bundles.
type AgeUnsealContext struct {
	identity age.Identity
}

var _ dbx.UnsealContext = (*AgeUnsealContext)(nil)

// Open decrypts age ciphertext from r and writes plaintext to w.
func (c *AgeUnsealContext) Open(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}

	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("opening sealed data: %w", err)
	}

	return nil
}
