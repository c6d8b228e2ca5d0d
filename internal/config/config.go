package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultMetadataDir is the metadata directory name under the sync root.
const DefaultMetadataDir = ".Distribox"

// DefaultPollIntervalMS is the detector's debounce tick in milliseconds.
const DefaultPollIntervalMS = 300

// Config represents the main configuration for distribox.
type Config struct {
	PeerID         string        `toml:"peer_id"`
	SyncRoot       string        `toml:"sync_root"`
	MetadataDir    string        `toml:"metadata_dir"`
	PollIntervalMS int           `toml:"poll_interval_ms"`
	ListenAddr     string        `toml:"listen_addr"`
	Ignore         []string      `toml:"ignore"`
	Pool           PoolConfig    `toml:"pool"`
	Journal        JournalConfig `toml:"journal"`
	Sealing        SealingConfig `toml:"sealing"`
	Peers          []PeerConfig  `toml:"peers"`
}

// PeerConfig describes one remote peer. Recipient is the peer's public age
// recipient; when set, bundles sent to this peer are sealed.
type PeerConfig struct {
	Name      string `toml:"name"`
	Addr      string `toml:"addr"`
	Recipient string `toml:"recipient,omitempty"`
}

// PoolConfig configures the blob pool backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PoolConfig struct {
	Type string `toml:"type"` // "filesystem" (default), "memory", or "s3"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// JournalConfig configures the transfer journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type JournalConfig struct {
	Type string `toml:"type"` // "sqlite" (default) or "memory"
}

// SealingConfig holds paths to the age key pair used for bundle sealing.
type SealingConfig struct {
	Enabled        bool   `toml:"enabled"`
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a Config for the given peer and sync root with defaults
// filled in.
func NewConfig(peerID, syncRoot string) *Config {
	metaDir := filepath.Join(syncRoot, DefaultMetadataDir)
	return &Config{
		PeerID:         peerID,
		SyncRoot:       syncRoot,
		MetadataDir:    DefaultMetadataDir,
		PollIntervalMS: DefaultPollIntervalMS,
		ListenAddr:     "127.0.0.1:7340",
		Pool:           PoolConfig{Type: "filesystem"},
		Journal:        JournalConfig{Type: "sqlite"},
		Sealing: SealingConfig{
			PublicKeyPath:  filepath.Join(metaDir, "keys", "distribox.pub"),
			PrivateKeyPath: filepath.Join(metaDir, "keys", "distribox.key"),
		},
	}
}

// MetadataPath returns the absolute path of the metadata directory.
func (c *Config) MetadataPath() string {
	name := c.MetadataDir
	if name == "" {
		name = DefaultMetadataDir
	}
	return filepath.Join(c.SyncRoot, name)
}

// VersionListPath returns the path of the persisted version list.
func (c *Config) VersionListPath() string {
	return filepath.Join(c.MetadataPath(), "VersionList.txt")
}

// DataPath returns the blob pool directory.
func (c *Config) DataPath() string {
	return filepath.Join(c.MetadataPath(), "data")
}

// TmpPath returns the scratch directory for bundle build and accept.
func (c *Config) TmpPath() string {
	return filepath.Join(c.MetadataPath(), "tmp")
}

// LogPath returns the log directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.MetadataPath(), "log")
}

// JournalPath returns the sqlite journal file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.MetadataPath(), "journal.db")
}

// Peer returns the configured peer with the given name.
func (c *Config) Peer(name string) (PeerConfig, error) {
	for _, p := range c.Peers {
		if p.Name == name {
			return p, nil
		}
	}
	return PeerConfig{}, fmt.Errorf("unknown peer: %s", name)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.MetadataDir == "" {
		cfg.MetadataDir = DefaultMetadataDir
	}
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = DefaultPollIntervalMS
	}
	if cfg.Pool.Type == "" {
		cfg.Pool.Type = "filesystem"
	}
	if cfg.Journal.Type == "" {
		cfg.Journal.Type = "sqlite"
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes a new config file at path, refusing to overwrite an existing
// one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	return m.Write(f, cfg)
}
