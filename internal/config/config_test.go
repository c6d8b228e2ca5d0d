package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := NewConfig("peer-1", "/sync/root")

	if cfg.PeerID != "peer-1" {
		t.Errorf("PeerID = %s, want peer-1", cfg.PeerID)
	}
	if cfg.MetadataDir != DefaultMetadataDir {
		t.Errorf("MetadataDir = %s, want %s", cfg.MetadataDir, DefaultMetadataDir)
	}
	if cfg.PollIntervalMS != DefaultPollIntervalMS {
		t.Errorf("PollIntervalMS = %d, want %d", cfg.PollIntervalMS, DefaultPollIntervalMS)
	}
	if cfg.Pool.Type != "filesystem" {
		t.Errorf("Pool.Type = %s, want filesystem", cfg.Pool.Type)
	}
	if cfg.Journal.Type != "sqlite" {
		t.Errorf("Journal.Type = %s, want sqlite", cfg.Journal.Type)
	}

	meta := filepath.Join("/sync/root", DefaultMetadataDir)
	if got := cfg.MetadataPath(); got != meta {
		t.Errorf("MetadataPath() = %s, want %s", got, meta)
	}
	if got := cfg.VersionListPath(); got != filepath.Join(meta, "VersionList.txt") {
		t.Errorf("VersionListPath() = %s", got)
	}
	if got := cfg.DataPath(); got != filepath.Join(meta, "data") {
		t.Errorf("DataPath() = %s", got)
	}
	if got := cfg.JournalPath(); got != filepath.Join(meta, "journal.db") {
		t.Errorf("JournalPath() = %s", got)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := NewConfig("peer-1", "/sync/root")
	cfg.Ignore = []string{"*.tmp", ".git"}
	cfg.Peers = []PeerConfig{
		{Name: "laptop", Addr: "10.0.0.2:7340", Recipient: "age1example"},
	}

	m := &Manager{}
	var buf bytes.Buffer
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.PeerID != cfg.PeerID || got.SyncRoot != cfg.SyncRoot {
		t.Errorf("round trip identity = %s %s", got.PeerID, got.SyncRoot)
	}
	if len(got.Ignore) != 2 || got.Ignore[0] != "*.tmp" {
		t.Errorf("round trip ignore = %v", got.Ignore)
	}
	if len(got.Peers) != 1 || got.Peers[0].Recipient != "age1example" {
		t.Errorf("round trip peers = %+v", got.Peers)
	}
}

func TestReadFillsDefaults(t *testing.T) {
	t.Parallel()

	raw := `
peer_id = "peer-1"
sync_root = "/sync/root"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.MetadataDir != DefaultMetadataDir {
		t.Errorf("MetadataDir = %s, want default", cfg.MetadataDir)
	}
	if cfg.PollIntervalMS != DefaultPollIntervalMS {
		t.Errorf("PollIntervalMS = %d, want default", cfg.PollIntervalMS)
	}
	if cfg.Pool.Type != "filesystem" {
		t.Errorf("Pool.Type = %s, want filesystem", cfg.Pool.Type)
	}
	if cfg.Journal.Type != "sqlite" {
		t.Errorf("Journal.Type = %s, want sqlite", cfg.Journal.Type)
	}
}

func TestPeerLookup(t *testing.T) {
	t.Parallel()

	cfg := NewConfig("peer-1", "/sync/root")
	cfg.Peers = []PeerConfig{
		{Name: "laptop", Addr: "10.0.0.2:7340"},
		{Name: "nas", Addr: "10.0.0.3:7340"},
	}

	p, err := cfg.Peer("nas")
	if err != nil {
		t.Fatalf("Peer() error = %v", err)
	}
	if p.Addr != "10.0.0.3:7340" {
		t.Errorf("Peer(nas).Addr = %s", p.Addr)
	}

	if _, err := cfg.Peer("phone"); err == nil {
		t.Error("Peer(phone) succeeded for unknown peer")
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "conf", "distribox.toml")
	cfg := NewConfig("peer-1", "/sync/root")

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if err := Init(path, cfg); err == nil {
		t.Error("second Init() succeeded, want refusal")
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.PeerID != "peer-1" {
		t.Errorf("ReadFromFile().PeerID = %s", got.PeerID)
	}
}
