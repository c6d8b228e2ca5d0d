package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"distribox/internal/config"
	"distribox/internal/dbx"
)

// Client talks to remote peers' sync endpoints. A nil sealer disables
// sealing; peers configured with a recipient then cannot be sent to.
type Client struct {
	http   *http.Client
	sealer dbx.Sealer
	logger dbx.Logger
}

// NewClient creates a Client. sealer may be nil.
func NewClient(sealer dbx.Sealer, logger dbx.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: 5 * time.Minute},
		sealer: sealer,
		logger: logger,
	}
}

// FetchState retrieves the remote peer's event set.
func (c *Client) FetchState(ctx context.Context, peer config.PeerConfig) (State, error) {
	var state State

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+peer.Addr+"/v1/state", nil)
	if err != nil {
		return state, fmt.Errorf("building state request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return state, fmt.Errorf("fetching state from %s: %w", peer.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return state, fmt.Errorf("state request to %s: unexpected status %s", peer.Name, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return state, fmt.Errorf("decoding state from %s: %w", peer.Name, err)
	}
	return state, nil
}

// SendBundle posts the bundle archive at path to the peer. When the peer has
// a recipient configured the archive is sealed in transit.
func (c *Client) SendBundle(ctx context.Context, peer config.PeerConfig, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()

	var body io.Reader = f
	sealed := false
	if peer.Recipient != "" {
		if c.sealer == nil {
			return fmt.Errorf("peer %s requires sealing but no key pair is configured", peer.Name)
		}
		// Bundles are small relative to the blobs they carry already being
		// compressed, so sealing buffers in memory rather than streaming.
		var buf bytes.Buffer
		if err := c.sealer.Seal(f, &buf, peer.Recipient); err != nil {
			return fmt.Errorf("sealing bundle for %s: %w", peer.Name, err)
		}
		body = &buf
		sealed = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+peer.Addr+"/v1/bundle", body)
	if err != nil {
		return fmt.Errorf("building bundle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")
	if sealed {
		req.Header.Set(SealedHeader, "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending bundle to %s: %w", peer.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bundle rejected by %s: %s: %s", peer.Name, resp.Status, bytes.TrimSpace(msg))
	}

	c.logger.Info("bundle sent", "peer", peer.Name, "sealed", sealed)
	return nil
}
