package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"distribox/internal/config"
	"distribox/internal/dbx"
)

// stubEndpoint records what the server hands it and can be primed to fail.
type stubEndpoint struct {
	state     State
	accepted  []byte
	acceptErr error
}

func (e *stubEndpoint) State() (State, error) { return e.state, nil }

func (e *stubEndpoint) Accept(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	e.accepted = data
	return e.acceptErr
}

// xorSealer is a toy Sealer for exercising the sealed-transfer path without
// real key material. Seal and Open both XOR every byte with 0x5a.
type xorSealer struct{}

func xorCopy(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	for i := range data {
		data[i] ^= 0x5a
	}
	_, err = w.Write(data)
	return err
}

func (xorSealer) Setup(string) error                         { return nil }
func (xorSealer) Recipient() (string, error)                 { return "xor", nil }
func (xorSealer) Seal(r io.Reader, w io.Writer, _ string) error { return xorCopy(r, w) }
func (xorSealer) Unseal(string) (dbx.UnsealContext, error)   { return xorUnseal{}, nil }
func (xorSealer) IsConfigured() bool                         { return true }

type xorUnseal struct{}

func (xorUnseal) Open(r io.Reader, w io.Writer) error { return xorCopy(r, w) }

var (
	_ dbx.Sealer        = xorSealer{}
	_ dbx.UnsealContext = xorUnseal{}
)

// newTestServer serves the sync API over httptest and returns the peer config
// pointing at it.
func newTestServer(t *testing.T, ep Endpoint, unseal dbx.UnsealContext) config.PeerConfig {
	t.Helper()

	s := NewServer("unused", ep, unseal, dbx.NewNopLogger())
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)

	return config.PeerConfig{
		Name: "remote",
		Addr: strings.TrimPrefix(ts.URL, "http://"),
	}
}

func writeBundleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.zip")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing bundle file: %v", err)
	}
	return path
}

func TestFetchState(t *testing.T) {
	t.Parallel()

	ep := &stubEndpoint{state: State{
		PeerID:   "peer-remote",
		EventIDs: []dbx.ID{"e1", "e2"},
	}}
	peer := newTestServer(t, ep, nil)

	c := NewClient(nil, dbx.NewNopLogger())
	state, err := c.FetchState(context.Background(), peer)
	if err != nil {
		t.Fatalf("FetchState() error = %v", err)
	}
	if state.PeerID != "peer-remote" {
		t.Errorf("PeerID = %s, want peer-remote", state.PeerID)
	}
	if len(state.EventIDs) != 2 || state.EventIDs[1] != "e2" {
		t.Errorf("EventIDs = %v", state.EventIDs)
	}
}

func TestSendBundlePlain(t *testing.T) {
	t.Parallel()

	ep := &stubEndpoint{}
	peer := newTestServer(t, ep, nil)
	path := writeBundleFile(t, "zip bytes")

	c := NewClient(nil, dbx.NewNopLogger())
	if err := c.SendBundle(context.Background(), peer, path); err != nil {
		t.Fatalf("SendBundle() error = %v", err)
	}
	if string(ep.accepted) != "zip bytes" {
		t.Errorf("server received %q", ep.accepted)
	}
}

func TestSendBundleSealed(t *testing.T) {
	t.Parallel()

	ep := &stubEndpoint{}
	peer := newTestServer(t, ep, xorUnseal{})
	peer.Recipient = "xor"
	path := writeBundleFile(t, "zip bytes")

	c := NewClient(xorSealer{}, dbx.NewNopLogger())
	if err := c.SendBundle(context.Background(), peer, path); err != nil {
		t.Fatalf("SendBundle() error = %v", err)
	}

	// The server unseals before handing the body to the endpoint.
	if string(ep.accepted) != "zip bytes" {
		t.Errorf("server received %q after unsealing", ep.accepted)
	}
}

func TestSendBundleRecipientWithoutSealer(t *testing.T) {
	t.Parallel()

	peer := config.PeerConfig{Name: "remote", Addr: "127.0.0.1:1", Recipient: "age1x"}
	path := writeBundleFile(t, "zip bytes")

	c := NewClient(nil, dbx.NewNopLogger())
	err := c.SendBundle(context.Background(), peer, path)
	if err == nil {
		t.Fatal("SendBundle() succeeded without a sealer, want error")
	}
	if !strings.Contains(err.Error(), "no key pair") {
		t.Errorf("error = %v, want key pair complaint", err)
	}
}

func TestServerRejectsSealedWithoutUnsealContext(t *testing.T) {
	t.Parallel()

	ep := &stubEndpoint{}
	peer := newTestServer(t, ep, nil)

	req, err := http.NewRequest(http.MethodPost, "http://"+peer.Addr+"/v1/bundle", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set(SealedHeader, "1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if ep.accepted != nil {
		t.Error("endpoint saw a bundle it could not have unsealed")
	}
}

func TestServerMapsBundleErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"integrity failure", fmt.Errorf("bad blob: %w", dbx.ErrIntegrity), http.StatusUnprocessableEntity},
		{"invariant failure", fmt.Errorf("bad history: %w", dbx.ErrInvariant), http.StatusUnprocessableEntity},
		{"other failure", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ep := &stubEndpoint{acceptErr: tt.err}
			peer := newTestServer(t, ep, nil)
			path := writeBundleFile(t, "zip bytes")

			c := NewClient(nil, dbx.NewNopLogger())
			err := c.SendBundle(context.Background(), peer, path)
			if err == nil {
				t.Fatal("SendBundle() succeeded, want rejection")
			}
			if !strings.Contains(err.Error(), http.StatusText(tt.wantStatus)) {
				t.Errorf("error = %v, want status %d text", err, tt.wantStatus)
			}
		})
	}
}
