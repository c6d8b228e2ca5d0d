package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"distribox/internal/dbx"
)

// SealedHeader marks a bundle body as age ciphertext sealed to this peer.
const SealedHeader = "X-Distribox-Sealed"

// State is the synchronization state one peer exposes to another: its
// identity and the set of every event it already holds. The caller uses the
// event set to compute a delta bundle.
type State struct {
	PeerID   string   `json:"peer_id"`
	EventIDs []dbx.ID `json:"event_ids"`
}

// Endpoint is the surface the server exposes over HTTP. The app wires it to
// the version controller and bundle acceptor; Accept runs with the detector
// worker excluded.
type Endpoint interface {
	State() (State, error)
	Accept(bundle io.Reader) error
}

// Server serves the peer-to-peer sync API: GET /v1/state for the event set
// and POST /v1/bundle for incoming delta bundles. When an unseal context is
// present, bodies marked with SealedHeader are opened before acceptance.
type Server struct {
	endpoint Endpoint
	unseal   dbx.UnsealContext
	logger   dbx.Logger

	srv *http.Server
}

// NewServer creates a Server. unseal may be nil when sealing is not
// configured; sealed bundles are then rejected.
func NewServer(addr string, endpoint Endpoint, unseal dbx.UnsealContext, logger dbx.Logger) *Server {
	s := &Server{
		endpoint: endpoint,
		unseal:   unseal,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("POST /v1/bundle", s.handleBundle)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. It returns once the listener is bound; serving
// continues on a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("sync endpoint listening", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("sync endpoint failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.endpoint.State()
	if err != nil {
		s.logger.Error("state request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		s.logger.Warn("writing state response", "error", err)
	}
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)

	if r.Header.Get(SealedHeader) != "" {
		if s.unseal == nil {
			http.Error(w, "sealing not configured", http.StatusBadRequest)
			return
		}
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(s.unseal.Open(r.Body, pw))
		}()
		body = pr
	}

	if err := s.endpoint.Accept(body); err != nil {
		s.logger.Error("bundle rejected", "remote", r.RemoteAddr, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, dbx.ErrIntegrity) || errors.Is(err, dbx.ErrInvariant) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
