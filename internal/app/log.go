package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// dbxHandler formats log records as one tab-separated line:
//
//	<timestamp>\t<level>\t<peerID>\t<message>\t<key=value ...>
//
// Attr values that contain whitespace, tabs, quotes, or '=' are quoted so a
// line always splits cleanly on tabs; sync roots are user-named, so file
// names with spaces are the norm, not the exception. Each record is built in
// a buffer and written under a mutex in a single call: the detector worker
// and the sync endpoint log concurrently, and interleaved half-lines would
// corrupt the shared log file.
type dbxHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	peerID string
	group  string
	attrs  []slog.Attr
}

func newDbxHandler(w io.Writer, peerID string) *dbxHandler {
	return &dbxHandler{mu: &sync.Mutex{}, w: w, peerID: peerID}
}

func (h *dbxHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *dbxHandler) Handle(_ context.Context, r slog.Record) error {
	var line bytes.Buffer
	ts := r.Time.UTC().Format("2006-01-02T15:04:05.000Z")
	fmt.Fprintf(&line, "%s\t%s\t%s\t%s", ts, r.Level, h.peerID, r.Message)

	for _, a := range h.attrs {
		appendAttr(&line, a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&line, h.qualify(a.Key), a.Value)
		return true
	})
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(line.Bytes())
	return err
}

func appendAttr(line *bytes.Buffer, key string, v slog.Value) {
	s := v.Resolve().String()
	if s == "" || strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '='
	}) {
		s = strconv.Quote(s)
	}
	fmt.Fprintf(line, "\t%s=%s", key, s)
}

// qualify prefixes a key with the open group path, so grouped attrs stay
// distinguishable in the flat line format.
func (h *dbxHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

// WithAttrs qualifies the new attrs against the current group and carries
// them on every subsequent record.
func (h *dbxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &next
}

func (h *dbxHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = next.qualify(name)
	return &next
}

// newLogger creates a structured logger writing to both
// logDir/distribox.log and stderr. It returns the slog.Logger, the open log
// file (for cleanup), and any error.
func newLogger(logDir string, peerID string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "distribox.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := newDbxHandler(io.MultiWriter(f, os.Stderr), peerID)
	return slog.New(handler), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the dbx.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
