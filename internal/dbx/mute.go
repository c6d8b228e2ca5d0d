package dbx

import "sync/atomic"

// MuteFlag is the process-global signal that suppresses detector processing
// while merge replay mutates the working tree. The watcher thread reads it;
// the merge path toggles it around each individual replay syscall so the
// resulting filesystem notifications never re-enter the pipeline.
type MuteFlag struct {
	muted atomic.Bool
}

// NewMuteFlag returns a cleared flag.
func NewMuteFlag() *MuteFlag { return &MuteFlag{} }

// Muted reports whether raw notifications should be dropped.
func (m *MuteFlag) Muted() bool { return m.muted.Load() }

// Do sets the flag, runs fn, and clears the flag. fn should enclose exactly
// one filesystem mutation; keeping the window narrow avoids swallowing
// unrelated user activity.
func (m *MuteFlag) Do(fn func() error) error {
	m.muted.Store(true)
	defer m.muted.Store(false)
	return fn()
}
