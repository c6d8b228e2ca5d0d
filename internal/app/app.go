package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"distribox/internal/bundle"
	"distribox/internal/config"
	"distribox/internal/dbx"
	"distribox/internal/detector"
	"distribox/internal/journal"
	"distribox/internal/pool"
	"distribox/internal/sealing"
	"distribox/internal/transport"
)

// App is the application layer between the CLI and the sync engine. It
// constructs all dependencies from config, exposes high-level operations,
// and manages resource lifecycles on Close.
type App struct {
	cfg     *config.Config
	logger  dbx.Logger
	logFile *os.File

	pool       dbx.BlobPool
	list       *dbx.VersionList
	controller *dbx.VersionController
	journal    dbx.Journal
	mute       *dbx.MuteFlag
	ids        dbx.IDGenerator

	builder  *bundle.Builder
	acceptor *bundle.Acceptor
	sealer   dbx.Sealer
	client   *transport.Client

	det    *detector.Detector
	server *transport.Server
	unseal dbx.UnsealContext
}

// NewApp creates a fully wired App from the given config. The caller must
// call Close when done.
func NewApp(cfg *config.Config) (*App, error) {
	for _, dir := range []string{cfg.MetadataPath(), cfg.DataPath(), cfg.TmpPath(), cfg.LogPath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating metadata directory: %w", err)
		}
	}

	logger, logFile, err := newLogger(cfg.LogPath(), cfg.PeerID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	p, err := pool.NewPoolFromConfig(cfg.Pool, cfg.DataPath())
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating blob pool: %w", err)
	}

	ids := dbx.UUIDGenerator{}
	list, err := dbx.LoadVersionList(cfg.VersionListPath(), ids)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("loading version list: %w", err)
	}

	jnl, err := journal.NewJournalFromConfig(cfg.Journal, cfg.JournalPath())
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating journal: %w", err)
	}

	mute := &dbx.MuteFlag{}
	controller := dbx.NewVersionController(list, cfg.VersionListPath(), jnl, log)
	sealer := sealing.NewAgeSealer(cfg.Sealing)

	a := &App{
		cfg:        cfg,
		logger:     log,
		logFile:    logFile,
		pool:       p,
		list:       list,
		controller: controller,
		journal:    jnl,
		mute:       mute,
		ids:        ids,
		builder:    bundle.NewBuilder(p, cfg.TmpPath(), ids, log),
		acceptor:   bundle.NewAcceptor(cfg.SyncRoot, cfg.TmpPath(), p, list, mute, log),
		sealer:     sealer,
		client:     transport.NewClient(sealer, log),
	}
	return a, nil
}

// Logger returns the app's logger.
func (a *App) Logger() dbx.Logger { return a.logger }

// Sealer returns the app's bundle sealer.
func (a *App) Sealer() dbx.Sealer { return a.sealer }

// UnlockSealing unlocks the private key for the session so incoming sealed
// bundles can be opened.
func (a *App) UnlockSealing(passphrase string) error {
	ctx, err := a.sealer.Unseal(passphrase)
	if err != nil {
		return err
	}
	a.unseal = ctx
	return nil
}

// Watch starts the change detector and the sync endpoint, then blocks until
// ctx is cancelled. Local edits flow into the version list; remote bundles
// are accepted between detector batches.
func (a *App) Watch(ctx context.Context) error {
	a.det = detector.New(detector.Options{
		Root:     a.cfg.SyncRoot,
		MetaPath: a.cfg.MetadataPath(),
		Interval: time.Duration(a.cfg.PollIntervalMS) * time.Millisecond,
		Pool:     a.pool,
		Clock:    dbx.RealClock{},
		Mute:     a.mute,
		Sub:      a.controller,
		Ignore:   a.cfg.Ignore,
		Logger:   a.logger,
	})
	if err := a.det.Start(); err != nil {
		return fmt.Errorf("starting detector: %w", err)
	}

	a.server = transport.NewServer(a.cfg.ListenAddr, a, a.unseal, a.logger)
	if err := a.server.Start(); err != nil {
		a.det.Stop()
		a.det = nil
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("stopping sync endpoint", "error", err)
	}
	a.server = nil

	a.det.Stop()
	a.det = nil
	return a.controller.Flush()
}

// State implements the sync endpoint: this peer's identity and full event
// set.
func (a *App) State() (transport.State, error) {
	return transport.State{
		PeerID:   a.cfg.PeerID,
		EventIDs: a.list.EventIDs(),
	}, nil
}

// Accept implements the sync endpoint for incoming bundles.
func (a *App) Accept(r io.Reader) error {
	_, err := a.AcceptBundle(r, "")
	return err
}

// AcceptBundle merges one bundle, excluding the detector worker for the
// duration so no local batch interleaves with replay. The version list is
// flushed after a successful merge.
func (a *App) AcceptBundle(r io.Reader, peer string) (bundle.AcceptStats, error) {
	var stats bundle.AcceptStats

	accept := func() error {
		var err error
		stats, err = a.acceptor.Accept(r)
		if err != nil {
			return err
		}
		return a.controller.Flush()
	}

	var err error
	if a.det != nil {
		err = a.det.Exclusive(accept)
	} else {
		err = accept()
	}

	a.record("BundleAccept", peer, int64(stats.Events), int64(stats.Blobs), err)
	return stats, err
}

// BuildBundle builds a bundle for a remote event set and returns the archive
// path. A nil remote set selects every history. An empty delta yields
// ("", nil).
func (a *App) BuildBundle(remote []dbx.ID) (string, error) {
	histories := a.list.Histories()
	if remote != nil {
		histories = bundle.DeltaFor(a.list, remote)
	}
	if len(histories) == 0 {
		return "", nil
	}

	path, err := a.builder.Build(histories)
	a.record("BundleBuild", "", int64(countEvents(histories)), 0, err)
	return path, err
}

// Sync pushes this peer's delta to the named peer: fetch the remote event
// set, build the bundle of histories it lacks, and send it.
func (a *App) Sync(ctx context.Context, peerName string) error {
	peer, err := a.cfg.Peer(peerName)
	if err != nil {
		return err
	}

	state, err := a.client.FetchState(ctx, peer)
	if err != nil {
		return err
	}

	archive, err := a.BuildBundle(state.EventIDs)
	if err != nil {
		return fmt.Errorf("building delta for %s: %w", peerName, err)
	}
	if archive == "" {
		a.logger.Info("nothing to send", "peer", peerName)
		return nil
	}
	defer os.Remove(archive)

	err = a.client.SendBundle(ctx, peer, archive)
	a.record("BundleSend", peerName, 0, 0, err)
	return err
}

// Status returns all alive histories sorted by name.
func (a *App) Status() []*dbx.FileHistory {
	return a.list.Alive()
}

// FileHistory returns the history currently holding name.
func (a *App) FileHistory(name string) (*dbx.FileHistory, error) {
	h := a.list.ByName(name)
	if h == nil {
		return nil, fmt.Errorf("%w: no alive file named %q", dbx.ErrNotFound, name)
	}
	return h, nil
}

// JournalRecent returns the newest journal entries.
func (a *App) JournalRecent(limit int) ([]dbx.JournalEntry, error) {
	return a.journal.Recent(limit)
}

// Flush persists the version list.
func (a *App) Flush() error {
	return a.controller.Flush()
}

// Close releases the journal and log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.journal.Close(); err != nil {
		firstErr = fmt.Errorf("closing journal: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}

func (a *App) record(op, peer string, events, blobs int64, opErr error) {
	outcome := "ok"
	if opErr != nil {
		outcome = opErr.Error()
	}
	if err := a.journal.Record(dbx.JournalEntry{
		Operation: op,
		Peer:      peer,
		Events:    events,
		Blobs:     blobs,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		a.logger.Warn("journal write failed", "error", err)
	}
}

func countEvents(histories []*dbx.FileHistory) int {
	n := 0
	for _, h := range histories {
		n += h.Len()
	}
	return n
}
