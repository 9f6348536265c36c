// Package agent wires the attendance station together: storage, roster,
// cloud client, connectivity oracle, sync engine, scheduler, and intake,
// behind one facade the CLI and display collaborators call into.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/openbadge/attendd/internal/cloud"
	"github.com/openbadge/attendd/internal/config"
	"github.com/openbadge/attendd/internal/connectivity"
	"github.com/openbadge/attendd/internal/export"
	"github.com/openbadge/attendd/internal/intake"
	"github.com/openbadge/attendd/internal/roster"
	"github.com/openbadge/attendd/internal/scheduler"
	"github.com/openbadge/attendd/internal/storage"
	"github.com/openbadge/attendd/internal/storage/sqlite"
	"github.com/openbadge/attendd/internal/syncengine"
	"github.com/openbadge/attendd/internal/types"
)

const metadataRosterHash = "roster_hash"

// ErrAgentRunning is returned when another agent process holds the
// data-directory lock.
var ErrAgentRunning = errors.New("another agent owns this data directory")

// Agent is the assembled station process.
type Agent struct {
	cfg *config.Config
	log *slog.Logger

	store    storage.Store
	roster   *roster.Set
	watcher  *roster.Watcher
	client   *cloud.Client
	oracle   *connectivity.Oracle
	engine   *syncengine.Engine
	sched    *scheduler.Scheduler
	intake   *intake.Intake
	exporter export.Exporter

	fileLock *flock.Flock
	signals  chan Signal

	wg sync.WaitGroup
}

// New assembles an agent from configuration. It acquires the data-directory
// lock, opens the store, establishes station identity, and loads the roster.
// Callers must Close the returned agent.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Agent, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Exactly one agent owns a station database.
	fileLock := flock.New(filepath.Join(cfg.DataDir, "attendd.lock"))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring data directory lock: %w", err)
	}
	if !locked {
		return nil, ErrAgentRunning
	}

	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		_ = fileLock.Unlock()
		return nil, fmt.Errorf("opening scan store: %w", err)
	}

	a := &Agent{
		cfg:      cfg,
		log:      log,
		store:    store,
		fileLock: fileLock,
		signals:  make(chan Signal, signalBuffer),
		exporter: export.NewFileExporter(filepath.Join(cfg.DataDir, "exports")),
	}

	if err := a.bootstrapStation(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}

	a.roster = roster.NewSet(cfg.RosterPath)
	if hash, count, err := a.roster.Reload(); err != nil {
		log.Warn("initial roster load failed", "error", err)
	} else if hash != "" {
		log.Info("roster loaded", "entries", count)
		a.recordRosterHash(ctx, hash)
	}

	a.client = cloud.NewClient(cfg.CloudURL, cfg.CloudKey)

	a.oracle = connectivity.New(a.client, connectivity.Options{
		Timeout:      cfg.Health.Timeout,
		Interval:     cfg.Health.Interval,
		InitialDelay: cfg.Health.InitialDelay,
		Hysteresis:   cfg.Health.Hysteresis,
	}, a.publishConnection, log)

	a.engine = syncengine.New(store, a.client, syncengine.Config{
		BatchSize:              cfg.BatchSize,
		ConnTimeout:            cfg.AutoSync.ConnectionTimeout,
		UploadTimeout:          cfg.UploadTimeout,
		RetryEnabled:           cfg.Retry.Enabled,
		MaxAttempts:            cfg.Retry.MaxAttempts,
		Backoff:                cfg.Retry.Backoff,
		MaxConsecutiveFailures: cfg.Retry.MaxConsecutiveFailures,
		Cooldown:               cfg.Retry.Cooldown,
	}, log)

	a.sched = scheduler.New(a.engine, store, scheduler.Options{
		Enabled:       cfg.AutoSync.Enabled,
		Idle:          cfg.AutoSync.Idle,
		CheckInterval: cfg.AutoSync.CheckInterval,
		MinPending:    cfg.AutoSync.MinPending,
	}, log)

	a.intake = intake.New(store, a.roster, intake.Options{
		StationName: a.stationName(ctx),
		DupEnabled:  cfg.Duplicate.Enabled,
		DupWindow:   cfg.Duplicate.Window,
		DupAction:   cfg.Duplicate.Action,
		RecentLimit: cfg.RecentHistory,
	}, log, a.sched.NoteActivity, a.publishDuplicate)

	return a, nil
}

// bootstrapStation establishes or verifies the persisted station identity.
func (a *Agent) bootstrapStation(ctx context.Context) error {
	if a.cfg.StationName != "" {
		if err := a.store.SetStation(ctx, a.cfg.StationName); err != nil {
			if errors.Is(err, storage.ErrStationMismatch) {
				persisted, _ := a.store.Station(ctx)
				return fmt.Errorf("configured station %q does not match persisted %q; run 'attendd admin purge' to re-identify: %w",
					a.cfg.StationName, persisted, err)
			}
			return fmt.Errorf("persisting station identity: %w", err)
		}
		return nil
	}
	name, err := a.store.Station(ctx)
	if err != nil {
		return fmt.Errorf("reading station identity: %w", err)
	}
	if name == "" {
		return fmt.Errorf("station name not configured (set ATTEND_STATION_NAME or station.name)")
	}
	return nil
}

// stationName returns the effective station identity, preferring the
// configured name.
func (a *Agent) stationName(ctx context.Context) string {
	if a.cfg.StationName != "" {
		return a.cfg.StationName
	}
	name, _ := a.store.Station(ctx)
	return name
}

func (a *Agent) recordRosterHash(ctx context.Context, hash string) {
	if err := a.store.SetMetadata(ctx, metadataRosterHash, hash); err != nil {
		a.log.Warn("recording roster hash", "error", err)
	}
}

// Run starts the background loops and blocks until ctx is canceled, then
// performs the shutdown handoff. The agent is closed when Run returns.
func (a *Agent) Run(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.Background())

	watcher, err := roster.NewWatcher(a.roster, a.log, func(hash string, _ int) {
		a.recordRosterHash(bg, hash)
	})
	if err != nil {
		a.log.Warn("roster watcher unavailable; reloads are manual", "error", err)
	} else {
		a.watcher = watcher
		a.watcher.Start(bg)
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.oracle.Run(bg)
	}()
	go func() {
		defer a.wg.Done()
		a.sched.Run(bg)
	}()

	a.log.Info("agent running",
		"station", a.stationName(ctx), "db", a.store.Path(), "roster_entries", a.roster.Len())

	<-ctx.Done()

	// Quiesce the scheduler and oracle before draining so no tick can land
	// mid-drain.
	cancel()
	a.wg.Wait()

	sctx, scancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer scancel()
	a.Shutdown(sctx)

	return a.Close()
}

// Close releases the agent's resources. Safe after Run has returned.
func (a *Agent) Close() error {
	var errs []error
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing roster watcher: %w", err))
		}
		a.watcher = nil
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if err := a.fileLock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("releasing data directory lock: %w", err))
	}
	return errors.Join(errs...)
}

func (a *Agent) closeQuietly() {
	_ = a.store.Close()
	_ = a.fileLock.Unlock()
}

// SubmitScan processes one badge swipe.
func (a *Agent) SubmitScan(ctx context.Context, input string) (*types.ScanResponse, error) {
	return a.intake.Submit(ctx, input)
}

// GetInitialSnapshot returns the state a display collaborator needs at
// startup.
func (a *Agent) GetInitialSnapshot(ctx context.Context) (*types.Snapshot, error) {
	counts, err := a.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting scans: %w", err)
	}
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := a.store.CountSince(ctx, midnight)
	if err != nil {
		return nil, fmt.Errorf("counting today's scans: %w", err)
	}
	recent, err := a.store.RecentScans(ctx, a.cfg.RecentHistory)
	if err != nil {
		return nil, fmt.Errorf("loading recent scans: %w", err)
	}
	return &types.Snapshot{
		StationName: a.stationName(ctx),
		Counts:      counts,
		TodayCount:  today,
		Recent:      recent,
		Config:      a.cfg.Echo(),
	}, nil
}

// GetSyncCounts returns the per-status scan tally.
func (a *Agent) GetSyncCounts(ctx context.Context) (types.StatusCounts, error) {
	return a.store.CountByStatus(ctx)
}

// SyncNow runs a manual sync cycle. Manual invocations bypass the
// consecutive-failure cooldown.
func (a *Agent) SyncNow(ctx context.Context) types.SyncSummary {
	return a.engine.SyncPending(ctx, true, 0)
}

// TestConnectivity kicks off one on-demand probe and returns immediately.
// The outcome always arrives on the signal bus, even when the state does
// not change. The probe feeds the oracle, so a recovery flips the state
// online immediately.
func (a *Agent) TestConnectivity(ctx context.Context) {
	go func() {
		a.oracle.Probe(ctx)
		st := a.oracle.State()
		a.publishConnection(types.ConnectionStatus{
			OK:      st == connectivity.StateOnline,
			Message: fmt.Sprintf("connectivity: %s", st),
		})
	}()
}

// ResetFailed transitions failed scans back to pending. Administrative.
func (a *Agent) ResetFailed(ctx context.Context) (int64, error) {
	return a.store.ResetFailedToPending(ctx)
}

// ResetStationAndPurge deletes every scan and clears the station identity.
// Administrative; the station must be re-identified before the next run.
func (a *Agent) ResetStationAndPurge(ctx context.Context) error {
	if err := a.store.PurgeAllScans(ctx); err != nil {
		return fmt.Errorf("purging scans: %w", err)
	}
	if err := a.store.ClearStation(ctx); err != nil {
		return fmt.Errorf("clearing station identity: %w", err)
	}
	a.log.Info("station reset complete")
	return nil
}

// Store exposes the underlying store for the CLI status verbs.
func (a *Agent) Store() storage.Store {
	return a.store
}
