// Package syncengine uploads pending scans to the cloud service in batches:
// single-flight cycles, outcome classification, bounded retry with jittered
// backoff, and a consecutive-failure cooldown that gates the scheduler.
package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/openbadge/attendd/internal/cloud"
	"github.com/openbadge/attendd/internal/types"
)

// Engine states.
const (
	StateIdle      = "idle"
	StateProbing   = "probing"
	StateUploading = "uploading"
	StateCooldown  = "cooldown"
)

// Store is the slice of the scan store the engine needs. The engine never
// mutates a record except through these lifecycle verbs.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]*types.Scan, error)
	MarkSynced(ctx context.Context, localIDs []int64) error
	MarkFailed(ctx context.Context, localIDs []int64, errText string) error
	CountByStatus(ctx context.Context) (types.StatusCounts, error)
}

// Client is the cloud edge the engine uploads through.
type Client interface {
	Health(ctx context.Context) error
	PushBatch(ctx context.Context, events []cloud.Event) (*cloud.BatchResult, error)
}

// Config bounds one engine instance. All values arrive pre-clamped from the
// configuration loader.
type Config struct {
	BatchSize              int
	ConnTimeout            time.Duration
	UploadTimeout          time.Duration
	RetryEnabled           bool
	MaxAttempts            int
	Backoff                time.Duration
	MaxConsecutiveFailures int
	Cooldown               time.Duration
}

// Engine is the single-flight batch uploader. At most one cycle executes at
// a time per process; a second invocation returns a busy skip without work.
type Engine struct {
	store  Store
	client Client
	cfg    Config
	log    *slog.Logger

	mu      sync.Mutex // the single-flight cycle lock
	state   atomic.Value
	breaker *gobreaker.TwoStepCircuitBreaker

	// sleep and jitter are swapped out by tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// New creates an engine. The cooldown is a circuit breaker that opens after
// MaxConsecutiveFailures failed cycles and stays open for Cooldown.
func New(store Store, client Client, cfg Config, log *slog.Logger) *Engine {
	e := &Engine{
		store:  store,
		client: client,
		cfg:    cfg,
		log:    log,
		sleep:  sleepCtx,
		jitter: fullJitter,
	}
	e.state.Store(StateIdle)
	e.breaker = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:    "sync-cooldown",
		Timeout: cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.MaxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("sync cooldown state change", "from", from.String(), "to", to.String())
		},
	})
	return e
}

// State reports the engine state for collaborators. Cooldown wins over
// whatever the cycle loop last recorded.
func (e *Engine) State() string {
	if e.InCooldown() {
		return StateCooldown
	}
	return e.state.Load().(string)
}

// InCooldown reports whether the consecutive-failure cooldown is active.
func (e *Engine) InCooldown() bool {
	return e.breaker.State() == gobreaker.StateOpen
}

// Busy reports whether a cycle is currently executing.
func (e *Engine) Busy() bool {
	if e.mu.TryLock() {
		e.mu.Unlock()
		return false
	}
	return true
}

// ScheduledSync runs a cycle on behalf of the auto-sync scheduler, routed
// through the cooldown breaker. Manual invocations use SyncPending directly
// and therefore bypass cooldown.
func (e *Engine) ScheduledSync(ctx context.Context) types.SyncSummary {
	// The breaker admits exactly one probe while half-open, so a busy skip
	// must not ask for admission at all: it says nothing about the service.
	if e.Busy() {
		return types.SyncSummary{Skipped: true, SkipReason: types.SkipBusy}
	}
	done, err := e.breaker.Allow()
	if err != nil {
		return types.SyncSummary{Skipped: true, SkipReason: "cooldown"}
	}
	summary := e.SyncPending(ctx, true, 0)
	if summary.Skipped || summary.LastError != "" {
		// An offline skip (or a lost busy race) reports failure so the
		// half-open probe slot is returned: the cooldown re-opens and
		// retries on the next timeout instead of leaking the slot and
		// wedging scheduled sync until restart.
		done(false)
	} else {
		done(true)
	}
	return summary
}

// SyncPending runs one sync cycle.
//
// all=false uploads at most one batch. maxBatches <= 0 means unbounded.
// The contract: acquire the single-flight lock (busy skip if held), probe
// reachability (offline skip on failure), then drain pending scans batch by
// batch, applying lifecycle transitions per outcome class.
func (e *Engine) SyncPending(ctx context.Context, all bool, maxBatches int) types.SyncSummary {
	if !e.mu.TryLock() {
		return types.SyncSummary{Skipped: true, SkipReason: types.SkipBusy}
	}
	defer e.mu.Unlock()
	defer e.state.Store(StateIdle)

	e.state.Store(StateProbing)
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ConnTimeout)
	err := e.client.Health(pctx)
	cancel()
	if err != nil {
		e.log.Info("sync skipped: service unreachable", "error", err)
		return types.SyncSummary{Skipped: true, SkipReason: types.SkipOffline}
	}

	e.state.Store(StateUploading)
	var summary types.SyncSummary
	e.drain(ctx, all, maxBatches, &summary)

	if counts, err := e.store.CountByStatus(ctx); err == nil {
		summary.RemainingPending = counts.Pending
	} else {
		e.log.Error("counting pending after cycle", "error", err)
	}
	e.log.Info("sync cycle finished",
		"synced", summary.Synced, "failed", summary.Failed,
		"batches", summary.Batches, "remaining", summary.RemainingPending,
		"last_error", summary.LastError)
	return summary
}

// drain runs the batch loop, mutating summary as it goes.
func (e *Engine) drain(ctx context.Context, all bool, maxBatches int, summary *types.SyncSummary) {
	for {
		if maxBatches > 0 && summary.Batches >= maxBatches {
			return
		}
		scans, err := e.store.FetchPending(ctx, e.cfg.BatchSize)
		if err != nil {
			// Storage faults are fatal at the process level; surface and
			// stop rather than risk inconsistent transitions.
			e.log.Error("fetching pending scans", "error", err)
			summary.LastError = err.Error()
			return
		}
		if len(scans) == 0 {
			return
		}

		halt := e.uploadBatch(ctx, scans, summary)
		if halt || !all {
			return
		}
	}
}

// uploadBatch pushes one batch with retries and applies the lifecycle
// transition for its final outcome. Returns true when the cycle must halt.
func (e *Engine) uploadBatch(ctx context.Context, scans []*types.Scan, summary *types.SyncSummary) (halt bool) {
	events := make([]cloud.Event, len(scans))
	ids := make([]int64, len(scans))
	for i, s := range scans {
		events[i] = cloud.EventFromScan(s)
		ids[i] = s.LocalID
	}

	maxAttempts := e.cfg.MaxAttempts
	if !e.cfg.RetryEnabled {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		uctx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
		result, err := e.client.PushBatch(uctx, events)
		cancel()

		switch class := cloud.Classify(err); class {
		case cloud.ClassSuccess:
			if merr := e.store.MarkSynced(ctx, ids); merr != nil {
				e.log.Error("marking batch synced", "error", merr)
				summary.LastError = merr.Error()
				return true
			}
			summary.Synced += len(ids)
			summary.Batches++
			e.log.Info("batch uploaded", "events", len(ids),
				"saved", result.Saved, "duplicates", result.Duplicates, "attempt", attempt)
			return false

		case cloud.ClassAuth:
			e.markBatchFailed(ctx, ids, err.Error(), summary)
			summary.Batches++
			summary.AuthFailure = true
			summary.LastError = err.Error()
			e.log.Error("authentication rejected; check cloud credential", "error", err)
			return true

		case cloud.ClassPermanent:
			e.markBatchFailed(ctx, ids, err.Error(), summary)
			summary.Batches++
			summary.LastError = err.Error()
			e.log.Warn("batch rejected permanently, continuing with next batch", "error", err)
			return false

		default: // transient or network
			summary.LastError = err.Error()
			if attempt >= maxAttempts {
				// Exhausted: leave the batch pending for a later cycle.
				e.log.Warn("batch upload failed after retries, leaving pending",
					"attempts", attempt, "class", class.String(), "error", err)
				return true
			}
			wait := e.backoff(attempt)
			e.log.Info("transient upload failure, backing off",
				"attempt", attempt, "wait", wait, "error", err)
			if serr := e.sleep(ctx, wait); serr != nil {
				// Cancelled mid-backoff: abort the retry loop, batch stays
				// pending, no partial transitions.
				return true
			}
		}
	}
}

func (e *Engine) markBatchFailed(ctx context.Context, ids []int64, errText string, summary *types.SyncSummary) {
	if merr := e.store.MarkFailed(ctx, ids, errText); merr != nil {
		e.log.Error("marking batch failed", "error", merr)
		summary.LastError = merr.Error()
		return
	}
	summary.Failed += len(ids)
}

// backoff returns the jittered wait before retry attempt k+1: the base
// doubles per attempt and full jitter spreads the result across [d, 2d).
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.Backoff << (attempt - 1)
	return d + e.jitter(d)
}
