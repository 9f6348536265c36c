// Package scheduler decides when the sync engine may run: a periodic tick
// that fires the engine only when the station has been idle long enough and
// enough scans are waiting.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/openbadge/attendd/internal/types"
)

// Engine is the slice of the sync engine the scheduler drives.
type Engine interface {
	ScheduledSync(ctx context.Context) types.SyncSummary
	InCooldown() bool
	Busy() bool
}

// PendingCounter answers how many scans are waiting.
type PendingCounter interface {
	CountByStatus(ctx context.Context) (types.StatusCounts, error)
}

// Options bounds the scheduler. Values arrive pre-clamped.
type Options struct {
	Enabled       bool
	Idle          time.Duration
	CheckInterval time.Duration
	MinPending    int
}

// Scheduler coordinates intake activity with engine invocation. It never
// probes connectivity itself; the engine's cycle contract covers that.
type Scheduler struct {
	engine Engine
	store  PendingCounter
	opts   Options
	log    *slog.Logger

	lastActivity atomic.Int64 // unix nanos of the latest successful insert
	now          func() time.Time
}

// New creates a scheduler.
func New(engine Engine, store PendingCounter, opts Options, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		engine: engine,
		store:  store,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
	s.lastActivity.Store(s.now().UnixNano())
	return s
}

// NoteActivity records a successful insert. Rapid new scans simply push
// last-activity forward and make the next tick defer work.
func (s *Scheduler) NoteActivity(t time.Time) {
	s.lastActivity.Store(t.UnixNano())
}

// Run ticks until ctx is canceled. Join this goroutine before starting the
// shutdown drain so no tick can land mid-drain.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.opts.Enabled {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick evaluates the trigger conditions and invokes the engine when all
// hold. Condition order matches cost: cheap state checks before the store
// query.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.opts.Enabled {
		return
	}
	idleFor := s.now().Sub(time.Unix(0, s.lastActivity.Load()))
	if idleFor < s.opts.Idle {
		return
	}
	if s.engine.InCooldown() {
		return
	}
	if s.engine.Busy() {
		return
	}
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		s.log.Error("reading pending count", "error", err)
		return
	}
	if counts.Pending < s.opts.MinPending {
		return
	}

	s.log.Info("auto-sync triggered", "idle", idleFor.Round(time.Second), "pending", counts.Pending)
	summary := s.engine.ScheduledSync(ctx)
	if summary.Skipped {
		s.log.Info("auto-sync skipped", "reason", summary.SkipReason)
	}
}
