package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/openbadge/attendd/internal/types"
)

const (
	// shutdownBudget bounds the whole handoff (drain + export).
	shutdownBudget = 60 * time.Second
	// drainLockWait bounds waiting for an in-flight cycle to finish before
	// the final drain. On timeout the drain proceeds and reports busy.
	drainLockWait = 10 * time.Second
	// drainMaxBatches caps the final drain so shutdown stays bounded even
	// with a deep backlog.
	drainMaxBatches = 50
)

// Shutdown performs the exit handoff: final drain, export, completion
// signal. Export failure is a warning, never a reason to block exit.
func (a *Agent) Shutdown(ctx context.Context) {
	a.log.Info("shutdown handoff starting")

	a.waitForIdleEngine(ctx)
	summary := a.engine.SyncPending(ctx, true, drainMaxBatches)
	stage := types.SyncStage{Stage: types.StageSync, OK: summary.LastError == ""}
	switch {
	case summary.Skipped:
		stage.Message = fmt.Sprintf("drain skipped: %s", summary.SkipReason)
		stage.Warning = true
	case summary.LastError != "":
		stage.Message = summary.LastError
	default:
		stage.Message = fmt.Sprintf("drained %d scans in %d batches", summary.Synced, summary.Batches)
	}
	a.publishStage(stage)
	a.log.Info("shutdown drain finished",
		"synced", summary.Synced, "remaining", summary.RemainingPending,
		"skipped", summary.Skipped, "reason", summary.SkipReason)

	a.exportHandoff(ctx)

	a.publishStage(types.SyncStage{Stage: types.StageComplete, OK: true})
	a.log.Info("shutdown handoff complete")
}

// waitForIdleEngine waits (bounded) for an in-flight cycle to release the
// single-flight lock. On timeout the drain proceeds anyway; it will report
// a busy skip rather than deadlock.
func (a *Agent) waitForIdleEngine(ctx context.Context) {
	if !a.engine.Busy() {
		return
	}
	a.log.Info("waiting for in-flight sync cycle before drain")
	deadline := time.After(drainLockWait)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			a.log.Warn("in-flight sync cycle did not finish in time; draining anyway")
			return
		case <-ticker.C:
			if !a.engine.Busy() {
				return
			}
		}
	}
}

// exportHandoff writes the day report for scans recorded today.
func (a *Agent) exportHandoff(ctx context.Context) {
	scans, err := a.store.AllScans(ctx)
	if err != nil {
		a.publishStage(types.SyncStage{
			Stage: types.StageExport, OK: false, Warning: true,
			Message: fmt.Sprintf("reading scans for export: %v", err),
		})
		a.log.Warn("export handoff skipped", "error", err)
		return
	}

	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var today []*types.Scan
	for _, s := range scans {
		if !s.ScannedAt.Before(midnight) {
			today = append(today, s)
		}
	}

	dest, err := a.exporter.Export(ctx, today)
	if err != nil {
		a.publishStage(types.SyncStage{
			Stage: types.StageExport, OK: false, Warning: true,
			Message: fmt.Sprintf("export failed: %v", err),
		})
		a.log.Warn("export handoff failed", "error", err)
		return
	}
	a.publishStage(types.SyncStage{
		Stage: types.StageExport, OK: true, Destination: dest,
		Message: fmt.Sprintf("exported %d scans", len(today)),
	})
	a.log.Info("day report exported", "file", dest, "scans", len(today))
}
