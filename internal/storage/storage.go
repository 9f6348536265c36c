// Package storage defines the interface for the durable scan store.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/openbadge/attendd/internal/types"
)

// ErrStationMismatch is returned when the persisted station identity does not
// match the configured one. Changing a station requires an administrative
// reset that also purges prior scans.
var ErrStationMismatch = errors.New("station identity mismatch")

// InsertOptions controls duplicate gating performed atomically with the
// insert. A zero DupSince disables the window check entirely.
type InsertOptions struct {
	// DupSince is the lower bound of the duplicate window. A scan with the
	// same (badge, station) strictly after this instant marks the
	// submission as a duplicate. Callers pass now-W; a prior scan exactly
	// W ago sits on the boundary and is not a duplicate.
	DupSince time.Time
	// SkipOnDuplicate suppresses the insert when the window check fires
	// (block policy). The returned scan is nil in that case.
	SkipOnDuplicate bool
}

// Store is the durable scan store: a single-writer, multi-reader
// transactional record of every scan, plus station identity and a small
// key/value metadata space.
//
// All operations either commit fully or return an error; partial state is
// never exposed. Callers treat storage errors as fatal at the process level.
type Store interface {
	// InsertScan assigns the next local_id, computes the idempotency key,
	// and records the scan as pending. The duplicate-window check requested
	// through opts runs in the same transaction as the insert.
	InsertScan(ctx context.Context, badgeID, station string, at time.Time, matched bool, opts InsertOptions) (scan *types.Scan, duplicate bool, err error)

	// FetchPending returns up to limit pending scans, oldest first by
	// local_id.
	FetchPending(ctx context.Context, limit int) ([]*types.Scan, error)

	// MarkSynced transitions the listed scans from pending to synced.
	// Non-pending entries are skipped silently.
	MarkSynced(ctx context.Context, localIDs []int64) error

	// MarkFailed transitions the listed scans from pending to failed,
	// records errText, and increments attempt_count. Non-pending entries
	// are skipped silently.
	MarkFailed(ctx context.Context, localIDs []int64, errText string) error

	CountByStatus(ctx context.Context) (types.StatusCounts, error)

	// RecentSameBadge reports whether any scan with the given badge and
	// station has scanned_at strictly after since, the same comparison
	// InsertScan's duplicate window uses.
	RecentSameBadge(ctx context.Context, badgeID, station string, since time.Time) (bool, error)

	// CountSince counts scans recorded at or after the given instant
	// (running "today" total).
	CountSince(ctx context.Context, since time.Time) (int, error)

	// RecentScans returns the newest scans, most recent first.
	RecentScans(ctx context.Context, limit int) ([]*types.Scan, error)

	// ResetFailedToPending is the administrative failed -> pending reset.
	// Returns the number of scans reset.
	ResetFailedToPending(ctx context.Context) (int64, error)

	// PurgeAllScans deletes every scan record. Administrative only.
	PurgeAllScans(ctx context.Context) error

	// AllScans streams every scan oldest-first (export handoff).
	AllScans(ctx context.Context) ([]*types.Scan, error)

	// Station identity. SetStation establishes identity on first launch;
	// it returns ErrStationMismatch when a different identity is already
	// persisted. ClearStation is part of the administrative reset.
	Station(ctx context.Context) (string, error)
	SetStation(ctx context.Context, name string) error
	ClearStation(ctx context.Context) error

	// Metadata key/value space (roster hash, schema version).
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error

	Close() error
	Path() string
}
