// Package types holds the shared record shapes of the attendance agent:
// scans and their sync lifecycle, plus the response and signal types that
// cross package boundaries.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncStatus is the lifecycle state of a stored scan. Pending scans are
// waiting for upload; synced is terminal; failed is resettable only through
// the administrative reset.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// Valid reports whether s is one of the three lifecycle states.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// Scan is one stored badge swipe.
type Scan struct {
	LocalID        int64      `json:"local_id"`
	BadgeID        string     `json:"badge_id"`
	StationName    string     `json:"station_name"`
	ScannedAt      time.Time  `json:"scanned_at"`
	Matched        bool       `json:"matched"`
	SyncStatus     SyncStatus `json:"sync_status"`
	IdempotencyKey string     `json:"idempotency_key"`
	LastError      string     `json:"last_error,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
}

// IdempotencyKey derives the stable upload key for a scan. The key embeds
// the local id, so it can only be computed once the insert has assigned one.
func IdempotencyKey(station, badge string, localID int64) string {
	return fmt.Sprintf("%s-%s-%d", station, badge, localID)
}

// StatusCounts is the per-status tally of stored scans.
type StatusCounts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// Total returns the sum across all statuses.
func (c StatusCounts) Total() int {
	return c.Pending + c.Synced + c.Failed
}

// RosterEntry is one known badge with its opaque payload.
type RosterEntry struct {
	BadgeID string          `json:"badge_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ScanResponse is what a station UI renders after a swipe.
type ScanResponse struct {
	OK          bool            `json:"ok"`
	Reason      string          `json:"reason,omitempty"`
	IsDuplicate bool            `json:"is_duplicate,omitempty"`
	BadgeID     string          `json:"badge_id,omitempty"`
	Matched     bool            `json:"matched"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Scan        *Scan           `json:"scan,omitempty"`
	TodayCount  int             `json:"today_count"`
	TotalCount  int             `json:"total_count"`
	Recent      []*Scan         `json:"recent,omitempty"`
}

// Skip reasons for a sync cycle that did no work.
const (
	SkipBusy    = "busy"
	SkipOffline = "offline"
)

// SyncSummary reports the outcome of one sync cycle.
type SyncSummary struct {
	Skipped          bool   `json:"skipped,omitempty"`
	SkipReason       string `json:"skip_reason,omitempty"`
	Synced           int    `json:"synced"`
	Failed           int    `json:"failed"`
	Batches          int    `json:"batches"`
	RemainingPending int    `json:"remaining_pending"`
	AuthFailure      bool   `json:"auth_failure,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

// ConnectionStatus is the connectivity transition notification.
type ConnectionStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Shutdown stages reported through SyncStage signals.
const (
	StageSync     = "sync"
	StageExport   = "export"
	StageComplete = "complete"
)

// SyncStage is one step of the shutdown handoff.
type SyncStage struct {
	Stage       string `json:"stage"`
	OK          bool   `json:"ok"`
	Message     string `json:"message,omitempty"`
	Destination string `json:"destination,omitempty"`
	Warning     bool   `json:"warning,omitempty"`
}

// DuplicateAlert notifies collaborators of a duplicate swipe under the warn
// or block policy.
type DuplicateAlert struct {
	BadgeID     string    `json:"badge_id"`
	StationName string    `json:"station_name"`
	ScannedAt   time.Time `json:"scanned_at"`
	Blocked     bool      `json:"blocked"`
}

// Snapshot is the initial state handed to a display collaborator.
type Snapshot struct {
	StationName string            `json:"station_name"`
	Counts      StatusCounts      `json:"counts"`
	TodayCount  int               `json:"today_count"`
	Recent      []*Scan           `json:"recent,omitempty"`
	Config      map[string]string `json:"config"`
}
