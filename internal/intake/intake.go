// Package intake turns raw badge reader input into stored scan records. It
// owns input normalization, roster resolution, duplicate gating, and the
// response a station UI renders after each swipe.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/openbadge/attendd/internal/config"
	"github.com/openbadge/attendd/internal/roster"
	"github.com/openbadge/attendd/internal/storage"
	"github.com/openbadge/attendd/internal/types"
)

const maxBadgeLen = 64

// Store is the slice of the scan store intake writes through.
type Store interface {
	InsertScan(ctx context.Context, badgeID, station string, at time.Time, matched bool, opts storage.InsertOptions) (*types.Scan, bool, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	CountByStatus(ctx context.Context) (types.StatusCounts, error)
	RecentScans(ctx context.Context, limit int) ([]*types.Scan, error)
}

// Options bounds one intake instance.
type Options struct {
	StationName string
	DupEnabled  bool
	DupWindow   time.Duration
	DupAction   string // config.DupWarn, DupBlock, or DupSilent
	RecentLimit int
}

// Intake processes swipes for one station.
type Intake struct {
	store  Store
	roster *roster.Set
	opts   Options
	log    *slog.Logger

	// onAccept runs after every successful insert (activity bookkeeping).
	onAccept func(t time.Time)
	// onDuplicate runs when a duplicate is detected under warn or block.
	onDuplicate func(alert types.DuplicateAlert)

	now func() time.Time
}

// New creates an intake pipeline. onAccept and onDuplicate may be nil.
func New(store Store, set *roster.Set, opts Options, log *slog.Logger,
	onAccept func(time.Time), onDuplicate func(types.DuplicateAlert)) *Intake {
	return &Intake{
		store:       store,
		roster:      set,
		opts:        opts,
		log:         log,
		onAccept:    onAccept,
		onDuplicate: onDuplicate,
		now:         time.Now,
	}
}

// Submit processes one swipe. The input is either a badge id (digits) or a
// free-text roster query; a query resolves to a badge only when exactly one
// roster entry matches, otherwise the raw input is recorded unmatched.
func (in *Intake) Submit(ctx context.Context, input string) (*types.ScanResponse, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return &types.ScanResponse{Reason: "empty input"}, nil
	}

	badgeID := input
	if !isNumeric(input) {
		badgeID = in.resolveQuery(input)
	}
	if err := validateBadge(badgeID); err != nil {
		return &types.ScanResponse{Reason: err.Error()}, nil
	}

	// One clock read per submission: the same instant feeds the duplicate
	// window, the stored record, and the response.
	at := in.now().UTC()

	matched := in.roster.Contains(badgeID)
	opts := storage.InsertOptions{}
	if in.opts.DupEnabled && in.opts.DupWindow > 0 {
		opts.DupSince = at.Add(-in.opts.DupWindow)
		opts.SkipOnDuplicate = in.opts.DupAction == config.DupBlock
	}

	scan, duplicate, err := in.store.InsertScan(ctx, badgeID, in.opts.StationName, at, matched, opts)
	if err != nil {
		return nil, fmt.Errorf("storing scan: %w", err)
	}

	surfaceDuplicate := false
	if duplicate {
		switch in.opts.DupAction {
		case config.DupBlock:
			in.alert(badgeID, at, true)
			in.log.Warn("duplicate scan blocked", "badge", badgeID, "window", in.opts.DupWindow)
			return in.respond(ctx, &types.ScanResponse{
				Reason:      "duplicate within window",
				IsDuplicate: true,
				BadgeID:     badgeID,
				Matched:     matched,
			})
		case config.DupWarn:
			surfaceDuplicate = true
			in.alert(badgeID, at, false)
			in.log.Warn("duplicate scan accepted", "badge", badgeID, "window", in.opts.DupWindow)
		default:
			// Silent: recorded and logged, never surfaced to the caller.
			in.log.Debug("duplicate scan recorded", "badge", badgeID, "window", in.opts.DupWindow)
		}
	}

	if in.onAccept != nil {
		in.onAccept(at)
	}

	resp := &types.ScanResponse{
		OK:          true,
		IsDuplicate: surfaceDuplicate,
		BadgeID:     badgeID,
		Matched:     matched,
		Scan:        scan,
	}
	if matched {
		resp.Payload = in.roster.Payload(badgeID)
	}
	return in.respond(ctx, resp)
}

// resolveQuery maps a free-text input to a badge id via the roster. Only a
// unique match resolves; zero or several candidates leave the raw input to
// be recorded as an unmatched scan.
func (in *Intake) resolveQuery(q string) string {
	matches := in.roster.Search(q)
	if len(matches) == 1 {
		return matches[0].BadgeID
	}
	in.log.Debug("input did not resolve to a roster badge", "input", q, "candidates", len(matches))
	return q
}

// respond fills the counters and recent tail shared by every response shape.
func (in *Intake) respond(ctx context.Context, resp *types.ScanResponse) (*types.ScanResponse, error) {
	midnight := startOfDay(in.now().UTC())
	if n, err := in.store.CountSince(ctx, midnight); err == nil {
		resp.TodayCount = n
	} else {
		in.log.Error("counting today's scans", "error", err)
	}
	if counts, err := in.store.CountByStatus(ctx); err == nil {
		resp.TotalCount = counts.Total()
	} else {
		in.log.Error("counting scans", "error", err)
	}
	if in.opts.RecentLimit > 0 {
		if recent, err := in.store.RecentScans(ctx, in.opts.RecentLimit); err == nil {
			resp.Recent = recent
		} else {
			in.log.Error("loading recent scans", "error", err)
		}
	}
	return resp, nil
}

func (in *Intake) alert(badgeID string, at time.Time, blocked bool) {
	if in.onDuplicate == nil {
		return
	}
	in.onDuplicate(types.DuplicateAlert{
		BadgeID:     badgeID,
		StationName: in.opts.StationName,
		ScannedAt:   at,
		Blocked:     blocked,
	})
}

func validateBadge(badge string) error {
	if badge == "" {
		return fmt.Errorf("empty badge id")
	}
	if utf8.RuneCountInString(badge) > maxBadgeLen {
		return fmt.Errorf("badge id exceeds %d characters", maxBadgeLen)
	}
	if strings.ContainsAny(badge, "\r\n") {
		return fmt.Errorf("badge id contains line breaks")
	}
	return nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
