package intake

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openbadge/attendd/internal/config"
	"github.com/openbadge/attendd/internal/roster"
	"github.com/openbadge/attendd/internal/storage"
	"github.com/openbadge/attendd/internal/types"
)

// fakeStore records inserts and scripts the duplicate flag.
type fakeStore struct {
	scans     []*types.Scan
	lastOpts  storage.InsertOptions
	duplicate bool
}

func (f *fakeStore) InsertScan(ctx context.Context, badgeID, station string, at time.Time, matched bool, opts storage.InsertOptions) (*types.Scan, bool, error) {
	f.lastOpts = opts
	if f.duplicate && opts.SkipOnDuplicate {
		return nil, true, nil
	}
	scan := &types.Scan{
		LocalID:     int64(len(f.scans) + 1),
		BadgeID:     badgeID,
		StationName: station,
		ScannedAt:   at,
		Matched:     matched,
		SyncStatus:  types.StatusPending,
	}
	f.scans = append(f.scans, scan)
	return scan, f.duplicate, nil
}

func (f *fakeStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	n := 0
	for _, s := range f.scans {
		if !s.ScannedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountByStatus(ctx context.Context) (types.StatusCounts, error) {
	return types.StatusCounts{Pending: len(f.scans)}, nil
}

func (f *fakeStore) RecentScans(ctx context.Context, limit int) ([]*types.Scan, error) {
	if len(f.scans) < limit {
		limit = len(f.scans)
	}
	out := make([]*types.Scan, 0, limit)
	for i := len(f.scans) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.scans[i])
	}
	return out, nil
}

func testRoster(t *testing.T) *roster.Set {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.json")
	content := `[
	  {"badge_id": "1001", "name": "Ada Lovelace"},
	  {"badge_id": "1002", "name": "Grace Hopper"},
	  {"badge_id": "1003", "name": "Grace Murray"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	set := roster.NewSet(path)
	if _, _, err := set.Reload(); err != nil {
		t.Fatal(err)
	}
	return set
}

type testHarness struct {
	intake     *Intake
	store      *fakeStore
	accepts    []time.Time
	duplicates []types.DuplicateAlert
}

func newHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()
	h := &testHarness{store: &fakeStore{}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.intake = New(h.store, testRoster(t), opts, log,
		func(at time.Time) { h.accepts = append(h.accepts, at) },
		func(alert types.DuplicateAlert) { h.duplicates = append(h.duplicates, alert) })
	return h
}

func defaultOpts() Options {
	return Options{
		StationName: "Front Desk",
		DupEnabled:  true,
		DupWindow:   60 * time.Second,
		DupAction:   config.DupWarn,
		RecentLimit: 5,
	}
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	h := newHarness(t, defaultOpts())
	for _, input := range []string{"", "   ", "\t\n"} {
		resp, err := h.intake.Submit(context.Background(), input)
		if err != nil {
			t.Fatal(err)
		}
		if resp.OK {
			t.Errorf("Submit(%q) accepted", input)
		}
	}
	if len(h.store.scans) != 0 {
		t.Error("rejected input reached the store")
	}
}

func TestSubmitNumericBadge(t *testing.T) {
	h := newHarness(t, defaultOpts())
	resp, err := h.intake.Submit(context.Background(), " 1001 ")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.BadgeID != "1001" {
		t.Fatalf("resp = %+v", resp)
	}
	if !resp.Matched {
		t.Error("roster badge not matched")
	}
	if resp.Payload == nil {
		t.Error("matched scan missing payload")
	}
	if resp.TodayCount != 1 || resp.TotalCount != 1 {
		t.Errorf("counts = %d/%d", resp.TodayCount, resp.TotalCount)
	}
	if len(resp.Recent) != 1 {
		t.Errorf("recent = %d entries", len(resp.Recent))
	}
	if len(h.accepts) != 1 {
		t.Error("activity callback not invoked")
	}
	if h.store.scans[0].StationName != "Front Desk" {
		t.Errorf("station = %q", h.store.scans[0].StationName)
	}
}

func TestSubmitUnknownNumericBadgeIsUnmatched(t *testing.T) {
	h := newHarness(t, defaultOpts())
	resp, err := h.intake.Submit(context.Background(), "777")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.OK {
		t.Fatalf("resp = %+v, unknown badges are still recorded", resp)
	}
	if resp.Matched || resp.Payload != nil {
		t.Error("unknown badge reported as matched")
	}
}

func TestSubmitQueryResolution(t *testing.T) {
	t.Run("unique match resolves to badge", func(t *testing.T) {
		h := newHarness(t, defaultOpts())
		resp, err := h.intake.Submit(context.Background(), "lovelace")
		if err != nil {
			t.Fatal(err)
		}
		if !resp.OK || resp.BadgeID != "1001" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("ambiguous query records the raw input unmatched", func(t *testing.T) {
		h := newHarness(t, defaultOpts())
		resp, err := h.intake.Submit(context.Background(), "grace")
		if err != nil {
			t.Fatal(err)
		}
		if !resp.OK || resp.BadgeID != "grace" || resp.Matched {
			t.Errorf("resp = %+v", resp)
		}
		if len(h.store.scans) != 1 || h.store.scans[0].Matched {
			t.Errorf("stored scans = %+v", h.store.scans)
		}
	})

	t.Run("no match records the raw input unmatched", func(t *testing.T) {
		h := newHarness(t, defaultOpts())
		resp, err := h.intake.Submit(context.Background(), "nobody here")
		if err != nil {
			t.Fatal(err)
		}
		if !resp.OK || resp.BadgeID != "nobody here" || resp.Matched {
			t.Errorf("resp = %+v", resp)
		}
	})
}

func TestSubmitBadgeLengthLimit(t *testing.T) {
	h := newHarness(t, defaultOpts())
	resp, err := h.intake.Submit(context.Background(), strings.Repeat("9", 65))
	if err != nil {
		t.Fatal(err)
	}
	if resp.OK {
		t.Error("65-character badge accepted")
	}

	// The limit counts characters, not bytes: 64 two-byte runes pass.
	resp, err = h.intake.Submit(context.Background(), strings.Repeat("é", 64))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.OK {
		t.Errorf("64-rune badge rejected: %+v", resp)
	}
}

func TestSubmitDuplicateWindowPassedToStore(t *testing.T) {
	h := newHarness(t, defaultOpts())
	before := time.Now().UTC()
	if _, err := h.intake.Submit(context.Background(), "1001"); err != nil {
		t.Fatal(err)
	}
	since := h.store.lastOpts.DupSince
	if since.IsZero() {
		t.Fatal("DupSince not set")
	}
	elapsed := before.Add(-60 * time.Second)
	if since.Before(elapsed.Add(-time.Second)) || since.After(time.Now().UTC()) {
		t.Errorf("DupSince = %v, want about now-60s", since)
	}
}

func TestSubmitDuplicatePolicies(t *testing.T) {
	t.Run("block suppresses the scan", func(t *testing.T) {
		opts := defaultOpts()
		opts.DupAction = config.DupBlock
		h := newHarness(t, opts)
		h.store.duplicate = true

		resp, err := h.intake.Submit(context.Background(), "1001")
		if err != nil {
			t.Fatal(err)
		}
		if resp.OK || !resp.IsDuplicate {
			t.Errorf("resp = %+v", resp)
		}
		if len(h.store.scans) != 0 {
			t.Error("blocked duplicate was stored")
		}
		if len(h.accepts) != 0 {
			t.Error("blocked duplicate counted as activity")
		}
		if len(h.duplicates) != 1 || !h.duplicates[0].Blocked {
			t.Errorf("alerts = %+v", h.duplicates)
		}
		if !h.store.lastOpts.SkipOnDuplicate {
			t.Error("block policy did not request insert suppression")
		}
	})

	t.Run("warn stores and alerts", func(t *testing.T) {
		h := newHarness(t, defaultOpts())
		h.store.duplicate = true

		resp, err := h.intake.Submit(context.Background(), "1001")
		if err != nil {
			t.Fatal(err)
		}
		if !resp.OK || !resp.IsDuplicate {
			t.Errorf("resp = %+v", resp)
		}
		if len(h.store.scans) != 1 {
			t.Error("warn duplicate not stored")
		}
		if len(h.duplicates) != 1 || h.duplicates[0].Blocked {
			t.Errorf("alerts = %+v", h.duplicates)
		}
		if len(h.accepts) != 1 {
			t.Error("warn duplicate not counted as activity")
		}
	})

	t.Run("silent stores without alert or duplicate flag", func(t *testing.T) {
		opts := defaultOpts()
		opts.DupAction = config.DupSilent
		h := newHarness(t, opts)
		h.store.duplicate = true

		resp, err := h.intake.Submit(context.Background(), "1001")
		if err != nil {
			t.Fatal(err)
		}
		if !resp.OK || resp.IsDuplicate {
			t.Errorf("resp = %+v", resp)
		}
		if len(h.duplicates) != 0 {
			t.Errorf("silent policy alerted: %+v", h.duplicates)
		}
		if len(h.store.scans) != 1 {
			t.Error("silent duplicate not stored")
		}
	})

	t.Run("disabled gating never flags", func(t *testing.T) {
		opts := defaultOpts()
		opts.DupEnabled = false
		h := newHarness(t, opts)

		if _, err := h.intake.Submit(context.Background(), "1001"); err != nil {
			t.Fatal(err)
		}
		if !h.store.lastOpts.DupSince.IsZero() {
			t.Error("window check requested with gating disabled")
		}
	})
}
