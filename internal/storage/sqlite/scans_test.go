package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/openbadge/attendd/internal/storage"
	"github.com/openbadge/attendd/internal/types"
)

var testTime = time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

func TestInsertScanAssignsMonotonicIDsAndKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		scan, dup, err := s.InsertScan(ctx, "1001", "Front Desk", testTime.Add(time.Duration(i)*time.Minute), true, storage.InsertOptions{})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if dup {
			t.Fatalf("insert %d flagged duplicate without a window", i)
		}
		if scan.LocalID <= prev {
			t.Fatalf("local_id %d not greater than %d", scan.LocalID, prev)
		}
		prev = scan.LocalID

		want := types.IdempotencyKey("Front Desk", "1001", scan.LocalID)
		if scan.IdempotencyKey != want {
			t.Errorf("idempotency key = %q, want %q", scan.IdempotencyKey, want)
		}
		if scan.SyncStatus != types.StatusPending {
			t.Errorf("new scan status = %q, want pending", scan.SyncStatus)
		}
	}
}

func TestInsertScanDuplicateWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	window := 60 * time.Second

	mustInsert(t, s, "1001", "Front Desk", testTime)

	t.Run("inside window is duplicate", func(t *testing.T) {
		at := testTime.Add(window - time.Second)
		_, dup, err := s.InsertScan(ctx, "1001", "Front Desk", at, false,
			storage.InsertOptions{DupSince: at.Add(-window)})
		if err != nil {
			t.Fatal(err)
		}
		if !dup {
			t.Error("scan inside window not flagged duplicate")
		}
	})

	t.Run("exactly window later is not duplicate", func(t *testing.T) {
		at := testTime.Add(window)
		_, dup, err := s.InsertScan(ctx, "9001", "Front Desk", testTime, false, storage.InsertOptions{})
		if err != nil || dup {
			t.Fatalf("setup insert: dup=%t err=%v", dup, err)
		}
		_, dup, err = s.InsertScan(ctx, "9001", "Front Desk", at, false,
			storage.InsertOptions{DupSince: at.Add(-window)})
		if err != nil {
			t.Fatal(err)
		}
		if dup {
			t.Error("scan at window boundary flagged duplicate")
		}
	})

	t.Run("different badge is not duplicate", func(t *testing.T) {
		at := testTime.Add(time.Second)
		_, dup, err := s.InsertScan(ctx, "2002", "Front Desk", at, false,
			storage.InsertOptions{DupSince: at.Add(-window)})
		if err != nil {
			t.Fatal(err)
		}
		if dup {
			t.Error("different badge flagged duplicate")
		}
	})

	t.Run("different station is not duplicate", func(t *testing.T) {
		at := testTime.Add(2 * time.Second)
		_, dup, err := s.InsertScan(ctx, "1001", "Gym Door", at, false,
			storage.InsertOptions{DupSince: at.Add(-window)})
		if err != nil {
			t.Fatal(err)
		}
		if dup {
			t.Error("different station flagged duplicate")
		}
	})
}

func TestInsertScanSkipOnDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, "1001", "Front Desk", testTime)
	at := testTime.Add(10 * time.Second)
	scan, dup, err := s.InsertScan(ctx, "1001", "Front Desk", at, false,
		storage.InsertOptions{DupSince: at.Add(-time.Minute), SkipOnDuplicate: true})
	if err != nil {
		t.Fatal(err)
	}
	if !dup {
		t.Error("duplicate not flagged")
	}
	if scan != nil {
		t.Errorf("blocked duplicate still inserted: %+v", scan)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Total() != 1 {
		t.Errorf("total = %d, want 1 (block suppresses insert)", counts.Total())
	}
}

func TestLifecycleTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsert(t, s, "1001", "Front Desk", testTime)
	b := mustInsert(t, s, "1002", "Front Desk", testTime.Add(time.Second))
	c := mustInsert(t, s, "1003", "Front Desk", testTime.Add(2*time.Second))

	if err := s.MarkSynced(ctx, []int64{a}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, []int64{b}, "422: bad payload"); err != nil {
		t.Fatal(err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Pending != 1 || counts.Synced != 1 || counts.Failed != 1 {
		t.Fatalf("counts = %+v", counts)
	}

	t.Run("synced is terminal", func(t *testing.T) {
		if err := s.MarkFailed(ctx, []int64{a}, "should not apply"); err != nil {
			t.Fatal(err)
		}
		counts, _ := s.CountByStatus(ctx)
		if counts.Synced != 1 {
			t.Errorf("synced scan transitioned away: %+v", counts)
		}
	})

	t.Run("failed is not re-synced by upload path", func(t *testing.T) {
		if err := s.MarkSynced(ctx, []int64{b}); err != nil {
			t.Fatal(err)
		}
		counts, _ := s.CountByStatus(ctx)
		if counts.Failed != 1 {
			t.Errorf("failed scan transitioned away: %+v", counts)
		}
	})

	t.Run("fetch pending returns oldest first", func(t *testing.T) {
		pending, err := s.FetchPending(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].LocalID != c {
			t.Errorf("pending = %+v", pending)
		}
	})

	t.Run("failed carries error and attempt count", func(t *testing.T) {
		scans, err := s.AllScans(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for _, scan := range scans {
			if scan.LocalID != b {
				continue
			}
			if scan.LastError != "422: bad payload" {
				t.Errorf("last_error = %q", scan.LastError)
			}
			if scan.AttemptCount != 1 {
				t.Errorf("attempt_count = %d, want 1", scan.AttemptCount)
			}
		}
	})
}

func TestResetFailedToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsert(t, s, "1001", "Front Desk", testTime)
	b := mustInsert(t, s, "1002", "Front Desk", testTime.Add(time.Second))
	if err := s.MarkFailed(ctx, []int64{a, b}, "boom"); err != nil {
		t.Fatal(err)
	}

	n, err := s.ResetFailedToPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("reset %d scans, want 2", n)
	}

	scans, err := s.FetchPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 2 {
		t.Fatalf("pending after reset = %d", len(scans))
	}
	for _, scan := range scans {
		if scan.LastError != "" {
			t.Errorf("reset scan %d keeps last_error %q", scan.LocalID, scan.LastError)
		}
		// attempt history survives the reset
		if scan.AttemptCount != 1 {
			t.Errorf("reset scan %d attempt_count = %d, want 1", scan.LocalID, scan.AttemptCount)
		}
	}
}

func TestPurgeAllScansRestartsNumbering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, "1001", "Front Desk", testTime)
	mustInsert(t, s, "1002", "Front Desk", testTime.Add(time.Second))

	if err := s.PurgeAllScans(ctx); err != nil {
		t.Fatal(err)
	}
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Total() != 0 {
		t.Fatalf("counts after purge = %+v", counts)
	}

	id := mustInsert(t, s, "1003", "Front Desk", testTime.Add(time.Minute))
	if id != 1 {
		t.Errorf("first local_id after purge = %d, want 1", id)
	}
}

func TestRecentAndCountQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		mustInsert(t, s, "1001", "Front Desk", testTime.Add(time.Duration(i)*time.Hour))
	}

	t.Run("recent scans newest first", func(t *testing.T) {
		recent, err := s.RecentScans(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(recent) != 2 {
			t.Fatalf("recent = %d scans", len(recent))
		}
		if !recent[0].ScannedAt.After(recent[1].ScannedAt) {
			t.Errorf("recent not newest first: %v then %v", recent[0].ScannedAt, recent[1].ScannedAt)
		}
	})

	t.Run("count since boundary is inclusive", func(t *testing.T) {
		n, err := s.CountSince(ctx, testTime.Add(2*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("CountSince = %d, want 2", n)
		}
	})

	t.Run("recent same badge boundary is exclusive", func(t *testing.T) {
		found, err := s.RecentSameBadge(ctx, "1001", "Front Desk", testTime.Add(3*time.Hour).Add(-time.Millisecond))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Error("scan inside the window not found")
		}
		// A scan exactly at the bound is window-length old: not recent,
		// matching the insert path's duplicate comparison.
		found, err = s.RecentSameBadge(ctx, "1001", "Front Desk", testTime.Add(3*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Error("scan exactly at the bound reported as recent")
		}
	})
}
