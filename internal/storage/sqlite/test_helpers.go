package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openbadge/attendd/internal/storage"
)

// newTestStore opens a fresh store in a temp directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// mustInsert inserts a scan without duplicate gating and fails the test on
// error.
func mustInsert(t *testing.T, s *SQLiteStore, badge, station string, at time.Time) int64 {
	t.Helper()
	scan, _, err := s.InsertScan(context.Background(), badge, station, at, false, storage.InsertOptions{})
	if err != nil {
		t.Fatalf("inserting scan: %v", err)
	}
	return scan.LocalID
}
