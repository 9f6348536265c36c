package export

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/openbadge/attendd/internal/types"
)

func TestExportWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	e := NewFileExporter(dir)
	e.now = func() time.Time { return time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC) }

	scans := []*types.Scan{
		{
			LocalID:     1,
			BadgeID:     "1001",
			StationName: "Front Desk",
			ScannedAt:   time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
			Matched:     true,
			SyncStatus:  types.StatusSynced,
		},
		{
			LocalID:     2,
			BadgeID:     "1002",
			StationName: "Front Desk",
			ScannedAt:   time.Date(2026, 3, 9, 8, 5, 0, 0, time.UTC),
			SyncStatus:  types.StatusFailed,
			LastError:   "422: bad event",
		},
	}

	dest, err := e.Export(context.Background(), scans)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	file, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var lines []record
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}

	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].BadgeID != "1001" || lines[0].ScannedAt != "2026-03-09T08:00:00.000Z" {
		t.Errorf("line 0 = %+v", lines[0])
	}
	if lines[1].SyncStatus != "failed" || lines[1].LastError != "422: bad event" {
		t.Errorf("line 1 = %+v", lines[1])
	}
}

func TestExportEmptySetStillProducesFile(t *testing.T) {
	e := NewFileExporter(t.TempDir())
	dest, err := e.Export(context.Background(), nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("empty export has %d bytes", info.Size())
	}
}

func TestExportCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/exports"
	e := NewFileExporter(dir)
	if _, err := e.Export(context.Background(), nil); err != nil {
		t.Fatalf("Export: %v", err)
	}
}
