// Package export writes day reports at shutdown: one JSON object per line so
// downstream tooling can stream the file without loading it whole.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openbadge/attendd/internal/timefmt"
	"github.com/openbadge/attendd/internal/types"
)

// Exporter writes a set of scans somewhere and reports the destination.
type Exporter interface {
	Export(ctx context.Context, scans []*types.Scan) (dest string, err error)
}

// record is the JSONL line shape.
type record struct {
	LocalID     int64  `json:"local_id"`
	BadgeID     string `json:"badge_id"`
	StationName string `json:"station_name"`
	ScannedAt   string `json:"scanned_at"`
	Matched     bool   `json:"matched"`
	SyncStatus  string `json:"sync_status"`
	LastError   string `json:"last_error,omitempty"`
}

// FileExporter writes JSONL day reports into a directory, one file per run,
// named attendance-<date>-<unix>.jsonl to keep repeated runs from clobbering
// each other.
type FileExporter struct {
	Dir string

	// now is swapped out by tests.
	now func() time.Time
}

// NewFileExporter creates an exporter writing into dir.
func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{Dir: dir, now: time.Now}
}

// Export writes scans as JSONL and returns the file path. A nil or empty
// slice still produces a file so operators can tell "ran, nothing to report"
// from "never ran".
func (f *FileExporter) Export(ctx context.Context, scans []*types.Scan) (string, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	now := f.now().UTC()
	name := fmt.Sprintf("attendance-%s-%d.jsonl", now.Format("2006-01-02"), now.Unix())
	path := filepath.Join(f.Dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, s := range scans {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rec := record{
			LocalID:     s.LocalID,
			BadgeID:     s.BadgeID,
			StationName: s.StationName,
			ScannedAt:   timefmt.Format(s.ScannedAt),
			Matched:     s.Matched,
			SyncStatus:  string(s.SyncStatus),
			LastError:   s.LastError,
		}
		if err := enc.Encode(rec); err != nil {
			return "", fmt.Errorf("encoding export record %d: %w", s.LocalID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flushing export file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("syncing export file: %w", err)
	}
	return path, nil
}
