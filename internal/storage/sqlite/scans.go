package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/openbadge/attendd/internal/storage"
	"github.com/openbadge/attendd/internal/timefmt"
	"github.com/openbadge/attendd/internal/types"
)

const scanColumns = `local_id, badge_id, station_name, scanned_at, matched, sync_status, idempotency_key, last_error, attempt_count`

// scanRow reads one scans row. Timestamps round-trip through the canonical
// serializer so the write path and the read/compare path can never drift.
func scanRow(row interface{ Scan(...any) error }) (*types.Scan, error) {
	var (
		s         types.Scan
		scannedAt string
		matched   int
		lastErr   sql.NullString
	)
	if err := row.Scan(&s.LocalID, &s.BadgeID, &s.StationName, &scannedAt, &matched,
		&s.SyncStatus, &s.IdempotencyKey, &lastErr, &s.AttemptCount); err != nil {
		return nil, err
	}
	t, err := timefmt.Parse(scannedAt)
	if err != nil {
		return nil, fmt.Errorf("scan %d has corrupt timestamp: %w", s.LocalID, err)
	}
	s.ScannedAt = t
	s.Matched = matched != 0
	s.LastError = lastErr.String
	return &s, nil
}

// InsertScan records a badge event. When opts requests it, the duplicate
// window check runs in the same transaction as the insert so a concurrent
// submission cannot slip between check and write.
func (s *SQLiteStore) InsertScan(ctx context.Context, badgeID, station string, at time.Time, matched bool, opts storage.InsertOptions) (*types.Scan, bool, error) {
	var (
		out       *types.Scan
		duplicate bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if !opts.DupSince.IsZero() {
			// Strictly after: a prior scan exactly window-length ago is not
			// a duplicate.
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM scans WHERE badge_id = ? AND station_name = ? AND scanned_at > ?)`,
				badgeID, station, timefmt.Format(opts.DupSince),
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("duplicate window check: %w", err)
			}
			duplicate = exists != 0
			if duplicate && opts.SkipOnDuplicate {
				return nil
			}
		}

		matchedInt := 0
		if matched {
			matchedInt = 1
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO scans (badge_id, station_name, scanned_at, matched, sync_status) VALUES (?, ?, ?, ?, ?)`,
			badgeID, station, timefmt.Format(at), matchedInt, string(types.StatusPending),
		)
		if err != nil {
			return fmt.Errorf("inserting scan: %w", err)
		}
		localID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading local_id: %w", err)
		}

		key := types.IdempotencyKey(station, badgeID, localID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE scans SET idempotency_key = ? WHERE local_id = ?`, key, localID,
		); err != nil {
			return fmt.Errorf("setting idempotency key: %w", err)
		}

		out = &types.Scan{
			LocalID:        localID,
			BadgeID:        badgeID,
			StationName:    station,
			ScannedAt:      at.UTC().Truncate(time.Millisecond),
			Matched:        matched,
			SyncStatus:     types.StatusPending,
			IdempotencyKey: key,
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, duplicate, nil
}

// FetchPending returns up to limit pending scans, oldest first.
func (s *SQLiteStore) FetchPending(ctx context.Context, limit int) ([]*types.Scan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE sync_status = ? ORDER BY local_id ASC LIMIT ?`,
		string(types.StatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching pending scans: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectScans(rows)
}

// MarkSynced transitions pending scans to synced. Non-pending ids are
// skipped silently.
func (s *SQLiteStore) MarkSynced(ctx context.Context, localIDs []int64) error {
	if len(localIDs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE scans SET sync_status = ?, last_error = NULL WHERE local_id IN (` +
			placeholders(len(localIDs)) + `) AND sync_status = ?`
		args := make([]any, 0, len(localIDs)+2)
		args = append(args, string(types.StatusSynced))
		for _, id := range localIDs {
			args = append(args, id)
		}
		args = append(args, string(types.StatusPending))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("marking synced: %w", err)
		}
		return nil
	})
}

// MarkFailed transitions pending scans to failed, recording the error and
// bumping attempt_count. Non-pending ids are skipped silently.
func (s *SQLiteStore) MarkFailed(ctx context.Context, localIDs []int64, errText string) error {
	if len(localIDs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE scans SET sync_status = ?, last_error = ?, attempt_count = attempt_count + 1 WHERE local_id IN (` +
			placeholders(len(localIDs)) + `) AND sync_status = ?`
		args := make([]any, 0, len(localIDs)+3)
		args = append(args, string(types.StatusFailed), errText)
		for _, id := range localIDs {
			args = append(args, id)
		}
		args = append(args, string(types.StatusPending))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("marking failed: %w", err)
		}
		return nil
	})
}

// CountByStatus returns scan totals per lifecycle state.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (types.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM scans GROUP BY sync_status`)
	if err != nil {
		return types.StatusCounts{}, fmt.Errorf("counting scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts types.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return types.StatusCounts{}, fmt.Errorf("scanning counts: %w", err)
		}
		switch types.SyncStatus(status) {
		case types.StatusPending:
			counts.Pending = n
		case types.StatusSynced:
			counts.Synced = n
		case types.StatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// RecentSameBadge reports whether a scan with this badge and station exists
// strictly after since, the same comparison the insert path's duplicate
// check uses: a scan exactly window-length old is not recent. The since
// bound serializes through the same formatter as the write path, so the
// comparison is byte-exact.
func (s *SQLiteStore) RecentSameBadge(ctx context.Context, badgeID, station string, since time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM scans WHERE badge_id = ? AND station_name = ? AND scanned_at > ?)`,
		badgeID, station, timefmt.Format(since),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("recent-badge check: %w", err)
	}
	return exists != 0, nil
}

// CountSince counts scans recorded at or after since.
func (s *SQLiteStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scans WHERE scanned_at >= ?`, timefmt.Format(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting recent scans: %w", err)
	}
	return n, nil
}

// RecentScans returns the newest scans, most recent first.
func (s *SQLiteStore) RecentScans(ctx context.Context, limit int) ([]*types.Scan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scans ORDER BY local_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching recent scans: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectScans(rows)
}

// AllScans returns every scan oldest-first.
func (s *SQLiteStore) AllScans(ctx context.Context) ([]*types.Scan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scans ORDER BY local_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching scans: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectScans(rows)
}

// ResetFailedToPending is the administrative failed -> pending reset.
// attempt_count history is preserved.
func (s *SQLiteStore) ResetFailedToPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE scans SET sync_status = ?, last_error = NULL WHERE sync_status = ?`,
			string(types.StatusPending), string(types.StatusFailed),
		)
		if err != nil {
			return fmt.Errorf("resetting failed scans: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// PurgeAllScans deletes every scan and restarts local_id numbering. Only
// the administrative station reset calls this.
func (s *SQLiteStore) PurgeAllScans(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scans`); err != nil {
			return fmt.Errorf("purging scans: %w", err)
		}
		// Reset the AUTOINCREMENT counter so a re-provisioned station
		// starts from local_id 1 again.
		if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'scans'`); err != nil {
			return fmt.Errorf("resetting scan sequence: %w", err)
		}
		return nil
	})
}

func collectScans(rows *sql.Rows) ([]*types.Scan, error) {
	var out []*types.Scan
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
