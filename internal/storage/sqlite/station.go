package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openbadge/attendd/internal/storage"
)

// Station returns the persisted station identity, or "" when none is set.
func (s *SQLiteStore) Station(ctx context.Context) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, configKeyStation,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading station identity: %w", err)
	}
	return name, nil
}

// SetStation establishes the station identity on first launch. A different
// persisted identity returns ErrStationMismatch; changing a station requires
// the administrative reset.
func (s *SQLiteStore) SetStation(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM config WHERE key = ?`, configKeyStation,
		).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO config (key, value) VALUES (?, ?)`, configKeyStation, name,
			); err != nil {
				return fmt.Errorf("persisting station identity: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("reading station identity: %w", err)
		case existing != name:
			return fmt.Errorf("%w: store belongs to %q, configured as %q", storage.ErrStationMismatch, existing, name)
		default:
			return nil
		}
	})
}

// ClearStation removes the station identity (administrative reset).
func (s *SQLiteStore) ClearStation(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM config WHERE key = ?`, configKeyStation,
		); err != nil {
			return fmt.Errorf("clearing station identity: %w", err)
		}
		return nil
	})
}

// GetMetadata reads an internal metadata value; missing keys return "".
func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata upserts an internal metadata value.
func (s *SQLiteStore) SetMetadata(ctx context.Context, key, value string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metadata (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value,
		); err != nil {
			return fmt.Errorf("writing metadata %q: %w", key, err)
		}
		return nil
	})
}
