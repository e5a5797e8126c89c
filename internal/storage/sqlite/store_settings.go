package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/quincybrooks/siteslot/internal/snapshot"
)

const retentionKey = "snapshot_retention"

// GetRetention returns the configured journal retention cap, defaulting when
// unset and clamping stored values into the supported bounds.
func (s *Store) GetRetention(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var value string
	row := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, retentionKey)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.RetentionDefault, nil
		}
		return 0, fmt.Errorf("get retention: %w", err)
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("decode retention: %w", err)
	}
	return snapshot.ClampRetention(parsed), nil
}

// PutRetention stores the journal retention cap.
func (s *Store) PutRetention(ctx context.Context, cap int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if cap < snapshot.RetentionMin || cap > snapshot.RetentionMax {
		return fmt.Errorf("retention cap must be between %d and %d", snapshot.RetentionMin, snapshot.RetentionMax)
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
`, retentionKey, strconv.Itoa(cap))
	if err != nil {
		return fmt.Errorf("put retention: %w", err)
	}
	return nil
}
