package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quincybrooks/siteslot/internal/snapshot"
	"github.com/quincybrooks/siteslot/internal/storage"
)

// AppendSnapshot atomically inserts a journal entry and prunes rows beyond
// the retention cap. Insert and prune run in one transaction so a successful
// append always leaves the journal within bounds.
func (s *Store) AppendSnapshot(ctx context.Context, entry snapshot.Entry, retain int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(string(entry.Action)) == "" {
		return 0, fmt.Errorf("action is required")
	}
	if entry.Payload.Kind == "" {
		return 0, fmt.Errorf("payload kind is required")
	}
	retain = snapshot.ClampRetention(retain)

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot payload: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
INSERT INTO snapshots (timestamp, actor_id, actor_name, action, location, subject_key, payload_json, summary, size)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		toMillis(entry.Timestamp),
		entry.Actor.ID,
		entry.Actor.DisplayName,
		string(entry.Action),
		entry.Location,
		entry.SubjectKey,
		string(payloadJSON),
		entry.Summary,
		entry.Size,
	)
	if err != nil {
		return 0, fmt.Errorf("append snapshot: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	// FIFO pruning by id: find the Nth-most-recent id and bulk-delete below it.
	var cutoff int64
	row := tx.QueryRowContext(ctx, `
SELECT id FROM snapshots ORDER BY id DESC LIMIT 1 OFFSET ?
`, retain-1)
	switch err := row.Scan(&cutoff); {
	case errors.Is(err, sql.ErrNoRows):
		// Fewer than retain entries; nothing to prune.
	case err != nil:
		return 0, fmt.Errorf("find prune cutoff: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id < ?`, cutoff); err != nil {
			return 0, fmt.Errorf("prune snapshots: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return id, nil
}

// ListSnapshots returns journal entries newest-first by id. Filters are
// conjunctive when both are present.
func (s *Store) ListSnapshots(ctx context.Context, filter storage.SnapshotFilter, limit, offset int) ([]snapshot.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must not be negative")
	}

	whereParts := []string{"1=1"}
	args := []any{}
	if filter.Location != "" {
		whereParts = append(whereParts, "location = ?")
		args = append(args, filter.Location)
	}
	if filter.SubjectKey != "" {
		whereParts = append(whereParts, "subject_key = ?")
		args = append(args, filter.SubjectKey)
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
SELECT id, timestamp, actor_id, actor_name, action, location, subject_key, payload_json, summary, size
FROM snapshots
WHERE %s
ORDER BY id DESC
LIMIT ? OFFSET ?
`, strings.Join(whereParts, " AND "))

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var entries []snapshot.Entry
	for rows.Next() {
		entry, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return entries, nil
}

// GetSnapshot returns one journal entry by id.
func (s *Store) GetSnapshot(ctx context.Context, id int64) (snapshot.Entry, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Entry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return snapshot.Entry{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, timestamp, actor_id, actor_name, action, location, subject_key, payload_json, summary, size
FROM snapshots
WHERE id = ?
`, id)
	entry, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Entry{}, storage.ErrNotFound
		}
		return snapshot.Entry{}, err
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (snapshot.Entry, error) {
	var entry snapshot.Entry
	var millis int64
	var action, payloadJSON string
	if err := row.Scan(
		&entry.ID,
		&millis,
		&entry.Actor.ID,
		&entry.Actor.DisplayName,
		&action,
		&entry.Location,
		&entry.SubjectKey,
		&payloadJSON,
		&entry.Summary,
		&entry.Size,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Entry{}, err
		}
		return snapshot.Entry{}, fmt.Errorf("scan snapshot: %w", err)
	}
	entry.Timestamp = fromMillis(millis)
	entry.Action = snapshot.Action(action)
	if err := json.Unmarshal([]byte(payloadJSON), &entry.Payload); err != nil {
		return snapshot.Entry{}, fmt.Errorf("decode snapshot payload: %w", err)
	}
	return entry, nil
}
