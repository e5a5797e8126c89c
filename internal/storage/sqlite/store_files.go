package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quincybrooks/siteslot/internal/snippet"
	"github.com/quincybrooks/siteslot/internal/storage"
)

// GetFile returns a managed file by id.
func (s *Store) GetFile(ctx context.Context, id string) (snippet.ManagedFile, error) {
	if err := ctx.Err(); err != nil {
		return snippet.ManagedFile{}, err
	}
	if s == nil || s.sqlDB == nil {
		return snippet.ManagedFile{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return snippet.ManagedFile{}, fmt.Errorf("file id is required")
	}

	var file snippet.ManagedFile
	var millis int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, content_type, content, updated_at FROM managed_files WHERE id = ?
`, id)
	if err := row.Scan(&file.ID, &file.Name, &file.ContentType, &file.Content, &millis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snippet.ManagedFile{}, storage.ErrNotFound
		}
		return snippet.ManagedFile{}, fmt.Errorf("get file: %w", err)
	}
	file.UpdatedAt = fromMillis(millis)
	return file, nil
}

// PutFile inserts or replaces a managed file record.
func (s *Store) PutFile(ctx context.Context, file snippet.ManagedFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(file.ID) == "" {
		return fmt.Errorf("file id is required")
	}
	if strings.TrimSpace(file.Name) == "" {
		return fmt.Errorf("file name is required")
	}
	if file.UpdatedAt.IsZero() {
		file.UpdatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO managed_files (id, name, content_type, content, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	content_type = excluded.content_type,
	content = excluded.content,
	updated_at = excluded.updated_at
`,
		file.ID,
		file.Name,
		file.ContentType,
		file.Content,
		toMillis(file.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put file: %w", err)
	}
	return nil
}

// DeleteFile removes a managed file record.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("file id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM managed_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListFiles returns every managed file, most recently updated first.
func (s *Store) ListFiles(ctx context.Context) ([]snippet.ManagedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, content_type, content, updated_at FROM managed_files ORDER BY updated_at DESC, id
`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []snippet.ManagedFile
	for rows.Next() {
		var file snippet.ManagedFile
		var millis int64
		if err := rows.Scan(&file.ID, &file.Name, &file.ContentType, &file.Content, &millis); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		file.UpdatedAt = fromMillis(millis)
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}
