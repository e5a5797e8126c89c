package storage

import (
	"context"
	"errors"

	"github.com/quincybrooks/siteslot/internal/snapshot"
	"github.com/quincybrooks/siteslot/internal/snippet"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// LocationStore persists the current configuration for each named location.
// A location that has never been written reads as the empty default.
type LocationStore interface {
	GetLocation(ctx context.Context, location snippet.Location) (snippet.Config, error)
	PutLocation(ctx context.Context, location snippet.Location, config snippet.Config) error
}

// SnapshotFilter narrows a journal listing. Zero fields are ignored; when
// both are set they are conjunctive.
type SnapshotFilter struct {
	Location   string
	SubjectKey string
}

// SnapshotStore is the append-only change journal. Entries are never mutated;
// the only deletion path is retention pruning.
type SnapshotStore interface {
	// AppendSnapshot inserts the entry, assigns its id, and prunes entries
	// beyond the retention cap in the same logical operation.
	AppendSnapshot(ctx context.Context, entry snapshot.Entry, retain int) (int64, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter, limit, offset int) ([]snapshot.Entry, error)
	GetSnapshot(ctx context.Context, id int64) (snapshot.Entry, error)
}

// FileStore persists managed standalone files.
type FileStore interface {
	GetFile(ctx context.Context, id string) (snippet.ManagedFile, error)
	PutFile(ctx context.Context, file snippet.ManagedFile) error
	DeleteFile(ctx context.Context, id string) error
	ListFiles(ctx context.Context) ([]snippet.ManagedFile, error)
}

// SettingsStore holds the retention cap and related tunables.
type SettingsStore interface {
	GetRetention(ctx context.Context) (int, error)
	PutRetention(ctx context.Context, cap int) error
}

// Store is a composite interface for every persistence concern.
type Store interface {
	LocationStore
	SnapshotStore
	FileStore
	SettingsStore
	Close() error
}
