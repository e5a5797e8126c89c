// Package service exposes the operator-facing operations: reads, validated
// writes through the pipeline, journal history, restores, and the read-side
// injection evaluation.
package service

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quincybrooks/siteslot/internal/pipeline"
	apperrors "github.com/quincybrooks/siteslot/internal/platform/errors"
	"github.com/quincybrooks/siteslot/internal/platform/requestctx"
	"github.com/quincybrooks/siteslot/internal/rules"
	"github.com/quincybrooks/siteslot/internal/snapshot"
	"github.com/quincybrooks/siteslot/internal/snippet"
	"github.com/quincybrooks/siteslot/internal/storage"
)

// RestoreScope is the integrity token scope for restore operations.
const RestoreScope = "restore"

// SettingsScope is the integrity token scope for settings writes.
const SettingsScope = "settings"

// Service is the operator-facing facade. Validated writes flow through the
// pipeline; restores are trusted writes that bypass sanitation and never
// stamp the rate limiter.
type Service struct {
	pipeline   *pipeline.Pipeline
	store      storage.Store
	capability pipeline.CapabilityChecker
	integrity  pipeline.IntegrityVerifier
	now        func() time.Time
	tracer     trace.Tracer
}

// New assembles the facade. now may be nil to use the wall clock.
func New(p *pipeline.Pipeline, store storage.Store, capability pipeline.CapabilityChecker, integrity pipeline.IntegrityVerifier, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		pipeline:   p,
		store:      store,
		capability: capability,
		integrity:  integrity,
		now:        now,
		tracer:     otel.Tracer("github.com/quincybrooks/siteslot/internal/service"),
	}
}

func (s *Service) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// GetContent returns the stored configuration for a location. Unknown
// locations are rejected; an empty configuration is returned for locations
// never written to.
func (s *Service) GetContent(ctx context.Context, location snippet.Location) (snippet.Config, error) {
	ctx, span := s.span(ctx, "service.GetContent", attribute.String("location", string(location)))
	defer span.End()

	if !snippet.ValidLocation(string(location)) {
		return snippet.Config{}, apperrors.New(apperrors.CodeInvalidLocation, "unknown location "+string(location))
	}
	config, err := s.store.GetLocation(ctx, location)
	if err != nil {
		span.RecordError(err)
		return snippet.Config{}, apperrors.Wrap(apperrors.CodeStorageFailure, "load configuration", err)
	}
	return config, nil
}

// SetContent runs a validated content write through the pipeline.
func (s *Service) SetContent(ctx context.Context, input pipeline.ContentInput) (pipeline.Result, error) {
	ctx, span := s.span(ctx, "service.SetContent", attribute.String("location", string(input.Location)))
	defer span.End()

	result, err := s.pipeline.SetContent(ctx, input)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// GetLinkedItems returns the stored item list for a location.
func (s *Service) GetLinkedItems(ctx context.Context, location snippet.Location) ([]snippet.LinkedItem, error) {
	config, err := s.GetContent(ctx, location)
	if err != nil {
		return nil, err
	}
	return config.Items, nil
}

// SetLinkedItems runs a validated item list write through the pipeline.
func (s *Service) SetLinkedItems(ctx context.Context, input pipeline.ItemsInput) (pipeline.Result, error) {
	ctx, span := s.span(ctx, "service.SetLinkedItems", attribute.String("location", string(input.Location)))
	defer span.End()

	result, err := s.pipeline.SetItems(ctx, input)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// History lists journal entries newest first, optionally filtered by
// location or subject key. A non-positive limit reads a full retention
// window.
func (s *Service) History(ctx context.Context, filter storage.SnapshotFilter, limit, offset int) ([]snapshot.Entry, error) {
	ctx, span := s.span(ctx, "service.History")
	defer span.End()

	if limit <= 0 {
		limit = snapshot.RetentionMax
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.store.ListSnapshots(ctx, filter, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list snapshots", err)
	}
	return entries, nil
}

// RestoreInput identifies the journal entry to restore and who asked for it.
// Kind states what the caller intends to restore; the restore is refused when
// the entry holds a different payload kind.
type RestoreInput struct {
	Actor          requestctx.Actor
	IntegrityToken string
	SnapshotID     int64
	Kind           snapshot.PayloadKind
}

// Restore re-applies a journaled state. This is a trusted write: the payload
// was validated when journaled, so sanitation is skipped and the rate
// limiter is never stamped. A restore appends its own journal entry.
func (s *Service) Restore(ctx context.Context, input RestoreInput) (snapshot.Entry, error) {
	ctx, span := s.span(ctx, "service.Restore", attribute.Int64("snapshot.id", input.SnapshotID))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return snapshot.Entry{}, err
	}
	if s.capability == nil || !s.capability.Authorize(input.Actor) {
		return snapshot.Entry{}, apperrors.New(apperrors.CodeUnauthorized, "actor lacks the manage capability")
	}
	if s.integrity == nil || !s.integrity.Verify(input.IntegrityToken, RestoreScope) {
		return snapshot.Entry{}, apperrors.New(apperrors.CodeIntegrityCheck, "integrity token is missing or invalid")
	}
	switch input.Kind {
	case snapshot.KindContent, snapshot.KindItems, snapshot.KindFile:
	default:
		return snapshot.Entry{}, apperrors.New(apperrors.CodeSnapshotShapeMismatch, "unknown restore kind "+string(input.Kind))
	}

	entry, err := s.store.GetSnapshot(ctx, input.SnapshotID)
	if err != nil {
		if err == storage.ErrNotFound {
			return snapshot.Entry{}, apperrors.New(apperrors.CodeSnapshotNotFound, "snapshot not found")
		}
		span.RecordError(err)
		return snapshot.Entry{}, apperrors.Wrap(apperrors.CodeStorageFailure, "load snapshot", err)
	}

	if entry.Payload.Kind != input.Kind {
		return snapshot.Entry{}, apperrors.WithMetadata(apperrors.CodeSnapshotShapeMismatch,
			"snapshot holds a different payload kind than requested", map[string]string{
				"requested": string(input.Kind),
				"stored":    string(entry.Payload.Kind),
			})
	}

	switch entry.Payload.Kind {
	case snapshot.KindContent:
		if entry.Payload.Content == nil {
			return snapshot.Entry{}, apperrors.New(apperrors.CodeSnapshotShapeMismatch, "content entry has no content payload")
		}
		if err := s.restoreContent(ctx, entry); err != nil {
			span.RecordError(err)
			return snapshot.Entry{}, err
		}
	case snapshot.KindItems:
		if err := s.restoreItems(ctx, entry); err != nil {
			span.RecordError(err)
			return snapshot.Entry{}, err
		}
	case snapshot.KindFile:
		if entry.Payload.File == nil {
			return snapshot.Entry{}, apperrors.New(apperrors.CodeSnapshotShapeMismatch, "file entry has no file payload")
		}
		if err := s.restoreFile(ctx, entry); err != nil {
			span.RecordError(err)
			return snapshot.Entry{}, err
		}
	default:
		return snapshot.Entry{}, apperrors.New(apperrors.CodeSnapshotShapeMismatch, "unknown payload kind "+string(entry.Payload.Kind))
	}

	restored := snapshot.Entry{
		Timestamp:  s.now(),
		Actor:      snapshot.Actor{ID: input.Actor.ID, DisplayName: input.Actor.DisplayName},
		Action:     entry.Action.RestoreAction(),
		Location:   entry.Location,
		SubjectKey: entry.SubjectKey,
		Payload:    entry.Payload,
		Summary:    entry.Summary + " (restored)",
		Size:       entry.Size,
	}
	retain, err := s.store.GetRetention(ctx)
	if err != nil {
		retain = snapshot.RetentionDefault
	}
	id, err := s.store.AppendSnapshot(ctx, restored, retain)
	if err != nil {
		span.RecordError(err)
		return snapshot.Entry{}, apperrors.Wrap(apperrors.CodeStorageFailure, "journal restore", err)
	}
	restored.ID = id
	return restored, nil
}

func (s *Service) restoreContent(ctx context.Context, entry snapshot.Entry) error {
	location := snippet.Location(entry.Location)
	current, err := s.store.GetLocation(ctx, location)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "load configuration", err)
	}
	current.Content = entry.Payload.Content.Content
	current.Rules = entry.Payload.Content.Rules
	if err := s.store.PutLocation(ctx, location, current); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "restore configuration", err)
	}
	return nil
}

func (s *Service) restoreItems(ctx context.Context, entry snapshot.Entry) error {
	location := snippet.Location(entry.Location)
	current, err := s.store.GetLocation(ctx, location)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "load configuration", err)
	}
	current.Items = entry.Payload.Items
	if err := s.store.PutLocation(ctx, location, current); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "restore items", err)
	}
	return nil
}

func (s *Service) restoreFile(ctx context.Context, entry snapshot.Entry) error {
	file := snippet.ManagedFile{
		ID:          entry.SubjectKey,
		Name:        entry.Payload.File.Name,
		ContentType: entry.Payload.File.ContentType,
		Content:     entry.Payload.File.Content,
		UpdatedAt:   s.now(),
	}
	if err := s.store.PutFile(ctx, file); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "restore file", err)
	}
	return nil
}

// GetManagedFile returns a managed file by id.
func (s *Service) GetManagedFile(ctx context.Context, fileID string) (snippet.ManagedFile, error) {
	ctx, span := s.span(ctx, "service.GetManagedFile", attribute.String("file.id", fileID))
	defer span.End()

	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		if err == storage.ErrNotFound {
			return snippet.ManagedFile{}, apperrors.New(apperrors.CodeFileNotFound, "file "+fileID+" not found")
		}
		span.RecordError(err)
		return snippet.ManagedFile{}, apperrors.Wrap(apperrors.CodeStorageFailure, "load file", err)
	}
	return file, nil
}

// ListManagedFiles returns all managed files.
func (s *Service) ListManagedFiles(ctx context.Context) ([]snippet.ManagedFile, error) {
	ctx, span := s.span(ctx, "service.ListManagedFiles")
	defer span.End()

	files, err := s.store.ListFiles(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list files", err)
	}
	return files, nil
}

// SetManagedFile runs a validated file write through the pipeline.
func (s *Service) SetManagedFile(ctx context.Context, input pipeline.FileInput) (pipeline.FileResult, error) {
	ctx, span := s.span(ctx, "service.SetManagedFile", attribute.String("file.id", input.FileID))
	defer span.End()

	result, err := s.pipeline.SetFile(ctx, input)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// DeleteManagedFile removes a managed file through the pipeline gates.
func (s *Service) DeleteManagedFile(ctx context.Context, request pipeline.Request, fileID string) (int64, error) {
	ctx, span := s.span(ctx, "service.DeleteManagedFile", attribute.String("file.id", fileID))
	defer span.End()

	id, err := s.pipeline.DeleteFile(ctx, request, fileID)
	if err != nil {
		span.RecordError(err)
	}
	return id, err
}

// Retention returns the configured journal retention cap.
func (s *Service) Retention(ctx context.Context) (int, error) {
	cap, err := s.store.GetRetention(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, "load retention", err)
	}
	return cap, nil
}

// SetRetention updates the journal retention cap. The change applies to
// future appends; existing entries are not pruned until the next write.
func (s *Service) SetRetention(ctx context.Context, actor requestctx.Actor, integrityToken string, cap int) error {
	ctx, span := s.span(ctx, "service.SetRetention", attribute.Int("retention", cap))
	defer span.End()

	if s.capability == nil || !s.capability.Authorize(actor) {
		return apperrors.New(apperrors.CodeUnauthorized, "actor lacks the manage capability")
	}
	if s.integrity == nil || !s.integrity.Verify(integrityToken, SettingsScope) {
		return apperrors.New(apperrors.CodeIntegrityCheck, "integrity token is missing or invalid")
	}
	if cap < snapshot.RetentionMin || cap > snapshot.RetentionMax {
		return apperrors.WithMetadata(apperrors.CodeInvalidRetentionCap, "retention cap out of bounds", map[string]string{
			"min": strconv.Itoa(snapshot.RetentionMin),
			"max": strconv.Itoa(snapshot.RetentionMax),
		})
	}
	if err := s.store.PutRetention(ctx, cap); err != nil {
		span.RecordError(err)
		return apperrors.Wrap(apperrors.CodeStorageFailure, "store retention", err)
	}
	return nil
}

// Injection is the render-ready output for one location.
type Injection struct {
	Location snippet.Location `json:"location"`
	// Content is the inline content when its rule set matches, empty
	// otherwise.
	Content string `json:"content,omitempty"`
	// URLs lists matching linked item URLs in stored order.
	URLs []string `json:"urls,omitempty"`
}

// InjectableItems evaluates every location's rules against a view context
// and returns what should be emitted. Read side only; no gates apply.
func (s *Service) InjectableItems(ctx context.Context, view rules.ViewContext) ([]Injection, error) {
	ctx, span := s.span(ctx, "service.InjectableItems")
	defer span.End()

	injections := make([]Injection, 0, len(snippet.Locations()))
	for _, location := range snippet.Locations() {
		config, err := s.store.GetLocation(ctx, location)
		if err != nil {
			span.RecordError(err)
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "load configuration", err)
		}
		injection := Injection{Location: location}
		if config.Content != "" && rules.Evaluate(config.Rules, view) {
			injection.Content = config.Content
		}
		for _, item := range config.Items {
			if rules.Evaluate(item.Rules, view) {
				injection.URLs = append(injection.URLs, item.URL)
			}
		}
		injections = append(injections, injection)
	}
	return injections, nil
}
