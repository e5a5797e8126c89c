// Package pipeline implements the multi-gate validation pipeline for writes.
// Gates run strictly in order: capability, integrity token, rate limit,
// content sanitation, rule-set structural validation. The first failing gate
// short-circuits and leaves the previous configuration untouched. On success
// the pipeline persists the normalized configuration, appends a snapshot
// journal entry for what actually changed, and stamps the rate limiter.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	apperrors "github.com/quincybrooks/siteslot/internal/platform/errors"
	"github.com/quincybrooks/siteslot/internal/platform/requestctx"
	"github.com/quincybrooks/siteslot/internal/rules"
	"github.com/quincybrooks/siteslot/internal/snapshot"
	"github.com/quincybrooks/siteslot/internal/snippet"
	"github.com/quincybrooks/siteslot/internal/storage"
)

// CapabilityChecker is the external authorization predicate.
type CapabilityChecker interface {
	Authorize(actor requestctx.Actor) bool
}

// IntegrityVerifier validates a write token against a scope.
type IntegrityVerifier interface {
	Verify(token, scope string) bool
}

// RateLimiter is the per-(actor, location) cooldown gate.
type RateLimiter interface {
	IsLimited(actorID, location string) (time.Duration, bool, error)
	Record(actorID, location string) error
}

// Memo is the short-lived idempotency memo keyed by correlation token.
type Memo interface {
	Get(token string) ([]byte, bool, error)
	Put(token string, result []byte) error
}

// Pipeline wires the gates to storage. All dependencies are injected; there
// is no package-level state.
type Pipeline struct {
	Locations  storage.LocationStore
	Snapshots  storage.SnapshotStore
	Settings   storage.SettingsStore
	Files      storage.FileStore
	Capability CapabilityChecker
	Integrity  IntegrityVerifier
	Limiter    RateLimiter
	Memo       Memo
	Now        func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Request carries the caller identity and the tokens every write presents.
type Request struct {
	Actor requestctx.Actor
	// IntegrityToken must validate against the scope being written.
	IntegrityToken string
	// CorrelationToken deduplicates repeated callbacks within one logical
	// submission. Empty disables the idempotency memo.
	CorrelationToken string
}

// ContentInput is a proposed inline content write.
type ContentInput struct {
	Request
	Location snippet.Location
	Content  string
	// Rules is nil to keep the stored rule set unchanged.
	Rules *rules.RawRuleSet
}

// ItemsInput is a proposed linked item list write.
type ItemsInput struct {
	Request
	Location snippet.Location
	// RawItems is the submitted JSON item list.
	RawItems []byte
}

// FileInput is a proposed managed file write.
type FileInput struct {
	Request
	FileID      string
	Name        string
	ContentType string
	Content     []byte
}

// Result is the outcome of an accepted location write.
type Result struct {
	Config     snippet.Config `json:"config"`
	Warnings   []string       `json:"warnings,omitempty"`
	SnapshotID int64          `json:"snapshot_id,omitempty"`
}

// FileResult is the outcome of an accepted managed file write.
type FileResult struct {
	File       snippet.ManagedFile `json:"file"`
	Warnings   []string            `json:"warnings,omitempty"`
	SnapshotID int64               `json:"snapshot_id,omitempty"`
}

// gate runs the shared leading gates: capability, integrity, rate limit.
// scope is the integrity token scope; limiterKey buckets the cooldown.
func (p *Pipeline) gate(request Request, scope, limiterKey string) error {
	if p.Capability == nil || !p.Capability.Authorize(request.Actor) {
		// Silent rejection: no state change, no journal entry.
		return apperrors.New(apperrors.CodeUnauthorized, "actor lacks the manage capability")
	}

	if p.Integrity == nil || !p.Integrity.Verify(request.IntegrityToken, scope) {
		return apperrors.New(apperrors.CodeIntegrityCheck, "integrity token is missing or invalid")
	}

	if p.Limiter != nil {
		remaining, limited, err := p.Limiter.IsLimited(request.Actor.ID, limiterKey)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeStorageFailure, "check rate limit", err)
		}
		if limited {
			return apperrors.WithMetadata(apperrors.CodeRateLimited, "write cooldown is active", map[string]string{
				"retry_after": strconv.FormatInt(int64(remaining.Seconds())+1, 10),
			})
		}
	}
	return nil
}

// SetContent validates and persists an inline content write.
func (p *Pipeline) SetContent(ctx context.Context, input ContentInput) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !snippet.ValidLocation(string(input.Location)) {
		return Result{}, apperrors.New(apperrors.CodeInvalidLocation, "unknown location "+string(input.Location))
	}

	if result, found, err := p.memoizedResult(input.CorrelationToken); err != nil {
		return Result{}, err
	} else if found {
		return result, nil
	}

	if err := p.gate(input.Request, string(input.Location), string(input.Location)); err != nil {
		return Result{}, err
	}

	clean, warnings, err := snippet.Sanitize(input.Content)
	if err != nil {
		return Result{}, err
	}

	previous, err := p.Locations.GetLocation(ctx, input.Location)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeStorageFailure, "load previous configuration", err)
	}

	next := previous
	next.Content = clean
	if input.Rules != nil {
		normalized, ruleWarnings := rules.Normalize(*input.Rules)
		warnings = append(warnings, ruleWarnings...)
		next.Rules = normalized
	}

	changed := next.Content != previous.Content || !rules.Equal(next.Rules, previous.Rules)

	result := Result{Config: next, Warnings: warnings}
	if changed {
		if err := p.Locations.PutLocation(ctx, input.Location, next); err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeStorageFailure, "persist configuration", err)
		}
		entry := snapshot.Entry{
			Timestamp: p.now(),
			Actor:     snapshot.Actor{ID: input.Actor.ID, DisplayName: input.Actor.DisplayName},
			Action:    snapshot.ActionContentUpdated,
			Location:  string(input.Location),
			Payload: snapshot.Payload{
				Kind:    snapshot.KindContent,
				Content: &snapshot.ContentPayload{Content: next.Content, Rules: next.Rules},
			},
			Summary: fmt.Sprintf("%s content updated (%d bytes)", input.Location, len(next.Content)),
			Size:    int64(len(next.Content)),
		}
		result.SnapshotID = p.appendEntry(ctx, entry)
	}

	p.stampAndMemoize(input.Request, string(input.Location), result)
	return result, nil
}

// SetItems validates and persists a linked item list write.
func (p *Pipeline) SetItems(ctx context.Context, input ItemsInput) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !snippet.ValidLocation(string(input.Location)) {
		return Result{}, apperrors.New(apperrors.CodeInvalidLocation, "unknown location "+string(input.Location))
	}

	if result, found, err := p.memoizedResult(input.CorrelationToken); err != nil {
		return Result{}, err
	} else if found {
		return result, nil
	}

	if err := p.gate(input.Request, string(input.Location), string(input.Location)); err != nil {
		return Result{}, err
	}

	items, warnings, err := snippet.ParseLinkedItems(input.RawItems)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeInvalidLinkedItem, err.Error(), err)
	}

	previous, err := p.Locations.GetLocation(ctx, input.Location)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeStorageFailure, "load previous configuration", err)
	}

	next := previous
	next.Items = items

	result := Result{Config: next, Warnings: warnings}
	if !snippet.ItemsEqual(previous.Items, items) {
		if err := p.Locations.PutLocation(ctx, input.Location, next); err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeStorageFailure, "persist configuration", err)
		}
		// A removal-only change journals the old list so a restore undoes
		// the removal; any other change journals the new list.
		journaled := items
		if itemsRemovedOnly(previous.Items, items) {
			journaled = previous.Items
		}
		entry := snapshot.Entry{
			Timestamp: p.now(),
			Actor:     snapshot.Actor{ID: input.Actor.ID, DisplayName: input.Actor.DisplayName},
			Action:    snapshot.ActionItemsUpdated,
			Location:  string(input.Location),
			Payload: snapshot.Payload{
				Kind:  snapshot.KindItems,
				Items: journaled,
			},
			Summary: fmt.Sprintf("%s linked items updated (%d items)", input.Location, len(items)),
			Size:    int64(len(items)),
		}
		result.SnapshotID = p.appendEntry(ctx, entry)
	}

	p.stampAndMemoize(input.Request, string(input.Location), result)
	return result, nil
}

// SetFile validates and persists a managed file write. Files reuse the same
// gate sequence; sanitation applies only to textual content types, while the
// size cap applies to every file.
func (p *Pipeline) SetFile(ctx context.Context, input FileInput) (FileResult, error) {
	if err := ctx.Err(); err != nil {
		return FileResult{}, err
	}
	if input.FileID == "" {
		return FileResult{}, apperrors.New(apperrors.CodeFileNotFound, "file id is required")
	}
	if input.Name == "" {
		return FileResult{}, apperrors.New(apperrors.CodeFileNameEmpty, "file name is required")
	}

	if result, found, err := p.memoizedFileResult(input.CorrelationToken); err != nil {
		return FileResult{}, err
	} else if found {
		return result, nil
	}

	limiterKey := "file:" + input.FileID
	if err := p.gate(input.Request, input.FileID, limiterKey); err != nil {
		return FileResult{}, err
	}

	content := input.Content
	var warnings []string
	if snippet.TextualContentType(input.ContentType) {
		clean, sanitizeWarnings, err := snippet.Sanitize(string(content))
		if err != nil {
			return FileResult{}, err
		}
		content = []byte(clean)
		warnings = sanitizeWarnings
	} else if len(content) > snippet.MaxContentBytes {
		return FileResult{}, apperrors.New(apperrors.CodeContentTooLarge, "file exceeds the size cap")
	}

	file := snippet.ManagedFile{
		ID:          input.FileID,
		Name:        input.Name,
		ContentType: input.ContentType,
		Content:     content,
		UpdatedAt:   p.now(),
	}
	if err := p.Files.PutFile(ctx, file); err != nil {
		return FileResult{}, apperrors.Wrap(apperrors.CodeStorageFailure, "persist file", err)
	}

	entry := snapshot.Entry{
		Timestamp:  p.now(),
		Actor:      snapshot.Actor{ID: input.Actor.ID, DisplayName: input.Actor.DisplayName},
		Action:     snapshot.ActionFileUpdated,
		SubjectKey: input.FileID,
		Payload: snapshot.Payload{
			Kind: snapshot.KindFile,
			File: &snapshot.FilePayload{Name: file.Name, ContentType: file.ContentType, Content: file.Content},
		},
		Summary: fmt.Sprintf("file %s updated (%d bytes)", file.Name, len(file.Content)),
		Size:    int64(len(file.Content)),
	}
	result := FileResult{File: file, Warnings: warnings, SnapshotID: p.appendEntry(ctx, entry)}

	if p.Limiter != nil {
		if err := p.Limiter.Record(input.Actor.ID, limiterKey); err != nil {
			log.Printf("stamp rate limiter: %v", err)
		}
	}
	p.memoizeFile(input.CorrelationToken, result)
	return result, nil
}

// DeleteFile removes a managed file through the same leading gates and
// journals the deleted state so it can be restored.
func (p *Pipeline) DeleteFile(ctx context.Context, request Request, fileID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if fileID == "" {
		return 0, apperrors.New(apperrors.CodeFileNotFound, "file id is required")
	}

	if deleted, found, err := p.memoizedDeletion(request.CorrelationToken); err != nil {
		return 0, err
	} else if found {
		return deleted.SnapshotID, nil
	}

	limiterKey := "file:" + fileID
	if err := p.gate(request, fileID, limiterKey); err != nil {
		return 0, err
	}

	file, err := p.Files.GetFile(ctx, fileID)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, apperrors.New(apperrors.CodeFileNotFound, "file "+fileID+" not found")
		}
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, "load file", err)
	}

	if err := p.Files.DeleteFile(ctx, fileID); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, "delete file", err)
	}

	entry := snapshot.Entry{
		Timestamp:  p.now(),
		Actor:      snapshot.Actor{ID: request.Actor.ID, DisplayName: request.Actor.DisplayName},
		Action:     snapshot.ActionFileDeleted,
		SubjectKey: fileID,
		Payload: snapshot.Payload{
			Kind: snapshot.KindFile,
			File: &snapshot.FilePayload{Name: file.Name, ContentType: file.ContentType, Content: file.Content},
		},
		Summary: fmt.Sprintf("file %s deleted", file.Name),
		Size:    int64(len(file.Content)),
	}
	id := p.appendEntry(ctx, entry)

	if p.Limiter != nil {
		if err := p.Limiter.Record(request.Actor.ID, limiterKey); err != nil {
			log.Printf("stamp rate limiter: %v", err)
		}
	}
	p.memoizeDeletion(request.CorrelationToken, fileDeletion{SnapshotID: id})
	return id, nil
}

// appendEntry writes a journal entry, honoring the configured retention cap.
// The configuration write already succeeded when this runs, and it is the
// higher-value side effect: a journal failure is logged, not propagated.
func (p *Pipeline) appendEntry(ctx context.Context, entry snapshot.Entry) int64 {
	retain := snapshot.RetentionDefault
	if p.Settings != nil {
		if configured, err := p.Settings.GetRetention(ctx); err == nil {
			retain = configured
		}
	}
	id, err := p.Snapshots.AppendSnapshot(ctx, entry, retain)
	if err != nil {
		log.Printf("append snapshot entry: %v", err)
		return 0
	}
	return id
}

// stampAndMemoize records the cooldown and memoizes the computed result after
// a fully successful location write.
func (p *Pipeline) stampAndMemoize(request Request, limiterKey string, result Result) {
	if p.Limiter != nil {
		if err := p.Limiter.Record(request.Actor.ID, limiterKey); err != nil {
			log.Printf("stamp rate limiter: %v", err)
		}
	}
	if p.Memo != nil && request.CorrelationToken != "" {
		encoded, err := json.Marshal(result)
		if err != nil {
			log.Printf("encode idempotency memo: %v", err)
			return
		}
		if err := p.Memo.Put(request.CorrelationToken, encoded); err != nil {
			log.Printf("write idempotency memo: %v", err)
		}
	}
}

func (p *Pipeline) memoizedResult(correlationToken string) (Result, bool, error) {
	if p.Memo == nil || correlationToken == "" {
		return Result{}, false, nil
	}
	encoded, found, err := p.Memo.Get(correlationToken)
	if err != nil {
		return Result{}, false, apperrors.Wrap(apperrors.CodeStorageFailure, "read idempotency memo", err)
	}
	if !found {
		return Result{}, false, nil
	}
	var result Result
	if err := json.Unmarshal(encoded, &result); err != nil {
		return Result{}, false, nil
	}
	return result, true, nil
}

func (p *Pipeline) memoizeFile(correlationToken string, result FileResult) {
	if p.Memo == nil || correlationToken == "" {
		return
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		log.Printf("encode idempotency memo: %v", err)
		return
	}
	if err := p.Memo.Put(correlationToken, encoded); err != nil {
		log.Printf("write idempotency memo: %v", err)
	}
}

func (p *Pipeline) memoizedFileResult(correlationToken string) (FileResult, bool, error) {
	if p.Memo == nil || correlationToken == "" {
		return FileResult{}, false, nil
	}
	encoded, found, err := p.Memo.Get(correlationToken)
	if err != nil {
		return FileResult{}, false, apperrors.Wrap(apperrors.CodeStorageFailure, "read idempotency memo", err)
	}
	if !found {
		return FileResult{}, false, nil
	}
	var result FileResult
	if err := json.Unmarshal(encoded, &result); err != nil {
		return FileResult{}, false, nil
	}
	return result, true, nil
}

// fileDeletion is the memoized outcome of a completed file delete.
type fileDeletion struct {
	SnapshotID int64 `json:"snapshot_id"`
}

func (p *Pipeline) memoizeDeletion(correlationToken string, deleted fileDeletion) {
	if p.Memo == nil || correlationToken == "" {
		return
	}
	encoded, err := json.Marshal(deleted)
	if err != nil {
		log.Printf("encode idempotency memo: %v", err)
		return
	}
	if err := p.Memo.Put(correlationToken, encoded); err != nil {
		log.Printf("write idempotency memo: %v", err)
	}
}

func (p *Pipeline) memoizedDeletion(correlationToken string) (fileDeletion, bool, error) {
	if p.Memo == nil || correlationToken == "" {
		return fileDeletion{}, false, nil
	}
	encoded, found, err := p.Memo.Get(correlationToken)
	if err != nil {
		return fileDeletion{}, false, apperrors.Wrap(apperrors.CodeStorageFailure, "read idempotency memo", err)
	}
	if !found {
		return fileDeletion{}, false, nil
	}
	var deleted fileDeletion
	if err := json.Unmarshal(encoded, &deleted); err != nil {
		return fileDeletion{}, false, nil
	}
	return deleted, true, nil
}

// itemsRemovedOnly reports whether the change is a pure removal: at least one
// previously stored item is absent from the new list and nothing was added.
// Mixed edits journal the new list like any other update.
func itemsRemovedOnly(previous, next []snippet.LinkedItem) bool {
	removed := false
	for _, old := range previous {
		if !containsItemURL(next, old.URL) {
			removed = true
			break
		}
	}
	if !removed {
		return false
	}
	for _, item := range next {
		if !containsItemURL(previous, item.URL) {
			return false
		}
	}
	return true
}

func containsItemURL(items []snippet.LinkedItem, url string) bool {
	for _, item := range items {
		if item.URL == url {
			return true
		}
	}
	return false
}
