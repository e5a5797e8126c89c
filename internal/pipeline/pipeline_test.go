package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/quincybrooks/siteslot/internal/platform/errors"
	"github.com/quincybrooks/siteslot/internal/platform/requestctx"
	"github.com/quincybrooks/siteslot/internal/ratelimit"
	"github.com/quincybrooks/siteslot/internal/rules"
	"github.com/quincybrooks/siteslot/internal/snapshot"
	"github.com/quincybrooks/siteslot/internal/snippet"
	"github.com/quincybrooks/siteslot/internal/storage"
	"github.com/quincybrooks/siteslot/internal/storage/sqlite"
)

type staticCapability struct{ allow bool }

func (c staticCapability) Authorize(requestctx.Actor) bool { return c.allow }

type staticIntegrity struct{ accepted string }

func (v staticIntegrity) Verify(token, scope string) bool { return token == v.accepted }

const testToken = "write-token"

func testRequest(actorID string) Request {
	return Request{
		Actor:          requestctx.Actor{ID: actorID, DisplayName: "Operator"},
		IntegrityToken: testToken,
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.Open(t.TempDir() + "/siteslot.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	db, err := ratelimit.OpenInMemory()
	if err != nil {
		t.Fatalf("open rate limit db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(db, 10*time.Second)
	limiter.Now = func() time.Time { return now }

	p := &Pipeline{
		Locations:  store,
		Snapshots:  store,
		Settings:   store,
		Files:      store,
		Capability: staticCapability{allow: true},
		Integrity:  staticIntegrity{accepted: testToken},
		Limiter:    limiter,
		Memo:       ratelimit.NewMemo(db),
		Now:        func() time.Time { return now },
	}
	return p, store
}

func snapshotCount(t *testing.T, store *sqlite.Store, filter storage.SnapshotFilter) int {
	t.Helper()
	entries, err := store.ListSnapshots(context.Background(), filter, snapshot.RetentionMax, 0)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	return len(entries)
}

func TestSetContentRoundTrip(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.SetContent(ctx, ContentInput{
		Request:  testRequest("op-1"),
		Location: snippet.LocationHead,
		Content:  "<meta name=\"color-scheme\" content=\"dark\">",
		Rules: &rules.RawRuleSet{
			Logic: "or",
			Rules: []rules.RawRule{{Type: "front_page"}},
		},
	})
	if err != nil {
		t.Fatalf("set content: %v", err)
	}
	if result.SnapshotID == 0 {
		t.Fatal("expected a snapshot entry for a changed write")
	}

	stored, err := store.GetLocation(ctx, snippet.LocationHead)
	if err != nil {
		t.Fatalf("get location: %v", err)
	}
	if stored.Content != result.Config.Content {
		t.Fatalf("stored content = %q, want %q", stored.Content, result.Config.Content)
	}
	if stored.Rules.Logic != rules.LogicOr || len(stored.Rules.Rules) != 1 {
		t.Fatalf("stored rules = %+v", stored.Rules)
	}

	entry, err := store.GetSnapshot(ctx, result.SnapshotID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if entry.Action != snapshot.ActionContentUpdated {
		t.Fatalf("action = %q, want %q", entry.Action, snapshot.ActionContentUpdated)
	}
	if entry.Payload.Content == nil || entry.Payload.Content.Content != stored.Content {
		t.Fatal("snapshot payload does not carry the written content")
	}
}

func TestSetContentUnauthorized(t *testing.T) {
	p, store := newTestPipeline(t)
	p.Capability = staticCapability{allow: false}

	_, err := p.SetContent(context.Background(), ContentInput{
		Request:  testRequest("op-1"),
		Location: snippet.LocationHead,
		Content:  "something",
	})
	if apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeUnauthorized)
	}
	if n := snapshotCount(t, store, storage.SnapshotFilter{}); n != 0 {
		t.Fatalf("journal entries = %d, want 0", n)
	}
}

func TestSetContentBadIntegrityToken(t *testing.T) {
	p, _ := newTestPipeline(t)

	input := ContentInput{
		Request:  Request{Actor: requestctx.Actor{ID: "op-1"}, IntegrityToken: "forged"},
		Location: snippet.LocationHead,
		Content:  "x",
	}
	_, err := p.SetContent(context.Background(), input)
	if apperrors.CodeOf(err) != apperrors.CodeIntegrityCheck {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeIntegrityCheck)
	}
}

func TestSetContentRateLimited(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.SetContent(ctx, ContentInput{
		Request:  testRequest("op-1"),
		Location: snippet.LocationFooter,
		Content:  "first",
	}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	_, err := p.SetContent(ctx, ContentInput{
		Request:  testRequest("op-1"),
		Location: snippet.LocationFooter,
		Content:  "second",
	})
	if apperrors.CodeOf(err) != apperrors.CodeRateLimited {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeRateLimited)
	}

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Metadata["retry_after"] == "" {
		t.Fatalf("expected retry_after metadata, got %+v", err)
	}

	// A different actor writing the same location is not in cooldown.
	if _, err := p.SetContent(ctx, ContentInput{
		Request:  testRequest("op-2"),
		Location: snippet.LocationFooter,
		Content:  "second",
	}); err != nil {
		t.Fatalf("other actor write: %v", err)
	}
}

func TestSetContentIdempotentCorrelationToken(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	request := testRequest("op-1")
	request.CorrelationToken = "submission-42"

	first, err := p.SetContent(ctx, ContentInput{
		Request:  request,
		Location: snippet.LocationHead,
		Content:  "only once",
	})
	if err != nil {
		t.Fatalf("first write: %v", err)
	}

	// The repeat carries the same correlation token, so it must return the
	// memoized result without tripping the cooldown or journaling again.
	second, err := p.SetContent(ctx, ContentInput{
		Request:  request,
		Location: snippet.LocationHead,
		Content:  "only once",
	})
	if err != nil {
		t.Fatalf("repeat write: %v", err)
	}
	if second.SnapshotID != first.SnapshotID {
		t.Fatalf("repeat snapshot id = %d, want %d", second.SnapshotID, first.SnapshotID)
	}
	if n := snapshotCount(t, store, storage.SnapshotFilter{Location: string(snippet.LocationHead)}); n != 1 {
		t.Fatalf("journal entries = %d, want 1", n)
	}
}

func TestSetContentNoChangeSkipsJournal(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.SetContent(ctx, ContentInput{
		Request:  testRequest("op-1"),
		Location: snippet.LocationHead,
		Content:  "same",
	}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	result, err := p.SetContent(ctx, ContentInput{
		Request:  testRequest("op-2"),
		Location: snippet.LocationHead,
		Content:  "same",
	})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if result.SnapshotID != 0 {
		t.Fatal("no-change write must not journal")
	}
	if n := snapshotCount(t, store, storage.SnapshotFilter{}); n != 1 {
		t.Fatalf("journal entries = %d, want 1", n)
	}
}

func TestSetContentRejectsServerSequence(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.SetContent(ctx, ContentInput{
		Request:  testRequest("op-1"),
		Location: snippet.LocationHead,
		Content:  "established",
	}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	_, err := p.SetContent(ctx, ContentInput{
		Request:  testRequest("op-2"),
		Location: snippet.LocationHead,
		Content:  "before <?php evil(); ?> after",
	})
	if apperrors.CodeOf(err) != apperrors.CodeDisallowedSequence {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeDisallowedSequence)
	}

	stored, err := store.GetLocation(ctx, snippet.LocationHead)
	if err != nil {
		t.Fatalf("get location: %v", err)
	}
	if stored.Content != "established" {
		t.Fatalf("rejected write mutated the store: %q", stored.Content)
	}
}

func TestSetItemsJournalsOldListOnRemoval(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	request := testRequest("op-1")
	if _, err := p.SetItems(ctx, ItemsInput{
		Request:  request,
		Location: snippet.LocationFooter,
		RawItems: []byte(`[{"url":"https://cdn.example.com/a.js"},{"url":"https://cdn.example.com/b.js"}]`),
	}); err != nil {
		t.Fatalf("seed items: %v", err)
	}

	removal, err := p.SetItems(ctx, ItemsInput{
		Request:  testRequest("op-2"),
		Location: snippet.LocationFooter,
		RawItems: []byte(`[{"url":"https://cdn.example.com/a.js"}]`),
	})
	if err != nil {
		t.Fatalf("removal write: %v", err)
	}

	entry, err := store.GetSnapshot(ctx, removal.SnapshotID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if len(entry.Payload.Items) != 2 {
		t.Fatalf("removal journaled %d items, want the old list of 2", len(entry.Payload.Items))
	}

	additive, err := p.SetItems(ctx, ItemsInput{
		Request:  testRequest("op-3"),
		Location: snippet.LocationFooter,
		RawItems: []byte(`[{"url":"https://cdn.example.com/a.js"},{"url":"https://cdn.example.com/c.js"},{"url":"https://cdn.example.com/d.js"}]`),
	})
	if err != nil {
		t.Fatalf("additive write: %v", err)
	}

	entry, err = store.GetSnapshot(ctx, additive.SnapshotID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	// c.js and d.js were added while b.js was already gone, so the new
	// list of 3 is journaled.
	if len(entry.Payload.Items) != 3 {
		t.Fatalf("additive journaled %d items, want the new list of 3", len(entry.Payload.Items))
	}
}

func TestSetItemsMixedChangeJournalsNewList(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.SetItems(ctx, ItemsInput{
		Request:  testRequest("op-1"),
		Location: snippet.LocationHead,
		RawItems: []byte(`[{"url":"https://cdn.example.com/a.js"},{"url":"https://cdn.example.com/b.js"}]`),
	}); err != nil {
		t.Fatalf("seed items: %v", err)
	}

	// b.js is removed and c.js is added in the same write. Only pure
	// removals journal the old list, so this entry carries the new one.
	mixed, err := p.SetItems(ctx, ItemsInput{
		Request:  testRequest("op-2"),
		Location: snippet.LocationHead,
		RawItems: []byte(`[{"url":"https://cdn.example.com/a.js"},{"url":"https://cdn.example.com/c.js"}]`),
	})
	if err != nil {
		t.Fatalf("mixed write: %v", err)
	}

	entry, err := store.GetSnapshot(ctx, mixed.SnapshotID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if len(entry.Payload.Items) != 2 {
		t.Fatalf("mixed change journaled %d items, want the new list of 2", len(entry.Payload.Items))
	}
	if entry.Payload.Items[1].URL != "https://cdn.example.com/c.js" {
		t.Fatalf("journaled item = %q, want the added c.js", entry.Payload.Items[1].URL)
	}
}

func TestSetItemsRejectsRelativeURL(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.SetItems(context.Background(), ItemsInput{
		Request:  testRequest("op-1"),
		Location: snippet.LocationHead,
		RawItems: []byte(`[{"url":"/assets/a.js"}]`),
	})
	if apperrors.CodeOf(err) != apperrors.CodeInvalidLinkedItem {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeInvalidLinkedItem)
	}
}

func TestSetFileSanitizesTextualContent(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.SetFile(ctx, FileInput{
		Request:     testRequest("op-1"),
		FileID:      "ads.txt",
		Name:        "ads.txt",
		ContentType: "text/plain",
		Content:     []byte("google.com, pub-1, DIRECT\x00"),
	})
	if err != nil {
		t.Fatalf("set file: %v", err)
	}
	if strings.ContainsRune(string(result.File.Content), 0) {
		t.Fatal("control characters survived sanitation")
	}

	stored, err := store.GetFile(ctx, "ads.txt")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if string(stored.Content) != string(result.File.Content) {
		t.Fatal("stored file differs from returned file")
	}
	if result.SnapshotID == 0 {
		t.Fatal("file write must journal")
	}
}

func TestSetFileRejectsOversizeBinary(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.SetFile(context.Background(), FileInput{
		Request:     testRequest("op-1"),
		FileID:      "logo.png",
		Name:        "logo.png",
		ContentType: "image/png",
		Content:     make([]byte, snippet.MaxContentBytes+1),
	})
	if apperrors.CodeOf(err) != apperrors.CodeContentTooLarge {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeContentTooLarge)
	}
}

func TestDeleteFileJournalsDeletedState(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.SetFile(ctx, FileInput{
		Request:     testRequest("op-1"),
		FileID:      "robots.txt",
		Name:        "robots.txt",
		ContentType: "text/plain",
		Content:     []byte("User-agent: *\nDisallow:\n"),
	}); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	id, err := p.DeleteFile(ctx, testRequest("op-2"), "robots.txt")
	if err != nil {
		t.Fatalf("delete file: %v", err)
	}

	if _, err := store.GetFile(ctx, "robots.txt"); err != storage.ErrNotFound {
		t.Fatalf("get deleted file err = %v, want ErrNotFound", err)
	}

	entry, err := store.GetSnapshot(ctx, id)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if entry.Action != snapshot.ActionFileDeleted {
		t.Fatalf("action = %q, want %q", entry.Action, snapshot.ActionFileDeleted)
	}
	if entry.Payload.File == nil || !strings.Contains(string(entry.Payload.File.Content), "User-agent") {
		t.Fatal("deletion entry must carry the removed content")
	}

	_, err = p.DeleteFile(ctx, testRequest("op-3"), "missing.txt")
	if apperrors.CodeOf(err) != apperrors.CodeFileNotFound {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeFileNotFound)
	}
}

func TestDeleteFileIdempotentCorrelationToken(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.SetFile(ctx, FileInput{
		Request:     testRequest("op-1"),
		FileID:      "verify.txt",
		Name:        "verify.txt",
		ContentType: "text/plain",
		Content:     []byte("token\n"),
	}); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	request := testRequest("op-2")
	request.CorrelationToken = "removal-7"

	first, err := p.DeleteFile(ctx, request, "verify.txt")
	if err != nil {
		t.Fatalf("first delete: %v", err)
	}

	// A retried delete with the same correlation token replays the memoized
	// outcome instead of tripping the cooldown or reporting the file missing.
	second, err := p.DeleteFile(ctx, request, "verify.txt")
	if err != nil {
		t.Fatalf("replayed delete: %v", err)
	}
	if second != first {
		t.Fatalf("replayed snapshot id = %d, want %d", second, first)
	}
	// The seed write and the delete each journaled once; the replay must not
	// have appended a third entry.
	if count := snapshotCount(t, store, storage.SnapshotFilter{SubjectKey: "verify.txt"}); count != 2 {
		t.Fatalf("journal entries = %d, want 2", count)
	}
}
