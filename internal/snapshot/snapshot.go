// Package snapshot defines the append-only change journal model. Every
// accepted write and every restore produces one immutable Entry carrying
// enough state to reconstruct the configuration it captured.
package snapshot

import (
	"time"

	"github.com/quincybrooks/siteslot/internal/rules"
	"github.com/quincybrooks/siteslot/internal/snippet"
)

// Action identifies the kind of change an entry records.
type Action string

const (
	// ActionContentUpdated records a validated content write.
	ActionContentUpdated Action = "content.updated"
	// ActionItemsUpdated records a validated linked item list write.
	ActionItemsUpdated Action = "items.updated"
	// ActionFileUpdated records a managed file write or upload.
	ActionFileUpdated Action = "file.updated"
	// ActionFileDeleted records a managed file deletion.
	ActionFileDeleted Action = "file.deleted"
	// ActionContentRestored records a point-in-time content restore.
	ActionContentRestored Action = "content.restored"
	// ActionItemsRestored records a point-in-time linked item restore.
	ActionItemsRestored Action = "items.restored"
	// ActionFileRestored records a point-in-time managed file restore.
	ActionFileRestored Action = "file.restored"
)

// RestoreAction maps an action to its restore counterpart.
func (a Action) RestoreAction() Action {
	switch a {
	case ActionContentUpdated, ActionContentRestored:
		return ActionContentRestored
	case ActionItemsUpdated, ActionItemsRestored:
		return ActionItemsRestored
	case ActionFileUpdated, ActionFileDeleted, ActionFileRestored:
		return ActionFileRestored
	}
	return a
}

// PayloadKind tags the shape of an entry payload.
type PayloadKind string

const (
	// KindContent marks a content+rules payload.
	KindContent PayloadKind = "content"
	// KindItems marks a linked item list payload.
	KindItems PayloadKind = "items"
	// KindFile marks a managed file payload.
	KindFile PayloadKind = "file"
)

// ContentPayload captures a location's inline content and its rule set.
type ContentPayload struct {
	Content string        `json:"content"`
	Rules   rules.RuleSet `json:"rules"`
}

// FilePayload captures a managed file's full state.
type FilePayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// Payload is the tagged union carried by an entry. Exactly one of the
// optional fields is set, matching Kind.
type Payload struct {
	Kind    PayloadKind          `json:"kind"`
	Content *ContentPayload      `json:"content,omitempty"`
	Items   []snippet.LinkedItem `json:"items,omitempty"`
	File    *FilePayload         `json:"file,omitempty"`
}

// Actor identifies who made the change.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Entry is one immutable journal record. ID is assigned by storage on append
// and is the only ordering guarantee; timestamps may collide.
type Entry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      Actor     `json:"actor"`
	Action     Action    `json:"action"`
	Location   string    `json:"location,omitempty"`
	SubjectKey string    `json:"subject_key,omitempty"`
	Payload    Payload   `json:"payload"`
	Summary    string    `json:"summary"`
	Size       int64     `json:"size"`
}

// Retention bounds for the journal cap.
const (
	RetentionMin     = 3
	RetentionMax     = 1000
	RetentionDefault = 200
)

// ClampRetention forces a configured cap into the supported bounds. Zero and
// negative values fall back to the default.
func ClampRetention(cap int) int {
	if cap <= 0 {
		return RetentionDefault
	}
	if cap < RetentionMin {
		return RetentionMin
	}
	if cap > RetentionMax {
		return RetentionMax
	}
	return cap
}
