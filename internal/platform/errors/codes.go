// Package errors provides structured error handling for siteslot.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Write pipeline rejections
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeIntegrityCheck      Code = "INTEGRITY_CHECK_FAILED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInvalidContentType  Code = "INVALID_CONTENT_TYPE"
	CodeContentTooLarge     Code = "CONTENT_TOO_LARGE"
	CodeDisallowedSequence  Code = "DISALLOWED_SEQUENCE_DETECTED"
	CodeInvalidLocation     Code = "INVALID_LOCATION"
	CodeInvalidLinkedItem   Code = "INVALID_LINKED_ITEM"
	CodeInvalidRetentionCap Code = "INVALID_RETENTION_CAP"

	// Snapshot errors
	CodeSnapshotNotFound      Code = "SNAPSHOT_NOT_FOUND"
	CodeSnapshotShapeMismatch Code = "SNAPSHOT_SHAPE_MISMATCH"

	// Managed file errors
	CodeFileNotFound  Code = "FILE_NOT_FOUND"
	CodeFileNameEmpty Code = "FILE_NAME_EMPTY"

	// Storage errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeStorageFailure Code = "STORAGE_FAILURE"
)

// HTTPStatus maps the error code to an HTTP status code for the JSON binding.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeIntegrityCheck:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInvalidContentType, CodeDisallowedSequence, CodeInvalidLocation,
		CodeInvalidLinkedItem, CodeInvalidRetentionCap, CodeFileNameEmpty:
		return http.StatusBadRequest
	case CodeContentTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeSnapshotNotFound, CodeFileNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeSnapshotShapeMismatch:
		return http.StatusConflict
	case CodeStorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
