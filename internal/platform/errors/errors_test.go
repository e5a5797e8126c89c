package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeRateLimited, "cooldown active")
	if !errors.Is(err, New(CodeRateLimited, "different message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if errors.Is(err, New(CodeUnauthorized, "cooldown active")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeStorageFailure, "append snapshot", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be visible to errors.Is")
	}
	if err.Error() != "append snapshot" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "append snapshot")
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeSnapshotNotFound, "missing"))
	if got := CodeOf(err); got != CodeSnapshotNotFound {
		t.Fatalf("CodeOf = %q, want %q", got, CodeSnapshotNotFound)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf plain error = %q, want %q", got, CodeUnknown)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeUnauthorized, http.StatusForbidden},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeContentTooLarge, http.StatusRequestEntityTooLarge},
		{CodeSnapshotNotFound, http.StatusNotFound},
		{CodeSnapshotShapeMismatch, http.StatusConflict},
		{CodeStorageFailure, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
