package token

import (
	"testing"
	"time"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	verifier, err := NewVerifier([]byte("test-secret"), "siteslot", time.Hour)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	verifier := newTestVerifier(t)

	signed, err := verifier.Issue("head")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !verifier.Verify(signed, "head") {
		t.Fatal("expected token to verify for its scope")
	}
}

func TestVerifyRejectsWrongScope(t *testing.T) {
	verifier := newTestVerifier(t)

	signed, err := verifier.Issue("head")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if verifier.Verify(signed, "footer") {
		t.Fatal("expected token scoped to head to fail for footer")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	verifier.Now = func() time.Time { return issuedAt }

	signed, err := verifier.Issue("head")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier.Now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	if verifier.Verify(signed, "head") {
		t.Fatal("expected expired token to fail")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	verifier := newTestVerifier(t)
	signed, err := verifier.Issue("head")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other, err := NewVerifier([]byte("other-secret"), "siteslot", time.Hour)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if other.Verify(signed, "head") {
		t.Fatal("expected token signed with a different secret to fail")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	verifier := newTestVerifier(t)
	if verifier.Verify("", "head") {
		t.Fatal("expected empty token to fail")
	}
	if verifier.Verify("not.a.token", "head") {
		t.Fatal("expected malformed token to fail")
	}
}

func TestNewVerifierValidation(t *testing.T) {
	if _, err := NewVerifier(nil, "siteslot", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewVerifier([]byte("s"), " ", time.Hour); err == nil {
		t.Fatal("expected error for empty issuer")
	}

	verifier, err := NewVerifier([]byte("s"), "siteslot", 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if verifier.validity != DefaultValidity {
		t.Fatalf("validity = %s, want %s", verifier.validity, DefaultValidity)
	}
}
