package snippet

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/quincybrooks/siteslot/internal/platform/errors"
)

func TestSanitizePassThrough(t *testing.T) {
	content := "console.log('hello');\n// a comment with 1 < 2\n"
	clean, warnings, err := Sanitize(content)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean != content {
		t.Fatalf("expected content unchanged, got %q", clean)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	clean, _, err := Sanitize("a\x00b\x01c\td\ne\rf")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean != "abc\td\ne\rf" {
		t.Fatalf("unexpected cleaned content %q", clean)
	}
}

func TestSanitizeRejectsInvalidText(t *testing.T) {
	_, _, err := Sanitize(string([]byte{0xff, 0xfe}))
	if !errors.Is(err, apperrors.New(apperrors.CodeInvalidContentType, "")) {
		t.Fatalf("expected invalid content type error, got %v", err)
	}
}

func TestSanitizeRejectsHostEscapes(t *testing.T) {
	for _, payload := range []string{"before <?php echo 1; ?> after", "x <?= $v ?>", "UPPER <?PHP hidden"} {
		_, _, err := Sanitize(payload)
		if !errors.Is(err, apperrors.New(apperrors.CodeDisallowedSequence, "")) {
			t.Fatalf("expected disallowed sequence error for %q, got %v", payload, err)
		}
	}
}

func TestSanitizeStripsScriptWrappers(t *testing.T) {
	clean, warnings, err := Sanitize("<script>var x = 1;</script>")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean != "var x = 1;" {
		t.Fatalf("expected inner code kept, got %q", clean)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
}

func TestSanitizeStripsScriptWrapperWithAttributes(t *testing.T) {
	clean, _, err := Sanitize("<script type=\"text/javascript\">doIt();</script> trailer")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean != "doIt(); trailer" {
		t.Fatalf("unexpected cleaned content %q", clean)
	}
}

func TestSanitizeSizeCap(t *testing.T) {
	exact := strings.Repeat("a", MaxContentBytes)
	if _, _, err := Sanitize(exact); err != nil {
		t.Fatalf("expected exact-cap content accepted: %v", err)
	}

	over := strings.Repeat("a", MaxContentBytes+1)
	_, _, err := Sanitize(over)
	if !errors.Is(err, apperrors.New(apperrors.CodeContentTooLarge, "")) {
		t.Fatalf("expected content too large error, got %v", err)
	}
}

func TestSanitizeFlagsEmbedTags(t *testing.T) {
	clean, warnings, err := Sanitize("<iframe src=\"https://example.com\"></iframe>")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if !strings.Contains(clean, "<iframe") {
		t.Fatalf("expected flagged markup kept, got %q", clean)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "iframe") {
		t.Fatalf("expected iframe warning, got %v", warnings)
	}
}
