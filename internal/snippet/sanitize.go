package snippet

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	apperrors "github.com/quincybrooks/siteslot/internal/platform/errors"
)

// Escape sequences that would hand the payload to the host language. Their
// presence is fatal; there is no legitimate reason to store them.
var disallowedSequences = []string{"<?php", "<?="}

// Tags whose presence is flagged but not rejected. The payload is emitted
// verbatim, so the operator gets a warning instead of a veto.
var flaggedTags = []string{"<iframe", "<object", "<embed", "<form"}

// Sanitize runs the content checks of the validation pipeline in order:
// textual check, control character stripping, host-language escape rejection,
// script wrapper stripping (warn and continue), size cap, and the
// embed-capable tag warning. On success it returns the cleaned content plus
// any non-fatal warnings.
func Sanitize(raw string) (string, []string, error) {
	if !utf8.ValidString(raw) {
		return "", nil, apperrors.New(apperrors.CodeInvalidContentType, "content must be valid text")
	}

	clean := stripControlCharacters(raw)

	lower := strings.ToLower(clean)
	for _, sequence := range disallowedSequences {
		if strings.Contains(lower, sequence) {
			return "", nil, apperrors.New(apperrors.CodeDisallowedSequence, "content contains a disallowed escape sequence")
		}
	}

	var warnings []string
	if strings.Contains(lower, "<script") || strings.Contains(lower, "</script") {
		clean = stripScriptWrappers(clean)
		lower = strings.ToLower(clean)
		warnings = append(warnings, "script wrapper tags were stripped; the inner code was kept")
	}

	if len(clean) > MaxContentBytes {
		return "", nil, apperrors.New(apperrors.CodeContentTooLarge, "content exceeds the size cap")
	}

	for _, tag := range flaggedTags {
		if strings.Contains(lower, tag) {
			warnings = append(warnings, "content contains embed-capable markup ("+strings.TrimPrefix(tag, "<")+")")
			break
		}
	}

	return clean, warnings, nil
}

// stripControlCharacters removes NUL and other control characters, keeping
// tab, newline, and carriage return.
func stripControlCharacters(raw string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, raw)
}

// stripScriptWrappers removes script start and end tags while keeping the
// enclosed code untouched. The tokenizer hands back the exact raw bytes of
// every token, so content outside the stripped tags survives byte for byte.
func stripScriptWrappers(raw string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	var out bytes.Buffer
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			// The tokenizer consumed everything it could; whatever raw bytes
			// remain (typically none) are appended untouched.
			out.Write(tokenizer.Raw())
			return out.String()
		}
		if tokenType == html.StartTagToken || tokenType == html.EndTagToken {
			name, _ := tokenizer.TagName()
			if strings.EqualFold(string(name), "script") {
				continue
			}
		}
		out.Write(tokenizer.Raw())
	}
}
