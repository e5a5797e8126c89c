// Package snippet defines the content model for operator-managed snippets:
// per-location configuration, linked external resources, and the content
// sanitizer applied on every validated write.
package snippet

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/quincybrooks/siteslot/internal/rules"
)

// Location is a named slot content can be stored against.
type Location string

const (
	// LocationHead is emitted inside the document head.
	LocationHead Location = "head"
	// LocationFooter is emitted before the closing body tag.
	LocationFooter Location = "footer"
)

// Locations lists every valid location in emission order.
func Locations() []Location {
	return []Location{LocationHead, LocationFooter}
}

// ValidLocation reports whether the name identifies a known location.
func ValidLocation(name string) bool {
	switch Location(name) {
	case LocationHead, LocationFooter:
		return true
	}
	return false
}

// MaxContentBytes caps the size of a single content payload.
const MaxContentBytes = 100_000

// LinkedItem is an external resource reference with its own rule set.
type LinkedItem struct {
	URL   string        `json:"url"`
	Rules rules.RuleSet `json:"rules"`
}

// Config is the current stored state for one location.
type Config struct {
	Content string        `json:"content"`
	Rules   rules.RuleSet `json:"rules"`
	// Items preserves insertion order; emission order follows it.
	Items []LinkedItem `json:"items,omitempty"`
}

// Empty returns the implicit default configuration for a location that has
// never been written.
func Empty() Config {
	return Config{Rules: rules.Always()}
}

// ItemsEqual reports whether two linked item sequences are identical,
// including order.
func ItemsEqual(a, b []LinkedItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].URL != b[i].URL || !rules.Equal(a[i].Rules, b[i].Rules) {
			return false
		}
	}
	return true
}

// rawLinkedItem mirrors the submitted JSON shape before validation.
type rawLinkedItem struct {
	URL   string           `json:"url"`
	Rules rules.RawRuleSet `json:"rules"`
}

// ParseLinkedItems decodes and validates a submitted linked item list. Every
// URL must be an absolute http(s) URI; rule sets are structurally normalized
// with the usual lenient-degrade policy. Warnings from rule normalization are
// returned alongside the parsed items.
func ParseLinkedItems(rawJSON []byte) ([]LinkedItem, []string, error) {
	if len(rawJSON) == 0 {
		return nil, nil, nil
	}

	var rawItems []rawLinkedItem
	if err := json.Unmarshal(rawJSON, &rawItems); err != nil {
		return nil, nil, fmt.Errorf("decode linked items: %w", err)
	}

	items := make([]LinkedItem, 0, len(rawItems))
	var warnings []string
	for i, raw := range rawItems {
		reference := strings.TrimSpace(raw.URL)
		if err := validateReference(reference); err != nil {
			return nil, nil, fmt.Errorf("linked item %d: %w", i, err)
		}
		normalized, ruleWarnings := rules.Normalize(raw.Rules)
		warnings = append(warnings, ruleWarnings...)
		items = append(items, LinkedItem{URL: reference, Rules: normalized})
	}
	return items, warnings, nil
}

func validateReference(reference string) error {
	if reference == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(reference)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("url must be absolute")
	}
	return nil
}
