// Package rules implements the conditional rule engine that decides whether a
// stored snippet applies to a given request. It has two entry points over the
// same RuleSet type: Normalize (structural validation at write time) and
// Evaluate (applicability at read time).
package rules

// Logic combines the outcomes of individual rules in a set.
type Logic string

const (
	// LogicAnd requires every rule to match.
	LogicAnd Logic = "and"
	// LogicOr requires at least one rule to match.
	LogicOr Logic = "or"
)

// Type identifies the kind of a rule.
type Type string

// The closed set of recognized rule types. Anything else submitted by a
// caller is dropped during normalization.
const (
	// TypeFrontPage matches the site front page.
	TypeFrontPage Type = "front_page"
	// TypeSingular matches any singular content view.
	TypeSingular Type = "singular"
	// TypeContentType matches singular views of the listed content types.
	TypeContentType Type = "content_type"
	// TypeContentID matches views of the listed numeric content identifiers.
	TypeContentID Type = "content_id"
	// TypePathContains matches when the request path contains a listed substring.
	TypePathContains Type = "path_contains"
	// TypeAuthenticated matches signed-in visitors.
	TypeAuthenticated Type = "authenticated"
	// TypeAnonymous matches signed-out visitors.
	TypeAnonymous Type = "anonymous"
	// TypeDateRange matches dates between an inclusive start and optional end.
	TypeDateRange Type = "date_range"
	// TypeDatetimeRange is TypeDateRange with time-of-day resolution.
	TypeDatetimeRange Type = "datetime_range"
	// TypeWeek matches the listed ISO week numbers.
	TypeWeek Type = "week"
	// TypeMonth matches the listed calendar months.
	TypeMonth Type = "month"
)

// Rule is a single normalized condition. The shape of Values depends on Type:
// empty for the boolean-flag types, one or two date strings for the range
// types, and an arbitrary-length list for the membership types. Values are
// stored in canonical string form regardless of the submitted scalar type.
type Rule struct {
	Type   Type     `json:"type"`
	Values []string `json:"values,omitempty"`
}

// RuleSet is a logic combinator over an ordered list of rules. An empty rule
// list means "no restriction": the set always applies.
type RuleSet struct {
	Logic Logic  `json:"logic"`
	Rules []Rule `json:"rules,omitempty"`
}

// RawRule is a rule as submitted by a caller, before structural validation.
// Values may be JSON numbers or strings.
type RawRule struct {
	Type   string `json:"type"`
	Values []any  `json:"values"`
}

// RawRuleSet is a rule set as submitted by a caller.
type RawRuleSet struct {
	Logic string    `json:"logic"`
	Rules []RawRule `json:"rules"`
}

// Always returns a rule set that applies to every request.
func Always() RuleSet {
	return RuleSet{Logic: LogicAnd}
}

// Equal reports whether two rule sets are structurally identical, including
// rule order.
func Equal(a, b RuleSet) bool {
	if a.Logic != b.Logic || len(a.Rules) != len(b.Rules) {
		return false
	}
	for i := range a.Rules {
		if a.Rules[i].Type != b.Rules[i].Type {
			return false
		}
		if len(a.Rules[i].Values) != len(b.Rules[i].Values) {
			return false
		}
		for j := range a.Rules[i].Values {
			if a.Rules[i].Values[j] != b.Rules[i].Values[j] {
				return false
			}
		}
	}
	return true
}
