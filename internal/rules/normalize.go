package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Date layouts accepted for range rule values.
const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04"
)

// Normalize structurally validates a submitted rule set. It never fails:
// unknown rule types are dropped, out-of-range scalars are filtered per type,
// and a rule left with no usable values is omitted. Every degradation is
// reported as a warning so callers can surface it, but the write proceeds.
func Normalize(raw RawRuleSet) (RuleSet, []string) {
	var warnings []string

	logic := LogicAnd
	if strings.EqualFold(strings.TrimSpace(raw.Logic), string(LogicOr)) {
		logic = LogicOr
	}

	normalized := RuleSet{Logic: logic}
	for _, rawRule := range raw.Rules {
		rule, warning, ok := normalizeRule(rawRule)
		if warning != "" {
			warnings = append(warnings, warning)
		}
		if !ok {
			continue
		}
		normalized.Rules = append(normalized.Rules, rule)
	}
	return normalized, warnings
}

func normalizeRule(raw RawRule) (Rule, string, bool) {
	ruleType := Type(strings.TrimSpace(raw.Type))
	switch ruleType {
	case TypeFrontPage, TypeSingular, TypeAuthenticated, TypeAnonymous:
		// Boolean-flag types carry no values.
		return Rule{Type: ruleType}, "", true

	case TypeContentType, TypePathContains:
		values := stringValues(raw.Values)
		if len(values) == 0 {
			return Rule{}, fmt.Sprintf("rule %q ignored: no usable values", raw.Type), false
		}
		return Rule{Type: ruleType, Values: values}, "", true

	case TypeContentID:
		values := intValues(raw.Values, 1, math.MaxInt32)
		if len(values) == 0 {
			return Rule{}, fmt.Sprintf("rule %q ignored: no usable values", raw.Type), false
		}
		return Rule{Type: ruleType, Values: values}, "", true

	case TypeWeek:
		values := intValues(raw.Values, 1, 53)
		if len(values) == 0 {
			return Rule{}, fmt.Sprintf("rule %q ignored: no usable values", raw.Type), false
		}
		return Rule{Type: ruleType, Values: values}, "", true

	case TypeMonth:
		values := intValues(raw.Values, 1, 12)
		if len(values) == 0 {
			return Rule{}, fmt.Sprintf("rule %q ignored: no usable values", raw.Type), false
		}
		return Rule{Type: ruleType, Values: values}, "", true

	case TypeDateRange:
		values := dateValues(raw.Values, dateLayout)
		if len(values) == 0 {
			return Rule{}, fmt.Sprintf("rule %q ignored: no usable values", raw.Type), false
		}
		return Rule{Type: ruleType, Values: values}, "", true

	case TypeDatetimeRange:
		values := dateValues(raw.Values, datetimeLayout)
		if len(values) == 0 {
			return Rule{}, fmt.Sprintf("rule %q ignored: no usable values", raw.Type), false
		}
		return Rule{Type: ruleType, Values: values}, "", true

	default:
		return Rule{}, fmt.Sprintf("rule %q ignored: unknown type", raw.Type), false
	}
}

// stringValues keeps non-empty trimmed strings.
func stringValues(values []any) []string {
	var kept []string
	for _, value := range values {
		text, ok := value.(string)
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		kept = append(kept, text)
	}
	return kept
}

// intValues keeps integer scalars within [min, max] in canonical decimal form.
func intValues(values []any, min, max int64) []string {
	var kept []string
	for _, value := range values {
		parsed, ok := intScalar(value)
		if !ok {
			continue
		}
		if parsed < min || parsed > max {
			continue
		}
		kept = append(kept, strconv.FormatInt(parsed, 10))
	}
	return kept
}

func intScalar(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// dateValues keeps at most two valid date strings for a range rule.
func dateValues(values []any, layout string) []string {
	var kept []string
	for _, value := range values {
		text, ok := value.(string)
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if _, err := time.Parse(layout, text); err != nil {
			continue
		}
		kept = append(kept, text)
		if len(kept) == 2 {
			break
		}
	}
	return kept
}
