package rules

import (
	"strconv"
	"strings"
	"time"
)

// ViewContext is a read-only snapshot of request-time facts the evaluator
// needs. Now must already be in the site's configured time zone.
type ViewContext struct {
	FrontPage     bool
	Singular      bool
	ContentType   string
	ContentID     int
	Path          string
	Authenticated bool
	Now           time.Time
}

// Evaluate reports whether the rule set applies to the given request context.
// An empty rule list means no restriction and always evaluates true. AND
// short-circuits on the first false rule, OR on the first true one.
func Evaluate(set RuleSet, view ViewContext) bool {
	if len(set.Rules) == 0 {
		return true
	}

	for _, rule := range set.Rules {
		matched := ruleMatches(rule, view)
		if set.Logic == LogicOr {
			if matched {
				return true
			}
			continue
		}
		if !matched {
			return false
		}
	}
	return set.Logic != LogicOr
}

func ruleMatches(rule Rule, view ViewContext) bool {
	switch rule.Type {
	case TypeFrontPage:
		return view.FrontPage
	case TypeSingular:
		return view.Singular
	case TypeContentType:
		if !view.Singular {
			return false
		}
		return containsString(rule.Values, view.ContentType)
	case TypeContentID:
		return containsString(rule.Values, strconv.Itoa(view.ContentID))
	case TypePathContains:
		for _, fragment := range rule.Values {
			if strings.Contains(view.Path, fragment) {
				return true
			}
		}
		return false
	case TypeAuthenticated:
		return view.Authenticated
	case TypeAnonymous:
		return !view.Authenticated
	case TypeDateRange:
		return inRange(rule.Values, view.Now, dateLayout)
	case TypeDatetimeRange:
		return inRange(rule.Values, view.Now, datetimeLayout)
	case TypeWeek:
		_, week := view.Now.ISOWeek()
		return containsString(rule.Values, strconv.Itoa(week))
	case TypeMonth:
		return containsString(rule.Values, strconv.Itoa(int(view.Now.Month())))
	default:
		// Normalize drops unknown types; a stray one never matches.
		return false
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

// inRange checks an inclusive [start, optional end] range. Bounds are
// canonical layout strings, so comparing the formatted current time
// lexicographically is equivalent to comparing instants.
func inRange(values []string, now time.Time, layout string) bool {
	if len(values) == 0 {
		return false
	}
	current := now.Format(layout)
	if current < values[0] {
		return false
	}
	if len(values) > 1 && current > values[1] {
		return false
	}
	return true
}
