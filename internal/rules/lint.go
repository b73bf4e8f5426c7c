package rules

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Ambiguity describes two rules of equal specificity that can claim the
// same span. The earlier registered rule wins; this is reported for review,
// it never fails a pass.
type Ambiguity struct {
	Winner Rule
	Loser  Rule
	Reason string
}

func (a Ambiguity) String() string {
	return fmt.Sprintf("%q shadows %q: %s", a.Winner.Trigger, a.Loser.Trigger, a.Reason)
}

// Ambiguities lists rule pairs whose precedence comes down to registration order
func Ambiguities(rules []Rule) ([]Ambiguity, error) {
	compiled := make([]*matcher, len(rules))
	for i, r := range rules {
		m, err := compileTrigger(r.Trigger)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Trigger, err)
		}
		compiled[i] = m
	}

	var out []Ambiguity
	for i := range rules {
		for j := i + 1; j < len(rules); j++ {
			a, b := compiled[i], compiled[j]
			if a.minLen != b.minLen {
				continue
			}
			if reason := overlapReason(rules[i], a, rules[j], b); reason != "" {
				out = append(out, Ambiguity{Winner: rules[i], Loser: rules[j], Reason: reason})
			}
		}
	}
	return out, nil
}

func overlapReason(ra Rule, a *matcher, rb Rule, b *matcher) string {
	switch {
	case a.re == nil && b.re == nil:
		if ra.Trigger == rb.Trigger {
			if ra.Table != rb.Table {
				return ""
			}
			return "duplicate trigger"
		}
		if n := sharedEdge(ra.Trigger, rb.Trigger); n > 0 {
			return fmt.Sprintf("triggers overlap on %q", ra.Trigger[len(ra.Trigger)-n:])
		}
		if n := sharedEdge(rb.Trigger, ra.Trigger); n > 0 {
			return fmt.Sprintf("triggers overlap on %q", rb.Trigger[len(rb.Trigger)-n:])
		}
	case a.re != nil && b.re == nil:
		if len(a.findAll(rb.Trigger)) > 0 {
			return "pattern matches the literal trigger"
		}
	case a.re == nil && b.re != nil:
		if len(b.findAll(ra.Trigger)) > 0 {
			return "pattern matches the literal trigger"
		}
	}
	return ""
}

// sharedEdge returns the byte length of the longest proper suffix of a that
// is also a prefix of b, counted on rune boundaries
func sharedEdge(a, b string) int {
	best := 0
	for i := len(a) - 1; i > 0; i-- {
		if !utf8.RuneStart(a[i]) {
			continue
		}
		suffix := a[i:]
		if len(suffix) < len(b) && strings.HasPrefix(b, suffix) {
			best = len(suffix)
		}
	}
	return best
}
