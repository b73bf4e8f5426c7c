// Package rules rewrites business questions with an ordered table of
// substitution rules before the question is handed to SQL generation.
//
// Entity rules substitute canonical fragments in place. Time rules pull
// standalone WHERE-clause fragments out of the question. Rules run longest
// trigger first so that "25年7月" is consumed before "25年" or "7月" can see it.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies what a rule does with its match
type Kind string

const (
	// KindEntity substitutes the trigger in place
	KindEntity Kind = "entity"
	// KindTime appends a condition fragment and removes the matched span
	KindTime Kind = "time"
)

// Rule is one normalization entry of the business rule table
type Rule struct {
	Trigger     string `json:"trigger" yaml:"trigger"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Replacement string `json:"replacement" yaml:"replacement"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Table       string `json:"table,omitempty" yaml:"table,omitempty"`
}

// IsPattern reports whether the trigger carries {YY} or {M} placeholders
func (r Rule) IsPattern() bool {
	return strings.Contains(r.Trigger, placeholderYear) || strings.Contains(r.Trigger, placeholderMonth)
}

// Result is the outcome of one substitution pass
type Result struct {
	// Residual is the question after entity substitution and time removal
	Residual string `json:"residual"`

	// Conditions are WHERE fragments in rule evaluation order, deduplicated
	Conditions []string `json:"conditions"`

	// Fired lists the rules that matched at least once, in evaluation order
	Fired []Rule `json:"fired,omitempty"`

	// Invalid holds time expressions that matched but failed validation.
	// Their spans are consumed and no fragment is emitted for them.
	Invalid []*InvalidTimeExpressionError `json:"-"`
}

// Err joins the invalid time expressions of the pass, or returns nil
func (r Result) Err() error {
	if len(r.Invalid) == 0 {
		return nil
	}
	errs := make([]error, len(r.Invalid))
	for i, e := range r.Invalid {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// compiledRule is a rule prepared for matching
type compiledRule struct {
	Rule
	m     *matcher
	index int
}

// Snapshot is an immutable, compiled rule table. It is safe for concurrent
// use; Apply never mutates it.
type Snapshot struct {
	rules []compiledRule
}

// Compile validates rules and orders them for evaluation
func Compile(rules []Rule) (*Snapshot, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.Trigger == "" {
			return nil, fmt.Errorf("rule %d: %w", i, ErrEmptyTrigger)
		}
		switch r.Kind {
		case KindEntity:
			if r.IsPattern() {
				return nil, fmt.Errorf("rule %q: entity triggers cannot use placeholders", r.Trigger)
			}
		case KindTime:
		default:
			return nil, fmt.Errorf("rule %q: %w: %q", r.Trigger, ErrUnknownKind, r.Kind)
		}

		m, err := compileTrigger(r.Trigger)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Trigger, err)
		}
		if r.Kind == KindTime {
			if err := m.checkTemplate(r.Replacement); err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Trigger, err)
			}
		}

		compiled = append(compiled, compiledRule{Rule: r, m: m, index: i})
	}

	sortForEvaluation(compiled)

	return &Snapshot{rules: compiled}, nil
}

// MustCompile is like Compile but panics on error. Intended for static tables.
func MustCompile(rules []Rule) *Snapshot {
	s, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return s
}

// Rules returns the rules in evaluation order
func (s *Snapshot) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Rule
	}
	return out
}

// Len returns the number of rules in the snapshot
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// sortForEvaluation orders rules by descending specificity. Rules sharing a
// trigger are grouped at the position of the first one registered, with
// table-specific rules ahead of general ones. Everything else keeps
// registration order.
func sortForEvaluation(rules []compiledRule) {
	firstSeen := make(map[string]int, len(rules))
	for _, r := range rules {
		if _, ok := firstSeen[r.Trigger]; !ok {
			firstSeen[r.Trigger] = r.index
		}
	}

	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.m.minLen != b.m.minLen {
			return a.m.minLen > b.m.minLen
		}
		ga, gb := firstSeen[a.Trigger], firstSeen[b.Trigger]
		if ga != gb {
			return ga < gb
		}
		sa, sb := a.Table != "", b.Table != ""
		if sa != sb {
			return sa
		}
		return a.index < b.index
	})
}

// Option configures a single Apply call
type Option func(*applyOptions)

type applyOptions struct {
	table string
}

// WithTable restricts the pass to general rules and rules bound to table
func WithTable(table string) Option {
	return func(o *applyOptions) {
		o.table = table
	}
}

// Apply compiles rules and runs one substitution pass over question
func Apply(question string, rules []Rule, opts ...Option) (Result, error) {
	s, err := Compile(rules)
	if err != nil {
		return Result{}, err
	}
	return s.Apply(question, opts...), nil
}

// Apply runs one substitution pass over question
func (s *Snapshot) Apply(question string, opts ...Option) Result {
	var o applyOptions
	for _, opt := range opts {
		opt(&o)
	}

	active := s.active(o.table)

	segs := []segment{{text: question}}

	// Canonical fragments already in the text are final for the shorter
	// triggers they contain, so a second pass over our own output leaves it alone.
	for _, r := range active {
		if r.Kind == KindEntity && r.Replacement != "" {
			segs = guardLiteral(segs, r.Replacement)
		}
	}

	res := Result{Conditions: []string{}}
	seen := make(map[string]bool)

	for _, r := range active {
		var fired bool
		switch r.Kind {
		case KindEntity:
			segs, fired = replaceLiteral(segs, r.m, r.Replacement)

		case KindTime:
			segs, fired = consume(segs, r.m, func(text string, values captured) {
				fragment, err := render(r.Rule, text, values)
				if err != nil {
					res.Invalid = append(res.Invalid, err)
					return
				}
				if !seen[fragment] {
					seen[fragment] = true
					res.Conditions = append(res.Conditions, fragment)
				}
			})
		}
		if fired {
			res.Fired = append(res.Fired, r.Rule)
		}
	}

	res.Residual = joinSegments(segs)
	return res
}

// active returns the rules that apply for the target table, in evaluation order
func (s *Snapshot) active(table string) []compiledRule {
	if table == "" {
		return s.rules
	}
	out := make([]compiledRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Table != "" && r.Table != table {
			continue
		}
		out = append(out, r)
	}
	return out
}
