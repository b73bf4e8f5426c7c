package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Trigger placeholders and the replacement tokens they feed
const (
	placeholderYear  = "{YY}"
	placeholderMonth = "{M}"

	tokenYear  = "{year}"
	tokenMonth = "{month}"

	fieldYear  = "year"
	fieldMonth = "month"
)

var placeholderToken = regexp.MustCompile(`\{[A-Za-z]+\}`)

// captured holds the raw digits a pattern trigger matched
type captured struct {
	year  string
	month string
}

// span is one match inside a segment
type span struct {
	start, end int
	values     captured
}

// matcher finds trigger occurrences. Literal triggers use substring search,
// pattern triggers a compiled regexp.
type matcher struct {
	literal string
	re      *regexp.Regexp
	groups  []string
	minLen  int // minimum match length in runes
}

func compileTrigger(trigger string) (*matcher, error) {
	locs := placeholderToken.FindAllStringIndex(trigger, -1)
	if len(locs) == 0 {
		return &matcher{literal: trigger, minLen: utf8.RuneCountInString(trigger)}, nil
	}

	m := &matcher{}
	var b strings.Builder
	seen := make(map[string]bool)
	last := 0

	for _, loc := range locs {
		lit := trigger[last:loc[0]]
		b.WriteString(regexp.QuoteMeta(lit))
		m.minLen += utf8.RuneCountInString(lit)

		tok := trigger[loc[0]:loc[1]]
		if seen[tok] {
			return nil, fmt.Errorf("placeholder %s used twice", tok)
		}
		seen[tok] = true

		switch tok {
		case placeholderYear:
			b.WriteString(`(\d{2})`)
			m.groups = append(m.groups, fieldYear)
			m.minLen += 2
		case placeholderMonth:
			b.WriteString(`(\d{1,2})`)
			m.groups = append(m.groups, fieldMonth)
			m.minLen++
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlaceholder, tok)
		}
		last = loc[1]
	}

	tail := trigger[last:]
	b.WriteString(regexp.QuoteMeta(tail))
	m.minLen += utf8.RuneCountInString(tail)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile trigger: %w", err)
	}
	m.re = re

	return m, nil
}

func (m *matcher) has(field string) bool {
	for _, g := range m.groups {
		if g == field {
			return true
		}
	}
	return false
}

// checkTemplate rejects replacement tokens the trigger cannot fill
func (m *matcher) checkTemplate(tpl string) error {
	if strings.Contains(tpl, tokenYear) && !m.has(fieldYear) {
		return fmt.Errorf("replacement uses %s but trigger has no %s", tokenYear, placeholderYear)
	}
	if strings.Contains(tpl, tokenMonth) && !m.has(fieldMonth) {
		return fmt.Errorf("replacement uses %s but trigger has no %s", tokenMonth, placeholderMonth)
	}
	return nil
}

// findAll returns non-overlapping matches in text, left to right
func (m *matcher) findAll(text string) []span {
	if m.re == nil {
		var out []span
		for offset := 0; ; {
			i := strings.Index(text[offset:], m.literal)
			if i < 0 {
				return out
			}
			start := offset + i
			out = append(out, span{start: start, end: start + len(m.literal)})
			offset = start + len(m.literal)
		}
	}

	var out []span
	for _, loc := range m.re.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]

		// Digit placeholders never match inside a longer number: "2025年" is not "25年".
		if start > 0 && isDigit(text[start-1]) && isDigit(text[start]) {
			continue
		}
		if end < len(text) && isDigit(text[end]) && isDigit(text[end-1]) {
			continue
		}

		sp := span{start: start, end: end}
		for i, field := range m.groups {
			value := text[loc[2+2*i]:loc[3+2*i]]
			switch field {
			case fieldYear:
				sp.values.year = value
			case fieldMonth:
				sp.values.month = value
			}
		}
		out = append(out, sp)
	}
	return out
}

// render fills the replacement template of a time rule
func render(r Rule, text string, v captured) (string, *InvalidTimeExpressionError) {
	var pairs []string

	if v.year != "" {
		pairs = append(pairs, tokenYear, "20"+v.year)
	}
	if v.month != "" {
		n, err := strconv.Atoi(v.month)
		if err != nil || n < 1 || n > 12 {
			return "", &InvalidTimeExpressionError{
				Trigger: r.Trigger,
				Text:    text,
				Field:   fieldMonth,
				Value:   v.month,
			}
		}
		pairs = append(pairs, tokenMonth, fmt.Sprintf("'%d月'", n))
	}

	if len(pairs) == 0 {
		return r.Replacement, nil
	}
	return strings.NewReplacer(pairs...).Replace(r.Replacement), nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
