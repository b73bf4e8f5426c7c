package rules

import (
	"strings"
	"unicode/utf8"
)

// segment is a piece of the residual text. Locked segments hold canonical
// fragments and are never matched again; cut segments mark a removed span.
type segment struct {
	text   string
	locked bool
	cut    bool

	// guards mark canonical fragments that were already in the question
	guards []guard
}

// guard is a pre-existing occurrence of an entity replacement. It hides the
// occurrence only from literal triggers contained in that replacement, so
// "全链库存" stays final for a "库存" rule while "全链库存" or "{YY}年{M}月"
// rules still see the text.
type guard struct {
	start, end int
	fragment   string
}

// shields reports whether a match of trigger at sp falls inside a guarded
// fragment that contains trigger. Pattern rules pass an empty trigger.
func (s segment) shields(sp span, trigger string) bool {
	if trigger == "" {
		return false
	}
	for _, g := range s.guards {
		if g.start <= sp.start && sp.end <= g.end && strings.Contains(g.fragment, trigger) {
			return true
		}
	}
	return false
}

// guardsWithin returns the guards lying entirely inside [from, to), shifted
// to the new segment start
func (s segment) guardsWithin(from, to int) []guard {
	var out []guard
	for _, g := range s.guards {
		if g.start >= from && g.end <= to {
			out = append(out, guard{start: g.start - from, end: g.end - from, fragment: g.fragment})
		}
	}
	return out
}

// guardLiteral records every existing occurrence of fragment
func guardLiteral(segs []segment, fragment string) []segment {
	for i := range segs {
		s := &segs[i]
		if s.locked {
			continue
		}
		for offset := 0; offset < len(s.text); {
			j := strings.Index(s.text[offset:], fragment)
			if j < 0 {
				break
			}
			start := offset + j
			s.guards = append(s.guards, guard{start: start, end: start + len(fragment), fragment: fragment})
			_, size := utf8.DecodeRuneInString(s.text[start:])
			offset = start + size
		}
	}
	return segs
}

// replaceLiteral substitutes every unlocked, unguarded occurrence of the
// rule's trigger
func replaceLiteral(segs []segment, m *matcher, replacement string) ([]segment, bool) {
	with := segment{text: replacement, locked: true}
	if replacement == "" {
		with = segment{locked: true, cut: true}
	}
	return rewrite(segs, m, m.literal, func(string, captured) segment { return with })
}

// consume removes every match of m from unlocked segments and reports each
// one to fn. The text on either side of a removed span stays in separate
// segments so later rules cannot match across the gap.
func consume(segs []segment, m *matcher, fn func(text string, values captured)) ([]segment, bool) {
	return rewrite(segs, m, m.literal, func(text string, values captured) segment {
		fn(text, values)
		return segment{locked: true, cut: true}
	})
}

// rewrite swaps each match of m for the segment built by with
func rewrite(segs []segment, m *matcher, trigger string, with func(text string, values captured) segment) ([]segment, bool) {
	fired := false
	out := make([]segment, 0, len(segs))

	for _, s := range segs {
		if s.locked {
			out = append(out, s)
			continue
		}

		var matches []span
		for _, sp := range m.findAll(s.text) {
			if !s.shields(sp, trigger) {
				matches = append(matches, sp)
			}
		}
		if len(matches) == 0 {
			out = append(out, s)
			continue
		}
		fired = true

		last := 0
		for _, sp := range matches {
			if sp.start > last {
				out = append(out, segment{text: s.text[last:sp.start], guards: s.guardsWithin(last, sp.start)})
			}
			out = append(out, with(s.text[sp.start:sp.end], sp.values))
			last = sp.end
		}
		if last < len(s.text) {
			out = append(out, segment{text: s.text[last:], guards: s.guardsWithin(last, len(s.text))})
		}
	}

	return out, fired
}

// joinSegments renders the residual text. A space is kept where a removed
// span sat between two digits, otherwise "2|7月|5年" would read as "25年".
func joinSegments(segs []segment) string {
	var b strings.Builder
	pendingCut := false

	for _, s := range segs {
		if s.cut {
			pendingCut = true
			continue
		}
		if s.text == "" {
			continue
		}
		if pendingCut {
			cur := b.String()
			if cur != "" && isDigit(cur[len(cur)-1]) && isDigit(s.text[0]) {
				b.WriteByte(' ')
			}
			pendingCut = false
		}
		b.WriteString(s.text)
	}

	return b.String()
}
