package correct

import (
	"regexp"
	"strings"
)

var (
	whereKeyword = regexp.MustCompile(`(?i)\bWHERE\b`)
	tailKeyword  = regexp.MustCompile(`(?i)\b(?:GROUP\s+BY|ORDER\s+BY|HAVING|LIMIT|UNION)\b`)
	andKeyword   = regexp.MustCompile(`(?i)\s+AND\s+`)
	betweenTail  = regexp.MustCompile(`(?i)\bBETWEEN\s+\S+$`)

	// alias.[column name] or alias.column followed by a comparison
	atomColumn = regexp.MustCompile(`^\s*(?:[A-Za-z_]\w*\.)?(?:\[([^\]]+)\]|([^\s\[\]=<>!()']+))\s*(?:=|<>|!=|>=|<=|>|<|(?i:LIKE|IN|BETWEEN)\b)`)
)

// depths returns the parenthesis depth at every byte of sql, or -1 inside a
// string literal
func depths(sql string) []int {
	d := make([]int, len(sql))
	depth := 0
	inQuote := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if inQuote {
			d[i] = -1
			if c == '\'' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '\'':
			inQuote = true
			d[i] = -1
			continue
		case '(':
			d[i] = depth
			depth++
			continue
		case ')':
			if depth > 0 {
				depth--
			}
		}
		d[i] = depth
	}

	return d
}

// firstTopLevel finds the first match of re at or after from that sits
// outside parentheses and string literals
func firstTopLevel(sql string, d []int, re *regexp.Regexp, from int) (int, int) {
	for _, loc := range re.FindAllStringIndex(sql[from:], -1) {
		start := from + loc[0]
		if d[start] == 0 {
			return start, from + loc[1]
		}
	}
	return -1, -1
}

// whereClause locates the top-level WHERE clause. where is the index of the
// keyword or -1; end is where the clause (or, without one, the FROM part)
// stops: the next tail keyword, a trailing semicolon, or the end of text.
func whereClause(sql string) (where, bodyStart, end int) {
	d := depths(sql)

	where, bodyStart = firstTopLevel(sql, d, whereKeyword, 0)

	limit := len(strings.TrimRight(sql, " \t\r\n;"))
	from := 0
	if where >= 0 {
		from = bodyStart
	}
	end = limit
	if tail, _ := firstTopLevel(sql, d, tailKeyword, from); tail >= 0 && tail < limit {
		end = tail
	}
	if where >= 0 && end < bodyStart {
		end = bodyStart
	}

	return where, bodyStart, end
}

// splitAtoms splits a condition fragment on top-level AND, keeping
// BETWEEN x AND y together
func splitAtoms(fragment string) []string {
	d := depths(fragment)

	var atoms []string
	last := 0
	for _, loc := range andKeyword.FindAllStringIndex(fragment, -1) {
		if d[loc[0]] != 0 {
			continue
		}
		part := fragment[last:loc[0]]
		if betweenTail.MatchString(strings.TrimSpace(part)) {
			continue
		}
		atoms = append(atoms, strings.TrimSpace(part))
		last = loc[1]
	}
	atoms = append(atoms, strings.TrimSpace(fragment[last:]))

	out := atoms[:0]
	for _, a := range atoms {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// columnOf returns the column an atom constrains, or ""
func columnOf(atom string) string {
	m := atomColumn.FindStringSubmatch(atom)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// mentions reports whether text references column as a whole identifier
func mentions(text, column string) bool {
	re := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(column) + `(?:$|[^\p{L}\p{N}_])`)
	return re.MatchString(text)
}

// constrains reports whether any condition atom targets column
func constrains(conditions []string, column string) bool {
	for _, c := range conditions {
		for _, atom := range splitAtoms(c) {
			if strings.EqualFold(columnOf(atom), column) {
				return true
			}
		}
	}
	return false
}
