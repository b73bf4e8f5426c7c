package correct

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Columns the time rules constrain
const (
	columnYear  = "自然年"
	columnMonth = "财月"
)

const getdate = `GETDATE\s*\(\s*\)`

var (
	codeFence = regexp.MustCompile("(?s)```(?:[A-Za-z]+[ \t]*\r?\n|[ \t]*\r?\n?)(.*?)```")

	// [自然年] = YEAR(GETDATE()) or the fiscal-year CASE on GETDATE()
	currentYear = predicate(columnYear,
		`(?:YEAR\s*\(\s*`+getdate+`\s*\)`+
			`|\(\s*CASE\s+WHEN\s+MONTH\s*\(\s*`+getdate+`\s*\)\s*>=\s*\d+\s+THEN\s+YEAR\s*\(\s*`+getdate+`\s*\)\s+ELSE\s+YEAR\s*\(\s*`+getdate+`\s*\)\s*-\s*1\s+END\s*\))`)

	// [财月] = CAST(MONTH(GETDATE()) AS VARCHAR) + '月'
	currentMonth = predicate(columnMonth,
		`CAST\s*\(\s*MONTH\s*\(\s*`+getdate+`\s*\)\s+AS\s+N?VARCHAR(?:\s*\(\s*\d+\s*\))?\s*\)\s*\+\s*N?'月'`)

	// [财月] = '20257' or '202507'
	numericMonth = regexp.MustCompile(`((?:[A-Za-z_]\w*\.)?\[?` + columnMonth + `\]?\s*=\s*)N?'20\d{2}(\d{1,2})'`)
)

// DefaultPatches returns the built-in repairs in application order
func DefaultPatches() []Patch {
	return []Patch{
		{
			Name:    "strip-code-fence",
			Applies: func(sql string, _ []string) bool { return strings.Contains(sql, "```") },
			Apply:   stripCodeFence,
		},
		{
			Name: "drop-current-year",
			Applies: func(sql string, conds []string) bool {
				return constrains(conds, columnYear) && currentYear.match(sql)
			},
			Apply: func(sql string, _ []string) string { return currentYear.remove(sql) },
		},
		{
			Name: "drop-current-month",
			Applies: func(sql string, conds []string) bool {
				return constrains(conds, columnMonth) && currentMonth.match(sql)
			},
			Apply: func(sql string, _ []string) string { return currentMonth.remove(sql) },
		},
		{
			Name:    "numeric-month-literal",
			Applies: func(sql string, _ []string) bool { return numericMonth.MatchString(sql) },
			Apply:   fixNumericMonth,
		},
		{
			Name:    "append-conditions",
			Applies: func(_ string, conds []string) bool { return len(conds) > 0 },
			Apply:   appendConditions,
		},
	}
}

// stripCodeFence returns the body of the first fenced block, or the text with
// stray fence markers removed
func stripCodeFence(sql string, _ []string) string {
	if m := codeFence.FindStringSubmatch(sql); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(strings.ReplaceAll(sql, "```", ""))
}

func fixNumericMonth(sql string, _ []string) string {
	return numericMonth.ReplaceAllStringFunc(sql, func(match string) string {
		m := numericMonth.FindStringSubmatch(match)
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 || n > 12 {
			return match
		}
		return fmt.Sprintf("%s'%d月'", m[1], n)
	})
}

// appendConditions adds every condition atom whose column the WHERE clause
// does not reference yet. Without a WHERE clause one is created in front of
// GROUP BY, ORDER BY, HAVING or LIMIT.
func appendConditions(sql string, conditions []string) string {
	where, bodyStart, end := whereClause(sql)

	body := ""
	if where >= 0 {
		body = sql[bodyStart:end]
	}

	var missing []string
	seen := make(map[string]bool)
	for _, c := range conditions {
		for _, atom := range splitAtoms(c) {
			if seen[atom] {
				continue
			}
			seen[atom] = true

			col := columnOf(atom)
			switch {
			case col != "" && mentions(body, col):
				continue
			case col == "" && strings.Contains(body, atom):
				continue
			}
			missing = append(missing, atom)
		}
	}
	if len(missing) == 0 {
		return sql
	}

	at := end
	for at > 0 && isSpace(sql[at-1]) {
		at--
	}

	joined := strings.Join(missing, " AND ")
	if where >= 0 && strings.TrimSpace(body) != "" {
		return sql[:at] + " AND " + joined + sql[at:]
	}
	if where >= 0 {
		return sql[:at] + " " + joined + sql[at:]
	}
	return sql[:at] + " WHERE " + joined + sql[at:]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// columnPredicate removes one kind of predicate on a column together with the
// AND or WHERE that joins it to the rest of the clause
type columnPredicate struct {
	any       *regexp.Regexp
	andBefore *regexp.Regexp
	andAfter  *regexp.Regexp
	sole      *regexp.Regexp
}

func predicate(column, value string) *columnPredicate {
	p := `(?:[A-Za-z_]\w*\.)?\[?` + column + `\]?\s*=\s*` + value
	return &columnPredicate{
		any:       regexp.MustCompile(`(?i)` + p),
		andBefore: regexp.MustCompile(`(?i)\s+AND\s+` + p),
		andAfter:  regexp.MustCompile(`(?i)` + p + `\s+AND\s+`),
		sole:      regexp.MustCompile(`(?i)\s*\bWHERE\s+` + p),
	}
}

func (c *columnPredicate) match(sql string) bool {
	return c.any.MatchString(sql)
}

func (c *columnPredicate) remove(sql string) string {
	sql = c.andBefore.ReplaceAllString(sql, "")
	sql = c.andAfter.ReplaceAllString(sql, "")
	return c.sole.ReplaceAllString(sql, "")
}
