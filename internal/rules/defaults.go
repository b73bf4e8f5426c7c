package rules

// DefaultTimeRules returns the built-in year/month patterns. They are
// registered after the configured table, so a literal rule of the same
// length still wins on a tie.
func DefaultTimeRules() []Rule {
	return []Rule{
		{
			Trigger:     "{YY}年{M}月",
			Kind:        KindTime,
			Replacement: "自然年={year} AND 财月={month}",
			Description: "two-digit year with month, e.g. 25年7月",
		},
		{
			Trigger:     "{YY}年",
			Kind:        KindTime,
			Replacement: "自然年={year}",
			Description: "two-digit year, e.g. 25年",
		},
		{
			Trigger:     "{M}月",
			Kind:        KindTime,
			Replacement: "财月={month}",
			Description: "fiscal month, e.g. 7月",
		},
	}
}

// WithDefaults appends the built-in time patterns to rules
func WithDefaults(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules)+3)
	out = append(out, rules...)
	return append(out, DefaultTimeRules()...)
}
