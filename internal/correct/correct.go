// Package correct repairs generated SQL with an ordered list of patches.
//
// Each patch is a pure (predicate, transform) pair over the SQL text and the
// condition fragments produced by rule substitution. Patches run left to
// right and every default patch is idempotent, so correcting corrected SQL
// changes nothing.
package correct

// Patch is one named repair
type Patch struct {
	// Name identifies the patch in traces and logs
	Name string

	// Applies reports whether Apply should run. Nil means always.
	Applies func(sql string, conditions []string) bool

	// Apply returns the repaired SQL
	Apply func(sql string, conditions []string) string
}

// Corrector applies patches in order
type Corrector struct {
	patches []Patch
}

// New creates a corrector from patches, applied in the given order
func New(patches ...Patch) *Corrector {
	return &Corrector{patches: patches}
}

// Default returns a corrector with the built-in patches
func Default() *Corrector {
	return New(DefaultPatches()...)
}

// Correct applies every patch to sql
func (c *Corrector) Correct(sql string, conditions []string) string {
	out, _ := c.Explain(sql, conditions)
	return out
}

// Explain applies every patch and also returns the names of the patches
// that changed the SQL
func (c *Corrector) Explain(sql string, conditions []string) (string, []string) {
	var applied []string
	for _, p := range c.patches {
		if p.Applies != nil && !p.Applies(sql, conditions) {
			continue
		}
		out := p.Apply(sql, conditions)
		if out != sql {
			applied = append(applied, p.Name)
		}
		sql = out
	}
	return sql, applied
}

// Names lists the patches in application order
func (c *Corrector) Names() []string {
	names := make([]string, len(c.patches))
	for i, p := range c.patches {
		names[i] = p.Name
	}
	return names
}

var defaultCorrector = Default()

// Correct applies the built-in patches
func Correct(sql string, conditions []string) string {
	return defaultCorrector.Correct(sql, conditions)
}
