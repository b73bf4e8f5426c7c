package model

// Score is the transparent quality breakdown of one generated SQL statement
type Score struct {
	Index       int                `json:"index"`        // Weighted quality index (0-100)
	IsCorrect   bool               `json:"is_correct"`   // Index over threshold and no critical signal
	ShouldCache bool               `json:"should_cache"` // Correct, or confirmed correct by a user
	Components  map[string]float64 `json:"components"`   // Per-check score (0-1) before weighting
	Signals     []Signal           `json:"signals"`      // Diagnostic signals with transparent data
	Suggestions []string           `json:"suggestions,omitempty"`
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`           // Signal classification
	Severity    SignalSeverity         `json:"severity"`       // info, warning, critical
	Description string                 `json:"description"`    // Human-readable description
	Data        map[string]interface{} `json:"data,omitempty"` // Transparent scoring data (formulas, inputs)
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalSyntax      SignalType = "syntax"      // SELECT shape, balanced parentheses and quotes
	SignalBusiness    SignalType = "business"    // Business rule fragments present and well formed
	SignalPerformance SignalType = "performance" // WHERE present, JOINs have ON
	SignalStructure   SignalType = "structure"   // Referenced tables exist
	SignalMissing     SignalType = "missing"     // Generator reported missing information
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// HasCritical reports whether any signal is critical
func (s Score) HasCritical() bool {
	for _, sig := range s.Signals {
		if sig.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Issues renders warning and critical signals the way evaluation history
// stores them: "ERROR: ..." and "WARNING: ..."
func (s Score) Issues() []string {
	var out []string
	for _, sig := range s.Signals {
		switch sig.Severity {
		case SeverityCritical:
			out = append(out, "ERROR: "+sig.Description)
		case SeverityWarning:
			out = append(out, "WARNING: "+sig.Description)
		}
	}
	return out
}
