package model

import "time"

// Answer is the result of asking one business question
type Answer struct {
	Question   string       `json:"question"`
	Residual   string       `json:"residual"`              // Question after rule substitution
	Conditions []string     `json:"conditions"`            // WHERE fragments pulled out by time rules
	FiredRules []string     `json:"fired_rules,omitempty"` // Triggers that matched, in evaluation order
	SQL        string       `json:"sql,omitempty"`         // Corrected SQL
	RawSQL     string       `json:"raw_sql,omitempty"`     // SQL as the provider returned it
	Patches    []string     `json:"patches,omitempty"`     // Corrector patches that changed the SQL
	Missing    string       `json:"missing,omitempty"`     // Information the provider reported as missing
	Source     AnswerSource `json:"source"`
	Provider   string       `json:"provider,omitempty"`
	Model      string       `json:"model,omitempty"`
	Score      *Score       `json:"score,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
	TokensUsed int          `json:"tokens_used,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// AnswerSource tells where the SQL of an answer came from
type AnswerSource string

const (
	SourceHistory  AnswerSource = "history"  // Approved SQL for the same question
	SourceCache    AnswerSource = "cache"    // Generated earlier for the same rewrite
	SourceLLM      AnswerSource = "llm"      // Generated by the provider for this call
	SourceRules    AnswerSource = "rules"    // No provider; rewrite only
	SourceExternal AnswerSource = "external" // SQL supplied by the caller
)

// Feedback is a user verdict on generated SQL
type Feedback string

const (
	FeedbackNone      Feedback = ""
	FeedbackCorrect   Feedback = "correct"
	FeedbackIncorrect Feedback = "incorrect"
)

// Valid reports whether f is a known verdict
func (f Feedback) Valid() bool {
	switch f {
	case FeedbackNone, FeedbackCorrect, FeedbackIncorrect:
		return true
	}
	return false
}

// Evaluation is one scored SQL statement as kept in history
type Evaluation struct {
	ID          int64     `json:"id"`
	Question    string    `json:"question"`
	SQL         string    `json:"sql"`
	Score       int       `json:"score"`
	IsCorrect   bool      `json:"is_correct"`
	Issues      []string  `json:"issues"`
	Suggestions []string  `json:"suggestions"`
	Feedback    Feedback  `json:"feedback,omitempty"`
	UsageCount  int       `json:"usage_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats summarizes the evaluation history
type Stats struct {
	TotalEvaluations int     `json:"total_evaluations"`
	AverageScore     float64 `json:"average_score"`
	CorrectRate      float64 `json:"correct_rate"` // Percent of evaluations judged correct
	CacheSize        int     `json:"cache_size"`
	TotalCacheUsage  int     `json:"total_cache_usage"`
}
