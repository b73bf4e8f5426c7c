package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTimeExpression marks a time match whose captured value is out of range
	ErrInvalidTimeExpression = errors.New("invalid time expression")

	// ErrEmptyTrigger is returned when a rule has no trigger text
	ErrEmptyTrigger = errors.New("empty trigger")

	// ErrUnknownKind is returned for rule kinds other than entity and time
	ErrUnknownKind = errors.New("unknown rule kind")

	// ErrUnknownPlaceholder is returned for {X} tokens the engine does not define
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
)

// InvalidTimeExpressionError describes a time match that was dropped
type InvalidTimeExpressionError struct {
	Trigger string // rule trigger that matched
	Text    string // matched span of the question
	Field   string // "year" or "month"
	Value   string // captured digits
}

// Error returns a readable description of the rejected match
func (e *InvalidTimeExpressionError) Error() string {
	return fmt.Sprintf("invalid time expression %q (rule %q): %s %s out of range", e.Text, e.Trigger, e.Field, e.Value)
}

// Is lets errors.Is match ErrInvalidTimeExpression
func (e *InvalidTimeExpressionError) Is(target error) bool {
	return target == ErrInvalidTimeExpression
}
