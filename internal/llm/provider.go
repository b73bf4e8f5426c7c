package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse is returned when the model answers with no SQL and no MISSING line
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrMissingAPIKey is returned when a hosted provider has no key
	ErrMissingAPIKey = errors.New("API key is required")
)

// Provider defines the interface for SQL generation services
type Provider interface {
	// Name returns the provider name
	Name() string

	// GenerateSQL turns a (pre-normalized) question into candidate SQL
	GenerateSQL(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// GenerateRequest contains the input for SQL generation
type GenerateRequest struct {
	// Question is the question as the user asked it
	Question string

	// Residual is the question after business rule substitution
	Residual string

	// Conditions are WHERE fragments the SQL must carry
	Conditions []string

	// Glossary maps triggers that fired to their canonical fragments
	Glossary []GlossaryEntry

	// Schema is a free-text description of the queryable tables
	Schema string

	// Examples are approved question/SQL pairs
	Examples []Example

	// Prompt is an optional custom prompt (if empty, BuildPrompt is used)
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// GlossaryEntry is one business term and what it means in SQL
type GlossaryEntry struct {
	Term    string
	Meaning string
}

// Example is an approved question with its SQL
type Example struct {
	Question string
	SQL      string
}

// GenerateResponse contains the model's answer
type GenerateResponse struct {
	// SQL is the extracted statement, empty when Missing is set
	SQL string

	// Missing is what the model said it needs to answer
	Missing string

	// Raw is the unprocessed model output
	Raw string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "deepseek", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for hosted providers
	APIKey string

	// BaseURL for custom endpoints (e.g., DeepSeek, Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Temperature for sampling; SQL generation wants it low
	Temperature float32

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "", // Disabled by default
		Timeout:     60,
		MaxTokens:   1000,
		Temperature: 0.1,
	}
}

func (c Config) maxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1000
}
