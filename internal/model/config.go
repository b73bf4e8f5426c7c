package model

import "time"

// Config is the complete text2sql configuration tree
type Config struct {
	Rules        RulesConfig        `yaml:"rules" mapstructure:"rules"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	History      HistoryConfig      `yaml:"history" mapstructure:"history"`
	Score        ScoreConfig        `yaml:"score" mapstructure:"score"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
}

// RulesConfig locates the business rule table
type RulesConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`                         // business_rules.json or rules.yaml
	BuiltinTime bool   `yaml:"builtin_time" mapstructure:"builtin_time"`         // Append {YY}年{M}月, {YY}年, {M}月 patterns
	Table       string `yaml:"table,omitempty" mapstructure:"table"`             // Target table for table-bound rules
	SchemaPath  string `yaml:"schema_path,omitempty" mapstructure:"schema_path"` // Optional schema description handed to the LLM
}

// LLMConfig configures the SQL generation provider
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // openai, deepseek, anthropic, ollama, "" (disabled)
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	HTTPProxy   string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy  string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy     string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig configures the generated-SQL cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// HistoryConfig configures the evaluation history database
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver  string `yaml:"driver" mapstructure:"driver"` // sqlite3, postgres, mysql
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// ScoreConfig tunes the SQL quality scorer
type ScoreConfig struct {
	PassThreshold int      `yaml:"pass_threshold" mapstructure:"pass_threshold"`
	ValidTables   []string `yaml:"valid_tables" mapstructure:"valid_tables"`
	SingleTable   string   `yaml:"single_table" mapstructure:"single_table"` // Table that answers supply questions without JOINs
}

// ConcurrencyConfig controls batch parallelism
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RateLimitingConfig throttles provider calls. Providers overrides the
// default rate per provider name; Delay pauses after each granted call.
type RateLimitingConfig struct {
	RequestsPerSecond float64                 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int                     `yaml:"burst" mapstructure:"burst"`
	Delay             time.Duration           `yaml:"delay" mapstructure:"delay"`
	Providers         map[string]ProviderRate `yaml:"providers,omitempty" mapstructure:"providers"`
}

// ProviderRate is the rate limit of a single provider
type ProviderRate struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string        `yaml:"addr" mapstructure:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	return Config{
		Rules: RulesConfig{
			Path:        "business_rules.json",
			BuiltinTime: true,
		},
		LLM: LLMConfig{
			Provider:    "", // Disabled until a key or endpoint is configured
			Timeout:     60,
			MaxTokens:   1000,
			Temperature: 0.1,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".text2sql/cache",
			MemoryTTL: time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		History: HistoryConfig{
			Enabled: true,
			Driver:  "sqlite3",
			DSN:     "sql_cache.db",
		},
		Score: ScoreConfig{
			PassThreshold: 80,
			ValidTables:   []string{"dtsupply_summary", "CONPD", "备货NY"},
			SingleTable:   "dtsupply_summary",
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 90 * time.Second,
		},
	}
}
