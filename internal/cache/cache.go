package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey generates a cache key from the parts that determine generated
// SQL: rewritten question, condition fragments, provider and model
func CacheKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return "text2sql:v1:" + hex.EncodeToString(hash[:])
}

// Entry is one cached generation
type Entry struct {
	SQL        string    `json:"sql"`
	RawSQL     string    `json:"raw_sql,omitempty"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetEntry loads and decodes an entry; undecodable values count as misses
func GetEntry(c Cache, key string) (Entry, bool) {
	data, ok := c.Get(key)
	if !ok {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.SQL == "" {
		return Entry{}, false
	}
	return e, true
}

// PutEntry encodes and stores an entry with the cache's default TTL
func PutEntry(c Cache, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return c.Set(key, data, 0)
}
