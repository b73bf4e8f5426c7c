package history

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// dialect holds the per-database pieces of SQL
type dialect struct {
	name   string
	schema []string
	upsert string
	dollar bool // $1 placeholders instead of ?
}

var dialects = map[string]dialect{
	"sqlite3": {
		name: "sqlite3",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS sql_cache (
				id INTEGER PRIMARY KEY,
				question_hash TEXT NOT NULL UNIQUE,
				question TEXT NOT NULL,
				sql_text TEXT NOT NULL,
				score INTEGER NOT NULL,
				is_correct BOOLEAN NOT NULL,
				issues TEXT NOT NULL,
				suggestions TEXT NOT NULL,
				created_time TIMESTAMP NOT NULL,
				usage_count INTEGER NOT NULL DEFAULT 0,
				user_feedback TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS evaluation_history (
				id INTEGER PRIMARY KEY,
				question_hash TEXT NOT NULL,
				question TEXT NOT NULL,
				sql_text TEXT NOT NULL,
				score INTEGER NOT NULL,
				is_correct BOOLEAN NOT NULL,
				issues TEXT NOT NULL,
				suggestions TEXT NOT NULL,
				evaluation_time TIMESTAMP NOT NULL,
				user_feedback TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_evaluation_history_question ON evaluation_history (question_hash)`,
		},
		upsert: `ON CONFLICT (question_hash) DO UPDATE SET
			question = excluded.question,
			sql_text = excluded.sql_text,
			score = excluded.score,
			is_correct = excluded.is_correct,
			issues = excluded.issues,
			suggestions = excluded.suggestions,
			user_feedback = excluded.user_feedback`,
	},
	"postgres": {
		name: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS sql_cache (
				id BIGINT PRIMARY KEY,
				question_hash VARCHAR(64) NOT NULL UNIQUE,
				question TEXT NOT NULL,
				sql_text TEXT NOT NULL,
				score INTEGER NOT NULL,
				is_correct BOOLEAN NOT NULL,
				issues TEXT NOT NULL,
				suggestions TEXT NOT NULL,
				created_time TIMESTAMPTZ NOT NULL,
				usage_count INTEGER NOT NULL DEFAULT 0,
				user_feedback VARCHAR(16) NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS evaluation_history (
				id BIGINT PRIMARY KEY,
				question_hash VARCHAR(64) NOT NULL,
				question TEXT NOT NULL,
				sql_text TEXT NOT NULL,
				score INTEGER NOT NULL,
				is_correct BOOLEAN NOT NULL,
				issues TEXT NOT NULL,
				suggestions TEXT NOT NULL,
				evaluation_time TIMESTAMPTZ NOT NULL,
				user_feedback VARCHAR(16) NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_evaluation_history_question ON evaluation_history (question_hash)`,
		},
		upsert: `ON CONFLICT (question_hash) DO UPDATE SET
			question = EXCLUDED.question,
			sql_text = EXCLUDED.sql_text,
			score = EXCLUDED.score,
			is_correct = EXCLUDED.is_correct,
			issues = EXCLUDED.issues,
			suggestions = EXCLUDED.suggestions,
			user_feedback = EXCLUDED.user_feedback`,
		dollar: true,
	},
	"mysql": {
		name: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS sql_cache (
				id BIGINT PRIMARY KEY,
				question_hash VARCHAR(64) NOT NULL UNIQUE,
				question TEXT NOT NULL,
				sql_text TEXT NOT NULL,
				score INT NOT NULL,
				is_correct BOOLEAN NOT NULL,
				issues TEXT NOT NULL,
				suggestions TEXT NOT NULL,
				created_time DATETIME(6) NOT NULL,
				usage_count INT NOT NULL DEFAULT 0,
				user_feedback VARCHAR(16) NOT NULL DEFAULT ''
			) DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS evaluation_history (
				id BIGINT PRIMARY KEY,
				question_hash VARCHAR(64) NOT NULL,
				question TEXT NOT NULL,
				sql_text TEXT NOT NULL,
				score INT NOT NULL,
				is_correct BOOLEAN NOT NULL,
				issues TEXT NOT NULL,
				suggestions TEXT NOT NULL,
				evaluation_time DATETIME(6) NOT NULL,
				user_feedback VARCHAR(16) NOT NULL DEFAULT '',
				INDEX idx_evaluation_history_question (question_hash)
			) DEFAULT CHARSET=utf8mb4`,
		},
		upsert: `ON DUPLICATE KEY UPDATE
			question = VALUES(question),
			sql_text = VALUES(sql_text),
			score = VALUES(score),
			is_correct = VALUES(is_correct),
			issues = VALUES(issues),
			suggestions = VALUES(suggestions),
			user_feedback = VALUES(user_feedback)`,
	},
}

func lookupDialect(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return dialects["sqlite3"], nil
	case "postgres", "postgresql", "pq":
		return dialects["postgres"], nil
	case "mysql":
		return dialects["mysql"], nil
	}
	return dialect{}, fmt.Errorf("%w: %s (supported: sqlite3, postgres, mysql)", ErrUnsupportedDriver, driver)
}

// rebind rewrites ? placeholders for dialects that number them
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// prepareDSN adjusts driver options the store depends on
func (d dialect) prepareDSN(dsn string) (string, error) {
	if d.name != "mysql" {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	// Timestamps scan into time.Time only with parseTime
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
