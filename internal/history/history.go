// Package history keeps every scored SQL statement and the approved
// question-to-SQL pairs that can be served again without generation.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/ppiankov/text2sql/internal/model"
)

var (
	// ErrNotFound is returned when no approved SQL or evaluation exists for a question
	ErrNotFound = errors.New("not found in history")

	// ErrUnsupportedDriver is returned by Open for unknown database drivers
	ErrUnsupportedDriver = errors.New("unsupported database driver")

	// ErrInvalidFeedback is returned for verdicts other than correct/incorrect
	ErrInvalidFeedback = errors.New("invalid feedback")
)

// Store is the evaluation history database
type Store struct {
	db   *sql.DB
	d    dialect
	node *snowflake.Node
	now  func() time.Time
}

// Open connects to the database and creates the tables if needed
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}

	dsn, err = d.prepareDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == "sqlite3" {
		// One writer at a time avoids "database is locked" under concurrent batch runs
		db.SetMaxOpenConns(1)
	}

	s, err := newStore(db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func newStore(db *sql.DB, d dialect) (*Store, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("create id generator: %w", err)
	}
	return &Store{
		db:   db,
		d:    d,
		node: node,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// QuestionHash identifies a question regardless of surrounding whitespace
func QuestionHash(question string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(question)))
	return hex.EncodeToString(sum[:])
}

// Record appends an evaluation to the history. ID and CreatedAt are filled in
// when zero.
func (s *Store) Record(ctx context.Context, e *model.Evaluation) error {
	if e.ID == 0 {
		e.ID = s.node.Generate().Int64()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	issues, suggestions, err := encodeLists(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO evaluation_history
		(id, question_hash, question, sql_text, score, is_correct, issues, suggestions, evaluation_time, user_feedback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, QuestionHash(e.Question), e.Question, e.SQL, e.Score, e.IsCorrect,
		issues, suggestions, e.CreatedAt, string(e.Feedback))
	if err != nil {
		return fmt.Errorf("record evaluation: %w", err)
	}
	return nil
}

// Approve stores SQL as the answer for its question, replacing an earlier
// approval. Usage counts survive replacement.
func (s *Store) Approve(ctx context.Context, e model.Evaluation) error {
	issues, suggestions, err := encodeLists(&e)
	if err != nil {
		return err
	}

	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	served := e.IsCorrect || e.Feedback == model.FeedbackCorrect

	_, err = s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO sql_cache
		(id, question_hash, question, sql_text, score, is_correct, issues, suggestions, created_time, usage_count, user_feedback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?) `+s.d.upsert),
		s.node.Generate().Int64(), QuestionHash(e.Question), e.Question, e.SQL, e.Score, served,
		issues, suggestions, created, string(e.Feedback))
	if err != nil {
		return fmt.Errorf("approve sql: %w", err)
	}
	return nil
}

// Lookup returns the approved SQL for a question and counts the use.
// Returns ErrNotFound when the question has no approved SQL.
func (s *Store) Lookup(ctx context.Context, question string) (*model.Evaluation, error) {
	hash := QuestionHash(question)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lookup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.d.rebind(`SELECT id, question, sql_text, score, is_correct, issues, suggestions,
		user_feedback, usage_count, created_time
		FROM sql_cache WHERE question_hash = ? AND is_correct = ?`), hash, true)

	e, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup sql: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE sql_cache SET usage_count = usage_count + 1
		WHERE question_hash = ?`), hash); err != nil {
		return nil, fmt.Errorf("count usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lookup: %w", err)
	}

	e.UsageCount++
	return e, nil
}

// Latest returns the most recent evaluation of a question
func (s *Store) Latest(ctx context.Context, question string) (*model.Evaluation, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT id, question, sql_text, score, is_correct, issues, suggestions,
		user_feedback, 0, evaluation_time
		FROM evaluation_history WHERE question_hash = ?
		ORDER BY evaluation_time DESC, id DESC LIMIT 1`), QuestionHash(question))

	e, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load evaluation: %w", err)
	}
	return e, nil
}

// Feedback records a user verdict on the latest evaluation of a question.
// "correct" approves that SQL; "incorrect" withdraws any approval.
func (s *Store) Feedback(ctx context.Context, question string, verdict model.Feedback) error {
	if verdict != model.FeedbackCorrect && verdict != model.FeedbackIncorrect {
		return fmt.Errorf("%w: %q (want correct or incorrect)", ErrInvalidFeedback, verdict)
	}

	latest, err := s.Latest(ctx, question)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE evaluation_history SET user_feedback = ? WHERE id = ?`),
		string(verdict), latest.ID); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	if verdict == model.FeedbackCorrect {
		latest.Feedback = verdict
		latest.CreatedAt = s.now()
		return s.Approve(ctx, *latest)
	}

	if _, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE sql_cache SET is_correct = ?, user_feedback = ?
		WHERE question_hash = ?`), false, string(verdict), QuestionHash(question)); err != nil {
		return fmt.Errorf("withdraw approval: %w", err)
	}
	return nil
}

// Examples returns approved pairs, most used first, for few-shot prompting
func (s *Store) Examples(ctx context.Context, limit int) ([]model.Evaluation, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT id, question, sql_text, score, is_correct, issues, suggestions,
		user_feedback, usage_count, created_time
		FROM sql_cache WHERE is_correct = ?
		ORDER BY usage_count DESC, created_time DESC LIMIT ?`), true, limit)
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Stats summarizes the history
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(score) FROM evaluation_history`).
		Scan(&st.TotalEvaluations, &avg); err != nil {
		return st, fmt.Errorf("count evaluations: %w", err)
	}
	st.AverageScore = avg.Float64

	var correct int
	if err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT COUNT(*) FROM evaluation_history WHERE is_correct = ?`), true).
		Scan(&correct); err != nil {
		return st, fmt.Errorf("count correct: %w", err)
	}
	if st.TotalEvaluations > 0 {
		st.CorrectRate = float64(correct) / float64(st.TotalEvaluations) * 100
	}

	var usage sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(usage_count) FROM sql_cache`).
		Scan(&st.CacheSize, &usage); err != nil {
		return st, fmt.Errorf("count cache: %w", err)
	}
	st.TotalCacheUsage = int(usage.Int64)

	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row scanner) (*model.Evaluation, error) {
	var (
		e           model.Evaluation
		issues      string
		suggestions string
		feedback    string
	)
	if err := row.Scan(&e.ID, &e.Question, &e.SQL, &e.Score, &e.IsCorrect, &issues, &suggestions,
		&feedback, &e.UsageCount, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Feedback = model.Feedback(feedback)

	if err := json.Unmarshal([]byte(issues), &e.Issues); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}
	if err := json.Unmarshal([]byte(suggestions), &e.Suggestions); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	return &e, nil
}

func encodeLists(e *model.Evaluation) (string, string, error) {
	issues, err := json.Marshal(nonNil(e.Issues))
	if err != nil {
		return "", "", fmt.Errorf("encode issues: %w", err)
	}
	suggestions, err := json.Marshal(nonNil(e.Suggestions))
	if err != nil {
		return "", "", fmt.Errorf("encode suggestions: %w", err)
	}
	return string(issues), string(suggestions), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
