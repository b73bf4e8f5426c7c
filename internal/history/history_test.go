package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/text2sql/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func evaluation(question, sql string, score int, correct bool) *model.Evaluation {
	return &model.Evaluation{
		Question:    question,
		SQL:         sql,
		Score:       score,
		IsCorrect:   correct,
		Issues:      []string{},
		Suggestions: []string{},
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), "sqlite", path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
}

func TestRecordAndLatest(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := evaluation("510S 25年7月全链库存", "SELECT 1", 70, false)
	first.Issues = []string{"ERROR: 时间格式错误"}
	require.NoError(t, s.Record(ctx, first))
	assert.NotZero(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second := evaluation("510S 25年7月全链库存", "SELECT 2", 95, true)
	require.NoError(t, s.Record(ctx, second))
	assert.NotEqual(t, first.ID, second.ID)

	latest, err := s.Latest(ctx, "  510S 25年7月全链库存 ")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "SELECT 2", latest.SQL)
	assert.Equal(t, 95, latest.Score)
	assert.True(t, latest.IsCorrect)
	assert.Equal(t, []string{}, latest.Issues)

	_, err = s.Latest(ctx, "never asked")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveAndLookup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Lookup(ctx, "geek库存")
	require.ErrorIs(t, err, ErrNotFound)

	e := evaluation("geek库存", "SELECT SUM([全链库存]) FROM dtsupply_summary", 98, true)
	e.Suggestions = []string{"考虑使用dtsupply_summary单表查询提高性能"}
	require.NoError(t, s.Approve(ctx, *e))

	got, err := s.Lookup(ctx, "geek库存")
	require.NoError(t, err)
	assert.Equal(t, e.SQL, got.SQL)
	assert.Equal(t, 1, got.UsageCount)
	assert.Equal(t, e.Suggestions, got.Suggestions)

	got, err = s.Lookup(ctx, "geek库存")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)

	// Re-approval replaces the SQL and keeps the usage count
	e.SQL = "SELECT 2"
	require.NoError(t, s.Approve(ctx, *e))
	got, err = s.Lookup(ctx, "geek库存")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", got.SQL)
	assert.Equal(t, 3, got.UsageCount)
}

func TestLookup_IgnoresUnservedEntries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Approve(ctx, *evaluation("q", "SELECT 1", 60, false)))

	_, err := s.Lookup(ctx, "q")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFeedback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	assert.ErrorIs(t, s.Feedback(ctx, "q", model.FeedbackCorrect), ErrNotFound)
	assert.ErrorIs(t, s.Feedback(ctx, "q", "maybe"), ErrInvalidFeedback)

	// Scored incorrect, confirmed by the user
	require.NoError(t, s.Record(ctx, evaluation("q", "SELECT 1", 60, false)))
	require.NoError(t, s.Feedback(ctx, "q", model.FeedbackCorrect))

	got, err := s.Lookup(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", got.SQL)
	assert.Equal(t, model.FeedbackCorrect, got.Feedback)

	latest, err := s.Latest(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, model.FeedbackCorrect, latest.Feedback)

	// Rejected later: no longer served
	require.NoError(t, s.Feedback(ctx, "q", model.FeedbackIncorrect))
	_, err = s.Lookup(ctx, "q")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExamples(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Approve(ctx, *evaluation("a", "SELECT 'a'", 90, true)))
	require.NoError(t, s.Approve(ctx, *evaluation("b", "SELECT 'b'", 90, true)))
	require.NoError(t, s.Approve(ctx, *evaluation("c", "SELECT 'c'", 50, false)))

	_, err := s.Lookup(ctx, "a")
	require.NoError(t, err)

	examples, err := s.Examples(ctx, 5)
	require.NoError(t, err)
	require.Len(t, examples, 2)
	assert.Equal(t, "a", examples[0].Question, "most used first")

	none, err := s.Examples(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{}, st)

	require.NoError(t, s.Record(ctx, evaluation("a", "SELECT 1", 100, true)))
	require.NoError(t, s.Record(ctx, evaluation("b", "SELECT 2", 60, false)))
	require.NoError(t, s.Approve(ctx, *evaluation("a", "SELECT 1", 100, true)))
	_, err = s.Lookup(ctx, "a")
	require.NoError(t, err)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalEvaluations)
	assert.InDelta(t, 80.0, st.AverageScore, 0.001)
	assert.InDelta(t, 50.0, st.CorrectRate, 0.001)
	assert.Equal(t, 1, st.CacheSize)
	assert.Equal(t, 1, st.TotalCacheUsage)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", dialects["postgres"].rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ?", dialects["sqlite3"].rebind("a = ?"))
}

func TestPrepareDSN_MySQL(t *testing.T) {
	dsn, err := dialects["mysql"].prepareDSN("user:pw@tcp(localhost:3306)/text2sql")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
}

func TestQuestionHash(t *testing.T) {
	assert.Equal(t, QuestionHash("q"), QuestionHash(" q\n"))
	assert.NotEqual(t, QuestionHash("q"), QuestionHash("Q"))
	assert.Len(t, QuestionHash("q"), 64)
}
