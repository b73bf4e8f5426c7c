package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/text2sql/internal/llm"
	"github.com/ppiankov/text2sql/internal/model"
)

// MockAsker implements Asker
type MockAsker struct {
	FailOn string
	calls  int32
}

func (m *MockAsker) Ask(ctx context.Context, question string) (*model.Answer, error) {
	atomic.AddInt32(&m.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	time.Sleep(5 * time.Millisecond) // Simulate work
	if question == m.FailOn {
		return nil, errors.New("generation failed")
	}
	return &model.Answer{
		Question: question,
		SQL:      "SELECT '" + question + "'",
		Source:   model.SourceLLM,
		Score:    &model.Score{Index: 100, IsCorrect: true},
	}, nil
}

// namedProvider is a minimal llm.Provider for rate key tests
type namedProvider struct{ name string }

func (p namedProvider) Name() string                         { return p.name }
func (p namedProvider) IsAvailable(ctx context.Context) bool { return true }
func (p namedProvider) GenerateSQL(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return nil, errors.New("not implemented")
}

type providerAsker struct {
	MockAsker
	provider llm.Provider
}

func (a *providerAsker) Provider() llm.Provider { return a.provider }

func writeQuestions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "questions.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBatchProcessor_ProcessQuestions(t *testing.T) {
	asker := &MockAsker{}
	processor := NewBatchProcessor(asker, 2, 0, 0)

	questions := []string{"geek25年7月全链库存", "510S 25年6月全链库存", "小新 7月备货"}
	results := processor.ProcessQuestions(context.Background(), questions)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	for i, res := range results {
		if res.Error != nil {
			t.Errorf("unexpected error for %s: %v", res.Question, res.Error)
			continue
		}
		if res.Index != i || res.Question != questions[i] {
			t.Errorf("result %d out of order: %+v", i, res)
		}
		if res.Answer == nil || !strings.Contains(res.Answer.SQL, questions[i]) {
			t.Errorf("expected answer for %s, got %+v", questions[i], res.Answer)
		}
	}
}

func TestBatchProcessor_ManyQuestions(t *testing.T) {
	asker := &MockAsker{}
	processor := NewBatchProcessor(asker, 2, 0, 0)

	// Far more jobs than the queue buffers
	questions := make([]string, 40)
	for i := range questions {
		questions[i] = strings.Repeat("q", i+1)
	}

	done := make(chan []*AskResult)
	go func() { done <- processor.ProcessQuestions(context.Background(), questions) }()

	select {
	case results := <-done:
		if len(results) != len(questions) {
			t.Fatalf("expected %d results, got %d", len(questions), len(results))
		}
		for i, res := range results {
			if res.Question != questions[i] {
				t.Errorf("result %d: expected %s, got %s", i, questions[i], res.Question)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish")
	}
}

func TestBatchProcessor_ProcessQuestions_Error(t *testing.T) {
	asker := &MockAsker{FailOn: "bad"}
	processor := NewBatchProcessor(asker, 2, 0, 0)

	results := processor.ProcessQuestions(context.Background(), []string{"good", "bad"})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Error != nil {
		t.Errorf("unexpected error: %v", results[0].Error)
	}
	if results[1].Error == nil {
		t.Error("expected error, got nil")
	}
	if results[1].Answer != nil {
		t.Error("expected nil answer on error")
	}

	summary := Summarize(results)
	if summary.Total != 2 || summary.Answered != 1 || summary.Failed != 1 || summary.Correct != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.BySource[model.SourceLLM] != 1 {
		t.Errorf("expected 1 llm answer, got %v", summary.BySource)
	}
}

func TestBatchProcessor_ProcessQuestions_Empty(t *testing.T) {
	processor := NewBatchProcessor(&MockAsker{}, 2, 0, 0)

	results := processor.ProcessQuestions(context.Background(), []string{})
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestBatchProcessor_Cancelled(t *testing.T) {
	asker := &MockAsker{}
	processor := NewBatchProcessor(asker, 1, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := processor.ProcessQuestions(ctx, []string{"a", "b", "c"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if !errors.Is(res.Error, context.Canceled) {
			t.Errorf("result %d: expected context.Canceled, got %v", i, res.Error)
		}
		if res.Question != []string{"a", "b", "c"}[i] {
			t.Errorf("result %d out of order: %s", i, res.Question)
		}
	}
}

func TestBatchProcessor_RateKey(t *testing.T) {
	plain := NewBatchProcessor(&MockAsker{}, 1, 1, 1)
	if plain.rateKey != defaultRateKey {
		t.Errorf("expected default rate key, got %s", plain.rateKey)
	}
	if plain.limiter == nil {
		t.Error("expected limiter for positive rate")
	}

	named := NewBatchProcessor(&providerAsker{provider: namedProvider{name: "deepseek"}}, 1, 0, 0)
	if named.rateKey != "deepseek" {
		t.Errorf("expected provider rate key, got %s", named.rateKey)
	}
	for i := 0; i < 20; i++ {
		if !named.limiter.Allow(named.rateKey) {
			t.Fatal("expected zero rate to be unlimited")
		}
	}

	none := NewBatchProcessor(&providerAsker{}, 1, 0, 0)
	if none.rateKey != defaultRateKey {
		t.Errorf("expected default rate key without provider, got %s", none.rateKey)
	}
}

func TestBatchProcessorFromConfig_ProviderRates(t *testing.T) {
	cfg := model.RateLimitingConfig{
		RequestsPerSecond: 0,
		Providers: map[string]model.ProviderRate{
			"DeepSeek": {RequestsPerSecond: 0.001, Burst: 1},
		},
	}
	b := NewBatchProcessorFromConfig(&providerAsker{provider: namedProvider{name: "deepseek"}}, 1, cfg)

	if b.RateKey() != "deepseek" {
		t.Fatalf("expected deepseek rate key, got %s", b.RateKey())
	}
	if !b.limiter.Allow("deepseek") {
		t.Error("expected first call within burst")
	}
	if b.limiter.Allow("deepseek") {
		t.Error("expected provider rate to throttle the second call")
	}
	for i := 0; i < 10; i++ {
		if !b.limiter.Allow("ollama") {
			t.Fatal("expected providers without an override to use the unlimited default")
		}
	}
}

func TestBatchProcessorFromConfig_Delay(t *testing.T) {
	cfg := model.RateLimitingConfig{Delay: 30 * time.Millisecond}
	b := NewBatchProcessorFromConfig(&MockAsker{}, 1, cfg)

	start := time.Now()
	results := b.ProcessQuestions(context.Background(), []string{"a", "b"})
	elapsed := time.Since(start)

	for _, r := range results {
		if r.Error != nil {
			t.Fatalf("unexpected error: %v", r.Error)
		}
	}
	if elapsed < 60*time.Millisecond {
		t.Errorf("expected two delayed calls to take at least 60ms, took %v", elapsed)
	}
}

func TestReadQuestionsFromFile(t *testing.T) {
	path := writeQuestions(t, "geek25年7月全链库存\n# comment\n510S 25年6月全链库存\n   \n小新 7月备货   \ngeek25年7月全链库存\n")

	questions, err := ReadQuestionsFromFile(path)
	if err != nil {
		t.Fatalf("ReadQuestionsFromFile failed: %v", err)
	}

	expected := []string{"geek25年7月全链库存", "510S 25年6月全链库存", "小新 7月备货"}
	if len(questions) != len(expected) {
		t.Fatalf("expected %d questions, got %d", len(expected), len(questions))
	}
	for i, q := range questions {
		if q != expected[i] {
			t.Errorf("expected question %s at index %d, got %s", expected[i], i, q)
		}
	}
}

func TestReadQuestionsFromFile_NonExistent(t *testing.T) {
	_, err := ReadQuestionsFromFile("non_existent_file.txt")
	if err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}

func TestAskResult_GetError(t *testing.T) {
	r1 := &AskResult{Question: "q"}
	if r1.GetError() != nil {
		t.Errorf("expected nil error, got %v", r1.GetError())
	}

	expected := errors.New("ask failed")
	r2 := &AskResult{Question: "q", Error: expected}
	if r2.GetError() != expected {
		t.Errorf("expected %v, got %v", expected, r2.GetError())
	}
}

func TestBatchProcessor_ProcessFile(t *testing.T) {
	path := writeQuestions(t, "a\nb\n# comment\n\nc\n")

	results, err := NewBatchProcessor(&MockAsker{}, 2, 0, 0).ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}

func TestBatchProcessor_ProcessFile_NonExistent(t *testing.T) {
	_, err := NewBatchProcessor(&MockAsker{}, 2, 0, 0).ProcessFile(context.Background(), "no_such_file.txt")
	if err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}

func TestBatchProcessor_ProcessFile_Empty(t *testing.T) {
	path := writeQuestions(t, "")

	results, err := NewBatchProcessor(&MockAsker{}, 2, 0, 0).ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results for empty file, got %d", len(results))
	}
}
