package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/text2sql/internal/llm"
	"github.com/ppiankov/text2sql/internal/model"
)

const defaultRateKey = "default"

// Asker answers one question with SQL
type Asker interface {
	Ask(ctx context.Context, question string) (*model.Answer, error)
}

// providerSource is implemented by askers that generate through a provider
type providerSource interface {
	Provider() llm.Provider
}

// AskJob represents one question of a batch
type AskJob struct {
	Index    int
	Question string
	Asker    Asker
	Limiter  *Limiter
	RateKey  string
	Delay    time.Duration
}

// Execute executes the ask job
func (j *AskJob) Execute(ctx context.Context) Result {
	result := &AskResult{Index: j.Index, Question: j.Question}

	if j.Limiter != nil {
		if err := j.Limiter.WaitWithDelay(ctx, j.RateKey, j.Delay); err != nil {
			result.Error = fmt.Errorf("rate limit: %w", err)
			return result
		}
	}

	result.Answer, result.Error = j.Asker.Ask(ctx, j.Question)
	return result
}

// AskResult represents the result of an ask job
type AskResult struct {
	Index    int
	Question string
	Answer   *model.Answer
	Error    error
}

// GetError returns the error from the ask result
func (r *AskResult) GetError() error {
	return r.Error
}

// Summary counts the outcomes of a batch
type Summary struct {
	Total    int                        `json:"total"`
	Answered int                        `json:"answered"`
	Correct  int                        `json:"correct"`
	Failed   int                        `json:"failed"`
	BySource map[model.AnswerSource]int `json:"by_source"`
}

// Summarize counts answers, failures and sources
func Summarize(results []*AskResult) Summary {
	s := Summary{Total: len(results), BySource: make(map[model.AnswerSource]int)}
	for _, r := range results {
		if r.Error != nil {
			s.Failed++
			continue
		}
		s.Answered++
		s.BySource[r.Answer.Source]++
		if r.Answer.Score != nil && r.Answer.Score.IsCorrect {
			s.Correct++
		}
	}
	return s
}

// BatchProcessor answers multiple questions concurrently
type BatchProcessor struct {
	asker       Asker
	concurrency int
	limiter     *Limiter
	rateKey     string
	delay       time.Duration
}

// NewBatchProcessor creates a new batch processor. Provider calls are limited
// to requestsPerSecond; zero disables limiting.
func NewBatchProcessor(asker Asker, concurrency int, requestsPerSecond float64, burst int) *BatchProcessor {
	b := &BatchProcessor{
		asker:       asker,
		concurrency: concurrency,
		limiter:     NewLimiter(requestsPerSecond, burst),
		rateKey:     defaultRateKey,
	}
	if ps, ok := asker.(providerSource); ok && ps.Provider() != nil {
		b.rateKey = ps.Provider().Name()
	}
	return b
}

// NewBatchProcessorFromConfig creates a batch processor with the default rate,
// the per-provider overrides and the delay of cfg
func NewBatchProcessorFromConfig(asker Asker, concurrency int, cfg model.RateLimitingConfig) *BatchProcessor {
	b := NewBatchProcessor(asker, concurrency, cfg.RequestsPerSecond, cfg.Burst)
	for name, r := range cfg.Providers {
		b.SetProviderRate(name, r.RequestsPerSecond, r.Burst)
	}
	b.delay = cfg.Delay
	return b
}

// SetProviderRate overrides the rate limit for one provider name
func (b *BatchProcessor) SetProviderRate(name string, requestsPerSecond float64, burst int) {
	b.limiter.SetRate(strings.ToLower(name), requestsPerSecond, burst)
}

// RateKey returns the limiter key questions are throttled under
func (b *BatchProcessor) RateKey() string {
	return b.rateKey
}

// ProcessQuestions answers questions concurrently. Results are in input order.
func (b *BatchProcessor) ProcessQuestions(ctx context.Context, questions []string) []*AskResult {
	if len(questions) == 0 {
		return []*AskResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, q := range questions {
		job := &AskJob{
			Index:    i,
			Question: q,
			Asker:    b.asker,
			Limiter:  b.limiter,
			RateKey:  b.rateKey,
			Delay:    b.delay,
		}
		if !pool.Submit(job) {
			break
		}
	}

	out := make([]*AskResult, len(questions))
	for _, r := range pool.Wait() {
		res := r.(*AskResult)
		out[res.Index] = res
	}

	// Questions dropped by cancellation
	for i, r := range out {
		if r != nil {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		out[i] = &AskResult{Index: i, Question: questions[i], Error: err}
	}

	return out
}

// ProcessFile reads questions from a file and answers them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*AskResult, error) {
	questions, err := ReadQuestionsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}

	return b.ProcessQuestions(ctx, questions), nil
}

// ReadQuestionsFromFile reads questions from a file (one per line)
func ReadQuestionsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var questions []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			questions = append(questions, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return questions, nil
}
