package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/text2sql/internal/cache"
	"github.com/ppiankov/text2sql/internal/correct"
	"github.com/ppiankov/text2sql/internal/history"
	"github.com/ppiankov/text2sql/internal/llm"
	"github.com/ppiankov/text2sql/internal/model"
	"github.com/ppiankov/text2sql/internal/rules"
	"github.com/ppiankov/text2sql/internal/rules/store"
	"github.com/ppiankov/text2sql/internal/score"
)

var (
	// ErrEmptyQuestion is returned for blank questions
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrHistoryDisabled is returned by operations that need the history database
	ErrHistoryDisabled = errors.New("history is disabled")

	// ErrNoRuleStore is returned by Reload when the pipeline has no rule store
	ErrNoRuleStore = errors.New("no rule store configured")

	// ErrInvalidRules is returned by Reload when the stored table does not compile
	ErrInvalidRules = errors.New("invalid rule table")
)

// Pipeline orchestrates rewriting, generation, correction and scoring
type Pipeline struct {
	rules     atomic.Pointer[ruleTable]
	store     store.Store
	builtin   bool
	table     string
	provider  llm.Provider // Optional (nil disables generation)
	model     string
	corrector *correct.Corrector
	scorer    *score.Scorer
	cache     cache.Cache    // Optional
	history   *history.Store // Optional
	schema    string
	examples  int
	logger    *zap.Logger
}

// ruleTable is a compiled snapshot with the fingerprint used in cache keys
type ruleTable struct {
	snap        *rules.Snapshot
	fingerprint string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithProvider enables SQL generation
func WithProvider(p llm.Provider, model string) Option {
	return func(pl *Pipeline) {
		pl.provider = p
		pl.model = model
	}
}

// WithCache caches generated SQL by rewrite
func WithCache(c cache.Cache) Option {
	return func(pl *Pipeline) { pl.cache = c }
}

// WithHistory records evaluations and serves approved SQL
func WithHistory(h *history.Store) Option {
	return func(pl *Pipeline) { pl.history = h }
}

// WithRuleStore lets Reload re-read the rule table. builtin appends the
// default time patterns on every load.
func WithRuleStore(s store.Store, builtin bool) Option {
	return func(pl *Pipeline) {
		pl.store = s
		pl.builtin = builtin
	}
}

// WithTable restricts table-bound rules to the given target table
func WithTable(table string) Option {
	return func(pl *Pipeline) { pl.table = table }
}

// WithSchema hands a schema description to the provider
func WithSchema(schema string) Option {
	return func(pl *Pipeline) { pl.schema = schema }
}

// WithExamples sets how many approved pairs go into the prompt
func WithExamples(n int) Option {
	return func(pl *Pipeline) { pl.examples = n }
}

// WithScorer replaces the default scorer
func WithScorer(s *score.Scorer) Option {
	return func(pl *Pipeline) { pl.scorer = s }
}

// WithCorrector replaces the default corrector
func WithCorrector(c *correct.Corrector) Option {
	return func(pl *Pipeline) { pl.corrector = c }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(pl *Pipeline) { pl.logger = l }
}

// New creates a pipeline over a compiled rule table
func New(snap *rules.Snapshot, opts ...Option) *Pipeline {
	p := &Pipeline{
		corrector: correct.Default(),
		scorer:    score.NewScorer(score.DefaultOptions()),
		examples:  3,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.rules.Store(newRuleTable(snap))
	return p
}

func newRuleTable(snap *rules.Snapshot) *ruleTable {
	parts := make([]string, 0, snap.Len()*4)
	for _, r := range snap.Rules() {
		parts = append(parts, r.Trigger, string(r.Kind), r.Replacement, r.Table)
	}
	return &ruleTable{snap: snap, fingerprint: cache.CacheKey(parts...)}
}

// Close releases the history database
func (p *Pipeline) Close() error {
	if p.history != nil {
		return p.history.Close()
	}
	return nil
}

// Provider returns the generation provider, or nil
func (p *Pipeline) Provider() llm.Provider {
	return p.provider
}

// Rules returns the active rule table in evaluation order
func (p *Pipeline) Rules() []rules.Rule {
	return p.rules.Load().snap.Rules()
}

// Reload re-reads the rule store and swaps the rule table. In-flight
// requests keep the snapshot they started with.
func (p *Pipeline) Reload(ctx context.Context) (int, error) {
	if p.store == nil {
		return 0, ErrNoRuleStore
	}

	rs, err := p.store.Load(ctx)
	if errors.Is(err, rules.ErrUnknownKind) {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	if err != nil {
		return 0, fmt.Errorf("load rules: %w", err)
	}
	if p.builtin {
		rs = rules.WithDefaults(rs)
	}

	snap, err := rules.Compile(rs)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}

	p.rules.Store(newRuleTable(snap))
	p.logger.Info("rules reloaded", zap.String("path", p.store.Path()), zap.Int("rules", snap.Len()))
	return snap.Len(), nil
}

// Rewrite applies the rule table to a question
func (p *Pipeline) Rewrite(question string) rules.Result {
	return p.rules.Load().snap.Apply(question, rules.WithTable(p.table))
}

// Ask answers a question with SQL: approved history first, then the
// generation cache, then the provider. Generated SQL is corrected, scored
// and recorded.
func (p *Pipeline) Ask(ctx context.Context, question string) (*model.Answer, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	table := p.rules.Load()
	res := table.snap.Apply(question, rules.WithTable(p.table))

	answer := newAnswer(question, res)
	defer func() { answer.DurationMS = time.Since(start).Milliseconds() }()

	// 1. Approved SQL for the same question
	if p.history != nil {
		e, err := p.history.Lookup(ctx, question)
		switch {
		case err == nil:
			answer.SQL = e.SQL
			answer.Source = model.SourceHistory
			answer.Score = &model.Score{
				Index:       e.Score,
				IsCorrect:   true,
				ShouldCache: true,
				Suggestions: e.Suggestions,
			}
			p.logger.Debug("history hit", zap.String("question", question), zap.Int("usage", e.UsageCount))
			return answer, nil
		case !errors.Is(err, history.ErrNotFound):
			p.logger.Warn("history lookup failed", zap.Error(err))
			answer.Warnings = append(answer.Warnings, "history lookup failed: "+err.Error())
		}
	}

	if p.provider == nil {
		answer.Source = model.SourceRules
		answer.Warnings = append(answer.Warnings, "no SQL provider configured; returning the rewrite only")
		return answer, nil
	}
	answer.Provider = p.provider.Name()
	answer.Model = p.model

	// 2. Generation cache, keyed by the rewrite and the rule table
	key := cache.CacheKey(res.Residual, strings.Join(res.Conditions, "\x1e"),
		p.provider.Name(), p.model, table.fingerprint)

	var raw string
	if p.cache != nil {
		if entry, ok := cache.GetEntry(p.cache, key); ok {
			raw = entry.RawSQL
			if raw == "" {
				raw = entry.SQL
			}
			answer.Source = model.SourceCache
			answer.Model = entry.Model
			p.logger.Debug("cache hit", zap.String("key", key))
		}
	}

	// 3. Provider
	if raw == "" {
		resp, err := p.provider.GenerateSQL(ctx, llm.GenerateRequest{
			Question:   question,
			Residual:   res.Residual,
			Conditions: res.Conditions,
			Glossary:   glossary(res.Fired),
			Schema:     p.schema,
			Examples:   p.loadExamples(ctx),
			Model:      p.model,
		})
		if err != nil {
			p.logger.Error("sql generation failed",
				zap.String("provider", p.provider.Name()),
				zap.String("question", question),
				zap.Error(err))
			return nil, fmt.Errorf("generate sql: %w", err)
		}

		answer.Source = model.SourceLLM
		answer.TokensUsed = resp.TokensUsed
		if resp.Model != "" {
			answer.Model = resp.Model
		}

		if resp.Missing != "" {
			answer.Missing = resp.Missing
			sc := p.scorer.Calculate(score.Input{Question: question, Missing: resp.Missing, Fired: res.Fired})
			answer.Score = &sc
			answer.Warnings = append(answer.Warnings, "provider reported missing information: "+resp.Missing)
			return answer, nil
		}
		raw = resp.SQL
	}

	// 4. Corrector
	answer.RawSQL = raw
	answer.SQL, answer.Patches = p.corrector.Explain(raw, res.Conditions)

	// 5. Scorer
	sc := p.scorer.Calculate(score.Input{
		Question:   question,
		SQL:        answer.SQL,
		Conditions: res.Conditions,
		Fired:      res.Fired,
	})
	answer.Score = &sc

	if answer.Source == model.SourceLLM && p.cache != nil && sc.IsCorrect {
		if err := cache.PutEntry(p.cache, key, cache.Entry{
			SQL:        answer.SQL,
			RawSQL:     raw,
			Provider:   answer.Provider,
			Model:      answer.Model,
			TokensUsed: answer.TokensUsed,
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			p.logger.Warn("cache write failed", zap.Error(err))
		}
	}

	// 6. History
	p.record(ctx, answer)

	p.logger.Info("question answered",
		zap.String("source", string(answer.Source)),
		zap.String("provider", answer.Provider),
		zap.Int("score", sc.Index),
		zap.Bool("correct", sc.IsCorrect),
		zap.Strings("patches", answer.Patches),
		zap.Int("tokens", answer.TokensUsed))

	return answer, nil
}

// Correct rewrites a question and repairs externally generated SQL with the
// resulting conditions. Nothing is recorded.
func (p *Pipeline) Correct(sql, question string) *model.Answer {
	res := p.Rewrite(question)

	answer := newAnswer(strings.TrimSpace(question), res)
	answer.Source = model.SourceExternal
	answer.RawSQL = sql
	answer.SQL, answer.Patches = p.corrector.Explain(sql, res.Conditions)

	sc := p.scorer.Calculate(score.Input{
		Question:   question,
		SQL:        answer.SQL,
		Conditions: res.Conditions,
		Fired:      res.Fired,
	})
	answer.Score = &sc
	return answer
}

// Patches lists the corrector patches in application order
func (p *Pipeline) Patches() []string {
	return p.corrector.Names()
}

// Feedback records a user verdict on the latest SQL for a question
func (p *Pipeline) Feedback(ctx context.Context, question string, verdict model.Feedback) error {
	if p.history == nil {
		return ErrHistoryDisabled
	}
	return p.history.Feedback(ctx, strings.TrimSpace(question), verdict)
}

// Stats summarizes the history
func (p *Pipeline) Stats(ctx context.Context) (model.Stats, error) {
	if p.history == nil {
		return model.Stats{}, ErrHistoryDisabled
	}
	return p.history.Stats(ctx)
}

func (p *Pipeline) record(ctx context.Context, answer *model.Answer) {
	if p.history == nil {
		return
	}

	e := &model.Evaluation{
		Question:    answer.Question,
		SQL:         answer.SQL,
		Score:       answer.Score.Index,
		IsCorrect:   answer.Score.IsCorrect,
		Issues:      answer.Score.Issues(),
		Suggestions: answer.Score.Suggestions,
	}
	if err := p.history.Record(ctx, e); err != nil {
		p.logger.Warn("history record failed", zap.Error(err))
		answer.Warnings = append(answer.Warnings, "history record failed: "+err.Error())
		return
	}

	if answer.Score.ShouldCache {
		if err := p.history.Approve(ctx, *e); err != nil {
			p.logger.Warn("history approve failed", zap.Error(err))
			answer.Warnings = append(answer.Warnings, "history approve failed: "+err.Error())
		}
	}
}

func (p *Pipeline) loadExamples(ctx context.Context) []llm.Example {
	if p.history == nil || p.examples <= 0 {
		return nil
	}

	evals, err := p.history.Examples(ctx, p.examples)
	if err != nil {
		p.logger.Warn("load examples failed", zap.Error(err))
		return nil
	}

	out := make([]llm.Example, 0, len(evals))
	for _, e := range evals {
		out = append(out, llm.Example{Question: e.Question, SQL: e.SQL})
	}
	return out
}

func newAnswer(question string, res rules.Result) *model.Answer {
	answer := &model.Answer{
		Question:   question,
		Residual:   res.Residual,
		Conditions: res.Conditions,
	}
	for _, r := range res.Fired {
		answer.FiredRules = append(answer.FiredRules, r.Trigger)
	}
	for _, inv := range res.Invalid {
		answer.Warnings = append(answer.Warnings, inv.Error())
	}
	return answer
}

func glossary(fired []rules.Rule) []llm.GlossaryEntry {
	var out []llm.GlossaryEntry
	for _, r := range fired {
		if r.Kind != rules.KindEntity {
			continue
		}
		out = append(out, llm.GlossaryEntry{Term: r.Trigger, Meaning: r.Replacement})
	}
	return out
}
