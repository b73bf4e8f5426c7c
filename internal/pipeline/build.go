package pipeline

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ppiankov/text2sql/internal/cache"
	"github.com/ppiankov/text2sql/internal/history"
	"github.com/ppiankov/text2sql/internal/llm"
	"github.com/ppiankov/text2sql/internal/model"
	"github.com/ppiankov/text2sql/internal/rules"
	"github.com/ppiankov/text2sql/internal/rules/store"
	"github.com/ppiankov/text2sql/internal/score"
)

// LoadRules reads the configured rule table. A missing rule file is an empty
// table.
func LoadRules(ctx context.Context, cfg model.RulesConfig) (store.Store, *rules.Snapshot, error) {
	s, err := store.Open(cfg.Path)
	if err != nil {
		return nil, nil, err
	}

	rs, err := s.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}

	if cfg.BuiltinTime {
		rs = rules.WithDefaults(rs)
	}

	snap, err := rules.Compile(rs)
	if err != nil {
		return nil, nil, fmt.Errorf("compile rules: %w", err)
	}
	return s, snap, nil
}

// Build wires a pipeline from configuration. Optional parts that fail to
// initialize are logged and left out; the rule table is required.
func Build(ctx context.Context, cfg *model.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ruleStore, snap, err := LoadRules(ctx, cfg.Rules)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithLogger(logger),
		WithRuleStore(ruleStore, cfg.Rules.BuiltinTime),
		WithTable(cfg.Rules.Table),
		WithScorer(score.NewScorer(score.OptionsFromModel(cfg.Score))),
	}

	if cfg.Rules.SchemaPath != "" {
		schema, err := os.ReadFile(cfg.Rules.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		opts = append(opts, WithSchema(string(schema)))
	}

	if cfg.LLM.Provider != "" {
		provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			logger.Warn("LLM provider disabled", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
		} else {
			opts = append(opts, WithProvider(provider, cfg.LLM.Model))
		}
	}

	if cfg.Cache.Enabled {
		opts = append(opts, WithCache(cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)))
	}

	if cfg.History.Enabled {
		h, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			logger.Warn("history disabled", zap.String("driver", cfg.History.Driver), zap.Error(err))
		} else {
			opts = append(opts, WithHistory(h))
		}
	}

	p := New(snap, opts...)
	logger.Debug("pipeline ready",
		zap.String("rules", ruleStore.Path()),
		zap.Int("rule_count", snap.Len()),
		zap.Bool("provider", p.provider != nil),
		zap.Bool("cache", p.cache != nil),
		zap.Bool("history", p.history != nil))

	return p, nil
}
