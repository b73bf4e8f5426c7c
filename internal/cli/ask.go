package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/text2sql/internal/model"
	"github.com/ppiankov/text2sql/internal/pipeline"
)

var (
	askJSON      bool
	askTimeout   time.Duration
	askNoCache   bool
	askNoHistory bool
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Generate SQL for a business question",
	Long: `Ask rewrites the question with the business rule table, asks the
configured LLM provider for SQL, corrects and scores the result.

The corrected SQL is printed to stdout; rule and score details go to stderr.

Example:
  text2sql ask "geek25年7月全链库存"
  text2sql ask "510S 25年6月全链库存" --provider deepseek --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full answer as JSON")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "overall timeout")
	askCmd.Flags().BoolVar(&askNoCache, "no-cache", false, "disable the generated-SQL cache")
	askCmd.Flags().BoolVar(&askNoHistory, "no-history", false, "do not read or record history")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Cache.Enabled = cfg.Cache.Enabled && !askNoCache
	cfg.History.Enabled = cfg.History.Enabled && !askNoHistory

	p, logger, err := openPipeline(ctx, cfg, zapcore.WarnLevel)
	if err != nil {
		return err
	}
	defer closePipeline(p, logger)

	if verbose {
		fmt.Fprintf(os.Stderr, "⚙️  Asking: %s\n", args[0])
		if p.Provider() != nil {
			fmt.Fprintf(os.Stderr, "  Provider:   %s/%s\n", p.Provider().Name(), cfg.LLM.Model)
		}
	}

	answer, err := p.Ask(ctx, args[0])
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		return printJSON(answer)
	}

	printAnswer(answer)
	return nil
}

// openPipeline builds the pipeline and its logger from configuration
func openPipeline(ctx context.Context, cfg *model.Config, level zapcore.Level) (*pipeline.Pipeline, *zap.Logger, error) {
	logger, err := newLogger(level)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	p, err := pipeline.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return p, logger, nil
}

func closePipeline(p *pipeline.Pipeline, logger *zap.Logger) {
	if err := p.Close(); err != nil {
		logger.Warn("close pipeline", zap.Error(err))
	}
	_ = logger.Sync()
}

// printAnswer writes the SQL to stdout and the diagnostics to stderr
func printAnswer(a *model.Answer) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Residual:    %s\n", a.Residual)
	for _, c := range a.Conditions {
		fmt.Fprintf(os.Stderr, "  Condition:   %s\n", c)
	}
	if len(a.FiredRules) > 0 {
		fmt.Fprintf(os.Stderr, "  Rules:       %v\n", a.FiredRules)
	}
	fmt.Fprintf(os.Stderr, "  Source:      %s\n", a.Source)
	if len(a.Patches) > 0 {
		fmt.Fprintf(os.Stderr, "  Patches:     %v\n", a.Patches)
	}
	if a.Score != nil {
		mark := "✓"
		if !a.Score.IsCorrect {
			mark = "✗"
		}
		fmt.Fprintf(os.Stderr, "  %s Score:     %d/100\n", mark, a.Score.Index)
		for _, issue := range a.Score.Issues() {
			fmt.Fprintf(os.Stderr, "    - %s\n", issue)
		}
		for _, s := range a.Score.Suggestions {
			fmt.Fprintf(os.Stderr, "    → %s\n", s)
		}
	}
	if a.Missing != "" {
		fmt.Fprintf(os.Stderr, "  ✗ Missing:   %s\n", a.Missing)
	}
	for _, w := range a.Warnings {
		fmt.Fprintf(os.Stderr, "  Warning:     %s\n", w)
	}
	fmt.Fprintf(os.Stderr, "\n")

	if a.SQL != "" {
		fmt.Println(a.SQL)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
