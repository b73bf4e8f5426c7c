package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/text2sql/internal/model"
)

var (
	statsJSON       bool
	feedbackVerdict string
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the evaluation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.LLM.Provider = ""

		p, logger, err := openPipeline(context.Background(), cfg, zapcore.WarnLevel)
		if err != nil {
			return err
		}
		defer closePipeline(p, logger)

		st, err := p.Stats(context.Background())
		if err != nil {
			return err
		}
		if statsJSON {
			return printJSON(st)
		}

		fmt.Printf("  Evaluations:   %d\n", st.TotalEvaluations)
		fmt.Printf("  Average score: %.1f\n", st.AverageScore)
		fmt.Printf("  Correct rate:  %.1f%%\n", st.CorrectRate)
		fmt.Printf("  Approved SQL:  %d\n", st.CacheSize)
		fmt.Printf("  Reuses:        %d\n", st.TotalCacheUsage)
		return nil
	},
}

// feedbackCmd represents the feedback command
var feedbackCmd = &cobra.Command{
	Use:   "feedback <question>",
	Short: "Record a verdict on the latest SQL for a question",
	Long: `Feedback marks the most recent SQL generated for a question as correct
or incorrect. Correct SQL is served for the same question from then on;
incorrect SQL is withdrawn.

Example:
  text2sql feedback "geek25年7月全链库存" --verdict correct`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.LLM.Provider = ""

		p, logger, err := openPipeline(context.Background(), cfg, zapcore.WarnLevel)
		if err != nil {
			return err
		}
		defer closePipeline(p, logger)

		if err := p.Feedback(context.Background(), args[0], model.Feedback(feedbackVerdict)); err != nil {
			return fmt.Errorf("record feedback: %w", err)
		}
		fmt.Printf("✓ Recorded %s for %q\n", feedbackVerdict, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, feedbackCmd)

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print statistics as JSON")

	feedbackCmd.Flags().StringVar(&feedbackVerdict, "verdict", "", "correct or incorrect")
	_ = feedbackCmd.MarkFlagRequired("verdict")
}
