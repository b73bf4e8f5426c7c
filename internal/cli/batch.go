package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/text2sql/internal/worker"
)

var (
	concurrency  int
	outputFile   string
	batchTimeout time.Duration
	batchNoCache bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Answer multiple questions from a file in parallel",
	Long: `Batch answers every question of a file concurrently:
- Read questions from input file (one per line, # for comments)
- Answer questions in parallel with configurable worker count
- Provider calls are rate limited per provider
- Write one JSON answer per line

Example:
  text2sql batch questions.txt
  text2sql batch questions.txt --concurrency 8 --output answers.jsonl
  text2sql batch questions.txt --timeout 30m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default: concurrency.workers)")
	batchCmd.Flags().StringVar(&outputFile, "output", "answers.jsonl", "output file for answers (JSON lines, '-' for stdout)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().BoolVar(&batchNoCache, "no-cache", false, "disable the generated-SQL cache")
}

type batchLine struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Answer   any    `json:"answer,omitempty"`
	Error    string `json:"error,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) (err error) {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Cache.Enabled = cfg.Cache.Enabled && !batchNoCache
	if concurrency <= 0 {
		concurrency = cfg.Concurrency.Workers
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  text2sql Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Rate limit:   %.1f req/s (burst %d)\n", cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)
	fmt.Fprintf(os.Stderr, "  Output:       %s\n", outputFile)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	p, logger, err := openPipeline(ctx, cfg, zapcore.WarnLevel)
	if err != nil {
		return err
	}
	defer closePipeline(p, logger)

	if p.Provider() == nil {
		fmt.Fprintf(os.Stderr, "⚠  No LLM provider configured; answers carry the rewrite only\n\n")
	}

	processor := worker.NewBatchProcessorFromConfig(p, concurrency, cfg.RateLimiting)

	fmt.Fprintf(os.Stderr, "⚙️  Processing questions with %d workers (rate key %s)...\n", concurrency, processor.RateKey())
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "\n")

	out := os.Stdout
	if outputFile != "-" {
		f, createErr := os.Create(outputFile)
		if createErr != nil {
			return fmt.Errorf("create output file: %w", createErr)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output file: %w", closeErr)
			}
		}()
		out = f
	}

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	for _, result := range results {
		line := batchLine{Index: result.Index, Question: result.Question}
		if result.Error != nil {
			line.Error = result.Error.Error()
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Question, result.Error)
		} else {
			line.Answer = result.Answer
			index := 0
			if result.Answer.Score != nil {
				index = result.Answer.Score.Index
			}
			fmt.Fprintf(os.Stderr, "✓ %s (%s, index: %d/100)\n", result.Question, result.Answer.Source, index)
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write answer: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write answers: %w", err)
	}

	summary := worker.Summarize(results)

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d questions\n", summary.Total)
	fmt.Fprintf(os.Stderr, "  Answered:  %d\n", summary.Answered)
	fmt.Fprintf(os.Stderr, "  Correct:   %d\n", summary.Correct)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", summary.Failed)
	for source, n := range summary.BySource {
		fmt.Fprintf(os.Stderr, "  From %-8s %d\n", source+":", n)
	}
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}
