package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

var (
	correctSQL     string
	correctSQLFile string
	correctJSON    bool
	correctTrace   bool
)

// correctCmd represents the correct command
var correctCmd = &cobra.Command{
	Use:   "correct <question>",
	Short: "Correct SQL produced elsewhere for a question",
	Long: `Correct rewrites the question with the rule table and repairs the given
SQL with the extracted conditions: current-date predicates are replaced,
numeric month literals are fixed and missing conditions are appended.
The result is scored but not recorded.

Example:
  text2sql correct "geek25年7月全链库存" --sql "SELECT ... WHERE [自然年] = YEAR(GETDATE())"
  text2sql correct "geek25年7月全链库存" --sql-file query.sql
  text2sql correct "geek25年7月全链库存" --sql-file query.sql --trace`,
	Args: cobra.ExactArgs(1),
	RunE: runCorrect,
}

func init() {
	rootCmd.AddCommand(correctCmd)

	correctCmd.Flags().StringVar(&correctSQL, "sql", "", "SQL to correct")
	correctCmd.Flags().StringVar(&correctSQLFile, "sql-file", "", "read the SQL from a file ('-' for stdin)")
	correctCmd.Flags().BoolVar(&correctJSON, "json", false, "print the full answer as JSON")
	correctCmd.Flags().BoolVar(&correctTrace, "trace", false, "list every corrector patch and whether it changed the SQL")
	correctCmd.MarkFlagsMutuallyExclusive("sql", "sql-file")
}

func runCorrect(cmd *cobra.Command, args []string) error {
	sql, err := readSQLInput(correctSQL, correctSQLFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Correction never calls a provider or touches history
	cfg.LLM.Provider = ""
	cfg.History.Enabled = false
	cfg.Cache.Enabled = false

	p, logger, err := openPipeline(context.Background(), cfg, zapcore.WarnLevel)
	if err != nil {
		return err
	}
	defer closePipeline(p, logger)

	answer := p.Correct(sql, args[0])
	if correctTrace {
		printPatchTrace(p.Patches(), answer.Patches)
	}
	if correctJSON {
		return printJSON(answer)
	}
	printAnswer(answer)
	return nil
}

// printPatchTrace writes the patch list to stderr, marking the ones applied
func printPatchTrace(all, applied []string) {
	changed := make(map[string]bool, len(applied))
	for _, name := range applied {
		changed[name] = true
	}

	fmt.Fprintf(os.Stderr, "Patches:\n")
	for _, name := range all {
		mark := "·"
		if changed[name] {
			mark = "✓"
		}
		fmt.Fprintf(os.Stderr, "  %s %s\n", mark, name)
	}
	fmt.Fprintf(os.Stderr, "\n")
}

func readSQLInput(inline, file string) (string, error) {
	var sql string
	switch {
	case inline != "":
		sql = inline
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		sql = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read sql file: %w", err)
		}
		sql = string(data)
	}

	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("no SQL given (use --sql or --sql-file)")
	}
	return sql, nil
}
