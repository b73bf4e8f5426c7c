package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/text2sql/internal/pipeline"
	"github.com/ppiankov/text2sql/internal/rules"
)

var rewriteJSON bool

// rewriteCmd represents the rewrite command
var rewriteCmd = &cobra.Command{
	Use:   "rewrite <question>",
	Short: "Apply the business rule table to a question",
	Long: `Rewrite runs the rule substitution engine only: entity aliases are
substituted in place and time expressions are removed and reported as
WHERE fragments. No provider is called.

Example:
  text2sql rewrite "geek25年7月全链库存"
  text2sql rewrite "510S 25年6月全链库存" --table dtsupply_summary`,
	Args: cobra.ExactArgs(1),
	RunE: runRewrite,
}

func init() {
	rootCmd.AddCommand(rewriteCmd)

	rewriteCmd.Flags().BoolVar(&rewriteJSON, "json", false, "print the result as JSON")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, snap, err := pipeline.LoadRules(context.Background(), cfg.Rules)
	if err != nil {
		return err
	}

	res := snap.Apply(args[0], rules.WithTable(cfg.Rules.Table))

	if rewriteJSON {
		return printJSON(rewriteOutput(res))
	}

	fmt.Println(res.Residual)
	for _, c := range res.Conditions {
		fmt.Fprintf(os.Stderr, "  Condition:   %s\n", c)
	}
	for _, r := range res.Fired {
		fmt.Fprintf(os.Stderr, "  ✓ %-10s %s => %s\n", r.Kind, r.Trigger, r.Replacement)
	}
	for _, inv := range res.Invalid {
		fmt.Fprintf(os.Stderr, "  ✗ %v\n", inv)
	}
	return nil
}

func rewriteOutput(res rules.Result) map[string]any {
	fired := make([]string, 0, len(res.Fired))
	for _, r := range res.Fired {
		fired = append(fired, r.Trigger)
	}
	invalid := make([]string, 0, len(res.Invalid))
	for _, inv := range res.Invalid {
		invalid = append(invalid, inv.Error())
	}
	conditions := res.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	return map[string]any{
		"residual":    res.Residual,
		"conditions":  conditions,
		"fired_rules": fired,
		"invalid":     invalid,
	}
}
