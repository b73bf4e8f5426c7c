package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/text2sql/internal/rules"
	"github.com/ppiankov/text2sql/internal/rules/store"
)

var (
	ruleKind        string
	ruleReplacement string
	ruleDescription string
	ruleTable       string
	rulesInitForce  bool
	rulesListAll    bool
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the business rule table",
	Long: `Manage the business rule table used to rewrite questions.

Rules are read from the file given by --rules (or rules.path in the config):
  *.json   business_rules.json + business_rules_meta.json pair
  *.yaml   single rules.yaml list`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !rulesListAll {
			cfg.Rules.BuiltinTime = false
		}

		s, err := store.Open(cfg.Rules.Path)
		if err != nil {
			return err
		}
		rs, err := s.Load(context.Background())
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		if cfg.Rules.BuiltinTime {
			rs = rules.WithDefaults(rs)
		}
		snap, err := rules.Compile(rs)
		if err != nil {
			return fmt.Errorf("compile rules: %w", err)
		}

		fmt.Fprintf(os.Stderr, "Rules: %s (%d)\n\n", s.Path(), snap.Len())
		for _, r := range snap.Rules() {
			table := ""
			if r.Table != "" {
				table = " [" + r.Table + "]"
			}
			fmt.Printf("%-6s %s => %s%s\n", r.Kind, r.Trigger, r.Replacement, table)
		}
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <trigger>",
	Short: "Add or replace a rule",
	Long: `Add a rule, replacing an existing rule with the same trigger and table.

Example:
  text2sql rules add 拯救者 --replacement "[roadmap family] like '%拯救者%' and [group]='ttl'"
  text2sql rules add "{YY}年Q3" --kind time --replacement "自然年={year} AND 财季='Q3'"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := store.KindFromLabel(ruleKind)
		if err != nil {
			return err
		}

		s, err := openRuleStore()
		if err != nil {
			return err
		}

		r := rules.Rule{
			Trigger:     args[0],
			Kind:        kind,
			Replacement: ruleReplacement,
			Description: ruleDescription,
			Table:       ruleTable,
		}
		replaced, err := store.Add(context.Background(), s, r)
		if err != nil {
			return err
		}

		verb := "Added"
		if replaced {
			verb = "Replaced"
		}
		fmt.Fprintf(os.Stderr, "✓ %s %s rule %q in %s\n", verb, kind, r.Trigger, s.Path())
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <trigger>",
	Short: "Remove every rule with a trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openRuleStore()
		if err != nil {
			return err
		}
		if err := store.Remove(context.Background(), s, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Removed %q from %s\n", args[0], s.Path())
		return nil
	},
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate rules and report precedence ties",
	Long: `Lint compiles every rule and lists pairs of rules with equal specificity
that can match the same text. Such pairs are resolved by registration
order; lint only reports them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := store.Open(cfg.Rules.Path)
		if err != nil {
			return err
		}
		rs, err := s.Load(context.Background())
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		if cfg.Rules.BuiltinTime {
			rs = rules.WithDefaults(rs)
		}

		failed := 0
		for _, r := range rs {
			if _, err := rules.Compile([]rules.Rule{r}); err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.Trigger, err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d invalid rules", failed)
		}

		ambiguities, err := rules.Ambiguities(rs)
		if err != nil {
			return err
		}
		for _, a := range ambiguities {
			fmt.Printf("⚠ %s\n", a)
		}

		fmt.Fprintf(os.Stderr, "✓ %d rules valid, %d precedence ties\n", len(rs), len(ambiguities))
		return nil
	},
}

var rulesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the demo rule table",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openRuleStore()
		if err != nil {
			return err
		}

		if _, err := os.Stat(s.Path()); err == nil && !rulesInitForce {
			return fmt.Errorf("rule file already exists: %s (use --force to overwrite)", s.Path())
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("check rule file: %w", err)
		}

		seed := store.Seed()
		if err := s.Save(context.Background(), seed); err != nil {
			return fmt.Errorf("save rules: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %d rules to %s\n", len(seed), s.Path())
		return nil
	},
}

func openRuleStore() (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Rules.Path)
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd, rulesLintCmd, rulesInitCmd)

	rulesListCmd.Flags().BoolVar(&rulesListAll, "all", false, "include the built-in time patterns")

	rulesAddCmd.Flags().StringVar(&ruleKind, "kind", "entity", "rule kind (entity, time, 实体, 字段, 时间, 条件)")
	rulesAddCmd.Flags().StringVar(&ruleReplacement, "replacement", "", "replacement text or WHERE fragment template")
	rulesAddCmd.Flags().StringVar(&ruleDescription, "description", "", "description")
	rulesAddCmd.Flags().StringVar(&ruleTable, "for-table", "", "restrict the rule to a target table")
	_ = rulesAddCmd.MarkFlagRequired("replacement")

	rulesInitCmd.Flags().BoolVar(&rulesInitForce, "force", false, "overwrite an existing rule file")
}
