package score

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/text2sql/internal/model"
	"github.com/ppiankov/text2sql/internal/rules"
)

// Check weights; they sum to 1
const (
	weightSyntax      = 0.3
	weightBusiness    = 0.4
	weightPerformance = 0.2
	weightStructure   = 0.1
)

// Penalty factors applied to a check's score per finding
const (
	penaltyNotSelect      = 0.5
	penaltyParentheses    = 0.7
	penaltyQuotes         = 0.7
	penaltyMissingAtom    = 0.9
	penaltyMonthFormat    = 0.6
	penaltyNeedlessJoin   = 0.8
	penaltyNoWhere        = 0.9
	penaltyJoinWithoutOn  = 0.6
	penaltyUnknownTable   = 0.5
	defaultPassThreshold  = 80
	defaultSingleTable    = "dtsupply_summary"
	formulaWeightedChecks = "(syntax*0.3 + business*0.4 + performance*0.2 + structure*0.1) * 100"
)

var (
	tableRef     = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+(?:\[?[\p{L}\p{N}_]+\]?\.)?\[?([\p{L}\p{N}_]+)\]?`)
	joinKeyword  = regexp.MustCompile(`(?i)\bJOIN\b`)
	onKeyword    = regexp.MustCompile(`(?i)\bON\b`)
	whereWord    = regexp.MustCompile(`(?i)\bWHERE\b`)
	questionMon  = regexp.MustCompile(`(\d{1,2})月`)
	andSeparator = regexp.MustCompile(`(?i)\s+AND\s+`)
	spaceOrBrack = regexp.MustCompile(`[\s\[\]]+`)
)

// Options tunes the scorer
type Options struct {
	PassThreshold int
	ValidTables   []string
	SingleTable   string

	// Keywords that mark a question answerable from SingleTable alone when
	// both a supply and a product keyword occur
	SupplyKeywords  []string
	ProductKeywords []string
}

// DefaultOptions returns the thresholds and vocabularies of the demo schema
func DefaultOptions() Options {
	return Options{
		PassThreshold:   defaultPassThreshold,
		ValidTables:     []string{"dtsupply_summary", "CONPD", "备货NY"},
		SingleTable:     defaultSingleTable,
		SupplyKeywords:  []string{"全链库存", "SellOut", "SellIn", "周转", "DOI"},
		ProductKeywords: []string{"510S", "510s", "geek", "小新", "拯救者"},
	}
}

// OptionsFromModel builds scorer options from configuration
func OptionsFromModel(cfg model.ScoreConfig) Options {
	opts := DefaultOptions()
	if cfg.PassThreshold > 0 {
		opts.PassThreshold = cfg.PassThreshold
	}
	if len(cfg.ValidTables) > 0 {
		opts.ValidTables = cfg.ValidTables
	}
	if cfg.SingleTable != "" {
		opts.SingleTable = cfg.SingleTable
	}
	return opts
}

// Input is everything the scorer looks at
type Input struct {
	Question   string
	SQL        string
	Conditions []string     // Time fragments the SQL must carry
	Fired      []rules.Rule // Rules that matched the question
	Missing    string       // Generator's MISSING explanation, if any
	Feedback   model.Feedback
}

// Scorer calculates the quality index and generates signals
type Scorer struct {
	opts Options
}

// NewScorer creates a new scorer
func NewScorer(opts Options) *Scorer {
	if opts.PassThreshold <= 0 {
		opts.PassThreshold = defaultPassThreshold
	}
	return &Scorer{opts: opts}
}

// Calculate scores one statement and generates diagnostic signals
func (s *Scorer) Calculate(in Input) model.Score {
	var signals []model.Signal
	var suggestions []string

	// 1. Syntax (30%)
	syntaxScore, syntaxSignals := s.checkSyntax(in.SQL)
	signals = append(signals, syntaxSignals...)

	// 2. Business rules (40%)
	businessScore, businessSignals, businessSuggestions := s.checkBusiness(in)
	signals = append(signals, businessSignals...)
	suggestions = append(suggestions, businessSuggestions...)

	// 3. Performance (20%)
	perfScore, perfSignals := s.checkPerformance(in.SQL)
	signals = append(signals, perfSignals...)

	// 4. Structure (10%)
	structScore, structSignals := s.checkStructure(in.SQL)
	signals = append(signals, structSignals...)

	if in.Missing != "" {
		signals = append(signals, model.Signal{
			Type:        model.SignalMissing,
			Severity:    model.SeverityCritical,
			Description: "生成器缺少信息: " + in.Missing,
			Data:        map[string]interface{}{"missing": in.Missing},
		})
	}

	total := (syntaxScore*weightSyntax +
		businessScore*weightBusiness +
		perfScore*weightPerformance +
		structScore*weightStructure) * 100
	index := int(math.Round(total))

	result := model.Score{
		Index: index,
		Components: map[string]float64{
			string(model.SignalSyntax):      syntaxScore,
			string(model.SignalBusiness):    businessScore,
			string(model.SignalPerformance): perfScore,
			string(model.SignalStructure):   structScore,
		},
		Signals:     signals,
		Suggestions: suggestions,
	}
	result.IsCorrect = index >= s.opts.PassThreshold && !result.HasCritical()
	result.ShouldCache = result.IsCorrect || in.Feedback == model.FeedbackCorrect

	if len(result.Signals) == 0 {
		result.Signals = []model.Signal{{
			Type:        model.SignalSyntax,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("All checks passed (index %d)", index),
			Data:        map[string]interface{}{"index": index, "formula": formulaWeightedChecks},
		}}
	}

	return result
}

// checkSyntax verifies the statement shape
func (s *Scorer) checkSyntax(sql string) (float64, []model.Signal) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return 0, []model.Signal{critical(model.SignalSyntax, "SQL为空", nil)}
	}

	score := 1.0
	var signals []model.Signal

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		score *= penaltyNotSelect
		signals = append(signals, critical(model.SignalSyntax, "SQL必须以SELECT开头", map[string]interface{}{
			"penalty": penaltyNotSelect,
		}))
	}

	if open, closed := strings.Count(sql, "("), strings.Count(sql, ")"); open != closed {
		score *= penaltyParentheses
		signals = append(signals, critical(model.SignalSyntax, "括号不匹配", map[string]interface{}{
			"open":    open,
			"close":   closed,
			"penalty": penaltyParentheses,
		}))
	}

	if quotes := strings.Count(sql, "'"); quotes%2 != 0 {
		score *= penaltyQuotes
		signals = append(signals, critical(model.SignalSyntax, "单引号不匹配", map[string]interface{}{
			"quotes":  quotes,
			"penalty": penaltyQuotes,
		}))
	}

	return score, signals
}

// checkBusiness verifies that fired rule fragments and time conditions made it
// into the SQL in their canonical form
func (s *Scorer) checkBusiness(in Input) (float64, []model.Signal, []string) {
	score := 1.0
	var signals []model.Signal
	var suggestions []string

	normSQL := normalize(in.SQL)

	for _, r := range in.Fired {
		if r.Kind != rules.KindEntity {
			continue
		}
		for _, atom := range andSeparator.Split(r.Replacement, -1) {
			atom = strings.TrimSpace(atom)
			if atom == "" || strings.Contains(normSQL, normalize(atom)) {
				continue
			}
			score *= penaltyMissingAtom
			signals = append(signals, warning(model.SignalBusiness,
				fmt.Sprintf("%s应该使用 %s 进行匹配", r.Trigger, atom),
				map[string]interface{}{"trigger": r.Trigger, "expected": atom, "penalty": penaltyMissingAtom}))
			suggestions = append(suggestions, fmt.Sprintf("按业务规则 %s 使用 %s", r.Trigger, atom))
		}
	}

	for _, cond := range in.Conditions {
		for _, atom := range andSeparator.Split(cond, -1) {
			atom = strings.TrimSpace(atom)
			if atom == "" || strings.Contains(normSQL, normalize(atom)) {
				continue
			}
			score *= penaltyMissingAtom
			signals = append(signals, warning(model.SignalBusiness,
				"缺少时间条件 "+atom,
				map[string]interface{}{"expected": atom, "penalty": penaltyMissingAtom}))
			suggestions = append(suggestions, "在WHERE中加入 "+atom)
		}
	}

	seen := make(map[string]bool)
	for _, m := range questionMon.FindAllStringSubmatch(in.Question, -1) {
		month, err := strconv.Atoi(m[1])
		if err != nil || month < 1 || month > 12 || seen[m[1]] {
			continue
		}
		seen[m[1]] = true

		wrong := regexp.MustCompile(fmt.Sprintf(`'20\d{2}0?%d'`, month))
		if found := wrong.FindString(in.SQL); found != "" {
			correct := fmt.Sprintf("'%d月'", month)
			score *= penaltyMonthFormat
			signals = append(signals, critical(model.SignalBusiness,
				fmt.Sprintf("时间格式错误，应该是%s而不是%s", correct, found),
				map[string]interface{}{"found": found, "expected": correct, "penalty": penaltyMonthFormat}))
			suggestions = append(suggestions, fmt.Sprintf("修正时间格式为 [财月] = %s", correct))
		}
	}

	if joinKeyword.MatchString(in.SQL) && s.canUseSingleTable(in.Question) {
		score *= penaltyNeedlessJoin
		signals = append(signals, warning(model.SignalBusiness, "可以使用单表查询，避免不必要的JOIN",
			map[string]interface{}{"single_table": s.opts.SingleTable, "penalty": penaltyNeedlessJoin}))
		suggestions = append(suggestions, fmt.Sprintf("考虑使用%s单表查询提高性能", s.opts.SingleTable))
	}

	return score, signals, suggestions
}

// checkPerformance flags full scans and JOINs without ON
func (s *Scorer) checkPerformance(sql string) (float64, []model.Signal) {
	score := 1.0
	var signals []model.Signal

	if !whereWord.MatchString(sql) {
		score *= penaltyNoWhere
		signals = append(signals, warning(model.SignalPerformance, "缺少WHERE条件，可能导致全表扫描",
			map[string]interface{}{"penalty": penaltyNoWhere}))
	}

	joins := len(joinKeyword.FindAllStringIndex(sql, -1))
	ons := len(onKeyword.FindAllStringIndex(sql, -1))
	if joins > 0 && joins != ons {
		score *= penaltyJoinWithoutOn
		signals = append(signals, critical(model.SignalPerformance, "JOIN缺少对应的ON条件",
			map[string]interface{}{"joins": joins, "ons": ons, "penalty": penaltyJoinWithoutOn}))
	}

	return score, signals
}

// checkStructure verifies referenced tables exist
func (s *Scorer) checkStructure(sql string) (float64, []model.Signal) {
	if len(s.opts.ValidTables) == 0 {
		return 1, nil
	}

	score := 1.0
	var signals []model.Signal

	for _, table := range extractTables(sql) {
		if containsFold(s.opts.ValidTables, table) {
			continue
		}
		score *= penaltyUnknownTable
		signals = append(signals, critical(model.SignalStructure, fmt.Sprintf("表 %s 不存在", table),
			map[string]interface{}{"table": table, "valid_tables": s.opts.ValidTables, "penalty": penaltyUnknownTable}))
	}

	return score, signals
}

func (s *Scorer) canUseSingleTable(question string) bool {
	return containsAny(question, s.opts.SupplyKeywords) && containsAny(question, s.opts.ProductKeywords)
}

// extractTables returns table names after FROM and JOIN, in order of first use
func extractTables(sql string) []string {
	var tables []string
	seen := make(map[string]bool)
	for _, m := range tableRef.FindAllStringSubmatch(sql, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			tables = append(tables, m[1])
		}
	}
	return tables
}

// normalize folds case and drops whitespace and brackets so that
// "[Group] = 'ttl'" and "[group]='ttl'" compare equal
func normalize(s string) string {
	return strings.ToLower(spaceOrBrack.ReplaceAllString(s, ""))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func critical(t model.SignalType, desc string, data map[string]interface{}) model.Signal {
	return model.Signal{Type: t, Severity: model.SeverityCritical, Description: desc, Data: data}
}

func warning(t model.SignalType, desc string, data map[string]interface{}) model.Signal {
	return model.Signal{Type: t, Severity: model.SeverityWarning, Description: desc, Data: data}
}
