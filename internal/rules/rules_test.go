package rules

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geekFragment = "[roadmap family] like '%geek%' and [group]='ttl'"

func geekRules() []Rule {
	return []Rule{
		{Trigger: "25年7月", Kind: KindTime, Replacement: "自然年=2025 AND 财月='7月'"},
		{Trigger: "geek", Kind: KindEntity, Replacement: geekFragment},
	}
}

func TestApply_GeekScenario(t *testing.T) {
	res, err := Apply("geek25年7月全链库存", geekRules())
	require.NoError(t, err)

	assert.Equal(t, []string{"自然年=2025 AND 财月='7月'"}, res.Conditions)
	assert.Equal(t, geekFragment+"全链库存", res.Residual)

	rest := strings.ReplaceAll(res.Residual, geekFragment, "")
	assert.NotContains(t, rest, "geek")
	assert.NotContains(t, res.Residual, "25年7月")
	assert.NoError(t, res.Err())

	require.Len(t, res.Fired, 2)
	assert.Equal(t, "25年7月", res.Fired[0].Trigger)
	assert.Equal(t, "geek", res.Fired[1].Trigger)
}

func TestApply_510SScenario(t *testing.T) {
	rules := []Rule{
		{Trigger: "25年6月", Kind: KindTime, Replacement: "自然年=2025 AND 财月='6月'"},
		{Trigger: "510S", Kind: KindEntity, Replacement: "[roadmap family] like '%510S%' and [group]='ttl'"},
	}

	res, err := Apply("510S25年6月全链库存", rules)
	require.NoError(t, err)

	assert.Equal(t, []string{"自然年=2025 AND 财月='6月'"}, res.Conditions)
	assert.Contains(t, res.Residual, "[roadmap family] like '%510S%'")
	assert.True(t, strings.HasSuffix(res.Residual, "全链库存"))
}

func TestApply_LongestTriggerFirst(t *testing.T) {
	// The general rule is registered first on purpose.
	rules := []Rule{
		{Trigger: "25年", Kind: KindTime, Replacement: "自然年=2025"},
		{Trigger: "25年7月", Kind: KindTime, Replacement: "自然年=2025 AND 财月='7月'"},
	}

	res, err := Apply("25年7月全链库存", rules)
	require.NoError(t, err)

	assert.Equal(t, []string{"自然年=2025 AND 财月='7月'"}, res.Conditions)
	assert.Equal(t, "全链库存", res.Residual)
}

func TestApply_DefaultPatterns(t *testing.T) {
	tests := []struct {
		question   string
		conditions []string
		residual   string
	}{
		{"geek25年7月全链库存", []string{"自然年=2025 AND 财月='7月'"}, "geek全链库存"},
		{"拯救者 25年8月全链库存", []string{"自然年=2025 AND 财月='8月'"}, "拯救者 全链库存"},
		{"小新 25年09月全链库存", []string{"自然年=2025 AND 财月='9月'"}, "小新 全链库存"},
		{"geek25年全链库存", []string{"自然年=2025"}, "geek全链库存"},
		{"510S 7月全链库存", []string{"财月='7月'"}, "510S 全链库存"},
		{"7月和8月对比", []string{"财月='7月'", "财月='8月'"}, "和对比"},
		{"7月比7月", []string{"财月='7月'"}, "比"},
	}

	snap := MustCompile(DefaultTimeRules())
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			res := snap.Apply(tt.question)
			assert.Equal(t, tt.conditions, res.Conditions)
			assert.Equal(t, tt.residual, res.Residual)
			for _, c := range res.Conditions {
				assert.NotContains(t, strings.ToUpper(c), "GETDATE")
			}
		})
	}
}

func TestApply_CombinedPatternYieldsSingleFragment(t *testing.T) {
	snap := MustCompile(DefaultTimeRules())

	res := snap.Apply("geek25年7月全链库存")
	require.Len(t, res.Conditions, 1)
	assert.Contains(t, res.Conditions[0], "自然年=2025")
	assert.Contains(t, res.Conditions[0], "财月='7月'")
}

func TestApply_SecondIndependentOccurrence(t *testing.T) {
	rules := []Rule{
		{Trigger: "7月", Kind: KindTime, Replacement: "财月='7月'"},
		{Trigger: "25年7月", Kind: KindTime, Replacement: "自然年=2025 AND 财月='7月'"},
	}

	res, err := Apply("25年7月和7月", rules)
	require.NoError(t, err)

	assert.Equal(t, []string{"自然年=2025 AND 财月='7月'", "财月='7月'"}, res.Conditions)
	assert.Equal(t, "和", res.Residual)
}

func TestApply_InvalidMonth(t *testing.T) {
	rules := []Rule{
		{Trigger: "25年{M}月", Kind: KindTime, Replacement: "自然年=2025 AND 财月={month}"},
	}

	res, err := Apply("25年13月全链库存", rules)
	require.NoError(t, err)

	assert.Empty(t, res.Conditions)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, "13", res.Invalid[0].Value)
	assert.Equal(t, "month", res.Invalid[0].Field)
	assert.Equal(t, "25年13月", res.Invalid[0].Text)
	assert.True(t, errors.Is(res.Err(), ErrInvalidTimeExpression))
}

func TestApply_InvalidMonthIsNotPickedUpByGeneralRules(t *testing.T) {
	res := MustCompile(DefaultTimeRules()).Apply("25年13月全链库存")

	assert.Empty(t, res.Conditions)
	assert.Len(t, res.Invalid, 1)
	assert.Equal(t, "全链库存", res.Residual)
}

func TestApply_NoMatch(t *testing.T) {
	q := "随便问一句话"
	res, err := Apply(q, WithDefaults(geekRules()))
	require.NoError(t, err)

	assert.NotNil(t, res.Conditions)
	assert.Empty(t, res.Conditions)
	assert.Equal(t, q, res.Residual)
	assert.Empty(t, res.Fired)
	assert.NoError(t, res.Err())
}

func TestApply_Idempotent(t *testing.T) {
	snap := MustCompile(WithDefaults(geekRules()))

	for _, q := range []string{
		"geek25年7月全链库存",
		"geek 7月和8月全链库存对比",
		"随便问一句话",
		"27月5年",
	} {
		first := snap.Apply(q)
		second := snap.Apply(first.Residual)

		assert.Empty(t, second.Conditions, q)
		assert.Equal(t, first.Residual, second.Residual, q)
	}
}

func TestApply_ReplacementAlreadyPresentIsNotRewritten(t *testing.T) {
	rules := []Rule{
		{Trigger: "库存", Kind: KindEntity, Replacement: "全链库存"},
	}

	res, err := Apply("geek全链库存", rules)
	require.NoError(t, err)
	assert.Equal(t, "geek全链库存", res.Residual)

	res, err = Apply("geek库存", rules)
	require.NoError(t, err)
	assert.Equal(t, "geek全链库存", res.Residual)
}

func TestApply_AliasReplacementDoesNotHideTimePatterns(t *testing.T) {
	rules := WithDefaults([]Rule{
		{Trigger: "七月", Kind: KindEntity, Replacement: "7月"},
	})
	snap := MustCompile(rules)

	res := snap.Apply("25年7月全链库存")
	assert.Equal(t, []string{"自然年=2025 AND 财月='7月'"}, res.Conditions)
	assert.Equal(t, "全链库存", res.Residual)

	res = snap.Apply("7月全链库存")
	assert.Equal(t, []string{"财月='7月'"}, res.Conditions)
	assert.Equal(t, "全链库存", res.Residual)

	res = snap.Apply("25年七月全链库存")
	assert.Equal(t, []string{"自然年=2025"}, res.Conditions)
	assert.Equal(t, "7月全链库存", res.Residual)
}

func TestApply_LongerTriggerSeesExistingReplacement(t *testing.T) {
	rules := []Rule{
		{Trigger: "全链库存", Kind: KindEntity, Replacement: "[库存类型]='全链'"},
		{Trigger: "存货", Kind: KindEntity, Replacement: "库存"},
	}

	res, err := Apply("全链库存", rules)
	require.NoError(t, err)
	assert.Equal(t, "[库存类型]='全链'", res.Residual)
	require.Len(t, res.Fired, 1)
	assert.Equal(t, "全链库存", res.Fired[0].Trigger)

	res, err = Apply("全链存货", rules)
	require.NoError(t, err)
	assert.Equal(t, "全链库存", res.Residual)
}

func TestApply_ExistingReplacementShieldsOnlyContainedTriggers(t *testing.T) {
	rules := []Rule{
		{Trigger: "库存", Kind: KindEntity, Replacement: "全链库存"},
		{Trigger: "geek", Kind: KindEntity, Replacement: geekFragment},
	}

	res, err := Apply("geek全链库存和库存", rules)
	require.NoError(t, err)
	assert.Equal(t, geekFragment+"全链库存和全链库存", res.Residual)

	second, err := Apply(res.Residual, rules)
	require.NoError(t, err)
	assert.Equal(t, res.Residual, second.Residual)
	assert.Empty(t, second.Fired)
}

func TestApply_DigitBoundary(t *testing.T) {
	res := MustCompile(DefaultTimeRules()).Apply("2025年")
	assert.Empty(t, res.Conditions)
	assert.Equal(t, "2025年", res.Residual)
}

func TestApply_EqualLengthTieUsesRegistrationOrder(t *testing.T) {
	ab := Rule{Trigger: "ab", Kind: KindEntity, Replacement: "X"}
	bc := Rule{Trigger: "bc", Kind: KindEntity, Replacement: "Y"}

	res, err := Apply("abc", []Rule{ab, bc})
	require.NoError(t, err)
	assert.Equal(t, "Xc", res.Residual)

	res, err = Apply("abc", []Rule{bc, ab})
	require.NoError(t, err)
	assert.Equal(t, "aY", res.Residual)
}

func TestApply_TableRestriction(t *testing.T) {
	rules := []Rule{
		{Trigger: "库存", Kind: KindEntity, Replacement: "[库存量]"},
		{Trigger: "库存", Kind: KindEntity, Replacement: "[全链库存]", Table: "dtsupply_summary"},
	}
	snap := MustCompile(rules)

	assert.Equal(t, "geek[全链库存]", snap.Apply("geek库存", WithTable("dtsupply_summary")).Residual)
	assert.Equal(t, "geek[库存量]", snap.Apply("geek库存", WithTable("CONPD")).Residual)
	assert.Equal(t, "geek[全链库存]", snap.Apply("geek库存").Residual)
}

func TestCompile_Ordering(t *testing.T) {
	snap := MustCompile([]Rule{
		{Trigger: "7月", Kind: KindTime, Replacement: "财月='7月'"},
		{Trigger: "25年", Kind: KindTime, Replacement: "自然年=2025"},
		{Trigger: "25年7月", Kind: KindTime, Replacement: "自然年=2025 AND 财月='7月'"},
		{Trigger: "{M}月", Kind: KindTime, Replacement: "财月={month}"},
	})

	var triggers []string
	for _, r := range snap.Rules() {
		triggers = append(triggers, r.Trigger)
	}
	assert.Equal(t, []string{"25年7月", "25年", "7月", "{M}月"}, triggers)
	assert.Equal(t, 4, snap.Len())
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want error
	}{
		{"empty trigger", Rule{Kind: KindEntity}, ErrEmptyTrigger},
		{"unknown kind", Rule{Trigger: "x", Kind: "field"}, ErrUnknownKind},
		{"unknown placeholder", Rule{Trigger: "{YYYY}年", Kind: KindTime}, ErrUnknownPlaceholder},
		{"entity pattern", Rule{Trigger: "{YY}年", Kind: KindEntity}, nil},
		{"missing month placeholder", Rule{Trigger: "{YY}年", Kind: KindTime, Replacement: "财月={month}"}, nil},
		{"repeated placeholder", Rule{Trigger: "{M}月{M}月", Kind: KindTime}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]Rule{tt.rule})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestAmbiguities(t *testing.T) {
	rules := []Rule{
		{Trigger: "ab", Kind: KindEntity, Replacement: "X"},
		{Trigger: "bc", Kind: KindEntity, Replacement: "Y"},
		{Trigger: "25年7月", Kind: KindTime, Replacement: "自然年=2025 AND 财月='7月'"},
		{Trigger: "{YY}年{M}月", Kind: KindTime, Replacement: "自然年={year} AND 财月={month}"},
		{Trigger: "geek", Kind: KindEntity, Replacement: geekFragment},
		{Trigger: "小新", Kind: KindEntity, Replacement: "[roadmap family] like '%小新%'"},
	}

	found, err := Ambiguities(rules)
	require.NoError(t, err)
	require.Len(t, found, 2)

	assert.Equal(t, "ab", found[0].Winner.Trigger)
	assert.Equal(t, "bc", found[0].Loser.Trigger)
	assert.Contains(t, found[0].Reason, `"b"`)

	assert.Equal(t, "25年7月", found[1].Winner.Trigger)
	assert.Equal(t, "{YY}年{M}月", found[1].Loser.Trigger)
}

func TestAmbiguities_Duplicates(t *testing.T) {
	found, err := Ambiguities([]Rule{
		{Trigger: "geek", Kind: KindEntity, Replacement: "a"},
		{Trigger: "geek", Kind: KindEntity, Replacement: "b"},
		{Trigger: "geek", Kind: KindEntity, Replacement: "c", Table: "CONPD"},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "duplicate trigger", found[0].Reason)
	assert.Equal(t, "a", found[0].Winner.Replacement)
}

func TestSnapshot_ConcurrentApply(t *testing.T) {
	snap := MustCompile(WithDefaults(geekRules()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				res := snap.Apply("geek25年7月全链库存")
				if len(res.Conditions) != 1 {
					t.Errorf("expected 1 condition, got %v", res.Conditions)
					return
				}
			}
		}()
	}
	wg.Wait()
}
