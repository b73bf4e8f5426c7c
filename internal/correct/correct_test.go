package correct

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var geekJuly = []string{"自然年=2025 AND 财月='7月'"}

const currentDateSQL = "SELECT SUM(s.[全链库存]) AS 全链库存\n" +
	"FROM dtsupply_summary s\n" +
	"WHERE s.[Roadmap Family] LIKE '%geek%'\n" +
	"    AND s.[Group] = 'ttl'\n" +
	"    AND s.[自然年] = YEAR(GETDATE())\n" +
	"    AND s.[财月] = CAST(MONTH(GETDATE()) AS VARCHAR) + '月'"

const fiscalYearSQL = "SELECT \n" +
	"    [Roadmap Family],\n" +
	"    SUM([全链库存]) AS [全链库存总量]\n" +
	"FROM \n" +
	"    FF_IDSS_Dev_FF.dbo.dtsupply_summary\n" +
	"WHERE \n" +
	"    [Roadmap Family] LIKE '%geek%' \n" +
	"    AND [Group] = 'ttl'\n" +
	"    AND 自然年 = (CASE WHEN MONTH(GETDATE()) >= 4 THEN YEAR(GETDATE()) ELSE YEAR(GETDATE()) - 1 END)\n" +
	"    AND 财周 = 'ttl'\n" +
	"GROUP BY \n" +
	"    [Roadmap Family]"

func TestCorrect_ReplacesCurrentDatePredicates(t *testing.T) {
	got, applied := Default().Explain(currentDateSQL, geekJuly)

	want := "SELECT SUM(s.[全链库存]) AS 全链库存\n" +
		"FROM dtsupply_summary s\n" +
		"WHERE s.[Roadmap Family] LIKE '%geek%'\n" +
		"    AND s.[Group] = 'ttl' AND 自然年=2025 AND 财月='7月'"

	assert.Equal(t, want, got)
	assert.Equal(t, []string{"drop-current-year", "drop-current-month", "append-conditions"}, applied)
}

func TestCorrect_FiscalYearCase(t *testing.T) {
	got := Correct(fiscalYearSQL, geekJuly)

	assert.NotContains(t, got, "GETDATE")
	assert.Contains(t, got, "AND 财周 = 'ttl' AND 自然年=2025 AND 财月='7月'\nGROUP BY")
	assert.Contains(t, got, "[Roadmap Family] LIKE '%geek%'")
}

func TestCorrect_KeepsCurrentDateWithoutConditions(t *testing.T) {
	assert.Equal(t, currentDateSQL, Correct(currentDateSQL, nil))
	assert.Equal(t, currentDateSQL, Correct(currentDateSQL, []string{}))
}

func TestCorrect_DropsOnlyTheConstrainedColumn(t *testing.T) {
	got := Correct(currentDateSQL, []string{"财月='8月'"})

	assert.Contains(t, got, "s.[自然年] = YEAR(GETDATE())")
	assert.NotContains(t, got, "CAST(MONTH")
	assert.True(t, strings.HasSuffix(got, "AND 财月='8月'"))
}

func TestCorrect_SolePredicateLeavesNoDanglingWhere(t *testing.T) {
	sql := "SELECT SUM([全链库存]) FROM dtsupply_summary WHERE [自然年] = YEAR(GETDATE()) GROUP BY [Roadmap Family]"

	got := Correct(sql, []string{"自然年=2025"})
	assert.Equal(t, "SELECT SUM([全链库存]) FROM dtsupply_summary WHERE 自然年=2025 GROUP BY [Roadmap Family]", got)
}

func TestCorrect_NumericMonthLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT * FROM t WHERE [财月] = '20257'", "SELECT * FROM t WHERE [财月] = '7月'"},
		{"SELECT * FROM t WHERE s.[财月]='202512'", "SELECT * FROM t WHERE s.[财月]='12月'"},
		{"SELECT * FROM t WHERE 财月 = '202507'", "SELECT * FROM t WHERE 财月 = '7月'"},
		{"SELECT * FROM t WHERE [财月] = '202513'", "SELECT * FROM t WHERE [财月] = '202513'"},
		{"SELECT * FROM t WHERE [自然年] = '20257'", "SELECT * FROM t WHERE [自然年] = '20257'"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Correct(tt.in, nil))
		})
	}
}

func TestCorrect_CreatesWhereClause(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "before group by",
			sql:  "SELECT SUM([全链库存]) FROM dtsupply_summary GROUP BY [Roadmap Family] ORDER BY 1;",
			want: "SELECT SUM([全链库存]) FROM dtsupply_summary WHERE 自然年=2025 AND 财月='7月' GROUP BY [Roadmap Family] ORDER BY 1;",
		},
		{
			name: "at the end",
			sql:  "SELECT SUM([全链库存]) FROM dtsupply_summary",
			want: "SELECT SUM([全链库存]) FROM dtsupply_summary WHERE 自然年=2025 AND 财月='7月'",
		},
		{
			name: "subquery where is not the outer where",
			sql:  "SELECT * FROM (SELECT a FROM t WHERE x = 1) q",
			want: "SELECT * FROM (SELECT a FROM t WHERE x = 1) q WHERE 自然年=2025 AND 财月='7月'",
		},
		{
			name: "keyword inside a literal",
			sql:  "SELECT 'GROUP BY' AS label FROM t",
			want: "SELECT 'GROUP BY' AS label FROM t WHERE 自然年=2025 AND 财月='7月'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Correct(tt.sql, geekJuly))
		})
	}
}

func TestCorrect_ExistingColumnWins(t *testing.T) {
	sql := "SELECT * FROM t WHERE [财月] = '6月' AND [自然年] = 2025"
	assert.Equal(t, sql, Correct(sql, geekJuly))
}

func TestCorrect_StripsCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"Here you go:\n```SQL\nSELECT 2 FROM t\n```\nThanks", "SELECT 2 FROM t"},
		{"```SELECT 3```", "SELECT 3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Correct(tt.in, nil))
	}
}

func TestCorrect_Idempotent(t *testing.T) {
	inputs := []struct {
		sql   string
		conds []string
	}{
		{currentDateSQL, geekJuly},
		{fiscalYearSQL, geekJuly},
		{"```sql\nSELECT * FROM t WHERE [财月] = '20257'\n```", []string{"自然年=2025"}},
		{"SELECT SUM([全链库存]) FROM dtsupply_summary GROUP BY [Roadmap Family]", []string{"[group]='ttl' AND 财月='7月'"}},
		{"SELECT * FROM t WHERE d BETWEEN 1 AND 2", []string{"d BETWEEN 1 AND 2 AND 自然年=2025"}},
		{"SELECT 1", nil},
	}

	c := Default()
	for _, in := range inputs {
		once := c.Correct(in.sql, in.conds)
		twice := c.Correct(once, in.conds)
		assert.Equal(t, once, twice, in.sql)
	}
}

func TestSplitAtoms(t *testing.T) {
	assert.Equal(t, []string{"自然年=2025", "财月='7月'"}, splitAtoms("自然年=2025 AND 财月='7月'"))
	assert.Equal(t, []string{"name = 'a and b'"}, splitAtoms("name = 'a and b'"))
	assert.Equal(t, []string{"d BETWEEN 1 AND 2", "x = 1"}, splitAtoms("d BETWEEN 1 AND 2 AND x = 1"))
	assert.Equal(t, []string{"(a = 1 AND b = 2)"}, splitAtoms("(a = 1 AND b = 2)"))
}

func TestColumnOf(t *testing.T) {
	assert.Equal(t, "自然年", columnOf("自然年=2025"))
	assert.Equal(t, "财月", columnOf("s.[财月] = '7月'"))
	assert.Equal(t, "roadmap family", columnOf("[roadmap family] like '%geek%'"))
	assert.Equal(t, "", columnOf("EXISTS (SELECT 1)"))
}

func TestNew_CustomOrder(t *testing.T) {
	upper := Patch{
		Name:  "upper",
		Apply: func(sql string, _ []string) string { return strings.ToUpper(sql) },
	}
	trim := Patch{
		Name:    "trim",
		Applies: func(sql string, _ []string) bool { return strings.HasSuffix(sql, ";") },
		Apply:   func(sql string, _ []string) string { return strings.TrimSuffix(sql, ";") },
	}

	c := New(trim, upper)
	got, applied := c.Explain("select 1;", nil)
	assert.Equal(t, "SELECT 1", got)
	assert.Equal(t, []string{"trim", "upper"}, applied)
	assert.Equal(t, []string{"trim", "upper"}, c.Names())
}
