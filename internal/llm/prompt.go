package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// systemPrompt frames every request
const systemPrompt = "你是一个专业的SQL生成助手。只输出一条 T-SQL 查询语句，不要解释。"

// missingPrefix starts an answer that asks for more information
const missingPrefix = "MISSING:"

var (
	fencedSQL  = regexp.MustCompile("(?s)```(?:[A-Za-z]+[ \t]*\r?\n|[ \t]*\r?\n?)(.*?)```")
	statement  = regexp.MustCompile(`(?is)\b(?:SELECT|WITH)\b.*`)
	maxExample = 5
)

// BuildPrompt constructs the generation prompt. The condition fragments are
// handed over verbatim so the model copies them into the WHERE clause.
func BuildPrompt(req GenerateRequest) string {
	var b strings.Builder

	if req.Schema != "" {
		b.WriteString("【表结构】\n")
		b.WriteString(strings.TrimSpace(req.Schema))
		b.WriteString("\n\n")
	}

	if len(req.Glossary) > 0 {
		b.WriteString("【业务规则】\n")
		for _, g := range req.Glossary {
			fmt.Fprintf(&b, "- %s => %s\n", g.Term, g.Meaning)
		}
		b.WriteString("\n")
	}

	b.WriteString("【问题】\n")
	question := req.Residual
	if question == "" {
		question = req.Question
	}
	b.WriteString(question)
	b.WriteString("\n\n")

	if len(req.Conditions) > 0 {
		b.WriteString("【必须包含的WHERE条件】\n")
		for _, c := range req.Conditions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("不要使用 GETDATE() 推断时间，以上条件已给出确切的年份和月份。\n\n")
	}

	if len(req.Examples) > 0 {
		b.WriteString("【历史问答示例】\n")
		for i, ex := range req.Examples {
			if i >= maxExample {
				break
			}
			fmt.Fprintf(&b, "问题: %s\nSQL: %s\n", ex.Question, ex.SQL)
		}
		b.WriteString("\n")
	}

	b.WriteString("【重要要求】\n")
	b.WriteString("1. SELECT语句的第一列必须包含定语字段（如Roadmap Family）\n")
	b.WriteString("2. 根据产品层级正确聚类数据，使用SUM()和GROUP BY\n")
	b.WriteString("3. 只使用上述表结构中明确列出的表和字段\n")
	b.WriteString("4. 确保JOIN条件正确，避免笛卡尔积\n")
	fmt.Fprintf(&b, "5. 如果信息不足以生成SQL，只回答一行: %s <缺少的信息>\n", missingPrefix)

	return b.String()
}

// ParseResponse extracts the SQL statement from model output, or the
// MISSING explanation when the model could not answer
func ParseResponse(text string) (sql string, missing string, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", ErrEmptyResponse
	}

	if len(text) >= len(missingPrefix) && strings.EqualFold(text[:len(missingPrefix)], missingPrefix) {
		return "", strings.TrimSpace(text[len(missingPrefix):]), nil
	}

	if m := fencedSQL.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	} else if loc := statement.FindStringIndex(text); loc != nil {
		text = strings.TrimSpace(text[loc[0]:])
	}

	if text == "" {
		return "", "", ErrEmptyResponse
	}
	return text, "", nil
}
