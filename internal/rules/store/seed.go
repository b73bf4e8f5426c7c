package store

import "github.com/ppiankov/text2sql/internal/rules"

// Seed returns the demo rule table written by `rules init`
func Seed() []rules.Rule {
	family := func(name string) string {
		return "[roadmap family] like '%" + name + "%' and [group]='ttl'"
	}

	return []rules.Rule{
		{Trigger: "geek", Kind: rules.KindEntity, Replacement: family("geek"), Description: "产品系列 geek, 全部 group"},
		{Trigger: "510S", Kind: rules.KindEntity, Replacement: family("510S"), Description: "产品系列 510S, 全部 group"},
		{Trigger: "小新", Kind: rules.KindEntity, Replacement: family("小新"), Description: "产品系列 小新, 全部 group"},
		{Trigger: "拯救者", Kind: rules.KindEntity, Replacement: family("拯救者"), Description: "产品系列 拯救者, 全部 group"},
		{Trigger: "全链库存", Kind: rules.KindEntity, Replacement: "[全链库存]", Description: "字段", Table: "dtsupply_summary"},
		{Trigger: "25年7月", Kind: rules.KindTime, Replacement: "自然年=2025 AND 财月='7月'", Description: "时间条件"},
	}
}
