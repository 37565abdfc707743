package mock

import (
	"context"
	"encoding/json"
	"strings"

	"dirparse/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	// Tag: 词法标签占位，默认 "XX"。
	Tag string `json:"tag"`
	// BaseURL: 仅用于限流分组（调试用），不参与任何网络请求。
	BaseURL string `json:"base_url"`
}

// Parser 是离线占位解析器：按空白切词，产出扁平树与星形依存。
// 仅用于模块/流程调试与无网络联调；输出结构稳定、可断言。
type Parser struct {
	tag string
}

func New(raw json.RawMessage) (contract.Parser, error) {
	var o Options
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &o)
	}
	if o.Tag == "" {
		o.Tag = "XX"
	}
	return &Parser{tag: o.Tag}, nil
}

// ParseLine 实现 contract.Parser。
func (p *Parser) ParseLine(ctx context.Context, text string) (contract.ParseResult, error) {
	select {
	case <-ctx.Done():
		return contract.ParseResult{}, ctx.Err()
	default:
	}
	toks := strings.Fields(text)
	if len(toks) == 0 {
		return contract.ParseResult{Tree: "(ROOT)"}, nil
	}

	var sb strings.Builder
	sb.WriteString("(ROOT (S")
	for _, t := range toks {
		sb.WriteString(" (")
		sb.WriteString(p.tag)
		sb.WriteByte(' ')
		sb.WriteString(t)
		sb.WriteByte(')')
	}
	sb.WriteString("))")

	// 星形依存：首词为 root，其余词挂到首词
	deps := make([]contract.Dependency, 0, len(toks))
	deps = append(deps, contract.Dependency{Rel: "root", GovGloss: "ROOT", Gov: 0, DepGloss: toks[0], Dep: 1})
	for i := 1; i < len(toks); i++ {
		deps = append(deps, contract.Dependency{Rel: "dep", GovGloss: toks[0], Gov: 1, DepGloss: toks[i], Dep: i + 1})
	}
	return contract.ParseResult{Tree: sb.String(), Deps: deps}, nil
}

var _ contract.Parser = (*Parser)(nil)
