package sgml

import (
	"context"
	"encoding/json"
	"strings"

	"dirparse/pkg/contract"
)

// Options 目前为空占位；保留 JSON 选项入口以便演进。
type Options struct{}

// Renderer 将解析结果渲染为 SGML 风格块：
//
//	<sentence>
//	<str>原始行</str>
//	<penn>
//	(ROOT ...)
//	</penn>
//	<dep>
//	[rel(gov-i, dep-j), ...]
//	</dep>
//	</sentence>
//
// 块格式逐字节稳定：原始行文本原样嵌入，不做转义或清洗。
type Renderer struct{}

func New(raw json.RawMessage) (contract.Renderer, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	return &Renderer{}, nil
}

// Render 实现 contract.Renderer。
func (r *Renderer) Render(ctx context.Context, rec contract.Record, res contract.ParseResult) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	var sb strings.Builder
	sb.WriteString("<sentence>\n<str>")
	sb.WriteString(rec.Text)
	sb.WriteString("</str>\n<penn>\n")
	// 树文本恰以一个换行结尾
	sb.WriteString(strings.TrimRight(res.Tree, "\n"))
	sb.WriteString("\n</penn>\n<dep>\n")
	sb.WriteString(contract.FormatDependencies(res.Deps))
	sb.WriteString("\n</dep>\n</sentence>\n")
	return sb.String(), nil
}

var _ contract.Renderer = (*Renderer)(nil)
