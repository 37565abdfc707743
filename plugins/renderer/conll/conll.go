package conll

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"dirparse/pkg/contract"
)

// Options 目前为空占位；保留 JSON 选项入口以便演进。
type Options struct{}

// Renderer 将依存弧渲染为 CoNLL 风格的四列表（制表符分隔）：
//
//	ID<TAB>FORM<TAB>HEAD<TAB>DEPREL
//
// 每句按词位升序一行一词，句间以空行分隔。成分树不参与该格式。
// 空行/空句渲染为单个空行（保持块数与记录数一致）。
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
	if len(res.Deps) == 0 {
		return "\n", nil
	}
	deps := make([]contract.Dependency, len(res.Deps))
	copy(deps, res.Deps)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Dep < deps[j].Dep })

	var sb strings.Builder
	for _, d := range deps {
		sb.WriteString(strconv.Itoa(d.Dep))
		sb.WriteByte('\t')
		sb.WriteString(d.DepGloss)
		sb.WriteByte('\t')
		sb.WriteString(strconv.Itoa(d.Gov))
		sb.WriteByte('\t')
		sb.WriteString(d.Rel)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String(), nil
}

var _ contract.Renderer = (*Renderer)(nil)
