package flaky

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync/atomic"

	"dirparse/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	// Tag: 成功响应的词法标签占位，默认 "XX"。
	Tag string `json:"tag"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Parser 是带状态的解析器实现：
// 第一次 ParseLine 返回 ErrRateLimited；
// 第二次返回 ErrResponseInvalid；
// 之后返回占位解析结果（与 mock 同构）。
// 用于验证编排层的重试路径。
type Parser struct {
	tag     string
	logPath string
	count   atomic.Int32
}

// New 构造 Parser。
func New(raw json.RawMessage) (contract.Parser, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Tag == "" {
		o.Tag = "XX"
	}
	return &Parser{tag: o.Tag, logPath: o.LogPath}, nil
}

func (p *Parser) log(s string) {
	if p.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(p.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// ParseLine 实现 contract.Parser。
func (p *Parser) ParseLine(ctx context.Context, text string) (contract.ParseResult, error) {
	switch p.count.Add(1) {
	case 1:
		p.log("rate_limited")
		return contract.ParseResult{}, contract.ErrRateLimited
	case 2:
		p.log("invalid_response")
		return contract.ParseResult{}, contract.ErrResponseInvalid
	default:
		p.log("ok")
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
		deps := make([]contract.Dependency, 0, len(toks))
		deps = append(deps, contract.Dependency{Rel: "root", GovGloss: "ROOT", Gov: 0, DepGloss: toks[0], Dep: 1})
		for i := 1; i < len(toks); i++ {
			deps = append(deps, contract.Dependency{Rel: "dep", GovGloss: toks[0], Gov: 1, DepGloss: toks[i], Dep: i + 1})
		}
		return contract.ParseResult{Tree: sb.String(), Deps: deps}, nil
	}
}

var _ contract.Parser = (*Parser)(nil)
