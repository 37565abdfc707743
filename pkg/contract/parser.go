package contract

import (
	"context"
	"strconv"
	"strings"
)

// Dependency: 单条类型化依存弧（支配词→从属词）。
// Gov/Dep 为句内 1 基词位；ROOT 的词位恒为 0。
type Dependency struct {
	Rel      string
	GovGloss string
	Gov      int
	DepGloss string
	Dep      int
}

// String 按 "rel(gov-i, dep-j)" 渲染单条弧。
func (d Dependency) String() string {
	var b strings.Builder
	b.WriteString(d.Rel)
	b.WriteByte('(')
	b.WriteString(d.GovGloss)
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(d.Gov))
	b.WriteString(", ")
	b.WriteString(d.DepGloss)
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(d.Dep))
	b.WriteByte(')')
	return b.String()
}

// FormatDependencies 按 "[a, b, c]" 渲染弧列表；空列表渲染为 "[]"。
// 该形态是工件格式的一部分，逐字节稳定，不得更改。
func FormatDependencies(deps []Dependency) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, d := range deps {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.String())
	}
	b.WriteByte(']')
	return b.String()
}

// ParseResult: 单行文本的解析结果（成分树 + 依存弧）。
// 约束：Tree 原样保留解析服务返回的括号树文本；空行的退化结果为
// Tree="(ROOT)"、Deps=nil。
type ParseResult struct {
	Tree string
	Deps []Dependency
}

// Parser: 以单行为单位与句法解析服务交互，返回 ParseResult。
// 单次调用、同步返回；应尊重 ctx 取消/超时并及时释放资源。
// 不做重试（重试策略属于编排层）。
type Parser interface {
	ParseLine(ctx context.Context, text string) (ParseResult, error)
}
