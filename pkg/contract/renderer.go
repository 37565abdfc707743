package contract

import "context"

// Renderer: 将单条 Record 的解析结果渲染为输出块文本。
// 约束：
// 1) 纯函数式（无 I/O、无跨调用状态）；
// 2) 原始行文本必须逐字节保留在输出中（不做清洗/转义之外的改写）；
// 3) 渲染失败返回错误，不产出半成品。
type Renderer interface {
	Render(ctx context.Context, rec Record, res ParseResult) (string, error)
}
