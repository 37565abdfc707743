package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 将输入路径规范化为跨平台稳定的 FileID。
// 规则：
// - 反斜杠统一替换为正斜杠
// - 清理冗余分隔符与 .、.. 片段
// - 不做隐式绝对化，相对/绝对语义保持原样
func NormalizeFileID(p string) FileID {
	s := strings.ReplaceAll(p, "\\", "/")
	// path.Clean 按 POSIX 语义清理（此时分隔符已统一为 '/'）
	return FileID(path.Clean(s))
}
