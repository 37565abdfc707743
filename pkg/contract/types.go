package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Index: 单文件内稳定递增的行索引（0..n-1）。
type Index int64

// Record: 原子输入单元 —— 单个文件内的一行（或一句）。
// 约束：
// - FileID 一致；
// - Index 自 0 严格递增；
// - Text 为原始行文本（经 CRLF→LF 归一，去尾部换行），不做业务性清洗；
//   空行是合法 Record，不得在拆分阶段丢弃。
type Record struct {
	Index  Index
	FileID FileID
	Text   string
}

// Block: 单条 Record 经解析+渲染后的输出块（最终工件的拼接单元）。
// 同一 FileID 内按 Index 严格升序装配。
type Block struct {
	FileID FileID
	Index  Index
	Text   string
}
