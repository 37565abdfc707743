package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志归类）。
var (
	// ErrRateLimited: 上游解析服务限流。
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseInvalid: 解析服务返回的载荷无法解码/缺少必要字段。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrInvalidInput: 输入/配置非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrSeqInvalid: 装配序列违例（乱序/重复/FileID 混入）。
	ErrSeqInvalid = errors.New("sequence invalid")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 长度预算不足（图表解析开销随句长至少平方增长）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
