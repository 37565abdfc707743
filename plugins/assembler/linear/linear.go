package linear

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"dirparse/pkg/contract"
)

// Options: 预留占位，线性装配无需配置。
type Options struct{}

type assembler struct{}

// New 从原样 JSON Options 创建线性装配器（当前忽略选项）。
func New(raw json.RawMessage) (contract.Assembler, error) {
	// 预留未来宽松度/策略扩展点；当前为无状态实现
	_ = raw
	return &assembler{}, nil
}

// Assemble 按 Index 严格升序线性拼接 blocks.Text；
// 发现 FileID 混入、逆序或重复即返回 ErrSeqInvalid。
func (a *assembler) Assemble(ctx context.Context, fileID contract.FileID, blocks []contract.Block) (io.Reader, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(blocks) == 0 {
		return strings.NewReader(""), nil
	}

	// 线性校验：同一 FileID、Index 严格升序
	if blocks[0].FileID != fileID {
		return nil, contract.ErrSeqInvalid
	}
	prev := blocks[0].Index
	for i := 1; i < len(blocks); i++ {
		b := blocks[i]
		if b.FileID != fileID {
			return nil, contract.ErrSeqInvalid
		}
		// 严格升序：不允许重复
		if !(b.Index > prev) {
			return nil, contract.ErrSeqInvalid
		}
		prev = b.Index
	}

	// 零拷贝倾向：拼接多个只读字符串 reader
	rs := make([]io.Reader, 0, len(blocks))
	for _, b := range blocks {
		// 允许空 Text；不插入分隔符
		rs = append(rs, strings.NewReader(b.Text))
	}
	return io.MultiReader(rs...), nil
}

var _ contract.Assembler = (*assembler)(nil)
