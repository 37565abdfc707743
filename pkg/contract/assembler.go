package contract

import (
	"context"
	"io"
)

// Assembler: 将同一文件的输出块线性装配为最终工件文本。
// 约束：
//  1. 仅对同一 FileID 的 Block 进行装配；
//  2. 按 Index 严格升序拼接；
//  3. 同批内索引不得重复；
//  4. 不引入跨文件状态；
//  5. 序列违规返回 ErrSeqInvalid；
//  6. 空块列表装配为空工件（零字节仍是合法产出）。
type Assembler interface {
	Assemble(ctx context.Context, fileID FileID, blocks []Block) (io.Reader, error)
}
