package line

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"dirparse/pkg/contract"
)

// Options 为行拆分器的可选配置（最小必要）。
type Options struct {
	// MaxLineBytes: 单行最大字节数。0 表示不限制。
	MaxLineBytes int `json:"max_line_bytes"`
}

// Splitter 按物理行拆分：每行一个 Record（含空行）。
// 归一化仅限 CRLF→LF 并去除尾部换行；末尾换行不产生幻影空记录。
type Splitter struct {
	maxBytes int
}

// New 创建行拆分器。
func New(opts *Options) *Splitter {
	mb := 0
	if opts != nil && opts.MaxLineBytes > 0 {
		mb = opts.MaxLineBytes
	}
	return &Splitter{maxBytes: mb}
}

// Split 将单个文件拆分为 []Record。空文件返回零条记录。
func (s *Splitter) Split(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Record, error) {
	br := bufio.NewReader(r)
	var recs []contract.Record
	var idx contract.Index

	for {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		line, eof, err := readLine(br)
		if err != nil {
			return nil, err
		}
		// 文件以换行结尾时，最后一次读取为 EOF+空串：不产出记录
		if eof && line == "" {
			break
		}
		if s.maxBytes > 0 && len(line) > s.maxBytes {
			return nil, fmt.Errorf("line too large: %d > %d", len(line), s.maxBytes)
		}
		// UTF-8 校验（最小必要：非法字节快速失败）
		if !utf8.ValidString(line) {
			return nil, errors.New("decode error: invalid UTF-8 in line")
		}
		recs = append(recs, contract.Record{Index: idx, FileID: fileID, Text: line})
		idx++
		if eof {
			break
		}
	}
	return recs, nil
}

// readLine 读取一行，归一 CRLF→LF，并去除结尾换行符；返回该行与是否 EOF。
func readLine(br *bufio.Reader) (line string, eof bool, err error) {
	s, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			eof = true
		} else {
			return "", false, err
		}
	}
	// 去除尾部换行（\n 或 \r\n）
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, eof, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
