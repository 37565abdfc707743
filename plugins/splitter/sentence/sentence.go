package sentence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/neurosnap/sentences"

	"dirparse/pkg/contract"
)

// Options 为句子拆分器的配置。
type Options struct {
	// ModelPath: punkt 训练数据（JSON）路径。必填。
	ModelPath string `json:"model_path"`
	// MaxSentenceBytes: 单句最大字节数。0 表示不限制。
	MaxSentenceBytes int `json:"max_sentence_bytes"`
}

// Splitter 基于 punkt 训练数据做句子切分：每句一个 Record。
// 与行拆分不同：丢弃句间空白，产出的 Text 为去除首尾空白后的句子；
// 全空白文件产出零条记录。
type Splitter struct {
	tok      *sentences.DefaultSentenceTokenizer
	maxBytes int
}

// New 创建句子拆分器；训练数据在构造期一次性加载。
func New(opts *Options) (*Splitter, error) {
	if opts == nil || opts.ModelPath == "" {
		return nil, errors.New("sentence splitter: model_path required")
	}
	data, err := os.ReadFile(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("sentence splitter: read model: %w", err)
	}
	storage, err := sentences.LoadTraining(data)
	if err != nil {
		return nil, fmt.Errorf("sentence splitter: load training: %w", err)
	}
	mb := 0
	if opts.MaxSentenceBytes > 0 {
		mb = opts.MaxSentenceBytes
	}
	return &Splitter{tok: sentences.NewSentenceTokenizer(storage), maxBytes: mb}, nil
}

// Split 将单个文件切分为句子记录。
func (s *Splitter) Split(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Record, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(b), "\r\n", "\n")
	if !utf8.ValidString(text) {
		return nil, errors.New("decode error: invalid UTF-8 in file")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var recs []contract.Record
	var idx contract.Index
	for _, sent := range s.tok.Tokenize(text) {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		t := strings.TrimSpace(sent.Text)
		if t == "" {
			continue
		}
		if s.maxBytes > 0 && len(t) > s.maxBytes {
			return nil, fmt.Errorf("sentence too large: %d > %d", len(t), s.maxBytes)
		}
		recs = append(recs, contract.Record{Index: idx, FileID: fileID, Text: t})
		idx++
	}
	return recs, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
