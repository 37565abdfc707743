package registry

import (
	"bytes"
	"encoding/json"

	"dirparse/pkg/contract"
	linear "dirparse/plugins/assembler/linear"
	cnlp "dirparse/plugins/parser/corenlp"
	flaky "dirparse/plugins/parser/flaky"
	mock "dirparse/plugins/parser/mock"
	rfs "dirparse/plugins/reader/filesystem"
	rconll "dirparse/plugins/renderer/conll"
	rsgml "dirparse/plugins/renderer/sgml"
	sline "dirparse/plugins/splitter/line"
	ssent "dirparse/plugins/splitter/sentence"
	wfs "dirparse/plugins/writer/filesystem"
	wpg "dirparse/plugins/writer/pg"
	ws3 "dirparse/plugins/writer/s3"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewSplitter 工厂签名：接收原样 JSON Options。
type NewSplitter func(raw json.RawMessage) (contract.Splitter, error)

// NewParser 工厂签名：接收原样 JSON Options。
type NewParser func(raw json.RawMessage) (contract.Parser, error)

// NewRenderer 工厂签名：接收原样 JSON Options。
type NewRenderer func(raw json.RawMessage) (contract.Renderer, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// line: 物理行拆分器（每行一条记录，含空行）
	"line": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts sline.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sline.New(&opts), nil
	},
	// sentence: punkt 句子拆分器
	"sentence": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts ssent.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ssent.New(&opts)
	},
}

// Parser 工厂注册表。
var Parser = map[string]NewParser{
	"corenlp": func(raw json.RawMessage) (contract.Parser, error) { return cnlp.New(raw) },
	"mock":    func(raw json.RawMessage) (contract.Parser, error) { return mock.New(raw) },
	"flaky":   func(raw json.RawMessage) (contract.Parser, error) { return flaky.New(raw) },
}

// Renderer 工厂注册表。
var Renderer = map[string]NewRenderer{
	// sgml: <sentence>/<str>/<penn>/<dep> 块格式（默认）
	"sgml": func(raw json.RawMessage) (contract.Renderer, error) { return rsgml.New(raw) },
	// conll: 四列依存表
	"conll": func(raw json.RawMessage) (contract.Renderer, error) { return rconll.New(raw) },
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// linear: 按 Index 严格升序拼接块文本
	"linear": func(raw json.RawMessage) (contract.Assembler, error) { return linear.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// s3: S3/MinIO 对象存储 Writer
	"s3": func(raw json.RawMessage) (contract.Writer, error) { return ws3.New(raw) },
	// pg: PostgreSQL 单表 upsert Writer
	"pg": func(raw json.RawMessage) (contract.Writer, error) { return wpg.New(raw) },
}
