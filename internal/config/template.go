package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock 解析器与合理限额（本地/离线调试友好）；
// - 默认输入为 STDIN（"-"），Writer 输出到 ./out 目录；
// - 组件名采用仓库内置实现；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:      []string{"-"},
		Concurrency: d.Concurrency,
		MaxChars:    0,
		MaxRetries:  2,
		Logging:     Logging{Level: "info"},
		Components:  d.Components,
		Parser:      "mock",
		Provider: map[string]Provider{
			"mock": {
				Client: "mock",
				// 包含所有 mock 选项键（可为空）
				Options: json.RawMessage(`{"tag":"","base_url":""}`),
				Limits:  Limits{RPM: 600, CPM: 1000000, MaxCharsPerReq: 100000},
			},
			"corenlp": {
				Client: "corenlp",
				// 覆盖全部 CoreNLP 选项键，值可为空/默认
				Options: json.RawMessage(`{
  "base_url": "",
  "base_url_env": "CORENLP_URL",
  "timeout_seconds": 60,
  "annotators": "",
  "deps_key": "",
  "cache_size": 0,
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 0, CPM: 0, MaxCharsPerReq: 0},
			},
		},
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "allow_exts": [".txt"],
  "recursive": false,
  "exclude_dir_names": [".git", "node_modules", "vendor"]
}`)
	cfg.Options.Splitter = json.RawMessage(`{
  "max_line_bytes": 0
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	// sgml 渲染器当前无配置项，保持空对象
	cfg.Options.Renderer = json.RawMessage(`{}`)
	// 线性装配器无配置项，保持空对象
	cfg.Options.Assembler = json.RawMessage(`{}`)
	return cfg
}
