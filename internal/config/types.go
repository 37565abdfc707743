package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs      []string `json:"inputs"`
	Concurrency int      `json:"concurrency"`
	// MaxChars: 单行字符预算；0 表示不限制。
	MaxChars int `json:"max_chars"`
	// MaxRetries: 解析阶段最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries"`
	// KeepGoing: 单文件失败后继续处理后续文件。
	KeepGoing bool `json:"keep_going"`
	// Watch: 监听输入目录，新增/变更文件触发增量处理。
	Watch   bool    `json:"watch"`
	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 解析器 Provider 选择与定义。
	Parser   string              `json:"parser"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader    string `json:"reader"`
	Splitter  string `json:"splitter"`
	Renderer  string `json:"renderer"`
	Assembler string `json:"assembler"`
	Writer    string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader"`
	Splitter  json.RawMessage `json:"splitter"`
	Renderer  json.RawMessage `json:"renderer"`
	Assembler json.RawMessage `json:"assembler"`
	Writer    json.RawMessage `json:"writer"`
}

// Provider: 命名 provider 定义（parser 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM            int `json:"rpm"`
	CPM            int `json:"cpm"`
	MaxCharsPerReq int `json:"max_chars_per_req"`
}
