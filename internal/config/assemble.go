package config

import (
	"errors"
	"fmt"
	"strings"

	"dirparse/internal/pipeline"
	"dirparse/internal/rate"
	"dirparse/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.MaxChars < 0 {
		return errors.New("config: max_chars must be >= 0")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if cfg.Parser == "" {
		return errors.New("config: parser not set")
	}
	prov, ok := cfg.Provider[cfg.Parser]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.Parser)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.Parser)
	}
	if prov.Limits.MaxCharsPerReq > 0 && cfg.MaxChars > prov.Limits.MaxCharsPerReq {
		return fmt.Errorf("config: max_chars(%d) exceeds provider.max_chars_per_req(%d)", cfg.MaxChars, prov.Limits.MaxCharsPerReq)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	if name := effName(cfg.Components.Reader, Defaults().Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Splitter, Defaults().Components.Splitter); registry.Splitter[name] == nil {
		return fmt.Errorf("config: splitter %q not registered", name)
	}
	if name := effName(cfg.Components.Renderer, Defaults().Components.Renderer); registry.Renderer[name] == nil {
		return fmt.Errorf("config: renderer %q not registered", name)
	}
	if name := effName(cfg.Components.Assembler, Defaults().Components.Assembler); registry.Assembler[name] == nil {
		return fmt.Errorf("config: assembler %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if registry.Parser[prov.Client] == nil {
		return fmt.Errorf("config: parser client %q not registered", prov.Client)
	}
	return nil
}

// Assemble 构造 Components、Settings 与限流 Gate+Key。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}

	// 有效名称
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	sn := effName(cfg.Components.Splitter, d.Components.Splitter)
	dn := effName(cfg.Components.Renderer, d.Components.Renderer)
	an := effName(cfg.Components.Assembler, d.Components.Assembler)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	// 构造实例
	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}
	s, err := registry.Splitter[sn](cfg.Options.Splitter)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}
	rd, err := registry.Renderer[dn](cfg.Options.Renderer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}
	asm, err := registry.Assembler[an](cfg.Options.Assembler)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}

	// 解析器客户端
	prov := cfg.Provider[cfg.Parser]
	newParser := registry.Parser[prov.Client]
	p, err := newParser(prov.Options)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}

	comp := pipeline.Components{
		Reader:    r,
		Splitter:  s,
		Parser:    p,
		Renderer:  rd,
		Assembler: asm,
		Writer:    w,
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生上游端点）
	gmap := map[rate.LimitKey]rate.Limits{}
	// 默认使用端点派生分组键（更稳定）；若失败则退化为 provider 名称。
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.Parser)
	}
	gmap[key] = rate.Limits{RPM: prov.Limits.RPM, CPM: prov.Limits.CPM, MaxCharsPerReq: prov.Limits.MaxCharsPerReq}
	gate := rate.NewGate(gmap, nil)

	set := pipeline.Settings{
		Inputs:      cloneStrings(cfg.Inputs),
		Concurrency: cfg.Concurrency,
		MaxChars:    cfg.MaxChars,
		MaxRetries:  cfg.MaxRetries,
		KeepGoing:   cfg.KeepGoing,
		Gate:        gate,
		GateKey:     key,
	}

	return comp, set, gate, key, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
