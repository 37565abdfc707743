package corenlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"dirparse/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string `json:"base_url"`        // 例如 http://localhost:9000
	BaseURLEnv     string `json:"base_url_env"`    // 优先从环境变量读取
	TimeoutSeconds int    `json:"timeout_seconds"` // 可选 client 级超时（秒）
	// Annotators: 覆盖默认注解器链。
	Annotators string `json:"annotators"`
	// DepsKey: 响应中依存弧列表的字段名。
	// 默认 "enhancedPlusPlusDependencies"；可切换为 "basicDependencies" 等。
	DepsKey string `json:"deps_key"`
	// CacheSize: 进程内 LRU 解析缓存条目数。0 表示关闭。
	// 同一行文本重复出现时避免重复请求（解析开销随句长至少平方增长）。
	CacheSize int `json:"cache_size"`
	// ExtraHeaders: 追加/覆盖请求头（用于反向代理鉴权等）。
	ExtraHeaders map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.BaseURLEnv == "" {
		o.BaseURLEnv = "CORENLP_URL"
	}
	if o.Annotators == "" {
		o.Annotators = "tokenize,ssplit,pos,parse,depparse"
	}
	if o.DepsKey == "" {
		o.DepsKey = "enhancedPlusPlusDependencies"
	}
}

type Client struct {
	hc      *http.Client
	url     string
	depsKey string
	extraH  map[string]string
	cache   *lru.Cache[string, contract.ParseResult]
	do      func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.Parser, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("corenlp options: %w", err)
		}
	}
	opts.defaults()
	base := opts.BaseURL
	if base == "" && opts.BaseURLEnv != "" {
		base = os.Getenv(opts.BaseURLEnv)
	}
	if base == "" {
		return nil, fmt.Errorf("corenlp: %w: missing base url", contract.ErrInvalidInput)
	}
	// 设置 HTTP 客户端超时：未配置则采用安全默认 60s
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 60
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}

	// 服务端属性经 properties 查询参数传递；isOneSentence 保证单行单句
	props, _ := json.Marshal(map[string]string{
		"annotators":           opts.Annotators,
		"outputFormat":         "json",
		"ssplit.isOneSentence": "true",
	})
	q := url.Values{}
	q.Set("properties", string(props))
	fullURL := strings.TrimRight(base, "/") + "/?" + q.Encode()

	var cache *lru.Cache[string, contract.ParseResult]
	if opts.CacheSize > 0 {
		c, err := lru.New[string, contract.ParseResult](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("corenlp cache: %w", err)
		}
		cache = c
	}
	return &Client{
		hc:      hc,
		url:     fullURL,
		depsKey: opts.DepsKey,
		extraH:  opts.ExtraHeaders,
		cache:   cache,
		do:      hc.Do,
	}, nil
}

// cnlpDep 对应服务端依存弧条目。
type cnlpDep struct {
	Dep            string `json:"dep"`
	Governor       int    `json:"governor"`
	GovernorGloss  string `json:"governorGloss"`
	Dependent      int    `json:"dependent"`
	DependentGloss string `json:"dependentGloss"`
}

// cnlpResp 仅解码需要的字段；依存弧字段名可配置，故句子用原样映射承载。
type cnlpResp struct {
	Sentences []map[string]json.RawMessage `json:"sentences"`
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string {
	return fmt.Sprintf("corenlp upstream %d: %s", e.status, e.msg)
}
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// ParseLine: 单次调用，同步返回。
func (c *Client) ParseLine(ctx context.Context, text string) (contract.ParseResult, error) {
	// 空行退化：不触发网络请求
	if strings.TrimSpace(text) == "" {
		return contract.ParseResult{Tree: "(ROOT)"}, nil
	}
	if c.cache != nil {
		if res, ok := c.cache.Get(text); ok {
			return res, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(text))
	if err != nil {
		return contract.ParseResult{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return contract.ParseResult{}, ctx.Err()
		}
		return contract.ParseResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.ParseResult{}, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		// 读取少量响应体辅助定位
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		// 分类：4xx 视为输入/配置无效；5xx 视为网络/上游问题；408 特判为网络
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return contract.ParseResult{}, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return contract.ParseResult{}, fmt.Errorf("corenlp upstream %d: %w", resp.StatusCode, contract.ErrInvalidInput)
	}

	var cr cnlpResp
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&cr); err != nil {
		return contract.ParseResult{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if len(cr.Sentences) == 0 {
		return contract.ParseResult{}, contract.ErrResponseInvalid
	}
	// ssplit.isOneSentence=true：只取第一句
	sent := cr.Sentences[0]

	var tree string
	if raw, ok := sent["parse"]; ok {
		if err := json.Unmarshal(raw, &tree); err != nil {
			return contract.ParseResult{}, fmt.Errorf("parse field: %w", contract.ErrResponseInvalid)
		}
	}
	if strings.TrimSpace(tree) == "" {
		return contract.ParseResult{}, contract.ErrResponseInvalid
	}
	tree = strings.TrimRight(tree, "\n ")

	var deps []contract.Dependency
	if raw, ok := sent[c.depsKey]; ok {
		var items []cnlpDep
		if err := json.Unmarshal(raw, &items); err != nil {
			return contract.ParseResult{}, fmt.Errorf("deps field %s: %w", c.depsKey, contract.ErrResponseInvalid)
		}
		deps = make([]contract.Dependency, 0, len(items))
		for _, d := range items {
			deps = append(deps, contract.Dependency{
				Rel:      d.Dep,
				GovGloss: d.GovernorGloss,
				Gov:      d.Governor,
				DepGloss: d.DependentGloss,
				Dep:      d.Dependent,
			})
		}
	}

	res := contract.ParseResult{Tree: tree, Deps: deps}
	if c.cache != nil {
		c.cache.Add(text, res)
	}
	return res, nil
}

var _ contract.Parser = (*Client)(nil)
