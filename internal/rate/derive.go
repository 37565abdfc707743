package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// DeriveKeyFromProviderOptions 从解析器标识与其原样 Options JSON 中提取服务端点，
// 并返回按 parser+sha256(endpoint) 构造的限流分组键。找不到端点时返回错误。
// 仅解析常见键名："base_url" 与 "base_url_env"；mock/flaky 解析器若未提供 base_url，则使用内置 "MOCK_LOCAL"。
func DeriveKeyFromProviderOptions(parser string, raw json.RawMessage) (LimitKey, error) {
	// 为避免跨层依赖 plugins/* 的具体类型，这里按通用 JSON 键解析。
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)

	pick := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	endpoint := ""
	switch parser {
	case "corenlp":
		endpoint = pick(obj, "base_url")
		if endpoint == "" {
			if env := pick(obj, "base_url_env"); env != "" {
				endpoint = os.Getenv(env)
			}
		}
	case "mock", "flaky":
		endpoint = pick(obj, "base_url")
		if endpoint == "" {
			endpoint = "MOCK_LOCAL"
		}
	default:
		// 尝试通用键解析
		endpoint = pick(obj, "base_url")
		if endpoint == "" {
			if env := pick(obj, "base_url_env"); env != "" {
				endpoint = os.Getenv(env)
			}
		}
	}

	if endpoint == "" {
		return "", fmt.Errorf("rate: missing base url for parser %s", parser)
	}
	sum := sha256.Sum256([]byte(endpoint))
	return LimitKey(fmt.Sprintf("%s:%x", parser, sum[:])), nil
}
