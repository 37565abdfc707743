package testdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "dirparse/internal/config"
	"dirparse/internal/pipeline"
	"dirparse/pkg/contract"
)

// expectedOutput 根据输入文件与标签构造期望工件（与 mock 解析器 + sgml 渲染器同构）。
func expectedOutput(t *testing.T, inPath, tag string) string {
	b, err := os.ReadFile(inPath)
	if err != nil {
		t.Fatalf("open input: %v", err)
	}
	content := strings.ReplaceAll(string(b), "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	if content == "" && len(b) == 0 {
		return ""
	}
	var out strings.Builder
	for _, line := range strings.Split(content, "\n") {
		toks := strings.Fields(line)
		tree := "(ROOT)"
		depStr := "[]"
		if len(toks) > 0 {
			var tb strings.Builder
			tb.WriteString("(ROOT (S")
			for _, tok := range toks {
				fmt.Fprintf(&tb, " (%s %s)", tag, tok)
			}
			tb.WriteString("))")
			tree = tb.String()
			deps := []string{fmt.Sprintf("root(ROOT-0, %s-1)", toks[0])}
			for i := 1; i < len(toks); i++ {
				deps = append(deps, fmt.Sprintf("dep(%s-1, %s-%d)", toks[0], toks[i], i+1))
			}
			depStr = "[" + strings.Join(deps, ", ") + "]"
		}
		out.WriteString("<sentence>\n<str>")
		out.WriteString(line)
		out.WriteString("</str>\n<penn>\n")
		out.WriteString(tree)
		out.WriteString("\n</penn>\n<dep>\n")
		out.WriteString(depStr)
		out.WriteString("\n</dep>\n</sentence>\n")
	}
	return out.String()
}

func baseConfig(input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{input}
	cfg.Components.Reader = "fs"
	cfg.Components.Splitter = "line"
	cfg.Components.Renderer = "sgml"
	cfg.Components.Assembler = "linear"
	cfg.Components.Writer = "fs"
	cfg.Logging.Level = "error"
	cfg.Provider = map[string]cfgpkg.Provider{}
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"atomic":true,"flat":true,"perm_file":0,"perm_dir":0,"buf_size":65536}`, outDir))
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) error {
	comp, set, _, _, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return err
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

func TestE2ESuccess(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig("files", outDir)
	cfg.Parser = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{
		Client:  "mock",
		Options: json.RawMessage(`{"tag":"XX"}`),
		Limits:  cfgpkg.Limits{RPM: 0, CPM: 0, MaxCharsPerReq: 0},
	}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "guide.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := expectedOutput(t, filepath.Join("files", "guide.txt"), "XX")
	if string(got) != want {
		t.Fatalf("output mismatch\nwant:\n%s\ngot:\n%s", want, got)
	}
	// 空文件产出零字节工件
	st, err := os.Stat(filepath.Join(outDir, "empty.txt"))
	if err != nil {
		t.Fatalf("empty artifact missing: %v", err)
	}
	if st.Size() != 0 {
		t.Fatalf("empty artifact should be zero bytes, got %d", st.Size())
	}
	// 非 .txt 条目不产出工件
	if _, err := os.Stat(filepath.Join(outDir, "notes.md")); err == nil {
		t.Fatalf("notes.md should be filtered out")
	}
}

func TestE2EIdempotence(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(filepath.Join("files", "guide.txt"), outDir)
	cfg.Parser = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock"}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(outDir, "guide.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline (2nd): %v", err)
	}
	second, err := os.ReadFile(filepath.Join(outDir, "guide.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("reruns must be byte-identical")
	}
}

func TestE2EBudgetExceeded(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(filepath.Join("files", "guide.txt"), outDir)
	cfg.MaxChars = 3
	cfg.Parser = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock"}
	err := runPipeline(t, cfg)
	if err == nil || !strings.Contains(err.Error(), contract.ErrBudgetExceeded.Error()) {
		t.Fatalf("expect budget error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "guide.txt")); err == nil {
		t.Fatalf("output file should not exist")
	}
}

func TestE2ERetry(t *testing.T) {
	outDir := t.TempDir()
	logPath := filepath.Join(outDir, "flaky.log")
	cfg := baseConfig(filepath.Join("files", "guide.txt"), outDir)
	cfg.Parser = "flaky"
	cfg.Concurrency = 1
	cfg.MaxRetries = 2
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: json.RawMessage(fmt.Sprintf(`{"tag":"FLAKY","log_path":%q}`, logPath)),
		Limits:  cfgpkg.Limits{RPM: 0, CPM: 0, MaxCharsPerReq: 0},
	}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "guide.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := expectedOutput(t, filepath.Join("files", "guide.txt"), "FLAKY")
	if string(got) != want {
		t.Fatalf("output mismatch")
	}
	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	if len(lines) < 3 || lines[0] != "rate_limited" || lines[1] != "invalid_response" {
		t.Fatalf("unexpected log: %v", lines)
	}
}
