package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"dirparse/internal/diag"
	"dirparse/pkg/contract"
)

// 通用桩件 ----------------------------------------------------
type stubReader struct {
	files map[string]string // fileID → 内容（遍历顺序按 order）
	order []string
}

func (r stubReader) Iterate(ctx context.Context, roots []string, yield func(contract.FileID, io.ReadCloser) error) error {
	for _, id := range r.order {
		if err := yield(contract.FileID(id), io.NopCloser(strings.NewReader(r.files[id]))); err != nil {
			return err
		}
	}
	return nil
}

type stubSplitter struct{}

func (stubSplitter) Split(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Record, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	recs := make([]contract.Record, 0, len(lines))
	for i, ln := range lines {
		recs = append(recs, contract.Record{Index: contract.Index(i), FileID: fileID, Text: ln})
	}
	return recs, nil
}

type stubParser struct {
	mu           sync.Mutex
	called       int
	fail         int // 前 fail 次调用返回 failErr
	failErr      error
	delayPerChar time.Duration // 模拟行长相关的耗时，制造乱序完成
}

func (p *stubParser) ParseLine(ctx context.Context, text string) (contract.ParseResult, error) {
	p.mu.Lock()
	p.called++
	n := p.called
	p.mu.Unlock()
	if p.delayPerChar > 0 {
		time.Sleep(time.Duration(len(text)) * p.delayPerChar)
	}
	if n <= p.fail {
		return contract.ParseResult{}, p.failErr
	}
	return contract.ParseResult{Tree: "(ROOT (X " + text + "))"}, nil
}

func (p *stubParser) calls() int { p.mu.Lock(); defer p.mu.Unlock(); return p.called }

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, rec contract.Record, res contract.ParseResult) (string, error) {
	return fmt.Sprintf("[%d]%s;", rec.Index, rec.Text), nil
}

type stubAssembler struct{}

func (stubAssembler) Assemble(ctx context.Context, fid contract.FileID, blocks []contract.Block) (io.Reader, error) {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
	}
	return strings.NewReader(sb.String()), nil
}

type stubWriter struct {
	mu  sync.Mutex
	out map[string]string
}

func newStubWriter() *stubWriter { return &stubWriter{out: map[string]string{}} }

func (w *stubWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.out[string(id)] = string(b)
	w.mu.Unlock()
	return nil
}

func (w *stubWriter) get(id string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.out[id]
	return s, ok
}

func baseComp(p contract.Parser, w contract.Writer, files map[string]string, order []string) Components {
	return Components{
		Reader: stubReader{files: files, order: order}, Splitter: stubSplitter{},
		Parser: p, Renderer: stubRenderer{},
		Assembler: stubAssembler{}, Writer: w,
	}
}

// UT-PIP-01: 单行超出字符预算
func TestRunBudgetExceeded(t *testing.T) {
	w := newStubWriter()
	comp := baseComp(&stubParser{}, w, map[string]string{"f": "hello\n"}, []string{"f"})
	set := Settings{Inputs: []string{"in"}, Concurrency: 1, MaxChars: 3, MaxRetries: 0}
	err := Run(context.Background(), comp, set, nil)
	if !errors.Is(err, contract.ErrBudgetExceeded) {
		t.Fatalf("应返回预算错误, got %v", err)
	}
}

// UT-PIP-02: 协议错误重试
func TestRunRetryParse(t *testing.T) {
	p := &stubParser{fail: 1, failErr: contract.ErrResponseInvalid}
	w := newStubWriter()
	comp := baseComp(p, w, map[string]string{"f": "hi\n"}, []string{"f"})
	set := Settings{Inputs: []string{"in"}, Concurrency: 1, MaxChars: 100, MaxRetries: 1}
	logger := diag.NewLogger("c", "debug")
	if err := Run(context.Background(), comp, set, logger); err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if p.calls() != 2 {
		t.Fatalf("应重试一次, 实际 %d", p.calls())
	}
	if got, _ := w.get("f"); got != "[0]hi;" {
		t.Fatalf("输出错误: %s", got)
	}
}

// UT-PIP-03: 并发乱序完成仍按行序写出
func TestRunOrderedOutput(t *testing.T) {
	// 行越长越慢：完成顺序与行序相反
	p := &stubParser{delayPerChar: 2 * time.Millisecond}
	w := newStubWriter()
	comp := baseComp(p, w, map[string]string{"f": "aaaa\naaa\naa\na\n"}, []string{"f"})
	set := Settings{Inputs: []string{"in"}, Concurrency: 4, MaxRetries: 0}
	if err := Run(context.Background(), comp, set, nil); err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	want := "[0]aaaa;[1]aaa;[2]aa;[3]a;"
	if got, _ := w.get("f"); got != want {
		t.Fatalf("顺序错误: got %q want %q", got, want)
	}
}

// UT-PIP-04: 空文件产出零字节工件
func TestRunEmptyFile(t *testing.T) {
	w := newStubWriter()
	comp := baseComp(&stubParser{}, w, map[string]string{"f": ""}, []string{"f"})
	set := Settings{Inputs: []string{"in"}, Concurrency: 1}
	if err := Run(context.Background(), comp, set, nil); err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	got, ok := w.get("f")
	if !ok {
		t.Fatalf("空文件未写出工件")
	}
	if got != "" {
		t.Fatalf("空文件工件应为空, got %q", got)
	}
}

// UT-PIP-05: KeepGoing 跳过失败文件并保留首错
func TestRunKeepGoing(t *testing.T) {
	boom := errors.New("boom")
	// 第一个文件的唯一一行永久失败（未知错误不重试）
	p := &stubParser{fail: 1, failErr: boom}
	w := newStubWriter()
	comp := baseComp(p, w, map[string]string{"bad": "x\n", "good": "y\n"}, []string{"bad", "good"})
	set := Settings{Inputs: []string{"in"}, Concurrency: 1, MaxRetries: 0, KeepGoing: true}
	err := Run(context.Background(), comp, set, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("应保留首错, got %v", err)
	}
	if got, ok := w.get("good"); !ok || got != "[0]y;" {
		t.Fatalf("后续文件未处理: %q", got)
	}
	if _, ok := w.get("bad"); ok {
		t.Fatalf("失败文件不应写出工件")
	}
}

// UT-PIP-06: 非 KeepGoing 时首个失败文件即终止
func TestRunFailFast(t *testing.T) {
	boom := errors.New("boom")
	p := &stubParser{fail: 1, failErr: boom}
	w := newStubWriter()
	comp := baseComp(p, w, map[string]string{"bad": "x\n", "good": "y\n"}, []string{"bad", "good"})
	set := Settings{Inputs: []string{"in"}, Concurrency: 1, MaxRetries: 0}
	err := Run(context.Background(), comp, set, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("应返回首错, got %v", err)
	}
	if _, ok := w.get("good"); ok {
		t.Fatalf("后续文件不应被处理")
	}
}

type failWriter struct{ err error }

// 不消费流即返回错误，模拟建目录/建连阶段的落盘失败
func (w failWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	return w.err
}

// UT-PIP-07: Writer 未消费流即失败时必须返回错误而非悬挂
func TestRunWriterFailEarly(t *testing.T) {
	boom := errors.New("sink unavailable")
	comp := baseComp(&stubParser{}, failWriter{err: boom}, map[string]string{"f": "a\nb\nc\n"}, []string{"f"})
	set := Settings{Inputs: []string{"in"}, Concurrency: 2, MaxRetries: 0}
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), comp, set, nil) }()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("应返回写失败, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("写失败后运行未终止")
	}
}
