package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"dirparse/internal/diag"
	"dirparse/internal/rate"
	"dirparse/pkg/contract"
)

// - 单点并发：仅此层管理并发与背压；原子组件均为同步、无内部并发。
// - 顺序门闩：同一 FileID 的块按 Index 严格递增提交；乱序结果暂存，连续冲刷。
// - 错误域：单文件内首错取消该文件；KeepGoing 时跳过失败文件继续，结束后返回首错。
// - 预算：进入解析前按行字符数预检，超限即失败，不消耗上游额度。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Splitter  contract.Splitter
	Parser    contract.Parser
	Renderer  contract.Renderer
	Assembler contract.Assembler
	Writer    contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// 输入根（输出由 Writer 的 options 决定，这里只保留输入）
	Inputs      []string
	Concurrency int
	// MaxChars: 单行字符预算；<=0 表示关闭预算
	MaxChars int
	// MaxRetries: 解析阶段最大重试次数（>=0）。0 表示不重试。
	MaxRetries int
	// KeepGoing: 单文件失败后继续处理后续文件；结束时仍返回首错
	KeepGoing bool
	// 限流闸门（可选）：若非空，则在调用解析器前调用 Gate.Wait
	Gate rate.Gate
	// 限流分组键（外部根据 Provider 生成）
	GateKey rate.LimitKey
}

// Run 执行完整流水线：Reader → Splitter → (Gate) → Parser → Renderer → Assembler → Writer。
// 约束：
// - 所有组件均为同步实现；
// - 解析调用是并发的唯一重负载点，受 Concurrency 和 Gate 控制；
// - 同一文件的块按 Index 顺序提交给 Assembler/Writer，保证输出稳定。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	if err := sanity(comp, set); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}

	nWorkers := set.Concurrency
	if nWorkers < 1 {
		nWorkers = 1
	}

	var runErr error

	// Reader 遍历文件；逐文件拆分并处理
	rtimer := (*diag.Timer)(nil)
	if logger != nil {
		rtimer = logger.Start("reader", "iterate")
	}
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		stimer := (*diag.Timer)(nil)
		if logger != nil {
			stimer = logger.StartWith("splitter", "split", string(fid), "")
		}
		recs, err := comp.Splitter.Split(ctx, fid, rc)
		if err != nil {
			if logger != nil {
				code := diag.Classify(err)
				logger.ErrorWith("splitter", string(code), "split failed", nil, string(fid), "")
				diag.IncOp("splitter", "error", "error")
				if code != diag.CodeUnknown {
					diag.IncError("splitter", string(code))
				}
			}
			return fmt.Errorf("splitter split: %w", err)
		}
		if stimer != nil {
			stimer.Finish("split", int64(len(recs)))
			diag.IncOp("splitter", "finish", "success")
		}
		if err := perFile(ctx, comp, set, logger, nWorkers, fid, recs); err != nil {
			if set.KeepGoing && ctx.Err() == nil {
				if runErr == nil {
					runErr = fmt.Errorf("perFile: %w", err)
				}
				return nil
			}
			return fmt.Errorf("perFile: %w", err)
		}
		return nil
	})
	if err != nil {
		if logger != nil {
			code := diag.Classify(err)
			logger.Error("reader", string(code), "iterate failed", nil)
			diag.IncOp("reader", "error", "error")
			if code != diag.CodeUnknown {
				diag.IncError("reader", string(code))
			}
		}
		return fmt.Errorf("reader iterate: %w", err)
	}
	if rtimer != nil {
		rtimer.Finish("iterate", 0)
		diag.IncOp("reader", "finish", "success")
	}
	return runErr
}

// perFile 处理单个文件：并发解析+渲染，顺序门闩冲刷，流式写出。
// 内部使用独立的 cancel 域，文件内首错只取消本文件。
func perFile(parent context.Context, comp Components, set Settings, logger *diag.Logger, nWorkers int, fileID contract.FileID, recs []contract.Record) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// 终端提示：文件开始（即使 total=0 也要发）
	if t := diag.GetTerminal(); t != nil {
		t.FileStart(string(fileID), len(recs))
	}
	fileStart := time.Now()
	ok := false
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.FileFinish(ok, time.Since(fileStart))
		}
	}()

	if len(recs) == 0 {
		// 空文件：产出零字节工件
		if err := writeEmpty(ctx, comp, logger, fileID); err != nil {
			return err
		}
		ok = true
		return nil
	}

	type res struct {
		idx contract.Index
		blk contract.Block
		err error
	}
	// 有界通道：默认 2×并发度，形成自然背压
	inCh := make(chan contract.Record, nWorkers*2)
	outCh := make(chan res, nWorkers*2)

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for rec := range inCh {
			pres, err := parseOne(ctx, comp, set, logger, rec)
			if err != nil {
				outCh <- res{idx: rec.Index, err: err}
				continue
			}
			line := fmt.Sprintf("%d", rec.Index)
			rtimer := (*diag.Timer)(nil)
			if logger != nil {
				rtimer = logger.StartWith("renderer", "render", string(rec.FileID), line)
			}
			text, err := comp.Renderer.Render(ctx, rec, pres)
			if err != nil {
				if logger != nil {
					code := diag.Classify(err)
					logger.ErrorWith("renderer", string(code), "render failed", nil, string(rec.FileID), line)
					diag.IncOp("renderer", "error", "error")
					if code != diag.CodeUnknown {
						diag.IncError("renderer", string(code))
					}
				}
				outCh <- res{idx: rec.Index, err: err}
				continue
			}
			if rtimer != nil {
				rtimer.Finish("render", int64(len(text)))
				diag.IncOp("renderer", "finish", "success")
			}
			outCh <- res{idx: rec.Index, blk: contract.Block{FileID: rec.FileID, Index: rec.Index, Text: text}}
		}
	}
	wg.Add(nWorkers)
	for i := 0; i < nWorkers; i++ {
		go worker()
	}

	// 生产者
	go func() {
		defer close(inCh)
		for _, rec := range recs {
			select {
			case <-ctx.Done():
				return
			case inCh <- rec:
			}
		}
	}()

	// 建立管道，单次调用 Writer.Write，以流式方式落盘
	pr, pw := io.Pipe()
	wdone := make(chan error, 1)
	wtimer := (*diag.Timer)(nil)
	if logger != nil {
		wtimer = logger.StartWith("writer", "write", string(fileID), "")
	}
	go func() {
		werr := comp.Writer.Write(ctx, contract.ArtifactID(fileID), pr)
		if werr != nil {
			// Write 在消费流之前失败（建目录/建连等）时必须关闭读端，
			// 否则冲刷循环会永久阻塞在管道写入上
			_ = pr.CloseWithError(werr)
			cancel()
		}
		wdone <- werr
	}()

	// 由 workers 生命周期决定 outCh 关闭，避免基于固定计数阻塞
	go func() {
		wg.Wait()
		close(outCh)
	}()

	// 提交门闩：按 Index 连续冲刷；就绪段即装配并写入管道
	expect := contract.Index(0)
	buf := make(map[contract.Index]contract.Block)
	var firstErr error

	// 仅用于进度展示
	want := len(recs)
	doneCount := 0
	errCount := 0

	for r := range outCh {
		doneCount++
		if r.err != nil {
			errCount++
		}
		if t := diag.GetTerminal(); t != nil {
			t.FileProgress(doneCount, want, errCount)
		}
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
				cancel()
				// 不立刻 return，继续排空 outCh 以便 orderly 结束
			}
			continue
		}
		if firstErr != nil {
			continue
		}
		buf[r.idx] = r.blk
		// 连续段聚合后一次装配，减少小块写放大
		chunk := make([]contract.Block, 0, len(buf))
		for {
			b, okc := buf[expect]
			if !okc {
				break
			}
			chunk = append(chunk, b)
			delete(buf, expect)
			expect++
		}
		if len(chunk) == 0 {
			continue
		}
		atimer := (*diag.Timer)(nil)
		if logger != nil {
			atimer = logger.StartWith("assembler", "assemble", string(fileID), fmt.Sprintf("%d", chunk[0].Index))
		}
		rd, aerr := comp.Assembler.Assemble(ctx, fileID, chunk)
		if aerr != nil {
			if logger != nil {
				code := diag.Classify(aerr)
				logger.ErrorWith("assembler", string(code), "assemble failed", nil, string(fileID), fmt.Sprintf("%d", chunk[0].Index))
				diag.IncOp("assembler", "error", "error")
				if code != diag.CodeUnknown {
					diag.IncError("assembler", string(code))
				}
			}
			firstErr = aerr
			cancel()
			continue
		}
		if atimer != nil {
			atimer.Finish("assemble", int64(len(chunk)))
			diag.IncOp("assembler", "finish", "success")
		}
		if _, cerr := io.Copy(pw, rd); cerr != nil && firstErr == nil {
			firstErr = cerr
			cancel()
		}
	}

	if firstErr != nil {
		_ = pw.CloseWithError(firstErr)
	} else {
		_ = pw.Close()
	}
	werr := <-wdone
	// firstErr 可能正是写端失败经管道回流的错误；此时按写失败上报
	if firstErr != nil && (werr == nil || !errors.Is(firstErr, werr)) {
		if logger != nil {
			code := diag.Classify(firstErr)
			logger.ErrorWith("writer", string(code), "first error", nil, string(fileID), "")
			diag.IncOp("writer", "error", "error")
			if code != diag.CodeUnknown {
				diag.IncError("writer", string(code))
			}
		}
		return fmt.Errorf("worker first error: %w", firstErr)
	}
	if werr != nil {
		if logger != nil {
			code := diag.Classify(werr)
			logger.ErrorWith("writer", string(code), "write failed", nil, string(fileID), "")
			diag.IncOp("writer", "error", "error")
			if code != diag.CodeUnknown {
				diag.IncError("writer", string(code))
			}
		}
		return fmt.Errorf("writer write: %w", werr)
	}
	if wtimer != nil {
		wtimer.Finish("write", 1)
		diag.IncOp("writer", "finish", "success")
	}
	ok = true
	return nil
}

// parseOne 对单条记录执行 预算预检 → (Gate) → 解析（带重试）。
func parseOne(ctx context.Context, comp Components, set Settings, logger *diag.Logger, rec contract.Record) (contract.ParseResult, error) {
	line := fmt.Sprintf("%d", rec.Index)
	chars := len(rec.Text)

	// 预算预检：超限的行重试无意义，直接失败
	if set.MaxChars > 0 && chars > set.MaxChars {
		err := fmt.Errorf("%w: line %d: %d chars > max %d", contract.ErrBudgetExceeded, rec.Index, chars, set.MaxChars)
		if logger != nil {
			logger.ErrorWith("parser", string(diag.CodeBudget), "budget exceeded", nil, string(rec.FileID), line)
			diag.IncOp("parser", "error", "error")
			diag.IncError("parser", string(diag.CodeBudget))
		}
		return contract.ParseResult{}, err
	}

	attempts := set.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if set.Gate != nil {
			if logger != nil {
				logger.DebugStart("gate", "ask", string(rec.FileID), line, map[string]string{
					"requests": "1",
					"chars":    fmt.Sprintf("%d", chars),
					"attempt":  fmt.Sprintf("%d", attempt+1),
				})
			}
			if err := set.Gate.Wait(ctx, rate.Ask{Key: set.GateKey, Requests: 1, Chars: chars}); err != nil {
				if logger != nil {
					code := diag.Classify(err)
					logger.ErrorWith("gate", string(code), "wait failed", nil, string(rec.FileID), line)
					diag.IncOp("gate", "error", "error")
					if code != diag.CodeUnknown {
						diag.IncError("gate", string(code))
					}
				}
				return contract.ParseResult{}, err // Gate 错误不重试（通常为取消或输入非法）
			}
		}

		ptimer := (*diag.Timer)(nil)
		if logger != nil {
			ptimer = logger.StartWithKV("parser", "parse", string(rec.FileID), line, map[string]string{
				"chars":   fmt.Sprintf("%d", chars),
				"attempt": fmt.Sprintf("%d", attempt+1),
			})
		}
		pres, err := comp.Parser.ParseLine(ctx, rec.Text)
		if err != nil {
			if logger != nil {
				code := diag.Classify(err)
				// 若为上游 HTTP 错误，附带状态码/消息
				var ue contract.UpstreamError
				if errors.As(err, &ue) {
					kv := map[string]string{
						"http_status": fmt.Sprintf("%d", ue.UpstreamStatus()),
					}
					if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
						if len(m) > 200 {
							m = m[:200]
						}
						kv["upstream_msg"] = m
					}
					logger.ErrorWithKV("parser", string(code), "parse failed", nil, string(rec.FileID), line, kv)
				} else {
					logger.ErrorWith("parser", string(code), "parse failed", nil, string(rec.FileID), line)
				}
				diag.IncOp("parser", "error", "error")
				if code != diag.CodeUnknown {
					diag.IncError("parser", string(code))
				}
			}
			lastErr = err
			if attempt+1 < attempts && shouldRetryParse(err) {
				_ = sleepWithCtx(ctx, 200*time.Millisecond)
				continue
			}
			return contract.ParseResult{}, lastErr
		}
		if ptimer != nil {
			ptimer.Finish("parse", int64(chars))
			diag.IncOp("parser", "finish", "success")
		}
		return pres, nil
	}
	return contract.ParseResult{}, lastErr
}

// writeEmpty 为无内容文件产出零字节工件。
func writeEmpty(ctx context.Context, comp Components, logger *diag.Logger, fileID contract.FileID) error {
	atimer := (*diag.Timer)(nil)
	if logger != nil {
		atimer = logger.StartWith("assembler", "assemble", string(fileID), "")
	}
	r, aerr := comp.Assembler.Assemble(ctx, fileID, nil)
	if aerr != nil {
		if logger != nil {
			code := diag.Classify(aerr)
			logger.ErrorWith("assembler", string(code), "assemble failed", nil, string(fileID), "")
			diag.IncOp("assembler", "error", "error")
			if code != diag.CodeUnknown {
				diag.IncError("assembler", string(code))
			}
		}
		return fmt.Errorf("assembler assemble: %w", aerr)
	}
	if atimer != nil {
		atimer.Finish("assemble", 0)
		diag.IncOp("assembler", "finish", "success")
	}

	wtimer := (*diag.Timer)(nil)
	if logger != nil {
		wtimer = logger.StartWith("writer", "write", string(fileID), "")
	}
	if werr := comp.Writer.Write(ctx, contract.ArtifactID(fileID), r); werr != nil {
		if logger != nil {
			code := diag.Classify(werr)
			logger.ErrorWith("writer", string(code), "write failed", nil, string(fileID), "")
			diag.IncOp("writer", "error", "error")
			if code != diag.CodeUnknown {
				diag.IncError("writer", string(code))
			}
		}
		return fmt.Errorf("writer write: %w", werr)
	}
	if wtimer != nil {
		wtimer.Finish("write", 0)
		diag.IncOp("writer", "finish", "success")
	}
	return nil
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Splitter == nil || c.Parser == nil || c.Renderer == nil || c.Assembler == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}

// shouldRetryParse: 根据错误类型判断是否重试解析调用。
// - 取消/超时：不重试；
// - 预算/限流：重试（交由 Gate 控制速率）；
// - 网络类错误：重试；
// - 协议/响应无效：重试（上游偶发坏响应）；
// - 其他未知错误：不重试。
func shouldRetryParse(err error) bool {
	if err == nil {
		return false
	}
	switch diag.Classify(err) {
	case diag.CodeCancel:
		return false
	case diag.CodeBudget, diag.CodeNetwork, diag.CodeProtocol:
		return true
	default:
		return false
	}
}

// sleepWithCtx: 可取消的 sleep（最小实现）。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
