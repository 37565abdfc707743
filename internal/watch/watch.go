package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// - 仅监听目录树；显式文件根监听其父目录并精确匹配路径。
// - 事件经去抖聚合：窗口内同一路径只上报一次，整体按路径排序。
// - 后缀过滤与 Reader 目录扫描一致：仅放行许可后缀的文件。

// Options: 监听配置。
type Options struct {
	// Roots: 目录或文件路径；空条目非法。
	Roots []string
	// Exts: 许可后缀（忽略大小写）；nil 使用默认 [".txt"]。
	Exts []string
	// Debounce: 去抖窗口；<=0 使用默认 250ms。
	Debounce time.Duration
}

// Watcher: 已建立监听的句柄。New 阶段完成全部 watcher.Add，
// Run 只消费事件，便于调用方在启动后立即产生变更。
type Watcher struct {
	fw       *fsnotify.Watcher
	debounce time.Duration
	allowExt map[string]struct{}
	// 显式文件根的绝对路径（始终放行，不受后缀过滤）
	files map[string]struct{}
}

// New 建立对所有根的监听。
func New(opt Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:       fw,
		debounce: opt.Debounce,
		files:    map[string]struct{}{},
	}
	if w.debounce <= 0 {
		w.debounce = 250 * time.Millisecond
	}
	exts := opt.Exts
	if exts == nil {
		exts = []string{".txt"}
	}
	if len(exts) > 0 {
		w.allowExt = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			w.allowExt[e] = struct{}{}
		}
	}

	for _, root := range opt.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			fw.Close()
			return nil, err
		}
		abs = filepath.Clean(abs)
		info, err := os.Stat(abs)
		if err != nil {
			fw.Close()
			return nil, err
		}
		if info.IsDir() {
			if err := addRecursive(fw, abs); err != nil {
				fw.Close()
				return nil, err
			}
			continue
		}
		w.files[abs] = struct{}{}
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Close 释放底层监听资源。
func (w *Watcher) Close() error { return w.fw.Close() }

// Run 消费事件直至 ctx 取消；每个去抖窗口将变更路径排序后交给 onChange。
func (w *Watcher) Run(ctx context.Context, onChange func(paths []string)) error {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	pending := false
	pendingPaths := map[string]bool{}

	resetDebounce := func(path string) {
		pendingPaths[path] = true
		if pending {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(w.debounce)
		pending = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			p := filepath.Clean(ev.Name)
			// 新建目录：动态纳入监听
			if ev.Op&fsnotify.Create != 0 {
				if info, serr := os.Stat(p); serr == nil && info.IsDir() {
					_ = addRecursive(w.fw, p)
					continue
				}
			}
			// Rename 事件携带的是旧路径（已不存在），不触发；
			// 新名字的 Create 事件会单独到达
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.allowed(p) {
				continue
			}
			resetDebounce(p)
		case <-timer.C:
			if pending {
				pending = false
				changed := make([]string, 0, len(pendingPaths))
				for p := range pendingPaths {
					changed = append(changed, p)
				}
				sort.Strings(changed)
				pendingPaths = map[string]bool{}
				onChange(changed)
			}
		case werr, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			return werr
		}
	}
}

func (w *Watcher) allowed(p string) bool {
	if _, ok := w.files[p]; ok {
		return true
	}
	base := filepath.Base(p)
	// 编辑器临时文件
	if strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".swx") || strings.HasPrefix(base, ".#") {
		return false
	}
	if w.allowExt == nil {
		return true
	}
	_, ok := w.allowExt[strings.ToLower(filepath.Ext(base))]
	return ok
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() {
			return nil
		}
		name := entry.Name()
		if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
