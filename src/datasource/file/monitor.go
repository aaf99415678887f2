// monitor.go
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor 监听单个数据文件的变化
// 监听的是所在目录，这样编辑器"写临时文件再改名"的保存方式也能被捕获
type FileMonitor struct {
	target   string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	lastMod  time.Time
	mu       sync.Mutex
}

func NewFileMonitor(path string, debounce time.Duration) (*FileMonitor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	m := &FileMonitor{
		target:   abs,
		watcher:  watcher,
		debounce: debounce,
	}
	if info, err := os.Stat(abs); err == nil {
		m.lastMod = info.ModTime()
	}
	return m, nil
}

// Watch 阻塞直到 ctx 结束或 watcher 出错
// 连续的写事件在 debounce 时间内合并为一次 handler 调用，handler 在当前 goroutine 中执行
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if !m.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				timer.Reset(m.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if m.changed() {
				handler(m.target)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (m *FileMonitor) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != m.target {
		return false
	}
	return event.Op&fsnotify.Write == fsnotify.Write ||
		event.Op&fsnotify.Create == fsnotify.Create ||
		event.Op&fsnotify.Rename == fsnotify.Rename
}

// changed 修改时间比上次处理的新才算变化
func (m *FileMonitor) changed() bool {
	info, err := os.Stat(m.target)
	if err != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !info.ModTime().After(m.lastMod) {
		return false
	}
	m.lastMod = info.ModTime()
	return true
}

// Close 停止监听
func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}
