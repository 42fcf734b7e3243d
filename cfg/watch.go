package cfg

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher 监听配置文件变更并触发回调
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch 监听 path 对应的配置文件，文件被写入或重建时调用 onChange。
// onChange 在监听协程中执行，回调内的错误由调用方自行处理。
func Watch(path string, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithMessage(err, "fsnotify.NewWatcher failed")
	}

	// 监听目录而不是文件本身，编辑器的原子替换会删除再重建文件
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, errors.WithMessage(err, "fsnotify add failed")
	}

	target, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, errors.WithMessage(err, "abs path failed")
	}

	watcher := &Watcher{watcher: w, done: make(chan struct{})}

	go func() {
		defer close(watcher.done)
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				abs, err := filepath.Abs(event.Name)
				if err != nil || abs != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher, nil
}

// Close 停止监听
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
