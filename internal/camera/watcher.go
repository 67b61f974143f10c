package camera

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"passcam/internal/logger"
)

// Invalidator はデバイス構成の変化で破棄されるキャッシュ
type Invalidator interface {
	Invalidate()
}

// DeviceWatcher はデバイスディレクトリを監視し、/dev/video* の追加・削除でキャッシュを無効化する
type DeviceWatcher struct {
	dir     string
	targets []Invalidator
	logger  *slog.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewDeviceWatcher は dir を監視するDeviceWatcherを作成して開始する。
// 呼び出し側は Close を呼ぶ必要がある
func NewDeviceWatcher(dir string, l *slog.Logger, targets ...Invalidator) (*DeviceWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ファイル監視の作成に失敗: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("ディレクトリ %s の監視登録に失敗: %w", dir, err)
	}

	w := &DeviceWatcher{
		dir:     dir,
		targets: targets,
		logger:  logger.OrDefault(l).With("component", "device_watcher"),
		watcher: watcher,
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *DeviceWatcher) run() {
	defer w.wg.Done()

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDeviceEvent(ev) {
				continue
			}
			w.logger.Info("カメラデバイスの構成が変化しました", "path", ev.Name, "op", ev.Op.String())
			for _, t := range w.targets {
				t.Invalidate()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("デバイス監視でエラーが発生しました", "error", err)
		}
	}
}

// isDeviceEvent はvideoノードの追加・削除・名前変更か判定する
func isDeviceEvent(ev fsnotify.Event) bool {
	if !strings.HasPrefix(filepath.Base(ev.Name), "video") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

// Close は監視を停止する
func (w *DeviceWatcher) Close() error {
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
