package camera

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// newHotplugWatcher はデバイスディレクトリの監視を開始する
func newHotplugWatcher(dir string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ファイル監視の作成に失敗: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%s の監視に失敗: %w", dir, err)
	}
	return watcher, nil
}

// watchHotplug は videoN の追加・削除を検知して状態変化を通知し、ヘルスチェックを前倒しする
func (a *Arbiter) watchHotplug(ctx context.Context, stopCh <-chan struct{}, watcher *fsnotify.Watcher) {
	defer a.wg.Done()
	defer func() {
		_ = watcher.Close()
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			index, ok := parseDeviceIndex(filepath.Base(event.Name))
			if !ok {
				continue
			}
			a.logger.Info().Str("device", event.Name).Str("op", event.Op.String()).Msg("デバイスの変化を検知")
			a.handleHotplug(ctx, index)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn().Err(err).Msg("ホットプラグ監視でエラー")
		}
	}
}

func (a *Arbiter) handleHotplug(ctx context.Context, index CameraIndex) {
	a.emitState(ctx, index)
	a.CheckHealth(ctx)
}

// emitState は現在の状態を StateChanged として通知する
func (a *Arbiter) emitState(ctx context.Context, index CameraIndex) {
	var out outbox
	defer a.notifier.publish(&out)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateChanged(index, a.probe(ctx, index), &out)
}
