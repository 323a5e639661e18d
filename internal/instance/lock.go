// Package instance はホストごとに1つのアービタだけが動くようにする
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// ErrLocked は別のプロセスが既にロックを保持していることを表す
var ErrLocked = errors.New("instance: 別のアービタが既に起動しています")

// Lock はファイルロックによる多重起動防止
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire はロックを非ブロッキングで取得し、ロックファイルに自プロセスIDを書き込む
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ロックディレクトリの作成に失敗: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("ロックの取得に失敗: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	// PIDは診断用（失敗しても動作に影響しない）
	_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)

	return &Lock{path: path, lock: fl}, nil
}

// Path はロックファイルのパスを返す
func (l *Lock) Path() string {
	return l.path
}

// Release はロックを解放する
func (l *Lock) Release() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("ロックの解放に失敗: %w", err)
	}
	return nil
}
