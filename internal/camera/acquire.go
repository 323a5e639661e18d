package camera

import (
	"context"
	"errors"
)

// ErrDenied はキューに入った要求が割り当てられずに破棄されたことを表す
var ErrDenied = errors.New("camera: 割り当てが拒否されました")

// ErrStopped は割り当て待ちの間にアービタが停止したことを表す
var ErrStopped = errors.New("camera: アービタが停止しました")

// Acquire は要求を出し、割り当て結果の通知を待つ。
// ctx がキャンセルされた場合は要求者を解放してキューからも外す。
// 通知はStart後に配送されるため、Start前に呼ぶと ctx の終了まで待つ
func (a *Arbiter) Acquire(ctx context.Context, req Request) (CameraIndex, error) {
	result := make(chan Event, 1)
	user := req.Notify
	req.Notify = func(ev Event) {
		if user != nil {
			user(ev)
		}
		if ev.Kind != EventAllocated {
			return
		}
		select {
		case result <- ev:
		default:
		}
	}

	stopped := a.stopped()
	if a.Request(ctx, req) {
		// 既に所有している場合は Allocated が届かないので台帳から直接引く
		a.mu.Lock()
		index, ok := a.ledger.IndexOf(req.Requester)
		a.mu.Unlock()
		if ok {
			return index, nil
		}
	}

	select {
	case ev := <-result:
		if !ev.Success {
			return AnyIndex, ErrDenied
		}
		return ev.Index, nil
	case <-stopped:
		a.Release(context.WithoutCancel(ctx), req.Requester)
		return AnyIndex, ErrStopped
	case <-ctx.Done():
		a.Release(context.WithoutCancel(ctx), req.Requester)
		return AnyIndex, ctx.Err()
	}
}

// stopped は現在の実行が停止したときに閉じるチャネルを返す。未開始なら nil
func (a *Arbiter) stopped() <-chan struct{} {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.stopCh
}
