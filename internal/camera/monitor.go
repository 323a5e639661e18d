package camera

import (
	"context"
	"time"

	"camarbiter/internal/observability"
)

// monitorLoop は一定間隔でヘルスチェックを実行する
func (a *Arbiter) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.CheckHealth(ctx)
		}
	}
}

// CheckHealth は所有中の全インデックスを再プローブし、InUse でも Available でもないものを
// 台帳から外して所有者に横取りを通知する。デバイスは既に失われているとみなし強制解放はしない。
// 剥奪した件数を返す
func (a *Arbiter) CheckHealth(ctx context.Context) int {
	ctx = context.WithoutCancel(ctx)
	var out outbox
	defer a.notifier.publish(&out)

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.recordLedgerSize()

	evicted := 0
	for _, index := range a.ledger.Indices() {
		state := a.prober.State(ctx, index, true)
		if state == StateInUse || state == StateAvailable {
			continue
		}

		g := a.ledger.Remove(index)
		a.logger.Warn().
			Int("index", int(index)).
			Str("state", string(state)).
			Str("owner", string(g.Owner)).
			Msg("カメラの状態異常を検出、所有権を剥奪します")

		out.add(Event{Kind: EventPreempted, Requester: g.Owner, Index: index, LeaseID: g.LeaseID}, g.notify)
		a.stateChanged(index, state, &out)
		observability.RecordEviction()
		evicted++
	}
	return evicted
}
