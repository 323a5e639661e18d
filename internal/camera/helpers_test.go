package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// recorder は通知を記録するテスト用コールバック
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newTestArbiter(t *testing.T, sys *MockSystem, opts ...Option) *Arbiter {
	t.Helper()

	logger := zerolog.Nop()
	prober := NewDeviceProber(sys, logger)
	reaper := NewDeviceReaper(sys, prober, 0, logger)
	arb := NewArbiter(prober, reaper, append([]Option{WithLogger(logger)}, opts...)...)

	require.NoError(t, arb.Start(context.Background()))
	t.Cleanup(func() {
		_ = arb.Stop(context.Background())
	})
	return arb
}

// flush は配送ゴルーチンを停止し、未配送の通知をすべて配送させる
func flush(t *testing.T, arb *Arbiter) {
	t.Helper()
	require.NoError(t, arb.Stop(context.Background()))
}

func request(id string, priority Priority, rec *recorder) Request {
	req := Request{
		Requester:      RequesterID(id),
		Priority:       priority,
		PreferredIndex: 0,
	}
	if rec != nil {
		req.Notify = rec.notify
	}
	return req
}
