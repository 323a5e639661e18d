package camera

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_DeliversInOrder(t *testing.T) {
	n := newNotifier(zerolog.Nop())
	rec := &recorder{}

	// 開始前に積んだ通知も配送される
	var out outbox
	for i := 0; i < 5; i++ {
		out.add(Event{Kind: EventStateChanged, Index: CameraIndex(i)}, rec.notify)
	}
	n.publish(&out)
	assert.Empty(t, out)

	n.start()
	n.stop()

	events := rec.snapshot()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, CameraIndex(i), ev.Index)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestNotifier_SubscriberDropsWhenFull(t *testing.T) {
	n := newNotifier(zerolog.Nop())
	ch, cancel := n.subscribe(1)

	var out outbox
	out.add(Event{Kind: EventStateChanged, Index: 0}, nil)
	out.add(Event{Kind: EventStateChanged, Index: 1}, nil)
	n.publish(&out)

	n.start()
	n.stop()

	ev := <-ch
	assert.Equal(t, CameraIndex(0), ev.Index)
	assert.Empty(t, ch)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}
