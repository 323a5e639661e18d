package camera

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultSubscriberBuffer = 64

// delivery は1件の通知と、その宛先コールバック
type delivery struct {
	event  Event
	notify NotifyFunc
}

// outbox はロック保持中に溜めておく通知。ロック解放後にまとめて配送する
type outbox []delivery

func (o *outbox) add(ev Event, notify NotifyFunc) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	*o = append(*o, delivery{event: ev, notify: notify})
}

// notifier は通知を専用ゴルーチンから順序通りに配送する
type notifier struct {
	mu    sync.Mutex
	queue []delivery
	wake  chan struct{}

	stopCh chan struct{}
	done   chan struct{}

	subsMu sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64

	logger zerolog.Logger
}

func newNotifier(logger zerolog.Logger) *notifier {
	return &notifier{
		wake:   make(chan struct{}, 1),
		subs:   make(map[uint64]chan Event),
		logger: logger,
	}
}

// publish は outbox の内容を配送キューに積む。呼び出し側はロックを保持しないこと
func (n *notifier) publish(o *outbox) {
	if len(*o) == 0 {
		return
	}
	n.mu.Lock()
	n.queue = append(n.queue, *o...)
	n.mu.Unlock()
	*o = nil

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// start は配送ゴルーチンを開始する。開始前に積まれた通知もここで配送される
func (n *notifier) start() {
	n.stopCh = make(chan struct{})
	n.done = make(chan struct{})
	go n.run(n.stopCh, n.done)
}

// stop は残りの通知を配送してから配送ゴルーチンを停止する
func (n *notifier) stop() {
	if n.stopCh == nil {
		return
	}
	close(n.stopCh)
	<-n.done
	n.stopCh = nil
}

func (n *notifier) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	n.flush()
	for {
		select {
		case <-n.wake:
			n.flush()
		case <-stopCh:
			n.flush()
			return
		}
	}
}

func (n *notifier) flush() {
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		n.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, d := range batch {
			n.deliver(d)
		}
	}
}

func (n *notifier) deliver(d delivery) {
	if d.notify != nil {
		n.invoke(d)
	}

	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	for id, ch := range n.subs {
		select {
		case ch <- d.event:
		default:
			n.logger.Warn().Uint64("subscriber", id).Str("kind", string(d.event.Kind)).Msg("購読者のバッファが満杯のため通知を破棄")
		}
	}
}

// invoke はコールバックのパニックが配送ゴルーチンを止めないようにする
func (n *notifier) invoke(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Str("requester", string(d.event.Requester)).Msg("通知コールバックがパニック")
		}
	}()
	d.notify(d.event)
}

// subscribe は全通知のブロードキャストを購読する
func (n *notifier) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	n.subsMu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.subsMu.Lock()
			delete(n.subs, id)
			close(ch)
			n.subsMu.Unlock()
		})
	}
	return ch, cancel
}
