package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"camarbiter/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxIndex は走査するインデックスの上限（0..2）
	DefaultMaxIndex CameraIndex = 2

	// DefaultMonitorInterval はヘルスモニタの実行間隔
	DefaultMonitorInterval = 5 * time.Second
)

// Arbiter は単一の排他デバイスへのアクセスを複数の要求者間で調停する。
//
// 台帳と保留キューは1つのミューテックスで保護され、公開メソッドとヘルスモニタは
// OSプローブの間もロックを保持する。通知はロック解放後に専用ゴルーチンから配送される
type Arbiter struct {
	prober Prober
	reaper Reaper

	mu        sync.Mutex
	ledger    *Ledger
	lastError string

	notifier *notifier
	logger   zerolog.Logger

	maxIndex        CameraIndex
	monitorInterval time.Duration
	hotplugDir      string

	// 制御用
	lifecycle sync.Mutex
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Option はArbiterの設定
type Option func(*Arbiter)

// WithLogger はロガーを設定する
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Arbiter) {
		a.logger = logger
	}
}

// WithMaxIndex は走査するインデックスの上限を設定する
func WithMaxIndex(limit CameraIndex) Option {
	return func(a *Arbiter) {
		if limit >= 0 {
			a.maxIndex = limit
		}
	}
}

// WithMonitorInterval はヘルスモニタの間隔を設定する
func WithMonitorInterval(interval time.Duration) Option {
	return func(a *Arbiter) {
		if interval > 0 {
			a.monitorInterval = interval
		}
	}
}

// WithHotplugDir はデバイスの追加・削除を監視するディレクトリを設定する
func WithHotplugDir(dir string) Option {
	return func(a *Arbiter) {
		a.hotplugDir = dir
	}
}

// NewArbiter は新しいArbiterを作成する。プロセス起動時に1つだけ作成し、各利用者に渡す
func NewArbiter(prober Prober, reaper Reaper, opts ...Option) *Arbiter {
	a := &Arbiter{
		prober:          prober,
		reaper:          reaper,
		ledger:          NewLedger(),
		logger:          log.Logger,
		maxIndex:        DefaultMaxIndex,
		monitorInterval: DefaultMonitorInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "arbiter").Logger()
	a.notifier = newNotifier(a.logger)
	return a
}

// Start は通知配送、ヘルスモニタ、ホットプラグ監視を開始する
func (a *Arbiter) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.stopCh != nil {
		return errors.New("アービタは既に開始されています")
	}
	a.stopCh = make(chan struct{})
	a.notifier.start()

	a.wg.Add(1)
	go a.monitorLoop(ctx, a.stopCh)

	if a.hotplugDir != "" {
		watcher, err := newHotplugWatcher(a.hotplugDir)
		if err != nil {
			// ホットプラグ監視なしでも定期チェックで回復できる
			a.logger.Warn().Err(err).Str("dir", a.hotplugDir).Msg("ホットプラグ監視を開始できません")
		} else {
			a.wg.Add(1)
			go a.watchHotplug(ctx, a.stopCh, watcher)
		}
	}

	a.logger.Info().Dur("monitor_interval", a.monitorInterval).Int("max_index", int(a.maxIndex)).Msg("カメラ資源アービタを開始しました")
	return nil
}

// Stop はバックグラウンド処理を停止し、未配送の通知を配送する
func (a *Arbiter) Stop(_ context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.stopCh == nil {
		return nil
	}
	close(a.stopCh)
	a.wg.Wait()
	a.notifier.stop()
	a.stopCh = nil
	return nil
}

// Subscribe は全通知のブロードキャストを購読する
func (a *Arbiter) Subscribe(buffer int) (<-chan Event, func()) {
	return a.notifier.subscribe(buffer)
}

// Request は要求を同期的に満たそうとし、要求者がいずれかのインデックスを所有していれば true を返す。
// false は「キューに入った、通知を待て」を意味する
func (a *Arbiter) Request(ctx context.Context, req Request) bool {
	ctx = context.WithoutCancel(ctx)
	var out outbox
	defer a.notifier.publish(&out)

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.recordLedgerSize()

	if req.Requester == "" {
		a.logger.Warn().Msg("要求者IDが空の要求を拒否しました")
		observability.RecordRequest(req.Priority.String(), "rejected")
		return false
	}

	a.logger.Debug().
		Str("requester", string(req.Requester)).
		Str("priority", req.Priority.String()).
		Int("preferred", int(req.PreferredIndex)).
		Msg("カメラ要求を受信")

	// 1. 既に所有していれば何もしない
	if index, ok := a.ledger.IndexOf(req.Requester); ok {
		a.logger.Debug().Str("requester", string(req.Requester)).Int("index", int(index)).Msg("既にカメラを所有しています")
		observability.RecordRequest(req.Priority.String(), "granted")
		return true
	}

	// 2. 残留した所有権の掃除
	a.dropStale(ctx, req.Requester)

	// 3. 直接割り当て
	if a.allocate(ctx, req, &out) {
		observability.RecordRequest(req.Priority.String(), "granted")
		return true
	}

	// 4. Critical のみ横取り
	if req.Priority == PriorityCritical && a.preempt(ctx, &out) {
		if a.allocate(ctx, req, &out) {
			observability.RecordRequest(req.Priority.String(), "granted")
			return true
		}
	}

	// 5. キューに追加
	a.ledger.Enqueue(req)
	a.logger.Debug().Str("requester", string(req.Requester)).Int("queue", a.ledger.PendingLen()).Msg("要求をキューに追加しました")
	observability.RecordRequest(req.Priority.String(), "queued")
	return false
}

// Release は要求者の所有権と保留要求をすべて削除し、キューを処理する。
// 所有権レコードを1つ以上削除した場合に true を返す
func (a *Arbiter) Release(ctx context.Context, id RequesterID) bool {
	ctx = context.WithoutCancel(ctx)
	var out outbox
	defer a.notifier.publish(&out)

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.recordLedgerSize()

	a.logger.Debug().Str("requester", string(id)).Msg("カメラ解放要求を受信")

	grants := a.ledger.RemoveOwner(id)
	for _, g := range grants {
		// 外部の解放結果に関わらず台帳は更新済み
		if !a.reaper.Release(ctx, g.Index) {
			a.setLastError(fmt.Sprintf("%s が使用していたカメラ %d の解放に失敗", id, g.Index))
		} else {
			a.logger.Info().Str("requester", string(id)).Int("index", int(g.Index)).Msg("カメラを解放しました")
		}
	}
	a.ledger.Dequeue(id)

	a.drain(ctx, &out)
	return len(grants) > 0
}

// ResetAll は全所有者に横取りを通知して台帳と保留キューを破棄し、有効な全インデックスを強制解放する。
// キュー上の要求者には通知しない
func (a *Arbiter) ResetAll(ctx context.Context) bool {
	ctx = context.WithoutCancel(ctx)
	var out outbox
	defer a.notifier.publish(&out)

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.recordLedgerSize()

	a.logger.Info().Msg("全カメラの状態をリセットします")

	for _, g := range a.ledger.Clear() {
		out.add(Event{Kind: EventPreempted, Requester: g.Owner, Index: g.Index, LeaseID: g.LeaseID}, g.notify)
	}
	if dropped := a.ledger.ClearPending(); dropped > 0 {
		a.logger.Info().Int("dropped", dropped).Msg("保留中の要求を破棄しました")
	}

	allOK := true
	for index := CameraIndex(0); index <= a.maxIndex; index++ {
		if !ValidIndex(index) {
			continue
		}
		state, ok := a.reaper.ForceRelease(ctx, index)
		a.stateChanged(index, state, &out)
		if !ok {
			allOK = false
			a.setLastError(fmt.Sprintf("カメラ %d の強制解放に失敗", index))
		}
	}

	a.drain(ctx, &out)
	return allOK
}

// State は指定インデックスの現在の状態をOSから取得する
func (a *Arbiter) State(ctx context.Context, index CameraIndex) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.probe(ctx, index)
}

// FirstState は NotFound 以外の状態を返す最初のインデックスの状態を返す
func (a *Arbiter) FirstState(ctx context.Context) State {
	a.mu.Lock()
	defer a.mu.Unlock()

	for index := CameraIndex(0); index <= a.maxIndex; index++ {
		if state := a.probe(ctx, index); state != StateNotFound {
			return state
		}
	}
	return StateNotFound
}

// finder は外部スクリプトによるカメラ探索に対応したProber
type finder interface {
	Find(ctx context.Context) (CameraIndex, error)
}

// FindAvailable は利用可能なカメラのインデックスを探す。見つからなければ 0
func (a *Arbiter) FindAvailable(ctx context.Context) CameraIndex {
	ctx = context.WithoutCancel(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()

	// video0 を優先
	if a.probe(ctx, 0) == StateAvailable {
		return 0
	}
	for index := CameraIndex(1); index <= a.maxIndex; index++ {
		if a.probe(ctx, index) == StateAvailable {
			return index
		}
	}

	if f, ok := a.prober.(finder); ok {
		index, err := f.Find(ctx)
		if err == nil && index >= 0 {
			return index
		}
		if err != nil {
			a.logger.Debug().Err(err).Msg("スクリプトによるカメラ探索に失敗")
		}
	}
	return 0
}

// Owners はインデックス→所有者のスナップショットを返す
func (a *Arbiter) Owners() map[CameraIndex]RequesterID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Snapshot()
}

// Grants は所有権レコードのスナップショットを返す
func (a *Arbiter) Grants() []Grant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Grants()
}

// Pending は保留中の要求者をキュー順で返す
func (a *Arbiter) Pending() []RequesterID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.PendingIDs()
}

// CurrentUser は最小インデックスの所有者を返す（いなければ空）
func (a *Arbiter) CurrentUser() RequesterID {
	a.mu.Lock()
	defer a.mu.Unlock()

	indices := a.ledger.Indices()
	if len(indices) == 0 {
		return ""
	}
	g, _ := a.ledger.Owner(indices[0])
	return g.Owner
}

// LastError は直近のOS側の失敗内容を返す
func (a *Arbiter) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

// probe は台帳を参照して状態を取得する（ロック済み前提）
func (a *Arbiter) probe(ctx context.Context, index CameraIndex) State {
	if index < 0 {
		return StateNotFound
	}
	_, owned := a.ledger.Owner(index)
	return a.prober.State(ctx, index, owned)
}

// dropStale は要求者名義で残っている所有権を削除し外部解放を行う（ロック済み前提）
func (a *Arbiter) dropStale(ctx context.Context, id RequesterID) {
	for _, g := range a.ledger.RemoveOwner(id) {
		a.logger.Warn().Str("requester", string(id)).Int("index", int(g.Index)).Msg("残留した所有権を削除します")
		a.reaper.Release(ctx, g.Index)
	}
}

// allocate は首選インデックス、次に残りのインデックスを昇順で試す（ロック済み前提）
func (a *Arbiter) allocate(ctx context.Context, req Request, out *outbox) bool {
	tried := AnyIndex
	if req.PreferredIndex >= 0 {
		tried = req.PreferredIndex
		if a.tryIndex(ctx, req, req.PreferredIndex, out) {
			return true
		}
	}

	for index := CameraIndex(0); index <= a.maxIndex; index++ {
		if index == tried {
			continue
		}
		if a.tryIndex(ctx, req, index, out) {
			return true
		}
	}
	return false
}

// tryIndex は未所有かつ利用可能なら所有権を記録する（ロック済み前提）
func (a *Arbiter) tryIndex(ctx context.Context, req Request, index CameraIndex, out *outbox) bool {
	if _, owned := a.ledger.Owner(index); owned {
		return false
	}
	if a.prober.State(ctx, index, false) != StateAvailable {
		return false
	}

	g := &Grant{
		Index:    index,
		Owner:    req.Requester,
		Priority: req.Priority,
		LeaseID:  uuid.NewString(),
		Since:    time.Now(),
		notify:   req.Notify,
	}
	if !a.ledger.Assign(g) {
		return false
	}
	a.ledger.Dequeue(req.Requester)

	out.add(Event{
		Kind:      EventAllocated,
		Requester: req.Requester,
		Index:     index,
		Success:   true,
		LeaseID:   g.LeaseID,
	}, req.Notify)

	a.logger.Info().Str("requester", string(req.Requester)).Int("index", int(index)).Str("lease", g.LeaseID).Msg("カメラを割り当てました")
	return true
}

// preempt は台帳の最初の所有者から所有権を剥奪し、デバイスを強制解放する（ロック済み前提）。
// 犠牲者の優先度は比較しない
func (a *Arbiter) preempt(ctx context.Context, out *outbox) bool {
	indices := a.ledger.Indices()
	if len(indices) == 0 {
		return false
	}

	victim := a.ledger.Remove(indices[0])
	out.add(Event{Kind: EventPreempted, Requester: victim.Owner, Index: victim.Index, LeaseID: victim.LeaseID}, victim.notify)
	observability.RecordPreemption()
	a.logger.Warn().Str("victim", string(victim.Owner)).Int("index", int(victim.Index)).Msg("所有権を横取りします")

	state, ok := a.reaper.ForceRelease(ctx, victim.Index)
	a.stateChanged(victim.Index, state, out)
	if !ok {
		a.setLastError(fmt.Sprintf("カメラ %d の強制解放に失敗", victim.Index))
		return false
	}
	return true
}

// drain は保留キューを優先度順に処理し、最初の成功で止める（ロック済み前提）。
// 割り当てに失敗した要求は破棄して失敗を通知する
func (a *Arbiter) drain(ctx context.Context, out *outbox) {
	if a.ledger.PendingLen() == 0 {
		return
	}
	a.ledger.SortPending()

	for {
		req, ok := a.ledger.PopPending()
		if !ok {
			return
		}
		if a.allocate(ctx, req, out) {
			a.logger.Debug().Str("requester", string(req.Requester)).Msg("キューからカメラを割り当てました")
			return
		}

		a.logger.Debug().Str("requester", string(req.Requester)).Msg("キューからの割り当てに失敗")
		out.add(Event{Kind: EventAllocated, Requester: req.Requester, Index: AnyIndex, Success: false}, req.Notify)
	}
}

func (a *Arbiter) stateChanged(index CameraIndex, state State, out *outbox) {
	if state == "" {
		return
	}
	out.add(Event{Kind: EventStateChanged, Index: index, State: state}, nil)
}

func (a *Arbiter) setLastError(msg string) {
	a.lastError = msg
	a.logger.Warn().Msg(msg)
}

func (a *Arbiter) recordLedgerSize() {
	observability.SetLedgerSize(a.ledger.Len(), a.ledger.PendingLen())
}
