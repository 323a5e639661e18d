package camera

import (
	"context"
	"time"

	"camarbiter/internal/observability"

	"github.com/rs/zerolog"
)

// DefaultKillGrace はSIGTERM後にSIGKILLへ切り替えるまでの待機時間
const DefaultKillGrace = time.Second

// DeviceReaper は外部プロセスを終了させてデバイスを回収する
type DeviceReaper struct {
	sys       System
	prober    Prober
	killGrace time.Duration
	logger    zerolog.Logger
}

// NewDeviceReaper は新しいDeviceReaperを作成する
func NewDeviceReaper(sys System, prober Prober, killGrace time.Duration, logger zerolog.Logger) *DeviceReaper {
	if killGrace < 0 {
		killGrace = DefaultKillGrace
	}
	return &DeviceReaper{
		sys:       sys,
		prober:    prober,
		killGrace: killGrace,
		logger:    logger.With().Str("component", "reaper").Logger(),
	}
}

// Release は冪等な解放スクリプトを実行する。結果は台帳の更新には影響しない。
// 呼び出し側のキャンセルは無視し、固定のタイムアウトのみで打ち切る
func (r *DeviceReaper) Release(ctx context.Context, index CameraIndex) bool {
	ctx = context.WithoutCancel(ctx)
	if err := r.sys.RunReleaseScript(ctx, index); err != nil {
		r.logger.Warn().Err(err).Int("index", int(index)).Msg("解放スクリプトが失敗")
		return false
	}
	return true
}

// ForceRelease は他プロセスを終了させ、解放スクリプトを実行し、最終状態を再プローブする。
// 途中で止めると犠牲者だけが剥奪されるため、呼び出し側のキャンセルは無視する
func (r *DeviceReaper) ForceRelease(ctx context.Context, index CameraIndex) (State, bool) {
	ctx = context.WithoutCancel(ctx)
	r.logger.Info().Int("index", int(index)).Msg("カメラを強制解放します")

	// 1. デバイスの存在確認
	if !r.sys.NodeExists(index) {
		r.logger.Warn().Str("device", r.sys.DevicePath(index)).Msg("デバイスが存在しません")
		observability.RecordForceRelease(false)
		return "", false
	}

	// 2. 占有プロセスの確認
	self := r.sys.SelfPID()
	pids, err := r.sys.Holders(ctx, index)
	if err != nil {
		r.logger.Warn().Err(err).Int("index", int(index)).Msg("占有プロセスの取得に失敗")
	}
	others := excludePID(pids, self)
	if len(pids) > 0 && len(others) == 0 {
		r.logger.Debug().Int("index", int(index)).Msg("自プロセスのみが使用中のため解放済みとみなす")
		observability.RecordForceRelease(true)
		return "", true
	}

	// 3. 他プロセスの終了（SIGTERM → 待機 → SIGKILL）
	if len(others) > 0 {
		r.terminate(ctx, index, others)
	}

	// 4. 解放スクリプトは常に実行する
	scriptOK := r.Release(ctx, index)

	// 5. 最終状態
	state := r.prober.State(ctx, index, false)
	ok := state == StateAvailable || scriptOK
	observability.RecordForceRelease(ok)
	return state, ok
}

func (r *DeviceReaper) terminate(ctx context.Context, index CameraIndex, pids []int) {
	r.logger.Info().Ints("pids", pids).Int("index", int(index)).Msg("他プロセスを終了します")
	if err := r.sys.Terminate(ctx, pids, false); err != nil {
		r.logger.Warn().Err(err).Msg("SIGTERM の送信に失敗")
	}

	time.Sleep(r.killGrace)

	remaining, err := r.sys.Holders(ctx, index)
	if err != nil {
		r.logger.Warn().Err(err).Int("index", int(index)).Msg("占有プロセスの再取得に失敗")
	}
	remaining = excludePID(remaining, r.sys.SelfPID())
	if len(remaining) == 0 {
		return
	}

	r.logger.Warn().Ints("pids", remaining).Msg("残存プロセスを強制終了します")
	if err := r.sys.Terminate(ctx, remaining, true); err != nil {
		r.logger.Warn().Err(err).Msg("SIGKILL の送信に失敗")
	}
}

func excludePID(pids []int, self int) []int {
	var others []int
	for _, pid := range pids {
		if pid != self {
			others = append(others, pid)
		}
	}
	return others
}
