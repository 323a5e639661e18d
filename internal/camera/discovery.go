package camera

import (
	"context"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"
)

// ValidIndex は配備ポリシー上割り当て可能なインデックスかを判定する。
// 現在の配備では video0 のみが有効なカメラとして扱われる
func ValidIndex(index CameraIndex) bool {
	return index == 0
}

// DeviceProber はOSの実状態からカメラ状態を導出する
type DeviceProber struct {
	sys    System
	logger zerolog.Logger
}

// NewDeviceProber は新しいDeviceProberを作成する
func NewDeviceProber(sys System, logger zerolog.Logger) *DeviceProber {
	return &DeviceProber{
		sys:    sys,
		logger: logger.With().Str("component", "prober").Logger(),
	}
}

// State はカメラ状態を返す。台帳は占有中デバイスの InUse/Error の判別にのみ使う
func (p *DeviceProber) State(ctx context.Context, index CameraIndex, owned bool) State {
	// デバイスファイルの存在確認
	if !p.sys.NodeExists(index) {
		return StateNotFound
	}

	// ポリシー上の有効性
	if !ValidIndex(index) {
		p.logger.Debug().Int("index", int(index)).Msg("有効なカメラではありません")
		return StateNotFound
	}

	// 占有チェック
	pids, err := p.sys.Holders(ctx, index)
	if err != nil {
		p.logger.Warn().Err(err).Int("index", int(index)).Msg("占有チェックに失敗")
	}
	if len(pids) > 0 {
		if owned {
			return StateInUse
		}
		return StateError // 外部プロセスが占有
	}

	// デバイスを開けるか
	if err := p.sys.Probe(ctx, index); err != nil {
		p.logger.Debug().Err(err).Int("index", int(index)).Msg("能力プローブに失敗")
		return StateError
	}

	return StateAvailable
}

// Find は外部スクリプトに利用可能なインデックスを問い合わせる
func (p *DeviceProber) Find(ctx context.Context) (CameraIndex, error) {
	return p.sys.FindDevice(ctx)
}

var deviceNodePattern = regexp.MustCompile(`^video(\d+)$`)

// parseDeviceIndex はデバイスファイル名（video3 など）からインデックスを抽出する
func parseDeviceIndex(name string) (CameraIndex, bool) {
	matches := deviceNodePattern.FindStringSubmatch(name)
	if len(matches) < 2 {
		return AnyIndex, false
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return AnyIndex, false
	}

	return CameraIndex(num), true
}
