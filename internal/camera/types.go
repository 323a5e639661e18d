package camera

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CameraIndex はカメラスロット番号（/dev/videoN の N）
type CameraIndex int

// AnyIndex は首選インデックスの指定なしを表す
const AnyIndex CameraIndex = -1

// State はOSの実状態から都度導出されるカメラの状態
type State string

const (
	StateAvailable State = "available" // 利用可能
	StateInUse     State = "in_use"    // アービタ管理下の所有者が使用中
	StateError     State = "error"     // 外部プロセスが占有中、またはデバイスを開けない
	StateNotFound  State = "not_found" // デバイスが存在しない、またはポリシー上無効
)

// Priority はカメラ要求の優先度
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical // 他の所有者を横取りできる唯一の優先度
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority は文字列から優先度を解析する
func ParsePriority(s string) (Priority, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == key {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("不明な優先度: %q", s)
}

// MarshalText は優先度を名前で出力する
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText は名前から優先度を復元する
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// RequesterID は要求者の論理ID（構造に意味はない）
type RequesterID string

// Request はカメラ資源の要求
type Request struct {
	Requester      RequesterID
	Priority       Priority
	PreferredIndex CameraIndex // AnyIndex なら指定なし
	Exclusive      bool
	Notify         NotifyFunc // 割り当て結果と横取りの通知先（nil可）
}

// EventKind は通知の種類
type EventKind string

const (
	EventAllocated    EventKind = "allocated"     // 割り当て結果（Success で成否）
	EventPreempted    EventKind = "preempted"     // 所有権の剥奪
	EventStateChanged EventKind = "state_changed" // デバイス状態の変化
)

// Event はアービタから非同期に配送される通知
type Event struct {
	Kind      EventKind   `json:"kind"`
	Requester RequesterID `json:"requester,omitempty"`
	Index     CameraIndex `json:"index"`
	Success   bool        `json:"success"`
	State     State       `json:"state,omitempty"`
	LeaseID   string      `json:"lease_id,omitempty"`
	Time      time.Time   `json:"time"`
}

// NotifyFunc は通知コールバック。ロック解放後に専用ゴルーチンから呼ばれる
type NotifyFunc func(Event)

// Grant は台帳上の所有権レコード
type Grant struct {
	Index    CameraIndex `json:"index"`
	Owner    RequesterID `json:"owner"`
	Priority Priority    `json:"priority"`
	LeaseID  string      `json:"lease_id"`
	Since    time.Time   `json:"since"`

	notify NotifyFunc
}

// Prober はカメラインデックスのOS状態を問い合わせる
type Prober interface {
	// State はOSの実状態を返す。owned は台帳上に所有者がいるかどうか
	State(ctx context.Context, index CameraIndex, owned bool) State
}

// Reaper はデバイスを外部から解放する
type Reaper interface {
	// Release は冪等な外部解放手順を実行する
	Release(ctx context.Context, index CameraIndex) bool

	// ForceRelease は他プロセスを終了させてデバイスを強制解放する。
	// 再プローブした状態（未プローブなら空）と成否を返す
	ForceRelease(ctx context.Context, index CameraIndex) (State, bool)
}

// System はホストOSとの狭い境界
type System interface {
	DevicePath(index CameraIndex) string
	NodeExists(index CameraIndex) bool
	Holders(ctx context.Context, index CameraIndex) ([]int, error)
	Probe(ctx context.Context, index CameraIndex) error
	RunReleaseScript(ctx context.Context, index CameraIndex) error
	FindDevice(ctx context.Context) (CameraIndex, error)
	Terminate(ctx context.Context, pids []int, force bool) error
	SelfPID() int
}
