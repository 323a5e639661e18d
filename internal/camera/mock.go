package camera

import (
	"context"
	"fmt"
	"sync"
)

// MockSystem はテスト用のSystem実装。OSの事実を台本として保持し、呼び出しを記録する
type MockSystem struct {
	mu sync.Mutex

	nodes     map[CameraIndex]bool
	holders   map[CameraIndex][]int
	probeFail map[CameraIndex]bool
	stubborn  map[int]bool
	scriptErr error
	findIndex CameraIndex
	findErr   error
	self      int

	releaseCalls map[CameraIndex]int
	probeCalls   map[CameraIndex]int
	terminated   []int
	killed       []int
}

// NewMockSystem は指定インデックスのデバイスファイルが存在するMockSystemを作成する
func NewMockSystem(indices ...CameraIndex) *MockSystem {
	m := &MockSystem{
		nodes:        make(map[CameraIndex]bool),
		holders:      make(map[CameraIndex][]int),
		probeFail:    make(map[CameraIndex]bool),
		stubborn:     make(map[int]bool),
		findIndex:    AnyIndex,
		self:         1000,
		releaseCalls: make(map[CameraIndex]int),
		probeCalls:   make(map[CameraIndex]int),
	}
	for _, index := range indices {
		m.nodes[index] = true
	}
	return m
}

// SetNode はデバイスファイルの有無を設定する
func (m *MockSystem) SetNode(index CameraIndex, present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[index] = present
}

// SetHolders はデバイスを開いているプロセスを設定する
func (m *MockSystem) SetHolders(index CameraIndex, pids ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holders[index] = append([]int(nil), pids...)
}

// SetProbeFail は能力プローブの失敗を設定する
func (m *MockSystem) SetProbeFail(index CameraIndex, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeFail[index] = fail
}

// SetStubborn はSIGTERMを無視するプロセスを設定する
func (m *MockSystem) SetStubborn(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubborn[pid] = true
}

// SetScriptError は解放スクリプトの結果を設定する
func (m *MockSystem) SetScriptError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scriptErr = err
}

// SetFind は find スクリプトの結果を設定する
func (m *MockSystem) SetFind(index CameraIndex, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findIndex = index
	m.findErr = err
}

// SetSelfPID は自プロセスIDを設定する
func (m *MockSystem) SetSelfPID(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = pid
}

// DevicePath はモックのデバイスパスを返す
func (m *MockSystem) DevicePath(index CameraIndex) string {
	return fmt.Sprintf("/dev/video%d", index)
}

// NodeExists はモックのデバイスファイルの有無を返す
func (m *MockSystem) NodeExists(index CameraIndex) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[index]
}

// Holders はモックの占有プロセスを返す
func (m *MockSystem) Holders(_ context.Context, index CameraIndex) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.holders[index]...), nil
}

// Probe はモックの能力プローブ結果を返す
func (m *MockSystem) Probe(_ context.Context, index CameraIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCalls[index]++
	if m.probeFail[index] {
		return fmt.Errorf("モック: デバイス %d を開けません", index)
	}
	return nil
}

// RunReleaseScript は解放スクリプトの呼び出しを記録する
func (m *MockSystem) RunReleaseScript(_ context.Context, index CameraIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls[index]++
	return m.scriptErr
}

// FindDevice はモックの find 結果を返す
func (m *MockSystem) FindDevice(_ context.Context) (CameraIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findIndex, m.findErr
}

// Terminate はシグナル送信を記録し、終了したプロセスを占有者から外す
func (m *MockSystem) Terminate(_ context.Context, pids []int, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dead := make(map[int]bool)
	for _, pid := range pids {
		if pid == m.self {
			continue
		}
		if force {
			m.killed = append(m.killed, pid)
			dead[pid] = true
			continue
		}
		m.terminated = append(m.terminated, pid)
		if !m.stubborn[pid] {
			dead[pid] = true
		}
	}

	for index, holders := range m.holders {
		var alive []int
		for _, pid := range holders {
			if !dead[pid] {
				alive = append(alive, pid)
			}
		}
		m.holders[index] = alive
	}
	return nil
}

// SelfPID はモックの自プロセスIDを返す
func (m *MockSystem) SelfPID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// ReleaseCalls は解放スクリプトの呼び出し回数を返す
func (m *MockSystem) ReleaseCalls(index CameraIndex) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseCalls[index]
}

// ProbeCalls は能力プローブの呼び出し回数を返す
func (m *MockSystem) ProbeCalls(index CameraIndex) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probeCalls[index]
}

// Terminated はSIGTERMを送ったプロセスを返す
func (m *MockSystem) Terminated() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.terminated...)
}

// Killed はSIGKILLを送ったプロセスを返す
func (m *MockSystem) Killed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.killed...)
}
