package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Timeouts はOS呼び出しごとの固定タイムアウト
type Timeouts struct {
	Probe  time.Duration // v4l2-ctl による能力プローブ
	Busy   time.Duration // fuser による占有チェック
	Script time.Duration // 解放スクリプト
}

// DefaultTimeouts はデフォルトのタイムアウトを返す
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Probe:  time.Second,
		Busy:   time.Second,
		Script: 3 * time.Second,
	}
}

// LinuxSystem はLinux環境でのOS境界の実装
//
// 前提コマンド: fuser (psmisc), v4l2-ctl (v4l-utils), 解放スクリプト
type LinuxSystem struct {
	deviceDir     string
	releaseScript string
	timeouts      Timeouts
}

// NewLinuxSystem は新しいLinuxSystemを作成する
func NewLinuxSystem(deviceDir, releaseScript string, timeouts Timeouts) *LinuxSystem {
	if deviceDir == "" {
		deviceDir = "/dev"
	}
	return &LinuxSystem{
		deviceDir:     deviceDir,
		releaseScript: releaseScript,
		timeouts:      timeouts,
	}
}

// DevicePath はインデックスに対応するデバイスパスを返す
func (s *LinuxSystem) DevicePath(index CameraIndex) string {
	return filepath.Join(s.deviceDir, fmt.Sprintf("video%d", index))
}

// NodeExists はデバイスファイルの存在を確認する
func (s *LinuxSystem) NodeExists(index CameraIndex) bool {
	if index < 0 {
		return false
	}
	_, err := os.Stat(s.DevicePath(index))
	return err == nil
}

// Holders はデバイスを開いているプロセスIDを返す（空なら未使用）
func (s *LinuxSystem) Holders(ctx context.Context, index CameraIndex) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Busy)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, "fuser", s.DevicePath(index))
	cmd.Stdout = &stdout
	err := cmd.Run()

	pids := parsePIDs(stdout.String())
	if err != nil {
		// 使用中のプロセスがない場合 fuser は終了コード1を返す
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(pids) == 0 && ctx.Err() == nil {
			return nil, nil
		}
		return pids, fmt.Errorf("fuser の実行に失敗: %w", err)
	}
	return pids, nil
}

// Probe はデバイスが問い合わせ可能か v4l2-ctl で確認する
func (s *LinuxSystem) Probe(ctx context.Context, index CameraIndex) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Probe)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device="+s.DevicePath(index), "--all")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("デバイス %s のプローブに失敗: %w (%s)", s.DevicePath(index), err, strings.TrimSpace(string(output)))
	}
	return nil
}

// RunReleaseScript は冪等な解放スクリプトを実行する
func (s *LinuxSystem) RunReleaseScript(ctx context.Context, index CameraIndex) error {
	if s.releaseScript == "" {
		return nil
	}
	_, err := s.runScript(ctx, "release", strconv.Itoa(int(index)))
	return err
}

// FindDevice は解放スクリプトに利用可能なインデックスを問い合わせる
func (s *LinuxSystem) FindDevice(ctx context.Context) (CameraIndex, error) {
	if s.releaseScript == "" {
		return AnyIndex, errors.New("解放スクリプトが設定されていません")
	}
	output, err := s.runScript(ctx, "find")
	if err != nil {
		return AnyIndex, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return AnyIndex, fmt.Errorf("スクリプト出力の解析に失敗: %w", err)
	}
	return CameraIndex(n), nil
}

func (s *LinuxSystem) runScript(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Script)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.releaseScript, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("スクリプト %s %v の実行に失敗: %w (stderr: %s)", s.releaseScript, args, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Terminate はプロセスにシグナルを送る。自プロセスは対象外
func (s *LinuxSystem) Terminate(_ context.Context, pids []int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}

	self := s.SelfPID()
	var errs []error
	for _, pid := range pids {
		if pid <= 0 || pid == self {
			continue
		}
		if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			errs = append(errs, fmt.Errorf("プロセス %d へのシグナル送信に失敗: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// SelfPID は自プロセスのIDを返す
func (s *LinuxSystem) SelfPID() int {
	return os.Getpid()
}

// parsePIDs は fuser の標準出力からPIDを抽出する（"1234m" のような接尾辞は無視）
func parsePIDs(output string) []int {
	var pids []int
	for _, field := range strings.Fields(output) {
		field = strings.TrimRight(field, "cefFrmn")
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
