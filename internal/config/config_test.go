package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfigLoad はデフォルト設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Arbiter.DeviceDir != "/dev" {
		t.Errorf("デバイスディレクトリが一致しません: got %s", cfg.Arbiter.DeviceDir)
	}
	if cfg.Arbiter.MaxIndex != 2 {
		t.Errorf("インデックス上限が一致しません: got %d", cfg.Arbiter.MaxIndex)
	}
	if cfg.Arbiter.MonitorInterval != 5*time.Second {
		t.Errorf("モニタ間隔が一致しません: got %s", cfg.Arbiter.MonitorInterval)
	}
	if cfg.Arbiter.Timeouts.Script != 3*time.Second {
		t.Errorf("スクリプトのタイムアウトが一致しません: got %s", cfg.Arbiter.Timeouts.Script)
	}
}

// TestConfigLoadFile はYAMLファイルからの読み込みをテストする
func TestConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camarbiter.yaml")
	data := `
server:
  port: 9191
arbiter:
  device_dir: /tmp/dev
  max_index: 4
  monitor_interval: 2s
  release_script: ""
  timeouts:
    kill_grace: 500ms
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("設定ファイルの作成に失敗しました: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("ポートが一致しません: got %d", cfg.Server.Port)
	}
	// ファイルに無い値はデフォルトのまま
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("ホストが一致しません: got %s", cfg.Server.Host)
	}
	if cfg.Arbiter.DeviceDir != "/tmp/dev" || cfg.Arbiter.MaxIndex != 4 {
		t.Errorf("調停設定が一致しません: %+v", cfg.Arbiter)
	}
	if cfg.Arbiter.MonitorInterval != 2*time.Second {
		t.Errorf("モニタ間隔が一致しません: got %s", cfg.Arbiter.MonitorInterval)
	}
	if cfg.Arbiter.ReleaseScript != "" {
		t.Errorf("解放スクリプトが空になっていません: got %s", cfg.Arbiter.ReleaseScript)
	}
	if cfg.Arbiter.Timeouts.KillGrace != 500*time.Millisecond || cfg.Arbiter.Timeouts.Probe != time.Second {
		t.Errorf("タイムアウトが一致しません: %+v", cfg.Arbiter.Timeouts)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("ログレベルが一致しません: got %s", cfg.Log.Level)
	}
}

// TestConfigLoadErrors は読み込み失敗をテストする
func TestConfigLoadErrors(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(broken, []byte("server: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(invalid, []byte("server:\n  port: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name string
		path string
	}{
		{name: "存在しないファイル", path: filepath.Join(dir, "missing.yaml")},
		{name: "壊れたYAML", path: broken},
		{name: "検証エラー", path: invalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(tc.path); err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
		})
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "デバイスディレクトリなし",
			modify:    func(c *Config) { c.Arbiter.DeviceDir = "" },
			expectErr: true,
		},
		{
			name:      "負のインデックス上限",
			modify:    func(c *Config) { c.Arbiter.MaxIndex = -1 },
			expectErr: true,
		},
		{
			name:      "モニタ間隔なし",
			modify:    func(c *Config) { c.Arbiter.MonitorInterval = 0 },
			expectErr: true,
		},
		{
			name:      "タイムアウトなし",
			modify:    func(c *Config) { c.Arbiter.Timeouts.Busy = 0 },
			expectErr: true,
		},
		{
			name:      "猶予時間0は許可",
			modify:    func(c *Config) { c.Arbiter.Timeouts.KillGrace = 0 },
			expectErr: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("CAMARBITER_PORT", "9999")
	t.Setenv("CAMARBITER_MONITOR_INTERVAL", "250ms")
	t.Setenv("CAMARBITER_WATCH_HOTPLUG", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("SERVER_HOST が反映されていません: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("CAMARBITER_PORT が反映されていません: got %d", cfg.Server.Port)
	}
	if cfg.Arbiter.MonitorInterval != 250*time.Millisecond {
		t.Errorf("CAMARBITER_MONITOR_INTERVAL が反映されていません: got %s", cfg.Arbiter.MonitorInterval)
	}
	if cfg.Arbiter.WatchHotplug {
		t.Error("CAMARBITER_WATCH_HOTPLUG が反映されていません")
	}
}

// TestEnvironmentVariablesInvalid は不正な環境変数をテストする
func TestEnvironmentVariablesInvalid(t *testing.T) {
	t.Setenv("CAMARBITER_MAX_INDEX", "many")

	if _, err := Load(""); err == nil {
		t.Error("エラーが期待されましたが、エラーが発生しませんでした")
	}
}
