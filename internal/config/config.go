package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Arbiter ArbiterConfig `yaml:"arbiter"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト（イベント配信のため0で無効）
}

// ArbiterConfig はカメラ調停の設定
type ArbiterConfig struct {
	DeviceDir       string        `yaml:"device_dir"`       // videoN が置かれるディレクトリ
	MaxIndex        int           `yaml:"max_index"`        // 走査するインデックスの上限
	MonitorInterval time.Duration `yaml:"monitor_interval"` // ヘルスモニタの間隔
	ReleaseScript   string        `yaml:"release_script"`   // 解放スクリプト（空なら実行しない）
	LockFile        string        `yaml:"lock_file"`        // 多重起動防止のロックファイル
	WatchHotplug    bool          `yaml:"watch_hotplug"`    // デバイスディレクトリを監視するか
	Timeouts        TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig はOS呼び出しのタイムアウト
type TimeoutConfig struct {
	Probe     time.Duration `yaml:"probe"`      // v4l2-ctl
	Busy      time.Duration `yaml:"busy"`       // fuser
	Script    time.Duration `yaml:"script"`     // 解放スクリプト
	KillGrace time.Duration `yaml:"kill_grace"` // SIGTERM から SIGKILL までの猶予
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Console bool   `yaml:"console"` // 人間向けのコンソール出力
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0,
		},
		Arbiter: ArbiterConfig{
			DeviceDir:       "/dev",
			MaxIndex:        2,
			MonitorInterval: 5 * time.Second,
			ReleaseScript:   "/mnt/tsp/camera_toggle.sh",
			LockFile:        "/tmp/camarbiter.lock",
			WatchHotplug:    true,
			Timeouts: TimeoutConfig{
				Probe:     time.Second,
				Busy:      time.Second,
				Script:    3 * time.Second,
				KillGrace: time.Second,
			},
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load は設定を読み込む。
// デフォルト値 → YAMLファイル（path が空なら省略） → 環境変数 の順に上書きし、最後に検証する
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Host = getEnvOrDefault("CAMARBITER_HOST", c.Server.Host)
	c.Arbiter.DeviceDir = getEnvOrDefault("CAMARBITER_DEVICE_DIR", c.Arbiter.DeviceDir)
	c.Arbiter.ReleaseScript = getEnvOrDefault("CAMARBITER_RELEASE_SCRIPT", c.Arbiter.ReleaseScript)
	c.Arbiter.LockFile = getEnvOrDefault("CAMARBITER_LOCK_FILE", c.Arbiter.LockFile)
	c.Log.Level = getEnvOrDefault("CAMARBITER_LOG_LEVEL", c.Log.Level)

	var errs []error
	var err error
	if c.Server.Port, err = getEnvAsIntOrDefault("PORT", c.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port, err = getEnvAsIntOrDefault("CAMARBITER_PORT", c.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if c.Arbiter.MaxIndex, err = getEnvAsIntOrDefault("CAMARBITER_MAX_INDEX", c.Arbiter.MaxIndex); err != nil {
		errs = append(errs, err)
	}
	if c.Arbiter.MonitorInterval, err = getEnvAsDurationOrDefault("CAMARBITER_MONITOR_INTERVAL", c.Arbiter.MonitorInterval); err != nil {
		errs = append(errs, err)
	}
	if c.Arbiter.WatchHotplug, err = getEnvAsBoolOrDefault("CAMARBITER_WATCH_HOTPLUG", c.Arbiter.WatchHotplug); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Console, err = getEnvAsBoolOrDefault("CAMARBITER_LOG_CONSOLE", c.Log.Console); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// 調停設定の検証
	if c.Arbiter.DeviceDir == "" {
		return errors.New("デバイスディレクトリが設定されていません")
	}
	if c.Arbiter.MaxIndex < 0 {
		return fmt.Errorf("無効なインデックス上限: %d", c.Arbiter.MaxIndex)
	}
	if c.Arbiter.MonitorInterval <= 0 {
		return fmt.Errorf("無効なモニタ間隔: %s", c.Arbiter.MonitorInterval)
	}

	t := c.Arbiter.Timeouts
	if t.Probe <= 0 || t.Busy <= 0 || t.Script <= 0 {
		return errors.New("タイムアウトは正の値である必要があります")
	}
	if t.KillGrace < 0 {
		return fmt.Errorf("無効な猶予時間: %s", t.KillGrace)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
