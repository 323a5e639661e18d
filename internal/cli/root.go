// Package cli はアービタのコマンドラインインターフェース
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"camarbiter/internal/client"
	"camarbiter/internal/config"

	"github.com/spf13/cobra"
)

// options は全コマンド共通のフラグ
type options struct {
	configFile string
	addr       string
	jsonOutput bool
}

// NewRootCommand はコマンドツリーを作成する
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "camarbiter",
		Short: "単一カメラデバイスのアクセス調停デーモン",
		Long: `複数の利用者で1台のカメラを共有するための調停デーモンと、その運用コマンド。
serve でデーモンを起動し、その他のコマンドは運用APIを呼び出す。`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "設定ファイル (YAML)")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "運用APIのURL (デフォルトは設定のサーバーアドレス)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "結果をJSONで出力")

	root.AddCommand(
		newServeCommand(opts),
		newStateCommand(opts),
		newOwnersCommand(opts),
		newPendingCommand(opts),
		newRequestCommand(opts),
		newReleaseCommand(opts),
		newResetCommand(opts),
		newProbeCommand(opts),
	)
	return root
}

// Execute はコマンドを実行する
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *options) loadConfig() (*config.Config, error) {
	return config.Load(o.configFile)
}

// newClient は --addr または設定からクライアントを作成する
func (o *options) newClient() (*client.Client, error) {
	if o.addr != "" {
		return client.New(normalizeURL(o.addr)), nil
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return client.New(fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)), nil
}

func normalizeURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + strings.TrimRight(addr, "/")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
