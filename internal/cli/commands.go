package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"camarbiter/internal/api"
	"camarbiter/internal/camera"

	"github.com/spf13/cobra"
)

func newStateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state [index]",
		Short: "カメラの状態を表示する（省略時は最初の有効なカメラ）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index := camera.AnyIndex
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return fmt.Errorf("不正なインデックス: %q", args[0])
				}
				index = camera.CameraIndex(n)
			}

			c, err := opts.newClient()
			if err != nil {
				return err
			}
			state, err := c.State(cmd.Context(), index)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				resp := api.StateResponse{State: state}
				if index >= 0 {
					resp.Index = &index
				}
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

func newOwnersCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "owners",
		Short: "カメラの所有者を一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			owners, err := c.Owners(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), owners)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "INDEX\tOWNER\tPRIORITY\tSINCE\tLEASE")
			for _, g := range owners {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					g.Index,
					g.Owner,
					g.Priority,
					g.Since.Format(time.RFC3339),
					g.LeaseID,
				)
			}
			return w.Flush()
		},
	}
}

func newPendingCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "保留中の要求者をキュー順に表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			pending, err := c.Pending(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), pending)
			}
			for _, id := range pending {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newRequestCommand(opts *options) *cobra.Command {
	var (
		priority  string
		preferred int
		exclusive bool
	)

	cmd := &cobra.Command{
		Use:   "request <requester>",
		Short: "カメラを要求する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := camera.ParsePriority(priority)
			if err != nil {
				return err
			}

			body := api.CameraRequest{
				Requester: camera.RequesterID(args[0]),
				Priority:  p,
				Exclusive: exclusive,
			}
			if preferred >= 0 {
				index := camera.CameraIndex(preferred)
				body.PreferredIndex = &index
			}

			c, err := opts.newClient()
			if err != nil {
				return err
			}
			resp, err := c.Request(cmd.Context(), body)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			if resp.Granted && resp.Index != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "granted: index %d\n", *resp.Index)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queued")
			return nil
		},
	}

	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "優先度 (low, normal, high, critical)")
	cmd.Flags().IntVar(&preferred, "index", 0, "希望するインデックス (-1 で指定なし)")
	cmd.Flags().BoolVar(&exclusive, "exclusive", true, "排他利用")
	return cmd
}

func newReleaseCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "release <requester>",
		Short: "要求者の所有権と保留要求を解放する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			released, err := c.Release(cmd.Context(), camera.RequesterID(args[0]))
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), api.ReleaseResponse{Released: released})
			}
			if released {
				fmt.Fprintln(cmd.OutOrStdout(), "released")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not held")
			}
			return nil
		},
	}
}

func newResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "全所有権を破棄してカメラを強制解放する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			ok, err := c.Reset(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), api.ResetResponse{OK: ok})
			}
			if !ok {
				return fmt.Errorf("一部のカメラの強制解放に失敗しました")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

// probe はデーモンを介さずにOSの状態を直接調べる
func newProbeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "デーモンを介さずに各インデックスの状態を直接調べる",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			sys, prober := newProber(cfg)

			states := probeAll(cmd.Context(), prober, camera.CameraIndex(cfg.Arbiter.MaxIndex))
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), states)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "INDEX\tDEVICE\tSTATE")
			for _, s := range states {
				fmt.Fprintf(w, "%d\t%s\t%s\n", *s.Index, sys.DevicePath(*s.Index), s.State)
			}
			return w.Flush()
		},
	}
}

func probeAll(ctx context.Context, prober camera.Prober, limit camera.CameraIndex) []api.StateResponse {
	states := make([]api.StateResponse, 0, int(limit)+1)
	for index := camera.CameraIndex(0); index <= limit; index++ {
		states = append(states, api.StateResponse{
			Index: &index,
			State: prober.State(ctx, index, false),
		})
	}
	return states
}
