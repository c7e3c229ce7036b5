package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/najahiiii/xray-panel/internal/daemon"
	"github.com/najahiiii/xray-panel/internal/fsutil"
	"github.com/najahiiii/xray-panel/internal/lifecycle"
	"github.com/najahiiii/xray-panel/internal/logger"
	"github.com/najahiiii/xray-panel/internal/setup"
	"github.com/najahiiii/xray-panel/internal/usage"
)

func printSync(w io.Writer, res lifecycle.SyncResult) {
	fmt.Fprintf(w, "%d clients, %d enabled", res.Clients, len(res.Enabled))
	switch {
	case !res.Outcome.Changed:
		fmt.Fprintln(w, ", config unchanged")
	case res.Outcome.Restarted:
		fmt.Fprintln(w, ", config rewritten, xray restarted")
	default:
		fmt.Fprintln(w, ", config rewritten")
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if res.Outcome.RestartErr != nil {
		fmt.Fprintf(w, "warning: %v\n", res.Outcome.RestartErr)
	}
}

func newBackupCmd(o *options) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a zip of clients.db and inbounds.db",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				outPath = fmt.Sprintf("xray-backup-%s.zip", time.Now().Format("20060102-150405"))
			}
			var buf bytes.Buffer
			if err := o.app.Controller.Backup(cmd.Context(), &buf); err != nil {
				return err
			}
			if err := fsutil.WriteAtomic(outPath, buf.Bytes(), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "archive path (default: xray-backup-<time>.zip)")
	return cmd
}

func newRestoreCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [archive.zip]",
		Short: "Restore clients.db and inbounds.db from a backup and rebuild the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := o.app.Controller.Restore(cmd.Context(), data)
			if err != nil {
				return err
			}
			printSync(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newSyncCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the xray config from clients.db",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.app.Controller.Sync(cmd.Context())
			if err != nil {
				return err
			}
			printSync(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show host and proxy status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := o.app.Controller.Status(cmd.Context(), o.app.Metrics)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			proxy := "stopped"
			if snap.ProxyActive {
				proxy = "running"
			}
			fmt.Fprintf(out, "Host:    %s\n", snap.Hostname)
			if snap.CPUPercent != nil {
				fmt.Fprintf(out, "CPU:     %.1f%%\n", *snap.CPUPercent)
			}
			if snap.MemoryPercent != nil {
				fmt.Fprintf(out, "Memory:  %.1f%%\n", *snap.MemoryPercent)
			}
			fmt.Fprintf(out, "Xray:    %s\n", proxy)
			fmt.Fprintf(out, "Users:   %d (%d online)\n", snap.Users, snap.Online)
			fmt.Fprintf(out, "Traffic: %s\n", usage.FormatBytes(snap.TotalBytes))
			return nil
		},
	}
}

func newRestartCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart xray",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.app.Controller.Restart(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "xray restarted")
			return nil
		},
	}
}

func newServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled jobs, web panel and Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.New(o.app).Run(cmd.Context())
		},
	}
}

func newInstallCmd(o *options) *cobra.Command {
	var (
		binary string
		domain string
	)
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write a default config if missing and install the systemd service",
		Args:  cobra.NoArgs,
		// The config may not exist yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if binary == "" {
				exe, err := os.Executable()
				if err != nil {
					return err
				}
				binary = exe
			}
			return setup.Install(cmd.Context(), setup.Options{
				ConfigPath: o.cfgPath,
				BinaryPath: binary,
				Domain:     domain,
				Logger:     logger.NewWriter(cmd.ErrOrStderr(), "info", "text"),
			})
		},
	}
	cmd.Flags().StringVar(&binary, "binary", "", "path of the xray-panel binary (default: this executable)")
	cmd.Flags().StringVar(&domain, "domain", "", "server domain for share links")
	return cmd
}
