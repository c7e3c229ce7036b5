// Package cli is the xray-panel command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/najahiiii/xray-panel/internal/app"
	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/logger"
)

type options struct {
	cfgPath string

	// newApp builds the components once the config is loaded.
	newApp func(cfg *config.Config, log *slog.Logger) *app.App
	app    *app.App
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{newApp: app.New})
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "xray-panel",
		Short:         "Xray client panel",
		Long:          `Manage Xray proxy clients: accounts, share links, quotas, expiry, backups, and the web and Telegram front ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.NewWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			o.app = o.newApp(cfg, log)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&o.cfgPath, "config", config.DefaultPath, "path to config.yaml")

	root.AddCommand(
		newClientCmd(o),
		newBackupCmd(o),
		newRestoreCmd(o),
		newSyncCmd(o),
		newStatusCmd(o),
		newRestartCmd(o),
		newServeCmd(o),
		newInstallCmd(o),
	)
	return root
}

// Execute runs the command line until it finishes or SIGINT/SIGTERM.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return NewRootCmd().ExecuteContext(ctx)
}
