// Package setup installs the panel as a systemd service.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/fsutil"
)

const (
	ServiceName        = "xray-panel"
	defaultServicePath = "/usr/lib/systemd/system/xray-panel.service"
	defaultBinaryPath  = "/usr/local/bin/xray-panel"
)

const serviceUnit = `[Unit]
Description=Xray client panel
After=network-online.target xray.service
Wants=network-online.target

[Service]
Type=simple
ExecStart={{BINARY}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

type Options struct {
	ConfigPath  string
	ServicePath string
	BinaryPath  string

	// Domain is written into a newly created config.
	Domain string
	Logger *slog.Logger
	Run    Runner
}

func (o *Options) withDefaults() {
	if o.ConfigPath == "" {
		o.ConfigPath = config.DefaultPath
	}
	if o.ServicePath == "" {
		o.ServicePath = defaultServicePath
	}
	if o.BinaryPath == "" {
		o.BinaryPath = defaultBinaryPath
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Run == nil {
		o.Run = runCmd
	}
}

// Unit renders the systemd unit for the given binary and config.
func Unit(binary, configPath string) string {
	r := strings.NewReplacer("{{BINARY}}", binary, "{{CONFIG}}", configPath)
	return r.Replace(serviceUnit)
}

// DefaultConfig renders a config.yaml with every default filled in.
func DefaultConfig(domain string) ([]byte, error) {
	cfg := config.Default()
	cfg.Domain = domain
	return yaml.Marshal(cfg)
}

// Install writes config (if absent) and installs/enables the systemd unit.
func Install(ctx context.Context, opts Options) error {
	opts.withDefaults()
	log := opts.Logger

	if _, err := os.Stat(opts.ConfigPath); os.IsNotExist(err) {
		data, err := DefaultConfig(opts.Domain)
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		log.Info("writing panel config", "path", opts.ConfigPath)
		if err := writeFile(opts.ConfigPath, data, 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("check config: %w", err)
	} else {
		log.Info("config already exists", "path", opts.ConfigPath)
	}

	log.Info("installing systemd unit", "path", opts.ServicePath)
	if err := writeFile(opts.ServicePath, []byte(Unit(opts.BinaryPath, opts.ConfigPath)), 0o644); err != nil {
		return fmt.Errorf("write service: %w", err)
	}

	if err := opts.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w", err)
	}
	if err := opts.Run(ctx, "systemctl", "enable", "--now", ServiceName); err != nil {
		return fmt.Errorf("systemctl enable --now %s: %w", ServiceName, err)
	}
	log.Info("panel service installed and started")
	return nil
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, data, perm)
}

func runCmd(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
