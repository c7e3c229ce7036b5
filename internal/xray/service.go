package xray

import (
	"context"
	"fmt"
	"os/exec"

	"log/slog"
)

// Systemd restarts the proxy through systemctl, or through a custom
// command when one is configured.
type Systemd struct {
	Service   string
	ReloadCmd string
	Log       *slog.Logger
}

func (s *Systemd) Restart(ctx context.Context) error {
	if s.ReloadCmd != "" {
		cmd := exec.CommandContext(ctx, "bash", "-lc", s.ReloadCmd)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("reload cmd failed: %v, out=%s", err, string(out))
		}
		return nil
	}

	if out, err := exec.CommandContext(ctx, "systemctl", "restart", s.Service).CombinedOutput(); err != nil {
		return fmt.Errorf("restart failed: %v, out=%s", err, string(out))
	}
	return nil
}

func (s *Systemd) IsActive(ctx context.Context) bool {
	err := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", s.Service).Run()
	if err != nil && s.Log != nil {
		s.Log.Debug("xray inactive", "service", s.Service, "err", err)
	}
	return err == nil
}
