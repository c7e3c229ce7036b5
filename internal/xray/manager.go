package xray

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/fsutil"
	"github.com/najahiiii/xray-panel/internal/model"

	"log/slog"
)

// ServiceManager is the OS service the proxy runs under.
type ServiceManager interface {
	Restart(ctx context.Context) error
	IsActive(ctx context.Context) bool
}

// Outcome describes what an Update did to the live proxy.
// RestartErr never undoes the config write.
type Outcome struct {
	Changed    bool
	Restarted  bool
	RestartErr error
}

// Manager projects registry state into the Xray config file and restarts
// the proxy when the file changes.
type Manager struct {
	cfg *config.Config
	log *slog.Logger
	svc ServiceManager
}

func NewManager(cfg *config.Config, log *slog.Logger, svc ServiceManager) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{cfg: cfg, log: log, svc: svc}
}

func (m *Manager) path() string { return m.cfg.Paths.XrayConfig }

// Load parses the current config under a shared lock.
func (m *Manager) Load(ctx context.Context) (*Document, error) {
	unlock, err := fsutil.Lock(ctx, fsutil.LockPath(m.path()), false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(m.path())
	if err != nil {
		return nil, fmt.Errorf("read xray config: %w", err)
	}
	return ParseDocument(data)
}

// Update runs mutate on the current document. When the encoded document
// differs from the one on disk it is written atomically and the proxy is
// restarted; otherwise nothing is written and nothing restarts.
func (m *Manager) Update(ctx context.Context, mutate func(*Document) error) (Outcome, error) {
	unlock, err := fsutil.Lock(ctx, fsutil.LockPath(m.path()), true)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	orig, err := os.ReadFile(m.path())
	if err != nil {
		return Outcome{}, fmt.Errorf("read xray config: %w", err)
	}
	doc, err := ParseDocument(orig)
	if err != nil {
		return Outcome{}, err
	}
	before, err := doc.Bytes()
	if err != nil {
		return Outcome{}, err
	}
	if err := mutate(doc); err != nil {
		return Outcome{}, err
	}
	after, err := doc.Bytes()
	if err != nil {
		return Outcome{}, err
	}
	if bytes.Equal(before, after) {
		m.log.Debug("xray config unchanged")
		return Outcome{}, nil
	}

	var check func(string) error
	if m.cfg.Xray.TestConfig && m.cfg.Xray.Binary != "" {
		check = m.testConfig
	}
	if err := fsutil.WriteAtomicCheck(m.path(), after, 0o644, check); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", model.ErrConfigWrite, err)
	}
	m.log.Info("xray config written", "path", m.path())

	out := Outcome{Changed: true}
	if err := m.Restart(ctx); err != nil {
		out.RestartErr = err
		return out, nil
	}
	out.Restarted = true
	return out, nil
}

// Restart restarts the proxy, retrying once, and confirms it came back.
func (m *Manager) Restart(ctx context.Context) error {
	if m.svc == nil {
		return fmt.Errorf("%w: no service manager", model.ErrRestart)
	}
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = m.svc.Restart(ctx)
		if err == nil && !m.svc.IsActive(ctx) {
			err = fmt.Errorf("service %s not active after restart", m.cfg.Xray.Service)
		}
		if err == nil {
			return nil
		}
		m.log.Warn("xray restart", "attempt", attempt, "err", err)
	}
	return fmt.Errorf("%w: %w", model.ErrRestart, err)
}

func (m *Manager) IsActive(ctx context.Context) bool {
	if m.svc == nil {
		return false
	}
	return m.svc.IsActive(ctx)
}

func (m *Manager) testConfig(path string) error {
	cmd := exec.Command(m.cfg.Xray.Binary, "-test", "-config", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		m.log.Error("xray -test failed", "out", string(out), "err", err)
		return err
	}
	return nil
}
