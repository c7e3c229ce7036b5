// Package app wires the panel components from a loaded config.
package app

import (
	"log/slog"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/lifecycle"
	"github.com/najahiiii/xray-panel/internal/metrics"
	"github.com/najahiiii/xray-panel/internal/registry"
	"github.com/najahiiii/xray-panel/internal/stats"
	"github.com/najahiiii/xray-panel/internal/usage"
	"github.com/najahiiii/xray-panel/internal/xray"
)

type App struct {
	Cfg        *config.Config
	Log        *slog.Logger
	Store      *registry.Store
	Inbounds   *registry.InboundFile
	Xray       *xray.Manager
	Stats      *stats.Collector
	Tracker    *usage.Tracker
	Metrics    *metrics.Collector
	Controller *lifecycle.Controller
}

func New(cfg *config.Config, log *slog.Logger) *App {
	svc := &xray.Systemd{Service: cfg.Xray.Service, ReloadCmd: cfg.Xray.ReloadCmd, Log: log}
	return NewWithService(cfg, log, svc)
}

// NewWithService is New with a custom proxy service manager.
func NewWithService(cfg *config.Config, log *slog.Logger, svc xray.ServiceManager) *App {
	a := &App{
		Cfg:      cfg,
		Log:      log,
		Store:    registry.New(cfg.Paths.ClientsDB, log),
		Inbounds: registry.NewInboundFile(cfg.Paths.InboundsDB),
		Xray:     xray.NewManager(cfg, log, svc),
		Stats:    stats.New(cfg, log),
		Metrics:  metrics.New(log),
	}
	a.Tracker = usage.NewTracker(cfg, a.Stats, log)
	a.Controller = lifecycle.New(cfg, a.Store, a.Inbounds, a.Xray, a.Tracker, log)
	return a
}
