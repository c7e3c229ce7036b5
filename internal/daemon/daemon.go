// Package daemon runs the long-lived panel: scheduled jobs, host sampling,
// and the optional web and Telegram front ends.
package daemon

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/najahiiii/xray-panel/internal/app"
	"github.com/najahiiii/xray-panel/internal/bot"
	"github.com/najahiiii/xray-panel/internal/jobs"
	"github.com/najahiiii/xray-panel/internal/state"
	"github.com/najahiiii/xray-panel/internal/web"
)

const defaultMetricsInterval = 30 * time.Second

type Daemon struct {
	app  *app.App
	log  *slog.Logger
	host *HostCache

	metricsInterval time.Duration
	reconcile       *jobs.ReconcileJob
}

func New(a *app.App) *Daemon {
	log := a.Log.With("component", "daemon")
	return &Daemon{
		app:             a,
		log:             log,
		host:            NewHostCache(a.Metrics),
		metricsInterval: defaultMetricsInterval,
		reconcile:       jobs.NewReconcileJob(a.Controller, a.Store, state.New(), log),
	}
}

// Host is the cached host sampler shared by the front ends.
func (d *Daemon) Host() *HostCache { return d.host }

// Run blocks until ctx is cancelled or a front end fails.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Bring the config in line with the registry before serving.
	d.reconcile.Run()

	c := cron.New(cron.WithLogger(jobs.NewCronLogger(d.log)))
	schedules := jobs.Schedules(d.app.Cfg,
		jobs.NewExpiryJob(d.app.Controller, d.log),
		jobs.NewQuotaJob(d.app.Controller, d.app.Stats, d.log),
		d.reconcile,
	)
	if err := jobs.Register(c, d.log, schedules); err != nil {
		return err
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	go d.runMetricsLoop(ctx)

	errc := make(chan error, 2)
	running := 0
	if d.app.Cfg.Web.Enabled {
		srv := web.New(d.app.Cfg, d.app.Log, d.app.Controller, d.host)
		running++
		go func() { errc <- srv.Run(ctx) }()
	}
	if d.app.Cfg.Bot.Token != "" {
		b, err := bot.New(d.app.Cfg, d.app.Log, d.app.Controller, d.host)
		if err != nil {
			return err
		}
		running++
		go func() { errc <- b.Run(ctx) }()
	}

	d.log.Info("panel daemon started", "web", d.app.Cfg.Web.Enabled, "bot", d.app.Cfg.Bot.Token != "")

	var firstErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		running--
		if err != nil && !errors.Is(err, context.Canceled) {
			firstErr = err
		}
		cancel()
	}
	for ; running > 0; running-- {
		<-errc
	}
	d.log.Info("panel daemon stopped")
	return firstErr
}

func (d *Daemon) runMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(d.metricsInterval)
	defer ticker.Stop()

	for {
		snap := d.host.Refresh(ctx)
		d.log.Debug("host sample",
			"cpu", snap.CPUPercent,
			"mem", snap.MemoryPercent,
			"up_mbps", snap.BandwidthUpMbps,
			"down_mbps", snap.BandwidthDownMbps,
		)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
