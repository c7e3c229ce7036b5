// Package jobs holds the scheduled enforcement tasks run by the daemon.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/lifecycle"
	"github.com/najahiiii/xray-panel/internal/model"
	"github.com/najahiiii/xray-panel/internal/state"
	"github.com/najahiiii/xray-panel/internal/xray"

	"github.com/robfig/cron/v3"
)

const runTimeout = 2 * time.Minute

// Disabled turns a job off when used as its schedule.
const Disabled = "off"

// Enforcer is the slice of lifecycle.Controller the jobs drive.
type Enforcer interface {
	ExpireDue(ctx context.Context) ([]string, xray.Outcome, error)
	AccrueUsage(ctx context.Context, traffic lifecycle.UsageDrainer) ([]string, xray.Outcome, error)
	Sync(ctx context.Context) (lifecycle.SyncResult, error)
}

// Drainer reads and resets live traffic counters.
type Drainer interface {
	Drain(ctx context.Context) (map[string]model.UserUsage, error)
}

// Registry is the read side of registry.Store.
type Registry interface {
	ReadAll(ctx context.Context) ([]model.ClientRecord, error)
	ModTime() time.Time
}

// ExpiryJob expires clients past their expiry date.
type ExpiryJob struct {
	ctl Enforcer
	log *slog.Logger
}

func NewExpiryJob(ctl Enforcer, log *slog.Logger) *ExpiryJob {
	return &ExpiryJob{ctl: ctl, log: log}
}

func (j *ExpiryJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	names, out, err := j.ctl.ExpireDue(ctx)
	if err != nil {
		j.log.Error("expiry job", "err", err)
		return
	}
	if len(names) > 0 {
		j.log.Info("clients expired", "users", names, "restarted", out.Restarted)
	}
	if out.RestartErr != nil {
		j.log.Warn("expiry job restart", "err", out.RestartErr)
	}
}

// QuotaJob moves live counters into the registry and disables clients
// that used up their quota.
type QuotaJob struct {
	ctl     Enforcer
	traffic Drainer
	log     *slog.Logger
}

func NewQuotaJob(ctl Enforcer, traffic Drainer, log *slog.Logger) *QuotaJob {
	return &QuotaJob{ctl: ctl, traffic: traffic, log: log}
}

func (j *QuotaJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	names, out, err := j.ctl.AccrueUsage(ctx, j.traffic)
	if err != nil {
		j.log.Error("quota job", "err", err)
		return
	}
	if len(names) > 0 {
		j.log.Info("clients over quota disabled", "users", names, "restarted", out.Restarted)
	}
	if out.RestartErr != nil {
		j.log.Warn("quota job restart", "err", out.RestartErr)
	}
}

// ReconcileJob rebuilds the config when the registry's enabled set differs
// from what was last projected, e.g. after a hand edit of clients.db.
type ReconcileJob struct {
	ctl   Enforcer
	reg   Registry
	state *state.Store
	log   *slog.Logger
}

func NewReconcileJob(ctl Enforcer, reg Registry, st *state.Store, log *slog.Logger) *ReconcileJob {
	return &ReconcileJob{ctl: ctl, reg: reg, state: st, log: log}
}

func (j *ReconcileJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	version := j.reg.ModTime().UnixNano()
	records, err := j.reg.ReadAll(ctx)
	if err != nil {
		j.log.Error("reconcile job: read registry", "err", err)
		return
	}
	if j.state.IsUnchanged(version, records) {
		return
	}
	// Usage accrual rewrites the file without touching the enabled set.
	if j.state.Version() != 0 && j.state.SameClients(records) {
		j.state.Update(version, records)
		return
	}

	res, err := j.ctl.Sync(ctx)
	if err != nil {
		j.log.Error("reconcile job", "err", err)
		return
	}
	j.state.Update(version, records)
	if res.Outcome.Changed {
		j.log.Info("config reconciled", "enabled", j.state.Usernames(), "restarted", res.Outcome.Restarted)
	}
	for _, w := range res.Warnings {
		j.log.Warn("reconcile job", "warning", w)
	}
}

// Schedule is one named job and its cron spec.
type Schedule struct {
	Name string
	Spec string
	Job  cron.Job
}

// Schedules pairs the configured specs with their jobs.
func Schedules(cfg *config.Config, expiry *ExpiryJob, quota *QuotaJob, reconcile *ReconcileJob) []Schedule {
	return []Schedule{
		{Name: "expiry", Spec: cfg.Jobs.Expiry, Job: expiry},
		{Name: "quota", Spec: cfg.Jobs.Quota, Job: quota},
		{Name: "reconcile", Spec: cfg.Jobs.Reconcile, Job: reconcile},
	}
}

// Register adds every enabled schedule to c. Overlapping runs of the same
// job are skipped.
func Register(c *cron.Cron, log *slog.Logger, schedules []Schedule) error {
	wrap := cron.NewChain(cron.SkipIfStillRunning(NewCronLogger(log)))
	for _, s := range schedules {
		if s.Spec == "" || s.Spec == Disabled {
			log.Info("job disabled", "job", s.Name)
			continue
		}
		if _, err := c.AddJob(s.Spec, wrap.Then(s.Job)); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", s.Name, s.Spec, err)
		}
		log.Info("job scheduled", "job", s.Name, "spec", s.Spec)
	}
	return nil
}
