package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/najahiiii/xray-panel/internal/backup"
	"github.com/najahiiii/xray-panel/internal/model"
	"github.com/najahiiii/xray-panel/internal/xray"
)

// SyncResult reports a whole-registry projection.
type SyncResult struct {
	Clients  int
	Enabled  []string
	Outcome  xray.Outcome
	Warnings []string
}

// Sync rebuilds every inbound client list from the registry.
func (c *Controller) Sync(ctx context.Context) (SyncResult, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	defer unlock()
	return c.rebuild(ctx)
}

func (c *Controller) rebuild(ctx context.Context) (SyncResult, error) {
	records, err := c.store.ReadAll(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	var missing []string
	out, err := c.sync.Update(ctx, func(d *xray.Document) error {
		known := map[string]bool{}
		for _, tag := range d.InboundTags() {
			known[tag] = true
		}
		for _, r := range records {
			if r.Enabled() && !known[r.InboundTag()] {
				missing = append(missing, r.Username)
			}
		}
		d.FullRebuild(records)
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Clients: len(records), Outcome: out}
	for _, r := range records {
		if r.Enabled() {
			res.Enabled = append(res.Enabled, r.Username)
		}
	}
	if len(missing) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("no inbound for %d client(s): %v", len(missing), missing))
	}
	if out.RestartErr != nil {
		res.Warnings = append(res.Warnings, out.RestartErr.Error())
	}
	c.log.Info("registry synced", "clients", res.Clients, "enabled", len(res.Enabled), "changed", out.Changed)
	return res, nil
}

// Restore replaces clients.db (and inbounds.db when present) from a backup
// archive, then rebuilds the config. The archive is fully validated before
// anything is written.
func (c *Controller) Restore(ctx context.Context, archive []byte) (SyncResult, error) {
	a, err := backup.Read(archive)
	if err != nil {
		return SyncResult{}, err
	}

	unlock, err := c.lock(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	defer unlock()

	if err := c.store.Replace(ctx, a.Clients); err != nil {
		return SyncResult{}, fmt.Errorf("restore %s: %w", backup.ClientsName, err)
	}
	if a.Inbounds != nil {
		if err := c.inbounds.Replace(ctx, a.Inbounds); err != nil {
			return SyncResult{}, fmt.Errorf("restore %s: %w", backup.InboundsName, err)
		}
	}
	c.log.Info("backup restored", "inbounds", a.Inbounds != nil)
	return c.rebuild(ctx)
}

// Backup writes the registry archive to w.
func (c *Controller) Backup(ctx context.Context, w io.Writer) error {
	var clients, inbounds bytes.Buffer
	if err := c.store.Export(ctx, &clients); err != nil {
		return fmt.Errorf("export %s: %w", backup.ClientsName, err)
	}
	a := backup.Archive{Clients: clients.Bytes()}
	ok, err := c.inbounds.Export(&inbounds)
	if err != nil {
		return fmt.Errorf("export %s: %w", backup.InboundsName, err)
	}
	if ok {
		a.Inbounds = append([]byte{}, inbounds.Bytes()...)
	}
	if a.Clients == nil {
		a.Clients = []byte{}
	}
	return backup.Write(w, a)
}

// ExpireDue marks every active client past its expiry as expired and
// removes it from the config.
func (c *Controller) ExpireDue(ctx context.Context) ([]string, xray.Outcome, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return nil, xray.Outcome{}, err
	}
	defer unlock()

	now := c.now()
	changed, err := c.store.UpdateAll(ctx, func(r *model.ClientRecord) bool {
		if r.Status != model.StatusActive || r.Expiry.After(now) {
			return false
		}
		r.Status = model.StatusExpired
		return true
	})
	if err != nil {
		return nil, xray.Outcome{}, err
	}
	return c.dropFromConfig(ctx, changed)
}

// UsageDrainer reads and resets the live per-user counters.
type UsageDrainer interface {
	Drain(ctx context.Context) (map[string]model.UserUsage, error)
}

// AccrueUsage drains the live counters into the persisted usage and
// disables every client that reached its quota. Counters are only reset
// once the operation lock is held; usage drained but not written is kept
// and added on the next call.
func (c *Controller) AccrueUsage(ctx context.Context, traffic UsageDrainer) ([]string, xray.Outcome, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return nil, xray.Outcome{}, err
	}
	defer unlock()

	drained, err := traffic.Drain(ctx)
	if err != nil {
		c.log.Debug("live traffic unavailable", "err", err)
	}
	totals := c.takePending(drained)

	var over []model.ClientRecord
	_, err = c.store.UpdateAll(ctx, func(r *model.ClientRecord) bool {
		add := totals[r.Username].Total()
		if add > 0 {
			r.UsedBytes += add
		}
		if r.Status == model.StatusActive && r.QuotaBytes() > 0 && r.UsedBytes >= r.QuotaBytes() {
			r.Status = model.StatusDisabled
			over = append(over, *r)
			return true
		}
		return add > 0
	})
	if err != nil {
		c.keepPending(totals)
		return nil, xray.Outcome{}, err
	}
	return c.dropFromConfig(ctx, over)
}

// takePending merges drained into the usage left over from a failed write.
func (c *Controller) takePending(drained map[string]model.UserUsage) map[string]model.UserUsage {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	out := c.pending
	c.pending = nil
	if out == nil {
		out = make(map[string]model.UserUsage, len(drained))
	}
	for name, u := range drained {
		p := out[name]
		p.Username = name
		p.Uplink += u.Uplink
		p.Downlink += u.Downlink
		out[name] = p
	}
	return out
}

func (c *Controller) keepPending(usage map[string]model.UserUsage) {
	if len(usage) == 0 {
		return
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = usage
	c.log.Warn("usage kept in memory until the registry can be written", "users", len(usage))
}

func (c *Controller) dropFromConfig(ctx context.Context, records []model.ClientRecord) ([]string, xray.Outcome, error) {
	if len(records) == 0 {
		return nil, xray.Outcome{}, nil
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Username)
	}
	out, err := c.sync.Update(ctx, func(d *xray.Document) error {
		for _, n := range names {
			d.ApplyDelete(n)
		}
		return nil
	})
	if err != nil {
		return names, out, err
	}
	c.log.Info("clients removed from config", "users", names, "changed", out.Changed)
	return names, out, nil
}
