package lifecycle

import (
	"context"

	"github.com/najahiiii/xray-panel/internal/model"
)

// HostSampler provides the host half of the dashboard snapshot.
type HostSampler interface {
	Sample(ctx context.Context) model.SystemSnapshot
}

// Status builds the dashboard snapshot. host may be nil.
func (c *Controller) Status(ctx context.Context, host HostSampler) (model.SystemSnapshot, error) {
	rows, err := c.List(ctx)
	if err != nil {
		return model.SystemSnapshot{}, err
	}
	var snap model.SystemSnapshot
	if host != nil {
		snap = host.Sample(ctx)
	}
	if snap.ServerTime.IsZero() {
		snap.ServerTime = c.now().UTC()
	}
	snap.ProxyActive = c.sync.IsActive(ctx)
	snap.Users = len(rows)
	for _, r := range rows {
		if r.Online {
			snap.Online++
		}
		snap.TotalBytes += r.TotalBytes
	}
	return snap, nil
}
