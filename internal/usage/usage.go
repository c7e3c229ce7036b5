// Package usage derives quota, expiry and presence figures for clients.
package usage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/link"
	"github.com/najahiiii/xray-panel/internal/model"

	"log/slog"
)

// TrafficSource reports live per-user counters since the last reset.
type TrafficSource interface {
	UserBytes(ctx context.Context, username string) (int64, error)
	QueryUserBytes(ctx context.Context, names []string) (map[string]model.UserUsage, error)
}

type Tracker struct {
	traffic TrafficSource
	logPath string
	tail    int
	window  time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewTracker builds a tracker. traffic may be nil, in which case live usage
// is always zero.
func NewTracker(cfg *config.Config, traffic TrafficSource, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		traffic: traffic,
		logPath: cfg.Paths.AccessLog,
		tail:    cfg.Online.TailLines,
		window:  time.Duration(cfg.Online.WindowSec) * time.Second,
		log:     log,
		now:     time.Now,
	}
}

// TotalUsage is the persisted counter plus whatever the proxy has counted
// since. Live lookup failures count as zero.
func (t *Tracker) TotalUsage(ctx context.Context, r model.ClientRecord) int64 {
	if t.traffic == nil {
		return r.UsedBytes
	}
	live, err := t.traffic.UserBytes(ctx, r.Username)
	if err != nil {
		t.log.Debug("live traffic unavailable", "user", r.Username, "err", err)
		return r.UsedBytes
	}
	return r.UsedBytes + live
}

// Percent is total over the quota in percent, rounded to two decimals.
// A zero quota means unlimited and reports 0.
func Percent(total int64, quotaGB float64) float64 {
	if quotaGB <= 0 {
		return 0
	}
	p := float64(total) / (quotaGB * model.BytesPerGB) * 100
	return math.Round(p*100) / 100
}

// DaysLeft rounds the remaining time up to whole days; -1 once expired.
func DaysLeft(expiry, now time.Time) int {
	secs := expiry.Sub(now).Seconds()
	if secs <= 0 {
		return -1
	}
	return int(math.Ceil(secs / 86400))
}

// Enrich builds the display rows for records. Live counters are fetched in
// one batch; the access log is scanned once.
func (t *Tracker) Enrich(ctx context.Context, records []model.ClientRecord, domain string) []model.ClientStatus {
	live := map[string]model.UserUsage{}
	if t.traffic != nil && len(records) > 0 {
		names := make([]string, 0, len(records))
		for _, r := range records {
			names = append(names, r.Username)
		}
		res, err := t.traffic.QueryUserBytes(ctx, names)
		if err != nil {
			t.log.Debug("live traffic unavailable", "err", err)
		} else {
			live = res
		}
	}
	online := t.ProbableOnline(ctx)
	now := t.now()

	out := make([]model.ClientStatus, 0, len(records))
	for _, r := range records {
		total := r.UsedBytes + live[r.Username].Total()
		out = append(out, model.ClientStatus{
			ClientRecord: r,
			TotalBytes:   total,
			Percent:      Percent(total, r.QuotaGB),
			DaysLeft:     DaysLeft(r.Expiry, now),
			IsExpired:    !r.Expiry.After(now),
			Online:       online[r.Username],
			Link:         link.ForRecord(r, domain),
		})
	}
	return out
}

// FormatBytes renders size with binary units, e.g. "1.50 GB".
func FormatBytes(size int64) string {
	labels := []string{"", "K", "M", "G", "T"}
	v := float64(size)
	n := 0
	for v > 1024 && n < len(labels)-1 {
		v /= 1024
		n++
	}
	return fmt.Sprintf("%.2f %sB", v, labels[n])
}
