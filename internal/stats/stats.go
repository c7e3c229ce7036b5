// Package stats reads per-user traffic counters from the Xray StatsService.
package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/model"

	statscommand "github.com/xtls/xray-core/app/stats/command"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"log/slog"
)

const userPrefix = "user>>>"

type Collector struct {
	cfg *config.Config
	log *slog.Logger
}

func New(cfg *config.Config, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Collector{cfg: cfg, log: log}
}

// UserBytes is the live uplink+downlink of one user since the last reset.
func (c *Collector) UserBytes(ctx context.Context, username string) (int64, error) {
	res, err := c.query(ctx, c.userPattern(username), false)
	if err != nil {
		return 0, err
	}
	return res[username].Total(), nil
}

// QueryUserBytes fetches all user counters in one call and keeps the ones
// named. An empty names slice returns every user the proxy knows.
func (c *Collector) QueryUserBytes(ctx context.Context, names []string) (map[string]model.UserUsage, error) {
	all, err := c.query(ctx, userPrefix, false)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}
	res := make(map[string]model.UserUsage, len(names))
	for _, n := range names {
		if u, ok := all[n]; ok {
			res[n] = u
		}
	}
	return res, nil
}

// Drain reads and resets every user counter. Callers own persisting the
// returned values; they are gone from the proxy afterwards.
func (c *Collector) Drain(ctx context.Context) (map[string]model.UserUsage, error) {
	c.log.Debug("draining user counters")
	return c.query(ctx, userPrefix, true)
}

func (c *Collector) userPattern(username string) string {
	return userPrefix + username + ">>>"
}

func (c *Collector) query(ctx context.Context, pattern string, reset bool) (map[string]model.UserUsage, error) {
	timeout := time.Duration(c.cfg.Xray.APITimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultAPITimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.NewClient(c.cfg.Xray.APIServer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	conn.Connect()
	defer conn.Close()

	client := statscommand.NewStatsServiceClient(conn)
	resp, err := client.QueryStats(ctx, &statscommand.QueryStatsRequest{
		Pattern: pattern,
		Reset_:  reset,
	})
	if err != nil {
		return nil, fmt.Errorf("stats query %s: %w", pattern, err)
	}

	res := make(map[string]model.UserUsage)
	for _, stat := range resp.GetStat() {
		name, dir, ok := parseStatName(stat.GetName())
		if !ok {
			continue
		}
		u := res[name]
		u.Username = name
		switch dir {
		case "uplink":
			u.Uplink += stat.GetValue()
		case "downlink":
			u.Downlink += stat.GetValue()
		}
		res[name] = u
	}
	return res, nil
}

// parseStatName splits "user>>>NAME>>>traffic>>>uplink".
func parseStatName(s string) (string, string, bool) {
	parts := strings.Split(s, ">>>")
	if len(parts) != 4 || parts[0] != "user" || parts[2] != "traffic" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
