package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/najahiiii/xray-panel/internal/lifecycle"
	"github.com/najahiiii/xray-panel/internal/link"
	"github.com/najahiiii/xray-panel/internal/model"
	"github.com/najahiiii/xray-panel/internal/usage"
)

// Panel is the set of client operations the bot exposes.
type Panel interface {
	List(ctx context.Context) ([]model.ClientStatus, error)
	Create(ctx context.Context, req lifecycle.CreateRequest) (lifecycle.Result, error)
	Edit(ctx context.Context, req lifecycle.EditRequest) (lifecycle.Result, error)
	Delete(ctx context.Context, username string) (lifecycle.Result, error)
	SetStatus(ctx context.Context, username string, status model.Status) (lifecycle.Result, error)
	Link(ctx context.Context, username string) (string, error)
	Restart(ctx context.Context) error
	Sync(ctx context.Context) (lifecycle.SyncResult, error)
	Status(ctx context.Context, host lifecycle.HostSampler) (model.SystemSnapshot, error)
}

// Reply is what the bot sends back for one command. Photo, when set, is a
// PNG sent with Text as caption.
type Reply struct {
	Text  string
	Photo []byte
}

const helpText = `Commands:
/status - server and proxy status
/list - all clients
/add <user> <quota_gb> <days> [protocol-transport] [credential]
/del <user>
/renew <user> <days>
/quota <user> <quota_gb>
/link <user> - share link and QR
/disable <user>, /enable <user>
/sync - rebuild xray config from the registry
/restart - restart xray`

// Dispatcher turns command text into panel calls.
type Dispatcher struct {
	panel Panel
	host  lifecycle.HostSampler
}

func NewDispatcher(panel Panel, host lifecycle.HostSampler) *Dispatcher {
	return &Dispatcher{panel: panel, host: host}
}

// parseCommand splits "/cmd@botname a b" into "cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), fields[1:]
}

func (d *Dispatcher) Handle(ctx context.Context, text string) Reply {
	cmd, args := parseCommand(text)
	switch cmd {
	case "start", "help":
		return Reply{Text: helpText}
	case "status":
		return d.status(ctx)
	case "list":
		return d.list(ctx)
	case "add":
		return d.add(ctx, args)
	case "del", "delete":
		return d.withUser(args, 1, "/del <user>", func(u string) Reply { return d.del(ctx, u) })
	case "renew":
		return d.renew(ctx, args)
	case "quota":
		return d.quota(ctx, args)
	case "link":
		return d.withUser(args, 1, "/link <user>", func(u string) Reply { return d.link(ctx, u) })
	case "disable":
		return d.withUser(args, 1, "/disable <user>", func(u string) Reply { return d.setStatus(ctx, u, model.StatusDisabled) })
	case "enable":
		return d.withUser(args, 1, "/enable <user>", func(u string) Reply { return d.setStatus(ctx, u, model.StatusActive) })
	case "sync":
		return d.sync(ctx)
	case "restart":
		if err := d.panel.Restart(ctx); err != nil {
			return errorReply(err)
		}
		return Reply{Text: "Xray restarted."}
	default:
		return Reply{Text: "Unknown command. Send /help."}
	}
}

func (d *Dispatcher) withUser(args []string, n int, hint string, fn func(string) Reply) Reply {
	if len(args) < n {
		return Reply{Text: "Usage: " + hint}
	}
	return fn(args[0])
}

func errorReply(err error) Reply {
	switch {
	case errors.Is(err, model.ErrDuplicateUsername):
		return Reply{Text: "Username already exists."}
	case errors.Is(err, model.ErrNotFound):
		return Reply{Text: "Client not found."}
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrUnsupported):
		return Reply{Text: "Invalid input: " + err.Error()}
	case errors.Is(err, model.ErrConfigWrite):
		return Reply{Text: "Could not write xray config, nothing changed: " + err.Error()}
	case errors.Is(err, model.ErrRestart):
		return Reply{Text: "Xray did not come back after restart: " + err.Error()}
	default:
		return Reply{Text: "Error: " + err.Error()}
	}
}

func withWarnings(text string, warnings []string) string {
	for _, w := range warnings {
		text += "\nWarning: " + w
	}
	return text
}

func (d *Dispatcher) status(ctx context.Context) Reply {
	snap, err := d.panel.Status(ctx, d.host)
	if err != nil {
		return errorReply(err)
	}
	proxy := "stopped"
	if snap.ProxyActive {
		proxy = "running"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s\n", snap.Hostname)
	if snap.CPUPercent != nil {
		fmt.Fprintf(&b, "CPU: %.1f%%\n", *snap.CPUPercent)
	}
	if snap.MemoryPercent != nil {
		fmt.Fprintf(&b, "RAM: %.1f%%\n", *snap.MemoryPercent)
	}
	if snap.UptimeSec > 0 {
		fmt.Fprintf(&b, "Uptime: %dh%02dm\n", snap.UptimeSec/3600, snap.UptimeSec%3600/60)
	}
	fmt.Fprintf(&b, "Xray: %s\n", proxy)
	fmt.Fprintf(&b, "Users: %d (online %d)\n", snap.Users, snap.Online)
	fmt.Fprintf(&b, "Total usage: %s", usage.FormatBytes(snap.TotalBytes))
	return Reply{Text: b.String()}
}

func (d *Dispatcher) list(ctx context.Context) Reply {
	rows, err := d.panel.List(ctx)
	if err != nil {
		return errorReply(err)
	}
	if len(rows) == 0 {
		return Reply{Text: "No clients."}
	}
	var b strings.Builder
	for _, r := range rows {
		state := string(r.Status)
		if r.Online {
			state += ", online"
		}
		quota := "unlimited"
		if r.QuotaGB > 0 {
			quota = fmt.Sprintf("%g GB (%.2f%%)", r.QuotaGB, r.Percent)
		}
		fmt.Fprintf(&b, "%s [%s] %s\n  used %s of %s, %d days left\n",
			r.Username, r.Tag(), state, usage.FormatBytes(r.TotalBytes), quota, r.DaysLeft)
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n")}
}

func (d *Dispatcher) add(ctx context.Context, args []string) Reply {
	if len(args) < 3 {
		return Reply{Text: "Usage: /add <user> <quota_gb> <days> [protocol-transport] [credential]"}
	}
	quota, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return Reply{Text: "Quota must be a number of GB."}
	}
	days, err := strconv.Atoi(args[2])
	if err != nil {
		return Reply{Text: "Days must be a whole number."}
	}
	req := lifecycle.CreateRequest{Username: args[0], QuotaGB: quota, Days: days}
	if len(args) > 3 {
		req.Protocol, req.Transport, _ = model.ParseTag(args[3])
	}
	if len(args) > 4 {
		req.Credential = args[4]
	}

	res, err := d.panel.Create(ctx, req)
	if err != nil {
		return errorReply(err)
	}
	text := fmt.Sprintf("Created %s (%s)\nExpires: %s\nQuota: %g GB\n\n%s",
		res.Record.Username, res.Record.Tag(), res.Record.Expiry.Format(model.ExpiryLayout), res.Record.QuotaGB, res.Link)
	reply := Reply{Text: withWarnings(text, res.Warnings)}
	if png, err := link.QRCode(res.Link, link.DefaultQRSize); err == nil {
		reply.Photo = png
	}
	return reply
}

func (d *Dispatcher) del(ctx context.Context, username string) Reply {
	res, err := d.panel.Delete(ctx, username)
	if err != nil {
		return errorReply(err)
	}
	return Reply{Text: withWarnings("Deleted "+username+".", res.Warnings)}
}

func (d *Dispatcher) renew(ctx context.Context, args []string) Reply {
	if len(args) < 2 {
		return Reply{Text: "Usage: /renew <user> <days>"}
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days <= 0 {
		return Reply{Text: "Days must be a positive whole number."}
	}
	res, err := d.panel.Edit(ctx, lifecycle.EditRequest{Username: args[0], AddDays: days})
	if err != nil {
		return errorReply(err)
	}
	text := fmt.Sprintf("Renewed %s until %s (%s).", res.Record.Username, res.Record.Expiry.Format(model.ExpiryLayout), res.Record.Status)
	return Reply{Text: withWarnings(text, res.Warnings)}
}

func (d *Dispatcher) quota(ctx context.Context, args []string) Reply {
	if len(args) < 2 {
		return Reply{Text: "Usage: /quota <user> <quota_gb>"}
	}
	q, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return Reply{Text: "Quota must be a number of GB."}
	}
	res, err := d.panel.Edit(ctx, lifecycle.EditRequest{Username: args[0], QuotaGB: &q})
	if err != nil {
		return errorReply(err)
	}
	return Reply{Text: withWarnings(fmt.Sprintf("Quota of %s set to %g GB.", res.Record.Username, res.Record.QuotaGB), res.Warnings)}
}

func (d *Dispatcher) link(ctx context.Context, username string) Reply {
	uri, err := d.panel.Link(ctx, username)
	if err != nil {
		return errorReply(err)
	}
	if uri == link.Invalid {
		return Reply{Text: "No share link for this protocol."}
	}
	reply := Reply{Text: uri}
	if png, err := link.QRCode(uri, link.DefaultQRSize); err == nil {
		reply.Photo = png
	}
	return reply
}

func (d *Dispatcher) setStatus(ctx context.Context, username string, st model.Status) Reply {
	res, err := d.panel.SetStatus(ctx, username, st)
	if err != nil {
		return errorReply(err)
	}
	return Reply{Text: withWarnings(fmt.Sprintf("%s is now %s.", username, res.Record.Status), res.Warnings)}
}

func (d *Dispatcher) sync(ctx context.Context) Reply {
	res, err := d.panel.Sync(ctx)
	if err != nil {
		return errorReply(err)
	}
	text := fmt.Sprintf("Synced %d clients (%d enabled).", res.Clients, len(res.Enabled))
	if !res.Outcome.Changed {
		text += " Config already up to date."
	}
	return Reply{Text: withWarnings(text, res.Warnings)}
}
