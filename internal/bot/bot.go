package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/lifecycle"
)

// commandTimeout bounds a single command including the xray restart.
const commandTimeout = 90 * time.Second

// captionLimit is Telegram's photo caption length.
const captionLimit = 1024

// Bot serves the admin command set over Telegram long polling.
type Bot struct {
	token  string
	admins []int64
	log    *slog.Logger
	disp   *Dispatcher
}

func New(cfg *config.Config, log *slog.Logger, panel Panel, host lifecycle.HostSampler) (*Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, errors.New("bot token is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		token:  cfg.Bot.Token,
		admins: cfg.Bot.AdminIDs,
		log:    log.With("component", "bot"),
		disp:   NewDispatcher(panel, host),
	}, nil
}

// Authorized reports whether the Telegram user may run commands.
func (b *Bot) Authorized(userID int64) bool {
	return slices.Contains(b.admins, userID)
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	api, err := telego.NewBot(b.token)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	updates, err := api.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	bh, err := th.NewBotHandler(api, updates)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	bh.HandleMessage(b.onCommand, th.AnyCommand())

	b.log.Info("telegram bot started", "admins", len(b.admins))
	// Start returns once ctx cancellation closes the updates channel.
	return bh.Start()
}

func (b *Bot) onCommand(ctx *th.Context, msg telego.Message) error {
	if msg.From == nil || !b.Authorized(msg.From.ID) {
		_, err := ctx.Bot().SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), "Not authorized."))
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	b.log.Info("command", "user", msg.From.ID, "text", msg.Text)
	reply := b.disp.Handle(cmdCtx, msg.Text)

	chat := tu.ID(msg.Chat.ID)
	if len(reply.Photo) > 0 && len(reply.Text) <= captionLimit {
		photo := tu.Photo(chat, tu.File(tu.NameReader(bytes.NewReader(reply.Photo), "qrcode.png"))).
			WithCaption(reply.Text)
		if _, err := ctx.Bot().SendPhoto(ctx, photo); err != nil {
			b.log.Warn("send photo failed", "err", err)
			return err
		}
		return nil
	}
	if _, err := ctx.Bot().SendMessage(ctx, tu.Message(chat, reply.Text)); err != nil {
		b.log.Warn("send message failed", "err", err)
		return err
	}
	return nil
}
