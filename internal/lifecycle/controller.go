// Package lifecycle runs client operations as a registry write followed by
// a config projection, compensating the registry when the projection fails.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/fsutil"
	"github.com/najahiiii/xray-panel/internal/link"
	"github.com/najahiiii/xray-panel/internal/model"
	"github.com/najahiiii/xray-panel/internal/registry"
	"github.com/najahiiii/xray-panel/internal/usage"
	"github.com/najahiiii/xray-panel/internal/xray"

	"github.com/google/uuid"

	"log/slog"
)

// ConfigSync persists document mutations and owns the proxy service.
type ConfigSync interface {
	Update(ctx context.Context, mutate func(*xray.Document) error) (xray.Outcome, error)
	Restart(ctx context.Context) error
	IsActive(ctx context.Context) bool
}

type Controller struct {
	cfg      *config.Config
	store    *registry.Store
	inbounds *registry.InboundFile
	sync     ConfigSync
	tracker  *usage.Tracker
	log      *slog.Logger
	now      func() time.Time

	pendingMu sync.Mutex
	pending   map[string]model.UserUsage
}

// Result is what a mutating operation did. Warnings are user-facing notes
// for partial success, e.g. a saved client whose inbound is missing.
type Result struct {
	Record   model.ClientRecord
	Link     string
	Outcome  xray.Outcome
	Warnings []string
}

func New(cfg *config.Config, store *registry.Store, inbounds *registry.InboundFile, sync ConfigSync, tracker *usage.Tracker, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		cfg:      cfg,
		store:    store,
		inbounds: inbounds,
		sync:     sync,
		tracker:  tracker,
		log:      log,
		now:      time.Now,
	}
}

// lock serializes every mutating operation across processes.
func (c *Controller) lock(ctx context.Context) (fsutil.Unlock, error) {
	return fsutil.Lock(ctx, c.cfg.Paths.LockFile, true)
}

func (c *Controller) result(r model.ClientRecord, out xray.Outcome) Result {
	res := Result{Record: r, Link: link.ForRecord(r, c.cfg.Domain), Outcome: out}
	if out.RestartErr != nil {
		res.Warnings = append(res.Warnings, out.RestartErr.Error())
	}
	return res
}

func inboundWarning(r model.ClientRecord) string {
	return fmt.Sprintf("inbound %s not found in xray config; %s is saved but cannot connect", r.InboundTag(), r.Username)
}

// ValidateUsername rejects names that would break the registry row or the
// share link fragment.
func ValidateUsername(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty username", model.ErrInvalidInput)
	}
	if strings.ContainsAny(name, ";/#") || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: username %q contains ';', '/', '#' or whitespace", model.ErrInvalidInput, name)
	}
	return nil
}

// NewCredential returns a UUIDv4 for VLESS/VMESS and a 32-char hex secret
// for TROJAN.
func NewCredential(p model.Protocol) (string, error) {
	if p == model.ProtocolTROJAN {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		return hex.EncodeToString(b), nil
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (c *Controller) removeSession(username string) {
	if c.cfg.Paths.SessionDir == "" {
		return
	}
	path := filepath.Join(c.cfg.Paths.SessionDir, "xray_traffic_"+username)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("remove session file", "path", path, "err", err)
	}
}

// List returns every registry row enriched for display.
func (c *Controller) List(ctx context.Context) ([]model.ClientStatus, error) {
	records, err := c.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return c.tracker.Enrich(ctx, records, c.cfg.Domain), nil
}

// Get returns one enriched row.
func (c *Controller) Get(ctx context.Context, username string) (model.ClientStatus, error) {
	r, err := c.store.Get(ctx, username)
	if err != nil {
		return model.ClientStatus{}, err
	}
	return c.tracker.Enrich(ctx, []model.ClientRecord{r}, c.cfg.Domain)[0], nil
}

// Link returns the share link of username.
func (c *Controller) Link(ctx context.Context, username string) (string, error) {
	r, err := c.store.Get(ctx, username)
	if err != nil {
		return "", err
	}
	return link.ForRecord(r, c.cfg.Domain), nil
}

// Restart restarts the proxy outside any client operation.
func (c *Controller) Restart(ctx context.Context) error {
	return c.sync.Restart(ctx)
}

func (c *Controller) ProxyActive(ctx context.Context) bool {
	return c.sync.IsActive(ctx)
}
