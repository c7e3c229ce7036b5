package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/najahiiii/xray-panel/internal/model"
	"github.com/najahiiii/xray-panel/internal/xray"
)

const day = 24 * time.Hour

type CreateRequest struct {
	Username string
	QuotaGB  float64

	// Days is added to now unless Expiry is set.
	Days   int
	Expiry time.Time

	// Protocol and Transport default to the active inbound in inbounds.db.
	Protocol   model.Protocol
	Transport  model.Transport
	Credential string
}

// EditRequest changes only the fields that are set. AddDays extends from
// the later of now and the current expiry; Expiry replaces it outright.
type EditRequest struct {
	Username   string
	QuotaGB    *float64
	Credential string
	AddDays    int
	Expiry     *time.Time
}

func (c *Controller) buildRecord(req CreateRequest) (model.ClientRecord, error) {
	if err := ValidateUsername(req.Username); err != nil {
		return model.ClientRecord{}, err
	}
	if req.QuotaGB < 0 {
		return model.ClientRecord{}, fmt.Errorf("%w: negative quota", model.ErrInvalidInput)
	}

	proto, trans := req.Protocol, req.Transport
	if proto == "" {
		p, t, err := c.inbounds.Active()
		if err != nil {
			return model.ClientRecord{}, fmt.Errorf("%w: no protocol given and no active inbound: %w", model.ErrInvalidInput, err)
		}
		proto, trans = p, t
	}
	if !model.Supported(proto, trans) {
		return model.ClientRecord{}, fmt.Errorf("%w: %s", model.ErrUnsupported, model.FormatTag(proto, trans, model.StatusActive))
	}

	now := c.now()
	expiry := req.Expiry
	if expiry.IsZero() {
		if req.Days <= 0 {
			return model.ClientRecord{}, fmt.Errorf("%w: days must be positive", model.ErrInvalidInput)
		}
		expiry = now.Add(time.Duration(req.Days) * day)
	}
	expiry = expiry.Truncate(time.Second)

	cred := req.Credential
	if cred == "" {
		var err error
		if cred, err = NewCredential(proto); err != nil {
			return model.ClientRecord{}, fmt.Errorf("generate credential: %w", err)
		}
	}

	status := model.StatusActive
	if !expiry.After(now) {
		status = model.StatusExpired
	}
	return model.ClientRecord{
		Username:   req.Username,
		QuotaGB:    req.QuotaGB,
		Expiry:     expiry,
		Protocol:   proto,
		Transport:  trans,
		Status:     status,
		Credential: cred,
	}, nil
}

// Create appends the client to the registry and adds it to its inbound.
// A missing inbound keeps the row and reports a warning; any other config
// failure removes the row again.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (Result, error) {
	rec, err := c.buildRecord(req)
	if err != nil {
		return Result{}, err
	}

	unlock, err := c.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	exists, err := c.store.Exists(ctx, rec.Username)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return Result{}, fmt.Errorf("client %s: %w", rec.Username, model.ErrDuplicateUsername)
	}
	if err := c.store.Append(ctx, rec); err != nil {
		return Result{}, err
	}
	c.log.Info("client created", "user", rec.Username, "tag", rec.Tag(), "expiry", rec.Expiry.Format(model.ExpiryLayout))

	if !rec.Enabled() {
		return c.result(rec, xray.Outcome{}), nil
	}
	out, err := c.sync.Update(ctx, func(d *xray.Document) error { return d.ApplyCreate(rec) })
	switch {
	case errors.Is(err, model.ErrInboundNotFound):
		c.log.Warn("client saved without inbound", "user", rec.Username, "inbound", rec.InboundTag())
		res := c.result(rec, out)
		res.Warnings = append(res.Warnings, inboundWarning(rec))
		return res, nil
	case err != nil:
		if _, derr := c.store.Delete(ctx, rec.Username); derr != nil {
			c.log.Error("compensate create", "user", rec.Username, "err", derr)
		}
		return Result{}, err
	}
	return c.result(rec, out), nil
}

// Edit rewrites the row, then adds, updates or removes the config entry
// depending on the resulting status.
func (c *Controller) Edit(ctx context.Context, req EditRequest) (Result, error) {
	if req.QuotaGB != nil && *req.QuotaGB < 0 {
		return Result{}, fmt.Errorf("%w: negative quota", model.ErrInvalidInput)
	}
	if req.AddDays < 0 {
		return Result{}, fmt.Errorf("%w: days must be positive", model.ErrInvalidInput)
	}

	unlock, err := c.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	prev, err := c.store.Get(ctx, req.Username)
	if err != nil {
		return Result{}, err
	}
	now := c.now()
	updated, err := c.store.UpdateInPlace(ctx, req.Username, func(r *model.ClientRecord) {
		if req.QuotaGB != nil {
			r.QuotaGB = *req.QuotaGB
		}
		if req.Credential != "" {
			r.Credential = req.Credential
		}
		switch {
		case req.Expiry != nil:
			r.Expiry = req.Expiry.Truncate(time.Second)
		case req.AddDays > 0:
			base := r.Expiry
			if base.Before(now) {
				base = now
			}
			r.Expiry = base.Add(time.Duration(req.AddDays) * day).Truncate(time.Second)
		default:
			return
		}
		switch {
		case r.Expiry.After(now):
			r.Status = model.StatusActive
		case r.Status == model.StatusActive:
			r.Status = model.StatusExpired
		}
	})
	if err != nil {
		return Result{}, err
	}
	c.log.Info("client edited", "user", updated.Username, "tag", updated.Tag(), "expiry", updated.Expiry.Format(model.ExpiryLayout))

	return c.project(ctx, prev, updated)
}

// SetStatus enables, disables or expires a client. A client past its
// expiry cannot be enabled; Edit the expiry instead.
func (c *Controller) SetStatus(ctx context.Context, username string, status model.Status) (Result, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	prev, err := c.store.Get(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if status == model.StatusActive && !prev.Expiry.After(c.now()) {
		return Result{}, fmt.Errorf("%w: %s expired on %s, extend the expiry first",
			model.ErrInvalidInput, username, prev.Expiry.Format(model.ExpiryLayout))
	}
	updated, err := c.store.UpdateInPlace(ctx, username, func(r *model.ClientRecord) {
		r.Status = status
	})
	if err != nil {
		return Result{}, err
	}
	c.log.Info("client status changed", "user", username, "from", prev.Status, "to", status)
	return c.project(ctx, prev, updated)
}

// project pushes an updated row into the config and restores prev on a
// config failure.
func (c *Controller) project(ctx context.Context, prev, updated model.ClientRecord) (Result, error) {
	out, err := c.sync.Update(ctx, func(d *xray.Document) error {
		if updated.Enabled() {
			return d.ApplyEdit(updated.Username, updated)
		}
		d.ApplyDelete(updated.Username)
		return nil
	})
	switch {
	case errors.Is(err, model.ErrInboundNotFound):
		res := c.result(updated, out)
		res.Warnings = append(res.Warnings, inboundWarning(updated))
		return res, nil
	case err != nil:
		if _, rerr := c.store.UpdateInPlace(ctx, prev.Username, func(r *model.ClientRecord) { *r = prev }); rerr != nil {
			c.log.Error("compensate edit", "user", prev.Username, "err", rerr)
		}
		return Result{}, err
	}
	return c.result(updated, out), nil
}

// Delete removes the row and every config entry for username. The config
// cleanup runs even when no row existed; the call then still reports
// model.ErrNotFound.
func (c *Controller) Delete(ctx context.Context, username string) (Result, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	prev, getErr := c.store.Get(ctx, username)
	if getErr != nil && !errors.Is(getErr, model.ErrNotFound) {
		return Result{}, getErr
	}
	var snapshot bytes.Buffer
	if err := c.store.Export(ctx, &snapshot); err != nil {
		return Result{}, err
	}
	removed, err := c.store.Delete(ctx, username)
	if err != nil {
		return Result{}, err
	}

	out, err := c.sync.Update(ctx, func(d *xray.Document) error {
		d.ApplyDelete(username)
		return nil
	})
	if err != nil {
		// Put the table back as it was so the row keeps its position.
		if removed {
			if rerr := c.store.Replace(ctx, snapshot.Bytes()); rerr != nil {
				c.log.Error("compensate delete", "user", username, "err", rerr)
			}
		}
		return Result{}, err
	}
	c.removeSession(username)

	res := Result{Record: prev, Outcome: out}
	if out.RestartErr != nil {
		res.Warnings = append(res.Warnings, out.RestartErr.Error())
	}
	if !removed {
		return res, fmt.Errorf("client %s: %w", username, model.ErrNotFound)
	}
	c.log.Info("client deleted", "user", username)
	return res, nil
}
