package web

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/najahiiii/xray-panel/internal/lifecycle"
	"github.com/najahiiii/xray-panel/internal/link"
	"github.com/najahiiii/xray-panel/internal/model"

	"github.com/gin-gonic/gin"
)

type createBody struct {
	Username   string  `json:"username"`
	QuotaGB    float64 `json:"quota_gb"`
	Days       int     `json:"days"`
	Expiry     string  `json:"expiry"`
	Protocol   string  `json:"protocol"`
	Credential string  `json:"credential"`
}

type editBody struct {
	QuotaGB    *float64 `json:"quota_gb"`
	AddDays    int      `json:"add_days"`
	Expiry     string   `json:"expiry"`
	Credential string   `json:"credential"`
}

type statusBody struct {
	Status string `json:"status"`
}

type resultView struct {
	Client    model.ClientRecord `json:"client"`
	Link      string             `json:"link,omitempty"`
	Changed   bool               `json:"config_changed"`
	Restarted bool               `json:"restarted"`
	Warnings  []string           `json:"warnings,omitempty"`
}

func viewOf(res lifecycle.Result) resultView {
	return resultView{
		Client:    res.Record,
		Link:      res.Link,
		Changed:   res.Outcome.Changed,
		Restarted: res.Outcome.Restarted,
		Warnings:  res.Warnings,
	}
}

type syncView struct {
	Clients   int      `json:"clients"`
	Enabled   int      `json:"enabled"`
	Changed   bool     `json:"config_changed"`
	Restarted bool     `json:"restarted"`
	Warnings  []string `json:"warnings,omitempty"`
}

func syncViewOf(res lifecycle.SyncResult) syncView {
	return syncView{
		Clients:   res.Clients,
		Enabled:   len(res.Enabled),
		Changed:   res.Outcome.Changed,
		Restarted: res.Outcome.Restarted,
		Warnings:  res.Warnings,
	}
}

func parseExpiry(s string) (time.Time, error) {
	t, err := time.ParseInLocation(model.ExpiryLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expiry must look like %s", model.ErrInvalidInput, model.ExpiryLayout)
	}
	return t, nil
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
}

func (s *Server) status(c *gin.Context) {
	snap, err := s.panel.Status(c.Request.Context(), s.host)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) listClients(c *gin.Context) {
	rows, err := s.panel.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": rows})
}

func (s *Server) getClient(c *gin.Context) {
	row, err := s.panel.Get(c.Request.Context(), c.Param("username"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) createClient(c *gin.Context) {
	var body createBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	req := lifecycle.CreateRequest{
		Username:   strings.TrimSpace(body.Username),
		QuotaGB:    body.QuotaGB,
		Days:       body.Days,
		Credential: strings.TrimSpace(body.Credential),
	}
	if body.Expiry != "" {
		exp, err := parseExpiry(body.Expiry)
		if err != nil {
			s.fail(c, err)
			return
		}
		req.Expiry = exp
	}
	if body.Protocol != "" {
		req.Protocol, req.Transport, _ = model.ParseTag(body.Protocol)
	}

	res, err := s.panel.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(res))
}

func (s *Server) editClient(c *gin.Context) {
	var body editBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	req := lifecycle.EditRequest{
		Username:   c.Param("username"),
		QuotaGB:    body.QuotaGB,
		AddDays:    body.AddDays,
		Credential: strings.TrimSpace(body.Credential),
	}
	if body.Expiry != "" {
		exp, err := parseExpiry(body.Expiry)
		if err != nil {
			s.fail(c, err)
			return
		}
		req.Expiry = &exp
	}

	res, err := s.panel.Edit(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(res))
}

func (s *Server) deleteClient(c *gin.Context) {
	res, err := s.panel.Delete(c.Request.Context(), c.Param("username"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(res))
}

func (s *Server) setStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	st, ok := model.ParseStatus(body.Status)
	if !ok {
		s.fail(c, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, body.Status))
		return
	}
	res, err := s.panel.SetStatus(c.Request.Context(), c.Param("username"), st)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(res))
}

func (s *Server) clientLink(c *gin.Context) {
	uri, err := s.panel.Link(c.Request.Context(), c.Param("username"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": uri})
}

func (s *Server) clientQR(c *gin.Context) {
	uri, err := s.panel.Link(c.Request.Context(), c.Param("username"))
	if err != nil {
		s.fail(c, err)
		return
	}
	png, err := link.QRCode(uri, link.DefaultQRSize)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %v", model.ErrUnsupported, err))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) restart(c *gin.Context) {
	if err := s.panel.Restart(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restarted": true})
}

func (s *Server) sync(c *gin.Context) {
	res, err := s.panel.Sync(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, syncViewOf(res))
}

func (s *Server) backup(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.panel.Backup(c.Request.Context(), &buf); err != nil {
		s.fail(c, err)
		return
	}
	name := fmt.Sprintf("xray-backup-%s.zip", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func (s *Server) restore(c *gin.Context) {
	fh, err := c.FormFile("backup_file")
	if err != nil {
		s.fail(c, badRequest(err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUpload))
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.panel.Restore(c.Request.Context(), data)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, syncViewOf(res))
}
