// Package web serves the admin JSON API.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/lifecycle"
	"github.com/najahiiii/xray-panel/internal/model"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Panel is the set of client operations the API exposes.
type Panel interface {
	List(ctx context.Context) ([]model.ClientStatus, error)
	Get(ctx context.Context, username string) (model.ClientStatus, error)
	Create(ctx context.Context, req lifecycle.CreateRequest) (lifecycle.Result, error)
	Edit(ctx context.Context, req lifecycle.EditRequest) (lifecycle.Result, error)
	Delete(ctx context.Context, username string) (lifecycle.Result, error)
	SetStatus(ctx context.Context, username string, status model.Status) (lifecycle.Result, error)
	Link(ctx context.Context, username string) (string, error)
	Restart(ctx context.Context) error
	Sync(ctx context.Context) (lifecycle.SyncResult, error)
	Restore(ctx context.Context, archive []byte) (lifecycle.SyncResult, error)
	Backup(ctx context.Context, w io.Writer) error
	Status(ctx context.Context, host lifecycle.HostSampler) (model.SystemSnapshot, error)
}

const maxUpload = 64 << 20

type Server struct {
	cfg    *config.Config
	log    *slog.Logger
	panel  Panel
	host   lifecycle.HostSampler
	engine *gin.Engine
}

func New(cfg *config.Config, log *slog.Logger, panel Panel, host lifecycle.HostSampler) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, log: log, panel: panel, host: host}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.MaxMultipartMemory = maxUpload
	r.Use(gzip.Gzip(
		gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/api/backup"}),
	))

	api := r.Group("/api", gin.BasicAuth(gin.Accounts{
		s.cfg.Web.AdminUser: s.cfg.Web.AdminPass,
	}))
	api.GET("/status", s.status)
	api.GET("/clients", s.listClients)
	api.POST("/clients", s.createClient)
	api.GET("/clients/:username", s.getClient)
	api.PUT("/clients/:username", s.editClient)
	api.DELETE("/clients/:username", s.deleteClient)
	api.POST("/clients/:username/status", s.setStatus)
	api.GET("/clients/:username/link", s.clientLink)
	api.GET("/clients/:username/qr", s.clientQR)
	api.POST("/xray/restart", s.restart)
	api.POST("/sync", s.sync)
	api.GET("/backup", s.backup)
	api.POST("/restore", s.restore)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"dur", time.Since(start),
		)
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Web.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("web panel listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrDuplicateUsername):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrUnsupported),
		errors.Is(err, model.ErrUnsafeArchive),
		errors.Is(err, model.ErrInboundNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRestart):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("api request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
