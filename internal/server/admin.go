package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/routegate/routegate/internal/config"
	"github.com/routegate/routegate/internal/docs"
	"github.com/routegate/routegate/internal/observability"
	"github.com/routegate/routegate/internal/registry"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions.
var ginModeOnce sync.Once

// Admin is the admin listener: liveness and readiness probes, the
// Prometheus endpoint and the assembled API documentation.
type Admin struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     observability.Logger
	ready      atomic.Bool
}

// AdminOption is a functional option for configuring the admin
// listener.
type AdminOption func(*Admin)

// WithAdminLogger sets the logger for the admin listener.
func WithAdminLogger(logger observability.Logger) AdminOption {
	return func(a *Admin) {
		a.logger = logger
	}
}

// NewAdmin creates the admin listener. The docs endpoints assemble a
// fresh document per request so they always describe the current
// registry snapshot.
func NewAdmin(
	cfg *config.Config,
	reg *registry.Registry,
	metrics *observability.Metrics,
	opts ...AdminOption,
) *Admin {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	a := &Admin{
		engine: gin.New(),
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.engine.Use(gin.Recovery())

	a.engine.GET("/healthz/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	a.engine.GET("/healthz/ready", func(c *gin.Context) {
		if !a.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if metrics != nil {
		a.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	if cfg.Docs.Enabled {
		assembler := docs.NewAssembler(docs.Info{
			Title:       cfg.Docs.Title,
			Version:     cfg.Docs.Version,
			Description: cfg.Docs.Description,
		})

		a.engine.GET("/docs/openapi.json", func(c *gin.Context) {
			out, err := assembler.Assemble(reg).JSON()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Data(http.StatusOK, "application/json", out)
		})
		a.engine.GET("/docs/openapi.yaml", func(c *gin.Context) {
			out, err := assembler.Assemble(reg).YAML()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Data(http.StatusOK, "application/yaml", out)
		})
	}

	a.httpServer = &http.Server{
		Addr:    cfg.Server.AdminListen,
		Handler: a.engine,
	}

	return a
}

// SetReady flips the readiness probe.
func (a *Admin) SetReady(ready bool) {
	a.ready.Store(ready)
}

// Handler returns the admin handler for tests.
func (a *Admin) Handler() http.Handler {
	return a.engine
}

// Start blocks serving admin requests until the listener closes.
func (a *Admin) Start() error {
	a.logger.Info("starting admin listener",
		observability.String("address", a.httpServer.Addr),
	)

	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin listener: %w", err)
	}
	return nil
}

// Stop closes the admin listener.
func (a *Admin) Stop(ctx context.Context) error {
	a.logger.Info("stopping admin listener")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown admin listener: %w", err)
	}
	return nil
}
