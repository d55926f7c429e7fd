package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/canlink/internal/bus"
	"github.com/danmuck/canlink/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Version is reported by /health and the CLI.
var Version = "0.1.0"

// Source supplies the endpoint state served at /stats.
type Source interface {
	Snapshot() bus.Snapshot
}

// Admin is the HTTP surface of a running node: health, readiness, endpoint
// stats and prometheus metrics.
type Admin struct {
	Node     string
	Addr     string
	Appeared time.Time

	source Source
	router *gin.Engine
	log    zerolog.Logger
}

func NewAdmin(node, addr string, source Source) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(node))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		Node:     node,
		Addr:     addr,
		Appeared: time.Now(),
		source:   source,
		router:   r,
		log:      observability.Component("admin", node),
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine { return a.router }

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"node":    a.Node,
			"version": Version,
		})
	})
	a.router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	a.router.GET("/ready", func(c *gin.Context) {
		if a.source == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
		snap := a.source.Snapshot()
		status := http.StatusOK
		if !snap.Running {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  snap.Running,
			"uptime": time.Since(a.Appeared).String(),
			"node":   a.Node,
		})
	})

	a.router.GET("/stats", func(c *gin.Context) {
		if a.source == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no endpoint attached"})
			return
		}
		c.JSON(http.StatusOK, a.source.Snapshot())
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return err
	}
	return a.serve(ctx, ln)
}

func (a *Admin) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("admin_listen")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info().Msg("admin_stopped")
	return nil
}
