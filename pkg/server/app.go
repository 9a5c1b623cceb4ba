// Package server assembles the built components into a running process:
// HTTP server, EventBus, and the PipelineSupervisor's background stages.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/supervisor"
	pkgch "tokenpulse/pkg/clickhouse"
	"tokenpulse/pkg/config"
	xhttp "tokenpulse/pkg/http"
	applogger "tokenpulse/pkg/logger"
	"tokenpulse/pkg/queue"
)

// multiHandler registers more than one xhttp.Handler against the same Echo
// instance, so the control plane and the duplex channel can be built as
// independent components and still share one HTTP server.
type multiHandler struct {
	handlers []xhttp.Handler
}

func (m *multiHandler) RegisterRoutes(e *echo.Echo) {
	for _, h := range m.handlers {
		h.RegisterRoutes(e)
	}
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg          *config.Config
	log          *applogger.Logger
	sup          *supervisor.Supervisor
	chClient     *pkgch.Client
	missConsumer *queue.RedisQueue
	httpServer   *xhttp.Server
	handlers     []xhttp.Handler
}

// New builds an App. chClient and missConsumer may be nil when their
// backing services are disabled. Handlers are registered against the HTTP
// server in the order given.
func New(cfg *config.Config, log *applogger.Logger, sup *supervisor.Supervisor, chClient *pkgch.Client, missConsumer *queue.RedisQueue, handlers ...xhttp.Handler) *App {
	return &App{cfg: cfg, log: log, sup: sup, chClient: chClient, missConsumer: missConsumer, handlers: handlers}
}

// Run starts the HTTP server and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	a.httpServer = xhttp.NewServer(&multiHandler{handlers: a.handlers},
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithHTTPMetrics(a.log, time.Second),
	)

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("tokenpulse started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.sup.Status().Scraper == models.ScraperRunning {
		if err := a.sup.Stop(); err != nil {
			a.log.Warn("supervisor stop error", applogger.Error(err))
		}
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.missConsumer != nil {
		if err := a.missConsumer.Stop(ctx); err != nil {
			a.log.Warn("miss consumer stop error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
