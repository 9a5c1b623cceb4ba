// Package api implements the control-plane REST surface: starting and
// stopping the scrape stage and reading back the ScrapeStore/CoinStore.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"tokenpulse/internal/domain/repository"
	"tokenpulse/internal/scrape"
	"tokenpulse/internal/supervisor"
	xhttp "tokenpulse/pkg/http"
	xlogger "tokenpulse/pkg/logger"
)

// startRequest is an optional, validated JSON body for POST
// /api/scraper/start: a caller can tighten or loosen this run's scrape
// limits without touching the on-disk config. Every field is optional; a
// zero value leaves the corresponding configured limit untouched.
type startRequest struct {
	MaxPagesPerSource int `json:"maxPagesPerSource,omitempty" validate:"omitempty,min=1,max=100"`
	CommentsPerPost   int `json:"commentsPerPost,omitempty" validate:"omitempty,min=0,max=200"`
}

// ControlHandler implements the scraper control-plane and read-back
// endpoints.
type ControlHandler struct {
	log         *xlogger.Logger
	sup         *supervisor.Supervisor
	scrapeStore repository.ScrapeStore
	coinStore   repository.CoinStore
}

func NewControlHandler(log *xlogger.Logger, sup *supervisor.Supervisor, scrapeStore repository.ScrapeStore, coinStore repository.CoinStore) *ControlHandler {
	return &ControlHandler{log: log, sup: sup, scrapeStore: scrapeStore, coinStore: coinStore}
}

func (h *ControlHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/healthz", h.Healthz)
	e.POST("/api/scraper/start", h.Start)
	e.POST("/api/scraper/stop", h.Stop)
	e.GET("/api/scraper/status", h.Status)
	e.GET("/api/scraper/data", h.Data)
	e.GET("/api/coins", h.Coins)
}

func (h *ControlHandler) Index(c echo.Context) error {
	return c.String(http.StatusOK, "tokenpulse control plane")
}

func (h *ControlHandler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *ControlHandler) Start(c echo.Context) error {
	if c.Request().ContentLength > 0 {
		var req startRequest
		if verrs := xhttp.ReadAndValidateRequest(c, &req); verrs != nil {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_INVALID_BODY", "", "invalid start request", http.StatusBadRequest))
		}
		h.sup.UpdateLimits(scrape.Limits{
			MaxPagesPerSource: req.MaxPagesPerSource,
			CommentsPerPost:   req.CommentsPerPost,
		})
	}

	if err := h.sup.Start(c.Request().Context()); err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_SCRAPER_RUNNING", "", err.Error(), http.StatusConflict))
		}
		h.log.Error("control: start failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (h *ControlHandler) Stop(c echo.Context) error {
	if err := h.sup.Stop(); err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_SCRAPER_IDLE", "", err.Error(), http.StatusConflict))
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "stop signal sent"})
}

func (h *ControlHandler) Status(c echo.Context) error {
	st := h.sup.Status()
	return c.JSON(http.StatusOK, map[string]any{"running": st.Scraper == "running"})
}

func (h *ControlHandler) Data(c echo.Context) error {
	posts, err := h.scrapeStore.All(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "count": len(posts), "data": posts})
}

func (h *ControlHandler) Coins(c echo.Context) error {
	coins, err := h.coinStore.All(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "count": len(coins), "data": coins})
}
