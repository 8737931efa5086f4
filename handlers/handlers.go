package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/api"
	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/storage"
	"github.com/domwhitecode/polymarket-copy-trading-bot/syncer"
)

// Handler handles HTTP requests from the dashboard.
type Handler struct {
	store      storage.TradeStore
	liquidator *syncer.Liquidator
	redeemer   *syncer.Redeemer
	monitor    *syncer.Monitor
	ctf        *api.CTFClient
	gate       *syncer.Gate
	wallet     string
	log        *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(store storage.TradeStore, liquidator *syncer.Liquidator, redeemer *syncer.Redeemer, monitor *syncer.Monitor, ctf *api.CTFClient, gate *syncer.Gate, wallet string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:      store,
		liquidator: liquidator,
		redeemer:   redeemer,
		monitor:    monitor,
		ctf:        ctf,
		gate:       gate,
		wallet:     wallet,
		log:        log.Named("http"),
	}
}

// RegisterRoutes mounts all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/activity/:wallet", h.GetActivity)
		apiGroup.GET("/balance", h.GetBalance)
		apiGroup.GET("/positions/redeemable", h.GetRedeemable)
		apiGroup.POST("/positions/sell", h.SellPosition)
		apiGroup.POST("/positions/sell-all", h.SellAll)
		apiGroup.POST("/positions/redeem-all", h.RedeemAll)
		apiGroup.GET("/monitor/status", h.MonitorStatus)
		apiGroup.POST("/monitor/reset-fallback", h.ResetFallback)
		apiGroup.POST("/bot/pause", h.PauseBot)
		apiGroup.POST("/bot/resume", h.ResumeBot)
	}
}

// GetActivity returns recent trade observations for a wallet.
func (h *Handler) GetActivity(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet required"})
		return
	}

	var since int64
	if s := c.Query("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		since = v
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = v
	}

	trades, err := h.store.RecentTrades(c.Request.Context(), wallet, since, limit)
	if err != nil {
		h.log.Error("recent trades query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load activity"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// GetBalance returns the operator wallet's on-chain USDC balance.
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ctf.CollateralBalance(c.Request.Context(), h.wallet)
	if err != nil {
		h.log.Error("balance query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":  h.wallet,
		"balance": balance,
	})
}

// GetRedeemable lists resolved positions waiting for redemption.
func (h *Handler) GetRedeemable(c *gin.Context) {
	summary, err := h.redeemer.FindRedeemable(c.Request.Context())
	if err != nil {
		h.log.Error("redeemable query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

type sellRequest struct {
	Asset   string  `json:"asset" binding:"required"`
	Percent float64 `json:"percent"`
}

// SellPosition liquidates part or all of one position.
func (h *Handler) SellPosition(c *gin.Context) {
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset required"})
		return
	}
	if req.Percent == 0 {
		req.Percent = 100
	}

	result, err := h.liquidator.ClosePosition(c.Request.Context(), req.Asset, req.Percent)
	if err != nil {
		c.JSON(statusFor(err), result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SellAll liquidates every open position sequentially.
func (h *Handler) SellAll(c *gin.Context) {
	summary, err := h.liquidator.CloseAll(c.Request.Context(), syncer.CloseAllHooks{})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// RedeemAll redeems all resolved positions, batched by condition.
func (h *Handler) RedeemAll(c *gin.Context) {
	summary, err := h.redeemer.RedeemAll(c.Request.Context(), syncer.RedeemHooks{})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// MonitorStatus reports the feed connection state.
func (h *Handler) MonitorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Status())
}

// ResetFallback clears the monitor's fallback latch.
func (h *Handler) ResetFallback(c *gin.Context) {
	if !h.monitor.ResetFallback() {
		c.JSON(http.StatusConflict, gin.H{"error": "fallback not active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reconnecting"})
}

// PauseBot blocks trading operations until resumed.
func (h *Handler) PauseBot(c *gin.Context) {
	h.gate.Pause()
	h.log.Info("bot paused")
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// ResumeBot re-enables trading operations.
func (h *Handler) ResumeBot(c *gin.Context) {
	h.gate.Resume()
	h.log.Info("bot resumed")
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrBelowMinimum):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPaused):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
