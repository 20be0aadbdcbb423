package httpapi

import (
	"net/http"

	"placequest-core/pkg/db/pagination"
	"placequest-core/pkg/errutil"
	"placequest-core/pkg/health"
	"placequest-core/pkg/middleware"
	"placequest-core/services/mission"
	"placequest-core/services/wallet"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

// Handler exposes the mission-run and wallet operations over HTTP. Caller
// identity arrives in the X-User-ID header; authentication lives in the
// gateway in front of this service.
type Handler struct {
	missions *mission.Service
	wallets  *wallet.Service
}

type HandlerParams struct {
	fx.In
	Missions *mission.Service
	Wallets  *wallet.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		missions: p.Missions,
		wallets:  p.Wallets,
	}
}

type RouteParams struct {
	fx.In
	Engine  *gin.Engine
	Handler *Handler
	Health  health.HealthService
}

func RegisterRoutes(p RouteParams) {
	e := p.Engine

	e.GET("/healthz", p.Health.Liveness)
	e.GET("/readyz", p.Health.Readiness)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := e.Group("/v1", middleware.Error())

	v1.POST("/missions/:missionID/runs", p.Handler.StartMissionRun)
	v1.POST("/missions/:missionID/qr-tokens", p.Handler.IssueQRToken)

	v1.GET("/mission-runs/:runID", p.Handler.GetMissionRun)
	v1.POST("/mission-runs/:runID/verify/gps", p.Handler.VerifyGPS)
	v1.POST("/mission-runs/:runID/verify/qr", p.Handler.VerifyQR)
	v1.POST("/mission-runs/:runID/verify/reels", p.Handler.VerifyReels)
	v1.POST("/mission-runs/:runID/approve", p.Handler.ApproveMissionRun)
	v1.POST("/mission-runs/:runID/reject", p.Handler.RejectMissionRun)
	v1.POST("/mission-runs/:runID/cancel", p.Handler.CancelMissionRun)

	v1.GET("/wallets/:userID", p.Handler.GetWallet)
	v1.GET("/wallets/:userID/transactions", p.Handler.ListWalletTransactions)
}

func callerID(c *gin.Context) (string, bool) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.Error(errutil.Unauthorized("missing X-User-ID header", nil))
		return "", false
	}
	return userID, true
}

func (h *Handler) StartMissionRun(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	run, err := h.missions.StartMissionRun(c.Request.Context(), userID, c.Param("missionID"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, run)
}

func (h *Handler) IssueQRToken(c *gin.Context) {
	token, err := h.missions.IssueQRToken(c.Request.Context(), c.Param("missionID"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (h *Handler) GetMissionRun(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	run, err := h.missions.GetMissionRun(c.Request.Context(), c.Param("runID"), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) VerifyGPS(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var ev mission.GPSEvidence
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.Error(errutil.BadRequest("invalid gps evidence payload", err))
		return
	}

	run, err := h.missions.VerifyGPS(c.Request.Context(), c.Param("runID"), userID, ev)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) VerifyQR(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var ev mission.QREvidence
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.Error(errutil.BadRequest("invalid qr evidence payload", err))
		return
	}

	run, err := h.missions.VerifyQR(c.Request.Context(), c.Param("runID"), userID, ev)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) VerifyReels(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var ev mission.ReelsEvidence
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.Error(errutil.BadRequest("invalid reels evidence payload", err))
		return
	}

	run, err := h.missions.VerifyReels(c.Request.Context(), c.Param("runID"), userID, ev)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, run)
}

type approveRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) ApproveMissionRun(c *gin.Context) {
	var req approveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid approve payload", err))
			return
		}
	}

	run, wtx, err := h.missions.ApproveAndReward(c.Request.Context(), c.Param("runID"), req.IdempotencyKey)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "transaction": wtx})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectMissionRun(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid reject payload", err))
			return
		}
	}

	run, err := h.missions.RejectMissionRun(c.Request.Context(), c.Param("runID"), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) CancelMissionRun(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	run, err := h.missions.CancelMissionRun(c.Request.Context(), c.Param("runID"), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.wallets.GetWallet(c.Request.Context(), c.Param("userID"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWalletTransactions(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.Error(errutil.BadRequest("invalid pagination parameters", err))
		return
	}

	w, err := h.wallets.GetWallet(c.Request.Context(), c.Param("userID"))
	if err != nil {
		c.Error(err)
		return
	}

	txs, page, err := h.wallets.ListTransactions(c.Request.Context(), w.ID, p)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet_id": w.ID, "transactions": txs, "page_info": page})
}
