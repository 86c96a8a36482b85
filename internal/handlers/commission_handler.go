package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/middleware"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// CommissionAPI is the commission ledger as seen by the HTTP layer
type CommissionAPI interface {
	AgentForUser(ctx context.Context, userID uuid.UUID) (*models.Agent, error)
	ListAgentCommissions(ctx context.Context, agentID uuid.UUID, status *models.CommissionStatus) ([]models.Commission, error)
	RequestPayout(ctx context.Context, agentID uuid.UUID, paymentMethod string) (*models.CommissionPayout, error)
	GetBookingCommission(ctx context.Context, bookingID uuid.UUID) (*models.Commission, error)
	GetPayout(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error)
	MarkPayoutProcessing(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error)
	SettlePayout(ctx context.Context, id uuid.UUID, outcome models.PayoutStatus, failureReason *string) (*models.CommissionPayout, error)
}

// CommissionHandler handles agent commission and payout endpoints
type CommissionHandler struct {
	commissions CommissionAPI
	logger      *logrus.Logger
}

// NewCommissionHandler creates a new CommissionHandler
func NewCommissionHandler(commissions CommissionAPI, logger *logrus.Logger) *CommissionHandler {
	return &CommissionHandler{
		commissions: commissions,
		logger:      logger,
	}
}

// agentID resolves the caller's agent profile, preferring the token claim
func (h *CommissionHandler) agentID(c *gin.Context) (uuid.UUID, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return uuid.Nil, false
	}
	if userCtx.AgentID != nil {
		return *userCtx.AgentID, true
	}

	agent, err := h.commissions.AgentForUser(c.Request.Context(), userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err, "resolve agent")
		return uuid.Nil, false
	}
	return agent.ID, true
}

// ============================================================================
// AGENT - /api/v1/commissions
// ============================================================================

// ListMyCommissions returns the caller's commissions
// @Summary List my commissions
// @Tags Commissions
// @Param status query string false "pending, processing or paid"
// @Success 200 {object} map[string]interface{}
// @Router /commissions [get]
func (h *CommissionHandler) ListMyCommissions(c *gin.Context) {
	agentID, ok := h.agentID(c)
	if !ok {
		return
	}

	var status *models.CommissionStatus
	if v := c.Query("status"); v != "" {
		s := models.CommissionStatus(v)
		if s != models.CommissionPending && s != models.CommissionProcessing && s != models.CommissionPaid {
			respondError(c, h.logger, models.NewValidationError("status", "must be pending, processing or paid"), "list commissions")
			return
		}
		status = &s
	}

	commissions, err := h.commissions.ListAgentCommissions(c.Request.Context(), agentID, status)
	if err != nil {
		respondError(c, h.logger, err, "list commissions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"commissions": commissions, "count": len(commissions)})
}

// RequestPayout batches the caller's pending commissions into a payout
// @Summary Request commission payout
// @Tags Commissions
// @Param request body models.RequestPayoutRequest true "Payout"
// @Success 201 {object} models.CommissionPayout
// @Failure 422 {object} map[string]interface{} "No pending commissions"
// @Router /commissions/payouts [post]
func (h *CommissionHandler) RequestPayout(c *gin.Context) {
	agentID, ok := h.agentID(c)
	if !ok {
		return
	}

	var req models.RequestPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	payout, err := h.commissions.RequestPayout(c.Request.Context(), agentID, req.PaymentMethod)
	if err != nil {
		respondError(c, h.logger, err, "request payout")
		return
	}

	c.JSON(http.StatusCreated, payout)
}

// GetPayout returns a payout to its agent or to an admin
// @Router /commissions/payouts/{id} [get]
func (h *CommissionHandler) GetPayout(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	payout, err := h.commissions.GetPayout(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "get payout")
		return
	}
	if !userCtx.IsAdmin() && (userCtx.AgentID == nil || *userCtx.AgentID != payout.AgentID) {
		respondError(c, h.logger, models.NewNotFoundError("payout", id), "get payout")
		return
	}

	c.JSON(http.StatusOK, payout)
}

// GetBookingCommission returns the commission earned on a booking. Agents only
// see their own.
// @Router /commissions/bookings/{id} [get]
func (h *CommissionHandler) GetBookingCommission(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}
	bookingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	commission, err := h.commissions.GetBookingCommission(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err, "get commission")
		return
	}
	if !userCtx.IsAdmin() && (userCtx.AgentID == nil || *userCtx.AgentID != commission.AgentID) {
		respondError(c, h.logger, &models.NotFoundError{Resource: "commission", Key: "booking " + bookingID.String()}, "get commission")
		return
	}

	c.JSON(http.StatusOK, commission)
}

// ============================================================================
// ADMIN - payout settlement
// ============================================================================

// MarkPayoutProcessing records that the transfer to the agent has started
// @Router /commissions/payouts/{id}/processing [post]
func (h *CommissionHandler) MarkPayoutProcessing(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	payout, err := h.commissions.MarkPayoutProcessing(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "mark payout processing")
		return
	}

	c.JSON(http.StatusOK, payout)
}

// SettlePayout records whether the transfer succeeded
// @Summary Settle commission payout
// @Tags Commissions
// @Param request body models.SettlePayoutRequest true "Outcome"
// @Success 200 {object} models.CommissionPayout
// @Failure 409 {object} map[string]interface{} "Payout already settled differently"
// @Router /commissions/payouts/{id}/settle [post]
func (h *CommissionHandler) SettlePayout(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.SettlePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	payout, err := h.commissions.SettlePayout(c.Request.Context(), id, req.Outcome, req.FailureReason)
	if err != nil {
		respondError(c, h.logger, err, "settle payout")
		return
	}

	c.JSON(http.StatusOK, payout)
}
