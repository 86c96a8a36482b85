package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/middleware"
	"github.com/smarttransit/tourism-booking-core/internal/models"
	"github.com/smarttransit/tourism-booking-core/internal/utils"
)

const maxWebhookBody = 1 << 20

// PaymentAPI is the payment ledger as seen by the HTTP layer
type PaymentAPI interface {
	Initiate(ctx context.Context, req *models.InitiatePaymentRequest, client *models.ClientMetadata) (*models.InitiatePaymentResult, error)
	Verify(ctx context.Context, transactionID uuid.UUID, payload models.JSONPayload, client *models.ClientMetadata) (*models.PaymentTransaction, error)
	HandleWebhook(ctx context.Context, gateway models.GatewayName, payload []byte, signature string, client *models.ClientMetadata) (*models.PaymentTransaction, error)
	Refund(ctx context.Context, transactionID uuid.UUID, amount *decimal.Decimal, reason string, client *models.ClientMetadata) (*models.Refund, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	ListAudit(ctx context.Context, transactionID uuid.UUID) ([]models.PaymentAudit, error)
	ListBookingTransactions(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentTransaction, error)
}

// BookingLookup resolves the booking a payment belongs to for ownership checks
type BookingLookup interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
}

// PaymentHandler handles payment initiation, verification, webhooks and refunds
type PaymentHandler struct {
	payments PaymentAPI
	bookings BookingLookup
	logger   *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentAPI, bookings BookingLookup, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		bookings: bookings,
		logger:   logger,
	}
}

// ============================================================================
// INITIATE PAYMENT - POST /api/v1/payments
// ============================================================================

// InitiatePayment opens a gateway checkout for a pending booking
// @Summary Initiate payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.InitiatePaymentRequest true "Payment"
// @Success 201 {object} models.InitiatePaymentResult
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} map[string]interface{} "Booking not payable or payment already active"
// @Failure 502 {object} map[string]interface{} "Gateway error"
// @Router /payments [post]
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), req.BookingID)
	if err != nil {
		respondError(c, h.logger, err, "initiate payment")
		return
	}
	if !canView(userCtx, booking) {
		respondError(c, h.logger, models.NewNotFoundError("booking", req.BookingID), "initiate payment")
		return
	}

	result, err := h.payments.Initiate(c.Request.Context(), &req, utils.ClientMetadata(c))
	if err != nil {
		respondError(c, h.logger, err, "initiate payment")
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ============================================================================
// VERIFY PAYMENT - POST /api/v1/payments/:id/verify
// ============================================================================

// VerifyPayment asks the gateway for the outcome of a checkout
// @Summary Verify payment
// @Tags Payments
// @Param request body models.VerifyPaymentRequest false "Gateway return payload"
// @Success 200 {object} models.PaymentTransaction
// @Failure 502 {object} map[string]interface{} "Gateway error"
// @Router /payments/{id}/verify [post]
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	txn, ok := h.loadOwned(c, userCtx)
	if !ok {
		return
	}

	var req models.VerifyPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}

	verified, err := h.payments.Verify(c.Request.Context(), txn.ID, req.Payload, utils.ClientMetadata(c))
	if err != nil {
		respondError(c, h.logger, err, "verify payment")
		return
	}

	c.JSON(http.StatusOK, verified)
}

// GetTransaction returns a payment transaction
// @Router /payments/{id} [get]
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	txn, ok := h.loadOwned(c, userCtx)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, txn)
}

func (h *PaymentHandler) loadOwned(c *gin.Context, user middleware.UserContext) (*models.PaymentTransaction, bool) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil, false
	}

	txn, err := h.payments.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "get payment")
		return nil, false
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), txn.BookingID)
	if err != nil {
		respondError(c, h.logger, err, "get payment")
		return nil, false
	}
	if !canView(user, booking) {
		respondError(c, h.logger, models.NewNotFoundError("payment transaction", id), "get payment")
		return nil, false
	}
	return txn, true
}

// ============================================================================
// WEBHOOK - POST /api/v1/payments/webhook/:gateway
// ============================================================================

// Webhook receives gateway notifications. The body is passed through untouched
// because Stripe signs the raw bytes.
// @Summary Payment gateway webhook
// @Tags Payments
// @Param gateway path string true "payable or stripe"
// @Success 200 {object} map[string]interface{}
// @Router /payments/webhook/{gateway} [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	gateway := models.GatewayName(c.Param("gateway"))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}

	txn, err := h.payments.HandleWebhook(c.Request.Context(), gateway, payload, c.GetHeader("Stripe-Signature"), utils.ClientMetadata(c))
	if err != nil {
		h.logger.WithError(err).WithField("gateway", gateway).Warn("Webhook processing failed")
		respondError(c, h.logger, err, "process webhook")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":       true,
		"transaction_id": txn.ID,
		"status":         txn.Status,
	})
}

// ============================================================================
// ADMIN - refunds and audit trail
// ============================================================================

// RefundPayment refunds a completed payment in full or in part
// @Summary Refund payment
// @Tags Payments
// @Param request body models.RefundPaymentRequest true "Refund"
// @Success 200 {object} models.Refund
// @Failure 409 {object} map[string]interface{} "Payment not refundable"
// @Router /payments/{id}/refund [post]
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	refund, err := h.payments.Refund(c.Request.Context(), id, req.Amount, req.Reason, utils.ClientMetadata(c))
	if err != nil {
		respondError(c, h.logger, err, "refund payment")
		return
	}

	c.JSON(http.StatusOK, refund)
}

// ListBookingPayments returns the payment attempts made for a booking
// @Router /bookings/{id}/payments [get]
func (h *PaymentHandler) ListBookingPayments(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "list booking payments")
		return
	}
	if !canView(userCtx, booking) {
		respondError(c, h.logger, models.NewNotFoundError("booking", id), "list booking payments")
		return
	}

	txns, err := h.payments.ListBookingTransactions(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "list booking payments")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

// ListAudit returns the audit trail of a payment transaction
// @Router /payments/{id}/audit [get]
func (h *PaymentHandler) ListAudit(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	entries, err := h.payments.ListAudit(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "list payment audit")
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
