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

// BookingAPI is the booking lifecycle as seen by the HTTP layer
type BookingAPI interface {
	Create(ctx context.Context, req *models.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListUserBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID, transactionID uuid.UUID) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*models.CancelResult, error)
	Complete(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
}

// BookingHandler handles booking endpoints
type BookingHandler struct {
	bookings BookingAPI
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingAPI, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// canView allows the traveller, the attributed agent, and staff
func canView(user middleware.UserContext, booking *models.Booking) bool {
	if booking.UserID == user.UserID || user.HasRole(middleware.RoleAdmin, middleware.RoleOperator) {
		return true
	}
	return user.AgentID != nil && booking.AgentID != nil && *user.AgentID == *booking.AgentID
}

// loadOwned fetches a booking and writes the error response when the caller may not see it
func (h *BookingHandler) loadOwned(c *gin.Context, user middleware.UserContext) (*models.Booking, bool) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil, false
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "get booking")
		return nil, false
	}
	if !canView(user, booking) {
		// Same response as a missing booking so ids cannot be probed
		respondError(c, h.logger, models.NewNotFoundError("booking", id), "get booking")
		return nil, false
	}
	return booking, true
}

// ============================================================================
// CREATE BOOKING - POST /api/v1/bookings
// ============================================================================

// CreateBooking reserves capacity on a slot and creates a pending booking
// @Summary Create booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.CreateBookingRequest true "Booking"
// @Success 201 {object} models.Booking
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} map[string]interface{} "Capacity exceeded or slot blocked"
// @Router /bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	req.UserID = userCtx.UserID
	if userCtx.AgentID != nil {
		req.AgentID = userCtx.AgentID
	}

	booking, err := h.bookings.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err, "create booking")
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// GetBooking returns a booking with its participants
// @Router /bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	booking, ok := h.loadOwned(c, userCtx)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ListMyBookings returns the caller's bookings, newest first
// @Router /bookings [get]
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, h.logger, err, "list bookings")
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		respondError(c, h.logger, err, "list bookings")
		return
	}

	bookings, err := h.bookings.ListUserBookings(c.Request.Context(), userCtx.UserID, limit, offset)
	if err != nil {
		respondError(c, h.logger, err, "list bookings")
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// ============================================================================
// LIFECYCLE - /api/v1/bookings/:id/...
// ============================================================================

// ConfirmPayment confirms a pending booking against a completed transaction
// @Summary Confirm booking payment
// @Tags Bookings
// @Param request body models.ConfirmPaymentRequest true "Transaction"
// @Success 200 {object} models.Booking
// @Failure 409 {object} map[string]interface{} "Already confirmed by another transaction or cancelled"
// @Router /bookings/{id}/confirm [post]
func (h *BookingHandler) ConfirmPayment(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	booking, ok := h.loadOwned(c, userCtx)
	if !ok {
		return
	}

	var req models.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	confirmed, err := h.bookings.ConfirmPayment(c.Request.Context(), booking.ID, req.TransactionID)
	if err != nil {
		respondError(c, h.logger, err, "confirm booking")
		return
	}

	c.JSON(http.StatusOK, confirmed)
}

// CancelBooking cancels a booking, releasing its capacity and refunding when eligible
// @Summary Cancel booking
// @Tags Bookings
// @Param request body models.CancelBookingRequest false "Reason"
// @Success 200 {object} models.CancelResult
// @Failure 409 {object} map[string]interface{} "Booking already completed"
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	booking, ok := h.loadOwned(c, userCtx)
	if !ok {
		return
	}
	if booking.UserID != userCtx.UserID && !userCtx.HasRole(middleware.RoleAdmin, middleware.RoleOperator) {
		forbidden(c, "only the traveller or staff can cancel a booking")
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}

	result, err := h.bookings.Cancel(c.Request.Context(), booking.ID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err, "cancel booking")
		return
	}

	c.JSON(http.StatusOK, result)
}

// CompleteBooking marks a confirmed booking whose slot has passed as completed
// @Router /bookings/{id}/complete [post]
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.Complete(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "complete booking")
		return
	}

	c.JSON(http.StatusOK, booking)
}
