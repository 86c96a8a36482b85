package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// respondError maps domain errors onto status codes and a {"error", "message"} body.
// Unknown errors are logged and reported as 500 without their details.
func respondError(c *gin.Context, logger *logrus.Logger, err error, action string) {
	status, code := classify(err)

	body := gin.H{"error": code, "message": err.Error()}

	var capacity *models.CapacityExceededError
	if errors.As(err, &capacity) {
		body["available_spaces"] = capacity.Available
		body["requested"] = capacity.Requested
	}
	var validation *models.ValidationError
	if errors.As(err, &validation) && validation.Field != "" {
		body["field"] = validation.Field
	}

	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.FullPath()).Error("Failed to " + action)
		body["message"] = "Failed to " + action
	} else if status == http.StatusBadGateway {
		logger.WithError(err).Warn("Payment gateway failure while trying to " + action)
	}

	c.JSON(status, body)
}

func classify(err error) (int, string) {
	var alreadyConfirmed *models.BookingAlreadyConfirmedError
	var alreadyCancelled *models.BookingAlreadyCancelledError
	var refundNotAllowed *models.RefundNotAllowedError

	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, models.ErrSlotBlocked):
		return http.StatusConflict, "slot_blocked"
	case errors.As(err, &alreadyConfirmed):
		return http.StatusConflict, "booking_already_confirmed"
	case errors.As(err, &alreadyCancelled):
		return http.StatusConflict, "booking_already_cancelled"
	case errors.As(err, &refundNotAllowed):
		return http.StatusConflict, "refund_not_allowed"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, models.ErrPaymentGateway):
		return http.StatusBadGateway, "payment_gateway_error"
	case errors.Is(err, models.ErrNoCommissionsAvailable):
		return http.StatusUnprocessableEntity, "no_commissions_available"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}

func forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": message})
}

func unauthenticated(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "user not authenticated"})
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
