package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/middleware"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// AvailabilityAPI is the slice of the availability engine the HTTP layer uses
type AvailabilityAPI interface {
	Search(ctx context.Context, filter models.SlotSearchFilter) ([]models.SlotView, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*models.AvailabilitySlot, error)
	CreateSlot(ctx context.Context, req *models.CreateSlotRequest) (*models.AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	Block(ctx context.Context, req *models.BlockRequest) (int64, error)
	Unblock(ctx context.Context, req *models.BlockRequest) (int64, error)
}

// AvailabilityHandler handles slot search and operator slot management
type AvailabilityHandler struct {
	availability AvailabilityAPI
	logger       *logrus.Logger
}

// NewAvailabilityHandler creates a new AvailabilityHandler
func NewAvailabilityHandler(availability AvailabilityAPI, logger *logrus.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		availability: availability,
		logger:       logger,
	}
}

// ============================================================================
// SEARCH - GET /api/v1/availability
// ============================================================================

// Search lists bookable slots
// @Summary Search availability
// @Tags Availability
// @Produce json
// @Param resource_id query string false "Resource ID"
// @Param resource_type query string false "tour, vehicle, room or gear"
// @Param date_from query string false "YYYY-MM-DD"
// @Param date_to query string false "YYYY-MM-DD"
// @Param min_spaces query int false "Minimum available spaces"
// @Param max_price query string false "Maximum base price"
// @Param sort_by query string false "date or price"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{} "Invalid filter"
// @Router /availability [get]
func (h *AvailabilityHandler) Search(c *gin.Context) {
	filter, err := parseSearchFilter(c)
	if err != nil {
		respondError(c, h.logger, err, "search availability")
		return
	}

	slots, err := h.availability.Search(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "search availability")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"slots":  slots,
		"count":  len(slots),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseSearchFilter(c *gin.Context) (models.SlotSearchFilter, error) {
	filter := models.SlotSearchFilter{SortBy: models.SlotSortKey(c.Query("sort_by"))}

	if v := c.Query("resource_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, models.NewValidationError("resource_id", "must be a UUID")
		}
		filter.ResourceID = &id
	}
	if v := c.Query("resource_type"); v != "" {
		rt := models.ResourceType(v)
		filter.ResourceType = &rt
	}
	if v := c.Query("date_from"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, models.NewValidationError("date_from", "must be YYYY-MM-DD")
		}
		filter.DateFrom = &d
	}
	if v := c.Query("date_to"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, models.NewValidationError("date_to", "must be YYYY-MM-DD")
		}
		filter.DateTo = &d
	}
	if v := c.Query("min_spaces"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, models.NewValidationError("min_spaces", "must be an integer")
		}
		filter.MinAvailableSpaces = &n
	}
	if v := c.Query("max_price"); v != "" {
		price, err := decimal.NewFromString(v)
		if err != nil {
			return filter, models.NewValidationError("max_price", "must be a number")
		}
		filter.MaxPrice = &price
	}

	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, models.NewValidationError(name, "must be a non-negative integer")
	}
	return n, nil
}

// ============================================================================
// SLOTS - /api/v1/slots
// ============================================================================

// GetSlot returns one slot with its remaining capacity
// @Router /slots/{id} [get]
func (h *AvailabilityHandler) GetSlot(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	slot, err := h.availability.GetSlot(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "get slot")
		return
	}

	c.JSON(http.StatusOK, models.NewSlotView(*slot))
}

// CreateSlot opens a new dated slot for a resource
// @Summary Create slot
// @Tags Availability
// @Accept json
// @Produce json
// @Param request body models.CreateSlotRequest true "Slot"
// @Success 201 {object} models.SlotView
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Router /slots [post]
func (h *AvailabilityHandler) CreateSlot(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthenticated(c)
		return
	}

	var req models.CreateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	req.CreatedBy = &userCtx.UserID

	slot, err := h.availability.CreateSlot(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err, "create slot")
		return
	}

	c.JSON(http.StatusCreated, models.NewSlotView(*slot))
}

// DeleteSlot removes a slot that has no bookings
// @Router /slots/{id} [delete]
func (h *AvailabilityHandler) DeleteSlot(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.availability.DeleteSlot(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err, "delete slot")
		return
	}

	c.Status(http.StatusNoContent)
}

// Block closes every slot of a resource in a date range to new reservations
// @Router /slots/block [post]
func (h *AvailabilityHandler) Block(c *gin.Context) {
	var req models.BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	affected, err := h.availability.Block(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err, "block slots")
		return
	}

	c.JSON(http.StatusOK, gin.H{"affected": affected})
}

// Unblock reopens the slots of a resource in a date range
// @Router /slots/unblock [post]
func (h *AvailabilityHandler) Unblock(c *gin.Context) {
	var req models.BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	affected, err := h.availability.Unblock(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err, "unblock slots")
		return
	}

	c.JSON(http.StatusOK, gin.H{"affected": affected})
}
