package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/metrics"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

const dateLayout = "2006-01-02"

// AvailabilityConfig holds availability engine settings
type AvailabilityConfig struct {
	DefaultCurrency    string
	DefaultSearchLimit int
	MaxSearchLimit     int
}

// DefaultAvailabilityConfig returns the default availability configuration
func DefaultAvailabilityConfig() AvailabilityConfig {
	return AvailabilityConfig{
		DefaultCurrency:    "LKR",
		DefaultSearchLimit: 20,
		MaxSearchLimit:     100,
	}
}

// AvailabilityService owns capacity slots and the atomic reserve/release operations
type AvailabilityService struct {
	slots  SlotStore
	cache  SearchCache
	config AvailabilityConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(slots SlotStore, cache SearchCache, config AvailabilityConfig, logger *logrus.Logger) *AvailabilityService {
	if cache == nil {
		cache = NoopSearchCache{}
	}
	return &AvailabilityService{
		slots:  slots,
		cache:  cache,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func (s *AvailabilityService) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// ============================================================================
// SEARCH & READ
// ============================================================================

// Search returns bookable slots matching the filter, ordered by the requested key
func (s *AvailabilityService) Search(ctx context.Context, filter models.SlotSearchFilter) ([]models.SlotView, error) {
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return nil, models.NewValidationError("date_to", "must not be before date_from")
	}
	if filter.MinAvailableSpaces != nil && *filter.MinAvailableSpaces < 0 {
		return nil, models.NewValidationError("min_available_spaces", "must not be negative")
	}
	if filter.MaxPrice != nil && filter.MaxPrice.IsNegative() {
		return nil, models.NewValidationError("max_price", "must not be negative")
	}
	switch filter.SortBy {
	case "":
		filter.SortBy = models.SortByDate
	case models.SortByDate, models.SortByPrice:
	default:
		return nil, models.NewValidationError("sort_by", "must be 'date' or 'price'")
	}
	if filter.Limit <= 0 {
		filter.Limit = s.config.DefaultSearchLimit
	}
	if filter.Limit > s.config.MaxSearchLimit {
		filter.Limit = s.config.MaxSearchLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	today := s.today()

	key, cacheable := s.cache.Key(ctx, filter, today)
	if cacheable {
		if slots, hit := s.cache.Get(ctx, key); hit {
			return toSlotViews(slots), nil
		}
	}

	slots, err := s.slots.Search(ctx, filter, today)
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.cache.Set(ctx, key, slots)
	}
	return toSlotViews(slots), nil
}

func toSlotViews(slots []models.AvailabilitySlot) []models.SlotView {
	views := make([]models.SlotView, 0, len(slots))
	for _, slot := range slots {
		views = append(views, models.NewSlotView(slot))
	}
	return views
}

// GetSlot returns one slot or NotFoundError
func (s *AvailabilityService) GetSlot(ctx context.Context, id uuid.UUID) (*models.AvailabilitySlot, error) {
	slot, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, models.NewNotFoundError("slot", id)
	}
	return slot, nil
}

// ============================================================================
// SLOT LIFECYCLE
// ============================================================================

// CreateSlot validates and opens a new slot with nothing booked
func (s *AvailabilityService) CreateSlot(ctx context.Context, req *models.CreateSlotRequest) (*models.AvailabilitySlot, error) {
	slot, err := s.buildSlot(req)
	if err != nil {
		return nil, err
	}

	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx)

	s.logger.WithFields(logrus.Fields{
		"slot_id":        slot.ID,
		"resource_id":    slot.ResourceID,
		"slot_date":      slot.SlotDate.Format(dateLayout),
		"total_capacity": slot.TotalCapacity,
	}).Info("Availability slot created")

	return slot, nil
}

func (s *AvailabilityService) buildSlot(req *models.CreateSlotRequest) (*models.AvailabilitySlot, error) {
	if !req.ResourceType.IsValid() {
		return nil, models.NewValidationError("resource_type", "must be one of tour, vehicle, room, gear")
	}
	if req.ResourceID == uuid.Nil {
		return nil, models.NewValidationError("resource_id", "is required")
	}

	slotDate, err := time.Parse(dateLayout, req.SlotDate)
	if err != nil {
		return nil, models.NewValidationError("slot_date", "must be formatted YYYY-MM-DD")
	}
	if slotDate.Before(s.today()) {
		return nil, models.NewValidationError("slot_date", "must not be in the past")
	}

	if req.TotalCapacity <= 0 {
		return nil, models.NewValidationError("total_capacity", "must be greater than zero")
	}

	minP := req.MinParticipants
	if minP == 0 {
		minP = 1
	}
	maxP := req.MaxParticipants
	if maxP == 0 {
		maxP = req.TotalCapacity
	}
	if minP < 1 {
		return nil, models.NewValidationError("min_participants", "must be at least 1")
	}
	if minP > maxP {
		return nil, models.NewValidationError("min_participants", "must not exceed max_participants")
	}
	if maxP > req.TotalCapacity {
		return nil, models.NewValidationError("max_participants", "must not exceed total_capacity")
	}

	if req.BasePrice.IsNegative() {
		return nil, models.NewValidationError("base_price", "must not be negative")
	}
	if req.BookingDeadlineHours < 0 {
		return nil, models.NewValidationError("booking_deadline_hours", "must not be negative")
	}
	if req.CancellationDeadlineHours < 0 {
		return nil, models.NewValidationError("cancellation_deadline_hours", "must not be negative")
	}

	if err := validateTimeWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, models.NewValidationError("currency", "must be a 3-letter ISO code")
	}

	return &models.AvailabilitySlot{
		ID:                        uuid.New(),
		ResourceType:              req.ResourceType,
		ResourceID:                req.ResourceID,
		SlotDate:                  slotDate,
		StartTime:                 req.StartTime,
		EndTime:                   req.EndTime,
		TotalCapacity:             req.TotalCapacity,
		MinParticipants:           minP,
		MaxParticipants:           maxP,
		BasePrice:                 req.BasePrice.Round(2),
		Currency:                  currency,
		BookingDeadlineHours:      req.BookingDeadlineHours,
		CancellationDeadlineHours: req.CancellationDeadlineHours,
		CreatedBy:                 req.CreatedBy,
	}, nil
}

func validateTimeWindow(start, end *string) error {
	var startAt, endAt time.Time
	var err error
	if start != nil {
		if startAt, err = time.Parse("15:04", *start); err != nil {
			return models.NewValidationError("start_time", "must be formatted HH:MM")
		}
	}
	if end != nil {
		if endAt, err = time.Parse("15:04", *end); err != nil {
			return models.NewValidationError("end_time", "must be formatted HH:MM")
		}
	}
	if start != nil && end != nil && !endAt.After(startAt) {
		return models.NewValidationError("end_time", "must be after start_time")
	}
	return nil
}

// DeleteSlot removes a slot that has never held a reservation
func (s *AvailabilityService) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	slot, err := s.GetSlot(ctx, id)
	if err != nil {
		return err
	}

	deleted, err := s.slots.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return &models.InvalidTransitionError{Entity: "slot", ID: id, From: "booked", To: "deleted"}
	}

	s.cache.Invalidate(ctx)
	s.logger.WithFields(logrus.Fields{
		"slot_id":     id,
		"resource_id": slot.ResourceID,
	}).Info("Availability slot deleted")
	return nil
}

// Block closes every slot of a resource in the date range to new reservations.
// Existing bookings are untouched.
func (s *AvailabilityService) Block(ctx context.Context, req *models.BlockRequest) (int64, error) {
	from, to, err := parseDateRange(req.DateFrom, req.DateTo)
	if err != nil {
		return 0, err
	}

	reason := strings.TrimSpace(req.Reason)
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	affected, err := s.slots.SetBlocked(ctx, req.ResourceID, from, to, true, reasonPtr)
	if err != nil {
		return 0, err
	}

	s.cache.Invalidate(ctx)
	s.logger.WithFields(logrus.Fields{
		"resource_id": req.ResourceID,
		"date_from":   req.DateFrom,
		"date_to":     req.DateTo,
		"affected":    affected,
		"reason":      reason,
	}).Info("Slots blocked")
	return affected, nil
}

// Unblock reopens every slot of a resource in the date range
func (s *AvailabilityService) Unblock(ctx context.Context, req *models.BlockRequest) (int64, error) {
	from, to, err := parseDateRange(req.DateFrom, req.DateTo)
	if err != nil {
		return 0, err
	}

	affected, err := s.slots.SetBlocked(ctx, req.ResourceID, from, to, false, nil)
	if err != nil {
		return 0, err
	}

	s.cache.Invalidate(ctx)
	s.logger.WithFields(logrus.Fields{
		"resource_id": req.ResourceID,
		"date_from":   req.DateFrom,
		"date_to":     req.DateTo,
		"affected":    affected,
	}).Info("Slots unblocked")
	return affected, nil
}

func parseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from, err := time.Parse(dateLayout, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, models.NewValidationError("date_from", "must be formatted YYYY-MM-DD")
	}
	to, err := time.Parse(dateLayout, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, models.NewValidationError("date_to", "must be formatted YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, models.NewValidationError("date_to", "must not be before date_from")
	}
	return from, to, nil
}

// ============================================================================
// RESERVE / RELEASE
// ============================================================================

// Reserve consumes count spaces on the slot in one atomic conditional update
func (s *AvailabilityService) Reserve(ctx context.Context, slotID uuid.UUID, count int) (models.ReservationID, error) {
	if count <= 0 {
		return models.ReservationID{}, models.NewValidationError("participant_count", "must be greater than zero")
	}

	start := time.Now()
	slot, err := s.slots.Reserve(ctx, slotID, count)
	if err != nil {
		metrics.ObserveReservation("error", time.Since(start).Seconds())
		return models.ReservationID{}, err
	}

	if slot == nil {
		rejection := s.classifyRejection(ctx, slotID, count)
		metrics.ObserveReservation(reservationOutcome(rejection), time.Since(start).Seconds())
		s.logger.WithFields(logrus.Fields{
			"slot_id":   slotID,
			"requested": count,
		}).WithError(rejection).Info("Reservation rejected")
		return models.ReservationID{}, rejection
	}

	metrics.ObserveReservation("reserved", time.Since(start).Seconds())
	s.cache.Invalidate(ctx)

	reservationID := models.ReservationID(uuid.New())
	s.logger.WithFields(logrus.Fields{
		"slot_id":        slotID,
		"reservation_id": reservationID.String(),
		"reserved":       count,
		"booked_count":   slot.BookedCount,
		"total_capacity": slot.TotalCapacity,
	}).Info("Capacity reserved")

	return reservationID, nil
}

// classifyRejection explains a rejected conditional update. The read happens
// after the write was already refused, so it only picks the error type.
func (s *AvailabilityService) classifyRejection(ctx context.Context, slotID uuid.UUID, count int) error {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	if slot == nil {
		return models.NewNotFoundError("slot", slotID)
	}
	if slot.IsBlocked {
		reason := ""
		if slot.BlockReason != nil {
			reason = *slot.BlockReason
		}
		return &models.SlotBlockedError{SlotID: slotID, Reason: reason}
	}
	return &models.CapacityExceededError{SlotID: slotID, Requested: count, Available: slot.AvailableSpaces()}
}

func reservationOutcome(err error) string {
	switch {
	case errors.Is(err, models.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, models.ErrSlotBlocked):
		return "blocked"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Release returns count spaces to the slot. The counter is floored at zero;
// asking for more than is booked is logged as an invariant violation.
func (s *AvailabilityService) Release(ctx context.Context, slotID uuid.UUID, count int) error {
	if count <= 0 {
		return models.NewValidationError("participant_count", "must be greater than zero")
	}

	outcome, err := s.slots.Release(ctx, slotID, count)
	if err != nil {
		metrics.ObserveRelease("error")
		return err
	}
	if outcome == nil {
		metrics.ObserveRelease("not_found")
		return models.NewNotFoundError("slot", slotID)
	}

	if outcome.Underflowed(count) {
		metrics.ObserveRelease("underflow")
		metrics.ObserveInvariantViolation("capacity_underflow")
		s.logger.WithFields(logrus.Fields{
			"slot_id":             slotID,
			"requested":           count,
			"booked_before":       outcome.Before,
			"invariant_violation": true,
		}).Error("Capacity release exceeded booked count; counter floored at zero")
	} else {
		metrics.ObserveRelease("released")
	}

	s.cache.Invalidate(ctx)
	s.logger.WithFields(logrus.Fields{
		"slot_id":      slotID,
		"released":     count,
		"booked_count": outcome.After,
	}).Info("Capacity released")

	return nil
}

// priceFor computes the booking total for a participant count
func priceFor(slot *models.AvailabilitySlot, participants int) decimal.Decimal {
	return slot.BasePrice.Mul(decimal.NewFromInt(int64(participants))).Round(2)
}
