package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// AVAILABILITY SLOT
// ============================================================================

// ResourceType identifies the kind of bookable resource behind a slot
type ResourceType string

const (
	ResourceTour    ResourceType = "tour"
	ResourceVehicle ResourceType = "vehicle"
	ResourceRoom    ResourceType = "room"
	ResourceGear    ResourceType = "gear"
)

// IsValid reports whether the resource type is known
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceTour, ResourceVehicle, ResourceRoom, ResourceGear:
		return true
	}
	return false
}

// AvailabilitySlot is one dated unit of bookable capacity
type AvailabilitySlot struct {
	ID                        uuid.UUID       `json:"id" db:"id"`
	ResourceType              ResourceType    `json:"resource_type" db:"resource_type"`
	ResourceID                uuid.UUID       `json:"resource_id" db:"resource_id"`
	SlotDate                  time.Time       `json:"slot_date" db:"slot_date"`
	StartTime                 *string         `json:"start_time,omitempty" db:"start_time"` // HH:MM
	EndTime                   *string         `json:"end_time,omitempty" db:"end_time"`
	TotalCapacity             int             `json:"total_capacity" db:"total_capacity"`
	BookedCount               int             `json:"booked_count" db:"booked_count"`
	MinParticipants           int             `json:"min_participants" db:"min_participants"`
	MaxParticipants           int             `json:"max_participants" db:"max_participants"`
	BasePrice                 decimal.Decimal `json:"base_price" db:"base_price"`
	Currency                  string          `json:"currency" db:"currency"`
	IsBlocked                 bool            `json:"is_blocked" db:"is_blocked"`
	BlockReason               *string         `json:"block_reason,omitempty" db:"block_reason"`
	BookingDeadlineHours      int             `json:"booking_deadline_hours" db:"booking_deadline_hours"`
	CancellationDeadlineHours int             `json:"cancellation_deadline_hours" db:"cancellation_deadline_hours"`
	CreatedBy                 *uuid.UUID      `json:"created_by,omitempty" db:"created_by"`
	CreatedAt                 time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at" db:"updated_at"`
}

// AvailableSpaces returns the remaining capacity of the slot
func (s *AvailabilitySlot) AvailableSpaces() int {
	return s.TotalCapacity - s.BookedCount
}

// StartsAt returns the slot start as a timestamp in the slot date's location.
// Slots without a start time begin at midnight.
func (s *AvailabilitySlot) StartsAt() time.Time {
	start := time.Date(s.SlotDate.Year(), s.SlotDate.Month(), s.SlotDate.Day(), 0, 0, 0, 0, s.SlotDate.Location())
	if s.StartTime != nil {
		if t, err := time.Parse("15:04", *s.StartTime); err == nil {
			start = start.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
		}
	}
	return start
}

// BookingClosesAt returns the last moment new bookings are accepted
func (s *AvailabilitySlot) BookingClosesAt() time.Time {
	return s.StartsAt().Add(-time.Duration(s.BookingDeadlineHours) * time.Hour)
}

// CancellationDeadline returns the last moment a cancellation earns a full refund
func (s *AvailabilitySlot) CancellationDeadline() time.Time {
	return s.StartsAt().Add(-time.Duration(s.CancellationDeadlineHours) * time.Hour)
}

// SlotView is the API shape of a slot, with computed availability
type SlotView struct {
	AvailabilitySlot
	AvailableSpaces int `json:"available_spaces"`
}

// NewSlotView builds the response view of a slot
func NewSlotView(s AvailabilitySlot) SlotView {
	return SlotView{AvailabilitySlot: s, AvailableSpaces: s.AvailableSpaces()}
}

// ============================================================================
// REQUESTS & FILTERS
// ============================================================================

// CreateSlotRequest carries the fields needed to open a new slot
type CreateSlotRequest struct {
	ResourceType              ResourceType    `json:"resource_type" binding:"required"`
	ResourceID                uuid.UUID       `json:"resource_id" binding:"required"`
	SlotDate                  string          `json:"slot_date" binding:"required"` // YYYY-MM-DD
	StartTime                 *string         `json:"start_time,omitempty"`
	EndTime                   *string         `json:"end_time,omitempty"`
	TotalCapacity             int             `json:"total_capacity" binding:"required"`
	MinParticipants           int             `json:"min_participants"`
	MaxParticipants           int             `json:"max_participants"`
	BasePrice                 decimal.Decimal `json:"base_price"`
	Currency                  string          `json:"currency"`
	BookingDeadlineHours      int             `json:"booking_deadline_hours"`
	CancellationDeadlineHours int             `json:"cancellation_deadline_hours"`
	CreatedBy                 *uuid.UUID      `json:"-"`
}

// SlotSortKey selects the ordering of search results
type SlotSortKey string

const (
	SortByDate  SlotSortKey = "date"
	SortByPrice SlotSortKey = "price"
)

// SlotSearchFilter holds optional availability search criteria
type SlotSearchFilter struct {
	ResourceID         *uuid.UUID
	ResourceType       *ResourceType
	DateFrom           *time.Time
	DateTo             *time.Time
	MinAvailableSpaces *int
	MaxPrice           *decimal.Decimal
	SortBy             SlotSortKey
	Limit              int
	Offset             int
}

// CacheKey renders the filter deterministically for cache lookups
func (f SlotSearchFilter) CacheKey(today time.Time) string {
	key := fmt.Sprintf("today=%s|sort=%s|limit=%d|offset=%d", today.Format("2006-01-02"), f.SortBy, f.Limit, f.Offset)
	if f.ResourceID != nil {
		key += "|resource=" + f.ResourceID.String()
	}
	if f.ResourceType != nil {
		key += "|type=" + string(*f.ResourceType)
	}
	if f.DateFrom != nil {
		key += "|from=" + f.DateFrom.Format("2006-01-02")
	}
	if f.DateTo != nil {
		key += "|to=" + f.DateTo.Format("2006-01-02")
	}
	if f.MinAvailableSpaces != nil {
		key += fmt.Sprintf("|min=%d", *f.MinAvailableSpaces)
	}
	if f.MaxPrice != nil {
		key += "|max_price=" + f.MaxPrice.String()
	}
	return key
}

// BlockRequest blocks or unblocks every slot of a resource in a date range
type BlockRequest struct {
	ResourceID uuid.UUID `json:"resource_id" binding:"required"`
	DateFrom   string    `json:"date_from" binding:"required"`
	DateTo     string    `json:"date_to" binding:"required"`
	Reason     string    `json:"reason"`
}

// ReservationID identifies one capacity reservation on a slot
type ReservationID uuid.UUID

// String returns the token form of the reservation id
func (r ReservationID) String() string {
	return uuid.UUID(r).String()
}
