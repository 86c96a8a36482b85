package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// SlotRepository handles availability slot persistence and the capacity counters
type SlotRepository struct {
	db DB
}

// NewSlotRepository creates a new slot repository
func NewSlotRepository(db DB) *SlotRepository {
	return &SlotRepository{db: db}
}

const slotColumns = `id, resource_type, resource_id, slot_date, start_time, end_time,
		total_capacity, booked_count, min_participants, max_participants,
		base_price, currency, is_blocked, block_reason,
		booking_deadline_hours, cancellation_deadline_hours,
		created_by, created_at, updated_at`

// ============================================================================
// SEARCH FILTERS
// ============================================================================

// slotFilter maps one optional search criterion to a parameterized clause.
// arg returns false when the criterion is absent from the filter.
type slotFilter struct {
	clause string
	arg    func(f models.SlotSearchFilter) (interface{}, bool)
}

var slotSearchFilters = []slotFilter{
	{
		clause: "resource_id = ?",
		arg: func(f models.SlotSearchFilter) (interface{}, bool) {
			if f.ResourceID == nil {
				return nil, false
			}
			return *f.ResourceID, true
		},
	},
	{
		clause: "resource_type = ?",
		arg: func(f models.SlotSearchFilter) (interface{}, bool) {
			if f.ResourceType == nil {
				return nil, false
			}
			return string(*f.ResourceType), true
		},
	},
	{
		clause: "slot_date >= ?",
		arg: func(f models.SlotSearchFilter) (interface{}, bool) {
			if f.DateFrom == nil {
				return nil, false
			}
			return *f.DateFrom, true
		},
	},
	{
		clause: "slot_date <= ?",
		arg: func(f models.SlotSearchFilter) (interface{}, bool) {
			if f.DateTo == nil {
				return nil, false
			}
			return *f.DateTo, true
		},
	},
	{
		clause: "(total_capacity - booked_count) >= ?",
		arg: func(f models.SlotSearchFilter) (interface{}, bool) {
			if f.MinAvailableSpaces == nil {
				return nil, false
			}
			return *f.MinAvailableSpaces, true
		},
	},
	{
		clause: "base_price <= ?",
		arg: func(f models.SlotSearchFilter) (interface{}, bool) {
			if f.MaxPrice == nil {
				return nil, false
			}
			return *f.MaxPrice, true
		},
	},
}

var slotSortOrders = map[models.SlotSortKey]string{
	models.SortByDate:  "slot_date ASC, start_time ASC NULLS FIRST",
	models.SortByPrice: "base_price ASC",
}

// buildSearchQuery renders the search statement and its bound arguments
func (r *SlotRepository) buildSearchQuery(filter models.SlotSearchFilter, today time.Time) (string, []interface{}) {
	clauses := []string{"is_blocked = FALSE", "slot_date >= ?"}
	args := []interface{}{today}

	for _, f := range slotSearchFilters {
		if v, ok := f.arg(filter); ok {
			clauses = append(clauses, f.clause)
			args = append(args, v)
		}
	}

	order, ok := slotSortOrders[filter.SortBy]
	if !ok {
		order = slotSortOrders[models.SortByDate]
	}

	query := fmt.Sprintf(`SELECT %s FROM availability_slots WHERE %s ORDER BY %s, id ASC LIMIT ? OFFSET ?`,
		slotColumns, strings.Join(clauses, " AND "), order)
	args = append(args, filter.Limit, filter.Offset)

	return r.db.Rebind(query), args
}

// Search returns unblocked slots dated today or later matching the filter
func (r *SlotRepository) Search(ctx context.Context, filter models.SlotSearchFilter, today time.Time) ([]models.AvailabilitySlot, error) {
	query, args := r.buildSearchQuery(filter, today)

	var slots []models.AvailabilitySlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search slots: %w", err)
	}
	return slots, nil
}

// ============================================================================
// CRUD
// ============================================================================

// Create inserts a new slot with a zero booked count
func (r *SlotRepository) Create(ctx context.Context, slot *models.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (
			id, resource_type, resource_id, slot_date, start_time, end_time,
			total_capacity, booked_count, min_participants, max_participants,
			base_price, currency, is_blocked,
			booking_deadline_hours, cancellation_deadline_hours, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, FALSE, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		slot.ID, slot.ResourceType, slot.ResourceID, slot.SlotDate, slot.StartTime, slot.EndTime,
		slot.TotalCapacity, slot.MinParticipants, slot.MaxParticipants,
		slot.BasePrice, slot.Currency,
		slot.BookingDeadlineHours, slot.CancellationDeadlineHours, slot.CreatedBy,
	).Scan(&slot.CreatedAt, &slot.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.NewValidationError("slot_date", "a slot already exists for this resource, date and start time")
		}
		return fmt.Errorf("failed to create slot: %w", err)
	}

	slot.BookedCount = 0
	slot.IsBlocked = false
	return nil
}

// GetByID returns the slot or nil when it does not exist
func (r *SlotRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AvailabilitySlot, error) {
	var slot models.AvailabilitySlot
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`

	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

// Delete removes a slot that has never held a reservation.
// Returns false when the slot is missing or still has booked capacity.
func (r *SlotRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM availability_slots WHERE id = $1 AND booked_count = 0`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete slot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

// ============================================================================
// CAPACITY COUNTERS
// ============================================================================

// Reserve atomically adds count to booked_count when the slot is open and has room.
// The capacity check and the increment are one conditional UPDATE, so concurrent
// callers serialize on the row lock and each re-evaluates the guard.
// Returns nil when the guard rejected the reservation.
func (r *SlotRepository) Reserve(ctx context.Context, id uuid.UUID, count int) (*models.AvailabilitySlot, error) {
	var slot models.AvailabilitySlot
	query := `
		UPDATE availability_slots
		SET booked_count = booked_count + $2, updated_at = NOW()
		WHERE id = $1 AND is_blocked = FALSE AND booked_count + $2 <= total_capacity
		RETURNING ` + slotColumns

	if err := r.db.QueryRowxContext(ctx, query, id, count).StructScan(&slot); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to reserve capacity: %w", err)
	}
	return &slot, nil
}

// ReleaseOutcome reports the counter before and after a release
type ReleaseOutcome struct {
	Before int `db:"before_count"`
	After  int `db:"after_count"`
}

// Underflowed reports whether the release asked for more than was booked
func (o ReleaseOutcome) Underflowed(count int) bool {
	return o.Before < count
}

// Release atomically subtracts count from booked_count, floored at zero.
// Returns nil when the slot does not exist.
func (r *SlotRepository) Release(ctx context.Context, id uuid.UUID, count int) (*ReleaseOutcome, error) {
	var outcome ReleaseOutcome
	query := `
		UPDATE availability_slots AS s
		SET booked_count = GREATEST(s.booked_count - $2, 0), updated_at = NOW()
		FROM (SELECT id, booked_count FROM availability_slots WHERE id = $1 FOR UPDATE) AS prev
		WHERE s.id = prev.id
		RETURNING prev.booked_count AS before_count, s.booked_count AS after_count`

	if err := r.db.QueryRowxContext(ctx, query, id, count).StructScan(&outcome); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to release capacity: %w", err)
	}
	return &outcome, nil
}

// SetBlocked flips the blocked flag for every slot of a resource within the date range.
// booked_count is never touched.
func (r *SlotRepository) SetBlocked(ctx context.Context, resourceID uuid.UUID, from, to time.Time, blocked bool, reason *string) (int64, error) {
	query := `
		UPDATE availability_slots
		SET is_blocked = $4, block_reason = $5, updated_at = NOW()
		WHERE resource_id = $1 AND slot_date BETWEEN $2 AND $3`

	if !blocked {
		reason = nil
	}

	result, err := r.db.ExecContext(ctx, query, resourceID, from, to, blocked, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to update blocked flag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows, nil
}
