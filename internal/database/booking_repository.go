package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// ErrDuplicateReference means the generated booking reference is already taken
var ErrDuplicateReference = errors.New("booking reference already exists")

const bookingReferenceConstraint = "bookings_booking_reference_key"

// BookingRepository handles booking and participant persistence
type BookingRepository struct {
	db DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, booking_reference, slot_id, user_id, agent_id, participant_count,
		total_price, currency, status, payment_status, reservation_id, confirmed_transaction_id,
		contact_info, cancellation_reason, created_at, updated_at, confirmed_at, cancelled_at, completed_at`

// CreateWithParticipants inserts the booking row and all participant rows in one transaction
func (r *BookingRepository) CreateWithParticipants(ctx context.Context, booking *models.Booking, participants []models.BookingParticipant) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	bookingQuery := `
		INSERT INTO bookings (
			id, booking_reference, slot_id, user_id, agent_id, participant_count,
			total_price, currency, status, payment_status, reservation_id, contact_info
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, bookingQuery,
		booking.ID, booking.BookingReference, booking.SlotID, booking.UserID, booking.AgentID,
		booking.ParticipantCount, booking.TotalPrice, booking.Currency,
		booking.Status, booking.PaymentStatus, booking.ReservationID, booking.ContactInfo,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		if isUniqueViolationOf(err, bookingReferenceConstraint) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	participantQuery := `
		INSERT INTO booking_participants (
			id, booking_id, full_name, email, phone, date_of_birth,
			nationality, experience_level, dietary_notes, medical_notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	for i := range participants {
		p := &participants[i]
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.BookingID = booking.ID

		err = tx.QueryRowxContext(ctx, participantQuery,
			p.ID, p.BookingID, p.FullName, p.Email, p.Phone, p.DateOfBirth,
			p.Nationality, p.ExperienceLevel, p.DietaryNotes, p.MedicalNotes,
		).Scan(&p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert participant %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.Participants = participants
	return nil
}

// GetByID returns the booking without participants, or nil when absent
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// GetParticipants returns the participants of a booking in insertion order
func (r *BookingRepository) GetParticipants(ctx context.Context, bookingID uuid.UUID) ([]models.BookingParticipant, error) {
	var participants []models.BookingParticipant
	query := `
		SELECT id, booking_id, full_name, email, phone, date_of_birth,
			nationality, experience_level, dietary_notes, medical_notes, created_at
		FROM booking_participants
		WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC`

	if err := r.db.SelectContext(ctx, &participants, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	return participants, nil
}

// ListByUser returns a user's bookings, newest first
func (r *BookingRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &bookings, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// CONDITIONAL STATUS TRANSITIONS
// ============================================================================

// MarkConfirmed moves a pending booking to confirmed/paid.
// Returns false when the booking was not pending, so only one caller ever wins.
func (r *BookingRepository) MarkConfirmed(ctx context.Context, id, transactionID uuid.UUID) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'confirmed', payment_status = 'paid', confirmed_transaction_id = $2,
			confirmed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	return r.execTransition(ctx, "confirm", query, id, transactionID)
}

// MarkCancelled moves a pending or confirmed booking to cancelled.
// On success it returns the booking as it was before the change; nil means
// another caller already cancelled it or the status forbids cancellation.
func (r *BookingRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) (*models.Booking, error) {
	var prev models.Booking
	query := `
		UPDATE bookings AS b
		SET status = 'cancelled', cancellation_reason = $2, cancelled_at = NOW(), updated_at = NOW()
		FROM (SELECT id, status, payment_status FROM bookings WHERE id = $1 FOR UPDATE) AS prev
		WHERE b.id = prev.id AND prev.status IN ('pending', 'confirmed')
		RETURNING prev.status AS status, prev.payment_status AS payment_status`

	if err := r.db.QueryRowxContext(ctx, query, id, reason).StructScan(&prev); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	prev.ID = id
	return &prev, nil
}

// MarkCompleted moves a confirmed booking to completed
func (r *BookingRepository) MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'`

	return r.execTransition(ctx, "complete", query, id)
}

// MarkRefunded records that the booking's payment was returned
func (r *BookingRepository) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'refunded', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'paid'`

	return r.execTransition(ctx, "mark refunded", query, id)
}

func (r *BookingRepository) execTransition(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s booking: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}
