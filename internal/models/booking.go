package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// BOOKING
// ============================================================================

// Booking is a user's claim on capacity of one availability slot
type Booking struct {
	ID                     uuid.UUID            `json:"id" db:"id"`
	BookingReference       string               `json:"booking_reference" db:"booking_reference"`
	SlotID                 uuid.UUID            `json:"slot_id" db:"slot_id"`
	UserID                 uuid.UUID            `json:"user_id" db:"user_id"`
	AgentID                *uuid.UUID           `json:"agent_id,omitempty" db:"agent_id"`
	ParticipantCount       int                  `json:"participant_count" db:"participant_count"`
	TotalPrice             decimal.Decimal      `json:"total_price" db:"total_price"`
	Currency               string               `json:"currency" db:"currency"`
	Status                 BookingStatus        `json:"status" db:"status"`
	PaymentStatus          BookingPaymentStatus `json:"payment_status" db:"payment_status"`
	ReservationID          uuid.UUID            `json:"reservation_id" db:"reservation_id"`
	ConfirmedTransactionID *uuid.UUID           `json:"confirmed_transaction_id,omitempty" db:"confirmed_transaction_id"`
	ContactInfo            ContactInfo          `json:"contact_info" db:"contact_info"`
	CancellationReason     *string              `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt              time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time            `json:"updated_at" db:"updated_at"`
	ConfirmedAt            *time.Time           `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt            *time.Time           `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CompletedAt            *time.Time           `json:"completed_at,omitempty" db:"completed_at"`

	Participants []BookingParticipant `json:"participants,omitempty" db:"-"`
}

// IsConfirmedBy reports whether the booking was confirmed by the given transaction
func (b *Booking) IsConfirmedBy(transactionID uuid.UUID) bool {
	return b.ConfirmedTransactionID != nil && *b.ConfirmedTransactionID == transactionID
}

// ContactInfo is the lead contact for a booking, stored as JSONB
type ContactInfo struct {
	Name             string  `json:"name" validate:"required,max=255"`
	Email            string  `json:"email" validate:"required,email"`
	Phone            string  `json:"phone" validate:"required,phone"`
	PreferredChannel *string `json:"preferred_channel,omitempty" validate:"omitempty,oneof=email sms whatsapp"`
}

// Value implements driver.Valuer for JSONB storage
func (c ContactInfo) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for JSONB retrieval
func (c *ContactInfo) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// ExperienceLevel describes a participant's self-reported skill level
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceAdvanced     ExperienceLevel = "advanced"
)

// BookingParticipant is one person travelling under a booking
type BookingParticipant struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	BookingID       uuid.UUID        `json:"booking_id" db:"booking_id"`
	FullName        string           `json:"full_name" db:"full_name" validate:"required,max=255"`
	Email           *string          `json:"email,omitempty" db:"email" validate:"omitempty,email"`
	Phone           *string          `json:"phone,omitempty" db:"phone" validate:"omitempty,phone"`
	DateOfBirth     *time.Time       `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Nationality     *string          `json:"nationality,omitempty" db:"nationality" validate:"omitempty,len=2"`
	ExperienceLevel *ExperienceLevel `json:"experience_level,omitempty" db:"experience_level" validate:"omitempty,oneof=beginner intermediate advanced"`
	DietaryNotes    *string          `json:"dietary_notes,omitempty" db:"dietary_notes"`
	MedicalNotes    *string          `json:"medical_notes,omitempty" db:"medical_notes"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// ============================================================================
// REQUESTS & RESULTS
// ============================================================================

// CreateBookingRequest carries everything needed to open a booking
type CreateBookingRequest struct {
	SlotID       uuid.UUID            `json:"slot_id" binding:"required"`
	UserID       uuid.UUID            `json:"-"`
	AgentID      *uuid.UUID           `json:"agent_id,omitempty"`
	Participants []BookingParticipant `json:"participants" binding:"required"`
	ContactInfo  ContactInfo          `json:"contact_info" binding:"required"`
}

// CancelBookingRequest is the body of a cancellation call
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// ConfirmPaymentRequest links a completed transaction to a booking
type ConfirmPaymentRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" binding:"required"`
}

// CancelResult reports what a cancellation did
type CancelResult struct {
	Booking          *Booking `json:"booking"`
	AlreadyCancelled bool     `json:"already_cancelled"`
	RefundIssued     *Refund  `json:"refund,omitempty"`
	RefundError      string   `json:"refund_error,omitempty"`
}
