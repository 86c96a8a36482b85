package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/tourism-booking-core/internal/database"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// Persistence ports. The database package's repositories satisfy these; tests
// substitute in-memory implementations.

// SlotStore persists availability slots and their capacity counters
type SlotStore interface {
	Create(ctx context.Context, slot *models.AvailabilitySlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AvailabilitySlot, error)
	Search(ctx context.Context, filter models.SlotSearchFilter, today time.Time) ([]models.AvailabilitySlot, error)
	Reserve(ctx context.Context, id uuid.UUID, count int) (*models.AvailabilitySlot, error)
	Release(ctx context.Context, id uuid.UUID, count int) (*database.ReleaseOutcome, error)
	SetBlocked(ctx context.Context, resourceID uuid.UUID, from, to time.Time, blocked bool, reason *string) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// BookingStore persists bookings and drives their conditional transitions
type BookingStore interface {
	CreateWithParticipants(ctx context.Context, booking *models.Booking, participants []models.BookingParticipant) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetParticipants(ctx context.Context, bookingID uuid.UUID) ([]models.BookingParticipant, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error)
	MarkConfirmed(ctx context.Context, id, transactionID uuid.UUID) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string) (*models.Booking, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error)
}

// PaymentStore persists payment transactions
type PaymentStore interface {
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	GetByGatewayRef(ctx context.Context, gateway models.GatewayName, ref string) (*models.PaymentTransaction, error)
	GetCompletedByBooking(ctx context.Context, bookingID uuid.UUID) (*models.PaymentTransaction, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentTransaction, error)
	SetGatewayRef(ctx context.Context, id uuid.UUID, ref string, payload models.JSONPayload) error
	MarkCompleted(ctx context.Context, id uuid.UUID, payload models.JSONPayload) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, payload models.JSONPayload) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reference, reason string) (bool, error)
}

// PaymentAuditLog appends and reads payment audit events
type PaymentAuditLog interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.PaymentAudit, error)
}

// CommissionStore persists agents, commissions and payouts
type CommissionStore interface {
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgentByUserID(ctx context.Context, userID uuid.UUID) (*models.Agent, error)
	CreateIfAbsent(ctx context.Context, c *models.Commission) (bool, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Commission, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, status *models.CommissionStatus) ([]models.Commission, error)
	CreatePayout(ctx context.Context, payout *models.CommissionPayout) error
	GetPayout(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error)
	MarkPayoutProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	SettlePayout(ctx context.Context, id uuid.UUID, outcome models.PayoutStatus, failureReason *string) (bool, error)
}

var (
	_ SlotStore       = (*database.SlotRepository)(nil)
	_ BookingStore    = (*database.BookingRepository)(nil)
	_ PaymentStore    = (*database.PaymentRepository)(nil)
	_ PaymentAuditLog = (*database.PaymentAuditRepository)(nil)
	_ CommissionStore = (*database.CommissionRepository)(nil)
)
