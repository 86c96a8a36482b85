package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// PaymentRepository handles payment transaction persistence
type PaymentRepository struct {
	db DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const transactionColumns = `id, booking_id, amount, currency, gateway, status, gateway_ref, gateway_payload,
		failure_reason, refund_amount, refund_reference, refund_reason, refunded_at,
		created_at, updated_at, completed_at`

// Create inserts a pending transaction.
// The partial unique index on booking_id (status pending/completed) rejects a
// second active transaction; that case surfaces as an InvalidTransitionError.
func (r *PaymentRepository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (id, booking_id, amount, currency, gateway, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		txn.ID, txn.BookingID, txn.Amount, txn.Currency, txn.Gateway, txn.Status,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &models.InvalidTransitionError{
				Entity: "booking",
				ID:     txn.BookingID,
				From:   "payment in progress",
				To:     "new payment",
			}
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

// GetByID returns the transaction or nil when absent
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id)
}

// GetByGatewayRef resolves a webhook's gateway reference to our transaction
func (r *PaymentRepository) GetByGatewayRef(ctx context.Context, gateway models.GatewayName, ref string) (*models.PaymentTransaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE gateway = $1 AND gateway_ref = $2`, gateway, ref)
}

// GetCompletedByBooking returns the booking's completed transaction, if any
func (r *PaymentRepository) GetCompletedByBooking(ctx context.Context, bookingID uuid.UUID) (*models.PaymentTransaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE booking_id = $1 AND status = 'completed'`, bookingID)
}

// ListByBooking returns every payment attempt for a booking, oldest first
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE booking_id = $1 ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &txns, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list payment transactions: %w", err)
	}
	return txns, nil
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.GetContext(ctx, &txn, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}
	return &txn, nil
}

// SetGatewayRef stores the processor's reference once initiation succeeded
func (r *PaymentRepository) SetGatewayRef(ctx context.Context, id uuid.UUID, ref string, payload models.JSONPayload) error {
	query := `
		UPDATE payment_transactions
		SET gateway_ref = $2, gateway_payload = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	if _, err := r.db.ExecContext(ctx, query, id, ref, payload); err != nil {
		return fmt.Errorf("failed to set gateway reference: %w", err)
	}
	return nil
}

// ============================================================================
// CONDITIONAL STATUS TRANSITIONS
// ============================================================================

// MarkCompleted moves a pending transaction to completed.
// Returns false when the transaction was no longer pending.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, id uuid.UUID, payload models.JSONPayload) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = 'completed', gateway_payload = COALESCE($2, gateway_payload),
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	return r.execTransition(ctx, "complete", query, id, payload)
}

// MarkFailed moves a pending transaction to failed, freeing the booking for a retry
func (r *PaymentRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, payload models.JSONPayload) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = 'failed', failure_reason = $2, gateway_payload = COALESCE($3, gateway_payload),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	return r.execTransition(ctx, "fail", query, id, reason, payload)
}

// MarkRefunded moves a completed transaction to refunded with the refund details
func (r *PaymentRepository) MarkRefunded(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reference, reason string) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = 'refunded', refund_amount = $2, refund_reference = $3, refund_reason = $4,
			refunded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'completed'`

	return r.execTransition(ctx, "refund", query, id, amount, reference, reason)
}

func (r *PaymentRepository) execTransition(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s payment transaction: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}
