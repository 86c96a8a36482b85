package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// PaymentAuditRepository handles the immutable payment event log
type PaymentAuditRepository struct {
	db     DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends a payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, transaction_id, booking_id, gateway, gateway_ref,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			gateway_status, payload, error_message,
			ip_address, user_agent, device_type, platform,
			processing_time_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18,
			$19, $20
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.TransactionID, audit.BookingID, audit.Gateway, audit.GatewayRef,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.GatewayStatus, audit.Payload, audit.ErrorMessage,
		audit.IPAddress, audit.UserAgent, audit.DeviceType, audit.Platform,
		audit.ProcessingTimeMs, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":     audit.EventType,
			"transaction_id": audit.TransactionID,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":       audit.ID,
		"event_type":     audit.EventType,
		"transaction_id": audit.TransactionID,
	}).Debug("Payment audit logged")

	return nil
}

// ListByTransaction returns every audit entry of a transaction in order
func (r *PaymentAuditRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.PaymentAudit, error) {
	var audits []models.PaymentAudit
	query := `
		SELECT id, transaction_id, booking_id, gateway, gateway_ref, event_type, event_source,
			expected_amount, received_amount, currency, amounts_match, gateway_status, payload,
			error_message, ip_address, user_agent, device_type, platform, processing_time_ms, created_at
		FROM payment_audits
		WHERE transaction_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, transactionID); err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
