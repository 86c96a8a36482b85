package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/events"
	"github.com/smarttransit/tourism-booking-core/internal/metrics"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// BookingConfirmer confirms a booking once its payment completed
type BookingConfirmer interface {
	ConfirmPayment(ctx context.Context, bookingID, transactionID uuid.UUID) (*models.Booking, error)
}

// PaymentLedgerService records payment attempts against bookings and drives
// them through the configured gateways
type PaymentLedgerService struct {
	payments  PaymentStore
	bookings  BookingStore
	audits    PaymentAuditLog
	gateways  *GatewayRegistry
	confirmer BookingConfirmer
	publisher events.Publisher
	logger    *logrus.Logger
}

// NewPaymentLedgerService creates a new payment ledger
func NewPaymentLedgerService(
	payments PaymentStore,
	bookings BookingStore,
	audits PaymentAuditLog,
	gateways *GatewayRegistry,
	confirmer BookingConfirmer,
	publisher events.Publisher,
	logger *logrus.Logger,
) *PaymentLedgerService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &PaymentLedgerService{
		payments:  payments,
		bookings:  bookings,
		audits:    audits,
		gateways:  gateways,
		confirmer: confirmer,
		publisher: publisher,
		logger:    logger,
	}
}

// ============================================================================
// INITIATE
// ============================================================================

// Initiate opens a pending transaction for a pending booking and starts
// checkout at the gateway. The booking itself is not changed.
func (s *PaymentLedgerService) Initiate(ctx context.Context, req *models.InitiatePaymentRequest, client *models.ClientMetadata) (*models.InitiatePaymentResult, error) {
	startTime := time.Now()

	booking, err := s.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, models.NewNotFoundError("booking", req.BookingID)
	}
	if booking.Status != models.BookingStatusPending || booking.PaymentStatus != models.BookingPaymentPending {
		return nil, &models.InvalidTransitionError{
			Entity: "booking", ID: booking.ID,
			From: string(booking.Status), To: "paid",
		}
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = booking.TotalPrice
	}
	if !amount.IsPositive() {
		return nil, models.NewValidationError("amount", "must be greater than zero")
	}
	if !amount.Equal(booking.TotalPrice) {
		return nil, models.NewValidationError("amount",
			fmt.Sprintf("must equal the booking total %s", booking.TotalPrice.StringFixed(2)))
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = booking.Currency
	}
	if currency != booking.Currency {
		return nil, models.NewValidationError("currency", fmt.Sprintf("must be %s", booking.Currency))
	}

	gateway, err := s.gateways.Get(req.Gateway)
	if err != nil {
		return nil, err
	}

	txn := &models.PaymentTransaction{
		ID:        uuid.New(),
		BookingID: booking.ID,
		Amount:    amount,
		Currency:  currency,
		Gateway:   gateway.Name(),
		Status:    models.TransactionPending,
	}
	if err := s.payments.Create(ctx, txn); err != nil {
		return nil, err
	}

	initiation, err := gateway.Initiate(ctx, GatewayInitiateParams{
		TransactionID: txn.ID,
		Amount:        amount,
		Currency:      currency,
		Payer:         req.Payer,
		ReturnURL:     req.ReturnURL,
		Description:   "Booking " + booking.BookingReference,
	})
	if err != nil {
		if _, markErr := s.payments.MarkFailed(ctx, txn.ID, err.Error(), nil); markErr != nil {
			s.logger.WithError(markErr).WithField("transaction_id", txn.ID).Error("Failed to mark transaction failed after initiation error")
		}
		audit := models.NewPaymentAudit(models.PaymentEventInitiateFailed, models.PaymentSourceGateway, txn).
			SetError(err.Error()).SetClient(client).SetProcessingTime(startTime)
		s.safeLog(ctx, audit)
		return nil, &models.PaymentGatewayError{Gateway: string(gateway.Name()), Op: "initiate", Err: err}
	}

	if err := s.payments.SetGatewayRef(ctx, txn.ID, initiation.Ref, initiation.Raw); err != nil {
		// an unreferenced pending row would block every later attempt for the booking
		if _, markErr := s.payments.MarkFailed(ctx, txn.ID, "failed to record gateway reference: "+err.Error(), initiation.Raw); markErr != nil {
			s.logger.WithError(markErr).WithField("transaction_id", txn.ID).Error("Failed to mark transaction failed after gateway reference error")
		}
		audit := models.NewPaymentAudit(models.PaymentEventInitiateFailed, models.PaymentSourceBackend, txn).
			SetPayload(initiation.Raw).SetError(err.Error()).SetClient(client).SetProcessingTime(startTime)
		s.safeLog(ctx, audit)
		return nil, fmt.Errorf("failed to record gateway reference: %w", err)
	}
	txn.GatewayRef = &initiation.Ref

	audit := models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend, txn).
		SetPayload(initiation.Raw).SetClient(client).SetProcessingTime(startTime)
	audit.SetAmounts(booking.TotalPrice, amount)
	s.safeLog(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"booking_id":     booking.ID,
		"gateway":        gateway.Name(),
		"gateway_ref":    initiation.Ref,
		"amount":         amount.StringFixed(2),
	}).Info("Payment initiated")

	return &models.InitiatePaymentResult{
		TransactionID: txn.ID,
		RedirectURL:   initiation.RedirectURL,
		ClientToken:   initiation.ClientToken,
	}, nil
}

// ============================================================================
// VERIFY & WEBHOOK
// ============================================================================

// Verify settles a pending transaction from the gateway's authoritative status.
// Transactions that already left pending are returned unchanged without a
// gateway call, so repeated deliveries are harmless.
func (s *PaymentLedgerService) Verify(ctx context.Context, transactionID uuid.UUID, payload models.JSONPayload, client *models.ClientMetadata) (*models.PaymentTransaction, error) {
	txn, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, txn, payload, models.PaymentSourceUser, client)
}

// HandleWebhook authenticates a gateway notification and verifies the
// transaction it refers to
func (s *PaymentLedgerService) HandleWebhook(ctx context.Context, gatewayName models.GatewayName, payload []byte, signature string, client *models.ClientMetadata) (*models.PaymentTransaction, error) {
	if gatewayName == "" {
		return nil, models.NewValidationError("gateway", "is required")
	}
	gateway, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	ref, err := gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.logger.WithError(err).WithField("gateway", gatewayName).Warn("Rejected payment webhook")
		return nil, models.NewValidationError("payload", err.Error())
	}

	txn, err := s.payments.GetByGatewayRef(ctx, gateway.Name(), ref)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		s.logger.WithFields(logrus.Fields{
			"gateway":     gatewayName,
			"gateway_ref": ref,
		}).Warn("Webhook for unknown payment reference")
		return nil, &models.NotFoundError{Resource: "payment transaction", Key: ref}
	}

	audit := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceWebhook, txn).
		SetPayload(models.JSONPayload(payload)).SetClient(client)
	s.safeLog(ctx, audit)

	return s.verify(ctx, txn, models.JSONPayload(payload), models.PaymentSourceWebhook, client)
}

func (s *PaymentLedgerService) verify(ctx context.Context, txn *models.PaymentTransaction, payload models.JSONPayload, source models.PaymentEventSource, client *models.ClientMetadata) (*models.PaymentTransaction, error) {
	startTime := time.Now()
	gatewayLabel := string(txn.Gateway)

	requested := models.NewPaymentAudit(models.PaymentEventVerifyRequested, source, txn).
		SetPayload(payload).SetClient(client)
	s.safeLog(ctx, requested)

	if txn.Status != models.TransactionPending {
		metrics.ObservePaymentVerification(gatewayLabel, "unchanged")
		if txn.Status == models.TransactionCompleted {
			// an earlier confirmation may have failed after the payment settled
			s.confirmBooking(ctx, txn, client, false)
		}
		return txn, nil
	}
	if txn.GatewayRef == nil {
		reason := "transaction was never registered with the gateway"
		if _, err := s.payments.MarkFailed(ctx, txn.ID, reason, nil); err != nil {
			return nil, err
		}
		return nil, &models.PaymentGatewayError{Gateway: gatewayLabel, Op: "verify", Err: errors.New(reason)}
	}

	gateway, err := s.gateways.Get(txn.Gateway)
	if err != nil {
		return nil, err
	}

	result, err := gateway.Verify(ctx, GatewayVerifyParams{
		Ref:      *txn.GatewayRef,
		Stored:   txn.GatewayPayload,
		Callback: payload,
	})
	if err != nil {
		metrics.ObservePaymentVerification(gatewayLabel, "error")
		audit := models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceGateway, txn).
			SetError(err.Error()).SetClient(client).SetProcessingTime(startTime)
		s.safeLog(ctx, audit)
		return nil, &models.PaymentGatewayError{Gateway: gatewayLabel, Op: "verify", Err: err}
	}

	entry := s.logger.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"booking_id":     txn.BookingID,
		"gateway":        gatewayLabel,
		"gateway_status": result.Status,
	})

	switch result.Status {
	case GatewayStatusCompleted:
		if result.Amount != nil {
			check := models.NewPaymentAudit(models.PaymentEventAmountMismatch, models.PaymentSourceGateway, txn).
				SetGatewayStatus(string(result.Status)).SetPayload(result.Raw).SetClient(client)
			if !check.SetAmounts(txn.Amount, *result.Amount) {
				check.SetError("gateway amount differs from ledger amount").SetProcessingTime(startTime)
				s.safeLog(ctx, check)
				metrics.ObservePaymentVerification(gatewayLabel, "amount_mismatch")
				entry.WithFields(logrus.Fields{
					"expected": txn.Amount.StringFixed(2),
					"received": result.Amount.StringFixed(2),
				}).Error("Payment amount mismatch")
				return nil, &models.PaymentGatewayError{
					Gateway: gatewayLabel, Op: "verify",
					Err: fmt.Errorf("amount mismatch: expected %s, gateway reported %s",
						txn.Amount.StringFixed(2), result.Amount.StringFixed(2)),
				}
			}
		}

		won, err := s.payments.MarkCompleted(ctx, txn.ID, result.Raw)
		if err != nil {
			return nil, err
		}
		if won {
			metrics.ObservePaymentVerification(gatewayLabel, "completed")
			audit := models.NewPaymentAudit(models.PaymentEventSuccess, source, txn).
				SetGatewayStatus(string(result.Status)).SetPayload(result.Raw).
				SetClient(client).SetProcessingTime(startTime)
			s.safeLog(ctx, audit)
			entry.Info("Payment completed")
		}

		// Confirmation is idempotent, so the loser of a verify race retries it too.
		s.confirmBooking(ctx, txn, client, true)

	case GatewayStatusFailed:
		won, err := s.payments.MarkFailed(ctx, txn.ID, result.Reason, result.Raw)
		if err != nil {
			return nil, err
		}
		if won {
			metrics.ObservePaymentVerification(gatewayLabel, "failed")
			audit := models.NewPaymentAudit(models.PaymentEventFailed, source, txn).
				SetGatewayStatus(string(result.Status)).SetPayload(result.Raw).
				SetError(result.Reason).SetClient(client).SetProcessingTime(startTime)
			s.safeLog(ctx, audit)
			entry.WithField("reason", result.Reason).Warn("Payment failed")
		}

	default:
		metrics.ObservePaymentVerification(gatewayLabel, "pending")
		entry.Debug("Payment still pending at gateway")
	}

	return s.GetTransaction(ctx, txn.ID)
}

// confirmBooking confirms the booking for a completed transaction. When
// refundRejected is set, a booking that was cancelled or paid by another
// transaction in the meantime gets its money back.
func (s *PaymentLedgerService) confirmBooking(ctx context.Context, txn *models.PaymentTransaction, client *models.ClientMetadata, refundRejected bool) {
	if s.confirmer == nil {
		return
	}

	_, err := s.confirmer.ConfirmPayment(ctx, txn.BookingID, txn.ID)
	if err == nil {
		audit := models.NewPaymentAudit(models.PaymentEventBookingConfirmed, models.PaymentSourceBackend, txn).SetClient(client)
		s.safeLog(ctx, audit)
		return
	}

	audit := models.NewPaymentAudit(models.PaymentEventBookingConfirmFailed, models.PaymentSourceBackend, txn).
		SetError(err.Error()).SetClient(client)
	s.safeLog(ctx, audit)

	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"booking_id":     txn.BookingID,
	})

	var cancelled *models.BookingAlreadyCancelledError
	var confirmedElsewhere *models.BookingAlreadyConfirmedError
	if !errors.As(err, &cancelled) && !errors.As(err, &confirmedElsewhere) {
		entry.Error("Booking confirmation failed after payment completed")
		return
	}
	if !refundRejected {
		entry.Info("Completed payment no longer matches its booking; refund is left to the original verification")
		return
	}

	entry.Warn("Payment completed for a booking that cannot accept it, refunding")
	if _, refundErr := s.Refund(ctx, txn.ID, nil, "booking no longer payable", client); refundErr != nil {
		entry.WithField("refund_error", refundErr.Error()).Error("Automatic refund failed; manual follow-up required")
	}
}

// ============================================================================
// REFUND
// ============================================================================

// Refund returns all or part of a completed transaction. A transaction is
// refunded at most once.
func (s *PaymentLedgerService) Refund(ctx context.Context, transactionID uuid.UUID, amount *decimal.Decimal, reason string, client *models.ClientMetadata) (*models.Refund, error) {
	startTime := time.Now()

	txn, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TransactionCompleted {
		return nil, &models.RefundNotAllowedError{TransactionID: txn.ID, Status: txn.Status}
	}

	refundAmount := txn.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if !refundAmount.IsPositive() {
		return nil, models.NewValidationError("amount", "must be greater than zero")
	}
	if refundAmount.GreaterThan(txn.Amount) {
		return nil, models.NewValidationError("amount",
			fmt.Sprintf("must not exceed the paid amount %s", txn.Amount.StringFixed(2)))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewValidationError("reason", "is required")
	}
	if txn.GatewayRef == nil {
		return nil, &models.PaymentGatewayError{
			Gateway: string(txn.Gateway), Op: "refund",
			Err: errors.New("transaction has no gateway reference"),
		}
	}

	gateway, err := s.gateways.Get(txn.Gateway)
	if err != nil {
		return nil, err
	}

	initiated := models.NewPaymentAudit(models.PaymentEventRefundInitiated, models.PaymentSourceBackend, txn).
		SetClient(client)
	initiated.SetAmounts(txn.Amount, refundAmount)
	s.safeLog(ctx, initiated)

	// The transaction id doubles as idempotency key, so a retried refund is
	// never paid out twice by the gateway.
	gatewayRefund, err := gateway.Refund(ctx, *txn.GatewayRef, refundAmount, txn.Currency, txn.ID.String())
	if err != nil {
		metrics.ObserveRefund(string(txn.Gateway), "error")
		audit := models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceGateway, txn).
			SetError(err.Error()).SetClient(client).SetProcessingTime(startTime)
		s.safeLog(ctx, audit)
		return nil, &models.PaymentGatewayError{Gateway: string(txn.Gateway), Op: "refund", Err: err}
	}

	won, err := s.payments.MarkRefunded(ctx, txn.ID, refundAmount, gatewayRefund.Reference, reason)
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.GetTransaction(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.TransactionRefunded {
			return nil, &models.RefundNotAllowedError{TransactionID: txn.ID, Status: current.Status}
		}
		return refundFromTransaction(current), nil
	}

	if _, err := s.bookings.MarkRefunded(ctx, txn.BookingID); err != nil {
		s.logger.WithError(err).WithField("booking_id", txn.BookingID).Error("Failed to mark booking refunded")
	}

	metrics.ObserveRefund(string(txn.Gateway), "refunded")
	completed := models.NewPaymentAudit(models.PaymentEventRefundCompleted, models.PaymentSourceGateway, txn).
		SetGatewayStatus(gatewayRefund.Status).SetPayload(gatewayRefund.Raw).
		SetClient(client).SetProcessingTime(startTime)
	s.safeLog(ctx, completed)

	refund := &models.Refund{
		TransactionID: txn.ID,
		Amount:        refundAmount,
		Currency:      txn.Currency,
		Reference:     gatewayRefund.Reference,
		Reason:        reason,
		RefundedAt:    time.Now(),
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id":   txn.ID,
		"booking_id":       txn.BookingID,
		"amount":           refundAmount.StringFixed(2),
		"refund_reference": gatewayRefund.Reference,
	}).Info("Payment refunded")

	if err := s.publisher.Publish(ctx, events.PaymentRefunded, txn.BookingID.String(), refund); err != nil {
		s.logger.WithError(err).WithField("transaction_id", txn.ID).Warn("Failed to publish domain event")
	}
	return refund, nil
}

func refundFromTransaction(txn *models.PaymentTransaction) *models.Refund {
	refund := &models.Refund{TransactionID: txn.ID, Currency: txn.Currency}
	if txn.RefundAmount != nil {
		refund.Amount = *txn.RefundAmount
	}
	if txn.RefundReference != nil {
		refund.Reference = *txn.RefundReference
	}
	if txn.RefundReason != nil {
		refund.Reason = *txn.RefundReason
	}
	if txn.RefundedAt != nil {
		refund.RefundedAt = *txn.RefundedAt
	}
	return refund
}

// ============================================================================
// READ
// ============================================================================

// GetTransaction returns a transaction or NotFoundError
func (s *PaymentLedgerService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, models.NewNotFoundError("payment transaction", id)
	}
	return txn, nil
}

// ListAudit returns the audit trail of a transaction
func (s *PaymentLedgerService) ListAudit(ctx context.Context, transactionID uuid.UUID) ([]models.PaymentAudit, error) {
	if _, err := s.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	audits, err := s.audits.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if audits == nil {
		audits = []models.PaymentAudit{}
	}
	return audits, nil
}

// ListBookingTransactions returns every payment attempt made for a booking
func (s *PaymentLedgerService) ListBookingTransactions(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentTransaction, error) {
	txns, err := s.payments.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []models.PaymentTransaction{}
	}
	return txns, nil
}

// safeLog writes an audit entry without failing the payment operation
func (s *PaymentLedgerService) safeLog(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audits.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Error("AUDIT ERROR")
	}
}
