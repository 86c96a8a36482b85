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
	"github.com/smarttransit/tourism-booking-core/internal/database"
	"github.com/smarttransit/tourism-booking-core/internal/events"
	"github.com/smarttransit/tourism-booking-core/internal/metrics"
	"github.com/smarttransit/tourism-booking-core/internal/models"
	"github.com/smarttransit/tourism-booking-core/internal/utils"
	"github.com/smarttransit/tourism-booking-core/pkg/validator"
)

const referenceAttempts = 3

// BookingConfig holds booking lifecycle settings
type BookingConfig struct {
	ReferencePrefix string
	MaxParticipants int
}

// CommissionAccruer records an agent's commission for a newly confirmed booking
type CommissionAccruer interface {
	Accrue(ctx context.Context, bookingID uuid.UUID) error
}

// Refunder returns money for a completed payment transaction
type Refunder interface {
	Refund(ctx context.Context, transactionID uuid.UUID, amount *decimal.Decimal, reason string, client *models.ClientMetadata) (*models.Refund, error)
}

// RefundPolicy decides whether cancelling a paid booking refunds it
type RefundPolicy func(booking *models.Booking, slot *models.AvailabilitySlot, now time.Time) bool

// FullRefundBeforeDeadline refunds in full when cancelled before the slot's
// cancellation deadline
func FullRefundBeforeDeadline(booking *models.Booking, slot *models.AvailabilitySlot, now time.Time) bool {
	return now.Before(slot.CancellationDeadline())
}

// BookingService owns the booking lifecycle
type BookingService struct {
	bookings     BookingStore
	payments     PaymentStore
	availability *AvailabilityService
	commissions  CommissionAccruer
	refunder     Refunder
	refundPolicy RefundPolicy
	publisher    events.Publisher
	validator    *validator.StructValidator
	config       BookingConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewBookingService creates a new booking service. The refunder is attached
// afterwards with SetRefunder since the payment ledger depends on this service.
func NewBookingService(
	bookings BookingStore,
	payments PaymentStore,
	availability *AvailabilityService,
	commissions CommissionAccruer,
	publisher events.Publisher,
	config BookingConfig,
	logger *logrus.Logger,
) *BookingService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if config.ReferencePrefix == "" {
		config.ReferencePrefix = "TB"
	}
	return &BookingService{
		bookings:     bookings,
		payments:     payments,
		availability: availability,
		commissions:  commissions,
		refundPolicy: FullRefundBeforeDeadline,
		publisher:    publisher,
		validator:    validator.NewStructValidator(),
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// SetRefunder attaches the component that issues cancellation refunds
func (s *BookingService) SetRefunder(refunder Refunder) {
	s.refunder = refunder
}

// SetRefundPolicy replaces the cancellation refund policy
func (s *BookingService) SetRefundPolicy(policy RefundPolicy) {
	s.refundPolicy = policy
}

// ============================================================================
// CREATE
// ============================================================================

// Create validates the request, reserves capacity and persists the booking.
// If persistence fails the reservation is released before the error is returned.
func (s *BookingService) Create(ctx context.Context, req *models.CreateBookingRequest) (*models.Booking, error) {
	participants, contact, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}

	slot, err := s.availability.GetSlot(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}

	count := len(participants)
	if count < slot.MinParticipants || count > slot.MaxParticipants {
		return nil, models.NewValidationError("participants",
			fmt.Sprintf("slot accepts between %d and %d participants, got %d", slot.MinParticipants, slot.MaxParticipants, count))
	}

	now := s.now()
	if !now.Before(slot.StartsAt()) {
		return nil, models.NewValidationError("slot_id", "slot has already started")
	}
	if now.After(slot.BookingClosesAt()) {
		return nil, models.NewValidationError("slot_id", "booking deadline for this slot has passed")
	}

	reservationID, err := s.availability.Reserve(ctx, slot.ID, count)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ID:               uuid.New(),
		SlotID:           slot.ID,
		UserID:           req.UserID,
		AgentID:          req.AgentID,
		ParticipantCount: count,
		TotalPrice:       priceFor(slot, count),
		Currency:         slot.Currency,
		Status:           models.BookingStatusPending,
		PaymentStatus:    models.BookingPaymentPending,
		ReservationID:    uuid.UUID(reservationID),
		ContactInfo:      contact,
	}

	if err := s.persist(ctx, booking, participants); err != nil {
		s.compensate(ctx, booking, err)
		return nil, err
	}

	metrics.ObserveBookingTransition(string(models.BookingStatusPending))
	s.logger.WithFields(logrus.Fields{
		"booking_id":        booking.ID,
		"booking_reference": booking.BookingReference,
		"slot_id":           booking.SlotID,
		"participants":      count,
		"total_price":       booking.TotalPrice.StringFixed(2),
	}).Info("Booking created")

	s.publish(ctx, events.BookingCreated, booking.ID, booking)
	return booking, nil
}

func (s *BookingService) validateCreate(req *models.CreateBookingRequest) ([]models.BookingParticipant, models.ContactInfo, error) {
	contact := req.ContactInfo
	if req.UserID == uuid.Nil {
		return nil, contact, models.NewValidationError("user_id", "is required")
	}
	if req.SlotID == uuid.Nil {
		return nil, contact, models.NewValidationError("slot_id", "is required")
	}
	if len(req.Participants) == 0 {
		return nil, contact, models.NewValidationError("participants", "at least one participant is required")
	}
	if s.config.MaxParticipants > 0 && len(req.Participants) > s.config.MaxParticipants {
		return nil, contact, models.NewValidationError("participants",
			fmt.Sprintf("at most %d participants per booking", s.config.MaxParticipants))
	}

	contact.Name = strings.TrimSpace(contact.Name)
	contact.Email = strings.TrimSpace(contact.Email)
	if err := s.validator.Struct(contact, "contact_info"); err != nil {
		return nil, contact, asValidationError(err)
	}
	phone, err := s.validator.NormalizePhone(contact.Phone)
	if err != nil {
		return nil, contact, models.NewValidationError("contact_info.phone", err.Error())
	}
	contact.Phone = phone

	participants := make([]models.BookingParticipant, len(req.Participants))
	for i, p := range req.Participants {
		p.FullName = strings.TrimSpace(p.FullName)
		prefix := fmt.Sprintf("participants[%d]", i)
		if err := s.validator.Struct(p, prefix); err != nil {
			return nil, contact, asValidationError(err)
		}
		if p.Phone != nil {
			normalized, err := s.validator.NormalizePhone(*p.Phone)
			if err != nil {
				return nil, contact, models.NewValidationError(prefix+".phone", err.Error())
			}
			p.Phone = &normalized
		}
		if p.Nationality != nil {
			upper := strings.ToUpper(*p.Nationality)
			p.Nationality = &upper
		}
		if p.DateOfBirth != nil && p.DateOfBirth.After(s.now()) {
			return nil, contact, models.NewValidationError(prefix+".date_of_birth", "must be in the past")
		}
		p.ID = uuid.Nil
		participants[i] = p
	}

	return participants, contact, nil
}

func asValidationError(err error) error {
	var fe *validator.FieldError
	if errors.As(err, &fe) {
		return models.NewValidationError(fe.Field, fe.Message)
	}
	return models.NewValidationError("", err.Error())
}

// persist retries only when the generated reference collides
func (s *BookingService) persist(ctx context.Context, booking *models.Booking, participants []models.BookingParticipant) error {
	var err error
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		booking.BookingReference, err = s.generateReference()
		if err != nil {
			return err
		}
		err = s.bookings.CreateWithParticipants(ctx, booking, participants)
		if !errors.Is(err, database.ErrDuplicateReference) {
			return err
		}
		s.logger.WithField("booking_reference", booking.BookingReference).Warn("Booking reference collision, regenerating")
	}
	return fmt.Errorf("failed to generate unique booking reference after %d attempts: %w", referenceAttempts, err)
}

// generateReference builds PREFIX-YYYYMMDD-XXXXXX
func (s *BookingService) generateReference() (string, error) {
	suffix, err := utils.RandomHex(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", s.config.ReferencePrefix, s.now().Format("20060102"), suffix), nil
}

func (s *BookingService) compensate(ctx context.Context, booking *models.Booking, cause error) {
	entry := s.logger.WithFields(logrus.Fields{
		"slot_id":        booking.SlotID,
		"reservation_id": booking.ReservationID,
		"participants":   booking.ParticipantCount,
	})
	entry.WithError(cause).Warn("Booking persistence failed, releasing reservation")

	if err := s.availability.Release(ctx, booking.SlotID, booking.ParticipantCount); err != nil {
		metrics.ObserveInvariantViolation("compensation_failed")
		entry.WithError(err).WithField("invariant_violation", true).
			Error("Failed to release reservation after booking persistence failure; capacity leaked")
	}
}

// ============================================================================
// CONFIRM
// ============================================================================

// ConfirmPayment confirms a pending booking with a completed transaction.
// Repeating the call with the same transaction is a no-op.
func (s *BookingService) ConfirmPayment(ctx context.Context, bookingID, transactionID uuid.UUID) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	txn, err := s.payments.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, models.NewNotFoundError("payment transaction", transactionID)
	}
	if txn.BookingID != bookingID {
		return nil, models.NewValidationError("transaction_id", "transaction belongs to a different booking")
	}

	if booking.Status == models.BookingStatusPending {
		if txn.Status != models.TransactionCompleted {
			return nil, models.NewValidationError("transaction_id",
				fmt.Sprintf("transaction is %s, not completed", txn.Status))
		}

		won, err := s.bookings.MarkConfirmed(ctx, bookingID, transactionID)
		if err != nil {
			return nil, err
		}
		if won {
			return s.afterConfirm(ctx, bookingID, transactionID)
		}

		// lost the race; judge against whatever state won
		if booking, err = s.getBooking(ctx, bookingID); err != nil {
			return nil, err
		}
	}

	return booking, confirmOutcome(booking, transactionID)
}

// confirmOutcome classifies a confirmation attempt on a booking that is no longer pending
func confirmOutcome(booking *models.Booking, transactionID uuid.UUID) error {
	switch booking.Status {
	case models.BookingStatusCancelled:
		return &models.BookingAlreadyCancelledError{BookingID: booking.ID}
	case models.BookingStatusConfirmed, models.BookingStatusCompleted:
		if booking.IsConfirmedBy(transactionID) {
			return nil
		}
		confirmedBy := uuid.Nil
		if booking.ConfirmedTransactionID != nil {
			confirmedBy = *booking.ConfirmedTransactionID
		}
		return &models.BookingAlreadyConfirmedError{
			BookingID:              booking.ID,
			ConfirmedTransactionID: confirmedBy,
			AttemptedTransactionID: transactionID,
		}
	default:
		return &models.InvalidTransitionError{
			Entity: "booking",
			ID:     booking.ID,
			From:   string(booking.Status),
			To:     string(models.BookingStatusConfirmed),
		}
	}
}

func (s *BookingService) afterConfirm(ctx context.Context, bookingID, transactionID uuid.UUID) (*models.Booking, error) {
	metrics.ObserveBookingTransition(string(models.BookingStatusConfirmed))
	s.logger.WithFields(logrus.Fields{
		"booking_id":     bookingID,
		"transaction_id": transactionID,
	}).Info("Booking confirmed")

	if s.commissions != nil {
		if err := s.commissions.Accrue(ctx, bookingID); err != nil {
			s.logger.WithError(err).WithField("booking_id", bookingID).Error("Commission accrual failed")
		}
	}

	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.BookingConfirmed, bookingID, booking)
	return booking, nil
}

// ============================================================================
// CANCEL
// ============================================================================

// Cancel cancels a pending or confirmed booking. Only the caller that performs
// the transition releases capacity; repeats report AlreadyCancelled.
func (s *BookingService) Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*models.CancelResult, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.BookingStatusCancelled:
		return &models.CancelResult{Booking: booking, AlreadyCancelled: true}, nil
	case models.BookingStatusCompleted:
		return nil, &models.InvalidTransitionError{
			Entity: "booking", ID: bookingID,
			From: string(booking.Status), To: string(models.BookingStatusCancelled),
		}
	}

	reason = strings.TrimSpace(reason)
	prev, err := s.bookings.MarkCancelled(ctx, bookingID, reason)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		current, err := s.getBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.BookingStatusCancelled {
			return &models.CancelResult{Booking: current, AlreadyCancelled: true}, nil
		}
		return nil, &models.InvalidTransitionError{
			Entity: "booking", ID: bookingID,
			From: string(current.Status), To: string(models.BookingStatusCancelled),
		}
	}

	metrics.ObserveBookingTransition(string(models.BookingStatusCancelled))
	entry := s.logger.WithFields(logrus.Fields{
		"booking_id":      bookingID,
		"slot_id":         booking.SlotID,
		"previous_status": prev.Status,
	})
	entry.Info("Booking cancelled")

	if err := s.availability.Release(ctx, booking.SlotID, booking.ParticipantCount); err != nil {
		metrics.ObserveInvariantViolation("cancel_release_failed")
		entry.WithError(err).WithField("invariant_violation", true).
			Error("Failed to release capacity for cancelled booking")
	}

	result := &models.CancelResult{}
	if prev.PaymentStatus == models.BookingPaymentPaid {
		s.refundOnCancel(ctx, booking, reason, result)
	}

	current, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	result.Booking = current

	s.publish(ctx, events.BookingCancelled, bookingID, result)
	return result, nil
}

func (s *BookingService) refundOnCancel(ctx context.Context, booking *models.Booking, reason string, result *models.CancelResult) {
	entry := s.logger.WithField("booking_id", booking.ID)
	if s.refunder == nil {
		return
	}

	slot, err := s.availability.GetSlot(ctx, booking.SlotID)
	if err != nil {
		result.RefundError = err.Error()
		entry.WithError(err).Error("Could not evaluate refund policy")
		return
	}
	if !s.refundPolicy(booking, slot, s.now()) {
		entry.Info("Cancellation after refund deadline, no refund issued")
		return
	}

	txn, err := s.payments.GetCompletedByBooking(ctx, booking.ID)
	if err != nil {
		result.RefundError = err.Error()
		entry.WithError(err).Error("Could not load payment for refund")
		return
	}
	if txn == nil {
		result.RefundError = "no completed payment found for booking"
		entry.WithField("invariant_violation", true).Error("Paid booking has no completed payment transaction")
		return
	}

	refundReason := "booking cancelled"
	if reason != "" {
		refundReason = "booking cancelled: " + reason
	}
	refund, err := s.refunder.Refund(ctx, txn.ID, nil, refundReason, nil)
	if err != nil {
		result.RefundError = err.Error()
		entry.WithError(err).WithField("transaction_id", txn.ID).Error("Cancellation refund failed; cancellation stands")
		return
	}
	result.RefundIssued = refund
}

// ============================================================================
// COMPLETE & READ
// ============================================================================

// Complete marks a confirmed booking as completed once its slot date has passed
func (s *BookingService) Complete(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.BookingStatusCompleted:
		return booking, nil
	case models.BookingStatusCancelled:
		return nil, &models.BookingAlreadyCancelledError{BookingID: bookingID}
	case models.BookingStatusPending:
		return nil, &models.InvalidTransitionError{
			Entity: "booking", ID: bookingID,
			From: string(booking.Status), To: string(models.BookingStatusCompleted),
		}
	}

	slot, err := s.availability.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return nil, err
	}
	if s.now().Before(slot.SlotDate.AddDate(0, 0, 1)) {
		return nil, models.NewValidationError("slot_date", "booking cannot be completed before its slot date has passed")
	}

	won, err := s.bookings.MarkCompleted(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	current, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !won {
		if current.Status == models.BookingStatusCompleted {
			return current, nil
		}
		return nil, &models.InvalidTransitionError{
			Entity: "booking", ID: bookingID,
			From: string(current.Status), To: string(models.BookingStatusCompleted),
		}
	}

	metrics.ObserveBookingTransition(string(models.BookingStatusCompleted))
	s.logger.WithField("booking_id", bookingID).Info("Booking completed")
	s.publish(ctx, events.BookingCompleted, bookingID, current)
	return current, nil
}

// GetBooking returns a booking with its participants
func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	participants, err := s.bookings.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	booking.Participants = participants
	return booking, nil
}

// ListUserBookings returns a page of a user's bookings, newest first
func (s *BookingService) ListUserBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	bookings, err := s.bookings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	return bookings, nil
}

func (s *BookingService) getBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, models.NewNotFoundError("booking", id)
	}
	return booking, nil
}

// publish hands the event off after the state change is durable; failures are
// logged and never undo the change
func (s *BookingService) publish(ctx context.Context, eventType string, key uuid.UUID, data interface{}) {
	if err := s.publisher.Publish(ctx, eventType, key.String(), data); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"key":        key,
		}).Warn("Failed to publish domain event")
	}
}
