package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/events"
	"github.com/smarttransit/tourism-booking-core/internal/metrics"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// CommissionConfig holds commission ledger settings
type CommissionConfig struct {
	// DefaultRate applies to agents without a configured rate
	DefaultRate decimal.Decimal
	// Currency of payout batches
	Currency string
}

// CommissionLedgerService accrues agent commissions and batches them into payouts
type CommissionLedgerService struct {
	commissions CommissionStore
	bookings    BookingStore
	publisher   events.Publisher
	config      CommissionConfig
	logger      *logrus.Logger
}

// NewCommissionLedgerService creates a new commission ledger
func NewCommissionLedgerService(
	commissions CommissionStore,
	bookings BookingStore,
	publisher events.Publisher,
	config CommissionConfig,
	logger *logrus.Logger,
) *CommissionLedgerService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &CommissionLedgerService{
		commissions: commissions,
		bookings:    bookings,
		publisher:   publisher,
		config:      config,
		logger:      logger,
	}
}

// Accrue records the commission of a confirmed agent booking. It is safe to
// call more than once; only the first call creates a commission.
func (s *CommissionLedgerService) Accrue(ctx context.Context, bookingID uuid.UUID) error {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		return models.NewNotFoundError("booking", bookingID)
	}

	entry := s.logger.WithField("booking_id", bookingID)

	if booking.AgentID == nil {
		entry.Debug("Booking has no agent, no commission accrued")
		return nil
	}
	if booking.Status != models.BookingStatusConfirmed && booking.Status != models.BookingStatusCompleted {
		metrics.ObserveInvariantViolation("commission_unconfirmed_booking")
		entry.WithFields(logrus.Fields{
			"status":              booking.Status,
			"invariant_violation": true,
		}).Error("Commission accrual requested for a booking that is not confirmed")
		return nil
	}

	agent, err := s.commissions.GetAgent(ctx, *booking.AgentID)
	if err != nil {
		return err
	}
	if agent == nil {
		entry.WithField("agent_id", *booking.AgentID).Warn("Booking references unknown agent, no commission accrued")
		return nil
	}
	if agent.Status != models.AgentActive {
		entry.WithField("agent_id", agent.ID).Info("Agent is not active, no commission accrued")
		return nil
	}

	rate := s.config.DefaultRate
	if agent.CommissionRate != nil {
		rate = *agent.CommissionRate
	} else {
		entry.WithFields(logrus.Fields{
			"agent_id": agent.ID,
			"rate":     rate.String(),
		}).Info("Agent has no commission rate configured, using default")
	}

	commission := &models.Commission{
		ID:           uuid.New(),
		BookingID:    booking.ID,
		AgentID:      agent.ID,
		BookingTotal: booking.TotalPrice,
		Rate:         rate,
		Amount:       models.CommissionAmount(booking.TotalPrice, rate),
		Currency:     booking.Currency,
	}

	created, err := s.commissions.CreateIfAbsent(ctx, commission)
	if err != nil {
		return err
	}
	if !created {
		entry.Debug("Commission already accrued for booking")
		return nil
	}

	metrics.ObserveCommissionAccrued()
	entry.WithFields(logrus.Fields{
		"commission_id": commission.ID,
		"agent_id":      agent.ID,
		"amount":        commission.Amount.StringFixed(2),
	}).Info("Commission accrued")
	return nil
}

// AgentForUser resolves the agent profile of a user
func (s *CommissionLedgerService) AgentForUser(ctx context.Context, userID uuid.UUID) (*models.Agent, error) {
	agent, err := s.commissions.GetAgentByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, &models.NotFoundError{Resource: "agent for user", ID: userID}
	}
	return agent, nil
}

// ListAgentCommissions returns an agent's commissions, optionally by status
func (s *CommissionLedgerService) ListAgentCommissions(ctx context.Context, agentID uuid.UUID, status *models.CommissionStatus) ([]models.Commission, error) {
	commissions, err := s.commissions.ListByAgent(ctx, agentID, status)
	if err != nil {
		return nil, err
	}
	if commissions == nil {
		commissions = []models.Commission{}
	}
	return commissions, nil
}

// ============================================================================
// PAYOUTS
// ============================================================================

// RequestPayout batches every pending commission of the agent into a new payout
func (s *CommissionLedgerService) RequestPayout(ctx context.Context, agentID uuid.UUID, paymentMethod string) (*models.CommissionPayout, error) {
	paymentMethod = strings.TrimSpace(paymentMethod)
	if paymentMethod == "" {
		return nil, models.NewValidationError("payment_method", "is required")
	}

	agent, err := s.commissions.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, models.NewNotFoundError("agent", agentID)
	}

	payout := &models.CommissionPayout{
		ID:            uuid.New(),
		AgentID:       agentID,
		Currency:      s.config.Currency,
		PaymentMethod: paymentMethod,
	}
	if err := s.commissions.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	metrics.ObservePayout(string(models.PayoutPending))
	s.logger.WithFields(logrus.Fields{
		"payout_id":   payout.ID,
		"agent_id":    agentID,
		"commissions": len(payout.CommissionIDs),
		"total":       payout.TotalAmount.StringFixed(2),
	}).Info("Commission payout requested")

	s.publish(ctx, events.PayoutRequested, payout)
	return payout, nil
}

// GetBookingCommission returns the commission accrued for a booking or NotFoundError
func (s *CommissionLedgerService) GetBookingCommission(ctx context.Context, bookingID uuid.UUID) (*models.Commission, error) {
	commission, err := s.commissions.GetByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if commission == nil {
		return nil, &models.NotFoundError{Resource: "commission", Key: "booking " + bookingID.String()}
	}
	return commission, nil
}

// GetPayout returns a payout or NotFoundError
func (s *CommissionLedgerService) GetPayout(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error) {
	payout, err := s.commissions.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, models.NewNotFoundError("payout", id)
	}
	return payout, nil
}

// MarkPayoutProcessing records that the operator started the transfer
func (s *CommissionLedgerService) MarkPayoutProcessing(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error) {
	payout, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status == models.PayoutProcessing {
		return payout, nil
	}
	if !payout.Status.CanTransitionTo(models.PayoutProcessing) {
		return nil, payoutTransitionError(payout, models.PayoutProcessing)
	}

	won, err := s.commissions.MarkPayoutProcessing(ctx, id)
	if err != nil {
		return nil, err
	}

	current, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won && current.Status != models.PayoutProcessing {
		return nil, payoutTransitionError(current, models.PayoutProcessing)
	}
	if won {
		metrics.ObservePayout(string(models.PayoutProcessing))
		s.logger.WithField("payout_id", id).Info("Commission payout processing")
	}
	return current, nil
}

// SettlePayout records the outcome of a payout. Completed marks its
// commissions paid; failed returns them to pending for the next payout.
// Repeating the recorded outcome is a no-op.
func (s *CommissionLedgerService) SettlePayout(ctx context.Context, id uuid.UUID, outcome models.PayoutStatus, failureReason *string) (*models.CommissionPayout, error) {
	if !outcome.IsSettled() {
		return nil, models.NewValidationError("outcome", "must be 'completed' or 'failed'")
	}
	if outcome == models.PayoutCompleted {
		failureReason = nil
	}

	payout, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status.IsSettled() {
		if payout.Status == outcome {
			return payout, nil
		}
		return nil, payoutTransitionError(payout, outcome)
	}

	won, err := s.commissions.SettlePayout(ctx, id, outcome, failureReason)
	if err != nil {
		return nil, err
	}

	current, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		if current.Status == outcome {
			return current, nil
		}
		return nil, payoutTransitionError(current, outcome)
	}

	metrics.ObservePayout(string(outcome))
	s.logger.WithFields(logrus.Fields{
		"payout_id": id,
		"agent_id":  current.AgentID,
		"outcome":   outcome,
	}).Info("Commission payout settled")

	s.publish(ctx, events.PayoutSettled, current)
	return current, nil
}

func payoutTransitionError(payout *models.CommissionPayout, target models.PayoutStatus) error {
	return &models.InvalidTransitionError{
		Entity: "payout",
		ID:     payout.ID,
		From:   string(payout.Status),
		To:     string(target),
	}
}

func (s *CommissionLedgerService) publish(ctx context.Context, eventType string, payout *models.CommissionPayout) {
	if err := s.publisher.Publish(ctx, eventType, payout.AgentID.String(), payout); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"payout_id":  payout.ID,
		}).Warn("Failed to publish domain event")
	}
}
