package services

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/database"
	"github.com/smarttransit/tourism-booking-core/internal/models"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ============================================================================
// SLOTS
// ============================================================================

type memSlotStore struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*models.AvailabilitySlot
}

func newMemSlotStore() *memSlotStore {
	return &memSlotStore{slots: make(map[uuid.UUID]*models.AvailabilitySlot)}
}

func (m *memSlotStore) put(slot models.AvailabilitySlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot.ID] = &slot
}

func (m *memSlotStore) booked(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id].BookedCount
}

func (m *memSlotStore) Create(ctx context.Context, slot *models.AvailabilitySlot) error {
	m.put(*slot)
	return nil
}

func (m *memSlotStore) GetByID(ctx context.Context, id uuid.UUID) (*models.AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return nil, nil
	}
	cp := *slot
	return &cp, nil
}

func (m *memSlotStore) Search(ctx context.Context, filter models.SlotSearchFilter, today time.Time) ([]models.AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AvailabilitySlot
	for _, slot := range m.slots {
		if slot.IsBlocked || slot.SlotDate.Before(today) || slot.AvailableSpaces() <= 0 {
			continue
		}
		if filter.ResourceID != nil && slot.ResourceID != *filter.ResourceID {
			continue
		}
		out = append(out, *slot)
	}
	return out, nil
}

func (m *memSlotStore) Reserve(ctx context.Context, id uuid.UUID, count int) (*models.AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok || slot.IsBlocked || slot.BookedCount+count > slot.TotalCapacity {
		return nil, nil
	}
	slot.BookedCount += count
	cp := *slot
	return &cp, nil
}

func (m *memSlotStore) Release(ctx context.Context, id uuid.UUID, count int) (*database.ReleaseOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return nil, nil
	}
	before := slot.BookedCount
	slot.BookedCount -= count
	if slot.BookedCount < 0 {
		slot.BookedCount = 0
	}
	return &database.ReleaseOutcome{Before: before, After: slot.BookedCount}, nil
}

func (m *memSlotStore) SetBlocked(ctx context.Context, resourceID uuid.UUID, from, to time.Time, blocked bool, reason *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, slot := range m.slots {
		if slot.ResourceID != resourceID || slot.SlotDate.Before(from) || slot.SlotDate.After(to) {
			continue
		}
		slot.IsBlocked = blocked
		slot.BlockReason = reason
		n++
	}
	return n, nil
}

func (m *memSlotStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok || slot.BookedCount > 0 {
		return false, nil
	}
	delete(m.slots, id)
	return true, nil
}

// ============================================================================
// BOOKINGS
// ============================================================================

type memBookingStore struct {
	mu           sync.Mutex
	bookings     map[uuid.UUID]*models.Booking
	participants map[uuid.UUID][]models.BookingParticipant
	createErrs   []error
}

func newMemBookingStore() *memBookingStore {
	return &memBookingStore{
		bookings:     make(map[uuid.UUID]*models.Booking),
		participants: make(map[uuid.UUID][]models.BookingParticipant),
	}
}

func (m *memBookingStore) put(b models.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = &b
}

func (m *memBookingStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

func (m *memBookingStore) CreateWithParticipants(ctx context.Context, booking *models.Booking, participants []models.BookingParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		return err
	}
	now := time.Now()
	booking.CreatedAt, booking.UpdatedAt = now, now
	for i := range participants {
		participants[i].ID = uuid.New()
		participants[i].BookingID = booking.ID
	}
	cp := *booking
	m.bookings[booking.ID] = &cp
	m.participants[booking.ID] = participants
	booking.Participants = participants
	return nil
}

func (m *memBookingStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	cp.Participants = nil
	return &cp, nil
}

func (m *memBookingStore) GetParticipants(ctx context.Context, bookingID uuid.UUID) ([]models.BookingParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participants[bookingID], nil
}

func (m *memBookingStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBookingStore) MarkConfirmed(ctx context.Context, id, transactionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != models.BookingStatusPending {
		return false, nil
	}
	b.Status = models.BookingStatusConfirmed
	b.PaymentStatus = models.BookingPaymentPaid
	txn := transactionID
	b.ConfirmedTransactionID = &txn
	return true, nil
}

func (m *memBookingStore) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || (b.Status != models.BookingStatusPending && b.Status != models.BookingStatusConfirmed) {
		return nil, nil
	}
	prev := models.Booking{ID: id, Status: b.Status, PaymentStatus: b.PaymentStatus}
	b.Status = models.BookingStatusCancelled
	b.CancellationReason = &reason
	return &prev, nil
}

func (m *memBookingStore) MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != models.BookingStatusConfirmed {
		return false, nil
	}
	b.Status = models.BookingStatusCompleted
	return true, nil
}

func (m *memBookingStore) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.PaymentStatus != models.BookingPaymentPaid {
		return false, nil
	}
	b.PaymentStatus = models.BookingPaymentRefunded
	return true, nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

type memPaymentStore struct {
	mu        sync.Mutex
	txns      map[uuid.UUID]*models.PaymentTransaction
	setRefErr error
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{txns: make(map[uuid.UUID]*models.PaymentTransaction)}
}

func (m *memPaymentStore) put(txn models.PaymentTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[txn.ID] = &txn
}

func (m *memPaymentStore) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.txns {
		if existing.BookingID == txn.BookingID && existing.Status.IsActive() {
			return &models.InvalidTransitionError{Entity: "booking", ID: txn.BookingID, From: "payment in progress", To: "new payment"}
		}
	}
	txn.CreatedAt = time.Now()
	txn.UpdatedAt = txn.CreatedAt
	cp := *txn
	m.txns[txn.ID] = &cp
	return nil
}

func (m *memPaymentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return nil, nil
	}
	cp := *txn
	return &cp, nil
}

func (m *memPaymentStore) GetByGatewayRef(ctx context.Context, gateway models.GatewayName, ref string) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.txns {
		if txn.Gateway == gateway && txn.GatewayRef != nil && *txn.GatewayRef == ref {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPaymentStore) GetCompletedByBooking(ctx context.Context, bookingID uuid.UUID) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.txns {
		if txn.BookingID == bookingID && txn.Status == models.TransactionCompleted {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPaymentStore) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentTransaction
	for _, txn := range m.txns {
		if txn.BookingID == bookingID {
			out = append(out, *txn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memPaymentStore) SetGatewayRef(ctx context.Context, id uuid.UUID, ref string, payload models.JSONPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setRefErr != nil {
		return m.setRefErr
	}
	if txn, ok := m.txns[id]; ok && txn.Status == models.TransactionPending {
		txn.GatewayRef = &ref
		txn.GatewayPayload = payload
	}
	return nil
}

func (m *memPaymentStore) MarkCompleted(ctx context.Context, id uuid.UUID, payload models.JSONPayload) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok || txn.Status != models.TransactionPending {
		return false, nil
	}
	txn.Status = models.TransactionCompleted
	return true, nil
}

func (m *memPaymentStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string, payload models.JSONPayload) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok || txn.Status != models.TransactionPending {
		return false, nil
	}
	txn.Status = models.TransactionFailed
	txn.FailureReason = &reason
	return true, nil
}

func (m *memPaymentStore) MarkRefunded(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reference, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok || txn.Status != models.TransactionCompleted {
		return false, nil
	}
	now := time.Now()
	txn.Status = models.TransactionRefunded
	txn.RefundAmount = &amount
	txn.RefundReference = &reference
	txn.RefundReason = &reason
	txn.RefundedAt = &now
	return true, nil
}

type memAuditLog struct {
	mu      sync.Mutex
	entries []models.PaymentAudit
}

func (m *memAuditLog) Log(ctx context.Context, audit *models.PaymentAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *audit)
	return nil
}

func (m *memAuditLog) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.PaymentAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentAudit
	for _, e := range m.entries {
		if e.TransactionID != nil && *e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAuditLog) events() []models.PaymentEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaymentEventType, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.EventType)
	}
	return out
}

// ============================================================================
// COMMISSIONS
// ============================================================================

type memCommissionStore struct {
	mu          sync.Mutex
	agents      map[uuid.UUID]*models.Agent
	commissions map[uuid.UUID]*models.Commission
	payouts     map[uuid.UUID]*models.CommissionPayout
	order       []uuid.UUID
}

func newMemCommissionStore() *memCommissionStore {
	return &memCommissionStore{
		agents:      make(map[uuid.UUID]*models.Agent),
		commissions: make(map[uuid.UUID]*models.Commission),
		payouts:     make(map[uuid.UUID]*models.CommissionPayout),
	}
}

func (m *memCommissionStore) putAgent(a models.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = &a
}

func (m *memCommissionStore) commissionsFor(agentID uuid.UUID) []models.Commission {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Commission
	for _, id := range m.order {
		if c := m.commissions[id]; c.AgentID == agentID {
			out = append(out, *c)
		}
	}
	return out
}

func (m *memCommissionStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memCommissionStore) GetAgentByUserID(ctx context.Context, userID uuid.UUID) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memCommissionStore) CreateIfAbsent(ctx context.Context, c *models.Commission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.commissions {
		if existing.BookingID == c.BookingID {
			return false, nil
		}
	}
	c.Status = models.CommissionPending
	cp := *c
	m.commissions[c.ID] = &cp
	m.order = append(m.order, c.ID)
	return true, nil
}

func (m *memCommissionStore) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commissions {
		if c.BookingID == bookingID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memCommissionStore) ListByAgent(ctx context.Context, agentID uuid.UUID, status *models.CommissionStatus) ([]models.Commission, error) {
	var out []models.Commission
	for _, c := range m.commissionsFor(agentID) {
		if status == nil || c.Status == *status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCommissionStore) CreatePayout(ctx context.Context, payout *models.CommissionPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	ids := models.UUIDArray{}
	for _, id := range m.order {
		c := m.commissions[id]
		if c.AgentID != payout.AgentID || c.Status != models.CommissionPending {
			continue
		}
		c.Status = models.CommissionProcessing
		pid := payout.ID
		c.PayoutID = &pid
		total = total.Add(c.Amount)
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return &models.NoCommissionsAvailableError{AgentID: payout.AgentID}
	}
	payout.TotalAmount = total
	payout.CommissionIDs = ids
	payout.Status = models.PayoutPending
	cp := *payout
	m.payouts[payout.ID] = &cp
	return nil
}

func (m *memCommissionStore) GetPayout(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memCommissionStore) MarkPayoutProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Status != models.PayoutPending {
		return false, nil
	}
	p.Status = models.PayoutProcessing
	return true, nil
}

func (m *memCommissionStore) SettlePayout(ctx context.Context, id uuid.UUID, outcome models.PayoutStatus, failureReason *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Status.IsSettled() {
		return false, nil
	}
	p.Status = outcome
	p.FailureReason = failureReason
	for _, c := range m.commissions {
		if c.PayoutID == nil || *c.PayoutID != id || c.Status != models.CommissionProcessing {
			continue
		}
		if outcome == models.PayoutCompleted {
			c.Status = models.CommissionPaid
		} else {
			c.Status = models.CommissionPending
			c.PayoutID = nil
		}
	}
	return true, nil
}

// ============================================================================
// GATEWAY & PUBLISHER MOCKS
// ============================================================================

type mockGateway struct {
	mock.Mock
	name models.GatewayName
}

func (g *mockGateway) Name() models.GatewayName { return g.name }

func (g *mockGateway) Initiate(ctx context.Context, params GatewayInitiateParams) (*GatewayInitiation, error) {
	args := g.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayInitiation), args.Error(1)
}

func (g *mockGateway) Verify(ctx context.Context, params GatewayVerifyParams) (*GatewayVerification, error) {
	args := g.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayVerification), args.Error(1)
}

func (g *mockGateway) Refund(ctx context.Context, ref string, amount decimal.Decimal, currency, idempotencyKey string) (*GatewayRefund, error) {
	args := g.Called(ctx, ref, amount, currency, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayRefund), args.Error(1)
}

func (g *mockGateway) ParseWebhook(payload []byte, signature string) (string, error) {
	args := g.Called(payload, signature)
	return args.String(0), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType, key string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}
