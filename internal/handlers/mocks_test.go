package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/middleware"
	"github.com/smarttransit/tourism-booking-core/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestRouter builds an engine that injects user (when non-nil) the way AuthMiddleware does
func newTestRouter(user *middleware.UserContext) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if user != nil {
			c.Set(middleware.UserContextKey, *user)
		}
		c.Next()
	})
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func traveller() *middleware.UserContext {
	return &middleware.UserContext{UserID: uuid.New(), Roles: []string{middleware.RoleTourist}}
}

// ============================================================================
// MOCKS
// ============================================================================

type mockAvailability struct{ mock.Mock }

func (m *mockAvailability) Search(ctx context.Context, filter models.SlotSearchFilter) ([]models.SlotView, error) {
	args := m.Called(ctx, filter)
	views, _ := args.Get(0).([]models.SlotView)
	return views, args.Error(1)
}

func (m *mockAvailability) GetSlot(ctx context.Context, id uuid.UUID) (*models.AvailabilitySlot, error) {
	args := m.Called(ctx, id)
	slot, _ := args.Get(0).(*models.AvailabilitySlot)
	return slot, args.Error(1)
}

func (m *mockAvailability) CreateSlot(ctx context.Context, req *models.CreateSlotRequest) (*models.AvailabilitySlot, error) {
	args := m.Called(ctx, req)
	slot, _ := args.Get(0).(*models.AvailabilitySlot)
	return slot, args.Error(1)
}

func (m *mockAvailability) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockAvailability) Block(ctx context.Context, req *models.BlockRequest) (int64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAvailability) Unblock(ctx context.Context, req *models.BlockRequest) (int64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(int64), args.Error(1)
}

type mockBookings struct{ mock.Mock }

func (m *mockBookings) Create(ctx context.Context, req *models.CreateBookingRequest) (*models.Booking, error) {
	args := m.Called(ctx, req)
	booking, _ := args.Get(0).(*models.Booking)
	return booking, args.Error(1)
}

func (m *mockBookings) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	args := m.Called(ctx, id)
	booking, _ := args.Get(0).(*models.Booking)
	return booking, args.Error(1)
}

func (m *mockBookings) ListUserBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	args := m.Called(ctx, userID, limit, offset)
	bookings, _ := args.Get(0).([]models.Booking)
	return bookings, args.Error(1)
}

func (m *mockBookings) ConfirmPayment(ctx context.Context, bookingID, transactionID uuid.UUID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, transactionID)
	booking, _ := args.Get(0).(*models.Booking)
	return booking, args.Error(1)
}

func (m *mockBookings) Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*models.CancelResult, error) {
	args := m.Called(ctx, bookingID, reason)
	result, _ := args.Get(0).(*models.CancelResult)
	return result, args.Error(1)
}

func (m *mockBookings) Complete(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID)
	booking, _ := args.Get(0).(*models.Booking)
	return booking, args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) Initiate(ctx context.Context, req *models.InitiatePaymentRequest, client *models.ClientMetadata) (*models.InitiatePaymentResult, error) {
	args := m.Called(ctx, req, client)
	result, _ := args.Get(0).(*models.InitiatePaymentResult)
	return result, args.Error(1)
}

func (m *mockPayments) Verify(ctx context.Context, transactionID uuid.UUID, payload models.JSONPayload, client *models.ClientMetadata) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, transactionID, payload, client)
	txn, _ := args.Get(0).(*models.PaymentTransaction)
	return txn, args.Error(1)
}

func (m *mockPayments) HandleWebhook(ctx context.Context, gateway models.GatewayName, payload []byte, signature string, client *models.ClientMetadata) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, gateway, payload, signature, client)
	txn, _ := args.Get(0).(*models.PaymentTransaction)
	return txn, args.Error(1)
}

func (m *mockPayments) Refund(ctx context.Context, transactionID uuid.UUID, amount *decimal.Decimal, reason string, client *models.ClientMetadata) (*models.Refund, error) {
	args := m.Called(ctx, transactionID, amount, reason, client)
	refund, _ := args.Get(0).(*models.Refund)
	return refund, args.Error(1)
}

func (m *mockPayments) GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, id)
	txn, _ := args.Get(0).(*models.PaymentTransaction)
	return txn, args.Error(1)
}

func (m *mockPayments) ListAudit(ctx context.Context, transactionID uuid.UUID) ([]models.PaymentAudit, error) {
	args := m.Called(ctx, transactionID)
	entries, _ := args.Get(0).([]models.PaymentAudit)
	return entries, args.Error(1)
}

func (m *mockPayments) ListBookingTransactions(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentTransaction, error) {
	args := m.Called(ctx, bookingID)
	txns, _ := args.Get(0).([]models.PaymentTransaction)
	return txns, args.Error(1)
}

type mockCommissions struct{ mock.Mock }

func (m *mockCommissions) AgentForUser(ctx context.Context, userID uuid.UUID) (*models.Agent, error) {
	args := m.Called(ctx, userID)
	agent, _ := args.Get(0).(*models.Agent)
	return agent, args.Error(1)
}

func (m *mockCommissions) ListAgentCommissions(ctx context.Context, agentID uuid.UUID, status *models.CommissionStatus) ([]models.Commission, error) {
	args := m.Called(ctx, agentID, status)
	commissions, _ := args.Get(0).([]models.Commission)
	return commissions, args.Error(1)
}

func (m *mockCommissions) RequestPayout(ctx context.Context, agentID uuid.UUID, paymentMethod string) (*models.CommissionPayout, error) {
	args := m.Called(ctx, agentID, paymentMethod)
	payout, _ := args.Get(0).(*models.CommissionPayout)
	return payout, args.Error(1)
}

func (m *mockCommissions) GetBookingCommission(ctx context.Context, bookingID uuid.UUID) (*models.Commission, error) {
	args := m.Called(ctx, bookingID)
	commission, _ := args.Get(0).(*models.Commission)
	return commission, args.Error(1)
}

func (m *mockCommissions) GetPayout(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error) {
	args := m.Called(ctx, id)
	payout, _ := args.Get(0).(*models.CommissionPayout)
	return payout, args.Error(1)
}

func (m *mockCommissions) MarkPayoutProcessing(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error) {
	args := m.Called(ctx, id)
	payout, _ := args.Get(0).(*models.CommissionPayout)
	return payout, args.Error(1)
}

func (m *mockCommissions) SettlePayout(ctx context.Context, id uuid.UUID, outcome models.PayoutStatus, failureReason *string) (*models.CommissionPayout, error) {
	args := m.Called(ctx, id, outcome, failureReason)
	payout, _ := args.Get(0).(*models.CommissionPayout)
	return payout, args.Error(1)
}
