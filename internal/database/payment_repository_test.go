package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()
	now := time.Now()

	newTxn := func() *models.PaymentTransaction {
		return &models.PaymentTransaction{
			ID:        uuid.New(),
			BookingID: uuid.New(),
			Amount:    decimal.NewFromInt(300),
			Currency:  "LKR",
			Gateway:   models.GatewayPayable,
			Status:    models.TransactionPending,
		}
	}

	t.Run("Success", func(t *testing.T) {
		txn := newTxn()
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WithArgs(txn.ID, txn.BookingID, "300", "LKR", "payable", "pending").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		require.NoError(t, repo.Create(ctx, txn))
		assert.Equal(t, now, txn.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Second Active Transaction", func(t *testing.T) {
		txn := newTxn()
		// pgx driver errors map the same way as lib/pq ones
		mock.ExpectQuery(`INSERT INTO payment_transactions`).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

		err := repo.Create(ctx, txn)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		var transition *models.InvalidTransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, txn.BookingID, transition.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRepository_Transitions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()
	txnID := uuid.New()
	payload := models.JSONPayload(`{"paymentStatus":"SUCCESS"}`)

	mock.ExpectExec(`SET status = 'completed', gateway_payload = COALESCE\(\$2, gateway_payload\)`).
		WithArgs(txnID, []byte(payload)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.MarkCompleted(ctx, txnID, payload)
	require.NoError(t, err)
	assert.True(t, ok)

	// a concurrent verification already completed it
	mock.ExpectExec(`SET status = 'completed'`).
		WithArgs(txnID, []byte(payload)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.MarkCompleted(ctx, txnID, payload)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(`SET status = 'refunded', refund_amount = \$2.*WHERE id = \$1 AND status = 'completed'`).
		WithArgs(txnID, "150", "RF-1", "booking cancelled: weather").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err = repo.MarkRefunded(ctx, txnID, decimal.NewFromInt(150), "RF-1", "booking cancelled: weather")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(`SET status = 'failed', failure_reason = \$2`).
		WithArgs(txnID, "declined", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err = repo.MarkFailed(ctx, txnID, "declined", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetByGatewayRef(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(`FROM payment_transactions WHERE gateway = \$1 AND gateway_ref = \$2`).
		WithArgs("stripe", "pi_unknown").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	txn, err := repo.GetByGatewayRef(context.Background(), models.GatewayStripe, "pi_unknown")
	require.NoError(t, err)
	assert.Nil(t, txn)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAuditRepository_Log(t *testing.T) {
	db, mock := newMockDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	repo := NewPaymentAuditRepository(db, logger)

	txnID := uuid.New()
	audit := &models.PaymentAudit{
		TransactionID: &txnID,
		EventType:     models.PaymentEventInitiated,
		EventSource:   models.PaymentSourceBackend,
	}

	mock.ExpectExec(`INSERT INTO payment_audits`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Log(context.Background(), audit))
	assert.NotEqual(t, uuid.Nil, audit.ID)
	assert.False(t, audit.CreatedAt.IsZero())

	assert.Error(t, repo.Log(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_ListByBooking(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	bookingID := uuid.New()
	failed, retried := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM payment_transactions WHERE booking_id = \$1 ORDER BY created_at ASC`).
		WithArgs(bookingID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "amount", "currency", "gateway", "status"}).
			AddRow(failed.String(), bookingID.String(), "300.00", "LKR", "payable", "failed").
			AddRow(retried.String(), bookingID.String(), "300.00", "LKR", "payable", "completed"))

	txns, err := repo.ListByBooking(context.Background(), bookingID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, failed, txns[0].ID)
	assert.Equal(t, models.TransactionFailed, txns[0].Status)
	assert.Equal(t, models.TransactionCompleted, txns[1].Status)
	assert.True(t, txns[1].Amount.Equal(decimal.NewFromInt(300)))

	mock.ExpectQuery(`FROM payment_transactions WHERE booking_id = \$1`).
		WithArgs(bookingID).
		WillReturnError(fmt.Errorf("connection reset"))

	_, err = repo.ListByBooking(context.Background(), bookingID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list payment transactions")

	assert.NoError(t, mock.ExpectationsWereMet())
}
