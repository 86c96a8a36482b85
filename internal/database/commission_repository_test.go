package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/tourism-booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionRepository_CreateIfAbsent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommissionRepository(db)
	ctx := context.Background()
	now := time.Now()

	c := &models.Commission{
		ID:           uuid.New(),
		BookingID:    uuid.New(),
		AgentID:      uuid.New(),
		BookingTotal: decimal.NewFromInt(300),
		Rate:         decimal.RequireFromString("0.10"),
		Amount:       decimal.NewFromInt(30),
		Currency:     "LKR",
	}

	mock.ExpectQuery(`INSERT INTO commissions .* ON CONFLICT \(booking_id\) DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	created, err := repo.CreateIfAbsent(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.CommissionPending, c.Status)

	mock.ExpectQuery(`INSERT INTO commissions`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))

	created, err = repo.CreateIfAbsent(ctx, c)
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommissionRepository_CreatePayout(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommissionRepository(db)
	ctx := context.Background()
	now := time.Now()
	agentID := uuid.New()

	t.Run("Claims Pending Commissions", func(t *testing.T) {
		payout := &models.CommissionPayout{ID: uuid.New(), AgentID: agentID, Currency: "LKR", PaymentMethod: "bank_transfer"}
		first, second := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO commission_payouts`).
			WithArgs(payout.ID, agentID, "LKR", "bank_transfer").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectQuery(`UPDATE commissions\s+SET status = 'processing', payout_id = \$2.*WHERE agent_id = \$1 AND status = 'pending'`).
			WithArgs(agentID, payout.ID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount"}).
				AddRow(first.String(), "100.00").
				AddRow(second.String(), "250.50"))
		mock.ExpectExec(`UPDATE commission_payouts\s+SET total_amount = \$2, commission_ids = \$3`).
			WithArgs(payout.ID, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.CreatePayout(ctx, payout))
		assert.Equal(t, "350.50", payout.TotalAmount.StringFixed(2))
		assert.Equal(t, models.UUIDArray{first, second}, payout.CommissionIDs)
		assert.Equal(t, models.PayoutPending, payout.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nothing To Claim", func(t *testing.T) {
		payout := &models.CommissionPayout{ID: uuid.New(), AgentID: agentID, Currency: "LKR", PaymentMethod: "bank_transfer"}

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO commission_payouts`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectQuery(`UPDATE commissions`).
			WithArgs(agentID, payout.ID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount"}))
		mock.ExpectRollback()

		err := repo.CreatePayout(ctx, payout)
		assert.ErrorIs(t, err, models.ErrNoCommissionsAvailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCommissionRepository_SettlePayout(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommissionRepository(db)
	ctx := context.Background()
	payoutID := uuid.New()

	t.Run("Completed Pays Commissions", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE commission_payouts\s+SET status = \$2`).
			WithArgs(payoutID, "completed", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`SET status = 'paid', paid_at = NOW\(\)`).
			WithArgs(payoutID).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		settled, err := repo.SettlePayout(ctx, payoutID, models.PayoutCompleted, nil)
		require.NoError(t, err)
		assert.True(t, settled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failed Detaches Commissions", func(t *testing.T) {
		reason := "account closed"
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE commission_payouts`).
			WithArgs(payoutID, "failed", reason).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`SET status = 'pending', payout_id = NULL`).
			WithArgs(payoutID).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		settled, err := repo.SettlePayout(ctx, payoutID, models.PayoutFailed, &reason)
		require.NoError(t, err)
		assert.True(t, settled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already Settled", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE commission_payouts`).
			WithArgs(payoutID, "completed", nil).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		settled, err := repo.SettlePayout(ctx, payoutID, models.PayoutCompleted, nil)
		require.NoError(t, err)
		assert.False(t, settled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCommissionRepository_GetByBooking(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommissionRepository(db)
	ctx := context.Background()
	bookingID, agentID, id := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM commissions WHERE booking_id = \$1`).
		WithArgs(bookingID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "agent_id", "amount", "status"}).
			AddRow(id.String(), bookingID.String(), agentID.String(), "30.00", "pending"))

	c, err := repo.GetByBooking(ctx, bookingID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, agentID, c.AgentID)
	assert.Equal(t, "30.00", c.Amount.StringFixed(2))
	assert.Equal(t, models.CommissionPending, c.Status)

	mock.ExpectQuery(`FROM commissions WHERE booking_id = \$1`).
		WithArgs(bookingID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c, err = repo.GetByBooking(ctx, bookingID)
	require.NoError(t, err)
	assert.Nil(t, c)

	assert.NoError(t, mock.ExpectationsWereMet())
}
