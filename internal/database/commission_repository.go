package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// CommissionRepository handles agents, commissions and payout batches
type CommissionRepository struct {
	db DB
}

// NewCommissionRepository creates a new commission repository
func NewCommissionRepository(db DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

const commissionColumns = `id, booking_id, agent_id, booking_total, rate, amount, currency, status,
		payout_id, paid_at, created_at, updated_at`

const payoutColumns = `id, agent_id, total_amount, currency, payment_method, status, commission_ids,
		failure_reason, created_at, updated_at, settled_at`

// GetAgent returns the agent or nil when absent
func (r *CommissionRepository) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	query := `
		SELECT id, user_id, display_name, commission_rate, status, created_at, updated_at
		FROM agents WHERE id = $1`

	if err := r.db.GetContext(ctx, &agent, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}

// GetAgentByUserID resolves the agent profile of an authenticated user
func (r *CommissionRepository) GetAgentByUserID(ctx context.Context, userID uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	query := `
		SELECT id, user_id, display_name, commission_rate, status, created_at, updated_at
		FROM agents WHERE user_id = $1`

	if err := r.db.GetContext(ctx, &agent, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get agent by user: %w", err)
	}
	return &agent, nil
}

// ============================================================================
// COMMISSIONS
// ============================================================================

// CreateIfAbsent inserts a pending commission unless the booking already has one.
// Returns false when a commission for the booking already existed.
func (r *CommissionRepository) CreateIfAbsent(ctx context.Context, c *models.Commission) (bool, error) {
	query := `
		INSERT INTO commissions (id, booking_id, agent_id, booking_total, rate, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		c.ID, c.BookingID, c.AgentID, c.BookingTotal, c.Rate, c.Amount, c.Currency,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to create commission: %w", err)
	}

	c.Status = models.CommissionPending
	return true, nil
}

// GetByBooking returns the booking's commission or nil
func (r *CommissionRepository) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Commission, error) {
	var c models.Commission
	query := `SELECT ` + commissionColumns + ` FROM commissions WHERE booking_id = $1`

	if err := r.db.GetContext(ctx, &c, query, bookingID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	return &c, nil
}

// ListByAgent returns an agent's commissions, optionally filtered by status
func (r *CommissionRepository) ListByAgent(ctx context.Context, agentID uuid.UUID, status *models.CommissionStatus) ([]models.Commission, error) {
	var commissions []models.Commission
	query := `SELECT ` + commissionColumns + `
		FROM commissions
		WHERE agent_id = $1 AND ($2::text IS NULL OR status = $2::text)
		ORDER BY created_at DESC, id DESC`

	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	if err := r.db.SelectContext(ctx, &commissions, query, agentID, statusArg); err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	return commissions, nil
}

// ============================================================================
// PAYOUTS
// ============================================================================

type claimedCommission struct {
	ID     uuid.UUID       `db:"id"`
	Amount decimal.Decimal `db:"amount"`
}

// CreatePayout claims every pending commission of the agent into a new payout.
// The claim is one UPDATE guarded by status = 'pending': rows taken by a
// concurrent payout are skipped after its lock is released, and commissions
// inserted after the statement's snapshot are left for the next payout.
func (r *CommissionRepository) CreatePayout(ctx context.Context, payout *models.CommissionPayout) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO commission_payouts (id, agent_id, total_amount, currency, payment_method, status, commission_ids)
		VALUES ($1, $2, 0, $3, $4, 'pending', '{}')
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, insertQuery,
		payout.ID, payout.AgentID, payout.Currency, payout.PaymentMethod,
	).Scan(&payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payout: %w", err)
	}

	claimQuery := `
		UPDATE commissions
		SET status = 'processing', payout_id = $2, updated_at = NOW()
		WHERE agent_id = $1 AND status = 'pending'
		RETURNING id, amount`

	var claimed []claimedCommission
	if err := tx.SelectContext(ctx, &claimed, claimQuery, payout.AgentID, payout.ID); err != nil {
		return fmt.Errorf("failed to claim commissions: %w", err)
	}

	if len(claimed) == 0 {
		return &models.NoCommissionsAvailableError{AgentID: payout.AgentID}
	}

	total := decimal.Zero
	ids := make(models.UUIDArray, 0, len(claimed))
	for _, c := range claimed {
		total = total.Add(c.Amount)
		ids = append(ids, c.ID)
	}

	updateQuery := `
		UPDATE commission_payouts
		SET total_amount = $2, commission_ids = $3, updated_at = NOW()
		WHERE id = $1`

	if _, err := tx.ExecContext(ctx, updateQuery, payout.ID, total, ids); err != nil {
		return fmt.Errorf("failed to finalize payout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payout: %w", err)
	}

	payout.TotalAmount = total
	payout.CommissionIDs = ids
	payout.Status = models.PayoutPending
	return nil
}

// GetPayout returns the payout or nil when absent
func (r *CommissionRepository) GetPayout(ctx context.Context, id uuid.UUID) (*models.CommissionPayout, error) {
	var payout models.CommissionPayout
	query := `SELECT ` + payoutColumns + ` FROM commission_payouts WHERE id = $1`

	if err := r.db.GetContext(ctx, &payout, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return &payout, nil
}

// MarkPayoutProcessing moves a pending payout to processing
func (r *CommissionRepository) MarkPayoutProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE commission_payouts
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout processing: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

// SettlePayout records the payout outcome and moves its commissions in the same transaction.
// completed: commissions processing -> paid. failed: commissions processing -> pending and
// detached from the payout. Returns false when the payout was already settled.
func (r *CommissionRepository) SettlePayout(ctx context.Context, id uuid.UUID, outcome models.PayoutStatus, failureReason *string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE commission_payouts
		SET status = $2, failure_reason = $3, settled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`, id, outcome, failureReason)
	if err != nil {
		return false, fmt.Errorf("failed to settle payout: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	var commissionQuery string
	if outcome == models.PayoutCompleted {
		commissionQuery = `
			UPDATE commissions
			SET status = 'paid', paid_at = NOW(), updated_at = NOW()
			WHERE payout_id = $1 AND status = 'processing'`
	} else {
		commissionQuery = `
			UPDATE commissions
			SET status = 'pending', payout_id = NULL, updated_at = NOW()
			WHERE payout_id = $1 AND status = 'processing'`
	}

	if _, err := tx.ExecContext(ctx, commissionQuery, id); err != nil {
		return false, fmt.Errorf("failed to update payout commissions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit payout settlement: %w", err)
	}
	return true, nil
}
