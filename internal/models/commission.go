package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AgentStatus is the account state of a selling agent
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentSuspended AgentStatus = "suspended"
)

// Agent sells bookings on behalf of operators and earns commission
type Agent struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	UserID         uuid.UUID        `json:"user_id" db:"user_id"`
	DisplayName    string           `json:"display_name" db:"display_name"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty" db:"commission_rate"`
	Status         AgentStatus      `json:"status" db:"status"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// Commission is an agent's earned share of one confirmed booking
type Commission struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	BookingID    uuid.UUID        `json:"booking_id" db:"booking_id"`
	AgentID      uuid.UUID        `json:"agent_id" db:"agent_id"`
	BookingTotal decimal.Decimal  `json:"booking_total" db:"booking_total"`
	Rate         decimal.Decimal  `json:"rate" db:"rate"`
	Amount       decimal.Decimal  `json:"amount" db:"amount"`
	Currency     string           `json:"currency" db:"currency"`
	Status       CommissionStatus `json:"status" db:"status"`
	PayoutID     *uuid.UUID       `json:"payout_id,omitempty" db:"payout_id"`
	PaidAt       *time.Time       `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// CommissionAmount computes total x rate rounded to two decimal places
func CommissionAmount(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Round(2)
}

// CommissionPayout batches an agent's pending commissions into one settlement
type CommissionPayout struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AgentID       uuid.UUID       `json:"agent_id" db:"agent_id"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	Currency      string          `json:"currency" db:"currency"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	Status        PayoutStatus    `json:"status" db:"status"`
	CommissionIDs UUIDArray       `json:"commission_ids" db:"commission_ids"`
	FailureReason *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	SettledAt     *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}

// RequestPayoutRequest is the body of a payout request
type RequestPayoutRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
}

// SettlePayoutRequest records the outcome of an out-of-band payout
type SettlePayoutRequest struct {
	Outcome       PayoutStatus `json:"outcome" binding:"required"`
	FailureReason *string      `json:"failure_reason,omitempty"`
}
