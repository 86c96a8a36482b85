package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewayName identifies a payment processor
type GatewayName string

const (
	GatewayPayable GatewayName = "payable"
	GatewayStripe  GatewayName = "stripe"
)

// PaymentTransaction is one attempt to pay for a booking
type PaymentTransaction struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	BookingID      uuid.UUID         `json:"booking_id" db:"booking_id"`
	Amount         decimal.Decimal   `json:"amount" db:"amount"`
	Currency       string            `json:"currency" db:"currency"`
	Gateway        GatewayName       `json:"gateway" db:"gateway"`
	Status         TransactionStatus `json:"status" db:"status"`
	GatewayRef     *string           `json:"gateway_ref,omitempty" db:"gateway_ref"`
	GatewayPayload JSONPayload       `json:"gateway_payload,omitempty" db:"gateway_payload"`
	FailureReason  *string           `json:"failure_reason,omitempty" db:"failure_reason"`

	// Refund tracking
	RefundAmount    *decimal.Decimal `json:"refund_amount,omitempty" db:"refund_amount"`
	RefundReference *string          `json:"refund_reference,omitempty" db:"refund_reference"`
	RefundReason    *string          `json:"refund_reason,omitempty" db:"refund_reason"`
	RefundedAt      *time.Time       `json:"refunded_at,omitempty" db:"refunded_at"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Payer describes who is paying, forwarded to the gateway
type Payer struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone"`
}

// InitiatePaymentRequest opens a new payment transaction for a booking
type InitiatePaymentRequest struct {
	BookingID uuid.UUID       `json:"booking_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Gateway   GatewayName     `json:"gateway"`
	Payer     Payer           `json:"payer" binding:"required"`
	ReturnURL string          `json:"return_url"`
}

// InitiatePaymentResult is what the client needs to continue at the gateway
type InitiatePaymentResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RedirectURL   string    `json:"redirect_url,omitempty"`
	ClientToken   string    `json:"client_token,omitempty"`
}

// VerifyPaymentRequest carries the gateway payload a client received after checkout
type VerifyPaymentRequest struct {
	Payload JSONPayload `json:"payload"`
}

// RefundPaymentRequest asks for a full or partial refund
type RefundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason" binding:"required"`
}

// Refund is the outcome of a refund against a completed transaction
type Refund struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
	Reason        string          `json:"reason"`
	RefundedAt    time.Time       `json:"refunded_at"`
}
