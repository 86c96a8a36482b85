package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated            PaymentEventType = "payment_initiated"
	PaymentEventInitiateFailed       PaymentEventType = "payment_initiate_failed"
	PaymentEventWebhookReceived      PaymentEventType = "webhook_received"
	PaymentEventVerifyRequested      PaymentEventType = "verify_requested"
	PaymentEventSuccess              PaymentEventType = "payment_success"
	PaymentEventFailed               PaymentEventType = "payment_failed"
	PaymentEventAmountMismatch       PaymentEventType = "amount_mismatch"
	PaymentEventBookingConfirmed     PaymentEventType = "booking_confirmed"
	PaymentEventBookingConfirmFailed PaymentEventType = "booking_confirmation_failed"
	PaymentEventRefundInitiated      PaymentEventType = "refund_initiated"
	PaymentEventRefundCompleted      PaymentEventType = "refund_completed"
	PaymentEventError                PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceWebhook PaymentEventSource = "gateway_webhook"
	PaymentSourceGateway PaymentEventSource = "gateway_api"
	PaymentSourceUser    PaymentEventSource = "user"
)

// PaymentAudit is an immutable audit log entry for payment events
type PaymentAudit struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	TransactionID *uuid.UUID         `json:"transaction_id,omitempty" db:"transaction_id"`
	BookingID     *uuid.UUID         `json:"booking_id,omitempty" db:"booking_id"`
	Gateway       *string            `json:"gateway,omitempty" db:"gateway"`
	GatewayRef    *string            `json:"gateway_ref,omitempty" db:"gateway_ref"`
	EventType     PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource   PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *decimal.Decimal `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string          `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool            `json:"amounts_match,omitempty" db:"amounts_match"`

	GatewayStatus *string     `json:"gateway_status,omitempty" db:"gateway_status"`
	Payload       JSONPayload `json:"payload,omitempty" db:"payload"`
	ErrorMessage  *string     `json:"error_message,omitempty" db:"error_message"`

	// Client metadata
	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType *string `json:"device_type,omitempty" db:"device_type"`
	Platform   *string `json:"platform,omitempty" db:"platform"`

	ProcessingTimeMs *int      `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ClientMetadata describes the caller that triggered a payment event
type ClientMetadata struct {
	IPAddress  string
	UserAgent  string
	DeviceType string
	Platform   string
}

// NewPaymentAudit creates a new payment audit entry for a transaction
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource, txn *PaymentTransaction) *PaymentAudit {
	pa := &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
	if txn != nil {
		pa.TransactionID = &txn.ID
		pa.BookingID = &txn.BookingID
		gateway := string(txn.Gateway)
		pa.Gateway = &gateway
		pa.GatewayRef = txn.GatewayRef
		pa.Currency = &txn.Currency
	}
	return pa
}

// SetAmounts records expected and received amounts and reports whether they match
func (pa *PaymentAudit) SetAmounts(expected, received decimal.Decimal) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	match := expected.Equal(received)
	pa.AmountsMatch = &match
	return match
}

// SetGatewayStatus sets the status reported by the gateway
func (pa *PaymentAudit) SetGatewayStatus(status string) *PaymentAudit {
	pa.GatewayStatus = &status
	return pa
}

// SetPayload stores the raw gateway payload
func (pa *PaymentAudit) SetPayload(payload JSONPayload) *PaymentAudit {
	pa.Payload = payload
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetClient copies request metadata onto the entry
func (pa *PaymentAudit) SetClient(meta *ClientMetadata) *PaymentAudit {
	if meta == nil {
		return pa
	}
	if meta.IPAddress != "" {
		pa.IPAddress = &meta.IPAddress
	}
	if meta.UserAgent != "" {
		pa.UserAgent = &meta.UserAgent
	}
	if meta.DeviceType != "" {
		pa.DeviceType = &meta.DeviceType
	}
	if meta.Platform != "" {
		pa.Platform = &meta.Platform
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}
