package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error categories. Every typed error below unwraps to exactly one of these so
// callers can branch with errors.Is and inspect details with errors.As.
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrSlotBlocked            = errors.New("slot blocked")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrPaymentGateway         = errors.New("payment gateway error")
	ErrNoCommissionsAvailable = errors.New("no commissions available")
)

// ValidationError represents malformed or out-of-range input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a validation error for a field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a referenced entity that does not exist
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
	Key      string // natural key when the entity was looked up by something other than ID
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id uuid.UUID) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// CapacityExceededError means the reservation race was lost
type CapacityExceededError struct {
	SlotID    uuid.UUID
	Requested int
	Available int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("slot %s has %d spaces left, %d requested", e.SlotID, e.Available, e.Requested)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// SlotBlockedError means the operator closed the slot to new reservations
type SlotBlockedError struct {
	SlotID uuid.UUID
	Reason string
}

func (e *SlotBlockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("slot %s is blocked", e.SlotID)
	}
	return fmt.Sprintf("slot %s is blocked: %s", e.SlotID, e.Reason)
}

func (e *SlotBlockedError) Unwrap() error { return ErrSlotBlocked }

// InvalidTransitionError reports a state change the entity's state machine forbids
type InvalidTransitionError struct {
	Entity string
	ID     uuid.UUID
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// BookingAlreadyConfirmedError means a different transaction already confirmed the booking
type BookingAlreadyConfirmedError struct {
	BookingID              uuid.UUID
	ConfirmedTransactionID uuid.UUID
	AttemptedTransactionID uuid.UUID
}

func (e *BookingAlreadyConfirmedError) Error() string {
	return fmt.Sprintf("booking %s already confirmed by transaction %s, got %s",
		e.BookingID, e.ConfirmedTransactionID, e.AttemptedTransactionID)
}

func (e *BookingAlreadyConfirmedError) Unwrap() error { return ErrInvalidTransition }

// BookingAlreadyCancelledError means the booking was cancelled before the requested transition
type BookingAlreadyCancelledError struct {
	BookingID uuid.UUID
}

func (e *BookingAlreadyCancelledError) Error() string {
	return fmt.Sprintf("booking %s is already cancelled", e.BookingID)
}

func (e *BookingAlreadyCancelledError) Unwrap() error { return ErrInvalidTransition }

// RefundNotAllowedError means the transaction is not in a refundable state
type RefundNotAllowedError struct {
	TransactionID uuid.UUID
	Status        TransactionStatus
}

func (e *RefundNotAllowedError) Error() string {
	return fmt.Sprintf("transaction %s cannot be refunded from status %s", e.TransactionID, e.Status)
}

func (e *RefundNotAllowedError) Unwrap() error { return ErrInvalidTransition }

// PaymentGatewayError wraps an upstream processor failure
type PaymentGatewayError struct {
	Gateway string
	Op      string
	Err     error
}

func (e *PaymentGatewayError) Error() string {
	return fmt.Sprintf("%s gateway %s failed: %v", e.Gateway, e.Op, e.Err)
}

// Is lets errors.Is match both the category and the wrapped cause
func (e *PaymentGatewayError) Is(target error) bool { return target == ErrPaymentGateway }

func (e *PaymentGatewayError) Unwrap() error { return e.Err }

// NoCommissionsAvailableError means an agent requested a payout with nothing pending
type NoCommissionsAvailableError struct {
	AgentID uuid.UUID
}

func (e *NoCommissionsAvailableError) Error() string {
	return fmt.Sprintf("agent %s has no pending commissions", e.AgentID)
}

func (e *NoCommissionsAvailableError) Unwrap() error { return ErrNoCommissionsAvailable }
