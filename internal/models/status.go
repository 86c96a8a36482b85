package models

import "fmt"

// ============================================================================
// BOOKING STATUS (matches DB ENUM booking_status)
// ============================================================================

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusCompleted: {},
	BookingStatusCancelled: {},
}

// IsValid returns true if the status is a recognized booking status
func (s BookingStatus) IsValid() bool {
	_, exists := bookingTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	return canTransition(bookingTransitions[s], target)
}

// IsTerminal returns true if no further transitions are possible
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// HoldsCapacity reports whether a booking in this status consumes slot capacity
func (s BookingStatus) HoldsCapacity() bool {
	return s != BookingStatusCancelled
}

// ParseBookingStatus converts a string to a BookingStatus
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return status, nil
}

// BookingPaymentStatus tracks the money side of a booking
type BookingPaymentStatus string

const (
	BookingPaymentPending  BookingPaymentStatus = "pending"
	BookingPaymentPaid     BookingPaymentStatus = "paid"
	BookingPaymentRefunded BookingPaymentStatus = "refunded"
)

// ============================================================================
// PAYMENT TRANSACTION STATUS (matches DB ENUM payment_transaction_status)
// ============================================================================

// TransactionStatus represents the lifecycle state of a payment transaction
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionPending:   {TransactionCompleted, TransactionFailed},
	TransactionCompleted: {TransactionRefunded},
	TransactionFailed:    {},
	TransactionRefunded:  {},
}

// CanTransitionTo returns true if a transition from this status to the target is allowed
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	return canTransition(transactionTransitions[s], target)
}

// IsActive reports whether the transaction occupies the booking's single payment slot
func (s TransactionStatus) IsActive() bool {
	return s == TransactionPending || s == TransactionCompleted
}

// ============================================================================
// COMMISSION & PAYOUT STATUS
// ============================================================================

// CommissionStatus represents the settlement state of a commission
type CommissionStatus string

const (
	CommissionPending    CommissionStatus = "pending"
	CommissionProcessing CommissionStatus = "processing"
	CommissionPaid       CommissionStatus = "paid"
)

// ParseCommissionStatus converts a string to a CommissionStatus
func ParseCommissionStatus(s string) (CommissionStatus, error) {
	switch status := CommissionStatus(s); status {
	case CommissionPending, CommissionProcessing, CommissionPaid:
		return status, nil
	}
	return "", fmt.Errorf("invalid commission status: %s", s)
}

// PayoutStatus represents the lifecycle state of a commission payout
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutPending:    {PayoutProcessing, PayoutCompleted, PayoutFailed},
	PayoutProcessing: {PayoutCompleted, PayoutFailed},
	PayoutCompleted:  {},
	PayoutFailed:     {},
}

// CanTransitionTo returns true if a transition from this status to the target is allowed
func (s PayoutStatus) CanTransitionTo(target PayoutStatus) bool {
	return canTransition(payoutTransitions[s], target)
}

// IsSettled reports whether the payout reached a final outcome
func (s PayoutStatus) IsSettled() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

func canTransition[S comparable](allowed []S, target S) bool {
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}
