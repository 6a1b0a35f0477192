package domain

import "errors"

// ErrorKind classifies failures so callers can map them to a response
// without matching individual sentinels.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindUnauthorized
	KindInvalidInput
	KindInsufficientFunds
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidInput:
		return "invalid_input"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified domain error. Sentinels below are *Error values
// and are wrapped with fmt.Errorf("%w: ...") to add detail.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Domain errors
var (
	// User errors
	ErrUserNotFound = newError(KindUnauthorized, "user not found")
	ErrUserInactive = newError(KindUnauthorized, "user is inactive")

	// Event errors
	ErrEventNotFound     = newError(KindNotFound, "event not found")
	ErrEventNotBookable  = newError(KindNotFound, "event is not open for booking")
	ErrEventEnded        = newError(KindInvalidInput, "event has already ended")
	ErrEventStarted      = newError(KindInvalidInput, "event has already started")
	ErrInventoryMismatch = newError(KindInternal, "event inventory counters are inconsistent")

	// Request errors
	ErrEmptyBooking          = newError(KindInvalidInput, "at least one ticket line is required")
	ErrInvalidQuantity       = newError(KindInvalidInput, "quantity must be greater than zero")
	ErrQuantityTooLarge      = newError(KindInvalidInput, "quantity exceeds the per-line limit")
	ErrTooManyLines          = newError(KindInvalidInput, "too many ticket lines")
	ErrDuplicateTicketType   = newError(KindInvalidInput, "duplicate ticket type in request")
	ErrInvalidTicketTypes    = newError(KindInvalidInput, "one or more ticket types are invalid")
	ErrInsufficientTickets   = newError(KindInvalidInput, "not enough tickets remaining")
	ErrInvalidAmount         = newError(KindInvalidInput, "amount must be greater than zero")
	ErrRefundWindowClosed    = newError(KindInvalidInput, "booking can no longer be cancelled")
	ErrBookingNotCancellable = newError(KindInvalidInput, "booking cannot be cancelled in its current state")
	ErrIssuanceNotFailed     = newError(KindConflict, "ticket issuance has not failed for this booking")

	// Booking errors
	ErrBookingNotFound = newError(KindNotFound, "booking not found")
	ErrTicketNotFound  = newError(KindNotFound, "ticket not found")

	// Wallet errors
	ErrWalletNotFound     = newError(KindNotFound, "wallet not found")
	ErrWalletInactive     = newError(KindInvalidInput, "wallet is not active")
	ErrInsufficientFunds  = newError(KindInsufficientFunds, "insufficient wallet balance")
	ErrConcurrentMutation = newError(KindConflict, "record was modified concurrently")
)

// KindOf returns the kind of the first classified error in the chain.
// Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

