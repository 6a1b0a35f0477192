package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// PaymentStatus represents whether the booking has been paid
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// PaymentMethod is how a booking was settled
type PaymentMethod string

const (
	PaymentMethodNone   PaymentMethod = "none"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodFree   PaymentMethod = "free"
)

// IssuanceStatus tracks the post-commit ticket delivery
type IssuanceStatus string

const (
	IssuanceStatusPending IssuanceStatus = "pending"
	IssuanceStatusIssued  IssuanceStatus = "issued"
	IssuanceStatusFailed  IssuanceStatus = "failed"
)

// Booking is the aggregate root of one checkout. It is only ever
// persisted as a whole together with its items, tickets and payment.
type Booking struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	EventID              string          `json:"event_id"`
	Status               BookingStatus   `json:"status"`
	PaymentStatus        PaymentStatus   `json:"payment_status"`
	PaymentMethod        PaymentMethod   `json:"payment_method"`
	PaymentTransactionID *string         `json:"payment_transaction_id,omitempty"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	RefundAmount         decimal.Decimal `json:"refund_amount"`
	Currency             string          `json:"currency"`
	IssuanceStatus       IssuanceStatus  `json:"issuance_status"`
	IssuanceError        string          `json:"issuance_error,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`

	Items   []*BookingItem `json:"items,omitempty"`
	Tickets []*Ticket      `json:"tickets,omitempty"`
}

// BookingItem is one line of a booking. It snapshots the ticket type's
// name and price at purchase time and is never updated.
type BookingItem struct {
	ID             string          `json:"id"`
	BookingID      string          `json:"booking_id"`
	TicketTypeID   string          `json:"ticket_type_id"`
	TicketTypeName string          `json:"ticket_type_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LineTotal      decimal.Decimal `json:"line_total"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewBooking creates a pending, unpaid booking
func NewBooking(userID, eventID, currency string, now time.Time) *Booking {
	return &Booking{
		ID:             uuid.NewString(),
		UserID:         userID,
		EventID:        eventID,
		Status:         BookingStatusPending,
		PaymentStatus:  PaymentStatusUnpaid,
		PaymentMethod:  PaymentMethodNone,
		TotalAmount:    decimal.Zero,
		RefundAmount:   decimal.Zero,
		Currency:       currency,
		IssuanceStatus: IssuanceStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AddLine appends an item for qty tickets of tt and the tickets it spawns
func (b *Booking) AddLine(tt *TicketType, qty int, event *Event, now time.Time) (*BookingItem, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	item := &BookingItem{
		ID:             uuid.NewString(),
		BookingID:      b.ID,
		TicketTypeID:   tt.ID,
		TicketTypeName: tt.Name,
		Quantity:       qty,
		UnitPrice:      tt.Price,
		LineTotal:      tt.Price.Mul(decimal.NewFromInt(int64(qty))),
		CreatedAt:      now,
	}
	b.Items = append(b.Items, item)
	b.TotalAmount = b.TotalAmount.Add(item.LineTotal)

	for i := 0; i < qty; i++ {
		b.Tickets = append(b.Tickets, NewTicket(b, item, event, now))
	}
	return item, nil
}

// TicketCount returns the number of tickets across all lines
func (b *Booking) TicketCount() int {
	n := 0
	for _, it := range b.Items {
		n += it.Quantity
	}
	return n
}

// IsFree reports whether nothing needs to be charged
func (b *Booking) IsFree() bool {
	return b.TotalAmount.IsZero()
}

// MarkPaid confirms the booking after a successful debit or for a free booking
func (b *Booking) MarkPaid(method PaymentMethod, paymentTxID *string, now time.Time) {
	b.Status = BookingStatusConfirmed
	b.PaymentStatus = PaymentStatusPaid
	b.PaymentMethod = method
	b.PaymentTransactionID = paymentTxID
	b.PaidAt = &now
	b.UpdatedAt = now
}

// CanCancel reports whether the booking is in a cancellable state
func (b *Booking) CanCancel() error {
	if b.Status != BookingStatusConfirmed || b.PaymentStatus != PaymentStatusPaid {
		return ErrBookingNotCancellable
	}
	return nil
}

// Cancel marks the booking cancelled. PaymentStatus stays Paid: the
// original debit happened and the refund is a separate ledger entry.
func (b *Booking) Cancel(refund decimal.Decimal, now time.Time) error {
	if err := b.CanCancel(); err != nil {
		return err
	}
	b.Status = BookingStatusCancelled
	b.RefundAmount = refund
	b.CancelledAt = &now
	b.UpdatedAt = now
	return nil
}

// BookingLine is one requested (ticket type, quantity) pair
type BookingLine struct {
	TicketTypeID string
	Quantity     int
}
