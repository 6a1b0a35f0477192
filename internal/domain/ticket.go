package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TicketStatus represents the status of a ticket
type TicketStatus string

const (
	TicketStatusValid    TicketStatus = "valid"
	TicketStatusUsed     TicketStatus = "used"
	TicketStatusRefunded TicketStatus = "refunded"
)

const (
	// TicketCodeLength is the length of the human-facing ticket code
	TicketCodeLength = 12
	// ticketCodeAlphabet skips 0/O and 1/I; 32 symbols keep byte%32 unbiased
	ticketCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// EventSnapshot freezes the event details printed on a ticket
type EventSnapshot struct {
	EventName string    `json:"event_name"`
	Venue     string    `json:"venue"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Ticket is one admission. QRToken and QRRef are filled in by the
// issuance pipeline after the booking commits.
type Ticket struct {
	ID             string          `json:"id"`
	BookingID      string          `json:"booking_id"`
	BookingItemID  string          `json:"booking_item_id"`
	EventID        string          `json:"event_id"`
	UserID         string          `json:"user_id"`
	TicketTypeName string          `json:"ticket_type_name"`
	Price          decimal.Decimal `json:"price"`
	Code           string          `json:"code"`
	Status         TicketStatus    `json:"status"`
	Snapshot       EventSnapshot   `json:"snapshot"`
	QRToken        string          `json:"-"`
	QRRef          string          `json:"qr_ref,omitempty"`
	IssuedAt       *time.Time      `json:"issued_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewTicket creates a valid ticket with a fresh code and event snapshot
func NewTicket(b *Booking, item *BookingItem, e *Event, now time.Time) *Ticket {
	return &Ticket{
		ID:             uuid.NewString(),
		BookingID:      b.ID,
		BookingItemID:  item.ID,
		EventID:        b.EventID,
		UserID:         b.UserID,
		TicketTypeName: item.TicketTypeName,
		Price:          item.UnitPrice,
		Code:           GenerateTicketCode(),
		Status:         TicketStatusValid,
		Snapshot: EventSnapshot{
			EventName: e.Name,
			Venue:     e.Venue,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GenerateTicketCode returns an uppercase code of TicketCodeLength
// characters derived from a random (v4) UUID. Byte 6 carries the version
// nibble and is skipped.
func GenerateTicketCode() string {
	id := uuid.New()
	src := append(append([]byte{}, id[:6]...), id[7:]...)
	code := make([]byte, TicketCodeLength)
	for i := range code {
		code[i] = ticketCodeAlphabet[src[i]%byte(len(ticketCodeAlphabet))]
	}
	return string(code)
}

// IsIssued reports whether the QR artifact has been produced
func (t *Ticket) IsIssued() bool {
	return t.QRRef != ""
}

// AttachArtifacts records the signed token and QR reference
func (t *Ticket) AttachArtifacts(token, qrRef string, now time.Time) {
	t.QRToken = token
	t.QRRef = qrRef
	t.IssuedAt = &now
	t.UpdatedAt = now
}
