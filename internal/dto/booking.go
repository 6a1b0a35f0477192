package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
)

// CreateBookingRequest represents request to book tickets of one event
type CreateBookingRequest struct {
	EventID string               `json:"event_id" binding:"required"`
	Items   []BookingItemRequest `json:"items" binding:"required,min=1,dive"`
}

// BookingItemRequest is one requested line
type BookingItemRequest struct {
	TicketTypeID string `json:"ticket_type_id" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required,min=1"`
}

// Lines converts the request items to domain lines
func (r *CreateBookingRequest) Lines() []domain.BookingLine {
	lines := make([]domain.BookingLine, 0, len(r.Items))
	for _, it := range r.Items {
		lines = append(lines, domain.BookingLine{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity})
	}
	return lines
}

// CancelBookingResponse represents response after cancelling a booking
type CancelBookingResponse struct {
	BookingID    string          `json:"booking_id"`
	Status       string          `json:"status"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	RefundPct    int             `json:"refund_percent"`
	Currency     string          `json:"currency"`
	CancelledAt  time.Time       `json:"cancelled_at"`
}

// ReissueResponse represents response after requeueing ticket issuance
type ReissueResponse struct {
	BookingID      string `json:"booking_id"`
	IssuanceStatus string `json:"issuance_status"`
}

// BookingItemResponse represents a booking line in API response
type BookingItemResponse struct {
	TicketTypeID   string          `json:"ticket_type_id"`
	TicketTypeName string          `json:"ticket_type_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

// TicketResponse represents an issued ticket in API response
type TicketResponse struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	TicketTypeName string     `json:"ticket_type_name"`
	Status         string     `json:"status"`
	QRRef          string     `json:"qr_ref,omitempty"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID             string                `json:"id"`
	UserID         string                `json:"user_id"`
	EventID        string                `json:"event_id"`
	Status         string                `json:"status"`
	PaymentStatus  string                `json:"payment_status"`
	PaymentMethod  string                `json:"payment_method"`
	TotalAmount    decimal.Decimal       `json:"total_amount"`
	RefundAmount   decimal.Decimal       `json:"refund_amount"`
	Currency       string                `json:"currency"`
	IssuanceStatus string                `json:"issuance_status"`
	IssuanceError  string                `json:"issuance_error,omitempty"`
	Items          []BookingItemResponse `json:"items"`
	Tickets        []TicketResponse      `json:"tickets"`
	CreatedAt      time.Time             `json:"created_at"`
	PaidAt         *time.Time            `json:"paid_at,omitempty"`
	CancelledAt    *time.Time            `json:"cancelled_at,omitempty"`
}

// BookingConfirmation is returned after a successful checkout
type BookingConfirmation struct {
	BookingResponse
	BalanceAfter *decimal.Decimal `json:"wallet_balance_after,omitempty"`
}

// FromDomain converts domain Booking to BookingResponse
func FromDomain(b *domain.Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:             b.ID,
		UserID:         b.UserID,
		EventID:        b.EventID,
		Status:         string(b.Status),
		PaymentStatus:  string(b.PaymentStatus),
		PaymentMethod:  string(b.PaymentMethod),
		TotalAmount:    b.TotalAmount,
		RefundAmount:   b.RefundAmount,
		Currency:       b.Currency,
		IssuanceStatus: string(b.IssuanceStatus),
		IssuanceError:  b.IssuanceError,
		Items:          make([]BookingItemResponse, 0, len(b.Items)),
		Tickets:        make([]TicketResponse, 0, len(b.Tickets)),
		CreatedAt:      b.CreatedAt,
		PaidAt:         b.PaidAt,
		CancelledAt:    b.CancelledAt,
	}
	for _, it := range b.Items {
		resp.Items = append(resp.Items, BookingItemResponse{
			TicketTypeID:   it.TicketTypeID,
			TicketTypeName: it.TicketTypeName,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
			LineTotal:      it.LineTotal,
		})
	}
	for _, t := range b.Tickets {
		resp.Tickets = append(resp.Tickets, TicketResponse{
			ID:             t.ID,
			Code:           t.Code,
			TicketTypeName: t.TicketTypeName,
			Status:         string(t.Status),
			QRRef:          t.QRRef,
			IssuedAt:       t.IssuedAt,
		})
	}
	return resp
}
