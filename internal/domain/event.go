package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the approval state of an event
type EventStatus string

const (
	EventStatusPending  EventStatus = "pending"
	EventStatusApproved EventStatus = "approved"
	EventStatusRejected EventStatus = "rejected"
)

// Event represents an event entity. RemainingTickets always equals
// TotalTickets - SoldTickets.
type Event struct {
	ID               string      `json:"id"`
	OrganizerID      string      `json:"organizer_id"`
	Name             string      `json:"name"`
	Venue            string      `json:"venue"`
	StartTime        time.Time   `json:"start_time"`
	EndTime          time.Time   `json:"end_time"`
	Status           EventStatus `json:"status"`
	IsPublished      bool        `json:"is_published"`
	TotalTickets     int         `json:"total_tickets"`
	SoldTickets      int         `json:"sold_tickets"`
	RemainingTickets int         `json:"remaining_tickets"`
	IsDeleted        bool        `json:"-"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// CheckBookable verifies the event accepts bookings at now
func (e *Event) CheckBookable(now time.Time) error {
	if e.IsDeleted || e.Status != EventStatusApproved || !e.IsPublished {
		return ErrEventNotBookable
	}
	if !e.EndTime.After(now) {
		return ErrEventEnded
	}
	return nil
}

// ApplySale moves qty tickets from remaining to sold
func (e *Event) ApplySale(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if e.RemainingTickets < qty {
		return fmt.Errorf("%w: event %s has %d remaining", ErrInsufficientTickets, e.Name, e.RemainingTickets)
	}
	e.RemainingTickets -= qty
	e.SoldTickets += qty
	return nil
}

// ApplyRelease returns qty sold tickets to the pool
func (e *Event) ApplyRelease(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if e.SoldTickets < qty {
		return ErrInventoryMismatch
	}
	e.SoldTickets -= qty
	e.RemainingTickets += qty
	return nil
}

// TicketType is a priced ticket category of one event.
// RemainingQuantity + SoldQuantity = TotalQuantity and remaining never
// drops below zero.
type TicketType struct {
	ID                string          `json:"id"`
	EventID           string          `json:"event_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	TotalQuantity     int             `json:"total_quantity"`
	SoldQuantity      int             `json:"sold_quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	IsDeleted         bool            `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Reserve decrements remaining and increments sold
func (t *TicketType) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if t.RemainingQuantity < qty {
		return fmt.Errorf("%w: %q has %d remaining, %d requested",
			ErrInsufficientTickets, t.Name, t.RemainingQuantity, qty)
	}
	t.RemainingQuantity -= qty
	t.SoldQuantity += qty
	return nil
}

// Release reverses Reserve for a cancellation
func (t *TicketType) Release(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if t.SoldQuantity < qty {
		return ErrInventoryMismatch
	}
	t.SoldQuantity -= qty
	t.RemainingQuantity += qty
	return nil
}
