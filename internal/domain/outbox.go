package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
	// OutboxStatusDead is terminal: attempts are exhausted and an
	// operator has to intervene
	OutboxStatusDead OutboxStatus = "dead"
)

// Outbox event types
const (
	EventTypeIssuanceRequested = "tickets.issue_requested"
	EventTypeBookingConfirmed  = "booking.confirmed"
	EventTypeBookingCancelled  = "booking.cancelled"

	AggregateBooking = "booking"

	DefaultOutboxMaxRetries = 5
)

// OutboxMessage is a durable side-effect request written in the same
// transaction as the state change that caused it
type OutboxMessage struct {
	ID            string       `json:"id"`
	AggregateType string       `json:"aggregate_type"`
	AggregateID   string       `json:"aggregate_id"`
	EventType     string       `json:"event_type"`
	Payload       []byte       `json:"payload"`
	Topic         string       `json:"topic"`
	PartitionKey  string       `json:"partition_key"`
	Status        OutboxStatus `json:"status"`
	RetryCount    int          `json:"retry_count"`
	MaxRetries    int          `json:"max_retries"`
	LastError     string       `json:"last_error,omitempty"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	CreatedAt     time.Time    `json:"created_at"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
	PublishedAt   *time.Time   `json:"published_at,omitempty"`
}

// NewOutboxMessage creates a pending message due immediately
func NewOutboxMessage(aggregateType, aggregateID, eventType, topic string, payload interface{}, now time.Time) (*OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		Topic:         topic,
		PartitionKey:  aggregateID,
		Status:        OutboxStatusPending,
		MaxRetries:    DefaultOutboxMaxRetries,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// MarkAsPublished marks the message as successfully handled
func (m *OutboxMessage) MarkAsPublished(now time.Time) {
	m.Status = OutboxStatusPublished
	m.PublishedAt = &now
	m.ProcessedAt = &now
}

// MarkAsFailed records a failed attempt and schedules the next one
func (m *OutboxMessage) MarkAsFailed(err string, nextAttemptAt, now time.Time) {
	m.Status = OutboxStatusFailed
	m.LastError = err
	m.RetryCount++
	m.NextAttemptAt = nextAttemptAt
	m.ProcessedAt = &now
}

// MarkAsDead makes the failure terminal
func (m *OutboxMessage) MarkAsDead(err string, now time.Time) {
	m.Status = OutboxStatusDead
	m.LastError = err
	m.RetryCount++
	m.ProcessedAt = &now
}

// GetPayload unmarshals the payload into the given interface
func (m *OutboxMessage) GetPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// IssuanceRequested asks the worker to deliver the tickets of a booking
type IssuanceRequested struct {
	BookingID string    `json:"booking_id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	TicketIDs []string  `json:"ticket_ids"`
	Requested time.Time `json:"requested_at"`
}

// BookingEvent is published to the booking topic on state changes
type BookingEvent struct {
	EventType     string          `json:"event_type"`
	BookingID     string          `json:"booking_id"`
	UserID        string          `json:"user_id"`
	EventID       string          `json:"event_id"`
	Status        BookingStatus   `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	Currency      string          `json:"currency"`
	TicketCount   int             `json:"ticket_count"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewIssuanceOutbox builds the issuance request for a committed booking
func NewIssuanceOutbox(b *Booking, topic string, now time.Time) (*OutboxMessage, error) {
	ids := make([]string, 0, len(b.Tickets))
	for _, t := range b.Tickets {
		ids = append(ids, t.ID)
	}
	return NewOutboxMessage(AggregateBooking, b.ID, EventTypeIssuanceRequested, topic, IssuanceRequested{
		BookingID: b.ID,
		UserID:    b.UserID,
		EventID:   b.EventID,
		TicketIDs: ids,
		Requested: now,
	}, now)
}

// NewBookingEventOutbox builds a booking state-change notification
func NewBookingEventOutbox(eventType string, b *Booking, ticketCount int, topic string, now time.Time) (*OutboxMessage, error) {
	return NewOutboxMessage(AggregateBooking, b.ID, eventType, topic, BookingEvent{
		EventType:     eventType,
		BookingID:     b.ID,
		UserID:        b.UserID,
		EventID:       b.EventID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		TotalAmount:   b.TotalAmount,
		RefundAmount:  b.RefundAmount,
		Currency:      b.Currency,
		TicketCount:   ticketCount,
		OccurredAt:    now,
	}, now)
}
