package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
)

// UserRepository reads buyer accounts
type UserRepository interface {
	// FindActiveByID returns ErrUserNotFound or ErrUserInactive when the
	// account cannot book
	FindActiveByID(ctx context.Context, id string) (*domain.User, error)
	// FindByID returns the account regardless of its state
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// EventRepository reads events and mutates their inventory counters
type EventRepository interface {
	// FindApprovedPublished returns ErrEventNotFound unless the event
	// exists, is approved and published
	FindApprovedPublished(ctx context.Context, id string) (*domain.Event, error)
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	// ApplySale moves qty from remaining to sold, failing with
	// ErrInsufficientTickets instead of going negative
	ApplySale(ctx context.Context, id string, qty int) error
	ApplyRelease(ctx context.Context, id string, qty int) error
}

// TicketTypeRepository reads and mutates ticket type inventory
type TicketTypeRepository interface {
	// FindByIDsForUpdate locks the non-deleted ticket types of eventID
	// with the given ids, in id order. Unknown ids are simply absent.
	FindByIDsForUpdate(ctx context.Context, eventID string, ids []string) (map[string]*domain.TicketType, error)
	Reserve(ctx context.Context, id string, qty int) error
	Release(ctx context.Context, id string, qty int) error
}

// WalletRepository reads and mutates wallet balances
type WalletRepository interface {
	// FindByUserForUpdate locks the user's wallet. ErrWalletNotFound when
	// missing or deleted.
	FindByUserForUpdate(ctx context.Context, userID string) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, w *domain.Wallet) error
}

// WalletTransactionRepository appends ledger rows
type WalletTransactionRepository interface {
	Append(ctx context.Context, tx *domain.WalletTransaction) error
}

// PaymentRepository stores captured payments
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.PaymentTransaction) error
	GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error)
	UpdateRefund(ctx context.Context, p *domain.PaymentTransaction) error
}

// BookingRepository stores the booking aggregate
type BookingRepository interface {
	// Create inserts the booking with its items and tickets
	Create(ctx context.Context, b *domain.Booking) error
	// GetByID loads the booking with items and tickets
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Booking, error)
	UpdateStatus(ctx context.Context, b *domain.Booking) error
	UpdateTicketsStatus(ctx context.Context, bookingID string, status domain.TicketStatus) error
	SaveTicketArtifacts(ctx context.Context, t *domain.Ticket) error
	SetIssuanceStatus(ctx context.Context, bookingID string, status domain.IssuanceStatus, reason string) error
	ListByIssuanceStatus(ctx context.Context, status domain.IssuanceStatus, limit int) ([]*domain.Booking, error)
}

// OutboxRepository stores durable side-effect requests
type OutboxRepository interface {
	Create(ctx context.Context, msg *domain.OutboxMessage) error
	// ClaimDue leases up to limit due messages so concurrent workers skip
	// them until lease elapses
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.OutboxMessage, error)
	// ExtendLease pushes the lease of a still-unfinished message to until
	ExtendLease(ctx context.Context, id string, until time.Time) error
	MarkPublished(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, msg *domain.OutboxMessage) error
	MarkDead(ctx context.Context, msg *domain.OutboxMessage) error
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}

// UnitOfWork is one atomic scope. Every repository it hands out operates
// inside the same transaction. Commit or Rollback ends it; Rollback after
// Commit is a no-op.
type UnitOfWork interface {
	Users() UserRepository
	Events() EventRepository
	TicketTypes() TicketTypeRepository
	Wallets() WalletRepository
	WalletTransactions() WalletTransactionRepository
	Payments() PaymentRepository
	Bookings() BookingRepository
	Outbox() OutboxRepository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOfWorkFactory opens units of work
type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// WithinUnitOfWork runs fn in a new unit of work and commits when it
// returns nil
func WithinUnitOfWork(ctx context.Context, f UnitOfWorkFactory, fn func(uow UnitOfWork) error) error {
	uow, err := f.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin unit of work: %w", err)
	}
	defer uow.Rollback(ctx)

	if err := fn(uow); err != nil {
		return err
	}

	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit unit of work: %w", err)
	}
	return nil
}
