package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/aievent-booking/pkg/database"
)

//go:embed schema.sql
var Schema string

// isUUID reports whether id can be bound to a UUID column. Any other value
// cannot match a row, and pgx would fail to encode it.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// PostgresStore opens units of work backed by one pgx transaction each
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, Schema)
}

// Begin starts a read-committed transaction. Row locks taken through the
// returned repositories are held until Commit or Rollback.
func (s *PostgresStore) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresUnitOfWork{tx: tx}, nil
}

type postgresUnitOfWork struct {
	tx   pgx.Tx
	done bool
}

func (u *postgresUnitOfWork) Users() UserRepository {
	return &postgresUserRepository{tx: u.tx}
}

func (u *postgresUnitOfWork) Events() EventRepository {
	return &postgresEventRepository{tx: u.tx}
}

func (u *postgresUnitOfWork) TicketTypes() TicketTypeRepository {
	return &postgresTicketTypeRepository{tx: u.tx}
}

func (u *postgresUnitOfWork) Wallets() WalletRepository {
	return &postgresWalletRepository{tx: u.tx}
}

func (u *postgresUnitOfWork) WalletTransactions() WalletTransactionRepository {
	return &postgresWalletTransactionRepository{tx: u.tx}
}

func (u *postgresUnitOfWork) Payments() PaymentRepository {
	return &postgresPaymentRepository{tx: u.tx}
}

func (u *postgresUnitOfWork) Bookings() BookingRepository {
	return &postgresBookingRepository{tx: u.tx}
}

func (u *postgresUnitOfWork) Outbox() OutboxRepository {
	return &postgresOutboxRepository{tx: u.tx}
}

func (u *postgresUnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return pgx.ErrTxClosed
	}
	u.done = true
	return u.tx.Commit(ctx)
}

func (u *postgresUnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

var _ UnitOfWorkFactory = (*PostgresStore)(nil)
