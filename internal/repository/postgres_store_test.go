package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/pkg/database"
)

func skipIfNoIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupTestStore(t *testing.T) (*PostgresStore, *database.PostgresDB) {
	ctx := context.Background()

	cfg := database.DefaultPostgresConfig()
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.User = getEnv("DB_USER", "postgres")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "aievent_test")
	cfg.MaxConns = 5
	cfg.MinConns = 1

	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err, "failed to connect to database")
	t.Cleanup(db.Close)

	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate(ctx))
	return store, db
}

type fixture struct {
	userID, eventID, ticketTypeID, walletID string
}

func seedFixture(t *testing.T, db *database.PostgresDB, remaining int, balance string) fixture {
	ctx := context.Background()
	f := fixture{
		userID:       uuid.NewString(),
		eventID:      uuid.NewString(),
		ticketTypeID: uuid.NewString(),
		walletID:     uuid.NewString(),
	}
	now := time.Now()

	_, err := db.Pool().Exec(ctx,
		`INSERT INTO users (id, email, full_name) VALUES ($1, $2, 'Test Buyer')`,
		f.userID, f.userID+"@example.com")
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `
		INSERT INTO events (id, organizer_id, name, venue, start_time, end_time, status,
			is_published, total_tickets, sold_tickets, remaining_tickets)
		VALUES ($1, $2, 'Integration Night', 'Hall', $3, $4, 'approved', true, $5, 0, $5)
	`, f.eventID, uuid.NewString(), now.Add(96*time.Hour), now.Add(100*time.Hour), remaining)
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `
		INSERT INTO ticket_types (id, event_id, name, price, total_quantity, sold_quantity, remaining_quantity)
		VALUES ($1, $2, 'GA', 100, $3, 0, $3)
	`, f.ticketTypeID, f.eventID, remaining)
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx,
		`INSERT INTO wallets (id, user_id, balance, currency) VALUES ($1, $2, $3, 'VND')`,
		f.walletID, f.userID, decimal.RequireFromString(balance))
	require.NoError(t, err)

	return f
}

func TestPostgresStore_GuardedInventory(t *testing.T) {
	skipIfNoIntegration(t)
	store, db := setupTestStore(t)
	ctx := context.Background()
	f := seedFixture(t, db, 2, "500")

	err := WithinUnitOfWork(ctx, store, func(uow UnitOfWork) error {
		types, err := uow.TicketTypes().FindByIDsForUpdate(ctx, f.eventID, []string{f.ticketTypeID})
		require.NoError(t, err)
		require.Len(t, types, 1)
		assert.True(t, decimal.NewFromInt(100).Equal(types[f.ticketTypeID].Price))

		if err := uow.TicketTypes().Reserve(ctx, f.ticketTypeID, 2); err != nil {
			return err
		}
		return uow.TicketTypes().Reserve(ctx, f.ticketTypeID, 1)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientTickets)

	var remaining int
	require.NoError(t, db.Pool().QueryRow(ctx,
		`SELECT remaining_quantity FROM ticket_types WHERE id = $1`, f.ticketTypeID).Scan(&remaining))
	assert.Equal(t, 2, remaining, "failed unit must roll back the first reserve")
}

func TestPostgresStore_WalletBalanceCheck(t *testing.T) {
	skipIfNoIntegration(t)
	store, db := setupTestStore(t)
	ctx := context.Background()
	f := seedFixture(t, db, 1, "50")

	err := WithinUnitOfWork(ctx, store, func(uow UnitOfWork) error {
		w, err := uow.Wallets().FindByUserForUpdate(ctx, f.userID)
		if err != nil {
			return err
		}
		w.Balance = decimal.NewFromInt(-1)
		return uow.Wallets().UpdateBalance(ctx, w)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestPostgresStore_BookingAndOutbox(t *testing.T) {
	skipIfNoIntegration(t)
	store, db := setupTestStore(t)
	ctx := context.Background()
	f := seedFixture(t, db, 5, "500")
	now := time.Now().UTC().Truncate(time.Microsecond)

	var booking *domain.Booking
	err := WithinUnitOfWork(ctx, store, func(uow UnitOfWork) error {
		event, err := uow.Events().FindApprovedPublished(ctx, f.eventID)
		if err != nil {
			return err
		}
		types, err := uow.TicketTypes().FindByIDsForUpdate(ctx, f.eventID, []string{f.ticketTypeID})
		if err != nil {
			return err
		}
		booking = domain.NewBooking(f.userID, f.eventID, "VND", now)
		if _, err := booking.AddLine(types[f.ticketTypeID], 2, event, now); err != nil {
			return err
		}
		if err := uow.Bookings().Create(ctx, booking); err != nil {
			return err
		}
		msg, err := domain.NewIssuanceOutbox(booking, "booking-events", now)
		if err != nil {
			return err
		}
		return uow.Outbox().Create(ctx, msg)
	})
	require.NoError(t, err)

	err = WithinUnitOfWork(ctx, store, func(uow UnitOfWork) error {
		got, err := uow.Bookings().GetByID(ctx, booking.ID)
		require.NoError(t, err)
		assert.Len(t, got.Items, 1)
		assert.Len(t, got.Tickets, 2)
		assert.True(t, decimal.NewFromInt(200).Equal(got.TotalAmount))

		claimed, err := uow.Outbox().ClaimDue(ctx, time.Now().Add(time.Second), time.Minute, 100)
		require.NoError(t, err)
		found := false
		for _, m := range claimed {
			if m.AggregateID == booking.ID {
				found = true
			}
		}
		assert.True(t, found, "issuance request should be claimable")
		return nil
	})
	require.NoError(t, err)
}
