package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/internal/dto"
	"github.com/prohmpiriya/aievent-booking/internal/repository"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	store *repository.MemoryStore
	svc   BookingService
	now   time.Time
}

// newTestEnv seeds one buyer (u1), one event (e1) starting in 96h and one
// ticket type (tt1) with the given stock and price
func newTestEnv(t *testing.T, remaining int, price, balance string) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()

	store.SeedUser(domain.User{ID: "u1", Email: "buyer@example.com", FullName: "Buyer", IsActive: true})
	store.SeedEvent(domain.Event{
		ID: "e1", Name: "Summer Fest", Venue: "Riverside",
		Status: domain.EventStatusApproved, IsPublished: true,
		StartTime: testNow.Add(96 * time.Hour), EndTime: testNow.Add(100 * time.Hour),
		TotalTickets: remaining, RemainingTickets: remaining,
	})
	store.SeedTicketType(domain.TicketType{
		ID: "tt1", EventID: "e1", Name: "General", Price: decimal.RequireFromString(price),
		TotalQuantity: remaining, RemainingQuantity: remaining,
	})
	store.SeedWallet(domain.Wallet{
		ID: "w1", UserID: "u1", Balance: decimal.RequireFromString(balance),
		Currency: "VND", Status: domain.WalletStatusActive,
	})

	env := &testEnv{store: store, now: testNow}
	env.svc = NewBookingService(store, NewWalletLedger(), &BookingServiceConfig{
		TransactionTimeout: 2 * time.Second,
		Now:                func() time.Time { return env.now },
	})
	return env
}

func (e *testEnv) book(userID string, qty int) (*dto.BookingConfirmation, error) {
	return e.svc.CreateBooking(context.Background(), userID, &dto.CreateBookingRequest{
		EventID: "e1",
		Items:   []dto.BookingItemRequest{{TicketTypeID: "tt1", Quantity: qty}},
	})
}

func (e *testEnv) remaining(t *testing.T) int {
	tt, ok := e.store.TicketType("tt1")
	require.True(t, ok)
	return tt.RemainingQuantity
}

func (e *testEnv) balance(t *testing.T) decimal.Decimal {
	w, ok := e.store.WalletByUser("u1")
	require.True(t, ok)
	return w.Balance
}

func TestExecuteBooking_PaidFromWallet(t *testing.T) {
	env := newTestEnv(t, 10, "100", "500")

	conf, err := env.book("u1", 3)
	require.NoError(t, err)

	assert.Equal(t, string(domain.BookingStatusConfirmed), conf.Status)
	assert.Equal(t, string(domain.PaymentStatusPaid), conf.PaymentStatus)
	assert.Equal(t, string(domain.PaymentMethodWallet), conf.PaymentMethod)
	assert.True(t, decimal.NewFromInt(300).Equal(conf.TotalAmount))
	require.NotNil(t, conf.BalanceAfter)
	assert.True(t, decimal.NewFromInt(200).Equal(*conf.BalanceAfter))
	assert.Len(t, conf.Tickets, 3)

	assert.True(t, decimal.NewFromInt(200).Equal(env.balance(t)))
	assert.Equal(t, 7, env.remaining(t))
	ev, _ := env.store.Event("e1")
	assert.Equal(t, 7, ev.RemainingTickets)
	assert.Equal(t, 3, ev.SoldTickets)

	txs := env.store.WalletTransactions("w1")
	require.Len(t, txs, 1)
	assert.Equal(t, domain.WalletTxPayment, txs[0].Type)
	assert.True(t, decimal.NewFromInt(500).Equal(txs[0].BalanceBefore))
	assert.True(t, decimal.NewFromInt(200).Equal(txs[0].BalanceAfter))
	assert.True(t, txs[0].BalanceBefore.Sub(txs[0].Amount).Equal(txs[0].BalanceAfter))
	assert.Equal(t, "Payment for Summer Fest (e1)", txs[0].Description)

	outbox := env.store.OutboxMessages()
	require.Len(t, outbox, 2)
	types := []string{outbox[0].EventType, outbox[1].EventType}
	assert.ElementsMatch(t, []string{domain.EventTypeIssuanceRequested, domain.EventTypeBookingConfirmed}, types)
}

func TestExecuteBooking_OverRemainingRejected(t *testing.T) {
	env := newTestEnv(t, 10, "100", "5000")

	_, err := env.book("u1", 15)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientTickets)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	assert.Equal(t, 10, env.remaining(t))
	assert.Equal(t, 0, env.store.BookingCount())
	assert.Empty(t, env.store.OutboxMessages())
	assert.True(t, decimal.NewFromInt(5000).Equal(env.balance(t)))
}

func TestExecuteBooking_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t, 10, "100", "50")

	_, err := env.book("u1", 1)
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientFunds, domain.KindOf(err))

	assert.Equal(t, 10, env.remaining(t))
	assert.Equal(t, 0, env.store.BookingCount())
	assert.Empty(t, env.store.WalletTransactions("w1"))
	assert.True(t, decimal.NewFromInt(50).Equal(env.balance(t)))
}

func TestExecuteBooking_ConcurrentOversell(t *testing.T) {
	env := newTestEnv(t, 10, "100", "100000")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		starts = make(chan struct{})
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-starts
			_, err := env.book("u1", 6)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	close(starts)
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case domain.KindOf(err) == domain.KindInvalidInput:
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 4, env.remaining(t))
	assert.Equal(t, 1, env.store.BookingCount())
}

func TestExecuteBooking_ManyConcurrentBuyersNeverOversell(t *testing.T) {
	env := newTestEnv(t, 25, "10", "1000000")

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conf, err := env.book("u1", 2)
			if err != nil {
				return
			}
			mu.Lock()
			sold += len(conf.Tickets)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 24, sold)
	assert.Equal(t, 1, env.remaining(t))
	tt, _ := env.store.TicketType("tt1")
	assert.Equal(t, tt.TotalQuantity, tt.RemainingQuantity+tt.SoldQuantity)
}

func TestExecuteBooking_FreeEvent(t *testing.T) {
	env := newTestEnv(t, 10, "0", "0")

	conf, err := env.book("u1", 2)
	require.NoError(t, err)

	assert.Equal(t, string(domain.PaymentStatusPaid), conf.PaymentStatus)
	assert.Equal(t, string(domain.PaymentMethodFree), conf.PaymentMethod)
	assert.Nil(t, conf.BalanceAfter)
	assert.Len(t, conf.Tickets, 2)
	assert.Empty(t, env.store.WalletTransactions("w1"))
	assert.Equal(t, 8, env.remaining(t))
}

func TestExecuteBooking_FreeEventWithoutWallet(t *testing.T) {
	env := newTestEnv(t, 10, "0", "0")
	env.store.SeedUser(domain.User{ID: "u2", IsActive: true})

	_, err := env.book("u2", 1)
	assert.NoError(t, err, "free bookings never touch the wallet")
}

func TestExecuteBooking_MultiLineSnapshotsPrices(t *testing.T) {
	env := newTestEnv(t, 10, "100", "1000")
	env.store.SeedTicketType(domain.TicketType{
		ID: "tt0", EventID: "e1", Name: "VIP", Price: decimal.RequireFromString("250.50"),
		TotalQuantity: 5, RemainingQuantity: 5,
	})

	conf, err := env.svc.ExecuteBooking(context.Background(), "u1", "e1", []domain.BookingLine{
		{TicketTypeID: "tt1", Quantity: 2},
		{TicketTypeID: "tt0", Quantity: 1},
	})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("450.50").Equal(conf.TotalAmount))
	require.Len(t, conf.Items, 2)
	assert.Equal(t, "General", conf.Items[0].TicketTypeName)
	assert.True(t, decimal.RequireFromString("250.50").Equal(conf.Items[1].UnitPrice))
	assert.Len(t, conf.Tickets, 3)

	// repricing afterwards leaves the stored booking untouched
	env.store.SeedTicketType(domain.TicketType{ID: "tt0", EventID: "e1", Name: "VIP", Price: decimal.NewFromInt(999), TotalQuantity: 5, RemainingQuantity: 4, SoldQuantity: 1})
	got, err := env.svc.GetBooking(context.Background(), conf.ID, "u1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("450.50").Equal(got.TotalAmount))
	require.Len(t, got.Items, 2)
	for i, it := range got.Items {
		assert.True(t, conf.Items[i].UnitPrice.Equal(it.UnitPrice), "item %s unit price %s", it.TicketTypeID, it.UnitPrice)
	}
	assert.True(t, decimal.RequireFromString("250.50").Equal(got.Items[1].UnitPrice))
}

func TestExecuteBooking_Validation(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(env *testEnv)
		userID   string
		eventID  string
		lines    []domain.BookingLine
		wantErr  error
		wantKind domain.ErrorKind
	}{
		{
			name:     "unknown user",
			userID:   "ghost",
			wantErr:  domain.ErrUserNotFound,
			wantKind: domain.KindUnauthorized,
		},
		{
			name:     "inactive user",
			setup:    func(env *testEnv) { env.store.SeedUser(domain.User{ID: "u1", IsActive: false}) },
			wantErr:  domain.ErrUserInactive,
			wantKind: domain.KindUnauthorized,
		},
		{
			name:     "unknown event",
			eventID:  "nope",
			wantErr:  domain.ErrEventNotFound,
			wantKind: domain.KindNotFound,
		},
		{
			name: "unpublished event",
			setup: func(env *testEnv) {
				e, _ := env.store.Event("e1")
				e.IsPublished = false
				env.store.SeedEvent(e)
			},
			wantErr:  domain.ErrEventNotFound,
			wantKind: domain.KindNotFound,
		},
		{
			name: "ended event",
			setup: func(env *testEnv) {
				e, _ := env.store.Event("e1")
				e.EndTime = testNow.Add(-time.Hour)
				env.store.SeedEvent(e)
			},
			wantErr:  domain.ErrEventEnded,
			wantKind: domain.KindInvalidInput,
		},
		{
			name:     "empty lines",
			lines:    []domain.BookingLine{},
			wantErr:  domain.ErrEmptyBooking,
			wantKind: domain.KindInvalidInput,
		},
		{
			name:     "zero quantity",
			lines:    []domain.BookingLine{{TicketTypeID: "tt1", Quantity: 0}},
			wantErr:  domain.ErrInvalidQuantity,
			wantKind: domain.KindInvalidInput,
		},
		{
			name:     "duplicate ticket type",
			lines:    []domain.BookingLine{{TicketTypeID: "tt1", Quantity: 1}, {TicketTypeID: "tt1", Quantity: 1}},
			wantErr:  domain.ErrDuplicateTicketType,
			wantKind: domain.KindInvalidInput,
		},
		{
			name: "ticket type of another event",
			setup: func(env *testEnv) {
				env.store.SeedTicketType(domain.TicketType{ID: "tt-x", EventID: "e9", Name: "Other", Price: decimal.NewFromInt(1), TotalQuantity: 5, RemainingQuantity: 5})
			},
			lines:    []domain.BookingLine{{TicketTypeID: "tt1", Quantity: 1}, {TicketTypeID: "tt-x", Quantity: 1}},
			wantErr:  domain.ErrInvalidTicketTypes,
			wantKind: domain.KindInvalidInput,
		},
		{
			name:     "malformed ticket type id",
			lines:    []domain.BookingLine{{TicketTypeID: "tt1", Quantity: 1}, {TicketTypeID: "'; drop table", Quantity: 1}},
			wantErr:  domain.ErrInvalidTicketTypes,
			wantKind: domain.KindInvalidInput,
		},
		{
			name: "deleted ticket type",
			setup: func(env *testEnv) {
				tt, _ := env.store.TicketType("tt1")
				tt.IsDeleted = true
				env.store.SeedTicketType(tt)
			},
			wantErr:  domain.ErrInvalidTicketTypes,
			wantKind: domain.KindInvalidInput,
		},
		{
			name: "frozen wallet",
			setup: func(env *testEnv) {
				w, _ := env.store.WalletByUser("u1")
				w.Status = domain.WalletStatusFrozen
				env.store.SeedWallet(w)
			},
			wantErr:  domain.ErrWalletInactive,
			wantKind: domain.KindInvalidInput,
		},
		{
			name:     "missing wallet",
			setup:    func(env *testEnv) { env.store.SeedUser(domain.User{ID: "u3", IsActive: true}) },
			userID:   "u3",
			wantErr:  domain.ErrWalletNotFound,
			wantKind: domain.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 10, "100", "500")
			if tt.setup != nil {
				tt.setup(env)
			}
			userID := tt.userID
			if userID == "" {
				userID = "u1"
			}
			eventID := tt.eventID
			if eventID == "" {
				eventID = "e1"
			}
			lines := tt.lines
			if lines == nil {
				lines = []domain.BookingLine{{TicketTypeID: "tt1", Quantity: 1}}
			}

			_, err := env.svc.ExecuteBooking(context.Background(), userID, eventID, lines)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
			assert.Equal(t, 0, env.store.BookingCount())
		})
	}
}

func TestCancelBooking(t *testing.T) {
	tests := []struct {
		name        string
		untilStart  time.Duration
		wantErr     error
		wantRefund  string
		wantPercent int
	}{
		{name: "full refund", untilStart: 96 * time.Hour, wantRefund: "300", wantPercent: 100},
		{name: "partial refund", untilStart: 48 * time.Hour, wantRefund: "150", wantPercent: 50},
		{name: "window closed", untilStart: 12 * time.Hour, wantErr: domain.ErrRefundWindowClosed},
		{name: "already started", untilStart: -time.Hour, wantErr: domain.ErrEventStarted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 10, "100", "500")
			conf, err := env.book("u1", 3)
			require.NoError(t, err)

			env.now = testNow.Add(96*time.Hour - tt.untilStart)
			resp, err := env.svc.CancelBooking(context.Background(), conf.ID, "u1")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 7, env.remaining(t), "failed cancel keeps inventory sold")
				assert.True(t, decimal.NewFromInt(200).Equal(env.balance(t)))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantPercent, resp.RefundPct)
			assert.True(t, decimal.RequireFromString(tt.wantRefund).Equal(resp.RefundAmount), "refund %s", resp.RefundAmount)
			assert.Equal(t, 10, env.remaining(t))
			ev, _ := env.store.Event("e1")
			assert.Equal(t, 10, ev.RemainingTickets)
			assert.True(t, decimal.NewFromInt(200).Add(resp.RefundAmount).Equal(env.balance(t)))

			got, err := env.svc.GetBooking(context.Background(), conf.ID, "u1")
			require.NoError(t, err)
			assert.Equal(t, string(domain.BookingStatusCancelled), got.Status)
			assert.Equal(t, string(domain.PaymentStatusPaid), got.PaymentStatus)
			for _, tk := range got.Tickets {
				assert.Equal(t, string(domain.TicketStatusRefunded), tk.Status)
			}

			txs := env.store.WalletTransactions("w1")
			require.Len(t, txs, 2)
			assert.Equal(t, domain.WalletTxRefund, txs[1].Type)
			assert.True(t, txs[1].BalanceBefore.Add(txs[1].Amount).Equal(txs[1].BalanceAfter))

			_, err = env.svc.CancelBooking(context.Background(), conf.ID, "u1")
			assert.ErrorIs(t, err, domain.ErrBookingNotCancellable)
		})
	}
}

func TestCancelBooking_OtherUsersBooking(t *testing.T) {
	env := newTestEnv(t, 10, "100", "500")
	conf, err := env.book("u1", 1)
	require.NoError(t, err)

	_, err = env.svc.CancelBooking(context.Background(), conf.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	_, err = env.svc.GetBooking(context.Background(), conf.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestReissueTickets(t *testing.T) {
	env := newTestEnv(t, 10, "100", "500")
	conf, err := env.book("u1", 2)
	require.NoError(t, err)

	_, err = env.svc.ReissueTickets(context.Background(), conf.ID)
	assert.ErrorIs(t, err, domain.ErrIssuanceNotFailed)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	require.NoError(t, repository.WithinUnitOfWork(context.Background(), env.store, func(uow repository.UnitOfWork) error {
		return uow.Bookings().SetIssuanceStatus(context.Background(), conf.ID, domain.IssuanceStatusFailed, "smtp down")
	}))

	failed, err := env.svc.ListFailedIssuance(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "smtp down", failed[0].IssuanceError)

	resp, err := env.svc.ReissueTickets(context.Background(), conf.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.IssuanceStatusPending), resp.IssuanceStatus)

	issuance := 0
	for _, m := range env.store.OutboxMessages() {
		if m.EventType == domain.EventTypeIssuanceRequested {
			issuance++
		}
	}
	assert.Equal(t, 2, issuance)
}
