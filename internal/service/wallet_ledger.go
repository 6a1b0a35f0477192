package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/internal/repository"
)

// WalletLedger mutates wallet balances inside a unit of work. Every
// mutation is paired with an appended WalletTransaction whose
// before/after balances match the wallet row.
type WalletLedger struct{}

// NewWalletLedger creates a new WalletLedger
func NewWalletLedger() *WalletLedger {
	return &WalletLedger{}
}

// Lock locks the user's wallet and checks it can cover amount without
// writing anything
func (l *WalletLedger) Lock(ctx context.Context, uow repository.UnitOfWork, userID string, amount decimal.Decimal) (*domain.Wallet, error) {
	w, err := uow.Wallets().FindByUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := w.CanTransact(); err != nil {
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: balance %s, required %s",
			domain.ErrInsufficientFunds, w.Balance.StringFixed(2), amount.StringFixed(2))
	}
	return w, nil
}

// Debit charges the booking total to a wallet obtained from Lock and
// records the payment and its ledger row. The row's description names the
// event being paid for.
func (l *WalletLedger) Debit(ctx context.Context, uow repository.UnitOfWork, w *domain.Wallet, b *domain.Booking, event *domain.Event, now time.Time) (*domain.PaymentTransaction, error) {
	before, after, err := w.Debit(b.TotalAmount, now)
	if err != nil {
		return nil, err
	}
	if err := uow.Wallets().UpdateBalance(ctx, w); err != nil {
		return nil, err
	}

	payment := domain.NewWalletPayment(b, now)
	if err := uow.Payments().Create(ctx, payment); err != nil {
		return nil, err
	}

	bookingID := b.ID
	if err := uow.WalletTransactions().Append(ctx, &domain.WalletTransaction{
		ID:                   newID(),
		WalletID:             w.ID,
		UserID:               w.UserID,
		Type:                 domain.WalletTxPayment,
		Status:               domain.WalletTxSuccess,
		Amount:               b.TotalAmount,
		BalanceBefore:        before,
		BalanceAfter:         after,
		Currency:             b.Currency,
		Description:          fmt.Sprintf("Payment for %s (%s)", event.Name, event.ID),
		BookingID:            &bookingID,
		PaymentTransactionID: &payment.ID,
		CreatedAt:            now,
	}); err != nil {
		return nil, err
	}
	return payment, nil
}

// Credit returns amount of the booking's payment to the buyer's wallet
func (l *WalletLedger) Credit(ctx context.Context, uow repository.UnitOfWork, b *domain.Booking, amount decimal.Decimal, now time.Time) (*domain.WalletTransaction, error) {
	w, err := uow.Wallets().FindByUserForUpdate(ctx, b.UserID)
	if err != nil {
		return nil, err
	}
	before, after, err := w.Credit(amount, now)
	if err != nil {
		return nil, err
	}
	if err := uow.Wallets().UpdateBalance(ctx, w); err != nil {
		return nil, err
	}

	payment, err := uow.Payments().GetByBookingID(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment for refund: %w", err)
	}
	payment.ApplyRefund(amount, now)
	if err := uow.Payments().UpdateRefund(ctx, payment); err != nil {
		return nil, err
	}

	bookingID := b.ID
	wt := &domain.WalletTransaction{
		ID:                   newID(),
		WalletID:             w.ID,
		UserID:               w.UserID,
		Type:                 domain.WalletTxRefund,
		Status:               domain.WalletTxSuccess,
		Amount:               amount,
		BalanceBefore:        before,
		BalanceAfter:         after,
		Currency:             b.Currency,
		Description:          fmt.Sprintf("Refund for booking %s", b.ID),
		BookingID:            &bookingID,
		PaymentTransactionID: &payment.ID,
		CreatedAt:            now,
	}
	if err := uow.WalletTransactions().Append(ctx, wt); err != nil {
		return nil, err
	}
	return wt, nil
}
