package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWallet_Debit(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		status     WalletStatus
		balance    string
		amount     string
		wantErr    error
		wantKind   ErrorKind
		wantBefore string
		wantAfter  string
	}{
		{name: "sufficient", status: WalletStatusActive, balance: "500", amount: "300", wantBefore: "500", wantAfter: "200"},
		{name: "exact balance", status: WalletStatusActive, balance: "100", amount: "100", wantBefore: "100", wantAfter: "0"},
		{name: "insufficient", status: WalletStatusActive, balance: "50", amount: "100", wantErr: ErrInsufficientFunds, wantKind: KindInsufficientFunds},
		{name: "frozen", status: WalletStatusFrozen, balance: "500", amount: "1", wantErr: ErrWalletInactive, wantKind: KindInvalidInput},
		{name: "deleted", status: WalletStatusDeleted, balance: "500", amount: "1", wantErr: ErrWalletNotFound, wantKind: KindNotFound},
		{name: "zero amount", status: WalletStatusActive, balance: "500", amount: "0", wantErr: ErrInvalidAmount, wantKind: KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Wallet{Status: tt.status, Balance: decimal.RequireFromString(tt.balance)}
			before, after, err := w.Debit(decimal.RequireFromString(tt.amount), now)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				assert.True(t, decimal.RequireFromString(tt.balance).Equal(w.Balance), "balance must be unchanged")
				return
			}

			assert.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantBefore).Equal(before))
			assert.True(t, decimal.RequireFromString(tt.wantAfter).Equal(after))
			assert.False(t, w.Balance.IsNegative())
			assert.True(t, before.Sub(decimal.RequireFromString(tt.amount)).Equal(after))
		})
	}
}

func TestWallet_Credit(t *testing.T) {
	w := &Wallet{Status: WalletStatusActive, Balance: decimal.NewFromInt(10)}
	before, after, err := w.Credit(decimal.NewFromInt(90), time.Now())

	assert.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(before))
	assert.True(t, decimal.NewFromInt(100).Equal(after))

	_, _, err = w.Credit(decimal.NewFromInt(-1), time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPaymentTransaction_ApplyRefund(t *testing.T) {
	b := &Booking{ID: "b1", UserID: "u1", TotalAmount: decimal.NewFromInt(200), Currency: "VND"}
	p := NewWalletPayment(b, time.Now())
	assert.Equal(t, PaymentTxSucceeded, p.Status)

	p.ApplyRefund(decimal.NewFromInt(100), time.Now())
	assert.Equal(t, PaymentTxPartiallyRefunded, p.Status)

	p.ApplyRefund(decimal.NewFromInt(100), time.Now())
	assert.Equal(t, PaymentTxRefunded, p.Status)
}

func TestKindOf(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrInsufficientFunds)
	assert.Equal(t, KindInsufficientFunds, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnauthorized, KindOf(ErrUserInactive))
	assert.Equal(t, KindNotFound, KindOf(ErrBookingNotFound))
	assert.Equal(t, KindInvalidInput, KindOf(ErrInvalidTicketTypes))
	assert.Equal(t, "one or more ticket types are invalid", ErrInvalidTicketTypes.Error())
}
