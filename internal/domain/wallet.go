package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletStatus represents the status of a wallet
type WalletStatus string

const (
	WalletStatusActive  WalletStatus = "active"
	WalletStatusFrozen  WalletStatus = "frozen"
	WalletStatusDeleted WalletStatus = "deleted"
)

// Wallet holds a user's balance. Balance is never negative after a
// committed mutation.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    WalletStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CanTransact returns an error unless the wallet is active
func (w *Wallet) CanTransact() error {
	switch w.Status {
	case WalletStatusActive:
		return nil
	case WalletStatusDeleted:
		return ErrWalletNotFound
	default:
		return ErrWalletInactive
	}
}

// Debit subtracts amount and returns the balance before and after
func (w *Wallet) Debit(amount decimal.Decimal, now time.Time) (before, after decimal.Decimal, err error) {
	if err := w.CanTransact(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}
	if w.Balance.LessThan(amount) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: balance %s, required %s",
			ErrInsufficientFunds, w.Balance.StringFixed(2), amount.StringFixed(2))
	}
	before = w.Balance
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = now
	return before, w.Balance, nil
}

// Credit adds amount and returns the balance before and after
func (w *Wallet) Credit(amount decimal.Decimal, now time.Time) (before, after decimal.Decimal, err error) {
	if err := w.CanTransact(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}
	before = w.Balance
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = now
	return before, w.Balance, nil
}

// WalletTransactionType is the kind of balance mutation
type WalletTransactionType string

const (
	WalletTxPayment WalletTransactionType = "payment"
	WalletTxTopup   WalletTransactionType = "topup"
	WalletTxRefund  WalletTransactionType = "refund"
)

// WalletTransactionStatus is the lifecycle state of a ledger row
type WalletTransactionStatus string

const (
	WalletTxPending WalletTransactionStatus = "pending"
	WalletTxSuccess WalletTransactionStatus = "success"
	WalletTxFailed  WalletTransactionStatus = "failed"
)

// WalletTransaction is an append-only ledger row written alongside
// every balance mutation
type WalletTransaction struct {
	ID                   string                  `json:"id"`
	WalletID             string                  `json:"wallet_id"`
	UserID               string                  `json:"user_id"`
	Type                 WalletTransactionType   `json:"type"`
	Status               WalletTransactionStatus `json:"status"`
	Amount               decimal.Decimal         `json:"amount"`
	BalanceBefore        decimal.Decimal         `json:"balance_before"`
	BalanceAfter         decimal.Decimal         `json:"balance_after"`
	Currency             string                  `json:"currency"`
	Description          string                  `json:"description"`
	BookingID            *string                 `json:"booking_id,omitempty"`
	PaymentTransactionID *string                 `json:"payment_transaction_id,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
}

// PaymentTransactionStatus is the state of a captured payment
type PaymentTransactionStatus string

const (
	PaymentTxSucceeded         PaymentTransactionStatus = "succeeded"
	PaymentTxRefunded          PaymentTransactionStatus = "refunded"
	PaymentTxPartiallyRefunded PaymentTransactionStatus = "partially_refunded"
)

// PaymentTransaction records a captured payment for a booking
type PaymentTransaction struct {
	ID             string                   `json:"id"`
	BookingID      string                   `json:"booking_id"`
	UserID         string                   `json:"user_id"`
	Amount         decimal.Decimal          `json:"amount"`
	RefundedAmount decimal.Decimal          `json:"refunded_amount"`
	Currency       string                   `json:"currency"`
	Method         PaymentMethod            `json:"method"`
	Status         PaymentTransactionStatus `json:"status"`
	CompletedAt    time.Time                `json:"completed_at"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// NewWalletPayment creates a completed wallet payment for a booking
func NewWalletPayment(b *Booking, now time.Time) *PaymentTransaction {
	return &PaymentTransaction{
		ID:             uuid.NewString(),
		BookingID:      b.ID,
		UserID:         b.UserID,
		Amount:         b.TotalAmount,
		RefundedAmount: decimal.Zero,
		Currency:       b.Currency,
		Method:         PaymentMethodWallet,
		Status:         PaymentTxSucceeded,
		CompletedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ApplyRefund records a refund against the payment
func (p *PaymentTransaction) ApplyRefund(amount decimal.Decimal, now time.Time) {
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	if p.RefundedAmount.GreaterThanOrEqual(p.Amount) {
		p.Status = PaymentTxRefunded
	} else {
		p.Status = PaymentTxPartiallyRefunded
	}
	p.UpdatedAt = now
}

// User is the subset of the account the booking core reads
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	IsActive  bool   `json:"is_active"`
	IsDeleted bool   `json:"-"`
}

// CheckActive returns ErrUserInactive unless the account can book
func (u *User) CheckActive() error {
	if !u.IsActive || u.IsDeleted {
		return ErrUserInactive
	}
	return nil
}
