package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/pkg/database"
)

type postgresWalletRepository struct {
	tx pgx.Tx
}

func (r *postgresWalletRepository) FindByUserForUpdate(ctx context.Context, userID string) (*domain.Wallet, error) {
	if !isUUID(userID) {
		return nil, domain.ErrWalletNotFound
	}
	query := `
		SELECT id, user_id, balance, currency, status, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND status <> 'deleted'
		FOR UPDATE
	`

	w := &domain.Wallet{}
	var status string
	err := r.tx.QueryRow(ctx, query, userID).Scan(
		&w.ID,
		&w.UserID,
		&w.Balance,
		&w.Currency,
		&status,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	w.Status = domain.WalletStatus(status)
	return w, nil
}

func (r *postgresWalletRepository) UpdateBalance(ctx context.Context, w *domain.Wallet) error {
	query := `UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`

	result, err := r.tx.Exec(ctx, query, w.ID, w.Balance, w.UpdatedAt)
	if err != nil {
		if database.IsCheckViolation(err) {
			return fmt.Errorf("%w: wallet %s", domain.ErrInsufficientFunds, w.ID)
		}
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

type postgresWalletTransactionRepository struct {
	tx pgx.Tx
}

func (r *postgresWalletTransactionRepository) Append(ctx context.Context, wt *domain.WalletTransaction) error {
	query := `
		INSERT INTO wallet_transactions (
			id, wallet_id, user_id, type, status, amount,
			balance_before, balance_after, currency, description,
			booking_id, payment_transaction_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.tx.Exec(ctx, query,
		wt.ID,
		wt.WalletID,
		wt.UserID,
		string(wt.Type),
		string(wt.Status),
		wt.Amount,
		wt.BalanceBefore,
		wt.BalanceAfter,
		wt.Currency,
		wt.Description,
		wt.BookingID,
		wt.PaymentTransactionID,
		wt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append wallet transaction: %w", err)
	}
	return nil
}

type postgresPaymentRepository struct {
	tx pgx.Tx
}

func (r *postgresPaymentRepository) Create(ctx context.Context, p *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (
			id, booking_id, user_id, amount, refunded_amount, currency,
			method, status, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.tx.Exec(ctx, query,
		p.ID,
		p.BookingID,
		p.UserID,
		p.Amount,
		p.RefundedAmount,
		p.Currency,
		string(p.Method),
		string(p.Status),
		p.CompletedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: booking %s already has a payment", domain.ErrConcurrentMutation, p.BookingID)
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

func (r *postgresPaymentRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error) {
	if !isUUID(bookingID) {
		return nil, domain.ErrBookingNotFound
	}
	query := `
		SELECT id, booking_id, user_id, amount, refunded_amount, currency,
			method, status, completed_at, created_at, updated_at
		FROM payment_transactions
		WHERE booking_id = $1
	`

	p := &domain.PaymentTransaction{}
	var method, status string
	err := r.tx.QueryRow(ctx, query, bookingID).Scan(
		&p.ID,
		&p.BookingID,
		&p.UserID,
		&p.Amount,
		&p.RefundedAmount,
		&p.Currency,
		&method,
		&status,
		&p.CompletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}
	p.Method = domain.PaymentMethod(method)
	p.Status = domain.PaymentTransactionStatus(status)
	return p, nil
}

func (r *postgresPaymentRepository) UpdateRefund(ctx context.Context, p *domain.PaymentTransaction) error {
	query := `
		UPDATE payment_transactions SET
			refunded_amount = $2,
			status = $3,
			updated_at = $4
		WHERE id = $1
	`

	_, err := r.tx.Exec(ctx, query, p.ID, p.RefundedAmount, string(p.Status), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payment refund: %w", err)
	}
	return nil
}
