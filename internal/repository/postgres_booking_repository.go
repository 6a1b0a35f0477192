package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/pkg/database"
)

type postgresBookingRepository struct {
	tx pgx.Tx
}

const bookingColumns = `
	id, user_id, event_id, status, payment_status, payment_method,
	payment_transaction_id, total_amount, refund_amount, currency,
	issuance_status, issuance_error, created_at, updated_at, paid_at, cancelled_at
`

func (r *postgresBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.tx.Exec(ctx, query,
		b.ID,
		b.UserID,
		b.EventID,
		string(b.Status),
		string(b.PaymentStatus),
		string(b.PaymentMethod),
		b.PaymentTransactionID,
		b.TotalAmount,
		b.RefundAmount,
		b.Currency,
		string(b.IssuanceStatus),
		b.IssuanceError,
		b.CreatedAt,
		b.UpdatedAt,
		b.PaidAt,
		b.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range b.Items {
		batch.Queue(`
			INSERT INTO booking_items (
				id, booking_id, ticket_type_id, ticket_type_name,
				quantity, unit_price, line_total, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, it.ID, it.BookingID, it.TicketTypeID, it.TicketTypeName, it.Quantity, it.UnitPrice, it.LineTotal, it.CreatedAt)
	}
	for _, t := range b.Tickets {
		batch.Queue(`
			INSERT INTO tickets (
				id, booking_id, booking_item_id, event_id, user_id,
				ticket_type_name, price, code, status, event_name, venue,
				event_start_time, event_end_time, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, t.ID, t.BookingID, t.BookingItemID, t.EventID, t.UserID,
			t.TicketTypeName, t.Price, t.Code, string(t.Status), t.Snapshot.EventName, t.Snapshot.Venue,
			t.Snapshot.StartTime, t.Snapshot.EndTime, t.CreatedAt, t.UpdatedAt)
	}

	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: ticket code collision", domain.ErrConcurrentMutation)
		}
		return fmt.Errorf("failed to create booking lines: %w", err)
	}
	return nil
}

func (r *postgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (r *postgresBookingRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresBookingRepository) get(ctx context.Context, query, id string) (*domain.Booking, error) {
	if !isUUID(id) {
		return nil, domain.ErrBookingNotFound
	}
	b, err := scanBooking(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, b); err != nil {
		return nil, err
	}
	if err := r.loadTickets(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *postgresBookingRepository) loadItems(ctx context.Context, b *domain.Booking) error {
	rows, err := r.tx.Query(ctx, `
		SELECT id, booking_id, ticket_type_id, ticket_type_name,
			quantity, unit_price, line_total, created_at
		FROM booking_items
		WHERE booking_id = $1
		ORDER BY ticket_type_id
	`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to get booking items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		it := &domain.BookingItem{}
		if err := rows.Scan(
			&it.ID,
			&it.BookingID,
			&it.TicketTypeID,
			&it.TicketTypeName,
			&it.Quantity,
			&it.UnitPrice,
			&it.LineTotal,
			&it.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan booking item: %w", err)
		}
		b.Items = append(b.Items, it)
	}
	return rows.Err()
}

func (r *postgresBookingRepository) loadTickets(ctx context.Context, b *domain.Booking) error {
	rows, err := r.tx.Query(ctx, `
		SELECT id, booking_id, booking_item_id, event_id, user_id,
			ticket_type_name, price, code, status, event_name, venue,
			event_start_time, event_end_time, qr_token, qr_ref, issued_at,
			created_at, updated_at
		FROM tickets
		WHERE booking_id = $1
		ORDER BY created_at, id
	`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to get tickets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t := &domain.Ticket{}
		var status string
		if err := rows.Scan(
			&t.ID,
			&t.BookingID,
			&t.BookingItemID,
			&t.EventID,
			&t.UserID,
			&t.TicketTypeName,
			&t.Price,
			&t.Code,
			&status,
			&t.Snapshot.EventName,
			&t.Snapshot.Venue,
			&t.Snapshot.StartTime,
			&t.Snapshot.EndTime,
			&t.QRToken,
			&t.QRRef,
			&t.IssuedAt,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan ticket: %w", err)
		}
		t.Status = domain.TicketStatus(status)
		b.Tickets = append(b.Tickets, t)
	}
	return rows.Err()
}

func (r *postgresBookingRepository) UpdateStatus(ctx context.Context, b *domain.Booking) error {
	query := `
		UPDATE bookings SET
			status = $2,
			payment_status = $3,
			payment_method = $4,
			payment_transaction_id = $5,
			refund_amount = $6,
			paid_at = $7,
			cancelled_at = $8,
			updated_at = $9
		WHERE id = $1
	`

	result, err := r.tx.Exec(ctx, query,
		b.ID,
		string(b.Status),
		string(b.PaymentStatus),
		string(b.PaymentMethod),
		b.PaymentTransactionID,
		b.RefundAmount,
		b.PaidAt,
		b.CancelledAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *postgresBookingRepository) UpdateTicketsStatus(ctx context.Context, bookingID string, status domain.TicketStatus) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE tickets SET status = $2, updated_at = $3 WHERE booking_id = $1`,
		bookingID, string(status), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	return nil
}

func (r *postgresBookingRepository) SaveTicketArtifacts(ctx context.Context, t *domain.Ticket) error {
	query := `
		UPDATE tickets SET
			qr_token = $2,
			qr_ref = $3,
			issued_at = $4,
			updated_at = $5
		WHERE id = $1
	`

	result, err := r.tx.Exec(ctx, query, t.ID, t.QRToken, t.QRRef, t.IssuedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save ticket artifacts: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

func (r *postgresBookingRepository) SetIssuanceStatus(ctx context.Context, bookingID string, status domain.IssuanceStatus, reason string) error {
	result, err := r.tx.Exec(ctx,
		`UPDATE bookings SET issuance_status = $2, issuance_error = $3, updated_at = $4 WHERE id = $1`,
		bookingID, string(status), reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set issuance status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *postgresBookingRepository) ListByIssuanceStatus(ctx context.Context, status domain.IssuanceStatus, limit int) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE issuance_status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := r.tx.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}
	return bookings, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b := &domain.Booking{}
	var status, paymentStatus, paymentMethod, issuanceStatus string
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.EventID,
		&status,
		&paymentStatus,
		&paymentMethod,
		&b.PaymentTransactionID,
		&b.TotalAmount,
		&b.RefundAmount,
		&b.Currency,
		&issuanceStatus,
		&b.IssuanceError,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.PaidAt,
		&b.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	b.Status = domain.BookingStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	b.PaymentMethod = domain.PaymentMethod(paymentMethod)
	b.IssuanceStatus = domain.IssuanceStatus(issuanceStatus)
	return b, nil
}
