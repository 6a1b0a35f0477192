package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
)

type postgresUserRepository struct {
	tx pgx.Tx
}

func (r *postgresUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if !isUUID(id) {
		return nil, domain.ErrUserNotFound
	}
	query := `
		SELECT id, email, full_name, is_active, is_deleted
		FROM users
		WHERE id = $1
	`

	u := &domain.User{}
	err := r.tx.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.FullName, &u.IsActive, &u.IsDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *postgresUserRepository) FindActiveByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.CheckActive(); err != nil {
		return nil, err
	}
	return u, nil
}

type postgresEventRepository struct {
	tx pgx.Tx
}

const eventColumns = `
	id, organizer_id, name, venue, start_time, end_time, status,
	is_published, total_tickets, sold_tickets, remaining_tickets,
	is_deleted, created_at, updated_at
`

func (r *postgresEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	if !isUUID(id) {
		return nil, domain.ErrEventNotFound
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 AND is_deleted = false`
	return scanEvent(r.tx.QueryRow(ctx, query, id))
}

func (r *postgresEventRepository) FindApprovedPublished(ctx context.Context, id string) (*domain.Event, error) {
	if !isUUID(id) {
		return nil, domain.ErrEventNotFound
	}
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE id = $1 AND status = 'approved' AND is_published = true AND is_deleted = false
	`
	return scanEvent(r.tx.QueryRow(ctx, query, id))
}

func (r *postgresEventRepository) ApplySale(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE events SET
			sold_tickets = sold_tickets + $2,
			remaining_tickets = remaining_tickets - $2,
			updated_at = $3
		WHERE id = $1 AND remaining_tickets >= $2
	`

	result, err := r.tx.Exec(ctx, query, id, qty, time.Now())
	if err != nil {
		return fmt.Errorf("failed to apply event sale: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s cannot sell %d more", domain.ErrInsufficientTickets, id, qty)
	}
	return nil
}

func (r *postgresEventRepository) ApplyRelease(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE events SET
			sold_tickets = sold_tickets - $2,
			remaining_tickets = remaining_tickets + $2,
			updated_at = $3
		WHERE id = $1 AND sold_tickets >= $2
	`

	result, err := r.tx.Exec(ctx, query, id, qty, time.Now())
	if err != nil {
		return fmt.Errorf("failed to apply event release: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s cannot release %d", domain.ErrInventoryMismatch, id, qty)
	}
	return nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	e := &domain.Event{}
	var status string
	err := row.Scan(
		&e.ID,
		&e.OrganizerID,
		&e.Name,
		&e.Venue,
		&e.StartTime,
		&e.EndTime,
		&status,
		&e.IsPublished,
		&e.TotalTickets,
		&e.SoldTickets,
		&e.RemainingTickets,
		&e.IsDeleted,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	e.Status = domain.EventStatus(status)
	return e, nil
}

type postgresTicketTypeRepository struct {
	tx pgx.Tx
}

func (r *postgresTicketTypeRepository) FindByIDsForUpdate(ctx context.Context, eventID string, ids []string) (map[string]*domain.TicketType, error) {
	// malformed ids are left out, the caller sees them as unknown
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if !isUUID(eventID) || len(valid) == 0 {
		return map[string]*domain.TicketType{}, nil
	}

	query := `
		SELECT id, event_id, name, price, total_quantity, sold_quantity,
			remaining_quantity, is_deleted, created_at, updated_at
		FROM ticket_types
		WHERE event_id = $1 AND id = ANY($2) AND is_deleted = false
		ORDER BY id
		FOR UPDATE
	`

	rows, err := r.tx.Query(ctx, query, eventID, valid)
	if err != nil {
		return nil, fmt.Errorf("failed to lock ticket types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]*domain.TicketType, len(ids))
	for rows.Next() {
		t := &domain.TicketType{}
		if err := rows.Scan(
			&t.ID,
			&t.EventID,
			&t.Name,
			&t.Price,
			&t.TotalQuantity,
			&t.SoldQuantity,
			&t.RemainingQuantity,
			&t.IsDeleted,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ticket type: %w", err)
		}
		types[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket types: %w", err)
	}
	return types, nil
}

func (r *postgresTicketTypeRepository) Reserve(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE ticket_types SET
			sold_quantity = sold_quantity + $2,
			remaining_quantity = remaining_quantity - $2,
			updated_at = $3
		WHERE id = $1 AND remaining_quantity >= $2
	`

	result, err := r.tx.Exec(ctx, query, id, qty, time.Now())
	if err != nil {
		return fmt.Errorf("failed to reserve tickets: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: ticket type %s", domain.ErrInsufficientTickets, id)
	}
	return nil
}

func (r *postgresTicketTypeRepository) Release(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE ticket_types SET
			sold_quantity = sold_quantity - $2,
			remaining_quantity = remaining_quantity + $2,
			updated_at = $3
		WHERE id = $1 AND sold_quantity >= $2
	`

	result, err := r.tx.Exec(ctx, query, id, qty, time.Now())
	if err != nil {
		return fmt.Errorf("failed to release tickets: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: ticket type %s cannot release %d", domain.ErrInventoryMismatch, id, qty)
	}
	return nil
}
