package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
)

type postgresOutboxRepository struct {
	tx pgx.Tx
}

const outboxColumns = `
	id, aggregate_type, aggregate_id, event_type,
	payload, topic, partition_key, status,
	retry_count, max_retries, last_error, next_attempt_at,
	created_at, processed_at, published_at
`

var errOutboxNotFound = errors.New("outbox message not found")

func (r *postgresOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox (` + outboxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.tx.Exec(ctx, query,
		msg.ID,
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.Payload,
		msg.Topic,
		msg.PartitionKey,
		string(msg.Status),
		msg.RetryCount,
		msg.MaxRetries,
		msg.LastError,
		msg.NextAttemptAt,
		msg.CreatedAt,
		msg.ProcessedAt,
		msg.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

// ClaimDue pushes next_attempt_at of the claimed rows forward by lease
// inside the same statement, so a crashed worker's claim expires on its own
func (r *postgresOutboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.OutboxMessage, error) {
	query := `
		UPDATE outbox SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status IN ('pending', 'failed') AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := r.tx.Query(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	defer rows.Close()

	return scanOutboxMessages(rows)
}

func (r *postgresOutboxRepository) ExtendLease(ctx context.Context, id string, until time.Time) error {
	query := `
		UPDATE outbox SET next_attempt_at = $2
		WHERE id = $1 AND status IN ('pending', 'failed')
	`

	if _, err := r.tx.Exec(ctx, query, id, until); err != nil {
		return fmt.Errorf("failed to extend outbox lease: %w", err)
	}
	return nil
}

func (r *postgresOutboxRepository) MarkPublished(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE outbox SET
			status = 'published',
			processed_at = $2,
			published_at = $2
		WHERE id = $1
	`

	result, err := r.tx.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to mark message as published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errOutboxNotFound
	}
	return nil
}

func (r *postgresOutboxRepository) MarkFailed(ctx context.Context, msg *domain.OutboxMessage) error {
	return r.updateState(ctx, msg, "failed to mark message as failed")
}

func (r *postgresOutboxRepository) MarkDead(ctx context.Context, msg *domain.OutboxMessage) error {
	return r.updateState(ctx, msg, "failed to mark message as dead")
}

func (r *postgresOutboxRepository) updateState(ctx context.Context, msg *domain.OutboxMessage, errPrefix string) error {
	query := `
		UPDATE outbox SET
			status = $2,
			retry_count = $3,
			last_error = $4,
			next_attempt_at = $5,
			processed_at = $6
		WHERE id = $1
	`

	result, err := r.tx.Exec(ctx, query,
		msg.ID,
		string(msg.Status),
		msg.RetryCount,
		msg.LastError,
		msg.NextAttemptAt,
		msg.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errPrefix, err)
	}
	if result.RowsAffected() == 0 {
		return errOutboxNotFound
	}
	return nil
}

func (r *postgresOutboxRepository) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE status = 'published' AND published_at < $1
	`

	result, err := r.tx.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published messages: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanOutboxMessages(rows pgx.Rows) ([]*domain.OutboxMessage, error) {
	var messages []*domain.OutboxMessage

	for rows.Next() {
		msg := &domain.OutboxMessage{}
		var status string

		err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&msg.Topic,
			&msg.PartitionKey,
			&status,
			&msg.RetryCount,
			&msg.MaxRetries,
			&msg.LastError,
			&msg.NextAttemptAt,
			&msg.CreatedAt,
			&msg.ProcessedAt,
			&msg.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}

		msg.Status = domain.OutboxStatus(status)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	return messages, nil
}
