package store

import (
	"context"
	"database/sql"
	"errors"
)

// EnqueueWebhook schedules a pending HMAC-signed delivery on the
// pending/done polling table the background sweeper drains.
func (q *Queries) EnqueueWebhook(ctx context.Context, e *WebhookOutboxEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO webhook_outbox (id, target_url, kind, body, attempts, status, last_error, scheduled_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.TargetURL, e.Kind, string(e.Body), e.Attempts, string(e.Status), nullableStr(e.LastError), formatTime(e.ScheduledAt), formatTime(e.CreatedAt))
	return err
}

// PendingWebhooks returns deliveries due to run, oldest first.
func (q *Queries) PendingWebhooks(ctx context.Context, now string, limit int) ([]*WebhookOutboxEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, target_url, kind, body, attempts, status, last_error, scheduled_at, created_at
		FROM webhook_outbox WHERE status='pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*WebhookOutboxEntry
	for rows.Next() {
		var e WebhookOutboxEntry
		var body string
		var lastError sql.NullString
		var scheduledAt, createdAt string
		if err := rows.Scan(&e.ID, &e.TargetURL, &e.Kind, &body, &e.Attempts, &e.Status, &lastError, &scheduledAt, &createdAt); err != nil {
			return nil, err
		}
		e.Body = []byte(body)
		e.LastError = lastError.String
		var err error
		if e.ScheduledAt, err = parseTime(scheduledAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// MarkWebhookDone marks a delivery successful.
func (q *Queries) MarkWebhookDone(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE webhook_outbox SET status='done' WHERE id=$1`, id)
	return err
}

// MarkWebhookRetry bumps the attempt counter and reschedules, or marks
// the delivery failed once attempts are exhausted.
func (q *Queries) MarkWebhookRetry(ctx context.Context, id string, nextAttemptISO string, lastError string, exhausted bool) error {
	status := "pending"
	if exhausted {
		status = "failed"
	}
	_, err := q.q.ExecContext(ctx, `
		UPDATE webhook_outbox SET attempts = attempts + 1, status=$1, last_error=$2, scheduled_at=$3 WHERE id=$4
	`, status, lastError, nextAttemptISO, id)
	return err
}

var errOutboxNotFound = errors.New("store: webhook outbox entry not found")

// GetWebhook fetches one outbox entry by id, used by tests and the
// diagnostics endpoint.
func (q *Queries) GetWebhook(ctx context.Context, id string) (*WebhookOutboxEntry, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT id, target_url, kind, body, attempts, status, last_error, scheduled_at, created_at
		FROM webhook_outbox WHERE id=$1`, id)

	var e WebhookOutboxEntry
	var body string
	var lastError sql.NullString
	var scheduledAt, createdAt string
	if err := row.Scan(&e.ID, &e.TargetURL, &e.Kind, &body, &e.Attempts, &e.Status, &lastError, &scheduledAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errOutboxNotFound
		}
		return nil, err
	}
	e.Body = []byte(body)
	e.LastError = lastError.String
	var err error
	if e.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}
