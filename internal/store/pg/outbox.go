package pg

import (
	"context"
	"database/sql"

	"github.com/cadencehq/cadence/internal/mail"
)

// OutboxStore persists outbound mail for background dispatch.
type OutboxStore struct {
	db *sql.DB
}

var _ mail.Store = (*OutboxStore)(nil)

// Outbox returns the mail outbox view of the store.
func (s *Store) Outbox() *OutboxStore { return &OutboxStore{db: s.db} }

func (s *OutboxStore) Enqueue(ctx context.Context, msg *mail.Message) error {
	_, err := s.db.ExecContext(ctx, `
		insert into mail_outbox(id, recipient, subject, body, kind, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, msg.ID, msg.To, msg.Subject, msg.Body, msg.Kind, msg.CreatedAt)
	return mapError(err)
}

// Due returns unsent messages that have not exhausted their attempts, oldest
// first. Rows are locked and skipped when another dispatcher holds them.
func (s *OutboxStore) Due(ctx context.Context, limit, maxAttempts int) ([]mail.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, recipient, subject, body, kind, created_at, attempts
		from mail_outbox
		where sent_at is null and attempts < $2
		order by created_at asc
		limit $1
		for update skip locked
	`, limit, maxAttempts)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []mail.Message
	for rows.Next() {
		var msg mail.Message
		if err := rows.Scan(&msg.ID, &msg.To, &msg.Subject, &msg.Body, &msg.Kind, &msg.CreatedAt, &msg.Attempts); err != nil {
			return nil, mapError(err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		update mail_outbox set sent_at=now(), attempts=attempts+1
		where id=$1
	`, id)
	return mapError(err)
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		update mail_outbox set attempts=attempts+1, last_error=$2
		where id=$1
	`, id)
	return mapError(err)
}
