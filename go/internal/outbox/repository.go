package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/sqlutil"
)

// NotifyChannel is the Postgres channel the listener watches. Inserts
// notify it with the event id so publishing starts without polling.
const NotifyChannel = "contest_outbox_events"

type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to a transaction so an event insert can
// share the tx of the state change it records.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// Insert stages an event and notifies the listener channel.
func (r *Repository) Insert(ctx context.Context, contestID uuid.UUID, eventType string, payload []byte) error {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contest_outbox (id, contest_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		id, contestID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	if _, err := r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id.String()); err != nil {
		return fmt.Errorf("failed to notify outbox channel: %w", err)
	}
	return nil
}

// FetchByID returns an unsent event by id.
func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, contest_id, event_type, payload, created_at, sent_at
		 FROM contest_outbox
		 WHERE id = $1 AND sent_at IS NULL`,
		id,
	)
	event, err := scanOutboxEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.Errorf("%w: outbox event %s missing or already sent", common.ErrNotFound, id)
		}
		return nil, common.NewDatabaseError("FetchOutboxByID", err)
	}
	return event, nil
}

// FetchUnsent returns up to limit staged events oldest first, for the
// fallback poll that catches missed notifications.
func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, contest_id, event_type, payload, created_at, sent_at
		 FROM contest_outbox
		 WHERE sent_at IS NULL
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, common.NewDatabaseError("FetchUnsentOutbox", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, common.NewDatabaseError("FetchUnsentOutbox", err)
		}
		out = append(out, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewDatabaseError("FetchUnsentOutbox", err)
	}
	return out, nil
}

// MarkSent records a successful publish.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contest_outbox SET sent_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return common.NewDatabaseError("MarkOutboxSent", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOutboxEvent(row rowScanner) (*OutboxEvent, error) {
	var event OutboxEvent
	var sentAt sql.NullTime
	if err := row.Scan(&event.ID, &event.ContestID, &event.EventType, &event.Payload, &event.CreatedAt, &sentAt); err != nil {
		return nil, err
	}
	event.SentAt = sqlutil.FromSqlTime(sentAt)
	return &event, nil
}
