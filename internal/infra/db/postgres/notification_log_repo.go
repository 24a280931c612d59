package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
)

var _ repository.NotificationLogRepository = (*notificationLogRepo)(nil)

type notificationLogRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationLogRepo(pool *pgxpool.Pool) repository.NotificationLogRepository {
	return &notificationLogRepo{pool: pool}
}

// Save appends to the audit trail. Entries are never read back for dedupe.
func (r *notificationLogRepo) Save(ctx context.Context, tx repository.Tx, e *model.DeliveryLogEntry) error {
	const q = `
INSERT INTO notification_log (kind, record_id, recipient_id, outcome, sent_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := execSQL(ctx, r.pool, tx, q, string(e.Kind), e.RecordID, e.RecipientID, e.Outcome, e.SentAt)
	return err
}
