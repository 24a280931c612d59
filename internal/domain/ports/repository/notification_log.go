package repository

import (
	"context"

	"keitaro-notifier/internal/domain/model"
)

// -----------------------------
// Notifications Log
// -----------------------------

// NotificationLogRepository keeps an audit trail of live deliveries. It is
// not consulted for deduplication: the partner's notified flag is the only
// source of truth.
type NotificationLogRepository interface {
	Save(ctx context.Context, tx Tx, e *model.DeliveryLogEntry) error
}
