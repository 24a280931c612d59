package repository

import (
	"context"
	"time"

	"keitaro-notifier/internal/domain/model"
)

// -----------------------------
// Routing
// -----------------------------

type RoutingRuleRepository interface {
	// Add assigns r.ID.
	Add(ctx context.Context, tx Tx, r *model.RoutingRule) error
	// ListActive returns the rule snapshot used for matching, ordered by id.
	ListActive(ctx context.Context, tx Tx) ([]*model.RoutingRule, error)
}

type AliasRepository interface {
	Upsert(ctx context.Context, tx Tx, a *model.CampaignAlias) error
	// FindByKey returns domain.ErrNotFound for unknown keys.
	FindByKey(ctx context.Context, tx Tx, key string) (*model.CampaignAlias, error)
	List(ctx context.Context, tx Tx) ([]*model.CampaignAlias, error)
	// Delete returns domain.ErrNotFound for unknown keys.
	Delete(ctx context.Context, tx Tx, key string) error
}

type PostbackLogRepository interface {
	Save(ctx context.Context, tx Tx, e *model.PostbackEvent) error
	// Aggregate summarises events received in [from, to). A nil userIDs
	// covers every event, unrouted ones included; otherwise only events
	// routed to one of userIDs count.
	Aggregate(ctx context.Context, tx Tx, from, to time.Time, userIDs []int64) (*model.PostbackAggregate, error)
}
