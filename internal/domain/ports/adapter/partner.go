package adapter

import (
	"context"
	"time"

	"keitaro-notifier/internal/domain/model"
)

// PartnerClient is the partner backend holding orders, domains, IPs, tickets
// and design orders.
type PartnerClient interface {
	// FetchOrders returns completed orders of the given day not yet announced.
	FetchOrders(ctx context.Context, day time.Time) ([]*model.NotifiableRecord, error)
	// FetchRecords returns every record of kind, announced or not.
	FetchRecords(ctx context.Context, kind model.RecordKind) ([]*model.NotifiableRecord, error)
	// MarkNotified sets the partner-side notified flag of a record.
	MarkNotified(ctx context.Context, kind model.RecordKind, id int64) error
}
