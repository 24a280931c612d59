package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
)

var _ repository.PostbackLogRepository = (*postbackLogRepo)(nil)

// topCountries caps the geo breakdown of a report.
const topCountries = 5

type postbackLogRepo struct {
	pool *pgxpool.Pool
}

func NewPostbackLogRepo(pool *pgxpool.Pool) repository.PostbackLogRepository {
	return &postbackLogRepo{pool: pool}
}

func (r *postbackLogRepo) Save(ctx context.Context, tx repository.Tx, e *model.PostbackEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode postback payload: %w", err)
	}
	const q = `
INSERT INTO postback_events (id, payload, status, offer, country, payout, routed_user_id, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = execSQL(ctx, r.pool, tx, q, e.ID, payload, e.Status, e.Offer, e.Country, e.Payout, e.RoutedUserID, e.ReceivedAt)
	return err
}

// eventScope builds the WHERE clause shared by the report queries.
func eventScope(from, to time.Time, userIDs []int64) (string, []interface{}) {
	where := `received_at >= $1 AND received_at < $2`
	args := []interface{}{from, to}
	if userIDs != nil {
		where += ` AND routed_user_id = ANY($3)`
		args = append(args, userIDs)
	}
	return where, args
}

func (r *postbackLogRepo) Aggregate(ctx context.Context, tx repository.Tx, from, to time.Time, userIDs []int64) (*model.PostbackAggregate, error) {
	agg := &model.PostbackAggregate{}
	if userIDs != nil && len(userIDs) == 0 {
		return agg, nil
	}
	where, args := eventScope(from, to, userIDs)

	row, err := pickRow(ctx, r.pool, tx, `
SELECT count(*),
       count(*) FILTER (WHERE status = 'sale'),
       COALESCE(sum(payout) FILTER (WHERE status = 'sale'), 0)::float8
FROM postback_events
WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	if err := row.Scan(&agg.Total, &agg.Sales, &agg.Payout); err != nil {
		return nil, fmt.Errorf("aggregate postbacks: %w", err)
	}
	if agg.Total == 0 {
		return agg, nil
	}

	offers, err := r.tally(ctx, tx, "offer", where, args, 1)
	if err != nil {
		return nil, err
	}
	if len(offers) > 0 {
		agg.TopOffer = offers[0].Key
	}
	if agg.Countries, err = r.tally(ctx, tx, "country", where, args, topCountries); err != nil {
		return nil, err
	}
	if agg.Daily, err = r.daily(ctx, tx, where, args); err != nil {
		return nil, err
	}
	return agg, nil
}

// tally counts sales per value of column, most frequent first.
func (r *postbackLogRepo) tally(ctx context.Context, tx repository.Tx, column, where string, args []interface{}, limit int) ([]model.Tally, error) {
	q := fmt.Sprintf(`
SELECT %[1]s, count(*) AS n
FROM postback_events
WHERE %[2]s AND status = 'sale' AND %[1]s <> ''
GROUP BY %[1]s
ORDER BY n DESC, %[1]s
LIMIT %[3]d`, column, where, limit)
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("tally %s: %w", column, err)
	}
	defer rows.Close()
	var out []model.Tally
	for rows.Next() {
		var t model.Tally
		if err := rows.Scan(&t.Key, &t.Count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *postbackLogRepo) daily(ctx context.Context, tx repository.Tx, where string, args []interface{}) ([]model.DailySales, error) {
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT (received_at AT TIME ZONE 'UTC')::date AS day,
       count(*) FILTER (WHERE status = 'sale')
FROM postback_events
WHERE `+where+`
GROUP BY day
ORDER BY day`, args...)
	if err != nil {
		return nil, fmt.Errorf("daily postbacks: %w", err)
	}
	defer rows.Close()
	var out []model.DailySales
	for rows.Next() {
		var d model.DailySales
		if err := rows.Scan(&d.Day, &d.Sales); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		d.Day = time.Date(d.Day.Year(), d.Day.Month(), d.Day.Day(), 0, 0, 0, 0, time.UTC)
		out = append(out, d)
	}
	return out, rows.Err()
}
