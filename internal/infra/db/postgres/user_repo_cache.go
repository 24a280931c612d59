package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/metrics"
	red "keitaro-notifier/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator caches single-user lookups, which every bot command
// performs to resolve its requester.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, ttl time.Duration) repository.UserRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &userRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func userKey(tgID int64) string { return fmt.Sprintf("user:tgid:%d", tgID) }

func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	_ = d.cache.Del(ctx, userKey(u.TelegramID))
	return d.inner.Save(ctx, tx, u)
}

func (d *userRepoCacheDecorator) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	// reads inside a transaction must see uncommitted writes
	if tx != nil {
		return d.inner.FindByTelegramID(ctx, tx, tgID)
	}

	key := userKey(tgID)
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncCacheRequest("user", "hit")
			return &user, nil
		}
		metrics.IncCacheRequest("user", "miss")
	case red.IsMiss(err):
		metrics.IncCacheRequest("user", "miss")
	default:
		metrics.IncCacheRequest("user", "error")
	}

	user, err := d.inner.FindByTelegramID(ctx, tx, tgID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(user); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return user, nil
}

// Pass-through methods that don't need caching
func (d *userRepoCacheDecorator) FindByUsernames(ctx context.Context, tx repository.Tx, handles []string) (map[string]*model.User, error) {
	return d.inner.FindByUsernames(ctx, tx, handles)
}

func (d *userRepoCacheDecorator) List(ctx context.Context, tx repository.Tx) ([]*model.User, error) {
	metrics.IncCacheRequest("user_list", "bypass")
	return d.inner.List(ctx, tx)
}
