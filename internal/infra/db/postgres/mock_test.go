//go:build !integration

package postgres

import (
	"context"
	"time"

	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	red "keitaro-notifier/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerUserRepo mocks the database repository that the User decorator wraps.
type mockInnerUserRepo struct {
	SaveFunc             func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByTelegramIDFunc func(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error)
	FindByUsernamesFunc  func(ctx context.Context, tx repository.Tx, handles []string) (map[string]*model.User, error)
	ListFunc             func(ctx context.Context, tx repository.Tx) ([]*model.User, error)
}

func (m *mockInnerUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	return m.SaveFunc(ctx, tx, u)
}
func (m *mockInnerUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	return m.FindByTelegramIDFunc(ctx, tx, tgID)
}
func (m *mockInnerUserRepo) FindByUsernames(ctx context.Context, tx repository.Tx, handles []string) (map[string]*model.User, error) {
	return m.FindByUsernamesFunc(ctx, tx, handles)
}
func (m *mockInnerUserRepo) List(ctx context.Context, tx repository.Tx) ([]*model.User, error) {
	return m.ListFunc(ctx, tx)
}

// mockInnerRuleRepo mocks the repository that the rules decorator wraps.
type mockInnerRuleRepo struct {
	AddFunc        func(ctx context.Context, tx repository.Tx, r *model.RoutingRule) error
	ListActiveFunc func(ctx context.Context, tx repository.Tx) ([]*model.RoutingRule, error)
}

func (m *mockInnerRuleRepo) Add(ctx context.Context, tx repository.Tx, r *model.RoutingRule) error {
	return m.AddFunc(ctx, tx, r)
}
func (m *mockInnerRuleRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.RoutingRule, error) {
	return m.ListActiveFunc(ctx, tx)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
