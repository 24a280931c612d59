//go:build !integration

package api_test

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/usecase"
)

type mockPostbackUC struct {
	HandleFunc func(ctx context.Context, fields map[string]string) (*usecase.PostbackResult, error)
	got        map[string]string
}

func (m *mockPostbackUC) Handle(ctx context.Context, fields map[string]string) (*usecase.PostbackResult, error) {
	m.got = fields
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, fields)
	}
	return &usecase.PostbackResult{EventID: "01TEST", Status: "sale", Route: usecase.RouteRule, Recipients: []int64{99}}, nil
}

type mockNotifyUC struct {
	RunFunc   func(ctx context.Context, req usecase.NotifyRequest) (*usecase.Stats, error)
	lastReq   *usecase.NotifyRequest
	requester *model.User
}

func (m *mockNotifyUC) Run(ctx context.Context, req usecase.NotifyRequest) (*usecase.Stats, error) {
	m.lastReq = &req
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return &usecase.Stats{Kind: req.Kind, Total: 3, Selected: 1, NotifiedUsers: 1, DryRun: req.DryRun}, nil
}

func (m *mockNotifyUC) RunAs(ctx context.Context, requester *model.User, req usecase.NotifyRequest) (*usecase.Stats, error) {
	m.requester = requester
	if requester.Role != model.RoleAdmin {
		return nil, domain.ErrAuthorization
	}
	return m.Run(ctx, req)
}

// mockUserUC resolves requesters from a fixed roster and filters like the
// access policy does for admins and buyers.
type mockUserUC struct {
	users map[int64]*model.User
}

func newMockUserUC(users ...*model.User) *mockUserUC {
	m := &mockUserUC{users: map[int64]*model.User{}}
	for _, u := range users {
		m.users[u.TelegramID] = u
	}
	return m
}

func (m *mockUserUC) RegisterOrFetch(_ context.Context, tgID int64, username, fullName string) (*model.User, bool, error) {
	if u, ok := m.users[tgID]; ok {
		return u, false, nil
	}
	u, err := model.NewUser(tgID, username, fullName)
	if err != nil {
		return nil, false, err
	}
	m.users[tgID] = u
	return u, true, nil
}

func (m *mockUserUC) Requester(_ context.Context, tgID int64) (*model.User, error) {
	u, ok := m.users[tgID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (m *mockUserUC) ListVisible(_ context.Context, requester *model.User) ([]*model.User, error) {
	if requester.Role != model.RoleAdmin {
		return []*model.User{requester}, nil
	}
	out := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockUserUC) SetRole(context.Context, *model.User, int64, model.Role) (*model.User, error) {
	return nil, domain.ErrAuthorization
}

func (m *mockUserUC) SetTeam(context.Context, *model.User, int64, *int64) (*model.User, error) {
	return nil, domain.ErrAuthorization
}

type mockRuleUC struct {
	rules []*model.RoutingRule
}

func (m *mockRuleUC) Add(context.Context, *model.User, usecase.AddRuleInput) (*model.RoutingRule, error) {
	return nil, domain.ErrAuthorization
}

func (m *mockRuleUC) ListVisible(context.Context, *model.User) ([]*model.RoutingRule, error) {
	return m.rules, nil
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

// mockLocker hands out one lock per key until it is released.
type mockLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	lockErr  error
	taken    []string
	released []string
}

func (m *mockLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockErr != nil {
		return "", m.lockErr
	}
	if m.held == nil {
		m.held = map[string]bool{}
	}
	if m.held[key] {
		return "", domain.ErrLockHeld
	}
	m.held[key] = true
	m.taken = append(m.taken, key)
	return "tok-" + key, nil
}

func (m *mockLocker) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	m.released = append(m.released, key+"="+token)
	return nil
}
