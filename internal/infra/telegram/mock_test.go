//go:build !integration

package telegram

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/usecase"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	sendErr  error
	onSend   chan struct{}
	updates  chan tgbotapi.Update
	stopped  bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{onSend: make(chan struct{}, 16), updates: make(chan tgbotapi.Update, 4)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	select {
	case f.onSend <- struct{}{}:
	default:
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

type mockLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (m *mockLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	m.keys = append(m.keys, key)
	return m.allow, m.err
}

var (
	adminUser = &model.User{TelegramID: 1, Username: "boss", Role: model.RoleAdmin, IsActive: true}
	buyerUser = &model.User{TelegramID: 2, Username: "ivan", Role: model.RoleBuyer, IsActive: true}
)

type stubUserUC struct{}

func (stubUserUC) RegisterOrFetch(_ context.Context, tgID int64, username, fullName string) (*model.User, bool, error) {
	return &model.User{TelegramID: tgID, Username: username, FullName: fullName, Role: model.RoleBuyer}, true, nil
}

func (stubUserUC) Requester(_ context.Context, tgID int64) (*model.User, error) {
	switch tgID {
	case adminUser.TelegramID:
		return adminUser, nil
	case buyerUser.TelegramID:
		return buyerUser, nil
	}
	return nil, domain.ErrNotFound
}

func (stubUserUC) ListVisible(_ context.Context, requester *model.User) ([]*model.User, error) {
	return []*model.User{requester}, nil
}

func (stubUserUC) SetRole(context.Context, *model.User, int64, model.Role) (*model.User, error) {
	return nil, domain.ErrAuthorization
}

func (stubUserUC) SetTeam(context.Context, *model.User, int64, *int64) (*model.User, error) {
	return nil, domain.ErrAuthorization
}

type stubTeamUC struct{}

func (stubTeamUC) Create(context.Context, *model.User, string) (*model.Team, error) {
	return nil, errors.New("db down")
}

func (stubTeamUC) List(context.Context, *model.User) ([]*model.Team, error) { return nil, nil }

type stubRuleUC struct{}

func (stubRuleUC) Add(context.Context, *model.User, usecase.AddRuleInput) (*model.RoutingRule, error) {
	return &model.RoutingRule{ID: 7}, nil
}

func (stubRuleUC) ListVisible(context.Context, *model.User) ([]*model.RoutingRule, error) {
	return nil, nil
}

type stubAliasUC struct{}

func (stubAliasUC) Set(context.Context, *model.User, string, int64, *int64) (*model.CampaignAlias, error) {
	return nil, domain.ErrAuthorization
}

func (stubAliasUC) List(context.Context, *model.User) ([]*model.CampaignAlias, error) { return nil, nil }

func (stubAliasUC) Delete(_ context.Context, requester *model.User, key string) error {
	if requester.Role != model.RoleAdmin {
		return domain.ErrAuthorization
	}
	if key != "ivan" {
		return domain.ErrNotFound
	}
	return nil
}

// stubReportUC reports two sales for the sender alone.
type stubReportUC struct{}

func (stubReportUC) Report(_ context.Context, requester *model.User, req usecase.ReportRequest) (*model.Report, error) {
	from, to := req.Period.Bounds(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	return &model.Report{
		Period: req.Period, From: from, To: to, Scoped: requester.Role != model.RoleAdmin, Users: 1,
		Aggregate: &model.PostbackAggregate{Total: 4, Sales: 2, Payout: 90},
	}, nil
}

type stubNotifyUC struct{}

func (stubNotifyUC) Run(_ context.Context, req usecase.NotifyRequest) (*usecase.Stats, error) {
	return &usecase.Stats{Kind: req.Kind, NotifiedRecords: 1}, nil
}

func (n stubNotifyUC) RunAs(ctx context.Context, requester *model.User, req usecase.NotifyRequest) (*usecase.Stats, error) {
	if requester.Role != model.RoleAdmin {
		return nil, domain.ErrAuthorization
	}
	return n.Run(ctx, req)
}
