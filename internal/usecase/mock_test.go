//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/adapter"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/i18n"
)

// =============================
// Adapters
// =============================

// ---- Mock TelegramBotAdapter ----

type SentMessage struct {
	ChatID int64
	Text   string
}

type MockTelegramBot struct {
	mu   sync.Mutex
	Sent []SentMessage

	SendMessageFunc func(ctx context.Context, chatID int64, text string) error
}

var _ adapter.TelegramBotAdapter = (*MockTelegramBot)(nil)

func (m *MockTelegramBot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if m.SendMessageFunc != nil {
		if err := m.SendMessageFunc(ctx, chatID, text); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *MockTelegramBot) SentTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.Sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (m *MockTelegramBot) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// ---- Mock PartnerClient ----

// MockPartner keeps records by kind. Records handed out are copies, so a
// mark is only visible on the next fetch, like with the real backend.
type MockPartner struct {
	mu       sync.Mutex
	Records  map[model.RecordKind][]*model.NotifiableRecord
	notified map[model.RecordKind]map[int64]bool
	Marked   []int64
	OrderDay time.Time

	FetchRecordsFunc func(ctx context.Context, kind model.RecordKind) ([]*model.NotifiableRecord, error)
	MarkNotifiedFunc func(ctx context.Context, kind model.RecordKind, id int64) error
}

var _ adapter.PartnerClient = (*MockPartner)(nil)

func NewMockPartner() *MockPartner {
	return &MockPartner{
		Records:  make(map[model.RecordKind][]*model.NotifiableRecord),
		notified: make(map[model.RecordKind]map[int64]bool),
	}
}

func (m *MockPartner) Add(recs ...*model.NotifiableRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.Records[r.Kind] = append(m.Records[r.Kind], r)
	}
}

func (m *MockPartner) snapshot(kind model.RecordKind) []*model.NotifiableRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.NotifiableRecord, 0, len(m.Records[kind]))
	for _, r := range m.Records[kind] {
		cp := *r
		if m.notified[kind][r.ID] {
			cp.Notified = true
		}
		out = append(out, &cp)
	}
	return out
}

func (m *MockPartner) FetchOrders(ctx context.Context, day time.Time) ([]*model.NotifiableRecord, error) {
	m.mu.Lock()
	m.OrderDay = day
	m.mu.Unlock()
	if m.FetchRecordsFunc != nil {
		return m.FetchRecordsFunc(ctx, model.KindOrder)
	}
	var out []*model.NotifiableRecord
	for _, r := range m.snapshot(model.KindOrder) {
		if !r.Notified {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockPartner) FetchRecords(ctx context.Context, kind model.RecordKind) ([]*model.NotifiableRecord, error) {
	if m.FetchRecordsFunc != nil {
		return m.FetchRecordsFunc(ctx, kind)
	}
	return m.snapshot(kind), nil
}

func (m *MockPartner) MarkNotified(ctx context.Context, kind model.RecordKind, id int64) error {
	if m.MarkNotifiedFunc != nil {
		if err := m.MarkNotifiedFunc(ctx, kind, id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notified[kind] == nil {
		m.notified[kind] = make(map[int64]bool)
	}
	m.notified[kind][id] = true
	m.Marked = append(m.Marked, id)
	return nil
}

func (m *MockPartner) MarkedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]int64(nil), m.Marked...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================
// Repositories
// =============================

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu    sync.Mutex
	users map[int64]*model.User

	SaveFunc func(ctx context.Context, tx repository.Tx, u *model.User) error
	ListFunc func(ctx context.Context, tx repository.Tx) ([]*model.User, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo(users ...*model.User) *MockUserRepo {
	m := &MockUserRepo{users: make(map[int64]*model.User)}
	for _, u := range users {
		m.users[u.TelegramID] = u
	}
	return m
}

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.TelegramID] = &cp
	return nil
}

func (m *MockUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[tgID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepo) FindByUsernames(ctx context.Context, tx repository.Tx, handles []string) (map[string]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(handles))
	for _, h := range handles {
		want[model.NormalizeHandle(h)] = true
	}
	out := make(map[string]*model.User)
	for _, u := range m.users {
		if h := u.Handle(); h != "" && want[h] {
			cp := *u
			out[h] = &cp
		}
	}
	return out, nil
}

func (m *MockUserRepo) List(ctx context.Context, tx repository.Tx) ([]*model.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TelegramID < out[j].TelegramID })
	return out, nil
}

func (m *MockUserRepo) Get(tgID int64) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[tgID]
}

// ---- Mock TeamRepository ----

type MockTeamRepo struct {
	mu     sync.Mutex
	teams  map[int64]*model.Team
	nextID int64
}

var _ repository.TeamRepository = (*MockTeamRepo)(nil)

func NewMockTeamRepo() *MockTeamRepo {
	return &MockTeamRepo{teams: make(map[int64]*model.Team)}
}

func (m *MockTeamRepo) Create(ctx context.Context, tx repository.Tx, t *model.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.teams {
		if existing.Name == t.Name {
			return domain.ErrAlreadyExists
		}
	}
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.teams[t.ID] = &cp
	return nil
}

func (m *MockTeamRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTeamRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Team
	for _, t := range m.teams {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Mock RoutingRuleRepository ----

type MockRuleRepo struct {
	mu     sync.Mutex
	rules  []*model.RoutingRule
	nextID int64

	ListActiveFunc func(ctx context.Context, tx repository.Tx) ([]*model.RoutingRule, error)
}

var _ repository.RoutingRuleRepository = (*MockRuleRepo)(nil)

func NewMockRuleRepo(rules ...*model.RoutingRule) *MockRuleRepo {
	m := &MockRuleRepo{}
	for _, r := range rules {
		m.rules = append(m.rules, r)
		if r.ID > m.nextID {
			m.nextID = r.ID
		}
	}
	return m
}

func (m *MockRuleRepo) Add(ctx context.Context, tx repository.Tx, r *model.RoutingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	cp := *r
	m.rules = append(m.rules, &cp)
	return nil
}

func (m *MockRuleRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.RoutingRule, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RoutingRule
	for _, r := range m.rules {
		if r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock AliasRepository ----

type MockAliasRepo struct {
	mu      sync.Mutex
	aliases map[string]*model.CampaignAlias

	FindByKeyFunc func(ctx context.Context, tx repository.Tx, key string) (*model.CampaignAlias, error)
}

var _ repository.AliasRepository = (*MockAliasRepo)(nil)

func NewMockAliasRepo(aliases ...*model.CampaignAlias) *MockAliasRepo {
	m := &MockAliasRepo{aliases: make(map[string]*model.CampaignAlias)}
	for _, a := range aliases {
		m.aliases[a.Key] = a
	}
	return m
}

func (m *MockAliasRepo) Upsert(ctx context.Context, tx repository.Tx, a *model.CampaignAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.aliases[a.Key] = &cp
	return nil
}

func (m *MockAliasRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.CampaignAlias, error) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, tx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.aliases[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAliasRepo) List(ctx context.Context, tx repository.Tx) ([]*model.CampaignAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CampaignAlias
	for _, a := range m.aliases {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MockAliasRepo) Delete(ctx context.Context, tx repository.Tx, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.aliases[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.aliases, key)
	return nil
}

// ---- Mock PostbackLogRepository ----

// MockPostbackLog aggregates saved events in memory the way the repository
// does in SQL, without the offer and country breakdowns.
type MockPostbackLog struct {
	mu     sync.Mutex
	Events []*model.PostbackEvent

	AggregateFunc func(ctx context.Context, tx repository.Tx, from, to time.Time, userIDs []int64) (*model.PostbackAggregate, error)
	// last Aggregate call
	From, To time.Time
	Scope    []int64
}

var _ repository.PostbackLogRepository = (*MockPostbackLog)(nil)

func (m *MockPostbackLog) Save(ctx context.Context, tx repository.Tx, e *model.PostbackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

func (m *MockPostbackLog) Aggregate(ctx context.Context, tx repository.Tx, from, to time.Time, userIDs []int64) (*model.PostbackAggregate, error) {
	m.mu.Lock()
	m.From, m.To, m.Scope = from, to, userIDs
	m.mu.Unlock()
	if m.AggregateFunc != nil {
		return m.AggregateFunc(ctx, tx, from, to, userIDs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := &model.PostbackAggregate{}
	daily := map[time.Time]int{}
	for _, e := range m.Events {
		if e.ReceivedAt.Before(from) || !e.ReceivedAt.Before(to) {
			continue
		}
		if userIDs != nil && (e.RoutedUserID == nil || !containsID(userIDs, *e.RoutedUserID)) {
			continue
		}
		agg.Total++
		day := time.Date(e.ReceivedAt.Year(), e.ReceivedAt.Month(), e.ReceivedAt.Day(), 0, 0, 0, 0, time.UTC)
		if _, ok := daily[day]; !ok {
			daily[day] = 0
		}
		if e.Status == model.StatusSale {
			agg.Sales++
			agg.Payout += e.Payout
			daily[day]++
		}
	}
	for day, n := range daily {
		agg.Daily = append(agg.Daily, model.DailySales{Day: day, Sales: n})
	}
	sort.Slice(agg.Daily, func(i, j int) bool { return agg.Daily[i].Day.Before(agg.Daily[j].Day) })
	return agg, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ---- Mock NotificationLogRepository ----

type MockNotificationLog struct {
	mu      sync.Mutex
	Entries []*model.DeliveryLogEntry
}

var _ repository.NotificationLogRepository = (*MockNotificationLog)(nil)

func (m *MockNotificationLog) Save(ctx context.Context, tx repository.Tx, e *model.DeliveryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Helpers
// =============================

var errBoom = errors.New("boom")

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestTranslator() *i18n.Translator {
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "ru")
	if err != nil {
		panic(err)
	}
	return tr
}

func ptr[T any](v T) *T { return &v }

func user(id int64, username string, role model.Role, team *int64) *model.User {
	return &model.User{TelegramID: id, Username: username, Role: role, TeamID: team, IsActive: true}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}
