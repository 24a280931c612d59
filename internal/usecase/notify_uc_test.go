//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/infra/worker"
	"keitaro-notifier/internal/usecase"
)

const adminID = 1000

type notifyFixture struct {
	bot     *MockTelegramBot
	partner *MockPartner
	users   *MockUserRepo
	uc      usecase.NotifyUseCase
}

func newNotifyFixture(t *testing.T, pool *worker.Pool, users ...*model.User) *notifyFixture {
	t.Helper()
	f := &notifyFixture{
		bot:     &MockTelegramBot{},
		partner: NewMockPartner(),
		users:   NewMockUserRepo(users...),
	}
	disp := usecase.NewDispatcher(f.bot, f.partner, &MockNotificationLog{}, newTestLogger())
	f.uc = usecase.NewNotifyUseCase(f.partner, f.users, disp, pool, newTestTranslator(), []int64{adminID}, newTestLogger())
	return f
}

func domainRec(id int64, name, handle string, expires time.Time) *model.NotifiableRecord {
	return &model.NotifiableRecord{Kind: model.KindDomain, ID: id, Name: name, OwnerHandle: handle, ExpiresAt: &expires}
}

func TestNotifyUseCase_ExpiringDomains(t *testing.T) {
	ctx := context.Background()
	now := day(2026, 3, 1)

	t.Run("should notify once and never again after the mark", func(t *testing.T) {
		// Arrange
		f := newNotifyFixture(t, nil, user(1, "ivan", model.RoleBuyer, nil))
		f.partner.Add(domainRec(11, "example.com", "@Ivan", now.AddDate(0, 0, 10)))
		req := usecase.NotifyRequest{Kind: model.KindDomain, Days: 30, Now: now}

		// Act
		first, err := f.uc.Run(ctx, req)
		if err != nil {
			t.Fatalf("first run failed: %v", err)
		}
		second, err := f.uc.Run(ctx, req)
		if err != nil {
			t.Fatalf("second run failed: %v", err)
		}

		// Assert
		if got := f.bot.SentTo(1); len(got) != 1 {
			t.Fatalf("expected exactly one message to the owner, got %d", len(got))
		}
		if first.NotifiedUsers != 1 || first.NotifiedRecords != 1 || first.Selected != 1 {
			t.Errorf("unexpected first stats %+v", first)
		}
		if second.Selected != 0 || second.NotifiedUsers != 0 {
			t.Errorf("second run must dispatch nothing, got %+v", second)
		}
		if got := f.partner.MarkedIDs(); len(got) != 1 || got[0] != 11 {
			t.Errorf("expected record 11 marked once, got %v", got)
		}
	})

	t.Run("should treat zero days as due today or earlier", func(t *testing.T) {
		// Arrange
		f := newNotifyFixture(t, nil, user(1, "ivan", model.RoleBuyer, nil))
		f.partner.Add(
			domainRec(1, "later.com", "ivan", now.AddDate(0, 0, 10)),
			domainRec(2, "today.com", "ivan", now),
		)

		// Act
		stats, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDomain, Days: 0, Now: now})

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.Selected != 1 || stats.NotifiedRecords != 1 {
			t.Errorf("expected only the record due today, got %+v", stats)
		}
		if got := f.partner.MarkedIDs(); len(got) != 1 || got[0] != 2 {
			t.Errorf("record due in 10 days must stay pending, marked %v", got)
		}
	})

	t.Run("should clamp negative days to zero", func(t *testing.T) {
		// Arrange
		f := newNotifyFixture(t, nil, user(1, "ivan", model.RoleBuyer, nil))
		f.partner.Add(domainRec(1, "later.com", "ivan", now.AddDate(0, 0, 10)))

		// Act
		stats, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDomain, Days: -5, Now: now, DryRun: true})

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.Selected != 0 || len(f.bot.SentTo(1)) != 0 {
			t.Errorf("expected nothing due, got %+v", stats)
		}
	})

	t.Run("should group records of one owner into one message sorted by expiry", func(t *testing.T) {
		f := newNotifyFixture(t, nil, user(1, "ivan", model.RoleBuyer, nil))
		f.partner.Add(
			domainRec(1, "late.com", "ivan", now.AddDate(0, 0, 20)),
			domainRec(2, "soon.com", "ivan", now.AddDate(0, 0, 2)),
			domainRec(3, "far.com", "ivan", now.AddDate(0, 0, 90)),
		)

		stats, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDomain, Days: 30, Now: now})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msgs := f.bot.SentTo(1)
		if len(msgs) != 1 {
			t.Fatalf("expected one grouped message, got %d", len(msgs))
		}
		want := "Срок действия следующих доменов скоро истекает:\n" +
			"- soon.com (истекает 03.03.2026)\n" +
			"- late.com (истекает 21.03.2026)\n\n" +
			"Для продления домена напишите в личку @apr1cot"
		if msgs[0] != want {
			t.Errorf("unexpected message:\n%s", msgs[0])
		}
		if stats.Total != 3 || stats.Selected != 2 || stats.NotifiedRecords != 2 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("should report identical stats in dry-run and live", func(t *testing.T) {
		seed := func(f *notifyFixture) {
			f.partner.Add(
				domainRec(1, "a.com", "ivan", now.AddDate(0, 0, 1)),
				domainRec(2, "b.com", "", now.AddDate(0, 0, 1)),
				domainRec(3, "c.com", "ghost", now.AddDate(0, 0, 1)),
				domainRec(4, "d.com", "petr", now.AddDate(0, 0, 5)),
			)
		}
		users := []*model.User{user(1, "ivan", model.RoleBuyer, nil), user(2, "petr", model.RoleLead, nil)}

		dry := newNotifyFixture(t, nil, users...)
		seed(dry)
		live := newNotifyFixture(t, nil, users...)
		seed(live)

		dryStats, err := dry.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDomain, Now: now, DryRun: true})
		if err != nil {
			t.Fatalf("dry-run failed: %v", err)
		}
		liveStats, err := live.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDomain, Now: now})
		if err != nil {
			t.Fatalf("live run failed: %v", err)
		}

		dryStats.DryRun = false
		if fmt.Sprintf("%+v", *dryStats) != fmt.Sprintf("%+v", *liveStats) {
			t.Errorf("stats differ:\ndry:  %+v\nlive: %+v", *dryStats, *liveStats)
		}
		if dry.bot.Count() != 0 || len(dry.partner.MarkedIDs()) != 0 {
			t.Error("dry-run must have no side effects")
		}
		if liveStats.MissingContact != 1 || liveStats.UnknownUser != 1 || liveStats.NotifiedUsers != 2 {
			t.Errorf("unexpected live stats %+v", liveStats)
		}
	})

	t.Run("should alert admins about unroutable records", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		f.partner.Add(
			domainRec(1, "nohandle.com", "", now),
			domainRec(2, "ghost.com", "ghost", now),
		)

		stats, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDomain, Now: now})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		alerts := f.bot.SentTo(adminID)
		if len(alerts) != 2 {
			t.Fatalf("expected two admin alerts, got %v", alerts)
		}
		if !strings.Contains(alerts[0], "nohandle.com") || !strings.Contains(alerts[1], "ghost.com") {
			t.Errorf("unexpected alerts %v", alerts)
		}
		if len(stats.UnknownItems) != 1 || stats.UnknownItems[0] != "ghost.com" {
			t.Errorf("unexpected unknown items %v", stats.UnknownItems)
		}
	})

	t.Run("should cap admin alerts", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		for i := int64(1); i <= 25; i++ {
			f.partner.Add(domainRec(i, fmt.Sprintf("d%d.com", i), "", now))
		}

		if _, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDomain, Now: now}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		alerts := f.bot.SentTo(adminID)
		if len(alerts) != 1 {
			t.Fatalf("expected one alert, got %d", len(alerts))
		}
		if lines := strings.Count(alerts[0], "\n"); lines != 21 {
			t.Errorf("expected header, 20 lines and a tail, got %d newlines", lines)
		}
		if !strings.HasSuffix(alerts[0], "… и ещё 5") {
			t.Errorf("unexpected tail in %q", alerts[0])
		}
	})

	t.Run("should skip inactive users", func(t *testing.T) {
		gone := user(1, "ivan", model.RoleBuyer, nil)
		gone.IsActive = false
		f := newNotifyFixture(t, nil, gone)
		f.partner.Add(domainRec(1, "a.com", "ivan", now))

		stats, _ := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDomain, Now: now, DryRun: true})

		if stats.UnknownUser != 1 || stats.NotifiedUsers != 0 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("should fail when the partner is unreachable", func(t *testing.T) {
		f := newNotifyFixture(t, nil)
		f.partner.FetchRecordsFunc = func(context.Context, model.RecordKind) ([]*model.NotifiableRecord, error) {
			return nil, errBoom
		}

		if _, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindIP, Now: now}); !errors.Is(err, errBoom) {
			t.Errorf("expected errBoom, got %v", err)
		}
	})
}

func TestNotifyUseCase_Tickets(t *testing.T) {
	f := newNotifyFixture(t, nil, user(1, "ivan", model.RoleBuyer, nil))
	f.partner.Add(
		&model.NotifiableRecord{Kind: model.KindTicket, ID: 1, Name: "Fix DNS", OwnerHandle: "ivan", Status: "Done"},
		&model.NotifiableRecord{Kind: model.KindTicket, ID: 2, Name: "New IP", OwnerHandle: "ivan", Status: "open"},
	)

	stats, err := f.uc.Run(context.Background(), usecase.NotifyRequest{Kind: model.KindTicket})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := f.bot.SentTo(1)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "#1 Fix DNS") || strings.Contains(msgs[0], "New IP") {
		t.Errorf("unexpected messages %v", msgs)
	}
	if stats.Selected != 1 || stats.NotifiedRecords != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestNotifyUseCase_Orders(t *testing.T) {
	ctx := context.Background()
	now := day(2026, 3, 2)
	order := func(id int64, handle string) *model.NotifiableRecord {
		return &model.NotifiableRecord{Kind: model.KindOrder, ID: id, Name: "Fan page", OwnerHandle: handle, Count: 3, Total: "150"}
	}

	t.Run("should send one message per order for yesterday", func(t *testing.T) {
		f := newNotifyFixture(t, nil, user(1, "ivan", model.RoleBuyer, nil))
		f.partner.Add(order(12, "ivan"), order(13, "ivan"))

		stats, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindOrder, Now: now})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msgs := f.bot.SentTo(1)
		if len(msgs) != 2 {
			t.Fatalf("expected two messages, got %d", len(msgs))
		}
		want := "✅ Ваш заказ ID 12 выполнен\n\nНазвание: Fan page\nКоличество: 3\nСумма: 150"
		if msgs[0] != want {
			t.Errorf("unexpected message:\n%s", msgs[0])
		}
		if stats.NotifiedUsers != 1 || stats.NotifiedRecords != 2 {
			t.Errorf("unexpected stats %+v", stats)
		}
		if f.partner.OrderDay.Day() != 1 {
			t.Errorf("expected orders of March 1st, got %v", f.partner.OrderDay)
		}
	})

	t.Run("should limit delivery to the requested users without alerts", func(t *testing.T) {
		f := newNotifyFixture(t, nil, user(1, "ivan", model.RoleBuyer, nil), user(2, "petr", model.RoleBuyer, nil))
		f.partner.Add(order(1, "ivan"), order(2, "petr"), order(3, "ghost"))

		stats, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindOrder, Now: now, UserIDs: []int64{2}})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(f.bot.SentTo(1)) != 0 || len(f.bot.SentTo(2)) != 1 {
			t.Errorf("expected only user 2 to be notified, sent %+v", f.bot.Sent)
		}
		if len(f.bot.SentTo(adminID)) != 0 {
			t.Error("a limited run must not alert admins")
		}
		if got := f.partner.MarkedIDs(); len(got) != 1 || got[0] != 2 {
			t.Errorf("unexpected marks %v", got)
		}
		if stats.NotifiedRecords != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})
}

func TestNotifyUseCase_DesignOrders(t *testing.T) {
	ctx := context.Background()
	inactive := user(3, "old", model.RoleBuyer, nil)
	inactive.IsActive = false

	t.Run("should broadcast to all active users and mark once", func(t *testing.T) {
		// Arrange
		pool := worker.NewPool(2, newTestLogger())
		pool.Start(ctx)
		defer pool.Stop()

		f := newNotifyFixture(t, pool, user(1, "a", model.RoleBuyer, nil), user(2, "b", model.RoleHead, nil), inactive)
		f.bot.SendMessageFunc = func(_ context.Context, chatID int64, _ string) error {
			if chatID == 2 {
				return errBoom
			}
			return nil
		}
		f.partner.Add(&model.NotifiableRecord{Kind: model.KindDesignOrder, ID: 9, Name: "Banner", OwnerName: "Team X"})

		// Act
		stats, err := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDesignOrder})

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(f.bot.SentTo(1)) != 1 || len(f.bot.SentTo(3)) != 0 {
			t.Errorf("unexpected deliveries %+v", f.bot.Sent)
		}
		if stats.MatchedUsers != 2 || stats.NotifiedUsers != 1 || stats.Errors != 1 || stats.NotifiedRecords != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
		if got := f.partner.MarkedIDs(); len(got) != 1 || got[0] != 9 {
			t.Errorf("unexpected marks %v", got)
		}
	})

	t.Run("should return when cancelled mid-broadcast", func(t *testing.T) {
		// Arrange
		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool := worker.NewPool(2, newTestLogger())
		pool.Start(runCtx)
		defer pool.Stop()

		users := make([]*model.User, 0, 20)
		for i := int64(1); i <= 20; i++ {
			users = append(users, user(i, fmt.Sprintf("u%d", i), model.RoleBuyer, nil))
		}
		f := newNotifyFixture(t, pool, users...)
		f.bot.SendMessageFunc = func(context.Context, int64, string) error {
			// shutdown arrives while the broadcast is in flight
			cancel()
			return context.Canceled
		}
		f.partner.Add(&model.NotifiableRecord{Kind: model.KindDesignOrder, ID: 9, Name: "Banner"})

		// Act
		type outcome struct {
			stats *usecase.Stats
			err   error
		}
		done := make(chan outcome, 1)
		go func() {
			stats, err := f.uc.Run(runCtx, usecase.NotifyRequest{Kind: model.KindDesignOrder})
			done <- outcome{stats, err}
		}()

		// Assert
		select {
		case got := <-done:
			if got.err != nil {
				t.Fatalf("unexpected error: %v", got.err)
			}
			if got.stats.Errors != 20 || got.stats.NotifiedRecords != 0 {
				t.Errorf("every recipient should count as failed, got %+v", got.stats)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("design run did not return after cancellation")
		}
		if len(f.partner.MarkedIDs()) != 0 {
			t.Errorf("nothing should be marked, got %v", f.partner.MarkedIDs())
		}
	})

	t.Run("should not mark when nobody received it", func(t *testing.T) {
		f := newNotifyFixture(t, nil, user(1, "a", model.RoleBuyer, nil))
		f.bot.SendMessageFunc = func(context.Context, int64, string) error { return errBoom }
		f.partner.Add(&model.NotifiableRecord{Kind: model.KindDesignOrder, ID: 9, Name: "Banner"})

		stats, _ := f.uc.Run(ctx, usecase.NotifyRequest{Kind: model.KindDesignOrder})

		if len(f.partner.MarkedIDs()) != 0 || stats.NotifiedRecords != 0 {
			t.Errorf("nothing should be marked, stats %+v", stats)
		}
	})
}

func TestNotifyUseCase_RunAs(t *testing.T) {
	f := newNotifyFixture(t, nil)

	_, err := f.uc.RunAs(context.Background(), user(1, "ivan", model.RoleBuyer, nil), usecase.NotifyRequest{Kind: model.KindDomain})
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Errorf("expected ErrAuthorization, got %v", err)
	}

	if _, err := f.uc.RunAs(context.Background(), user(2, "root", model.RoleAdmin, nil), usecase.NotifyRequest{Kind: model.KindDomain, DryRun: true}); err != nil {
		t.Errorf("admin must be allowed, got %v", err)
	}
}
