package usecase

import (
	"context"
	"time"

	"keitaro-notifier/internal/domain/access"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ReportUseCase = (*reportUC)(nil)

// ReportRequest selects the period of a report.
type ReportRequest struct {
	Period model.ReportPeriod
	// Now overrides the clock; zero means time.Now().
	Now time.Time
}

// ReportUseCase summarises logged postbacks for the users a requester may see.
type ReportUseCase interface {
	Report(ctx context.Context, requester *model.User, req ReportRequest) (*model.Report, error)
}

type reportUC struct {
	users  repository.UserRepository
	events repository.PostbackLogRepository
	log    *zerolog.Logger
}

func NewReportUseCase(users repository.UserRepository, events repository.PostbackLogRepository, logger *zerolog.Logger) *reportUC {
	return &reportUC{users: users, events: events, log: logger}
}

// Report aggregates the period for requester. Admins get every event,
// including postbacks that fell through to the default recipient; everyone
// else gets the events routed to the users the visibility filter returns.
func (r *reportUC) Report(ctx context.Context, requester *model.User, req ReportRequest) (*model.Report, error) {
	defer logging.TraceDuration(r.log, "ReportUC.Report")()

	if err := access.Authorize(requester, access.ActionViewReports, nil); err != nil {
		return nil, err
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	from, to := req.Period.Bounds(req.Now)
	rep := &model.Report{Period: req.Period, From: from, To: to}

	var scope []int64
	if requester.Role != model.RoleAdmin {
		all, err := r.users.List(ctx, repository.NoTX)
		if err != nil {
			return nil, err
		}
		visible, err := access.VisibleUsers(requester, all)
		if err != nil {
			return nil, err
		}
		scope = make([]int64, 0, len(visible)+1)
		seen := false
		for _, u := range visible {
			scope = append(scope, u.TelegramID)
			seen = seen || u.TelegramID == requester.TelegramID
		}
		if !seen {
			scope = append(scope, requester.TelegramID)
		}
		rep.Scoped = true
		rep.Users = len(scope)
	}

	agg, err := r.events.Aggregate(ctx, repository.NoTX, from, to, scope)
	if err != nil {
		return nil, err
	}
	rep.Aggregate = agg
	logging.With(ctx, r.log).Debug().
		Str("period", string(req.Period)).
		Bool("scoped", rep.Scoped).
		Int("total", agg.Total).
		Msg("report built")
	return rep, nil
}
