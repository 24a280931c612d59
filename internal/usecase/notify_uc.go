package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/access"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/adapter"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/i18n"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/infra/worker"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ NotifyUseCase = (*notifyUC)(nil)

// DefaultDays is the expiry horizon used when a request does not name one.
const DefaultDays = 30

// NotifyRequest selects one notification run.
type NotifyRequest struct {
	Kind   model.RecordKind
	Days   int
	DryRun bool
	// UserIDs limits delivery to these telegram ids. Empty means everyone.
	UserIDs []int64
	// Now overrides the clock; zero means time.Now().
	Now time.Time
}

// Stats summarises a run. A dry run reports the same numbers a live run
// would, provided every send succeeds.
type Stats struct {
	Kind            model.RecordKind `json:"kind"`
	Total           int              `json:"total"`
	Selected        int              `json:"selected"`
	MatchedUsers    int              `json:"matched_users"`
	NotifiedUsers   int              `json:"notified_users"`
	NotifiedRecords int              `json:"notified_records"`
	MissingContact  int              `json:"missing_contact"`
	UnknownUser     int              `json:"unknown_user"`
	Errors          int              `json:"errors"`
	UnknownItems    []string         `json:"unknown_items,omitempty"`
	DryRun          bool             `json:"dry_run"`
}

type NotifyUseCase interface {
	// Run executes one poll of the partner backend for req.Kind.
	Run(ctx context.Context, req NotifyRequest) (*Stats, error)
	// RunAs is Run behind the notify privilege check.
	RunAs(ctx context.Context, requester *model.User, req NotifyRequest) (*Stats, error)
}

type notifyUC struct {
	partner  adapter.PartnerClient
	users    repository.UserRepository
	disp     *Dispatcher
	pool     *worker.Pool
	tr       *i18n.Translator
	adminIDs []int64
	log      *zerolog.Logger
}

// NewNotifyUseCase wires the poller. pool fans out design-order broadcasts
// and may be nil, in which case they are sent sequentially.
func NewNotifyUseCase(
	partner adapter.PartnerClient,
	users repository.UserRepository,
	disp *Dispatcher,
	pool *worker.Pool,
	tr *i18n.Translator,
	adminIDs []int64,
	logger *zerolog.Logger,
) *notifyUC {
	return &notifyUC{
		partner:  partner,
		users:    users,
		disp:     disp,
		pool:     pool,
		tr:       tr,
		adminIDs: adminIDs,
		log:      logger,
	}
}

func (n *notifyUC) RunAs(ctx context.Context, requester *model.User, req NotifyRequest) (*Stats, error) {
	if err := access.Authorize(requester, access.ActionNotify, nil); err != nil {
		return nil, err
	}
	return n.Run(ctx, req)
}

func (n *notifyUC) Run(ctx context.Context, req NotifyRequest) (*Stats, error) {
	defer logging.TraceDuration(n.log, "NotifyUC.Run")()

	// callers apply DefaultDays when no horizon was given; 0 means due today
	if req.Days < 0 {
		req.Days = 0
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	ctx = logging.WithKind(ctx, string(req.Kind))
	stats := &Stats{Kind: req.Kind, DryRun: req.DryRun}

	var err error
	switch req.Kind {
	case model.KindDomain, model.KindIP, model.KindTicket:
		err = n.runGrouped(ctx, req, stats)
	case model.KindOrder:
		err = n.runOrders(ctx, req, stats)
	case model.KindDesignOrder:
		err = n.runDesign(ctx, req, stats)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidArgument, req.Kind)
	}
	if err != nil {
		return nil, err
	}

	logging.With(ctx, n.log).Info().
		Int("total", stats.Total).
		Int("selected", stats.Selected).
		Int("notified_users", stats.NotifiedUsers).
		Int("notified_records", stats.NotifiedRecords).
		Int("missing_contact", stats.MissingContact).
		Int("unknown_user", stats.UnknownUser).
		Int("errors", stats.Errors).
		Bool("dry_run", stats.DryRun).
		Msg("notification run finished")
	return stats, nil
}

// selected reports whether a record is due in this run.
func selected(r *model.NotifiableRecord, req NotifyRequest) bool {
	if r.Notified {
		return false
	}
	switch {
	case r.Kind.Expiring():
		return r.ExpiresWithin(req.Now, req.Days)
	case r.Kind == model.KindTicket:
		return r.Completed()
	}
	return true
}

// resolved is the outcome of mapping records to registered users.
type resolved struct {
	byUser  map[int64][]*model.NotifiableRecord
	users   map[int64]*model.User
	order   []int64
	missing []*model.NotifiableRecord
	unknown []*model.NotifiableRecord
}

// resolveOwners groups records by the telegram user owning them. Records
// without a handle go to missing and handles of unregistered or inactive users
// go to unknown. When only is non-empty, records of other users are dropped.
func (n *notifyUC) resolveOwners(ctx context.Context, recs []*model.NotifiableRecord, only []int64) (*resolved, error) {
	out := &resolved{
		byUser: make(map[int64][]*model.NotifiableRecord),
		users:  make(map[int64]*model.User),
	}

	var handles []string
	seen := make(map[string]bool)
	for _, r := range recs {
		h := model.NormalizeHandle(r.OwnerHandle)
		if h == "" {
			out.missing = append(out.missing, r)
			continue
		}
		if !seen[h] {
			seen[h] = true
			handles = append(handles, h)
		}
	}
	if len(handles) == 0 {
		return out, nil
	}

	found, err := n.users.FindByUsernames(ctx, repository.NoTX, handles)
	if err != nil {
		return nil, fmt.Errorf("resolve owners: %w", err)
	}

	for _, r := range recs {
		h := model.NormalizeHandle(r.OwnerHandle)
		if h == "" {
			continue
		}
		u, ok := found[h]
		if !ok || u == nil || !u.IsActive {
			out.unknown = append(out.unknown, r)
			continue
		}
		if !allowedID(only, u.TelegramID) {
			continue
		}
		if _, ok := out.byUser[u.TelegramID]; !ok {
			out.order = append(out.order, u.TelegramID)
			out.users[u.TelegramID] = u
		}
		out.byUser[u.TelegramID] = append(out.byUser[u.TelegramID], r)
	}
	sort.Slice(out.order, func(i, j int) bool { return out.order[i] < out.order[j] })
	return out, nil
}

func (s *Stats) countProblems(res *resolved) {
	s.MissingContact += len(res.missing)
	s.UnknownUser += len(res.unknown)
	for _, r := range res.unknown {
		s.UnknownItems = append(s.UnknownItems, r.Name)
	}
}

func (s *Stats) count(res DeliveryResult, _ error) {
	switch res.Outcome {
	case OutcomeSent, OutcomeWouldSend:
		s.NotifiedUsers++
		s.NotifiedRecords += res.Marked
		s.Errors += res.MarkFailed
	case OutcomeFailed:
		s.Errors++
	}
}

func (n *notifyUC) runGrouped(ctx context.Context, req NotifyRequest, stats *Stats) error {
	recs, err := n.partner.FetchRecords(ctx, req.Kind)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", req.Kind, err)
	}
	stats.Total = len(recs)

	var due []*model.NotifiableRecord
	for _, r := range recs {
		if selected(r, req) {
			due = append(due, r)
		}
	}
	stats.Selected = len(due)

	res, err := n.resolveOwners(ctx, due, req.UserIDs)
	if err != nil {
		return err
	}
	stats.countProblems(res)
	stats.MatchedUsers = len(res.order)

	for _, id := range res.order {
		group := res.byUser[id]
		text := renderGroup(n.tr, req.Kind, group)
		stats.count(n.disp.Deliver(ctx, id, text, group, req.DryRun))
	}

	n.alertAdmins(ctx, req, res)
	return nil
}

func (n *notifyUC) runOrders(ctx context.Context, req NotifyRequest, stats *Stats) error {
	day := req.Now.UTC().AddDate(0, 0, -1)
	orders, err := n.partner.FetchOrders(ctx, day)
	if err != nil {
		return fmt.Errorf("fetch orders: %w", err)
	}
	stats.Total = len(orders)

	var due []*model.NotifiableRecord
	for _, r := range orders {
		if selected(r, req) {
			due = append(due, r)
		}
	}
	stats.Selected = len(due)

	res, err := n.resolveOwners(ctx, due, req.UserIDs)
	if err != nil {
		return err
	}
	stats.countProblems(res)
	stats.MatchedUsers = len(res.order)

	for _, id := range res.order {
		delivered := false
		for _, r := range res.byUser[id] {
			out, err := n.disp.Deliver(ctx, id, renderOrder(n.tr, r), []*model.NotifiableRecord{r}, req.DryRun)
			switch out.Outcome {
			case OutcomeSent, OutcomeWouldSend:
				delivered = true
				stats.NotifiedRecords += out.Marked
				stats.Errors += out.MarkFailed
			case OutcomeFailed:
				stats.Errors++
				logging.With(ctx, n.log).Warn().Err(err).Int64("order_id", r.ID).Msg("order notification failed")
			}
		}
		if delivered {
			stats.NotifiedUsers++
		}
	}

	n.alertAdmins(ctx, req, res)
	return nil
}

// runDesign announces every pending design order to all active users. A
// record is marked once at least one user received it.
func (n *notifyUC) runDesign(ctx context.Context, req NotifyRequest, stats *Stats) error {
	recs, err := n.partner.FetchRecords(ctx, model.KindDesignOrder)
	if err != nil {
		return fmt.Errorf("fetch design orders: %w", err)
	}
	stats.Total = len(recs)

	var due []*model.NotifiableRecord
	for _, r := range recs {
		if selected(r, req) {
			due = append(due, r)
		}
	}
	stats.Selected = len(due)
	if len(due) == 0 {
		return nil
	}

	all, err := n.users.List(ctx, repository.NoTX)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	var recipients []int64
	for _, u := range all {
		if u.IsActive && allowedID(req.UserIDs, u.TelegramID) {
			recipients = append(recipients, u.TelegramID)
		}
	}
	stats.MatchedUsers = len(recipients)

	reached := make(map[int64]bool)
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			stats.NotifiedUsers = len(reached)
			return fmt.Errorf("design broadcast interrupted: %w", err)
		}
		text := renderDesignOrder(n.tr, r)
		ok, failed := n.broadcast(ctx, recipients, text, req.DryRun)
		stats.Errors += failed
		for _, id := range ok {
			reached[id] = true
		}
		if len(ok) == 0 {
			continue
		}
		// the broadcast already sent the message, so only the mark is left
		if req.DryRun {
			stats.NotifiedRecords++
			continue
		}
		if err := n.disp.mark(ctx, ok[0], r); err != nil {
			stats.Errors++
			logging.With(ctx, n.log).Error().Err(err).Int64("record_id", r.ID).Msg("mark design order failed")
			continue
		}
		stats.NotifiedRecords++
	}
	stats.NotifiedUsers = len(reached)
	return nil
}

func allowedID(only []int64, id int64) bool {
	if len(only) == 0 {
		return true
	}
	for _, x := range only {
		if x == id {
			return true
		}
	}
	return false
}

// broadcast sends text to every recipient through the worker pool. One
// failing recipient never blocks the others. It returns the ids that
// received the message (or would have, in dry-run) and the failure count.
// Tasks report on a channel so a cancelled ctx ends the wait even when the
// pool workers are gone; recipients not yet reported count as failed.
func (n *notifyUC) broadcast(ctx context.Context, recipients []int64, text string, dryRun bool) ([]int64, int) {
	type result struct {
		id      int64
		outcome Outcome
	}
	results := make(chan result, len(recipients))
	send := func(ctx context.Context, id int64) {
		res, _ := n.disp.Dispatch(ctx, id, text, dryRun)
		results <- result{id: id, outcome: res.Outcome}
	}

	var (
		ok      []int64
		failed  int
		pending int
	)
	collect := func(r result) {
		switch r.outcome {
		case OutcomeSent, OutcomeWouldSend:
			ok = append(ok, r.id)
		case OutcomeFailed:
			failed++
		}
	}

	for _, id := range recipients {
		id := id
		if n.pool == nil || dryRun {
			send(ctx, id)
			pending++
			continue
		}
		err := n.pool.SubmitWait(ctx, func(context.Context) error {
			send(ctx, id)
			return nil
		})
		if err != nil {
			logging.With(ctx, n.log).Warn().Err(err).Int64("chat_id", id).Msg("broadcast task not queued")
			failed++
			continue
		}
		pending++
	}

	for pending > 0 {
		select {
		case r := <-results:
			collect(r)
			pending--
		case <-ctx.Done():
			// keep what already arrived, give up on the rest
			for drained := false; !drained && pending > 0; {
				select {
				case r := <-results:
					collect(r)
					pending--
				default:
					drained = true
				}
			}
			logging.With(ctx, n.log).Warn().Err(ctx.Err()).Int("unfinished", pending).Msg("broadcast interrupted")
			failed += pending
			pending = 0
		}
	}

	sort.Slice(ok, func(i, j int) bool { return ok[i] < ok[j] })
	return ok, failed
}

// alertAdmins tells admins about records that could not be routed. Dry runs
// and runs limited to specific users stay silent.
func (n *notifyUC) alertAdmins(ctx context.Context, req NotifyRequest, res *resolved) {
	if req.DryRun || len(req.UserIDs) > 0 || len(n.adminIDs) == 0 {
		return
	}
	var texts []string
	if len(res.missing) > 0 {
		texts = append(texts, renderAlert(n.tr, "admin_missing_contact", req.Kind, res.missing))
	}
	if len(res.unknown) > 0 {
		texts = append(texts, renderAlert(n.tr, "admin_unknown_user", req.Kind, res.unknown))
	}
	alertCtx := logging.WithKind(ctx, "admin_alert")
	for _, text := range texts {
		for _, id := range n.adminIDs {
			if _, err := n.disp.Dispatch(alertCtx, id, text, false); err != nil {
				logging.With(ctx, n.log).Warn().Err(err).Int64("admin_id", id).Msg("admin alert failed")
			}
		}
	}
}
