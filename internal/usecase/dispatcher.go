package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/adapter"
	"keitaro-notifier/internal/domain/ports/repository"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Outcome is the result of a single delivery attempt.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeWouldSend   Outcome = "would_send"
	OutcomeNoRecipient Outcome = "no_recipient"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
)

// DeliveryResult describes what happened to one message. Marked and
// MarkFailed count partner records flagged (or, in dry-run, that would be
// flagged) after the message went out.
type DeliveryResult struct {
	Outcome    Outcome `json:"outcome"`
	ChatID     int64   `json:"chat_id"`
	Marked     int     `json:"marked,omitempty"`
	MarkFailed int     `json:"mark_failed,omitempty"`
}

// Dispatcher sends rendered messages and keeps partner records in step.
//
// A record moves PENDING -> SENT only after a successful send followed by a
// successful mark. A failed send leaves it pending for the next run. Send and
// mark are not atomic: a crash between them re-sends once on the next run.
type Dispatcher struct {
	bot     adapter.TelegramBotAdapter
	partner adapter.PartnerClient
	audit   repository.NotificationLogRepository
	log     *zerolog.Logger
}

// NewDispatcher builds a dispatcher. partner and audit may be nil when only
// plain messages are dispatched.
func NewDispatcher(bot adapter.TelegramBotAdapter, partner adapter.PartnerClient, audit repository.NotificationLogRepository, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{bot: bot, partner: partner, audit: audit, log: logger}
}

// Dispatch delivers text to chatID. A zero chatID yields NoRecipient and
// domain.ErrNoRecipient; a send error yields Failed and domain.ErrDelivery.
// In dry-run nothing is sent and the outcome is WouldSend.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID int64, text string, dryRun bool) (DeliveryResult, error) {
	kind := logging.KindFrom(ctx)
	res := DeliveryResult{ChatID: chatID}

	switch {
	case chatID == 0:
		res.Outcome = OutcomeNoRecipient
	case dryRun:
		res.Outcome = OutcomeWouldSend
	default:
		if err := d.bot.SendMessage(ctx, chatID, text); err != nil {
			res.Outcome = OutcomeFailed
			metrics.IncNotification(kind, string(res.Outcome))
			logging.With(ctx, d.log).Warn().Err(err).Int64("chat_id", chatID).Msg("delivery failed")
			return res, fmt.Errorf("%w: chat %d: %v", domain.ErrDelivery, chatID, err)
		}
		res.Outcome = OutcomeSent
	}

	metrics.IncNotification(kind, string(res.Outcome))
	if res.Outcome == OutcomeNoRecipient {
		return res, domain.ErrNoRecipient
	}
	logging.With(ctx, d.log).Debug().Int64("chat_id", chatID).Str("outcome", string(res.Outcome)).Msg("dispatched")
	return res, nil
}

// Deliver sends one message that announces recs and marks them notified.
// Records already notified are never announced again: when none is pending
// the outcome is Skipped and nothing is sent.
func (d *Dispatcher) Deliver(ctx context.Context, chatID int64, text string, recs []*model.NotifiableRecord, dryRun bool) (DeliveryResult, error) {
	pending := make([]*model.NotifiableRecord, 0, len(recs))
	for _, r := range recs {
		if r != nil && !r.Notified {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		metrics.IncNotification(logging.KindFrom(ctx), string(OutcomeSkipped))
		return DeliveryResult{Outcome: OutcomeSkipped, ChatID: chatID}, nil
	}

	res, err := d.Dispatch(ctx, chatID, text, dryRun)
	switch res.Outcome {
	case OutcomeWouldSend:
		res.Marked = len(pending)
	case OutcomeSent:
		for _, r := range pending {
			if merr := d.mark(ctx, chatID, r); merr != nil {
				res.MarkFailed++
				logging.With(ctx, d.log).Error().Err(merr).Int64("record_id", r.ID).Msg("mark notified failed")
				continue
			}
			res.Marked++
		}
	}
	return res, err
}

func (d *Dispatcher) mark(ctx context.Context, chatID int64, r *model.NotifiableRecord) error {
	if d.partner == nil {
		return errors.New("no partner client configured")
	}
	if r.ID <= 0 {
		return fmt.Errorf("%w: %s record has no id", domain.ErrInvalidArgument, r.Kind)
	}
	if err := d.partner.MarkNotified(ctx, r.Kind, r.ID); err != nil {
		return err
	}
	r.Notified = true

	if d.audit != nil {
		entry := &model.DeliveryLogEntry{
			Kind:        r.Kind,
			RecordID:    r.ID,
			RecipientID: chatID,
			Outcome:     string(OutcomeSent),
			SentAt:      time.Now(),
		}
		if err := d.audit.Save(ctx, repository.NoTX, entry); err != nil {
			logging.With(ctx, d.log).Warn().Err(err).Int64("record_id", r.ID).Msg("audit log write failed")
		}
	}
	return nil
}
