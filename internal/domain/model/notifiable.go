package model

import (
	"strconv"
	"strings"
	"time"

	"keitaro-notifier/internal/domain"
)

// RecordKind names a family of partner records the relay notifies about.
type RecordKind string

const (
	KindOrder       RecordKind = "order"
	KindDomain      RecordKind = "domain"
	KindIP          RecordKind = "ip"
	KindTicket      RecordKind = "ticket"
	KindDesignOrder RecordKind = "design_order"
)

var kindAliases = map[string]RecordKind{
	"order":         KindOrder,
	"orders":        KindOrder,
	"domain":        KindDomain,
	"domains":       KindDomain,
	"ip":            KindIP,
	"ips":           KindIP,
	"ticket":        KindTicket,
	"tickets":       KindTicket,
	"design":        KindDesignOrder,
	"design_order":  KindDesignOrder,
	"design_orders": KindDesignOrder,
}

// ParseRecordKind accepts singular, plural and short forms ("domains", "design").
func ParseRecordKind(s string) (RecordKind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", domain.ErrInvalidArgument
	}
	return k, nil
}

// Expiring reports whether records of this kind are selected by expiry date.
func (k RecordKind) Expiring() bool { return k == KindDomain || k == KindIP }

// NotifiableRecord is a partner-side entity that must be announced once.
// Notified mirrors the partner's telegram_sent/telegram_notified flag.
type NotifiableRecord struct {
	Kind        RecordKind
	ID          int64
	Name        string
	OwnerName   string
	OwnerHandle string
	ExpiresAt   *time.Time
	Count       int
	Total       string
	Status      string
	Notified    bool
}

// ExpiresWithin reports whether the record expires on or before today+days.
// Records without an expiry date never qualify.
func (r *NotifiableRecord) ExpiresWithin(now time.Time, days int) bool {
	if r.ExpiresAt == nil {
		return false
	}
	if days < 0 {
		days = 0
	}
	cutoff := truncateDay(now).AddDate(0, 0, days)
	return !truncateDay(*r.ExpiresAt).After(cutoff)
}

// Completed reports whether a ticket reached a final state.
func (r *NotifiableRecord) Completed() bool {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "completed", "complete", "done", "closed", "resolved":
		return true
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006",
	"2006/01/02",
}

// ParseDate reads partner dates: RFC3339, plain dates in several layouts or a
// unix timestamp. The result is a UTC calendar day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if sec, err := strconv.ParseFloat(s, 64); err == nil {
		return truncateDay(time.Unix(int64(sec), 0)), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

// DeliveryLogEntry records a live delivery for audit.
type DeliveryLogEntry struct {
	Kind        RecordKind
	RecordID    int64
	RecipientID int64
	Outcome     string
	SentAt      time.Time
}
