package usecase

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/infra/i18n"
)

// maxAlertLines caps the record lines of one admin alert.
const maxAlertLines = 20

const dateLayout = "02.01.2006"

var esc = html.EscapeString

func renderOrder(tr *i18n.Translator, r *model.NotifiableRecord) string {
	return tr.T("order_done", r.ID, esc(r.Name), r.Count, esc(r.Total))
}

// renderGroup renders the per-owner message for expiring resources and
// completed tickets. recs must be non-empty and of one kind.
func renderGroup(tr *i18n.Translator, kind model.RecordKind, recs []*model.NotifiableRecord) string {
	var b strings.Builder
	switch kind {
	case model.KindTicket:
		b.WriteString(tr.T("ticket_header"))
		for _, r := range recs {
			b.WriteString("\n")
			b.WriteString(tr.T("ticket_line", r.ID, esc(r.Name)))
		}
		return b.String()
	case model.KindIP:
		b.WriteString(tr.T("expiring_ip_header"))
	default:
		b.WriteString(tr.T("expiring_domain_header"))
	}

	sorted := make([]*model.NotifiableRecord, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return expiry(sorted[i]).Before(expiry(sorted[j]))
	})
	for _, r := range sorted {
		b.WriteString("\n")
		b.WriteString(tr.T("expiring_line", esc(r.Name), expiry(r).Format(dateLayout)))
	}

	b.WriteString("\n\n")
	if kind == model.KindIP {
		b.WriteString(tr.T("expiring_ip_footer"))
	} else {
		b.WriteString(tr.T("expiring_domain_footer"))
	}
	return b.String()
}

func expiry(r *model.NotifiableRecord) time.Time {
	if r.ExpiresAt == nil {
		return time.Time{}
	}
	return *r.ExpiresAt
}

func renderDesignOrder(tr *i18n.Translator, r *model.NotifiableRecord) string {
	owner := r.OwnerName
	if owner == "" && r.OwnerHandle != "" {
		owner = "@" + r.OwnerHandle
	}
	return tr.T("design_order", r.ID, esc(r.Name), esc(owner))
}

// renderAlert lists problem records for admins. header is a translation key
// taking the kind as its only argument.
func renderAlert(tr *i18n.Translator, header string, kind model.RecordKind, recs []*model.NotifiableRecord) string {
	var b strings.Builder
	b.WriteString(tr.T(header, string(kind)))
	for i, r := range recs {
		if i == maxAlertLines {
			b.WriteString("\n")
			b.WriteString(tr.T("admin_alert_more", len(recs)-maxAlertLines))
			break
		}
		owner := r.OwnerHandle
		if owner == "" {
			owner = r.OwnerName
		}
		b.WriteString("\n")
		b.WriteString(tr.T("admin_alert_line", r.ID, esc(r.Name), esc(owner)))
	}
	return b.String()
}

func renderPostback(tr *i18n.Translator, e *model.Event) string {
	lines := []string{tr.T("postback_status", esc(e.Status))}

	offer := e.Offer
	if e.OfferID != "" && e.Offer != "" {
		offer = fmt.Sprintf("%s | %s", e.OfferID, e.Offer)
	} else if e.OfferID != "" {
		offer = e.OfferID
	}
	if offer != "" {
		lines = append(lines, tr.T("postback_offer", esc(offer)))
	}
	if e.ClickID != "" {
		lines = append(lines, tr.T("postback_subid", esc(e.ClickID)))
	}
	if e.Payout != "" {
		lines = append(lines, strings.TrimSpace(tr.T("postback_profit", esc(e.Payout), esc(e.Currency))))
	}
	if e.SubID3 != "" {
		lines = append(lines, tr.T("postback_sub3", esc(e.SubID3)))
	}
	if e.SaleTime != "" {
		lines = append(lines, tr.T("postback_sale_time", esc(e.SaleTime)))
	}
	if e.Campaign != "" {
		lines = append(lines, tr.T("postback_campaign", esc(e.Campaign)))
	}
	return strings.Join(lines, "\n")
}
