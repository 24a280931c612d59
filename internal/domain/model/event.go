package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"keitaro-notifier/internal/domain"
)

const (
	StatusSale = "sale"
	StatusLead = "lead"
)

// Event is a single tracker postback after field aliases were resolved.
type Event struct {
	Status    string
	RawStatus string
	Offer     string
	OfferID   string
	Country   string
	Source    string
	Payout    string
	Currency  string
	ClickID   string
	SubID3    string
	Campaign  string
	SaleTime  string
}

// fieldAliases lists the accepted input names per event attribute, first
// non-empty wins.
var fieldAliases = map[string][]string{
	"status":    {"status", "action"},
	"offer":     {"offer", "offer_name", "campaign", "campaign_name"},
	"offer_id":  {"offer_id"},
	"country":   {"country", "geo"},
	"source":    {"source", "traffic_source_name", "traffic_source", "affiliate"},
	"payout":    {"payout", "profit", "revenue", "conversion_revenue"},
	"currency":  {"currency", "revenue_currency", "payout_currency"},
	"click_id":  {"clickid", "click_id", "subid", "sub_id"},
	"sub_id_3":  {"sub_id_3", "subid3"},
	"campaign":  {"campaign_name", "campaign"},
	"sale_time": {"conversion_sale_time", "conversion_time"},
}

func pick(fields map[string]string, attr string) string {
	for _, k := range fieldAliases[attr] {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}

// ParseEvent builds an Event from raw postback fields. It fails with
// domain.ErrValidation when the payout is not a number or when the event
// carries none of the attributes used for routing or display.
func ParseEvent(fields map[string]string) (*Event, error) {
	e := &Event{
		RawStatus: pick(fields, "status"),
		Offer:     pick(fields, "offer"),
		OfferID:   pick(fields, "offer_id"),
		Country:   pick(fields, "country"),
		Source:    pick(fields, "source"),
		Payout:    pick(fields, "payout"),
		Currency:  pick(fields, "currency"),
		ClickID:   pick(fields, "click_id"),
		SubID3:    pick(fields, "sub_id_3"),
		Campaign:  pick(fields, "campaign"),
		SaleTime:  pick(fields, "sale_time"),
	}
	e.Status = NormalizeStatus(e.RawStatus)

	if e.Payout != "" {
		if _, err := strconv.ParseFloat(strings.Replace(e.Payout, ",", ".", 1), 64); err != nil {
			return nil, fmt.Errorf("%w: payout %q is not a number", domain.ErrValidation, e.Payout)
		}
	}
	if e.Offer == "" && e.OfferID == "" && e.Country == "" && e.Source == "" && e.ClickID == "" && e.Campaign == "" {
		return nil, fmt.Errorf("%w: no routable fields", domain.ErrValidation)
	}
	return e, nil
}

// NormalizeStatus folds tracker statuses into sale or lead.
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sale", "approved", "conversion", "confirmed":
		return StatusSale
	}
	return StatusLead
}

// AliasKey is the campaign alias key of the event, "" when there is none.
func (e *Event) AliasKey() string { return AliasKey(e.Campaign) }

// PayoutValue is the payout as a number, 0 when absent. ParseEvent already
// rejected unparsable payouts.
func (e *Event) PayoutValue() float64 {
	v, err := strconv.ParseFloat(strings.Replace(e.Payout, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return v
}

// PostbackEvent is the raw postback as logged for audit. Offer, Country and
// Payout are the resolved attributes reports aggregate on.
type PostbackEvent struct {
	ID           string // ULID
	Payload      map[string]string
	Status       string
	Offer        string
	Country      string
	Payout       float64
	RoutedUserID *int64
	ReceivedAt   time.Time
}
