package model

import (
	"fmt"
	"strings"
	"time"

	"keitaro-notifier/internal/domain"
)

// ReportPeriod is a window of UTC days a postback report covers.
type ReportPeriod string

const (
	PeriodToday     ReportPeriod = "today"
	PeriodYesterday ReportPeriod = "yesterday"
	PeriodWeek      ReportPeriod = "week"
)

// WeekDays is the length of PeriodWeek, today included.
const WeekDays = 7

func ParseReportPeriod(s string) (ReportPeriod, error) {
	switch p := ReportPeriod(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodToday, PeriodYesterday, PeriodWeek:
		return p, nil
	}
	return "", fmt.Errorf("%w: report period %q", domain.ErrInvalidArgument, s)
}

// Bounds returns the half-open interval [from, to) of the period around now.
func (p ReportPeriod) Bounds(now time.Time) (from, to time.Time) {
	today := truncateDay(now)
	switch p {
	case PeriodYesterday:
		return today.AddDate(0, 0, -1), today
	case PeriodWeek:
		return today.AddDate(0, 0, -(WeekDays - 1)), today.AddDate(0, 0, 1)
	}
	return today, today.AddDate(0, 0, 1)
}

// Tally is a value and how often it occurred.
type Tally struct {
	Key   string
	Count int
}

// DailySales is the number of sales received on one UTC day.
type DailySales struct {
	Day   time.Time
	Sales int
}

// PostbackAggregate summarises logged postbacks over an interval.
type PostbackAggregate struct {
	Total     int
	Sales     int
	Payout    float64
	TopOffer  string
	Countries []Tally      // sales per country, most frequent first
	Daily     []DailySales // one entry per day that had events, oldest first
}

// ConversionRate is sales over all events in percent, 0 without events.
func (a *PostbackAggregate) ConversionRate() float64 {
	if a == nil || a.Total == 0 {
		return 0
	}
	return float64(a.Sales) / float64(a.Total) * 100
}

// Trend fills the days in [from, to) that had no events with zero sales.
func (a *PostbackAggregate) Trend(from, to time.Time) []DailySales {
	byDay := make(map[time.Time]int)
	if a != nil {
		for _, d := range a.Daily {
			byDay[truncateDay(d.Day)] += d.Sales
		}
	}
	var out []DailySales
	for day := truncateDay(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		out = append(out, DailySales{Day: day, Sales: byDay[day]})
	}
	return out
}

// Report is a postback aggregate scoped to what a requester may see.
type Report struct {
	Period    ReportPeriod
	From      time.Time
	To        time.Time
	Scoped    bool // false when the report covers every event, unrouted ones included
	Users     int  // users in scope when Scoped
	Aggregate *PostbackAggregate
}
