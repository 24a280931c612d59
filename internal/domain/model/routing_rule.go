package model

import (
	"strings"
	"time"

	"keitaro-notifier/internal/domain"
)

// Wildcard matches any attribute value. Stored as NULL.
const Wildcard = "*"

// RoutingRule maps event attributes to the user who owns the traffic.
type RoutingRule struct {
	ID        int64
	OwnerID   int64 // telegram id of the owner
	Offer     string
	Country   string
	Source    string
	Priority  int
	IsActive  bool
	CreatedAt time.Time
}

func NewRoutingRule(ownerID int64, offer, country, source string, priority int) (*RoutingRule, error) {
	if ownerID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &RoutingRule{
		OwnerID:   ownerID,
		Offer:     NormalizePattern(offer),
		Country:   NormalizePattern(country),
		Source:    NormalizePattern(source),
		Priority:  priority,
		IsActive:  true,
		CreatedAt: time.Now(),
	}, nil
}

// NormalizePattern maps empty input and any spelling of "*" to Wildcard.
func NormalizePattern(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == Wildcard {
		return Wildcard
	}
	return p
}

// Specificity counts the non-wildcard patterns of the rule.
func (r *RoutingRule) Specificity() int {
	n := 0
	for _, p := range []string{r.Offer, r.Country, r.Source} {
		if p != Wildcard {
			n++
		}
	}
	return n
}

// IsCatchAll reports whether every pattern is a wildcard.
func (r *RoutingRule) IsCatchAll() bool { return r.Specificity() == 0 }
