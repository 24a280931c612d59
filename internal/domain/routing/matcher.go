// Package routing selects the owner of a tracker event from a rule snapshot.
package routing

import (
	"strings"

	"keitaro-notifier/internal/domain/model"
)

// Match returns the owner of the best rule matching the event.
//
// A rule matches when each of its offer, country and source patterns is the
// wildcard or equals the event attribute ignoring case. Among matches the
// highest priority wins, then the most specific rule, then the lowest id.
// Inactive rules are ignored. ok is false when nothing matches.
func Match(e *model.Event, rules []*model.RoutingRule) (ownerID int64, ok bool) {
	best := Best(e, rules)
	if best == nil {
		return 0, false
	}
	return best.OwnerID, true
}

// Best is Match returning the winning rule itself.
func Best(e *model.Event, rules []*model.RoutingRule) *model.RoutingRule {
	if e == nil {
		return nil
	}
	var best *model.RoutingRule
	for _, r := range rules {
		if r == nil || !r.IsActive || !Matches(r, e) {
			continue
		}
		if best == nil || better(r, best) {
			best = r
		}
	}
	return best
}

// Matches reports whether a single rule accepts the event.
func Matches(r *model.RoutingRule, e *model.Event) bool {
	return patternMatches(r.Offer, e.Offer) &&
		patternMatches(r.Country, e.Country) &&
		patternMatches(r.Source, e.Source)
}

func patternMatches(pattern, value string) bool {
	if pattern == model.Wildcard {
		return true
	}
	// an absent attribute only satisfies the wildcard
	if value == "" {
		return false
	}
	return strings.EqualFold(pattern, strings.TrimSpace(value))
}

func better(a, b *model.RoutingRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
		return sa > sb
	}
	return a.ID < b.ID
}
