package model

import (
	"strings"
	"time"

	"keitaro-notifier/internal/domain"
)

// CampaignAlias routes events by the prefix of the campaign name, before any
// routing rule is consulted.
type CampaignAlias struct {
	Key       string
	BuyerID   int64
	LeadID    *int64
	UpdatedAt time.Time
}

func NewCampaignAlias(key string, buyerID int64, leadID *int64) (*CampaignAlias, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || buyerID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &CampaignAlias{Key: key, BuyerID: buyerID, LeadID: leadID, UpdatedAt: time.Now()}, nil
}

// AliasKey extracts the alias key from a campaign name such as
// "ivan_ru_fb_01" or "ivan[RU] test". Returns "" when nothing usable is left.
func AliasKey(campaign string) string {
	s := strings.TrimSpace(campaign)
	if i := strings.IndexAny(s, "_["); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}
