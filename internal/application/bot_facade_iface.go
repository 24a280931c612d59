package application

import "time"

// TokenIssuer mints API tokens for /apitoken. Implemented by api.AuthManager.
type TokenIssuer interface {
	Enabled() bool
	Mint(tgID int64, role string) (string, time.Time, error)
}
