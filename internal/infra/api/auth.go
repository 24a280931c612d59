package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// RequesterClaims identifies the Telegram user an API token was issued to.
type RequesterClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TelegramID returns the subject as a telegram id.
func (c *RequesterClaims) TelegramID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// AuthManager mints and verifies HS256 tokens handed out by /apitoken.
type AuthManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthManager(secret string, ttl time.Duration) *AuthManager {
	return &AuthManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (a *AuthManager) Enabled() bool { return a != nil && len(a.secret) > 0 }

func (a *AuthManager) Mint(tgID int64, role string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := RequesterClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Subject:   strconv.FormatInt(tgID, 10),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (a *AuthManager) Parse(tok string) (*RequesterClaims, error) {
	if !a.Enabled() {
		return nil, ErrInvalidToken
	}
	claims := &RequesterClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !tkn.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// bearer extracts the token of a well-formed bearer header.
func bearer(r *http.Request) (string, bool) {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
