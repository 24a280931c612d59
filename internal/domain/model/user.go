package model

import (
	"strings"
	"time"

	"keitaro-notifier/internal/domain"
)

// Role is the position of a user in the buying hierarchy.
type Role string

const (
	RoleBuyer Role = "buyer"
	RoleLead  Role = "lead"
	RoleHead  Role = "head"
	RoleAdmin Role = "admin"
)

// ParseRole accepts a role name in any case. Unknown names are rejected.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", domain.ErrInvalidArgument
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleLead, RoleHead, RoleAdmin:
		return true
	}
	return false
}

// User is a Telegram account known to the relay. TelegramID doubles as the
// chat id for private messages.
type User struct {
	TelegramID int64
	Username   string
	FullName   string
	Role       Role
	TeamID     *int64
	IsActive   bool
	CreatedAt  time.Time
}

func NewUser(tgID int64, username, fullName string) (*User, error) {
	if tgID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &User{
		TelegramID: tgID,
		Username:   strings.TrimPrefix(strings.TrimSpace(username), "@"),
		FullName:   strings.TrimSpace(fullName),
		Role:       RoleBuyer,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.TelegramID == 0 }

// InTeam reports whether the user belongs to the given team.
func (u *User) InTeam(teamID *int64) bool {
	if u == nil || u.TeamID == nil || teamID == nil {
		return false
	}
	return *u.TeamID == *teamID
}

// Handle returns the lower-cased username used to match partner records.
func (u *User) Handle() string {
	return NormalizeHandle(u.Username)
}

// NormalizeHandle trims whitespace and a leading "@" and lower-cases a
// Telegram username. Empty input yields "".
func NormalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "@")
	return strings.ToLower(s)
}
