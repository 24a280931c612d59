package model

import (
	"strings"
	"time"

	"keitaro-notifier/internal/domain"
)

type Team struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

func NewTeam(name string) (*Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Team{Name: name, CreatedAt: time.Now()}, nil
}
