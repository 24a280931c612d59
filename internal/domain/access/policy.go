// Package access is the single authority for role and team checks. Every
// command and API handler consults it before returning data or mutating state.
package access

import (
	"fmt"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
)

// Action is a privileged operation a requester may attempt.
type Action string

const (
	ActionListUsers     Action = "list_users"
	ActionListRules     Action = "list_rules"
	ActionListTeams     Action = "list_teams"
	ActionIssueToken    Action = "issue_token"
	ActionAddRule       Action = "add_rule"
	ActionSetRole       Action = "set_role"
	ActionCreateTeam    Action = "create_team"
	ActionSetTeam       Action = "set_team"
	ActionManageAliases Action = "manage_aliases"
	ActionNotify        Action = "notify"
	ActionViewReports   Action = "view_reports"
)

// Effective returns the requester as seen by the policy: ids listed in the
// configuration are promoted to admin. The input is not modified.
func Effective(u *model.User, adminIDs []int64) *model.User {
	if u == nil {
		return nil
	}
	for _, id := range adminIDs {
		if id == u.TelegramID && u.Role != model.RoleAdmin {
			cp := *u
			cp.Role = model.RoleAdmin
			return &cp
		}
	}
	return u
}

func deny(requester *model.User, action Action) error {
	if requester == nil {
		return fmt.Errorf("%w: anonymous %s", domain.ErrAuthorization, action)
	}
	return fmt.Errorf("%w: %s may not %s", domain.ErrAuthorization, requester.Role, action)
}

// Authorize decides whether requester may perform action on target. target
// is the user the action is about and may be nil when there is none.
func Authorize(requester *model.User, action Action, target *model.User) error {
	if requester == nil || !requester.Role.Valid() {
		return deny(requester, action)
	}
	if requester.Role == model.RoleAdmin {
		return nil
	}

	switch action {
	case ActionListUsers, ActionListRules, ActionListTeams, ActionIssueToken, ActionViewReports:
		return nil
	case ActionAddRule, ActionSetTeam:
		if requester.Role == model.RoleHead && sameTeam(requester, target) {
			return nil
		}
	}
	return deny(requester, action)
}

// AuthorizeTeamChange checks a team assignment. A head may only move users
// between "no team" and the head's own team.
func AuthorizeTeamChange(requester, target *model.User, teamID *int64) error {
	if requester == nil || !requester.Role.Valid() || target == nil {
		return deny(requester, ActionSetTeam)
	}
	if requester.Role == model.RoleAdmin {
		return nil
	}
	if requester.Role != model.RoleHead || requester.TeamID == nil {
		return deny(requester, ActionSetTeam)
	}
	currentOK := target.TeamID == nil || target.InTeam(requester.TeamID)
	nextOK := teamID == nil || *teamID == *requester.TeamID
	if currentOK && nextOK {
		return nil
	}
	return deny(requester, ActionSetTeam)
}

func sameTeam(requester, target *model.User) bool {
	if target == nil {
		return false
	}
	if target.TelegramID == requester.TelegramID {
		return true
	}
	return target.InTeam(requester.TeamID)
}

// VisibleUsers filters the roster down to what requester may see. Admins see
// everyone, heads and leads see their team, buyers see themselves.
func VisibleUsers(requester *model.User, users []*model.User) ([]*model.User, error) {
	if requester == nil || !requester.Role.Valid() {
		return nil, deny(requester, ActionListUsers)
	}
	out := make([]*model.User, 0, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		if canSeeUser(requester, u) {
			out = append(out, u)
		}
	}
	return out, nil
}

func canSeeUser(requester, u *model.User) bool {
	if u.TelegramID == requester.TelegramID {
		return true
	}
	switch requester.Role {
	case model.RoleAdmin:
		return true
	case model.RoleHead, model.RoleLead:
		return u.InTeam(requester.TeamID)
	}
	return false
}

// VisibleRules filters routing rules. Every known role sees every rule.
func VisibleRules(requester *model.User, rules []*model.RoutingRule) ([]*model.RoutingRule, error) {
	if requester == nil || !requester.Role.Valid() {
		return nil, deny(requester, ActionListRules)
	}
	out := make([]*model.RoutingRule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}
