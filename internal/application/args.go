package application

import (
	"strconv"
	"strings"

	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/usecase"
)

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id, err == nil && id > 0
}

// parseAddRule reads: owner_id offer country source [priority].
func parseAddRule(args []string) (usecase.AddRuleInput, bool) {
	if len(args) < 4 || len(args) > 5 {
		return usecase.AddRuleInput{}, false
	}
	owner, ok := parseID(args[0])
	if !ok {
		return usecase.AddRuleInput{}, false
	}
	in := usecase.AddRuleInput{OwnerID: owner, Offer: args[1], Country: args[2], Source: args[3]}
	if len(args) == 5 {
		p, err := strconv.Atoi(args[4])
		if err != nil {
			return usecase.AddRuleInput{}, false
		}
		in.Priority = p
	}
	return in, true
}

// parseSetAlias reads: key buyer_id [lead_id].
func parseSetAlias(args []string) (string, int64, *int64, bool) {
	if len(args) < 2 || len(args) > 3 {
		return "", 0, nil, false
	}
	buyer, ok := parseID(args[1])
	if !ok || strings.TrimSpace(args[0]) == "" {
		return "", 0, nil, false
	}
	var lead *int64
	if len(args) == 3 {
		id, ok := parseID(args[2])
		if !ok {
			return "", 0, nil, false
		}
		lead = &id
	}
	return args[0], buyer, lead, true
}

// parseNotify reads: kind [days] [apply]. Days and apply may come in any
// order after the kind.
func parseNotify(args []string) (usecase.NotifyRequest, bool) {
	if len(args) == 0 || len(args) > 3 {
		return usecase.NotifyRequest{}, false
	}
	kind, err := model.ParseRecordKind(args[0])
	if err != nil {
		return usecase.NotifyRequest{}, false
	}
	req := usecase.NotifyRequest{Kind: kind, Days: usecase.DefaultDays, DryRun: true}
	seenDays := false
	for _, a := range args[1:] {
		if strings.EqualFold(a, "apply") {
			req.DryRun = false
			continue
		}
		d, err := strconv.Atoi(a)
		if err != nil || d < 0 || seenDays {
			return usecase.NotifyRequest{}, false
		}
		req.Days = d
		seenDays = true
	}
	return req, true
}
