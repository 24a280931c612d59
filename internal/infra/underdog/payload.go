package underdog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"keitaro-notifier/internal/domain/model"
)

// item is one loosely shaped JSON object from the backend.
type item map[string]any

func extractToken(payload map[string]any) string {
	if t := firstString(payload, "token", "access_token", "accessToken"); t != "" {
		return t
	}
	if data, ok := payload["data"].(map[string]any); ok {
		return firstString(data, "token", "access_token", "accessToken")
	}
	return ""
}

// extractItems accepts a bare list, {"data": [...]}, {"data": {"<key>": [...]}}
// or {"<key>": [...]} for any of keys.
func extractItems(payload any, keys ...string) ([]item, error) {
	switch p := payload.(type) {
	case []any:
		return toItems(p), nil
	case map[string]any:
		switch data := p["data"].(type) {
		case []any:
			return toItems(data), nil
		case map[string]any:
			for _, k := range keys {
				if list, ok := data[k].([]any); ok {
					return toItems(list), nil
				}
			}
		}
		for _, k := range keys {
			if list, ok := p[k].([]any); ok {
				return toItems(list), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no list under %v", ErrUnexpectedAPI, keys)
}

func toItems(list []any) []item {
	out := make([]item, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, item(m))
		}
	}
	return out
}

func (it item) owner() item {
	if m, ok := it["owner"].(map[string]any); ok {
		return item(m)
	}
	return item{}
}

func (it item) str(keys ...string) string { return firstString(it, keys...) }

func (it item) num(key string) int64 {
	switch v := it[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// flag reads a boolean that may arrive as true, 1 or "1".
func (it item) flag(keys ...string) bool {
	for _, k := range keys {
		switch v := it[k].(type) {
		case bool:
			if v {
				return true
			}
		case float64:
			if v == 1 {
				return true
			}
		case string:
			if v == "1" || strings.EqualFold(v, "true") {
				return true
			}
		}
	}
	return false
}

func (it item) record(kind model.RecordKind) *model.NotifiableRecord {
	o := it.owner()
	r := &model.NotifiableRecord{
		Kind:        kind,
		ID:          it.num("id"),
		Name:        it.str("domain", "ip", "name", "title", "subject", "type"),
		OwnerName:   firstNonEmpty(o.str("name"), it.str("owner_name", "customer")),
		OwnerHandle: firstNonEmpty(o.str("telegram", "telegram_handle"), it.str("telegram", "telegram_handle")),
		Count:       int(it.num("count")),
		Total:       it.str("total", "price"),
		Status:      it.str("status"),
		Notified:    it.flag("telegram_sent", "telegram_notified", "telegramSent", "telegramNotified"),
	}
	if r.Total == "" {
		r.Total = "0"
	}
	if exp := it.str("expires_at", "expires", "expiration"); exp != "" {
		if t, ok := model.ParseDate(exp); ok {
			r.ExpiresAt = &t
		}
	}
	return r
}

// firstString returns the first non-empty value under keys, rendering numbers
// without a trailing ".0".
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
