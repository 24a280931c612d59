// File: internal/infra/underdog/client.go
package underdog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"keitaro-notifier/internal/config"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/domain/ports/adapter"
	"keitaro-notifier/internal/infra/metrics"
)

const (
	loginPath        = "/api/login"
	ordersPath       = "/api/v2/orders"
	domainsPath      = "/api/v2/domains"
	ipsPath          = "/api/v2/ips"
	ticketsPath      = "/api/v2/tickets"
	designOrdersPath = "/api/v2/design-orders"

	orderStatusDone = 1
)

var (
	ErrAuth          = errors.New("underdog: authentication failed")
	ErrUnexpectedAPI = errors.New("underdog: unexpected response")
)

var _ adapter.PartnerClient = (*Client)(nil)

// Client talks to the Underdog backend with a cached bearer token.
type Client struct {
	baseURL  string
	email    string
	password string
	tokenTTL time.Duration
	http     *http.Client
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(cfg config.UnderdogConfig, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		password: cfg.Password,
		tokenTTL: cfg.TokenTTL,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      logger.With().Str("component", "underdog").Logger(),
		now:      time.Now,
	}
}

// FetchOrders returns completed orders of day that were not sent to Telegram.
func (c *Client) FetchOrders(ctx context.Context, day time.Time) ([]*model.NotifiableRecord, error) {
	d := day.UTC().Format("2006-01-02")
	q := url.Values{}
	q.Set("date_from", d)
	q.Set("date_to", d)
	q.Set("status_id", strconv.Itoa(orderStatusDone))
	q.Set("telegram_sent", "0")

	items, err := c.list(ctx, "orders", ordersPath+"?"+q.Encode(), "items", "orders")
	if err != nil {
		return nil, err
	}
	out := make([]*model.NotifiableRecord, 0, len(items))
	for _, it := range items {
		// the backend does not always honour the query filters
		if it.num("status_id") != orderStatusDone || it.flag("telegram_sent") {
			continue
		}
		if !c.hasID(it, model.KindOrder) {
			continue
		}
		out = append(out, it.record(model.KindOrder))
	}
	c.log.Info().Str("day", d).Int("total", len(items)).Int("matched", len(out)).Msg("fetched orders")
	return out, nil
}

// FetchRecords returns every record of kind including already announced ones.
func (c *Client) FetchRecords(ctx context.Context, kind model.RecordKind) ([]*model.NotifiableRecord, error) {
	path, keys, err := listPath(kind)
	if err != nil {
		return nil, err
	}
	items, err := c.list(ctx, string(kind), path, keys...)
	if err != nil {
		return nil, err
	}
	out := make([]*model.NotifiableRecord, 0, len(items))
	for _, it := range items {
		if !c.hasID(it, kind) {
			continue
		}
		out = append(out, it.record(kind))
	}
	return out, nil
}

// hasID drops items that could never be marked as announced.
func (c *Client) hasID(it item, kind model.RecordKind) bool {
	if it.num("id") > 0 {
		return true
	}
	c.log.Warn().Str("kind", string(kind)).Msg("item without id skipped")
	return false
}

// MarkNotified flips the partner flag. Domains and IPs fall back to the
// telegram-notified route when telegram-sent is rejected.
func (c *Client) MarkNotified(ctx context.Context, kind model.RecordKind, id int64) error {
	path, _, err := listPath(kind)
	if err != nil {
		return err
	}
	suffixes := []string{"telegram-sent"}
	if kind.Expiring() {
		suffixes = append(suffixes, "telegram-notified")
	}
	var lastErr error
	for _, s := range suffixes {
		resp, err := c.do(ctx, "mark_"+string(kind), http.MethodPatch, fmt.Sprintf("%s/%d/%s", path, id, s), nil)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func listPath(kind model.RecordKind) (string, []string, error) {
	switch kind {
	case model.KindOrder:
		return ordersPath, []string{"items", "orders"}, nil
	case model.KindDomain:
		return domainsPath, []string{"items", "domains"}, nil
	case model.KindIP:
		return ipsPath, []string{"items", "ips"}, nil
	case model.KindTicket:
		return ticketsPath, []string{"items", "tickets"}, nil
	case model.KindDesignOrder:
		return designOrdersPath, []string{"items", "orders", "design_orders"}, nil
	}
	return "", nil, fmt.Errorf("underdog: unsupported kind %q", kind)
}

func (c *Client) list(ctx context.Context, op, path string, keys ...string) ([]item, error) {
	resp, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnexpectedAPI, op, err)
	}
	return extractItems(payload, keys...)
}

// do sends an authorized request and retries once with a fresh token on 401.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	token, err := c.ensureToken(ctx, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, method, path, token, body)
	if err != nil {
		metrics.IncPartnerRequest(op, "error")
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.log.Warn().Str("op", op).Msg("unauthorized, refreshing token")
		if token, err = c.ensureToken(ctx, true); err != nil {
			return nil, err
		}
		if resp, err = c.send(ctx, method, path, token, body); err != nil {
			metrics.IncPartnerRequest(op, "error")
			return nil, err
		}
	}
	metrics.IncPartnerRequest(op, statusClass(resp.StatusCode))
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedAPI, method, path, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}

func (c *Client) ensureToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}
	if c.email == "" || c.password == "" {
		return "", fmt.Errorf("%w: credentials are not configured", ErrAuth)
	}

	resp, err := c.send(ctx, http.MethodPost, loginPath, "", map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		metrics.IncPartnerRequest("login", "error")
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()
	metrics.IncPartnerRequest("login", statusClass(resp.StatusCode))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: login returned %d", ErrAuth, resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode login: %v", ErrAuth, err)
	}
	token := extractToken(payload)
	if token == "" {
		return "", fmt.Errorf("%w: login response has no token", ErrAuth)
	}

	ttl := c.tokenTTL
	if ttl < time.Second {
		ttl = time.Second
	}
	c.token = token
	c.expiresAt = c.now().Add(ttl)
	c.log.Info().Int("token_len", len(token)).Dur("ttl", ttl).Msg("received token")
	return token, nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
