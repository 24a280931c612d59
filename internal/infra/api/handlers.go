package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"keitaro-notifier/internal/domain"
	"keitaro-notifier/internal/domain/model"
	"keitaro-notifier/internal/infra/logging"
	"keitaro-notifier/internal/usecase"
)

const maxBodyBytes = 1 << 20

type notifyRequest struct {
	Days   *int   `json:"days"`
	DryRun bool   `json:"dry_run"`
	Token  string `json:"token"`
}

type userDTO struct {
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username"`
	FullName   string    `json:"full_name"`
	Role       string    `json:"role"`
	TeamID     *int64    `json:"team_id"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ruleDTO struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Offer     string    `json:"offer"`
	Country   string    `json:"country"`
	Source    string    `json:"source"`
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleDBPing(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "database not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.db.Ping(r.Context()); err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("db ping failed")
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	fields, err := postbackFields(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.postbackUC.Handle(r.Context(), fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// postbackFields merges query parameters with a form or JSON body. Body
// values win over the query.
func postbackFields(r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return fields, nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body map[string]any
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		for k, v := range body {
			if s := stringify(v); s != "" {
				fields[k] = s
			}
		}
		return fields, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k, v := range r.PostForm {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// handleNotify runs one poll. The caller proves itself with the shared
// notify token (body or bearer) or with a requester JWT.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseRecordKind(chi.URLParam(r, "kind"))
	if err != nil {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}

	var body notifyRequest
	err = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req := usecase.NotifyRequest{Kind: kind, Days: usecase.DefaultDays, DryRun: body.DryRun}
	if body.Days != nil {
		req.Days = *body.Days
	}
	ctx := logging.WithKind(r.Context(), string(kind))

	token := body.Token
	if t, ok := bearer(r); ok {
		token = t
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var requester *model.User
	if s.cfg.NotifyToken == "" || !tokenEqual(token, s.cfg.NotifyToken) {
		if requester, err = s.requesterFromToken(r, token); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	// dry runs never mark, so only live runs exclude the scheduler
	if !req.DryRun {
		unlock, lerr := s.pollLock(ctx, string(kind))
		if lerr != nil {
			s.writeError(w, r, lerr)
			return
		}
		defer unlock()
	}

	var stats *usecase.Stats
	if requester == nil {
		stats, err = s.notifyUC.Run(ctx, req)
	} else {
		stats, err = s.notifyUC.RunAs(ctx, requester, req)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	users, err := s.userUC.ListVisible(r.Context(), requester)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]userDTO, 0, len(users))
	for _, u := range users {
		items = append(items, userDTO{
			TelegramID: u.TelegramID,
			Username:   u.Username,
			FullName:   u.FullName,
			Role:       string(u.Role),
			TeamID:     u.TeamID,
			IsActive:   u.IsActive,
			CreatedAt:  u.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rules, err := s.ruleUC.ListVisible(r.Context(), requester)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]ruleDTO, 0, len(rules))
	for _, rl := range rules {
		items = append(items, ruleDTO{
			ID:        rl.ID,
			OwnerID:   rl.OwnerID,
			Offer:     rl.Offer,
			Country:   rl.Country,
			Source:    rl.Source,
			Priority:  rl.Priority,
			IsActive:  rl.IsActive,
			CreatedAt: rl.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) requester(r *http.Request) (*model.User, error) {
	tok, ok := bearer(r)
	if !ok {
		return nil, ErrMissingToken
	}
	return s.requesterFromToken(r, tok)
}

func (s *Server) requesterFromToken(r *http.Request, tok string) (*model.User, error) {
	claims, err := s.auth.Parse(tok)
	if err != nil {
		return nil, err
	}
	id, err := claims.TelegramID()
	if err != nil {
		return nil, err
	}
	u, err := s.userUC.Requester(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		// a token for a user that no longer exists
		return nil, fmt.Errorf("%w: unknown requester %d", domain.ErrAuthorization, id)
	}
	return u, err
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	l := logging.With(r.Context(), s.log)
	if code >= http.StatusInternalServerError {
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "internal error, trace "+logging.TraceIDFrom(r.Context()), code)
		return
	}
	l.Warn().Err(err).Int("status", code).Str("path", r.URL.Path).Msg("request rejected")
	http.Error(w, strings.TrimSpace(err.Error()), code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidToken), errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
