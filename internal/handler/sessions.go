package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/service"
)

// SessionHandler lists, revokes and prunes sessions.
type SessionHandler struct {
	authSvc *service.AuthService
	logger  *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(authSvc *service.AuthService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{authSvc: authSvc, logger: logger}
}

// requireAccount writes a 404 and returns false when id names no account.
func (h *SessionHandler) requireAccount(w http.ResponseWriter, r *http.Request, id string) bool {
	acct, err := h.authSvc.GetByID(r.Context(), id)
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to load account")
		writeError(w, code, msg)
		return false
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "Account not found")
		return false
	}
	return true
}

// ListSessions returns an account's sessions without tokens.
// GET /api/v1/accounts/{id}/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.requireAccount(w, r, id) {
		return
	}

	sessions, err := h.authSvc.ListSessions(r.Context(), id)
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to list sessions")
		writeError(w, code, msg)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: sessions,
		Meta:     &model.ResponseMeta{Count: len(sessions)},
	})
}

// RevokeSessions deletes every session of an account.
// DELETE /api/v1/accounts/{id}/sessions
func (h *SessionHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.requireAccount(w, r, id) {
		return
	}

	n, err := h.authSvc.InvalidateAllSessions(r.Context(), id)
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to revoke sessions")
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// PruneSessions removes expired sessions across all accounts.
// POST /api/v1/sessions/prune
func (h *SessionHandler) PruneSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.authSvc.PruneExpired(r.Context())
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to prune sessions")
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pruned": n})
}
