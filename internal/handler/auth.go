package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/server/middleware"
	"github.com/meridianlabs/backoffice/internal/service"
)

// AuthHandler serves login, logout and the current-principal endpoint.
type AuthHandler struct {
	authSvc       *service.AuthService
	sessionHeader string
	logger        *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. sessionHeader names the header
// logout reads the token from.
func NewAuthHandler(authSvc *service.AuthService, sessionHeader string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authSvc:       authSvc,
		sessionHeader: sessionHeader,
		logger:        logger,
	}
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionGrant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Header    string    `json:"header"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Account *model.Account `json:"account"`
	Session sessionGrant   `json:"session"`
}

// Login exchanges a username and password for a session.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	res, err := h.authSvc.Login(r.Context(), req.Username, req.Password, clientInfo(r))
	if err != nil {
		h.logger.Error("login failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Authentication unavailable")
		return
	}
	if res == nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	h.logger.Info("login", "account_id", res.Account.ID, "session_id", res.Session.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		Account: res.Account,
		Session: sessionGrant{
			Token:     res.Session.Token,
			ExpiresAt: res.Session.ExpiresAt,
			Header:    h.sessionHeader,
		},
	})
}

// Logout destroys the session named by the session header. Repeating it is
// harmless; omitting the header is a 400.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authSvc.Logout(r.Context(), r.Header.Get(h.sessionHeader)); err != nil {
		status, msg := classifyServiceError(h.logger, r, err, "Failed to log out")
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session invalidated",
	})
}

// meResponse describes the authenticated caller.
type meResponse struct {
	Account    *model.Account `json:"account"`
	Credential string         `json:"credential"`
	Session    *model.Session `json:"session,omitempty"`
}

// Me returns the principal resolved by the auth middleware.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Account:    p.Account.Redacted(),
		Credential: p.Credential.String(),
		Session:    p.Session,
	})
}
