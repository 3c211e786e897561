package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/server/middleware"
	"github.com/meridianlabs/backoffice/internal/service"
)

// AccountHandler manages administrator accounts. Every route is expected
// to sit behind RequireSuperAdmin.
type AccountHandler struct {
	authSvc *service.AuthService
	logger  *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(authSvc *service.AuthService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{authSvc: authSvc, logger: logger}
}

// ListAccounts returns all accounts with API keys cut to a preview.
// Optional ?status=active|inactive filters the list.
// GET /api/v1/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	status := model.AccountStatus(queryString(r, "status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}

	accounts, err := h.authSvc.ListAccounts(r.Context())
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to list accounts")
		writeError(w, code, msg)
		return
	}

	resources := make([]*model.Account, 0, len(accounts))
	for i := range accounts {
		if status != "" && accounts[i].Status != status {
			continue
		}
		resources = append(resources, accounts[i].Redacted())
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count: len(resources),
		},
	})
}

type createAccountRequest struct {
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     model.Role `json:"role,omitempty"`
}

// CreateAccount provisions an account. The response carries the full API
// key; later reads only show a preview.
// POST /api/v1/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var body createAccountRequest
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	acct, err := h.authSvc.CreateAccount(r.Context(), body.Username, body.Email, body.Password, body.Role)
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to create account")
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount returns one account.
// GET /api/v1/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.authSvc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to load account")
		writeError(w, code, msg)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}
	writeJSON(w, http.StatusOK, acct.Redacted())
}

// UpdateAccount applies a partial update. Omitted fields are unchanged.
// PATCH /api/v1/accounts/{id}
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var upd model.AccountUpdate
	if err := readJSON(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	acct, err := h.authSvc.UpdateAccount(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to update account")
		writeError(w, code, msg)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}
	writeJSON(w, http.StatusOK, acct.Redacted())
}

// DeactivateAccount disables an account and revokes its sessions. Callers
// cannot deactivate themselves.
// DELETE /api/v1/accounts/{id}
func (h *AccountHandler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if p := middleware.GetPrincipal(r.Context()); p != nil && p.Account.ID == id {
		writeError(w, http.StatusConflict, "Cannot deactivate your own account")
		return
	}

	revoked, err := h.authSvc.Deactivate(r.Context(), id)
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to deactivate account")
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"sessions_revoked": revoked,
	})
}

// RotateAPIKey replaces the account's API key and returns the new one.
// POST /api/v1/accounts/{id}/api-key
func (h *AccountHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	acct, err := h.authSvc.RotateAPIKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		code, msg := classifyServiceError(h.logger, r, err, "Failed to rotate API key")
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
