package handler

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/service"
)

// ---------------------------------------------------------------------------
// Account management
// ---------------------------------------------------------------------------

func TestAccountCRUD(t *testing.T) {
	env := newTestEnv(t)

	// --- Create ---
	body := toJSON(t, map[string]any{
		"username": "bob",
		"email":    "bob@example.com",
		"password": testPassword,
	})
	rr := env.asRoot(t, "POST", "/api/v1/accounts", body)
	assertStatus(t, rr, http.StatusCreated)

	var created model.Account
	decodeJSON(t, rr, &created)
	if created.Role != model.RoleAdmin || created.Status != model.StatusActive {
		t.Errorf("created = %+v", created)
	}
	if !service.LooksLikeAPIKey(created.APIKey) {
		t.Errorf("create should return the full API key, got %q", created.APIKey)
	}

	// --- Get ---
	rr = env.asRoot(t, "GET", "/api/v1/accounts/"+created.ID, nil)
	assertStatus(t, rr, http.StatusOK)
	var got model.Account
	decodeJSON(t, rr, &got)
	if got.APIKey != model.KeyPreview(created.APIKey) {
		t.Errorf("get should show a key preview, got %q", got.APIKey)
	}

	// --- Update ---
	rr = env.asRoot(t, "PATCH", "/api/v1/accounts/"+created.ID, toJSON(t, map[string]any{
		"email": "robert@example.com",
		"role":  "super_admin",
	}))
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &got)
	if got.Email != "robert@example.com" || got.Role != model.RoleSuperAdmin || got.Username != "bob" {
		t.Errorf("updated = %+v", got)
	}

	// --- List ---
	rr = env.asRoot(t, "GET", "/api/v1/accounts", nil)
	assertStatus(t, rr, http.StatusOK)
	var list struct {
		Resource []model.Account   `json:"resource"`
		Meta     model.ResponseMeta `json:"meta"`
	}
	decodeJSON(t, rr, &list)
	if list.Meta.Count != 2 || len(list.Resource) != 2 {
		t.Errorf("list count = %d", list.Meta.Count)
	}

	// --- Deactivate ---
	rr = env.asRoot(t, "DELETE", "/api/v1/accounts/"+created.ID, nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.asRoot(t, "GET", "/api/v1/accounts?status=inactive", nil)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &list)
	if list.Meta.Count != 1 || list.Resource[0].ID != created.ID {
		t.Errorf("inactive filter = %+v", list.Resource)
	}
}

func TestCreateAccount_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "taken", model.RoleAdmin)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate username", map[string]any{"username": "TAKEN", "email": "new@example.com", "password": testPassword}, http.StatusConflict},
		{"duplicate email", map[string]any{"username": "fresh", "email": "taken@example.com", "password": testPassword}, http.StatusConflict},
		{"short password", map[string]any{"username": "fresh", "email": "fresh@example.com", "password": "short"}, http.StatusBadRequest},
		{"unknown role", map[string]any{"username": "fresh", "email": "fresh@example.com", "password": testPassword, "role": "owner"}, http.StatusBadRequest},
		{"missing email", map[string]any{"username": "fresh", "password": testPassword}, http.StatusBadRequest},
		{"unknown field", map[string]any{"username": "fresh", "email": "fresh@example.com", "password": testPassword, "active": false}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.asRoot(t, "POST", "/api/v1/accounts", toJSON(t, tt.body))
			assertStatus(t, rr, tt.want)
		})
	}

	accounts, _ := env.authSvc.ListAccounts(t.Context())
	if len(accounts) != 2 {
		t.Errorf("failed creates mutated the store: %d accounts", len(accounts))
	}
}

func TestAccountRoutes_NotFound(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{"GET", "/api/v1/accounts/missing", nil},
		{"PATCH", "/api/v1/accounts/missing", map[string]any{"username": "x"}},
		{"DELETE", "/api/v1/accounts/missing", nil},
		{"GET", "/api/v1/accounts/missing/sessions", nil},
		{"DELETE", "/api/v1/accounts/missing/sessions", nil},
		{"POST", "/api/v1/accounts/missing/api-key", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var body io.Reader
			if tt.body != nil {
				body = toJSON(t, tt.body)
			}
			assertStatus(t, env.asRoot(t, tt.method, tt.path, body), http.StatusNotFound)
		})
	}
}

func TestAccountRoutes_RequireSuperAdmin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAccount(t, "plain", model.RoleAdmin)

	rr := env.do(t, "GET", "/api/v1/accounts", nil, "X-Admin-Key", admin.APIKey)
	assertStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, "POST", "/api/v1/sessions/prune", nil, "X-Admin-Key", admin.APIKey)
	assertStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, "GET", "/api/v1/accounts", nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.do(t, "GET", "/api/v1/accounts", nil, "X-Admin-Key", env.root.APIKey)
	assertStatus(t, rr, http.StatusOK)
}

func TestDeactivateSelfRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := env.asRoot(t, "DELETE", "/api/v1/accounts/"+env.root.ID, nil)
	assertStatus(t, rr, http.StatusConflict)

	rr = env.asRoot(t, "GET", "/api/v1/auth/me", nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestDeactivateRevokesCredentials(t *testing.T) {
	env := newTestEnv(t)
	target := env.seedAccount(t, "carol", model.RoleAdmin)
	sess, err := env.authSvc.CreateSession(t.Context(), target.ID, target.APIKey, time.Hour, model.ClientInfo{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rr := env.asRoot(t, "DELETE", "/api/v1/accounts/"+target.ID, nil)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		SessionsRevoked int64 `json:"sessions_revoked"`
	}
	decodeJSON(t, rr, &resp)
	if resp.SessionsRevoked != 1 {
		t.Errorf("sessions_revoked = %d, want 1", resp.SessionsRevoked)
	}

	rr = env.do(t, "GET", "/api/v1/auth/me", nil, "X-Session-Token", sess.Token)
	assertStatus(t, rr, http.StatusUnauthorized)
	rr = env.do(t, "GET", "/api/v1/auth/me", nil, "X-Admin-Key", target.APIKey)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestRotateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	target := env.seedAccount(t, "dan", model.RoleAdmin)

	rr := env.asRoot(t, "POST", "/api/v1/accounts/"+target.ID+"/api-key", nil)
	assertStatus(t, rr, http.StatusOK)
	var rotated model.Account
	decodeJSON(t, rr, &rotated)
	if rotated.APIKey == target.APIKey || !service.LooksLikeAPIKey(rotated.APIKey) {
		t.Fatalf("rotated key = %q", rotated.APIKey)
	}

	rr = env.do(t, "GET", "/api/v1/auth/me", nil, "X-Admin-Key", target.APIKey)
	assertStatus(t, rr, http.StatusUnauthorized)
	rr = env.do(t, "GET", "/api/v1/auth/me", nil, "X-Admin-Key", rotated.APIKey)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessionRoutes(t *testing.T) {
	env := newTestEnv(t)
	target := env.seedAccount(t, "erin", model.RoleAdmin)
	for range 2 {
		if _, err := env.authSvc.CreateSession(t.Context(), target.ID, target.APIKey, time.Hour, model.ClientInfo{IP: "10.1.1.1"}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	rr := env.asRoot(t, "GET", "/api/v1/accounts/"+target.ID+"/sessions", nil)
	assertStatus(t, rr, http.StatusOK)
	var list struct {
		Resource []map[string]any  `json:"resource"`
		Meta     model.ResponseMeta `json:"meta"`
	}
	decodeJSON(t, rr, &list)
	if list.Meta.Count != 2 {
		t.Fatalf("sessions = %d, want 2", list.Meta.Count)
	}
	for _, s := range list.Resource {
		if _, ok := s["token"]; ok {
			t.Error("session listing exposes tokens")
		}
	}

	rr = env.asRoot(t, "DELETE", "/api/v1/accounts/"+target.ID+"/sessions", nil)
	assertStatus(t, rr, http.StatusOK)
	var revoked struct {
		Revoked int64 `json:"revoked"`
	}
	decodeJSON(t, rr, &revoked)
	if revoked.Revoked != 2 {
		t.Errorf("revoked = %d, want 2", revoked.Revoked)
	}

	rr = env.asRoot(t, "GET", "/api/v1/accounts/"+target.ID+"/sessions", nil)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &list)
	if list.Meta.Count != 0 || list.Resource == nil {
		t.Errorf("after revoke: count %d, resource %v", list.Meta.Count, list.Resource)
	}
}

func TestPruneSessions(t *testing.T) {
	env := newTestEnv(t)

	rr := env.asRoot(t, "POST", "/api/v1/sessions/prune", nil)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Pruned int64 `json:"pruned"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Pruned != 0 {
		t.Errorf("pruned = %d, want 0", resp.Pruned)
	}
}

func TestListAccounts_BadStatusFilter(t *testing.T) {
	env := newTestEnv(t)
	rr := env.asRoot(t, "GET", "/api/v1/accounts?status=deleted", nil)
	assertStatus(t, rr, http.StatusBadRequest)
}
